package speech

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
)

func TestSlowForm(t *testing.T) {
	cases := []struct{ word, want string }{
		{"feeling", "fee-ling"},
		{"better", "bet-ter"},
		{"cat", "cat"},
		{"melody", "me-lo-dy"},
	}
	for _, c := range cases {
		if got := slowForm(c.word); got != c.want {
			t.Fatalf("slowForm(%q) = %q, want %q", c.word, got, c.want)
		}
	}
}

func TestPronounceWithoutSpeaker(t *testing.T) {
	out, err := Pronounce(context.Background(), nil, PronounceRequest{Word: "  Feeling "})
	if err != nil {
		t.Fatalf("Pronounce: %v", err)
	}
	if out.Word != "feeling" {
		t.Fatalf("Word = %q", out.Word)
	}
	if out.Phonetic == "" {
		t.Fatal("Phonetic empty")
	}
	if out.Slow != "fee-ling" {
		t.Fatalf("Slow = %q", out.Slow)
	}
	if out.Tip == "" {
		t.Fatal("Tip empty")
	}
	if out.AudioBase64 != "" {
		t.Fatalf("AudioBase64 = %q, want empty without speaker", out.AudioBase64)
	}
}

func TestPronounceWithSpeaker(t *testing.T) {
	mock := &Mock{}
	out, err := Pronounce(context.Background(), mock, PronounceRequest{Word: "melody", Language: "en"})
	if err != nil {
		t.Fatalf("Pronounce: %v", err)
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioBase64)
	if err != nil {
		t.Fatalf("decode audio: %v", err)
	}
	if !strings.HasPrefix(string(audio), "mp3:") {
		t.Fatalf("audio = %q", audio)
	}
	if !strings.Contains(string(audio), "me-lo-dy") {
		t.Fatalf("spoken text missing slow form: %q", audio)
	}
}
