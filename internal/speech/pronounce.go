package speech

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
)

// PronounceRequest asks for pronunciation coaching on a single word.
type PronounceRequest struct {
	Word       string
	Context    string
	Language   string
	AccentGoal string
}

// Pronunciation is the coaching payload for one word.
type Pronunciation struct {
	Word        string `json:"word"`
	Phonetic    string `json:"phonetic"`
	Tip         string `json:"tip"`
	Slow        string `json:"slow"`
	AudioBase64 string `json:"audioBase64"`
}

// Pronounce builds the phonetic hint, slow form and coaching tip locally.
// Audio is synthesized through the speaker when one is configured.
func Pronounce(ctx context.Context, speaker Speaker, req PronounceRequest) (Pronunciation, error) {
	word := strings.ToLower(strings.TrimSpace(req.Word))
	out := Pronunciation{
		Word:     word,
		Phonetic: phoneticHint(word),
		Slow:     slowForm(word),
		Tip:      pronunciationTip(word),
	}

	if speaker != nil {
		audio, err := speaker.Speak(ctx, SpeakRequest{
			Text:       out.Slow + ". " + word,
			Language:   req.Language,
			AccentGoal: req.AccentGoal,
		})
		if err != nil {
			return Pronunciation{}, fmt.Errorf("synthesize pronunciation: %w", err)
		}
		out.AudioBase64 = base64.StdEncoding.EncodeToString(audio)
	}
	return out, nil
}

func phoneticHint(word string) string {
	primary, _ := matchr.DoubleMetaphone(word)
	if primary == "" {
		return strings.ToUpper(word)
	}
	return primary
}

// slowForm hyphenates the word at rough syllable boundaries: a break goes
// after each vowel run, keeping the last consonant of a cluster with the
// following syllable.
func slowForm(word string) string {
	if len(word) < 4 {
		return word
	}

	var parts []string
	start := 0
	i := 0
	for i < len(word) {
		// Consume the consonant onset, then the vowel run.
		for i < len(word) && !isVowel(word[i]) {
			i++
		}
		for i < len(word) && isVowel(word[i]) {
			i++
		}
		// Trailing consonants attach here only when nothing follows.
		rest := word[i:]
		if !strings.ContainsFunc(rest, func(r rune) bool { return isVowel(byte(r)) }) {
			i = len(word)
		} else if i < len(word) && !isVowel(word[i]) && i+1 < len(word) && !isVowel(word[i+1]) {
			// Split inside a consonant cluster.
			i++
		}
		if i > start {
			parts = append(parts, word[start:i])
			start = i
		} else {
			break
		}
	}
	if start < len(word) {
		parts = append(parts, word[start:])
	}
	return strings.Join(parts, "-")
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}

func pronunciationTip(word string) string {
	if word == "" {
		return "Say the word slowly, one syllable at a time."
	}
	switch {
	case strings.ContainsAny(word[:1], "pbtdkg"):
		return fmt.Sprintf("Start %q with a crisp burst of air on the %q sound, then relax into the vowel.", word, string(word[0]))
	case strings.ContainsAny(word[:1], "fvszh"):
		return fmt.Sprintf("Let the opening %q sound hiss for a beat before the vowel in %q.", string(word[0]), word)
	case strings.ContainsAny(word[len(word)-1:], "pbtdkgsz"):
		return fmt.Sprintf("Land the final %q of %q clearly instead of letting it fade.", string(word[len(word)-1]), word)
	case strings.ContainsAny(word, "lr"):
		return fmt.Sprintf("Keep your tongue relaxed through the l/r sounds in %q.", word)
	default:
		return fmt.Sprintf("Stretch each vowel of %q evenly: %s.", word, slowForm(word))
	}
}
