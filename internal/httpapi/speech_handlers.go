package httpapi

import (
	"encoding/base64"
	"log"
	"math"
	"net/http"
	"strings"

	"github.com/easeverse/easeverse-server/internal/audio"
	"github.com/easeverse/easeverse-server/internal/learning"
	"github.com/easeverse/easeverse-server/internal/speech"
)

const (
	maxTTSTextLen       = 500
	maxPronounceWordLen = 60
)

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" || len(req.Text) > maxTTSTextLen {
		respondError(w, http.StatusBadRequest, "invalid_request",
			"text must be between 1 and 500 characters")
		return
	}
	if s.speaker == nil {
		respondError(w, http.StatusServiceUnavailable, "not_configured",
			(&speech.NotConfiguredError{EnvVars: []string{"ELEVENLABS_API_KEY"}}).Error())
		return
	}

	mp3, err := s.speaker.Speak(r.Context(), speech.SpeakRequest{Text: req.Text, Voice: req.Voice})
	if err != nil {
		log.Printf("ERROR tts: %v", err)
		respondError(w, http.StatusServiceUnavailable, "provider_error",
			"speech synthesis failed, please retry")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(mp3)
}

func (s *Server) handlePronounce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Word       string `json:"word"`
		Context    string `json:"context"`
		Language   string `json:"language"`
		AccentGoal string `json:"accentGoal"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Word = strings.TrimSpace(req.Word)
	if req.Word == "" || len(req.Word) > maxPronounceWordLen {
		respondError(w, http.StatusBadRequest, "invalid_request",
			"word must be between 1 and 60 characters")
		return
	}

	out, err := speech.Pronounce(r.Context(), s.speaker, speech.PronounceRequest{
		Word:       req.Word,
		Context:    req.Context,
		Language:   req.Language,
		AccentGoal: req.AccentGoal,
	})
	if err != nil {
		log.Printf("ERROR pronounce: %v", err)
		respondError(w, http.StatusServiceUnavailable, "provider_error",
			"pronunciation audio failed, please retry")
		return
	}
	respondJSON(w, http.StatusOK, out)
}

type sessionScoreResponse struct {
	OK                   bool                `json:"ok"`
	Transcript           string              `json:"transcript"`
	DurationSeconds      float64             `json:"durationSeconds,omitempty"`
	TextAccuracy         float64             `json:"textAccuracy"`
	PronunciationClarity float64             `json:"pronunciationClarity"`
	MatchedWords         []string            `json:"matchedWords"`
	WeakWords            []string            `json:"weakWords"`
	TopToFix             []learning.TipInput `json:"topToFix"`
}

func (s *Server) handleSessionScore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lyrics          string  `json:"lyrics"`
		AudioBase64     string  `json:"audioBase64"`
		DurationSeconds float64 `json:"durationSeconds"`
		Language        string  `json:"language"`
		AccentGoal      string  `json:"accentGoal"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Lyrics) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "lyrics are required")
		return
	}
	if req.AudioBase64 == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "audioBase64 is required")
		return
	}
	if s.stt == nil {
		respondError(w, http.StatusServiceUnavailable, "not_configured",
			(&speech.NotConfiguredError{EnvVars: []string{"ELEVENLABS_API_KEY"}}).Error())
		return
	}

	wav, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", "audioBase64 is not valid base64")
		return
	}

	duration := req.DurationSeconds
	if buf, err := audio.Decode(wav); err == nil {
		duration = buf.DurationSeconds()
	}

	transcript, err := s.stt.Transcribe(r.Context(), wav, req.Language)
	if err != nil {
		log.Printf("ERROR session-score transcribe: %v", err)
		respondError(w, http.StatusServiceUnavailable, "provider_error",
			"transcription failed, please retry")
		return
	}

	respondJSON(w, http.StatusOK, scoreSession(req.Lyrics, transcript, duration))
}

// scoreSession grades a transcript against the expected lyrics.
func scoreSession(lyrics, transcript string, duration float64) sessionScoreResponse {
	feats := learning.DeriveFeatures(lyrics, transcript, nil)

	resp := sessionScoreResponse{
		OK:              true,
		Transcript:      transcript,
		DurationSeconds: duration,
		MatchedWords:    feats.MatchedWords,
		WeakWords:       feats.WeakWords,
		TopToFix:        []learning.TipInput{},
	}
	if resp.MatchedWords == nil {
		resp.MatchedWords = []string{}
	}
	if resp.WeakWords == nil {
		resp.WeakWords = []string{}
	}

	if n := len(feats.ExpectedWords); n > 0 {
		matched := 0
		weakSet := make(map[string]bool, len(feats.WeakWords))
		for _, wd := range feats.WeakWords {
			weakSet[wd] = true
		}
		for _, wd := range feats.ExpectedWords {
			if !weakSet[wd] {
				matched++
			}
		}
		resp.TextAccuracy = math.Round(100 * float64(matched) / float64(n))
	}
	if transcript != "" {
		// Clarity rewards distinct expected words that came through.
		distinct := make(map[string]bool)
		for _, wd := range feats.ExpectedWords {
			distinct[wd] = true
		}
		if len(distinct) > 0 {
			clear := len(distinct) - len(feats.WeakWords)
			if clear < 0 {
				clear = 0
			}
			resp.PronunciationClarity = math.Round(100 * float64(clear) / float64(len(distinct)))
		}
	}

	for _, wd := range feats.WeakWords {
		if len(resp.TopToFix) == 3 {
			break
		}
		resp.TopToFix = append(resp.TopToFix, learning.TipInput{
			Word:   wd,
			Reason: fixReason(wd),
		})
	}
	return resp
}

func fixReason(word string) string {
	counts := learning.ClassifySounds([]string{word})
	best, bestN := "articulation", 0
	for _, cat := range []string{
		learning.SoundPlosiveAttack,
		learning.SoundFricativeClarity,
		learning.SoundLiquidControl,
		learning.SoundNasalBalance,
		learning.SoundVowelTransition,
		learning.SoundFinalConsonant,
	} {
		if counts[cat] > bestN {
			best, bestN = strings.ReplaceAll(cat, "_", " "), counts[cat]
		}
	}
	return best
}
