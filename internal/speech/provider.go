// Package speech wraps the external speech-to-text and text-to-speech
// providers behind narrow interfaces.
package speech

import (
	"context"
	"fmt"
	"strings"
)

// NotConfiguredError reports which environment variables are missing for a
// provider-backed feature.
type NotConfiguredError struct {
	EnvVars []string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("speech provider not configured: set %s", strings.Join(e.EnvVars, ", "))
}

// SpeakRequest asks for synthesized speech. Language and AccentGoal are
// passed through to the provider untouched.
type SpeakRequest struct {
	Text       string
	Voice      string
	Language   string
	AccentGoal string
}

// Speaker turns text into MP3 audio.
type Speaker interface {
	Speak(ctx context.Context, req SpeakRequest) ([]byte, error)
}

// Transcriber turns WAV audio into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}
