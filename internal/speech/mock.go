package speech

import "context"

// Mock is a canned provider for tests. Zero-value methods return fixed data;
// set the function fields to script behavior.
type Mock struct {
	SpeakFn      func(ctx context.Context, req SpeakRequest) ([]byte, error)
	TranscribeFn func(ctx context.Context, wav []byte, language string) (string, error)
}

func (m *Mock) Speak(ctx context.Context, req SpeakRequest) ([]byte, error) {
	if m.SpeakFn != nil {
		return m.SpeakFn(ctx, req)
	}
	return []byte("mp3:" + req.Text), nil
}

func (m *Mock) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	if m.TranscribeFn != nil {
		return m.TranscribeFn(ctx, wav, language)
	}
	return "", nil
}
