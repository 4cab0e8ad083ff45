package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ElevenLabsConfig carries the provider credentials and model choices.
type ElevenLabsConfig struct {
	APIKey   string
	BaseURL  string
	TTSVoice string
	TTSModel string
	STTModel string
}

// ElevenLabsProvider implements Speaker and Transcriber against the
// ElevenLabs REST API.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	return &ElevenLabsProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *ElevenLabsProvider) Speak(ctx context.Context, req SpeakRequest) ([]byte, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.cfg.TTSVoice
	}
	u := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=mp3_44100_128",
		strings.TrimRight(p.cfg.BaseURL, "/"), url.PathEscape(voice))

	body := map[string]any{
		"text":     req.Text,
		"model_id": p.cfg.TTSModel,
	}
	if req.Language != "" {
		body["language_code"] = req.Language
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts request: empty audio response")
	}
	return audio, nil
}

func (p *ElevenLabsProvider) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model_id", p.cfg.STTModel); err != nil {
		return "", fmt.Errorf("encode stt request: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language_code", language); err != nil {
			return "", fmt.Errorf("encode stt request: %w", err)
		}
	}
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("encode stt request: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("encode stt request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("encode stt request: %w", err)
	}

	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/speech-to-text"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return "", fmt.Errorf("build stt request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("stt request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return decoded.Text, nil
}
