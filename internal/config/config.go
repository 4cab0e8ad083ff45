package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the EaseVerse backend.
type Config struct {
	BindAddr         string
	Version          string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	DatabaseURL string

	// API key gates. An empty secret disables the corresponding gate.
	ExternalAPIKey       string
	PronounceAPIKey      string
	SessionScoringAPIKey string

	// Scoring worker pool knobs. Zero means "use the built-in default".
	WorkerCount       int
	WorkerQueueLimit  int
	WorkerTaskTimeout time.Duration
	DisableWorker     bool

	CORSAllowAll     bool
	CORSAllowOrigins []string

	ElevenLabsAPIKey   string
	ElevenLabsBaseURL  string
	ElevenLabsTTSVoice string
	ElevenLabsTTSModel string
	ElevenLabsSTTModel string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		Version:              envOrDefault("APP_VERSION", "dev"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "easeverse"),
		DatabaseURL:          envTrimmed("DATABASE_URL"),
		ExternalAPIKey:       envTrimmed("EXTERNAL_API_KEY"),
		PronounceAPIKey:      envTrimmed("PRONOUNCE_API_KEY"),
		SessionScoringAPIKey: envTrimmed("SESSION_SCORING_API_KEY"),
		ElevenLabsAPIKey:     envTrimmed("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL:    envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsTTSVoice:   envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsTTSModel:   envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsSTTModel:   envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v1"),
		ShutdownTimeout:      15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerCount, err = intFromEnv("EASEPOCKET_WORKER_COUNT", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerQueueLimit, err = intFromEnv("EASEPOCKET_WORKER_QUEUE_LIMIT", 0)
	if err != nil {
		return Config{}, err
	}
	timeoutMS, err := intFromEnv("EASEPOCKET_WORKER_TASK_TIMEOUT_MS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerTaskTimeout = time.Duration(timeoutMS) * time.Millisecond
	cfg.DisableWorker, err = boolFromEnv("EASEPOCKET_DISABLE_WORKER", false)
	if err != nil {
		return Config{}, err
	}
	cfg.CORSAllowAll, err = boolFromEnv("CORS_ALLOW_ALL", false)
	if err != nil {
		return Config{}, err
	}
	cfg.CORSAllowOrigins = splitList(envTrimmed("CORS_ALLOW_ORIGINS"))

	if cfg.ShutdownTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be at least 1s")
	}
	if cfg.WorkerCount < 0 {
		return Config{}, fmt.Errorf("EASEPOCKET_WORKER_COUNT must be >= 0")
	}
	if cfg.WorkerQueueLimit < 0 {
		return Config{}, fmt.Errorf("EASEPOCKET_WORKER_QUEUE_LIMIT must be >= 0")
	}
	if cfg.WorkerTaskTimeout < 0 {
		return Config{}, fmt.Errorf("EASEPOCKET_WORKER_TASK_TIMEOUT_MS must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
