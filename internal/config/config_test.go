package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Errorf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 15s", cfg.ShutdownTimeout)
	}
	if cfg.WorkerCount != 0 || cfg.WorkerQueueLimit != 0 {
		t.Errorf("worker knobs should default to 0, got count=%d limit=%d", cfg.WorkerCount, cfg.WorkerQueueLimit)
	}
	if cfg.ExternalAPIKey != "" {
		t.Errorf("ExternalAPIKey should default to empty, got %q", cfg.ExternalAPIKey)
	}
}

func TestLoadWorkerKnobs(t *testing.T) {
	t.Setenv("EASEPOCKET_WORKER_COUNT", "3")
	t.Setenv("EASEPOCKET_WORKER_QUEUE_LIMIT", "10")
	t.Setenv("EASEPOCKET_WORKER_TASK_TIMEOUT_MS", "4000")
	t.Setenv("EASEPOCKET_DISABLE_WORKER", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WorkerCount != 3 {
		t.Errorf("WorkerCount = %d, want 3", cfg.WorkerCount)
	}
	if cfg.WorkerQueueLimit != 10 {
		t.Errorf("WorkerQueueLimit = %d, want 10", cfg.WorkerQueueLimit)
	}
	if cfg.WorkerTaskTimeout != 4*time.Second {
		t.Errorf("WorkerTaskTimeout = %v, want 4s", cfg.WorkerTaskTimeout)
	}
	if !cfg.DisableWorker {
		t.Errorf("DisableWorker = false, want true")
	}
}

func TestLoadCORSOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOW_ORIGINS", "https://app.easeverse.io, https://staging.easeverse.io ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"https://app.easeverse.io", "https://staging.easeverse.io"}
	if len(cfg.CORSAllowOrigins) != len(want) {
		t.Fatalf("CORSAllowOrigins = %v, want %v", cfg.CORSAllowOrigins, want)
	}
	for i := range want {
		if cfg.CORSAllowOrigins[i] != want[i] {
			t.Errorf("CORSAllowOrigins[%d] = %q, want %q", i, cfg.CORSAllowOrigins[i], want[i])
		}
	}
}

func TestLoadRejectsBadInt(t *testing.T) {
	t.Setenv("EASEPOCKET_WORKER_COUNT", "many")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should fail on non-numeric EASEPOCKET_WORKER_COUNT")
	}
}

func TestLoadRejectsNegativeWorkerCount(t *testing.T) {
	t.Setenv("EASEPOCKET_WORKER_COUNT", "-1")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should fail on negative EASEPOCKET_WORKER_COUNT")
	}
}
