package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/easeverse/easeverse-server/internal/collab"
	"github.com/easeverse/easeverse-server/internal/config"
	"github.com/easeverse/easeverse-server/internal/httpapi"
	"github.com/easeverse/easeverse-server/internal/learning"
	"github.com/easeverse/easeverse-server/internal/observability"
	"github.com/easeverse/easeverse-server/internal/scoring"
	"github.com/easeverse/easeverse-server/internal/speech"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	ctx := context.Background()

	learningStore, err := learning.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("learning store init failed: %v", err)
	}
	defer learningStore.Close()
	if fb, ok := learningStore.(interface{ SetFallbackHook(func()) }); ok {
		fb.SetFallbackHook(func() { metrics.StorageFallbacks.WithLabelValues("learning").Inc() })
	}

	engine := learning.NewEngine(learningStore)
	engine.SetIngestHook(func(kind, outcome string) {
		metrics.LearningIngests.WithLabelValues(kind, outcome).Inc()
	})

	collabStore, err := collab.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("collab store init failed: %v", err)
	}
	defer collabStore.Close()
	if fb, ok := collabStore.(interface{ SetFallbackHook(func()) }); ok {
		fb.SetFallbackHook(func() { metrics.StorageFallbacks.WithLabelValues("collab").Inc() })
	}
	drafts := collab.NewService(collabStore)
	log.Printf("storage mode: %s", collabStore.Mode())

	hub := collab.NewHub(collab.HubOptions{
		APIKey:         cfg.ExternalAPIKey,
		AllowAllOrigin: cfg.CORSAllowAll,
		AllowOrigins:   cfg.CORSAllowOrigins,
		OnConnect:      func() { metrics.WSConnections.Inc() },
		OnDisconnect:   func() { metrics.WSConnections.Dec() },
		OnMessage: func() {
			metrics.WSMessages.WithLabelValues("collab_lyrics_updated", "sent").Inc()
		},
	})
	defer hub.Close()

	pool := scoring.NewPool(scoring.Options{
		Workers:     cfg.WorkerCount,
		QueueLimit:  cfg.WorkerQueueLimit,
		TaskTimeout: cfg.WorkerTaskTimeout,
		Inline:      cfg.DisableWorker,
		OnRestart:   func() { metrics.WorkerRestarts.Inc() },
	})
	defer pool.Close()
	if cfg.DisableWorker {
		log.Printf("scoring: worker pool disabled, running inline")
	}

	var speaker speech.Speaker
	var transcriber speech.Transcriber
	if cfg.ElevenLabsAPIKey != "" {
		p := speech.NewElevenLabsProvider(speech.ElevenLabsConfig{
			APIKey:   cfg.ElevenLabsAPIKey,
			BaseURL:  cfg.ElevenLabsBaseURL,
			TTSVoice: cfg.ElevenLabsTTSVoice,
			TTSModel: cfg.ElevenLabsTTSModel,
			STTModel: cfg.ElevenLabsSTTModel,
		})
		speaker = p
		transcriber = p
		log.Printf("speech provider: elevenlabs")
	} else {
		log.Printf("speech provider: none (tts/session-score will answer 503)")
	}

	api := httpapi.New(cfg, pool, engine, drafts, hub, speaker, transcriber, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	rootCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		hub.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
			_ = httpServer.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("shutdown complete")
}
