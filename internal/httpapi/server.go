package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/easeverse/easeverse-server/internal/collab"
	"github.com/easeverse/easeverse-server/internal/config"
	"github.com/easeverse/easeverse-server/internal/learning"
	"github.com/easeverse/easeverse-server/internal/observability"
	"github.com/easeverse/easeverse-server/internal/scoring"
	"github.com/easeverse/easeverse-server/internal/speech"
)

// Server is the HTTP gateway in front of the scoring pool, the learning
// engine and the collab hub.
type Server struct {
	cfg     config.Config
	pool    *scoring.Pool
	engine  *learning.Engine
	drafts  *collab.Service
	hub     *collab.Hub
	speaker speech.Speaker
	stt     speech.Transcriber
	metrics *observability.Metrics
	limiter *rateLimiter
}

func New(cfg config.Config, pool *scoring.Pool, engine *learning.Engine, drafts *collab.Service, hub *collab.Hub, speaker speech.Speaker, stt speech.Transcriber, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		pool:    pool,
		engine:  engine,
		drafts:  drafts,
		hub:     hub,
		speaker: speaker,
		stt:     stt,
		metrics: metrics,
		limiter: newRateLimiter(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)
	r.Use(s.metricsMiddleware)

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api/v1", func(api chi.Router) {
		// Probes stay open even when the gateway key is set.
		api.Get("/health", s.handleHealth)
		api.Get("/openapi.json", s.handleOpenAPI)

		api.Group(func(gated chi.Router) {
			gated.Use(s.requireKey(s.cfg.ExternalAPIKey))

			gated.Get("/", s.handleCatalog)
			gated.Post("/tts", s.handleTTS)

			gated.With(s.requireKey(s.cfg.PronounceAPIKey), s.rateLimit(bucketPronounce)).
				Post("/pronounce", s.handlePronounce)
			gated.With(s.requireKey(s.cfg.SessionScoringAPIKey), s.rateLimit(bucketSession)).
				Post("/session-score", s.handleSessionScore)
			gated.With(s.rateLimit(bucketEasePocket)).
				Post("/easepocket/consonant-score", s.handleConsonantScore)

			gated.Get("/collab/lyrics", s.handleListDrafts)
			gated.Post("/collab/lyrics", s.handleUpsertDraft)
			gated.Get("/collab/lyrics/{externalTrackId}", s.handleGetDraft)

			gated.With(s.rateLimit(bucketLearning)).
				Post("/learning/session", s.handleIngestSession)
			gated.With(s.rateLimit(bucketLearning)).
				Post("/learning/easepocket", s.handleIngestEasePocket)
			gated.Get("/learning/profile", s.handleProfile)
			gated.Get("/learning/recommendations", s.handleRecommendations)
			gated.Get("/learning/global-model", s.handleGlobalModel)

			gated.Get("/ws", s.hub.ServeWS)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"version":   s.cfg.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"storage":   s.engine.StorageMode(),
	})
}

type catalogEndpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"name":    "easeverse-server",
		"version": s.cfg.Version,
		"endpoints": []catalogEndpoint{
			{http.MethodGet, "/api/v1/health"},
			{http.MethodGet, "/api/v1/openapi.json"},
			{http.MethodPost, "/api/v1/tts"},
			{http.MethodPost, "/api/v1/pronounce"},
			{http.MethodPost, "/api/v1/session-score"},
			{http.MethodPost, "/api/v1/easepocket/consonant-score"},
			{http.MethodGet, "/api/v1/collab/lyrics"},
			{http.MethodPost, "/api/v1/collab/lyrics"},
			{http.MethodGet, "/api/v1/collab/lyrics/{externalTrackId}"},
			{http.MethodPost, "/api/v1/learning/session"},
			{http.MethodPost, "/api/v1/learning/easepocket"},
			{http.MethodGet, "/api/v1/learning/profile"},
			{http.MethodGet, "/api/v1/learning/recommendations"},
			{http.MethodGet, "/api/v1/learning/global-model"},
			{http.MethodGet, "/api/v1/ws"},
		},
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
