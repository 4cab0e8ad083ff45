package httpapi

import (
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/easeverse/easeverse-server/internal/pocketgrid"
	"github.com/easeverse/easeverse-server/internal/scoring"
)

type consonantScoreResponse struct {
	OK              bool    `json:"ok"`
	DurationSeconds float64 `json:"durationSeconds"`
	pocketgrid.Score
}

func (s *Server) handleConsonantScore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AudioBase64 string  `json:"audioBase64"`
		BPM         float64 `json:"bpm"`
		Grid        string  `json:"grid"`
		ToleranceMs float64 `json:"toleranceMs"`
		MaxEvents   int     `json:"maxEvents"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.AudioBase64 == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "audioBase64 is required")
		return
	}
	if req.BPM < 40 || req.BPM > 300 {
		respondError(w, http.StatusBadRequest, "invalid_request", "bpm must be between 40 and 300")
		return
	}
	grid, err := pocketgrid.ParseKind(req.Grid)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.ToleranceMs != 0 && (req.ToleranceMs < 5 || req.ToleranceMs > 60) {
		respondError(w, http.StatusBadRequest, "invalid_request", "toleranceMs must be between 5 and 60")
		return
	}
	if req.MaxEvents != 0 && (req.MaxEvents < 20 || req.MaxEvents > 300) {
		respondError(w, http.StatusBadRequest, "invalid_request", "maxEvents must be between 20 and 300")
		return
	}

	wav, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		respondError(w, http.StatusBadRequest, string(scoring.CodeInvalidAudio),
			"audioBase64 is not valid base64")
		return
	}

	start := time.Now()
	result, err := s.pool.Score(r.Context(), scoring.Request{
		WAV:         wav,
		BPM:         req.BPM,
		Grid:        grid,
		ToleranceMs: req.ToleranceMs,
		MaxEvents:   req.MaxEvents,
	})
	if s.metrics != nil {
		s.metrics.ObserveScoringLatency(time.Since(start))
	}
	if err != nil {
		s.respondScoringError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ScoringTasks.WithLabelValues("ok").Inc()
	}
	respondJSON(w, http.StatusOK, consonantScoreResponse{
		OK:              true,
		DurationSeconds: result.DurationSeconds,
		Score:           result.Score,
	})
}

func (s *Server) respondScoringError(w http.ResponseWriter, err error) {
	var taskErr *scoring.TaskError
	if errors.As(err, &taskErr) {
		if s.metrics != nil {
			s.metrics.ScoringTasks.WithLabelValues(string(taskErr.Code)).Inc()
		}
		if taskErr.UserError() {
			respondError(w, http.StatusBadRequest, string(taskErr.Code), taskErr.Message)
			return
		}
		respondError(w, http.StatusServiceUnavailable, string(taskErr.Code),
			"scoring unavailable, please retry")
		return
	}
	log.Printf("ERROR consonant-score: %v", err)
	if s.metrics != nil {
		s.metrics.ScoringTasks.WithLabelValues("error").Inc()
	}
	respondError(w, http.StatusInternalServerError, "internal", "unexpected error")
}
