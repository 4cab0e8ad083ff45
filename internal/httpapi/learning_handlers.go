package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/easeverse/easeverse-server/internal/learning"
)

func (s *Server) handleIngestSession(w http.ResponseWriter, r *http.Request) {
	var in learning.SessionInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	in.UserID = resolveUserID(r, in.UserID)

	res, err := s.engine.IngestSession(r.Context(), in)
	if err != nil {
		s.respondLearningError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"userId":          in.UserID,
		"deduplicated":    res.Deduplicated,
		"profile":         res.Profile,
		"recommendations": res.Recommendations,
	})
}

func (s *Server) handleIngestEasePocket(w http.ResponseWriter, r *http.Request) {
	var in learning.EasePocketInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	in.UserID = resolveUserID(r, in.UserID)

	res, err := s.engine.IngestEasePocket(r.Context(), in)
	if err != nil {
		s.respondLearningError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"userId":          in.UserID,
		"deduplicated":    res.Deduplicated,
		"profile":         res.Profile,
		"recommendations": res.Recommendations,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID := resolveUserID(r, "")
	profile, ok, err := s.engine.Profile(r.Context(), userID)
	if err != nil {
		s.respondLearningError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "no learning history for this user")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"userId":  userID,
		"profile": profile,
	})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := resolveUserID(r, "")
	recs, ok, err := s.engine.Recommendations(r.Context(), userID)
	if err != nil {
		s.respondLearningError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "no learning history for this user")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"userId":          userID,
		"recommendations": recs,
	})
}

func (s *Server) handleGlobalModel(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	model, err := s.engine.GlobalModelView(r.Context(), limit)
	if err != nil {
		s.respondLearningError(w, err)
		return
	}
	words := model.WordDifficulties
	if words == nil {
		words = []learning.WordDifficulty{}
	}
	tips := model.TipEffectiveness
	if tips == nil {
		tips = []learning.TipEffectiveness{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"words": words,
		"tips":  tips,
	})
}

func (s *Server) respondLearningError(w http.ResponseWriter, err error) {
	if errors.Is(err, learning.ErrInvalidEvent) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	log.Printf("ERROR learning: %v", err)
	respondError(w, http.StatusInternalServerError, "internal", "unexpected error")
}
