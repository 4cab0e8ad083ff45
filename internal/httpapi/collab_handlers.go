package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/easeverse/easeverse-server/internal/collab"
)

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := collab.Filter{
		ProjectID: strings.TrimSpace(q.Get("projectId")),
		Source:    strings.TrimSpace(q.Get("source")),
	}
	items, err := s.drafts.List(r.Context(), filter)
	if err != nil {
		log.Printf("ERROR collab list: %v", err)
		respondError(w, http.StatusInternalServerError, "internal", "unexpected error")
		return
	}
	if items == nil {
		items = []collab.Draft{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"storage": s.drafts.StorageMode(),
		"count":   len(items),
		"items":   items,
	})
}

func (s *Server) handleUpsertDraft(w http.ResponseWriter, r *http.Request) {
	var in collab.UpsertInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	draft, err := s.drafts.Upsert(r.Context(), in)
	if err != nil {
		if errors.Is(err, collab.ErrInvalidDraft) {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		log.Printf("ERROR collab upsert: %v", err)
		respondError(w, http.StatusInternalServerError, "internal", "unexpected error")
		return
	}

	s.hub.Publish(draft)
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"storage": s.drafts.StorageMode(),
		"item":    draft,
	})
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "externalTrackId")
	draft, ok, err := s.drafts.Get(r.Context(), id)
	if err != nil {
		log.Printf("ERROR collab get: %v", err)
		respondError(w, http.StatusInternalServerError, "internal", "unexpected error")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "no draft for this track")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"storage": s.drafts.StorageMode(),
		"item":    draft,
	})
}
