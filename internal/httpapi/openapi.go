package httpapi

import "net/http"

// handleOpenAPI serves a hand-maintained OpenAPI 3.1 description of the
// public surface. Kept deliberately terse: schemas cover the request side.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "EaseVerse API",
			"version": s.cfg.Version,
		},
		"paths": map[string]any{
			"/api/v1/health": map[string]any{
				"get": operation("Service health and storage mode", nil),
			},
			"/api/v1/tts": map[string]any{
				"post": operation("Synthesize speech (audio/mpeg)", map[string]any{
					"text":  schema("string", "1-500 characters"),
					"voice": schema("string", "optional provider voice id"),
				}),
			},
			"/api/v1/pronounce": map[string]any{
				"post": operation("Pronunciation coaching for one word", map[string]any{
					"word":       schema("string", "1-60 characters"),
					"context":    schema("string", "optional surrounding lyric line"),
					"language":   schema("string", "optional, passed to the provider"),
					"accentGoal": schema("string", "optional, passed to the provider"),
				}),
			},
			"/api/v1/session-score": map[string]any{
				"post": operation("Transcribe and grade a sung take", map[string]any{
					"lyrics":          schema("string", "expected lyrics"),
					"audioBase64":     schema("string", "base64 WAV"),
					"durationSeconds": schema("number", "optional client-measured duration"),
					"language":        schema("string", "optional"),
					"accentGoal":      schema("string", "optional"),
				}),
			},
			"/api/v1/easepocket/consonant-score": map[string]any{
				"post": operation("Score consonant onsets against a BPM grid", map[string]any{
					"audioBase64": schema("string", "base64 WAV, 0.3-20 s"),
					"bpm":         schema("number", "40-300"),
					"grid":        schema("string", "beat | 8th | 16th (default 16th)"),
					"toleranceMs": schema("number", "5-60, default 25"),
					"maxEvents":   schema("integer", "20-300, default 180"),
				}),
			},
			"/api/v1/collab/lyrics": map[string]any{
				"get": operation("List lyric drafts (filters: projectId, source)", nil),
				"post": operation("Upsert a lyric draft by externalTrackId", map[string]any{
					"externalTrackId": schema("string", "required draft key"),
					"projectId":       schema("string", "optional"),
					"title":           schema("string", "required"),
					"artist":          schema("string", "optional"),
					"bpm":             schema("number", "optional"),
					"lyrics":          schema("string", "draft body"),
					"collaborators":   schema("array", "optional collaborator names"),
					"source":          schema("string", "optional originating app"),
				}),
			},
			"/api/v1/collab/lyrics/{externalTrackId}": map[string]any{
				"get": operation("Fetch one lyric draft", nil),
			},
			"/api/v1/learning/session": map[string]any{
				"post": operation("Ingest a coaching session", map[string]any{
					"userId":               schema("string", "optional, resolved from headers otherwise"),
					"sessionId":            schema("string", "required idempotency key"),
					"lyrics":               schema("string", "required"),
					"transcript":           schema("string", "optional"),
					"genre":                schema("string", "optional"),
					"textAccuracy":         schema("number", "0-100"),
					"pronunciationClarity": schema("number", "0-100"),
					"timingConsistency":    schema("string", "low | medium | high"),
					"topToFix":             schema("array", "optional {word, reason} coach flags"),
				}),
			},
			"/api/v1/learning/easepocket": map[string]any{
				"post": operation("Ingest a timing drill result", map[string]any{
					"eventId": schema("string", "required idempotency key"),
					"mode":    schema("string", "subdivision | silent | consonant | pocket | slow"),
					"bpm":     schema("number", "40-300"),
					"grid":    schema("string", "beat | 8th | 16th"),
					"stats":   schema("object", "grid scorer aggregate stats"),
				}),
			},
			"/api/v1/learning/profile": map[string]any{
				"get": operation("Derived profile for the resolved user", nil),
			},
			"/api/v1/learning/recommendations": map[string]any{
				"get": operation("Coaching recommendations for the resolved user", nil),
			},
			"/api/v1/learning/global-model": map[string]any{
				"get": operation("Cross-user word difficulty and tip ledgers (limit 1-100)", nil),
			},
			"/api/v1/ws": map[string]any{
				"get": operation("WebSocket upgrade for collab_lyrics updates (filters: source, projectId, externalTrackId)", nil),
			},
		},
	})
}

func operation(summary string, bodyProps map[string]any) map[string]any {
	op := map[string]any{"summary": summary}
	if bodyProps != nil {
		op["requestBody"] = map[string]any{
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{
						"type":       "object",
						"properties": bodyProps,
					},
				},
			},
		}
	}
	return op
}

func schema(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
