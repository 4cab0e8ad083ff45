package collab

import (
	"context"
	"log"
	"strings"
)

// NewStore creates a postgres-backed store (with in-memory fallback on call
// failure) when configured, otherwise a pure in-memory store.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), nil
	}
	pg, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &fallbackStore{pg: pg, mem: NewMemoryStore()}, nil
}

// fallbackStore serves every call from Postgres and degrades to the
// in-memory shadow when a call fails. Writes that miss Postgres are retained
// in memory so the caller still sees its draft.
type fallbackStore struct {
	pg         *PostgresStore
	mem        *MemoryStore
	onFallback func()
}

// SetFallbackHook registers a callback fired on every degraded call.
func (s *fallbackStore) SetFallbackHook(hook func()) { s.onFallback = hook }

func (s *fallbackStore) degraded(op string, err error) {
	log.Printf("ERROR collab store: %s failed, serving from memory: %v", op, err)
	if s.onFallback != nil {
		s.onFallback()
	}
}

func (s *fallbackStore) Upsert(ctx context.Context, d Draft) error {
	if err := s.pg.Upsert(ctx, d); err != nil {
		s.degraded("Upsert", err)
		return s.mem.Upsert(ctx, d)
	}
	return nil
}

func (s *fallbackStore) Get(ctx context.Context, externalTrackID string) (Draft, bool, error) {
	d, ok, err := s.pg.Get(ctx, externalTrackID)
	if err != nil {
		s.degraded("Get", err)
		return s.mem.Get(ctx, externalTrackID)
	}
	if !ok {
		// A write that fell back may only exist in the shadow.
		return s.mem.Get(ctx, externalTrackID)
	}
	return d, true, nil
}

func (s *fallbackStore) List(ctx context.Context, f Filter) ([]Draft, error) {
	drafts, err := s.pg.List(ctx, f)
	if err != nil {
		s.degraded("List", err)
		return s.mem.List(ctx, f)
	}
	return drafts, nil
}

func (s *fallbackStore) Mode() string { return "postgres" }

func (s *fallbackStore) Close() error { return s.pg.Close() }
