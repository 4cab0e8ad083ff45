package collab

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store persists lyric drafts keyed by external track ID.
type Store interface {
	// Upsert replaces the record for the draft's external track ID.
	Upsert(ctx context.Context, d Draft) error
	// Get returns the current record, with false when none exists.
	Get(ctx context.Context, externalTrackID string) (Draft, bool, error)
	// List returns drafts passing the filter, newest updatedAt first.
	List(ctx context.Context, f Filter) ([]Draft, error)

	// Mode names the active backend ("postgres" or "memory").
	Mode() string
	Close() error
}

// Service owns merge-then-upsert so concurrent writes to the same track do
// not interleave their read-modify-write cycles.
type Service struct {
	store Store
	mu    sync.Mutex
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Upsert validates, merges with any existing record and writes the result.
func (s *Service) Upsert(ctx context.Context, in UpsertInput) (Draft, error) {
	if err := in.Validate(); err != nil {
		return Draft{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok, err := s.store.Get(ctx, in.ExternalTrackID)
	if err != nil {
		return Draft{}, fmt.Errorf("load draft: %w", err)
	}
	var prev *Draft
	if ok {
		prev = &existing
	}

	merged := Merge(prev, in, s.now())
	if err := s.store.Upsert(ctx, merged); err != nil {
		return Draft{}, fmt.Errorf("store draft: %w", err)
	}
	return merged, nil
}

func (s *Service) Get(ctx context.Context, externalTrackID string) (Draft, bool, error) {
	id := strings.TrimSpace(externalTrackID)
	if id == "" {
		return Draft{}, false, nil
	}
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Draft, error) {
	return s.store.List(ctx, f)
}

func (s *Service) StorageMode() string { return s.store.Mode() }
