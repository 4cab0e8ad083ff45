package collab

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the in-process draft store, used standalone when no database
// is configured and as the fallback behind Postgres.
type MemoryStore struct {
	mu     sync.RWMutex
	drafts map[string]Draft
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[string]Draft)}
}

func (s *MemoryStore) Upsert(_ context.Context, d Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[d.ExternalTrackID] = d
	return nil
}

func (s *MemoryStore) Get(_ context.Context, externalTrackID string) (Draft, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[externalTrackID]
	return d, ok, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Draft, error) {
	s.mu.RLock()
	out := make([]Draft, 0, len(s.drafts))
	for _, d := range s.drafts {
		if f.Matches(d) {
			out = append(out, d)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ExternalTrackID < out[j].ExternalTrackID
	})
	return out, nil
}

func (s *MemoryStore) Mode() string { return "memory" }

func (s *MemoryStore) Close() error { return nil }
