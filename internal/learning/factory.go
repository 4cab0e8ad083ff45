package learning

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
// in-memory shadow when a call fails, logging at error level. The request
// still succeeds from the caller's point of view.
type fallbackStore struct {
	pg         *PostgresStore
	mem        *MemoryStore
	onFallback func()
}

// SetFallbackHook registers a callback fired on every degraded call.
func (s *fallbackStore) SetFallbackHook(hook func()) { s.onFallback = hook }

func (s *fallbackStore) degraded(op string, err error) {
	log.Printf("ERROR learning store: %s failed, serving from memory: %v", op, err)
	if s.onFallback != nil {
		s.onFallback()
	}
}

func (s *fallbackStore) InsertSessionEvent(ctx context.Context, ev SessionEvent) (bool, error) {
	inserted, err := s.pg.InsertSessionEvent(ctx, ev)
	if err != nil {
		s.degraded("InsertSessionEvent", err)
		return s.mem.InsertSessionEvent(ctx, ev)
	}
	return inserted, nil
}

func (s *fallbackStore) InsertEasePocketEvent(ctx context.Context, ev EasePocketEvent) (bool, error) {
	inserted, err := s.pg.InsertEasePocketEvent(ctx, ev)
	if err != nil {
		s.degraded("InsertEasePocketEvent", err)
		return s.mem.InsertEasePocketEvent(ctx, ev)
	}
	return inserted, nil
}

func (s *fallbackStore) SessionEventsByUser(ctx context.Context, userID string) ([]SessionEvent, error) {
	events, err := s.pg.SessionEventsByUser(ctx, userID)
	if err != nil {
		s.degraded("SessionEventsByUser", err)
		return s.mem.SessionEventsByUser(ctx, userID)
	}
	return events, nil
}

func (s *fallbackStore) EasePocketEventsByUser(ctx context.Context, userID string) ([]EasePocketEvent, error) {
	events, err := s.pg.EasePocketEventsByUser(ctx, userID)
	if err != nil {
		s.degraded("EasePocketEventsByUser", err)
		return s.mem.EasePocketEventsByUser(ctx, userID)
	}
	return events, nil
}

func (s *fallbackStore) BumpWordAttempt(ctx context.Context, word string, failed, succeeded bool) error {
	if err := s.pg.BumpWordAttempt(ctx, word, failed, succeeded); err != nil {
		s.degraded("BumpWordAttempt", err)
		return s.mem.BumpWordAttempt(ctx, word, failed, succeeded)
	}
	return nil
}

func (s *fallbackStore) BumpTipShown(ctx context.Context, tipKey string, improved bool) error {
	if err := s.pg.BumpTipShown(ctx, tipKey, improved); err != nil {
		s.degraded("BumpTipShown", err)
		return s.mem.BumpTipShown(ctx, tipKey, improved)
	}
	return nil
}

func (s *fallbackStore) TopWordDifficulties(ctx context.Context, limit int) ([]WordDifficulty, error) {
	words, err := s.pg.TopWordDifficulties(ctx, limit)
	if err != nil {
		s.degraded("TopWordDifficulties", err)
		return s.mem.TopWordDifficulties(ctx, limit)
	}
	return words, nil
}

func (s *fallbackStore) ChallengeWords(ctx context.Context, minAttempts, limit int) ([]WordDifficulty, error) {
	words, err := s.pg.ChallengeWords(ctx, minAttempts, limit)
	if err != nil {
		s.degraded("ChallengeWords", err)
		return s.mem.ChallengeWords(ctx, minAttempts, limit)
	}
	return words, nil
}

func (s *fallbackStore) TopTipEffectiveness(ctx context.Context, limit int) ([]TipEffectiveness, error) {
	tips, err := s.pg.TopTipEffectiveness(ctx, limit)
	if err != nil {
		s.degraded("TopTipEffectiveness", err)
		return s.mem.TopTipEffectiveness(ctx, limit)
	}
	return tips, nil
}

func (s *fallbackStore) BestTipForBucket(ctx context.Context, bucket string, minShown int) (TipEffectiveness, bool, error) {
	tip, ok, err := s.pg.BestTipForBucket(ctx, bucket, minShown)
	if err != nil {
		s.degraded("BestTipForBucket", err)
		return s.mem.BestTipForBucket(ctx, bucket, minShown)
	}
	return tip, ok, nil
}

func (s *fallbackStore) SaveProfile(ctx context.Context, p Profile) error {
	if err := s.pg.SaveProfile(ctx, p); err != nil {
		s.degraded("SaveProfile", err)
	}
	// Always cache locally so profile reads survive a database outage.
	return s.mem.SaveProfile(ctx, p)
}

func (s *fallbackStore) ProfileByUser(ctx context.Context, userID string) (Profile, bool, error) {
	p, ok, err := s.pg.ProfileByUser(ctx, userID)
	if err != nil || !ok {
		if err != nil {
			s.degraded("ProfileByUser", err)
		}
		return s.mem.ProfileByUser(ctx, userID)
	}
	return p, true, nil
}

func (s *fallbackStore) Mode() string { return "postgres" }

func (s *fallbackStore) Close() error { return s.pg.Close() }
