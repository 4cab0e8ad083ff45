package learning

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process learning store, used standalone when no
// database is configured and as the fallback behind Postgres.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string][]SessionEvent
	sessionKeys map[string]bool
	pocket      map[string][]EasePocketEvent
	pocketKeys  map[string]bool
	words       map[string]*WordDifficulty
	tips        map[string]*TipEffectiveness
	profiles    map[string]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string][]SessionEvent),
		sessionKeys: make(map[string]bool),
		pocket:      make(map[string][]EasePocketEvent),
		pocketKeys:  make(map[string]bool),
		words:       make(map[string]*WordDifficulty),
		tips:        make(map[string]*TipEffectiveness),
		profiles:    make(map[string]Profile),
	}
}

func eventKey(userID, id string) string { return userID + "\x00" + id }

func (s *MemoryStore) InsertSessionEvent(_ context.Context, ev SessionEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := eventKey(ev.UserID, ev.SessionID)
	if s.sessionKeys[key] {
		return false, nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.sessionKeys[key] = true
	s.sessions[ev.UserID] = insertByCreatedAt(s.sessions[ev.UserID], ev)
	return true, nil
}

func insertByCreatedAt(events []SessionEvent, ev SessionEvent) []SessionEvent {
	events = append(events, ev)
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events
}

func (s *MemoryStore) InsertEasePocketEvent(_ context.Context, ev EasePocketEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := eventKey(ev.UserID, ev.EventID)
	if s.pocketKeys[key] {
		return false, nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.pocketKeys[key] = true
	s.pocket[ev.UserID] = append(s.pocket[ev.UserID], ev)
	sort.SliceStable(s.pocket[ev.UserID], func(i, j int) bool {
		return s.pocket[ev.UserID][i].CreatedAt.Before(s.pocket[ev.UserID][j].CreatedAt)
	})
	return true, nil
}

func (s *MemoryStore) SessionEventsByUser(_ context.Context, userID string) ([]SessionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SessionEvent(nil), s.sessions[userID]...), nil
}

func (s *MemoryStore) EasePocketEventsByUser(_ context.Context, userID string) ([]EasePocketEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]EasePocketEvent(nil), s.pocket[userID]...), nil
}

func (s *MemoryStore) BumpWordAttempt(_ context.Context, word string, failed, succeeded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.words[word]
	if w == nil {
		w = &WordDifficulty{Word: word}
		s.words[word] = w
	}
	w.Attempts++
	if failed {
		w.Failures++
	}
	if succeeded {
		w.Successes++
	}
	w.FailureRate = float64(w.Failures) / float64(w.Attempts)
	return nil
}

func (s *MemoryStore) BumpTipShown(_ context.Context, tipKey string, improved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tips[tipKey]
	if t == nil {
		t = &TipEffectiveness{TipKey: tipKey}
		s.tips[tipKey] = t
	}
	t.ShownCount++
	if improved {
		t.ImprovedCount++
	}
	t.SuccessScore = float64(t.ImprovedCount) / float64(t.ShownCount)
	return nil
}

func (s *MemoryStore) TopWordDifficulties(_ context.Context, limit int) ([]WordDifficulty, error) {
	s.mu.RLock()
	out := make([]WordDifficulty, 0, len(s.words))
	for _, w := range s.words {
		out = append(out, *w)
	}
	s.mu.RUnlock()
	sortWordDifficulties(out)
	return truncateWords(out, limit), nil
}

func (s *MemoryStore) ChallengeWords(_ context.Context, minAttempts, limit int) ([]WordDifficulty, error) {
	s.mu.RLock()
	var out []WordDifficulty
	for _, w := range s.words {
		if w.Attempts >= minAttempts {
			out = append(out, *w)
		}
	}
	s.mu.RUnlock()
	sortWordDifficulties(out)
	return truncateWords(out, limit), nil
}

func sortWordDifficulties(words []WordDifficulty) {
	sort.Slice(words, func(i, j int) bool {
		if words[i].FailureRate != words[j].FailureRate {
			return words[i].FailureRate > words[j].FailureRate
		}
		if words[i].Attempts != words[j].Attempts {
			return words[i].Attempts > words[j].Attempts
		}
		return words[i].Word < words[j].Word
	})
}

func truncateWords(words []WordDifficulty, limit int) []WordDifficulty {
	if limit > 0 && len(words) > limit {
		return words[:limit]
	}
	return words
}

func (s *MemoryStore) TopTipEffectiveness(_ context.Context, limit int) ([]TipEffectiveness, error) {
	s.mu.RLock()
	out := make([]TipEffectiveness, 0, len(s.tips))
	for _, t := range s.tips {
		out = append(out, *t)
	}
	s.mu.RUnlock()
	sortTipEffectiveness(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortTipEffectiveness(tips []TipEffectiveness) {
	sort.Slice(tips, func(i, j int) bool {
		if tips[i].SuccessScore != tips[j].SuccessScore {
			return tips[i].SuccessScore > tips[j].SuccessScore
		}
		if tips[i].ShownCount != tips[j].ShownCount {
			return tips[i].ShownCount > tips[j].ShownCount
		}
		return tips[i].TipKey < tips[j].TipKey
	})
}

func (s *MemoryStore) BestTipForBucket(_ context.Context, bucket string, minShown int) (TipEffectiveness, bool, error) {
	s.mu.RLock()
	var candidates []TipEffectiveness
	for _, t := range s.tips {
		if t.ShownCount >= minShown && strings.HasSuffix(t.TipKey, ":"+bucket) {
			candidates = append(candidates, *t)
		}
	}
	s.mu.RUnlock()
	if len(candidates) == 0 {
		return TipEffectiveness{}, false, nil
	}
	sortTipEffectiveness(candidates)
	return candidates[0], true, nil
}

func (s *MemoryStore) SaveProfile(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

func (s *MemoryStore) ProfileByUser(_ context.Context, userID string) (Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	return p, ok, nil
}

func (s *MemoryStore) Mode() string { return "memory" }

func (s *MemoryStore) Close() error { return nil }
