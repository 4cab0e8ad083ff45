package learning

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/easeverse/easeverse-server/internal/pocketgrid"
)

// ErrInvalidEvent marks ingest payloads that fail validation.
var ErrInvalidEvent = errors.New("invalid learning event")

const engineStripes = 64

// Engine serializes per-user ingests and keeps the derived profile in sync
// with the event log. Different users proceed concurrently.
type Engine struct {
	store    Store
	locks    [engineStripes]sync.Mutex
	onIngest func(kind, outcome string)
	now      func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// SetIngestHook registers a callback fired after each ingest with the event
// kind ("session" or "easepocket") and outcome ("stored" or "deduplicated").
func (e *Engine) SetIngestHook(hook func(kind, outcome string)) { e.onIngest = hook }

func (e *Engine) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &e.locks[h.Sum32()%engineStripes]
}

func (e *Engine) report(kind, outcome string) {
	if e.onIngest != nil {
		e.onIngest(kind, outcome)
	}
}

// SessionInput is one coaching session as submitted by a client.
type SessionInput struct {
	UserID               string     `json:"userId"`
	SessionID            string     `json:"sessionId"`
	SongID               string     `json:"songId"`
	Genre                string     `json:"genre"`
	Title                string     `json:"title"`
	DurationSeconds      float64    `json:"durationSeconds"`
	TextAccuracy         float64    `json:"textAccuracy"`
	PronunciationClarity float64    `json:"pronunciationClarity"`
	TimingConsistency    string     `json:"timingConsistency"`
	Lyrics               string     `json:"lyrics"`
	Transcript           string     `json:"transcript"`
	TopToFix             []TipInput `json:"topToFix"`
}

// EasePocketInput is one timing drill result as submitted by a client.
type EasePocketInput struct {
	UserID      string           `json:"userId"`
	EventID     string           `json:"eventId"`
	Mode        string           `json:"mode"`
	BPM         float64          `json:"bpm"`
	Grid        string           `json:"grid"`
	BeatsPerBar int              `json:"beatsPerBar"`
	Stats       pocketgrid.Stats `json:"stats"`
}

// IngestResult reports the outcome of an ingest together with the profile
// and recommendations reflecting it.
type IngestResult struct {
	Deduplicated    bool            `json:"deduplicated"`
	Profile         Profile         `json:"profile"`
	Recommendations Recommendations `json:"recommendations"`
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// IngestSession stores a session event, updates the global word and tip
// ledgers, and rebuilds the user's profile. Replays of the same
// (userId, sessionId) pair change nothing and return the cached profile.
func (e *Engine) IngestSession(ctx context.Context, in SessionInput) (IngestResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return IngestResult{}, fmt.Errorf("%w: userId is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return IngestResult{}, fmt.Errorf("%w: sessionId is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(in.Lyrics) == "" {
		return IngestResult{}, fmt.Errorf("%w: lyrics are required", ErrInvalidEvent)
	}

	mu := e.lockFor(in.UserID)
	mu.Lock()
	defer mu.Unlock()

	feats := DeriveFeatures(in.Lyrics, in.Transcript, in.TopToFix)
	ev := SessionEvent{
		UserID:               in.UserID,
		SessionID:            in.SessionID,
		SongID:               in.SongID,
		Genre:                strings.ToLower(strings.TrimSpace(in.Genre)),
		Title:                strings.TrimSpace(in.Title),
		CreatedAt:            e.now(),
		DurationSeconds:      in.DurationSeconds,
		TextAccuracy:         clampScore(in.TextAccuracy),
		PronunciationClarity: clampScore(in.PronunciationClarity),
		TimingConsistency:    ParseTimingConsistency(in.TimingConsistency),
		Transcript:           in.Transcript,
		ExpectedWords:        feats.ExpectedWords,
		SpokenWords:          feats.SpokenWords,
		MatchedWords:         feats.MatchedWords,
		WeakWords:            feats.WeakWords,
		StrongWords:          feats.StrongWords,
		WeakSounds:           feats.WeakSounds,
		Tips:                 feats.Tips,
	}

	inserted, err := e.store.InsertSessionEvent(ctx, ev)
	if err != nil {
		return IngestResult{}, fmt.Errorf("insert session event: %w", err)
	}
	if !inserted {
		e.report("session", "deduplicated")
		return e.replayResult(ctx, in.UserID)
	}
	e.report("session", "stored")

	if err := e.bumpWordLedger(ctx, feats); err != nil {
		return IngestResult{}, err
	}

	events, err := e.store.SessionEventsByUser(ctx, in.UserID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("load session events: %w", err)
	}
	if err := e.scorePreviousTips(ctx, events, in.SessionID, feats.WeakWords); err != nil {
		return IngestResult{}, err
	}

	return e.rebuild(ctx, in.UserID, events)
}

// bumpWordLedger counts each distinct expected word exactly once per session.
func (e *Engine) bumpWordLedger(ctx context.Context, feats Features) error {
	weakSet := make(map[string]bool, len(feats.WeakWords))
	for _, w := range feats.WeakWords {
		weakSet[w] = true
	}
	strongSet := make(map[string]bool, len(feats.StrongWords))
	for _, w := range feats.StrongWords {
		strongSet[w] = true
	}

	seen := make(map[string]bool, len(feats.ExpectedWords))
	var distinct []string
	for _, w := range feats.ExpectedWords {
		if !seen[w] {
			seen[w] = true
			distinct = append(distinct, w)
		}
	}
	sort.Strings(distinct)

	for _, w := range distinct {
		if err := e.store.BumpWordAttempt(ctx, w, weakSet[w], strongSet[w]); err != nil {
			return fmt.Errorf("bump word %q: %w", w, err)
		}
	}
	return nil
}

// scorePreviousTips settles the tips shown in the session immediately before
// the current one: a tip improved when its word is no longer weak.
func (e *Engine) scorePreviousTips(ctx context.Context, events []SessionEvent, currentSessionID string, currentWeak []string) error {
	idx := -1
	for i, ev := range events {
		if ev.SessionID == currentSessionID {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return nil
	}
	prev := events[idx-1]
	if len(prev.Tips) == 0 {
		return nil
	}

	weakSet := make(map[string]bool, len(currentWeak))
	for _, w := range currentWeak {
		weakSet[w] = true
	}
	for _, tip := range prev.Tips {
		if err := e.store.BumpTipShown(ctx, tip.TipKey, !weakSet[tip.Word]); err != nil {
			return fmt.Errorf("bump tip %q: %w", tip.TipKey, err)
		}
	}
	return nil
}

// IngestEasePocket stores a drill event and rebuilds the profile. Replays of
// the same (userId, eventId) pair change nothing.
func (e *Engine) IngestEasePocket(ctx context.Context, in EasePocketInput) (IngestResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return IngestResult{}, fmt.Errorf("%w: userId is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(in.EventID) == "" {
		return IngestResult{}, fmt.Errorf("%w: eventId is required", ErrInvalidEvent)
	}
	if !ValidMode(in.Mode) {
		return IngestResult{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidEvent, in.Mode)
	}
	if in.BPM < 40 || in.BPM > 300 {
		return IngestResult{}, fmt.Errorf("%w: bpm must be between 40 and 300", ErrInvalidEvent)
	}
	grid, err := pocketgrid.ParseKind(in.Grid)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	mu := e.lockFor(in.UserID)
	mu.Lock()
	defer mu.Unlock()

	beatsPerBar := in.BeatsPerBar
	if beatsPerBar <= 0 {
		beatsPerBar = 4
	}
	ev := EasePocketEvent{
		UserID:      in.UserID,
		EventID:     in.EventID,
		Mode:        Mode(in.Mode),
		BPM:         in.BPM,
		Grid:        grid,
		BeatsPerBar: beatsPerBar,
		Stats:       in.Stats,
		CreatedAt:   e.now(),
	}

	inserted, err := e.store.InsertEasePocketEvent(ctx, ev)
	if err != nil {
		return IngestResult{}, fmt.Errorf("insert easepocket event: %w", err)
	}
	if !inserted {
		e.report("easepocket", "deduplicated")
		return e.replayResult(ctx, in.UserID)
	}
	e.report("easepocket", "stored")

	events, err := e.store.SessionEventsByUser(ctx, in.UserID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("load session events: %w", err)
	}
	return e.rebuild(ctx, in.UserID, events)
}

func (e *Engine) rebuild(ctx context.Context, userID string, events []SessionEvent) (IngestResult, error) {
	pocket, err := e.store.EasePocketEventsByUser(ctx, userID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("load easepocket events: %w", err)
	}

	profile := BuildProfile(userID, events, pocket, e.now())
	if err := e.store.SaveProfile(ctx, profile); err != nil {
		return IngestResult{}, fmt.Errorf("save profile: %w", err)
	}

	recs, err := BuildRecommendations(ctx, e.store, profile)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Profile: profile, Recommendations: recs}, nil
}

// replayResult answers a deduplicated ingest from the cached profile,
// rebuilding it from the event log if the cache is cold.
func (e *Engine) replayResult(ctx context.Context, userID string) (IngestResult, error) {
	profile, ok, err := e.store.ProfileByUser(ctx, userID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		events, err := e.store.SessionEventsByUser(ctx, userID)
		if err != nil {
			return IngestResult{}, fmt.Errorf("load session events: %w", err)
		}
		res, err := e.rebuild(ctx, userID, events)
		if err != nil {
			return IngestResult{}, err
		}
		res.Deduplicated = true
		return res, nil
	}

	recs, err := BuildRecommendations(ctx, e.store, profile)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Deduplicated: true, Profile: profile, Recommendations: recs}, nil
}

// Profile returns the cached profile, rebuilding it from the event log when
// the cache is cold. The second return is false for users with no events.
func (e *Engine) Profile(ctx context.Context, userID string) (Profile, bool, error) {
	profile, ok, err := e.store.ProfileByUser(ctx, userID)
	if err != nil {
		return Profile{}, false, fmt.Errorf("load profile: %w", err)
	}
	if ok {
		return profile, true, nil
	}

	events, err := e.store.SessionEventsByUser(ctx, userID)
	if err != nil {
		return Profile{}, false, fmt.Errorf("load session events: %w", err)
	}
	pocket, err := e.store.EasePocketEventsByUser(ctx, userID)
	if err != nil {
		return Profile{}, false, fmt.Errorf("load easepocket events: %w", err)
	}
	if len(events) == 0 && len(pocket) == 0 {
		return Profile{}, false, nil
	}

	profile = BuildProfile(userID, events, pocket, e.now())
	if err := e.store.SaveProfile(ctx, profile); err != nil {
		return Profile{}, false, fmt.Errorf("save profile: %w", err)
	}
	return profile, true, nil
}

// Recommendations builds the coaching payload for a known user.
func (e *Engine) Recommendations(ctx context.Context, userID string) (Recommendations, bool, error) {
	profile, ok, err := e.Profile(ctx, userID)
	if err != nil || !ok {
		return Recommendations{}, false, err
	}
	recs, err := BuildRecommendations(ctx, e.store, profile)
	if err != nil {
		return Recommendations{}, false, err
	}
	return recs, true, nil
}

// GlobalModel is the cross-user view of the word and tip ledgers.
type GlobalModel struct {
	WordDifficulties []WordDifficulty   `json:"wordDifficulties"`
	TipEffectiveness []TipEffectiveness `json:"tipEffectiveness"`
}

// GlobalModelView returns the top slices of both global ledgers.
func (e *Engine) GlobalModelView(ctx context.Context, limit int) (GlobalModel, error) {
	words, err := e.store.TopWordDifficulties(ctx, limit)
	if err != nil {
		return GlobalModel{}, fmt.Errorf("top word difficulties: %w", err)
	}
	tips, err := e.store.TopTipEffectiveness(ctx, limit)
	if err != nil {
		return GlobalModel{}, fmt.Errorf("top tip effectiveness: %w", err)
	}
	return GlobalModel{WordDifficulties: words, TipEffectiveness: tips}, nil
}

// StorageMode names the backing store for health reporting.
func (e *Engine) StorageMode() string { return e.store.Mode() }
