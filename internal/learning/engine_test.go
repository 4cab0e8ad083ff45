package learning

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// newTestEngine returns an engine over a fresh memory store with a strictly
// increasing clock, so event order is deterministic.
func newTestEngine() *Engine {
	e := NewEngine(NewMemoryStore())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	e.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return e
}

func sessionInput(sessionID string, topToFix []TipInput) SessionInput {
	return SessionInput{
		UserID:               "u1",
		SessionID:            sessionID,
		Genre:                "pop",
		DurationSeconds:      30,
		TextAccuracy:         80,
		PronunciationClarity: 75,
		TimingConsistency:    "high",
		Lyrics:               "hold on to that feeling",
		Transcript:           "hold to that feeling",
		TopToFix:             topToFix,
	}
}

func TestIngestSessionUpdatesProfile(t *testing.T) {
	e := newTestEngine()
	res, err := e.IngestSession(context.Background(), sessionInput("s1", nil))
	if err != nil {
		t.Fatalf("IngestSession: %v", err)
	}
	if res.Deduplicated {
		t.Fatal("first ingest flagged as duplicate")
	}
	if res.Profile.SessionCount != 1 {
		t.Fatalf("SessionCount = %d, want 1", res.Profile.SessionCount)
	}
	if len(res.Profile.WeakWords) != 1 || res.Profile.WeakWords[0].Word != "on" {
		t.Fatalf("WeakWords = %v, want [on]", res.Profile.WeakWords)
	}
	if res.Profile.TrendSummary.TimingHighRate != 1 {
		t.Fatalf("TimingHighRate = %v, want 1", res.Profile.TrendSummary.TimingHighRate)
	}
}

func TestIngestSessionDeduplicates(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	first, err := e.IngestSession(ctx, sessionInput("s1", nil))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := e.IngestSession(ctx, sessionInput("s1", nil))
	if err != nil {
		t.Fatalf("replayed ingest: %v", err)
	}
	if !second.Deduplicated {
		t.Fatal("replay not flagged as deduplicated")
	}
	if second.Profile.SessionCount != first.Profile.SessionCount {
		t.Fatalf("SessionCount changed on replay: %d -> %d",
			first.Profile.SessionCount, second.Profile.SessionCount)
	}

	// Global word counters must not move either.
	model, err := e.GlobalModelView(ctx, 100)
	if err != nil {
		t.Fatalf("GlobalModelView: %v", err)
	}
	for _, w := range model.WordDifficulties {
		if w.Attempts != 1 {
			t.Fatalf("word %q has %d attempts after replay, want 1", w.Word, w.Attempts)
		}
	}
}

func TestWordLedgerCountsDistinctWordsOnce(t *testing.T) {
	e := newTestEngine()
	in := sessionInput("s1", nil)
	in.Lyrics = "la la la land"
	in.Transcript = "la la la land"
	if _, err := e.IngestSession(context.Background(), in); err != nil {
		t.Fatalf("IngestSession: %v", err)
	}
	model, err := e.GlobalModelView(context.Background(), 100)
	if err != nil {
		t.Fatalf("GlobalModelView: %v", err)
	}
	byWord := make(map[string]WordDifficulty)
	for _, w := range model.WordDifficulties {
		byWord[w.Word] = w
	}
	if got := byWord["la"]; got.Attempts != 1 || got.Successes != 1 {
		t.Fatalf("la = %+v, want 1 attempt, 1 success", got)
	}
	if got := byWord["land"]; got.Attempts != 1 {
		t.Fatalf("land = %+v, want 1 attempt", got)
	}
}

func TestTipEffectivenessSettledByNextSession(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	// Session 1 flags "feeling"; the tip is shown to the user afterwards.
	first := sessionInput("s1", []TipInput{{Word: "feeling", Reason: "final g"}})
	first.Transcript = "hold on to that fillin"
	if _, err := e.IngestSession(ctx, first); err != nil {
		t.Fatalf("session 1: %v", err)
	}

	// Session 2: "feeling" recovered, so the tip counts as improved.
	second := sessionInput("s2", nil)
	second.Transcript = "hold on to that feeling"
	if _, err := e.IngestSession(ctx, second); err != nil {
		t.Fatalf("session 2: %v", err)
	}

	model, err := e.GlobalModelView(ctx, 10)
	if err != nil {
		t.Fatalf("GlobalModelView: %v", err)
	}
	if len(model.TipEffectiveness) != 1 {
		t.Fatalf("tip ledger = %v, want one entry", model.TipEffectiveness)
	}
	tip := model.TipEffectiveness[0]
	if tip.TipKey != "final-g:medium" {
		t.Fatalf("TipKey = %q", tip.TipKey)
	}
	if tip.ShownCount != 1 || tip.ImprovedCount != 1 || tip.SuccessScore != 1 {
		t.Fatalf("tip = %+v, want shown=1 improved=1 score=1", tip)
	}
}

func TestTipNotImprovedWhenWordStaysWeak(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	first := sessionInput("s1", []TipInput{{Word: "feeling", Reason: "final g"}})
	first.Transcript = "hold on to that fillin"
	if _, err := e.IngestSession(ctx, first); err != nil {
		t.Fatalf("session 1: %v", err)
	}
	second := sessionInput("s2", nil)
	second.Transcript = "hold on to that fillin"
	if _, err := e.IngestSession(ctx, second); err != nil {
		t.Fatalf("session 2: %v", err)
	}

	model, err := e.GlobalModelView(ctx, 10)
	if err != nil {
		t.Fatalf("GlobalModelView: %v", err)
	}
	tip := model.TipEffectiveness[0]
	if tip.ShownCount != 1 || tip.ImprovedCount != 0 {
		t.Fatalf("tip = %+v, want shown=1 improved=0", tip)
	}
}

func TestIngestEasePocketValidation(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	base := EasePocketInput{UserID: "u1", EventID: "e1", Mode: "silent", BPM: 90, Grid: "8th"}

	bad := base
	bad.Mode = "triplet"
	if _, err := e.IngestEasePocket(ctx, bad); err == nil {
		t.Fatal("unknown mode accepted")
	}
	bad = base
	bad.BPM = 20
	if _, err := e.IngestEasePocket(ctx, bad); err == nil {
		t.Fatal("bpm 20 accepted")
	}
	bad = base
	bad.Grid = "32nd"
	if _, err := e.IngestEasePocket(ctx, bad); err == nil {
		t.Fatal("grid 32nd accepted")
	}

	res, err := e.IngestEasePocket(ctx, base)
	if err != nil {
		t.Fatalf("valid drill rejected: %v", err)
	}
	modes := res.Profile.TimingSummary.EasePocketModes
	if len(modes) != 1 || modes[0].Mode != ModeSilent || modes[0].Drills != 1 {
		t.Fatalf("EasePocketModes = %v", modes)
	}

	dup, err := e.IngestEasePocket(ctx, base)
	if err != nil {
		t.Fatalf("replayed drill: %v", err)
	}
	if !dup.Deduplicated {
		t.Fatal("drill replay not flagged as deduplicated")
	}
}

func TestProfileRebuiltFromEventLog(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)
	ctx := context.Background()
	if _, err := e.IngestSession(ctx, sessionInput("s1", nil)); err != nil {
		t.Fatalf("IngestSession: %v", err)
	}

	// Drop the cache; Profile must rebuild the same aggregate from events.
	store.mu.Lock()
	delete(store.profiles, "u1")
	store.mu.Unlock()

	p, ok, err := e.Profile(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Profile after cache drop: ok=%v err=%v", ok, err)
	}
	if p.SessionCount != 1 {
		t.Fatalf("SessionCount = %d, want 1", p.SessionCount)
	}
}

func TestProfileUnknownUser(t *testing.T) {
	e := newTestEngine()
	if _, ok, err := e.Profile(context.Background(), "ghost"); err != nil || ok {
		t.Fatalf("unknown user: ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestTrendComparesRecentAgainstBaseline(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	var res IngestResult
	var err error
	for i := 0; i < 12; i++ {
		in := sessionInput(fmt.Sprintf("s%02d", i), nil)
		if i < 6 {
			in.TextAccuracy = 60
		} else {
			in.TextAccuracy = 90
		}
		res, err = e.IngestSession(ctx, in)
		if err != nil {
			t.Fatalf("session %d: %v", i, err)
		}
	}

	trend := res.Profile.TrendSummary
	if trend.RecentAvgAccuracy != 90 {
		t.Fatalf("RecentAvgAccuracy = %v, want 90", trend.RecentAvgAccuracy)
	}
	if trend.BaselineAvgAccuracy != 60 {
		t.Fatalf("BaselineAvgAccuracy = %v, want 60", trend.BaselineAvgAccuracy)
	}
	if trend.DeltaAccuracy != 30 {
		t.Fatalf("DeltaAccuracy = %v, want 30", trend.DeltaAccuracy)
	}
}

func TestRecommendationsPlan(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	in := sessionInput("s1", []TipInput{
		{Word: "papa", Reason: "plosive"},
		{Word: "better", Reason: "plosive"},
		{Word: "ticket", Reason: "plosive"},
	})
	in.TimingConsistency = "low"
	res, err := e.IngestSession(ctx, in)
	if err != nil {
		t.Fatalf("IngestSession: %v", err)
	}

	kinds := make(map[string]bool)
	for _, item := range res.Recommendations.PracticePlan {
		kinds[item.Kind] = true
	}
	if !kinds["lyrics"] {
		t.Fatalf("plan missing lyrics drill: %v", res.Recommendations.PracticePlan)
	}
	if !kinds["silent"] || !kinds["pocket"] {
		t.Fatalf("low timing should add silent+pocket drills: %v", res.Recommendations.PracticePlan)
	}
	if !kinds["consonant"] {
		t.Fatalf("three plosive words should add consonant drill: %v", res.Recommendations.PracticePlan)
	}
	if len(res.Recommendations.PracticePlan) > 5 {
		t.Fatalf("plan too long: %v", res.Recommendations.PracticePlan)
	}
	if len(res.Recommendations.FocusWords) == 0 {
		t.Fatal("focus words empty")
	}
}
