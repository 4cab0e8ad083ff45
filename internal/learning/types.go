package learning

import (
	"time"

	"github.com/easeverse/easeverse-server/internal/pocketgrid"
)

// TimingConsistency grades a session's rhythmic steadiness.
type TimingConsistency string

const (
	TimingLow    TimingConsistency = "low"
	TimingMedium TimingConsistency = "medium"
	TimingHigh   TimingConsistency = "high"
)

// ParseTimingConsistency validates the grade, defaulting to medium.
func ParseTimingConsistency(s string) TimingConsistency {
	switch TimingConsistency(s) {
	case TimingLow, TimingMedium, TimingHigh:
		return TimingConsistency(s)
	default:
		return TimingMedium
	}
}

// Mode names an EasePocket drill variant.
type Mode string

const (
	ModeSubdivision Mode = "subdivision"
	ModeSilent      Mode = "silent"
	ModeConsonant   Mode = "consonant"
	ModePocket      Mode = "pocket"
	ModeSlow        Mode = "slow"
)

// ValidMode reports whether s names a drill mode.
func ValidMode(s string) bool {
	switch Mode(s) {
	case ModeSubdivision, ModeSilent, ModeConsonant, ModePocket, ModeSlow:
		return true
	}
	return false
}

// Tip is a coach suggestion with its aggregation key.
type Tip struct {
	Word   string `json:"word"`
	Reason string `json:"reason"`
	TipKey string `json:"tipKey"`
}

// SessionEvent is an immutable record of one coaching session. Unique per
// (UserID, SessionID).
type SessionEvent struct {
	ID                   string            `json:"id"`
	UserID               string            `json:"userId"`
	SessionID            string            `json:"sessionId"`
	SongID               string            `json:"songId,omitempty"`
	Genre                string            `json:"genre,omitempty"`
	Title                string            `json:"title,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	DurationSeconds      float64           `json:"durationSeconds"`
	TextAccuracy         float64           `json:"textAccuracy"`
	PronunciationClarity float64           `json:"pronunciationClarity"`
	TimingConsistency    TimingConsistency `json:"timingConsistency"`
	Transcript           string            `json:"transcript,omitempty"`
	ExpectedWords        []string          `json:"expectedWords"`
	SpokenWords          []string          `json:"spokenWords"`
	MatchedWords         []string          `json:"matchedWords"`
	WeakWords            []string          `json:"weakWords"`
	StrongWords          []string          `json:"strongWords"`
	WeakSounds           map[string]int    `json:"weakSounds"`
	Tips                 []Tip             `json:"tips"`
}

// EasePocketEvent records one timing drill. Unique per (UserID, EventID).
type EasePocketEvent struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	EventID     string           `json:"eventId"`
	Mode        Mode             `json:"mode"`
	BPM         float64          `json:"bpm"`
	Grid        pocketgrid.Kind  `json:"grid"`
	BeatsPerBar int              `json:"beatsPerBar"`
	Stats       pocketgrid.Stats `json:"stats"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// WordDifficulty is the global per-word attempt ledger.
type WordDifficulty struct {
	Word        string  `json:"word"`
	Attempts    int     `json:"attempts"`
	Failures    int     `json:"failures"`
	Successes   int     `json:"successes"`
	FailureRate float64 `json:"failureRate"`
}

// TipEffectiveness is the global ledger for a tip key.
type TipEffectiveness struct {
	TipKey        string  `json:"tipKey"`
	ShownCount    int     `json:"shownCount"`
	ImprovedCount int     `json:"improvedCount"`
	SuccessScore  float64 `json:"successScore"`
}

// WordStat is a ranked word in a user profile.
type WordStat struct {
	Word  string  `json:"word"`
	Count int     `json:"count"`
	Rate  float64 `json:"rate"`
}

// SoundStat is a ranked weak-sound category.
type SoundStat struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// GenreSummary aggregates sessions per genre.
type GenreSummary struct {
	Genre       string  `json:"genre"`
	Sessions    int     `json:"sessions"`
	AvgAccuracy float64 `json:"avgAccuracy"`
}

// TrendSummary compares the most recent sessions against the preceding block.
type TrendSummary struct {
	RecentAvgAccuracy   float64 `json:"recentAvgAccuracy"`
	BaselineAvgAccuracy float64 `json:"baselineAvgAccuracy"`
	DeltaAccuracy       float64 `json:"deltaAccuracy"`
	RecentAvgClarity    float64 `json:"recentAvgClarity"`
	TimingHighRate      float64 `json:"timingHighRate"`
}

// TipSummary ranks a tip key by its effectiveness for this user.
type TipSummary struct {
	TipKey        string  `json:"tipKey"`
	ShownCount    int     `json:"shownCount"`
	ImprovedCount int     `json:"improvedCount"`
	SuccessScore  float64 `json:"successScore"`
}

// ModeSummary aggregates EasePocket drills per mode.
type ModeSummary struct {
	Mode         Mode    `json:"mode"`
	Drills       int     `json:"drills"`
	AvgOnTimePct float64 `json:"avgOnTimePct"`
	AvgMeanAbsMs float64 `json:"avgMeanAbsMs"`
}

// TimingSummary combines session grades with drill aggregates.
type TimingSummary struct {
	SessionTimingConsistency map[string]int `json:"sessionTimingConsistency"`
	EasePocketModes          []ModeSummary  `json:"easePocketModes"`
}

// Profile is the derived per-user aggregate, rebuilt after every ingest and
// reconstructible from the event log.
type Profile struct {
	UserID        string         `json:"userId"`
	SessionCount  int            `json:"sessionCount"`
	WeakWords     []WordStat     `json:"weakWords"`
	StrongWords   []WordStat     `json:"strongWords"`
	WeakSounds    []SoundStat    `json:"weakSounds"`
	GenreSummary  []GenreSummary `json:"genreSummary"`
	TrendSummary  TrendSummary   `json:"trendSummary"`
	TipSummary    []TipSummary   `json:"tipSummary"`
	TimingSummary TimingSummary  `json:"timingSummary"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}
