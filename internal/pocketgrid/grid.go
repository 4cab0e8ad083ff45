// Package pocketgrid fits consonant onsets to a BPM subdivision grid and
// classifies each onset as early, on, or late.
package pocketgrid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/easeverse/easeverse-server/internal/onset"
)

// Kind selects the grid subdivision.
type Kind string

const (
	KindBeat      Kind = "beat"
	KindEighth    Kind = "8th"
	KindSixteenth Kind = "16th"
)

// ParseKind validates a grid kind, defaulting to 16th notes.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "":
		return KindSixteenth, nil
	case string(KindBeat), string(KindEighth), string(KindSixteenth):
		return Kind(s), nil
	default:
		return "", fmt.Errorf("invalid grid %q (expected beat|8th|16th)", s)
	}
}

func (k Kind) divisor() float64 {
	switch k {
	case KindEighth:
		return 2
	case KindSixteenth:
		return 4
	default:
		return 1
	}
}

// StepMs returns the grid step for a BPM at the given subdivision.
func StepMs(bpm float64, kind Kind) float64 {
	return 60000 / bpm / kind.divisor()
}

// Class labels an event relative to the grid.
type Class string

const (
	ClassEarly Class = "early"
	ClassOn    Class = "on"
	ClassLate  Class = "late"
)

// Event is a single classified onset.
type Event struct {
	TimeMs      float64 `json:"tMs"`
	ExpectedMs  float64 `json:"expectedMs"`
	DeviationMs float64 `json:"deviationMs"`
	Class       Class   `json:"class"`
	Confidence  float64 `json:"confidence"`
}

// Stats aggregates deviations across events.
type Stats struct {
	EventCount  int     `json:"eventCount"`
	OnTimePct   float64 `json:"onTimePct"`
	MeanAbsMs   float64 `json:"meanAbsMs"`
	StdDevMs    float64 `json:"stdDevMs"`
	AvgOffsetMs float64 `json:"avgOffsetMs"`
}

// Score is the complete timing result for one take.
type Score struct {
	StepMs      float64 `json:"stepMs"`
	PhaseMs     float64 `json:"phaseMs"`
	ToleranceMs float64 `json:"toleranceMs"`
	Events      []Event `json:"events"`
	Stats       Stats   `json:"stats"`
}

const (
	DefaultToleranceMs = 25.0
	DefaultMaxEvents   = 180
	phaseResolutionMs  = 1.0
)

// Params configures scoring. Zero values take defaults.
type Params struct {
	StepMs      float64
	ToleranceMs float64
	MaxEvents   int
}

// FitPhase sweeps candidate phases in [0, stepMs) and returns the one
// minimizing the mean absolute deviation of the onsets from the grid.
func FitPhase(times []float64, stepMs, resolutionMs float64) float64 {
	if len(times) == 0 || stepMs <= 0 {
		return 0
	}
	if resolutionMs <= 0 {
		resolutionMs = phaseResolutionMs
	}
	bestPhase := 0.0
	bestCost := math.Inf(1)
	for p := 0.0; p < stepMs; p += resolutionMs {
		var cost float64
		for _, t := range times {
			k := math.Round((t - p) / stepMs)
			cost += math.Abs(t - (p + k*stepMs))
		}
		cost /= float64(len(times))
		if cost < bestCost {
			bestCost = cost
			bestPhase = p
		}
	}
	return bestPhase
}

// Run fits a phase and classifies each onset against the grid.
func Run(onsets []onset.Onset, p Params) Score {
	if p.ToleranceMs <= 0 {
		p.ToleranceMs = DefaultToleranceMs
	}
	if p.MaxEvents <= 0 {
		p.MaxEvents = DefaultMaxEvents
	}
	if len(onsets) > p.MaxEvents {
		onsets = onsets[:p.MaxEvents]
	}

	times := make([]float64, len(onsets))
	for i, o := range onsets {
		times[i] = o.TimeMs
	}
	phase := FitPhase(times, p.StepMs, phaseResolutionMs)

	events := make([]Event, 0, len(onsets))
	devs := make([]float64, 0, len(onsets))
	absDevs := make([]float64, 0, len(onsets))
	onTime := 0
	for _, o := range onsets {
		k := math.Round((o.TimeMs - phase) / p.StepMs)
		expected := phase + k*p.StepMs
		dev := o.TimeMs - expected

		class := ClassOn
		if math.Abs(dev) > p.ToleranceMs {
			if dev < 0 {
				class = ClassEarly
			} else {
				class = ClassLate
			}
		} else {
			onTime++
		}

		proximity := 1 - clamp(math.Abs(dev)/(p.StepMs/2), 0, 1)
		conf := o.Confidence * (0.55 + 0.45*proximity)

		events = append(events, Event{
			TimeMs:      o.TimeMs,
			ExpectedMs:  expected,
			DeviationMs: dev,
			Class:       class,
			Confidence:  conf,
		})
		devs = append(devs, dev)
		absDevs = append(absDevs, math.Abs(dev))
	}

	s := Stats{EventCount: len(events)}
	if len(events) > 0 {
		s.OnTimePct = float64(onTime) / float64(len(events)) * 100
		s.MeanAbsMs = stat.Mean(absDevs, nil)
		s.AvgOffsetMs = stat.Mean(devs, nil)
		s.StdDevMs = stat.PopStdDev(devs, nil)
	}

	return Score{
		StepMs:      p.StepMs,
		PhaseMs:     phase,
		ToleranceMs: p.ToleranceMs,
		Events:      events,
		Stats:       s,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
