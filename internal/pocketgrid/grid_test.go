package pocketgrid

import (
	"math"
	"testing"

	"github.com/easeverse/easeverse-server/internal/onset"
)

func onsetsAt(times ...float64) []onset.Onset {
	out := make([]onset.Onset, len(times))
	for i, t := range times {
		out[i] = onset.Onset{TimeMs: t, Strength: 1, Confidence: 1}
	}
	return out
}

func TestStepMs(t *testing.T) {
	cases := []struct {
		bpm  float64
		kind Kind
		want float64
	}{
		{120, KindBeat, 500},
		{120, KindEighth, 250},
		{120, KindSixteenth, 125},
		{100, KindSixteenth, 150},
	}
	for _, c := range cases {
		if got := StepMs(c.bpm, c.kind); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("StepMs(%f, %s) = %f, want %f", c.bpm, c.kind, got, c.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(""); err != nil || k != KindSixteenth {
		t.Errorf("ParseKind(\"\") = %v, %v; want 16th default", k, err)
	}
	if _, err := ParseKind("32nd"); err == nil {
		t.Errorf("ParseKind(\"32nd\") should fail")
	}
}

func TestFitPhaseRecoversOffset(t *testing.T) {
	step := 125.0
	times := []float64{40, 165, 290, 415, 540}
	phase := FitPhase(times, step, 1)
	if math.Abs(phase-40) > 1.5 {
		t.Fatalf("phase = %f, want ~40", phase)
	}
	if phase < 0 || phase >= step {
		t.Fatalf("phase %f out of [0, %f)", phase, step)
	}
}

func TestRunOnGrid(t *testing.T) {
	step := 125.0
	score := Run(onsetsAt(100, 225, 350, 475, 600), Params{StepMs: step, ToleranceMs: 15})
	if score.Stats.EventCount != 5 {
		t.Fatalf("eventCount = %d, want 5", score.Stats.EventCount)
	}
	if score.Stats.OnTimePct != 100 {
		t.Errorf("onTimePct = %f, want 100", score.Stats.OnTimePct)
	}
	if score.Stats.MeanAbsMs > 2 {
		t.Errorf("meanAbsMs = %f, want ~0", score.Stats.MeanAbsMs)
	}
	for _, e := range score.Events {
		k := math.Round((e.TimeMs - score.PhaseMs) / step)
		if want := score.PhaseMs + k*step; e.ExpectedMs != want {
			t.Errorf("expectedMs = %f, want %f", e.ExpectedMs, want)
		}
		if (e.Class == ClassOn) != (math.Abs(e.DeviationMs) <= score.ToleranceMs) {
			t.Errorf("class %s inconsistent with deviation %f", e.Class, e.DeviationMs)
		}
	}
}

func TestRunClassifiesEarlyLate(t *testing.T) {
	step := 200.0
	// Onsets at phase 0 grid with one 40ms early and one 40ms late.
	score := Run(onsetsAt(200, 360, 640, 800), Params{StepMs: step, ToleranceMs: 20})
	var early, late int
	for _, e := range score.Events {
		switch e.Class {
		case ClassEarly:
			early++
		case ClassLate:
			late++
		}
	}
	if early == 0 || late == 0 {
		t.Fatalf("expected both early and late events, got early=%d late=%d (%+v)", early, late, score.Events)
	}
}

func TestRunDoesNotPhaseFitAwayJitter(t *testing.T) {
	step := 150.0
	phase := 400.0
	var times []float64
	for n := 0; n < 10; n++ {
		off := 25.0
		if n%2 == 1 {
			off = -25.0
		}
		times = append(times, phase+float64(n)*step+off)
	}
	score := Run(onsetsAt(times...), Params{StepMs: step, ToleranceMs: 15})
	if score.Stats.MeanAbsMs <= 12 {
		t.Errorf("meanAbsMs = %f, want > 12 (alternating jitter must not vanish)", score.Stats.MeanAbsMs)
	}
	if score.Stats.OnTimePct >= 80 {
		t.Errorf("onTimePct = %f, want < 80", score.Stats.OnTimePct)
	}
}

func TestRunCapsEvents(t *testing.T) {
	var many []float64
	for i := 0; i < 250; i++ {
		many = append(many, 100+float64(i)*125)
	}
	score := Run(onsetsAt(many...), Params{StepMs: 125, MaxEvents: 180})
	if score.Stats.EventCount != 180 {
		t.Fatalf("eventCount = %d, want 180", score.Stats.EventCount)
	}
}

func TestConfidenceBlend(t *testing.T) {
	step := 100.0
	score := Run(onsetsAt(100, 200, 300), Params{StepMs: step, ToleranceMs: 25})
	for _, e := range score.Events {
		if e.Confidence < 0 || e.Confidence > 1 {
			t.Errorf("confidence %f out of range", e.Confidence)
		}
		// Exactly on grid: blend is src * (0.55 + 0.45) = src.
		if math.Abs(e.DeviationMs) < 1e-9 && math.Abs(e.Confidence-1) > 1e-9 {
			t.Errorf("on-grid confidence = %f, want 1", e.Confidence)
		}
	}
}
