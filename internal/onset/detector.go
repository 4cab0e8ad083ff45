// Package onset implements a consonant onset detector based on half-wave
// rectified spectral flux with an energy-rise gate and robust (MAD) adaptive
// thresholds.
package onset

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	algofft "github.com/cwbudde/algo-fft"
)

// Onset is a detected transient. TimeMs is refined against the time-domain
// signal; Confidence is in [0, 1].
type Onset struct {
	TimeMs     float64 `json:"tMs"`
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
}

// Config tunes the detector. Zero values fall back to defaults.
type Config struct {
	FrameSize      int
	HopSize        int
	MinSpacingMs   float64
	MaxOnsets      int
	RefineWindowMs float64
}

func (c Config) withDefaults() Config {
	if c.FrameSize <= 0 {
		c.FrameSize = 256
	}
	if c.HopSize <= 0 {
		c.HopSize = 64
	}
	if c.MinSpacingMs <= 0 {
		c.MinSpacingMs = 60
	}
	if c.MaxOnsets <= 0 {
		c.MaxOnsets = 120
	}
	if c.RefineWindowMs <= 0 {
		c.RefineWindowMs = 20
	}
	return c
}

// Band of interest for consonant attacks.
const (
	fluxLowHz  = 2000.0
	fluxHighHz = 8000.0

	preEmphasis = 0.97
	hpfCutoffHz = 80.0

	minOnsetMs = 30.0

	thresholdFloorRatio = 0.05
)

// Detect locates consonant onsets in mono samples at the given rate.
func Detect(samples []float64, sampleRate int, cfg Config) ([]Onset, error) {
	cfg = cfg.withDefaults()
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if len(samples) < cfg.FrameSize {
		return nil, nil
	}

	pre := preprocess(samples, sampleRate)

	flux, energy, err := analyze(pre, sampleRate, cfg)
	if err != nil {
		return nil, err
	}

	deltaE := make([]float64, len(energy))
	for i := 1; i < len(energy); i++ {
		deltaE[i] = math.Max(0, energy[i]-energy[i-1])
	}

	fluxThreshold := robustThreshold(flux, 6)
	energyThreshold := robustThreshold(deltaE, 4)

	hopMs := float64(cfg.HopSize) / float64(sampleRate) * 1000
	minGapFrames := int(math.Ceil(cfg.MinSpacingMs / hopMs))

	var picked []Onset
	lastAccepted := -minGapFrames
	for i := 1; i < len(flux)-1; i++ {
		if flux[i] <= fluxThreshold {
			continue
		}
		if flux[i] <= flux[i-1] || flux[i] < flux[i+1] {
			continue
		}
		if deltaE[i] < energyThreshold {
			continue
		}
		if i-lastAccepted < minGapFrames {
			continue
		}
		lastAccepted = i
		centreMs := (float64(i*cfg.HopSize) + float64(cfg.FrameSize)/2) / float64(sampleRate) * 1000
		conf := 0.0
		if fluxThreshold > 0 {
			conf = clamp((flux[i]-fluxThreshold)/(2*fluxThreshold), 0, 1)
		}
		picked = append(picked, Onset{TimeMs: centreMs, Strength: flux[i], Confidence: conf})
	}

	picked = capByStrength(picked, cfg.MaxOnsets)

	refined := make([]Onset, 0, len(picked))
	for _, o := range picked {
		o.TimeMs = refineTime(samples, sampleRate, o.TimeMs, cfg.RefineWindowMs)
		if o.TimeMs < minOnsetMs {
			continue
		}
		refined = append(refined, o)
	}

	return dedupe(refined, cfg.MinSpacingMs), nil
}

// preprocess applies the DC blocker, an 80 Hz one-pole high-pass and
// pre-emphasis, in that order.
func preprocess(samples []float64, sampleRate int) []float64 {
	n := len(samples)
	out := make([]float64, n)

	var mean float64
	for _, s := range samples {
		mean += s
	}
	mean /= float64(n)
	for i, s := range samples {
		out[i] = s - mean
	}

	rc := 1.0 / (2 * math.Pi * hpfCutoffHz)
	dt := 1.0 / float64(sampleRate)
	alpha := rc / (rc + dt)
	prevX := out[0]
	prevY := out[0]
	for i := 1; i < n; i++ {
		x := out[i]
		y := alpha * (prevY + x - prevX)
		prevX = x
		prevY = y
		out[i] = y
	}

	prev := out[0]
	for i := 1; i < n; i++ {
		cur := out[i]
		out[i] = cur - preEmphasis*prev
		prev = cur
	}
	return out
}

// analyze computes per-frame band-limited spectral flux and windowed energy.
func analyze(samples []float64, sampleRate int, cfg Config) (flux, energy []float64, err error) {
	plan, err := algofft.NewPlanReal64(cfg.FrameSize)
	if err != nil {
		return nil, nil, fmt.Errorf("fft plan: %w", err)
	}

	hann := make([]float64, cfg.FrameSize)
	for i := range hann {
		hann[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(cfg.FrameSize-1))
	}

	loBin := int(fluxLowHz * float64(cfg.FrameSize) / float64(sampleRate))
	hiBin := int(fluxHighHz * float64(cfg.FrameSize) / float64(sampleRate))
	if hiBin > cfg.FrameSize/2 {
		hiBin = cfg.FrameSize / 2
	}
	if loBin < 1 {
		loBin = 1
	}

	nFrames := (len(samples)-cfg.FrameSize)/cfg.HopSize + 1
	flux = make([]float64, nFrames)
	energy = make([]float64, nFrames)

	buf := make([]float64, cfg.FrameSize)
	spec := make([]complex128, cfg.FrameSize/2+1)
	prevMag := make([]float64, cfg.FrameSize/2+1)
	mag := make([]float64, cfg.FrameSize/2+1)

	for f := 0; f < nFrames; f++ {
		base := f * cfg.HopSize
		var e float64
		for i := 0; i < cfg.FrameSize; i++ {
			w := hann[i] * samples[base+i]
			buf[i] = w
			e += w * w
		}
		energy[f] = e

		plan.Forward(spec, buf)
		for k := range mag {
			mag[k] = cmplx.Abs(spec[k])
		}

		if f > 0 {
			var sum float64
			for k := loBin; k <= hiBin; k++ {
				if d := mag[k] - prevMag[k]; d > 0 {
					sum += d
				}
			}
			flux[f] = sum
		}
		copy(prevMag, mag)
	}
	return flux, energy, nil
}

// robustThreshold is median + k*MAD, floored at a fraction of the series
// peak. Mostly-silent series drive both median and MAD to zero, and without
// the floor numerically positive noise in burst decay tails would clear the
// gate.
func robustThreshold(values []float64, k float64) float64 {
	med := median(values)
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	mad := median(devs)
	th := med + k*mad
	if mad == 0 {
		th = med * 1.5
	}
	var peak float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}
	if floor := peak * thresholdFloorRatio; th < floor {
		th = floor
	}
	return th
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// capByStrength keeps the top-n onsets by strength, restoring time order.
func capByStrength(onsets []Onset, n int) []Onset {
	if len(onsets) <= n {
		return onsets
	}
	byStrength := append([]Onset(nil), onsets...)
	sort.Slice(byStrength, func(i, j int) bool { return byStrength[i].Strength > byStrength[j].Strength })
	kept := byStrength[:n]
	sort.Slice(kept, func(i, j int) bool { return kept[i].TimeMs < kept[j].TimeMs })
	return kept
}

// refineTime snaps an onset to the steepest sample-to-sample rise within the
// refinement window around the frame centre.
func refineTime(samples []float64, sampleRate int, tMs, windowMs float64) float64 {
	centre := int(tMs / 1000 * float64(sampleRate))
	radius := int(windowMs / 1000 * float64(sampleRate))
	lo := centre - radius
	if lo < 1 {
		lo = 1
	}
	hi := centre + radius
	if hi >= len(samples) {
		hi = len(samples) - 1
	}
	if lo > hi {
		return tMs
	}
	best := lo
	bestSlope := -1.0
	for n := lo; n <= hi; n++ {
		slope := math.Abs(samples[n] - samples[n-1])
		if slope > bestSlope {
			bestSlope = slope
			best = n
		}
	}
	return float64(best) / float64(sampleRate) * 1000
}

// dedupe collapses onsets closer than minSpacingMs, keeping the strongest.
func dedupe(onsets []Onset, minSpacingMs float64) []Onset {
	if len(onsets) < 2 {
		return onsets
	}
	sort.Slice(onsets, func(i, j int) bool { return onsets[i].TimeMs < onsets[j].TimeMs })
	out := onsets[:1]
	for _, o := range onsets[1:] {
		last := &out[len(out)-1]
		if o.TimeMs-last.TimeMs < minSpacingMs {
			if o.Strength > last.Strength {
				*last = o
			}
			continue
		}
		out = append(out, o)
	}
	return out
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
