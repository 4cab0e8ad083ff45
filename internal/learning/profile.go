package learning

import (
	"math"
	"sort"
	"time"
)

const (
	topWordCount  = 12
	topSoundCount = 10
	topTipCount   = 12
	trendWindow   = 6
)

// BuildProfile derives the user aggregate from the full event log. Sessions
// must be in createdAt order.
func BuildProfile(userID string, sessions []SessionEvent, pocket []EasePocketEvent, now time.Time) Profile {
	p := Profile{
		UserID:       userID,
		SessionCount: len(sessions),
		UpdatedAt:    now,
	}

	weakCounts := make(map[string]int)
	strongCounts := make(map[string]int)
	soundCounts := make(map[string]int)
	timingCounts := make(map[string]int)
	type genreAgg struct {
		sessions int
		accSum   float64
	}
	genres := make(map[string]*genreAgg)

	for _, ev := range sessions {
		for _, w := range ev.WeakWords {
			weakCounts[w]++
		}
		for _, w := range ev.StrongWords {
			strongCounts[w]++
		}
		for cat, n := range ev.WeakSounds {
			soundCounts[cat] += n
		}
		timingCounts[string(ev.TimingConsistency)]++
		if ev.Genre != "" {
			g := genres[ev.Genre]
			if g == nil {
				g = &genreAgg{}
				genres[ev.Genre] = g
			}
			g.sessions++
			g.accSum += ev.TextAccuracy
		}
	}

	p.WeakWords = rankWords(weakCounts, len(sessions), topWordCount)
	p.StrongWords = rankWords(strongCounts, len(sessions), topWordCount)
	p.WeakSounds = rankSounds(soundCounts, topSoundCount)

	for name, g := range genres {
		p.GenreSummary = append(p.GenreSummary, GenreSummary{
			Genre:       name,
			Sessions:    g.sessions,
			AvgAccuracy: math.Round(g.accSum / float64(g.sessions)),
		})
	}
	sort.Slice(p.GenreSummary, func(i, j int) bool {
		if p.GenreSummary[i].Sessions != p.GenreSummary[j].Sessions {
			return p.GenreSummary[i].Sessions > p.GenreSummary[j].Sessions
		}
		return p.GenreSummary[i].Genre < p.GenreSummary[j].Genre
	})

	p.TrendSummary = buildTrend(sessions, timingCounts)
	p.TipSummary = buildTipSummary(sessions)
	p.TimingSummary = TimingSummary{
		SessionTimingConsistency: timingCounts,
		EasePocketModes:          buildModeSummary(pocket),
	}
	return p
}

func rankWords(counts map[string]int, sessionCount, limit int) []WordStat {
	out := make([]WordStat, 0, len(counts))
	for w, n := range counts {
		stat := WordStat{Word: w, Count: n}
		if sessionCount > 0 {
			stat.Rate = float64(n) / float64(sessionCount)
		}
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func rankSounds(counts map[string]int, limit int) []SoundStat {
	out := make([]SoundStat, 0, len(counts))
	for cat, n := range counts {
		out = append(out, SoundStat{Category: cat, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func buildTrend(sessions []SessionEvent, timingCounts map[string]int) TrendSummary {
	var t TrendSummary
	n := len(sessions)
	if n == 0 {
		return t
	}

	recentStart := n - trendWindow
	if recentStart < 0 {
		recentStart = 0
	}
	recent := sessions[recentStart:]
	baselineStart := recentStart - trendWindow
	if baselineStart < 0 {
		baselineStart = 0
	}
	baseline := sessions[baselineStart:recentStart]

	var accSum, claritySum float64
	for _, ev := range recent {
		accSum += ev.TextAccuracy
		claritySum += ev.PronunciationClarity
	}
	t.RecentAvgAccuracy = accSum / float64(len(recent))
	t.RecentAvgClarity = claritySum / float64(len(recent))

	if len(baseline) > 0 {
		var baseSum float64
		for _, ev := range baseline {
			baseSum += ev.TextAccuracy
		}
		t.BaselineAvgAccuracy = baseSum / float64(len(baseline))
	} else {
		t.BaselineAvgAccuracy = t.RecentAvgAccuracy
	}
	t.DeltaAccuracy = t.RecentAvgAccuracy - t.BaselineAvgAccuracy
	t.TimingHighRate = float64(timingCounts[string(TimingHigh)]) / float64(n)
	return t
}

// buildTipSummary re-derives per-user tip effectiveness from the event
// sequence: a tip shown in one session counts as improved when its word is
// absent from the next session's weak words.
func buildTipSummary(sessions []SessionEvent) []TipSummary {
	agg := make(map[string]*TipSummary)
	for i := 0; i+1 < len(sessions); i++ {
		nextWeak := make(map[string]bool, len(sessions[i+1].WeakWords))
		for _, w := range sessions[i+1].WeakWords {
			nextWeak[w] = true
		}
		for _, tip := range sessions[i].Tips {
			s := agg[tip.TipKey]
			if s == nil {
				s = &TipSummary{TipKey: tip.TipKey}
				agg[tip.TipKey] = s
			}
			s.ShownCount++
			if !nextWeak[tip.Word] {
				s.ImprovedCount++
			}
		}
	}

	out := make([]TipSummary, 0, len(agg))
	for _, s := range agg {
		s.SuccessScore = float64(s.ImprovedCount) / float64(s.ShownCount)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessScore != out[j].SuccessScore {
			return out[i].SuccessScore > out[j].SuccessScore
		}
		if out[i].ShownCount != out[j].ShownCount {
			return out[i].ShownCount > out[j].ShownCount
		}
		return out[i].TipKey < out[j].TipKey
	})
	if len(out) > topTipCount {
		out = out[:topTipCount]
	}
	return out
}

func buildModeSummary(pocket []EasePocketEvent) []ModeSummary {
	type agg struct {
		drills    int
		onTimeSum float64
		absSum    float64
	}
	byMode := make(map[Mode]*agg)
	for _, ev := range pocket {
		a := byMode[ev.Mode]
		if a == nil {
			a = &agg{}
			byMode[ev.Mode] = a
		}
		a.drills++
		a.onTimeSum += ev.Stats.OnTimePct
		a.absSum += ev.Stats.MeanAbsMs
	}

	out := make([]ModeSummary, 0, len(byMode))
	for mode, a := range byMode {
		out = append(out, ModeSummary{
			Mode:         mode,
			Drills:       a.drills,
			AvgOnTimePct: a.onTimeSum / float64(a.drills),
			AvgMeanAbsMs: a.absSum / float64(a.drills),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Drills != out[j].Drills {
			return out[i].Drills > out[j].Drills
		}
		return out[i].Mode < out[j].Mode
	})
	return out
}
