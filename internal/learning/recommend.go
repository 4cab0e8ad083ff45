package learning

import (
	"context"
	"fmt"
	"strings"
)

const (
	focusWordCount     = 5
	challengeMinTries  = 4
	challengeWordCount = 5
	tipMinShown        = 3
	planMaxItems       = 5
)

// TipPick pairs a focus word with the globally best tip for words of its
// length.
type TipPick struct {
	Word         string  `json:"word"`
	TipKey       string  `json:"tipKey"`
	SuccessScore float64 `json:"successScore"`
	ShownCount   int     `json:"shownCount"`
}

// PlanItem is one suggested exercise.
type PlanItem struct {
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Recommendations is the per-user coaching payload derived from the profile
// and the global ledgers.
type Recommendations struct {
	FocusWords           []string         `json:"focusWords"`
	GlobalChallengeWords []WordDifficulty `json:"globalChallengeWords"`
	Tips                 []TipPick        `json:"tips"`
	PracticePlan         []PlanItem       `json:"practicePlan"`
}

// BuildRecommendations assembles the coaching payload for a profile. Ledger
// reads go through the store so global knowledge is shared across users.
func BuildRecommendations(ctx context.Context, store Store, p Profile) (Recommendations, error) {
	var rec Recommendations

	for _, w := range p.WeakWords {
		if len(rec.FocusWords) == focusWordCount {
			break
		}
		rec.FocusWords = append(rec.FocusWords, w.Word)
	}

	challenge, err := store.ChallengeWords(ctx, challengeMinTries, challengeWordCount)
	if err != nil {
		return rec, fmt.Errorf("challenge words: %w", err)
	}
	rec.GlobalChallengeWords = challenge

	for _, word := range rec.FocusWords {
		tip, ok, err := store.BestTipForBucket(ctx, LengthBucket(word), tipMinShown)
		if err != nil {
			return rec, fmt.Errorf("best tip for %q: %w", word, err)
		}
		if !ok {
			continue
		}
		rec.Tips = append(rec.Tips, TipPick{
			Word:         word,
			TipKey:       tip.TipKey,
			SuccessScore: tip.SuccessScore,
			ShownCount:   tip.ShownCount,
		})
	}

	rec.PracticePlan = buildPracticePlan(p, rec.FocusWords)
	return rec, nil
}

func buildPracticePlan(p Profile, focusWords []string) []PlanItem {
	var plan []PlanItem

	if len(focusWords) > 0 {
		named := focusWords
		if len(named) > 3 {
			named = named[:3]
		}
		plan = append(plan, PlanItem{
			Kind:   "lyrics",
			Title:  "Word Repair Drill",
			Detail: "Slow down and articulate: " + strings.Join(named, ", "),
		})
	}

	if needsTimingWork(p) {
		plan = append(plan,
			PlanItem{
				Kind:   "silent",
				Title:  "Silent Count Drill",
				Detail: "Mute alternating bars and keep the count internally",
			},
			PlanItem{
				Kind:   "pocket",
				Title:  "Pocket Lock Drill",
				Detail: "Tap along with the click until deviations settle under tolerance",
			})
	}

	if soundCount(p, SoundPlosiveAttack) >= 3 || soundCount(p, SoundFricativeClarity) >= 3 {
		plan = append(plan, PlanItem{
			Kind:   "consonant",
			Title:  "Consonant Attack Drill",
			Detail: "Exaggerate the opening consonant of each word on the beat",
		})
	}

	if len(plan) > planMaxItems {
		plan = plan[:planMaxItems]
	}
	return plan
}

func needsTimingWork(p Profile) bool {
	if p.TrendSummary.TimingHighRate < 0.45 {
		return true
	}
	modes := p.TimingSummary.EasePocketModes
	if len(modes) == 0 {
		return false
	}
	var sum float64
	for _, m := range modes {
		sum += m.AvgOnTimePct
	}
	return sum/float64(len(modes)) < 70
}

func soundCount(p Profile, category string) int {
	for _, s := range p.WeakSounds {
		if s.Category == category {
			return s.Count
		}
	}
	return 0
}
