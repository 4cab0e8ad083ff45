package learning

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[a-z0-9']+`)

// Tokenize lowercases text and extracts word tokens.
func Tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// NormalizeWord reduces a word to its token form; multi-token input keeps the
// first token.
func NormalizeWord(word string) string {
	tokens := Tokenize(word)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0]
}

// AlignLCS returns the set of expected-word indices matched by a longest
// common subsequence against spoken words. Ties advance the expected side.
func AlignLCS(expected, spoken []string) map[int]bool {
	n, m := len(expected), len(spoken)
	matched := make(map[int]bool)
	if n == 0 || m == 0 {
		return matched
	}

	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if expected[i] == spoken[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case expected[i] == spoken[j]:
			matched[i] = true
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return matched
}

// Weak-sound categories flagged on weak words.
const (
	SoundPlosiveAttack    = "plosive_attack"
	SoundFricativeClarity = "fricative_clarity"
	SoundLiquidControl    = "liquid_control"
	SoundNasalBalance     = "nasal_balance"
	SoundVowelTransition  = "vowel_transition"
	SoundFinalConsonant   = "final_consonant"
)

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func containsAny(word, set string) bool {
	return strings.ContainsAny(word, set)
}

// ClassifySounds maps weak words to articulatory trouble categories.
func ClassifySounds(weakWords []string) map[string]int {
	counts := make(map[string]int)
	for _, w := range weakWords {
		if w == "" {
			continue
		}
		if containsAny(w, "pbtdkg") {
			counts[SoundPlosiveAttack]++
		}
		if containsAny(w, "fvszxhj") {
			counts[SoundFricativeClarity]++
		}
		if containsAny(w, "lr") {
			counts[SoundLiquidControl]++
		}
		if containsAny(w, "mn") || strings.Contains(w, "ng") {
			counts[SoundNasalBalance]++
		}
		if hasVowelRun(w) {
			counts[SoundVowelTransition]++
		}
		last := w[len(w)-1]
		if last >= 'a' && last <= 'z' && !isVowel(last) {
			counts[SoundFinalConsonant]++
		}
	}
	return counts
}

func hasVowelRun(w string) bool {
	run := 0
	for i := 0; i < len(w); i++ {
		if isVowel(w[i]) {
			run++
			if run >= 2 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// TipInput is a coach suggestion attached to a session.
type TipInput struct {
	Word   string `json:"word"`
	Reason string `json:"reason"`
}

// Features are the derived per-session learning signals.
type Features struct {
	ExpectedWords []string
	SpokenWords   []string
	MatchedWords  []string
	WeakWords     []string
	StrongWords   []string
	WeakSounds    map[string]int
	Tips          []Tip
}

// DeriveFeatures aligns a transcript against lyrics and folds in the coach's
// topToFix flags.
func DeriveFeatures(lyrics, transcript string, topToFix []TipInput) Features {
	expected := Tokenize(lyrics)
	spoken := Tokenize(transcript)
	matchedIdx := AlignLCS(expected, spoken)

	weakSet := make(map[string]bool)
	var weak []string
	addWeak := func(w string) {
		if w != "" && !weakSet[w] {
			weakSet[w] = true
			weak = append(weak, w)
		}
	}

	for _, fix := range topToFix {
		addWeak(NormalizeWord(fix.Word))
	}
	// Unmatched expected words only count against the singer when there is a
	// transcript to align with.
	if strings.TrimSpace(transcript) != "" {
		for i, w := range expected {
			if !matchedIdx[i] {
				addWeak(w)
			}
		}
	}

	matchedSet := make(map[string]bool)
	var matched []string
	for i, w := range expected {
		if matchedIdx[i] && !matchedSet[w] {
			matchedSet[w] = true
			matched = append(matched, w)
		}
	}

	var strong []string
	for _, w := range matched {
		if !weakSet[w] {
			strong = append(strong, w)
		}
	}

	tips := make([]Tip, 0, len(topToFix))
	for _, fix := range topToFix {
		word := NormalizeWord(fix.Word)
		if word == "" {
			continue
		}
		tips = append(tips, Tip{Word: word, Reason: fix.Reason, TipKey: BuildTipKey(word, fix.Reason)})
	}

	return Features{
		ExpectedWords: expected,
		SpokenWords:   spoken,
		MatchedWords:  matched,
		WeakWords:     weak,
		StrongWords:   strong,
		WeakSounds:    ClassifySounds(weak),
		Tips:          tips,
	}
}
