// Package confidence scores the agreement between candidate transcriptions.
package confidence

import (
	"math"
	"strings"
)

// DefaultScore is returned when fewer than two texts can be compared.
// It means no comparison was possible, not low quality.
const DefaultScore = 0.5

// agreementBonus is the largest multiplier granted for many agreeing backends
const agreementBonus = 0.2

// Score returns the mean pairwise Jaccard similarity of the non-empty texts,
// scaled by a bonus that grows with the number of texts and capped at 1.0
func Score(texts []string) float64 {
	sets := make([]map[string]struct{}, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		sets = append(sets, wordSet(t))
	}
	if len(sets) < 2 {
		return DefaultScore
	}

	var sum float64
	pairs := 0
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			sum += jaccard(sets[i], sets[j])
			pairs++
		}
	}
	mean := sum / float64(pairs)

	// Two texts get no bonus, five or more get the full bonus
	extra := math.Min(float64(len(sets)-2)/3, 1)
	return math.Min(mean*(1+agreementBonus*extra), 1.0)
}

// Jaccard returns |a ∩ b| / |a ∪ b| over lower-cased word sets
func Jaccard(a, b string) float64 {
	return jaccard(wordSet(a), wordSet(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
