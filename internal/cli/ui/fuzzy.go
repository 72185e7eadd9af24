package ui

import (
	"sort"
	"strings"
)

// MaxSuggestionDistance is the largest edit distance offered as a suggestion.
const MaxSuggestionDistance = 3

// Suggest returns up to limit candidates within MaxSuggestionDistance edits
// of target, closest first. Comparison ignores case; ties keep candidate
// order.
func Suggest(target string, candidates []string, limit int) []string {
	type scored struct {
		value    string
		distance int
	}

	target = strings.ToLower(target)
	var matches []scored
	for _, candidate := range candidates {
		if d := LevenshteinDistance(target, strings.ToLower(candidate)); d <= MaxSuggestionDistance {
			matches = append(matches, scored{candidate, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].distance < matches[j].distance
	})

	out := make([]string, 0, limit)
	for _, m := range matches {
		if len(out) == limit {
			break
		}
		out = append(out, m.value)
	}
	return out
}

// LevenshteinDistance is the minimum number of single-byte insertions,
// deletions or substitutions turning a into b.
func LevenshteinDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
