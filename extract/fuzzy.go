package extract

import (
	"sort"
	"strings"
)

// Closest returns the n vocabulary entries with the smallest edit distance
// to target, case-insensitive
func Closest(target string, vocab []string, n int) []string {
	type scored struct {
		name     string
		distance int
	}

	lower := strings.ToLower(target)
	ranked := make([]scored, 0, len(vocab))
	for _, name := range vocab {
		ranked = append(ranked, scored{
			name:     name,
			distance: levenshtein(lower, strings.ToLower(name)),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].distance < ranked[j].distance
	})

	if n > len(ranked) {
		n = len(ranked)
	}

	out := make([]string, 0, n)
	for _, s := range ranked[:n] {
		out = append(out, s.name)
	}

	return out
}

// iterative two-row Levenshtein
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}

	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}

			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}

		copy(prev, curr)
	}

	return prev[len(rb)]
}

func min(a, b int) int {
	if a < b {
		return a
	}

	return b
}
