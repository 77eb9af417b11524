package scrape

import (
	"strings"
	"unicode"

	"github.com/sells-group/lead-scanner/internal/model"
)

// DedupeKey is the identity of a candidate across sources: its name
// lowercased with whitespace removed, followed by its phone digits.
func DedupeKey(c model.Candidate) string {
	return normalizedName(c.Name) + phoneDigits(c.Phone)
}

func normalizedName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, name)
}

// Dedupe keeps the first candidate seen for each DedupeKey, in input
// order. Candidates whose normalized name is three characters or shorter
// are dropped.
func Dedupe(in []model.Candidate) []model.Candidate {
	seen := make(map[string]struct{}, len(in))
	out := make([]model.Candidate, 0, len(in))
	for _, c := range in {
		if len([]rune(normalizedName(c.Name))) <= 3 {
			continue
		}
		key := DedupeKey(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
