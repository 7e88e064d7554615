// Package match scores name similarity between LMS group names and CRM account
// names. Scores are in [0,1]; 1.0 means the normalized names are identical.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s, strips diacritics and removes every non-alphanumeric
// character. "Café, Inc." and "cafe inc" normalize to the same string.
func Normalize(s string) string {
	s = stripDiacritics(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripDiacritics removes combining marks after NFD decomposition, so accented
// characters compare equal to their base form.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Similarity scores two names:
//   - 1.0 when the normalized strings are equal
//   - 0.0 when either normalized string is empty
//   - len(shorter)/len(longer) when one normalized string contains the other
//   - word-set overlap (|intersection| / |union|) otherwise, tokenizing the
//     raw strings on whitespace before normalizing each token
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0.0
	}
	if na == nb {
		return 1.0
	}

	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		shorter, longer := len(na), len(nb)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		return float64(shorter) / float64(longer)
	}

	return wordOverlap(a, b)
}

func wordOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		if n := Normalize(w); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// SimilarityWithPrefix scores name against candidate twice, once as-is and once
// with the group naming-convention prefix stripped from name, and returns the
// max. Groups are conventionally named "<prefix><account name>".
func SimilarityWithPrefix(name, candidate, prefix string) float64 {
	score := Similarity(name, candidate)
	if prefix != "" && strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix)) {
		stripped := name[len(prefix):]
		if s := Similarity(stripped, candidate); s > score {
			score = s
		}
	}
	return score
}
