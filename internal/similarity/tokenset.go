package similarity

import (
	"context"
	"strings"
	"unicode"
)

// TokenSet scores texts by Jaccard overlap of their token sets. Tokens are
// lowercased and split on non-alphanumeric runs. Zero dependencies; the
// backend of last resort.
type TokenSet struct{}

// NewTokenSet creates a token-overlap backend.
func NewTokenSet() *TokenSet { return &TokenSet{} }

// Name implements Backend.
func (t *TokenSet) Name() string { return "tokenset" }

// Score implements Backend. Empty token sets yield 0; identical sets yield 1.
func (t *TokenSet) Score(_ context.Context, a, b string) (float64, error) {
	setA, setB := tokenize(a), tokenize(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0, nil
	}
	var intersection int
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return clamp(float64(intersection) / float64(union)), nil
}

func tokenize(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[tok] = true
	}
	return set
}
