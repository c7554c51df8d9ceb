package similarity

import (
	"context"
	"math"
	"strings"
	"sync"
	"unicode"
)

// TFIDF scores texts by cosine similarity in TF-IDF space. The corpus is
// built lazily from every text the backend has seen, so inverse document
// frequencies sharpen as more deliberations flow through. An empty
// vocabulary yields 0.
type TFIDF struct {
	mu       sync.Mutex
	docFreq  map[string]int
	docCount int
	seen     map[string]bool
}

// NewTFIDF creates a TF-IDF backend with an empty corpus.
func NewTFIDF() *TFIDF {
	return &TFIDF{
		docFreq: make(map[string]int),
		seen:    make(map[string]bool),
	}
}

// Name implements Backend.
func (t *TFIDF) Name() string { return "tfidf" }

// Score implements Backend.
func (t *TFIDF) Score(_ context.Context, a, b string) (float64, error) {
	tokensA, tokensB := tokenList(a), tokenList(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0, nil
	}

	t.mu.Lock()
	t.observe(a, tokensA)
	t.observe(b, tokensB)
	vecA := t.vectorize(tokensA)
	vecB := t.vectorize(tokensB)
	t.mu.Unlock()

	// Align the two sparse vectors over the union vocabulary.
	vocab := make(map[string]int)
	for term := range vecA {
		if _, ok := vocab[term]; !ok {
			vocab[term] = len(vocab)
		}
	}
	for term := range vecB {
		if _, ok := vocab[term]; !ok {
			vocab[term] = len(vocab)
		}
	}
	if len(vocab) == 0 {
		return 0, nil
	}
	dense := func(vec map[string]float64) []float64 {
		out := make([]float64, len(vocab))
		for term, w := range vec {
			out[vocab[term]] = w
		}
		return out
	}
	return clamp(cosine(dense(vecA), dense(vecB))), nil
}

// observe adds a document to the corpus once. Caller holds the mutex.
func (t *TFIDF) observe(text string, tokens []string) {
	if t.seen[text] {
		return
	}
	t.seen[text] = true
	t.docCount++
	unique := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		unique[tok] = true
	}
	for tok := range unique {
		t.docFreq[tok]++
	}
}

// vectorize computes smoothed tf-idf weights. Caller holds the mutex.
func (t *TFIDF) vectorize(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	vec := make(map[string]float64, len(tf))
	for term, count := range tf {
		idf := math.Log(float64(1+t.docCount)/float64(1+t.docFreq[term])) + 1
		vec[term] = (count / float64(len(tokens))) * idf
	}
	return vec
}

// tokenList splits like tokenize but preserves duplicates, which term
// frequency needs.
func tokenList(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
