// Package similarity scores semantic closeness between two texts in [0,1].
//
// Three backends are provided, in descending preference: dense embeddings
// (via an embedding provider such as Ollama), TF-IDF cosine over a lazily
// built corpus, and token-set overlap. Selection happens once at startup;
// there is no per-call fallback.
package similarity

import (
	"context"
	"log/slog"
	"math"
)

// Backend scores semantic similarity between two texts.
type Backend interface {
	// Score returns a similarity in [0,1]. Implementations clamp before
	// returning; callers clamp again before persisting.
	Score(ctx context.Context, a, b string) (float64, error)

	// Name identifies the backend in logs and measurement records.
	Name() string
}

// Embedder is implemented by backends that expose raw vectors, allowing
// callers to cache embeddings keyed by (text, version).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Version identifies the vector space. A version change invalidates
	// any cached embeddings.
	Version() string
}

// Select returns a backend by preference. With name "auto" it picks the
// highest-preference backend whose dependencies initialize without error:
// embeddings, then TF-IDF, then token-set overlap. provider may be nil, in
// which case the dense backend is skipped. The choice is logged once; all
// subsequent calls use the selected backend.
func Select(ctx context.Context, name string, provider EmbeddingProvider, logger *slog.Logger) Backend {
	var b Backend
	switch name {
	case "tfidf":
		b = NewTFIDF()
	case "tokenset":
		b = NewTokenSet()
	case "embedding", "auto", "":
		if provider != nil {
			eb := NewEmbeddingBackend(provider)
			if err := eb.probe(ctx); err != nil {
				logger.Warn("similarity: embedding backend unavailable, falling back", "error", err)
			} else {
				b = eb
			}
		}
		if b == nil {
			b = NewTFIDF()
		}
	default:
		logger.Warn("similarity: unknown backend name, using tfidf", "name", name)
		b = NewTFIDF()
	}
	logger.Info("similarity: selected backend", "backend", b.Name())
	return b
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
