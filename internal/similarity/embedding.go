package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmbeddingProvider generates dense vectors from text.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Version identifies the model and vector space; cached embeddings are
	// keyed on it.
	Version() string
}

// EmbeddingBackend scores texts by cosine similarity of their embeddings.
// Highest-preference backend; requires a reachable provider.
type EmbeddingBackend struct {
	provider EmbeddingProvider
}

// NewEmbeddingBackend wraps a provider as a similarity backend.
func NewEmbeddingBackend(provider EmbeddingProvider) *EmbeddingBackend {
	return &EmbeddingBackend{provider: provider}
}

// Name implements Backend.
func (e *EmbeddingBackend) Name() string { return "embedding/" + e.provider.Version() }

// Version implements Embedder.
func (e *EmbeddingBackend) Version() string { return e.provider.Version() }

// Embed implements Embedder.
func (e *EmbeddingBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.provider.Embed(ctx, text)
}

// Score implements Backend.
func (e *EmbeddingBackend) Score(ctx context.Context, a, b string) (float64, error) {
	va, err := e.provider.Embed(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("similarity: embed: %w", err)
	}
	vb, err := e.provider.Embed(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("similarity: embed: %w", err)
	}
	return CosineSimilarity(va, vb), nil
}

// probe verifies the provider is reachable with a short deadline.
func (e *EmbeddingBackend) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.provider.Embed(probeCtx, "probe")
	return err
}

// CosineSimilarity returns the clamped cosine similarity of two float32
// vectors. Mismatched or empty vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	fa := make([]float64, len(a))
	fb := make([]float64, len(b))
	for i := range a {
		fa[i], fb[i] = float64(a[i]), float64(b[i])
	}
	return clamp(cosine(fa, fb))
}

// OllamaProvider generates embeddings using a local Ollama server. Keeps
// similarity scoring on-premises with no external API costs.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaProvider creates a provider that calls Ollama's embedding API.
// Model should be an embedding model like "mxbai-embed-large" or
// "nomic-embed-text".
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Version implements EmbeddingProvider.
func (p *OllamaProvider) Version() string { return "ollama/" + p.model }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements EmbeddingProvider.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaEmbedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("ollama: unmarshal response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding for model %s", p.model)
	}
	return result.Embedding, nil
}
