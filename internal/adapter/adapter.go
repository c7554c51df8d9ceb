// Package adapter abstracts LLM back-end invocation. Two concrete adapters
// exist: CLI subprocess wrappers around local agent tools and an HTTP
// adapter for OpenAI-compatible APIs (OpenRouter, Ollama, LM Studio).
// Failures map onto a small sentinel taxonomy so the orchestrator can treat
// them uniformly.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Failure taxonomy. Every Invoke error wraps exactly one of these.
var (
	ErrTimeout      = errors.New("adapter: timeout")
	ErrTransport    = errors.New("adapter: transport error")
	ErrAuth         = errors.New("adapter: auth error")
	ErrInvalidModel = errors.New("adapter: invalid model")
	ErrRateLimited  = errors.New("adapter: rate limited")
)

// Adapter invokes one LLM back-end. Invoke returns the model's raw response
// text with no structural wrapping.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, modelID, prompt string) (string, error)
}

// PromptLimiter is implemented by adapters with a known prompt ceiling. The
// orchestrator checks it before Invoke when present.
type PromptLimiter interface {
	ValidatePromptLength(prompt string) error
}

// PromptTooLongError reports a prompt over an adapter's limit.
type PromptTooLongError struct {
	Length int
	Limit  int
}

func (e *PromptTooLongError) Error() string {
	return fmt.Sprintf("adapter: prompt is %d chars, limit is %d", e.Length, e.Limit)
}

// isTransient reports whether an error warrants a retry: transport failures
// and rate limits, never auth or unknown-model errors.
func isTransient(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimited)
}

// withRetry executes fn, retrying transient failures with jittered
// exponential backoff. Timeouts and permanent errors return immediately.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay)))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}
