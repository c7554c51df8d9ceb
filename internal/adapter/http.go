package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// HTTPConfig describes an OpenAI-compatible chat completion endpoint.
// OpenRouter, Ollama and LM Studio all speak this dialect.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// HTTP invokes chat completion APIs through go-openai.
type HTTP struct {
	name   string
	cfg    HTTPConfig
	client *openai.Client
	logger *slog.Logger
}

// NewHTTP builds an HTTP adapter. An empty BaseURL targets the OpenAI API.
func NewHTTP(name string, cfg HTTPConfig, logger *slog.Logger) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &HTTP{name: name, cfg: cfg, client: openai.NewClientWithConfig(oc), logger: logger}
}

func (h *HTTP) Name() string { return h.name }

// Invoke sends the prompt as a single user message and returns the first
// choice's content unmodified.
func (h *HTTP) Invoke(ctx context.Context, modelID, prompt string) (string, error) {
	var out string
	err := withRetry(ctx, h.cfg.MaxRetries, h.cfg.BaseDelay, func() error {
		var callErr error
		out, callErr = h.callOnce(ctx, modelID, prompt)
		return callErr
	})
	return out, err
}

func (h *HTTP) callOnce(ctx context.Context, modelID, prompt string) (string, error) {
	h.logger.Debug("adapter: invoking http", "adapter", h.name, "model", modelID)
	resp, err := h.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyHTTPError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices from %s", ErrTransport, h.name)
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyHTTPError maps go-openai errors onto the sentinel taxonomy:
// 401/403 auth, 404 invalid model, 429 rate limited, 5xx and network errors
// transport, context expiry timeout.
func classifyHTTPError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAuth, err)
		case apiErr.HTTPStatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrInvalidModel, err)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrTransport, err)
		default:
			// Remaining 4xx are permanent and fail fast without a retry.
			return fmt.Errorf("adapter: api error: %w", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
