package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// CLIConfig describes one CLI-backed adapter. Args entries may contain the
// placeholders {model} and {prompt}, substituted per invocation. When no
// {prompt} placeholder appears the prompt is written to stdin.
type CLIConfig struct {
	Command        string
	Args           []string
	Timeout        time.Duration
	MaxRetries     int
	BaseDelay      time.Duration
	MaxPromptChars int
}

// CLI invokes a local command-line agent tool as a subprocess.
type CLI struct {
	name   string
	cfg    CLIConfig
	logger *slog.Logger
}

// NewCLI builds a CLI adapter. Zero timeout defaults to 60s, zero retry
// settings to 2 retries at 1s base delay.
func NewCLI(name string, cfg CLIConfig, logger *slog.Logger) *CLI {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &CLI{name: name, cfg: cfg, logger: logger}
}

func (c *CLI) Name() string { return c.name }

// ValidatePromptLength enforces the configured prompt ceiling, when set.
func (c *CLI) ValidatePromptLength(prompt string) error {
	if c.cfg.MaxPromptChars > 0 && len(prompt) > c.cfg.MaxPromptChars {
		return &PromptTooLongError{Length: len(prompt), Limit: c.cfg.MaxPromptChars}
	}
	return nil
}

// Invoke runs the configured command with substituted arguments and returns
// trimmed stdout.
func (c *CLI) Invoke(ctx context.Context, modelID, prompt string) (string, error) {
	var out string
	err := withRetry(ctx, c.cfg.MaxRetries, c.cfg.BaseDelay, func() error {
		var runErr error
		out, runErr = c.runOnce(ctx, modelID, prompt)
		return runErr
	})
	return out, err
}

func (c *CLI) runOnce(ctx context.Context, modelID, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	args := make([]string, len(c.cfg.Args))
	promptInArgs := false
	for i, a := range c.cfg.Args {
		if strings.Contains(a, "{prompt}") {
			promptInArgs = true
		}
		a = strings.ReplaceAll(a, "{model}", modelID)
		args[i] = strings.ReplaceAll(a, "{prompt}", prompt)
	}

	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	if !promptInArgs {
		cmd.Stdin = strings.NewReader(prompt)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug("adapter: invoking cli", "adapter", c.name, "command", c.cfg.Command, "model", modelID)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %s did not finish within %s", ErrTimeout, c.cfg.Command, c.cfg.Timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			return "", fmt.Errorf("%w: %s exited %d: %s", ErrTransport, c.cfg.Command, exitErr.ExitCode(), msg)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrTransport, c.cfg.Command, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
