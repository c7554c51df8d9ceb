// Package tools executes the evidence tools that participants request via
// TOOL_REQUEST markers: read_file, search_code, list_files and run_command.
// Tool failures are data, not errors; every invocation yields a
// ToolExecutionRecord and never aborts the round.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/counselhq/counsel/internal/model"
)

const (
	// MaxFileSize is enforced against stat results before any read.
	MaxFileSize = 1 << 20
	// binarySniffLen is how much of a file is inspected for null bytes.
	binarySniffLen = 8 << 10
	// MaxSearchLines caps search_code output.
	MaxSearchLines = 100
	// MaxListEntries caps list_files output.
	MaxListEntries = 200

	DefaultTimeout       = 10 * time.Second
	DefaultMaxConcurrent = 4
)

// commandWhitelist is the closed set of binaries run_command may invoke.
var commandWhitelist = map[string]bool{
	"ls": true, "grep": true, "find": true, "cat": true, "head": true, "tail": true,
}

// Config controls the executor. Zero values take the defaults above.
type Config struct {
	WorkDir       string
	Timeout       time.Duration
	MaxConcurrent int
}

// Invocation is one participant's tool request within a round.
type Invocation struct {
	Round       int
	Participant string
	Request     model.ToolRequest
}

// Executor runs tool invocations with per-call timeouts, a bounded worker
// pool, argument-array exec only, and a sanitized environment.
type Executor struct {
	cfg    Config
	logger *slog.Logger
}

// NewExecutor creates an executor rooted at cfg.WorkDir.
func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	return &Executor{cfg: cfg, logger: logger}
}

// ExecuteAll runs every invocation concurrently, bounded by the pool size,
// and returns records sorted by (round, participant, tool name). One failing
// tool never disturbs the others.
func (e *Executor) ExecuteAll(ctx context.Context, invs []Invocation) []model.ToolExecutionRecord {
	records := make([]model.ToolExecutionRecord, len(invs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrent)
	for i, inv := range invs {
		g.Go(func() error {
			records[i] = e.Execute(gctx, inv)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Round != records[j].Round {
			return records[i].Round < records[j].Round
		}
		if records[i].Participant != records[j].Participant {
			return records[i].Participant < records[j].Participant
		}
		return records[i].ToolName < records[j].ToolName
	})
	return records
}

// Execute runs a single invocation with its own timeout.
func (e *Executor) Execute(ctx context.Context, inv Invocation) model.ToolExecutionRecord {
	record := model.ToolExecutionRecord{
		Participant: inv.Participant,
		ToolName:    inv.Request.Name,
		Arguments:   inv.Request.Arguments,
		Round:       inv.Round,
		Timestamp:   time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	output, err := e.dispatch(ctx, inv.Request)
	record.ElapsedMS = time.Since(start).Milliseconds()

	if err != nil {
		record.Error = err.Error()
		e.logger.Warn("tools: execution failed",
			"tool", inv.Request.Name, "participant", inv.Participant,
			"round", inv.Round, "error", err)
		return record
	}
	record.Success = true
	record.Output = output
	return record
}

func (e *Executor) dispatch(ctx context.Context, req model.ToolRequest) (string, error) {
	switch req.Name {
	case model.ToolReadFile:
		var args model.ReadFileArgs
		if err := decodeArgs(req.Arguments, &args); err != nil {
			return "", err
		}
		return e.readFile(ctx, args)
	case model.ToolSearchCode:
		var args model.SearchCodeArgs
		if err := decodeArgs(req.Arguments, &args); err != nil {
			return "", err
		}
		return e.searchCode(ctx, args)
	case model.ToolListFiles:
		var args model.ListFilesArgs
		if err := decodeArgs(req.Arguments, &args); err != nil {
			return "", err
		}
		return e.listFiles(ctx, args)
	case model.ToolRunCommand:
		var args model.RunCommandArgs
		if err := decodeArgs(req.Arguments, &args); err != nil {
			return "", err
		}
		return e.runCommand(ctx, args)
	default:
		return "", fmt.Errorf("tools: unknown tool %q", req.Name)
	}
}

func decodeArgs(raw json.RawMessage, into any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("tools: invalid arguments: %w", err)
	}
	return nil
}

// resolvePath anchors relative paths at the working directory. Absolute
// paths are allowed but logged so operators can audit what models reach for.
func (e *Executor) resolvePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("tools: path is required")
	}
	if filepath.IsAbs(p) {
		e.logger.Info("tools: absolute path requested", "path", p)
		return filepath.Clean(p), nil
	}
	return filepath.Join(e.cfg.WorkDir, p), nil
}

func (e *Executor) readFile(_ context.Context, args model.ReadFileArgs) (string, error) {
	path, err := e.resolvePath(args.Path)
	if err != nil {
		return "", err
	}

	// Size ceiling is checked before any bytes are read.
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("tools: read_file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("tools: read_file: %s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("tools: read_file: %s is %d bytes, limit is %d", path, info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("tools: read_file: %w", err)
	}
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return "", fmt.Errorf("tools: read_file: %s appears to be binary", path)
	}
	return string(data), nil
}

func (e *Executor) searchCode(ctx context.Context, args model.SearchCodeArgs) (string, error) {
	if args.Pattern == "" {
		return "", fmt.Errorf("tools: search_code: pattern is required")
	}
	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		return "", fmt.Errorf("tools: search_code: invalid pattern: %w", err)
	}
	root, err := e.resolvePath(args.Path)
	if err != nil {
		return "", err
	}

	var lines []string
	truncated := false
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > MaxFileSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				if len(lines) >= MaxSearchLines {
					truncated = true
					return filepath.SkipAll
				}
				lines = append(lines, fmt.Sprintf("%s:%d:%s", path, i+1, line))
			}
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("tools: search_code: %w", walkErr)
	}
	out := strings.Join(lines, "\n")
	if truncated {
		out += fmt.Sprintf("\n... truncated at %d matching lines", MaxSearchLines)
	}
	return out, nil
}

func (e *Executor) listFiles(ctx context.Context, args model.ListFilesArgs) (string, error) {
	if args.Pattern == "" {
		return "", fmt.Errorf("tools: list_files: pattern is required")
	}
	root := e.cfg.WorkDir
	if args.Path != "" {
		var err error
		if root, err = e.resolvePath(args.Path); err != nil {
			return "", err
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	matches, err := filepath.Glob(filepath.Join(root, args.Pattern))
	if err != nil {
		return "", fmt.Errorf("tools: list_files: invalid pattern: %w", err)
	}
	sort.Strings(matches)
	if len(matches) > MaxListEntries {
		matches = matches[:MaxListEntries]
	}
	return strings.Join(matches, "\n"), nil
}

func (e *Executor) runCommand(ctx context.Context, args model.RunCommandArgs) (string, error) {
	if !commandWhitelist[args.Command] {
		return "", fmt.Errorf("tools: run_command: %q is not whitelisted", args.Command)
	}

	// Argument array only, no shell, environment reduced to PATH.
	cmd := exec.CommandContext(ctx, args.Command, args.Args...)
	cmd.Dir = e.cfg.WorkDir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("tools: run_command: %s timed out", args.Command)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("tools: run_command: %s failed: %s", args.Command, msg)
	}
	return stdout.String(), nil
}
