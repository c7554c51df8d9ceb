package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhq/counsel/internal/model"
)

func newExecutor(t *testing.T, dir string) *Executor {
	t.Helper()
	return NewExecutor(Config{WorkDir: dir}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func request(name string, args any) model.ToolRequest {
	raw, _ := json.Marshal(args)
	return model.ToolRequest{Name: name, Arguments: raw}
}

func invoke(t *testing.T, e *Executor, name string, args any) model.ToolExecutionRecord {
	t.Helper()
	return e.Execute(context.Background(), Invocation{
		Round:       1,
		Participant: "claude@cli",
		Request:     request(name, args),
	})
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cfg.yaml"), []byte("timeout: 30\n"), 0o644))
	e := newExecutor(t, dir)

	rec := invoke(t, e, model.ToolReadFile, model.ReadFileArgs{Path: "cfg.yaml"})
	assert.True(t, rec.Success)
	assert.Equal(t, "timeout: 30\n", rec.Output)
	assert.GreaterOrEqual(t, rec.ElapsedMS, int64(0))
}

func TestReadFileMissing(t *testing.T) {
	e := newExecutor(t, t.TempDir())
	rec := invoke(t, e, model.ToolReadFile, model.ReadFileArgs{Path: "nope.txt"})
	assert.False(t, rec.Success)
	assert.NotEmpty(t, rec.Error)
	assert.Empty(t, rec.Output)
}

func TestReadFileSizeCeiling(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, MaxFileSize+1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), big, 0o644))
	e := newExecutor(t, dir)

	rec := invoke(t, e, model.ToolReadFile, model.ReadFileArgs{Path: "big.txt"})
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "limit")
}

func TestReadFileBinaryDetection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.bin"), []byte("abc\x00def"), 0o644))
	e := newExecutor(t, dir)

	rec := invoke(t, e, model.ToolReadFile, model.ReadFileArgs{Path: "blob.bin"})
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "binary")
}

func TestReadFileMissingPath(t *testing.T) {
	e := newExecutor(t, t.TempDir())
	rec := invoke(t, e, model.ToolReadFile, model.ReadFileArgs{})
	assert.False(t, rec.Success)
}

func TestSearchCode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\nfunc Handler() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package b\nvar handler = 1\n"), 0o644))
	e := newExecutor(t, dir)

	rec := invoke(t, e, model.ToolSearchCode, model.SearchCodeArgs{Pattern: "func Handler", Path: "."})
	require.True(t, rec.Success, rec.Error)
	assert.Contains(t, rec.Output, "a.go:2:func Handler() {}")
	assert.NotContains(t, rec.Output, "b.go")
}

func TestSearchCodeInvalidPattern(t *testing.T) {
	e := newExecutor(t, t.TempDir())
	rec := invoke(t, e, model.ToolSearchCode, model.SearchCodeArgs{Pattern: "([", Path: "."})
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "pattern")
}

func TestSearchCodeTruncation(t *testing.T) {
	dir := t.TempDir()
	lines := strings.Repeat("needle here\n", MaxSearchLines+50)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "many.txt"), []byte(lines), 0o644))
	e := newExecutor(t, dir)

	rec := invoke(t, e, model.ToolSearchCode, model.SearchCodeArgs{Pattern: "needle", Path: "."})
	require.True(t, rec.Success, rec.Error)
	assert.Contains(t, rec.Output, "truncated at 100 matching lines")
	matchLines := strings.Count(rec.Output, "needle here")
	assert.Equal(t, MaxSearchLines, matchLines)
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zeta.go", "alpha.go", "readme.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	e := newExecutor(t, dir)

	rec := invoke(t, e, model.ToolListFiles, model.ListFilesArgs{Pattern: "*.go"})
	require.True(t, rec.Success, rec.Error)
	paths := strings.Split(rec.Output, "\n")
	require.Len(t, paths, 2)
	assert.True(t, strings.HasSuffix(paths[0], "alpha.go"))
	assert.True(t, strings.HasSuffix(paths[1], "zeta.go"))
}

func TestListFilesMissingPattern(t *testing.T) {
	e := newExecutor(t, t.TempDir())
	rec := invoke(t, e, model.ToolListFiles, model.ListFilesArgs{})
	assert.False(t, rec.Success)
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello\n"), 0o644))
	e := newExecutor(t, dir)

	rec := invoke(t, e, model.ToolRunCommand, model.RunCommandArgs{Command: "cat", Args: []string{"hello.txt"}})
	require.True(t, rec.Success, rec.Error)
	assert.Equal(t, "hello\n", rec.Output)
}

func TestRunCommandNotWhitelisted(t *testing.T) {
	e := newExecutor(t, t.TempDir())
	for _, cmd := range []string{"rm", "bash", "curl", "sh"} {
		rec := invoke(t, e, model.ToolRunCommand, model.RunCommandArgs{Command: cmd})
		assert.False(t, rec.Success, cmd)
		assert.Contains(t, rec.Error, "whitelisted")
	}
}

func TestRunCommandNonZeroExit(t *testing.T) {
	e := newExecutor(t, t.TempDir())
	rec := invoke(t, e, model.ToolRunCommand, model.RunCommandArgs{Command: "cat", Args: []string{"does-not-exist"}})
	assert.False(t, rec.Success)
	assert.NotEmpty(t, rec.Error)
}

func TestUnknownToolFails(t *testing.T) {
	e := newExecutor(t, t.TempDir())
	rec := invoke(t, e, "delete_everything", map[string]string{})
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "unknown tool")
}

func TestMalformedArgumentsFail(t *testing.T) {
	e := newExecutor(t, t.TempDir())
	rec := e.Execute(context.Background(), Invocation{
		Round:       1,
		Participant: "p",
		Request:     model.ToolRequest{Name: model.ToolReadFile, Arguments: json.RawMessage(`{"path": 42}`)},
	})
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "invalid arguments")
}

func TestExecuteAllOrderingAndIsolation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.txt"), []byte("fine"), 0o644))
	e := newExecutor(t, dir)

	invs := []Invocation{
		{Round: 1, Participant: "zed@cli", Request: request(model.ToolReadFile, model.ReadFileArgs{Path: "ok.txt"})},
		{Round: 1, Participant: "amy@http", Request: request(model.ToolReadFile, model.ReadFileArgs{Path: "missing.txt"})},
		{Round: 1, Participant: "amy@http", Request: request(model.ToolListFiles, model.ListFilesArgs{Pattern: "*.txt"})},
	}
	records := e.ExecuteAll(context.Background(), invs)
	require.Len(t, records, 3)

	// Sorted by (round, participant, tool name); failures sit alongside
	// successes without disturbing them.
	assert.Equal(t, "amy@http", records[0].Participant)
	assert.Equal(t, model.ToolListFiles, records[0].ToolName)
	assert.Equal(t, "amy@http", records[1].Participant)
	assert.Equal(t, model.ToolReadFile, records[1].ToolName)
	assert.False(t, records[1].Success)
	assert.Equal(t, "zed@cli", records[2].Participant)
	assert.True(t, records[2].Success)
}

func TestRenderPreamble(t *testing.T) {
	records := []model.ToolExecutionRecord{
		{
			Participant: "claude@cli",
			ToolName:    model.ToolReadFile,
			Arguments:   json.RawMessage(`{"path":"cfg.yaml"}`),
			Success:     true,
			Output:      "timeout: 30",
		},
		{
			Participant: "gpt@http",
			ToolName:    model.ToolRunCommand,
			Arguments:   json.RawMessage(`{"command":"rm"}`),
			Success:     false,
			Error:       `tools: run_command: "rm" is not whitelisted`,
		},
	}
	out := RenderPreamble(records, 0)
	assert.Contains(t, out, "claude@cli requested read_file")
	assert.Contains(t, out, `{"path":"cfg.yaml"}`)
	assert.Contains(t, out, "timeout: 30")
	assert.Contains(t, out, "gpt@http requested run_command")
	assert.Contains(t, out, "not whitelisted")
}

func TestRenderPreambleEmpty(t *testing.T) {
	assert.Empty(t, RenderPreamble(nil, 0))
}

func TestRenderPreambleTruncatesPerRecord(t *testing.T) {
	records := []model.ToolExecutionRecord{{
		Participant: "p",
		ToolName:    model.ToolReadFile,
		Arguments:   json.RawMessage(`{}`),
		Success:     true,
		Output:      strings.Repeat("x", DefaultPreambleCap+100),
	}}
	out := RenderPreamble(records, 0)
	assert.Contains(t, out, "[truncated]")
	assert.Less(t, len(out), DefaultPreambleCap+500)
}
