package marker

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParser() *Parser {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestParseVote(t *testing.T) {
	p := newParser()

	t.Run("basic", func(t *testing.T) {
		v := p.ParseVote(`I think option A is best.
VOTE: {"option": "A", "confidence": 0.9, "rationale": "simplest"}`)
		require.NotNil(t, v)
		assert.Equal(t, "A", v.Option)
		assert.Equal(t, 0.9, v.Confidence)
		assert.Equal(t, "simplest", v.Rationale)
		assert.True(t, v.ContinueDebate)
	})

	t.Run("last marker wins", func(t *testing.T) {
		v := p.ParseVote(`VOTE: {"option": "A", "confidence": 0.5, "rationale": "x"}
On reflection I changed my mind.
VOTE: {"option": "B", "confidence": 0.8, "rationale": "y"}`)
		require.NotNil(t, v)
		assert.Equal(t, "B", v.Option)
	})

	t.Run("continue_debate false", func(t *testing.T) {
		v := p.ParseVote(`VOTE: {"option": "A", "confidence": 0.9, "rationale": "done", "continue_debate": false}`)
		require.NotNil(t, v)
		assert.False(t, v.ContinueDebate)
	})

	t.Run("confidence clamped", func(t *testing.T) {
		v := p.ParseVote(`VOTE: {"option": "A", "confidence": 1.7, "rationale": "x"}`)
		require.NotNil(t, v)
		assert.Equal(t, 1.0, v.Confidence)

		v = p.ParseVote(`VOTE: {"option": "A", "confidence": -0.2, "rationale": "x"}`)
		require.NotNil(t, v)
		assert.Equal(t, 0.0, v.Confidence)
	})

	t.Run("empty option rejected", func(t *testing.T) {
		assert.Nil(t, p.ParseVote(`VOTE: {"option": "   ", "confidence": 0.9, "rationale": "x"}`))
	})

	t.Run("missing confidence rejected", func(t *testing.T) {
		assert.Nil(t, p.ParseVote(`VOTE: {"option": "A", "rationale": "x"}`))
	})

	t.Run("missing rationale rejected", func(t *testing.T) {
		assert.Nil(t, p.ParseVote(`VOTE: {"option": "A", "confidence": 0.9}`))
		assert.Nil(t, p.ParseVote(`VOTE: {"option": "A", "confidence": 0.9, "rationale": "  "}`))
	})

	t.Run("incomplete revision falls back to earlier vote", func(t *testing.T) {
		v := p.ParseVote(`VOTE: {"option": "A", "confidence": 0.7, "rationale": "measured"}
Actually, wait.
VOTE: {"option": "B"}`)
		require.NotNil(t, v)
		assert.Equal(t, "A", v.Option)
		assert.Equal(t, 0.7, v.Confidence)
	})

	t.Run("no marker", func(t *testing.T) {
		assert.Nil(t, p.ParseVote("Just prose, no structured vote here."))
	})

	t.Run("malformed json", func(t *testing.T) {
		assert.Nil(t, p.ParseVote(`VOTE: {option: A}`))
	})

	t.Run("fenced json", func(t *testing.T) {
		v := p.ParseVote("VOTE: `{\"option\": \"A\", \"confidence\": 0.9, \"rationale\": \"x\"}`")
		require.NotNil(t, v)
		assert.Equal(t, "A", v.Option)
	})

	t.Run("brace inside string", func(t *testing.T) {
		v := p.ParseVote(`VOTE: {"option": "use {} literals", "confidence": 0.6, "rationale": "a } in prose"}`)
		require.NotNil(t, v)
		assert.Equal(t, "use {} literals", v.Option)
		assert.Equal(t, "a } in prose", v.Rationale)
	})
}

func TestParseToolRequests(t *testing.T) {
	p := newParser()

	t.Run("multiple in order", func(t *testing.T) {
		reqs := p.ParseToolRequests(`Let me check the config first.
TOOL_REQUEST: {"name": "read_file", "arguments": {"path": "/cfg.yaml"}}
And the tests:
TOOL_REQUEST: {"name": "search_code", "arguments": {"pattern": "TestMain", "path": "."}}`)
		require.Len(t, reqs, 2)
		assert.Equal(t, "read_file", reqs[0].Name)
		assert.Equal(t, "search_code", reqs[1].Name)
		assert.JSONEq(t, `{"path": "/cfg.yaml"}`, string(reqs[0].Arguments))
	})

	t.Run("malformed skipped, valid kept", func(t *testing.T) {
		reqs := p.ParseToolRequests(`TOOL_REQUEST: {broken
TOOL_REQUEST: {"name": "list_files", "arguments": {"pattern": "*.go"}}`)
		require.Len(t, reqs, 1)
		assert.Equal(t, "list_files", reqs[0].Name)
	})

	t.Run("unknown tool skipped", func(t *testing.T) {
		reqs := p.ParseToolRequests(`TOOL_REQUEST: {"name": "write_file", "arguments": {"path": "x"}}`)
		assert.Empty(t, reqs)
	})

	t.Run("nested arguments survive", func(t *testing.T) {
		reqs := p.ParseToolRequests(`TOOL_REQUEST: {"name": "run_command", "arguments": {"command": "grep", "args": ["-r", "{}"]}}`)
		require.Len(t, reqs, 1)
		assert.JSONEq(t, `{"command": "grep", "args": ["-r", "{}"]}`, string(reqs[0].Arguments))
	})

	t.Run("none", func(t *testing.T) {
		assert.Empty(t, p.ParseToolRequests("no tools needed"))
	})
}

func TestParseIdempotent(t *testing.T) {
	p := newParser()
	text := `VOTE: {"option": "A", "confidence": 0.9, "rationale": "x"}
TOOL_REQUEST: {"name": "read_file", "arguments": {"path": "a"}}
TOOL_REQUEST: {"name": "list_files", "arguments": {"pattern": "*"}}`

	v1, v2 := p.ParseVote(text), p.ParseVote(text)
	assert.Equal(t, v1, v2)
	r1, r2 := p.ParseToolRequests(text), p.ParseToolRequests(text)
	assert.Equal(t, r1, r2)
}
