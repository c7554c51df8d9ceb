// Package marker extracts machine-readable markers embedded in free-form
// model responses. Models signal structured intent with "VOTE:{...}" and
// "TOOL_REQUEST:{...}" lines; everything around the markers is prose and is
// ignored.
//
// Parsing never returns an error to callers: malformed markers are skipped
// and logged so a sloppy model cannot break a round.
package marker

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/counselhq/counsel/internal/model"
)

const (
	votePrefix = "VOTE:"
	toolPrefix = "TOOL_REQUEST:"
)

// Parser extracts votes and tool requests from response text.
type Parser struct {
	logger *slog.Logger
}

// New creates a marker parser.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// ParseVote returns the vote from the last well-formed VOTE marker in text,
// or nil if none parses. A marker missing option, confidence or rationale is
// malformed and skipped. Later well-formed markers supersede earlier ones so
// a model can revise its vote within a single response.
func (p *Parser) ParseVote(text string) *model.Vote {
	var vote *model.Vote
	for _, raw := range extractObjects(text, votePrefix) {
		var parsed struct {
			Option         string   `json:"option"`
			Confidence     *float64 `json:"confidence"`
			Rationale      string   `json:"rationale"`
			ContinueDebate *bool    `json:"continue_debate"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			p.logger.Warn("marker: skipping malformed vote", "error", err)
			continue
		}
		if strings.TrimSpace(parsed.Option) == "" {
			p.logger.Warn("marker: skipping vote with empty option")
			continue
		}
		if parsed.Confidence == nil {
			p.logger.Warn("marker: skipping vote without confidence")
			continue
		}
		if strings.TrimSpace(parsed.Rationale) == "" {
			p.logger.Warn("marker: skipping vote without rationale")
			continue
		}
		v := model.Vote{
			Option:         strings.TrimSpace(parsed.Option),
			Confidence:     model.ClampScore(*parsed.Confidence),
			Rationale:      parsed.Rationale,
			ContinueDebate: true,
		}
		if parsed.ContinueDebate != nil {
			v.ContinueDebate = *parsed.ContinueDebate
		}
		vote = &v
	}
	return vote
}

// ParseToolRequests returns every well-formed TOOL_REQUEST marker in document
// order. Malformed entries and unknown tool names are skipped with a warning.
func (p *Parser) ParseToolRequests(text string) []model.ToolRequest {
	var requests []model.ToolRequest
	for _, raw := range extractObjects(text, toolPrefix) {
		var req model.ToolRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			p.logger.Warn("marker: skipping malformed tool request", "error", err)
			continue
		}
		if !model.KnownTool(req.Name) {
			p.logger.Warn("marker: skipping unknown tool", "tool", req.Name)
			continue
		}
		if len(req.Arguments) == 0 {
			req.Arguments = json.RawMessage("{}")
		}
		requests = append(requests, req)
	}
	return requests
}

// extractObjects finds each occurrence of prefix and decodes one JSON object
// starting at the first '{' after it. Decoding a balanced object (rather than
// a regex capture) keeps nested braces and strings containing '}' intact.
// Whitespace and markdown fence characters between the prefix and the object
// are tolerated.
func extractObjects(text, prefix string) []json.RawMessage {
	var objects []json.RawMessage
	for i := 0; i+len(prefix) <= len(text); {
		idx := strings.Index(text[i:], prefix)
		if idx < 0 {
			break
		}
		start := i + idx + len(prefix)
		j := start
		for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '`' || text[j] == '\r' || text[j] == '\n') {
			j++
		}
		if j >= len(text) || text[j] != '{' {
			i = start
			continue
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(text[j:])))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			i = start
			continue
		}
		objects = append(objects, raw)
		i = j + int(dec.InputOffset())
	}
	return objects
}
