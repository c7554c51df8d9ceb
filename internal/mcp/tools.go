package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/counselhq/counsel/internal/deliberation"
	"github.com/counselhq/counsel/internal/model"
)

func (s *Server) registerTools() {
	// deliberate — run a multi-model deliberation.
	s.mcpServer.AddTool(
		mcplib.NewTool("deliberate",
			mcplib.WithDescription(`Run a structured deliberation across multiple AI models and return their consensus.

WHEN TO USE: For decisions that benefit from multiple independent perspectives —
architecture choices, trade-off analysis, code review disputes, risk assessment.

MODES:
- quick: one round, every model answers once. Fast opinion poll.
- conference: multi-round debate. Models see each other's arguments, can request
  evidence from the working directory, and vote. Rounds end early once positions
  converge or the models agree further debate will not change anything.

WHAT YOU GET BACK: the debate (recent rounds), the vote tally and winner,
convergence analysis, and a reference to the full transcript on disk.`),
			mcplib.WithString("question",
				mcplib.Description("The question to deliberate. Be specific; include constraints."),
				mcplib.Required(),
			),
			mcplib.WithArray("participants",
				mcplib.Description(`Models taking part, at least two. Each entry is an object: {"adapter": "<configured adapter name>", "model": "<model id>", "stance": "for|against|neutral"}. Stance is optional and defaults to neutral.`),
				mcplib.Required(),
				mcplib.Items(map[string]any{"type": "object"}),
			),
			mcplib.WithString("mode",
				mcplib.Description("quick (single round) or conference (multi-round debate). Defaults to quick."),
			),
			mcplib.WithNumber("rounds",
				mcplib.Description("Number of debate rounds for conference mode."),
				mcplib.Min(1),
			),
			mcplib.WithString("context",
				mcplib.Description("Optional background the models should consider."),
			),
			mcplib.WithString("working_directory",
				mcplib.Description("Directory the models may gather evidence from with read-only tools."),
			),
		),
		s.handleDeliberate,
	)

	// counsel_search_similar — semantic search over past deliberations.
	s.mcpServer.AddTool(
		mcplib.NewTool("counsel_search_similar",
			mcplib.WithDescription("Search past deliberations by semantic similarity to a question. Use before deliberating to find precedents."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("question",
				mcplib.Description("Natural language question to match against past deliberations"),
				mcplib.Required(),
			),
			mcplib.WithNumber("min_score",
				mcplib.Description("Minimum similarity score to include"),
				mcplib.Min(0),
				mcplib.Max(1),
				mcplib.DefaultNumber(0.40),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleSearchSimilar,
	)

	// counsel_find_contradictions — same question, different outcomes.
	s.mcpServer.AddTool(
		mcplib.NewTool("counsel_find_contradictions",
			mcplib.WithDescription("Find groups of past deliberations that answered the same question with different winning options."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum contradiction groups to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleFindContradictions,
	)

	// counsel_trace_evolution — how an answer changed over time.
	s.mcpServer.AddTool(
		mcplib.NewTool("counsel_trace_evolution",
			mcplib.WithDescription("Trace how deliberations on a question evolved over time: the closest past decision and its related decisions, oldest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("question",
				mcplib.Description("The question whose decision history to trace"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum steps to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleTraceEvolution,
	)

	// counsel_analyze_patterns — consensus statistics across the store.
	s.mcpServer.AddTool(
		mcplib.NewTool("counsel_analyze_patterns",
			mcplib.WithDescription("Aggregate statistics over stored deliberations: consensus rate, outcome breakdown, most active participants."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
		),
		s.handleAnalyzePatterns,
	)
}

func (s *Server) handleDeliberate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	question := request.GetString("question", "")
	if question == "" {
		return errorResult("validation_error", "question is required"), nil
	}

	participants, err := parseParticipants(request.GetArguments()["participants"])
	if err != nil {
		return errorResult("validation_error", err.Error()), nil
	}

	req := &model.DeliberateRequest{
		Question:         question,
		Participants:     participants,
		Mode:             model.Mode(request.GetString("mode", "")),
		Rounds:           request.GetInt("rounds", 0),
		Context:          request.GetString("context", ""),
		WorkingDirectory: request.GetString("working_directory", ""),
	}

	result, err := s.engine.Deliberate(ctx, req)
	if err != nil {
		return errorResult("validation_error", err.Error()), nil
	}

	deliberation.TruncateForTransport(result, s.cfg.MaxRoundsInResponse)
	return jsonResult(result), nil
}

// parseParticipants converts the raw tool argument into typed participants.
func parseParticipants(raw any) ([]model.Participant, error) {
	if raw == nil {
		return nil, fmt.Errorf("participants is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid participants: %v", err)
	}
	var participants []model.Participant
	if err := json.Unmarshal(data, &participants); err != nil {
		return nil, fmt.Errorf("invalid participants: expected an array of {adapter, model, stance} objects: %v", err)
	}
	return participants, nil
}

func (s *Server) handleSearchSimilar(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.query == nil {
		return errorResult("unavailable", "the decision graph is disabled"), nil
	}
	question := request.GetString("question", "")
	if question == "" {
		return errorResult("validation_error", "question is required"), nil
	}
	minScore := request.GetFloat("min_score", 0.40)
	limit := request.GetInt("limit", 5)

	results, err := s.query.SearchSimilar(ctx, question, minScore, limit)
	if err != nil {
		return errorResult("query_error", fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"results": results,
		"total":   len(results),
	}), nil
}

func (s *Server) handleFindContradictions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.query == nil {
		return errorResult("unavailable", "the decision graph is disabled"), nil
	}
	limit := request.GetInt("limit", 10)

	contradictions, err := s.query.FindContradictions(ctx, limit)
	if err != nil {
		return errorResult("query_error", fmt.Sprintf("contradiction scan failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"contradictions": contradictions,
		"total":          len(contradictions),
	}), nil
}

func (s *Server) handleTraceEvolution(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.query == nil {
		return errorResult("unavailable", "the decision graph is disabled"), nil
	}
	question := request.GetString("question", "")
	if question == "" {
		return errorResult("validation_error", "question is required"), nil
	}
	limit := request.GetInt("limit", 10)

	steps, err := s.query.TraceEvolution(ctx, question, 0.40, limit)
	if err != nil {
		return errorResult("query_error", fmt.Sprintf("trace failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"steps": steps,
		"total": len(steps),
	}), nil
}

func (s *Server) handleAnalyzePatterns(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.query == nil {
		return errorResult("unavailable", "the decision graph is disabled"), nil
	}
	report, err := s.query.AnalyzePatterns(ctx)
	if err != nil {
		return errorResult("query_error", fmt.Sprintf("analysis failed: %v", err)), nil
	}
	return jsonResult(report), nil
}
