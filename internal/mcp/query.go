package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/counselhq/counsel/internal/graph"
	"github.com/counselhq/counsel/internal/model"
	"github.com/counselhq/counsel/internal/similarity"
)

// queryWindow bounds how many recent decisions a query operation scans.
const queryWindow = 500

// ScoredDecision is a decision node with its similarity to the query text.
type ScoredDecision struct {
	Node  model.DecisionNode `json:"node"`
	Score float64            `json:"score"`
}

// Contradiction groups decisions that answered the same normalized question
// with different winning options.
type Contradiction struct {
	Question  string               `json:"question"`
	Options   []string             `json:"options"`
	Decisions []model.DecisionNode `json:"decisions"`
}

// EvolutionStep is one decision in a chronologically ordered evolution trace.
type EvolutionStep struct {
	Node  model.DecisionNode `json:"node"`
	Score float64            `json:"score"`
}

// ParticipantCount ranks a participant by how many decisions it appeared in.
type ParticipantCount struct {
	Participant string `json:"participant"`
	Decisions   int    `json:"decisions"`
}

// PatternReport summarizes consensus behavior across the stored decisions.
type PatternReport struct {
	TotalDecisions  int                `json:"total_decisions"`
	ByStatus        map[string]int     `json:"by_status"`
	ConsensusRate   float64            `json:"consensus_rate"`
	AvgSimilarity   float64            `json:"avg_similarity"`
	TopParticipants []ParticipantCount `json:"top_participants,omitempty"`
}

// QueryEngine answers read-only questions over the decision store. It scores
// candidates on demand rather than through the retrieval cache, so results
// always reflect the current store contents.
type QueryEngine struct {
	store   *graph.Store
	backend similarity.Backend
	logger  *slog.Logger
}

// NewQueryEngine wires a query engine over the store.
func NewQueryEngine(store *graph.Store, backend similarity.Backend, logger *slog.Logger) *QueryEngine {
	return &QueryEngine{store: store, backend: backend, logger: logger}
}

// Recent returns the newest decisions, most recent first.
func (q *QueryEngine) Recent(ctx context.Context, limit int) ([]model.DecisionNode, error) {
	if limit <= 0 || limit > queryWindow {
		limit = 20
	}
	return q.store.GetRecent(ctx, limit)
}

// SearchSimilar scores recent decisions against the query text and returns
// those at or above minScore, best first.
func (q *QueryEngine) SearchSimilar(ctx context.Context, query string, minScore float64, limit int) ([]ScoredDecision, error) {
	nodes, err := q.store.GetRecent(ctx, queryWindow)
	if err != nil {
		return nil, fmt.Errorf("mcp: search candidates: %w", err)
	}

	scored := make([]ScoredDecision, 0, len(nodes))
	for _, n := range nodes {
		s, err := q.backend.Score(ctx, query, n.Question)
		if err != nil {
			q.logger.Warn("query scoring failed, skipping candidate",
				"decision_id", n.ID, "error", err)
			continue
		}
		s = model.ClampScore(s)
		if s < minScore {
			continue
		}
		scored = append(scored, ScoredDecision{Node: n, Score: s})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// FindContradictions returns groups of decisions that share a normalized
// question but disagree on the winning option.
func (q *QueryEngine) FindContradictions(ctx context.Context, limit int) ([]Contradiction, error) {
	nodes, err := q.store.GetRecent(ctx, queryWindow)
	if err != nil {
		return nil, fmt.Errorf("mcp: contradiction candidates: %w", err)
	}

	groups := make(map[string][]model.DecisionNode)
	for _, n := range nodes {
		groups[n.QuestionNormalized] = append(groups[n.QuestionNormalized], n)
	}

	var out []Contradiction
	for _, group := range groups {
		options := make(map[string]bool)
		for _, n := range group {
			if n.WinningOption != "" {
				options[n.WinningOption] = true
			}
		}
		if len(options) < 2 {
			continue
		}
		names := make([]string, 0, len(options))
		for o := range options {
			names = append(names, o)
		}
		sort.Strings(names)
		// GetRecent is newest-first; present the group oldest-first.
		sort.Slice(group, func(i, j int) bool { return group[i].Timestamp.Before(group[j].Timestamp) })
		out = append(out, Contradiction{
			Question:  group[0].Question,
			Options:   names,
			Decisions: group,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Question < out[j].Question })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TraceEvolution finds the decision closest to the query and returns it with
// its stored similarity neighbors in chronological order, showing how the
// answer changed over time.
func (q *QueryEngine) TraceEvolution(ctx context.Context, query string, minScore float64, limit int) ([]EvolutionStep, error) {
	matches, err := q.SearchSimilar(ctx, query, minScore, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	anchor := matches[0]

	neighbors, err := q.store.GetSimilar(ctx, anchor.Node.ID, minScore, queryWindow)
	if err != nil {
		return nil, fmt.Errorf("mcp: evolution neighbors: %w", err)
	}

	steps := make([]EvolutionStep, 0, len(neighbors)+1)
	steps = append(steps, EvolutionStep{Node: anchor.Node, Score: anchor.Score})
	for _, n := range neighbors {
		steps = append(steps, EvolutionStep{Node: n.Node, Score: n.Score})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Node.Timestamp.Before(steps[j].Node.Timestamp) })
	if limit > 0 && len(steps) > limit {
		steps = steps[len(steps)-limit:]
	}
	return steps, nil
}

// consensusStatuses that count toward the consensus rate.
func reachedConsensus(status string) bool {
	switch status {
	case "unanimous_consensus", "majority_decision", "converged":
		return true
	}
	return false
}

// AnalyzePatterns aggregates consensus statistics over the stored decisions.
func (q *QueryEngine) AnalyzePatterns(ctx context.Context) (*PatternReport, error) {
	nodes, err := q.store.GetRecent(ctx, queryWindow)
	if err != nil {
		return nil, fmt.Errorf("mcp: pattern candidates: %w", err)
	}

	report := &PatternReport{ByStatus: make(map[string]int)}
	report.TotalDecisions = len(nodes)

	consensus := 0
	participantCounts := make(map[string]int)
	for _, n := range nodes {
		report.ByStatus[n.ConsensusStatus]++
		if reachedConsensus(n.ConsensusStatus) {
			consensus++
		}
		for _, p := range n.Participants {
			participantCounts[p]++
		}
	}
	if report.TotalDecisions > 0 {
		report.ConsensusRate = float64(consensus) / float64(report.TotalDecisions)
	}

	if avg, err := q.store.AvgSimilarity(ctx); err == nil {
		report.AvgSimilarity = avg
	}

	for p, c := range participantCounts {
		report.TopParticipants = append(report.TopParticipants, ParticipantCount{Participant: p, Decisions: c})
	}
	sort.Slice(report.TopParticipants, func(i, j int) bool {
		a, b := report.TopParticipants[i], report.TopParticipants[j]
		if a.Decisions != b.Decisions {
			return a.Decisions > b.Decisions
		}
		return a.Participant < b.Participant
	})
	if len(report.TopParticipants) > 10 {
		report.TopParticipants = report.TopParticipants[:10]
	}
	return report, nil
}
