package graph

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/counselhq/counsel/internal/model"
)

// Sync-fallback bounds used when no background worker is running.
const (
	syncCandidateLimit = 50
	syncDeadline       = 500 * time.Millisecond
)

// Integration is the orchestrator's only doorway into the graph. Both
// methods absorb every failure: a broken store or backend degrades the
// deliberation, never aborts it.
type Integration struct {
	store     *Store
	cache     *Cache
	retriever *Retriever
	worker    *Worker // nil when background computation is disabled
	logger    *slog.Logger
}

// NewIntegration wires the graph components together. worker may be nil.
func NewIntegration(store *Store, cache *Cache, retriever *Retriever, worker *Worker, logger *slog.Logger) *Integration {
	return &Integration{store: store, cache: cache, retriever: retriever, worker: worker, logger: logger}
}

// GetContextForDeliberation returns the markdown context block for a new
// question, or "" when nothing relevant exists or anything fails. One
// structured measurement line is logged per call.
func (g *Integration) GetContextForDeliberation(ctx context.Context, question string) string {
	start := time.Now()

	scored, err := g.retriever.FindRelevantDecisions(ctx, question)
	if err != nil {
		g.logger.Warn("graph: context retrieval failed, proceeding without", "error", err)
		return ""
	}
	block := g.retriever.FormatContext(scored)

	storeSize, err := g.store.NodeCount(ctx)
	if err != nil {
		storeSize = -1
	}
	g.logger.Info("graph: context retrieval",
		"question_hash", model.QuestionHash(question),
		"strong", block.Strong,
		"moderate", block.Moderate,
		"brief", block.Brief,
		"tokens_used", block.TokensUsed,
		"token_budget", g.retriever.cfg.TokenBudget,
		"store_size", storeSize,
		"backend", g.retriever.backend.Name(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return block.Markdown
}

// StoreDeliberation persists the decision and its stances, schedules edge
// computation, and invalidates the query cache. It never fails; on error it
// logs and returns uuid.Nil.
func (g *Integration) StoreDeliberation(ctx context.Context, node *model.DecisionNode, stances []model.ParticipantStance) uuid.UUID {
	id, err := g.store.SaveDecision(ctx, node, stances)
	if err != nil {
		g.logger.Warn("graph: decision persist failed, result unaffected", "error", err)
		return uuid.Nil
	}
	g.cache.InvalidateQueries()

	if g.worker != nil {
		g.worker.Enqueue(SimilarityJob{SourceID: id, Priority: 1})
	} else {
		g.computeEdgesSync(ctx, id)
	}
	return id
}

// computeEdgesSync is the fallback when no worker runs: a small candidate
// window under a hard wall-clock cap, so the request path stays bounded.
func (g *Integration) computeEdgesSync(ctx context.Context, sourceID uuid.UUID) {
	ctx, cancel := context.WithTimeout(ctx, syncDeadline)
	defer cancel()

	source, err := g.store.GetDecision(ctx, sourceID)
	if err != nil {
		g.logger.Warn("graph: sync edge source fetch failed", "error", err)
		return
	}
	candidates, err := g.store.GetRecent(ctx, syncCandidateLimit)
	if err != nil {
		g.logger.Warn("graph: sync edge candidates failed", "error", err)
		return
	}

	var edges []model.DecisionSimilarity
	for _, cand := range candidates {
		if cand.ID == sourceID || ctx.Err() != nil {
			continue
		}
		score, err := g.retriever.score(ctx, source.QuestionNormalized, cand.QuestionNormalized)
		if err != nil {
			continue
		}
		edges = append(edges, model.DecisionSimilarity{
			SourceID: sourceID,
			TargetID: cand.ID,
			Score:    model.ClampScore(score),
		})
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Score > edges[j].Score })

	if err := g.store.ReplaceSimilarities(context.WithoutCancel(ctx), sourceID, edges); err != nil {
		g.logger.Warn("graph: sync edge persist failed", "error", err)
	}
}
