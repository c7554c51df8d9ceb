package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/counselhq/counsel/internal/model"
	"github.com/counselhq/counsel/internal/similarity"
)

// Retrieval defaults.
const (
	DefaultNoiseFloor        = 0.40
	DefaultStrongThreshold   = 0.75
	DefaultModerateThreshold = 0.60
	DefaultTokenBudget       = 1500
	DefaultCandidateWindow   = 1000

	strongTokens   = 500
	moderateTokens = 200
	briefTokens    = 50
)

// Tier is a relevance band for a retrieved decision.
type Tier string

const (
	TierStrong   Tier = "strong"
	TierModerate Tier = "moderate"
	TierBrief    Tier = "brief"
)

// RetrievalConfig holds tier boundaries and the token budget. Zero values
// take the defaults.
type RetrievalConfig struct {
	NoiseFloor        float64
	StrongThreshold   float64
	ModerateThreshold float64
	TokenBudget       int
	CandidateWindow   int
}

func (c RetrievalConfig) withDefaults() RetrievalConfig {
	if c.NoiseFloor == 0 {
		c.NoiseFloor = DefaultNoiseFloor
	}
	if c.StrongThreshold == 0 {
		c.StrongThreshold = DefaultStrongThreshold
	}
	if c.ModerateThreshold == 0 {
		c.ModerateThreshold = DefaultModerateThreshold
	}
	if c.TokenBudget == 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	if c.CandidateWindow == 0 {
		c.CandidateWindow = DefaultCandidateWindow
	}
	return c
}

// ContextBlock is a formatted retrieval result.
type ContextBlock struct {
	Markdown   string
	Strong     int
	Moderate   int
	Brief      int
	TokensUsed int
}

// Retriever turns a new question into a token-budgeted context block of
// relevant past decisions.
type Retriever struct {
	store   *Store
	cache   *Cache
	backend similarity.Backend
	logger  *slog.Logger
	cfg     RetrievalConfig
}

// NewRetriever builds a retriever over the given store and cache.
func NewRetriever(store *Store, cache *Cache, backend similarity.Backend, logger *slog.Logger, cfg RetrievalConfig) *Retriever {
	return &Retriever{store: store, cache: cache, backend: backend, logger: logger, cfg: cfg.withDefaults()}
}

// AdaptiveK picks the result count from the store size: small stores can
// afford breadth, large ones trade it for precision.
func AdaptiveK(storeSize int) int {
	switch {
	case storeSize < 100:
		return 5
	case storeSize < 1000:
		return 3
	default:
		return 2
	}
}

// FindRelevantDecisions scores recent decisions against the question and
// returns the top adaptive-k above the noise floor, best first. Results are
// served from the L1 cache when the same query parameters were seen within
// the TTL.
func (r *Retriever) FindRelevantDecisions(ctx context.Context, question string) ([]ScoredNode, error) {
	storeSize, err := r.store.NodeCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: retrieval store size: %w", err)
	}
	k := AdaptiveK(storeSize)

	key := QueryKey(question, r.cfg.NoiseFloor, k, r.cfg.TokenBudget)
	if cached, ok := r.cache.GetQuery(key); ok {
		return cached, nil
	}

	window := min(storeSize, r.cfg.CandidateWindow)
	candidates, err := r.store.GetRecent(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("graph: retrieval candidates: %w", err)
	}

	normalized := model.NormalizeQuestion(question)
	scored := make([]ScoredNode, 0, len(candidates))
	for _, cand := range candidates {
		score, err := r.score(ctx, normalized, cand.QuestionNormalized)
		if err != nil {
			return nil, fmt.Errorf("graph: retrieval scoring: %w", err)
		}
		score = model.ClampScore(score)
		if score < r.cfg.NoiseFloor {
			continue
		}
		scored = append(scored, ScoredNode{Node: cand, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}

	r.cache.PutQuery(key, scored)
	return scored, nil
}

// score uses the L2 embedding cache when the backend exposes embeddings,
// otherwise falls back to plain backend scoring.
func (r *Retriever) score(ctx context.Context, a, b string) (float64, error) {
	emb, ok := r.backend.(similarity.Embedder)
	if !ok {
		return r.backend.Score(ctx, a, b)
	}
	va, err := r.embedCached(ctx, emb, a)
	if err != nil {
		return 0, err
	}
	vb, err := r.embedCached(ctx, emb, b)
	if err != nil {
		return 0, err
	}
	return similarity.CosineSimilarity(va, vb), nil
}

func (r *Retriever) embedCached(ctx context.Context, emb similarity.Embedder, text string) ([]float32, error) {
	version := emb.Version()
	if vec, ok := r.cache.GetEmbedding(text, version); ok {
		return vec, nil
	}
	vec, err := emb.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	r.cache.PutEmbedding(text, version, vec)
	return vec, nil
}

// TierOf classifies a score that already passed the noise floor.
func (r *Retriever) TierOf(score float64) Tier {
	switch {
	case score >= r.cfg.StrongThreshold:
		return TierStrong
	case score >= r.cfg.ModerateThreshold:
		return TierModerate
	default:
		return TierBrief
	}
}

// FormatContext renders scored decisions into a markdown block under the
// token budget. Items are taken in tier precedence (strong, moderate,
// brief), best score first within a tier; inclusion stops at the first item
// that would overflow the budget. Zero included items yield an empty block.
func (r *Retriever) FormatContext(scored []ScoredNode) ContextBlock {
	byTier := map[Tier][]ScoredNode{}
	for _, sn := range scored {
		t := r.TierOf(sn.Score)
		byTier[t] = append(byTier[t], sn)
	}
	for _, t := range []Tier{TierStrong, TierModerate, TierBrief} {
		sort.SliceStable(byTier[t], func(i, j int) bool { return byTier[t][i].Score > byTier[t][j].Score })
	}

	var block ContextBlock
	included := map[Tier][]ScoredNode{}
budget:
	for _, t := range []Tier{TierStrong, TierModerate, TierBrief} {
		for _, sn := range byTier[t] {
			cost := tierTokens(t)
			if block.TokensUsed+cost > r.cfg.TokenBudget {
				break budget
			}
			block.TokensUsed += cost
			included[t] = append(included[t], sn)
		}
	}
	block.Strong = len(included[TierStrong])
	block.Moderate = len(included[TierModerate])
	block.Brief = len(included[TierBrief])
	if block.Strong+block.Moderate+block.Brief == 0 {
		return block
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Relevant past decisions (%d strong, %d moderate, %d brief)\n",
		block.Strong, block.Moderate, block.Brief)
	if len(included[TierStrong]) > 0 {
		b.WriteString("\n### Strongly related\n")
		for _, sn := range included[TierStrong] {
			renderFull(&b, sn)
		}
	}
	if len(included[TierModerate]) > 0 {
		b.WriteString("\n### Related\n")
		for _, sn := range included[TierModerate] {
			renderSummary(&b, sn)
		}
	}
	if len(included[TierBrief]) > 0 {
		b.WriteString("\n### Mentioned\n")
		for _, sn := range included[TierBrief] {
			renderReference(&b, sn)
		}
	}
	block.Markdown = b.String()
	return block
}

func tierTokens(t Tier) int {
	switch t {
	case TierStrong:
		return strongTokens
	case TierModerate:
		return moderateTokens
	default:
		return briefTokens
	}
}

func renderFull(b *strings.Builder, sn ScoredNode) {
	n := sn.Node
	fmt.Fprintf(b, "\n**Q: %s** (similarity %.2f, %s)\n", n.Question, sn.Score, n.Timestamp.Format("2006-01-02"))
	fmt.Fprintf(b, "- Outcome: %s", n.ConsensusStatus)
	if n.WinningOption != "" {
		fmt.Fprintf(b, " for %q", n.WinningOption)
	}
	b.WriteString("\n")
	if len(n.Participants) > 0 {
		fmt.Fprintf(b, "- Participants: %s\n", strings.Join(n.Participants, ", "))
	}
}

func renderSummary(b *strings.Builder, sn ScoredNode) {
	n := sn.Node
	fmt.Fprintf(b, "- **%s** (%.2f): %s", n.Question, sn.Score, n.ConsensusStatus)
	if n.WinningOption != "" {
		fmt.Fprintf(b, ", chose %q", n.WinningOption)
	}
	b.WriteString("\n")
}

func renderReference(b *strings.Builder, sn ScoredNode) {
	fmt.Fprintf(b, "- %s (%.2f)\n", sn.Node.Question, sn.Score)
}
