package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/counselhq/counsel/internal/model"
)

const (
	DefaultQueryCacheSize     = 200
	DefaultQueryTTL           = 300 * time.Second
	DefaultEmbeddingCacheSize = 500
)

// CacheStats is one cache's counters.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	// Evictions counts entries removed under capacity or TTL pressure.
	// Purged counts entries removed by explicit invalidation.
	Evictions int64 `json:"evictions"`
	Purged    int64 `json:"purged"`
	Size      int   `json:"size"`
}

// Cache is the two-tier similarity cache. L1 holds formatted retrieval
// results keyed by query parameters, with a TTL and full invalidation on
// every new decision. L2 holds embedding vectors keyed by question and
// embedding version; it survives decision writes and dies only when the
// embedding version changes.
type Cache struct {
	mu sync.Mutex

	l1        *expirable.LRU[string, []ScoredNode]
	l2        *lru.Cache[string, []float32]
	l1Stats   CacheStats
	l2Stats   CacheStats
	l2Version string

	// purging tells the eviction callbacks that a removal came from an
	// explicit Purge, not capacity pressure.
	purging atomic.Bool
}

// NewCache builds both tiers. Non-positive sizes take the defaults.
func NewCache(querySize int, queryTTL time.Duration, embeddingSize int) (*Cache, error) {
	if querySize <= 0 {
		querySize = DefaultQueryCacheSize
	}
	if queryTTL <= 0 {
		queryTTL = DefaultQueryTTL
	}
	if embeddingSize <= 0 {
		embeddingSize = DefaultEmbeddingCacheSize
	}

	c := &Cache{}
	c.l1 = expirable.NewLRU[string, []ScoredNode](querySize, func(string, []ScoredNode) {
		if c.purging.Load() {
			c.l1Stats.Purged++
			return
		}
		c.l1Stats.Evictions++
	}, queryTTL)

	var err error
	c.l2, err = lru.NewWithEvict[string, []float32](embeddingSize, func(string, []float32) {
		if c.purging.Load() {
			c.l2Stats.Purged++
			return
		}
		c.l2Stats.Evictions++
	})
	if err != nil {
		return nil, fmt.Errorf("graph: build embedding cache: %w", err)
	}
	return c, nil
}

// QueryKey builds the L1 key from the retrieval parameters.
func QueryKey(question string, threshold float64, topK, budget int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%.4f|%d|%d",
		model.NormalizeQuestion(question), threshold, topK, budget))
	return hex.EncodeToString(sum[:])
}

// EmbeddingKey builds the L2 key from the question and embedding version.
func EmbeddingKey(question, embeddingVersion string) string {
	sum := sha256.Sum256([]byte(model.NormalizeQuestion(question) + "|" + embeddingVersion))
	return hex.EncodeToString(sum[:])
}

// GetQuery looks up a formatted retrieval result.
func (c *Cache) GetQuery(key string) ([]ScoredNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.l1.Get(key)
	if ok {
		c.l1Stats.Hits++
	} else {
		c.l1Stats.Misses++
	}
	return v, ok
}

// PutQuery stores a retrieval result.
func (c *Cache) PutQuery(key string, nodes []ScoredNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.l1.Add(key, nodes)
}

// InvalidateQueries drops every L1 entry. Called after each decision write.
func (c *Cache) InvalidateQueries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purging.Store(true)
	c.l1.Purge()
	c.purging.Store(false)
}

// GetEmbedding looks up a cached vector for the given version.
func (c *Cache) GetEmbedding(question, version string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version != c.l2Version {
		c.l2Stats.Misses++
		return nil, false
	}
	v, ok := c.l2.Get(EmbeddingKey(question, version))
	if ok {
		c.l2Stats.Hits++
	} else {
		c.l2Stats.Misses++
	}
	return v, ok
}

// PutEmbedding stores a vector. A version change purges everything cached
// under the previous version.
func (c *Cache) PutEmbedding(question, version string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version != c.l2Version {
		c.purging.Store(true)
		c.l2.Purge()
		c.purging.Store(false)
		c.l2Version = version
	}
	c.l2.Add(EmbeddingKey(question, version), vec)
}

// Stats returns (L1, L2) counters with current sizes.
func (c *Cache) Stats() (CacheStats, CacheStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l1 := c.l1Stats
	l1.Size = c.l1.Len()
	l2 := c.l2Stats
	l2.Size = c.l2.Len()
	return l1, l2
}

// CombinedHitRate is hits/(hits+misses) across both tiers, 0 when idle.
func (c *Cache) CombinedHitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	hits := c.l1Stats.Hits + c.l2Stats.Hits
	total := hits + c.l1Stats.Misses + c.l2Stats.Misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
