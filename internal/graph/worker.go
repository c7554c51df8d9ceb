package graph

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/counselhq/counsel/internal/model"
	"github.com/counselhq/counsel/internal/similarity"
)

const (
	// DefaultQueueCapacity bounds the pending-job queue.
	DefaultQueueCapacity = 1000
	// DefaultCandidateLimit is how many recent decisions a job scores
	// against its source.
	DefaultCandidateLimit = 100
	// jobDeadline is the soft per-job compute budget.
	jobDeadline = 10 * time.Second
)

// SimilarityJob asks the worker to recompute outgoing edges for one node.
type SimilarityJob struct {
	SourceID    uuid.UUID
	Priority    int
	EnqueueTime time.Time
}

// Worker computes similarity edges off the request path. The queue is a
// bounded priority list: enqueue never blocks, and overflow drops the
// lowest-priority oldest job rather than the new one.
type Worker struct {
	store    *Store
	cache    *Cache
	backend  similarity.Backend
	logger   *slog.Logger
	capacity int

	mu       sync.Mutex
	queue    []SimilarityJob
	wake     chan struct{}
	started  atomic.Bool
	draining atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}

	overflows atomic.Int64
	processed atomic.Int64
	inflight  atomic.Int64
}

// NewWorker creates a similarity worker. Non-positive capacity takes the
// default.
func NewWorker(store *Store, cache *Cache, backend similarity.Backend, logger *slog.Logger, capacity int) *Worker {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Worker{
		store:    store,
		cache:    cache,
		backend:  backend,
		logger:   logger,
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the processing loop. Safe to call only once; repeats warn
// and return.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("graph worker: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.loop(loopCtx)
}

// Enqueue adds a job without ever blocking. When the queue is full the
// lowest-priority oldest job is dropped and counted as overflow. Once Drain
// has begun, new jobs are dropped and counted the same way.
func (w *Worker) Enqueue(job SimilarityJob) {
	if w.draining.Load() {
		w.overflows.Add(1)
		w.logger.Warn("graph worker: draining, dropped job", "source_id", job.SourceID)
		return
	}
	if job.EnqueueTime.IsZero() {
		job.EnqueueTime = time.Now()
	}

	w.mu.Lock()
	if len(w.queue) >= w.capacity {
		victim := 0
		for i, j := range w.queue {
			v := w.queue[victim]
			if j.Priority < v.Priority || (j.Priority == v.Priority && j.EnqueueTime.Before(v.EnqueueTime)) {
				victim = i
			}
		}
		w.queue = append(w.queue[:victim], w.queue[victim+1:]...)
		w.overflows.Add(1)
		w.logger.Warn("graph worker: queue full, dropped job", "overflows", w.overflows.Load())
	}
	w.queue = append(w.queue, job)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// QueueDepth returns the number of pending jobs.
func (w *Worker) QueueDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Overflows returns how many jobs were dropped on enqueue.
func (w *Worker) Overflows() int64 { return w.overflows.Load() }

// Processed returns how many jobs completed.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Drain stops accepting new jobs, processes the remaining queue until it
// empties or ctx expires, then stops the loop.
func (w *Worker) Drain(ctx context.Context) {
	if !w.started.Load() {
		return
	}
	w.draining.Store(true)
	for (w.QueueDepth() > 0 || w.inflight.Load() > 0) && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Millisecond):
		}
	}
	w.cancel()
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("graph worker: drain deadline expired with jobs pending",
			"pending", w.QueueDepth())
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		// inflight covers the pop-to-finish span so Drain never races a
		// job that left the queue but has not completed.
		w.inflight.Add(1)
		job, ok := w.next()
		if !ok {
			w.inflight.Add(-1)
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
				continue
			}
		}
		w.process(ctx, job)
		w.inflight.Add(-1)
	}
}

// next pops the highest-priority job, oldest first within a priority.
func (w *Worker) next() (SimilarityJob, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return SimilarityJob{}, false
	}
	best := 0
	for i, j := range w.queue {
		b := w.queue[best]
		if j.Priority > b.Priority || (j.Priority == b.Priority && j.EnqueueTime.Before(b.EnqueueTime)) {
			best = i
		}
	}
	job := w.queue[best]
	w.queue = append(w.queue[:best], w.queue[best+1:]...)
	return job, true
}

// process scores the source against recent candidates and replaces its
// edge set. Failures are logged; the queue keeps moving.
func (w *Worker) process(ctx context.Context, job SimilarityJob) {
	ctx, cancel := context.WithTimeout(ctx, jobDeadline)
	defer cancel()

	start := time.Now()
	source, err := w.store.GetDecision(ctx, job.SourceID)
	if err != nil {
		w.logger.Warn("graph worker: source fetch failed", "source_id", job.SourceID, "error", err)
		return
	}
	candidates, err := w.store.GetRecent(ctx, DefaultCandidateLimit)
	if err != nil {
		w.logger.Warn("graph worker: candidate fetch failed", "error", err)
		return
	}

	edges := make([]model.DecisionSimilarity, 0, len(candidates))
	for _, cand := range candidates {
		if cand.ID == source.ID {
			continue
		}
		if ctx.Err() != nil {
			w.logger.Warn("graph worker: job deadline hit, persisting partial edges",
				"source_id", job.SourceID, "scored", len(edges))
			break
		}
		score, err := w.backend.Score(ctx, source.QuestionNormalized, cand.QuestionNormalized)
		if err != nil {
			w.logger.Warn("graph worker: scoring failed", "target_id", cand.ID, "error", err)
			continue
		}
		edges = append(edges, model.DecisionSimilarity{
			SourceID: source.ID,
			TargetID: cand.ID,
			Score:    model.ClampScore(score),
		})
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Score > edges[j].Score })

	if err := w.store.ReplaceSimilarities(context.WithoutCancel(ctx), source.ID, edges); err != nil {
		w.logger.Warn("graph worker: edge persist failed", "source_id", source.ID, "error", err)
		return
	}
	w.cache.InvalidateQueries()
	w.processed.Add(1)
	w.logger.Debug("graph worker: job complete",
		"source_id", source.ID, "edges", min(len(edges), MaxEdgesPerSource),
		"elapsed_ms", time.Since(start).Milliseconds())
}
