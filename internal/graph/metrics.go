package graph

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/counselhq/counsel/internal/telemetry"
)

// RegisterMetrics registers observable gauges for graph health. Nil
// components are skipped, so a partially wired graph still reports what it
// has. Without a telemetry endpoint the instruments are no-ops.
func RegisterMetrics(store *Store, cache *Cache, worker *Worker) {
	meter := telemetry.Meter("counsel/graph")

	if store != nil {
		_, _ = meter.Int64ObservableGauge("counsel.graph.nodes",
			metric.WithDescription("Number of decision nodes in the store"),
			metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
				n, err := store.NodeCount(ctx)
				if err != nil {
					return nil // skip this observation
				}
				o.Observe(int64(n))
				return nil
			}),
		)
	}

	if cache != nil {
		_, _ = meter.Float64ObservableGauge("counsel.graph.cache_hit_rate",
			metric.WithDescription("Combined hit rate of the query and embedding caches"),
			metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
				o.Observe(cache.CombinedHitRate())
				return nil
			}),
		)
	}

	if worker != nil {
		_, _ = meter.Int64ObservableGauge("counsel.graph.queue_depth",
			metric.WithDescription("Pending similarity jobs in the worker queue"),
			metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
				o.Observe(int64(worker.QueueDepth()))
				return nil
			}),
		)
		_, _ = meter.Int64ObservableCounter("counsel.graph.queue_overflows",
			metric.WithDescription("Similarity jobs dropped because the queue was full"),
			metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
				o.Observe(worker.Overflows())
				return nil
			}),
		)
	}
}
