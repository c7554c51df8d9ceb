package deliberation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/counselhq/counsel/internal/model"
	"github.com/counselhq/counsel/internal/telemetry"
)

type engineMetrics struct {
	deliberations metric.Int64Counter
	rounds        metric.Int64Counter
}

func newEngineMetrics() engineMetrics {
	meter := telemetry.Meter("counsel/deliberation")

	deliberations, _ := meter.Int64Counter("counsel.deliberations.total",
		metric.WithDescription("Deliberations finished, by mode and status"))
	rounds, _ := meter.Int64Counter("counsel.deliberation.rounds.total",
		metric.WithDescription("Debate rounds completed"))

	return engineMetrics{deliberations: deliberations, rounds: rounds}
}

func (m engineMetrics) record(ctx context.Context, result *model.DeliberationResult) {
	attrs := metric.WithAttributes(
		attribute.String("mode", string(result.Mode)),
		attribute.String("status", string(result.Status)),
	)
	m.deliberations.Add(ctx, 1, attrs)
	m.rounds.Add(ctx, int64(result.RoundsCompleted), attrs)
}
