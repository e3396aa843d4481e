package convert

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics aggregates the pipeline's conversion counters. With no meter
// provider installed the instruments are no-ops, so construction never needs
// to be conditional.
type Metrics struct {
	chunksConverted   metric.Int64Counter
	chunksSubstituted metric.Int64Counter
	chunkSeconds      metric.Float64Histogram
	jobs              metric.Int64Counter
}

// NewMetrics registers the pipeline instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	chunksConverted, err := meter.Int64Counter("sonant.chunks.converted",
		metric.WithDescription("Chunks converted successfully"))
	if err != nil {
		return nil, err
	}
	chunksSubstituted, err := meter.Int64Counter("sonant.chunks.substituted",
		metric.WithDescription("Chunks replaced with silence after a conversion failure"))
	if err != nil {
		return nil, err
	}
	chunkSeconds, err := meter.Float64Histogram("sonant.chunk.duration.seconds",
		metric.WithDescription("Wall-clock time per chunk conversion"))
	if err != nil {
		return nil, err
	}
	jobs, err := meter.Int64Counter("sonant.jobs",
		metric.WithDescription("Conversion jobs by kind and outcome"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		chunksConverted:   chunksConverted,
		chunksSubstituted: chunksSubstituted,
		chunkSeconds:      chunkSeconds,
		jobs:              jobs,
	}, nil
}

func (m *Metrics) recordChunk(ctx context.Context, ok bool, seconds float64) {
	if m == nil {
		return
	}
	if ok {
		m.chunksConverted.Add(ctx, 1)
	} else {
		m.chunksSubstituted.Add(ctx, 1)
	}
	m.chunkSeconds.Record(ctx, seconds)
}

func (m *Metrics) recordJob(ctx context.Context, kind string, failed bool) {
	if m == nil {
		return
	}
	outcome := "done"
	if failed {
		outcome = "failed"
	}
	m.jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
