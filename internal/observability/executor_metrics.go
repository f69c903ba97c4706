package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ExecutorMetrics tracks block batches flowing through executors.
type ExecutorMetrics struct {
	batches      metric.Int64Counter
	blocks       metric.Int64Counter
	retries      metric.Int64Counter
	batchLatency metric.Float64Histogram
	lastHeight   metric.Int64Gauge
}

// InitExecutorMetrics initializes executor metrics.
func InitExecutorMetrics(logger *slog.Logger) (*ExecutorMetrics, error) {
	meter := otel.Meter(meterName)

	batches, err := meter.Int64Counter(
		"executor.batches.total",
		metric.WithDescription("Block batches handed to indexer handlers by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch counter: %w", err)
	}

	blocks, err := meter.Int64Counter(
		"executor.blocks.total",
		metric.WithDescription("Blocks successfully indexed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create block counter: %w", err)
	}

	retries, err := meter.Int64Counter(
		"executor.retries.total",
		metric.WithDescription("Retries of failed block fetches and handler runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry counter: %w", err)
	}

	batchLatency, err := meter.Float64Histogram(
		"executor.batch.duration",
		metric.WithDescription("Handler run time per block batch in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch duration histogram: %w", err)
	}

	lastHeight, err := meter.Int64Gauge(
		"executor.block_height",
		metric.WithDescription("Height of the last block indexed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create block height gauge: %w", err)
	}

	logger.Info("executor metrics initialized")
	return &ExecutorMetrics{
		batches:      batches,
		blocks:       blocks,
		retries:      retries,
		batchLatency: batchLatency,
		lastHeight:   lastHeight,
	}, nil
}

// RecordBatch records one handler invocation. outcome is "ok", "retry" or "fatal".
func (m *ExecutorMetrics) RecordBatch(ctx context.Context, indexer, outcome string, blocks int, lastHeight uint64, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("indexer", indexer),
		attribute.String("outcome", outcome),
	)
	m.batches.Add(ctx, 1, attrs)
	m.batchLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if outcome != "ok" {
		return
	}
	indexerAttr := metric.WithAttributes(attribute.String("indexer", indexer))
	m.blocks.Add(ctx, int64(blocks), indexerAttr)
	m.lastHeight.Record(ctx, int64(lastHeight), indexerAttr)
}

// RecordRetry records one retry. kind is "fetch", "constraint" or "error".
func (m *ExecutorMetrics) RecordRetry(ctx context.Context, indexer, kind string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("indexer", indexer),
		attribute.String("kind", kind),
	))
}
