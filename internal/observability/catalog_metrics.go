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

// CatalogMetrics records schema registrations and catalog loads.
type CatalogMetrics struct {
	registrations metric.Int64Counter
	registerHist  metric.Float64Histogram
	loads         metric.Int64Counter
}

// InitCatalogMetrics initializes catalog metrics.
func InitCatalogMetrics(logger *slog.Logger) (*CatalogMetrics, error) {
	meter := otel.Meter(meterName)

	registrations, err := meter.Int64Counter(
		"catalog.registrations.total",
		metric.WithDescription("Schema registrations by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registration counter: %w", err)
	}

	registerHist, err := meter.Float64Histogram(
		"catalog.registration.duration",
		metric.WithDescription("Duration of schema registrations in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registration histogram: %w", err)
	}

	loads, err := meter.Int64Counter(
		"catalog.loads.total",
		metric.WithDescription("Catalog schema loads by cache outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog load counter: %w", err)
	}

	logger.Info("catalog metrics initialized")
	return &CatalogMetrics{
		registrations: registrations,
		registerHist:  registerHist,
		loads:         loads,
	}, nil
}

// RecordRegistration records one Register call. outcome is one of
// "created", "unchanged", "replaced", "rejected" or "error".
func (m *CatalogMetrics) RecordRegistration(ctx context.Context, namespace, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("outcome", outcome),
	)
	m.registrations.Add(ctx, 1, attrs)
	m.registerHist.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordLoad records one Load call.
func (m *CatalogMetrics) RecordLoad(ctx context.Context, cacheHit, success bool) {
	if m == nil {
		return
	}
	m.loads.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("cache_hit", cacheHit),
		attribute.Bool("success", success),
	))
}
