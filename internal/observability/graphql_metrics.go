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

const meterName = "graph-indexer"

// GraphQLMetrics instruments the query API. Request level instruments are
// recorded by middleware; result and statement counts by the resolver,
// which finds the instance on the request context.
type GraphQLMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	queryDepth      metric.Int64Histogram
	resultsCount    metric.Int64Histogram
	sqlStatements   metric.Int64Histogram
	introspections  metric.Int64Counter
}

func InitGraphQLMetrics(logger *slog.Logger) (*GraphQLMetrics, error) {
	meter := otel.Meter(meterName)
	m := &GraphQLMetrics{}
	var err error

	if m.requestDuration, err = meter.Float64Histogram("graphql.request.duration",
		metric.WithDescription("Duration of GraphQL requests in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}
	if m.requestCounter, err = meter.Int64Counter("graphql.requests.total",
		metric.WithDescription("GraphQL requests by operation type and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	if m.errorCounter, err = meter.Int64Counter("graphql.errors.total",
		metric.WithDescription("GraphQL requests answered with errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}
	if m.activeRequests, err = meter.Int64UpDownCounter("graphql.requests.active",
		metric.WithDescription("GraphQL requests in flight"),
	); err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}
	if m.queryDepth, err = meter.Int64Histogram("graphql.query.depth",
		metric.WithDescription("Selection depth of GraphQL operations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query depth histogram: %w", err)
	}
	if m.resultsCount, err = meter.Int64Histogram("graphql.results.count",
		metric.WithDescription("Entity rows returned per root field"),
	); err != nil {
		return nil, fmt.Errorf("failed to create results count histogram: %w", err)
	}
	if m.sqlStatements, err = meter.Int64Histogram("graphql.sql.statements",
		metric.WithDescription("SQL statements issued per GraphQL request"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sql statements histogram: %w", err)
	}
	if m.introspections, err = meter.Int64Counter("graphql.introspection.total",
		metric.WithDescription("Introspection requests answered from the reflection schema"),
	); err != nil {
		return nil, fmt.Errorf("failed to create introspection counter: %w", err)
	}

	if logger != nil {
		logger.Info("graphql metrics initialized")
	}
	return m, nil
}

// RecordRequest records one finished request. indexer may be empty when
// the route did not resolve one.
func (m *GraphQLMetrics) RecordRequest(ctx context.Context, duration time.Duration, hasErrors bool, operationType, indexer string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("operation_type", operationType)}
	if indexer != "" {
		attrs = append(attrs, attribute.String("indexer", indexer))
	}
	if hasErrors {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	withOutcome := metric.WithAttributeSet(attribute.NewSet(append(attrs, attribute.Bool("has_errors", hasErrors))...))
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), withOutcome)
	m.requestCounter.Add(ctx, 1, withOutcome)
}

func (m *GraphQLMetrics) RecordQueryDepth(ctx context.Context, depth int64, operationType string) {
	if m == nil {
		return
	}
	m.queryDepth.Record(ctx, depth, metric.WithAttributes(attribute.String("operation_type", operationType)))
}

// RecordResultsCount records the rows one root field returned.
func (m *GraphQLMetrics) RecordResultsCount(ctx context.Context, count int64, indexer string) {
	if m == nil {
		return
	}
	m.resultsCount.Record(ctx, count, metric.WithAttributes(attribute.String("indexer", indexer)))
}

func (m *GraphQLMetrics) RecordSQLStatements(ctx context.Context, count int64, indexer string) {
	if m == nil {
		return
	}
	m.sqlStatements.Record(ctx, count, metric.WithAttributes(attribute.String("indexer", indexer)))
}

func (m *GraphQLMetrics) RecordIntrospection(ctx context.Context, indexer string) {
	if m == nil {
		return
	}
	m.introspections.Add(ctx, 1, metric.WithAttributes(attribute.String("indexer", indexer)))
}

func (m *GraphQLMetrics) IncrementActiveRequests(ctx context.Context) {
	if m != nil {
		m.activeRequests.Add(ctx, 1)
	}
}

func (m *GraphQLMetrics) DecrementActiveRequests(ctx context.Context) {
	if m != nil {
		m.activeRequests.Add(ctx, -1)
	}
}

type graphQLMetricsContextKey struct{}

// ContextWithGraphQLMetrics makes metrics reachable from the resolver.
func ContextWithGraphQLMetrics(ctx context.Context, metrics *GraphQLMetrics) context.Context {
	return context.WithValue(ctx, graphQLMetricsContextKey{}, metrics)
}

// GraphQLMetricsFromContext returns nil when the request was not
// instrumented; every Record method accepts a nil receiver.
func GraphQLMetricsFromContext(ctx context.Context) *GraphQLMetrics {
	metrics, _ := ctx.Value(graphQLMetricsContextKey{}).(*GraphQLMetrics)
	return metrics
}
