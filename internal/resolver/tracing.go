package resolver

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"graph-indexer/internal/planner"
)

var tracer = otel.Tracer("graph-indexer/resolver")

func startResolverSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finishResolverSpan ends span with an outcome of ok, rejected (the request
// failed planning) or error (the database failed).
func finishResolverSpan(span trace.Span, err error) {
	outcome := "ok"
	var gqlErr *planner.GraphqlError
	switch {
	case err == nil:
	case errors.As(err, &gqlErr):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	span.SetAttributes(attribute.String("graphql.resolver.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// setStatementAttributes describes the statement compiled for one root field.
func setStatementAttributes(span trace.Span, field string, list, paginated bool, args int) {
	span.SetAttributes(
		attribute.String("graphql.field", field),
		attribute.Bool("graphql.field.list", list),
		attribute.Bool("graphql.field.paginated", paginated),
		attribute.Int("db.statement.args", args),
	)
}
