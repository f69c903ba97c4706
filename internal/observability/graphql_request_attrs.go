package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"graph-indexer/internal/gqlrequest"
)

// GraphQLSpanAttributes describes a query API request for its span.
// Operation metrics are only attached once an operation was selected.
func GraphQLSpanAttributes(a *gqlrequest.Analysis, meta gqlrequest.ExecMeta) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 12)
	if meta.Namespace != "" {
		attrs = append(attrs, attribute.String("indexer.namespace", meta.Namespace))
	}
	if meta.Identifier != "" {
		attrs = append(attrs, attribute.String("indexer.identifier", meta.Identifier))
	}
	if a == nil {
		return attrs
	}

	if a.RequestedName != "" {
		attrs = append(attrs, attribute.String("graphql.operation.requested_name", a.RequestedName))
	}
	if size := a.Envelope.Size(); size > 0 {
		attrs = append(attrs, attribute.Int("graphql.document.size_bytes", size))
	}
	if a.Operation == nil {
		return attrs
	}
	return append(attrs,
		attribute.String("graphql.operation.name", a.Name),
		attribute.String("graphql.operation.type", a.Type),
		attribute.String("graphql.operation.hash", a.Hash),
		attribute.StringSlice("graphql.query.root_fields", a.RootFields),
		attribute.Int("graphql.query.field_count", a.Fields),
		attribute.Int("graphql.query.depth", a.Depth),
		attribute.Int("graphql.query.variable_count", a.VariableCount),
	)
}

// GraphQLLogFields are attached to the request logger by the analysis middleware.
func GraphQLLogFields(ctx context.Context, a *gqlrequest.Analysis, meta gqlrequest.ExecMeta) []any {
	fields := make([]any, 0, 5)
	if meta.Namespace != "" {
		fields = append(fields, slog.String("indexer", meta.Namespace+"."+meta.Identifier))
	}
	if a != nil && a.Operation != nil {
		fields = append(fields,
			slog.String("operation_name", a.Name),
			slog.String("operation_type", a.Type),
			slog.String("operation_hash", a.Hash),
		)
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}
	return fields
}
