package gqlrequest

import "context"

type ctxKey int

const (
	analysisKey ctxKey = iota
	execMetaKey
)

// ExecMeta is what the router learned about a request once it matched an
// indexer route: the target indexer and the selected operation.
type ExecMeta struct {
	Namespace  string
	Identifier string

	OperationName string
	OperationType string
	OperationHash string
}

// Indexer renders the target as namespace.identifier, or "" when the request
// never matched an indexer route.
func (m ExecMeta) Indexer() string {
	if m.Namespace == "" {
		return ""
	}
	return m.Namespace + "." + m.Identifier
}

func with(ctx context.Context, key ctxKey, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func lookup[T any](ctx context.Context, key ctxKey) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}

// WithAnalysis attaches the parsed request to ctx.
func WithAnalysis(ctx context.Context, analysis *Analysis) context.Context {
	return with(ctx, analysisKey, analysis)
}

// AnalysisFromContext returns the analysis stored by WithAnalysis, or nil.
func AnalysisFromContext(ctx context.Context) *Analysis {
	analysis, _ := lookup[*Analysis](ctx, analysisKey)
	return analysis
}

// WithExecMeta attaches execution metadata to ctx.
func WithExecMeta(ctx context.Context, meta ExecMeta) context.Context {
	return with(ctx, execMetaKey, meta)
}

// ExecMetaFromContext returns the metadata stored by WithExecMeta.
func ExecMetaFromContext(ctx context.Context) (ExecMeta, bool) {
	return lookup[ExecMeta](ctx, execMetaKey)
}
