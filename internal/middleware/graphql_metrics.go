package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"graph-indexer/internal/gqlrequest"
	"graph-indexer/internal/observability"
)

// GraphQLMetricsMiddleware wraps a GraphQL handler and records metrics.
// GraphiQL page loads are not counted.
func GraphQLMetricsMiddleware(metrics *observability.GraphQLMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil || !isGraphQLCall(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := observability.ContextWithGraphQLMetrics(r.Context(), metrics)
			r = r.WithContext(ctx)

			metrics.IncrementActiveRequests(ctx)
			defer metrics.DecrementActiveRequests(ctx)

			start := time.Now()

			analysis := gqlrequest.AnalysisFromContext(ctx)
			if analysis == nil {
				analysis = gqlrequest.AnalyzeRequest(r)
			}
			operationType := "unknown"
			if analysis.Operation != nil {
				operationType = analysis.Type
				metrics.RecordQueryDepth(ctx, int64(analysis.Depth), operationType)
			}

			var body bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			hasErrors := statusOf(ww) >= 400 || responseHasGraphQLErrors(body.Bytes())
			metrics.RecordRequest(ctx, time.Since(start), hasErrors, operationType, indexerName(ctx))
		})
	}
}

func indexerName(ctx context.Context) string {
	meta, _ := gqlrequest.ExecMetaFromContext(ctx)
	return meta.Indexer()
}

// isGraphQLCall separates query traffic from the GraphiQL page, which is
// served by a plain GET without a query parameter.
func isGraphQLCall(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost:
		return true
	case http.MethodGet:
		return r.URL.Query().Get("query") != ""
	}
	return false
}

func responseHasGraphQLErrors(body []byte) bool {
	var payload struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil {
		return false
	}
	return len(payload.Errors) > 0
}
