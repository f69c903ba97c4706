package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"graph-indexer/internal/gqlrequest"
	"graph-indexer/internal/logging"
	"graph-indexer/internal/observability"
)

// Route parameters naming the indexer a GraphQL request targets.
const (
	NamespaceParam  = "namespace"
	IdentifierParam = "identifier"
)

// GraphQLRequestAnalysisMiddleware decodes and analyzes the GraphQL request once
// and stores derived metadata in request context for downstream middleware.
// It must sit below the chi route so the indexer parameters are resolved.
func GraphQLRequestAnalysisMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			analysis := gqlrequest.AnalyzeRequest(r)
			ctx := gqlrequest.WithAnalysis(r.Context(), analysis)

			meta := gqlrequest.ExecMeta{
				Namespace:  chi.URLParam(r, NamespaceParam),
				Identifier: chi.URLParam(r, IdentifierParam),
			}
			if analysis.Operation != nil {
				meta.OperationName = analysis.Name
				meta.OperationType = analysis.Type
				meta.OperationHash = analysis.Hash
			}
			ctx = gqlrequest.WithExecMeta(ctx, meta)

			logger := logging.FromContext(ctx)
			if fields := observability.GraphQLLogFields(ctx, analysis, meta); len(fields) > 0 {
				ctx = logging.WithLogger(ctx, logger.WithFields(fields...))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
