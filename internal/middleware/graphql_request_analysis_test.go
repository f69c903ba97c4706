package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-indexer/internal/gqlrequest"
)

func TestGraphQLRequestAnalysisMiddleware_PopulatesContextAndRewindsBody(t *testing.T) {
	var (
		seenAnalysis *gqlrequest.Analysis
		seenMeta     gqlrequest.ExecMeta
		seenMetaOK   bool
		bodyCopy     string
	)

	router := chi.NewRouter()
	router.With(GraphQLRequestAnalysisMiddleware()).Post("/api/graph/{namespace}/{identifier}", func(w http.ResponseWriter, r *http.Request) {
		seenAnalysis = gqlrequest.AnalysisFromContext(r.Context())
		seenMeta, seenMetaOK = gqlrequest.ExecMetaFromContext(r.Context())
		bodyBytes, _ := io.ReadAll(r.Body)
		bodyCopy = string(bodyBytes)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/graph/lending/main", strings.NewReader(`{"query":"query Lenders { lenders(first: 2) { id borrowers { id } } }","operationName":"Lenders","variables":{"x":1}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seenAnalysis)
	require.True(t, seenMetaOK)
	assert.Equal(t, "query", seenAnalysis.Type)
	assert.Equal(t, 3, seenAnalysis.Depth)
	assert.NotEmpty(t, seenAnalysis.Hash)
	assert.Equal(t, "Lenders", seenMeta.OperationName)
	assert.Equal(t, "lending", seenMeta.Namespace)
	assert.Equal(t, "main", seenMeta.Identifier)
	assert.Contains(t, bodyCopy, `"operationName":"Lenders"`)
}

func TestGraphQLRequestAnalysisMiddleware_MalformedBody(t *testing.T) {
	var seen *gqlrequest.Analysis
	handler := GraphQLRequestAnalysisMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = gqlrequest.AnalysisFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/graph/lending/main", strings.NewReader(`{"query":`))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, seen)
	assert.Error(t, seen.Err)
	assert.Nil(t, seen.Operation)
}
