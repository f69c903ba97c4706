package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	old := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetTracerProvider(old)
	})
	return recorder
}

func TestGraphQLTracingMiddleware_RecordsAnalysis(t *testing.T) {
	recorder := setupSpanRecorder(t)
	handler := GraphQLRequestAnalysisMiddleware()(GraphQLTracingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/graph/lending/main", strings.NewReader(`{"query":"query Q { lenders { id } }"}`))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "graphql.request", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("graphql.operation.type", "query"))
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestGraphQLTracingMiddleware_SkipsWithoutQuery(t *testing.T) {
	recorder := setupSpanRecorder(t)
	called := false
	handler := GraphQLTracingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/graph/lending/main/graphiql", nil))

	assert.True(t, called)
	assert.Empty(t, recorder.Ended())
}
