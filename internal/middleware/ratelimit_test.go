package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveFrom(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/lending/main/graphql", nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimitMiddlewarePassThrough(t *testing.T) {
	configs := map[string]RateLimitConfig{
		"disabled":      {Enabled: false, RPS: 1, Burst: 1},
		"zero rate":     {Enabled: true, RPS: 0, Burst: 1},
		"zero burst":    {Enabled: true, RPS: 1, Burst: 0},
		"negative rate": {Enabled: true, RPS: -2, Burst: 3, PerClient: true},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			h := RateLimitMiddleware(cfg)(okHandler())
			for i := 0; i < 5; i++ {
				assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.1:4000").Code)
			}
		})
	}
}

func TestRateLimitMiddlewareShared(t *testing.T) {
	h := RateLimitMiddleware(RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2})(okHandler())

	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.1:4000").Code)
	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.2:4000").Code)

	rr := serveFrom(h, "10.0.0.3:4000")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"errors":[{"message":"rate limit exceeded"}]}`, rr.Body.String())
}

func TestRateLimitMiddlewarePerClient(t *testing.T) {
	h := RateLimitMiddleware(RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1, PerClient: true})(okHandler())

	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.1:4000").Code)
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(h, "10.0.0.1:4001").Code)
	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.2:4000").Code)
}

func TestClientBucketsSweepIdle(t *testing.T) {
	buckets := newClientBuckets(1, 1)
	start := time.Now()

	first := buckets.get("10.0.0.1", start)
	require.Same(t, first, buckets.get("10.0.0.1", start.Add(time.Minute)))

	buckets.get("10.0.0.2", start.Add(2*clientIdleTTL))
	assert.NotContains(t, buckets.clients, "10.0.0.1")
	assert.Contains(t, buckets.clients, "10.0.0.2")
}
