package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-indexer/internal/logging"
)

func completedRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		if rec["msg"] == "request completed" {
			return rec
		}
	}
	t.Fatalf("no completion record in %q", buf.String())
	return nil
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		status    int
		wantLevel string
	}{
		{name: "implicit ok", wantLevel: "INFO"},
		{name: "client error", requestID: "client-supplied", status: http.StatusBadRequest, wantLevel: "WARN"},
		{name: "server error", status: http.StatusServiceUnavailable, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := logging.NewLogger(logging.Config{Level: "info", Format: "json", Output: &buf})

			var seenID string
			var seenLogger *logging.Logger
			h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seenID = logging.GetRequestID(r.Context())
				seenLogger = logging.FromContext(r.Context())
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				_, _ = w.Write([]byte("body"))
			}))

			req := httptest.NewRequest(http.MethodPost, "/lending/main/graphql", nil)
			if tt.requestID != "" {
				req.Header.Set(RequestIDHeader, tt.requestID)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			echoed := rec.Header().Get(RequestIDHeader)
			require.NotEmpty(t, echoed)
			if tt.requestID != "" {
				assert.Equal(t, tt.requestID, echoed)
			}
			assert.Equal(t, echoed, seenID)
			assert.NotSame(t, logger, seenLogger)

			entry := completedRecord(t, &buf)
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, echoed, entry["request_id"])
			assert.Equal(t, "http", entry["component"])
			assert.Equal(t, "/lending/main/graphql", entry["path"])
			assert.EqualValues(t, 4, entry["bytes"])
			want := tt.status
			if want == 0 {
				want = http.StatusOK
			}
			assert.EqualValues(t, want, entry["status"])
		})
	}
}
