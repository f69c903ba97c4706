package observability

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitMeterProvider(t *testing.T) {
	cfg := Config{
		ServiceName:    "graph-indexer-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
	}

	mp, err := InitMeterProvider(cfg)
	require.NoError(t, err, "Should initialize meter provider without error")
	require.NotNil(t, mp.provider)
	require.NotNil(t, mp.exporter)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	err = mp.Shutdown(context.Background(), logger)
	assert.NoError(t, err, "Should shutdown without error")
}

func TestInitGraphQLMetrics(t *testing.T) {
	mp, err := InitMeterProvider(Config{ServiceName: "graph-indexer-test", Environment: "test"})
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	defer func() { _ = mp.Shutdown(context.Background(), logger) }()

	metrics, err := InitGraphQLMetrics(logger)
	require.NoError(t, err)
	require.NotNil(t, metrics.requestDuration)
	require.NotNil(t, metrics.requestCounter)
	require.NotNil(t, metrics.errorCounter)
	require.NotNil(t, metrics.activeRequests)
	require.NotNil(t, metrics.resultsCount)

	ctx := ContextWithGraphQLMetrics(context.Background(), metrics)
	assert.Same(t, metrics, GraphQLMetricsFromContext(ctx))
	assert.Nil(t, GraphQLMetricsFromContext(context.Background()))

	var none *GraphQLMetrics
	assert.NotPanics(t, func() {
		none.RecordRequest(ctx, time.Millisecond, true, "query", "lending.main")
		none.RecordResultsCount(ctx, 3, "lending.main")
		none.IncrementActiveRequests(ctx)
	})
}

func TestResolveExporterSettings(t *testing.T) {
	s, err := resolveExporterSettings(OTLPExporterConfig{
		Endpoint:         "https://collector.example:4318",
		Protocol:         "HTTP",
		Compression:      "GZIP",
		Headers:          map[string]string{"x-api-key": "k"},
		RetryEnabled:     true,
		RetryMaxAttempts: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, otlpProtocolHTTP, s.protocol)
	assert.True(t, s.endpointIsURL)
	assert.True(t, s.gzip)
	require.NotNil(t, s.tls)
	assert.Nil(t, s.tls.RootCAs, "system roots are used without a CA file")
	require.NotNil(t, s.retry)
	assert.Equal(t, 15*time.Second, s.retry.maxElapsed)
	assert.Len(t, traceHTTPOptions(s), 5)
	assert.Len(t, logHTTPOptions(s), 5)

	s, err = resolveExporterSettings(OTLPExporterConfig{Endpoint: "localhost:4317", Insecure: true, RetryEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, otlpProtocolGRPC, s.protocol)
	assert.False(t, s.endpointIsURL)
	assert.Nil(t, s.tls)
	assert.Nil(t, s.retry, "retry needs a positive attempt budget")
	assert.Len(t, traceGRPCOptions(s), 2)
	assert.Len(t, logGRPCOptions(s), 2)

	_, err = resolveExporterSettings(OTLPExporterConfig{Protocol: "thrift"})
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}

func TestLoadTLSConfig_FileNotFound(t *testing.T) {
	_, err := loadTLSConfig("/nonexistent/ca.pem")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read OTLP TLS CA file")
}

func TestLoadTLSConfig_InvalidCertFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := resolveExporterSettings(OTLPExporterConfig{TLSCertFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse OTLP TLS CA file")
}

func TestTraceSamplerForRatio(t *testing.T) {
	parent := func(flags trace.TraceFlags) context.Context {
		return trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    trace.TraceID{0xaa},
			SpanID:     trace.SpanID{0x01},
			TraceFlags: flags,
			Remote:     true,
		}))
	}

	tests := []struct {
		name  string
		ratio float64
		ctx   context.Context
		want  sdktrace.SamplingDecision
	}{
		{name: "zero drops root spans", ratio: 0, ctx: context.Background(), want: sdktrace.Drop},
		{name: "negative behaves like zero", ratio: -0.3, ctx: context.Background(), want: sdktrace.Drop},
		{name: "one keeps root spans", ratio: 1, ctx: context.Background(), want: sdktrace.RecordAndSample},
		{name: "zero ignores a sampled parent", ratio: 0, ctx: parent(trace.FlagsSampled), want: sdktrace.Drop},
		{name: "partial follows a sampled parent", ratio: 0.25, ctx: parent(trace.FlagsSampled), want: sdktrace.RecordAndSample},
		{name: "partial follows an unsampled parent", ratio: 0.75, ctx: parent(0), want: sdktrace.Drop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := traceSamplerForRatio(tt.ratio).ShouldSample(sdktrace.SamplingParameters{
				ParentContext: tt.ctx,
				TraceID:       trace.TraceID{0xbb},
				Name:          "indexer.batch",
			})
			assert.Equal(t, tt.want, got.Decision)
		})
	}
}
