// Package observability wires OpenTelemetry into the indexer: a Prometheus
// backed meter provider, OTLP trace and log exporters, and the domain
// instruments recorded by the catalog, executors and query API.
package observability

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds OpenTelemetry configuration.
type Config struct {
	ServiceName      string
	ServiceVersion   string
	Environment      string
	TraceSampleRatio float64
	OTLPConfig       OTLPExporterConfig
}

// OTLPExporterConfig is shared by the trace and log exporters.
type OTLPExporterConfig struct {
	Endpoint string
	// Protocol is grpc (default) or http/protobuf.
	Protocol         string
	Insecure         bool
	TLSCertFile      string
	Headers          map[string]string
	Timeout          time.Duration
	Compression      string
	RetryEnabled     bool
	RetryMaxAttempts int
}

const (
	providerShutdownTimeout = 5 * time.Second
	retryInitialInterval    = time.Second
	retryMaxInterval        = 5 * time.Second
)

type otlpProtocol string

const (
	otlpProtocolGRPC otlpProtocol = "grpc"
	otlpProtocolHTTP otlpProtocol = "http/protobuf"
)

func parseOTLPProtocol(value string) (otlpProtocol, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(otlpProtocolGRPC):
		return otlpProtocolGRPC, nil
	case "http", string(otlpProtocolHTTP):
		return otlpProtocolHTTP, nil
	default:
		return "", fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", value)
	}
}

// serviceResource describes this process. It is schemaless so it merges
// cleanly with resource.Default regardless of the SDK's semconv version.
func serviceResource(cfg Config) (*resource.Resource, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// retrySettings is the protocol-neutral shape of the exporters' RetryConfig.
type retrySettings struct {
	initial    time.Duration
	max        time.Duration
	maxElapsed time.Duration
}

// exporterSettings is an OTLPExporterConfig resolved once and then mapped
// onto each exporter's option type.
type exporterSettings struct {
	protocol      otlpProtocol
	endpoint      string
	endpointIsURL bool
	insecure      bool
	tls           *tls.Config
	headers       map[string]string
	timeout       time.Duration
	gzip          bool
	retry         *retrySettings
}

func resolveExporterSettings(cfg OTLPExporterConfig) (exporterSettings, error) {
	protocol, err := parseOTLPProtocol(cfg.Protocol)
	if err != nil {
		return exporterSettings{}, err
	}
	s := exporterSettings{
		protocol:      protocol,
		endpoint:      cfg.Endpoint,
		endpointIsURL: strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://"),
		insecure:      cfg.Insecure,
		headers:       cfg.Headers,
		timeout:       cfg.Timeout,
		gzip:          strings.EqualFold(cfg.Compression, "gzip"),
	}
	if !cfg.Insecure {
		if s.tls, err = loadTLSConfig(cfg.TLSCertFile); err != nil {
			return exporterSettings{}, err
		}
	}
	if cfg.RetryEnabled && cfg.RetryMaxAttempts > 0 {
		s.retry = &retrySettings{
			initial:    retryInitialInterval,
			max:        retryMaxInterval,
			maxElapsed: time.Duration(cfg.RetryMaxAttempts) * retryMaxInterval,
		}
	}
	return s, nil
}

// loadTLSConfig trusts the system roots, or only caFile when it is set.
func loadTLSConfig(caFile string) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return tlsConfig, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read OTLP TLS CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("failed to parse OTLP TLS CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func shutdownProvider(ctx context.Context, logger *slog.Logger, name string, p shutdowner) error {
	ctx, cancel := context.WithTimeout(ctx, providerShutdownTimeout)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down "+name+" provider", slog.String("error", err.Error()))
		return err
	}
	logger.Debug(name + " provider shut down")
	return nil
}
