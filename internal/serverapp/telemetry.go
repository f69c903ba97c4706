package serverapp

import (
	"log/slog"

	"graph-indexer/internal/config"
	"graph-indexer/internal/logging"
	"graph-indexer/internal/observability"
)

// metricSet groups the domain instruments. Every field is nil when metrics
// are disabled; their Record methods tolerate that.
type metricSet struct {
	graphql  *observability.GraphQLMetrics
	catalog  *observability.CatalogMetrics
	executor *observability.ExecutorMetrics
	refresh  *observability.SchemaRefreshMetrics
}

func otlpExporterConfig(cfg config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:         cfg.Endpoint,
		Protocol:         cfg.Protocol,
		Insecure:         cfg.Insecure,
		TLSCertFile:      cfg.TLSCertFile,
		Headers:          cfg.Headers,
		Timeout:          cfg.Timeout,
		Compression:      cfg.Compression,
		RetryEnabled:     cfg.RetryEnabled,
		RetryMaxAttempts: cfg.RetryMaxAttempts,
	}
}

func otelConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig:       otlpExporterConfig(cfg.Observability.OTLP),
	}
}

// InitLogger builds the process logger. When log export is enabled the
// returned provider must be attached to the App so it is flushed on shutdown.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", cfg.Observability.OTLP.Endpoint),
		slog.String("otlp_protocol", cfg.Observability.OTLP.Protocol),
	)

	loggerProvider, err := observability.InitLoggerProvider(otelConfig(cfg))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, metricSet, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, metricSet{}, nil
	}

	meterProvider, err := observability.InitMeterProvider(otelConfig(cfg))
	if err != nil {
		return nil, metricSet{}, err
	}

	var set metricSet
	if set.graphql, err = observability.InitGraphQLMetrics(logger.Logger); err != nil {
		return nil, metricSet{}, err
	}
	if set.catalog, err = observability.InitCatalogMetrics(logger.Logger); err != nil {
		return nil, metricSet{}, err
	}
	if set.executor, err = observability.InitExecutorMetrics(logger.Logger); err != nil {
		return nil, metricSet{}, err
	}
	if set.refresh, err = observability.InitSchemaRefreshMetrics(logger.Logger); err != nil {
		return nil, metricSet{}, err
	}

	logger.Info("OpenTelemetry metrics initialized",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("environment", cfg.Observability.Environment),
	)
	return meterProvider, set, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracerProvider, err := observability.InitTracerProvider(otelConfig(cfg))
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized",
		slog.String("otlp_endpoint", cfg.Observability.OTLP.Endpoint),
		slog.String("otlp_protocol", cfg.Observability.OTLP.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)
	return tracerProvider, nil
}
