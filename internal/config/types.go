package config

import (
	"time"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Indexer       IndexerConfig       `mapstructure:"indexer"`
	SchemaRefresh SchemaRefreshConfig `mapstructure:"schema_refresh"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// Driver is the database/sql driver name: "pgx" (default), "postgres" (lib/pq) or "mysql".
	Driver string `mapstructure:"driver"`

	// ConnectionString is a complete driver-specific DSN. When set it overrides
	// the discrete connection fields.
	ConnectionString string `mapstructure:"dsn"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`
	// SSLMode is passed through to Postgres drivers (disable, require, verify-full, ...).
	SSLMode string `mapstructure:"sslmode"`

	Pool PoolConfig `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for DB on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`

	// Verbose logs every catalog and query statement at debug level.
	Verbose bool `mapstructure:"verbose"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port                 int           `mapstructure:"port"`
	GraphiQLEnabled      bool          `mapstructure:"graphiql_enabled"`
	MaxRequestBodyBytes  int64         `mapstructure:"max_request_body_bytes"`
	RateLimitEnabled     bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRPS         float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int           `mapstructure:"rate_limit_burst"`
	RateLimitPerClient   bool          `mapstructure:"rate_limit_per_client"`
	CORSEnabled          bool          `mapstructure:"cors_enabled"`
	CORSAllowedOrigins   []string      `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string      `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string      `mapstructure:"cors_allowed_headers"`
	CORSAllowCredentials bool          `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int           `mapstructure:"cors_max_age"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout   time.Duration `mapstructure:"health_check_timeout"`
	// GraphQLMaxDepth and GraphQLMaxComplexity bound each root field; zero disables a limit.
	GraphQLMaxDepth      int `mapstructure:"graphql_max_depth"`
	GraphQLMaxComplexity int `mapstructure:"graphql_max_complexity"`
}

// IndexerConfig controls schema registration and the executor loop.
type IndexerConfig struct {
	// Manifests lists indexer manifest files to register and run at startup.
	Manifests []string `mapstructure:"manifests"`
	// RunExecutors starts one executor per manifest. Disable for query-only replicas.
	RunExecutors bool `mapstructure:"run_executors"`
	// ReplaceExisting supersedes a registered schema whose version differs.
	ReplaceExisting bool `mapstructure:"replace_existing"`

	PageSize         int           `mapstructure:"page_size"`
	MaxFailedCalls   int           `mapstructure:"max_failed_calls"`
	StopIdleIndexers bool          `mapstructure:"stop_idle_indexers"`
	MaxEmptyPages    int           `mapstructure:"max_empty_pages"`
	IdleWait         time.Duration `mapstructure:"idle_wait"`
	ErrorDelay       time.Duration `mapstructure:"error_delay"`
	HandlerTimeout   time.Duration `mapstructure:"handler_timeout"`
	NodeTimeout      time.Duration `mapstructure:"node_timeout"`
}

// SchemaRefreshConfig controls catalog polling for redeployed schemas.
type SchemaRefreshConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	ExportsEnabled bool   `mapstructure:"exports_enabled"`
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`
	OTLP             OTLPConfig    `mapstructure:"otlp"`
}

// OTLPConfig holds OTLP exporter settings shared by traces and logs.
type OTLPConfig struct {
	Endpoint         string            `mapstructure:"endpoint"`
	Protocol         string            `mapstructure:"protocol"`
	Insecure         bool              `mapstructure:"insecure"`
	TLSCertFile      string            `mapstructure:"tls_cert_file"`
	Headers          map[string]string `mapstructure:"headers"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	Compression      string            `mapstructure:"compression"`
	RetryEnabled     bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts int               `mapstructure:"retry_max_attempts"`
}
