package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Server.validate(result)
	c.Indexer.validate(result)
	c.SchemaRefresh.validate(result)
	c.Observability.validate(result)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if _, err := d.Dialect(); err != nil {
		result.addError("database.driver", err.Error(), "valid values are: pgx, postgres, mysql")
	}

	if strings.TrimSpace(d.ConnectionString) == "" {
		if d.Port < 1 || d.Port > 65535 {
			result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
		}
		if strings.TrimSpace(d.Host) == "" {
			result.addError("database.host", "host is required when dsn is not set", "set database.host or database.dsn")
		}
		if strings.TrimSpace(d.Database) == "" {
			result.addError("database.database", "database name is required when dsn is not set", "")
		}
	}

	if d.Pool.MaxOpen < 0 {
		result.addError("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.addError("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxOpen > 0 && d.Pool.MaxIdle > d.Pool.MaxOpen {
		result.addWarning("database.pool.max_idle",
			fmt.Sprintf("max_idle (%d) exceeds max_open (%d)", d.Pool.MaxIdle, d.Pool.MaxOpen),
			"idle connections are capped at max_open")
	}
	if d.Pool.MaxOpen == 1 {
		result.addWarning("database.pool.max_open",
			"a single connection serialises executor transactions and queries",
			"allow at least one connection per indexer plus headroom for queries")
	}
	if d.ConnectionTimeout <= 0 {
		result.addError("database.connection_timeout", "connection_timeout must be positive", "")
	}
	if d.ConnectionRetryInterval <= 0 {
		result.addError("database.connection_retry_interval", "connection_retry_interval must be positive", "")
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.addError("server.port", fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port), "")
	}
	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.addError("server.rate_limit_rps", "rate_limit_rps must be positive when rate limiting is enabled", "")
		}
		if s.RateLimitBurst <= 0 {
			result.addError("server.rate_limit_burst", "rate_limit_burst must be positive when rate limiting is enabled", "")
		}
	}
	if s.MaxRequestBodyBytes < 0 {
		result.addError("server.max_request_body_bytes", "max_request_body_bytes cannot be negative", "")
	}
	if s.CORSEnabled && len(s.CORSAllowedOrigins) == 0 {
		result.addWarning("server.cors_allowed_origins", "CORS is enabled but no origins are allowed",
			"set server.cors_allowed_origins")
	}
	if s.CORSAllowCredentials {
		for _, origin := range s.CORSAllowedOrigins {
			if origin == "*" {
				result.addError("server.cors_allow_credentials",
					"credentials cannot be combined with a wildcard origin",
					"list explicit origins instead of *")
				break
			}
		}
	}
	if s.ShutdownTimeout <= 0 {
		result.addError("server.shutdown_timeout", "shutdown_timeout must be positive", "")
	}
	if s.GraphQLMaxDepth < 0 || s.GraphQLMaxComplexity < 0 {
		result.addError("server.graphql_max_depth", "GraphQL limits cannot be negative", "use 0 to disable a limit")
	}
}

func (i *IndexerConfig) validate(result *ValidationResult) {
	if i.PageSize <= 0 {
		result.addError("indexer.page_size", "page_size must be positive", "")
	}
	if i.MaxFailedCalls <= 0 {
		result.addError("indexer.max_failed_calls", "max_failed_calls must be positive", "")
	}
	if i.StopIdleIndexers && i.MaxEmptyPages <= 0 {
		result.addError("indexer.max_empty_pages", "max_empty_pages must be positive when stop_idle_indexers is set", "")
	}
	if i.IdleWait < 0 || i.ErrorDelay < 0 {
		result.addError("indexer.idle_wait", "idle_wait and error_delay cannot be negative", "")
	}
	if i.HandlerTimeout <= 0 {
		result.addError("indexer.handler_timeout", "handler_timeout must be positive", "")
	}
	if len(i.Manifests) == 0 {
		result.addWarning("indexer.manifests", "no indexer manifests configured",
			"the server will only answer queries for schemas already in the catalog")
	}
}

func (r *SchemaRefreshConfig) validate(result *ValidationResult) {
	if r.MinInterval < 0 || r.MaxInterval < 0 {
		result.addError("schema_refresh", "intervals cannot be negative", "")
		return
	}
	if r.MinInterval > 0 && r.MaxInterval > 0 && r.MaxInterval < r.MinInterval {
		result.addWarning("schema_refresh.max_interval", "max_interval is below min_interval",
			"max_interval will be raised to min_interval")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.addError("observability.logging.level",
			fmt.Sprintf("invalid log level %q", o.Logging.Level),
			"valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format",
			fmt.Sprintf("invalid log format %q", o.Logging.Format),
			"valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio",
			fmt.Sprintf("trace_sample_ratio %v must be between 0 and 1", o.TraceSampleRatio), "")
	}

	if o.TracingEnabled || o.Logging.ExportsEnabled {
		o.OTLP.validate("observability.otlp", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.addError(prefix+".protocol",
			fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			"valid values are: grpc, http/protobuf")
	}

	if !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint",
			fmt.Sprintf("invalid OTLP endpoint %q", o.Endpoint),
			"use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression",
			fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			"valid values are: none, gzip")
	}

	if o.RetryMaxAttempts < 0 {
		result.addError(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
