package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "GRAPH_INDEXER"

var defineFlagsOnce sync.Once

// Load loads configuration from multiple sources with the following precedence:
// 1. Explicit overrides (v.Set) – used only for interactive password prompt
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
func Load() (*Config, error) {
	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}
	cfgPath, _ := pflag.CommandLine.GetString("config")
	return load(pflag.CommandLine, cfgPath)
}

func load(flags *pflag.FlagSet, cfgPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("graph-indexer")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/graph-indexer/")
		v.AddConfigPath("$HOME/.graph-indexer")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Env vars: GRAPH_INDEXER_INDEXER_PAGE_SIZE
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		bindChangedFlagsToViper(flags, v)
	}

	if err := resolvePassword(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindChangedFlagsToViper binds only the flags given on the command line.
// Unset flags would otherwise shadow env and file values with their zero
// defaults.
func bindChangedFlagsToViper(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}
		_ = v.BindPFlag(f.Name, f)
	})
}

// resolvePassword fills database.password from password_file or an
// interactive prompt when it was not given directly.
func resolvePassword(v *viper.Viper) error {
	if v.GetString("database.password") != "" {
		return nil
	}
	if path := v.GetString("database.password_file"); path != "" {
		pwd, err := readSecretFile(path)
		if err != nil {
			return fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
		return nil
	}
	if v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}
	return nil
}

// defineFlags defines all command line flags using canonical snake_case keys.
func defineFlags() {
	defineFlagsOnce.Do(func() {
		registerFlags(pflag.CommandLine)
	})
}

func registerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file")

	fs.String("database.driver", "", "database/sql driver: pgx, postgres or mysql")
	fs.String("database.dsn", "", "Complete driver DSN (overrides discrete connection flags)")
	fs.String("database.host", "", "Database host")
	fs.Int("database.port", 0, "Database port")
	fs.String("database.user", "", "Database user")
	fs.String("database.password", "", "Database password")
	fs.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	fs.Bool("database.password_prompt", false, "Prompt for database password securely")
	fs.String("database.database", "", "Database name")
	fs.String("database.sslmode", "", "Postgres sslmode")
	fs.Duration("database.connection_timeout", 0, "Max time to wait for the database on startup")
	fs.Bool("database.verbose", false, "Log SQL statements at debug level")

	fs.Int("server.port", 0, "HTTP server port")
	fs.Bool("server.graphiql_enabled", false, "Serve the GraphiQL page for each indexer")
	fs.Bool("server.rate_limit_enabled", false, "Enable request rate limiting")
	fs.Float64("server.rate_limit_rps", 0, "Rate limit requests per second")
	fs.Int("server.rate_limit_burst", 0, "Rate limit burst size")
	fs.Bool("server.rate_limit_per_client", false, "Keep a separate rate limit bucket per client host")
	fs.Bool("server.cors_enabled", false, "Enable CORS handling")
	fs.StringSlice("server.cors_allowed_origins", nil, "Allowed CORS origins")
	fs.Int("server.graphql_max_depth", 0, "Maximum selection depth per root field (0 disables)")

	fs.StringSlice("indexer.manifests", nil, "Indexer manifest files to register and run")
	fs.Bool("indexer.run_executors", true, "Run executors for registered manifests")
	fs.Bool("indexer.replace_existing", false, "Replace an existing schema with a different version")
	fs.Int("indexer.page_size", 0, "Blocks requested per page")
	fs.Int("indexer.max_failed_calls", 0, "Consecutive failures tolerated before an executor stops")
	fs.Bool("indexer.stop_idle_indexers", false, "Stop executors after max_empty_pages empty fetches")
	fs.Duration("indexer.handler_timeout", 0, "Timeout wrapping each handler invocation")

	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.metrics_enabled", false, "Expose Prometheus metrics")
	fs.Bool("observability.tracing_enabled", false, "Export traces over OTLP")
	fs.String("observability.otlp.endpoint", "", "OTLP collector endpoint")
}

// defaults mirrors the YAML layout: top-level section, then key.
var defaults = map[string]map[string]any{
	"database": {
		"driver":                    "pgx",
		"host":                      "localhost",
		"port":                      5432,
		"user":                      "postgres",
		"password":                  "",
		"password_file":             "",
		"password_prompt":           false,
		"database":                  "postgres",
		"sslmode":                   "disable",
		"dsn":                       "",
		"pool.max_open":             25,
		"pool.max_idle":             5,
		"pool.max_lifetime":         5 * time.Minute,
		"connection_timeout":        60 * time.Second,
		"connection_retry_interval": 2 * time.Second,
		"verbose":                   false,
	},
	"server": {
		"port":                   29987,
		"graphiql_enabled":       false,
		"max_request_body_bytes": int64(1 << 20),
		"rate_limit_enabled":     false,
		"rate_limit_rps":         10.0,
		"rate_limit_burst":       20,
		"rate_limit_per_client":  false,
		"cors_enabled":           false,
		"cors_allowed_origins":   []string{},
		"cors_allowed_methods":   []string{"GET", "POST", "OPTIONS"},
		"cors_allowed_headers":   []string{"Content-Type", "Authorization"},
		"cors_allow_credentials": false,
		"cors_max_age":           600,
		"read_timeout":           15 * time.Second,
		"write_timeout":          30 * time.Second,
		"idle_timeout":           60 * time.Second,
		"shutdown_timeout":       30 * time.Second,
		"health_check_timeout":   2 * time.Second,
		"graphql_max_depth":      8,
		"graphql_max_complexity": 0,
	},
	"indexer": {
		"manifests":          []string{},
		"run_executors":      true,
		"replace_existing":   false,
		"page_size":          10,
		"max_failed_calls":   10,
		"stop_idle_indexers": false,
		"max_empty_pages":    10,
		"idle_wait":          3 * time.Second,
		"error_delay":        5 * time.Second,
		"handler_timeout":    5 * time.Second,
		"node_timeout":       30 * time.Second,
	},
	"schema_refresh": {
		"min_interval": 30 * time.Second,
		"max_interval": 5 * time.Minute,
	},
	"observability": {
		"service_name":            "graph-indexer",
		"service_version":         "",
		"environment":             "development",
		"metrics_enabled":         true,
		"tracing_enabled":         false,
		"trace_sample_ratio":      1.0,
		"logging.level":           "info",
		"logging.format":          "json",
		"logging.exports_enabled": false,
		"otlp.endpoint":           "localhost:4317",
		"otlp.protocol":           "grpc",
		"otlp.insecure":           true,
		"otlp.tls_cert_file":      "",
		"otlp.headers":            map[string]string{},
		"otlp.timeout":            10 * time.Second,
		"otlp.compression":        "gzip",
		"otlp.retry_enabled":      true,
		"otlp.retry_max_attempts": 5,
	},
}

func setDefaults(v *viper.Viper) {
	for section, values := range defaults {
		for key, value := range values {
			v.SetDefault(section+"."+key, value)
		}
	}
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	defer fmt.Fprintln(os.Stderr)
	pwd, err := term.ReadPassword(int(syscall.Stdin))
	return string(pwd), err
}

// readSecretFile reads a secret from path, or from stdin when path is @-.
func readSecretFile(path string) (string, error) {
	read := func() ([]byte, error) { return os.ReadFile(path) }
	if path == "@-" {
		read = func() ([]byte, error) { return io.ReadAll(os.Stdin) }
	}
	data, err := read()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// stringToStringSliceHookFunc lets env vars and YAML scalars supply lists
// such as GRAPH_INDEXER_INDEXER_MANIFESTS=a.yaml,b.yaml.
func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	stringSlice := reflect.TypeOf([]string{})
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != stringSlice {
			return data, nil
		}
		parts := []string{}
		for _, p := range strings.Split(data.(string), sep) {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		return parts, nil
	}
}
