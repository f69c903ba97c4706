// Package serverapp wires configuration, the database, the schema catalog,
// the GraphQL resolver and the indexer executors into one process lifecycle.
package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"graph-indexer/internal/catalog"
	"graph-indexer/internal/config"
	"graph-indexer/internal/dialect"
	"graph-indexer/internal/logging"
	"graph-indexer/internal/observability"
	"graph-indexer/internal/resolver"
	"graph-indexer/internal/schemarefresh"
)

// App owns runtime resources for the graph-indexer server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider
	metrics        metricSet

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }
	dialect    dialect.Dialect

	catalog  *catalog.Manager
	resolver *resolver.Resolver
	refresh  *schemarefresh.Manager
	indexers []*indexer

	handler    http.Handler
	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error
	workers      *errgroup.Group
	stopWorkers  context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	d, err := cfg.Database.Dialect()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database dialect: %w", err)
	}
	if d == dialect.SQLite {
		return nil, fmt.Errorf("driver %q cannot host the schema catalog", cfg.Database.DriverName())
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		dialect: d,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the root HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
