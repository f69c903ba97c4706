package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"graph-indexer/internal/catalog"
	"graph-indexer/internal/dbexec"
	"graph-indexer/internal/planner"
	"graph-indexer/internal/resolver"
	"graph-indexer/internal/schemarefresh"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	manifests, err := loadManifests(a.cfg.Indexer.Manifests)
	if err != nil {
		return fmt.Errorf("failed to load manifests: %w", err)
	}

	a.logger.Info("connecting to database",
		slog.String("driver", a.cfg.Database.DriverName()),
		slog.String("dsn", a.cfg.Database.RedactedDSN()),
		slog.String("dialect", a.dialect.String()),
	)

	db, dbStatsReg, err := connectDB(a.cfg, a.dialect, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(_ context.Context) error {
		if dbStatsReg != nil {
			if err := dbStatsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	var executor dbexec.QueryExecutor = dbexec.NewStandardExecutor(db)
	if a.cfg.Database.Verbose {
		executor = dbexec.NewLoggingExecutor(executor, a.logger)
	}

	cat, err := catalog.NewManager(catalog.Config{
		DB:       db,
		Executor: executor,
		Dialect:  a.dialect,
		Logger:   a.logger,
		Metrics:  metrics.catalog,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}
	if err := cat.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate catalog: %w", err)
	}

	indexers, err := registerManifests(ctx, a.cfg, cat, manifests)
	if err != nil {
		return err
	}

	res, err := resolver.NewResolver(resolver.Config{
		Schemas:  cat,
		Executor: executor,
		Dialect:  a.dialect,
		Limits: planner.PlanLimits{
			MaxDepth:      a.cfg.Server.GraphQLMaxDepth,
			MaxComplexity: a.cfg.Server.GraphQLMaxComplexity,
		},
		Logger: a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize resolver: %w", err)
	}

	refresh, err := schemarefresh.NewManager(schemarefresh.Config{
		Catalog:     cat,
		Logger:      a.logger,
		Metrics:     metrics.refresh,
		MinInterval: a.cfg.SchemaRefresh.MinInterval,
		MaxInterval: a.cfg.SchemaRefresh.MaxInterval,
		OnChange: func(c schemarefresh.Change) {
			res.Invalidate(c.Key.Namespace, c.Key.Identifier)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize schema refresh manager: %w", err)
	}

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.tracerProvider = tracerProvider
	a.metrics = metrics
	a.db = db
	a.dbStatsReg = dbStatsReg
	a.catalog = cat
	a.resolver = res
	a.refresh = refresh
	a.indexers = indexers
	a.stateMu.Unlock()

	if a.cfg.Indexer.RunExecutors {
		if err := a.buildExecutors(indexers); err != nil {
			return err
		}
	} else {
		a.logger.Info("executors disabled; serving queries only", slog.Int("indexers", len(indexers)))
	}

	handler := a.wrapHTTPHandler(a.buildRouter())
	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	a.stateMu.Lock()
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
