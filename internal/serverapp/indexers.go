package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"graph-indexer/internal/blocks"
	"graph-indexer/internal/catalog"
	"graph-indexer/internal/config"
	"graph-indexer/internal/executor"
	"graph-indexer/internal/handler"
	"graph-indexer/internal/logging"
	"graph-indexer/internal/schema"
)

// indexer pairs a registered manifest with its executor. exec is nil when
// executors are disabled for this process.
type indexer struct {
	manifest *config.Manifest
	schema   *schema.ParsedSchema
	exec     *executor.Executor
}

// IndexerStatus is one indexer's entry in the health report.
type IndexerStatus struct {
	Indexer string           `json:"indexer"`
	Version string           `json:"version"`
	Status  *executor.Status `json:"executor,omitempty"`
}

func loadManifests(paths []string) ([]*config.Manifest, error) {
	manifests := make([]*config.Manifest, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		m, err := config.LoadManifest(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[m.UID()]; ok {
			return nil, fmt.Errorf("manifests %q and %q both declare %s", prev, path, m.UID())
		}
		seen[m.UID()] = path
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// registerManifests creates or verifies each manifest's schema in the catalog.
func registerManifests(ctx context.Context, cfg *config.Config, cat *catalog.Manager, manifests []*config.Manifest) ([]*indexer, error) {
	indexers := make([]*indexer, 0, len(manifests))
	for _, m := range manifests {
		text, err := m.ReadSchema()
		if err != nil {
			return nil, err
		}
		reg, err := cat.Register(ctx, m.Namespace, m.Identifier, text, cfg.Indexer.ReplaceExisting)
		if err != nil {
			if errors.Is(err, catalog.ErrAlreadyExists) {
				return nil, fmt.Errorf("register %s: %w (set indexer.replace_existing to supersede it)", m.UID(), err)
			}
			return nil, fmt.Errorf("register %s: %w", m.UID(), err)
		}
		indexers = append(indexers, &indexer{manifest: m, schema: reg.Schema})
	}
	return indexers, nil
}

func executorConfig(cfg config.IndexerConfig, m *config.Manifest, s *schema.ParsedSchema, a *App) executor.Config {
	ec := executor.Config{
		Schema:         s,
		Dialect:        a.dialect,
		StartBlock:     m.StartBlock,
		EndBlock:       m.EndBlock,
		Resumable:      m.IsResumable(),
		PageSize:       cfg.PageSize,
		MaxFailedCalls: cfg.MaxFailedCalls,
		IdleWait:       cfg.IdleWait,
		ErrorDelay:     cfg.ErrorDelay,
		HandlerTimeout: cfg.HandlerTimeout,
	}
	if cfg.StopIdleIndexers {
		ec.MaxEmptyPages = cfg.MaxEmptyPages
	}
	return ec
}

// buildExecutors attaches a block source, remote handler and executor to
// every registered indexer.
func (a *App) buildExecutors(indexers []*indexer) error {
	cfg := a.cfg.Indexer
	for _, ix := range indexers {
		m := ix.manifest
		logger := a.logger.WithIndexer(m.Namespace, m.Identifier)

		source, err := blocks.NewGraphQLClient(blocks.ClientConfig{
			URL:        m.NodeURL,
			HTTPClient: instrumentedClient(cfg.NodeTimeout),
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("block source for %s: %w", m.UID(), err)
		}
		remote, err := handler.NewRemoteHandler(m.HandlerURL, instrumentedClient(0), logger)
		if err != nil {
			return fmt.Errorf("handler for %s: %w", m.UID(), err)
		}

		exec, err := executor.New(executorConfig(cfg, m, ix.schema, a), source, remote, a.db, logger, a.metrics.executor)
		if err != nil {
			return fmt.Errorf("executor for %s: %w", m.UID(), err)
		}
		ix.exec = exec
	}
	return nil
}

// instrumentedClient returns an HTTP client traced with otelhttp. The
// handler client carries no timeout of its own; the executor bounds it.
func instrumentedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// runExecutor runs one executor until it stops. A failed executor is logged
// and does not take the process or its siblings down.
func runExecutor(ctx context.Context, logger *logging.Logger, exec *executor.Executor) {
	err := exec.Run(ctx)
	status := exec.Status()
	if err != nil {
		logger.Error("executor stopped",
			slog.String("indexer", exec.UID()),
			slog.String("state", string(status.State)),
			slog.Uint64("height", status.Height),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("executor stopped",
		slog.String("indexer", exec.UID()),
		slog.String("state", string(status.State)),
		slog.Uint64("height", status.Height),
	)
}

func (a *App) indexerStatuses() []IndexerStatus {
	out := make([]IndexerStatus, 0, len(a.indexers))
	for _, ix := range a.indexers {
		entry := IndexerStatus{Indexer: ix.manifest.UID(), Version: ix.schema.Version}
		if ix.exec != nil {
			status := ix.exec.Status()
			entry.Status = &status
		}
		out = append(out, entry)
	}
	return out
}
