// Package schemarefresh polls the catalog for redeployed indexer schemas and
// evicts stale cache entries when a version changes.
package schemarefresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"graph-indexer/internal/catalog"
	"graph-indexer/internal/logging"
	"graph-indexer/internal/observability"
)

// Catalog is the subset of catalog.Manager the refresher needs.
type Catalog interface {
	Cached() []catalog.Key
	CachedVersion(namespace, identifier string) (string, bool)
	LatestVersion(ctx context.Context, namespace, identifier string) (string, error)
	Invalidate(namespace, identifier string)
}

// Change describes one detected redeploy or removal.
type Change struct {
	Key     catalog.Key
	From    string
	To      string
	Removed bool
}

// Config controls schema refresh behavior.
type Config struct {
	Catalog     Catalog
	Logger      *logging.Logger
	Metrics     *observability.SchemaRefreshMetrics
	MinInterval time.Duration
	MaxInterval time.Duration
	// OnChange runs after the cache entry has been evicted.
	OnChange func(Change)
}

// Status is a point-in-time view of the refresher for health reporting.
type Status struct {
	LastPoll    time.Time
	LastChange  time.Time
	Interval    time.Duration
	LastError   string
	ChangeCount int64
}

// Manager polls indexer schema versions.
type Manager struct {
	catalog     Catalog
	logger      *logging.Logger
	metrics     *observability.SchemaRefreshMetrics
	minInterval time.Duration
	maxInterval time.Duration
	onChange    func(Change)

	status  atomic.Value
	changes atomic.Int64
	wg      sync.WaitGroup
}

// NewManager returns a refresher. It does not poll until Start is called.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("schema refresh manager requires a catalog")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}

	minInterval := cfg.MinInterval
	maxInterval := cfg.MaxInterval
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	if maxInterval <= 0 {
		maxInterval = 5 * time.Minute
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	m := &Manager{
		catalog:     cfg.Catalog,
		logger:      cfg.Logger.WithComponent("schema_refresh"),
		metrics:     cfg.Metrics,
		minInterval: minInterval,
		maxInterval: maxInterval,
		onChange:    cfg.OnChange,
	}
	m.status.Store(Status{Interval: minInterval})
	return m, nil
}

// Start begins the background refresh loop.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()
}

// Wait blocks until the refresh loop exits or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the latest polling status.
func (m *Manager) Status() Status {
	s, _ := m.status.Load().(Status)
	s.ChangeCount = m.changes.Load()
	return s
}

// RefreshNow polls every cached indexer once.
func (m *Manager) RefreshNow(ctx context.Context) ([]Change, error) {
	start := time.Now()
	changes, err := m.poll(ctx)
	m.metrics.RecordRefresh(ctx, time.Since(start), err == nil, "manual")
	m.storeStatus(start, changes, err, m.Status().Interval)
	return changes, err
}

func (m *Manager) refreshLoop(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema refresh stopped")
			return
		case <-timer.C:
			m.refreshOnce(ctx, &interval)
			timer.Reset(interval)
		}
	}
}

func (m *Manager) refreshOnce(ctx context.Context, interval *time.Duration) {
	start := time.Now()
	changes, err := m.poll(ctx)
	switch {
	case err != nil:
		m.logger.Warn("schema version poll failed", slog.String("error", err.Error()))
		m.metrics.RecordRefresh(ctx, time.Since(start), false, "poll")
		*interval = m.minInterval
	case len(changes) == 0:
		m.metrics.RecordRefresh(ctx, time.Since(start), true, "poll_no_change")
		*interval = nextInterval(*interval, m.minInterval, m.maxInterval)
	default:
		m.metrics.RecordRefresh(ctx, time.Since(start), true, "poll")
		*interval = m.minInterval
	}
	m.storeStatus(start, changes, err, *interval)
}

// poll compares each cached version with the catalog. Errors for one indexer
// do not stop the others; they are joined into the returned error.
func (m *Manager) poll(ctx context.Context) ([]Change, error) {
	ctx, span := otel.Tracer("graph-indexer/catalog").Start(ctx, "schema_refresh.poll")
	defer span.End()

	var (
		changes []Change
		errs    []error
	)
	keys := m.catalog.Cached()
	span.SetAttributes(attribute.Int("schema_refresh.indexers", len(keys)))

	for _, key := range keys {
		cached, ok := m.catalog.CachedVersion(key.Namespace, key.Identifier)
		if !ok {
			continue
		}
		latest, err := m.catalog.LatestVersion(ctx, key.Namespace, key.Identifier)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			span.RecordError(err)
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if err == nil && latest == cached {
			continue
		}

		change := Change{Key: key, From: cached, To: latest, Removed: err != nil}
		m.catalog.Invalidate(key.Namespace, key.Identifier)
		m.changes.Add(1)
		m.metrics.RecordChange(ctx, key.String(), change.Removed)
		m.logger.WithIndexer(key.Namespace, key.Identifier).Info("schema change detected",
			slog.String("from", change.From),
			slog.String("to", change.To),
			slog.Bool("removed", change.Removed),
		)
		if m.onChange != nil {
			m.onChange(change)
		}
		changes = append(changes, change)
	}
	return changes, errors.Join(errs...)
}

func (m *Manager) storeStatus(at time.Time, changes []Change, err error, interval time.Duration) {
	prev := m.Status()
	next := Status{LastPoll: at, LastChange: prev.LastChange, Interval: interval}
	if len(changes) > 0 {
		next.LastChange = at
	}
	if err != nil {
		next.LastError = err.Error()
	}
	m.status.Store(next)
}

// nextInterval grows the polling interval by half up to the maximum.
func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}
