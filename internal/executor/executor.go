// Package executor drives one indexer: it pages blocks from a source, hands
// each page to the handler inside a transaction, and decides whether to
// commit, retry, skip, or stop.
package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"graph-indexer/internal/blocks"
	"graph-indexer/internal/dbexec"
	"graph-indexer/internal/dialect"
	"graph-indexer/internal/handler"
	"graph-indexer/internal/logging"
	"graph-indexer/internal/observability"
	"graph-indexer/internal/schema"
)

// ErrRetriesExhausted stops an executor after too many consecutive failed
// batches.
var ErrRetriesExhausted = errors.New("executor retries exhausted")

const (
	DefaultPageSize       = 10
	DefaultMaxFailedCalls = 10
	DefaultMaxEmptyPages  = 10
	DefaultIdleWait       = 3 * time.Second
	DefaultErrorDelay     = 5 * time.Second
	DefaultHandlerTimeout = 5 * time.Second
)

// Config tunes one executor. Zero values take the defaults above, except
// MaxEmptyPages where zero means the executor never stops for idleness.
type Config struct {
	Schema  *schema.ParsedSchema
	Dialect dialect.Dialect

	StartBlock *uint64
	EndBlock   *uint64
	// Resumable resumes after the highest committed block instead of StartBlock.
	Resumable bool

	PageSize       int
	MaxFailedCalls int
	MaxEmptyPages  int
	IdleWait       time.Duration
	ErrorDelay     time.Duration
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxFailedCalls <= 0 {
		c.MaxFailedCalls = DefaultMaxFailedCalls
	}
	if c.IdleWait <= 0 {
		c.IdleWait = DefaultIdleWait
	}
	if c.ErrorDelay <= 0 {
		c.ErrorDelay = DefaultErrorDelay
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
	return c
}

// Executor runs a single indexer. Batches are processed strictly in height
// order by one goroutine.
type Executor struct {
	cfg     Config
	source  blocks.Source
	handler handler.Handler
	db      dbexec.TxBeginner
	logger  *logging.Logger
	metrics *observability.ExecutorMetrics
	uid     string

	killed   atomic.Bool
	killOnce sync.Once
	killCh   chan struct{}

	mu     sync.RWMutex
	status Status
}

// New builds an executor. The handler is wrapped with the configured
// invocation timeout.
func New(cfg Config, source blocks.Source, h handler.Handler, db dbexec.TxBeginner, logger *logging.Logger, metrics *observability.ExecutorMetrics) (*Executor, error) {
	if cfg.Schema == nil {
		return nil, errors.New("executor requires a schema")
	}
	if source == nil || h == nil || db == nil {
		return nil, errors.New("executor requires a block source, handler and database")
	}
	if cfg.StartBlock != nil && cfg.EndBlock != nil && *cfg.EndBlock < *cfg.StartBlock {
		return nil, fmt.Errorf("end block %d is before start block %d", *cfg.EndBlock, *cfg.StartBlock)
	}
	if _, ok := cfg.Schema.Object(schema.MetadataEntity); !ok {
		return nil, fmt.Errorf("schema %s has no %s; register it through the catalog", cfg.Schema.UID(), schema.MetadataEntity)
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{
		cfg:     cfg,
		source:  source,
		handler: handler.WithTimeout(h, cfg.HandlerTimeout),
		db:      db,
		logger:  logger.WithComponent("executor").WithIndexer(cfg.Schema.Namespace, cfg.Schema.Identifier),
		metrics: metrics,
		uid:     cfg.Schema.UID(),
		killCh:  make(chan struct{}),
		status:  Status{State: StateStarting},
	}, nil
}

// UID is the namespace.identifier of the indexer this executor runs.
func (e *Executor) UID() string {
	return e.uid
}

// Kill asks the loop to stop before its next batch. An in-flight batch is
// allowed to finish.
func (e *Executor) Kill() {
	e.killOnce.Do(func() {
		e.killed.Store(true)
		close(e.killCh)
	})
}

// Status returns a snapshot of the executor state.
func (e *Executor) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

func (e *Executor) setStatus(update func(*Status)) {
	e.mu.Lock()
	update(&e.status)
	e.mu.Unlock()
}

// Run drives the loop until the executor is killed, goes idle, reaches its
// end block or exhausts its retries. Only the last returns an error.
func (e *Executor) Run(ctx context.Context) error {
	cursor, err := e.ResumeCursor(ctx)
	if err != nil {
		e.stop(StateStoppedFailed, err)
		return err
	}
	e.setStatus(func(s *Status) {
		s.State = StateRunning
		s.Height = cursor
	})
	e.logger.Info("executor started", slog.Uint64("cursor", cursor), slog.Int("page_size", e.cfg.PageSize))

	failures := 0
	emptyPages := 0
	for {
		if e.killed.Load() || ctx.Err() != nil {
			e.logger.Info("executor stopped", slog.String("reason", "killed"), slog.Uint64("height", cursor))
			e.stop(StateStoppedKilled, nil)
			return nil
		}

		pageSize := e.cfg.PageSize
		if end := e.cfg.EndBlock; end != nil {
			if cursor >= *end {
				e.logger.Info("executor stopped", slog.String("reason", "end_block"), slog.Uint64("height", cursor))
				e.Kill()
				e.stop(StateStoppedEndBlock, nil)
				return nil
			}
			if remaining := *end - cursor; remaining < uint64(pageSize) {
				pageSize = int(remaining)
			}
		}

		e.logger.Debug("fetching blocks", slog.Uint64("cursor", cursor), slog.Int("page_size", pageSize))
		page, err := e.source.Fetch(ctx, cursor, pageSize)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			e.logger.Warn("block fetch failed", slog.String("error", err.Error()))
			e.metrics.RecordRetry(ctx, e.uid, "fetch")
			e.sleep(ctx, e.cfg.ErrorDelay)
			continue
		}

		batch := e.trim(page.Blocks)
		if len(batch) == 0 {
			emptyPages++
			if e.cfg.MaxEmptyPages > 0 && emptyPages >= e.cfg.MaxEmptyPages {
				e.logger.Info("executor stopped",
					slog.String("reason", "idle"),
					slog.Int("empty_pages", emptyPages),
					slog.Uint64("height", cursor),
				)
				e.stop(StateStoppedIdle, nil)
				return nil
			}
			e.logger.Debug("no new blocks", slog.Int("empty_pages", emptyPages))
			e.sleep(ctx, e.cfg.IdleWait)
			continue
		}
		emptyPages = 0
		last := batch[len(batch)-1].Height

		start := time.Now()
		err = e.commit(ctx, batch)
		switch {
		case err == nil:
			e.metrics.RecordBatch(ctx, e.uid, "ok", len(batch), last, time.Since(start))
			e.logger.Debug("batch committed",
				slog.Uint64("from", batch[0].Height),
				slog.Uint64("to", last),
				slog.Duration("duration", time.Since(start)),
			)
			failures = 0
			cursor = last
			e.setStatus(func(s *Status) {
				s.Height = last
				s.Failures = 0
			})

		case IsConstraintViolation(err):
			// Already indexed by an earlier run: skip the page without
			// counting it as a failure.
			e.metrics.RecordBatch(ctx, e.uid, "retry", len(batch), last, time.Since(start))
			e.metrics.RecordRetry(ctx, e.uid, "constraint")
			e.logger.Warn("constraint violation, skipping batch",
				slog.Uint64("from", batch[0].Height),
				slog.Uint64("to", last),
				slog.String("error", err.Error()),
			)
			cursor = last

		default:
			failures++
			e.setStatus(func(s *Status) { s.Failures = failures })
			if failures >= e.cfg.MaxFailedCalls {
				e.metrics.RecordBatch(ctx, e.uid, "fatal", len(batch), last, time.Since(start))
				stopErr := fmt.Errorf("%w after %d attempts at height %d: %w", ErrRetriesExhausted, failures, batch[0].Height, err)
				e.logger.Error("executor stopped",
					slog.String("reason", "failed"),
					slog.Int("failures", failures),
					slog.String("error", err.Error()),
				)
				e.stop(StateStoppedFailed, stopErr)
				return stopErr
			}
			e.metrics.RecordBatch(ctx, e.uid, "retry", len(batch), last, time.Since(start))
			e.metrics.RecordRetry(ctx, e.uid, "error")
			e.logger.Warn("batch failed, retrying",
				slog.Int("failures", failures),
				slog.Int("max_failed_calls", e.cfg.MaxFailedCalls),
				slog.String("error", err.Error()),
			)
			e.sleep(ctx, e.cfg.ErrorDelay)
		}
	}
}

// trim drops blocks past the end block.
func (e *Executor) trim(batch []blocks.BlockData) []blocks.BlockData {
	if e.cfg.EndBlock == nil {
		return batch
	}
	for i, b := range batch {
		if b.Height > *e.cfg.EndBlock {
			return batch[:i]
		}
	}
	return batch
}

// commit runs the handler and records one metadata row per block in a single
// transaction.
func (e *Executor) commit(ctx context.Context, batch []blocks.BlockData) error {
	metaTypeID := e.cfg.Schema.TypeID(schema.MetadataEntity)
	return dbexec.WithTx(ctx, e.db, func(tx dbexec.QueryExecutor) error {
		store := handler.NewStore(tx, e.cfg.Schema, e.cfg.Dialect)
		if err := e.handler.Handle(ctx, store, batch); err != nil {
			return err
		}
		for _, b := range batch {
			row := metadataRow{
				ID:          b.Height,
				Time:        b.Time,
				BlockHeight: b.Height,
				BlockID:     b.ID,
			}
			object, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if err := store.PutObject(ctx, metaTypeID, row.columns(), object); err != nil {
				return fmt.Errorf("record block %d: %w", b.Height, err)
			}
		}
		return nil
	})
}

type metadataRow struct {
	ID          uint64 `json:"id"`
	Time        int64  `json:"time"`
	BlockHeight uint64 `json:"block_height"`
	BlockID     string `json:"block_id"`
}

func (r metadataRow) columns() []handler.FieldValue {
	return []handler.FieldValue{
		{Name: "id", Value: int64(r.ID)},
		{Name: "time", Value: r.Time},
		{Name: "block_height", Value: int64(r.BlockHeight)},
		{Name: "block_id", Value: r.BlockID},
	}
}

// ResumeCursor is the height to fetch after: the highest committed block for
// a resumable indexer, otherwise the block before StartBlock.
func (e *Executor) ResumeCursor(ctx context.Context) (uint64, error) {
	var start uint64
	if e.cfg.StartBlock != nil && *e.cfg.StartBlock > 0 {
		start = *e.cfg.StartBlock - 1
	}
	if !e.cfg.Resumable {
		return start, nil
	}

	query, args, err := e.cfg.Dialect.Builder().
		Select("MAX(block_height)").
		From(e.cfg.Dialect.Qualify(e.cfg.Schema.SQLNamespace(), e.metadataTable())).
		ToSql()
	if err != nil {
		return 0, err
	}

	var committed sql.NullInt64
	err = dbexec.WithTx(ctx, e.db, func(tx dbexec.QueryExecutor) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if rows.Next() {
			if err := rows.Scan(&committed); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	if err != nil {
		return 0, fmt.Errorf("read resume cursor for %s: %w", e.uid, err)
	}
	if committed.Valid && uint64(committed.Int64) > start {
		return uint64(committed.Int64), nil
	}
	return start, nil
}

func (e *Executor) metadataTable() string {
	obj, _ := e.cfg.Schema.Object(schema.MetadataEntity)
	return obj.Table()
}

func (e *Executor) stop(state State, err error) {
	e.setStatus(func(s *Status) {
		s.State = state
		if err != nil {
			s.Error = err.Error()
		}
	})
}

// sleep waits d unless the context ends or the executor is killed first.
func (e *Executor) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-e.killCh:
	}
}
