package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-indexer/internal/blocks"
	"graph-indexer/internal/dialect"
	"graph-indexer/internal/handler"
	"graph-indexer/internal/logging"
	"graph-indexer/internal/schema"
)

const metadataInsert = `INSERT INTO app_main\.indexmetadataentity \(id,time,block_height,block_id,object\)`

func testSchema(t *testing.T) *schema.ParsedSchema {
	t.Helper()
	s, err := schema.Parse("app", "main", `type Thing { id: ID! value: UInt8! }`, schema.WithIndexMetadata())
	require.NoError(t, err)
	return s
}

func chain(heights ...uint64) []blocks.BlockData {
	out := make([]blocks.BlockData, len(heights))
	for i, h := range heights {
		out[i] = blocks.BlockData{
			Height:    h,
			ID:        fmt.Sprintf("0x%02x", h),
			Time:      1700000000 + int64(h),
			Consensus: blocks.Consensus{Kind: blocks.ConsensusGenesis},
		}
	}
	return out
}

// recorder is a handler that remembers every batch it saw and can be told to
// fail specific calls.
type recorder struct {
	mu      sync.Mutex
	batches [][]uint64
	fail    func(call int) error
	onCall  func(call int)
}

func (r *recorder) Handle(_ context.Context, _ handler.Store, batch []blocks.BlockData) error {
	r.mu.Lock()
	call := len(r.batches)
	r.batches = append(r.batches, blocks.Heights(batch))
	r.mu.Unlock()
	if r.onCall != nil {
		r.onCall(call)
	}
	if r.fail != nil {
		return r.fail(call)
	}
	return nil
}

func (r *recorder) seen() [][]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]uint64(nil), r.batches...)
}

func expectCommit(mock sqlmock.Sqlmock, heights ...uint64) {
	mock.ExpectBegin()
	for _, h := range heights {
		mock.ExpectExec(metadataInsert).
			WithArgs(int64(h), 1700000000+int64(h), int64(h), fmt.Sprintf("0x%02x", h), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()
}

func newTestExecutor(t *testing.T, cfg Config, src blocks.Source, h handler.Handler) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg.Schema = testSchema(t)
	cfg.Dialect = dialect.Postgres
	if cfg.IdleWait == 0 {
		cfg.IdleWait = time.Millisecond
	}
	if cfg.ErrorDelay == 0 {
		cfg.ErrorDelay = time.Millisecond
	}
	e, err := New(cfg, src, h, db, logging.Nop(), nil)
	require.NoError(t, err)
	return e, mock
}

func u64(v uint64) *uint64 { return &v }

func TestRunCommitsBatchesThenStopsIdle(t *testing.T) {
	rec := &recorder{}
	e, mock := newTestExecutor(t, Config{PageSize: 2, MaxEmptyPages: 2}, blocks.NewMemorySource(chain(1, 2, 3)...), rec)
	expectCommit(mock, 1, 2)
	expectCommit(mock, 3)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, [][]uint64{{1, 2}, {3}}, rec.seen())
	status := e.Status()
	assert.Equal(t, StateStoppedIdle, status.State)
	assert.Equal(t, uint64(3), status.Height)
	assert.True(t, status.State.Stopped())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRetriesFailedBatchFromSameCursor(t *testing.T) {
	boom := errors.New("handler trapped")
	rec := &recorder{fail: func(call int) error {
		if call == 0 {
			return boom
		}
		return nil
	}}
	e, mock := newTestExecutor(t, Config{PageSize: 10, MaxEmptyPages: 1, MaxFailedCalls: 2}, blocks.NewMemorySource(chain(1, 2)...), rec)
	mock.ExpectBegin()
	mock.ExpectRollback()
	expectCommit(mock, 1, 2)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, [][]uint64{{1, 2}, {1, 2}}, rec.seen())
	assert.Equal(t, 0, e.Status().Failures)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStopsAfterMaxFailedCalls(t *testing.T) {
	boom := errors.New("handler trapped")
	rec := &recorder{fail: func(int) error { return boom }}
	e, mock := newTestExecutor(t, Config{MaxFailedCalls: 3}, blocks.NewMemorySource(chain(1)...), rec)
	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, boom)

	status := e.Status()
	assert.Equal(t, StateStoppedFailed, status.State)
	assert.Equal(t, 3, status.Failures)
	assert.Contains(t, status.Error, "handler trapped")
	assert.Len(t, rec.seen(), 3)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSkipsConstraintViolationsWithoutCounting(t *testing.T) {
	rec := &recorder{fail: func(call int) error {
		if call == 0 {
			return fmt.Errorf("put thing: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key"})
		}
		return nil
	}}
	e, mock := newTestExecutor(t, Config{PageSize: 2, MaxEmptyPages: 1, MaxFailedCalls: 1}, blocks.NewMemorySource(chain(1, 2, 3)...), rec)
	mock.ExpectBegin()
	mock.ExpectRollback()
	expectCommit(mock, 3)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, [][]uint64{{1, 2}, {3}}, rec.seen())
	assert.Equal(t, StateStoppedIdle, e.Status().State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStopsAtEndBlock(t *testing.T) {
	rec := &recorder{}
	e, mock := newTestExecutor(t, Config{PageSize: 10, StartBlock: u64(2), EndBlock: u64(3)}, blocks.NewMemorySource(chain(1, 2, 3, 4, 5)...), rec)
	expectCommit(mock, 2, 3)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, [][]uint64{{2, 3}}, rec.seen())
	status := e.Status()
	assert.Equal(t, StateStoppedEndBlock, status.State)
	assert.Equal(t, uint64(3), status.Height)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKillLetsInFlightBatchFinish(t *testing.T) {
	var e *Executor
	rec := &recorder{onCall: func(int) { e.Kill() }}
	e, mock := newTestExecutor(t, Config{PageSize: 1}, blocks.NewMemorySource(chain(1, 2, 3)...), rec)
	expectCommit(mock, 1)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, [][]uint64{{1}}, rec.seen())
	assert.Equal(t, StateStoppedKilled, e.Status().State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	rec := &recorder{}
	e, mock := newTestExecutor(t, Config{IdleWait: time.Hour}, blocks.NewMemorySource(), rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Status().State == StateRunning }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not stop")
	}
	assert.Equal(t, StateStoppedKilled, e.Status().State)
	assert.Empty(t, rec.seen())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunResumesAfterLastCommittedBlock(t *testing.T) {
	// A previous run committed up to block 2 and crashed while handling 3.
	rec := &recorder{}
	e, mock := newTestExecutor(t, Config{Resumable: true, MaxEmptyPages: 1}, blocks.NewMemorySource(chain(1, 2, 3, 4)...), rec)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(block_height\) FROM app_main\.indexmetadataentity`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(2)))
	mock.ExpectCommit()
	expectCommit(mock, 3, 4)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, [][]uint64{{3, 4}}, rec.seen())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResumeCursor(t *testing.T) {
	tests := []struct {
		name      string
		start     *uint64
		committed any
		want      uint64
	}{
		{name: "fresh indexer from genesis", committed: nil, want: 0},
		{name: "fresh indexer with start block", start: u64(10), committed: nil, want: 9},
		{name: "committed rows win", start: u64(10), committed: int64(42), want: 42},
		{name: "start block ahead of committed rows", start: u64(100), committed: int64(42), want: 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newTestExecutor(t, Config{Resumable: true, StartBlock: tt.start}, blocks.NewMemorySource(), &recorder{})
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT MAX\(block_height\)`).
				WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(tt.committed))
			mock.ExpectCommit()

			got, err := e.ResumeCursor(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("not resumable ignores committed rows", func(t *testing.T) {
		e, mock := newTestExecutor(t, Config{StartBlock: u64(5)}, blocks.NewMemorySource(), &recorder{})
		got, err := e.ResumeCursor(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(4), got)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRunCountsHandlerTimeouts(t *testing.T) {
	slow := handler.HandlerFunc(func(ctx context.Context, _ handler.Store, _ []blocks.BlockData) error {
		<-ctx.Done()
		return ctx.Err()
	})
	e, mock := newTestExecutor(t, Config{MaxFailedCalls: 1, HandlerTimeout: 10 * time.Millisecond}, blocks.NewMemorySource(chain(1)...), slow)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, handler.ErrHandlerTimeout)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewValidatesConfig(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	src := blocks.NewMemorySource()

	bare, err := schema.Parse("app", "main", `type Thing { id: ID! }`)
	require.NoError(t, err)
	_, err = New(Config{Schema: bare}, src, &recorder{}, db, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), schema.MetadataEntity)

	_, err = New(Config{Schema: testSchema(t), StartBlock: u64(5), EndBlock: u64(4)}, src, &recorder{}, db, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Schema: testSchema(t)}, nil, &recorder{}, db, nil, nil)
	assert.Error(t, err)
}

func TestIsConstraintViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "pgx", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "pgx other code", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "pq", err: &pq.Error{Code: "23505"}, want: true},
		{name: "mysql", err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, want: true},
		{name: "mysql other", err: &mysql.MySQLError{Number: 1213}, want: false},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: thing.id"), want: true},
		{name: "wrapped", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: "23505"}), want: true},
		{name: "plain", err: errors.New("connection reset"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConstraintViolation(tt.err))
		})
	}
}
