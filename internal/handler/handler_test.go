package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-indexer/internal/blocks"
	"graph-indexer/internal/dbexec"
	"graph-indexer/internal/dialect"
	"graph-indexer/internal/logging"
	"graph-indexer/internal/schema"
)

const lendingSchema = `
type Borrower {
  id: ID!
  account: Address!
}

type Lender {
  id: ID!
  account: Address!
  borrowers: [Borrower!]
}
`

func newTestStore(t *testing.T, d dialect.Dialect) (*SQLStore, *schema.ParsedSchema, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := schema.Parse("lending", "main", lendingSchema, schema.WithIndexMetadata())
	require.NoError(t, err)
	return NewStore(dbexec.NewStandardExecutor(db), s, d), s, mock
}

func TestPutObjectUpserts(t *testing.T) {
	tests := []struct {
		name    string
		dialect dialect.Dialect
		sql     string
	}{
		{
			name:    "postgres",
			dialect: dialect.Postgres,
			sql:     "INSERT INTO lending_main.lender (id,account,object) VALUES ($1,$2,$3) ON CONFLICT(id) DO UPDATE SET account = excluded.account, object = excluded.object",
		},
		{
			name:    "mysql",
			dialect: dialect.MySQL,
			sql:     "INSERT INTO lending_main.lender (id,account,object) VALUES (?,?,?) ON DUPLICATE KEY UPDATE account = VALUES(account), object = VALUES(object)",
		},
		{
			name:    "sqlite",
			dialect: dialect.SQLite,
			sql:     "INSERT INTO lender (id,account,object) VALUES (?,?,?) ON CONFLICT(id) DO UPDATE SET account = excluded.account, object = excluded.object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, s, mock := newTestStore(t, tt.dialect)
			mock.ExpectExec(regexp.QuoteMeta(tt.sql)).
				WithArgs(int64(1), "0xabc", []byte(`{"id":1}`)).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := store.PutObject(context.Background(), s.TypeID("Lender"),
				[]FieldValue{{Name: "id", Value: int64(1)}, {Name: "account", Value: "0xabc"}},
				[]byte(`{"id":1}`))
			require.NoError(t, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPutObjectRejectsBadWrites(t *testing.T) {
	store, s, mock := newTestStore(t, dialect.Postgres)
	ctx := context.Background()

	err := store.PutObject(ctx, 42, []FieldValue{{Name: "id", Value: "x"}}, nil)
	assert.ErrorIs(t, err, ErrUnknownType)

	err = store.PutObject(ctx, s.TypeID("Lender"), []FieldValue{{Name: "id", Value: "x"}, {Name: "rate", Value: 1}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no column "rate"`)

	err = store.PutObject(ctx, s.TypeID("Lender"), []FieldValue{{Name: "account", Value: "0xabc"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")

	err = store.PutObject(ctx, s.TypeID("Lender"), []FieldValue{{Name: "id", Value: "x"}, {Name: "id", Value: "y"}}, nil)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutObjectAcceptsMetadataEntity(t *testing.T) {
	store, s, mock := newTestStore(t, dialect.Postgres)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lending_main.indexmetadataentity (id,time,block_height,block_id,object)")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.PutObject(context.Background(), s.TypeID(schema.MetadataEntity), []FieldValue{
		{Name: "id", Value: int64(7)},
		{Name: "time", Value: int64(1700000000)},
		{Name: "block_height", Value: int64(7)},
		{Name: "block_id", Value: "0x07"},
	}, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetObject(t *testing.T) {
	store, s, mock := newTestStore(t, dialect.Postgres)
	ctx := context.Background()
	query := regexp.QuoteMeta("SELECT object FROM lending_main.borrower WHERE id = $1")

	mock.ExpectQuery(query).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"object"}).AddRow([]byte(`{"id":3}`)))
	blob, err := store.GetObject(ctx, s.TypeID("Borrower"), int64(3))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3}`, string(blob))

	mock.ExpectQuery(query).WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"object"}))
	blob, err = store.GetObject(ctx, s.TypeID("Borrower"), int64(4))
	require.NoError(t, err)
	assert.Nil(t, blob)

	_, err = store.GetObject(ctx, 1, int64(3))
	assert.ErrorIs(t, err, ErrUnknownType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutManyToMany(t *testing.T) {
	tests := []struct {
		name    string
		dialect dialect.Dialect
		sql     string
	}{
		{
			name:    "postgres",
			dialect: dialect.Postgres,
			sql:     "INSERT INTO lending_main.lenders_borrowers (lender_id,borrower_id) VALUES ($1,$2),($3,$4) ON CONFLICT DO NOTHING",
		},
		{
			name:    "mysql",
			dialect: dialect.MySQL,
			sql:     "INSERT IGNORE INTO lending_main.lenders_borrowers (lender_id,borrower_id) VALUES (?,?),(?,?)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, s, mock := newTestStore(t, tt.dialect)
			mock.ExpectExec(regexp.QuoteMeta(tt.sql)).
				WithArgs(int64(1), int64(10), int64(1), int64(11)).
				WillReturnResult(sqlmock.NewResult(0, 2))

			err := store.PutManyToMany(context.Background(), s.TypeID("Lender"), s.TypeID("Borrower"), int64(1), []any{int64(10), int64(11)})
			require.NoError(t, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPutManyToManyEdges(t *testing.T) {
	store, s, mock := newTestStore(t, dialect.Postgres)
	ctx := context.Background()

	require.NoError(t, store.PutManyToMany(ctx, s.TypeID("Lender"), s.TypeID("Borrower"), int64(1), nil))

	err := store.PutManyToMany(ctx, s.TypeID("Borrower"), s.TypeID("Lender"), int64(10), []any{int64(1)})
	assert.ErrorIs(t, err, ErrUnknownType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()

	stuck := HandlerFunc(func(ctx context.Context, _ Store, _ []blocks.BlockData) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	err := WithTimeout(stuck, 20*time.Millisecond).Handle(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrHandlerTimeout)

	polite := HandlerFunc(func(ctx context.Context, _ Store, _ []blocks.BlockData) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err = WithTimeout(polite, 20*time.Millisecond).Handle(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrHandlerTimeout)

	boom := errors.New("boom")
	failing := HandlerFunc(func(context.Context, Store, []blocks.BlockData) error { return boom })
	err = WithTimeout(failing, time.Second).Handle(ctx, nil, nil)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrHandlerTimeout)

	assert.NoError(t, WithTimeout(HandlerFunc(func(context.Context, Store, []blocks.BlockData) error { return nil }), 0).Handle(ctx, nil, nil))
}

type recordingStore struct {
	writes []Write
	links  []Link
}

func (r *recordingStore) PutObject(_ context.Context, typeID int64, columns []FieldValue, object []byte) error {
	r.writes = append(r.writes, Write{TypeID: typeID, Columns: columns, Object: object})
	return nil
}

func (r *recordingStore) GetObject(context.Context, int64, any) ([]byte, error) {
	return nil, nil
}

func (r *recordingStore) PutManyToMany(_ context.Context, parentTypeID, childTypeID int64, parentID any, childIDs []any) error {
	r.links = append(r.links, Link{ParentTypeID: parentTypeID, ChildTypeID: childTypeID, ParentID: parentID, ChildIDs: childIDs})
	return nil
}

func TestRemoteHandlerAppliesReply(t *testing.T) {
	var got []blocks.BlockData
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"writes": [
				{"type_id": 11, "columns": [{"name": "id", "value": "l1"}, {"name": "amount", "value": 9007199254740993}], "object": "e30="}
			],
			"links": [
				{"parent_type_id": 11, "child_type_id": 12, "parent_id": "l1", "child_ids": ["b1", 2]}
			]
		}`))
	}))
	defer srv.Close()

	h, err := NewRemoteHandler(srv.URL, srv.Client(), logging.Nop())
	require.NoError(t, err)

	store := &recordingStore{}
	batch := []blocks.BlockData{{Height: 5, ID: "0x05", Consensus: blocks.Consensus{Kind: blocks.ConsensusGenesis}}}
	require.NoError(t, h.Handle(context.Background(), store, batch))

	require.Len(t, got, 1)
	assert.Equal(t, uint64(5), got[0].Height)

	require.Len(t, store.writes, 1)
	assert.Equal(t, int64(11), store.writes[0].TypeID)
	assert.Equal(t, []FieldValue{{Name: "id", Value: "l1"}, {Name: "amount", Value: int64(9007199254740993)}}, store.writes[0].Columns)
	assert.Equal(t, []byte("{}"), store.writes[0].Object)

	require.Len(t, store.links, 1)
	assert.Equal(t, []any{"b1", int64(2)}, store.links[0].ChildIDs)
}

func TestRemoteHandlerFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "handler panicked", http.StatusInternalServerError)
	}))
	defer srv.Close()

	h, err := NewRemoteHandler(srv.URL, srv.Client(), nil)
	require.NoError(t, err)
	err = h.Handle(context.Background(), &recordingStore{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler returned 500")

	_, err = NewRemoteHandler(" ", nil, nil)
	assert.Error(t, err)
}

func TestDecodeReplyKeepsNumbersExact(t *testing.T) {
	reply, err := decodeReply([]byte(`{
		"writes": [{"type_id": 11, "columns": [
			{"name": "amount", "value": 18446744073709551615},
			{"name": "supply", "value": -170141183460469231731687303715884105728},
			{"name": "height", "value": 9223372036854775807},
			{"name": "rate", "value": 0.25},
			{"name": "scaled", "value": 1e3}
		]}],
		"links": [{"parent_type_id": 11, "child_type_id": 12, "parent_id": 9223372036854775808, "child_ids": [7]}]
	}`))
	require.NoError(t, err)

	require.Len(t, reply.Writes, 1)
	assert.Equal(t, []FieldValue{
		{Name: "amount", Value: "18446744073709551615"},
		{Name: "supply", Value: "-170141183460469231731687303715884105728"},
		{Name: "height", Value: int64(9223372036854775807)},
		{Name: "rate", Value: 0.25},
		{Name: "scaled", Value: float64(1000)},
	}, reply.Writes[0].Columns)

	require.Len(t, reply.Links, 1)
	assert.Equal(t, "9223372036854775808", reply.Links[0].ParentID)
	assert.Equal(t, []any{int64(7)}, reply.Links[0].ChildIDs)
}

func TestPutObjectBindsLargeIntegersExactly(t *testing.T) {
	store, s, mock := newTestStore(t, dialect.Postgres)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lending_main.lender (id,account,object) VALUES ($1,$2,$3)")).
		WithArgs("18446744073709551615", "0xabc", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	reply, err := decodeReply([]byte(`{"writes": [{"type_id": 0, "columns": [
		{"name": "id", "value": 18446744073709551615},
		{"name": "account", "value": "0xabc"}
	], "object": "e30="}]}`))
	require.NoError(t, err)
	reply.Writes[0].TypeID = s.TypeID("Lender")

	require.NoError(t, reply.Apply(context.Background(), store))
	require.NoError(t, mock.ExpectationsWereMet())
}
