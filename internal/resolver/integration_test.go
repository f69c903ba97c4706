//go:build integration

package resolver

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"graph-indexer/internal/catalog"
	"graph-indexer/internal/dbexec"
	"graph-indexer/internal/dialect"
	"graph-indexer/internal/logging"
)

const integrationSchema = `
type FilterEntity {
  id: ID!
  foola: Charfield!
  maybe_null_bar: Int4
  bazoo: Int8!
}

type Borrower {
  id: ID!
  account: Charfield!
}

type Lender {
  id: ID!
  account: Charfield!
  borrowers: [Borrower!]
}
`

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("indexer"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))
	return db
}

// newIntegrationResolver registers the schema through the catalog and seeds
// the tables the scenarios read.
func newIntegrationResolver(t *testing.T) *Resolver {
	t.Helper()
	ctx := context.Background()
	db := startPostgres(t)
	executor := dbexec.NewStandardExecutor(db)

	manager, err := catalog.NewManager(catalog.Config{
		DB:       db,
		Executor: executor,
		Dialect:  dialect.Postgres,
		Logger:   logging.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, manager.Migrate(ctx))
	_, err = manager.Register(ctx, "test", "idx", integrationSchema, false)
	require.NoError(t, err)

	seed := []string{
		`INSERT INTO test_idx.filterentity (id, foola, maybe_null_bar, bazoo, object) VALUES
			(1, 'beep', 1, 1, '\x00'), (2, 'boop', NULL, 5, '\x00'), (3, 'blorp', 3, 1000, '\x00')`,
		`INSERT INTO test_idx.borrower (id, account, object) VALUES (10, 'b10', '\x00'), (11, 'b11', '\x00')`,
		`INSERT INTO test_idx.lender (id, account, object) VALUES (20, 'l20', '\x00'), (21, 'l21', '\x00')`,
		`INSERT INTO test_idx.lenders_borrowers (lender_id, borrower_id) VALUES (20, 10), (20, 11)`,
	}
	for _, stmt := range seed {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	r, err := NewResolver(Config{
		Schemas:  manager,
		Executor: executor,
		Dialect:  dialect.Postgres,
		Logger:   logging.Nop(),
	})
	require.NoError(t, err)
	return r
}

func TestIntegrationQueries(t *testing.T) {
	r := newIntegrationResolver(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "membership filter",
			query: `{ filterentity(filter: { foola: { in: ["beep", "boop"] } }) { id foola } }`,
			want:  `[{"id":1,"foola":"beep"},{"id":2,"foola":"boop"}]`,
		},
		{
			name:  "negated membership filter",
			query: `{ filterentity(filter: { not: { foola: { in: ["beep", "boop"] } } }) { foola } }`,
			want:  `[{"foola":"blorp"}]`,
		},
		{
			name:  "descending order",
			query: `{ filterentity(order: { foola: desc }) { foola } }`,
			want:  `[{"foola":"boop"},{"foola":"blorp"},{"foola":"beep"}]`,
		},
		{
			name:  "null check",
			query: `{ filterentity(filter: { has: [maybe_null_bar] }, order: { asc: id }) { id } }`,
			want:  `[{"id":1},{"id":3}]`,
		},
		{
			name:  "list field aggregates per parent",
			query: `{ lenders(order: { asc: id }) { id borrowers(order: { asc: id }) { account } } }`,
			want:  `[{"id":20,"borrowers":[{"account":"b10"},{"account":"b11"}]},{"id":21,"borrowers":[]}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := r.Execute(ctx, Request{Namespace: "test", Identifier: "idx", Query: tt.query})
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestIntegrationPagination(t *testing.T) {
	r := newIntegrationResolver(t)
	ctx := context.Background()

	type pageInfo struct {
		HasNextPage bool  `json:"has_next_page"`
		Limit       int64 `json:"limit"`
		Offset      int64 `json:"offset"`
		Pages       int64 `json:"pages"`
		TotalCount  int64 `json:"total_count"`
	}
	type page struct {
		PageInfo pageInfo          `json:"page_info"`
		Items    []json.RawMessage `json:"filterentity"`
	}

	tests := []struct {
		name   string
		query  string
		info   pageInfo
		length int
	}{
		{
			name:   "first page",
			query:  `{ filterentity(first: 1, order: { asc: id }) { id } }`,
			info:   pageInfo{HasNextPage: true, Limit: 1, Offset: 0, Pages: 3, TotalCount: 3},
			length: 1,
		},
		{
			name:   "last partial page",
			query:  `{ filterentity(first: 2, offset: 2, order: { asc: id }) { id } }`,
			info:   pageInfo{HasNextPage: false, Limit: 2, Offset: 2, Pages: 2, TotalCount: 3},
			length: 1,
		},
		{
			name:   "empty result",
			query:  `{ filterentity(first: 1, filter: { foola: { equals: "none" } }, order: { asc: id }) { id } }`,
			info:   pageInfo{HasNextPage: false, Limit: 1, Offset: 0, Pages: 0, TotalCount: 0},
			length: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := r.Execute(ctx, Request{Namespace: "test", Identifier: "idx", Query: tt.query})
			require.NoError(t, err)

			var got page
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.info, got.PageInfo)
			assert.Len(t, got.Items, tt.length)
		})
	}
}
