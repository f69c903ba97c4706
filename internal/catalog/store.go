package catalog

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"graph-indexer/internal/dbexec"
	"graph-indexer/internal/ddl"
	"graph-indexer/internal/dialect"
)

// ErrNotFound is returned when no schema is registered for an indexer.
var ErrNotFound = errors.New("schema not found")

// ErrAlreadyExists is returned when registering a different schema version
// for an indexer without the replace flag.
var ErrAlreadyExists = errors.New("indexer already exists")

// GraphRoot is a persisted graph root with its surrogate id.
type GraphRoot struct {
	ID int64
	ddl.GraphRootRow
}

// Store reads and writes the catalog tables.
type Store struct {
	dialect dialect.Dialect
	builder sq.StatementBuilderType
}

// NewStore creates a catalog store for a dialect.
func NewStore(d dialect.Dialect) *Store {
	return &Store{dialect: d, builder: d.Builder()}
}

// Migrate creates the catalog tables.
func (s *Store) Migrate(ctx context.Context, q dbexec.QueryExecutor) error {
	for _, stmt := range Migrations(s.dialect) {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("catalog migration failed: %w", err)
		}
	}
	return nil
}

// InsertGraphRoot stores a graph root and returns its id.
func (s *Store) InsertGraphRoot(ctx context.Context, q dbexec.QueryExecutor, row ddl.GraphRootRow) (int64, error) {
	insert := s.builder.Insert(TableGraphRoot).
		Columns("schema_name", "schema_identifier", "version", "query", "schema_text").
		Values(row.Namespace, row.Identifier, row.Version, row.QueryRoot, row.Schema)

	if s.dialect == dialect.MySQL {
		query, args, err := insert.ToSql()
		if err != nil {
			return 0, err
		}
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert graph root: %w", err)
		}
		return res.LastInsertId()
	}

	query, args, err := insert.Suffix("RETURNING id").ToSql()
	if err != nil {
		return 0, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert graph root: %w", err)
	}
	defer rows.Close()
	var id int64
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("failed to insert graph root: no id returned")
	}
	if err := rows.Scan(&id); err != nil {
		return 0, err
	}
	return id, rows.Err()
}

// InsertTypeIDs stores type id rows.
func (s *Store) InsertTypeIDs(ctx context.Context, q dbexec.QueryExecutor, rows []ddl.TypeIDRow) error {
	if len(rows) == 0 {
		return nil
	}
	insert := s.builder.Insert(TableTypeIDs).
		Columns("id", "schema_version", "schema_name", "schema_identifier", "graphql_name", "table_name", "kind", "members")
	for _, r := range rows {
		insert = insert.Values(r.ID, r.Version, r.Namespace, r.Identifier, r.GraphQLName, r.TableName, r.Kind, r.Members)
	}
	return s.exec(ctx, q, insert, "type ids")
}

// InsertColumns stores column rows for a schema version.
func (s *Store) InsertColumns(ctx context.Context, q dbexec.QueryExecutor, version string, rows []ddl.ColumnRow) error {
	if len(rows) == 0 {
		return nil
	}
	insert := s.builder.Insert(TableColumns).
		Columns("type_id", "schema_version", "column_position", "column_name", "column_type",
			"graphql_type", "nullable", "is_unique", "indexed", "ref_column")
	for _, r := range rows {
		insert = insert.Values(r.TypeID, version, r.Position, r.Name, r.ColumnType,
			r.GraphQLType, r.Nullable, r.Unique, r.Indexed, r.RefColumn)
	}
	return s.exec(ctx, q, insert, "columns")
}

// InsertRootColumns stores the query root fields of a graph root.
func (s *Store) InsertRootColumns(ctx context.Context, q dbexec.QueryExecutor, rootID int64, rows []ddl.RootColumnRow) error {
	if len(rows) == 0 {
		return nil
	}
	insert := s.builder.Insert(TableRootColumns).Columns("root_id", "column_name", "graphql_type")
	for _, r := range rows {
		insert = insert.Values(rootID, r.Name, r.GraphQLType)
	}
	return s.exec(ctx, q, insert, "root columns")
}

func (s *Store) exec(ctx context.Context, q dbexec.QueryExecutor, b sq.Sqlizer, what string) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert %s: %w", what, err)
	}
	return nil
}

// LatestGraphRoot returns the newest registered version for an indexer.
func (s *Store) LatestGraphRoot(ctx context.Context, q dbexec.QueryExecutor, namespace, identifier string) (*GraphRoot, error) {
	query, args, err := s.builder.
		Select("id", "schema_name", "schema_identifier", "version", "query", "schema_text").
		From(TableGraphRoot).
		Where(sq.Eq{"schema_name": namespace, "schema_identifier": identifier}).
		OrderBy("id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query graph root: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	var root GraphRoot
	if err := rows.Scan(&root.ID, &root.Namespace, &root.Identifier, &root.Version, &root.QueryRoot, &root.Schema); err != nil {
		return nil, fmt.Errorf("failed to scan graph root: %w", err)
	}
	return &root, rows.Err()
}

// LatestVersion returns only the newest version string for an indexer.
func (s *Store) LatestVersion(ctx context.Context, q dbexec.QueryExecutor, namespace, identifier string) (string, error) {
	query, args, err := s.builder.
		Select("version").
		From(TableGraphRoot).
		Where(sq.Eq{"schema_name": namespace, "schema_identifier": identifier}).
		OrderBy("id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return "", err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("failed to query schema version: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", ErrNotFound
	}
	var version string
	if err := rows.Scan(&version); err != nil {
		return "", err
	}
	return version, rows.Err()
}

// TypeIDs returns the type rows of one schema version ordered by table name.
func (s *Store) TypeIDs(ctx context.Context, q dbexec.QueryExecutor, namespace, identifier, version string) ([]ddl.TypeIDRow, error) {
	query, args, err := s.builder.
		Select("id", "schema_version", "schema_name", "schema_identifier", "graphql_name", "table_name", "kind", "members").
		From(TableTypeIDs).
		Where(sq.Eq{"schema_name": namespace, "schema_identifier": identifier, "schema_version": version}).
		OrderBy("table_name", "graphql_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query type ids: %w", err)
	}
	defer rows.Close()

	var out []ddl.TypeIDRow
	for rows.Next() {
		var r ddl.TypeIDRow
		if err := rows.Scan(&r.ID, &r.Version, &r.Namespace, &r.Identifier, &r.GraphQLName, &r.TableName, &r.Kind, &r.Members); err != nil {
			return nil, fmt.Errorf("failed to scan type id: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Columns returns every column row of one schema version ordered by type and position.
func (s *Store) Columns(ctx context.Context, q dbexec.QueryExecutor, version string, typeIDs []int64) ([]ddl.ColumnRow, error) {
	if len(typeIDs) == 0 {
		return nil, nil
	}
	query, args, err := s.builder.
		Select("type_id", "column_position", "column_name", "column_type", "graphql_type",
			"nullable", "is_unique", "indexed", "ref_column").
		From(TableColumns).
		Where(sq.Eq{"schema_version": version, "type_id": typeIDs}).
		OrderBy("type_id", "column_position").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var out []ddl.ColumnRow
	for rows.Next() {
		var r ddl.ColumnRow
		if err := rows.Scan(&r.TypeID, &r.Position, &r.Name, &r.ColumnType, &r.GraphQLType,
			&r.Nullable, &r.Unique, &r.Indexed, &r.RefColumn); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RootColumns returns the query root fields of a graph root in insertion order.
func (s *Store) RootColumns(ctx context.Context, q dbexec.QueryExecutor, rootID int64) ([]ddl.RootColumnRow, error) {
	query, args, err := s.builder.
		Select("column_name", "graphql_type").
		From(TableRootColumns).
		Where(sq.Eq{"root_id": rootID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query root columns: %w", err)
	}
	defer rows.Close()

	var out []ddl.RootColumnRow
	for rows.Next() {
		var r ddl.RootColumnRow
		if err := rows.Scan(&r.Name, &r.GraphQLType); err != nil {
			return nil, fmt.Errorf("failed to scan root column: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteIndexer removes every catalog row for an indexer.
func (s *Store) DeleteIndexer(ctx context.Context, q dbexec.QueryExecutor, namespace, identifier string) error {
	owner := sq.Eq{"schema_name": namespace, "schema_identifier": identifier}
	subquery, subArgs, err := sq.Select("id").From(TableTypeIDs).Where(owner).ToSql()
	if err != nil {
		return err
	}
	rootIDs, rootArgs, err := sq.Select("id").From(TableGraphRoot).Where(owner).ToSql()
	if err != nil {
		return err
	}

	steps := []sq.Sqlizer{
		s.builder.Delete(TableColumns).Where(sq.Expr("type_id IN ("+subquery+")", subArgs...)),
		s.builder.Delete(TableTypeIDs).Where(owner),
		s.builder.Delete(TableRootColumns).Where(sq.Expr("root_id IN ("+rootIDs+")", rootArgs...)),
		s.builder.Delete(TableGraphRoot).Where(owner),
	}
	for _, step := range steps {
		query, args, err := step.ToSql()
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete catalog rows: %w", err)
		}
	}
	return nil
}

// DropNamespace drops an indexer's database schema and every table in it.
func (s *Store) DropNamespace(ctx context.Context, q dbexec.QueryExecutor, namespace string) error {
	var stmt string
	switch s.dialect {
	case dialect.Postgres:
		stmt = "DROP SCHEMA IF EXISTS " + s.dialect.QuoteIdentifier(namespace) + " CASCADE"
	case dialect.MySQL:
		stmt = "DROP SCHEMA IF EXISTS " + s.dialect.QuoteIdentifier(namespace)
	default:
		return nil
	}
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", namespace, err)
	}
	return nil
}
