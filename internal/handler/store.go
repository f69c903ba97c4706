package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"graph-indexer/internal/dbexec"
	"graph-indexer/internal/dialect"
	"graph-indexer/internal/schema"
)

// ErrUnknownType is returned for a type id the indexer's schema does not
// declare as an entity.
var ErrUnknownType = errors.New("unknown type id")

// FieldValue is one column written alongside an entity's object blob.
type FieldValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Store is the entity store a handler writes through. Calls run inside the
// executor's transaction for the batch.
type Store interface {
	PutObject(ctx context.Context, typeID int64, columns []FieldValue, object []byte) error
	GetObject(ctx context.Context, typeID int64, id any) ([]byte, error)
	PutManyToMany(ctx context.Context, parentTypeID, childTypeID int64, parentID any, childIDs []any) error
}

// SQLStore implements Store against one indexer's tables.
type SQLStore struct {
	q         dbexec.QueryExecutor
	dialect   dialect.Dialect
	namespace string
	builder   sq.StatementBuilderType
	entities  map[int64]*schema.Object
	joins     map[[2]int64]schema.JoinTable
}

// NewStore binds a store to an executor, usually a transaction. Type ids are
// resolved against the schema the catalog loaded for the indexer.
func NewStore(q dbexec.QueryExecutor, s *schema.ParsedSchema, d dialect.Dialect) *SQLStore {
	st := &SQLStore{
		q:         q,
		dialect:   d,
		namespace: s.SQLNamespace(),
		builder:   d.Builder(),
		entities:  map[int64]*schema.Object{},
		joins:     map[[2]int64]schema.JoinTable{},
	}
	for _, obj := range s.Entities() {
		st.entities[s.TypeID(obj.Name)] = obj
	}
	for _, j := range s.JoinTables() {
		key := [2]int64{s.TypeID(j.ParentType), s.TypeID(j.ChildType)}
		if _, ok := st.joins[key]; !ok {
			st.joins[key] = j
		}
	}
	return st
}

func (s *SQLStore) entity(typeID int64) (*schema.Object, error) {
	obj, ok := s.entities[typeID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typeID)
	}
	return obj, nil
}

// PutObject inserts or replaces one entity row keyed by its id column.
func (s *SQLStore) PutObject(ctx context.Context, typeID int64, columns []FieldValue, object []byte) error {
	obj, err := s.entity(typeID)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(columns)+1)
	values := make([]any, 0, len(columns)+1)
	seen := map[string]struct{}{}
	hasID := false
	for _, c := range columns {
		if _, ok := obj.Field(c.Name); !ok {
			return fmt.Errorf("%s has no column %q", obj.Name, c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%s column %q given twice", obj.Name, c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.Name == schema.IDField {
			hasID = true
		}
		names = append(names, c.Name)
		values = append(values, c.Value)
	}
	if !hasID {
		return fmt.Errorf("%s write is missing %s", obj.Name, schema.IDField)
	}
	names = append(names, schema.ObjectColumn)
	values = append(values, object)

	query, args, err := s.builder.
		Insert(s.dialect.Qualify(s.namespace, obj.Table())).
		Columns(names...).
		Values(values...).
		SuffixExpr(s.upsertSuffix(names)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build %s upsert: %w", obj.Name, err)
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("put %s: %w", obj.Name, err)
	}
	return nil
}

func (s *SQLStore) upsertSuffix(columns []string) sq.Sqlizer {
	sets := make([]string, 0, len(columns))
	for _, c := range columns {
		if c == schema.IDField {
			continue
		}
		if s.dialect == dialect.MySQL {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	if s.dialect == dialect.MySQL {
		return sq.Expr("ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", "))
	}
	return sq.Expr("ON CONFLICT(" + schema.IDField + ") DO UPDATE SET " + strings.Join(sets, ", "))
}

// GetObject returns the stored object blob, or nil when no row has the id.
func (s *SQLStore) GetObject(ctx context.Context, typeID int64, id any) ([]byte, error) {
	obj, err := s.entity(typeID)
	if err != nil {
		return nil, err
	}
	query, args, err := s.builder.
		Select(schema.ObjectColumn).
		From(s.dialect.Qualify(s.namespace, obj.Table())).
		Where(sq.Eq{schema.IDField: id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s lookup: %w", obj.Name, err)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", obj.Name, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var blob []byte
	if err := rows.Scan(&blob); err != nil {
		return nil, fmt.Errorf("scan %s: %w", obj.Name, err)
	}
	return blob, rows.Err()
}

// PutManyToMany links a parent row to child rows through their junction
// table. Existing links are kept.
func (s *SQLStore) PutManyToMany(ctx context.Context, parentTypeID, childTypeID int64, parentID any, childIDs []any) error {
	if len(childIDs) == 0 {
		return nil
	}
	j, ok := s.joins[[2]int64{parentTypeID, childTypeID}]
	if !ok {
		return fmt.Errorf("%w: no junction between %d and %d", ErrUnknownType, parentTypeID, childTypeID)
	}

	insert := s.builder.
		Insert(s.dialect.Qualify(s.namespace, j.Name())).
		Columns(j.ParentKey(), j.ChildKey())
	for _, child := range childIDs {
		insert = insert.Values(parentID, child)
	}
	if s.dialect == dialect.MySQL {
		insert = insert.Options("IGNORE")
	} else {
		insert = insert.Suffix("ON CONFLICT DO NOTHING")
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build %s insert: %w", j.Name(), err)
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("link %s: %w", j.Name(), err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
