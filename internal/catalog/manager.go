// Package catalog persists parsed schemas as DDL plus catalog rows and loads
// them back as ParsedSchemas for query compilation.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"graph-indexer/internal/dbexec"
	"graph-indexer/internal/ddl"
	"graph-indexer/internal/dialect"
	"graph-indexer/internal/logging"
	"graph-indexer/internal/observability"
	"graph-indexer/internal/schema"
)

// Key identifies one indexer.
type Key struct {
	Namespace  string
	Identifier string
}

func (k Key) String() string {
	return k.Namespace + "." + k.Identifier
}

// Config wires a Manager.
type Config struct {
	DB       dbexec.TxBeginner
	Executor dbexec.QueryExecutor
	Dialect  dialect.Dialect
	Logger   *logging.Logger
	Metrics  *observability.CatalogMetrics
}

// Manager registers schemas and serves cached ParsedSchemas.
type Manager struct {
	db       dbexec.TxBeginner
	executor dbexec.QueryExecutor
	dialect  dialect.Dialect
	store    *Store
	logger   *logging.Logger
	metrics  *observability.CatalogMetrics

	mu    sync.RWMutex
	cache map[Key]*schema.ParsedSchema
	group singleflight.Group
}

// Registration reports the effect of a Register call.
type Registration struct {
	Schema *schema.ParsedSchema
	// Outcome is "created", "unchanged" or "replaced".
	Outcome string
}

// NewManager creates a catalog manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DB == nil || cfg.Executor == nil {
		return nil, fmt.Errorf("catalog manager requires a database handle and executor")
	}
	if cfg.Dialect == dialect.SQLite {
		return nil, fmt.Errorf("catalog is not supported for %s", cfg.Dialect)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &logging.Logger{Logger: slog.Default()}
	}
	return &Manager{
		db:       cfg.DB,
		executor: cfg.Executor,
		dialect:  cfg.Dialect,
		store:    NewStore(cfg.Dialect),
		logger:   logger.WithComponent("catalog"),
		metrics:  cfg.Metrics,
		cache:    map[Key]*schema.ParsedSchema{},
	}, nil
}

// Store exposes the underlying catalog store.
func (m *Manager) Store() *Store {
	return m.store
}

// Migrate creates the catalog tables if they are missing.
func (m *Manager) Migrate(ctx context.Context) error {
	return m.store.Migrate(ctx, m.executor)
}

// Register parses schemaText, creates its tables and records its catalog
// rows. Registering the same text twice is a no-op. A different version
// fails with ErrAlreadyExists unless replace is set, in which case the
// indexer's tables are dropped and recreated.
func (m *Manager) Register(ctx context.Context, namespace, identifier, schemaText string, replace bool) (*Registration, error) {
	start := time.Now()
	logger := m.logger.WithIndexer(namespace, identifier)

	parsed, err := schema.Parse(namespace, identifier, schemaText, schema.WithIndexMetadata())
	if err != nil {
		m.metrics.RecordRegistration(ctx, namespace, "rejected", time.Since(start))
		return nil, err
	}
	out, err := ddl.Generate(parsed, m.dialect)
	if err != nil {
		m.metrics.RecordRegistration(ctx, namespace, "rejected", time.Since(start))
		return nil, err
	}

	outcome := "created"
	err = dbexec.WithTx(ctx, m.db, func(tx dbexec.QueryExecutor) error {
		current, err := m.store.LatestVersion(ctx, tx, namespace, identifier)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case current == parsed.Version:
			outcome = "unchanged"
			return nil
		case !replace:
			return fmt.Errorf("%w: %s.%s is at version %s", ErrAlreadyExists, namespace, identifier, current)
		default:
			outcome = "replaced"
			if err := m.store.DropNamespace(ctx, tx, out.Namespace); err != nil {
				return err
			}
		}
		return m.persist(ctx, tx, out)
	})
	if err != nil {
		result := "error"
		if errors.Is(err, ErrAlreadyExists) {
			result = "rejected"
		}
		m.metrics.RecordRegistration(ctx, namespace, result, time.Since(start))
		return nil, err
	}

	key := Key{Namespace: namespace, Identifier: identifier}
	m.mu.Lock()
	if outcome == "unchanged" {
		if cached, ok := m.cache[key]; ok {
			parsed = cached
		}
	}
	m.cache[key] = parsed
	m.mu.Unlock()

	m.metrics.RecordRegistration(ctx, namespace, outcome, time.Since(start))
	logger.Info("schema registered",
		slog.String("version", parsed.Version),
		slog.String("outcome", outcome),
		slog.Int("statements", len(out.All())),
	)
	return &Registration{Schema: parsed, Outcome: outcome}, nil
}

func (m *Manager) persist(ctx context.Context, tx dbexec.QueryExecutor, out *ddl.Output) error {
	for _, stmt := range out.All() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}
	rootID, err := m.store.InsertGraphRoot(ctx, tx, out.GraphRoot)
	if err != nil {
		return err
	}
	if err := m.store.InsertTypeIDs(ctx, tx, out.TypeIDs); err != nil {
		return err
	}
	if err := m.store.InsertColumns(ctx, tx, out.GraphRoot.Version, out.Columns); err != nil {
		return err
	}
	return m.store.InsertRootColumns(ctx, tx, rootID, out.RootColumns)
}

// Load returns the latest ParsedSchema for an indexer, rebuilding it from
// catalog rows on a cache miss. Concurrent misses share one rebuild.
func (m *Manager) Load(ctx context.Context, namespace, identifier string) (*schema.ParsedSchema, error) {
	key := Key{Namespace: namespace, Identifier: identifier}
	m.mu.RLock()
	cached, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		m.metrics.RecordLoad(ctx, true, true)
		return cached, nil
	}

	v, err, _ := m.group.Do(key.String(), func() (any, error) {
		m.mu.RLock()
		cached, ok := m.cache[key]
		m.mu.RUnlock()
		if ok {
			return cached, nil
		}
		parsed, err := m.rebuild(ctx, namespace, identifier)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.cache[key] = parsed
		m.mu.Unlock()
		return parsed, nil
	})
	if err != nil {
		m.metrics.RecordLoad(ctx, false, false)
		return nil, err
	}
	m.metrics.RecordLoad(ctx, false, true)
	return v.(*schema.ParsedSchema), nil
}

// rebuild reconstructs a ParsedSchema from catalog rows alone.
func (m *Manager) rebuild(ctx context.Context, namespace, identifier string) (*schema.ParsedSchema, error) {
	root, err := m.store.LatestGraphRoot(ctx, m.executor, namespace, identifier)
	if err != nil {
		return nil, err
	}
	typeRows, err := m.store.TypeIDs(ctx, m.executor, namespace, identifier, root.Version)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(typeRows))
	for _, r := range typeRows {
		ids = append(ids, r.ID)
	}
	columnRows, err := m.store.Columns(ctx, m.executor, root.Version, ids)
	if err != nil {
		return nil, err
	}
	rootRows, err := m.store.RootColumns(ctx, m.executor, root.ID)
	if err != nil {
		return nil, err
	}
	def, err := DefinitionFromRows(root.GraphRootRow, typeRows, columnRows, rootRows)
	if err != nil {
		return nil, err
	}
	return schema.Assemble(def)
}

// DefinitionFromRows re-derives a schema Definition from persisted rows.
// Junction rows are skipped since Assemble derives junctions from list fields.
func DefinitionFromRows(root ddl.GraphRootRow, types []ddl.TypeIDRow, columns []ddl.ColumnRow, rootColumns []ddl.RootColumnRow) (schema.Definition, error) {
	def := schema.Definition{
		Namespace:  root.Namespace,
		Identifier: root.Identifier,
		Version:    root.Version,
		Raw:        root.Schema,
		QueryRoot:  root.QueryRoot,
		Enums:      map[string][]string{},
	}

	byType := map[int64][]ddl.ColumnRow{}
	for _, c := range columns {
		byType[c.TypeID] = append(byType[c.TypeID], c)
	}
	for id := range byType {
		cols := byType[id]
		sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })
	}

	for _, t := range types {
		switch t.Kind {
		case ddl.KindJunction:
			continue
		case ddl.KindEnum:
			for _, c := range byType[t.ID] {
				def.Enums[t.GraphQLName] = append(def.Enums[t.GraphQLName], c.Name)
			}
			def.EnumOrder = append(def.EnumOrder, t.GraphQLName)
			continue
		}

		obj := &schema.Object{
			Name:    t.GraphQLName,
			Virtual: t.Kind == ddl.KindVirtual,
			Union:   t.Kind == ddl.KindUnion,
		}
		if t.Members != "" {
			obj.Members = strings.Split(t.Members, ",")
		}
		for _, c := range byType[t.ID] {
			if c.Name == schema.ObjectColumn {
				continue
			}
			f, err := fieldFromRow(c)
			if err != nil {
				return def, fmt.Errorf("type %s: %w", t.GraphQLName, err)
			}
			obj.Fields = append(obj.Fields, f)
		}
		def.Objects = append(def.Objects, obj)
	}

	for i, r := range rootColumns {
		base, nullable, list, elemNullable, err := schema.ParseTypeString(r.GraphQLType)
		if err != nil {
			return def, fmt.Errorf("root field %s: %w", r.Name, err)
		}
		def.RootFields = append(def.RootFields, schema.Field{
			Name:         r.Name,
			Type:         base,
			Nullable:     nullable,
			List:         list,
			ElemNullable: elemNullable,
			Position:     i,
		})
	}
	return def, nil
}

func fieldFromRow(c ddl.ColumnRow) (schema.Field, error) {
	base, nullable, list, elemNullable, err := schema.ParseTypeString(c.GraphQLType)
	if err != nil {
		return schema.Field{}, err
	}
	return schema.Field{
		Name:         c.Name,
		Type:         base,
		Nullable:     nullable,
		List:         list,
		ElemNullable: elemNullable,
		Indexed:      c.Indexed,
		Unique:       c.Unique,
		JoinOn:       c.RefColumn,
		Position:     c.Position,
	}, nil
}

// LatestVersion reads the newest registered version straight from the catalog.
func (m *Manager) LatestVersion(ctx context.Context, namespace, identifier string) (string, error) {
	return m.store.LatestVersion(ctx, m.executor, namespace, identifier)
}

// CachedVersion returns the version held in the cache, if any.
func (m *Manager) CachedVersion(namespace, identifier string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.cache[Key{Namespace: namespace, Identifier: identifier}]
	if !ok {
		return "", false
	}
	return s.Version, true
}

// Cached lists the indexers currently held in the cache, sorted.
func (m *Manager) Cached() []Key {
	m.mu.RLock()
	keys := make([]Key, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Invalidate evicts an indexer from the cache.
func (m *Manager) Invalidate(namespace, identifier string) {
	m.mu.Lock()
	delete(m.cache, Key{Namespace: namespace, Identifier: identifier})
	m.mu.Unlock()
}

// Remove drops an indexer's tables and catalog rows.
func (m *Manager) Remove(ctx context.Context, namespace, identifier string) error {
	err := dbexec.WithTx(ctx, m.db, func(tx dbexec.QueryExecutor) error {
		if _, err := m.store.LatestVersion(ctx, tx, namespace, identifier); err != nil {
			return err
		}
		if err := m.store.DeleteIndexer(ctx, tx, namespace, identifier); err != nil {
			return err
		}
		return m.store.DropNamespace(ctx, tx, schemaNamespace(namespace, identifier))
	})
	m.Invalidate(namespace, identifier)
	if err != nil {
		return err
	}
	m.logger.WithIndexer(namespace, identifier).Info("indexer removed")
	return nil
}

func schemaNamespace(namespace, identifier string) string {
	s := schema.ParsedSchema{Namespace: namespace, Identifier: identifier}
	return s.SQLNamespace()
}
