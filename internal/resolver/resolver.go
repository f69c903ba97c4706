// Package resolver answers GraphQL requests for registered indexers. Query
// operations are compiled to one SQL statement per root field, each row
// carrying a JSON document, and the documents are stitched into the response.
// Introspection is answered from a reflection schema derived from the parsed
// schema and cached per schema version.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/graphql-go/graphql"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"graph-indexer/internal/catalog"
	"graph-indexer/internal/dbexec"
	"graph-indexer/internal/dialect"
	"graph-indexer/internal/logging"
	"graph-indexer/internal/observability"
	"graph-indexer/internal/planner"
	"graph-indexer/internal/schema"
)

// SchemaSource loads the parsed schema of one indexer. *catalog.Manager
// satisfies it.
type SchemaSource interface {
	Load(ctx context.Context, namespace, identifier string) (*schema.ParsedSchema, error)
}

// Config wires a Resolver.
type Config struct {
	Schemas  SchemaSource
	Executor dbexec.QueryExecutor
	Dialect  dialect.Dialect
	Limits   planner.PlanLimits
	Logger   *logging.Logger
}

// Resolver executes GraphQL requests against indexer tables.
type Resolver struct {
	schemas    SchemaSource
	executor   dbexec.QueryExecutor
	dialect    dialect.Dialect
	limits     planner.PlanLimits
	logger     *logging.Logger
	reflection *reflectionCache
}

// Request is one GraphQL request addressed to an indexer.
type Request struct {
	Namespace     string
	Identifier    string
	Query         string
	OperationName string
	Variables     map[string]interface{}
}

// NewResolver creates a resolver. A zero Dialect means Postgres.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Schemas == nil {
		return nil, errors.New("resolver: schema source is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("resolver: executor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{
		schemas:    cfg.Schemas,
		executor:   cfg.Executor,
		dialect:    cfg.Dialect,
		limits:     cfg.Limits,
		logger:     logger.WithComponent("resolver"),
		reflection: newReflectionCache(),
	}, nil
}

// Invalidate drops the cached reflection schema of one indexer.
func (r *Resolver) Invalidate(namespace, identifier string) {
	r.reflection.invalidate(namespace, identifier)
}

// ReflectionSchema returns the cached reflection schema for an indexer,
// building it on first use.
func (r *Resolver) ReflectionSchema(ctx context.Context, namespace, identifier string) (graphql.Schema, error) {
	s, err := r.load(ctx, namespace, identifier)
	if err != nil {
		return graphql.Schema{}, err
	}
	return r.reflection.get(s)
}

func (r *Resolver) load(ctx context.Context, namespace, identifier string) (*schema.ParsedSchema, error) {
	s, err := r.schemas.Load(ctx, namespace, identifier)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("indexer %s.%s: %w", namespace, identifier, catalog.ErrNotFound)
		}
		return nil, fmt.Errorf("load schema %s.%s: %w", namespace, identifier, err)
	}
	return s, nil
}

// Execute runs a request and returns the value of the response's "data" key.
// Compile failures are *planner.GraphqlError; an unknown indexer wraps
// catalog.ErrNotFound.
func (r *Resolver) Execute(ctx context.Context, req Request) (json.RawMessage, error) {
	ctx, span := startResolverSpan(ctx, "graphql.execute",
		attribute.String("indexer.namespace", req.Namespace),
		attribute.String("indexer.identifier", req.Identifier),
	)
	data, err := r.execute(ctx, req)
	finishResolverSpan(span, err)
	return data, err
}

func (r *Resolver) execute(ctx context.Context, req Request) (json.RawMessage, error) {
	s, err := r.load(ctx, req.Namespace, req.Identifier)
	if err != nil {
		return nil, err
	}

	ops, err := planner.ParseOperations(s, req.Query, req.OperationName, req.Variables)
	if err != nil {
		return nil, err
	}

	run := &requestRun{
		resolver: r,
		schema:   s,
		request:  req,
		cache:    newStatementCache(r.executor),
	}
	values := make([]json.RawMessage, len(ops))
	for i, op := range ops {
		if op.Introspection {
			values[i], err = run.introspect(ctx, op)
		} else {
			values[i], err = run.operation(ctx, op)
		}
		if err != nil {
			return nil, err
		}
	}

	metrics := observability.GraphQLMetricsFromContext(ctx)
	metrics.RecordSQLStatements(ctx, run.cache.executions(), s.UID())

	if len(ops) == 1 {
		return values[0], nil
	}
	keys := make([]string, len(ops))
	for i, op := range ops {
		keys[i] = op.Name
	}
	return objectOf(keys, values)
}

// requestRun holds the state of one request: every root field across every
// operation shares one statement cache.
type requestRun struct {
	resolver *Resolver
	schema   *schema.ParsedSchema
	request  Request
	cache    *statementCache
}

func (run *requestRun) introspect(ctx context.Context, op *planner.Operation) (json.RawMessage, error) {
	r := run.resolver
	reflected, err := r.reflection.get(run.schema)
	if err != nil {
		return nil, fmt.Errorf("build reflection schema: %w", err)
	}
	observability.GraphQLMetricsFromContext(ctx).RecordIntrospection(ctx, run.schema.UID())

	result := graphql.Do(graphql.Params{
		Schema:         reflected,
		RequestString:  run.request.Query,
		VariableValues: run.request.Variables,
		OperationName:  op.Name,
		Context:        ctx,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, len(result.Errors))
		for i, e := range result.Errors {
			msgs[i] = e.Message
		}
		return nil, &planner.GraphqlError{Kind: planner.KindParse, Detail: strings.Join(msgs, "; ")}
	}
	return json.Marshal(result.Data)
}

// operation compiles and runs every root field of a query operation
// concurrently.
func (run *requestRun) operation(ctx context.Context, op *planner.Operation) (json.RawMessage, error) {
	r := run.resolver
	logger := logging.FromContext(ctx)
	metrics := observability.GraphQLMetricsFromContext(ctx)

	queries := make([]*planner.Query, len(op.Fields))
	depth := 0
	for i, field := range op.Fields {
		cost, err := r.limits.Check(field)
		if err != nil {
			return nil, err
		}
		if cost.Depth > depth {
			depth = cost.Depth
		}
		q, err := planner.Prepare(run.schema, r.dialect, field, op.Variables)
		if err != nil {
			return nil, err
		}
		queries[i] = q
		logger.Debug("prepared root field",
			slog.String("field", field.Key()),
			slog.String("cost", cost.String()),
		)
	}
	metrics.RecordQueryDepth(ctx, int64(depth), "query")

	values := make([]json.RawMessage, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			v, err := run.field(gctx, q)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(queries) == 1 {
		return values[0], nil
	}
	keys := make([]string, len(queries))
	for i, q := range queries {
		keys[i] = q.Key
	}
	return objectOf(keys, values)
}

func (run *requestRun) field(ctx context.Context, q *planner.Query) (json.RawMessage, error) {
	ctx, span := startResolverSpan(ctx, "graphql.field")
	stmt, err := q.Statement()
	if err != nil {
		finishResolverSpan(span, err)
		return nil, err
	}
	paginated := q.Params.Paginated()
	setStatementAttributes(span, q.Key, q.List, paginated, len(stmt.Args))

	rows, err := run.cache.query(ctx, stmt)
	if err != nil {
		finishResolverSpan(span, err)
		return nil, err
	}
	observability.GraphQLMetricsFromContext(ctx).RecordResultsCount(ctx, int64(len(rows)), run.schema.UID())
	finishResolverSpan(span, nil)

	switch {
	case paginated:
		if len(rows) == 0 {
			return json.RawMessage("null"), nil
		}
		return rows[0], nil
	case q.List:
		return arrayOf(rows), nil
	default:
		if len(rows) == 0 {
			return json.RawMessage("null"), nil
		}
		return rows[0], nil
	}
}

// statementCache runs each distinct statement once per request. Root fields
// that compile to the same SQL and arguments, for example the same field
// under two aliases, share one execution.
type statementCache struct {
	executor dbexec.QueryExecutor
	group    singleflight.Group

	mu      sync.Mutex
	results map[string][]json.RawMessage
	runs    int64
}

func newStatementCache(executor dbexec.QueryExecutor) *statementCache {
	return &statementCache{executor: executor, results: make(map[string][]json.RawMessage)}
}

func (c *statementCache) query(ctx context.Context, stmt planner.Statement) ([]json.RawMessage, error) {
	key, err := statementKey(stmt)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if rows, ok := c.results[key]; ok {
		c.mu.Unlock()
		return rows, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		if rows, ok := c.results[key]; ok {
			c.mu.Unlock()
			return rows, nil
		}
		c.runs++
		c.mu.Unlock()

		rows, err := c.run(ctx, stmt)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.results[key] = rows
		c.mu.Unlock()
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]json.RawMessage), nil
}

func (c *statementCache) run(ctx context.Context, stmt planner.Statement) ([]json.RawMessage, error) {
	start := time.Now()
	rows, err := c.executor.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if raw == nil {
			out = append(out, json.RawMessage("null"))
			continue
		}
		out = append(out, json.RawMessage(append([]byte(nil), raw...)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	logging.FromContext(ctx).Debug("statement executed",
		slog.Int("rows", len(out)),
		slog.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (c *statementCache) executions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func statementKey(stmt planner.Statement) (string, error) {
	args, err := json.Marshal(stmt.Args)
	if err != nil {
		return "", fmt.Errorf("statement key: %w", err)
	}
	return stmt.SQL + "\x00" + string(args), nil
}

func arrayOf(items []json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(item)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// objectOf builds a JSON object keeping the given key order.
func objectOf(keys []string, values []json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(values[i])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
