// Package dialect enumerates the relational backends the indexer can target and
// the per-backend rendering choices (JSON functions, placeholders, qualification).
package dialect

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect selects one rendering path for DDL and query synthesis.
type Dialect int

const (
	// Postgres is the primary backend.
	Postgres Dialect = iota
	// SQLite is supported for DDL generation only.
	SQLite
	// MySQL covers MySQL 8 and TiDB.
	MySQL
)

// Parse resolves a dialect name as written in configuration.
func Parse(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg", "":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql", "tidb":
		return MySQL, nil
	default:
		return Postgres, fmt.Errorf("unsupported dialect %q", name)
	}
}

// ForDriver maps a database/sql driver name onto its dialect.
func ForDriver(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "pgx", "postgres":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Postgres, fmt.Errorf("no dialect registered for driver %q", driver)
	}
}

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	case MySQL:
		return "mysql"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// Placeholder returns the bind-parameter style for squirrel builders.
func (d Dialect) Placeholder() sq.PlaceholderFormat {
	if d == Postgres {
		return sq.Dollar
	}
	return sq.Question
}

// Builder returns a squirrel statement builder using this dialect's placeholders.
func (d Dialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder())
}

// SupportsSchemas reports whether tables live under a named schema (namespace).
func (d Dialect) SupportsSchemas() bool {
	return d != SQLite
}

// Qualify renders namespace.table, or the bare table where schemas are unsupported.
func (d Dialect) Qualify(namespace, table string) string {
	if !d.SupportsSchemas() || namespace == "" {
		return table
	}
	return namespace + "." + table
}

// JSONObject names the function that builds a JSON object from key/value pairs.
func (d Dialect) JSONObject() string {
	switch d {
	case MySQL:
		return "JSON_OBJECT"
	case SQLite:
		return "json_object"
	default:
		return "json_build_object"
	}
}

// JSONArrayAgg names the aggregate that folds rows into a JSON array.
func (d Dialect) JSONArrayAgg() string {
	switch d {
	case MySQL:
		return "JSON_ARRAYAGG"
	case SQLite:
		return "json_group_array"
	default:
		return "json_agg"
	}
}

// QuoteIdentifier quotes an identifier for statements that are built from
// untrusted names (e.g. DROP SCHEMA during indexer removal).
func (d Dialect) QuoteIdentifier(name string) string {
	if d == MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
