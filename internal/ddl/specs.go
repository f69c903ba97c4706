package ddl

import (
	"fmt"

	"graph-indexer/internal/dialect"
	"graph-indexer/internal/sqltype"
)

// FkSpec is one foreign key constraint to add after every table exists.
type FkSpec struct {
	Namespace string
	Table     string
	Column    string
	RefTable  string
	RefColumn string
	// ColumnType is the storage class of Column, used by the SQLite fallback.
	ColumnType sqltype.ColumnType
	// Constraint overrides the default constraint name. The generator sets it
	// when two keys on one table would otherwise share a name.
	Constraint string
}

// Name is the constraint name. MySQL scopes constraint names to the whole
// schema, so it gets the fully spelled out form.
func (f FkSpec) Name(d dialect.Dialect) string {
	if d == dialect.MySQL {
		return fmt.Sprintf("fk_%s_%s__%s_%s", f.Table, f.Column, f.RefTable, f.RefColumn)
	}
	if f.Constraint != "" {
		return f.Constraint
	}
	return defaultConstraint(f.RefTable, f.RefColumn)
}

func defaultConstraint(refTable, refColumn string) string {
	return fmt.Sprintf("fk_%s_%s", refTable, refColumn)
}

// SQL renders the constraint. SQLite cannot add a constraint to an existing
// column, so it drops and re-adds the column with a REFERENCES clause.
func (f FkSpec) SQL(d dialect.Dialect) string {
	switch d {
	case dialect.SQLite:
		return fmt.Sprintf(
			"ALTER TABLE %s DROP COLUMN %s; ALTER TABLE %s ADD COLUMN %s %s REFERENCES %s(%s);",
			f.Table, f.Column, f.Table, f.Column, sqliteReferenceType(f.ColumnType), f.RefTable, f.RefColumn,
		)
	case dialect.MySQL:
		return fmt.Sprintf(
			"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE NO ACTION ON UPDATE NO ACTION;",
			d.Qualify(f.Namespace, f.Table), f.Name(d), f.Column, d.Qualify(f.Namespace, f.RefTable), f.RefColumn,
		)
	default:
		return fmt.Sprintf(
			"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE NO ACTION ON UPDATE NO ACTION INITIALLY DEFERRED;",
			d.Qualify(f.Namespace, f.Table), f.Name(d), f.Column, d.Qualify(f.Namespace, f.RefTable), f.RefColumn,
		)
	}
}

func sqliteReferenceType(ct sqltype.ColumnType) string {
	switch ct {
	case sqltype.Int4, sqltype.UInt4:
		return "INTEGER"
	case "", sqltype.ID, sqltype.ForeignKey, sqltype.Int8, sqltype.UInt8:
		return "BIGINT"
	default:
		return "TEXT"
	}
}

// IndexSpec is one secondary index on a single column.
type IndexSpec struct {
	Namespace string
	Table     string
	Column    string
	Unique    bool
}

// Name is "<table>_<column>_idx".
func (i IndexSpec) Name() string {
	return fmt.Sprintf("%s_%s_idx", i.Table, i.Column)
}

// SQL renders CREATE INDEX. Postgres names the btree method explicitly.
func (i IndexSpec) SQL(d dialect.Dialect) string {
	prefix := "CREATE "
	if i.Unique {
		prefix += "UNIQUE "
	}
	switch d {
	case dialect.SQLite:
		return fmt.Sprintf("%sINDEX %s ON %s(%s);", prefix, i.Name(), i.Table, i.Column)
	case dialect.MySQL:
		return fmt.Sprintf("%sINDEX %s ON %s (%s);", prefix, i.Name(), d.Qualify(i.Namespace, i.Table), i.Column)
	default:
		return fmt.Sprintf("%sINDEX %s ON %s USING btree (%s);", prefix, i.Name(), d.Qualify(i.Namespace, i.Table), i.Column)
	}
}
