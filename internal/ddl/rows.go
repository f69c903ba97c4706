package ddl

// Type kinds persisted with each TypeIDRow.
const (
	KindEntity   = "entity"
	KindVirtual  = "virtual"
	KindUnion    = "union"
	KindEnum     = "enum"
	KindJunction = "junction"
)

// GraphRootRow records one registered schema version.
type GraphRootRow struct {
	Namespace  string
	Identifier string
	Version    string
	QueryRoot  string
	Schema     string
}

// TypeIDRow maps a GraphQL type onto its stable id and table.
type TypeIDRow struct {
	ID          int64
	Namespace   string
	Identifier  string
	Version     string
	GraphQLName string
	TableName   string
	Kind        string
	// Members lists union member types, comma separated.
	Members string
}

// ColumnRow describes one column (or enum value) of a type.
type ColumnRow struct {
	TypeID   int64
	Position int
	Name     string
	// ColumnType is the sqltype.ColumnType name, rendered per dialect at DDL time.
	ColumnType  string
	GraphQLType string
	Nullable    bool
	Unique      bool
	Indexed     bool
	// RefColumn is the @join target for foreign key columns.
	RefColumn string
}

// RootColumnRow is one field of the query root.
type RootColumnRow struct {
	Name        string
	GraphQLType string
}
