// Package ddl turns a ParsedSchema into CREATE statements, deferred foreign
// key and index specifications, and the catalog rows describing them.
package ddl

import (
	"fmt"
	"strings"

	"graph-indexer/internal/dialect"
	"graph-indexer/internal/junction"
	"graph-indexer/internal/schema"
	"graph-indexer/internal/sqltype"
)

// Output is everything one schema registration executes and records.
type Output struct {
	Namespace string
	Dialect   dialect.Dialect
	// Statements holds CREATE SCHEMA (where supported) followed by one CREATE
	// TABLE per entity in declaration order, then junction tables by name.
	Statements  []string
	ForeignKeys []FkSpec
	Indices     []IndexSpec
	Junctions   []junction.Info

	GraphRoot   GraphRootRow
	TypeIDs     []TypeIDRow
	Columns     []ColumnRow
	RootColumns []RootColumnRow
}

// All returns every statement in execution order: tables, then foreign keys,
// then indices.
func (o *Output) All() []string {
	out := make([]string, 0, len(o.Statements)+len(o.ForeignKeys)+len(o.Indices))
	out = append(out, o.Statements...)
	for _, fk := range o.ForeignKeys {
		out = append(out, fk.SQL(o.Dialect))
	}
	for _, idx := range o.Indices {
		out = append(out, idx.SQL(o.Dialect))
	}
	return out
}

// Generate renders the schema for one dialect. The output is a pure function
// of its inputs.
func Generate(s *schema.ParsedSchema, d dialect.Dialect) (*Output, error) {
	ns := s.SQLNamespace()
	out := &Output{
		Namespace: ns,
		Dialect:   d,
		GraphRoot: GraphRootRow{
			Namespace:  s.Namespace,
			Identifier: s.Identifier,
			Version:    s.Version,
			QueryRoot:  s.QueryRoot,
			Schema:     s.Raw,
		},
	}
	if d.SupportsSchemas() && ns != "" {
		out.Statements = append(out.Statements, "CREATE SCHEMA IF NOT EXISTS "+ns)
	}

	for _, obj := range s.Objects() {
		typeID := s.TypeID(obj.Name)
		out.TypeIDs = append(out.TypeIDs, TypeIDRow{
			ID:          typeID,
			Namespace:   s.Namespace,
			Identifier:  s.Identifier,
			Version:     s.Version,
			GraphQLName: obj.Name,
			TableName:   obj.Table(),
			Kind:        objectKind(obj),
			Members:     strings.Join(obj.Members, ","),
		})
		if obj.Virtual {
			for _, f := range obj.Fields {
				out.Columns = append(out.Columns, columnRow(s, typeID, f))
			}
			continue
		}
		stmt, err := out.addTable(s, obj, typeID)
		if err != nil {
			return nil, err
		}
		out.Statements = append(out.Statements, stmt)
	}

	for _, name := range s.Enums() {
		typeID := s.TypeID(name)
		out.TypeIDs = append(out.TypeIDs, TypeIDRow{
			ID:          typeID,
			Namespace:   s.Namespace,
			Identifier:  s.Identifier,
			Version:     s.Version,
			GraphQLName: name,
			TableName:   strings.ToLower(name),
			Kind:        KindEnum,
		})
		for i, value := range s.EnumValues(name) {
			out.Columns = append(out.Columns, ColumnRow{
				TypeID:      typeID,
				Position:    i,
				Name:        value,
				ColumnType:  string(sqltype.Enum),
				GraphQLType: name + "!",
			})
		}
	}

	junctions := junction.Classify(s)
	for _, name := range junctions.Names() {
		info := junctions[name]
		stmt, err := out.addJunction(s, info)
		if err != nil {
			return nil, err
		}
		out.Statements = append(out.Statements, stmt)
		out.Junctions = append(out.Junctions, info)
	}

	for _, f := range s.RootFields() {
		out.RootColumns = append(out.RootColumns, RootColumnRow{Name: f.Name, GraphQLType: f.TypeString()})
	}
	return out, nil
}

func objectKind(obj *schema.Object) string {
	switch {
	case obj.Virtual:
		return KindVirtual
	case obj.Union:
		return KindUnion
	default:
		return KindEntity
	}
}

func columnRow(s *schema.ParsedSchema, typeID int64, f schema.Field) ColumnRow {
	return ColumnRow{
		TypeID:      typeID,
		Position:    f.Position,
		Name:        f.Name,
		ColumnType:  string(s.ColumnType(f)),
		GraphQLType: f.TypeString(),
		Nullable:    f.Nullable,
		Unique:      f.Unique,
		Indexed:     f.Indexed,
		RefColumn:   f.JoinOn,
	}
}

func (o *Output) addTable(s *schema.ParsedSchema, obj *schema.Object, typeID int64) (string, error) {
	table := obj.Table()
	constraints := map[string]struct{}{}
	fragments := make([]string, 0, len(obj.Fields)+1)

	for _, f := range obj.Fields {
		sqlType, err := columnSQL(s, obj, f, o.Dialect)
		if err != nil {
			return "", err
		}
		fragments = append(fragments, columnFragment(f.Name, sqlType, f.Nullable))
		o.Columns = append(o.Columns, columnRow(s, typeID, f))

		if fk, ok := s.ForeignKey(obj.Name, f.Name); ok {
			spec := FkSpec{
				Namespace:  o.Namespace,
				Table:      fk.Table,
				Column:     fk.Column,
				RefTable:   fk.RefTable,
				RefColumn:  fk.RefColumn,
				ColumnType: referencedColumnType(s, f),
			}
			name := spec.Name(o.Dialect)
			if _, taken := constraints[name]; taken {
				spec.Constraint = name + "_" + f.Name
			}
			constraints[spec.Name(o.Dialect)] = struct{}{}
			o.ForeignKeys = append(o.ForeignKeys, spec)
		}
		if f.Indexed && f.Name != schema.IDField && !f.List {
			o.Indices = append(o.Indices, IndexSpec{
				Namespace: o.Namespace,
				Table:     table,
				Column:    f.Name,
				Unique:    f.Unique,
			})
		}
	}

	fragments = append(fragments, columnFragment(schema.ObjectColumn, sqltype.Object.SQL(o.Dialect), false))
	o.Columns = append(o.Columns, ColumnRow{
		TypeID:      typeID,
		Position:    len(obj.Fields),
		Name:        schema.ObjectColumn,
		ColumnType:  string(sqltype.Object),
		GraphQLType: "Object!",
	})

	return createTable(o.Dialect.Qualify(o.Namespace, table), fragments), nil
}

func (o *Output) addJunction(s *schema.ParsedSchema, info junction.Info) (string, error) {
	parentType, err := keyColumnSQL(s, info.Parent, o.Dialect)
	if err != nil {
		return "", err
	}
	childType, err := keyColumnSQL(s, info.Child, o.Dialect)
	if err != nil {
		return "", err
	}
	fragments := []string{
		columnFragment(info.Parent.ColumnName, parentType, false),
		columnFragment(info.Child.ColumnName, childType, false),
		fmt.Sprintf("UNIQUE(%s, %s)", info.Parent.ColumnName, info.Child.ColumnName),
	}

	typeID := s.TypeID(info.Table)
	o.TypeIDs = append(o.TypeIDs, TypeIDRow{
		ID:          typeID,
		Namespace:   s.Namespace,
		Identifier:  s.Identifier,
		Version:     s.Version,
		GraphQLName: info.Table,
		TableName:   info.Table,
		Kind:        KindJunction,
	})
	for i, side := range []junction.FKInfo{info.Parent, info.Child} {
		o.Columns = append(o.Columns, ColumnRow{
			TypeID:      typeID,
			Position:    i,
			Name:        side.ColumnName,
			ColumnType:  string(sqltype.ForeignKey),
			GraphQLType: "ID!",
			RefColumn:   side.ReferencedColumn,
		})
		o.ForeignKeys = append(o.ForeignKeys, FkSpec{
			Namespace:  o.Namespace,
			Table:      info.Table,
			Column:     side.ColumnName,
			RefTable:   side.ReferencedTable,
			RefColumn:  side.ReferencedColumn,
			ColumnType: sqltype.ForeignKey,
			Constraint: fmt.Sprintf("fk_%s_%s", side.ColumnName, side.ReferencedColumn),
		})
	}
	return createTable(o.Dialect.Qualify(o.Namespace, info.Table), fragments), nil
}

func createTable(qualified string, fragments []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS\n %s (\n %s\n)", qualified, strings.Join(fragments, ",\n"))
}

func columnFragment(name, sqlType string, nullable bool) string {
	if nullable {
		return name + " " + sqlType
	}
	return name + " " + sqlType + " not null"
}

// columnSQL renders one field's column type.
func columnSQL(s *schema.ParsedSchema, obj *schema.Object, f schema.Field, d dialect.Dialect) (string, error) {
	if f.Name == schema.IDField {
		if f.Type != "ID" {
			return "", &schema.Error{Kind: schema.KindMissingID, Type: obj.Name, Field: f.Name, Detail: "id must be of type ID"}
		}
		return sqltype.ID.SQL(d), nil
	}
	if f.List {
		return sqltype.ArraySQL(elementType(s, f), d), nil
	}
	if s.IsPossibleForeignKey(f.Type) {
		return referencedColumnType(s, f).SQL(d), nil
	}
	return s.ColumnType(f).SQL(d), nil
}

func elementType(s *schema.ParsedSchema, f schema.Field) sqltype.ColumnType {
	if s.IsPossibleForeignKey(f.Type) {
		return referencedColumnType(s, f)
	}
	return s.ElemColumnType(f)
}

// referencedColumnType is bigint for id references, otherwise the type of the
// @join target column.
func referencedColumnType(s *schema.ParsedSchema, f schema.Field) sqltype.ColumnType {
	if f.JoinOn == "" || f.JoinOn == schema.IDField {
		return sqltype.ForeignKey
	}
	ref, ok := s.FieldType(f.Type, f.JoinOn)
	if !ok {
		return sqltype.ForeignKey
	}
	return s.ColumnType(ref)
}

func keyColumnSQL(s *schema.ParsedSchema, side junction.FKInfo, d dialect.Dialect) (string, error) {
	if side.ReferencedColumn == schema.IDField {
		return sqltype.ForeignKey.SQL(d), nil
	}
	obj, ok := s.ObjectByTable(side.ReferencedTable)
	if !ok {
		return "", &schema.Error{Kind: schema.KindUndefinedType, Type: side.ReferencedTable, Detail: "junction target has no table"}
	}
	f, ok := obj.Field(side.ReferencedColumn)
	if !ok {
		return "", &schema.Error{Kind: schema.KindUndefinedJoinField, Type: obj.Name, Field: side.ReferencedColumn}
	}
	return s.ColumnType(f).SQL(d), nil
}
