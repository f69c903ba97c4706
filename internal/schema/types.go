// Package schema parses indexer GraphQL SDL into a ParsedSchema: the object,
// enum and union model that drives table generation and query compilation.
package schema

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"graph-indexer/internal/sqltype"
	"graph-indexer/internal/sqlutil"
)

// IDField is the primary key every materialized entity carries.
const IDField = "id"

// ObjectColumn is the reserved trailing column holding the serialized entity.
const ObjectColumn = "object"

// Field is one field of an object type, in declaration order.
type Field struct {
	Name string
	// Type is the base named type with list and non-null wrappers removed.
	Type     string
	Nullable bool
	List     bool
	// ElemNullable applies to list fields only.
	ElemNullable bool
	Indexed      bool
	Unique       bool
	// JoinOn names the referenced column when the field carries @join.
	JoinOn   string
	Position int
}

// TypeString renders the field type in SDL form, e.g. "[Borrower!]!".
func (f Field) TypeString() string {
	t := f.Type
	if f.List {
		if !f.ElemNullable {
			t += "!"
		}
		t = "[" + t + "]"
	}
	if !f.Nullable {
		t += "!"
	}
	return t
}

// ParseTypeString is the inverse of Field.TypeString.
func ParseTypeString(s string) (base string, nullable, list, elemNullable bool, err error) {
	s = strings.TrimSpace(s)
	nullable = true
	if strings.HasSuffix(s, "!") {
		nullable = false
		s = strings.TrimSuffix(s, "!")
	}
	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, "]") {
			return "", false, false, false, fmt.Errorf("malformed list type %q", s)
		}
		list = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		elemNullable = true
		if strings.HasSuffix(s, "!") {
			elemNullable = false
			s = strings.TrimSuffix(s, "!")
		}
		if strings.HasPrefix(s, "[") {
			return "", false, false, false, fmt.Errorf("lists of lists are not supported: %q", s)
		}
	}
	if s == "" {
		return "", false, false, false, fmt.Errorf("empty type")
	}
	return s, nullable, list, elemNullable, nil
}

// Object is an object type, or a union flattened into one.
type Object struct {
	Name    string
	Fields  []Field
	Virtual bool
	Union   bool
	// Members lists union member types.
	Members []string
}

// Table is the lowercased backing table name.
func (o *Object) Table() string {
	return strings.ToLower(o.Name)
}

// Field looks up a field by name.
func (o *Object) Field(name string) (Field, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns field names in declaration order.
func (o *Object) FieldNames() []string {
	names := make([]string, len(o.Fields))
	for i, f := range o.Fields {
		names[i] = f.Name
	}
	return names
}

// ForeignKey maps an owning table column onto a referenced table column.
type ForeignKey struct {
	Table     string
	Column    string
	RefTable  string
	RefColumn string
}

// JoinTable describes the junction backing a list-of-entity field.
type JoinTable struct {
	ParentType string
	// ParentColumn is the parent's key column, always "id".
	ParentColumn string
	ChildType    string
	ChildColumn  string
	// Field is the list field on the parent type.
	Field string
	// ChildPosition is the list field's position among the parent's fields.
	ChildPosition int
}

// ParentTable is the lowercased parent table.
func (j JoinTable) ParentTable() string { return strings.ToLower(j.ParentType) }

// ChildTable is the lowercased child table.
func (j JoinTable) ChildTable() string { return strings.ToLower(j.ChildType) }

// Name is the junction table name, "<parent>s_<child>s".
func (j JoinTable) Name() string {
	return JunctionName(j.ParentTable(), j.ChildTable())
}

// ParentKey is the junction column referencing the parent row.
func (j JoinTable) ParentKey() string { return j.ParentTable() + "_" + j.ParentColumn }

// ChildKey is the junction column referencing the child row. Self-referencing
// junctions prefix it with "child_" so the two key columns differ.
func (j JoinTable) ChildKey() string {
	key := j.ChildTable() + "_" + j.ChildColumn
	if j.ChildTable() == j.ParentTable() {
		return "child_" + key
	}
	return key
}

// JunctionName builds the many-to-many table name for a parent and child table.
func JunctionName(parentTable, childTable string) string {
	return parentTable + "s_" + childTable + "s"
}

// ParsedSchema is the immutable model of one indexer schema version.
type ParsedSchema struct {
	Namespace  string
	Identifier string
	Version    string
	Raw        string
	// QueryRoot is the root query type name. It never gets a table.
	QueryRoot string

	objects     map[string]*Object
	order       []string
	tables      map[string]string
	enums       map[string][]string
	enumOrder   []string
	unions      map[string]struct{}
	virtuals    map[string]struct{}
	foreignKeys map[string]map[string]ForeignKey
	joinTables  []JoinTable
	rootFields  []Field
}

// SQLNamespace is the database schema holding this indexer's tables:
// "<namespace>_<identifier>", or the bare namespace when no identifier is set.
func (s *ParsedSchema) SQLNamespace() string {
	if s.Identifier == "" {
		return s.Namespace
	}
	return sqlutil.SchemaName(s.Namespace, s.Identifier)
}

// UID is the dotted namespace.identifier used in logs.
func (s *ParsedSchema) UID() string {
	if s.Identifier == "" {
		return s.Namespace
	}
	return s.Namespace + "." + s.Identifier
}

// TypeID is the stable id of one of this schema's types.
func (s *ParsedSchema) TypeID(typeName string) int64 {
	return TypeID(s.SQLNamespace(), typeName)
}

// Objects returns every object type, including virtual types and unions, in
// declaration order. The query root is excluded.
func (s *ParsedSchema) Objects() []*Object {
	out := make([]*Object, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.objects[name])
	}
	return out
}

// Entities returns the materialized object types in declaration order.
func (s *ParsedSchema) Entities() []*Object {
	out := make([]*Object, 0, len(s.order))
	for _, name := range s.order {
		if !s.objects[name].Virtual {
			out = append(out, s.objects[name])
		}
	}
	return out
}

// Object looks up an object or union type by name.
func (s *ParsedSchema) Object(name string) (*Object, bool) {
	o, ok := s.objects[name]
	return o, ok
}

// ObjectByTable looks up a materialized type by its table name.
func (s *ParsedSchema) ObjectByTable(table string) (*Object, bool) {
	name, ok := s.tables[table]
	if !ok {
		return nil, false
	}
	return s.objects[name], true
}

// Enums returns enum names in declaration order.
func (s *ParsedSchema) Enums() []string {
	return append([]string(nil), s.enumOrder...)
}

// EnumValues returns the values of an enum type.
func (s *ParsedSchema) EnumValues(name string) []string {
	return append([]string(nil), s.enums[name]...)
}

// IsEnum reports whether name is an enum type.
func (s *ParsedSchema) IsEnum(name string) bool {
	_, ok := s.enums[name]
	return ok
}

// IsUnion reports whether name is a union type.
func (s *ParsedSchema) IsUnion(name string) bool {
	_, ok := s.unions[name]
	return ok
}

// IsVirtual reports whether name has no backing table. Enums are virtual.
func (s *ParsedSchema) IsVirtual(name string) bool {
	_, ok := s.virtuals[name]
	return ok
}

// IsScalar reports whether name is a built-in scalar.
func (s *ParsedSchema) IsScalar(name string) bool {
	return sqltype.IsScalar(name)
}

// HasType reports whether name resolves to any known type.
func (s *ParsedSchema) HasType(name string) bool {
	if name == s.QueryRoot || s.IsScalar(name) || s.IsEnum(name) {
		return true
	}
	_, ok := s.objects[name]
	return ok
}

// IsPossibleForeignKey reports whether a field of this base type references
// another table: the type must be a non-virtual object.
func (s *ParsedSchema) IsPossibleForeignKey(name string) bool {
	if s.IsScalar(name) || s.IsEnum(name) || s.IsVirtual(name) {
		return false
	}
	_, ok := s.objects[name]
	return ok
}

// ForeignKey returns the foreign key for (type, field). Keys are stored by
// lowercased owning type.
func (s *ParsedSchema) ForeignKey(typeName, field string) (ForeignKey, bool) {
	byField, ok := s.foreignKeys[strings.ToLower(typeName)]
	if !ok {
		return ForeignKey{}, false
	}
	fk, ok := byField[field]
	return fk, ok
}

// ForeignKeys returns every scalar foreign key, in type then field declaration order.
func (s *ParsedSchema) ForeignKeys() []ForeignKey {
	var out []ForeignKey
	for _, name := range s.order {
		obj := s.objects[name]
		for _, f := range obj.Fields {
			if fk, ok := s.ForeignKey(obj.Name, f.Name); ok {
				out = append(out, fk)
			}
		}
	}
	return out
}

// JoinTables returns junction metadata for every list-of-entity field.
func (s *ParsedSchema) JoinTables() []JoinTable {
	return append([]JoinTable(nil), s.joinTables...)
}

// JoinTable returns the junction metadata for a list field.
func (s *ParsedSchema) JoinTable(typeName, field string) (JoinTable, bool) {
	for _, j := range s.joinTables {
		if j.ParentType == typeName && j.Field == field {
			return j, true
		}
	}
	return JoinTable{}, false
}

// FieldType looks up a field on an object type.
func (s *ParsedSchema) FieldType(typeName, field string) (Field, bool) {
	if typeName == s.QueryRoot {
		return s.RootField(field)
	}
	obj, ok := s.objects[typeName]
	if !ok {
		return Field{}, false
	}
	return obj.Field(field)
}

// IsListField reports whether (type, field) is list typed.
func (s *ParsedSchema) IsListField(typeName, field string) bool {
	f, ok := s.FieldType(typeName, field)
	return ok && f.List
}

// RootFields returns the query root's fields.
func (s *ParsedSchema) RootFields() []Field {
	return append([]Field(nil), s.rootFields...)
}

// RootField resolves a root query field.
func (s *ParsedSchema) RootField(name string) (Field, bool) {
	for _, f := range s.rootFields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ColumnType resolves the storage class of a field.
func (s *ParsedSchema) ColumnType(f Field) sqltype.ColumnType {
	switch {
	case f.List:
		return sqltype.Array
	case s.IsPossibleForeignKey(f.Type):
		return sqltype.ForeignKey
	case s.IsEnum(f.Type):
		return sqltype.Enum
	case s.IsVirtual(f.Type):
		return sqltype.Json
	}
	ct, ok := sqltype.FromScalar(f.Type)
	if !ok {
		return sqltype.Charfield
	}
	return ct
}

// ElemColumnType resolves the element storage class of a list field.
func (s *ParsedSchema) ElemColumnType(f Field) sqltype.ColumnType {
	elem := f
	elem.List = false
	return s.ColumnType(elem)
}

// Version hashes raw schema text into its version string.
func Version(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TypeID derives the stable numeric id of a type: the first eight bytes of
// sha256("<namespace>_<type>") read as a little-endian int64.
func TypeID(namespace, typeName string) int64 {
	sum := sha256.Sum256([]byte(namespace + "_" + typeName))
	return int64(binary.LittleEndian.Uint64(sum[:8]))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
