// Package junction classifies the many-to-many junction tables implied by
// list-of-entity fields and exposes the join paths through them.
package junction

import (
	"sort"

	"graph-indexer/internal/schema"
)

// Type classifies how a junction relates its two tables.
type Type int

const (
	// NotJunction indicates the table is not a junction table.
	NotJunction Type = iota
	// PureJunction links two distinct entity tables through two key columns.
	PureJunction
	// SelfJunction links an entity table to itself.
	SelfJunction
)

// String returns a human-readable representation of the junction type.
func (t Type) String() string {
	switch t {
	case NotJunction:
		return "NotJunction"
	case PureJunction:
		return "PureJunction"
	case SelfJunction:
		return "SelfJunction"
	default:
		return "Unknown"
	}
}

// FKInfo contains foreign key details for one side of a junction.
type FKInfo struct {
	ColumnName       string // key column in the junction table (e.g., "lender_id")
	ReferencedTable  string // entity table (e.g., "lender")
	ReferencedColumn string // entity column (e.g., "id")
}

// Info contains classification metadata for a junction table.
type Info struct {
	// Table is the junction table name.
	Table string
	// Type indicates pure vs self junction.
	Type Type
	// Parent is the side owning the list field.
	Parent FKInfo
	// Child is the side the list elements reference.
	Child FKInfo
	// ParentType is the GraphQL type declaring the list field(s).
	ParentType string
	// Fields lists the list fields stored in this junction. Fields of the
	// same parent that target the same child share one table.
	Fields []string
	// ChildPosition is the first field's position among the parent's fields.
	ChildPosition int
}

// Map maps junction table names to their classification info.
type Map map[string]Info

// Classify derives the junction tables of a parsed schema.
func Classify(s *schema.ParsedSchema) Map {
	result := make(Map)
	for _, j := range s.JoinTables() {
		name := j.Name()
		if info, ok := result[name]; ok {
			info.Fields = append(info.Fields, j.Field)
			result[name] = info
			continue
		}
		result[name] = classify(j)
	}
	return result
}

func classify(j schema.JoinTable) Info {
	jType := PureJunction
	if j.ParentTable() == j.ChildTable() {
		jType = SelfJunction
	}
	return Info{
		Table: j.Name(),
		Type:  jType,
		Parent: FKInfo{
			ColumnName:       j.ParentKey(),
			ReferencedTable:  j.ParentTable(),
			ReferencedColumn: j.ParentColumn,
		},
		Child: FKInfo{
			ColumnName:       j.ChildKey(),
			ReferencedTable:  j.ChildTable(),
			ReferencedColumn: j.ChildColumn,
		},
		ParentType:    j.ParentType,
		Fields:        []string{j.Field},
		ChildPosition: j.ChildPosition,
	}
}

// Names returns junction table names in sorted order.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForField finds the junction backing parentType.field.
func (m Map) ForField(parentType, field string) (Info, bool) {
	for _, info := range m {
		if info.ParentType != parentType {
			continue
		}
		for _, f := range info.Fields {
			if f == field {
				return info, true
			}
		}
	}
	return Info{}, false
}

// Between finds the junction linking a parent table to a child table.
func (m Map) Between(parentTable, childTable string) (Info, bool) {
	info, ok := m[schema.JunctionName(parentTable, childTable)]
	return info, ok
}

// Edge is one join hop through a junction.
type Edge struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

// Path returns the two hops parent -> junction -> child, with every table
// name passed through qualify.
func (i Info) Path(qualify func(table string) string) [2]Edge {
	if qualify == nil {
		qualify = func(table string) string { return table }
	}
	junction := qualify(i.Table)
	return [2]Edge{
		{
			FromTable:  qualify(i.Parent.ReferencedTable),
			FromColumn: i.Parent.ReferencedColumn,
			ToTable:    junction,
			ToColumn:   i.Parent.ColumnName,
		},
		{
			FromTable:  junction,
			FromColumn: i.Child.ColumnName,
			ToTable:    qualify(i.Child.ReferencedTable),
			ToColumn:   i.Child.ReferencedColumn,
		},
	}
}
