package planner

import (
	"fmt"
	"strings"

	"graph-indexer/internal/dialect"
	"graph-indexer/internal/junction"
	"graph-indexer/internal/schema"
)

// SelectionKind tags a node of a prepared selection tree.
type SelectionKind int

const (
	// SelectScalar reads one column.
	SelectScalar SelectionKind = iota
	// SelectObject builds a JSON object from a joined table.
	SelectObject
	// SelectList reads the aggregated items of a list common table.
	SelectList
	// SelectRoot is the top-level object of a query or common table.
	SelectRoot
	// SelectIDReference carries the junction's parent key out of a common table.
	SelectIDReference
	// SelectTypeName answers __typename with a literal.
	SelectTypeName
)

// PreparedSelection is a selection resolved against the schema: every node
// knows the table and column it reads.
type PreparedSelection struct {
	Kind SelectionKind
	// Key is the JSON key in the enclosing object.
	Key    string
	Table  string
	Column string
	// Entity is the GraphQL type the node reads.
	Entity string
	Fields []*PreparedSelection
	CTE    *CommonTable
	// Aggregated marks the element object folded by a list common table.
	Aggregated bool
}

// Path is the qualified column a scalar node reads.
func (p *PreparedSelection) Path() string { return p.Table + "." + p.Column }

// CommonTable pre-aggregates one list field per parent row. It selects from
// the junction table, so a list whose element type equals its parent type
// never joins the parent table twice.
type CommonTable struct {
	Name   string
	Root   *PreparedSelection
	Graph  *JoinGraph
	Params QueryParams
}

// Query is one root field ready for synthesis.
type Query struct {
	Key     string
	Root    *PreparedSelection
	Graph   *JoinGraph
	Params  QueryParams
	List    bool
	Dialect dialect.Dialect
}

// Statement synthesizes the query.
func (q *Query) Statement() (Statement, error) {
	return Synthesize(q.Root, q.Graph, q.Params, q.Dialect)
}

// Prepare resolves one root field of a query operation.
func Prepare(s *schema.ParsedSchema, d dialect.Dialect, field *Selection, vars Variables) (*Query, error) {
	rf, ok := s.RootField(field.Name)
	if !ok {
		return nil, unrecognizedField(s.QueryRoot, field.Name)
	}
	obj, ok := s.Object(rf.Type)
	if !ok || obj.Virtual {
		return nil, &GraphqlError{Kind: KindUnrecognizedType, Type: rf.Type}
	}

	p := &preparer{
		schema:    s,
		dialect:   d,
		junctions: junction.Classify(s),
		vars:      vars,
	}
	table := p.qualify(obj.Table())
	target := Target{Schema: s, Type: obj.Name, Table: table}

	var params QueryParams
	hasID := false
	for _, arg := range field.Arguments {
		if arg == nil || arg.Name == nil {
			continue
		}
		param, err := ParseArgument(target, arg.Name.Value, arg.Value, vars)
		if err != nil {
			return nil, err
		}
		if _, isID := param.Filter.(IDSelection); isID {
			hasID = true
		}
		params.Add(param)
	}
	if !rf.List && !hasID {
		return nil, &GraphqlError{Kind: KindObjectQueryNeedsIDArg, Type: obj.Name, Field: field.Name}
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	graph := NewJoinGraph()
	graph.AddTable(table)
	root, err := p.object(SelectRoot, field.Key(), obj, table, field.Selections, graph, &params)
	if err != nil {
		return nil, err
	}
	return &Query{
		Key:     field.Key(),
		Root:    root,
		Graph:   graph,
		Params:  params,
		List:    rf.List,
		Dialect: d,
	}, nil
}

type preparer struct {
	schema    *schema.ParsedSchema
	dialect   dialect.Dialect
	junctions junction.Map
	vars      Variables
	lists     int
}

func (p *preparer) qualify(table string) string {
	return p.dialect.Qualify(p.schema.SQLNamespace(), table)
}

func (p *preparer) object(kind SelectionKind, key string, obj *schema.Object, table string, sels []*Selection, graph *JoinGraph, params *QueryParams) (*PreparedSelection, error) {
	if len(sels) == 0 {
		return nil, &GraphqlError{Kind: KindSelectionNotSupported, Type: obj.Name, Field: key, Detail: "object fields need a selection set"}
	}
	node := &PreparedSelection{Kind: kind, Key: key, Table: table, Entity: obj.Name}

	for _, sel := range sels {
		if sel.Name == TypenameField {
			node.Fields = append(node.Fields, &PreparedSelection{Kind: SelectTypeName, Key: sel.Key(), Entity: obj.Name})
			continue
		}
		f, ok := obj.Field(sel.Name)
		if !ok {
			return nil, unrecognizedField(obj.Name, sel.Name)
		}

		if f.List && p.schema.IsPossibleForeignKey(f.Type) {
			child, err := p.list(sel, obj, f, table, graph)
			if err != nil {
				return nil, err
			}
			node.Fields = append(node.Fields, child)
			continue
		}

		if fk, isFK := p.schema.ForeignKey(obj.Name, f.Name); isFK && len(sel.Selections) > 0 {
			child, err := p.reference(sel, fk, graph, params)
			if err != nil {
				return nil, err
			}
			node.Fields = append(node.Fields, child)
			continue
		}

		if len(sel.Arguments) > 0 && sel.Arguments[0].Name != nil {
			return nil, unrecognizedArgument(obj.Name, sel.Arguments[0].Name.Value)
		}
		if len(sel.Selections) > 0 && !p.schema.IsVirtual(f.Type) {
			return nil, &GraphqlError{Kind: KindSelectionNotSupported, Type: obj.Name, Field: sel.Name, Detail: "scalar fields take no selection set"}
		}
		// Virtual-typed fields are stored as one JSON column and returned whole.
		node.Fields = append(node.Fields, &PreparedSelection{
			Kind:   SelectScalar,
			Key:    sel.Key(),
			Table:  table,
			Column: f.Name,
			Entity: obj.Name,
		})
	}
	return node, nil
}

// reference follows a foreign key into a nested object. Its arguments
// restrict the outer query.
func (p *preparer) reference(sel *Selection, fk schema.ForeignKey, graph *JoinGraph, params *QueryParams) (*PreparedSelection, error) {
	ref, ok := p.schema.ObjectByTable(fk.RefTable)
	if !ok {
		return nil, &GraphqlError{Kind: KindUnrecognizedType, Type: fk.RefTable}
	}
	owner := p.qualify(fk.Table)
	refTable := p.qualify(fk.RefTable)
	graph.AddDependency(owner, refTable, fk.Column, fk.RefColumn)

	if err := p.nestedArguments(sel, Target{Schema: p.schema, Type: ref.Name, Table: refTable}, params); err != nil {
		return nil, err
	}
	return p.object(SelectObject, sel.Key(), ref, refTable, sel.Selections, graph, params)
}

// list compiles a list-of-entity field into a common table keyed by the
// parent id and left-joins it onto the parent.
func (p *preparer) list(sel *Selection, parent *schema.Object, f schema.Field, parentTable string, graph *JoinGraph) (*PreparedSelection, error) {
	info, ok := p.junctions.ForField(parent.Name, f.Name)
	if !ok {
		return nil, &GraphqlError{Kind: KindSelectionNotSupported, Type: parent.Name, Field: f.Name, Detail: "no junction table"}
	}
	child, ok := p.schema.Object(f.Type)
	if !ok {
		return nil, &GraphqlError{Kind: KindUnrecognizedType, Type: f.Type}
	}
	if len(sel.Selections) == 0 {
		return nil, &GraphqlError{Kind: KindSelectionNotSupported, Type: parent.Name, Field: f.Name, Detail: "list fields need a selection set"}
	}

	path := info.Path(p.qualify)
	junctionTable, childTable := path[0].ToTable, path[1].ToTable

	cteGraph := NewJoinGraph()
	cteGraph.AddTable(junctionTable)
	cteGraph.AddDependency(junctionTable, childTable, path[1].FromColumn, path[1].ToColumn)

	var cteParams QueryParams
	if err := p.nestedArguments(sel, Target{Schema: p.schema, Type: child.Name, Table: childTable}, &cteParams); err != nil {
		return nil, err
	}
	elem, err := p.object(SelectObject, "", child, childTable, sel.Selections, cteGraph, &cteParams)
	if err != nil {
		return nil, err
	}
	elem.Aggregated = true

	p.lists++
	name := fmt.Sprintf("%s_%s_list_%d", parent.Table(), strings.ToLower(f.Name), p.lists)
	cte := &CommonTable{
		Name: name,
		Root: &PreparedSelection{
			Kind:   SelectRoot,
			Table:  junctionTable,
			Entity: child.Name,
			Fields: []*PreparedSelection{
				{Kind: SelectIDReference, Key: "parent_id", Table: junctionTable, Column: path[0].ToColumn},
				elem,
			},
		},
		Graph:  cteGraph,
		Params: cteParams,
	}
	graph.AddOptionalDependency(parentTable, name, path[0].FromColumn, "parent_id")

	return &PreparedSelection{
		Kind:   SelectList,
		Key:    sel.Key(),
		Table:  name,
		Entity: child.Name,
		CTE:    cte,
	}, nil
}

// nestedArguments parses filter and order arguments below the root. Only the
// root field paginates.
func (p *preparer) nestedArguments(sel *Selection, target Target, params *QueryParams) error {
	for _, arg := range sel.Arguments {
		if arg == nil || arg.Name == nil {
			continue
		}
		param, err := ParseArgument(target, arg.Name.Value, arg.Value, p.vars)
		if err != nil {
			return err
		}
		if param.Kind == ParamOffset || param.Kind == ParamLimit {
			return &GraphqlError{Kind: KindInvalidPagination, Type: target.Type, Argument: arg.Name.Value, Detail: "only root fields can be paginated"}
		}
		params.Add(param)
	}
	return nil
}

// collectCTEs returns the list common tables below node, innermost first, so
// each is defined before the one that reads it.
func collectCTEs(node *PreparedSelection) []*CommonTable {
	var out []*CommonTable
	for _, f := range node.Fields {
		switch f.Kind {
		case SelectList:
			out = append(out, collectCTEs(f.CTE.Root)...)
			out = append(out, f.CTE)
		case SelectObject, SelectRoot:
			out = append(out, collectCTEs(f)...)
		}
	}
	return out
}

// groupByColumns walks a selection collecting every column read outside an
// aggregate.
func groupByColumns(node *PreparedSelection) []string {
	var out []string
	for _, f := range node.Fields {
		switch f.Kind {
		case SelectScalar, SelectIDReference:
			out = append(out, f.Path())
		case SelectObject, SelectRoot:
			if !f.Aggregated {
				out = append(out, groupByColumns(f)...)
			}
		}
	}
	return out
}

// Depth is the nesting depth of a selection, counting the field itself.
func (s *Selection) Depth() int {
	depth := 0
	for _, child := range s.Selections {
		if d := child.Depth(); d > depth {
			depth = d
		}
	}
	return depth + 1
}
