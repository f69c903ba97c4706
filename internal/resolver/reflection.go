package resolver

import (
	"fmt"
	"sync"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"graph-indexer/internal/schema"
)

// reflectionKey identifies one cached reflection schema.
type reflectionKey struct {
	namespace  string
	identifier string
}

type reflectionEntry struct {
	version string
	schema  graphql.Schema
}

// reflectionCache holds one reflection schema per indexer, replaced when the
// parsed schema's version moves on.
type reflectionCache struct {
	mu      sync.RWMutex
	entries map[reflectionKey]reflectionEntry
}

func newReflectionCache() *reflectionCache {
	return &reflectionCache{entries: make(map[reflectionKey]reflectionEntry)}
}

func (c *reflectionCache) get(s *schema.ParsedSchema) (graphql.Schema, error) {
	key := reflectionKey{namespace: s.Namespace, identifier: s.Identifier}
	c.mu.RLock()
	if e, ok := c.entries[key]; ok && e.version == s.Version {
		c.mu.RUnlock()
		return e.schema, nil
	}
	c.mu.RUnlock()

	built, err := BuildReflectionSchema(s)
	if err != nil {
		return graphql.Schema{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.version == s.Version {
		return e.schema, nil
	}
	c.entries[key] = reflectionEntry{version: s.Version, schema: built}
	return built, nil
}

func (c *reflectionCache) invalidate(namespace, identifier string) {
	c.mu.Lock()
	delete(c.entries, reflectionKey{namespace: namespace, identifier: identifier})
	c.mu.Unlock()
}

func (c *reflectionCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// BuildReflectionSchema derives the executable schema used to answer
// introspection. Every object gets its output type plus Column, Filter and
// Order input types; every scalar in use gets Comparison and Range inputs.
// Field resolvers are never attached: data queries are compiled to SQL.
func BuildReflectionSchema(s *schema.ParsedSchema) (graphql.Schema, error) {
	b := &reflectionBuilder{
		schema:      s,
		objects:     make(map[string]*graphql.Object),
		enums:       make(map[string]*graphql.Enum),
		scalars:     make(map[string]*graphql.Scalar),
		columns:     make(map[string]*graphql.Enum),
		filters:     make(map[string]*graphql.InputObject),
		orders:      make(map[string]*graphql.InputObject),
		comparisons: make(map[string]*graphql.InputObject),
		ranges:      make(map[string]*graphql.InputObject),
	}
	b.sortDirection = graphql.NewEnum(graphql.EnumConfig{
		Name: "SortDirection",
		Values: graphql.EnumValueConfigMap{
			"asc":  &graphql.EnumValueConfig{Value: "asc"},
			"desc": &graphql.EnumValueConfig{Value: "desc"},
		},
	})

	queryFields := graphql.Fields{}
	for _, rf := range s.RootFields() {
		out, err := b.outputType(rf)
		if err != nil {
			return graphql.Schema{}, err
		}
		field := &graphql.Field{Type: out}
		if rf.List {
			field.Args = b.listArgs(rf.Type, true)
		} else {
			field.Args = graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			}
		}
		queryFields[rf.Name] = field
	}

	if len(queryFields) == 0 {
		queryFields["_schema"] = &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return "No entities found in schema", nil
			},
			Description: "Placeholder field when the schema declares no entities",
		}
	}

	if b.err != nil {
		return graphql.Schema{}, b.err
	}
	root := s.QueryRoot
	if root == "" {
		root = "QueryRoot"
	}
	out, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{Name: root, Fields: queryFields}),
	})
	if err != nil {
		return graphql.Schema{}, err
	}
	// Thunks run during NewSchema, so errors they record surface here.
	if b.err != nil {
		return graphql.Schema{}, b.err
	}
	return out, nil
}

type reflectionBuilder struct {
	schema        *schema.ParsedSchema
	objects       map[string]*graphql.Object
	enums         map[string]*graphql.Enum
	scalars       map[string]*graphql.Scalar
	columns       map[string]*graphql.Enum
	filters       map[string]*graphql.InputObject
	orders        map[string]*graphql.InputObject
	comparisons   map[string]*graphql.InputObject
	ranges        map[string]*graphql.InputObject
	sortDirection *graphql.Enum
	err           error
}

func (b *reflectionBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// outputType wraps a field's base type in its list and non-null modifiers.
func (b *reflectionBuilder) outputType(f schema.Field) (graphql.Output, error) {
	base, err := b.baseType(f.Type)
	if err != nil {
		return nil, err
	}
	var out graphql.Output = base
	if f.List {
		if !f.ElemNullable {
			out = graphql.NewNonNull(out)
		}
		out = graphql.NewList(out)
	}
	if !f.Nullable {
		out = graphql.NewNonNull(out)
	}
	return out, nil
}

func (b *reflectionBuilder) baseType(name string) (graphql.Output, error) {
	if b.schema.IsEnum(name) {
		return b.enum(name), nil
	}
	if b.schema.IsScalar(name) {
		return b.scalar(name), nil
	}
	if _, ok := b.schema.Object(name); ok {
		return b.object(name), nil
	}
	return nil, fmt.Errorf("reflection: unknown type %q", name)
}

func (b *reflectionBuilder) inputType(name string) graphql.Input {
	if b.schema.IsEnum(name) {
		return b.enum(name)
	}
	if b.schema.IsScalar(name) {
		return b.scalar(name)
	}
	// Foreign keys are compared by the referenced id.
	return graphql.ID
}

func (b *reflectionBuilder) scalar(name string) *graphql.Scalar {
	switch name {
	case "ID":
		return graphql.ID
	case "Boolean":
		return graphql.Boolean
	case "Float":
		return graphql.Float
	case "String":
		return graphql.String
	case "Int":
		return graphql.Int
	}
	if s, ok := b.scalars[name]; ok {
		return s
	}
	s := graphql.NewScalar(graphql.ScalarConfig{
		Name:         name,
		Description:  "Indexer scalar " + name,
		Serialize:    identity,
		ParseValue:   identity,
		ParseLiteral: parseLiteral,
	})
	b.scalars[name] = s
	return s
}

func identity(v interface{}) interface{} { return v }

func parseLiteral(v ast.Value) interface{} {
	if v == nil {
		return nil
	}
	return v.GetValue()
}

func (b *reflectionBuilder) enum(name string) *graphql.Enum {
	if e, ok := b.enums[name]; ok {
		return e
	}
	values := graphql.EnumValueConfigMap{}
	for _, v := range b.schema.EnumValues(name) {
		values[v] = &graphql.EnumValueConfig{Value: v}
	}
	e := graphql.NewEnum(graphql.EnumConfig{Name: name, Values: values})
	b.enums[name] = e
	return e
}

func (b *reflectionBuilder) object(name string) *graphql.Object {
	if o, ok := b.objects[name]; ok {
		return o
	}
	obj, _ := b.schema.Object(name)
	o := graphql.NewObject(graphql.ObjectConfig{
		Name: name,
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			fields := graphql.Fields{}
			for _, f := range obj.Fields {
				out, err := b.outputType(f)
				if err != nil {
					b.fail(err)
					continue
				}
				field := &graphql.Field{Type: out}
				if f.List && b.schema.IsPossibleForeignKey(f.Type) {
					field.Args = b.listArgs(f.Type, false)
				}
				fields[f.Name] = field
			}
			return fields
		}),
	})
	b.objects[name] = o
	return o
}

// listArgs are the arguments of a list-of-entity field. Only root fields
// paginate.
func (b *reflectionBuilder) listArgs(typeName string, root bool) graphql.FieldConfigArgument {
	args := graphql.FieldConfigArgument{
		"filter": &graphql.ArgumentConfig{Type: b.filter(typeName)},
		"order":  &graphql.ArgumentConfig{Type: b.order(typeName)},
	}
	if root {
		args["first"] = &graphql.ArgumentConfig{Type: graphql.Int}
		args["offset"] = &graphql.ArgumentConfig{Type: graphql.Int}
		args["id"] = &graphql.ArgumentConfig{Type: graphql.ID}
	}
	return args
}

// filterable lists the fields a filter or order can name: every field except
// lists and virtual-typed fields.
func (b *reflectionBuilder) filterable(typeName string) []schema.Field {
	obj, ok := b.schema.Object(typeName)
	if !ok {
		return nil
	}
	var out []schema.Field
	for _, f := range obj.Fields {
		if f.List || b.schema.IsVirtual(f.Type) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (b *reflectionBuilder) column(typeName string) *graphql.Enum {
	if e, ok := b.columns[typeName]; ok {
		return e
	}
	values := graphql.EnumValueConfigMap{}
	for _, f := range b.filterable(typeName) {
		values[f.Name] = &graphql.EnumValueConfig{Value: f.Name}
	}
	if len(values) == 0 {
		values[schema.IDField] = &graphql.EnumValueConfig{Value: schema.IDField}
	}
	e := graphql.NewEnum(graphql.EnumConfig{Name: typeName + "Column", Values: values})
	b.columns[typeName] = e
	return e
}

func (b *reflectionBuilder) filter(typeName string) *graphql.InputObject {
	if f, ok := b.filters[typeName]; ok {
		return f
	}
	var self *graphql.InputObject
	self = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: typeName + "Filter",
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{
				"has": &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(b.column(typeName)))},
				"and": &graphql.InputObjectFieldConfig{Type: self},
				"or":  &graphql.InputObjectFieldConfig{Type: self},
				"not": &graphql.InputObjectFieldConfig{Type: self},
			}
			for _, f := range b.filterable(typeName) {
				fields[f.Name] = &graphql.InputObjectFieldConfig{Type: b.comparison(f.Type)}
			}
			return fields
		}),
	})
	b.filters[typeName] = self
	return self
}

func (b *reflectionBuilder) order(typeName string) *graphql.InputObject {
	if o, ok := b.orders[typeName]; ok {
		return o
	}
	o := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: typeName + "Order",
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{
				"asc":  &graphql.InputObjectFieldConfig{Type: b.column(typeName)},
				"desc": &graphql.InputObjectFieldConfig{Type: b.column(typeName)},
			}
			for _, f := range b.filterable(typeName) {
				if _, taken := fields[f.Name]; taken {
					continue
				}
				fields[f.Name] = &graphql.InputObjectFieldConfig{Type: b.sortDirection}
			}
			return fields
		}),
	})
	b.orders[typeName] = o
	return o
}

// comparison returns the operator input for one field type. Entity-typed
// fields share the ID comparison.
func (b *reflectionBuilder) comparison(typeName string) *graphql.InputObject {
	input := b.inputType(typeName)
	name := input.Name()
	if c, ok := b.comparisons[name]; ok {
		return c
	}
	c := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name + "Comparison",
		Fields: graphql.InputObjectConfigFieldMap{
			"equals":  &graphql.InputObjectFieldConfig{Type: input},
			"gt":      &graphql.InputObjectFieldConfig{Type: input},
			"gte":     &graphql.InputObjectFieldConfig{Type: input},
			"lt":      &graphql.InputObjectFieldConfig{Type: input},
			"lte":     &graphql.InputObjectFieldConfig{Type: input},
			"in":      &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(input))},
			"not_in":  &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(input))},
			"between": &graphql.InputObjectFieldConfig{Type: b.rangeOf(name, input)},
		},
	})
	b.comparisons[name] = c
	return c
}

func (b *reflectionBuilder) rangeOf(name string, input graphql.Input) *graphql.InputObject {
	if r, ok := b.ranges[name]; ok {
		return r
	}
	r := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name + "Range",
		Fields: graphql.InputObjectConfigFieldMap{
			"min": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(input)},
			"max": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(input)},
		},
	})
	b.ranges[name] = r
	return r
}
