package planner

import (
	"fmt"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"

	"graph-indexer/internal/schema"
)

// TypenameField is the meta field answered with the enclosing type name.
const TypenameField = "__typename"

// Selection is one field of a query with fragments spread and skip/include
// directives applied.
type Selection struct {
	Name       string
	Alias      string
	Arguments  []*ast.Argument
	Selections []*Selection
}

// Key is the response key: the alias when present, else the field name.
func (s *Selection) Key() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// Operation is one parsed query operation.
type Operation struct {
	// Name is empty for anonymous operations.
	Name string
	// Introspection operations are answered by the reflection schema.
	Introspection bool
	Fields        []*Selection
	Variables     Variables
	// Definition is kept for introspection execution.
	Definition *ast.OperationDefinition
	Document   *ast.Document
}

// ParseOperations parses a request document against a schema. With an
// operation name only that operation is returned; without one every
// operation in the document is.
func ParseOperations(s *schema.ParsedSchema, query, operationName string, vars Variables) ([]*Operation, error) {
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(query),
			Name: "graphql",
		}),
	})
	if err != nil {
		return nil, &GraphqlError{Kind: KindParse, Err: err}
	}

	fragments := map[string]*ast.FragmentDefinition{}
	var defs []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.FragmentDefinition:
			if d.Name != nil {
				fragments[d.Name.Value] = d
			}
		case *ast.OperationDefinition:
			defs = append(defs, d)
		}
	}

	if operationName != "" {
		var selected *ast.OperationDefinition
		for _, op := range defs {
			if op.Name != nil && op.Name.Value == operationName {
				selected = op
				break
			}
		}
		if selected == nil {
			return nil, newError(KindParse, fmt.Sprintf("unknown operation named %q", operationName))
		}
		defs = []*ast.OperationDefinition{selected}
	}
	if len(defs) == 0 {
		return nil, newError(KindParse, "request does not include an operation")
	}

	ops := make([]*Operation, 0, len(defs))
	for _, def := range defs {
		op, err := parseOperation(s, doc, def, fragments, vars)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parseOperation(s *schema.ParsedSchema, doc *ast.Document, def *ast.OperationDefinition, fragments map[string]*ast.FragmentDefinition, vars Variables) (*Operation, error) {
	if def.Operation != ast.OperationTypeQuery {
		return nil, &GraphqlError{Kind: KindOperationNotSupported, Detail: def.Operation}
	}

	op := &Operation{
		Variables:  withDefaults(def, vars),
		Definition: def,
		Document:   doc,
	}
	if def.Name != nil {
		op.Name = def.Name.Value
	}
	if strings.EqualFold(op.Name, "IntrospectionQuery") || selectsMetaField(def.SelectionSet) {
		op.Introspection = true
		return op, nil
	}

	r := &fragmentResolver{
		schema:    s,
		fragments: fragments,
		vars:      op.Variables,
		inFlight:  map[string]bool{},
	}
	fields, err := r.flatten(def.SelectionSet, s.QueryRoot)
	if err != nil {
		return nil, err
	}
	op.Fields = fields
	return op, nil
}

// withDefaults fills unset variables from their declared defaults.
func withDefaults(def *ast.OperationDefinition, vars Variables) Variables {
	out := make(Variables, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	for _, vd := range def.VariableDefinitions {
		if vd == nil || vd.Variable == nil || vd.Variable.Name == nil || vd.DefaultValue == nil {
			continue
		}
		name := vd.Variable.Name.Value
		if _, ok := out[name]; ok {
			continue
		}
		if v, err := resolveValue(vd.DefaultValue, nil); err == nil {
			out[name] = v
		}
	}
	return out
}

func selectsMetaField(set *ast.SelectionSet) bool {
	if set == nil {
		return false
	}
	for _, sel := range set.Selections {
		f, ok := sel.(*ast.Field)
		if ok && f.Name != nil && strings.HasPrefix(f.Name.Value, "__") && f.Name.Value != TypenameField {
			return true
		}
	}
	return false
}

type fragmentResolver struct {
	schema    *schema.ParsedSchema
	fragments map[string]*ast.FragmentDefinition
	vars      Variables
	inFlight  map[string]bool
}

// flatten turns a selection set into fields, spreading named fragments.
// parentType is empty when the enclosing field could not be resolved; the
// error for that surfaces later during preparation.
func (r *fragmentResolver) flatten(set *ast.SelectionSet, parentType string) ([]*Selection, error) {
	if set == nil {
		return nil, nil
	}
	var out []*Selection
	for _, sel := range set.Selections {
		switch node := sel.(type) {
		case *ast.Field:
			include, err := r.included(node.Directives)
			if err != nil {
				return nil, err
			}
			if !include {
				continue
			}
			field, err := r.field(node, parentType)
			if err != nil {
				return nil, err
			}
			out = append(out, field)
		case *ast.FragmentSpread:
			include, err := r.included(node.Directives)
			if err != nil {
				return nil, err
			}
			if !include {
				continue
			}
			spread, err := r.spread(node, parentType)
			if err != nil {
				return nil, err
			}
			out = append(out, spread...)
		case *ast.InlineFragment:
			return nil, newError(KindSelectionNotSupported, "inline fragments")
		}
	}
	return out, nil
}

func (r *fragmentResolver) field(node *ast.Field, parentType string) (*Selection, error) {
	sel := &Selection{Arguments: node.Arguments}
	if node.Name != nil {
		sel.Name = node.Name.Value
	}
	if node.Alias != nil {
		sel.Alias = node.Alias.Value
	}
	if node.SelectionSet == nil {
		return sel, nil
	}

	childType := ""
	if parentType != "" {
		if f, ok := r.schema.FieldType(parentType, sel.Name); ok {
			childType = f.Type
		}
	}
	children, err := r.flatten(node.SelectionSet, childType)
	if err != nil {
		return nil, err
	}
	sel.Selections = children
	return sel, nil
}

func (r *fragmentResolver) spread(node *ast.FragmentSpread, parentType string) ([]*Selection, error) {
	name := ""
	if node.Name != nil {
		name = node.Name.Value
	}
	frag, ok := r.fragments[name]
	if !ok {
		return nil, newError(KindFragmentResolverFailed, fmt.Sprintf("fragment %q is not defined", name))
	}
	if r.inFlight[name] {
		return nil, newError(KindFragmentResolverFailed, fmt.Sprintf("fragment %q spreads itself", name))
	}

	if frag.TypeCondition != nil && frag.TypeCondition.Name != nil && parentType != "" {
		cond := frag.TypeCondition.Name.Value
		if !r.schema.HasType(cond) {
			return nil, &GraphqlError{Kind: KindUnrecognizedType, Type: cond, Detail: fmt.Sprintf("fragment %q", name)}
		}
		if !r.matches(cond, parentType) {
			return nil, &GraphqlError{
				Kind:   KindInvalidFragmentSelection,
				Type:   parentType,
				Detail: fmt.Sprintf("fragment %q is defined on %s", name, cond),
			}
		}
	}

	r.inFlight[name] = true
	defer delete(r.inFlight, name)
	return r.flatten(frag.SelectionSet, parentType)
}

// matches allows a fragment on the exact type or, for a union, on one of its
// members.
func (r *fragmentResolver) matches(cond, parentType string) bool {
	if cond == parentType {
		return true
	}
	obj, ok := r.schema.Object(parentType)
	if !ok || !obj.Union {
		return false
	}
	for _, m := range obj.Members {
		if m == cond {
			return true
		}
	}
	return false
}

// included evaluates @skip and @include.
func (r *fragmentResolver) included(directives []*ast.Directive) (bool, error) {
	for _, d := range directives {
		if d == nil || d.Name == nil {
			continue
		}
		name := d.Name.Value
		if name != "skip" && name != "include" {
			continue
		}
		cond, err := r.directiveCondition(d)
		if err != nil {
			return false, err
		}
		if name == "skip" && cond {
			return false, nil
		}
		if name == "include" && !cond {
			return false, nil
		}
	}
	return true, nil
}

func (r *fragmentResolver) directiveCondition(d *ast.Directive) (bool, error) {
	for _, arg := range d.Arguments {
		if arg == nil || arg.Name == nil || arg.Name.Value != "if" {
			continue
		}
		raw, err := resolveValue(arg.Value, r.vars)
		if err != nil {
			return false, err
		}
		b, ok := raw.(bool)
		if !ok {
			return false, &GraphqlError{Kind: KindUnsupportedValueType, Argument: "if", Detail: fmt.Sprintf("@%s expects a boolean", d.Name.Value)}
		}
		return b, nil
	}
	return false, &GraphqlError{Kind: KindUnsupportedValueType, Argument: "if", Detail: fmt.Sprintf("@%s requires an if argument", d.Name.Value)}
}
