package planner

import (
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/graphql-go/graphql/language/ast"

	"graph-indexer/internal/schema"
)

// Target is the entity an argument applies to.
type Target struct {
	Schema *schema.ParsedSchema
	// Type is the GraphQL type name.
	Type string
	// Table is the qualified table name used in column paths.
	Table string
}

func (t Target) object() (*schema.Object, error) {
	obj, ok := t.Schema.Object(t.Type)
	if !ok || obj.Virtual {
		return nil, &GraphqlError{Kind: KindUnrecognizedType, Type: t.Type}
	}
	return obj, nil
}

// column resolves a stored field of the target into a qualified column.
func (t Target) column(obj *schema.Object, name string) (Column, error) {
	f, ok := obj.Field(name)
	if !ok {
		return Column{}, unrecognizedField(t.Type, name)
	}
	if f.List && t.Schema.IsPossibleForeignKey(f.Type) {
		return Column{}, &GraphqlError{
			Kind:   KindUnsupportedFilterOperation,
			Type:   t.Type,
			Field:  name,
			Detail: "list-of-entity fields have no column",
		}
	}
	return Column{Table: t.Table, Name: f.Name}, nil
}

// SortDirection orders a column.
type SortDirection int

const (
	Asc SortDirection = iota
	Desc
)

func (d SortDirection) String() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

// Sort is one ORDER BY term.
type Sort struct {
	Column    Column
	Direction SortDirection
}

func (s Sort) String() string { return s.Column.String() + " " + s.Direction.String() }

// ParamKind tags a parsed argument.
type ParamKind int

const (
	ParamFilter ParamKind = iota
	ParamSort
	ParamOffset
	ParamLimit
)

// Param is one parsed top-level argument.
type Param struct {
	Kind   ParamKind
	Filter Filter
	Sorts  []Sort
	Count  uint64
}

// QueryParams gathers the filters, sorts and pagination of one query.
type QueryParams struct {
	Filters []Filter
	Sorts   []Sort
	Offset  *uint64
	Limit   *uint64
}

// Add folds parsed arguments into the set.
func (p *QueryParams) Add(params ...Param) {
	for _, param := range params {
		switch param.Kind {
		case ParamFilter:
			p.Filters = append(p.Filters, param.Filter)
		case ParamSort:
			p.Sorts = append(p.Sorts, param.Sorts...)
		case ParamOffset:
			n := param.Count
			p.Offset = &n
		case ParamLimit:
			n := param.Count
			p.Limit = &n
		}
	}
}

// Paginated reports whether a limit was requested.
func (p QueryParams) Paginated() bool { return p.Limit != nil }

// Validate rejects a limit without any ordering.
func (p QueryParams) Validate() error {
	if p.Limit != nil && len(p.Sorts) == 0 {
		return newError(KindUnorderedPaginatedQuery, "")
	}
	return nil
}

// Where combines every filter with AND. It returns nil when there are none.
func (p QueryParams) Where() sq.Sqlizer {
	switch len(p.Filters) {
	case 0:
		return nil
	case 1:
		return p.Filters[0]
	}
	and := make(sq.And, len(p.Filters))
	for i, f := range p.Filters {
		and[i] = f
	}
	return and
}

// OrderBy renders the sorts as ORDER BY terms.
func (p QueryParams) OrderBy() []string {
	out := make([]string, len(p.Sorts))
	for i, s := range p.Sorts {
		out[i] = s.String()
	}
	return out
}

// ParseArgument parses one argument of a query field against its entity type.
// Recognized names are filter, id, order, offset and first.
func ParseArgument(t Target, argName string, value ast.Value, vars Variables) (Param, error) {
	raw, err := resolveValue(value, vars)
	if err != nil {
		return Param{}, err
	}
	return parseArgumentValue(t, argName, raw)
}

func parseArgumentValue(t Target, argName string, raw interface{}) (Param, error) {
	obj, err := t.object()
	if err != nil {
		return Param{}, err
	}

	switch argName {
	case "filter":
		m, ok := raw.(map[string]interface{})
		if !ok {
			return Param{}, &GraphqlError{Kind: KindUnsupportedValueType, Argument: argName, Detail: "filter must be an object"}
		}
		f, err := parseFilterObject(t, obj, m)
		if err != nil {
			return Param{}, err
		}
		return Param{Kind: ParamFilter, Filter: f}, nil
	case "id":
		v, err := parseValue(raw)
		if err != nil {
			return Param{}, err
		}
		return Param{Kind: ParamFilter, Filter: IDSelection{Table: t.Table, Value: v}}, nil
	case "order":
		sorts, err := parseOrder(t, obj, raw)
		if err != nil {
			return Param{}, err
		}
		return Param{Kind: ParamSort, Sorts: sorts}, nil
	case "offset":
		n, err := parseCount(argName, raw)
		if err != nil {
			return Param{}, err
		}
		return Param{Kind: ParamOffset, Count: n}, nil
	case "first":
		n, err := parseCount(argName, raw)
		if err != nil {
			return Param{}, err
		}
		return Param{Kind: ParamLimit, Count: n}, nil
	default:
		return Param{}, unrecognizedArgument(t.Type, argName)
	}
}

// parseOrder accepts { asc: column } and { column: desc }. Entries apply in
// sorted key order.
func parseOrder(t Target, obj *schema.Object, raw interface{}) ([]Sort, error) {
	m, ok := raw.(map[string]interface{})
	if !ok || len(m) == 0 {
		return nil, &GraphqlError{Kind: KindUnsupportedValueType, Argument: "order", Detail: "order must be a non-empty object"}
	}

	keys := sortedKeys(m)
	sorts := make([]Sort, 0, len(keys))
	for _, key := range keys {
		var field, dir string
		if d, ok := parseDirection(key); ok {
			name, isName := nameOf(m[key])
			if !isName {
				return nil, &GraphqlError{Kind: KindUnsupportedValueType, Argument: "order", Detail: "direction must name a field"}
			}
			field, dir = name, d
		} else {
			name, isName := nameOf(m[key])
			d, isDir := parseDirection(name)
			if !isName || !isDir {
				return nil, &GraphqlError{Kind: KindUnsupportedValueType, Argument: "order", Detail: fmt.Sprintf("%s must be asc or desc", key)}
			}
			field, dir = key, d
		}

		col, err := t.column(obj, field)
		if err != nil {
			return nil, err
		}
		direction := Asc
		if dir == "desc" {
			direction = Desc
		}
		sorts = append(sorts, Sort{Column: col, Direction: direction})
	}
	return sorts, nil
}

func parseDirection(s string) (string, bool) {
	switch strings.ToLower(s) {
	case "asc":
		return "asc", true
	case "desc":
		return "desc", true
	default:
		return "", false
	}
}

// parseFilterObject walks a filter object in sorted key order. Sibling
// predicates combine with AND. An and/or key pairs with the predicate parsed
// before it, or failing that with the next key in order.
func parseFilterObject(t Target, obj *schema.Object, m map[string]interface{}) (Filter, error) {
	keys := sortedKeys(m)
	if len(keys) == 0 {
		return nil, newError(KindNoPredicatesInFilter, "")
	}

	var current Filter
	for i := 0; i < len(keys); i++ {
		key := keys[i]
		op, logical := logicOpFor(key)
		if !logical {
			pred, err := parsePredicate(t, obj, key, m[key])
			if err != nil {
				return nil, err
			}
			current = and(current, pred)
			continue
		}

		inner, err := parseNestedFilter(t, obj, key, m[key])
		if err != nil {
			return nil, err
		}
		if current != nil {
			current = Logical{Op: op, Left: current, Right: inner}
			continue
		}
		if i+1 >= len(keys) {
			return nil, newError(KindMissingPartnerForBinaryLogicalOperator, "")
		}
		next := keys[i+1]
		if _, nextLogical := logicOpFor(next); nextLogical {
			// The following operator takes this one's operand as its partner.
			current = inner
			continue
		}
		partner, err := parsePredicate(t, obj, next, m[next])
		if err != nil {
			return nil, err
		}
		current = Logical{Op: op, Left: inner, Right: partner}
		i++
	}
	return current, nil
}

func logicOpFor(key string) (LogicOp, bool) {
	switch key {
	case "and":
		return LogicAnd, true
	case "or":
		return LogicOr, true
	default:
		return 0, false
	}
}

func and(left, right Filter) Filter {
	if left == nil {
		return right
	}
	return Logical{Op: LogicAnd, Left: left, Right: right}
}

func parseNestedFilter(t Target, obj *schema.Object, key string, raw interface{}) (Filter, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, &GraphqlError{Kind: KindUnsupportedValueType, Argument: key, Detail: "expected an object"}
	}
	return parseFilterObject(t, obj, m)
}

// parsePredicate handles every non-combinator key: has, not, or a field name.
func parsePredicate(t Target, obj *schema.Object, key string, raw interface{}) (Filter, error) {
	switch key {
	case "has":
		items, ok := raw.([]interface{})
		if !ok {
			items = []interface{}{raw}
		}
		cols := make([]Column, 0, len(items))
		for _, item := range items {
			name, ok := nameOf(item)
			if !ok {
				return nil, &GraphqlError{Kind: KindUnsupportedValueType, Argument: "has", Detail: "expected field names"}
			}
			col, err := t.column(obj, name)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
		if len(cols) == 0 {
			return nil, newError(KindNoPredicatesInFilter, "has")
		}
		return NullCheck{Columns: cols}, nil
	case "not":
		inner, err := parseNestedFilter(t, obj, key, raw)
		if err != nil {
			return nil, err
		}
		return inner.Invert()
	}

	col, err := t.column(obj, key)
	if err != nil {
		return nil, err
	}
	ops, ok := raw.(map[string]interface{})
	if !ok {
		return nil, &GraphqlError{Kind: KindUnsupportedValueType, Type: t.Type, Field: key, Detail: "expected an object of operators"}
	}
	opKeys := sortedKeys(ops)
	if len(opKeys) == 0 {
		return nil, newError(KindNoPredicatesInFilter, key)
	}

	var current Filter
	for _, op := range opKeys {
		pred, err := parseOperator(col, op, ops[op])
		if err != nil {
			return nil, err
		}
		current = and(current, pred)
	}
	return current, nil
}

func parseOperator(col Column, op string, raw interface{}) (Filter, error) {
	switch op {
	case "between":
		bounds, ok := raw.(map[string]interface{})
		if !ok {
			return nil, &GraphqlError{Kind: KindUnsupportedValueType, Argument: op, Detail: "between takes {min, max}"}
		}
		minRaw, hasMin := bounds["min"]
		maxRaw, hasMax := bounds["max"]
		if !hasMin || !hasMax {
			return nil, &GraphqlError{Kind: KindUnsupportedValueType, Argument: op, Detail: "between takes {min, max}"}
		}
		lo, err := parseValue(minRaw)
		if err != nil {
			return nil, err
		}
		hi, err := parseValue(maxRaw)
		if err != nil {
			return nil, err
		}
		return Comparison{Op: OpBetween, Column: col, Value: lo, Max: hi}, nil
	case "equals", "gt", "gte", "lt", "lte":
		v, err := parseValue(raw)
		if err != nil {
			return nil, err
		}
		return Comparison{Op: comparisonOps[op], Column: col, Value: v}, nil
	case "in", "not_in":
		items, ok := raw.([]interface{})
		if !ok {
			return nil, &GraphqlError{Kind: KindUnsupportedValueType, Argument: op, Detail: "expected a list"}
		}
		values := make([]Value, 0, len(items))
		for _, item := range items {
			v, err := parseValue(item)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return Membership{Column: col, Values: values, Negated: op == "not_in"}, nil
	default:
		return nil, &GraphqlError{Kind: KindUnsupportedFilterOperation, Argument: op}
	}
}

var comparisonOps = map[string]CompareOp{
	"equals": OpEquals,
	"gt":     OpGreater,
	"gte":    OpGreaterEqual,
	"lt":     OpLess,
	"lte":    OpLessEqual,
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
