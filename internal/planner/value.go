package planner

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/graphql-go/graphql/language/ast"
)

// Variables holds the decoded request variables.
type Variables map[string]interface{}

// ValueKind tags a parsed literal.
type ValueKind int

const (
	ValueNumber ValueKind = iota
	// ValueBigNumber holds integers outside the int64 range, bound as text.
	ValueBigNumber
	ValueFloat
	ValueString
	ValueBoolean
)

// Value is one literal from a filter argument. Raw keeps the canonical text
// form so values stay comparable.
type Value struct {
	Kind ValueKind
	Raw  string
}

// NumberValue builds an integer value.
func NumberValue(n int64) Value { return Value{Kind: ValueNumber, Raw: strconv.FormatInt(n, 10)} }

// StringValue builds a string value.
func StringValue(s string) Value { return Value{Kind: ValueString, Raw: s} }

// BoolValue builds a boolean value.
func BoolValue(b bool) Value { return Value{Kind: ValueBoolean, Raw: strconv.FormatBool(b)} }

// Arg returns the value as a database/sql bind argument.
func (v Value) Arg() interface{} {
	switch v.Kind {
	case ValueNumber:
		n, _ := strconv.ParseInt(v.Raw, 10, 64)
		return n
	case ValueFloat:
		f, _ := strconv.ParseFloat(v.Raw, 64)
		return f
	case ValueBoolean:
		return v.Raw == "true"
	default:
		return v.Raw
	}
}

func (v Value) String() string {
	if v.Kind == ValueString {
		return strconv.Quote(v.Raw)
	}
	return v.Raw
}

// enumLiteral marks a bare enum token so it can be told apart from a quoted
// string where that matters (column names in has and order).
type enumLiteral string

// resolveValue converts a query AST value into plain Go values, substituting
// variables. Objects become map[string]interface{} and lists []interface{}.
func resolveValue(v ast.Value, vars Variables) (interface{}, error) {
	switch val := v.(type) {
	case *ast.Variable:
		name := ""
		if val.Name != nil {
			name = val.Name.Value
		}
		raw, ok := vars[name]
		if !ok {
			return nil, &GraphqlError{Kind: KindUndefinedVariable, Argument: name}
		}
		return raw, nil
	case *ast.IntValue:
		if n, err := strconv.ParseInt(val.Value, 10, 64); err == nil {
			return n, nil
		}
		b, ok := new(big.Int).SetString(val.Value, 10)
		if !ok {
			return nil, newError(KindUnableToParseValue, val.Value)
		}
		return b, nil
	case *ast.FloatValue:
		f, err := strconv.ParseFloat(val.Value, 64)
		if err != nil {
			return nil, &GraphqlError{Kind: KindUnableToParseValue, Detail: val.Value, Err: err}
		}
		return f, nil
	case *ast.StringValue:
		return val.Value, nil
	case *ast.BooleanValue:
		return val.Value, nil
	case *ast.EnumValue:
		return enumLiteral(val.Value), nil
	case *ast.ListValue:
		out := make([]interface{}, 0, len(val.Values))
		for _, item := range val.Values {
			resolved, err := resolveValue(item, vars)
			if err != nil {
				return nil, err
			}
			out = append(out, resolved)
		}
		return out, nil
	case *ast.ObjectValue:
		out := make(map[string]interface{}, len(val.Fields))
		for _, field := range val.Fields {
			if field == nil || field.Name == nil {
				continue
			}
			resolved, err := resolveValue(field.Value, vars)
			if err != nil {
				return nil, err
			}
			out[field.Name.Value] = resolved
		}
		return out, nil
	case nil:
		return nil, newError(KindUnsupportedValueType, "null")
	default:
		return nil, newError(KindUnsupportedValueType, fmt.Sprintf("%T", v))
	}
}

// parseValue converts one resolved scalar into a Value. Variables decoded from
// JSON arrive as float64 or json.Number and are narrowed to integers when exact.
func parseValue(raw interface{}) (Value, error) {
	switch v := raw.(type) {
	case int64:
		return NumberValue(v), nil
	case int:
		return NumberValue(int64(v)), nil
	case int32:
		return NumberValue(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return Value{Kind: ValueBigNumber, Raw: strconv.FormatUint(v, 10)}, nil
		}
		return NumberValue(int64(v)), nil
	case *big.Int:
		if v.IsInt64() {
			return NumberValue(v.Int64()), nil
		}
		return Value{Kind: ValueBigNumber, Raw: v.String()}, nil
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return NumberValue(int64(v)), nil
		}
		return Value{Kind: ValueFloat, Raw: strconv.FormatFloat(v, 'g', -1, 64)}, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return NumberValue(n), nil
		}
		if b, ok := new(big.Int).SetString(v.String(), 10); ok {
			return parseValue(b)
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, &GraphqlError{Kind: KindUnableToParseValue, Detail: v.String(), Err: err}
		}
		return parseValue(f)
	case string:
		return StringValue(v), nil
	case enumLiteral:
		return StringValue(string(v)), nil
	case bool:
		return BoolValue(v), nil
	default:
		return Value{}, newError(KindUnsupportedValueType, fmt.Sprintf("%T", raw))
	}
}

// parseCount reads a non-negative integer pagination argument.
func parseCount(arg string, raw interface{}) (uint64, error) {
	v, err := parseValue(raw)
	if err != nil {
		return 0, err
	}
	if v.Kind != ValueNumber {
		return 0, &GraphqlError{Kind: KindInvalidPagination, Argument: arg, Detail: "must be an integer"}
	}
	n := v.Arg().(int64)
	if n < 0 {
		return 0, &GraphqlError{Kind: KindInvalidPagination, Argument: arg, Detail: "must not be negative"}
	}
	return uint64(n), nil
}

// nameOf reads a column name given either as an enum token or a string.
func nameOf(raw interface{}) (string, bool) {
	switch v := raw.(type) {
	case enumLiteral:
		return string(v), true
	case string:
		return v, true
	default:
		return "", false
	}
}
