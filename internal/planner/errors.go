package planner

import "fmt"

// ErrorKind classifies query compile failures.
type ErrorKind int

const (
	KindParse ErrorKind = iota
	KindUnrecognizedType
	KindUnrecognizedField
	KindUnrecognizedArgument
	KindOperationNotSupported
	KindInvalidFragmentSelection
	KindUnsupportedValueType
	KindFragmentResolverFailed
	KindSelectionNotSupported
	KindUnsupportedNegation
	KindNoPredicatesInFilter
	KindUnsupportedFilterOperation
	KindUnableToParseValue
	KindMissingPartnerForBinaryLogicalOperator
	KindUnorderedPaginatedQuery
	KindInvalidPagination
	KindListsOfLists
	KindUndefinedVariable
	KindNoCyclesAllowedInQuery
	KindRootNeedsToBeAQuery
	KindObjectQueryNeedsIDArg
	KindQueryTooDeep
)

func (k ErrorKind) String() string {
	switch k {
	case KindParse:
		return "parse error"
	case KindUnrecognizedType:
		return "unrecognized type"
	case KindUnrecognizedField:
		return "unrecognized field"
	case KindUnrecognizedArgument:
		return "unrecognized argument"
	case KindOperationNotSupported:
		return "operation not supported"
	case KindInvalidFragmentSelection:
		return "invalid fragment selection"
	case KindUnsupportedValueType:
		return "unsupported value type"
	case KindFragmentResolverFailed:
		return "failed to resolve query fragments"
	case KindSelectionNotSupported:
		return "selection not supported"
	case KindUnsupportedNegation:
		return "unsupported negation"
	case KindNoPredicatesInFilter:
		return "filters should have at least one predicate"
	case KindUnsupportedFilterOperation:
		return "unsupported filter operation"
	case KindUnableToParseValue:
		return "unable to parse value"
	case KindMissingPartnerForBinaryLogicalOperator:
		return "no available predicates to associate with logical operator"
	case KindUnorderedPaginatedQuery:
		return "paginated query must have an order applied to at least one field"
	case KindInvalidPagination:
		return "invalid pagination argument"
	case KindListsOfLists:
		return "lists of lists are not supported"
	case KindUndefinedVariable:
		return "undefined variable"
	case KindNoCyclesAllowedInQuery:
		return "no cycles allowed in query"
	case KindRootNeedsToBeAQuery:
		return "root selection must be a query field"
	case KindObjectQueryNeedsIDArg:
		return "object query requires an id argument"
	case KindQueryTooDeep:
		return "query exceeds maximum depth"
	default:
		return "unknown"
	}
}

// GraphqlError is a request-scoped compile failure. Type, Field and Argument
// name the offending schema element when one is known.
type GraphqlError struct {
	Kind     ErrorKind
	Type     string
	Field    string
	Argument string
	Detail   string
	Err      error
}

func (e *GraphqlError) Error() string {
	msg := e.Kind.String()
	switch {
	case e.Type != "" && e.Field != "":
		msg += fmt.Sprintf(" in %s: %s", e.Type, e.Field)
	case e.Type != "" && e.Argument != "":
		msg += fmt.Sprintf(" in %s: %s", e.Type, e.Argument)
	case e.Type != "":
		msg += ": " + e.Type
	case e.Argument != "":
		msg += ": " + e.Argument
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GraphqlError) Unwrap() error { return e.Err }

// Is matches on kind alone, so errors.Is(err, ErrCycle) holds for any cycle error.
func (e *GraphqlError) Is(target error) bool {
	t, ok := target.(*GraphqlError)
	return ok && t.Kind == e.Kind
}

// ErrCycle is returned when a query's joins cannot be ordered.
var ErrCycle = &GraphqlError{Kind: KindNoCyclesAllowedInQuery}

func newError(kind ErrorKind, detail string) *GraphqlError {
	return &GraphqlError{Kind: kind, Detail: detail}
}

func unrecognizedField(typeName, field string) *GraphqlError {
	return &GraphqlError{Kind: KindUnrecognizedField, Type: typeName, Field: field}
}

func unrecognizedArgument(typeName, arg string) *GraphqlError {
	return &GraphqlError{Kind: KindUnrecognizedArgument, Type: typeName, Argument: arg}
}
