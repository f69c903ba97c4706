package schema

import "fmt"

// ErrorKind classifies schema failures.
type ErrorKind int

const (
	KindSyntax ErrorKind = iota
	KindUnsupportedTypeKind
	KindUndefinedType
	KindInconsistentVirtualUnion
	KindInconsistentUnionField
	KindListOfLists
	KindMissingID
	KindVirtualWithID
	KindUndefinedJoinField
	KindReservedField
	KindDuplicateType
	KindInvalidUnionMember
)

func (k ErrorKind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindUnsupportedTypeKind:
		return "unsupported type kind"
	case KindUndefinedType:
		return "undefined type"
	case KindInconsistentVirtualUnion:
		return "inconsistent virtual union"
	case KindInconsistentUnionField:
		return "inconsistent union field"
	case KindListOfLists:
		return "list of lists"
	case KindMissingID:
		return "missing id field"
	case KindVirtualWithID:
		return "virtual type with id"
	case KindUndefinedJoinField:
		return "undefined join field"
	case KindReservedField:
		return "reserved field name"
	case KindDuplicateType:
		return "duplicate type"
	case KindInvalidUnionMember:
		return "invalid union member"
	default:
		return "unknown"
	}
}

// Error is a schema parse or validation failure naming the offending type and field.
type Error struct {
	Kind   ErrorKind
	Type   string
	Field  string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	switch {
	case e.Type != "" && e.Field != "":
		msg += fmt.Sprintf(" at %s.%s", e.Type, e.Field)
	case e.Type != "":
		msg += fmt.Sprintf(" at %s", e.Type)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind, so callers can test
// errors.Is(err, &schema.Error{Kind: schema.KindUndefinedType}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Type == "" || t.Type == e.Type)
}

func newError(kind ErrorKind, typeName, field, detail string) *Error {
	return &Error{Kind: kind, Type: typeName, Field: field, Detail: detail}
}
