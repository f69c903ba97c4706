package planner

import (
	sq "github.com/Masterminds/squirrel"
)

// Column is a fully-qualified table column, e.g. ns_idx.thing.account.
type Column struct {
	Table string
	Name  string
}

func (c Column) String() string { return c.Table + "." + c.Name }

// Filter is one node of a parsed filter argument. Every filter renders to a
// parameterized SQL predicate and can produce its logical inverse.
type Filter interface {
	sq.Sqlizer
	Invert() (Filter, error)
}

// IDSelection restricts a query to one row by primary key.
type IDSelection struct {
	Table string
	Value Value
}

func (f IDSelection) ToSql() (string, []interface{}, error) {
	return sq.Eq{f.Table + ".id": f.Value.Arg()}.ToSql()
}

func (f IDSelection) Invert() (Filter, error) {
	return nil, &GraphqlError{Kind: KindUnsupportedNegation, Detail: "id selection"}
}

// CompareOp is a binary comparison.
type CompareOp int

const (
	OpEquals CompareOp = iota
	OpNotEquals
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpBetween
	OpNotBetween
)

var compareInverse = map[CompareOp]CompareOp{
	OpEquals:       OpNotEquals,
	OpNotEquals:    OpEquals,
	OpGreater:      OpLessEqual,
	OpLessEqual:    OpGreater,
	OpGreaterEqual: OpLess,
	OpLess:         OpGreaterEqual,
	OpBetween:      OpNotBetween,
	OpNotBetween:   OpBetween,
}

// Comparison compares a column against a value. Between and NotBetween use
// Value as the lower bound and Max as the upper bound.
type Comparison struct {
	Op     CompareOp
	Column Column
	Value  Value
	Max    Value
}

func (f Comparison) ToSql() (string, []interface{}, error) {
	col := f.Column.String()
	v := f.Value.Arg()
	switch f.Op {
	case OpEquals:
		return sq.Eq{col: v}.ToSql()
	case OpNotEquals:
		return sq.NotEq{col: v}.ToSql()
	case OpGreater:
		return sq.Gt{col: v}.ToSql()
	case OpGreaterEqual:
		return sq.GtOrEq{col: v}.ToSql()
	case OpLess:
		return sq.Lt{col: v}.ToSql()
	case OpLessEqual:
		return sq.LtOrEq{col: v}.ToSql()
	case OpBetween:
		return sq.Expr(col+" BETWEEN ? AND ?", v, f.Max.Arg()).ToSql()
	case OpNotBetween:
		return sq.Expr(col+" NOT BETWEEN ? AND ?", v, f.Max.Arg()).ToSql()
	default:
		return "", nil, newError(KindUnsupportedFilterOperation, "unknown comparison")
	}
}

func (f Comparison) Invert() (Filter, error) {
	f.Op = compareInverse[f.Op]
	return f, nil
}

// Membership tests a column against a list of values.
type Membership struct {
	Column  Column
	Values  []Value
	Negated bool
}

func (f Membership) ToSql() (string, []interface{}, error) {
	args := make([]interface{}, len(f.Values))
	for i, v := range f.Values {
		args[i] = v.Arg()
	}
	if f.Negated {
		return sq.NotEq{f.Column.String(): args}.ToSql()
	}
	return sq.Eq{f.Column.String(): args}.ToSql()
}

func (f Membership) Invert() (Filter, error) {
	f.Negated = !f.Negated
	return f, nil
}

// NullCheck is the has operator: every listed column is set. Its inverse
// holds when any listed column is null.
type NullCheck struct {
	Columns []Column
	Negated bool
}

func (f NullCheck) ToSql() (string, []interface{}, error) {
	if len(f.Columns) == 1 {
		if f.Negated {
			return sq.Eq{f.Columns[0].String(): nil}.ToSql()
		}
		return sq.NotEq{f.Columns[0].String(): nil}.ToSql()
	}
	if f.Negated {
		preds := make(sq.Or, len(f.Columns))
		for i, c := range f.Columns {
			preds[i] = sq.Eq{c.String(): nil}
		}
		return preds.ToSql()
	}
	preds := make(sq.And, len(f.Columns))
	for i, c := range f.Columns {
		preds[i] = sq.NotEq{c.String(): nil}
	}
	return preds.ToSql()
}

func (f NullCheck) Invert() (Filter, error) {
	f.Negated = !f.Negated
	return f, nil
}

// LogicOp combines two filters.
type LogicOp int

const (
	LogicAnd LogicOp = iota
	LogicOr
)

// Logical is a binary AND or OR.
type Logical struct {
	Op    LogicOp
	Left  Filter
	Right Filter
}

func (f Logical) ToSql() (string, []interface{}, error) {
	if f.Op == LogicOr {
		return sq.Or{f.Left, f.Right}.ToSql()
	}
	return sq.And{f.Left, f.Right}.ToSql()
}

// Invert applies De Morgan's laws, so inverting twice restores the original.
func (f Logical) Invert() (Filter, error) {
	left, err := f.Left.Invert()
	if err != nil {
		return nil, err
	}
	right, err := f.Right.Invert()
	if err != nil {
		return nil, err
	}
	op := LogicAnd
	if f.Op == LogicAnd {
		op = LogicOr
	}
	return Logical{Op: op, Left: left, Right: right}, nil
}
