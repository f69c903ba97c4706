package planner

import (
	"fmt"
	"strconv"
)

// DefaultListLimit is the row estimate for a list field without first.
const DefaultListLimit = 100

// PlanLimits defines cost limits applied before a query is prepared.
type PlanLimits struct {
	MaxDepth      int
	MaxComplexity int
}

// PlanCost captures the estimated cost of one root field.
type PlanCost struct {
	Depth      int
	Complexity int
}

// EstimateCost estimates cost from the selection tree. Fields paginated with
// a literal first count that many rows, other fields with children count
// fallbackLimit rows.
func EstimateCost(field *Selection, fallbackLimit int) PlanCost {
	if field == nil {
		return PlanCost{}
	}
	return PlanCost{
		Depth:      field.Depth(),
		Complexity: estimateComplexity(field, fallbackLimit),
	}
}

// Check rejects a root field that exceeds the limits.
func (l PlanLimits) Check(field *Selection) (PlanCost, error) {
	cost := EstimateCost(field, DefaultListLimit)
	if l.MaxDepth > 0 && cost.Depth > l.MaxDepth {
		return cost, &GraphqlError{
			Kind:   KindQueryTooDeep,
			Field:  field.Name,
			Detail: fmt.Sprintf("maximum depth is %d (depth: %d)", l.MaxDepth, cost.Depth),
		}
	}
	if l.MaxComplexity > 0 && cost.Complexity > l.MaxComplexity {
		return cost, &GraphqlError{
			Kind:   KindQueryTooDeep,
			Field:  field.Name,
			Detail: fmt.Sprintf("maximum complexity is %d (complexity: %d)", l.MaxComplexity, cost.Complexity),
		}
	}
	return cost, nil
}

func estimateComplexity(field *Selection, fallbackLimit int) int {
	if len(field.Selections) == 0 {
		return 1
	}
	rows := 1
	if n, ok := firstFromArgs(field); ok {
		rows = n
	} else if fallbackLimit > 0 && hasListArguments(field) {
		rows = fallbackLimit
	}

	complexity := 1
	for _, child := range field.Selections {
		complexity += rows * estimateComplexity(child, fallbackLimit)
	}
	return complexity
}

func firstFromArgs(field *Selection) (int, bool) {
	for _, arg := range field.Arguments {
		if arg == nil || arg.Name == nil || arg.Name.Value != "first" {
			continue
		}
		if v, err := resolveValue(arg.Value, nil); err == nil {
			if n, ok := v.(int64); ok && n >= 0 {
				return int(n), true
			}
		}
	}
	return 0, false
}

// hasListArguments treats a field filtered or ordered as a list.
func hasListArguments(field *Selection) bool {
	for _, arg := range field.Arguments {
		if arg == nil || arg.Name == nil {
			continue
		}
		switch arg.Name.Value {
		case "filter", "order", "offset":
			return true
		}
	}
	return false
}

// String renders the cost for logs.
func (c PlanCost) String() string {
	return "depth=" + strconv.Itoa(c.Depth) + " complexity=" + strconv.Itoa(c.Complexity)
}
