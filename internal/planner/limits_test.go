package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rootField(t *testing.T, query string) *Selection {
	t.Helper()
	ops, err := ParseOperations(testSchema(t), query, "", nil)
	require.NoError(t, err)
	return ops[0].Fields[0]
}

func TestEstimateCostNestedLists(t *testing.T) {
	field := rootField(t, `{ lenders(first: 2, order: { asc: id }) { id borrowers(filter: { has: [account] }) { account } } }`)

	cost := EstimateCost(field, DefaultListLimit)
	assert.Equal(t, 3, cost.Depth)
	// 1 + 2 * (id + (1 + 100 * account))
	assert.Equal(t, 1+2*(1+(1+100*1)), cost.Complexity)
}

func TestEstimateCostScalarOnly(t *testing.T) {
	cost := EstimateCost(rootField(t, `{ lender(id: 1) { id } }`), DefaultListLimit)
	assert.Equal(t, 2, cost.Depth)
	assert.Equal(t, 2, cost.Complexity)
	assert.Equal(t, "depth=2 complexity=2", cost.String())
}

func TestPlanLimitsCheck(t *testing.T) {
	field := rootField(t, `{ lenders { borrower { account } } }`)

	_, err := PlanLimits{}.Check(field)
	require.NoError(t, err)

	_, err = PlanLimits{MaxDepth: 3}.Check(field)
	require.NoError(t, err)

	_, err = PlanLimits{MaxDepth: 2}.Check(field)
	requireKind(t, err, KindQueryTooDeep)

	_, err = PlanLimits{MaxComplexity: 2}.Check(field)
	requireKind(t, err, KindQueryTooDeep)
}
