package planner

import (
	"testing"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-indexer/internal/dialect"
	"graph-indexer/internal/schema"
)

const plannerSchema = `
type InnerFilterEntity {
  id: ID!
  inner_foo: Charfield!
  inner_bar: UInt8!
}

type FilterEntity {
  id: ID!
  foola: Charfield!
  maybe_null_bar: Int4
  bazoo: Int8!
  inner_entity: InnerFilterEntity!
}

type Borrower {
  id: ID!
  account: Address!
}

type Lender {
  id: ID!
  account: Address!
  borrower: Borrower!
  borrowers: [Borrower!]
}

type Category {
  id: ID!
  label: Charfield!
  children: [Category!]
}

type Employee {
  id: ID!
  manager: Employee
}

type QueryRoot {
  filterentity: [FilterEntity]
  lender: Lender
  lenders: [Lender]
  categories: [Category]
  employees: [Employee]
}
`

func testSchema(t *testing.T) *schema.ParsedSchema {
	t.Helper()
	s, err := schema.Parse("test", "idx", plannerSchema)
	require.NoError(t, err)
	return s
}

func filterTarget(t *testing.T) Target {
	t.Helper()
	return Target{Schema: testSchema(t), Type: "FilterEntity", Table: "test_idx.filterentity"}
}

// argValue parses a GraphQL literal into its AST form.
func argValue(t *testing.T, literal string) ast.Value {
	t.Helper()
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte("{ f(a: " + literal + ") }")}),
	})
	require.NoError(t, err)
	op := doc.Definitions[0].(*ast.OperationDefinition)
	return op.SelectionSet.Selections[0].(*ast.Field).Arguments[0].Value
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var gerr *GraphqlError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, kind, gerr.Kind, gerr.Error())
}

// compile parses a single-operation query and synthesizes its first root field.
func compile(t *testing.T, d dialect.Dialect, query string, vars Variables) (Statement, error) {
	t.Helper()
	s := testSchema(t)
	ops, err := ParseOperations(s, query, "", vars)
	if err != nil {
		return Statement{}, err
	}
	require.Len(t, ops, 1)
	require.NotEmpty(t, ops[0].Fields)
	q, err := Prepare(s, d, ops[0].Fields[0], ops[0].Variables)
	if err != nil {
		return Statement{}, err
	}
	return q.Statement()
}
