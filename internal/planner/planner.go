// Package planner compiles GraphQL query operations against a parsed indexer
// schema into parameterized SQL. Each root field becomes one statement whose
// rows carry ready-made JSON: filter and order arguments become WHERE and
// ORDER BY clauses, foreign keys become joins ordered by a dependency graph,
// and list fields become common tables aggregated per parent row.
package planner
