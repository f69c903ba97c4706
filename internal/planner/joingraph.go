package planner

import (
	"strings"
)

// Join is one join clause: Table is joined onto the already-emitted
// Referencing table.
type Join struct {
	Table             string
	Referencing       string
	ReferencingColumn string
	Column            string
	// Left marks an optional relationship rendered as LEFT JOIN.
	Left bool
}

// Condition renders the ON predicate.
func (j Join) Condition() string {
	return j.Referencing + "." + j.ReferencingColumn + " = " + j.Table + "." + j.Column
}

type edge struct {
	from, to int
	join     Join
}

// JoinGraph tracks the tables a query touches and the foreign-key edges
// between them. Tables are nodes keyed by qualified name.
type JoinGraph struct {
	names []string
	index map[string]int
	edges []edge
}

// NewJoinGraph returns an empty graph.
func NewJoinGraph() *JoinGraph {
	return &JoinGraph{index: map[string]int{}}
}

// AddTable registers a node, returning the existing index when the table is
// already known.
func (g *JoinGraph) AddTable(name string) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	i := len(g.names)
	g.names = append(g.names, name)
	g.index[name] = i
	return i
}

// AddDependency records that referencing.referencingCol points at
// referenced.referencedCol. The referenced table is inner-joined after the
// referencing one.
func (g *JoinGraph) AddDependency(referencing, referenced, referencingCol, referencedCol string) {
	g.add(referencing, referenced, referencingCol, referencedCol, false)
}

// AddOptionalDependency is AddDependency rendered as a LEFT JOIN.
func (g *JoinGraph) AddOptionalDependency(referencing, referenced, referencingCol, referencedCol string) {
	g.add(referencing, referenced, referencingCol, referencedCol, true)
}

func (g *JoinGraph) add(referencing, referenced, referencingCol, referencedCol string, left bool) {
	from := g.AddTable(referencing)
	to := g.AddTable(referenced)
	j := Join{
		Table:             referenced,
		Referencing:       referencing,
		ReferencingColumn: referencingCol,
		Column:            referencedCol,
		Left:              left,
	}
	for _, e := range g.edges {
		if e.join == j {
			return
		}
	}
	g.edges = append(g.edges, edge{from: from, to: to, join: j})
}

// Tables returns node names in insertion order.
func (g *JoinGraph) Tables() []string {
	return append([]string(nil), g.names...)
}

// Len is the number of edges.
func (g *JoinGraph) Len() int { return len(g.edges) }

// TopologicalJoins orders the joins so every table is joined only after the
// tables it hangs off. Kahn's algorithm runs in insertion order, and the
// incoming edges of a node are emitted together when it is reached. A cycle
// yields ErrCycle and no joins.
func (g *JoinGraph) TopologicalJoins() ([]Join, error) {
	indegree := make([]int, len(g.names))
	outgoing := make([][]int, len(g.names))
	incoming := make([][]int, len(g.names))
	for i, e := range g.edges {
		indegree[e.to]++
		outgoing[e.from] = append(outgoing[e.from], e.to)
		incoming[e.to] = append(incoming[e.to], i)
	}

	queue := make([]int, 0, len(g.names))
	for i := range g.names {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	joins := make([]Join, 0, len(g.edges))
	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, ei := range incoming[n] {
			joins = append(joins, g.edges[ei].join)
		}
		for _, next := range outgoing[n] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(g.names) {
		return nil, ErrCycle
	}
	return joins, nil
}

// RenderJoins renders ordered joins. Consecutive joins onto the same table
// with the same kind share one clause with their conditions ANDed, since a
// table may only be mentioned once.
func RenderJoins(joins []Join) []string {
	var out []string
	for i := 0; i < len(joins); {
		j := joins[i]
		conds := []string{j.Condition()}
		k := i + 1
		for ; k < len(joins) && joins[k].Table == j.Table && joins[k].Left == j.Left; k++ {
			conds = append(conds, joins[k].Condition())
		}
		kind := "INNER JOIN"
		if j.Left {
			kind = "LEFT JOIN"
		}
		out = append(out, kind+" "+j.Table+" ON "+strings.Join(conds, " AND "))
		i = k
	}
	return out
}
