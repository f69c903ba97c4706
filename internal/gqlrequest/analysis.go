package gqlrequest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

const anonymousOperationName = "<anonymous>"

// Analysis is what the middleware learns about a request before it
// reaches the resolver. It feeds span attributes, log fields and metrics
// and never rejects a request itself.
type Analysis struct {
	Envelope Envelope

	Document  *ast.Document
	Operation *ast.OperationDefinition

	// RequestedName is the operationName sent by the client. Name is the
	// selected operation's name, or <anonymous>.
	RequestedName string
	Name          string
	Type          string

	// RootFields are the top-level selections, i.e. the entity
	// collections and metadata fields the request reads.
	RootFields    []string
	Fields        int
	Depth         int
	VariableCount int

	Canonical string
	Hash      string

	// Err is the first decode, parse or selection failure.
	Err error
}

// AnalyzeRequest decodes and analyzes the GraphQL payload in r.
func AnalyzeRequest(r *http.Request) *Analysis {
	env, err := DecodeEnvelope(r)
	if err != nil {
		return &Analysis{Envelope: env, Err: err}
	}
	return AnalyzeEnvelope(env)
}

// AnalyzeEnvelope parses env and derives the operation metadata.
func AnalyzeEnvelope(env Envelope) *Analysis {
	a := &Analysis{Envelope: env, RequestedName: env.OperationName}
	if strings.TrimSpace(env.Query) == "" {
		return a
	}

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(env.Query), Name: "graphql"}),
	})
	if err != nil {
		a.Err = err
		return a
	}
	a.Document = doc

	op, fragments, err := selectOperation(doc, env.OperationName)
	if err != nil {
		a.Err = err
		return a
	}
	a.Operation = op
	a.Name = operationName(op)
	a.Type = string(op.Operation)
	a.VariableCount = len(op.VariableDefinitions)

	w := &selectionWalker{fragments: fragments, used: map[string]bool{}}
	a.Depth = w.walk(op.SelectionSet, 1)
	a.Fields = w.fields
	a.RootFields = rootFieldNames(op.SelectionSet)

	a.Canonical, a.Hash, a.Err = canonicalize(op, fragments, w.used)
	return a
}

// selectOperation picks the operation to run the way the executor will:
// by name when one is given, otherwise the only operation in the document.
func selectOperation(doc *ast.Document, name string) (*ast.OperationDefinition, map[string]*ast.FragmentDefinition, error) {
	var ops []*ast.OperationDefinition
	fragments := map[string]*ast.FragmentDefinition{}
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.OperationDefinition:
			ops = append(ops, d)
		case *ast.FragmentDefinition:
			if d.Name != nil && d.Name.Value != "" {
				fragments[d.Name.Value] = d
			}
		}
	}

	if name != "" {
		for _, op := range ops {
			if op.Name != nil && op.Name.Value == name {
				return op, fragments, nil
			}
		}
		return nil, fragments, fmt.Errorf("unknown operation named %q", name)
	}
	switch len(ops) {
	case 0:
		return nil, fragments, errors.New("request does not include an operation")
	case 1:
		return ops[0], fragments, nil
	default:
		return nil, fragments, errors.New("operationName is required when request has multiple operations")
	}
}

func operationName(op *ast.OperationDefinition) string {
	if op.Name == nil || op.Name.Value == "" {
		return anonymousOperationName
	}
	return op.Name.Value
}

// selectionWalker counts fields and depth. Each fragment is expanded once
// per request, which also guards against spread cycles. used records
// every fragment name reached, including ones the document lacks.
type selectionWalker struct {
	fragments map[string]*ast.FragmentDefinition
	used      map[string]bool
	fields    int
}

// walk returns the deepest level reached below set, where the operation's
// own fields are level 1.
func (w *selectionWalker) walk(set *ast.SelectionSet, level int) int {
	if set == nil {
		return level - 1
	}
	deepest := level
	for _, sel := range set.Selections {
		reached := level
		switch s := sel.(type) {
		case *ast.Field:
			w.fields++
			if s.SelectionSet != nil {
				reached = w.walk(s.SelectionSet, level+1)
			}
		case *ast.InlineFragment:
			reached = w.walk(s.SelectionSet, level)
		case *ast.FragmentSpread:
			if s.Name == nil || w.used[s.Name.Value] {
				continue
			}
			w.used[s.Name.Value] = true
			if frag := w.fragments[s.Name.Value]; frag != nil {
				reached = w.walk(frag.SelectionSet, level)
			}
		}
		deepest = max(deepest, reached)
	}
	return deepest
}

func rootFieldNames(set *ast.SelectionSet) []string {
	if set == nil {
		return nil
	}
	var names []string
	for _, sel := range set.Selections {
		if f, ok := sel.(*ast.Field); ok && f.Name != nil {
			names = append(names, f.Name.Value)
		}
	}
	return names
}
