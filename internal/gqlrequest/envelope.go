package gqlrequest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
)

// ErrVariablesNotObject is returned by VariablesMap for arrays and scalars.
var ErrVariablesNotObject = errors.New("variables must be a JSON object")

// Envelope is a GraphQL request independent of how it arrived: the query
// API accepts GET query strings, JSON POST bodies and application/graphql
// POST bodies.
type Envelope struct {
	Query         string
	OperationName string
	// Variables is nil when the request carried none or an explicit null.
	Variables json.RawMessage
}

// Size is the document length in bytes.
func (e Envelope) Size() int {
	return len(e.Query)
}

// VariablesMap decodes Variables for execution. Numbers stay json.Number so
// integers past 2^53 bind exactly, the same as an inline literal.
func (e Envelope) VariablesMap() (map[string]interface{}, error) {
	if len(e.Variables) == 0 {
		return nil, nil
	}
	if e.Variables[0] != '{' {
		return nil, ErrVariablesNotObject
	}
	dec := json.NewDecoder(bytes.NewReader(e.Variables))
	dec.UseNumber()
	var vars map[string]interface{}
	if err := dec.Decode(&vars); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVariablesNotObject, err)
	}
	return vars, nil
}

type wireRequest struct {
	Query         string          `json:"query"`
	OperationName string          `json:"operationName"`
	Variables     json.RawMessage `json:"variables"`
}

// DecodeEnvelope reads the GraphQL payload from r. A POST body is restored
// afterwards so later middleware and the handler can decode it again.
func DecodeEnvelope(r *http.Request) (Envelope, error) {
	if r == nil {
		return Envelope{}, errors.New("request is nil")
	}
	switch r.Method {
	case http.MethodGet:
		return decodeQueryString(r.URL.Query()), nil
	case http.MethodPost:
		return decodeBody(r)
	default:
		return Envelope{}, nil
	}
}

func decodeQueryString(q url.Values) Envelope {
	return Envelope{
		Query:         q.Get("query"),
		OperationName: q.Get("operationName"),
		Variables:     normalizeVariables([]byte(q.Get("variables"))),
	}
}

func decodeBody(r *http.Request) (Envelope, error) {
	if r.Body == nil {
		return Envelope{}, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return Envelope{}, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/graphql" {
		return Envelope{Query: string(body)}, nil
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Envelope{}, nil
	}
	var wire wireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return Envelope{}, fmt.Errorf("invalid request body: %w", err)
	}
	return Envelope{
		Query:         wire.Query,
		OperationName: wire.OperationName,
		Variables:     normalizeVariables(wire.Variables),
	}, nil
}

func normalizeVariables(raw []byte) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
