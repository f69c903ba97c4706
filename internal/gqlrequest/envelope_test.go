package gqlrequest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const graphPath = "/api/graph/lending/main"

func TestDecodeEnvelopeGET(t *testing.T) {
	q := url.Values{}
	q.Set("query", "query Recent($n: Int) { lenders(first: $n) { id } }")
	q.Set("operationName", "Recent")
	q.Set("variables", `{"n": 5}`)
	req := httptest.NewRequest(http.MethodGet, graphPath+"?"+q.Encode(), nil)

	env, err := DecodeEnvelope(req)
	require.NoError(t, err)
	assert.Equal(t, "Recent", env.OperationName)
	assert.Equal(t, len(env.Query), env.Size())
	vars, err := env.VariablesMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"n": float64(5)}, vars)
}

func TestDecodeEnvelopePOSTGraphQLBodyIsRestored(t *testing.T) {
	body := "{ lenders { id } }"
	req := httptest.NewRequest(http.MethodPost, graphPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/graphql; charset=utf-8")

	env, err := DecodeEnvelope(req)
	require.NoError(t, err)
	assert.Equal(t, body, env.Query)

	again, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(again))
}

func TestDecodeEnvelopePOSTJSON(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantVars bool
		wantErr  string
	}{
		{name: "with variables", body: `{"query":"{ lenders { id } }","variables":{"first":5}}`, wantVars: true},
		{name: "null variables", body: `{"query":"{ lenders { id } }","variables":null}`},
		{name: "empty body", body: "  "},
		{name: "malformed", body: `{"query":`, wantErr: "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, graphPath, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			env, err := DecodeEnvelope(req)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVars, env.Variables != nil)
		})
	}
}

func TestDecodeEnvelopeOtherMethods(t *testing.T) {
	env, err := DecodeEnvelope(httptest.NewRequest(http.MethodDelete, graphPath, strings.NewReader(`{"query":"{ x }"}`)))
	require.NoError(t, err)
	assert.Empty(t, env.Query)

	_, err = DecodeEnvelope(nil)
	assert.Error(t, err)
}

func TestVariablesMap(t *testing.T) {
	vars, err := Envelope{}.VariablesMap()
	require.NoError(t, err)
	assert.Nil(t, vars)

	vars, err = Envelope{Variables: []byte(`{"height": 9007199254740993, "rate": 0.5, "filter": {"ids": [18446744073709551615]}}`)}.VariablesMap()
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), vars["height"])
	assert.Equal(t, json.Number("0.5"), vars["rate"])
	assert.Equal(t, map[string]interface{}{"ids": []interface{}{json.Number("18446744073709551615")}}, vars["filter"])

	_, err = Envelope{Variables: []byte(`[1,2]`)}.VariablesMap()
	assert.ErrorIs(t, err, ErrVariablesNotObject)

	_, err = Envelope{Variables: []byte(`"x"`)}.VariablesMap()
	assert.ErrorIs(t, err, ErrVariablesNotObject)

	_, err = Envelope{Variables: []byte(`{"a":`)}.VariablesMap()
	assert.ErrorIs(t, err, ErrVariablesNotObject)
}
