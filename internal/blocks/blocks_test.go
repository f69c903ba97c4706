package blocks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiptsCarryTypeDiscriminator(t *testing.T) {
	contract := "0xcc"
	receipts := Receipts{
		Call{ID: "0x01", To: "0x02", Amount: 400, Gas: 4, Param1: 2048508220},
		ReturnData{ID: "0x01", Len: 3, Data: []byte{1, 2, 3}},
		Panic{ID: "0x01", Reason: 2, ContractID: &contract},
		ScriptResult{Result: 0, GasUsed: 1200},
		Burn{SubID: "0x00", ContractID: "0xcc", Val: 9},
	}

	raw, err := json.Marshal(receipts)
	require.NoError(t, err)

	var tags []struct {
		Type ReceiptType `json:"type"`
	}
	require.NoError(t, json.Unmarshal(raw, &tags))
	require.Len(t, tags, 5)
	assert.Equal(t, ReceiptCall, tags[0].Type)
	assert.Equal(t, ReceiptReturnData, tags[1].Type)
	assert.Equal(t, ReceiptPanic, tags[2].Type)
	assert.Equal(t, ReceiptScriptResult, tags[3].Type)
	assert.Equal(t, ReceiptBurn, tags[4].Type)

	var decoded Receipts
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, receipts, decoded)
}

func TestEveryReceiptTypeDecodes(t *testing.T) {
	for _, typ := range []ReceiptType{
		ReceiptCall, ReceiptReturn, ReceiptReturnData, ReceiptPanic, ReceiptRevert,
		ReceiptLog, ReceiptLogData, ReceiptTransfer, ReceiptTransferOut,
		ReceiptScriptResult, ReceiptMessageOut, ReceiptMint, ReceiptBurn,
	} {
		var decoded Receipts
		require.NoError(t, json.Unmarshal([]byte(`[{"type":"`+string(typ)+`"}]`), &decoded), typ)
		require.Len(t, decoded, 1)
		assert.Equal(t, typ, decoded[0].Type())
	}
}

func TestReceiptErrors(t *testing.T) {
	var decoded Receipts
	err := json.Unmarshal([]byte(`[{"type":"teleport"}]`), &decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown receipt type")

	_, err = json.Marshal(Receipts{nil})
	require.Error(t, err)
}

func TestConsensusValidation(t *testing.T) {
	var c Consensus
	require.NoError(t, json.Unmarshal([]byte(`{}`), &c))
	assert.Equal(t, ConsensusUnknown, c.Kind)

	require.NoError(t, json.Unmarshal([]byte(`{"kind":"poa","signature":"0xsig"}`), &c))
	assert.Equal(t, Consensus{Kind: ConsensusPoA, Signature: "0xsig"}, c)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"poa"}`), &c))
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"pow"}`), &c))
}

func chain(heights ...uint64) []BlockData {
	out := make([]BlockData, len(heights))
	for i, h := range heights {
		out[i] = BlockData{Height: h, Consensus: Consensus{Kind: ConsensusGenesis}}
	}
	return out
}

func TestMemorySourcePages(t *testing.T) {
	src := NewMemorySource(chain(3, 1, 2, 4, 5)...)
	ctx := context.Background()

	page, err := src.Fetch(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, Heights(page.Blocks))
	assert.Equal(t, uint64(2), page.Cursor)
	assert.True(t, page.HasNext)

	page, err = src.Fetch(ctx, page.Cursor, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4, 5}, Heights(page.Blocks))
	assert.False(t, page.HasNext)

	page, err = src.Fetch(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Blocks)
	assert.Equal(t, uint64(5), page.Cursor, "empty page keeps the cursor")

	src.Append(chain(6)...)
	page, err = src.Fetch(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{6}, Heights(page.Blocks))
}

func blocksReply(t *testing.T, heights []uint64, hasNext bool, endCursor string) []byte {
	t.Helper()
	var resp graphQLResponse
	resp.Data.Blocks.Nodes = chain(heights...)
	resp.Data.Blocks.PageInfo.HasNextPage = hasNext
	resp.Data.Blocks.PageInfo.EndCursor = endCursor
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	return raw
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *GraphQLClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewGraphQLClient(ClientConfig{
		URL:        srv.URL,
		HTTPClient: srv.Client(),
		MaxElapsed: 5 * time.Second,
		BackOff:    backoff.NewConstantBackOff(10 * time.Millisecond),
	})
	require.NoError(t, err)
	return c
}

func TestGraphQLClientFetch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req graphQLRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "41", req.Variables["after"])
		assert.EqualValues(t, 2, req.Variables["first"])
		assert.Contains(t, req.Query, "blocks(after: $after, first: $first)")
		_, _ = w.Write(blocksReply(t, []uint64{42, 43}, true, "43"))
	})

	page, err := c.Fetch(context.Background(), 41, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{42, 43}, Heights(page.Blocks))
	assert.Equal(t, uint64(43), page.Cursor)
	assert.True(t, page.HasNext)
}

func TestGraphQLClientOmitsZeroCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, hasAfter := req.Variables["after"]
		assert.False(t, hasAfter)
		_, _ = w.Write(blocksReply(t, nil, false, ""))
	})

	page, err := c.Fetch(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Blocks)
	assert.Equal(t, uint64(0), page.Cursor)
}

func TestGraphQLClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(blocksReply(t, []uint64{1}, false, ""))
	})

	page, err := c.Fetch(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, Heights(page.Blocks))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGraphQLClientPermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "client error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad query", http.StatusBadRequest)
			},
			want: "returned 400",
		},
		{
			name: "graphql errors",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"errors":[{"message":"field blocks not found"}]}`))
			},
			want: "field blocks not found",
		},
		{
			name: "out of order heights",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(blocksReply(t, []uint64{12, 11}, false, ""))
			},
			want: "height 11 after 12",
		},
		{
			name: "height at or below cursor",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(blocksReply(t, []uint64{10}, false, ""))
			},
			want: "height 10 after 10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			})
			_, err := c.Fetch(context.Background(), 10, 5)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, int32(1), calls.Load(), "permanent failures are not retried")
		})
	}
}

func TestNewGraphQLClientRequiresURL(t *testing.T) {
	_, err := NewGraphQLClient(ClientConfig{})
	require.Error(t, err)
}
