package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"graph-indexer/internal/blocks"
	"graph-indexer/internal/logging"
)

// Write is one entity upsert returned by a remote handler.
type Write struct {
	TypeID  int64        `json:"type_id"`
	Columns []FieldValue `json:"columns"`
	// Object is base64 on the wire.
	Object []byte `json:"object"`
}

// Link is one many-to-many association returned by a remote handler.
type Link struct {
	ParentTypeID int64 `json:"parent_type_id"`
	ChildTypeID  int64 `json:"child_type_id"`
	ParentID     any   `json:"parent_id"`
	ChildIDs     []any `json:"child_ids"`
}

// Reply is the body a remote handler answers with.
type Reply struct {
	Writes []Write `json:"writes"`
	Links  []Link  `json:"links"`
}

// RemoteHandler posts each batch to an HTTP endpoint and applies the writes
// it answers with.
type RemoteHandler struct {
	url    string
	client *http.Client
	logger *logging.Logger
}

// NewRemoteHandler returns a handler for url. A nil client gets an
// otelhttp-instrumented default.
func NewRemoteHandler(url string, client *http.Client, logger *logging.Logger) (*RemoteHandler, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("handler url is required")
	}
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &RemoteHandler{url: url, client: client, logger: logger.WithComponent("handler")}, nil
}

func (h *RemoteHandler) Handle(ctx context.Context, store Store, batch []blocks.BlockData) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode block batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("call handler: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 256<<20))
	if err != nil {
		return fmt.Errorf("read handler reply: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("handler returned %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}

	reply, err := decodeReply(raw)
	if err != nil {
		return err
	}
	if err := reply.Apply(ctx, store); err != nil {
		return err
	}

	h.logger.Debug("handler batch applied",
		slog.Int("blocks", len(batch)),
		slog.Int("writes", len(reply.Writes)),
		slog.Int("links", len(reply.Links)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// decodeReply keeps integers exact: JSON numbers become int64 where they fit,
// a decimal string when they do not, and float64 only when they carry a
// fraction or exponent.
func decodeReply(raw []byte) (*Reply, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var reply Reply
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode handler reply: %w", err)
	}
	for i := range reply.Writes {
		for j := range reply.Writes[i].Columns {
			reply.Writes[i].Columns[j].Value = normalize(reply.Writes[i].Columns[j].Value)
		}
	}
	for i := range reply.Links {
		reply.Links[i].ParentID = normalize(reply.Links[i].ParentID)
		for j := range reply.Links[i].ChildIDs {
			reply.Links[i].ChildIDs[j] = normalize(reply.Links[i].ChildIDs[j])
		}
	}
	return &reply, nil
}

func normalize(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if b, ok := new(big.Int).SetString(n.String(), 10); ok {
			// Out of int64 range (u64, 128-bit); the driver casts the text.
			return b.String()
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case map[string]any, []any:
		raw, err := json.Marshal(n)
		if err != nil {
			return nil
		}
		return string(raw)
	default:
		return v
	}
}

// Apply writes every entity, then every link, in reply order.
func (r *Reply) Apply(ctx context.Context, store Store) error {
	for i, w := range r.Writes {
		if err := store.PutObject(ctx, w.TypeID, w.Columns, w.Object); err != nil {
			return fmt.Errorf("write %d: %w", i, err)
		}
	}
	for i, l := range r.Links {
		if err := store.PutManyToMany(ctx, l.ParentTypeID, l.ChildTypeID, l.ParentID, l.ChildIDs); err != nil {
			return fmt.Errorf("link %d: %w", i, err)
		}
	}
	return nil
}
