package blocks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"graph-indexer/internal/logging"
)

// blocksQuery pages blocks forward from a cursor. The node answers with the
// same field names BlockData encodes to.
const blocksQuery = `query Blocks($after: String, $first: Int!) {
  blocks(after: $after, first: $first) {
    page_info { has_next_page end_cursor }
    nodes {
      height id time producer
      header {
        id da_height transactions_count message_receipt_count
        transactions_root message_receipt_root height prev_root time application_hash
      }
      consensus { kind signature }
      transactions {
        id
        status { kind block time reason program_state { return_type data } }
        receipts
      }
    }
  }
}`

// DefaultRetryElapsed bounds how long transient failures are retried.
const DefaultRetryElapsed = 30 * time.Second

// ClientConfig configures a GraphQLClient.
type ClientConfig struct {
	URL string
	// HTTPClient defaults to an otelhttp-instrumented client with a 30s timeout.
	HTTPClient *http.Client
	// MaxElapsed bounds retries of transient failures.
	MaxElapsed time.Duration
	// BackOff defaults to exponential backoff.
	BackOff backoff.BackOff
	Logger  *logging.Logger
}

// GraphQLClient fetches blocks from a node's GraphQL endpoint.
type GraphQLClient struct {
	url        string
	httpClient *http.Client
	maxElapsed time.Duration
	backOff    func() backoff.BackOff
	logger     *logging.Logger
}

// NewGraphQLClient validates cfg and returns a client.
func NewGraphQLClient(cfg ClientConfig) (*GraphQLClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("block source url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = DefaultRetryElapsed
	}
	newBackOff := func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	if cfg.BackOff != nil {
		newBackOff = func() backoff.BackOff { return cfg.BackOff }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &GraphQLClient{
		url:        cfg.URL,
		httpClient: httpClient,
		maxElapsed: maxElapsed,
		backOff:    newBackOff,
		logger:     logger.WithComponent("blocks"),
	}, nil
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		Blocks struct {
			PageInfo struct {
				HasNextPage bool   `json:"has_next_page"`
				EndCursor   string `json:"end_cursor"`
			} `json:"page_info"`
			Nodes []BlockData `json:"nodes"`
		} `json:"blocks"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// StatusError is a non-2xx reply from the node.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("block source returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Fetch implements Source. Network failures and 5xx replies are retried with
// exponential backoff; anything else fails at once.
func (c *GraphQLClient) Fetch(ctx context.Context, cursor uint64, pageSize int) (Page, error) {
	vars := map[string]interface{}{"first": pageSize}
	if cursor > 0 {
		vars["after"] = strconv.FormatUint(cursor, 10)
	}
	body, err := json.Marshal(graphQLRequest{Query: blocksQuery, Variables: vars})
	if err != nil {
		return Page{}, fmt.Errorf("encode blocks request: %w", err)
	}

	resp, err := backoff.Retry(ctx, func() (*graphQLResponse, error) {
		return c.post(ctx, body)
	},
		backoff.WithBackOff(c.backOff()),
		backoff.WithMaxElapsedTime(c.maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("block fetch failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("next", next),
			)
		}),
	)
	if err != nil {
		return Page{}, fmt.Errorf("fetch blocks after %d: %w", cursor, err)
	}

	return pageFrom(cursor, resp)
}

func (c *GraphQLClient) post(ctx context.Context, body []byte) (*graphQLResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: res.StatusCode, Body: truncate(string(raw), 256)}
		if statusErr.Temporary() {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	var out graphQLResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode blocks response: %w", err))
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = e.Message
		}
		return nil, backoff.Permanent(fmt.Errorf("block source: %s", strings.Join(msgs, "; ")))
	}
	return &out, nil
}

// pageFrom checks ordering and derives the resume cursor.
func pageFrom(cursor uint64, resp *graphQLResponse) (Page, error) {
	nodes := resp.Data.Blocks.Nodes
	last := cursor
	for _, b := range nodes {
		if b.Height <= last {
			return Page{}, fmt.Errorf("block source returned height %d after %d", b.Height, last)
		}
		last = b.Height
	}

	page := Page{Blocks: nodes, Cursor: last, HasNext: resp.Data.Blocks.PageInfo.HasNextPage}
	if end := resp.Data.Blocks.PageInfo.EndCursor; end != "" {
		n, err := strconv.ParseUint(end, 10, 64)
		if err != nil {
			return Page{}, fmt.Errorf("block source cursor %q: %w", end, err)
		}
		if n > page.Cursor {
			page.Cursor = n
		}
	}
	return page, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
