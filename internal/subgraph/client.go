// Package subgraph queries the indexing subgraphs over GraphQL. Every
// paginated read pins the block hash reported by its first page so that all
// pages describe the same chain state.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrGraphQL is returned when the subgraph answers with GraphQL errors.
var ErrGraphQL = errors.New("graphql error")

const DefaultPageSize = 1000

// BlockMeta is the block the subgraph served a query at.
type BlockMeta struct {
	Hash      string `json:"hash"`
	Number    uint64 `json:"number"`
	Timestamp int64  `json:"timestamp"`
}

// Time returns the block timestamp.
func (b BlockMeta) Time() time.Time { return time.Unix(b.Timestamp, 0).UTC() }

// Client is a GraphQL-over-HTTP client for one subgraph endpoint.
type Client struct {
	url      string
	pageSize int
	http     *http.Client
	log      *zap.Logger
}

func NewClient(url string, pageSize int, log *zap.Logger) *Client {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Client{
		url:      url,
		pageSize: pageSize,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// Query runs a single GraphQL query and decodes its data into out.
func (c *Client) Query(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("subgraph request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("subgraph %s: status %d: %s", c.url, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var gr gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("decode subgraph response: %w", err)
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, len(gr.Errors))
		for i, e := range gr.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("%w: %s", ErrGraphQL, strings.Join(msgs, "; "))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(gr.Data, out)
}

// paginate walks a list field ordered by id. Queries must declare $first,
// $lastId and $block variables and select `_meta { block { hash number timestamp } }`.
func paginate[T any](
	ctx context.Context,
	c *Client,
	query string,
	field string,
	vars map[string]any,
	idOf func(T) string,
) ([]T, BlockMeta, error) {
	var (
		all    []T
		meta   BlockMeta
		pinned bool
		lastID string
	)
	for page := 0; ; page++ {
		v := make(map[string]any, len(vars)+3)
		for k, val := range vars {
			v[k] = val
		}
		v["first"] = c.pageSize
		v["lastId"] = lastID
		if pinned && meta.Hash != "" {
			v["block"] = map[string]any{"hash": meta.Hash}
		} else {
			v["block"] = nil
		}

		var data map[string]json.RawMessage
		if err := c.Query(ctx, query, v, &data); err != nil {
			return nil, BlockMeta{}, fmt.Errorf("%s page %d: %w", field, page, err)
		}
		if !pinned {
			var m struct {
				Block BlockMeta `json:"block"`
			}
			if raw, ok := data["_meta"]; ok {
				if err := json.Unmarshal(raw, &m); err != nil {
					return nil, BlockMeta{}, fmt.Errorf("decode _meta: %w", err)
				}
			}
			meta = m.Block
			pinned = true
		}

		var items []T
		if raw, ok := data[field]; ok && len(raw) > 0 {
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, BlockMeta{}, fmt.Errorf("decode %s: %w", field, err)
			}
		}
		all = append(all, items...)
		if len(items) < c.pageSize {
			break
		}
		lastID = idOf(items[len(items)-1])
	}
	c.log.Debug("subgraph paginated read",
		zap.String("field", field),
		zap.Int("items", len(all)),
		zap.String("block", meta.Hash),
	)
	return all, meta, nil
}
