// Package index writes documents into Elasticsearch.
//
// Client owns the connection and the bulk wire format; Loader turns pages of
// records into bulk upserts addressed by record id, so loading the same page
// twice leaves the index unchanged.
package index

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/vvlad212/moviesync/internal/retry"
)

//go:embed mappings/*.json
var mappings embed.FS

// Mapping returns the embedded settings and mappings body for index name.
func Mapping(name string) ([]byte, error) {
	b, err := mappings.ReadFile("mappings/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("no mapping for index %q", name)
	}
	return b, nil
}

// Config holds the Elasticsearch connection settings.
type Config struct {
	URL      string
	Username string
	Password string
}

// Client is an Elasticsearch client that re-checks the cluster after a
// transport failure before sending anything else.
type Client struct {
	es     *elasticsearch.Client
	url    string
	policy retry.Policy
	log    *slog.Logger

	mu     sync.Mutex
	broken bool
}

// NewClient connects to Elasticsearch, retrying with policy until the
// cluster answers a ping or ctx is done.
func NewClient(ctx context.Context, cfg Config, policy retry.Policy, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		// Retried by Client.do.
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	c := &Client{
		es:     es,
		url:    cfg.URL,
		policy: policy,
		log:    log.With("component", "index"),
		broken: true,
	}

	c.log.Info("connecting to elasticsearch", "url", cfg.URL)
	if err := retry.Do(ctx, policy, c.log, "elasticsearch ping", c.ready); err != nil {
		return nil, fmt.Errorf("connect to elasticsearch: %w", err)
	}
	c.log.Info("connected to elasticsearch")
	return c, nil
}

// ready pings the cluster if the last request failed in transport.
func (c *Client) ready(ctx context.Context) error {
	c.mu.Lock()
	broken := c.broken
	c.mu.Unlock()
	if !broken {
		return nil
	}

	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("ping: %s", res.Status())
	}

	c.mu.Lock()
	c.broken = false
	c.mu.Unlock()
	return nil
}

// transportFailed marks the connection suspect after a request never got a
// response.
func (c *Client) transportFailed(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return retry.Permanent(ctx.Err())
	}
	c.log.Error("elasticsearch request failed, reconnecting", "op", op, "error", err)
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
	return err
}

// retryable reports whether an HTTP status means the cluster is temporarily
// unable to serve, rather than refusing the request.
func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// errorReason extracts error.reason from an Elasticsearch error body.
func errorReason(body io.Reader) string {
	var e struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(body)
	if err := json.Unmarshal(raw, &e); err != nil || e.Error.Type == "" {
		return string(bytes.TrimSpace(raw))
	}
	return e.Error.Type + ": " + e.Error.Reason
}

// do sends one request built by call, retrying transport failures and
// overload statuses. Any other error status is returned as a LoadError.
func (c *Client) do(ctx context.Context, op string, call func(ctx context.Context) (*esapi.Response, error), handle func(*esapi.Response) error) error {
	return retry.Do(ctx, c.policy, c.log, op, func(ctx context.Context) error {
		if err := c.ready(ctx); err != nil {
			return err
		}
		res, err := call(ctx)
		if err != nil {
			return c.transportFailed(ctx, op, err)
		}
		defer res.Body.Close()

		if retryable(res.StatusCode) {
			return fmt.Errorf("%s: %s", op, res.Status())
		}
		return retry.Permanent(handle(res))
	})
}

// EnsureIndex creates index name with its embedded mapping unless it
// already exists. It reports whether the index was created.
func (c *Client) EnsureIndex(ctx context.Context, name string) (bool, error) {
	body, err := Mapping(name)
	if err != nil {
		return false, err
	}

	exists := false
	err = c.do(ctx, "index exists", func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
	}, func(res *esapi.Response) error {
		switch res.StatusCode {
		case http.StatusOK:
			exists = true
			return nil
		case http.StatusNotFound:
			return nil
		default:
			return &LoadError{Index: name, Status: res.StatusCode, Reason: "index exists check failed"}
		}
	})
	if err != nil {
		return false, err
	}
	if exists {
		c.log.Debug("index exists", "index", name)
		return false, nil
	}

	created := false
	err = c.do(ctx, "create index", func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Indices.Create(name,
			c.es.Indices.Create.WithBody(bytes.NewReader(body)),
			c.es.Indices.Create.WithContext(ctx),
		)
	}, func(res *esapi.Response) error {
		if !res.IsError() {
			created = true
			return nil
		}
		reason := errorReason(res.Body)
		// Another run created it between the check and the create.
		if res.StatusCode == http.StatusBadRequest && strings.Contains(reason, "resource_already_exists_exception") {
			return nil
		}
		return &LoadError{Index: name, Status: res.StatusCode, Reason: reason}
	})
	if err != nil {
		return false, err
	}
	if created {
		c.log.Info("created index", "index", name)
	}
	return created, nil
}

// encodeBulk renders actions as an NDJSON bulk body of index operations.
func encodeBulk(index string, actions []Action) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, a := range actions {
		meta := map[string]map[string]string{"index": {"_index": index, "_id": a.ID}}
		if err := enc.Encode(meta); err != nil {
			return nil, err
		}
		if err := enc.Encode(a.Source); err != nil {
			return nil, fmt.Errorf("encode document %s: %w", a.ID, err)
		}
	}
	return buf.Bytes(), nil
}

type bulkResponse struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

type bulkItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// Bulk upserts actions into index in one request. Transport failures and
// overload statuses retry the whole request; rejected documents come back
// as a LoadError listing each failed item.
func (c *Client) Bulk(ctx context.Context, index string, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}
	body, err := encodeBulk(index, actions)
	if err != nil {
		return err
	}

	return c.do(ctx, "bulk", func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Bulk(bytes.NewReader(body),
			c.es.Bulk.WithIndex(index),
			c.es.Bulk.WithContext(ctx),
		)
	}, func(res *esapi.Response) error {
		if res.IsError() {
			return &LoadError{Index: index, Status: res.StatusCode, Reason: errorReason(res.Body)}
		}
		var br bulkResponse
		if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
			return fmt.Errorf("decode bulk response: %w", err)
		}
		if !br.Errors {
			return nil
		}
		le := &LoadError{Index: index}
		for _, item := range br.Items {
			for _, it := range item {
				if it.Error == nil {
					continue
				}
				le.Items = append(le.Items, ItemError{
					ID:     it.ID,
					Status: it.Status,
					Type:   it.Error.Type,
					Reason: it.Error.Reason,
				})
			}
		}
		return le
	})
}

// Count returns the number of documents in index. Tests and the CLI use it
// to report index size.
func (c *Client) Count(ctx context.Context, index string) (int, error) {
	var n int
	err := c.do(ctx, "count", func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Count(c.es.Count.WithIndex(index), c.es.Count.WithContext(ctx))
	}, func(res *esapi.Response) error {
		if res.IsError() {
			return &LoadError{Index: index, Status: res.StatusCode, Reason: errorReason(res.Body)}
		}
		var out struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode count response: %w", err)
		}
		n = out.Count
		return nil
	})
	return n, err
}

// URL returns the configured cluster address.
func (c *Client) URL() string {
	return c.url
}
