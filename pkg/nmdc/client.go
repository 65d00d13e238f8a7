// Package nmdc is a small client for the NMDC runtime API: client-credential
// tokens, paged reads of schema collections and JSON record submission.
package nmdc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/microbiomedata/funcagg/pkg/source"
)

// Collections read by the aggregation job.
const (
	CollectionWorkflowExecutions = "workflow_execution_set"
	CollectionDataObjects        = "data_object_set"
	CollectionAggregation        = "functional_annotation_agg"
)

const (
	workflowPageSize   = 500
	dataObjectPageSize = 1000
	// dataObjectBatch bounds the number of ids per filter to keep URLs short.
	dataObjectBatch = 100
	maxErrorBody    = 4096
)

// APIError is returned for non-success API responses.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed with status code: %d: %s", e.Op, e.Status, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client talks to the runtime API with a bearer token. The token is obtained
// at creation and renewed once whenever the API answers 401, so a process
// that outlives a token keeps working.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client

	mu    sync.Mutex
	token string
}

// New creates a client and obtains an access token, so bad credentials fail
// at startup rather than mid-sweep.
func New(ctx context.Context, opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	c := &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		http:         httpClient,
	}
	if err := c.RefreshToken(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// RefreshToken requests a new access token with the client credentials grant.
func (c *Client) RefreshToken(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("getting token failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Op: "getting token", Status: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("getting token failed: invalid response: %w", err)
	}
	if tr.AccessToken == "" {
		return fmt.Errorf("getting token failed: no access_token in response (status code %d)", resp.StatusCode)
	}
	c.mu.Lock()
	c.token = tr.AccessToken
	c.mu.Unlock()
	return nil
}

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// do sends the request built by newReq with the current token. On 401 the
// token is refreshed and the request rebuilt and sent once more.
func (c *Client) do(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if tok := c.bearer(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || attempt > 0 {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if err := c.RefreshToken(ctx); err != nil {
			return nil, err
		}
	}
}

// Query selects records from a collection.
type Query struct {
	// Filter is a MongoDB filter document in JSON, empty for all records.
	Filter      string
	MaxPageSize int
	Projection  []string
}

type page struct {
	Resources     []json.RawMessage `json:"resources"`
	NextPageToken string            `json:"next_page_token"`
}

// Results returns every record of collection matching q, following
// next_page_token until the API stops returning one.
func (c *Client) Results(ctx context.Context, collection string, q Query) ([]json.RawMessage, error) {
	var all []json.RawMessage
	token := ""
	for {
		p, err := c.page(ctx, collection, q, token)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Resources...)
		if p.NextPageToken == "" || len(p.Resources) == 0 {
			return all, nil
		}
		token = p.NextPageToken
	}
}

func (c *Client) page(ctx context.Context, collection string, q Query, pageToken string) (*page, error) {
	params := url.Values{}
	if q.Filter != "" {
		params.Set("filter", q.Filter)
	}
	if q.MaxPageSize > 0 {
		params.Set("max_page_size", strconv.Itoa(q.MaxPageSize))
	}
	if len(q.Projection) > 0 {
		params.Set("projection", strings.Join(q.Projection, ","))
	}
	if pageToken != "" {
		params.Set("page_token", pageToken)
	}
	endpoint := c.baseURL + "/nmdcschema/" + url.PathEscape(collection) + "?" + params.Encode()

	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Op: "querying " + collection, Status: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode %s page: %w", collection, err)
	}
	return &p, nil
}

// WorkflowExecutions implements source.Source.
func (c *Client) WorkflowExecutions(ctx context.Context, types []string) ([]source.Workflow, error) {
	filter, err := inFilter("type", types)
	if err != nil {
		return nil, err
	}
	raw, err := c.Results(ctx, CollectionWorkflowExecutions, Query{
		Filter:      filter,
		MaxPageSize: workflowPageSize,
		Projection:  []string{"id", "type", "has_output"},
	})
	if err != nil {
		return nil, err
	}
	return decodeAll[source.Workflow](raw)
}

// DataObjects implements source.Source.
func (c *Client) DataObjects(ctx context.Context, ids []string) ([]source.DataObject, error) {
	var out []source.DataObject
	for start := 0; start < len(ids); start += dataObjectBatch {
		end := min(start+dataObjectBatch, len(ids))
		filter, err := inFilter("id", ids[start:end])
		if err != nil {
			return nil, err
		}
		raw, err := c.Results(ctx, CollectionDataObjects, Query{
			Filter:      filter,
			MaxPageSize: dataObjectPageSize,
			Projection:  []string{"id", "data_object_type", "url"},
		})
		if err != nil {
			return nil, err
		}
		objs, err := decodeAll[source.DataObject](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, objs...)
	}
	return out, nil
}

// Submit posts records to the metadata submission endpoint, keyed by the
// schema collection they belong to.
func (c *Client) Submit(ctx context.Context, records map[string]any) error {
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}

	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/metadata/json:submit", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("failed to submit records: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: "submitting records", Status: resp.StatusCode, Body: readBody(resp.Body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func inFilter(field string, values []string) (string, error) {
	b, err := json.Marshal(map[string]any{field: map[string]any{"$in": values}})
	if err != nil {
		return "", fmt.Errorf("failed to encode filter: %w", err)
	}
	return string(b), nil
}

func decodeAll[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
