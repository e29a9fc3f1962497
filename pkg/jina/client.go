// Package jina provides a client for the Jina AI reader and search API.
package jina

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/renovation-report/internal/resilience"
)

// Client defines the Jina AI Reader operations.
type Client interface {
	// Read fetches a URL via Jina AI Reader.
	Read(ctx context.Context, targetURL string, opts ...ReadOption) (*ReadResponse, error)
	// Search performs a web search via Jina AI Search and returns results.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// ReadResponse is the parsed Jina API response.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData holds the content from Jina. Content is markdown unless an
// HTML format was requested.
type ReadData struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Content string    `json:"content"`
	HTML    string    `json:"html"`
	Usage   ReadUsage `json:"usage"`
}

// ReadUsage tracks token consumption.
type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// SearchResponse is the parsed Jina Search API response.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// ReadOption configures a read request.
type ReadOption func(*readOpts)

type readOpts struct {
	format string
}

// WithHTML asks the reader for the rendered page HTML instead of markdown.
// Listing pages keep their structured data (JSON-LD) only in HTML.
func WithHTML() ReadOption {
	return func(o *readOpts) { o.format = "html" }
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	sites []string
}

// WithSiteFilter restricts search results to the given domains.
func WithSiteFilter(domains ...string) SearchOption {
	return func(o *searchOpts) {
		o.sites = append(o.sites, domains...)
	}
}

// Option configures the Jina client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithSearchBaseURL sets a custom search base URL (for testing).
func WithSearchBaseURL(url string) Option {
	return func(c *httpClient) {
		c.searchBaseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey        string
	baseURL       string
	searchBaseURL string
	http          *http.Client
	retry         resilience.RetryConfig
}

// NewClient creates a new Jina AI Reader client.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("jina")
	c := &httpClient{
		apiKey:        apiKey,
		baseURL:       "https://r.jina.ai",
		searchBaseURL: "https://s.jina.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type result struct {
	body   []byte
	status int
}

// do sends req, retrying transport errors and 408/429/5xx responses.
// Non-retryable statuses are returned to the caller for interpretation.
func (c *httpClient) do(ctx context.Context, req *http.Request) (result, error) {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) (result, error) {
		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			return result{}, err
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return result{}, eris.Wrap(err, "jina: read response body")
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return result{}, resilience.FromStatus(
				eris.Errorf("jina: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
		}
		return result{body: body, status: resp.StatusCode}, nil
	})
}

func (c *httpClient) Read(ctx context.Context, targetURL string, opts ...ReadOption) (*ReadResponse, error) {
	ro := &readOpts{format: "markdown"}
	for _, opt := range opts {
		opt(ro)
	}

	reqURL := fmt.Sprintf("%s/%s", c.baseURL, targetURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create request")
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", ro.format)

	res, err := c.do(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: request failed")
	}
	if res.status != http.StatusOK {
		return nil, eris.Errorf("jina: unexpected status %d: %s", res.status, string(res.body))
	}

	var out ReadResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal response")
	}
	if ro.format == "html" && out.Data.HTML == "" {
		out.Data.HTML = out.Data.Content
	}
	return &out, nil
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	so := &searchOpts{}
	for _, opt := range opts {
		opt(so)
	}

	reqURL := fmt.Sprintf("%s/%s", c.searchBaseURL, url.QueryEscape(query))
	if len(so.sites) > 0 {
		q := url.Values{}
		for _, s := range so.sites {
			q.Add("site", s)
		}
		reqURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create search request")
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.do(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: search request failed")
	}

	// Jina returns 422 when no results are available for the query.
	if res.status == http.StatusUnprocessableEntity {
		return &SearchResponse{Code: 422}, nil
	}
	if res.status != http.StatusOK {
		return nil, eris.Errorf("jina: search unexpected status %d: %s", res.status, string(res.body))
	}

	var out SearchResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal search response")
	}
	return &out, nil
}
