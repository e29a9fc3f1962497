// Package firecrawl is a client for the Firecrawl scrape API.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/renovation-report/internal/resilience"
)

const defaultBaseURL = "https://api.firecrawl.dev/v1"

// Client defines the Firecrawl operations used to fetch listing pages.
type Client interface {
	Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error)
}

// ScrapeRequest is the body for POST /scrape.
type ScrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats,omitempty"`
	// WaitFor is milliseconds to wait for client-side rendering.
	WaitFor int `json:"waitFor,omitempty"`
}

// ScrapeResponse is the response from POST /scrape.
type ScrapeResponse struct {
	Success bool     `json:"success"`
	Data    PageData `json:"data"`
}

// PageData represents a single page result from Firecrawl.
type PageData struct {
	Markdown string       `json:"markdown"`
	HTML     string       `json:"html"`
	RawHTML  string       `json:"rawHtml"`
	Metadata PageMetadata `json:"metadata"`
}

// PageMetadata carries the fetched page's origin details.
type PageMetadata struct {
	Title      string `json:"title"`
	SourceURL  string `json:"sourceURL"`
	StatusCode int    `json:"statusCode"`
}

// Document returns the most complete HTML form of the page.
func (p PageData) Document() string {
	if p.RawHTML != "" {
		return p.RawHTML
	}
	return p.HTML
}

// APIError is returned when Firecrawl responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firecrawl: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
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
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a new Firecrawl client.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("firecrawl")
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
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

func (c *httpClient) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: marshal request")
	}

	resp, err := resilience.Do(ctx, c.retry, func(ctx context.Context) (*ScrapeResponse, error) {
		var out ScrapeResponse
		if err := c.post(ctx, "/scrape", buf, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: scrape")
	}
	return resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.FromStatus(&APIError{StatusCode: resp.StatusCode, Body: string(data)}, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
