// Package google wraps the Google Places (New) text search endpoint.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/renovation-report/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// contractorFieldMask lists the place fields a contractor lookup reads.
var contractorFieldMask = strings.Join([]string{
	"places.id",
	"places.displayName",
	"places.formattedAddress",
	"places.nationalPhoneNumber",
	"places.websiteUri",
	"places.rating",
	"places.userRatingCount",
	"places.businessStatus",
}, ",")

// Client performs Google Places API operations.
type Client interface {
	TextSearch(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error)
}

// TextSearchRequest is the body for POST /places:searchText.
type TextSearchRequest struct {
	TextQuery    string  `json:"textQuery"`
	PageSize     int     `json:"pageSize,omitempty"`
	IncludedType string  `json:"includedType,omitempty"`
	MinRating    float64 `json:"minRating,omitempty"`
	RegionCode   string  `json:"regionCode,omitempty"`
}

// TextSearchResponse is the response from Places Text Search.
type TextSearchResponse struct {
	Places []Place `json:"places"`
}

// Place represents a place returned by the API.
type Place struct {
	ID                  string      `json:"id"`
	DisplayName         DisplayName `json:"displayName"`
	FormattedAddress    string      `json:"formattedAddress"`
	NationalPhoneNumber string      `json:"nationalPhoneNumber"`
	WebsiteURI          string      `json:"websiteUri"`
	Rating              float64     `json:"rating"`
	UserRatingCount     int         `json:"userRatingCount"`
	BusinessStatus      string      `json:"businessStatus"`
}

// Operational reports whether the business is open. An empty status is
// treated as operational.
func (p Place) Operational() bool {
	return p.BusinessStatus == "" || p.BusinessStatus == "OPERATIONAL"
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy for 429 and 5xx responses.
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

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("google_places")
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		retry: retry,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) TextSearch(ctx context.Context, in TextSearchRequest) (*TextSearchResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	return resilience.Do(ctx, c.retry, func(ctx context.Context) (*TextSearchResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "google: create request")
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Goog-Api-Key", c.apiKey)
		req.Header.Set("X-Goog-FieldMask", contractorFieldMask)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "google: send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "google: read response")
		}

		if resp.StatusCode != http.StatusOK {
			return nil, resilience.FromStatus(
				eris.Errorf("google: unexpected status %d: %s", resp.StatusCode, string(respBody)), resp.StatusCode)
		}

		var result TextSearchResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, eris.Wrap(err, "google: unmarshal response")
		}
		return &result, nil
	})
}
