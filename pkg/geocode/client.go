// Package geocode resolves a property address to coordinates and its
// administrative parts via Census Geocoder (primary) and Google (fallback).
package geocode

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client geocodes addresses.
type Client interface {
	Geocode(ctx context.Context, address string) (*Result, error)
}

// Result holds the geocoding output for an address. Fields the provider
// did not return are left empty.
type Result struct {
	Latitude       float64
	Longitude      float64
	MatchedAddress string
	City           string
	State          string
	ZipCode        string
	County         string
	Source         string // "census" or "google"
	Quality        string // "rooftop", "range", "centroid", "approximate"
	Matched        bool
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithGoogleAPIKey enables Google Geocoding API as a fallback.
func WithGoogleAPIKey(key string) Option {
	return func(g *geocoder) {
		g.googleKey = key
	}
}

// WithHTTPClient sets a custom HTTP client for both Census and Google requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit shared by both providers.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type geocoder struct {
	httpClient *http.Client
	googleKey  string
	limiter    *rate.Limiter
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Geocode tries Census first, then Google if configured. An address no
// provider can match yields an unmatched result, not an error. An error is
// returned only when every configured provider failed outright.
func (g *geocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	if address == "" {
		return nil, eris.New("geocode: empty address")
	}

	result, censusErr := g.geocodeCensus(ctx, address)
	if censusErr == nil && result.Matched {
		return result, nil
	}
	if censusErr != nil {
		zap.L().Debug("geocode: census failed", zap.String("address", address), zap.Error(censusErr))
	}

	if g.googleKey == "" {
		if censusErr != nil {
			return nil, censusErr
		}
		return &Result{Matched: false}, nil
	}

	googleResult, googleErr := g.geocodeGoogle(ctx, address)
	if googleErr == nil && googleResult.Matched {
		return googleResult, nil
	}
	if censusErr != nil && googleErr != nil {
		return nil, eris.Wrap(googleErr, "geocode: all providers failed")
	}
	return &Result{Matched: false}, nil
}
