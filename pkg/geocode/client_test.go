package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCompositeGeocoder(censusURL, googleURL string) *geocoder {
	return &geocoder{
		httpClient: &http.Client{
			Transport: &multiRewriteTransport{
				base: http.DefaultTransport,
				rewrites: map[string]string{
					censusOneLineURL: censusURL,
					googleGeocodeURL: googleURL,
				},
			},
		},
		googleKey: "test-key",
		limiter:   newTestLimiter(),
	}
}

func TestCompositeClient_CensusSucceeds_NoGoogleCall(t *testing.T) {
	var googleCalled atomic.Int32

	censusSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, censusMatchJSON)
	}))
	defer censusSrv.Close()

	googleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		googleCalled.Add(1)
		_, _ = io.WriteString(w, googleMatchJSON)
	}))
	defer googleSrv.Close()

	g := newCompositeGeocoder(censusSrv.URL, googleSrv.URL)
	result, err := g.Geocode(context.Background(), "1 Main St, Springfield, IL 62704")
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, "census", result.Source)
	assert.Equal(t, int32(0), googleCalled.Load(), "Google should not be called when Census succeeds")
}

func TestCompositeClient_CensusNoMatch_GoogleFallback(t *testing.T) {
	censusSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"result": {"addressMatches": []}}`)
	}))
	defer censusSrv.Close()

	googleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, googleMatchJSON)
	}))
	defer googleSrv.Close()

	g := newCompositeGeocoder(censusSrv.URL, googleSrv.URL)
	result, err := g.Geocode(context.Background(), "1 Main St, Springfield, IL")
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, "google", result.Source)
	assert.Equal(t, "62704", result.ZipCode)
}

func TestCompositeClient_CensusErrors_GoogleFallback(t *testing.T) {
	censusSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer censusSrv.Close()

	googleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, googleMatchJSON)
	}))
	defer googleSrv.Close()

	g := newCompositeGeocoder(censusSrv.URL, googleSrv.URL)
	result, err := g.Geocode(context.Background(), "1 Main St, Springfield, IL")
	require.NoError(t, err)
	assert.Equal(t, "google", result.Source)
}

func TestCompositeClient_BothNoMatch(t *testing.T) {
	censusSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"result": {"addressMatches": []}}`)
	}))
	defer censusSrv.Close()

	googleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status": "ZERO_RESULTS", "results": []}`)
	}))
	defer googleSrv.Close()

	g := newCompositeGeocoder(censusSrv.URL, googleSrv.URL)
	result, err := g.Geocode(context.Background(), "000 Nowhere, Faketown, XX")
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestCompositeClient_BothError(t *testing.T) {
	fail := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	censusSrv := httptest.NewServer(fail)
	defer censusSrv.Close()
	googleSrv := httptest.NewServer(fail)
	defer googleSrv.Close()

	g := newCompositeGeocoder(censusSrv.URL, googleSrv.URL)
	_, err := g.Geocode(context.Background(), "1 Main St")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all providers failed")
}

func TestCompositeClient_NoGoogleKey(t *testing.T) {
	censusSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"result": {"addressMatches": []}}`)
	}))
	defer censusSrv.Close()

	g := &geocoder{
		httpClient: newRewriteClient(censusSrv.URL, censusOneLineURL),
		limiter:    newTestLimiter(),
	}

	result, err := g.Geocode(context.Background(), "123 Main St, Test, CA")
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestGeocode_EmptyAddress(t *testing.T) {
	_, err := NewClient().Geocode(context.Background(), "")
	require.Error(t, err)
}

func TestNewClient_Options(t *testing.T) {
	hc := &http.Client{}
	g := NewClient(WithGoogleAPIKey("k"), WithHTTPClient(hc), WithRateLimit(0.5)).(*geocoder)
	assert.Equal(t, "k", g.googleKey)
	assert.Same(t, hc, g.httpClient)
	assert.Equal(t, 1, g.limiter.Burst())
}

// multiRewriteTransport rewrites URLs based on a prefix map.
type multiRewriteTransport struct {
	base     http.RoundTripper
	rewrites map[string]string
}

func (t *multiRewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	for prefix, testURL := range t.rewrites {
		if len(origURL) >= len(prefix) && origURL[:len(prefix)] == prefix {
			newReq := req.Clone(req.Context())
			parsed, err := req.URL.Parse(testURL + origURL[len(prefix):])
			if err != nil {
				return nil, err
			}
			newReq.URL = parsed
			newReq.Host = parsed.Host
			return t.base.RoundTrip(newReq)
		}
	}
	return t.base.RoundTrip(req)
}
