package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/renovation-report/internal/resilience"
)

func noRetry() Option {
	return WithRetry(resilience.RetryConfig{MaxAttempts: 1})
}

func TestTextSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.websiteUri")
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.nationalPhoneNumber")

		var body TextSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "roofing contractor near Springfield, IL 62704", body.TextQuery)
		assert.Equal(t, 5, body.PageSize)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TextSearchResponse{
			Places: []Place{
				{
					ID:                  "ChIJ-roof",
					DisplayName:         DisplayName{Text: "Prairie Roofing"},
					FormattedAddress:    "12 Oak Ave, Springfield, IL 62704",
					NationalPhoneNumber: "(217) 555-0100",
					WebsiteURI:          "https://prairieroofing.example",
					Rating:              4.7,
					UserRatingCount:     212,
					BusinessStatus:      "OPERATIONAL",
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{
		TextQuery: "roofing contractor near Springfield, IL 62704",
		PageSize:  5,
	})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	p := resp.Places[0]
	assert.Equal(t, "Prairie Roofing", p.DisplayName.Text)
	assert.Equal(t, "(217) 555-0100", p.NationalPhoneNumber)
	assert.InDelta(t, 4.7, p.Rating, 0.001)
	assert.Equal(t, 212, p.UserRatingCount)
	assert.True(t, p.Operational())
}

func TestTextSearch_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{TextQuery: "nothing here"})

	require.NoError(t, err)
	assert.Empty(t, resp.Places)
}

func TestTextSearch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "invalid API key"}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{TextQuery: "test query"})

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "403")
	assert.False(t, resilience.IsTransient(err))
}

func TestTextSearch_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"places":[{"id":"a"}]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL),
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{TextQuery: "plumber"})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTextSearch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL), noRetry())
	resp, err := client.TextSearch(ctx, TextSearchRequest{TextQuery: "test"})

	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestPlace_Operational(t *testing.T) {
	assert.True(t, Place{}.Operational())
	assert.True(t, Place{BusinessStatus: "OPERATIONAL"}.Operational())
	assert.False(t, Place{BusinessStatus: "CLOSED_PERMANENTLY"}.Operational())
}
