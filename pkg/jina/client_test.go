package jina

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

func fastRetry() Option {
	return WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
}

func TestRead_Markdown(t *testing.T) {
	t.Parallel()

	want := ReadResponse{
		Code: 200,
		Data: ReadData{
			Title:   "1 Main St, Springfield, IL 62704 | Zillow",
			URL:     "https://www.zillow.com/homedetails/1-Main-St/123_zpid/",
			Content: "# 1 Main St\n\n3 bd | 2 ba | 1,500 sqft",
			Usage:   ReadUsage{Tokens: 2150},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))
		assert.Equal(t, "/https://www.zillow.com/homedetails/1-Main-St/123_zpid/", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(want) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Read(context.Background(), "https://www.zillow.com/homedetails/1-Main-St/123_zpid/")

	require.NoError(t, err)
	assert.Equal(t, want.Data.Title, got.Data.Title)
	assert.Equal(t, want.Data.Content, got.Data.Content)
	assert.Equal(t, 2150, got.Data.Usage.Tokens)
}

func TestRead_HTMLFormat(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "html", r.Header.Get("X-Return-Format"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"data":{"content":"<html><body>listing</body></html>"}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Read(context.Background(), "https://redfin.com/x", WithHTML())

	require.NoError(t, err)
	assert.Equal(t, "<html><body>listing</body></html>", got.Data.HTML)
}

func TestRead_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"data":{"content":"ok"}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), fastRetry())
	got, err := client.Read(context.Background(), "https://redfin.com/x")

	require.NoError(t, err)
	assert.Equal(t, "ok", got.Data.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRead_RateLimitExhausted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limit exceeded"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), fastRetry())
	_, err := client.Read(context.Background(), "https://redfin.com/x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.True(t, resilience.IsTransient(err))
}

func TestRead_PermanentStatusNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), fastRetry())
	_, err := client.Read(context.Background(), "https://redfin.com/x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRead_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{not json`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Read(context.Background(), "https://redfin.com/x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestRead_ContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Read(ctx, "https://redfin.com/x")

	require.Error(t, err)
}

func TestSearch_SiteFilters(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1+Main+St+Springfield+IL", r.URL.EscapedPath())
		assert.Equal(t, []string{"zillow.com", "redfin.com"}, r.URL.Query()["site"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SearchResponse{ //nolint:errcheck
			Code: 200,
			Data: []SearchResult{{Title: "1 Main St", URL: "https://www.zillow.com/homedetails/1-Main-St/123_zpid/"}},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithSearchBaseURL(srv.URL))
	got, err := client.Search(context.Background(), "1 Main St Springfield IL", WithSiteFilter("zillow.com", "redfin.com"))

	require.NoError(t, err)
	require.Len(t, got.Data, 1)
	assert.Contains(t, got.Data[0].URL, "zillow.com")
}

func TestSearch_NoResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithSearchBaseURL(srv.URL))
	got, err := client.Search(context.Background(), "nowhere")

	require.NoError(t, err)
	assert.Equal(t, 422, got.Code)
	assert.Empty(t, got.Data)
}
