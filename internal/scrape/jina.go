package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/renovation-report/internal/resilience"
	"github.com/sells-group/renovation-report/pkg/jina"
)

// JinaAdapter wraps a Jina Reader client as a Scraper, asking for HTML so
// listing structured data survives.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.CircuitBreaker
}

// NewJinaAdapter creates a JinaAdapter. Three consecutive failures open
// its breaker for 60s, during which the chain skips straight to the next
// scraper.
func NewJinaAdapter(client jina.Client) *JinaAdapter {
	return &JinaAdapter{
		client: client,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     60 * time.Second,
		}),
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports returns true unless the circuit breaker is open.
func (j *JinaAdapter) Supports(_ string) bool {
	return j.breaker.State() != resilience.CircuitOpen
}

// Scrape fetches a URL via Jina Reader and validates the response.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	return resilience.Execute(ctx, j.breaker, func(ctx context.Context) (*Result, error) {
		resp, err := j.client.Read(ctx, targetURL, jina.WithHTML())
		if err != nil {
			return nil, err
		}
		if needsFallback(resp) {
			return nil, eris.New("jina: response needs fallback")
		}
		return &Result{
			Page: Page{
				URL:        firstNonEmpty(resp.Data.URL, targetURL),
				Title:      resp.Data.Title,
				HTML:       resp.Data.HTML,
				StatusCode: resp.Code,
			},
			Source: "jina",
		}, nil
	})
}

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"cloudflare",
	"attention required",
	"press & hold",
	"px-captcha",
}

// needsFallback reports whether a Jina response is blocked or too thin to
// hold a listing, so the next scraper should try.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}

	content := strings.TrimSpace(resp.Data.HTML)
	if content == "" {
		content = strings.TrimSpace(resp.Data.Content)
	}
	if len(content) < 100 {
		return true
	}

	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 2000 {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
