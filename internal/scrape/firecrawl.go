package scrape

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/renovation-report/pkg/firecrawl"
)

// FirecrawlAdapter wraps a Firecrawl client as a Scraper. It renders
// JavaScript, so it is the last resort for heavily protected pages.
type FirecrawlAdapter struct {
	client firecrawl.Client
}

// NewFirecrawlAdapter creates a FirecrawlAdapter from a Firecrawl client.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{client: client}
}

// Name implements Scraper.
func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Supports accepts any URL.
func (f *FirecrawlAdapter) Supports(_ string) bool { return true }

// Scrape fetches a single URL via Firecrawl's scrape API.
func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:     targetURL,
		Formats: []string{"rawHtml"},
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, eris.New("firecrawl: scrape not successful")
	}
	html := resp.Data.Document()
	if html == "" {
		return nil, eris.New("firecrawl: empty document")
	}
	return &Result{
		Page: Page{
			URL:        firstNonEmpty(resp.Data.Metadata.SourceURL, targetURL),
			Title:      resp.Data.Metadata.Title,
			HTML:       html,
			StatusCode: resp.Data.Metadata.StatusCode,
		},
		Source: "firecrawl",
	}, nil
}
