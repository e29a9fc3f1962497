package scrape

import "context"

// Page is a fetched listing page. HTML keeps the structured data blocks
// listing sites embed, which markdown conversion would drop.
type Page struct {
	URL        string
	Title      string
	HTML       string
	StatusCode int
}

// Result holds a scraped page with its source.
type Result struct {
	Page   Page
	Source string // "direct", "jina" or "firecrawl"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
