package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/sells-group/renovation-report/internal/scrape"
	"github.com/sells-group/renovation-report/pkg/geocode"
)

// pageScraper serves canned HTML by URL and records what it was asked for.
type pageScraper struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func newPageScraper(pages map[string]string) *pageScraper {
	return &pageScraper{pages: pages}
}

func (s *pageScraper) Name() string           { return "stub" }
func (s *pageScraper) Supports(_ string) bool { return true }

func (s *pageScraper) Scrape(_ context.Context, url string) (*scrape.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, url)
	s.mu.Unlock()

	html, ok := s.pages[url]
	if !ok {
		return nil, errors.New("stub: 403 forbidden")
	}
	return &scrape.Result{Page: scrape.Page{URL: url, HTML: html, StatusCode: 200}, Source: "stub"}, nil
}

func (s *pageScraper) requested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type geocodeFunc func(ctx context.Context, address string) (*geocode.Result, error)

func (f geocodeFunc) Geocode(ctx context.Context, address string) (*geocode.Result, error) {
	return f(ctx, address)
}

const subjectListing = `<html><head>
<meta property="og:image" content="https://img.example/1.jpg">
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"SingleFamilyResidence",
 "address":{"streetAddress":"1 Main St","addressLocality":"Springfield","addressRegion":"IL","postalCode":"62704"},
 "numberOfRooms":3,"numberOfBathroomsTotal":2,"floorSize":{"value":1500},"yearBuilt":1978,
 "offers":{"price":"300000"}}
</script>
<script type="application/ld+json">
{"@type":"ItemList","itemListElement":[
 {"@type":"ListItem","url":"https://www.redfin.com/IL/Springfield/7-Elm-St/home/7"},
 {"@type":"ListItem","url":"https://www.redfin.com/IL/Springfield/8-Oak-St/home/8"}
]}
</script>
</head><body></body></html>`

const neighborSeven = `<script type="application/ld+json">
{"@type":"SingleFamilyResidence","address":{"streetAddress":"7 Elm St","addressLocality":"Springfield","addressRegion":"IL"},
 "numberOfRooms":3,"numberOfBathroomsTotal":2,"floorSize":{"value":1600},"offers":{"price":320000}}
</script>`

const neighborEight = `<script type="application/ld+json">
{"@type":"SingleFamilyResidence","address":{"streetAddress":"8 Oak St","addressLocality":"Springfield","addressRegion":"IL"},
 "numberOfRooms":4,"numberOfBathroomsTotal":2,"floorSize":{"value":2000},"offers":{"price":400000}}
</script>`

const subjectURL = "https://www.redfin.com/IL/Springfield/1-Main-St/home/123"
