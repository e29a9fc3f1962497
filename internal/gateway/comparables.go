package gateway

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/scrape"
	"github.com/sells-group/renovation-report/pkg/perplexity"
)

const marketSystemPrompt = `You research recent residential sales. Answer with a single JSON array and nothing else.
Only include sales that appear in your search results, each with the page you found it on. Never estimate or invent sales.
If you find none, answer [].`

const marketUserPrompt = `List up to %d homes sold in the last 12 months near %s that are similar to a %s.

Each element: {"address": string, "sale_price": number, "beds": number|null, "baths": number|null,
 "area_sqft": number|null, "sold_date": string|null, "url": string|null}`

type marketSale struct {
	Address   string   `json:"address"`
	SalePrice float64  `json:"sale_price"`
	Beds      *float64 `json:"beds"`
	Baths     *float64 `json:"baths"`
	AreaSqft  *float64 `json:"area_sqft"`
	SoldDate  string   `json:"sold_date"`
	URL       string   `json:"url"`
}

// MarketComparables searches recent nearby sales with a search-grounded
// model.
type MarketComparables struct {
	client  perplexity.Client
	limit   int
	domains []string
}

// NewMarketComparables creates the location-based comparables gateway.
func NewMarketComparables(client perplexity.Client, limit int, domains []string) *MarketComparables {
	if limit <= 0 {
		limit = 6
	}
	return &MarketComparables{client: client, limit: limit, domains: domains}
}

// Name implements ComparablesGateway.
func (g *MarketComparables) Name() string { return SourceMarketSearch }

// Find implements ComparablesGateway.
func (g *MarketComparables) Find(ctx context.Context, req ComparablesRequest) ([]model.Comparable, error) {
	if req.Property == nil {
		return nil, failure.Unavailable(g.Name(), eris.New("market: no subject property"))
	}
	near := req.Location.CityState()
	if near == "" {
		near = req.Property.Address
	}
	if req.Location != nil && req.Location.Zip != "" {
		near += " " + req.Location.Zip
	}

	temp := 0.0
	resp, err := g.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: marketSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(marketUserPrompt, g.limit, near, describeSubject(req.Property))},
		},
		Temperature:         &temp,
		SearchDomainFilter:  g.domains,
		SearchRecencyFilter: "year",
	})
	if err != nil {
		return nil, failure.Unavailable(g.Name(), err)
	}

	var sales []marketSale
	if err := decodeJSON(resp.Content(), &sales); err != nil {
		return nil, failure.Unavailable(g.Name(), err)
	}
	if len(sales) > 0 && len(resp.Citations) == 0 {
		return nil, failure.Unavailable(g.Name(), eris.New("market: sales listed without citations"))
	}

	subject := model.NormalizeKey(req.Property.Address)
	seen := map[string]bool{}
	comps := make([]model.Comparable, 0, len(sales))
	for _, s := range sales {
		key := model.NormalizeKey(s.Address)
		if key == "" || key == subject || seen[key] || s.SalePrice <= 0 {
			continue
		}
		seen[key] = true
		c := model.Comparable{
			Address:   strings.TrimSpace(s.Address),
			SalePrice: s.SalePrice,
			Beds:      int(deref(s.Beds)),
			Baths:     deref(s.Baths),
			Area:      int(deref(s.AreaSqft)),
			SoldDate:  s.SoldDate,
			URL:       s.URL,
			Source:    g.Name(),
		}
		if c.Area > 0 {
			c.PricePerSqft = math.Round(c.SalePrice/float64(c.Area)*100) / 100
		}
		comps = append(comps, c)
		if len(comps) == g.limit {
			break
		}
	}
	return comps, nil
}

func describeSubject(p *model.PropertyFacts) string {
	var parts []string
	if p.Beds > 0 {
		parts = append(parts, fmt.Sprintf("%d bed", p.Beds))
	}
	if p.Baths > 0 {
		parts = append(parts, fmt.Sprintf("%g bath", p.Baths))
	}
	if p.Area > 0 {
		parts = append(parts, fmt.Sprintf("%d sqft", p.Area))
	}
	kind := p.HomeType
	if kind == "" {
		kind = "home"
	}
	if len(parts) == 0 {
		return kind
	}
	return strings.Join(parts, ", ") + " " + kind
}

// SourceComparables reads comparables off the subject's own listing page:
// neighbors embedded in its structured data, then linked neighbor pages.
type SourceComparables struct {
	chain       *scrape.Chain
	limit       int
	concurrency int
}

// NewSourceComparables creates the source-based comparables gateway.
func NewSourceComparables(chain *scrape.Chain, limit, concurrency int) *SourceComparables {
	if limit <= 0 {
		limit = 6
	}
	if concurrency <= 0 {
		concurrency = 3
	}
	return &SourceComparables{chain: chain, limit: limit, concurrency: concurrency}
}

// Name implements ComparablesGateway.
func (g *SourceComparables) Name() string { return SourceListingComparables }

// Find implements ComparablesGateway.
func (g *SourceComparables) Find(ctx context.Context, req ComparablesRequest) ([]model.Comparable, error) {
	if req.SourceURL == "" {
		return nil, failure.Unavailable(g.Name(), eris.New("listing comparables: no source URL"))
	}
	subject := ""
	if req.Property != nil {
		subject = req.Property.Address
	}

	res, err := g.chain.Scrape(ctx, req.SourceURL)
	if err != nil {
		return nil, failure.Unavailable(g.Name(), err)
	}
	set, err := scrape.ParseComparables(res.Page.HTML, req.SourceURL, subject)
	if err != nil {
		return nil, failure.Unavailable(g.Name(), err)
	}

	comps := set.Comparables
	if len(comps) > g.limit {
		comps = comps[:g.limit]
	}

	if need := g.limit - len(comps); need > 0 && len(set.Links) > 0 {
		links := set.Links
		if len(links) > need {
			links = links[:need]
		}
		seen := map[string]bool{model.NormalizeKey(subject): true}
		for _, c := range comps {
			seen[model.NormalizeKey(c.Address)] = true
		}
		for _, page := range g.chain.ScrapeAll(ctx, links, g.concurrency) {
			facts, err := scrape.ParseListing(page.Page.HTML, page.Page.URL)
			if err != nil || facts.Price <= 0 {
				continue
			}
			key := model.NormalizeKey(facts.Address)
			if seen[key] {
				continue
			}
			seen[key] = true
			comps = append(comps, scrape.ComparableFromFacts(facts, page.Page.URL))
		}
		zap.L().Debug("gateway: followed comparable links",
			zap.String("url", req.SourceURL),
			zap.Int("links", len(links)),
			zap.Int("comparables", len(comps)),
		)
	}

	for i := range comps {
		comps[i].Source = g.Name()
	}
	if comps == nil {
		comps = []model.Comparable{}
	}
	return comps, nil
}
