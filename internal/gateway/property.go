package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/scrape"
	"github.com/sells-group/renovation-report/pkg/perplexity"
)

// ListingGateway reads property facts off the listing page itself.
type ListingGateway struct {
	chain *scrape.Chain
}

// NewListingGateway creates a listing gateway over a scrape chain.
func NewListingGateway(chain *scrape.Chain) *ListingGateway {
	return &ListingGateway{chain: chain}
}

// Name implements PropertyGateway.
func (g *ListingGateway) Name() string { return SourceListingScrape }

// Fetch implements PropertyGateway.
func (g *ListingGateway) Fetch(ctx context.Context, req PropertyRequest) (*model.PropertyFacts, error) {
	if req.URL == "" {
		return nil, failure.Unavailable(g.Name(), eris.New("listing: no URL to fetch"))
	}

	res, err := g.chain.Scrape(ctx, req.URL)
	if err != nil {
		return nil, failure.Unavailable(g.Name(), err)
	}

	facts, err := scrape.ParseListing(res.Page.HTML, req.URL)
	if err != nil {
		return nil, failure.Unavailable(g.Name(), eris.Wrapf(err, "listing: parse page from %s", res.Source))
	}
	facts.Source = g.Name()

	zap.L().Debug("gateway: listing parsed",
		zap.String("url", req.URL),
		zap.String("scraper", res.Source),
		zap.Bool("complete", facts.Complete()),
	)
	return facts, nil
}

// researchSystemPrompt instructs the research model to report only what
// its search results state.
const researchSystemPrompt = `You look up residential property records. Answer with a single JSON object and nothing else.
Only report values that appear in your search results. Use null for anything you did not find. Never estimate or invent values.
If you cannot find the property, answer {"found": false}.`

const researchUserPrompt = `Find the current listing or public record for this property: %s

Return JSON with these keys:
{"found": true, "address": string, "price": number|null, "beds": number|null, "baths": number|null,
 "area_sqft": number|null, "year_built": number|null, "lot_size_sqft": number|null, "home_type": string|null,
 "description": string|null, "images": [string], "estimate": number|null, "hoa_fee": number|null,
 "property_tax": number|null, "listing_url": string|null}`

type researchAnswer struct {
	Found       bool     `json:"found"`
	Address     string   `json:"address"`
	Price       *float64 `json:"price"`
	Beds        *float64 `json:"beds"`
	Baths       *float64 `json:"baths"`
	AreaSqft    *float64 `json:"area_sqft"`
	YearBuilt   *float64 `json:"year_built"`
	LotSize     *float64 `json:"lot_size_sqft"`
	HomeType    string   `json:"home_type"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
	Estimate    *float64 `json:"estimate"`
	HOAFee      *float64 `json:"hoa_fee"`
	PropertyTax *float64 `json:"property_tax"`
	ListingURL  string   `json:"listing_url"`
}

// ResearchProperty asks a search-grounded model for an address's public
// listing facts. Answers without citations are rejected.
type ResearchProperty struct {
	client  perplexity.Client
	domains []string
}

// NewResearchProperty creates the research gateway. Searches are limited
// to domains when given.
func NewResearchProperty(client perplexity.Client, domains []string) *ResearchProperty {
	return &ResearchProperty{client: client, domains: domains}
}

// Name implements PropertyGateway.
func (g *ResearchProperty) Name() string { return SourceAIResearch }

// Fetch implements PropertyGateway.
func (g *ResearchProperty) Fetch(ctx context.Context, req PropertyRequest) (*model.PropertyFacts, error) {
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return nil, failure.Unavailable(g.Name(), eris.New("research: no address"))
	}

	temp := 0.0
	resp, err := g.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: researchSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(researchUserPrompt, address)},
		},
		Temperature:        &temp,
		SearchDomainFilter: g.domains,
	})
	if err != nil {
		return nil, failure.Unavailable(g.Name(), err)
	}
	if len(resp.Citations) == 0 {
		return nil, failure.Unavailable(g.Name(), eris.New("research: answer has no citations"))
	}

	var ans researchAnswer
	if err := decodeJSON(resp.Content(), &ans); err != nil {
		return nil, failure.Unavailable(g.Name(), err)
	}
	if !ans.Found {
		return nil, failure.Unavailable(g.Name(), eris.Errorf("research: property %q not found", address))
	}

	facts := &model.PropertyFacts{
		Address:     strings.TrimSpace(ans.Address),
		Price:       deref(ans.Price),
		Beds:        int(deref(ans.Beds)),
		Baths:       deref(ans.Baths),
		Area:        int(deref(ans.AreaSqft)),
		YearBuilt:   int(deref(ans.YearBuilt)),
		LotSize:     int(deref(ans.LotSize)),
		HomeType:    ans.HomeType,
		Description: ans.Description,
		Images:      ans.Images,
		Estimate:    deref(ans.Estimate),
		HOAFee:      deref(ans.HOAFee),
		PropertyTax: deref(ans.PropertyTax),
		Source:      g.Name(),
		URL:         ans.ListingURL,
	}
	if facts.URL == "" {
		facts.URL = resp.Citations[0]
	}
	return facts, nil
}

func deref(v *float64) float64 {
	if v == nil || *v < 0 {
		return 0
	}
	return *v
}
