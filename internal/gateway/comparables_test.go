package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/scrape"
	"github.com/sells-group/renovation-report/pkg/perplexity"
	perplexitymocks "github.com/sells-group/renovation-report/pkg/perplexity/mocks"
)

func subjectFacts() *model.PropertyFacts {
	return &model.PropertyFacts{Address: "1 Main St, Springfield, IL 62704", Beds: 3, Baths: 2, Area: 1500, Price: 300000}
}

func springfield() *model.Location {
	return &model.Location{City: "Springfield", State: "IL", Zip: "62704"}
}

func TestMarketComparables_Find(t *testing.T) {
	client := perplexitymocks.NewMockClient(t)
	client.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return assert.Contains(t, req.Messages[1].Content, "Springfield, IL 62704") &&
			assert.Contains(t, req.Messages[1].Content, "3 bed, 2 bath, 1500 sqft") &&
			assert.Equal(t, "year", req.SearchRecencyFilter)
	})).Return(researchResponse(`[
		{"address": "7 Elm St, Springfield, IL", "sale_price": 320000, "beds": 3, "baths": 2, "area_sqft": 1600, "sold_date": "2026-03-01", "url": "https://www.redfin.com/7"},
		{"address": "1 Main St, Springfield, IL 62704", "sale_price": 290000},
		{"address": "9 Pine St, Springfield, IL", "sale_price": 0},
		{"address": "", "sale_price": 250000},
		{"address": "8 Oak St, Springfield, IL", "sale_price": 400000}
	]`, "https://www.redfin.com/7"), nil)

	g := NewMarketComparables(client, 6, nil)
	comps, err := g.Find(context.Background(), ComparablesRequest{Property: subjectFacts(), Location: springfield()})
	require.NoError(t, err)
	require.Len(t, comps, 2)

	assert.Equal(t, "7 Elm St, Springfield, IL", comps[0].Address)
	assert.Equal(t, 200.0, comps[0].PricePerSqft)
	assert.Equal(t, "2026-03-01", comps[0].SoldDate)
	assert.Equal(t, SourceMarketSearch, comps[0].Source)
	assert.Equal(t, "8 Oak St, Springfield, IL", comps[1].Address)
	assert.Zero(t, comps[1].PricePerSqft)
}

func TestMarketComparables_EmptyIsNotAnError(t *testing.T) {
	client := perplexitymocks.NewMockClient(t)
	client.On("ChatCompletion", mock.Anything, mock.Anything).Return(researchResponse("[]"), nil)

	comps, err := NewMarketComparables(client, 6, nil).Find(context.Background(), ComparablesRequest{Property: subjectFacts()})
	require.NoError(t, err)
	assert.NotNil(t, comps)
	assert.Empty(t, comps)
}

func TestMarketComparables_UncitedSalesRejected(t *testing.T) {
	client := perplexitymocks.NewMockClient(t)
	client.On("ChatCompletion", mock.Anything, mock.Anything).
		Return(researchResponse(`[{"address": "7 Elm St", "sale_price": 320000}]`), nil)

	comps, err := NewMarketComparables(client, 6, nil).Find(context.Background(), ComparablesRequest{Property: subjectFacts()})
	require.Error(t, err)
	assert.Nil(t, comps)
	assert.True(t, failure.Is(err, failure.SourceUnavailable))
}

func TestSourceComparables_FollowsLinks(t *testing.T) {
	s := newPageScraper(map[string]string{
		subjectURL: subjectListing,
		"https://www.redfin.com/IL/Springfield/7-Elm-St/home/7": neighborSeven,
		"https://www.redfin.com/IL/Springfield/8-Oak-St/home/8": neighborEight,
	})
	g := NewSourceComparables(scrape.NewChain(s), 6, 2)

	comps, err := g.Find(context.Background(), ComparablesRequest{Property: subjectFacts(), SourceURL: subjectURL})
	require.NoError(t, err)
	require.Len(t, comps, 2)

	assert.Equal(t, "7 Elm St, Springfield, IL", comps[0].Address)
	assert.Equal(t, 200.0, comps[0].PricePerSqft)
	assert.Equal(t, "https://www.redfin.com/IL/Springfield/7-Elm-St/home/7", comps[0].URL)
	assert.Equal(t, "8 Oak St, Springfield, IL", comps[1].Address)
	for _, c := range comps {
		assert.Equal(t, SourceListingComparables, c.Source)
	}
	assert.Len(t, s.requested(), 3)
}

func TestSourceComparables_LimitsFollowedLinks(t *testing.T) {
	s := newPageScraper(map[string]string{
		subjectURL: subjectListing,
		"https://www.redfin.com/IL/Springfield/7-Elm-St/home/7": neighborSeven,
		"https://www.redfin.com/IL/Springfield/8-Oak-St/home/8": neighborEight,
	})
	comps, err := NewSourceComparables(scrape.NewChain(s), 1, 2).
		Find(context.Background(), ComparablesRequest{Property: subjectFacts(), SourceURL: subjectURL})
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Len(t, s.requested(), 2)
}

func TestSourceComparables_NoSourceURL(t *testing.T) {
	g := NewSourceComparables(scrape.NewChain(newPageScraper(nil)), 6, 2)
	_, err := g.Find(context.Background(), ComparablesRequest{Property: subjectFacts()})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.SourceUnavailable))
}

func TestSourceComparables_UnreachableNeighborsSkipped(t *testing.T) {
	s := newPageScraper(map[string]string{subjectURL: subjectListing})
	comps, err := NewSourceComparables(scrape.NewChain(s), 6, 2).
		Find(context.Background(), ComparablesRequest{Property: subjectFacts(), SourceURL: subjectURL})
	require.NoError(t, err)
	assert.NotNil(t, comps)
	assert.Empty(t, comps)
}
