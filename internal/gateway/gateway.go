// Package gateway wraps each external capability the report pipeline
// depends on behind a single request/result-or-failure call. A gateway
// either returns data a real source produced or an error; it never fills
// gaps with placeholder values.
package gateway

import (
	"context"

	"github.com/sells-group/renovation-report/internal/model"
)

// Source names recorded in provenance and the data source tag.
const (
	SourceListingScrape      = "listing_scrape"
	SourceAIResearch         = "ai_research"
	SourceGeocode            = "geocode"
	SourceMarketSearch       = "market_search"
	SourceListingComparables = "listing_comparables"
	SourcePlacesDirectory    = "places_directory"
	SourceAIGenerated        = "ai_generated"
	SourceClaudeAnalysis     = "claude_analysis"
	SourceHeuristic          = "heuristic"
	SourceDiscovery          = "listing_discovery"
	SourceImageReview        = "image_review"
)

// PropertyRequest names the property to acquire. URL-driven gateways read
// URL; research gateways read Address.
type PropertyRequest struct {
	URL     string
	Address string
}

// PropertyGateway acquires property facts.
type PropertyGateway interface {
	Name() string
	Fetch(ctx context.Context, req PropertyRequest) (*model.PropertyFacts, error)
}

// Discovery is the outcome of resolving an address to a listing URL.
type Discovery struct {
	Found bool
	URL   string
}

// Discoverer resolves a free-text address to a canonical listing URL.
type Discoverer interface {
	ResolveURL(ctx context.Context, address string) (Discovery, error)
}

// LocationGateway resolves an address to a place.
type LocationGateway interface {
	Name() string
	Geocode(ctx context.Context, address string) (*model.Location, error)
}

// ComparablesRequest carries what comparables lookups key on. Location
// may be unresolved and SourceURL empty.
type ComparablesRequest struct {
	Property  *model.PropertyFacts
	Location  *model.Location
	SourceURL string
}

// ComparablesGateway finds nearby comparable properties.
type ComparablesGateway interface {
	Name() string
	Find(ctx context.Context, req ComparablesRequest) ([]model.Comparable, error)
}

// ContractorRequest asks for contractors able to carry out one project.
// Area is the human-readable place to search in, normally "City, ST".
type ContractorRequest struct {
	Project  model.RenovationProject
	Location *model.Location
	Area     string
	Limit    int
}

// ContractorGateway recommends contractors for a renovation project.
type ContractorGateway interface {
	Name() string
	Find(ctx context.Context, req ContractorRequest) ([]model.Contractor, error)
}

// AnalysisRequest is the synthesis stage's input.
type AnalysisRequest struct {
	Property    *model.PropertyFacts
	Location    *model.Location
	Comparables []model.Comparable
	MaxProjects int
}

// Analysis is a renovation plan and its narrative. Financial totals are
// derived by the pipeline, not the analyst.
type Analysis struct {
	Projects   []model.RenovationProject
	Validation model.ValidationSummary
}

// Analyst derives renovation projects from property facts.
type Analyst interface {
	Name() string
	Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error)
}

// ImageReviewRequest asks for a plan to be checked against listing photos.
type ImageReviewRequest struct {
	Property *model.PropertyFacts
	Projects []model.RenovationProject
	Images   []string
}

// ProjectReview is the photo verdict on one project, keyed by project ID.
type ProjectReview struct {
	ID          string
	Feasibility string
	Insights    string
	Unrealistic bool
}

// ImageReview is the outcome of checking a plan against listing photos.
type ImageReview struct {
	Projects    []ProjectReview
	Suggestions []model.ImageSuggestion
}

// ImageReviewer refines renovation projects using the listing photos.
type ImageReviewer interface {
	Name() string
	Review(ctx context.Context, req ImageReviewRequest) (*ImageReview, error)
}
