package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/renovation-report/internal/classify"
	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/gateway"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/store"
)

var allowedHosts = []string{"redfin.com", "zillow.com"}

const listingURL = "https://www.redfin.com/IL/Springfield/1-Main-St-62704/home/123"

type propertyFake struct {
	name  string
	facts *model.PropertyFacts
	err   error
	calls atomic.Int32
	urls  []string
	hook  func()
}

func (f *propertyFake) Name() string { return f.name }

func (f *propertyFake) Fetch(_ context.Context, req gateway.PropertyRequest) (*model.PropertyFacts, error) {
	f.calls.Add(1)
	f.urls = append(f.urls, req.URL)
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return nil, f.err
	}
	facts := *f.facts
	facts.Source = f.name
	return &facts, nil
}

type locationFake struct {
	loc *model.Location
	err error
}

func (f *locationFake) Name() string { return gateway.SourceGeocode }

func (f *locationFake) Geocode(context.Context, string) (*model.Location, error) {
	return f.loc, f.err
}

type comparablesFake struct {
	name  string
	comps []model.Comparable
	err   error
	calls atomic.Int32
}

func (f *comparablesFake) Name() string { return f.name }

func (f *comparablesFake) Find(context.Context, gateway.ComparablesRequest) ([]model.Comparable, error) {
	f.calls.Add(1)
	return f.comps, f.err
}

type analystFake struct {
	name     string
	projects []model.RenovationProject
	err      error
}

func (f *analystFake) Name() string { return f.name }

func (f *analystFake) Analyze(context.Context, gateway.AnalysisRequest) (*gateway.Analysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Analysis{
		Projects:   f.projects,
		Validation: model.ValidationSummary{Verdict: "Strong renovation opportunity", Reasoning: "Kitchen is dated.", Source: f.name},
	}, nil
}

type contractorFake struct {
	name string
	find func(req gateway.ContractorRequest) ([]model.Contractor, error)

	mu    sync.Mutex
	calls []string
}

func (f *contractorFake) Name() string { return f.name }

func (f *contractorFake) Find(_ context.Context, req gateway.ContractorRequest) ([]model.Contractor, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Project.ID)
	f.mu.Unlock()
	return f.find(req)
}

type imagesFake struct {
	review *gateway.ImageReview
	err    error
	got    gateway.ImageReviewRequest
	calls  atomic.Int32
}

func (f *imagesFake) Name() string { return gateway.SourceImageReview }

func (f *imagesFake) Review(_ context.Context, req gateway.ImageReviewRequest) (*gateway.ImageReview, error) {
	f.calls.Add(1)
	f.got = req
	return f.review, f.err
}

type discovererFake struct {
	d   gateway.Discovery
	err error
}

func (f discovererFake) ResolveURL(context.Context, string) (gateway.Discovery, error) {
	return f.d, f.err
}

// statusLog records every status write the pipeline makes.
type statusLog struct {
	store.Store
	mu       sync.Mutex
	statuses []model.ReportStatus
}

func (s *statusLog) UpdateStatus(ctx context.Context, id string, t model.Transition) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, t.Status)
	s.mu.Unlock()
	return s.Store.UpdateStatus(ctx, id, t)
}

func springfieldFacts() *model.PropertyFacts {
	return &model.PropertyFacts{
		Address: "1 Main St, Springfield, IL 62704",
		Price:   300000,
		Beds:    3,
		Baths:   2,
		Area:    1500,
	}
}

func threeProjects() []model.RenovationProject {
	return []model.RenovationProject{
		project("kitchen-remodel", 40000, 60000),
		project("bathroom-update", 15000, 18000),
		project("interior-paint", 10000, 11000),
	}
}

func directoryFor(req gateway.ContractorRequest) ([]model.Contractor, error) {
	return []model.Contractor{{Name: "Pro " + req.Project.ID, Source: gateway.SourcePlacesDirectory, Verified: true}}, nil
}

func generatedFor(req gateway.ContractorRequest) ([]model.Contractor, error) {
	return []model.Contractor{{Name: "Suggested " + req.Project.ID, Source: gateway.ContractorSourceGenerated}}, nil
}

type harness struct {
	store     *statusLog
	listing   *propertyFake
	research  *propertyFake
	market    *comparablesFake
	source    *comparablesFake
	directory *contractorFake
	generated *contractorFake
	deps      Deps
	observer  *recordingObserver
}

func newHarness(t *testing.T, disc gateway.Discoverer) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	h := &harness{
		store:     &statusLog{Store: st},
		listing:   &propertyFake{name: gateway.SourceListingScrape, facts: springfieldFacts()},
		research:  &propertyFake{name: gateway.SourceAIResearch, facts: springfieldFacts()},
		market:    &comparablesFake{name: gateway.SourceMarketSearch, comps: []model.Comparable{{Address: "7 Elm St", SalePrice: 320000, Area: 1600}, {Address: "8 Oak St", PricePerSqft: 210}}},
		source:    &comparablesFake{name: gateway.SourceListingComparables, comps: []model.Comparable{{Address: "9 Ash St", SalePrice: 290000, Area: 1450}}},
		directory: &contractorFake{name: gateway.SourcePlacesDirectory, find: directoryFor},
		generated: &contractorFake{name: gateway.SourceAIGenerated, find: generatedFor},
		observer:  &recordingObserver{},
	}
	h.deps = Deps{
		Store:             h.store,
		Classifier:        classify.New(allowedHosts, disc, st),
		Listing:           h.listing,
		Research:          h.research,
		Location:          &locationFake{loc: &model.Location{City: "Springfield", State: "IL", Zip: "62704", Source: gateway.SourceGeocode}},
		MarketComparables: h.market,
		SourceComparables: h.source,
		Analyst:           &analystFake{name: gateway.SourceClaudeAnalysis, projects: threeProjects()},
		Fallback:          gateway.NewHeuristicAnalyst(),
		Directory:         h.directory,
		Generated:         h.generated,
		Observer:          h.observer,
	}
	return h
}

func (h *harness) pipeline() *Pipeline {
	return New(h.deps, Options{MaxProjects: 5, MaxContractors: 3, ContractorConcurrency: 2})
}

func (h *harness) create(t *testing.T, in model.ReportInput) string {
	t.Helper()
	r, err := h.store.CreateReport(context.Background(), in)
	require.NoError(t, err)
	return r.ID
}

func stageKeys(r *model.Report) map[string]model.StageResult {
	out := make(map[string]model.StageResult, len(r.Stages))
	for _, s := range r.Stages {
		out[s.Key] = s
	}
	return out
}

func TestRun_URLHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, r.Status)
	assert.Equal(t, gateway.SourceListingScrape, r.DataSourceTag)
	assert.Empty(t, r.FailureReason)
	assert.NotNil(t, r.CompletedAt)
	assert.Equal(t, progressDone, r.Progress)
	assert.Zero(t, h.research.calls.Load(), "URL runs never fall back to research")
	assert.Equal(t, []string{listingURL}, h.listing.urls)

	require.NotNil(t, r.Property)
	assert.Equal(t, "1 Main St, Springfield, IL 62704", r.Property.Address)
	require.NotNil(t, r.Location)
	assert.Equal(t, "Springfield", r.Location.City)
	assert.Len(t, r.Comparables, 2)
	assert.Zero(t, h.source.calls.Load())

	require.NotNil(t, r.Financial)
	assert.Equal(t, r.Financial.CurrentValue+r.Financial.TotalValueAdd, r.Financial.AfterRepairValue)
	assert.Equal(t, 300000.0, r.Financial.CurrentValue)
	assert.InDelta(t, 205.0, r.Financial.AvgPricePsf, 0.001)
	require.NotNil(t, r.Validation)
	assert.Equal(t, gateway.SourceClaudeAnalysis, r.Validation.Source)

	require.Len(t, r.Projects, 3)
	for _, p := range r.Projects {
		require.Len(t, p.Contractors, 1, p.ID)
		assert.Equal(t, gateway.ContractorSourceDirectory, p.ContractorSource)
		assert.Equal(t, "Pro "+p.ID, p.Contractors[0].Name)
	}
	assert.Empty(t, h.generated.calls)

	stages := stageKeys(r)
	assert.Equal(t, gateway.SourceListingScrape, stages[failure.StageProperty].Source)
	assert.Equal(t, model.OutcomeOK, stages[failure.StageComparables].Outcome)
	assert.Equal(t, gateway.SourcePlacesDirectory, stages["contractors:kitchen-remodel"].Source)

	assert.Equal(t, []model.ReportStatus{model.StatusProcessing, model.StatusCompleted}, h.store.statuses)
	assert.Equal(t, []string{string(model.StatusCompleted)}, h.observer.finished)
}

func TestRun_AddressWithoutURLOrComparables(t *testing.T) {
	h := newHarness(t, discovererFake{d: gateway.Discovery{Found: false}})
	h.research.facts = &model.PropertyFacts{Address: "123 Oak Ave, Reno, NV 89501", Beds: 3, Baths: 2, Area: 1400}
	h.market.comps = []model.Comparable{}
	id := h.create(t, model.ReportInput{InputKind: model.InputKindAddress, SourceAddress: "123 Oak Ave, Reno, NV 89501"})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, r.Status)
	assert.Equal(t, gateway.SourceAIResearch, r.DataSourceTag)
	assert.Zero(t, h.listing.calls.Load(), "no URL, no listing scrape")
	assert.Zero(t, h.source.calls.Load(), "no URL, no listing comparables")
	assert.Empty(t, r.SourceURL)

	require.NotNil(t, r.Comparables)
	assert.Empty(t, r.Comparables)
	require.NotNil(t, r.Financial)
	assert.Zero(t, r.Financial.AvgPricePsf)
	assert.Equal(t, ValueUnknown, r.Financial.ValueSource)
	assert.Equal(t, model.OutcomeDegraded, stageKeys(r)[failure.StageComparables].Outcome)
}

func TestRun_TotalAcquisitionFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.listing.err = failure.Unavailable(gateway.SourceListingScrape, errors.New("403 blocked"))
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, model.StatusFailed, r.Status)
	assert.Equal(t, failure.Reason(failure.NoUsableData, failure.StageProperty, model.InputKindURL), r.FailureReason)
	assert.Contains(t, r.FailureReason, "could not access this listing")
	assert.NotContains(t, r.FailureReason, "403")
	assert.Empty(t, r.DataSourceTag)
	assert.Nil(t, r.CompletedAt)
	assert.Zero(t, h.research.calls.Load())

	assert.Nil(t, r.Property)
	assert.Nil(t, r.Location)
	assert.Nil(t, r.Comparables)
	assert.Nil(t, r.Projects)
	assert.Nil(t, r.Financial)
	assert.Nil(t, r.Validation)

	st := stageKeys(r)[failure.StageProperty]
	assert.Equal(t, model.OutcomeFailed, st.Outcome)
	assert.Equal(t, string(failure.NoUsableData), st.ErrorKind)
	assert.Equal(t, []model.ReportStatus{model.StatusProcessing, model.StatusFailed}, h.store.statuses)
	assert.Equal(t, []string{string(model.StatusFailed)}, h.observer.finished)
}

func TestRun_PerProjectContractorFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.directory.find = func(req gateway.ContractorRequest) ([]model.Contractor, error) {
		if req.Project.ID == "bathroom-update" {
			return []model.Contractor{}, nil
		}
		return directoryFor(req)
	}
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, r.Status)

	byID := make(map[string]model.RenovationProject)
	for _, p := range r.Projects {
		byID[p.ID] = p
	}
	require.Len(t, byID, 3)
	assert.Equal(t, gateway.ContractorSourceDirectory, byID["kitchen-remodel"].ContractorSource)
	assert.Equal(t, "Pro kitchen-remodel", byID["kitchen-remodel"].Contractors[0].Name)
	assert.Equal(t, gateway.ContractorSourceGenerated, byID["bathroom-update"].ContractorSource)
	assert.Equal(t, "Suggested bathroom-update", byID["bathroom-update"].Contractors[0].Name)
	assert.False(t, byID["bathroom-update"].Contractors[0].Verified)
	assert.Equal(t, gateway.ContractorSourceDirectory, byID["interior-paint"].ContractorSource)
	assert.Equal(t, "Pro interior-paint", byID["interior-paint"].Contractors[0].Name)
	assert.Equal(t, []string{"bathroom-update"}, h.generated.calls)
	assert.Equal(t, 40000.0, byID["kitchen-remodel"].EstimatedCost.Medium, "contractor writes keep project estimates")
}

func TestRun_ContractorsMissingDoNotFailRun(t *testing.T) {
	h := newHarness(t, nil)
	h.directory.find = func(gateway.ContractorRequest) ([]model.Contractor, error) {
		return nil, failure.Unavailable(gateway.SourcePlacesDirectory, errors.New("quota"))
	}
	h.generated.find = func(gateway.ContractorRequest) ([]model.Contractor, error) {
		return nil, failure.Unavailable(gateway.SourceAIGenerated, errors.New("overloaded"))
	}
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, r.Status)
	for _, p := range r.Projects {
		assert.Empty(t, p.Contractors)
		assert.Equal(t, model.OutcomeFailed, stageKeys(r)["contractors:"+p.ID].Outcome)
	}
}

func TestRun_DiscoveredURLUsedAndPersisted(t *testing.T) {
	h := newHarness(t, discovererFake{d: gateway.Discovery{Found: true, URL: listingURL}})
	id := h.create(t, model.ReportInput{InputKind: model.InputKindAddress, SourceAddress: "1 Main St, Springfield, IL 62704"})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, r.Status)
	assert.Equal(t, listingURL, r.SourceURL)
	assert.Equal(t, gateway.SourceListingScrape, r.DataSourceTag)
	assert.Zero(t, h.research.calls.Load())
}

func TestRun_AddressListingFailsFallsBackToResearch(t *testing.T) {
	h := newHarness(t, discovererFake{d: gateway.Discovery{Found: true, URL: listingURL}})
	h.listing.err = failure.Unavailable(gateway.SourceListingScrape, errors.New("captcha"))
	id := h.create(t, model.ReportInput{InputKind: model.InputKindAddress, SourceAddress: "1 Main St, Springfield, IL 62704"})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, r.Status)
	assert.Equal(t, gateway.SourceAIResearch, r.DataSourceTag, "tag never names a gateway that failed")
	assert.Equal(t, int32(1), h.listing.calls.Load())
	assert.Equal(t, int32(1), h.research.calls.Load())
}

func TestRun_IncompleteFactsAreNotAccepted(t *testing.T) {
	h := newHarness(t, nil)
	h.listing.facts = &model.PropertyFacts{Address: "1 Main St, Springfield, IL 62704", Beds: 3}
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, r.Status)
	assert.Nil(t, r.Property)
}

func TestRun_SynthesisFallsBackToHeuristic(t *testing.T) {
	h := newHarness(t, nil)
	h.deps.Analyst = &analystFake{name: gateway.SourceClaudeAnalysis, err: failure.Unavailable(gateway.SourceClaudeAnalysis, errors.New("529 overloaded"))}
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, r.Status)
	require.NotNil(t, r.Validation)
	assert.Equal(t, gateway.SourceHeuristic, r.Validation.Source)
	assert.NotEmpty(t, r.Projects)
	assert.Equal(t, gateway.SourceHeuristic, stageKeys(r)[failure.StageSynthesis].Source)
}

func TestRun_SynthesisExhaustedFails(t *testing.T) {
	h := newHarness(t, nil)
	h.deps.Analyst = &analystFake{name: gateway.SourceClaudeAnalysis, err: errors.New("timeout")}
	h.deps.Fallback = nil
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, model.StatusFailed, r.Status)
	assert.Equal(t, failure.Reason(failure.NoUsableData, failure.StageSynthesis, model.InputKindURL), r.FailureReason)
	assert.NotNil(t, r.Property, "earlier stage output stays on a failed report")
	assert.NotNil(t, r.Comparables)
}

func photographedFacts() *model.PropertyFacts {
	facts := springfieldFacts()
	facts.Images = []string{"https://img.example/1.jpg", "https://img.example/2.jpg"}
	return facts
}

func TestRun_ImageReviewRefinesPlan(t *testing.T) {
	h := newHarness(t, nil)
	h.listing.facts = photographedFacts()
	images := &imagesFake{review: &gateway.ImageReview{
		Projects: []gateway.ProjectReview{
			{ID: "kitchen-remodel", Feasibility: "high", Insights: "Galley kitchen with original cabinets."},
			{ID: "bathroom-update", Unrealistic: true},
		},
		Suggestions: []model.ImageSuggestion{{Name: "Replace front door", Reason: "Weathered finish."}},
	}}
	h.deps.Images = images
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, r.Status)

	assert.EqualValues(t, 1, images.calls.Load())
	assert.Equal(t, photographedFacts().Images, images.got.Images)
	assert.Len(t, images.got.Projects, 3)

	require.Len(t, r.Projects, 2)
	assert.Equal(t, "kitchen-remodel", r.Projects[0].ID)
	assert.Equal(t, "high", r.Projects[0].Feasibility)
	assert.Equal(t, "Galley kitchen with original cabinets.", r.Projects[0].ImageInsights)
	assert.Equal(t, "interior-paint", r.Projects[1].ID)

	var total float64
	for _, p := range r.Projects {
		total += p.EstimatedCost.Medium
	}
	assert.Equal(t, total, r.Financial.TotalRenovationCost, "financials cover only the reviewed plan")

	require.NotNil(t, r.Validation)
	assert.Equal(t, []string{"bathroom-update"}, r.Validation.FlaggedProjects)
	require.Len(t, r.Validation.ImageSuggestions, 1)
	assert.Equal(t, "Replace front door", r.Validation.ImageSuggestions[0].Name)

	st := stageKeys(r)[keyImageReview]
	assert.Equal(t, model.OutcomeOK, st.Outcome)
	assert.Equal(t, failure.StageSynthesis, st.Stage)
	assert.Contains(t, h.observer.attempts, failure.StageSynthesis+"/"+gateway.SourceImageReview+"/"+attemptAccepted)
}

func TestRun_ImageReviewFailureKeepsPlan(t *testing.T) {
	h := newHarness(t, nil)
	h.listing.facts = photographedFacts()
	h.deps.Images = &imagesFake{err: failure.Unavailable(gateway.SourceImageReview, errors.New("400 invalid image"))}
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, r.Status)
	assert.Len(t, r.Projects, 3)
	assert.Empty(t, r.Validation.FlaggedProjects)

	st := stageKeys(r)[keyImageReview]
	assert.Equal(t, model.OutcomeFailed, st.Outcome)
	assert.Equal(t, string(failure.SourceUnavailable), st.ErrorKind)
	assert.Equal(t, gateway.SourceClaudeAnalysis, stageKeys(r)[failure.StageSynthesis].Source)
}

func TestRun_ImageReviewSkippedWithoutPhotos(t *testing.T) {
	h := newHarness(t, nil)
	images := &imagesFake{}
	h.deps.Images = images
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, r.Status)
	assert.Zero(t, images.calls.Load())
	_, ok := stageKeys(r)[keyImageReview]
	assert.False(t, ok)
}

func TestRun_LocationFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.deps.Location = &locationFake{err: failure.Unavailable(gateway.SourceGeocode, errors.New("no match"))}
	var areas []string
	var mu sync.Mutex
	h.directory.find = func(req gateway.ContractorRequest) ([]model.Contractor, error) {
		mu.Lock()
		areas = append(areas, req.Area)
		mu.Unlock()
		return directoryFor(req)
	}
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, r.Status)
	assert.Nil(t, r.Location)
	assert.Equal(t, model.OutcomeDegraded, stageKeys(r)[failure.StageLocation].Outcome)
	require.NotEmpty(t, areas)
	assert.Equal(t, "Springfield, IL 62704", areas[0])
}

func TestRun_ComparablesFallBackToListing(t *testing.T) {
	h := newHarness(t, nil)
	h.market.err = failure.Unavailable(gateway.SourceMarketSearch, errors.New("rate limited"))
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, r.Comparables, 1)
	assert.Equal(t, "9 Ash St", r.Comparables[0].Address)
	assert.Equal(t, gateway.SourceListingComparables, stageKeys(r)[failure.StageComparables].Source)
}

func TestRun_InvalidStoredInputFails(t *testing.T) {
	h := newHarness(t, nil)
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: "https://evil.example.com/home/1"})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, r.Status)
	assert.Equal(t, failure.Reason(failure.InvalidInput, failure.StageInput, model.InputKindURL), r.FailureReason)
	assert.Zero(t, h.listing.calls.Load())
}

func TestRun_TerminalReportIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})
	p := h.pipeline()

	first, err := p.Run(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, first.Status)

	second, err := p.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, second.Status)
	assert.Equal(t, int32(1), h.listing.calls.Load())
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
}

func TestRun_ResumesProcessingReport(t *testing.T) {
	h := newHarness(t, nil)
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})
	ctx := context.Background()
	require.NoError(t, h.store.Store.UpdateStatus(ctx, id, model.Transition{Status: model.StatusProcessing}))
	// An earlier attempt got as far as writing a different plan.
	require.NoError(t, h.store.Store.UpdateFields(ctx, id, model.Patch{
		ReplaceProjects: true,
		Projects: []model.RenovationProject{
			project("roof-replacement", 25000, 30000),
			project("deck-addition", 20000, 26000),
		},
	}))

	r, err := h.pipeline().Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, r.Status)

	require.Len(t, r.Projects, 3)
	var cost float64
	for _, pr := range r.Projects {
		assert.NotEqual(t, "roof-replacement", pr.ID)
		assert.NotEqual(t, "deck-addition", pr.ID)
		assert.NotEmpty(t, pr.Contractors, pr.ID)
		cost += pr.EstimatedCost.Medium
	}
	require.NotNil(t, r.Financial)
	assert.InDelta(t, r.Financial.TotalRenovationCost, cost, 0.01)
}

func TestRun_CanceledLeavesProcessing(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.listing.hook = cancel
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	_, err := h.pipeline().Run(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	r, err := h.store.GetReport(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, r.Status)
	assert.Empty(t, r.FailureReason)
	assert.Empty(t, h.observer.finished)
}

func TestRun_UnknownReport(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.pipeline().Run(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_WriteForward(t *testing.T) {
	h := newHarness(t, nil)
	h.deps.Analyst = &analystFake{name: gateway.SourceClaudeAnalysis, err: errors.New("down")}
	h.deps.Fallback = nil
	id := h.create(t, model.ReportInput{InputKind: model.InputKindURL, SourceURL: listingURL})

	r, err := h.pipeline().Run(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, r.Status)

	// Fields written before the failure survive the terminal write.
	assert.NotNil(t, r.Property)
	assert.NotNil(t, r.Location)
	assert.Len(t, r.Comparables, 2)
}
