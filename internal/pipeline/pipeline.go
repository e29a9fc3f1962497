// Package pipeline turns a submitted listing reference into a completed
// renovation report. Each stage tries its gateways in order, persists the
// first acceptable result and hands it to the next stage.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/renovation-report/internal/classify"
	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/gateway"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/store"
)

// Progress messages shown while a report is processing.
const (
	progressStarted     = "Starting report"
	progressResolving   = "Resolving listing"
	progressProperty    = "Gathering property details"
	progressLocation    = "Locating property"
	progressComparables = "Finding comparable sales"
	progressSynthesis   = "Analyzing renovation opportunities"
	progressContractors = "Finding contractors"
	progressDone        = "Report complete"
)

const failWriteTimeout = 10 * time.Second

// keyImageReview is the provenance key of the photo review.
const keyImageReview = "image_review"

// Deps are the collaborators a pipeline runs against. Any gateway may be
// nil, which removes it from its stage's fallback chain.
type Deps struct {
	Store      store.Store
	Classifier *classify.Classifier

	Listing  gateway.PropertyGateway
	Research gateway.PropertyGateway
	Location gateway.LocationGateway

	MarketComparables gateway.ComparablesGateway
	SourceComparables gateway.ComparablesGateway

	Analyst  gateway.Analyst
	Fallback gateway.Analyst
	Images   gateway.ImageReviewer

	Directory gateway.ContractorGateway
	Generated gateway.ContractorGateway

	Observer Observer
}

// Options tune a pipeline.
type Options struct {
	Policy                Policy
	MaxProjects           int
	MaxContractors        int
	ContractorConcurrency int
}

// Pipeline runs reports end to end.
type Pipeline struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates a pipeline. Zero options fall back to defaults.
func New(deps Deps, opts Options) *Pipeline {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if opts.Policy.Stages == nil {
		opts.Policy = DefaultPolicy()
	}
	if opts.MaxProjects <= 0 {
		opts.MaxProjects = 5
	}
	if opts.MaxContractors <= 0 {
		opts.MaxContractors = 3
	}
	if opts.ContractorConcurrency <= 0 {
		opts.ContractorConcurrency = 3
	}
	return &Pipeline{deps: deps, opts: opts, now: time.Now}
}

// run carries the state of one report run between stages.
type run struct {
	report *model.Report
	log    *zap.Logger
	source classify.ResolvedSource

	property    *model.PropertyFacts
	propertyTag string
	location    *model.Location
	comparables []model.Comparable
	plan        *Plan
}

// Run processes one report. A report that is already completed or failed
// is returned unchanged. Stage failures end in a failed report and a nil
// error; the error return is reserved for problems that leave the report
// unfinished (store unavailable, shutdown) so the job can be redelivered.
func (p *Pipeline) Run(ctx context.Context, id string) (*model.Report, error) {
	st := p.deps.Store
	r, err := st.GetReport(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load report %s", id)
	}
	if r.Status.Terminal() {
		zap.L().Info("pipeline: report already finished",
			zap.String("report_id", id),
			zap.String("status", string(r.Status)),
		)
		return r, nil
	}

	if err := st.UpdateStatus(ctx, id, model.Transition{Status: model.StatusProcessing}); err != nil {
		return nil, eris.Wrapf(err, "pipeline: start report %s", id)
	}
	start := p.now()
	rn := &run{
		report: r,
		log:    zap.L().With(zap.String("report_id", id), zap.String("input_kind", string(r.InputKind))),
	}
	rn.log.Info("pipeline: starting report")
	p.progress(ctx, rn, progressStarted)

	if err := p.execute(ctx, rn); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			rn.log.Warn("pipeline: run interrupted, leaving report for redelivery", zap.Error(err))
			return nil, eris.Wrap(ctx.Err(), "pipeline: run interrupted")
		}
		if ferr := p.fail(ctx, rn, err); ferr != nil {
			return nil, ferr
		}
		p.deps.Observer.Finished(string(model.StatusFailed), p.now().Sub(start))
		return p.reload(ctx, id)
	}

	p.progress(ctx, rn, progressDone)
	if err := st.UpdateStatus(ctx, id, model.Transition{
		Status:        model.StatusCompleted,
		DataSourceTag: rn.propertyTag,
	}); err != nil {
		return nil, eris.Wrapf(err, "pipeline: complete report %s", id)
	}
	elapsed := p.now().Sub(start)
	p.deps.Observer.Finished(string(model.StatusCompleted), elapsed)
	rn.log.Info("pipeline: report completed",
		zap.String("data_source", rn.propertyTag),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	)
	return p.reload(ctx, id)
}

func (p *Pipeline) execute(ctx context.Context, rn *run) error {
	steps := []func(context.Context, *run) error{
		p.resolve,
		p.acquireProperty,
		p.resolveLocation,
		p.findComparables,
		p.synthesize,
		p.enrichContractors,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: canceled between stages")
		}
		if err := step(ctx, rn); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, rn *run) error {
	p.progress(ctx, rn, progressResolving)
	if p.deps.Classifier == nil {
		return &failure.Error{Kind: failure.InternalInconsistency, Stage: failure.StageInput, Err: eris.New("pipeline: no classifier")}
	}

	rctx := ctx
	if d := p.opts.Policy.Timeout(StageDiscovery, gateway.SourceDiscovery); d > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	src, err := p.deps.Classifier.Resolve(rctx, rn.report)
	if err != nil {
		kind := failure.KindOf(err)
		if kind != failure.InvalidInput {
			kind = failure.InternalInconsistency
		}
		return &failure.Error{Kind: kind, Stage: failure.StageInput, Err: err}
	}
	rn.source = src
	rn.log.Info("pipeline: source resolved", zap.String("listing_url", src.ListingURL()))
	return nil
}

func (p *Pipeline) acquireProperty(ctx context.Context, rn *run) error {
	p.progress(ctx, rn, progressProperty)
	const name = failure.StageProperty

	var attempts []Attempt[gateway.PropertyRequest, *model.PropertyFacts]
	if g := p.deps.Listing; g != nil && rn.source.ListingURL() != "" {
		attempts = append(attempts, attempt(p.opts.Policy, name, g.Name(), g.Fetch))
	}
	// Only address runs may fall back to research; a submitted URL is the
	// authoritative source for its listing.
	req := gateway.PropertyRequest{URL: rn.source.ListingURL()}
	if src, ok := rn.source.(classify.AddressSource); ok {
		req.Address = src.Address
		if g := p.deps.Research; g != nil {
			attempts = append(attempts, attempt(p.opts.Policy, name, g.Name(), g.Fetch))
		}
	}

	stage := Stage[gateway.PropertyRequest, *model.PropertyFacts]{
		Name:       name,
		Attempts:   enabled(p.opts.Policy, name, attempts),
		Acceptable: func(f *model.PropertyFacts) bool { return f.Complete() },
		Persist: func(ctx context.Context, out Outcome[*model.PropertyFacts]) error {
			return p.deps.Store.UpdateFields(ctx, rn.report.ID, model.Patch{
				Property: out.Value,
				Stages:   []model.StageResult{out.StageResult(name, name)},
			})
		},
		Mandatory: true,
		Observer:  p.deps.Observer,
	}
	out, err := stage.Execute(ctx, req)
	if err != nil {
		return err
	}
	rn.property, rn.propertyTag = out.Value, out.Source
	return nil
}

func (p *Pipeline) resolveLocation(ctx context.Context, rn *run) error {
	p.progress(ctx, rn, progressLocation)
	const name = failure.StageLocation

	var attempts []Attempt[string, *model.Location]
	if g := p.deps.Location; g != nil {
		attempts = append(attempts, attempt(p.opts.Policy, name, g.Name(), g.Geocode))
	}
	stage := Stage[string, *model.Location]{
		Name:       name,
		Attempts:   enabled(p.opts.Policy, name, attempts),
		Acceptable: func(l *model.Location) bool { return l.Resolved() },
		Persist: func(ctx context.Context, out Outcome[*model.Location]) error {
			return p.deps.Store.UpdateFields(ctx, rn.report.ID, model.Patch{
				Location: out.Value,
				Stages:   []model.StageResult{out.StageResult(name, name)},
			})
		},
		Exhausted: func() *model.Location { return nil },
		Observer:  p.deps.Observer,
	}
	out, err := stage.Execute(ctx, rn.property.Address)
	if err != nil {
		return err
	}
	rn.location = out.Value
	return nil
}

func (p *Pipeline) findComparables(ctx context.Context, rn *run) error {
	p.progress(ctx, rn, progressComparables)
	const name = failure.StageComparables

	var attempts []Attempt[gateway.ComparablesRequest, []model.Comparable]
	if g := p.deps.MarketComparables; g != nil {
		attempts = append(attempts, attempt(p.opts.Policy, name, g.Name(), g.Find))
	}
	if g := p.deps.SourceComparables; g != nil && rn.source.ListingURL() != "" {
		attempts = append(attempts, attempt(p.opts.Policy, name, g.Name(), g.Find))
	}
	stage := Stage[gateway.ComparablesRequest, []model.Comparable]{
		Name:       name,
		Attempts:   enabled(p.opts.Policy, name, attempts),
		Acceptable: func(c []model.Comparable) bool { return len(c) > 0 },
		Persist: func(ctx context.Context, out Outcome[[]model.Comparable]) error {
			return p.deps.Store.UpdateFields(ctx, rn.report.ID, model.Patch{
				Comparables: out.Value,
				Stages:      []model.StageResult{out.StageResult(name, name)},
			})
		},
		Exhausted: func() []model.Comparable { return []model.Comparable{} },
		Observer:  p.deps.Observer,
	}
	out, err := stage.Execute(ctx, gateway.ComparablesRequest{
		Property:  rn.property,
		Location:  rn.location,
		SourceURL: rn.source.ListingURL(),
	})
	if err != nil {
		return err
	}
	rn.comparables = out.Value
	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, rn *run) error {
	p.progress(ctx, rn, progressSynthesis)
	const name = failure.StageSynthesis
	if rn.property == nil {
		return &failure.Error{Kind: failure.InternalInconsistency, Stage: name, Err: eris.New("pipeline: synthesis without property facts")}
	}

	plan := func(a gateway.Analyst) Attempt[gateway.AnalysisRequest, *Plan] {
		return attempt(p.opts.Policy, name, a.Name(), func(ctx context.Context, req gateway.AnalysisRequest) (*Plan, error) {
			res, err := a.Analyze(ctx, req)
			if err != nil {
				return nil, err
			}
			res, review := p.reviewImages(ctx, rn, res)
			pl := BuildPlan(res, req.Property, req.Comparables, req.MaxProjects)
			pl.Review = review
			return pl, nil
		})
	}
	var attempts []Attempt[gateway.AnalysisRequest, *Plan]
	if p.deps.Analyst != nil {
		attempts = append(attempts, plan(p.deps.Analyst))
	}
	if p.deps.Fallback != nil {
		attempts = append(attempts, plan(p.deps.Fallback))
	}

	stage := Stage[gateway.AnalysisRequest, *Plan]{
		Name:       name,
		Attempts:   enabled(p.opts.Policy, name, attempts),
		Acceptable: func(pl *Plan) bool { return pl != nil && len(pl.Projects) > 0 },
		Persist: func(ctx context.Context, out Outcome[*Plan]) error {
			pl := out.Value
			stages := []model.StageResult{out.StageResult(name, name)}
			if pl.Review != nil {
				stages = append(stages, *pl.Review)
			}
			return p.deps.Store.UpdateFields(ctx, rn.report.ID, model.Patch{
				Projects:        pl.Projects,
				ReplaceProjects: true,
				Financial:       &pl.Financial,
				Validation:      &pl.Validation,
				Insights:        pl.Insights,
				Stages:          stages,
			})
		},
		Mandatory: true,
		Observer:  p.deps.Observer,
	}
	out, err := stage.Execute(ctx, gateway.AnalysisRequest{
		Property:    rn.property,
		Location:    rn.location,
		Comparables: rn.comparables,
		MaxProjects: p.opts.MaxProjects,
	})
	if err != nil {
		return err
	}
	rn.plan = out.Value
	return nil
}

// reviewImages checks the analyst's projects against the listing photos.
// The review is optional: any failure keeps the unreviewed analysis.
func (p *Pipeline) reviewImages(ctx context.Context, rn *run, a *gateway.Analysis) (*gateway.Analysis, *model.StageResult) {
	g := p.deps.Images
	if g == nil || rn.property == nil || len(rn.property.Images) == 0 {
		return a, nil
	}

	start := time.Now()
	review, err := g.Review(ctx, gateway.ImageReviewRequest{
		Property: rn.property,
		Projects: a.Projects,
		Images:   rn.property.Images,
	})
	elapsed := time.Since(start)
	sr := &model.StageResult{
		Key:        keyImageReview,
		Stage:      failure.StageSynthesis,
		Source:     g.Name(),
		Outcome:    model.OutcomeOK,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		p.deps.Observer.Attempt(failure.StageSynthesis, g.Name(), attemptFailed, elapsed)
		rn.log.Warn("pipeline: image review failed, keeping unreviewed plan", zap.Error(err))
		sr.Outcome = model.OutcomeFailed
		sr.ErrorKind = string(failure.KindOf(err))
		return a, sr
	}
	p.deps.Observer.Attempt(failure.StageSynthesis, g.Name(), attemptAccepted, elapsed)

	reviewed := gateway.ApplyImageReview(a, review)
	rn.log.Info("pipeline: image review applied",
		zap.Int("flagged", len(reviewed.Validation.FlaggedProjects)),
		zap.Int("suggestions", len(reviewed.Validation.ImageSuggestions)),
	)
	return reviewed, sr
}

// enrichContractors looks up contractors for every project concurrently.
// Each project writes only its own element of the project list, and a
// project with no contractors never stops the run.
func (p *Pipeline) enrichContractors(ctx context.Context, rn *run) error {
	p.progress(ctx, rn, progressContractors)
	const name = failure.StageContractors

	var attempts []Attempt[gateway.ContractorRequest, []model.Contractor]
	if g := p.deps.Directory; g != nil {
		attempts = append(attempts, attempt(p.opts.Policy, name, g.Name(), g.Find))
	}
	if g := p.deps.Generated; g != nil {
		attempts = append(attempts, attempt(p.opts.Policy, name, g.Name(), g.Find))
	}
	attempts = enabled(p.opts.Policy, name, attempts)
	area := rn.location.CityState()
	if area == "" {
		area = locality(rn.property.Address)
	}

	var g errgroup.Group
	g.SetLimit(p.opts.ContractorConcurrency)
	for _, project := range rn.plan.Projects {
		key := name + ":" + project.ID
		g.Go(func() error {
			stage := Stage[gateway.ContractorRequest, []model.Contractor]{
				Name:       name,
				Attempts:   attempts,
				Acceptable: func(c []model.Contractor) bool { return len(c) > 0 },
				Persist: func(ctx context.Context, out Outcome[[]model.Contractor]) error {
					withContractors := project
					withContractors.Contractors = out.Value
					withContractors.ContractorSource = gateway.ContractorSourceDirectory
					if out.Source == gateway.SourceAIGenerated {
						withContractors.ContractorSource = gateway.ContractorSourceGenerated
					}
					return p.deps.Store.UpdateFields(ctx, rn.report.ID, model.Patch{
						Projects: []model.RenovationProject{withContractors},
						Stages:   []model.StageResult{out.StageResult(key, name)},
					})
				},
				Observer: p.deps.Observer,
			}
			out, err := stage.Execute(ctx, gateway.ContractorRequest{
				Project:  project,
				Location: rn.location,
				Area:     area,
				Limit:    p.opts.MaxContractors,
			})
			if err == nil {
				return nil
			}
			if ctx.Err() != nil || failure.Is(err, failure.InternalInconsistency) {
				return err
			}
			rn.log.Warn("pipeline: no contractors for project",
				zap.String("project_id", project.ID),
				zap.Strings("tried", out.Tried),
				zap.Error(err),
			)
			p.recordFailed(ctx, rn, key, name, err, out.Duration)
			return nil
		})
	}
	return g.Wait()
}

// fail marks the report failed with a user-facing reason. Partial output
// already written stays on the record.
func (p *Pipeline) fail(ctx context.Context, rn *run, err error) error {
	kind := failure.KindOf(err)
	stage := failure.StageInput
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Stage != "" {
		stage = fe.Stage
	}
	reason := failure.Reason(kind, stage, rn.report.InputKind)
	rn.log.Error("pipeline: report failed",
		zap.String("stage", stage),
		zap.String("error_kind", string(kind)),
		zap.Error(err),
	)

	// The run's own context may have expired; the terminal write must
	// still land.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()
	if stage != failure.StageInput {
		p.recordFailed(wctx, rn, stage, stage, err, 0)
	}
	if uerr := p.deps.Store.UpdateStatus(wctx, rn.report.ID, model.Transition{
		Status:        model.StatusFailed,
		FailureReason: reason,
	}); uerr != nil {
		return eris.Wrapf(uerr, "pipeline: mark report %s failed", rn.report.ID)
	}
	return nil
}

func (p *Pipeline) recordFailed(ctx context.Context, rn *run, key, stage string, err error, elapsed time.Duration) {
	res := model.StageResult{
		Key:        key,
		Stage:      stage,
		Outcome:    model.OutcomeFailed,
		ErrorKind:  string(failure.KindOf(err)),
		DurationMs: elapsed.Milliseconds(),
	}
	if uerr := p.deps.Store.UpdateFields(ctx, rn.report.ID, model.Patch{Stages: []model.StageResult{res}}); uerr != nil {
		rn.log.Warn("pipeline: failed to record stage result", zap.String("stage", key), zap.Error(uerr))
	}
}

func (p *Pipeline) progress(ctx context.Context, rn *run, msg string) {
	if err := p.deps.Store.UpdateFields(ctx, rn.report.ID, model.Patch{Progress: msg}); err != nil {
		rn.log.Warn("pipeline: failed to update progress", zap.String("progress", msg), zap.Error(err))
	}
}

func (p *Pipeline) reload(ctx context.Context, id string) (*model.Report, error) {
	r, err := p.deps.Store.GetReport(context.WithoutCancel(ctx), id)
	return r, eris.Wrapf(err, "pipeline: reload report %s", id)
}

// attempt builds an attempt with the policy timeout for source.
func attempt[Req, Res any](pol Policy, stage, source string, call func(context.Context, Req) (Res, error)) Attempt[Req, Res] {
	return Attempt[Req, Res]{Source: source, Timeout: pol.Timeout(stage, source), Call: call}
}

// enabled drops attempts the policy switched off.
func enabled[Req, Res any](pol Policy, stage string, attempts []Attempt[Req, Res]) []Attempt[Req, Res] {
	out := attempts[:0]
	for _, a := range attempts {
		if pol.Enabled(stage, a.Source) {
			out = append(out, a)
		}
	}
	return out
}

// locality returns the city/state part of a one-line address.
func locality(address string) string {
	_, rest, ok := strings.Cut(address, ",")
	if !ok {
		return ""
	}
	return strings.TrimSpace(rest)
}
