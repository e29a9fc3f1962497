package gateway

import (
	"context"
	"errors"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/resilience"
)

// Guards wraps gateways in per-source circuit breakers. Once a source
// keeps failing its calls are refused immediately, so the stage moves on
// to the fallback without waiting out another timeout.
type Guards struct {
	breakers *resilience.Breakers
	retry    resilience.RetryConfig
}

// NewGuards creates guards backed by breakers. The API clients retry on
// their own, so retry normally has MaxAttempts 1.
func NewGuards(breakers *resilience.Breakers, retry resilience.RetryConfig) *Guards {
	return &Guards{breakers: breakers, retry: retry}
}

// ShouldTrip counts only unavailable sources against a breaker. Bad input
// and cancellation say nothing about the source's health.
func ShouldTrip(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return failure.KindOf(err) == failure.SourceUnavailable
}

func (g *Guards) guard(name string) resilience.Guard {
	return resilience.NewGuard(name, g.breakers, g.retry)
}

func guarded[T any](ctx context.Context, gd resilience.Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := resilience.Call(ctx, gd, fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return v, failure.Unavailable(gd.Name, err)
	}
	return v, err
}

// Property guards a property gateway.
func (g *Guards) Property(p PropertyGateway) PropertyGateway {
	return &guardedProperty{PropertyGateway: p, guard: g.guard(p.Name())}
}

// Location guards a location gateway.
func (g *Guards) Location(l LocationGateway) LocationGateway {
	return &guardedLocation{LocationGateway: l, guard: g.guard(l.Name())}
}

// Comparables guards a comparables gateway.
func (g *Guards) Comparables(c ComparablesGateway) ComparablesGateway {
	return &guardedComparables{ComparablesGateway: c, guard: g.guard(c.Name())}
}

// Contractors guards a contractor gateway.
func (g *Guards) Contractors(c ContractorGateway) ContractorGateway {
	return &guardedContractors{ContractorGateway: c, guard: g.guard(c.Name())}
}

// Analyst guards an analyst.
func (g *Guards) Analyst(a Analyst) Analyst {
	return &guardedAnalyst{Analyst: a, guard: g.guard(a.Name())}
}

// Images guards an image reviewer.
func (g *Guards) Images(r ImageReviewer) ImageReviewer {
	return &guardedImages{ImageReviewer: r, guard: g.guard(r.Name())}
}

type guardedProperty struct {
	PropertyGateway
	guard resilience.Guard
}

func (p *guardedProperty) Fetch(ctx context.Context, req PropertyRequest) (*model.PropertyFacts, error) {
	return guarded(ctx, p.guard, func(ctx context.Context) (*model.PropertyFacts, error) {
		return p.PropertyGateway.Fetch(ctx, req)
	})
}

type guardedLocation struct {
	LocationGateway
	guard resilience.Guard
}

func (l *guardedLocation) Geocode(ctx context.Context, address string) (*model.Location, error) {
	return guarded(ctx, l.guard, func(ctx context.Context) (*model.Location, error) {
		return l.LocationGateway.Geocode(ctx, address)
	})
}

type guardedComparables struct {
	ComparablesGateway
	guard resilience.Guard
}

func (c *guardedComparables) Find(ctx context.Context, req ComparablesRequest) ([]model.Comparable, error) {
	return guarded(ctx, c.guard, func(ctx context.Context) ([]model.Comparable, error) {
		return c.ComparablesGateway.Find(ctx, req)
	})
}

type guardedContractors struct {
	ContractorGateway
	guard resilience.Guard
}

func (c *guardedContractors) Find(ctx context.Context, req ContractorRequest) ([]model.Contractor, error) {
	return guarded(ctx, c.guard, func(ctx context.Context) ([]model.Contractor, error) {
		return c.ContractorGateway.Find(ctx, req)
	})
}

type guardedAnalyst struct {
	Analyst
	guard resilience.Guard
}

func (a *guardedAnalyst) Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error) {
	return guarded(ctx, a.guard, func(ctx context.Context) (*Analysis, error) {
		return a.Analyst.Analyze(ctx, req)
	})
}

type guardedImages struct {
	ImageReviewer
	guard resilience.Guard
}

func (r *guardedImages) Review(ctx context.Context, req ImageReviewRequest) (*ImageReview, error) {
	return guarded(ctx, r.guard, func(ctx context.Context) (*ImageReview, error) {
		return r.ImageReviewer.Review(ctx, req)
	})
}
