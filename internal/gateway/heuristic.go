package gateway

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/model"
)

// projectRule is one renovation the heuristic analyst knows how to price.
// Costs are either fixed or per square foot of living area; value add is
// cost scaled by a recovery ratio.
type projectRule struct {
	name        string
	description string
	fixed       model.Range
	perSqft     model.Range
	recovery    model.Range
	feasibility string
	timeline    string
	applies     func(p *model.PropertyFacts, age int) bool
}

var projectRules = []projectRule{
	{
		name:        "Kitchen Remodel",
		description: "Update cabinets, counters and appliances.",
		fixed:       model.Range{Low: 25000, Medium: 40000, High: 65000},
		recovery:    model.Range{Low: 0.7, Medium: 0.85, High: 1.0},
		feasibility: "medium",
		timeline:    "6-10 weeks",
		applies:     func(_ *model.PropertyFacts, _ int) bool { return true },
	},
	{
		name:        "Bathroom Update",
		description: "Refresh fixtures, tile and vanity in the main bathroom.",
		fixed:       model.Range{Low: 10000, Medium: 18000, High: 30000},
		recovery:    model.Range{Low: 0.65, Medium: 0.8, High: 0.95},
		feasibility: "high",
		timeline:    "3-5 weeks",
		applies:     func(_ *model.PropertyFacts, _ int) bool { return true },
	},
	{
		name:        "Interior Paint and Flooring",
		description: "Repaint throughout and replace worn flooring.",
		perSqft:     model.Range{Low: 4, Medium: 6, High: 9},
		recovery:    model.Range{Low: 1.0, Medium: 1.15, High: 1.3},
		feasibility: "high",
		timeline:    "2-3 weeks",
		applies:     func(p *model.PropertyFacts, _ int) bool { return p.Area > 0 },
	},
	{
		name:        "Add a Bedroom",
		description: "Convert underused space into an additional bedroom.",
		fixed:       model.Range{Low: 30000, Medium: 45000, High: 60000},
		recovery:    model.Range{Low: 1.0, Medium: 1.2, High: 1.4},
		feasibility: "medium",
		timeline:    "8-12 weeks",
		applies:     func(p *model.PropertyFacts, _ int) bool { return p.Beds > 0 && p.Beds <= 2 && p.Area >= 1200 },
	},
	{
		name:        "Roof Replacement",
		description: "Replace an aging roof before it becomes a buyer objection.",
		perSqft:     model.Range{Low: 5, Medium: 7, High: 10},
		recovery:    model.Range{Low: 0.55, Medium: 0.65, High: 0.75},
		feasibility: "high",
		timeline:    "1-2 weeks",
		applies:     func(p *model.PropertyFacts, age int) bool { return age >= 25 && p.Area > 0 },
	},
	{
		name:        "HVAC Replacement",
		description: "Install a high-efficiency heating and cooling system.",
		fixed:       model.Range{Low: 8000, Medium: 12000, High: 16000},
		recovery:    model.Range{Low: 0.6, Medium: 0.7, High: 0.8},
		feasibility: "high",
		timeline:    "1 week",
		applies:     func(_ *model.PropertyFacts, age int) bool { return age >= 20 },
	},
	{
		name:        "Curb Appeal Landscaping",
		description: "Improve front landscaping, entry and exterior lighting.",
		fixed:       model.Range{Low: 5000, Medium: 10000, High: 15000},
		recovery:    model.Range{Low: 0.9, Medium: 1.1, High: 1.4},
		feasibility: "high",
		timeline:    "1-2 weeks",
		applies:     func(_ *model.PropertyFacts, _ int) bool { return true },
	},
}

// HeuristicAnalyst prices a fixed catalogue of common renovations from the
// property's own facts. It makes no network calls.
type HeuristicAnalyst struct {
	now func() time.Time
}

// NewHeuristicAnalyst creates the rule-based analyst.
func NewHeuristicAnalyst() *HeuristicAnalyst {
	return &HeuristicAnalyst{now: time.Now}
}

// Name implements Analyst.
func (a *HeuristicAnalyst) Name() string { return SourceHeuristic }

// Analyze implements Analyst.
func (a *HeuristicAnalyst) Analyze(_ context.Context, req AnalysisRequest) (*Analysis, error) {
	p := req.Property
	if p == nil {
		return nil, failure.New(failure.InternalInconsistency, eris.New("heuristic: no property facts"))
	}
	age := 0
	if p.YearBuilt > 0 {
		age = a.now().Year() - p.YearBuilt
	}

	ids := newIDSet()
	out := &Analysis{}
	for _, r := range projectRules {
		if !r.applies(p, age) {
			continue
		}
		cost := r.fixed
		if r.perSqft.Medium > 0 {
			area := float64(p.Area)
			cost = model.Range{Low: r.perSqft.Low * area, Medium: r.perSqft.Medium * area, High: r.perSqft.High * area}
		}
		out.Projects = append(out.Projects, model.RenovationProject{
			ID:          ids.next(r.name),
			Name:        r.name,
			Description: r.description,
			EstimatedCost: model.Range{
				Low:    math.Round(cost.Low),
				Medium: math.Round(cost.Medium),
				High:   math.Round(cost.High),
			},
			EstimatedValueAdd: model.Range{
				Low:    math.Round(cost.Low * r.recovery.Low),
				Medium: math.Round(cost.Medium * r.recovery.Medium),
				High:   math.Round(cost.High * r.recovery.High),
			},
			Feasibility: r.feasibility,
			Timeline:    r.timeline,
		})
	}

	out.Validation = heuristicValidation(out.Projects, req)
	return out, nil
}

func heuristicValidation(projects []model.RenovationProject, req AnalysisRequest) model.ValidationSummary {
	best := math.Inf(-1)
	bestName := ""
	for _, pr := range projects {
		if pr.EstimatedCost.Medium <= 0 {
			continue
		}
		roi := (pr.EstimatedValueAdd.Medium - pr.EstimatedCost.Medium) / pr.EstimatedCost.Medium * 100
		if roi > best {
			best, bestName = roi, pr.Name
		}
	}

	verdict := "Limited upside"
	switch {
	case best >= 20:
		verdict = "Strong renovation opportunity"
	case best >= 0:
		verdict = "Moderate renovation opportunity"
	}

	market := "No recent comparable sales were found."
	if n := len(req.Comparables); n > 0 {
		market = fmt.Sprintf("Based on %d recent comparable sales.", n)
	}
	where := req.Location.CityState()
	if where == "" {
		where = "the local market"
	}
	return model.ValidationSummary{
		Verdict:       verdict,
		Reasoning:     fmt.Sprintf("Estimated from standard renovation cost ranges for a %s in %s. %s offers the best expected return.", describeSubject(req.Property), where, bestName),
		MarketSummary: market,
		Source:        SourceHeuristic,
	}
}
