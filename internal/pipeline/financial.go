package pipeline

import (
	"math"
	"sort"

	"github.com/sells-group/renovation-report/internal/gateway"
	"github.com/sells-group/renovation-report/internal/model"
)

// Value sources recorded on the financial summary.
const (
	ValueFromPrice           = "listing_price"
	ValueFromEstimate        = "estimate"
	ValueFromEstimatePerSqft = "estimate_per_sqft"
	ValueFromComparables     = "comparables"
	ValueUnknown             = "unknown"
)

const maxInsights = 3

// Plan is the synthesis stage's persisted output: ranked projects plus
// the totals derived from them.
type Plan struct {
	Projects   []model.RenovationProject
	Financial  model.FinancialSummary
	Validation model.ValidationSummary
	Insights   []model.QuickInsight
	// Review is the photo review's provenance entry, when one ran.
	Review *model.StageResult
}

// BuildPlan ranks an analyst's projects by ROI, keeps the best
// maxProjects and computes the financial summary and quick insights.
func BuildPlan(a *gateway.Analysis, facts *model.PropertyFacts, comps []model.Comparable, maxProjects int) *Plan {
	avgPsf := AvgPricePsf(comps)
	current, valueSource := CurrentValue(facts, avgPsf)

	projects := make([]model.RenovationProject, len(a.Projects))
	copy(projects, a.Projects)
	for i := range projects {
		projects[i].ROI = ProjectROI(projects[i])
		projects[i].AfterRepairValue = round2(current + projects[i].EstimatedValueAdd.Medium)
	}
	sort.SliceStable(projects, func(i, j int) bool { return projects[i].ROI > projects[j].ROI })
	if maxProjects > 0 && len(projects) > maxProjects {
		projects = projects[:maxProjects]
	}

	var cost, valueAdd float64
	for _, p := range projects {
		cost += p.EstimatedCost.Medium
		valueAdd += p.EstimatedValueAdd.Medium
	}
	fin := model.FinancialSummary{
		CurrentValue:        round2(current),
		ValueSource:         valueSource,
		TotalRenovationCost: round2(cost),
		TotalValueAdd:       round2(valueAdd),
		AvgPricePsf:         round2(avgPsf),
	}
	fin.AfterRepairValue = round2(fin.CurrentValue + fin.TotalValueAdd)
	if cost > 0 {
		fin.ROI = round2((valueAdd - cost) / cost * 100)
	}

	return &Plan{
		Projects:   projects,
		Financial:  fin,
		Validation: a.Validation,
		Insights:   Insights(projects),
	}
}

// ProjectROI is (value add - cost) / cost as a percentage of the medium
// estimates, or 0 when the cost is not positive.
func ProjectROI(p model.RenovationProject) float64 {
	cost := p.EstimatedCost.Medium
	if cost <= 0 {
		return 0
	}
	return round2((p.EstimatedValueAdd.Medium - cost) / cost * 100)
}

// AvgPricePsf averages the comparables' price per square foot. Comparables
// with neither a stated price per square foot nor a sale price and area
// are skipped; no usable comparables gives 0.
func AvgPricePsf(comps []model.Comparable) float64 {
	var sum float64
	var n int
	for _, c := range comps {
		if psf := c.EffectivePricePerSqft(); psf > 0 {
			sum += psf
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// CurrentValue picks the best available value for the property: listing
// price, automated estimate, area times the estimate per square foot,
// area times the comparables' average, and finally 0.
func CurrentValue(facts *model.PropertyFacts, avgPsf float64) (float64, string) {
	if facts == nil {
		return 0, ValueUnknown
	}
	switch {
	case facts.Price > 0:
		return facts.Price, ValueFromPrice
	case facts.Estimate > 0:
		return facts.Estimate, ValueFromEstimate
	case facts.Area > 0 && facts.EstimatePerSqft > 0:
		return float64(facts.Area) * facts.EstimatePerSqft, ValueFromEstimatePerSqft
	case facts.Area > 0 && avgPsf > 0:
		return float64(facts.Area) * avgPsf, ValueFromComparables
	}
	return 0, ValueUnknown
}

// Insights highlights the top projects of an already ranked list.
func Insights(ranked []model.RenovationProject) []model.QuickInsight {
	n := min(len(ranked), maxInsights)
	out := make([]model.QuickInsight, 0, n)
	for _, p := range ranked[:n] {
		out = append(out, model.QuickInsight{
			ProjectID:      p.ID,
			Name:           p.Name,
			ROI:            p.ROI,
			PotentialScore: potentialScore(p),
		})
	}
	return out
}

// potentialScore rates value add against cost on a 0-10 scale. Projects
// without a cost score a neutral 5.
func potentialScore(p model.RenovationProject) float64 {
	cost := p.EstimatedCost.Medium
	if cost <= 0 {
		return 5
	}
	return math.Min(10, math.Round(p.EstimatedValueAdd.Medium/cost*3*10)/10)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
