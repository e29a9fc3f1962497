package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/pkg/anthropic"
)

const analystSystemPrompt = `You are a residential renovation analyst advising investors. Work only from the property data provided.
Answer with a single JSON object and nothing else.`

const analystUserPrompt = `Property:
%s

Location: %s

Recent comparable sales:
%s

Propose up to %d renovation projects ranked by return. Return:
{"projects": [{"name": string, "description": string,
  "estimated_cost": {"low": number, "medium": number, "high": number},
  "estimated_value_add": {"low": number, "medium": number, "high": number},
  "feasibility": "high"|"medium"|"low", "timeline": string, "buyer_profile": string,
  "roadmap_steps": [string], "potential_risks": [string]}],
 "validation": {"verdict": string, "reasoning": string, "market_summary": string, "investment_thesis": string}}`

type analystAnswer struct {
	Projects []struct {
		Name              string      `json:"name"`
		Description       string      `json:"description"`
		EstimatedCost     model.Range `json:"estimated_cost"`
		EstimatedValueAdd model.Range `json:"estimated_value_add"`
		Feasibility       string      `json:"feasibility"`
		Timeline          string      `json:"timeline"`
		BuyerProfile      string      `json:"buyer_profile"`
		RoadmapSteps      []string    `json:"roadmap_steps"`
		Risks             []string    `json:"potential_risks"`
	} `json:"projects"`
	Validation model.ValidationSummary `json:"validation"`
}

// ClaudeAnalyst derives renovation projects with Claude.
type ClaudeAnalyst struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeAnalyst creates the model-backed analyst.
func NewClaudeAnalyst(client anthropic.Client, model string, maxTokens int64) *ClaudeAnalyst {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &ClaudeAnalyst{client: client, model: model, maxTokens: maxTokens}
}

// Name implements Analyst.
func (a *ClaudeAnalyst) Name() string { return SourceClaudeAnalysis }

// Analyze implements Analyst. Projects without a positive medium cost are
// dropped; an answer with none left is a failure.
func (a *ClaudeAnalyst) Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error) {
	if req.Property == nil {
		return nil, failure.New(failure.InternalInconsistency, eris.New("analyst: no property facts"))
	}

	propJSON, err := json.MarshalIndent(req.Property, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "analyst: marshal property")
	}
	location := req.Location.CityState()
	if location == "" {
		location = "unknown"
	}

	temp := 0.2
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    analystSystemPrompt,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf(analystUserPrompt, propJSON, location, describeComparables(req.Comparables), maxProjects(req)),
		}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, failure.Unavailable(a.Name(), err)
	}
	resp.Usage.LogCost(a.model, "renovation_analysis")

	var ans analystAnswer
	if err := decodeJSON(resp.Text(), &ans); err != nil {
		return nil, failure.Unavailable(a.Name(), err)
	}

	ids := newIDSet()
	out := &Analysis{Validation: ans.Validation}
	out.Validation.Source = a.Name()
	for _, p := range ans.Projects {
		if strings.TrimSpace(p.Name) == "" || p.EstimatedCost.Medium <= 0 {
			continue
		}
		out.Projects = append(out.Projects, model.RenovationProject{
			ID:                ids.next(p.Name),
			Name:              strings.TrimSpace(p.Name),
			Description:       p.Description,
			EstimatedCost:     p.EstimatedCost,
			EstimatedValueAdd: p.EstimatedValueAdd,
			Feasibility:       p.Feasibility,
			Timeline:          p.Timeline,
			BuyerProfile:      p.BuyerProfile,
			RoadmapSteps:      p.RoadmapSteps,
			Risks:             p.Risks,
		})
	}
	if len(out.Projects) == 0 {
		return nil, failure.Unavailable(a.Name(), eris.New("analyst: no usable projects in answer"))
	}

	zap.L().Debug("gateway: analysis parsed",
		zap.Int("projects", len(out.Projects)),
		zap.String("verdict", out.Validation.Verdict),
	)
	return out, nil
}

func maxProjects(req AnalysisRequest) int {
	if req.MaxProjects > 0 {
		return req.MaxProjects
	}
	return 5
}

func describeComparables(comps []model.Comparable) string {
	if len(comps) == 0 {
		return "none found"
	}
	var b strings.Builder
	for _, c := range comps {
		fmt.Fprintf(&b, "- %s: $%.0f", c.Address, c.SalePrice)
		if psf := c.EffectivePricePerSqft(); psf > 0 {
			fmt.Fprintf(&b, " ($%.0f/sqft)", psf)
		}
		if c.SoldDate != "" {
			fmt.Fprintf(&b, " sold %s", c.SoldDate)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// idSet hands out project IDs derived from names, unique within a plan.
type idSet map[string]int

func newIDSet() idSet { return idSet{} }

func (s idSet) next(name string) string {
	base := slug(name)
	if base == "" {
		base = "project"
	}
	s[base]++
	if n := s[base]; n > 1 {
		return base + "-" + strconv.Itoa(n)
	}
	return base
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
