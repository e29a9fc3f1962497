package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/pkg/anthropic"
	"github.com/sells-group/renovation-report/pkg/google"
)

// Contractor list labels. Generated contractors were suggested by a model
// rather than found in a directory.
const (
	ContractorSourceDirectory = "directory"
	ContractorSourceGenerated = "generated"
)

// DirectoryContractors looks contractors up in Google Places.
type DirectoryContractors struct {
	places google.Client
}

// NewDirectoryContractors creates the directory contractor gateway.
func NewDirectoryContractors(places google.Client) *DirectoryContractors {
	return &DirectoryContractors{places: places}
}

// Name implements ContractorGateway.
func (g *DirectoryContractors) Name() string { return SourcePlacesDirectory }

// Find implements ContractorGateway. It needs a resolved location; the
// directory is never searched by free text alone.
func (g *DirectoryContractors) Find(ctx context.Context, req ContractorRequest) ([]model.Contractor, error) {
	if !req.Location.Resolved() {
		return nil, failure.Unavailable(g.Name(), eris.New("directory: location unresolved"))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	query := fmt.Sprintf("%s contractor near %s", specialtyOf(req.Project), req.Location.CityState())
	if req.Location.Zip != "" {
		query += " " + req.Location.Zip
	}
	resp, err := g.places.TextSearch(ctx, google.TextSearchRequest{
		TextQuery:  query,
		PageSize:   limit * 2,
		RegionCode: "us",
	})
	if err != nil {
		return nil, failure.Unavailable(g.Name(), err)
	}

	out := make([]model.Contractor, 0, limit)
	for _, p := range resp.Places {
		if !p.Operational() || strings.TrimSpace(p.DisplayName.Text) == "" {
			continue
		}
		out = append(out, model.Contractor{
			Name:        p.DisplayName.Text,
			Specialty:   specialtyOf(req.Project),
			Phone:       p.NationalPhoneNumber,
			Website:     p.WebsiteURI,
			Address:     p.FormattedAddress,
			Rating:      p.Rating,
			ReviewCount: p.UserRatingCount,
			Source:      g.Name(),
			Verified:    true,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// specialtyOf maps a project name to the trade a directory lists it under.
func specialtyOf(p model.RenovationProject) string {
	name := strings.ToLower(p.Name)
	switch {
	case strings.Contains(name, "kitchen"):
		return "kitchen remodeling"
	case strings.Contains(name, "bath"):
		return "bathroom remodeling"
	case strings.Contains(name, "roof"):
		return "roofing"
	case strings.Contains(name, "solar"):
		return "solar installation"
	case strings.Contains(name, "landscap"), strings.Contains(name, "curb"), strings.Contains(name, "yard"):
		return "landscaping"
	case strings.Contains(name, "floor"):
		return "flooring"
	case strings.Contains(name, "paint"):
		return "painting"
	case strings.Contains(name, "adu"), strings.Contains(name, "addition"), strings.Contains(name, "garage"):
		return "general contractor"
	case strings.Contains(name, "hvac"), strings.Contains(name, "heating"), strings.Contains(name, "cooling"):
		return "hvac"
	case strings.Contains(name, "window"):
		return "window installation"
	}
	return "general contractor"
}

const generatedContractorsPrompt = `Suggest up to %d kinds of local contractor a homeowner in %s should contact for this project: %s (%s).
Answer with a JSON array only. Each element: {"name": string, "specialty": string, "website": string|null}.
Use business types or well-known regional firms. Do not invent phone numbers or addresses.`

type generatedContractor struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Website   string `json:"website"`
}

// GeneratedContractors asks Claude for contractor suggestions keyed by
// city and state text. Results are always marked unverified.
type GeneratedContractors struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewGeneratedContractors creates the generated contractor gateway.
func NewGeneratedContractors(client anthropic.Client, model string) *GeneratedContractors {
	return &GeneratedContractors{client: client, model: model, maxTokens: 1024}
}

// Name implements ContractorGateway.
func (g *GeneratedContractors) Name() string { return SourceAIGenerated }

// Find implements ContractorGateway.
func (g *GeneratedContractors) Find(ctx context.Context, req ContractorRequest) ([]model.Contractor, error) {
	area := strings.TrimSpace(req.Area)
	if area == "" {
		area = req.Location.CityState()
	}
	if area == "" {
		return nil, failure.Unavailable(g.Name(), eris.New("generated: no area to search"))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 3
	}

	temp := 0.2
	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf(generatedContractorsPrompt, limit, area, req.Project.Name, specialtyOf(req.Project)),
		}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, failure.Unavailable(g.Name(), err)
	}
	resp.Usage.LogCost(g.model, "contractors")

	var suggestions []generatedContractor
	if err := decodeJSON(resp.Text(), &suggestions); err != nil {
		return nil, failure.Unavailable(g.Name(), err)
	}

	out := make([]model.Contractor, 0, limit)
	for _, s := range suggestions {
		if strings.TrimSpace(s.Name) == "" {
			continue
		}
		specialty := s.Specialty
		if specialty == "" {
			specialty = specialtyOf(req.Project)
		}
		out = append(out, model.Contractor{
			Name:      strings.TrimSpace(s.Name),
			Specialty: specialty,
			Website:   s.Website,
			Source:    ContractorSourceGenerated,
			Verified:  false,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
