package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/pkg/anthropic"
)

const (
	maxReviewImages      = 5
	maxImageSuggestions  = 5
	imageReviewMaxTokens = 4096
)

const imageReviewPrompt = `These are the listing photos of %s.

Renovation projects proposed for it:
%s
For each project, check against the photos whether it is structurally feasible, note what the photos show that matters for it, and flag it as unrealistic when the photos rule it out. Then list improvements visible in the photos that no project covers.

Return:
{"projects": [{"id": string, "feasibility": "high"|"medium"|"low", "image_insights": string, "unrealistic": boolean}],
 "additional_suggestions": [{"name": string, "description": string, "reason": string}]}`

type imageReviewAnswer struct {
	Projects []struct {
		ID            string `json:"id"`
		Feasibility   string `json:"feasibility"`
		ImageInsights string `json:"image_insights"`
		Unrealistic   bool   `json:"unrealistic"`
	} `json:"projects"`
	Suggestions []model.ImageSuggestion `json:"additional_suggestions"`
}

// ClaudeImageReviewer checks a renovation plan against the listing photos
// with Claude's vision input.
type ClaudeImageReviewer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeImageReviewer creates the photo reviewer.
func NewClaudeImageReviewer(client anthropic.Client, model string) *ClaudeImageReviewer {
	return &ClaudeImageReviewer{client: client, model: model, maxTokens: imageReviewMaxTokens}
}

// Name implements ImageReviewer.
func (r *ClaudeImageReviewer) Name() string { return SourceImageReview }

// Review implements ImageReviewer. Verdicts for unknown project IDs are
// discarded.
func (r *ClaudeImageReviewer) Review(ctx context.Context, req ImageReviewRequest) (*ImageReview, error) {
	images := reviewImages(req.Images)
	if len(images) == 0 {
		return nil, failure.Unavailable(r.Name(), eris.New("image review: no usable image URLs"))
	}
	if len(req.Projects) == 0 {
		return nil, failure.New(failure.InternalInconsistency, eris.New("image review: no projects"))
	}

	subject := "the property"
	if req.Property != nil && req.Property.Address != "" {
		subject = req.Property.Address
	}

	temp := 0.2
	resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		System:    analystSystemPrompt,
		Messages: []anthropic.Message{{
			Role:      "user",
			Content:   fmt.Sprintf(imageReviewPrompt, subject, describeProjects(req.Projects)),
			ImageURLs: images,
		}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, failure.Unavailable(r.Name(), err)
	}
	resp.Usage.LogCost(r.model, "image_review")

	var ans imageReviewAnswer
	if err := decodeJSON(resp.Text(), &ans); err != nil {
		return nil, failure.Unavailable(r.Name(), err)
	}

	known := make(map[string]bool, len(req.Projects))
	for _, p := range req.Projects {
		known[p.ID] = true
	}
	out := &ImageReview{}
	for _, p := range ans.Projects {
		if !known[p.ID] {
			continue
		}
		out.Projects = append(out.Projects, ProjectReview{
			ID:          p.ID,
			Feasibility: strings.ToLower(strings.TrimSpace(p.Feasibility)),
			Insights:    strings.TrimSpace(p.ImageInsights),
			Unrealistic: p.Unrealistic,
		})
	}
	for _, s := range ans.Suggestions {
		if strings.TrimSpace(s.Name) == "" {
			continue
		}
		s.Name = strings.TrimSpace(s.Name)
		out.Suggestions = append(out.Suggestions, s)
		if len(out.Suggestions) == maxImageSuggestions {
			break
		}
	}

	zap.L().Debug("gateway: image review parsed",
		zap.Int("images", len(images)),
		zap.Int("reviewed", len(out.Projects)),
		zap.Int("suggestions", len(out.Suggestions)),
	)
	return out, nil
}

// ApplyImageReview returns a copy of a with the photo verdicts folded in.
// Unrealistic projects are dropped and named in the validation summary,
// unless that would leave no projects at all.
func ApplyImageReview(a *Analysis, review *ImageReview) *Analysis {
	if a == nil || review == nil {
		return a
	}
	byID := make(map[string]ProjectReview, len(review.Projects))
	for _, pr := range review.Projects {
		byID[pr.ID] = pr
	}

	all := make([]model.RenovationProject, 0, len(a.Projects))
	kept := make([]model.RenovationProject, 0, len(a.Projects))
	var flagged []string
	for _, p := range a.Projects {
		pr, ok := byID[p.ID]
		if ok {
			if pr.Feasibility != "" {
				p.Feasibility = pr.Feasibility
			}
			p.ImageInsights = pr.Insights
		}
		all = append(all, p)
		if ok && pr.Unrealistic {
			flagged = append(flagged, p.Name)
			continue
		}
		kept = append(kept, p)
	}

	out := &Analysis{Projects: kept, Validation: a.Validation}
	if len(kept) == 0 {
		out.Projects = all
	}
	out.Validation.FlaggedProjects = flagged
	out.Validation.ImageSuggestions = review.Suggestions
	return out
}

func reviewImages(images []string) []string {
	out := make([]string, 0, maxReviewImages)
	seen := map[string]bool{}
	for _, img := range images {
		u, err := url.Parse(strings.TrimSpace(img))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		s := u.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == maxReviewImages {
			break
		}
	}
	return out
}

func describeProjects(projects []model.RenovationProject) string {
	var b strings.Builder
	for _, p := range projects {
		fmt.Fprintf(&b, "- id=%s: %s ($%.0f)", p.ID, p.Name, p.EstimatedCost.Medium)
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
