package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/renovation-report/internal/model"
)

var (
	// ErrNotFound is returned when a report id does not exist.
	ErrNotFound = eris.New("report not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the report's current status.
	ErrInvalidTransition = eris.New("invalid status transition")
)

// ReportFilter specifies criteria for listing reports.
type ReportFilter struct {
	Status model.ReportStatus `json:"status,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// Store persists report records. Every write is durable before the call
// returns, so a reader never observes a state the pipeline has moved past.
type Store interface {
	CreateReport(ctx context.Context, input model.ReportInput) (*model.Report, error)
	GetReport(ctx context.Context, id string) (*model.Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error)

	// UpdateStatus applies a lifecycle transition.
	UpdateStatus(ctx context.Context, id string, t model.Transition) error
	// UpdateFields merges a partial update into the report. Concurrent
	// patches to the same report are serialized.
	UpdateFields(ctx context.Context, id string, p model.Patch) error

	// FindFresh returns the most recent completed report whose source or
	// address key equals key and which completed at or after since. It
	// returns nil when there is none.
	FindFresh(ctx context.Context, key string, since time.Time) (*model.Report, error)

	Migrate(ctx context.Context) error
	Close() error
}

// reportOutput is the JSON document holding a report's accumulated output.
// Comparables is not omitempty: null means "not looked up yet" and [] means
// "none found".
type reportOutput struct {
	Property    *model.PropertyFacts      `json:"property,omitempty"`
	Location    *model.Location           `json:"location,omitempty"`
	Comparables []model.Comparable        `json:"comparables"`
	Projects    []model.RenovationProject `json:"projects,omitempty"`
	Financial   *model.FinancialSummary   `json:"financial,omitempty"`
	Validation  *model.ValidationSummary  `json:"validation,omitempty"`
	Insights    []model.QuickInsight      `json:"insights,omitempty"`
	Stages      []model.StageResult       `json:"stages,omitempty"`
}

func encodeOutput(r *model.Report) ([]byte, error) {
	out := reportOutput{
		Property:    r.Property,
		Location:    r.Location,
		Comparables: r.Comparables,
		Projects:    r.Projects,
		Financial:   r.Financial,
		Validation:  r.Validation,
		Insights:    r.Insights,
		Stages:      r.Stages,
	}
	data, err := json.Marshal(out)
	return data, eris.Wrap(err, "marshal report output")
}

func decodeOutput(data []byte, r *model.Report) error {
	if len(data) == 0 {
		return nil
	}
	var out reportOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return eris.Wrap(err, "unmarshal report output")
	}
	r.Property = out.Property
	r.Location = out.Location
	r.Comparables = out.Comparables
	r.Projects = out.Projects
	r.Financial = out.Financial
	r.Validation = out.Validation
	r.Insights = out.Insights
	r.Stages = out.Stages
	return nil
}

// newReport builds the initial pending record for input.
func newReport(id string, input model.ReportInput, now time.Time) *model.Report {
	return &model.Report{
		ID:            id,
		InputKind:     input.InputKind,
		SourceURL:     input.SourceURL,
		SourceAddress: input.SourceAddress,
		Status:        model.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// sourceKey is the freshness key of what the caller submitted.
func sourceKey(input model.ReportInput) string {
	return model.NormalizeKey(input.Text())
}

// addressKey is the freshness key of the property's street address. It
// starts as the submitted address and is refined once facts are known.
func addressKey(r *model.Report) string {
	if r.Property != nil && r.Property.Address != "" {
		return model.NormalizeKey(r.Property.Address)
	}
	if r.InputKind == model.InputKindAddress {
		return model.NormalizeKey(r.SourceAddress)
	}
	return ""
}

// applyTransition validates t against r's current status and applies it.
func applyTransition(r *model.Report, t model.Transition, now time.Time) error {
	if !model.CanTransition(r.Status, t.Status) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", r.Status, t.Status)
	}
	switch t.Status {
	case model.StatusCompleted:
		if t.DataSourceTag == "" {
			return eris.New("completed report requires a data source tag")
		}
		r.DataSourceTag = t.DataSourceTag
		r.FailureReason = ""
		r.CompletedAt = &now
	case model.StatusFailed:
		if t.FailureReason == "" {
			return eris.New("failed report requires a failure reason")
		}
		r.FailureReason = t.FailureReason
	}
	r.Status = t.Status
	r.UpdatedAt = now
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
