package model

import "time"

// InputKind identifies how a report was submitted.
type InputKind string

const (
	InputKindURL     InputKind = "url"
	InputKindAddress InputKind = "address"
)

// Valid reports whether k is a known input kind.
func (k InputKind) Valid() bool {
	return k == InputKindURL || k == InputKindAddress
}

// ReportStatus is the lifecycle state of a report.
type ReportStatus string

const (
	StatusPending    ReportStatus = "pending"
	StatusProcessing ReportStatus = "processing"
	StatusCompleted  ReportStatus = "completed"
	StatusFailed     ReportStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s ReportStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the lifecycle may move from one status to
// another. processing -> processing is allowed so a redelivered job can
// resume. pending -> failed covers reports whose job could not be handed off.
func CanTransition(from, to ReportStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// ReportInput is what a caller submits to create a report. Exactly one of
// SourceURL and SourceAddress is set.
type ReportInput struct {
	InputKind     InputKind `json:"input_kind"`
	SourceURL     string    `json:"source_url,omitempty"`
	SourceAddress string    `json:"source_address,omitempty"`
}

// Text returns the raw submitted reference.
func (in ReportInput) Text() string {
	if in.InputKind == InputKindURL {
		return in.SourceURL
	}
	return in.SourceAddress
}

// Report is one pipeline run and its accumulated output.
type Report struct {
	ID            string       `json:"id"`
	InputKind     InputKind    `json:"input_kind"`
	SourceURL     string       `json:"source_url,omitempty"`
	SourceAddress string       `json:"source_address,omitempty"`
	Status        ReportStatus `json:"status"`
	FailureReason string       `json:"failure_reason,omitempty"`
	DataSourceTag string       `json:"data_source_tag,omitempty"`
	Progress      string       `json:"progress,omitempty"`

	Property    *PropertyFacts      `json:"property,omitempty"`
	Location    *Location           `json:"location,omitempty"`
	Comparables []Comparable        `json:"comparables"`
	Projects    []RenovationProject `json:"projects"`
	Financial   *FinancialSummary   `json:"financial,omitempty"`
	Validation  *ValidationSummary  `json:"validation,omitempty"`
	Insights    []QuickInsight      `json:"insights,omitempty"`
	Stages      []StageResult       `json:"stages,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Input returns the submission that created the report.
func (r *Report) Input() ReportInput {
	in := ReportInput{InputKind: r.InputKind}
	if r.InputKind == InputKindURL {
		in.SourceURL = r.SourceURL
	} else {
		in.SourceAddress = r.SourceAddress
	}
	return in
}

// Transition describes a lifecycle change applied by the store.
type Transition struct {
	Status        ReportStatus
	FailureReason string
	DataSourceTag string
}

// StageOutcome summarizes how a stage ended.
type StageOutcome string

const (
	OutcomeOK       StageOutcome = "ok"
	OutcomeDegraded StageOutcome = "degraded"
	OutcomeFailed   StageOutcome = "failed"
)

// StageResult is the provenance entry for one stage execution.
type StageResult struct {
	Key        string       `json:"key"`
	Stage      string       `json:"stage"`
	Source     string       `json:"source,omitempty"`
	Outcome    StageOutcome `json:"outcome"`
	ErrorKind  string       `json:"error_kind,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}
