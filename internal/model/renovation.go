package model

// Range is a low/medium/high dollar estimate.
type Range struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

// RenovationProject is one candidate improvement for the property.
type RenovationProject struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Description       string       `json:"description,omitempty"`
	EstimatedCost     Range        `json:"estimated_cost"`
	EstimatedValueAdd Range        `json:"estimated_value_add"`
	ROI               float64      `json:"roi"`
	Feasibility       string       `json:"feasibility,omitempty"`
	Timeline          string       `json:"timeline,omitempty"`
	BuyerProfile      string       `json:"buyer_profile,omitempty"`
	RoadmapSteps      []string     `json:"roadmap_steps,omitempty"`
	Risks             []string     `json:"potential_risks,omitempty"`
	AfterRepairValue  float64      `json:"after_repair_value,omitempty"`
	ImageInsights     string       `json:"image_insights,omitempty"`
	Contractors       []Contractor `json:"contractors,omitempty"`
	ContractorSource  string       `json:"contractor_source,omitempty"`
}

// Contractor is a service provider recommended for a project.
type Contractor struct {
	Name        string  `json:"name"`
	Specialty   string  `json:"specialty,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Website     string  `json:"website,omitempty"`
	Address     string  `json:"address,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	ReviewCount int     `json:"review_count,omitempty"`
	Source      string  `json:"source"`
	Verified    bool    `json:"verified"`
}

// FinancialSummary aggregates the renovation plan's economics.
type FinancialSummary struct {
	CurrentValue        float64 `json:"current_value"`
	ValueSource         string  `json:"value_source,omitempty"`
	TotalRenovationCost float64 `json:"total_renovation_cost"`
	TotalValueAdd       float64 `json:"total_value_add"`
	AfterRepairValue    float64 `json:"after_repair_value"`
	ROI                 float64 `json:"roi"`
	AvgPricePsf         float64 `json:"avg_price_psf"`
}

// ValidationSummary is the human-facing narrative of the analysis.
type ValidationSummary struct {
	Verdict          string `json:"verdict"`
	Reasoning        string `json:"reasoning"`
	MarketSummary    string `json:"market_summary,omitempty"`
	InvestmentThesis string `json:"investment_thesis,omitempty"`
	Source           string `json:"source,omitempty"`

	// Filled when the listing photos were reviewed.
	ImageSuggestions []ImageSuggestion `json:"image_suggestions,omitempty"`
	FlaggedProjects  []string          `json:"flagged_projects,omitempty"`
}

// ImageSuggestion is an improvement spotted in the listing photos that the
// plan did not include. It carries no cost estimate.
type ImageSuggestion struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// QuickInsight highlights a top project.
type QuickInsight struct {
	ProjectID      string  `json:"project_id"`
	Name           string  `json:"name"`
	ROI            float64 `json:"roi"`
	PotentialScore float64 `json:"potential_score"`
}
