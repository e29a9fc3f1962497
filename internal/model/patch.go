package model

// Patch is a partial update of a report's accumulated output. Nil fields
// are left untouched, so a patch can never null out an earlier write.
// An empty but non-nil slice is a real value (for example "no
// comparables found").
//
// ReplaceProjects makes Projects the whole plan instead of a per-project
// update, dropping projects an earlier attempt left behind.
type Patch struct {
	DiscoveredURL string
	Progress      string

	Property    *PropertyFacts
	Location    *Location
	Comparables []Comparable
	Projects    []RenovationProject
	Financial   *FinancialSummary
	Validation  *ValidationSummary
	Insights    []QuickInsight
	Stages      []StageResult

	ReplaceProjects bool
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.DiscoveredURL == "" && p.Progress == "" &&
		p.Property == nil && p.Location == nil && p.Comparables == nil &&
		p.Projects == nil && p.Financial == nil && p.Validation == nil &&
		p.Insights == nil && p.Stages == nil
}

// Apply merges p into r. Projects merge by ID unless ReplaceProjects is
// set, and stage results merge by key; a merged project update that
// carries no contractors keeps the ones already recorded. The source URL is only back-filled when none is set.
func (r *Report) Apply(p Patch) {
	if p.DiscoveredURL != "" && r.SourceURL == "" {
		r.SourceURL = p.DiscoveredURL
	}
	if p.Progress != "" {
		r.Progress = p.Progress
	}
	if p.Property != nil {
		r.Property = p.Property
	}
	if p.Location != nil {
		r.Location = p.Location
	}
	if p.Comparables != nil {
		r.Comparables = p.Comparables
	}
	if p.Projects != nil {
		if p.ReplaceProjects {
			r.Projects = append([]RenovationProject(nil), p.Projects...)
		} else {
			r.Projects = mergeProjects(r.Projects, p.Projects)
		}
	}
	if p.Financial != nil {
		r.Financial = p.Financial
	}
	if p.Validation != nil {
		r.Validation = p.Validation
	}
	if p.Insights != nil {
		r.Insights = p.Insights
	}
	if p.Stages != nil {
		r.Stages = mergeStages(r.Stages, p.Stages)
	}
}

func mergeProjects(existing, incoming []RenovationProject) []RenovationProject {
	out := make([]RenovationProject, len(existing), len(existing)+len(incoming))
	copy(out, existing)

	idx := make(map[string]int, len(out))
	for i, pr := range out {
		idx[pr.ID] = i
	}
	for _, pr := range incoming {
		i, ok := idx[pr.ID]
		if !ok {
			idx[pr.ID] = len(out)
			out = append(out, pr)
			continue
		}
		if pr.Contractors == nil {
			pr.Contractors = out[i].Contractors
			pr.ContractorSource = out[i].ContractorSource
		}
		out[i] = pr
	}
	return out
}

func mergeStages(existing, incoming []StageResult) []StageResult {
	out := make([]StageResult, len(existing), len(existing)+len(incoming))
	copy(out, existing)

	idx := make(map[string]int, len(out))
	for i, s := range out {
		idx[s.Key] = i
	}
	for _, s := range incoming {
		if i, ok := idx[s.Key]; ok {
			out[i] = s
			continue
		}
		idx[s.Key] = len(out)
		out = append(out, s)
	}
	return out
}
