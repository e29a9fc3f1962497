package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/gateway"
)

// StageDiscovery is the policy key for the address-to-URL lookup that
// runs while the input is classified.
const StageDiscovery = "discovery"

// Policy tunes stage timeouts and switches individual sources off.
type Policy struct {
	Stages map[string]StagePolicy `yaml:"stages"`
}

// StagePolicy configures one stage. TimeoutSecs applies to every source
// that does not set its own.
type StagePolicy struct {
	TimeoutSecs int                     `yaml:"timeout_secs"`
	Sources     map[string]SourcePolicy `yaml:"sources"`
}

// SourcePolicy configures one gateway within a stage.
type SourcePolicy struct {
	TimeoutSecs int  `yaml:"timeout_secs"`
	Disabled    bool `yaml:"disabled"`
}

// DefaultPolicy returns the built-in timeouts. Structured lookups get
// seconds; research-style calls get minutes.
func DefaultPolicy() Policy {
	return Policy{Stages: map[string]StagePolicy{
		StageDiscovery: {
			TimeoutSecs: 30,
		},
		failure.StageProperty: {TimeoutSecs: 60, Sources: map[string]SourcePolicy{
			gateway.SourceListingScrape: {TimeoutSecs: 90},
			gateway.SourceAIResearch:    {TimeoutSecs: 180},
		}},
		failure.StageLocation: {
			TimeoutSecs: 20,
		},
		failure.StageComparables: {TimeoutSecs: 90, Sources: map[string]SourcePolicy{
			gateway.SourceMarketSearch:       {TimeoutSecs: 120},
			gateway.SourceListingComparables: {TimeoutSecs: 90},
		}},
		failure.StageSynthesis: {TimeoutSecs: 180, Sources: map[string]SourcePolicy{
			gateway.SourceHeuristic: {TimeoutSecs: 5},
		}},
		failure.StageContractors: {TimeoutSecs: 30, Sources: map[string]SourcePolicy{
			gateway.SourcePlacesDirectory: {TimeoutSecs: 20},
			gateway.SourceAIGenerated:     {TimeoutSecs: 60},
		}},
	}}
}

// LoadPolicy reads a policy file and layers it over the defaults. A
// missing file yields the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, eris.Wrapf(err, "pipeline: read policy %s", path)
	}

	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return p, eris.Wrap(err, "pipeline: parse policy")
	}
	for stage, sp := range file.Stages {
		if sp.TimeoutSecs < 0 {
			return p, eris.Errorf("pipeline: policy %s: timeout_secs must be >= 0", stage)
		}
		base := p.Stages[stage]
		if sp.TimeoutSecs > 0 {
			base.TimeoutSecs = sp.TimeoutSecs
		}
		if len(sp.Sources) > 0 && base.Sources == nil {
			base.Sources = make(map[string]SourcePolicy, len(sp.Sources))
		}
		for name, src := range sp.Sources {
			merged := base.Sources[name]
			if src.TimeoutSecs > 0 {
				merged.TimeoutSecs = src.TimeoutSecs
			}
			merged.Disabled = src.Disabled
			base.Sources[name] = merged
		}
		p.Stages[stage] = base
	}
	return p, nil
}

// Timeout returns the per-call timeout for source within stage, or zero
// when none is configured.
func (p Policy) Timeout(stage, source string) time.Duration {
	sp := p.Stages[stage]
	if src, ok := sp.Sources[source]; ok && src.TimeoutSecs > 0 {
		return time.Duration(src.TimeoutSecs) * time.Second
	}
	return time.Duration(sp.TimeoutSecs) * time.Second
}

// Enabled reports whether source may run within stage.
func (p Policy) Enabled(stage, source string) bool {
	return !p.Stages[stage].Sources[source].Disabled
}
