package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/classify"
	"github.com/sells-group/renovation-report/internal/gateway"
	"github.com/sells-group/renovation-report/internal/metrics"
	"github.com/sells-group/renovation-report/internal/pipeline"
	"github.com/sells-group/renovation-report/internal/resilience"
	"github.com/sells-group/renovation-report/internal/scrape"
	"github.com/sells-group/renovation-report/internal/store"
	anthropicpkg "github.com/sells-group/renovation-report/pkg/anthropic"
	"github.com/sells-group/renovation-report/pkg/firecrawl"
	"github.com/sells-group/renovation-report/pkg/geocode"
	"github.com/sells-group/renovation-report/pkg/google"
	"github.com/sells-group/renovation-report/pkg/jina"
	"github.com/sells-group/renovation-report/pkg/perplexity"
)

const (
	maxComparables        = 6
	comparableConcurrency = 3
)

// pipelineEnv holds the store and the pipeline built on it.
type pipelineEnv struct {
	Store      store.Store
	Pipeline   *pipeline.Pipeline
	Classifier *classify.Classifier
	Breakers   *resilience.Breakers
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline opens the store, builds every gateway from config and
// wires them into a Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	policy, err := pipeline.LoadPolicy(cfg.Pipeline.PolicyPath)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	retry := resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
	circuit := resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)
	circuit.ShouldTrip = gateway.ShouldTrip
	breakers := resilience.NewBreakers(circuit)
	// Clients retry transient errors themselves; guards only add breakers.
	guards := gateway.NewGuards(breakers, resilience.RetryConfig{MaxAttempts: 1})

	jinaOpts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL), jina.WithRetry(retry)}
	if cfg.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	jinaClient := jina.NewClient(cfg.Jina.Key, jinaOpts...)
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	geoOpts := []geocode.Option{geocode.WithRateLimit(cfg.Geocode.RateLimit)}
	if cfg.Google.Key != "" {
		geoOpts = append(geoOpts, geocode.WithGoogleAPIKey(cfg.Google.Key))
	}
	geoClient := geocode.NewClient(geoOpts...)

	hosts := cfg.Pipeline.AllowedHosts

	// Listing fetch chain: direct fetch, then Jina Reader, then Firecrawl.
	scrapers := []scrape.Scraper{
		scrape.NewDirectScraper(cfg.Scrape.UserAgent, time.Duration(cfg.Scrape.TimeoutSecs)*time.Second, hosts),
		scrape.NewJinaAdapter(jinaClient),
	}
	if cfg.Firecrawl.Key != "" {
		fc := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL), firecrawl.WithRetry(retry))
		scrapers = append(scrapers, scrape.NewFirecrawlAdapter(fc))
	} else {
		zap.L().Debug("RENOVATION_FIRECRAWL_KEY not set, firecrawl listing fallback disabled")
	}
	chain := scrape.NewChain(scrapers...)

	deps := pipeline.Deps{
		Store:             st,
		Classifier:        classify.New(hosts, gateway.NewListingDiscovery(jinaClient, hosts), st),
		Listing:           guards.Property(gateway.NewListingGateway(chain)),
		Location:          guards.Location(gateway.NewGeocoder(geoClient)),
		SourceComparables: guards.Comparables(gateway.NewSourceComparables(chain, maxComparables, comparableConcurrency)),
		Analyst:           guards.Analyst(gateway.NewClaudeAnalyst(anthropicClient, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)),
		Fallback:          gateway.NewHeuristicAnalyst(),
		Images:            guards.Images(gateway.NewClaudeImageReviewer(anthropicClient, cfg.Anthropic.Model)),
		Generated:         guards.Contractors(gateway.NewGeneratedContractors(anthropicClient, cfg.Anthropic.Model)),
		Observer:          metrics.PipelineObserver{},
	}

	if cfg.Perplexity.Key != "" {
		pplx := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
			perplexity.WithRetry(retry),
		)
		deps.Research = guards.Property(gateway.NewResearchProperty(pplx, hosts))
		deps.MarketComparables = guards.Comparables(gateway.NewMarketComparables(pplx, maxComparables, hosts))
	} else {
		zap.L().Warn("RENOVATION_PERPLEXITY_KEY not set, address research and market comparables disabled")
	}

	if cfg.Google.Key != "" {
		places := google.NewClient(cfg.Google.Key, google.WithRetry(retry))
		deps.Directory = guards.Contractors(gateway.NewDirectoryContractors(places))
		zap.L().Info("google places contractor directory enabled")
	} else {
		zap.L().Debug("RENOVATION_GOOGLE_KEY not set, contractors come from generated suggestions only")
	}

	p := pipeline.New(deps, pipeline.Options{
		Policy:                policy,
		MaxProjects:           cfg.Pipeline.MaxProjects,
		MaxContractors:        cfg.Pipeline.MaxContractors,
		ContractorConcurrency: cfg.Pipeline.ContractorConcurrency,
	})

	zap.L().Info("pipeline ready",
		zap.Strings("allowed_hosts", hosts),
		zap.Bool("research", deps.Research != nil),
		zap.Bool("directory", deps.Directory != nil),
	)

	return &pipelineEnv{
		Store:      st,
		Pipeline:   p,
		Classifier: deps.Classifier,
		Breakers:   breakers,
	}, nil
}

// requireStore validates mode and opens the store without building
// gateways.
func requireStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}
