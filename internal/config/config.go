package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Dispatch   DispatchConfig   `yaml:"dispatch" mapstructure:"dispatch"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the submission API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// JinaConfig holds Jina AI Reader and Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// FirecrawlConfig holds Firecrawl API settings (listing fetch fallback).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GoogleConfig holds Google Maps Platform settings.
type GoogleConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// GeocodeConfig configures the geocoder.
type GeocodeConfig struct {
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ScrapeConfig configures direct listing fetches.
type ScrapeConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PipelineConfig configures report generation.
type PipelineConfig struct {
	PolicyPath            string   `yaml:"policy_path" mapstructure:"policy_path"`
	FreshnessDays         int      `yaml:"freshness_days" mapstructure:"freshness_days"`
	MaxProjects           int      `yaml:"max_projects" mapstructure:"max_projects"`
	MaxContractors        int      `yaml:"max_contractors" mapstructure:"max_contractors"`
	ContractorConcurrency int      `yaml:"contractor_concurrency" mapstructure:"contractor_concurrency"`
	AllowedHosts          []string `yaml:"allowed_hosts" mapstructure:"allowed_hosts"`
}

// DispatchConfig selects how accepted reports reach a worker.
type DispatchConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	Workers   int    `yaml:"workers" mapstructure:"workers"`
	QueueSize int    `yaml:"queue_size" mapstructure:"queue_size"`
	// JobTimeoutMins bounds a single report run.
	JobTimeoutMins int `yaml:"job_timeout_mins" mapstructure:"job_timeout_mins"`
	// StaleAfterMins is how long a processing report may go without a
	// write before the sweeper fails it. 0 disables the sweeper.
	StaleAfterMins    int `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	SweepIntervalSecs int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
	// MaxAttempts caps Redis redeliveries of a job whose run errors.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// JobTimeout returns the per-report run timeout.
func (d DispatchConfig) JobTimeout() time.Duration {
	return time.Duration(d.JobTimeoutMins) * time.Minute
}

// RedisConfig configures the Redis job queue.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Queue    string `yaml:"queue" mapstructure:"queue"`
}

// TemporalConfig configures the Temporal dispatcher and worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// RetryConfig tunes per-call retries of gateway requests.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig tunes per-gateway circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Validate checks the keys the given command mode cannot run without.
// Modes: "serve", "worker", "run", "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	needsPipeline := false
	switch mode {
	case "store":
	case "run":
		needsPipeline = true
	case "serve", "worker":
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Dispatch.StaleAfterMins > 0 && c.Dispatch.StaleAfterMins <= c.Dispatch.JobTimeoutMins {
			errs = append(errs, "dispatch.stale_after_mins must exceed dispatch.job_timeout_mins")
		}
		switch c.Dispatch.Driver {
		case "local":
			needsPipeline = true
			if c.Dispatch.Workers < 1 || c.Dispatch.Workers > 64 {
				errs = append(errs, "dispatch.workers must be between 1 and 64")
			}
		case "redis":
			needsPipeline = mode == "worker"
			if c.Redis.Addr == "" {
				errs = append(errs, "redis.addr is required")
			}
		case "temporal":
			needsPipeline = mode == "worker"
			if c.Temporal.HostPort == "" {
				errs = append(errs, "temporal.host_port is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("dispatch.driver %q is not supported", c.Dispatch.Driver))
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needsPipeline {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Pipeline.MaxProjects < 1 || c.Pipeline.MaxProjects > 20 {
			errs = append(errs, "pipeline.max_projects must be between 1 and 20")
		}
		if c.Pipeline.ContractorConcurrency < 1 || c.Pipeline.ContractorConcurrency > 20 {
			errs = append(errs, "pipeline.contractor_concurrency must be between 1 and 20")
		}
	}
	if c.Pipeline.FreshnessDays < 0 {
		errs = append(errs, "pipeline.freshness_days must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RENOVATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets default to empty so AutomaticEnv can bind them on Unmarshal.
	for _, key := range []string{"jina.key", "firecrawl.key", "perplexity.key", "anthropic.key", "google.key", "redis.password"} {
		v.SetDefault(key, "")
	}

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "renovation.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("geocode.rate_limit", 10.0)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; renovation-report/1.0)")
	v.SetDefault("scrape.timeout_secs", 20)
	v.SetDefault("pipeline.policy_path", "policy.yaml")
	v.SetDefault("pipeline.freshness_days", 7)
	v.SetDefault("pipeline.max_projects", 5)
	v.SetDefault("pipeline.max_contractors", 5)
	v.SetDefault("pipeline.contractor_concurrency", 3)
	v.SetDefault("pipeline.allowed_hosts", []string{"zillow.com", "redfin.com", "realtor.com", "trulia.com", "homes.com"})
	v.SetDefault("dispatch.driver", "local")
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 100)
	v.SetDefault("dispatch.job_timeout_mins", 15)
	v.SetDefault("dispatch.stale_after_mins", 60)
	v.SetDefault("dispatch.sweep_interval_secs", 300)
	v.SetDefault("dispatch.max_attempts", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.queue", "renovation:reports")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "renovation-reports")
	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
