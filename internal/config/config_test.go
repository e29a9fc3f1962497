package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "renovation.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "https://s.jina.ai", cfg.Jina.SearchBaseURL)
	assert.Equal(t, "https://api.firecrawl.dev/v2", cfg.Firecrawl.BaseURL)
	assert.Equal(t, "sonar-pro", cfg.Perplexity.Model)
	assert.Equal(t, int64(8192), cfg.Anthropic.MaxTokens)
	assert.Equal(t, 7, cfg.Pipeline.FreshnessDays)
	assert.Equal(t, 5, cfg.Pipeline.MaxProjects)
	assert.Equal(t, 3, cfg.Pipeline.ContractorConcurrency)
	assert.Contains(t, cfg.Pipeline.AllowedHosts, "zillow.com")
	assert.Equal(t, "local", cfg.Dispatch.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Dispatch.JobTimeout())
	assert.Equal(t, 60, cfg.Dispatch.StaleAfterMins)
	assert.Equal(t, 5, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, "renovation-reports", cfg.Temporal.TaskQueue)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/renovation
log:
  level: debug
  format: console
pipeline:
  freshness_days: 30
  allowed_hosts: [zillow.com]
dispatch:
  driver: redis
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 30, cfg.Pipeline.FreshnessDays)
	assert.Equal(t, []string{"zillow.com"}, cfg.Pipeline.AllowedHosts)
	assert.Equal(t, "redis", cfg.Dispatch.Driver)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Pipeline.MaxProjects)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("RENOVATION_STORE_DRIVER", "postgres")
	t.Setenv("RENOVATION_LOG_LEVEL", "warn")
	t.Setenv("RENOVATION_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes validation in every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "renovation.db"
	cfg.Server.Port = 8080
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Pipeline.MaxProjects = 5
	cfg.Pipeline.ContractorConcurrency = 3
	cfg.Dispatch.Driver = "local"
	cfg.Dispatch.Workers = 4
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"serve", "worker", "run", "store"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Anthropic.Key = ""

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidate_StoreModeSkipsPipeline(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidate_UnsupportedDrivers(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Dispatch.Driver = "kafka"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql"`)
	assert.Contains(t, err.Error(), `dispatch.driver "kafka"`)
}

func TestValidate_RedisServeNeedsNoAnalyst(t *testing.T) {
	cfg := validDefaults()
	cfg.Dispatch.Driver = "redis"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Anthropic.Key = ""

	assert.NoError(t, cfg.Validate("serve"), "the API process only enqueues")

	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Redis.Addr = ""
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.addr is required")
}

func TestValidate_Bounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")

	cfg = validDefaults()
	cfg.Pipeline.MaxProjects = 21
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.max_projects must be between 1 and 20")

	cfg = validDefaults()
	cfg.Dispatch.JobTimeoutMins = 15
	cfg.Dispatch.StaleAfterMins = 10
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch.stale_after_mins")

	cfg = validDefaults()
	cfg.Pipeline.FreshnessDays = -1
	err = cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.freshness_days")
}

func TestValidate_UnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
