package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "laborwatch.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 30, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 3, cfg.Fetch.RetryAttempts)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60, cfg.Breaker.RecoveryMins)
	assert.Equal(t, 4, cfg.Cycle.MaxConcurrentFetches)
	assert.Equal(t, 25, cfg.Cycle.VerifyTopN)
	assert.Equal(t, 50, cfg.Cycle.VerifyRPM)
	assert.Equal(t, 6, cfg.Cycle.RSSCooldownHours)
	assert.Equal(t, 24, cfg.Cycle.AlertDedupeHours)
	assert.InDelta(t, 0.3, cfg.Cycle.RelevanceThreshold, 0.001)
	assert.Equal(t, "sources.yaml", cfg.Sources.ParseConfigPath)
	assert.Equal(t, "patterns.yaml", cfg.Patterns.Path)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/laborwatch
log:
  level: debug
  format: console
cycle:
  verify_top_n: 10
  verify_rpm: 20
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Cycle.VerifyTopN)
	assert.Equal(t, 20, cfg.Cycle.VerifyRPM)
	// Defaults still apply for unset values
	assert.Equal(t, 6, cfg.Cycle.RSSCooldownHours)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("LABORWATCH_STORE_DRIVER", "postgres")
	t.Setenv("LABORWATCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestCycleConfigDurations(t *testing.T) {
	c := CycleConfig{VerifyTimeoutSecs: 30, RSSCooldownHours: 6, AlertDedupeHours: 24}
	assert.Equal(t, "30s", c.VerifyTimeout().String())
	assert.Equal(t, "6h0m0s", c.RSSCooldown().String())
	assert.Equal(t, "24h0m0s", c.AlertDedupeWindow().String())
}

func validDefaults() *Config {
	return &Config{
		Store: StoreConfig{Driver: "sqlite", DatabaseURL: "laborwatch.db"},
		Cycle: CycleConfig{
			MaxConcurrentFetches: 4,
			VerifyRPM:            50,
			RelevanceThreshold:   0.3,
		},
		Server: ServerConfig{Port: 8080},
	}
}

func TestValidateCycle_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("cycle"))
}

func TestValidateCycle_MissingKey(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("cycle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidateCycle_ConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"

	cfg.Cycle.MaxConcurrentFetches = 0
	err := cfg.Validate("cycle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_fetches must be between 1 and 32")

	cfg.Cycle.MaxConcurrentFetches = 33
	assert.Error(t, cfg.Validate("cycle"))

	cfg.Cycle.MaxConcurrentFetches = 32
	assert.NoError(t, cfg.Validate("cycle"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateMigrate_BadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
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
