package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/laborwatch/compliance-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Breaker   BreakerConfig   `yaml:"breaker" mapstructure:"breaker"`
	Cycle     CycleConfig     `yaml:"cycle" mapstructure:"cycle"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Patterns  PatternsConfig  `yaml:"patterns" mapstructure:"patterns"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings for the verification oracle.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// FetchConfig configures the shared HTTP fetcher.
type FetchConfig struct {
	UserAgent     string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// BreakerConfig configures the per-source circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryMins     int `yaml:"recovery_mins" mapstructure:"recovery_mins"`
}

// CycleConfig configures one monitoring pass.
type CycleConfig struct {
	MaxConcurrentFetches int     `yaml:"max_concurrent_fetches" mapstructure:"max_concurrent_fetches"`
	VerifyTopN           int     `yaml:"verify_top_n" mapstructure:"verify_top_n"`
	VerifyTimeoutSecs    int     `yaml:"verify_timeout_secs" mapstructure:"verify_timeout_secs"`
	VerifyRPM            int     `yaml:"verify_rpm" mapstructure:"verify_rpm"`
	RSSCooldownHours     int     `yaml:"rss_cooldown_hours" mapstructure:"rss_cooldown_hours"`
	AlertDedupeHours     int     `yaml:"alert_dedupe_hours" mapstructure:"alert_dedupe_hours"`
	RelevanceThreshold   float64 `yaml:"relevance_threshold" mapstructure:"relevance_threshold"`
}

// SourcesConfig points at the structured-source parse config file.
type SourcesConfig struct {
	ParseConfigPath string `yaml:"parse_config_path" mapstructure:"parse_config_path"`
}

// PatternsConfig points at the calendar pattern definitions file.
type PatternsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// VerifyTimeout returns the per-call verification timeout as a duration.
func (c CycleConfig) VerifyTimeout() time.Duration {
	return time.Duration(c.VerifyTimeoutSecs) * time.Second
}

// RSSCooldown returns the RSS cooldown as a duration.
func (c CycleConfig) RSSCooldown() time.Duration {
	return time.Duration(c.RSSCooldownHours) * time.Hour
}

// AlertDedupeWindow returns the alert suppression window as a duration.
func (c CycleConfig) AlertDedupeWindow() time.Duration {
	return time.Duration(c.AlertDedupeHours) * time.Hour
}

// Validate checks the fields the given command mode depends on. Modes:
// "cycle" needs a store and the verification oracle; "serve" needs a
// listenable port; "migrate" needs only a store.
func (c *Config) Validate(mode string) error {
	var problems []string

	requireStore := func() {
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
	}

	switch mode {
	case "cycle":
		requireStore()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required (LABORWATCH_ANTHROPIC_KEY)")
		}
		if c.Cycle.MaxConcurrentFetches < 1 || c.Cycle.MaxConcurrentFetches > 32 {
			problems = append(problems, "cycle.max_concurrent_fetches must be between 1 and 32")
		}
		if c.Cycle.VerifyRPM < 1 {
			problems = append(problems, "cycle.verify_rpm must be > 0")
		}
		if c.Cycle.RelevanceThreshold < 0 || c.Cycle.RelevanceThreshold > 1 {
			problems = append(problems, "cycle.relevance_threshold must be in [0, 1]")
		}
	case "serve":
		requireStore()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "migrate":
		requireStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LABORWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "laborwatch.db")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("fetch.user_agent", "compliance-cli/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.retry_attempts", 3)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_mins", 60)
	v.SetDefault("cycle.max_concurrent_fetches", 4)
	v.SetDefault("cycle.verify_top_n", 25)
	v.SetDefault("cycle.verify_timeout_secs", 30)
	v.SetDefault("cycle.verify_rpm", 50)
	v.SetDefault("cycle.rss_cooldown_hours", 6)
	v.SetDefault("cycle.alert_dedupe_hours", 24)
	v.SetDefault("cycle.relevance_threshold", 0.3)
	v.SetDefault("sources.parse_config_path", "sources.yaml")
	v.SetDefault("patterns.path", "patterns.yaml")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
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
