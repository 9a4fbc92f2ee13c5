package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/laborwatch/compliance-cli/internal/audit"
	"github.com/laborwatch/compliance-cli/internal/cycle"
	"github.com/laborwatch/compliance-cli/internal/fetcher"
	"github.com/laborwatch/compliance-cli/internal/pattern"
	"github.com/laborwatch/compliance-cli/internal/relevance"
	"github.com/laborwatch/compliance-cli/internal/resilience"
	"github.com/laborwatch/compliance-cli/internal/store"
	"github.com/laborwatch/compliance-cli/pkg/verifier"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "laborwatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// monitorEnv holds everything one monitoring cycle needs, built once per
// command invocation.
type monitorEnv struct {
	Store store.Store
	Cycle *cycle.Cycle
}

func (e *monitorEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

func initMonitor(ctx context.Context) (*monitorEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	configs, err := fetcher.LoadParseConfigs(cfg.Sources.ParseConfigPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	patterns, err := pattern.LoadPatterns(cfg.Patterns.Path)
	if err != nil {
		st.Close()
		return nil, err
	}

	al := audit.New(st, "monitor_cycle")
	breaker := resilience.NewSourceBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.Breaker.RecoveryMins) * time.Minute,
	}, st, al)
	httpF := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		Retry:     resilience.RetryConfig{MaxAttempts: cfg.Fetch.RetryAttempts},
	})

	v := verifier.New(
		verifier.NewClient(cfg.Anthropic.Key),
		verifier.WithModel(cfg.Anthropic.Model),
	)

	deps := cycle.Deps{
		Store:      st,
		Audit:      al,
		Breaker:    breaker,
		Structured: fetcher.NewStructured(httpF, breaker, al, configs),
		RSS:        fetcher.NewRSS(httpF, st),
		Scorer:     relevance.NewScorer(cfg.Cycle.RelevanceThreshold),
		Analyzer:   v,
		Recognizer: pattern.New(st, al),
		Patterns:   patterns,
	}
	opts := cycle.Options{
		MaxConcurrentFetches: cfg.Cycle.MaxConcurrentFetches,
		VerifyTopN:           cfg.Cycle.VerifyTopN,
		VerifyTimeout:        cfg.Cycle.VerifyTimeout(),
		VerifyRPM:            cfg.Cycle.VerifyRPM,
		RSSCooldown:          cfg.Cycle.RSSCooldown(),
		AlertDedupeWindow:    cfg.Cycle.AlertDedupeWindow(),
		MaxBacklogScore:      cfg.Cycle.RelevanceThreshold,
	}

	return &monitorEnv{Store: st, Cycle: cycle.New(deps, opts)}, nil
}
