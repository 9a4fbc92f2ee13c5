// Package resilience contains the per-source circuit breaker and the retry
// helpers that keep one flaky upstream from degrading the whole cycle.
package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/laborwatch/compliance-cli/internal/audit"
	"github.com/laborwatch/compliance-cli/internal/model"
	"github.com/laborwatch/compliance-cli/internal/store"
)

// BreakerConfig controls when a source trips and how long it stays out of
// rotation.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Default: 5.
	FailureThreshold int
	// RecoveryTimeout is how long an open circuit skips the source before
	// auto-closing on the next check. Default: 1h.
	RecoveryTimeout time.Duration
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  time.Hour,
	}
}

// SourceBreaker is a lazy check-on-read circuit breaker whose state lives on
// the StructuredSource row (consecutive_failures, circuit_open_until), so it
// survives restarts and is shared by every process reading the source table.
// There is no background timer: correctness only requires that no caller
// treats a source as available while its window is unexpired.
type SourceBreaker struct {
	cfg   BreakerConfig
	store store.Store
	audit *audit.Logger

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewSourceBreaker creates a breaker over the given store and audit logger.
func NewSourceBreaker(cfg BreakerConfig, st store.Store, al *audit.Logger) *SourceBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = time.Hour
	}
	return &SourceBreaker{cfg: cfg, store: st, audit: al, nowFunc: time.Now}
}

// IsOpen reports whether the source should be skipped this cycle. An expired
// window transitions the source back to closed in place: counters reset, the
// row is persisted, and CIRCUIT_CLOSE is audited.
func (b *SourceBreaker) IsOpen(ctx context.Context, src *model.StructuredSource) bool {
	if src.CircuitOpenUntil == nil {
		return false
	}

	now := b.nowFunc()
	if now.Before(*src.CircuitOpenUntil) {
		return true
	}

	// Window expired: close and reset on this read.
	src.CircuitOpenUntil = nil
	src.ConsecutiveFailures = 0
	b.persist(ctx, src)
	b.audit.CircuitClose(ctx, src.SourceKey)
	zap.L().Info("circuit closed after recovery window",
		zap.String("source", src.SourceKey),
	)
	return false
}

// RecordSuccess resets the failure counter and clears any open window.
func (b *SourceBreaker) RecordSuccess(ctx context.Context, src *model.StructuredSource) {
	now := b.nowFunc().UTC()
	src.ConsecutiveFailures = 0
	src.CircuitOpenUntil = nil
	src.LastFetchedAt = &now
	b.persist(ctx, src)
}

// RecordFailure increments the failure counter; reaching the threshold opens
// the circuit for the recovery timeout and audits CIRCUIT_OPEN.
func (b *SourceBreaker) RecordFailure(ctx context.Context, src *model.StructuredSource) {
	src.ConsecutiveFailures++
	if src.ConsecutiveFailures >= b.cfg.FailureThreshold && src.CircuitOpenUntil == nil {
		until := b.nowFunc().UTC().Add(b.cfg.RecoveryTimeout)
		src.CircuitOpenUntil = &until
		b.audit.CircuitOpen(ctx, src.SourceKey, src.ConsecutiveFailures, until)
		zap.L().Warn("circuit opened",
			zap.String("source", src.SourceKey),
			zap.Int("consecutive_failures", src.ConsecutiveFailures),
			zap.Time("open_until", until),
		)
	}
	b.persist(ctx, src)
}

func (b *SourceBreaker) persist(ctx context.Context, src *model.StructuredSource) {
	if err := b.store.SaveSourceBreakerState(ctx, *src); err != nil {
		zap.L().Error("breaker: persist state failed",
			zap.String("source", src.SourceKey),
			zap.Error(err),
		)
	}
}
