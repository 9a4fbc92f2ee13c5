// Package audit appends the immutable decision trail: every fetch, parse
// rejection, source selection, verification outcome, and circuit transition.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/laborwatch/compliance-cli/internal/model"
	"github.com/laborwatch/compliance-cli/internal/store"
)

// Logger writes audit events through the store. Writes are best-effort: a
// failed append is logged and dropped, because forensics must never take
// down the cycle they exist to explain.
type Logger struct {
	store       store.Store
	triggeredBy string
	nowFunc     func() time.Time
}

// New creates an audit Logger. triggeredBy names the acting process
// (e.g. "monitoring_cycle") and is stamped on every event.
func New(st store.Store, triggeredBy string) *Logger {
	return &Logger{store: st, triggeredBy: triggeredBy, nowFunc: time.Now}
}

// Append writes one event. Never returns an error; see Logger doc.
func (l *Logger) Append(ctx context.Context, typ model.EventType, sourceKey, jurisdictionID string, details map[string]any) {
	ev := model.AuditEvent{
		ID:             uuid.New().String(),
		Type:           typ,
		SourceKey:      sourceKey,
		JurisdictionID: jurisdictionID,
		Details:        details,
		TriggeredBy:    l.triggeredBy,
		CreatedAt:      l.nowFunc().UTC(),
	}
	if err := l.store.AppendAuditEvent(ctx, ev); err != nil {
		zap.L().Error("audit: append failed",
			zap.String("event_type", string(typ)),
			zap.String("source", sourceKey),
			zap.Error(err),
		)
	}
}

// FetchSuccess records a completed source fetch.
func (l *Logger) FetchSuccess(ctx context.Context, sourceKey string, rows int) {
	l.Append(ctx, model.EventFetchSuccess, sourceKey, "", map[string]any{"rows": rows})
}

// FetchError records a failed source fetch.
func (l *Logger) FetchError(ctx context.Context, sourceKey string, err error) {
	l.Append(ctx, model.EventFetchError, sourceKey, "", map[string]any{"error": err.Error()})
}

// BoundsRejection records a parsed value dropped by sanity checks.
func (l *Logger) BoundsRejection(ctx context.Context, sourceKey, field, value, reason string) {
	l.Append(ctx, model.EventBoundsRejection, sourceKey, "", map[string]any{
		"field":  field,
		"value":  value,
		"reason": reason,
	})
}

// SourceSelection records a resolution decision: the winner and everything
// it suppressed.
func (l *Logger) SourceSelection(ctx context.Context, jurisdictionID, requirementKey, winnerSource string, suppressed map[string]string) {
	l.Append(ctx, model.EventSourceSelection, winnerSource, jurisdictionID, map[string]any{
		"requirement_key": requirementKey,
		"suppressed":      suppressed,
	})
}

// Verification records an oracle outcome for a feed item.
func (l *Logger) Verification(ctx context.Context, feedID, itemHash string, v model.Verification) {
	l.Append(ctx, model.EventVerification, feedID, "", map[string]any{
		"item_hash":  itemHash,
		"kind":       v.Kind.String(),
		"category":   v.Category,
		"confidence": v.Confidence,
	})
}

// CircuitOpen records a breaker opening after repeated failures.
func (l *Logger) CircuitOpen(ctx context.Context, sourceKey string, failures int, until time.Time) {
	l.Append(ctx, model.EventCircuitOpen, sourceKey, "", map[string]any{
		"consecutive_failures": failures,
		"open_until":           until.UTC().Format(time.RFC3339),
	})
}

// CircuitClose records a breaker recovering after its window expired.
func (l *Logger) CircuitClose(ctx context.Context, sourceKey string) {
	l.Append(ctx, model.EventCircuitClose, sourceKey, "", nil)
}

// VerificationPending records a change routed to human review.
func (l *Logger) VerificationPending(ctx context.Context, jurisdictionID, category, oldValue, newValue string) {
	l.Append(ctx, model.EventVerificationPending, "", jurisdictionID, map[string]any{
		"category":  category,
		"old_value": oldValue,
		"new_value": newValue,
	})
}

// PatternDetected records a cross-jurisdiction pattern match.
func (l *Logger) PatternDetected(ctx context.Context, patternKey string, year, matched, flagged int) {
	l.Append(ctx, model.EventPatternDetected, "", "", map[string]any{
		"pattern_key": patternKey,
		"year":        year,
		"matched":     matched,
		"flagged":     flagged,
	})
}
