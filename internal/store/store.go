// Package store defines the persistence interface for the monitoring engine
// and its Postgres and SQLite implementations.
package store

import (
	"context"
	"time"

	"github.com/laborwatch/compliance-cli/internal/model"
)

// Store is the persistence boundary. Writes are idempotent upserts keyed by
// natural keys (source+jurisdiction+category+rate_type, feed+item_hash,
// pattern+year) so overlapping cycles degrade to redundant work, not
// corruption. Each method runs its own narrowly scoped transaction.
type Store interface {
	// Structured sources and circuit-breaker state.
	ListStructuredSources(ctx context.Context) ([]model.StructuredSource, error)
	SaveSourceBreakerState(ctx context.Context, src model.StructuredSource) error

	// RSS feeds and items. InsertFeedItem reports false when the
	// (feed_id, item_hash) pair already exists.
	ListRSSFeeds(ctx context.Context) ([]model.RSSFeed, error)
	InsertFeedItem(ctx context.Context, item model.FeedItem) (bool, error)
	MarkFeedItemProcessed(ctx context.Context, itemID string, verifyTriggered bool) error
	// ListUnprocessedFeedItems returns unprocessed items at or above the score
	// threshold, highest score first.
	ListUnprocessedFeedItems(ctx context.Context, minScore float64, limit int) ([]model.FeedItem, error)
	// MarkFeedBacklogProcessed flips processed=true on unprocessed items at
	// or below the score threshold so the low-relevance queue never regrows
	// unbounded. Returns rows affected.
	MarkFeedBacklogProcessed(ctx context.Context, feedID string, maxScore float64) (int64, error)

	// Requirements.
	ListCandidateRequirements(ctx context.Context, state string) ([]model.Requirement, error)
	GetGoverningRequirement(ctx context.Context, jurisdictionID, category, rateType string) (*model.Requirement, error)
	UpsertRequirement(ctx context.Context, req model.Requirement) error
	BulkUpsertRequirements(ctx context.Context, reqs []model.Requirement) (int64, error)
	UpdateLastVerified(ctx context.Context, jurisdictionID, category string, at time.Time) error
	// JurisdictionsChangedWithin returns jurisdiction IDs whose governing
	// requirement for the category changed inside [from, to].
	JurisdictionsChangedWithin(ctx context.Context, category string, from, to time.Time) ([]string, error)
	// StaleJurisdictions returns jurisdiction IDs holding the category whose
	// last_verified_at is older than the cutoff or null, excluding the given set.
	StaleJurisdictions(ctx context.Context, category string, olderThan time.Time, exclude []string) ([]string, error)

	// Preemption rules: seeded rarely, read-only to the resolver.
	ListPreemptionRules(ctx context.Context) ([]model.PreemptionRule, error)
	SeedPreemptionRules(ctx context.Context, rules []model.PreemptionRule) error

	// Pattern detections, upserted per (pattern_key, year).
	GetPatternDetection(ctx context.Context, patternKey string, year int) (*model.PatternDetection, error)
	UpsertPatternDetection(ctx context.Context, d model.PatternDetection) error

	// Audit log: append-only, never updated or deleted.
	AppendAuditEvent(ctx context.Context, ev model.AuditEvent) error

	// Alerts and the locations they target.
	InsertAlert(ctx context.Context, a model.ComplianceAlert) error
	// RecentAlertSeverity returns the highest severity of alerts for the
	// (location, dedupe key) pair created since the cutoff.
	RecentAlertSeverity(ctx context.Context, locationID, dedupeKey string, since time.Time) (model.Severity, bool, error)
	ListLocationsForJurisdiction(ctx context.Context, jurisdictionID string) ([]model.BusinessLocation, error)

	// Human-review queue.
	EnqueueReview(ctx context.Context, item model.ReviewItem) error
	ListPendingReviews(ctx context.Context, limit int) ([]model.ReviewItem, error)

	// Scheduler state (named last-refresh timestamps).
	GetSchedulerState(ctx context.Context, name string) (*model.SchedulerState, error)
	SetSchedulerState(ctx context.Context, name string, at time.Time) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
