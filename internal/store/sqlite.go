package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/laborwatch/compliance-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and single-operator deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS requirements (
	id               TEXT PRIMARY KEY,
	jurisdiction_id  TEXT NOT NULL,
	jurisdiction     TEXT NOT NULL,
	state            TEXT NOT NULL,
	level            TEXT NOT NULL,
	category         TEXT NOT NULL,
	rate_type        TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT '',
	current_value    TEXT NOT NULL,
	numeric_value    REAL,
	effective_date   DATETIME,
	source_key       TEXT NOT NULL,
	source_tier      INTEGER NOT NULL DEFAULT 1,
	governing        INTEGER NOT NULL DEFAULT 0,
	last_verified_at DATETIME,
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (source_key, jurisdiction_id, category, rate_type)
);

CREATE TABLE IF NOT EXISTS preemption_rules (
	state                 TEXT NOT NULL,
	category              TEXT NOT NULL,
	allows_local_override INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (state, category)
);

CREATE TABLE IF NOT EXISTS structured_sources (
	source_key              TEXT PRIMARY KEY,
	domain                  TEXT NOT NULL DEFAULT '',
	url                     TEXT NOT NULL,
	format                  TEXT NOT NULL,
	categories              TEXT NOT NULL DEFAULT '[]',
	active                  INTEGER NOT NULL DEFAULT 1,
	requires_initial_review INTEGER NOT NULL DEFAULT 0,
	consecutive_failures    INTEGER NOT NULL DEFAULT 0,
	circuit_open_until      DATETIME,
	last_fetched_at         DATETIME
);

CREATE TABLE IF NOT EXISTS rss_feeds (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL,
	jurisdiction TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT '',
	active       INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS feed_items (
	id                TEXT PRIMARY KEY,
	feed_id           TEXT NOT NULL REFERENCES rss_feeds(id),
	item_hash         TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	link              TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	published_at      DATETIME,
	relevance_score   REAL NOT NULL DEFAULT 0,
	detected_category TEXT NOT NULL DEFAULT '',
	processed         INTEGER NOT NULL DEFAULT 0,
	verify_triggered  INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (feed_id, item_hash)
);

CREATE TABLE IF NOT EXISTS pattern_detections (
	id                     TEXT PRIMARY KEY,
	pattern_key            TEXT NOT NULL,
	detection_year         INTEGER NOT NULL,
	jurisdictions_matched  TEXT NOT NULL DEFAULT '[]',
	jurisdictions_flagged  TEXT NOT NULL DEFAULT '[]',
	alerts_created         INTEGER NOT NULL DEFAULT 0,
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (pattern_key, detection_year)
);

CREATE TABLE IF NOT EXISTS audit_events (
	id              TEXT PRIMARY KEY,
	event_type      TEXT NOT NULL,
	source_key      TEXT NOT NULL DEFAULT '',
	jurisdiction_id TEXT NOT NULL DEFAULT '',
	details         TEXT NOT NULL DEFAULT '{}',
	triggered_by    TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS compliance_alerts (
	id          TEXT PRIMARY KEY,
	location_id TEXT NOT NULL,
	company_id  TEXT NOT NULL DEFAULT '',
	severity    TEXT NOT NULL,
	category    TEXT NOT NULL,
	alert_type  TEXT NOT NULL,
	dedupe_key  TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS business_locations (
	id              TEXT PRIMARY KEY,
	company_id      TEXT NOT NULL,
	jurisdiction_id TEXT NOT NULL,
	state           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS review_queue (
	id              TEXT PRIMARY KEY,
	reason          TEXT NOT NULL,
	source_key      TEXT NOT NULL DEFAULT '',
	jurisdiction_id TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	old_value       TEXT NOT NULL DEFAULT '',
	new_value       TEXT NOT NULL DEFAULT '',
	note            TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scheduler_state (
	name            TEXT PRIMARY KEY,
	last_refresh_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_requirements_jurisdiction ON requirements(jurisdiction_id, category);
CREATE INDEX IF NOT EXISTS idx_requirements_state ON requirements(state);
CREATE INDEX IF NOT EXISTS idx_requirements_governing ON requirements(governing, category, updated_at);
CREATE INDEX IF NOT EXISTS idx_feed_items_feed ON feed_items(feed_id, processed);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_location ON compliance_alerts(location_id, dedupe_key, created_at);
CREATE INDEX IF NOT EXISTS idx_locations_jurisdiction ON business_locations(jurisdiction_id);
CREATE INDEX IF NOT EXISTS idx_review_queue_status ON review_queue(status, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListStructuredSources(ctx context.Context) ([]model.StructuredSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_key, domain, url, format, categories, active, requires_initial_review,
		        consecutive_failures, circuit_open_until, last_fetched_at
		 FROM structured_sources ORDER BY source_key`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var out []model.StructuredSource
	for rows.Next() {
		var src model.StructuredSource
		var categoriesJSON string
		var openUntil, fetchedAt sql.NullTime
		if err := rows.Scan(&src.SourceKey, &src.Domain, &src.URL, &src.Format, &categoriesJSON,
			&src.Active, &src.RequiresInitialReview, &src.ConsecutiveFailures, &openUntil, &fetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		if err := json.Unmarshal([]byte(categoriesJSON), &src.Categories); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal categories for %s", src.SourceKey)
		}
		src.CircuitOpenUntil = nullTimePtr(openUntil)
		src.LastFetchedAt = nullTimePtr(fetchedAt)
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

func (s *SQLiteStore) SaveSourceBreakerState(ctx context.Context, src model.StructuredSource) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE structured_sources
		 SET consecutive_failures = ?, circuit_open_until = ?, last_fetched_at = ?
		 WHERE source_key = ?`,
		src.ConsecutiveFailures, timePtrValue(src.CircuitOpenUntil), timePtrValue(src.LastFetchedAt), src.SourceKey,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save breaker state %s", src.SourceKey)
	}
	return checkRowsAffected(res, "source", src.SourceKey)
}

func (s *SQLiteStore) ListRSSFeeds(ctx context.Context) ([]model.RSSFeed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, jurisdiction, state, active FROM rss_feeds ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list feeds")
	}
	defer rows.Close()

	var out []model.RSSFeed
	for rows.Next() {
		var f model.RSSFeed
		if err := rows.Scan(&f.ID, &f.Name, &f.URL, &f.Jurisdiction, &f.State, &f.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feed")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list feeds iterate")
}

func (s *SQLiteStore) InsertFeedItem(ctx context.Context, item model.FeedItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_items
		 (id, feed_id, item_hash, title, link, description, published_at, relevance_score, detected_category, processed, verify_triggered, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
		 ON CONFLICT (feed_id, item_hash) DO NOTHING`,
		item.ID, item.FeedID, item.ItemHash, item.Title, item.Link, item.Description,
		timePtrValue(item.PublishedAt), item.RelevanceScore, item.DetectedCategory, item.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert feed item %s", item.ItemHash)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkFeedItemProcessed(ctx context.Context, itemID string, verifyTriggered bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feed_items SET processed = 1, verify_triggered = ? WHERE id = ?`,
		verifyTriggered, itemID,
	)
	return eris.Wrapf(err, "sqlite: mark item processed %s", itemID)
}

func (s *SQLiteStore) ListUnprocessedFeedItems(ctx context.Context, minScore float64, limit int) ([]model.FeedItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, feed_id, item_hash, title, link, description, published_at, relevance_score, detected_category, processed, verify_triggered, created_at
		 FROM feed_items WHERE processed = 0 AND relevance_score >= ?
		 ORDER BY relevance_score DESC, item_hash LIMIT ?`,
		minScore, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unprocessed items")
	}
	defer rows.Close()

	var out []model.FeedItem
	for rows.Next() {
		var it model.FeedItem
		var published sql.NullTime
		if err := rows.Scan(&it.ID, &it.FeedID, &it.ItemHash, &it.Title, &it.Link, &it.Description,
			&published, &it.RelevanceScore, &it.DetectedCategory, &it.Processed, &it.VerifyTriggered, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feed item")
		}
		it.PublishedAt = nullTimePtr(published)
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list unprocessed items iterate")
}

func (s *SQLiteStore) MarkFeedBacklogProcessed(ctx context.Context, feedID string, maxScore float64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feed_items SET processed = 1
		 WHERE feed_id = ? AND processed = 0 AND relevance_score <= ?`,
		feedID, maxScore,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: close backlog %s", feedID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

const requirementColumns = `id, jurisdiction_id, jurisdiction, state, level, category, rate_type, title,
	current_value, numeric_value, effective_date, source_key, source_tier, governing, last_verified_at, updated_at`

func (s *SQLiteStore) ListCandidateRequirements(ctx context.Context, state string) ([]model.Requirement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requirementColumns+` FROM requirements WHERE state = ?
		 ORDER BY jurisdiction_id, category, rate_type, source_key`,
		state,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list candidates %s", state)
	}
	defer rows.Close()
	return collectRequirements(rows)
}

func (s *SQLiteStore) GetGoverningRequirement(ctx context.Context, jurisdictionID, category, rateType string) (*model.Requirement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requirementColumns+` FROM requirements
		 WHERE governing = 1 AND jurisdiction_id = ? AND category = ? AND rate_type = ?
		 LIMIT 1`,
		jurisdictionID, category, rateType,
	)
	req, err := scanRequirement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get governing requirement")
	}
	return req, nil
}

const sqliteUpsertRequirement = `
INSERT INTO requirements
 (id, jurisdiction_id, jurisdiction, state, level, category, rate_type, title,
  current_value, numeric_value, effective_date, source_key, source_tier, governing, last_verified_at, updated_at)
 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
 ON CONFLICT (source_key, jurisdiction_id, category, rate_type) DO UPDATE SET
   jurisdiction = excluded.jurisdiction,
   state = excluded.state,
   level = excluded.level,
   title = excluded.title,
   current_value = excluded.current_value,
   numeric_value = excluded.numeric_value,
   effective_date = excluded.effective_date,
   source_tier = excluded.source_tier,
   governing = excluded.governing,
   last_verified_at = excluded.last_verified_at,
   updated_at = excluded.updated_at`

func (s *SQLiteStore) UpsertRequirement(ctx context.Context, req model.Requirement) error {
	_, err := s.db.ExecContext(ctx, sqliteUpsertRequirement, requirementArgs(&req)...)
	return eris.Wrapf(err, "sqlite: upsert requirement %s/%s", req.JurisdictionID, req.Category)
}

func (s *SQLiteStore) BulkUpsertRequirements(ctx context.Context, reqs []model.Requirement) (int64, error) {
	if len(reqs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin bulk upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertRequirement)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare bulk upsert")
	}
	defer stmt.Close()

	for i := range reqs {
		if _, err := stmt.ExecContext(ctx, requirementArgs(&reqs[i])...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: bulk upsert %s/%s", reqs[i].JurisdictionID, reqs[i].Category)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit bulk upsert")
	}
	return int64(len(reqs)), nil
}

func (s *SQLiteStore) UpdateLastVerified(ctx context.Context, jurisdictionID, category string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE requirements SET last_verified_at = ? WHERE jurisdiction_id = ? AND category = ?`,
		at.UTC(), jurisdictionID, category,
	)
	return eris.Wrapf(err, "sqlite: update last verified %s/%s", jurisdictionID, category)
}

func (s *SQLiteStore) JurisdictionsChangedWithin(ctx context.Context, category string, from, to time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT jurisdiction_id FROM requirements
		 WHERE governing = 1 AND category = ? AND updated_at >= ? AND updated_at <= ?
		 ORDER BY jurisdiction_id`,
		category, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: jurisdictions changed within")
	}
	defer rows.Close()
	return collectStrings(rows)
}

func (s *SQLiteStore) StaleJurisdictions(ctx context.Context, category string, olderThan time.Time, exclude []string) ([]string, error) {
	query := `SELECT DISTINCT jurisdiction_id FROM requirements
	 WHERE category = ? AND (last_verified_at IS NULL OR last_verified_at < ?)`
	args := []any{category, olderThan.UTC()}
	if len(exclude) > 0 {
		query += ` AND jurisdiction_id NOT IN (?` + strings.Repeat(", ?", len(exclude)-1) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` ORDER BY jurisdiction_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stale jurisdictions")
	}
	defer rows.Close()
	return collectStrings(rows)
}

func (s *SQLiteStore) ListPreemptionRules(ctx context.Context) ([]model.PreemptionRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, category, allows_local_override FROM preemption_rules ORDER BY state, category`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list preemption rules")
	}
	defer rows.Close()

	var out []model.PreemptionRule
	for rows.Next() {
		var r model.PreemptionRule
		if err := rows.Scan(&r.State, &r.Category, &r.AllowsLocalOverride); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan preemption rule")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list preemption rules iterate")
}

func (s *SQLiteStore) SeedPreemptionRules(ctx context.Context, rules []model.PreemptionRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin seed rules")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range rules {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO preemption_rules (state, category, allows_local_override) VALUES (?, ?, ?)
			 ON CONFLICT (state, category) DO UPDATE SET allows_local_override = excluded.allows_local_override`,
			r.State, r.Category, r.AllowsLocalOverride,
		); err != nil {
			return eris.Wrapf(err, "sqlite: seed rule %s/%s", r.State, r.Category)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit seed rules")
}

func (s *SQLiteStore) GetPatternDetection(ctx context.Context, patternKey string, year int) (*model.PatternDetection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pattern_key, detection_year, jurisdictions_matched, jurisdictions_flagged, alerts_created, updated_at
		 FROM pattern_detections WHERE pattern_key = ? AND detection_year = ?`,
		patternKey, year,
	)

	var d model.PatternDetection
	var matchedJSON, flaggedJSON string
	err := row.Scan(&d.ID, &d.PatternKey, &d.DetectionYear, &matchedJSON, &flaggedJSON, &d.AlertsCreated, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get pattern detection")
	}
	if err := json.Unmarshal([]byte(matchedJSON), &d.JurisdictionsMatched); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal matched jurisdictions")
	}
	if err := json.Unmarshal([]byte(flaggedJSON), &d.JurisdictionsFlagged); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal flagged jurisdictions")
	}
	return &d, nil
}

func (s *SQLiteStore) UpsertPatternDetection(ctx context.Context, d model.PatternDetection) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	matchedJSON, err := json.Marshal(d.JurisdictionsMatched)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal matched jurisdictions")
	}
	flaggedJSON, err := json.Marshal(d.JurisdictionsFlagged)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal flagged jurisdictions")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pattern_detections
		 (id, pattern_key, detection_year, jurisdictions_matched, jurisdictions_flagged, alerts_created, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (pattern_key, detection_year) DO UPDATE SET
		   jurisdictions_matched = excluded.jurisdictions_matched,
		   jurisdictions_flagged = excluded.jurisdictions_flagged,
		   alerts_created = excluded.alerts_created,
		   updated_at = excluded.updated_at`,
		d.ID, d.PatternKey, d.DetectionYear, string(matchedJSON), string(flaggedJSON),
		d.AlertsCreated, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert pattern detection %s/%d", d.PatternKey, d.DetectionYear)
}

func (s *SQLiteStore) AppendAuditEvent(ctx context.Context, ev model.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	detailsJSON, err := json.Marshal(ev.Details)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal audit details")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, event_type, source_key, jurisdiction_id, details, triggered_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.SourceKey, ev.JurisdictionID, string(detailsJSON), ev.TriggeredBy, ev.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append audit event")
}

func (s *SQLiteStore) InsertAlert(ctx context.Context, a model.ComplianceAlert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	metadataJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal alert metadata")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO compliance_alerts (id, location_id, company_id, severity, category, alert_type, dedupe_key, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.LocationID, a.CompanyID, a.Severity.String(), a.Category, string(a.Type), a.DedupeKey, string(metadataJSON), a.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert alert")
}

func (s *SQLiteStore) RecentAlertSeverity(ctx context.Context, locationID, dedupeKey string, since time.Time) (model.Severity, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT severity FROM compliance_alerts
		 WHERE location_id = ? AND dedupe_key = ? AND created_at >= ?`,
		locationID, dedupeKey, since.UTC(),
	)
	if err != nil {
		return model.SeverityInfo, false, eris.Wrap(err, "sqlite: recent alert severity")
	}
	defer rows.Close()

	var best model.Severity
	found := false
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return model.SeverityInfo, false, eris.Wrap(err, "sqlite: scan severity")
		}
		sev, err := model.ParseSeverity(raw)
		if err != nil {
			return model.SeverityInfo, false, err
		}
		if !found || sev > best {
			best = sev
		}
		found = true
	}
	return best, found, eris.Wrap(rows.Err(), "sqlite: recent alert severity iterate")
}

func (s *SQLiteStore) ListLocationsForJurisdiction(ctx context.Context, jurisdictionID string) ([]model.BusinessLocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, jurisdiction_id, state FROM business_locations WHERE jurisdiction_id = ? ORDER BY id`,
		jurisdictionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list locations %s", jurisdictionID)
	}
	defer rows.Close()

	var out []model.BusinessLocation
	for rows.Next() {
		var l model.BusinessLocation
		if err := rows.Scan(&l.ID, &l.CompanyID, &l.JurisdictionID, &l.State); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan location")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list locations iterate")
}

func (s *SQLiteStore) EnqueueReview(ctx context.Context, item model.ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_queue (id, reason, source_key, jurisdiction_id, category, old_value, new_value, note, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		item.ID, string(item.Reason), item.SourceKey, item.JurisdictionID, item.Category,
		item.OldValue, item.NewValue, item.Note, item.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue review")
}

func (s *SQLiteStore) ListPendingReviews(ctx context.Context, limit int) ([]model.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reason, source_key, jurisdiction_id, category, old_value, new_value, note, created_at
		 FROM review_queue WHERE status = 'pending' ORDER BY created_at LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending reviews")
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		var it model.ReviewItem
		var reason string
		if err := rows.Scan(&it.ID, &reason, &it.SourceKey, &it.JurisdictionID, &it.Category,
			&it.OldValue, &it.NewValue, &it.Note, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review item")
		}
		it.Reason = model.ReviewReason(reason)
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pending reviews iterate")
}

func (s *SQLiteStore) GetSchedulerState(ctx context.Context, name string) (*model.SchedulerState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT last_refresh_at FROM scheduler_state WHERE name = ?`, name,
	)
	st := &model.SchedulerState{Name: name}
	var at sql.NullTime
	err := row.Scan(&at)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get scheduler state %s", name)
	}
	st.LastRefreshAt = nullTimePtr(at)
	return st, nil
}

func (s *SQLiteStore) SetSchedulerState(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_state (name, last_refresh_at) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET last_refresh_at = excluded.last_refresh_at`,
		name, at.UTC(),
	)
	return eris.Wrapf(err, "sqlite: set scheduler state %s", name)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timePtrValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func requirementArgs(r *model.Requirement) []any {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	var numeric any
	if r.NumericValue != nil {
		numeric = *r.NumericValue
	}
	return []any{
		r.ID, r.JurisdictionID, r.Jurisdiction, r.State, string(r.Level), r.Category, r.RateType, r.Title,
		r.CurrentValue, numeric, timePtrValue(r.EffectiveDate), r.SourceKey, int(r.SourceTier), r.Governing,
		timePtrValue(r.LastVerifiedAt), r.UpdatedAt.UTC(),
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRequirement(row scannable) (*model.Requirement, error) {
	var r model.Requirement
	var level string
	var tier int
	var numeric sql.NullFloat64
	var effective, verified sql.NullTime

	err := row.Scan(&r.ID, &r.JurisdictionID, &r.Jurisdiction, &r.State, &level, &r.Category, &r.RateType, &r.Title,
		&r.CurrentValue, &numeric, &effective, &r.SourceKey, &tier, &r.Governing, &verified, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.Level = model.JurisdictionLevel(level)
	r.SourceTier = model.SourceTier(tier)
	if numeric.Valid {
		v := numeric.Float64
		r.NumericValue = &v
	}
	r.EffectiveDate = nullTimePtr(effective)
	r.LastVerifiedAt = nullTimePtr(verified)
	return &r, nil
}

func collectRequirements(rows *sql.Rows) ([]model.Requirement, error) {
	var out []model.Requirement
	for rows.Next() {
		r, err := scanRequirement(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan requirement")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate requirements")
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan id")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate ids")
}
