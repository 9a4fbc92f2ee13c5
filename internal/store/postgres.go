package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/laborwatch/compliance-cli/internal/db"
	"github.com/laborwatch/compliance-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot per-cycle operations.
var preparedStatements = map[string]string{
	"insert_feed_item": `INSERT INTO feed_items
		 (id, feed_id, item_hash, title, link, description, published_at, relevance_score, detected_category, processed, verify_triggered, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, false, $10)
		 ON CONFLICT (feed_id, item_hash) DO NOTHING`,
	"mark_item_processed": `UPDATE feed_items SET processed = true, verify_triggered = $1 WHERE id = $2`,
	"save_breaker_state": `UPDATE structured_sources
		 SET consecutive_failures = $1, circuit_open_until = $2, last_fetched_at = $3
		 WHERE source_key = $4`,
	"append_audit_event": `INSERT INTO audit_events (id, event_type, source_key, jurisdiction_id, details, triggered_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"insert_alert": `INSERT INTO compliance_alerts (id, location_id, company_id, severity, category, alert_type, dedupe_key, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS requirements (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	jurisdiction_id  TEXT NOT NULL,
	jurisdiction     TEXT NOT NULL,
	state            TEXT NOT NULL,
	level            TEXT NOT NULL,
	category         TEXT NOT NULL,
	rate_type        TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT '',
	current_value    TEXT NOT NULL,
	numeric_value    DOUBLE PRECISION,
	effective_date   TIMESTAMPTZ,
	source_key       TEXT NOT NULL,
	source_tier      INTEGER NOT NULL DEFAULT 1,
	governing        BOOLEAN NOT NULL DEFAULT false,
	last_verified_at TIMESTAMPTZ,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source_key, jurisdiction_id, category, rate_type)
);

CREATE TABLE IF NOT EXISTS preemption_rules (
	state                 TEXT NOT NULL,
	category              TEXT NOT NULL,
	allows_local_override BOOLEAN NOT NULL DEFAULT true,
	PRIMARY KEY (state, category)
);

CREATE TABLE IF NOT EXISTS structured_sources (
	source_key              TEXT PRIMARY KEY,
	domain                  TEXT NOT NULL DEFAULT '',
	url                     TEXT NOT NULL,
	format                  TEXT NOT NULL,
	categories              JSONB NOT NULL DEFAULT '[]',
	active                  BOOLEAN NOT NULL DEFAULT true,
	requires_initial_review BOOLEAN NOT NULL DEFAULT false,
	consecutive_failures    INTEGER NOT NULL DEFAULT 0,
	circuit_open_until      TIMESTAMPTZ,
	last_fetched_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS rss_feeds (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL,
	jurisdiction TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT '',
	active       BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS feed_items (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	feed_id           TEXT NOT NULL REFERENCES rss_feeds(id),
	item_hash         TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	link              TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	published_at      TIMESTAMPTZ,
	relevance_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	detected_category TEXT NOT NULL DEFAULT '',
	processed         BOOLEAN NOT NULL DEFAULT false,
	verify_triggered  BOOLEAN NOT NULL DEFAULT false,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (feed_id, item_hash)
);

CREATE TABLE IF NOT EXISTS pattern_detections (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	pattern_key           TEXT NOT NULL,
	detection_year        INTEGER NOT NULL,
	jurisdictions_matched JSONB NOT NULL DEFAULT '[]',
	jurisdictions_flagged JSONB NOT NULL DEFAULT '[]',
	alerts_created        INTEGER NOT NULL DEFAULT 0,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (pattern_key, detection_year)
);

CREATE TABLE IF NOT EXISTS audit_events (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	event_type      TEXT NOT NULL,
	source_key      TEXT NOT NULL DEFAULT '',
	jurisdiction_id TEXT NOT NULL DEFAULT '',
	details         JSONB NOT NULL DEFAULT '{}',
	triggered_by    TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS compliance_alerts (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	location_id TEXT NOT NULL,
	company_id  TEXT NOT NULL DEFAULT '',
	severity    TEXT NOT NULL,
	category    TEXT NOT NULL,
	alert_type  TEXT NOT NULL,
	dedupe_key  TEXT NOT NULL DEFAULT '',
	metadata    JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS business_locations (
	id              TEXT PRIMARY KEY,
	company_id      TEXT NOT NULL,
	jurisdiction_id TEXT NOT NULL,
	state           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS review_queue (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	reason          TEXT NOT NULL,
	source_key      TEXT NOT NULL DEFAULT '',
	jurisdiction_id TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	old_value       TEXT NOT NULL DEFAULT '',
	new_value       TEXT NOT NULL DEFAULT '',
	note            TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scheduler_state (
	name            TEXT PRIMARY KEY,
	last_refresh_at TIMESTAMPTZ
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListStructuredSources(ctx context.Context) ([]model.StructuredSource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_key, domain, url, format, categories, active, requires_initial_review,
		        consecutive_failures, circuit_open_until, last_fetched_at
		 FROM structured_sources ORDER BY source_key`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var out []model.StructuredSource
	for rows.Next() {
		var src model.StructuredSource
		var categoriesJSON []byte
		if err := rows.Scan(&src.SourceKey, &src.Domain, &src.URL, &src.Format, &categoriesJSON,
			&src.Active, &src.RequiresInitialReview, &src.ConsecutiveFailures,
			&src.CircuitOpenUntil, &src.LastFetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		if err := json.Unmarshal(categoriesJSON, &src.Categories); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal categories for %s", src.SourceKey)
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

func (s *PostgresStore) SaveSourceBreakerState(ctx context.Context, src model.StructuredSource) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE structured_sources
		 SET consecutive_failures = $1, circuit_open_until = $2, last_fetched_at = $3
		 WHERE source_key = $4`,
		src.ConsecutiveFailures, src.CircuitOpenUntil, src.LastFetchedAt, src.SourceKey,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save breaker state %s", src.SourceKey)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("source not found: %s", src.SourceKey)
	}
	return nil
}

func (s *PostgresStore) ListRSSFeeds(ctx context.Context) ([]model.RSSFeed, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, url, jurisdiction, state, active FROM rss_feeds ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list feeds")
	}
	defer rows.Close()

	var out []model.RSSFeed
	for rows.Next() {
		var f model.RSSFeed
		if err := rows.Scan(&f.ID, &f.Name, &f.URL, &f.Jurisdiction, &f.State, &f.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feed")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list feeds iterate")
}

func (s *PostgresStore) InsertFeedItem(ctx context.Context, item model.FeedItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO feed_items
		 (id, feed_id, item_hash, title, link, description, published_at, relevance_score, detected_category, processed, verify_triggered, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, false, $10)
		 ON CONFLICT (feed_id, item_hash) DO NOTHING`,
		item.ID, item.FeedID, item.ItemHash, item.Title, item.Link, item.Description,
		item.PublishedAt, item.RelevanceScore, item.DetectedCategory, item.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert feed item %s", item.ItemHash)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkFeedItemProcessed(ctx context.Context, itemID string, verifyTriggered bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE feed_items SET processed = true, verify_triggered = $1 WHERE id = $2`,
		verifyTriggered, itemID,
	)
	return eris.Wrapf(err, "postgres: mark item processed %s", itemID)
}

func (s *PostgresStore) ListUnprocessedFeedItems(ctx context.Context, minScore float64, limit int) ([]model.FeedItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, feed_id, item_hash, title, link, description, published_at, relevance_score, detected_category, processed, verify_triggered, created_at
		 FROM feed_items WHERE processed = false AND relevance_score >= $1
		 ORDER BY relevance_score DESC, item_hash LIMIT $2`,
		minScore, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unprocessed items")
	}
	defer rows.Close()

	var out []model.FeedItem
	for rows.Next() {
		var it model.FeedItem
		if err := rows.Scan(&it.ID, &it.FeedID, &it.ItemHash, &it.Title, &it.Link, &it.Description,
			&it.PublishedAt, &it.RelevanceScore, &it.DetectedCategory, &it.Processed, &it.VerifyTriggered, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feed item")
		}
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list unprocessed items iterate")
}

func (s *PostgresStore) MarkFeedBacklogProcessed(ctx context.Context, feedID string, maxScore float64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE feed_items SET processed = true
		 WHERE feed_id = $1 AND processed = false AND relevance_score <= $2`,
		feedID, maxScore,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: close backlog %s", feedID)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListCandidateRequirements(ctx context.Context, state string) ([]model.Requirement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requirementColumns+` FROM requirements WHERE state = $1
		 ORDER BY jurisdiction_id, category, rate_type, source_key`,
		state,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list candidates %s", state)
	}
	defer rows.Close()

	var out []model.Requirement
	for rows.Next() {
		r, err := scanPgRequirement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list candidates iterate")
}

func (s *PostgresStore) GetGoverningRequirement(ctx context.Context, jurisdictionID, category, rateType string) (*model.Requirement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requirementColumns+` FROM requirements
		 WHERE governing = true AND jurisdiction_id = $1 AND category = $2 AND rate_type = $3
		 LIMIT 1`,
		jurisdictionID, category, rateType,
	)
	req, err := scanPgRequirement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return req, nil
}

func (s *PostgresStore) UpsertRequirement(ctx context.Context, req model.Requirement) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO requirements
		 (id, jurisdiction_id, jurisdiction, state, level, category, rate_type, title,
		  current_value, numeric_value, effective_date, source_key, source_tier, governing, last_verified_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (source_key, jurisdiction_id, category, rate_type) DO UPDATE SET
		   jurisdiction = EXCLUDED.jurisdiction,
		   state = EXCLUDED.state,
		   level = EXCLUDED.level,
		   title = EXCLUDED.title,
		   current_value = EXCLUDED.current_value,
		   numeric_value = EXCLUDED.numeric_value,
		   effective_date = EXCLUDED.effective_date,
		   source_tier = EXCLUDED.source_tier,
		   governing = EXCLUDED.governing,
		   last_verified_at = EXCLUDED.last_verified_at,
		   updated_at = EXCLUDED.updated_at`,
		requirementArgs(&req)...,
	)
	return eris.Wrapf(err, "postgres: upsert requirement %s/%s", req.JurisdictionID, req.Category)
}

// requirementUpsertCols are the columns BulkUpsertRequirements writes; id is
// deliberately excluded from the conflict update so existing row IDs survive.
var requirementUpsertCols = []string{
	"id", "jurisdiction_id", "jurisdiction", "state", "level", "category", "rate_type", "title",
	"current_value", "numeric_value", "effective_date", "source_key", "source_tier", "governing",
	"last_verified_at", "updated_at",
}

var requirementUpdateCols = []string{
	"jurisdiction", "state", "level", "title", "current_value", "numeric_value",
	"effective_date", "source_tier", "governing", "last_verified_at", "updated_at",
}

func (s *PostgresStore) BulkUpsertRequirements(ctx context.Context, reqs []model.Requirement) (int64, error) {
	rows := make([][]any, len(reqs))
	for i := range reqs {
		rows[i] = requirementArgs(&reqs[i])
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "requirements",
		Columns:      requirementUpsertCols,
		ConflictKeys: []string{"source_key", "jurisdiction_id", "category", "rate_type"},
		UpdateCols:   requirementUpdateCols,
	}, rows)
}

func (s *PostgresStore) UpdateLastVerified(ctx context.Context, jurisdictionID, category string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE requirements SET last_verified_at = $1 WHERE jurisdiction_id = $2 AND category = $3`,
		at.UTC(), jurisdictionID, category,
	)
	return eris.Wrapf(err, "postgres: update last verified %s/%s", jurisdictionID, category)
}

func (s *PostgresStore) JurisdictionsChangedWithin(ctx context.Context, category string, from, to time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT jurisdiction_id FROM requirements
		 WHERE governing = true AND category = $1 AND updated_at >= $2 AND updated_at <= $3
		 ORDER BY jurisdiction_id`,
		category, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: jurisdictions changed within")
	}
	defer rows.Close()
	return collectPgStrings(rows)
}

func (s *PostgresStore) StaleJurisdictions(ctx context.Context, category string, olderThan time.Time, exclude []string) ([]string, error) {
	query := `SELECT DISTINCT jurisdiction_id FROM requirements
	 WHERE category = $1 AND (last_verified_at IS NULL OR last_verified_at < $2)`
	args := []any{category, olderThan.UTC()}
	if len(exclude) > 0 {
		query += ` AND jurisdiction_id != ALL($3)`
		args = append(args, exclude)
	}
	query += ` ORDER BY jurisdiction_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stale jurisdictions")
	}
	defer rows.Close()
	return collectPgStrings(rows)
}

func (s *PostgresStore) ListPreemptionRules(ctx context.Context) ([]model.PreemptionRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state, category, allows_local_override FROM preemption_rules ORDER BY state, category`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list preemption rules")
	}
	defer rows.Close()

	var out []model.PreemptionRule
	for rows.Next() {
		var r model.PreemptionRule
		if err := rows.Scan(&r.State, &r.Category, &r.AllowsLocalOverride); err != nil {
			return nil, eris.Wrap(err, "postgres: scan preemption rule")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list preemption rules iterate")
}

func (s *PostgresStore) SeedPreemptionRules(ctx context.Context, rules []model.PreemptionRule) error {
	for _, r := range rules {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO preemption_rules (state, category, allows_local_override) VALUES ($1, $2, $3)
			 ON CONFLICT (state, category) DO UPDATE SET allows_local_override = EXCLUDED.allows_local_override`,
			r.State, r.Category, r.AllowsLocalOverride,
		); err != nil {
			return eris.Wrapf(err, "postgres: seed rule %s/%s", r.State, r.Category)
		}
	}
	return nil
}

func (s *PostgresStore) GetPatternDetection(ctx context.Context, patternKey string, year int) (*model.PatternDetection, error) {
	var d model.PatternDetection
	var matchedJSON, flaggedJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, pattern_key, detection_year, jurisdictions_matched, jurisdictions_flagged, alerts_created, updated_at
		 FROM pattern_detections WHERE pattern_key = $1 AND detection_year = $2`,
		patternKey, year,
	).Scan(&d.ID, &d.PatternKey, &d.DetectionYear, &matchedJSON, &flaggedJSON, &d.AlertsCreated, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get pattern detection")
	}
	if err := json.Unmarshal(matchedJSON, &d.JurisdictionsMatched); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal matched jurisdictions")
	}
	if err := json.Unmarshal(flaggedJSON, &d.JurisdictionsFlagged); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal flagged jurisdictions")
	}
	return &d, nil
}

func (s *PostgresStore) UpsertPatternDetection(ctx context.Context, d model.PatternDetection) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	matchedJSON, err := json.Marshal(d.JurisdictionsMatched)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal matched jurisdictions")
	}
	flaggedJSON, err := json.Marshal(d.JurisdictionsFlagged)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal flagged jurisdictions")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO pattern_detections
		 (id, pattern_key, detection_year, jurisdictions_matched, jurisdictions_flagged, alerts_created, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (pattern_key, detection_year) DO UPDATE SET
		   jurisdictions_matched = EXCLUDED.jurisdictions_matched,
		   jurisdictions_flagged = EXCLUDED.jurisdictions_flagged,
		   alerts_created = EXCLUDED.alerts_created,
		   updated_at = EXCLUDED.updated_at`,
		d.ID, d.PatternKey, d.DetectionYear, matchedJSON, flaggedJSON, d.AlertsCreated, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert pattern detection %s/%d", d.PatternKey, d.DetectionYear)
}

func (s *PostgresStore) AppendAuditEvent(ctx context.Context, ev model.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	detailsJSON, err := json.Marshal(ev.Details)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal audit details")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_events (id, event_type, source_key, jurisdiction_id, details, triggered_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, string(ev.Type), ev.SourceKey, ev.JurisdictionID, detailsJSON, ev.TriggeredBy, ev.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append audit event")
}

func (s *PostgresStore) InsertAlert(ctx context.Context, a model.ComplianceAlert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	metadataJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal alert metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO compliance_alerts (id, location_id, company_id, severity, category, alert_type, dedupe_key, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.LocationID, a.CompanyID, a.Severity.String(), a.Category, string(a.Type), a.DedupeKey, metadataJSON, a.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert alert")
}

func (s *PostgresStore) RecentAlertSeverity(ctx context.Context, locationID, dedupeKey string, since time.Time) (model.Severity, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT severity FROM compliance_alerts
		 WHERE location_id = $1 AND dedupe_key = $2 AND created_at >= $3`,
		locationID, dedupeKey, since.UTC(),
	)
	if err != nil {
		return model.SeverityInfo, false, eris.Wrap(err, "postgres: recent alert severity")
	}
	defer rows.Close()

	var best model.Severity
	found := false
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return model.SeverityInfo, false, eris.Wrap(err, "postgres: scan severity")
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
	return best, found, eris.Wrap(rows.Err(), "postgres: recent alert severity iterate")
}

func (s *PostgresStore) ListLocationsForJurisdiction(ctx context.Context, jurisdictionID string) ([]model.BusinessLocation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, jurisdiction_id, state FROM business_locations WHERE jurisdiction_id = $1 ORDER BY id`,
		jurisdictionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list locations %s", jurisdictionID)
	}
	defer rows.Close()

	var out []model.BusinessLocation
	for rows.Next() {
		var l model.BusinessLocation
		if err := rows.Scan(&l.ID, &l.CompanyID, &l.JurisdictionID, &l.State); err != nil {
			return nil, eris.Wrap(err, "postgres: scan location")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list locations iterate")
}

func (s *PostgresStore) EnqueueReview(ctx context.Context, item model.ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_queue (id, reason, source_key, jurisdiction_id, category, old_value, new_value, note, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9)`,
		item.ID, string(item.Reason), item.SourceKey, item.JurisdictionID, item.Category,
		item.OldValue, item.NewValue, item.Note, item.CreatedAt,
	)
	return eris.Wrap(err, "postgres: enqueue review")
}

func (s *PostgresStore) ListPendingReviews(ctx context.Context, limit int) ([]model.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, reason, source_key, jurisdiction_id, category, old_value, new_value, note, created_at
		 FROM review_queue WHERE status = 'pending' ORDER BY created_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending reviews")
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		var it model.ReviewItem
		var reason string
		if err := rows.Scan(&it.ID, &reason, &it.SourceKey, &it.JurisdictionID, &it.Category,
			&it.OldValue, &it.NewValue, &it.Note, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review item")
		}
		it.Reason = model.ReviewReason(reason)
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pending reviews iterate")
}

func (s *PostgresStore) GetSchedulerState(ctx context.Context, name string) (*model.SchedulerState, error) {
	st := &model.SchedulerState{Name: name}
	err := s.pool.QueryRow(ctx,
		`SELECT last_refresh_at FROM scheduler_state WHERE name = $1`, name,
	).Scan(&st.LastRefreshAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return st, nil
		}
		return nil, eris.Wrapf(err, "postgres: get scheduler state %s", name)
	}
	return st, nil
}

func (s *PostgresStore) SetSchedulerState(ctx context.Context, name string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scheduler_state (name, last_refresh_at) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET last_refresh_at = EXCLUDED.last_refresh_at`,
		name, at.UTC(),
	)
	return eris.Wrapf(err, "postgres: set scheduler state %s", name)
}

// helpers

func scanPgRequirement(row pgx.Row) (*model.Requirement, error) {
	var r model.Requirement
	var level string
	var tier int

	err := row.Scan(&r.ID, &r.JurisdictionID, &r.Jurisdiction, &r.State, &level, &r.Category, &r.RateType, &r.Title,
		&r.CurrentValue, &r.NumericValue, &r.EffectiveDate, &r.SourceKey, &tier, &r.Governing,
		&r.LastVerifiedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan requirement")
	}
	r.Level = model.JurisdictionLevel(level)
	r.SourceTier = model.SourceTier(tier)
	return &r, nil
}

func collectPgStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, eris.Wrap(err, "postgres: scan id")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate ids")
}
