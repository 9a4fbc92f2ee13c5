// Package pattern detects coordinated, calendar-correlated requirement
// changes across jurisdictions and flags unverified peers.
package pattern

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/laborwatch/compliance-cli/internal/audit"
	"github.com/laborwatch/compliance-cli/internal/model"
	"github.com/laborwatch/compliance-cli/internal/store"
)

// staleAfter is how long a peer jurisdiction may go unverified before a
// detected pattern flags it for proactive re-verification.
const staleAfter = 30 * 24 * time.Hour

// LoadPatterns reads calendar pattern definitions from a YAML file.
func LoadPatterns(path string) ([]model.CalendarPattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pattern: read patterns %s", path)
	}
	var doc struct {
		Patterns []model.CalendarPattern `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "pattern: parse patterns %s", path)
	}
	for _, p := range doc.Patterns {
		if p.Key == "" || p.Category == "" {
			return nil, eris.Errorf("pattern: definition missing key or category in %s", path)
		}
	}
	return doc.Patterns, nil
}

// Recognizer evaluates calendar patterns against recorded requirement
// changes. Detections are upserted per (pattern, year) so re-running within
// the same window recomputes rather than duplicates.
type Recognizer struct {
	store   store.Store
	audit   *audit.Logger
	nowFunc func() time.Time
}

// New wires a Recognizer.
func New(st store.Store, auditLog *audit.Logger) *Recognizer {
	return &Recognizer{store: st, audit: auditLog, nowFunc: time.Now}
}

// Detect evaluates one pattern. Returns nil when the match count is below
// the pattern's minimum. On detection the row is upserted, preserving the
// alert count accrued by earlier runs in the same window.
func (r *Recognizer) Detect(ctx context.Context, p model.CalendarPattern) (*model.PatternDetection, error) {
	now := r.nowFunc().UTC()
	year := r.detectionYear(p, now)
	window := time.Duration(p.WindowDays) * 24 * time.Hour
	trigger := p.TriggerDate(year)
	from, to := trigger.Add(-window), trigger.Add(window)

	matched, err := r.store.JurisdictionsChangedWithin(ctx, p.Category, from, to)
	if err != nil {
		return nil, eris.Wrapf(err, "pattern: query changes for %s", p.Key)
	}
	if len(matched) < p.MinJurisdictions {
		return nil, nil
	}

	flagged, err := r.store.StaleJurisdictions(ctx, p.Category, now.Add(-staleAfter), matched)
	if err != nil {
		return nil, eris.Wrapf(err, "pattern: query stale peers for %s", p.Key)
	}

	detection := model.PatternDetection{
		ID:                   uuid.New().String(),
		PatternKey:           p.Key,
		DetectionYear:        year,
		JurisdictionsMatched: matched,
		JurisdictionsFlagged: flagged,
	}
	if prior, err := r.store.GetPatternDetection(ctx, p.Key, year); err == nil && prior != nil {
		detection.ID = prior.ID
		detection.AlertsCreated = prior.AlertsCreated
	}
	if err := r.store.UpsertPatternDetection(ctx, detection); err != nil {
		return nil, eris.Wrapf(err, "pattern: upsert detection %s/%d", p.Key, year)
	}

	r.audit.PatternDetected(ctx, p.Key, year, len(matched), len(flagged))
	return &detection, nil
}

// DetectAll evaluates every pattern, isolating per-pattern failures so one
// bad query cannot abort the rest.
func (r *Recognizer) DetectAll(ctx context.Context, patterns []model.CalendarPattern) []model.PatternDetection {
	var out []model.PatternDetection
	for _, p := range patterns {
		d, err := r.Detect(ctx, p)
		if err != nil {
			zap.L().Error("pattern: detect failed", zap.String("pattern", p.Key), zap.Error(err))
			continue
		}
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

// RecordAlerts bumps the detection's alert count after the orchestrator has
// created alerts for flagged peers.
func (r *Recognizer) RecordAlerts(ctx context.Context, d *model.PatternDetection, created int) error {
	d.AlertsCreated += created
	return r.store.UpsertPatternDetection(ctx, *d)
}

// detectionYear picks the current year when its window has started, else the
// most recently elapsed year's occurrence.
func (r *Recognizer) detectionYear(p model.CalendarPattern, now time.Time) int {
	window := time.Duration(p.WindowDays) * 24 * time.Hour
	trigger := p.TriggerDate(now.Year())
	if now.Before(trigger.Add(-window)) {
		return now.Year() - 1
	}
	return now.Year()
}
