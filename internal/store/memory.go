package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/laborwatch/compliance-cli/internal/model"
)

// MemoryStore is an in-memory Store used by tests and the --dry-run cycle
// mode. It mirrors the SQL stores' conflict semantics (natural-key upserts,
// feed-item dedupe) without a database.
type MemoryStore struct {
	mu sync.Mutex

	sources      map[string]model.StructuredSource
	feeds        map[string]model.RSSFeed
	feedItems    map[string]model.FeedItem // keyed feed_id|item_hash
	requirements map[string]model.Requirement
	rules        []model.PreemptionRule
	detections   map[string]model.PatternDetection // keyed pattern_key|year
	events       []model.AuditEvent
	alerts       []model.ComplianceAlert
	locations    []model.BusinessLocation
	reviews      []model.ReviewItem
	schedState   map[string]time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sources:      make(map[string]model.StructuredSource),
		feeds:        make(map[string]model.RSSFeed),
		feedItems:    make(map[string]model.FeedItem),
		requirements: make(map[string]model.Requirement),
		detections:   make(map[string]model.PatternDetection),
		schedState:   make(map[string]time.Time),
	}
}

func reqKey(r model.Requirement) string {
	return strings.Join([]string{r.SourceKey, r.JurisdictionID, r.Category, r.RateType}, "|")
}

// SeedSource inserts or replaces a structured source (test/setup helper).
func (m *MemoryStore) SeedSource(src model.StructuredSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.SourceKey] = src
}

// SeedFeed inserts or replaces an RSS feed (test/setup helper).
func (m *MemoryStore) SeedFeed(feed model.RSSFeed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[feed.ID] = feed
}

// SeedLocation registers a business location (test/setup helper).
func (m *MemoryStore) SeedLocation(loc model.BusinessLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = append(m.locations, loc)
}

func (m *MemoryStore) ListStructuredSources(_ context.Context) ([]model.StructuredSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.StructuredSource, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceKey < out[j].SourceKey })
	return out, nil
}

func (m *MemoryStore) SaveSourceBreakerState(_ context.Context, src model.StructuredSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.SourceKey] = src
	return nil
}

func (m *MemoryStore) ListRSSFeeds(_ context.Context) ([]model.RSSFeed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RSSFeed, 0, len(m.feeds))
	for _, f := range m.feeds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) InsertFeedItem(_ context.Context, item model.FeedItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := item.FeedID + "|" + item.ItemHash
	if _, exists := m.feedItems[key]; exists {
		return false, nil
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	m.feedItems[key] = item
	return true, nil
}

func (m *MemoryStore) MarkFeedItemProcessed(_ context.Context, itemID string, verifyTriggered bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, it := range m.feedItems {
		if it.ID == itemID {
			it.Processed = true
			it.VerifyTriggered = verifyTriggered
			m.feedItems[k] = it
		}
	}
	return nil
}

func (m *MemoryStore) ListUnprocessedFeedItems(_ context.Context, minScore float64, limit int) ([]model.FeedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FeedItem
	for _, it := range m.feedItems {
		if !it.Processed && it.RelevanceScore >= minScore {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].ItemHash < out[j].ItemHash
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkFeedBacklogProcessed(_ context.Context, feedID string, maxScore float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, it := range m.feedItems {
		if it.FeedID == feedID && !it.Processed && it.RelevanceScore <= maxScore {
			it.Processed = true
			m.feedItems[k] = it
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListCandidateRequirements(_ context.Context, state string) ([]model.Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Requirement
	for _, r := range m.requirements {
		if r.State == state {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return reqKey(out[i]) < reqKey(out[j]) })
	return out, nil
}

func (m *MemoryStore) GetGoverningRequirement(_ context.Context, jurisdictionID, category, rateType string) (*model.Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requirements {
		if r.Governing && r.JurisdictionID == jurisdictionID && r.Category == category && r.RateType == rateType {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) UpsertRequirement(_ context.Context, req model.Requirement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(req)
	return nil
}

func (m *MemoryStore) upsertLocked(req model.Requirement) {
	key := reqKey(req)
	if existing, ok := m.requirements[key]; ok {
		req.ID = existing.ID
	} else if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = time.Now().UTC()
	}
	m.requirements[key] = req
}

func (m *MemoryStore) BulkUpsertRequirements(_ context.Context, reqs []model.Requirement) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range reqs {
		m.upsertLocked(r)
	}
	return int64(len(reqs)), nil
}

func (m *MemoryStore) UpdateLastVerified(_ context.Context, jurisdictionID, category string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.requirements {
		if r.JurisdictionID == jurisdictionID && r.Category == category {
			t := at
			r.LastVerifiedAt = &t
			m.requirements[k] = r
		}
	}
	return nil
}

func (m *MemoryStore) JurisdictionsChangedWithin(_ context.Context, category string, from, to time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, r := range m.requirements {
		if r.Category != category || !r.Governing {
			continue
		}
		if r.UpdatedAt.Before(from) || r.UpdatedAt.After(to) {
			continue
		}
		if !seen[r.JurisdictionID] {
			seen[r.JurisdictionID] = true
			out = append(out, r.JurisdictionID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) StaleJurisdictions(_ context.Context, category string, olderThan time.Time, exclude []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, r := range m.requirements {
		if r.Category != category || excluded[r.JurisdictionID] || seen[r.JurisdictionID] {
			continue
		}
		if r.LastVerifiedAt == nil || r.LastVerifiedAt.Before(olderThan) {
			seen[r.JurisdictionID] = true
			out = append(out, r.JurisdictionID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) ListPreemptionRules(_ context.Context) ([]model.PreemptionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PreemptionRule(nil), m.rules...), nil
}

func (m *MemoryStore) SeedPreemptionRules(_ context.Context, rules []model.PreemptionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]model.PreemptionRule(nil), rules...)
	return nil
}

func (m *MemoryStore) GetPatternDetection(_ context.Context, patternKey string, year int) (*model.PatternDetection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.detections[detectionKey(patternKey, year)]; ok {
		cp := d
		return &cp, nil
	}
	return nil, nil
}

func detectionKey(patternKey string, year int) string {
	return patternKey + "|" + time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006")
}

func (m *MemoryStore) UpsertPatternDetection(_ context.Context, d model.PatternDetection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := detectionKey(d.PatternKey, d.DetectionYear)
	if existing, ok := m.detections[key]; ok {
		d.ID = existing.ID
	} else if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.UpdatedAt = time.Now().UTC()
	m.detections[key] = d
	return nil
}

func (m *MemoryStore) AppendAuditEvent(_ context.Context, ev model.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// AuditEvents returns a copy of the appended events (test helper).
func (m *MemoryStore) AuditEvents() []model.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AuditEvent(nil), m.events...)
}

func (m *MemoryStore) InsertAlert(_ context.Context, a model.ComplianceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.alerts = append(m.alerts, a)
	return nil
}

// Alerts returns a copy of the inserted alerts (test helper).
func (m *MemoryStore) Alerts() []model.ComplianceAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ComplianceAlert(nil), m.alerts...)
}

func (m *MemoryStore) RecentAlertSeverity(_ context.Context, locationID, dedupeKey string, since time.Time) (model.Severity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best model.Severity
	found := false
	for _, a := range m.alerts {
		if a.LocationID == locationID && a.DedupeKey == dedupeKey && !a.CreatedAt.Before(since) {
			if !found || a.Severity > best {
				best = a.Severity
			}
			found = true
		}
	}
	return best, found, nil
}

func (m *MemoryStore) ListLocationsForJurisdiction(_ context.Context, jurisdictionID string) ([]model.BusinessLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BusinessLocation
	for _, l := range m.locations {
		if l.JurisdictionID == jurisdictionID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryStore) EnqueueReview(_ context.Context, item model.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	m.reviews = append(m.reviews, item)
	return nil
}

func (m *MemoryStore) ListPendingReviews(_ context.Context, limit int) ([]model.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.ReviewItem(nil), m.reviews...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetSchedulerState(_ context.Context, name string) (*model.SchedulerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &model.SchedulerState{Name: name}
	if t, ok := m.schedState[name]; ok {
		cp := t
		st.LastRefreshAt = &cp
	}
	return st, nil
}

func (m *MemoryStore) SetSchedulerState(_ context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedState[name] = at.UTC()
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
