// Package cycle orchestrates one monitoring pass: structured fetches, RSS
// ingestion, AI verification of escalated items, per-state resolution with
// change detection, and calendar-pattern sweeps.
package cycle

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/laborwatch/compliance-cli/internal/audit"
	"github.com/laborwatch/compliance-cli/internal/change"
	"github.com/laborwatch/compliance-cli/internal/fetcher"
	"github.com/laborwatch/compliance-cli/internal/model"
	"github.com/laborwatch/compliance-cli/internal/normalize"
	"github.com/laborwatch/compliance-cli/internal/pattern"
	"github.com/laborwatch/compliance-cli/internal/relevance"
	"github.com/laborwatch/compliance-cli/internal/resilience"
	"github.com/laborwatch/compliance-cli/internal/resolver"
	"github.com/laborwatch/compliance-cli/internal/store"
)

// Analyzer is the AI verification boundary. Implementations must treat every
// failure as absence of signal and never panic the cycle.
type Analyzer interface {
	Analyze(ctx context.Context, itemText, jurisdiction string) model.Verification
}

// Options tunes one cycle run. Zero values fall back to production defaults.
type Options struct {
	// MaxConcurrentFetches bounds parallel structured-source fetches and
	// parallel verification calls.
	MaxConcurrentFetches int
	// VerifyTopN caps AI verification calls per cycle.
	VerifyTopN int
	// VerifyTimeout bounds each individual verification call.
	VerifyTimeout time.Duration
	// VerifyRPM is the shared requests-per-minute budget for the AI API.
	VerifyRPM int
	// RSSCooldown is the minimum gap between RSS passes; a cycle starting
	// inside the cooldown skips the RSS phase entirely.
	RSSCooldown time.Duration
	// AlertDedupeWindow suppresses a repeat alert for the same location and
	// dedupe key unless the new one is strictly more severe.
	AlertDedupeWindow time.Duration
	// MaxBacklogScore is the threshold at or below which unprocessed feed
	// items are closed out without verification.
	MaxBacklogScore float64
	// PendingReviewScan caps how many pending reviews are loaded to dedupe
	// initial-source-review enqueues.
	PendingReviewScan int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentFetches: 4,
		VerifyTopN:           relevance.DefaultTopN,
		VerifyTimeout:        30 * time.Second,
		VerifyRPM:            50,
		RSSCooldown:          6 * time.Hour,
		AlertDedupeWindow:    24 * time.Hour,
		MaxBacklogScore:      relevance.DefaultThreshold,
		PendingReviewScan:    500,
	}
}

func withDefaults(o Options) Options {
	d := DefaultOptions()
	if o.MaxConcurrentFetches <= 0 {
		o.MaxConcurrentFetches = d.MaxConcurrentFetches
	}
	if o.VerifyTopN <= 0 {
		o.VerifyTopN = d.VerifyTopN
	}
	if o.VerifyTimeout <= 0 {
		o.VerifyTimeout = d.VerifyTimeout
	}
	if o.VerifyRPM <= 0 {
		o.VerifyRPM = d.VerifyRPM
	}
	if o.RSSCooldown <= 0 {
		o.RSSCooldown = d.RSSCooldown
	}
	if o.AlertDedupeWindow <= 0 {
		o.AlertDedupeWindow = d.AlertDedupeWindow
	}
	if o.MaxBacklogScore <= 0 {
		o.MaxBacklogScore = d.MaxBacklogScore
	}
	if o.PendingReviewScan <= 0 {
		o.PendingReviewScan = d.PendingReviewScan
	}
	return o
}

// rssSchedulerName keys the RSS cooldown timestamp in scheduler state.
const rssSchedulerName = "rss_monitor"

// Stats summarizes one cycle run for logging and the CLI.
type Stats struct {
	SourcesFetched   int
	SourcesSkipped   int
	SourceErrors     int
	RowsUpserted     int64
	RSSSkipped       bool
	FeedsFetched     int
	FeedErrors       int
	ItemsSeen        int
	ItemsInserted    int
	BacklogClosed    int64
	AICalls          int
	StatesResolved   int
	MaterialChanges  int
	AlertsCreated    int
	ReviewsEnqueued  int
	PatternsDetected int
}

// Deps collects the collaborators a Cycle wires together.
type Deps struct {
	Store      store.Store
	Audit      *audit.Logger
	Breaker    *resilience.SourceBreaker
	Structured *fetcher.StructuredFetcher
	RSS        *fetcher.RSSFetcher
	Scorer     *relevance.Scorer
	Analyzer   Analyzer
	Recognizer *pattern.Recognizer
	Patterns   []model.CalendarPattern
}

// Cycle runs monitoring passes. Safe to reuse across runs; not safe for
// concurrent Run calls against the same SQLite store.
type Cycle struct {
	deps    Deps
	opts    Options
	nowFunc func() time.Time
}

// New builds a Cycle.
func New(deps Deps, opts Options) *Cycle {
	return &Cycle{deps: deps, opts: withDefaults(opts), nowFunc: time.Now}
}

// Run executes one full monitoring pass. Per-source and per-feed failures are
// counted and logged, not fatal; only infrastructure failures (listing
// sources, loading preemption rules) abort the run.
func (c *Cycle) Run(ctx context.Context) (Stats, error) {
	var st Stats
	start := c.nowFunc()

	touched, prior, err := c.fetchStructured(ctx, &st)
	if err != nil {
		return st, err
	}
	c.fetchFeeds(ctx, &st)
	c.verifyEscalations(ctx, &st)
	if err := c.resolveStates(ctx, &st, touched, prior); err != nil {
		return st, err
	}
	c.sweepPatterns(ctx, &st)

	zap.L().Info("cycle complete",
		zap.Duration("elapsed", c.nowFunc().Sub(start)),
		zap.Int("sources_fetched", st.SourcesFetched),
		zap.Int("source_errors", st.SourceErrors),
		zap.Int("items_inserted", st.ItemsInserted),
		zap.Int("ai_calls", st.AICalls),
		zap.Int("material_changes", st.MaterialChanges),
		zap.Int("alerts_created", st.AlertsCreated),
		zap.Int("reviews_enqueued", st.ReviewsEnqueued),
		zap.Int("patterns_detected", st.PatternsDetected),
	)
	return st, nil
}

// fetchStructured pulls every active tier-1 source whose circuit is closed,
// bulk-upserting candidate rows. Returns the set of states whose candidates
// changed, which bounds the resolution phase, plus a snapshot of the
// governing rows as they stood before this cycle's upserts. The snapshot is
// what change detection compares against: upserting a refreshed row
// overwrites the stored value, so reading it afterward would always find the
// new value and never see a change.
func (c *Cycle) fetchStructured(ctx context.Context, st *Stats) (map[string]bool, map[string]*model.Requirement, error) {
	sources, err := c.deps.Store.ListStructuredSources(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "cycle: list structured sources")
	}
	pendingInitial, err := c.pendingInitialReviews(ctx)
	if err != nil {
		return nil, nil, err
	}

	touched := make(map[string]bool)
	prior := make(map[string]*model.Requirement)
	priorSeen := make(map[string]bool)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxConcurrentFetches)

	for i := range sources {
		src := &sources[i]
		if !src.Active {
			continue
		}
		if c.deps.Breaker.IsOpen(ctx, src) {
			st.SourcesSkipped++
			zap.L().Info("skipping source, circuit open",
				zap.String("source", src.SourceKey),
				zap.Timep("open_until", src.CircuitOpenUntil),
			)
			continue
		}
		if src.RequiresInitialReview && src.LastFetchedAt == nil {
			st.SourcesSkipped++
			if !pendingInitial[src.SourceKey] {
				c.enqueueInitialReview(ctx, st, src)
			}
			continue
		}

		g.Go(func() error {
			candidates, err := c.deps.Structured.FetchSource(gctx, src)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				st.SourceErrors++
				return nil
			}
			for _, cand := range candidates {
				key := cand.JurisdictionID + "|" + normalize.RequirementKey(cand.Category, cand.RateType)
				if priorSeen[key] {
					continue
				}
				priorSeen[key] = true
				old, err := c.deps.Store.GetGoverningRequirement(gctx, cand.JurisdictionID, cand.Category, cand.RateType)
				if err != nil {
					zap.L().Warn("cycle: prior governing lookup failed",
						zap.String("jurisdiction", cand.JurisdictionID),
						zap.Error(err),
					)
					continue
				}
				prior[key] = old
			}
			rows, err := c.deps.Store.BulkUpsertRequirements(gctx, candidates)
			if err != nil {
				st.SourceErrors++
				zap.L().Error("cycle: bulk upsert failed",
					zap.String("source", src.SourceKey),
					zap.Error(err),
				)
				return nil
			}
			st.SourcesFetched++
			st.RowsUpserted += rows
			for _, cand := range candidates {
				touched[cand.State] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrap(err, "cycle: structured fetch phase")
	}
	return touched, prior, nil
}

func (c *Cycle) pendingInitialReviews(ctx context.Context) (map[string]bool, error) {
	reviews, err := c.deps.Store.ListPendingReviews(ctx, c.opts.PendingReviewScan)
	if err != nil {
		return nil, eris.Wrap(err, "cycle: list pending reviews")
	}
	pending := make(map[string]bool)
	for _, r := range reviews {
		if r.Reason == model.ReasonInitialSourceReview {
			pending[r.SourceKey] = true
		}
	}
	return pending, nil
}

func (c *Cycle) enqueueInitialReview(ctx context.Context, st *Stats, src *model.StructuredSource) {
	item := model.ReviewItem{
		ID:        uuid.New().String(),
		Reason:    model.ReasonInitialSourceReview,
		SourceKey: src.SourceKey,
		Note:      "new source held until a human confirms the parse config: " + src.URL,
		CreatedAt: c.nowFunc().UTC(),
	}
	if err := c.deps.Store.EnqueueReview(ctx, item); err != nil {
		zap.L().Error("cycle: enqueue initial review failed",
			zap.String("source", src.SourceKey),
			zap.Error(err),
		)
		return
	}
	st.ReviewsEnqueued++
}

// fetchFeeds runs the RSS pass unless the cooldown since the last pass has
// not elapsed.
func (c *Cycle) fetchFeeds(ctx context.Context, st *Stats) {
	now := c.nowFunc().UTC()
	sched, err := c.deps.Store.GetSchedulerState(ctx, rssSchedulerName)
	if err != nil {
		zap.L().Warn("cycle: scheduler state read failed", zap.Error(err))
	} else if sched != nil && sched.LastRefreshAt != nil && now.Sub(*sched.LastRefreshAt) < c.opts.RSSCooldown {
		st.RSSSkipped = true
		return
	}

	feeds, err := c.deps.Store.ListRSSFeeds(ctx)
	if err != nil {
		zap.L().Error("cycle: list feeds failed", zap.Error(err))
		st.FeedErrors++
		return
	}
	for _, feed := range feeds {
		if !feed.Active {
			continue
		}
		res, err := c.deps.RSS.FetchFeed(ctx, feed, c.deps.Scorer.Score, c.opts.MaxBacklogScore)
		if err != nil {
			st.FeedErrors++
			zap.L().Warn("cycle: feed fetch failed",
				zap.String("feed", feed.Name),
				zap.Error(err),
			)
			continue
		}
		st.FeedsFetched++
		st.ItemsSeen += res.ItemsSeen
		st.ItemsInserted += res.ItemsInserted
		st.BacklogClosed += res.BacklogClosed
	}

	if err := c.deps.Store.SetSchedulerState(ctx, rssSchedulerName, now); err != nil {
		zap.L().Warn("cycle: scheduler state write failed", zap.Error(err))
	}
}

// verifyEscalations runs AI verification over the highest-relevance
// unprocessed items. Calls run concurrently under a shared RPM budget; each
// call gets its own timeout. Every selected item is marked processed whether
// or not the verdict parsed, so a bad batch cannot wedge the queue.
func (c *Cycle) verifyEscalations(ctx context.Context, st *Stats) {
	items, err := c.deps.Store.ListUnprocessedFeedItems(ctx, c.deps.Scorer.Threshold(), c.opts.VerifyTopN)
	if err != nil {
		zap.L().Error("cycle: list unprocessed items failed", zap.Error(err))
		return
	}
	items = c.deps.Scorer.SelectEscalations(items, c.opts.VerifyTopN)
	if len(items) == 0 {
		return
	}

	feedJurisdictions := c.feedJurisdictionIndex(ctx)

	limiter := rate.NewLimiter(rate.Limit(float64(c.opts.VerifyRPM)/60.0), 1)
	verdicts := make([]model.Verification, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxConcurrentFetches)
	for i := range items {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			callCtx, cancel := context.WithTimeout(gctx, c.opts.VerifyTimeout)
			defer cancel()
			text := items[i].Title + "\n\n" + items[i].Description
			verdicts[i] = c.deps.Analyzer.Analyze(callCtx, text, feedJurisdictions[items[i].FeedID])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		zap.L().Warn("cycle: verification phase interrupted", zap.Error(err))
	}
	st.AICalls += len(items)

	for i, item := range items {
		v := verdicts[i]
		c.deps.Audit.Verification(ctx, item.FeedID, item.ItemHash, v)
		if err := c.deps.Store.MarkFeedItemProcessed(ctx, item.ID, true); err != nil {
			zap.L().Error("cycle: mark item processed failed",
				zap.String("item", item.ID),
				zap.Error(err),
			)
		}
		if v.Kind != model.VerificationRelevant {
			continue
		}
		c.createAlerts(ctx, st, feedJurisdictions[item.FeedID], model.SeverityWarning,
			v.Category, model.AlertReviewRecommended, "feed_item|"+item.ItemHash,
			map[string]any{
				"title":          item.Title,
				"link":           item.Link,
				"summary":        v.Summary,
				"change_type":    v.ChangeType,
				"confidence":     v.Confidence,
				"effective_date": v.EffectiveDate,
			})
	}
}

func (c *Cycle) feedJurisdictionIndex(ctx context.Context) map[string]string {
	idx := make(map[string]string)
	feeds, err := c.deps.Store.ListRSSFeeds(ctx)
	if err != nil {
		zap.L().Warn("cycle: feed index load failed", zap.Error(err))
		return idx
	}
	for _, f := range feeds {
		idx[f.ID] = model.JurisdictionID(f.State, f.Jurisdiction)
	}
	return idx
}

// resolveStates re-runs conflict resolution for every state whose candidates
// changed this cycle, classifies the winner against the previous governing
// value, and publishes or escalates accordingly.
func (c *Cycle) resolveStates(ctx context.Context, st *Stats, touched map[string]bool, prior map[string]*model.Requirement) error {
	if len(touched) == 0 {
		return nil
	}
	rules, err := c.deps.Store.ListPreemptionRules(ctx)
	if err != nil {
		return eris.Wrap(err, "cycle: load preemption rules")
	}
	res := resolver.New(rules)

	states := make([]string, 0, len(touched))
	for s := range touched {
		states = append(states, s)
	}
	sort.Strings(states)

	for _, state := range states {
		candidates, err := c.deps.Store.ListCandidateRequirements(ctx, state)
		if err != nil {
			zap.L().Error("cycle: list candidates failed",
				zap.String("state", state),
				zap.Error(err),
			)
			continue
		}
		if len(candidates) == 0 {
			continue
		}
		for _, r := range res.Resolve(candidates) {
			c.applyResolution(ctx, st, r, prior)
		}
		st.StatesResolved++
	}
	return nil
}

// applyResolution publishes one resolution group. A beyond-tolerance wage
// decrease is never published: it goes to human review and the previous
// governing value stands.
func (c *Cycle) applyResolution(ctx context.Context, st *Stats, r resolver.Resolution, prior map[string]*model.Requirement) {
	winner := r.Winner

	suppressed := make(map[string]string, len(r.Suppressed))
	for _, s := range r.Suppressed {
		suppressed[s.Candidate.JurisdictionID+"/"+s.Candidate.SourceKey] = s.Reason
	}
	c.deps.Audit.SourceSelection(ctx, winner.JurisdictionID, r.Key, winner.SourceKey, suppressed)

	if winner.JurisdictionID == "" {
		// Preempted family with no state-level row: nothing governs, but
		// the losers still get demoted.
		c.demoteSuppressed(ctx, r.Suppressed)
		return
	}

	old, snapshotted := prior[winner.JurisdictionID+"|"+r.Key]
	if !snapshotted {
		// Winner was not re-fetched this cycle, so its stored governing row
		// still holds the pre-cycle value.
		var err error
		old, err = c.deps.Store.GetGoverningRequirement(ctx, winner.JurisdictionID, winner.Category, winner.RateType)
		if err != nil {
			zap.L().Error("cycle: governing lookup failed",
				zap.String("jurisdiction", winner.JurisdictionID),
				zap.String("key", r.Key),
				zap.Error(err),
			)
			return
		}
	}

	cls := change.None
	if old != nil {
		cls = change.Classify(old.CurrentValue, winner.CurrentValue, winner.Category)
	}

	if cls == change.VerificationPending {
		c.deps.Audit.VerificationPending(ctx, winner.JurisdictionID, winner.Category, old.CurrentValue, winner.CurrentValue)
		item := model.ReviewItem{
			ID:             uuid.New().String(),
			Reason:         model.ReasonWageDecrease,
			SourceKey:      winner.SourceKey,
			JurisdictionID: winner.JurisdictionID,
			Category:       winner.Category,
			OldValue:       old.CurrentValue,
			NewValue:       winner.CurrentValue,
			CreatedAt:      c.nowFunc().UTC(),
		}
		if err := c.deps.Store.EnqueueReview(ctx, item); err != nil {
			zap.L().Error("cycle: enqueue wage-decrease review failed",
				zap.String("jurisdiction", winner.JurisdictionID),
				zap.Error(err),
			)
			return
		}
		st.ReviewsEnqueued++
		// The fetch phase already upserted the suspect value; restore the
		// prior governing row so reads keep serving the last verified value
		// until a human rules on the decrease.
		restore := *old
		restore.Governing = true
		if err := c.deps.Store.UpsertRequirement(ctx, restore); err != nil {
			zap.L().Error("cycle: restore prior governing value failed",
				zap.String("jurisdiction", winner.JurisdictionID),
				zap.Error(err),
			)
		}
		return
	}

	winner.Governing = true
	if err := c.deps.Store.UpsertRequirement(ctx, winner); err != nil {
		zap.L().Error("cycle: publish winner failed",
			zap.String("jurisdiction", winner.JurisdictionID),
			zap.String("key", r.Key),
			zap.Error(err),
		)
		return
	}
	c.demoteSuppressed(ctx, r.Suppressed)

	if snapshotted {
		// An authoritative fetch re-confirmed this jurisdiction's rows
		// this cycle, so the pattern sweep must not flag it as stale.
		if err := c.deps.Store.UpdateLastVerified(ctx, winner.JurisdictionID, winner.Category, c.nowFunc().UTC()); err != nil {
			zap.L().Warn("cycle: stamp last verified failed",
				zap.String("jurisdiction", winner.JurisdictionID),
				zap.Error(err),
			)
		}
	}

	if cls != change.Material {
		return
	}
	st.MaterialChanges++

	sev := model.SeverityWarning
	if normalize.Category(winner.Category) == normalize.CategoryMinimumWage {
		sev = model.SeverityCritical
	}
	meta := map[string]any{
		"old_value": old.CurrentValue,
		"new_value": winner.CurrentValue,
		"source":    winner.SourceKey,
	}
	if winner.EffectiveDate != nil {
		meta["effective_date"] = winner.EffectiveDate.Format("2006-01-02")
	}
	c.createAlerts(ctx, st, winner.JurisdictionID, sev, winner.Category,
		model.AlertProactive, "change|"+winner.JurisdictionID+"|"+r.Key, meta)
}

func (c *Cycle) demoteSuppressed(ctx context.Context, losers []resolver.Suppressed) {
	for _, s := range losers {
		loser := s.Candidate
		loser.Governing = false
		if err := c.deps.Store.UpsertRequirement(ctx, loser); err != nil {
			zap.L().Warn("cycle: demote suppressed candidate failed",
				zap.String("jurisdiction", loser.JurisdictionID),
				zap.Error(err),
			)
		}
	}
}

// sweepPatterns runs every calendar pattern and alerts the locations of
// flagged stale peers.
func (c *Cycle) sweepPatterns(ctx context.Context, st *Stats) {
	detections := c.deps.Recognizer.DetectAll(ctx, c.deps.Patterns)
	st.PatternsDetected += len(detections)

	byKey := make(map[string]model.CalendarPattern, len(c.deps.Patterns))
	for _, p := range c.deps.Patterns {
		byKey[p.Key] = p
	}

	for i := range detections {
		d := &detections[i]
		dedupe := "pattern|" + d.PatternKey + "|" + strconv.Itoa(d.DetectionYear)
		created := 0
		for _, jur := range d.JurisdictionsFlagged {
			created += c.createAlerts(ctx, st, jur, model.SeverityInfo,
				byKey[d.PatternKey].Category, model.AlertReviewRecommended, dedupe,
				map[string]any{
					"pattern":               d.PatternKey,
					"detection_year":        d.DetectionYear,
					"jurisdictions_matched": d.JurisdictionsMatched,
				})
		}
		if created > 0 {
			if err := c.deps.Recognizer.RecordAlerts(ctx, d, created); err != nil {
				zap.L().Warn("cycle: record pattern alerts failed",
					zap.String("pattern", d.PatternKey),
					zap.Error(err),
				)
			}
		}
	}
}

// createAlerts fans an alert out to every location in the jurisdiction,
// suppressing repeats: an alert of equal or higher severity for the same
// (location, dedupe key) inside the window silences the new one.
func (c *Cycle) createAlerts(ctx context.Context, st *Stats, jurisdictionID string, sev model.Severity, category string, typ model.AlertType, dedupeKey string, meta map[string]any) int {
	if jurisdictionID == "" {
		return 0
	}
	locs, err := c.deps.Store.ListLocationsForJurisdiction(ctx, jurisdictionID)
	if err != nil {
		zap.L().Error("cycle: list locations failed",
			zap.String("jurisdiction", jurisdictionID),
			zap.Error(err),
		)
		return 0
	}

	now := c.nowFunc().UTC()
	since := now.Add(-c.opts.AlertDedupeWindow)
	created := 0
	for _, loc := range locs {
		prior, found, err := c.deps.Store.RecentAlertSeverity(ctx, loc.ID, dedupeKey, since)
		if err != nil {
			zap.L().Warn("cycle: alert dedupe lookup failed",
				zap.String("location", loc.ID),
				zap.Error(err),
			)
			continue
		}
		if found && prior >= sev {
			continue
		}
		a := model.ComplianceAlert{
			ID:         uuid.New().String(),
			LocationID: loc.ID,
			CompanyID:  loc.CompanyID,
			Severity:   sev,
			Category:   category,
			Type:       typ,
			DedupeKey:  dedupeKey,
			Metadata:   meta,
			CreatedAt:  now,
		}
		if err := c.deps.Store.InsertAlert(ctx, a); err != nil {
			zap.L().Error("cycle: insert alert failed",
				zap.String("location", loc.ID),
				zap.Error(err),
			)
			continue
		}
		created++
	}
	st.AlertsCreated += created
	return created
}
