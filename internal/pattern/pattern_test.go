package pattern

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laborwatch/compliance-cli/internal/audit"
	"github.com/laborwatch/compliance-cli/internal/model"
	"github.com/laborwatch/compliance-cli/internal/store"
)

var janFirstWage = model.CalendarPattern{
	Key:              "jan1_minimum_wage",
	Category:         "minimum_wage",
	TriggerMonth:     1,
	TriggerDay:       1,
	WindowDays:       14,
	MinJurisdictions: 3,
}

func seedGoverning(t *testing.T, st *store.MemoryStore, jurisdictionID string, updatedAt time.Time, verifiedAt *time.Time) {
	t.Helper()
	err := st.UpsertRequirement(context.Background(), model.Requirement{
		JurisdictionID: jurisdictionID,
		State:          "CA",
		Level:          model.LevelCity,
		Category:       "minimum_wage",
		RateType:       "general",
		CurrentValue:   "$17.00/hr",
		SourceKey:      "test",
		Governing:      true,
		LastVerifiedAt: verifiedAt,
		UpdatedAt:      updatedAt,
	})
	require.NoError(t, err)
}

func TestDetect_MatchesAndFlagsStalePeers(t *testing.T) {
	st := store.NewMemory()
	r := New(st, audit.New(st, "test"))
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	r.nowFunc = func() time.Time { return now }

	inWindow := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"ca:alameda", "ca:berkeley", "ca:emeryville"} {
		seedGoverning(t, st, id, inWindow, &inWindow)
	}
	// Stale peer: never verified.
	seedGoverning(t, st, "ca:fremont", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), nil)
	// Fresh peer: verified recently, not flagged.
	fresh := now.Add(-24 * time.Hour)
	seedGoverning(t, st, "ca:hayward", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), &fresh)

	d, err := r.Detect(context.Background(), janFirstWage)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2026, d.DetectionYear)
	assert.ElementsMatch(t, []string{"ca:alameda", "ca:berkeley", "ca:emeryville"}, d.JurisdictionsMatched)
	assert.Equal(t, []string{"ca:fremont"}, d.JurisdictionsFlagged)

	var sawAudit bool
	for _, ev := range st.AuditEvents() {
		if ev.Type == model.EventPatternDetected {
			sawAudit = true
		}
	}
	assert.True(t, sawAudit)
}

func TestDetect_BelowMinimumRecordsNothing(t *testing.T) {
	st := store.NewMemory()
	r := New(st, audit.New(st, "test"))
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	r.nowFunc = func() time.Time { return now }

	inWindow := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	seedGoverning(t, st, "ca:alameda", inWindow, &inWindow)
	seedGoverning(t, st, "ca:berkeley", inWindow, &inWindow)

	d, err := r.Detect(context.Background(), janFirstWage)
	require.NoError(t, err)
	assert.Nil(t, d)

	stored, err := st.GetPatternDetection(context.Background(), janFirstWage.Key, 2026)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestDetect_Idempotent(t *testing.T) {
	st := store.NewMemory()
	r := New(st, audit.New(st, "test"))
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	r.nowFunc = func() time.Time { return now }

	inWindow := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"ca:alameda", "ca:berkeley", "ca:emeryville"} {
		seedGoverning(t, st, id, inWindow, &inWindow)
	}

	first, err := r.Detect(context.Background(), janFirstWage)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NotEmpty(t, first.ID, "first detection must carry its persisted ID")
	require.NoError(t, r.RecordAlerts(context.Background(), first, 4))

	// A fourth jurisdiction lands inside the same window; rerun recomputes.
	seedGoverning(t, st, "ca:oakland", inWindow, &inWindow)
	second, err := r.Detect(context.Background(), janFirstWage)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.ID, second.ID, "reruns must upsert one row, not two")
	assert.Len(t, second.JurisdictionsMatched, 4)
	assert.Equal(t, 4, second.AlertsCreated, "alert count from earlier runs survives")
}

func TestDetectionYear_BeforeWindowUsesPriorYear(t *testing.T) {
	st := store.NewMemory()
	r := New(st, audit.New(st, "test"))
	julyWage := model.CalendarPattern{
		Key:          "jul1_minimum_wage",
		Category:     "minimum_wage",
		TriggerMonth: 7,
		TriggerDay:   1,
		WindowDays:   14,
	}

	// After the trigger: evaluate this year's occurrence.
	aug := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 2026, r.detectionYear(julyWage, aug))

	// Before this year's window opens: evaluate last year's occurrence.
	feb := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 2025, r.detectionYear(julyWage, feb))
}
