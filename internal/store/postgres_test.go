package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laborwatch/compliance-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_GetGoverningRequirement_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM requirements`).
		WithArgs("ca:nowhere", "minimum_wage", "general").
		WillReturnError(pgx.ErrNoRows)

	req, err := s.GetGoverningRequirement(context.Background(), "ca:nowhere", "minimum_wage", "general")
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertFeedItem_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// ON CONFLICT DO NOTHING reports zero rows affected for a duplicate.
	mock.ExpectExec(`INSERT INTO feed_items`).
		WithArgs(pgxmock.AnyArg(), "ca_leg", "abc123", pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.InsertFeedItem(context.Background(), model.FeedItem{
		FeedID:   "ca_leg",
		ItemHash: "abc123",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertFeedItem_New(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO feed_items`).
		WithArgs(pgxmock.AnyArg(), "ca_leg", "abc123", pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := s.InsertFeedItem(context.Background(), model.FeedItem{
		FeedID:   "ca_leg",
		ItemHash: "abc123",
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveBreakerState_UnknownSource(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE structured_sources`).
		WithArgs(0, pgxmock.AnyArg(), pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SaveSourceBreakerState(context.Background(), model.StructuredSource{SourceKey: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkFeedBacklogProcessed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE feed_items SET processed = true`).
		WithArgs("ca_leg", 0.3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 7))

	n, err := s.MarkFeedBacklogProcessed(context.Background(), "ca_leg", 0.3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecentAlertSeverity_PicksHighest(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"severity"}).
		AddRow("info").
		AddRow("critical").
		AddRow("warning")
	mock.ExpectQuery(`SELECT severity FROM compliance_alerts`).
		WithArgs("loc-1", "key", pgxmock.AnyArg()).
		WillReturnRows(rows)

	sev, found, err := s.RecentAlertSeverity(context.Background(), "loc-1", "key", time.Now())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, model.SeverityCritical, sev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSchedulerState_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT last_refresh_at FROM scheduler_state`).
		WithArgs("rss_monitor").
		WillReturnError(pgx.ErrNoRows)

	st, err := s.GetSchedulerState(context.Background(), "rss_monitor")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Nil(t, st.LastRefreshAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BulkUpsertRequirements_TempTableFlow(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_staging_requirements"}, requirementUpsertCols).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "requirements"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := s.BulkUpsertRequirements(context.Background(), []model.Requirement{
		{JurisdictionID: "ca:alameda", State: "CA", Category: "minimum_wage", SourceKey: "ca_wage_table"},
		{JurisdictionID: "ca:berkeley", State: "CA", Category: "minimum_wage", SourceKey: "ca_wage_table"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
