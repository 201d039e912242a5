package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitbase/intel-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetAgency(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, name, city, state, url, vehicle_count, created_at FROM transit_agencies WHERE id = \$1`).
		WithArgs("ag-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "city", "state", "url", "vehicle_count", "created_at"}).
			AddRow("ag-1", "Metro Transit", "Minneapolis", "MN", "https://metrotransit.org", 900, now))

	a, err := s.GetAgency(context.Background(), "ag-1")
	require.NoError(t, err)
	assert.Equal(t, "Metro Transit", a.Name)
	assert.Equal(t, 900, a.VehicleCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAgency_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, city, state, url, vehicle_count, created_at FROM transit_agencies`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetAgency(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get agency")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAgenciesForBatch_ExcludesAgenciesWithoutURL(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	// The filter and ordering live in the SQL itself.
	mock.ExpectQuery(`WHERE url <> ''\s+ORDER BY vehicle_count DESC\s+LIMIT \$1`).
		WithArgs(3).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "city", "state", "url", "vehicle_count", "created_at"}).
			AddRow("ag-1", "Big Fleet", "Chicago", "IL", "https://bigfleet.gov", 2000, now).
			AddRow("ag-2", "Mid Fleet", "Austin", "TX", "https://midfleet.gov", 400, now))

	agencies, err := s.ListAgenciesForBatch(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, agencies, 2)
	assert.Equal(t, "Big Fleet", agencies[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAgenciesForBatch_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`LIMIT \$1`).
		WithArgs(3).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "city", "state", "url", "vehicle_count", "created_at"}))

	_, err := s.ListAgenciesForBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSearchRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO procurement_search_runs \(id, agency_id, status, started_at\)`).
		WithArgs(pgxmock.AnyArg(), "ag-1", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateSearchRun(context.Background(), "ag-1")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.StatusRunning, run.Status)
	assert.Equal(t, "ag-1", run.AgencyID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteSearchRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE procurement_search_runs`).
		WithArgs("completed", pgxmock.AnyArg(), 0.85, 4, nil, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompleteSearchRun(context.Background(), "run-1", model.RunOutcome{
		Status:             model.StatusCompleted,
		Phases:             []model.PhaseSummary{{Phase: 1, Name: "direct_site", Completed: true}},
		Confidence:         0.85,
		OpportunitiesFound: 4,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteSearchRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE procurement_search_runs`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteSearchRun(context.Background(), "missing", model.RunOutcome{Status: model.StatusFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertOpportunities_Empty(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	n, err := s.InsertOpportunities(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPostgresStore_InsertOpportunities_DedupOnConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_procurement_opportunities"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom([]string{"_tmp_upsert_procurement_opportunities"}, opportunityColumns).
		WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("agency_id", "source_url"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.InsertOpportunities(context.Background(), []model.Opportunity{
		{AgencyID: "ag-1", Title: "Bus RFP", SourceURL: "https://a.gov/rfp/1", SourceType: model.SourceDirectSite, Type: model.TypeRFP},
		{AgencyID: "ag-1", Title: "Bus RFP dup", SourceURL: "https://a.gov/rfp/1", SourceType: model.SourceWebSearch, Type: model.TypeRFP},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAgencyStatus_Overwrite(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`ON CONFLICT \(agency_id\) DO UPDATE`).
		WithArgs("ag-1", now, "run-1", 0.9, 5, true, now.Add(168*time.Hour)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertAgencyStatus(context.Background(), model.AgencyProcurementStatus{
		AgencyID:           "ag-1",
		LastSearchAt:       now,
		LastRunID:          "run-1",
		OverallConfidence:  0.9,
		TotalOpportunities: 5,
		HasActiveRFPs:      true,
		NextCheckDue:       now.Add(168 * time.Hour),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAgencyStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT agency_id, last_search_at`).
		WithArgs("unknown").
		WillReturnError(pgx.ErrNoRows)

	st, err := s.GetAgencyStatus(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSearchRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM procurement_search_runs WHERE agency_id = \$1 AND status = \$2 ORDER BY started_at DESC LIMIT 10`).
		WithArgs("ag-1", "completed").
		WillReturnRows(pgxmock.NewRows([]string{"id", "agency_id", "status", "phases", "confidence_score", "opportunities_found", "error", "started_at", "completed_at"}).
			AddRow("run-1", "ag-1", "completed", []byte(`[{"phase":1,"name":"direct_site","completed":true,"opportunities_found":2,"confidence":0.8}]`), 0.8, 2, nil, now, &now))

	runs, err := s.ListSearchRuns(context.Background(), RunFilter{
		AgencyID: "ag-1",
		Status:   model.StatusCompleted,
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Len(t, runs[0].Phases, 1)
	assert.Equal(t, "direct_site", runs[0].Phases[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertArticle(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO news_articles .+ ON CONFLICT \(url\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "https://news.example.com/a", "Electric buses ordered", "example.com", "Summary",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 0.7, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertArticle(context.Background(), model.Article{
		URL:       "https://news.example.com/a",
		Title:     "Electric buses ordered",
		Source:    "example.com",
		Summary:   "Summary",
		Relevance: 0.7,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
