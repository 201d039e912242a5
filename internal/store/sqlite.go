package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/transitbase/intel-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
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
CREATE TABLE IF NOT EXISTS transit_agencies (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	city          TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	vehicle_count INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS procurement_search_runs (
	id                  TEXT PRIMARY KEY,
	agency_id           TEXT NOT NULL REFERENCES transit_agencies(id),
	status              TEXT NOT NULL DEFAULT 'running',
	phases              TEXT,
	confidence_score    REAL NOT NULL DEFAULT 0,
	opportunities_found INTEGER NOT NULL DEFAULT 0,
	error               TEXT,
	started_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at        DATETIME
);

CREATE TABLE IF NOT EXISTS procurement_opportunities (
	id                TEXT PRIMARY KEY,
	agency_id         TEXT NOT NULL REFERENCES transit_agencies(id),
	run_id            TEXT,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	opportunity_type  TEXT NOT NULL DEFAULT 'unknown',
	source_url        TEXT NOT NULL,
	source_type       TEXT NOT NULL,
	deadline          DATETIME,
	estimated_value   REAL,
	contact           TEXT,
	extracted_data    TEXT,
	confidence_score  REAL NOT NULL DEFAULT 0,
	verified          INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'new',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (agency_id, source_url)
);

CREATE TABLE IF NOT EXISTS agency_procurement_status (
	agency_id                 TEXT PRIMARY KEY REFERENCES transit_agencies(id),
	last_search_at            DATETIME NOT NULL,
	last_run_id               TEXT NOT NULL,
	overall_confidence        REAL NOT NULL DEFAULT 0,
	total_opportunities_found INTEGER NOT NULL DEFAULT 0,
	has_active_rfps           INTEGER NOT NULL DEFAULT 0,
	next_check_due            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS news_articles (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	summary      TEXT NOT NULL DEFAULT '',
	published_at DATETIME,
	agencies     TEXT,
	providers    TEXT,
	categories   TEXT,
	relevance    REAL NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_agencies_vehicle_count ON transit_agencies(vehicle_count DESC);
CREATE INDEX IF NOT EXISTS idx_search_runs_agency_id ON procurement_search_runs(agency_id);
CREATE INDEX IF NOT EXISTS idx_opportunities_agency_id ON procurement_opportunities(agency_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetAgency(ctx context.Context, id string) (*model.Agency, error) {
	var a model.Agency
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, city, state, url, vehicle_count, created_at FROM transit_agencies WHERE id = ?`,
		id,
	).Scan(&a.ID, &a.Name, &a.City, &a.State, &a.URL, &a.VehicleCount, &a.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get agency %s", id)
	}
	return &a, nil
}

func (s *SQLiteStore) UpsertAgency(ctx context.Context, agency model.Agency) error {
	if agency.ID == "" {
		agency.ID = uuid.New().String()
	}
	if agency.CreatedAt.IsZero() {
		agency.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transit_agencies (id, name, city, state, url, vehicle_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, city = excluded.city,
		   state = excluded.state, url = excluded.url, vehicle_count = excluded.vehicle_count`,
		agency.ID, agency.Name, agency.City, agency.State, agency.URL, agency.VehicleCount, agency.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: upsert agency")
}

func (s *SQLiteStore) ListAgenciesForBatch(ctx context.Context, limit int) ([]model.Agency, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, city, state, url, vehicle_count, created_at FROM transit_agencies
		 WHERE url <> ''
		 ORDER BY vehicle_count DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list agencies for batch")
	}
	defer rows.Close()

	var agencies []model.Agency
	for rows.Next() {
		var a model.Agency
		if err := rows.Scan(&a.ID, &a.Name, &a.City, &a.State, &a.URL, &a.VehicleCount, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan agency")
		}
		agencies = append(agencies, a)
	}
	return agencies, eris.Wrap(rows.Err(), "sqlite: list agencies iterate")
}

func (s *SQLiteStore) CreateSearchRun(ctx context.Context, agencyID string) (*model.SearchRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO procurement_search_runs (id, agency_id, status, started_at) VALUES (?, ?, ?, ?)`,
		id, agencyID, string(model.StatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert search run for agency %s", agencyID)
	}

	return &model.SearchRun{
		ID:        id,
		AgencyID:  agencyID,
		Status:    model.StatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteSearchRun(ctx context.Context, runID string, outcome model.RunOutcome) error {
	phasesJSON, err := json.Marshal(outcome.Phases)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phases")
	}

	var errStr *string
	if outcome.Error != "" {
		errStr = &outcome.Error
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE procurement_search_runs
		 SET status = ?, phases = ?, confidence_score = ?, opportunities_found = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		string(outcome.Status), string(phasesJSON), outcome.Confidence, outcome.OpportunitiesFound, errStr, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete search run %s", runID)
	}
	return checkRowsAffected(res, "search run", runID)
}

func (s *SQLiteStore) GetSearchRun(ctx context.Context, runID string) (*model.SearchRun, error) {
	var r model.SearchRun
	var phasesJSON sql.NullString
	var errStr sql.NullString
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, agency_id, status, phases, confidence_score, opportunities_found, error, started_at, completed_at
		 FROM procurement_search_runs WHERE id = ?`,
		runID,
	).Scan(&r.ID, &r.AgencyID, &r.Status, &phasesJSON, &r.Confidence, &r.OpportunitiesFound, &errStr, &r.StartedAt, &completedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get search run %s", runID)
	}

	if phasesJSON.Valid && phasesJSON.String != "" {
		if err := json.Unmarshal([]byte(phasesJSON.String), &r.Phases); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal phases")
		}
	}
	if errStr.Valid {
		r.Error = errStr.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func (s *SQLiteStore) ListSearchRuns(ctx context.Context, filter RunFilter) ([]model.SearchRun, error) {
	q := sq.Select("id", "agency_id", "status", "phases", "confidence_score", "opportunities_found", "error", "started_at", "completed_at").
		From("procurement_search_runs").
		OrderBy("started_at DESC")

	if filter.AgencyID != "" {
		q = q.Where(sq.Eq{"agency_id": filter.AgencyID})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q = q.Limit(uint64(limit))
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list runs query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list search runs")
	}
	defer rows.Close()

	var runs []model.SearchRun
	for rows.Next() {
		var r model.SearchRun
		var phasesJSON sql.NullString
		var errStr sql.NullString
		var completedAt sql.NullTime

		if err := rows.Scan(&r.ID, &r.AgencyID, &r.Status, &phasesJSON, &r.Confidence, &r.OpportunitiesFound, &errStr, &r.StartedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan search run")
		}
		if phasesJSON.Valid && phasesJSON.String != "" {
			if err := json.Unmarshal([]byte(phasesJSON.String), &r.Phases); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal phases")
			}
		}
		if errStr.Valid {
			r.Error = errStr.String
		}
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list search runs iterate")
}

func (s *SQLiteStore) InsertOpportunities(ctx context.Context, opps []model.Opportunity) (int64, error) {
	if len(opps) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var inserted int64
	for _, o := range opps {
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		if o.Status == "" {
			o.Status = "new"
		}

		contactJSON, err := json.Marshal(o.Contact)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal contact")
		}
		extractedJSON, err := json.Marshal(o.ExtractedData)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal extracted data")
		}

		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO procurement_opportunities
			 (id, agency_id, run_id, title, description, opportunity_type, source_url, source_type,
			  deadline, estimated_value, contact, extracted_data, confidence_score, verified, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.AgencyID, o.RunID, o.Title, o.Description, string(o.Type), o.SourceURL, string(o.SourceType),
			o.Deadline, o.EstimatedValue, string(contactJSON), string(extractedJSON), o.Confidence, o.Verified, o.Status, o.CreatedAt,
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert opportunity")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit tx")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]model.Opportunity, error) {
	q := sq.Select("id", "agency_id", "run_id", "title", "description", "opportunity_type",
		"source_url", "source_type", "deadline", "estimated_value", "contact",
		"extracted_data", "confidence_score", "verified", "status", "created_at").
		From("procurement_opportunities").
		OrderBy("created_at DESC")

	if filter.AgencyID != "" {
		q = q.Where(sq.Eq{"agency_id": filter.AgencyID})
	}
	if filter.Type != "" {
		q = q.Where(sq.Eq{"opportunity_type": string(filter.Type)})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": filter.Status})
	}
	if filter.MinConfidence > 0 {
		q = q.Where(sq.GtOrEq{"confidence_score": filter.MinConfidence})
	}
	if filter.VerifiedOnly {
		q = q.Where(sq.Eq{"verified": true})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q = q.Limit(uint64(limit))
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list opportunities query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list opportunities")
	}
	defer rows.Close()

	var opps []model.Opportunity
	for rows.Next() {
		var o model.Opportunity
		var runID sql.NullString
		var deadline sql.NullTime
		var estValue sql.NullFloat64
		var contactJSON, extractedJSON sql.NullString

		if err := rows.Scan(&o.ID, &o.AgencyID, &runID, &o.Title, &o.Description, &o.Type,
			&o.SourceURL, &o.SourceType, &deadline, &estValue,
			&contactJSON, &extractedJSON, &o.Confidence, &o.Verified, &o.Status, &o.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opportunity")
		}
		if runID.Valid {
			o.RunID = runID.String
		}
		if deadline.Valid {
			t := deadline.Time
			o.Deadline = &t
		}
		if estValue.Valid {
			v := estValue.Float64
			o.EstimatedValue = &v
		}
		if contactJSON.Valid && contactJSON.String != "" {
			if err := json.Unmarshal([]byte(contactJSON.String), &o.Contact); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal contact")
			}
		}
		if extractedJSON.Valid && extractedJSON.String != "" {
			if err := json.Unmarshal([]byte(extractedJSON.String), &o.ExtractedData); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal extracted data")
			}
		}
		opps = append(opps, o)
	}
	return opps, eris.Wrap(rows.Err(), "sqlite: list opportunities iterate")
}

func (s *SQLiteStore) UpsertAgencyStatus(ctx context.Context, status model.AgencyProcurementStatus) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agency_procurement_status
		 (agency_id, last_search_at, last_run_id, overall_confidence, total_opportunities_found, has_active_rfps, next_check_due)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (agency_id) DO UPDATE SET
		   last_search_at = excluded.last_search_at, last_run_id = excluded.last_run_id,
		   overall_confidence = excluded.overall_confidence,
		   total_opportunities_found = excluded.total_opportunities_found,
		   has_active_rfps = excluded.has_active_rfps, next_check_due = excluded.next_check_due`,
		status.AgencyID, status.LastSearchAt, status.LastRunID, status.OverallConfidence,
		status.TotalOpportunities, status.HasActiveRFPs, status.NextCheckDue,
	)
	return eris.Wrap(err, "sqlite: upsert agency status")
}

func (s *SQLiteStore) GetAgencyStatus(ctx context.Context, agencyID string) (*model.AgencyProcurementStatus, error) {
	var st model.AgencyProcurementStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT agency_id, last_search_at, last_run_id, overall_confidence, total_opportunities_found, has_active_rfps, next_check_due
		 FROM agency_procurement_status WHERE agency_id = ?`,
		agencyID,
	).Scan(&st.AgencyID, &st.LastSearchAt, &st.LastRunID, &st.OverallConfidence,
		&st.TotalOpportunities, &st.HasActiveRFPs, &st.NextCheckDue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get agency status %s", agencyID)
	}
	return &st, nil
}

func (s *SQLiteStore) UpsertArticle(ctx context.Context, article model.Article) error {
	if article.ID == "" {
		article.ID = uuid.New().String()
	}
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now().UTC()
	}

	agenciesJSON, err := json.Marshal(article.Agencies)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal agencies")
	}
	providersJSON, err := json.Marshal(article.Providers)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal providers")
	}
	categoriesJSON, err := json.Marshal(article.Categories)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal categories")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO news_articles
		 (id, url, title, source, summary, published_at, agencies, providers, categories, relevance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET
		   title = excluded.title, source = excluded.source, summary = excluded.summary,
		   published_at = excluded.published_at, agencies = excluded.agencies,
		   providers = excluded.providers, categories = excluded.categories,
		   relevance = excluded.relevance`,
		article.ID, article.URL, article.Title, article.Source, article.Summary,
		article.PublishedAt, string(agenciesJSON), string(providersJSON), string(categoriesJSON),
		article.Relevance, article.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: upsert article")
}

func (s *SQLiteStore) ListArticles(ctx context.Context, filter ArticleFilter) ([]model.Article, error) {
	q := sq.Select("id", "url", "title", "source", "summary", "published_at", "agencies", "providers", "categories", "relevance", "created_at").
		From("news_articles").
		OrderBy("created_at DESC")

	if filter.MinRelevance > 0 {
		q = q.Where(sq.GtOrEq{"relevance": filter.MinRelevance})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q = q.Limit(uint64(limit))
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list articles query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list articles")
	}
	defer rows.Close()

	var articles []model.Article
	for rows.Next() {
		var a model.Article
		var publishedAt sql.NullTime
		var agenciesJSON, providersJSON, categoriesJSON sql.NullString

		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Source, &a.Summary, &publishedAt,
			&agenciesJSON, &providersJSON, &categoriesJSON, &a.Relevance, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan article")
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			a.PublishedAt = &t
		}
		for _, pair := range []struct {
			raw sql.NullString
			out *[]string
		}{
			{agenciesJSON, &a.Agencies},
			{providersJSON, &a.Providers},
			{categoriesJSON, &a.Categories},
		} {
			if pair.raw.Valid && pair.raw.String != "" {
				if err := json.Unmarshal([]byte(pair.raw.String), pair.out); err != nil {
					return nil, eris.Wrap(err, "sqlite: unmarshal article tags")
				}
			}
		}
		articles = append(articles, a)
	}
	return articles, eris.Wrap(rows.Err(), "sqlite: list articles iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
