package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/transitbase/intel-cli/internal/db"
	"github.com/transitbase/intel-cli/internal/model"
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

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_agency":          `SELECT id, name, city, state, url, vehicle_count, created_at FROM transit_agencies WHERE id = $1`,
	"insert_search_run":   `INSERT INTO procurement_search_runs (id, agency_id, status, started_at) VALUES ($1, $2, $3, $4)`,
	"complete_search_run": `UPDATE procurement_search_runs SET status = $1, phases = $2, confidence_score = $3, opportunities_found = $4, error = $5, completed_at = $6 WHERE id = $7`,
	"get_search_run":      `SELECT id, agency_id, status, phases, confidence_score, opportunities_found, error, started_at, completed_at FROM procurement_search_runs WHERE id = $1`,
	"get_agency_status":   `SELECT agency_id, last_search_at, last_run_id, overall_confidence, total_opportunities_found, has_active_rfps, next_check_due FROM agency_procurement_status WHERE agency_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
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

	// Prepare frequently-used statements on each new connection.
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

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS transit_agencies (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name          TEXT NOT NULL,
	city          TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	vehicle_count INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS procurement_search_runs (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	agency_id           TEXT NOT NULL REFERENCES transit_agencies(id),
	status              TEXT NOT NULL DEFAULT 'running',
	phases              JSONB,
	confidence_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	opportunities_found INTEGER NOT NULL DEFAULT 0,
	error               TEXT,
	started_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS procurement_opportunities (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	agency_id         TEXT NOT NULL REFERENCES transit_agencies(id),
	run_id            TEXT,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	opportunity_type  TEXT NOT NULL DEFAULT 'unknown',
	source_url        TEXT NOT NULL,
	source_type       TEXT NOT NULL,
	deadline          TIMESTAMPTZ,
	estimated_value   DOUBLE PRECISION,
	contact           JSONB,
	extracted_data    JSONB,
	confidence_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	verified          BOOLEAN NOT NULL DEFAULT false,
	status            TEXT NOT NULL DEFAULT 'new',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (agency_id, source_url)
);

CREATE TABLE IF NOT EXISTS agency_procurement_status (
	agency_id                 TEXT PRIMARY KEY REFERENCES transit_agencies(id),
	last_search_at            TIMESTAMPTZ NOT NULL,
	last_run_id               TEXT NOT NULL,
	overall_confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_opportunities_found INTEGER NOT NULL DEFAULT 0,
	has_active_rfps           BOOLEAN NOT NULL DEFAULT false,
	next_check_due            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS news_articles (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	url          TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	summary      TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ,
	agencies     JSONB,
	providers    JSONB,
	categories   JSONB,
	relevance    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agencies_vehicle_count ON transit_agencies(vehicle_count DESC);
CREATE INDEX IF NOT EXISTS idx_search_runs_agency_id ON procurement_search_runs(agency_id);
CREATE INDEX IF NOT EXISTS idx_search_runs_status ON procurement_search_runs(status);
CREATE INDEX IF NOT EXISTS idx_opportunities_agency_id ON procurement_opportunities(agency_id);
CREATE INDEX IF NOT EXISTS idx_opportunities_type ON procurement_opportunities(opportunity_type);
CREATE INDEX IF NOT EXISTS idx_opportunities_deadline ON procurement_opportunities(deadline);
CREATE INDEX IF NOT EXISTS idx_status_next_check_due ON agency_procurement_status(next_check_due);
CREATE INDEX IF NOT EXISTS idx_articles_relevance ON news_articles(relevance DESC);
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

func (s *PostgresStore) GetAgency(ctx context.Context, id string) (*model.Agency, error) {
	var a model.Agency
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, city, state, url, vehicle_count, created_at FROM transit_agencies WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.Name, &a.City, &a.State, &a.URL, &a.VehicleCount, &a.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get agency %s", id)
	}
	return &a, nil
}

func (s *PostgresStore) UpsertAgency(ctx context.Context, agency model.Agency) error {
	if agency.ID == "" {
		agency.ID = uuid.New().String()
	}
	if agency.CreatedAt.IsZero() {
		agency.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transit_agencies (id, name, city, state, url, vehicle_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET name = $2, city = $3, state = $4, url = $5, vehicle_count = $6`,
		agency.ID, agency.Name, agency.City, agency.State, agency.URL, agency.VehicleCount, agency.CreatedAt,
	)
	return eris.Wrap(err, "postgres: upsert agency")
}

func (s *PostgresStore) ListAgenciesForBatch(ctx context.Context, limit int) ([]model.Agency, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, city, state, url, vehicle_count, created_at FROM transit_agencies
		 WHERE url <> ''
		 ORDER BY vehicle_count DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list agencies for batch")
	}
	defer rows.Close()

	var agencies []model.Agency
	for rows.Next() {
		var a model.Agency
		if err := rows.Scan(&a.ID, &a.Name, &a.City, &a.State, &a.URL, &a.VehicleCount, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan agency")
		}
		agencies = append(agencies, a)
	}
	return agencies, eris.Wrap(rows.Err(), "postgres: list agencies iterate")
}

func (s *PostgresStore) CreateSearchRun(ctx context.Context, agencyID string) (*model.SearchRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO procurement_search_runs (id, agency_id, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, agencyID, string(model.StatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert search run for agency %s", agencyID)
	}

	return &model.SearchRun{
		ID:        id,
		AgencyID:  agencyID,
		Status:    model.StatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteSearchRun(ctx context.Context, runID string, outcome model.RunOutcome) error {
	phasesJSON, err := json.Marshal(outcome.Phases)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phases")
	}

	var errStr *string
	if outcome.Error != "" {
		errStr = &outcome.Error
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE procurement_search_runs
		 SET status = $1, phases = $2, confidence_score = $3, opportunities_found = $4, error = $5, completed_at = $6
		 WHERE id = $7`,
		string(outcome.Status), phasesJSON, outcome.Confidence, outcome.OpportunitiesFound, errStr, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete search run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("search run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetSearchRun(ctx context.Context, runID string) (*model.SearchRun, error) {
	var r model.SearchRun
	var phasesJSON []byte
	var errStr *string
	var completedAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, agency_id, status, phases, confidence_score, opportunities_found, error, started_at, completed_at
		 FROM procurement_search_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.AgencyID, &r.Status, &phasesJSON, &r.Confidence, &r.OpportunitiesFound, &errStr, &r.StartedAt, &completedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get search run %s", runID)
	}

	if len(phasesJSON) > 0 {
		if err := json.Unmarshal(phasesJSON, &r.Phases); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal phases")
		}
	}
	if errStr != nil {
		r.Error = *errStr
	}
	r.CompletedAt = completedAt
	return &r, nil
}

func (s *PostgresStore) ListSearchRuns(ctx context.Context, filter RunFilter) ([]model.SearchRun, error) {
	q := psql.Select("id", "agency_id", "status", "phases", "confidence_score", "opportunities_found", "error", "started_at", "completed_at").
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

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list runs query")
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list search runs")
	}
	defer rows.Close()

	var runs []model.SearchRun
	for rows.Next() {
		var r model.SearchRun
		var phasesJSON []byte
		var errStr *string
		var completedAt *time.Time

		if err := rows.Scan(&r.ID, &r.AgencyID, &r.Status, &phasesJSON, &r.Confidence, &r.OpportunitiesFound, &errStr, &r.StartedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan search run")
		}
		if len(phasesJSON) > 0 {
			if err := json.Unmarshal(phasesJSON, &r.Phases); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal phases")
			}
		}
		if errStr != nil {
			r.Error = *errStr
		}
		r.CompletedAt = completedAt
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list search runs iterate")
}

var opportunityColumns = []string{
	"id", "agency_id", "run_id", "title", "description", "opportunity_type",
	"source_url", "source_type", "deadline", "estimated_value", "contact",
	"extracted_data", "confidence_score", "verified", "status", "created_at",
}

func (s *PostgresStore) InsertOpportunities(ctx context.Context, opps []model.Opportunity) (int64, error) {
	if len(opps) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(opps))
	now := time.Now().UTC()
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
			return 0, eris.Wrap(err, "postgres: marshal contact")
		}
		extractedJSON, err := json.Marshal(o.ExtractedData)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal extracted data")
		}

		rows = append(rows, []any{
			o.ID, o.AgencyID, o.RunID, o.Title, o.Description, string(o.Type),
			o.SourceURL, string(o.SourceType), o.Deadline, o.EstimatedValue,
			contactJSON, extractedJSON, o.Confidence, o.Verified, o.Status, o.CreatedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "procurement_opportunities",
		Columns:      opportunityColumns,
		ConflictKeys: []string{"agency_id", "source_url"},
		Action:       db.ConflictIgnore,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert opportunities")
	}
	return n, nil
}

func (s *PostgresStore) ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]model.Opportunity, error) {
	q := psql.Select(opportunityColumns...).
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

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list opportunities query")
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list opportunities")
	}
	defer rows.Close()

	var opps []model.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		opps = append(opps, *o)
	}
	return opps, eris.Wrap(rows.Err(), "postgres: list opportunities iterate")
}

func scanOpportunity(rows pgx.Rows) (*model.Opportunity, error) {
	var o model.Opportunity
	var contactJSON, extractedJSON []byte

	if err := rows.Scan(&o.ID, &o.AgencyID, &o.RunID, &o.Title, &o.Description, &o.Type,
		&o.SourceURL, &o.SourceType, &o.Deadline, &o.EstimatedValue,
		&contactJSON, &extractedJSON, &o.Confidence, &o.Verified, &o.Status, &o.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: scan opportunity")
	}
	if len(contactJSON) > 0 {
		if err := json.Unmarshal(contactJSON, &o.Contact); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal contact")
		}
	}
	if len(extractedJSON) > 0 {
		if err := json.Unmarshal(extractedJSON, &o.ExtractedData); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal extracted data")
		}
	}
	return &o, nil
}

func (s *PostgresStore) UpsertAgencyStatus(ctx context.Context, status model.AgencyProcurementStatus) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agency_procurement_status
		 (agency_id, last_search_at, last_run_id, overall_confidence, total_opportunities_found, has_active_rfps, next_check_due)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (agency_id) DO UPDATE SET
		   last_search_at = $2, last_run_id = $3, overall_confidence = $4,
		   total_opportunities_found = $5, has_active_rfps = $6, next_check_due = $7`,
		status.AgencyID, status.LastSearchAt, status.LastRunID, status.OverallConfidence,
		status.TotalOpportunities, status.HasActiveRFPs, status.NextCheckDue,
	)
	return eris.Wrap(err, "postgres: upsert agency status")
}

func (s *PostgresStore) GetAgencyStatus(ctx context.Context, agencyID string) (*model.AgencyProcurementStatus, error) {
	var st model.AgencyProcurementStatus
	err := s.pool.QueryRow(ctx,
		`SELECT agency_id, last_search_at, last_run_id, overall_confidence, total_opportunities_found, has_active_rfps, next_check_due
		 FROM agency_procurement_status WHERE agency_id = $1`,
		agencyID,
	).Scan(&st.AgencyID, &st.LastSearchAt, &st.LastRunID, &st.OverallConfidence,
		&st.TotalOpportunities, &st.HasActiveRFPs, &st.NextCheckDue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get agency status %s", agencyID)
	}
	return &st, nil
}

func (s *PostgresStore) UpsertArticle(ctx context.Context, article model.Article) error {
	if article.ID == "" {
		article.ID = uuid.New().String()
	}
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now().UTC()
	}

	agenciesJSON, err := json.Marshal(article.Agencies)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal agencies")
	}
	providersJSON, err := json.Marshal(article.Providers)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal providers")
	}
	categoriesJSON, err := json.Marshal(article.Categories)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal categories")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO news_articles
		 (id, url, title, source, summary, published_at, agencies, providers, categories, relevance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (url) DO UPDATE SET
		   title = $3, source = $4, summary = $5, published_at = $6,
		   agencies = $7, providers = $8, categories = $9, relevance = $10`,
		article.ID, article.URL, article.Title, article.Source, article.Summary,
		article.PublishedAt, agenciesJSON, providersJSON, categoriesJSON,
		article.Relevance, article.CreatedAt,
	)
	return eris.Wrap(err, "postgres: upsert article")
}

func (s *PostgresStore) ListArticles(ctx context.Context, filter ArticleFilter) ([]model.Article, error) {
	q := psql.Select("id", "url", "title", "source", "summary", "published_at", "agencies", "providers", "categories", "relevance", "created_at").
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

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list articles query")
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list articles")
	}
	defer rows.Close()

	var articles []model.Article
	for rows.Next() {
		var a model.Article
		var agenciesJSON, providersJSON, categoriesJSON []byte
		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Source, &a.Summary, &a.PublishedAt,
			&agenciesJSON, &providersJSON, &categoriesJSON, &a.Relevance, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan article")
		}
		for _, pair := range []struct {
			raw []byte
			out *[]string
		}{
			{agenciesJSON, &a.Agencies},
			{providersJSON, &a.Providers},
			{categoriesJSON, &a.Categories},
		} {
			if len(pair.raw) > 0 {
				if err := json.Unmarshal(pair.raw, pair.out); err != nil {
					return nil, eris.Wrap(err, "postgres: unmarshal article tags")
				}
			}
		}
		articles = append(articles, a)
	}
	return articles, eris.Wrap(rows.Err(), "postgres: list articles iterate")
}
