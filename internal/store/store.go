package store

import (
	"context"

	"github.com/transitbase/intel-cli/internal/model"
)

// RunFilter specifies criteria for listing search runs.
type RunFilter struct {
	AgencyID string          `json:"agency_id,omitempty"`
	Status   model.RunStatus `json:"status,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// OpportunityFilter specifies criteria for listing opportunities.
type OpportunityFilter struct {
	AgencyID      string                `json:"agency_id,omitempty"`
	Type          model.OpportunityType `json:"type,omitempty"`
	Status        string                `json:"status,omitempty"`
	MinConfidence float64               `json:"min_confidence,omitempty"`
	VerifiedOnly  bool                  `json:"verified_only,omitempty"`
	Limit         int                   `json:"limit,omitempty"`
	Offset        int                   `json:"offset,omitempty"`
}

// ArticleFilter specifies criteria for listing articles.
type ArticleFilter struct {
	MinRelevance float64 `json:"min_relevance,omitempty"`
	Limit        int     `json:"limit,omitempty"`
	Offset       int     `json:"offset,omitempty"`
}

// Store defines the persistence interface for the discovery pipelines.
type Store interface {
	// Agencies
	GetAgency(ctx context.Context, id string) (*model.Agency, error)
	UpsertAgency(ctx context.Context, agency model.Agency) error
	// ListAgenciesForBatch returns up to limit agencies that have a website
	// URL, largest fleets first.
	ListAgenciesForBatch(ctx context.Context, limit int) ([]model.Agency, error)

	// Search runs
	CreateSearchRun(ctx context.Context, agencyID string) (*model.SearchRun, error)
	CompleteSearchRun(ctx context.Context, runID string, outcome model.RunOutcome) error
	GetSearchRun(ctx context.Context, runID string) (*model.SearchRun, error)
	ListSearchRuns(ctx context.Context, filter RunFilter) ([]model.SearchRun, error)

	// Opportunities. InsertOpportunities returns the number of rows actually
	// written; duplicates on (agency_id, source_url) are silently dropped.
	InsertOpportunities(ctx context.Context, opps []model.Opportunity) (int64, error)
	ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]model.Opportunity, error)

	// Per-agency rollup, overwritten after every run.
	UpsertAgencyStatus(ctx context.Context, status model.AgencyProcurementStatus) error
	GetAgencyStatus(ctx context.Context, agencyID string) (*model.AgencyProcurementStatus, error)

	// Articles, keyed on URL.
	UpsertArticle(ctx context.Context, article model.Article) error
	ListArticles(ctx context.Context, filter ArticleFilter) ([]model.Article, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
