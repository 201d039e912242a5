package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/transitbase/intel-cli/internal/model"
	"github.com/transitbase/intel-cli/internal/store"
	"github.com/transitbase/intel-cli/pkg/aigateway"
	"github.com/transitbase/intel-cli/pkg/exa"
	"github.com/transitbase/intel-cli/pkg/firecrawl"
)

// --- Gateway fake ---

// fakeGateway answers extraction prompts with canned JSON chosen by the
// reply function.
type fakeGateway struct {
	mu      sync.Mutex
	reply   func(prompt string) (string, error)
	prompts []string
}

func (f *fakeGateway) ChatCompletion(_ context.Context, req aigateway.ChatCompletionRequest) (*aigateway.ChatCompletionResponse, error) {
	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	text, err := f.reply(prompt)
	if err != nil {
		return nil, err
	}
	return &aigateway.ChatCompletionResponse{
		Choices: []aigateway.Choice{{Message: aigateway.Message{Role: "assistant", Content: text}}},
	}, nil
}

// emptyReply always reports a page with no opportunities.
func emptyReply(string) (string, error) {
	return `{"opportunities": []}`, nil
}

// oppJSON builds a single-opportunity extraction reply.
func oppJSON(title, typ string, confidence float64) string {
	return fmt.Sprintf(`{"opportunities": [{"title": %q, "description": "", "type": %q, "confidence": %v}]}`, title, typ, confidence)
}

// --- Scraper fake ---

type fakeScraper struct {
	mu    sync.Mutex
	pages map[string]string // url -> markdown
	html  map[string]string // url -> homepage html
	links map[string][]string
	errs  map[string]error
	calls []string
}

func (f *fakeScraper) Scrape(_ context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	f.mu.Unlock()

	if err, ok := f.errs[req.URL]; ok {
		return nil, err
	}
	return &firecrawl.ScrapeResponse{
		Success: true,
		Data: firecrawl.PageData{
			Markdown: f.pages[req.URL],
			HTML:     f.html[req.URL],
			Links:    f.links[req.URL],
			Metadata: firecrawl.PageMetadata{SourceURL: req.URL, StatusCode: 200},
		},
	}, nil
}

// --- Search fake ---

type fakeSearch struct {
	mu    sync.Mutex
	reply func(req exa.SearchRequest) (*exa.SearchResponse, error)
	calls []exa.SearchRequest
}

func (f *fakeSearch) Search(_ context.Context, req exa.SearchRequest) (*exa.SearchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.reply == nil {
		return &exa.SearchResponse{}, nil
	}
	return f.reply(req)
}

// --- Store fake ---

// fakeStore is an in-memory Store that mirrors the dedup the real storage
// layer enforces on (agency_id, source_url).
type fakeStore struct {
	mu sync.Mutex

	agencies map[string]model.Agency
	runs     map[string]*model.SearchRun
	outcomes map[string]model.RunOutcome
	opps     map[string]model.Opportunity // key agencyID|sourceURL
	statuses map[string]model.AgencyProcurementStatus
	articles map[string]model.Article

	createRunErr error
	insertErr    error
	runSeq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		agencies: make(map[string]model.Agency),
		runs:     make(map[string]*model.SearchRun),
		outcomes: make(map[string]model.RunOutcome),
		opps:     make(map[string]model.Opportunity),
		statuses: make(map[string]model.AgencyProcurementStatus),
		articles: make(map[string]model.Article),
	}
}

func (f *fakeStore) GetAgency(_ context.Context, id string) (*model.Agency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agencies[id]
	if !ok {
		return nil, fmt.Errorf("agency not found: %s", id)
	}
	return &a, nil
}

func (f *fakeStore) UpsertAgency(_ context.Context, agency model.Agency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agencies[agency.ID] = agency
	return nil
}

func (f *fakeStore) ListAgenciesForBatch(_ context.Context, limit int) ([]model.Agency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Agency
	for _, a := range f.agencies {
		if a.URL != "" {
			out = append(out, a)
		}
	}
	// Insertion order is not tracked; sort by fleet size like the real query.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].VehicleCount > out[i].VehicleCount {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CreateSearchRun(_ context.Context, agencyID string) (*model.SearchRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createRunErr != nil {
		return nil, f.createRunErr
	}
	f.runSeq++
	run := &model.SearchRun{
		ID:       fmt.Sprintf("run-%d", f.runSeq),
		AgencyID: agencyID,
		Status:   model.StatusRunning,
	}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeStore) CompleteSearchRun(_ context.Context, runID string, outcome model.RunOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return fmt.Errorf("search run not found: %s", runID)
	}
	run.Status = outcome.Status
	run.Phases = outcome.Phases
	run.Confidence = outcome.Confidence
	run.OpportunitiesFound = outcome.OpportunitiesFound
	run.Error = outcome.Error
	f.outcomes[runID] = outcome
	return nil
}

func (f *fakeStore) GetSearchRun(_ context.Context, runID string) (*model.SearchRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("search run not found: %s", runID)
	}
	cp := *run
	return &cp, nil
}

func (f *fakeStore) ListSearchRuns(_ context.Context, _ store.RunFilter) ([]model.SearchRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SearchRun
	for _, r := range f.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) InsertOpportunities(_ context.Context, opps []model.Opportunity) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	var inserted int64
	for _, o := range opps {
		key := o.AgencyID + "|" + o.SourceURL
		if _, exists := f.opps[key]; exists {
			continue
		}
		f.opps[key] = o
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) ListOpportunities(_ context.Context, _ store.OpportunityFilter) ([]model.Opportunity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Opportunity
	for _, o := range f.opps {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeStore) UpsertAgencyStatus(_ context.Context, status model.AgencyProcurementStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[status.AgencyID] = status
	return nil
}

func (f *fakeStore) GetAgencyStatus(_ context.Context, agencyID string) (*model.AgencyProcurementStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[agencyID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (f *fakeStore) UpsertArticle(_ context.Context, article model.Article) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles[article.URL] = article
	return nil
}

func (f *fakeStore) ListArticles(_ context.Context, _ store.ArticleFilter) ([]model.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Article
	for _, a := range f.articles {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Ping(context.Context) error    { return nil }
func (f *fakeStore) Close() error                  { return nil }
