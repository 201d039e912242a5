package articles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitbase/intel-cli/internal/config"
	"github.com/transitbase/intel-cli/internal/model"
	"github.com/transitbase/intel-cli/internal/store"
	"github.com/transitbase/intel-cli/pkg/anthropic"
	"github.com/transitbase/intel-cli/pkg/exa"
)

// --- fakes ---

type fakeAnthropic struct {
	mu      sync.Mutex
	reply   func(req anthropic.MessageRequest) (string, error)
	prompts []string
}

func (f *fakeAnthropic) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	text, err := f.reply(req)
	if err != nil {
		return nil, err
	}
	return &anthropic.MessageResponse{Text: text, StopReason: "end_turn"}, nil
}

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

type fakeFeeds struct {
	feeds map[string]*gofeed.Feed
	errs  map[string]error
}

func (f *fakeFeeds) ParseURLWithContext(feedURL string, _ context.Context) (*gofeed.Feed, error) {
	if err, ok := f.errs[feedURL]; ok {
		return nil, err
	}
	feed, ok := f.feeds[feedURL]
	if !ok {
		return nil, fmt.Errorf("unknown feed %s", feedURL)
	}
	return feed, nil
}

// fakeArticleStore only implements the article operations; everything else
// panics via the embedded nil interface.
type fakeArticleStore struct {
	store.Store

	mu        sync.Mutex
	articles  map[string]model.Article
	upsertErr error
}

func newFakeArticleStore() *fakeArticleStore {
	return &fakeArticleStore{articles: make(map[string]model.Article)}
}

func (f *fakeArticleStore) UpsertArticle(_ context.Context, article model.Article) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.articles[article.URL] = article
	return nil
}

func (f *fakeArticleStore) ListArticles(_ context.Context, _ store.ArticleFilter) ([]model.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Article, 0, len(f.articles))
	for _, a := range f.articles {
		out = append(out, a)
	}
	return out, nil
}

func classificationJSON(relevance float64) string {
	return fmt.Sprintf(`{"agencies": ["Metro Transit"], "providers": ["New Flyer"], "categories": ["procurement"], "relevance": %v, "summary": "Metro Transit orders buses."}`, relevance)
}

func testDiscoverer(st store.Store, search exa.Client, ai anthropic.Client, feeds feedParser, cfg config.ArticlesConfig) *Discoverer {
	d := NewDiscoverer(cfg, st, search, NewClassifier(ai, "test-model"))
	if feeds != nil {
		d.feeds = feeds
	}
	return d
}

// --- Classifier ---

func TestClassify_ParsesFencedOutput(t *testing.T) {
	ai := &fakeAnthropic{reply: func(anthropic.MessageRequest) (string, error) {
		return "```json\n" + classificationJSON(0.85) + "\n```", nil
	}}
	c := NewClassifier(ai, "test-model")

	cls, err := c.Classify(context.Background(), Candidate{
		Title: "Metro Transit orders 50 electric buses",
		URL:   "https://news.example.com/metro-buses",
		Text:  "Metro Transit signed a contract with New Flyer.",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Metro Transit"}, cls.Agencies)
	assert.Equal(t, []string{"New Flyer"}, cls.Providers)
	assert.Equal(t, []string{"procurement"}, cls.Categories)
	assert.InDelta(t, 0.85, cls.Relevance, 0.001)
	assert.NotEmpty(t, cls.Summary)
}

func TestClassify_MangledOutputYieldsZeroValueNoError(t *testing.T) {
	ai := &fakeAnthropic{reply: func(anthropic.MessageRequest) (string, error) {
		return "The article discusses transit procurement.", nil
	}}
	c := NewClassifier(ai, "test-model")

	cls, err := c.Classify(context.Background(), Candidate{URL: "https://x.test"})
	require.NoError(t, err)
	assert.Zero(t, cls)
}

func TestClassify_APIErrorPropagates(t *testing.T) {
	ai := &fakeAnthropic{reply: func(anthropic.MessageRequest) (string, error) {
		return "", errors.New("overloaded")
	}}
	c := NewClassifier(ai, "test-model")

	_, err := c.Classify(context.Background(), Candidate{URL: "https://x.test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "articles: classify")
}

func TestClassify_RelevanceClamped(t *testing.T) {
	ai := &fakeAnthropic{reply: func(anthropic.MessageRequest) (string, error) {
		return classificationJSON(3.5), nil
	}}
	c := NewClassifier(ai, "test-model")

	cls, err := c.Classify(context.Background(), Candidate{URL: "https://x.test"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, cls.Relevance)
}

func TestClassify_TruncatesContent(t *testing.T) {
	ai := &fakeAnthropic{reply: func(anthropic.MessageRequest) (string, error) {
		return classificationJSON(0.5), nil
	}}
	c := NewClassifier(ai, "test-model")

	long := make([]byte, classifyMaxChars+500)
	for i := range long {
		long[i] = 'x'
	}
	_, err := c.Classify(context.Background(), Candidate{URL: "https://x.test", Text: string(long)})
	require.NoError(t, err)

	require.Len(t, ai.prompts, 1)
	assert.Less(t, len(ai.prompts[0]), classifyMaxChars+400)
}

// --- Discoverer ---

func recentFeedItem(title, link string, age time.Duration) *gofeed.Item {
	pub := time.Now().UTC().Add(-age)
	return &gofeed.Item{Title: title, Link: link, PublishedParsed: &pub}
}

func TestDiscover_SearchAndFeedsMergedWithDedup(t *testing.T) {
	search := &fakeSearch{reply: func(req exa.SearchRequest) (*exa.SearchResponse, error) {
		if req.Query != newsQueries[0] {
			return &exa.SearchResponse{}, nil
		}
		return &exa.SearchResponse{Results: []exa.Result{
			{Title: "Metro orders buses", URL: "https://news.example.com/metro", Text: "contract signed"},
		}}, nil
	}}
	feeds := &fakeFeeds{feeds: map[string]*gofeed.Feed{
		"https://feeds.example.com/transit.xml": {
			Title: "Transit Weekly",
			Items: []*gofeed.Item{
				// Same URL as the search hit; the search candidate wins.
				recentFeedItem("Metro bus order", "https://news.example.com/metro", time.Hour),
				recentFeedItem("Regional rail RFP issued", "https://news.example.com/rail-rfp", 2*time.Hour),
				recentFeedItem("Local bakery opens", "https://news.example.com/bakery", time.Hour),
				recentFeedItem("Old transit news", "https://news.example.com/stale", 45*24*time.Hour),
			},
		},
	}}
	ai := &fakeAnthropic{reply: func(anthropic.MessageRequest) (string, error) {
		return classificationJSON(0.8), nil
	}}
	st := newFakeArticleStore()

	d := testDiscoverer(st, search, ai, feeds, config.ArticlesConfig{
		Feeds:         []string{"https://feeds.example.com/transit.xml"},
		MaxCandidates: 25,
		FeedFanout:    2,
	})

	res, err := d.Discover(context.Background())
	require.NoError(t, err)

	// Dedup drops the feed twin, the keyword filter drops the bakery, and
	// the cutoff drops the stale item.
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 2, res.Stored)
	assert.Contains(t, st.articles, "https://news.example.com/metro")
	assert.Contains(t, st.articles, "https://news.example.com/rail-rfp")

	stored := st.articles["https://news.example.com/metro"]
	assert.Equal(t, "news.example.com", stored.Source)
	assert.Equal(t, []string{"Metro Transit"}, stored.Agencies)
	assert.InDelta(t, 0.8, stored.Relevance, 0.001)
}

func TestDiscover_CandidateCapApplied(t *testing.T) {
	search := &fakeSearch{reply: func(req exa.SearchRequest) (*exa.SearchResponse, error) {
		var results []exa.Result
		for i := 0; i < 10; i++ {
			results = append(results, exa.Result{
				Title: fmt.Sprintf("Story %d", i),
				URL:   fmt.Sprintf("https://news.example.com/q%d/%d", len(req.Query), i),
			})
		}
		return &exa.SearchResponse{Results: results}, nil
	}}
	ai := &fakeAnthropic{reply: func(anthropic.MessageRequest) (string, error) {
		return classificationJSON(0.6), nil
	}}
	st := newFakeArticleStore()

	d := testDiscoverer(st, search, ai, nil, config.ArticlesConfig{MaxCandidates: 5})

	res, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Candidates)
	assert.Equal(t, 5, res.Stored)
}

func TestDiscover_FailedFeedAndQuerySkipped(t *testing.T) {
	search := &fakeSearch{reply: func(req exa.SearchRequest) (*exa.SearchResponse, error) {
		if req.Query == newsQueries[0] {
			return nil, errors.New("rate limited")
		}
		if req.Query == newsQueries[1] {
			return &exa.SearchResponse{Results: []exa.Result{
				{Title: "Rail RFP", URL: "https://news.example.com/rail"},
			}}, nil
		}
		return &exa.SearchResponse{}, nil
	}}
	feeds := &fakeFeeds{errs: map[string]error{
		"https://feeds.example.com/dead.xml": errors.New("connection refused"),
	}}
	ai := &fakeAnthropic{reply: func(anthropic.MessageRequest) (string, error) {
		return classificationJSON(0.7), nil
	}}
	st := newFakeArticleStore()

	d := testDiscoverer(st, search, ai, feeds, config.ArticlesConfig{
		Feeds: []string{"https://feeds.example.com/dead.xml"},
	})

	res, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.Stored)
}

func TestDiscover_ClassificationFailureSkipsArticle(t *testing.T) {
	search := &fakeSearch{reply: func(req exa.SearchRequest) (*exa.SearchResponse, error) {
		if req.Query != newsQueries[0] {
			return &exa.SearchResponse{}, nil
		}
		return &exa.SearchResponse{Results: []exa.Result{
			{Title: "Bad", URL: "https://news.example.com/bad"},
			{Title: "Good", URL: "https://news.example.com/good"},
		}}, nil
	}}
	ai := &fakeAnthropic{reply: func(req anthropic.MessageRequest) (string, error) {
		if len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "https://news.example.com/bad") {
			return "", errors.New("overloaded")
		}
		return classificationJSON(0.9), nil
	}}
	st := newFakeArticleStore()

	d := testDiscoverer(st, search, ai, nil, config.ArticlesConfig{})

	res, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 1, res.Stored)
	assert.Contains(t, st.articles, "https://news.example.com/good")
}
