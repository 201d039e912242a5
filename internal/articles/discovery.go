// Package articles discovers and classifies transit-industry news coverage.
package articles

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/transitbase/intel-cli/internal/config"
	"github.com/transitbase/intel-cli/internal/model"
	"github.com/transitbase/intel-cli/internal/store"
	"github.com/transitbase/intel-cli/pkg/exa"
)

// articleSearchWindow bounds news search to recent publications.
const articleSearchWindow = 30 * 24 * time.Hour

// newsQueries are the standing industry searches run every discovery pass.
var newsQueries = []string{
	"transit agency procurement contract award",
	"public transit bus rail RFP",
	"transit agency fleet electrification funding",
}

// feedKeywords gate RSS items; feeds carry general industry coverage and
// only keyword-matched titles become candidates.
var feedKeywords = []string{
	"transit", "bus", "rail", "metro", "procurement", "rfp", "contract",
}

// feedParser matches gofeed.Parser.
type feedParser interface {
	ParseURLWithContext(feedURL string, ctx context.Context) (*gofeed.Feed, error)
}

// Candidate is one article found by search or RSS before classification.
type Candidate struct {
	Title       string
	URL         string
	Source      string
	Text        string
	PublishedAt *time.Time
}

// Result summarizes one discovery pass.
type Result struct {
	Candidates int
	Stored     int
}

// Discoverer runs the article discovery pass: search plus RSS, then
// classification, then storage.
type Discoverer struct {
	cfg        config.ArticlesConfig
	store      store.Store
	search     exa.Client
	classifier *Classifier
	feeds      feedParser
}

// NewDiscoverer creates a Discoverer with all dependencies.
func NewDiscoverer(cfg config.ArticlesConfig, st store.Store, search exa.Client, classifier *Classifier) *Discoverer {
	return &Discoverer{
		cfg:        cfg,
		store:      st,
		search:     search,
		classifier: classifier,
		feeds:      gofeed.NewParser(),
	}
}

// Discover runs one full pass. Individual query, feed, and classification
// failures are logged and skipped; the pass reports how much survived.
func (d *Discoverer) Discover(ctx context.Context) (Result, error) {
	candidates := d.collectSearch(ctx)
	candidates = append(candidates, d.collectFeeds(ctx)...)
	candidates = dedupCandidates(candidates)

	maxCandidates := d.cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 25
	}
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	zap.L().Info("articles: candidates collected", zap.Int("count", len(candidates)))

	stored := 0
	for _, cand := range candidates {
		cls, err := d.classifier.Classify(ctx, cand)
		if err != nil {
			zap.L().Warn("articles: classification failed",
				zap.String("url", cand.URL),
				zap.Error(err),
			)
			continue
		}

		article := model.Article{
			ID:          uuid.New().String(),
			URL:         cand.URL,
			Title:       cand.Title,
			Source:      cand.Source,
			Summary:     cls.Summary,
			PublishedAt: cand.PublishedAt,
			Agencies:    cls.Agencies,
			Providers:   cls.Providers,
			Categories:  cls.Categories,
			Relevance:   cls.Relevance,
			CreatedAt:   time.Now().UTC(),
		}
		if err := d.store.UpsertArticle(ctx, article); err != nil {
			zap.L().Warn("articles: upsert failed",
				zap.String("url", cand.URL),
				zap.Error(err),
			)
			continue
		}
		stored++
	}

	return Result{Candidates: len(candidates), Stored: stored}, nil
}

// collectSearch runs the standing news queries. A failing query contributes
// nothing.
func (d *Discoverer) collectSearch(ctx context.Context) []Candidate {
	startDate := time.Now().UTC().Add(-articleSearchWindow).Format("2006-01-02")

	var out []Candidate
	for _, query := range newsQueries {
		resp, err := d.search.Search(ctx, exa.SearchRequest{
			Query:              query,
			Type:               "auto",
			Category:           "news",
			NumResults:         10,
			StartPublishedDate: startDate,
			Contents:           &exa.ContentsSpec{Text: true},
		})
		if err != nil {
			zap.L().Warn("articles: news search failed",
				zap.String("query", query),
				zap.Error(err),
			)
			continue
		}

		for _, hit := range resp.Results {
			if hit.URL == "" {
				continue
			}
			cand := Candidate{
				Title:  hit.Title,
				URL:    hit.URL,
				Source: hostOf(hit.URL),
				Text:   hit.Text,
			}
			if pub, err := time.Parse("2006-01-02T15:04:05.000Z", hit.PublishedDate); err == nil {
				cand.PublishedAt = &pub
			}
			out = append(out, cand)
		}
	}
	return out
}

// collectFeeds pulls the configured RSS feeds with bounded concurrency and
// keeps keyword-matched items from the search window.
func (d *Discoverer) collectFeeds(ctx context.Context) []Candidate {
	if len(d.cfg.Feeds) == 0 {
		return nil
	}

	fanout := d.cfg.FeedFanout
	if fanout <= 0 {
		fanout = 4
	}
	cutoff := time.Now().UTC().Add(-articleSearchWindow)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(fanout)

	var mu sync.Mutex
	var out []Candidate

	for _, feedURL := range d.cfg.Feeds {
		g.Go(func() error {
			feed, err := d.feeds.ParseURLWithContext(feedURL, gCtx)
			if err != nil {
				zap.L().Warn("articles: feed fetch failed",
					zap.String("feed", feedURL),
					zap.Error(err),
				)
				return nil
			}

			var items []Candidate
			for _, it := range feed.Items {
				if it.Link == "" || !matchesKeywords(it.Title) {
					continue
				}
				pub := it.PublishedParsed
				if pub == nil {
					pub = it.UpdatedParsed
				}
				if pub == nil || pub.Before(cutoff) {
					continue
				}
				items = append(items, Candidate{
					Title:       strings.TrimSpace(it.Title),
					URL:         strings.TrimSpace(it.Link),
					Source:      strings.TrimSpace(feed.Title),
					Text:        it.Description,
					PublishedAt: pub,
				})
			}

			mu.Lock()
			out = append(out, items...)
			mu.Unlock()
			return nil
		})
	}

	// Goroutines swallow their own errors, so Wait only synchronizes.
	_ = g.Wait()
	return out
}

func matchesKeywords(title string) bool {
	t := strings.ToLower(title)
	for _, k := range feedKeywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

// dedupCandidates keeps the first occurrence of each URL. Search results come
// first and win over feed items.
func dedupCandidates(cands []Candidate) []Candidate {
	seen := make(map[string]bool, len(cands))
	out := cands[:0]
	for _, c := range cands {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		out = append(out, c)
	}
	return out
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Host, "www.")
}
