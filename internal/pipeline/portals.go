package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/transitbase/intel-cli/internal/model"
	"github.com/transitbase/intel-cli/pkg/exa"
	"github.com/transitbase/intel-cli/pkg/firecrawl"
)

// runPortalPhase searches each known procurement portal for listings naming
// the agency. Scrape failures fall back to the search snippet so a slow
// portal never costs a candidate outright.
func (r *Runner) runPortalPhase(ctx context.Context, agency model.Agency) ([]model.Opportunity, []string, error) {
	maxResults := r.cfg.Pipeline.PortalMaxResults
	if maxResults <= 0 {
		maxResults = 3
	}

	var opps []model.Opportunity
	var sources []string
	seen := make(map[string]bool)

	for _, portal := range r.portals {
		query := fmt.Sprintf("site:%s %q", portal.Domain, agency.DisplayName())
		resp, err := r.search.Search(ctx, exa.SearchRequest{
			Query:      query,
			Type:       "keyword",
			NumResults: maxResults,
			Contents:   &exa.ContentsSpec{Text: true},
		})
		if err != nil {
			zap.L().Warn("pipeline: portal search failed",
				zap.String("portal", portal.Domain),
				zap.Error(err),
			)
			continue
		}

		for _, hit := range resp.Results {
			if hit.URL == "" || seen[hit.URL] {
				continue
			}
			seen[hit.URL] = true
			sources = append(sources, hit.URL)

			content := r.scrapeWithSnippetFallback(ctx, hit)
			if content == "" {
				continue
			}

			pageOpps, err := r.extractor.ExtractOpportunities(ctx, agency, PageContent{
				URL:     hit.URL,
				Content: content,
			}, model.SourcePortalSearch)
			if err != nil {
				return opps, sources, err
			}
			opps = append(opps, pageOpps...)
		}
	}

	return opps, sources, nil
}

// scrapeWithSnippetFallback scrapes a search hit and falls back to the hit's
// own text when the scrape fails or returns nothing.
func (r *Runner) scrapeWithSnippetFallback(ctx context.Context, hit exa.Result) string {
	page, err := r.scraper.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             hit.URL,
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
	})
	if err != nil || page.Data.Markdown == "" {
		if err != nil {
			zap.L().Debug("pipeline: hit scrape failed, using snippet",
				zap.String("url", hit.URL),
				zap.Error(err),
			)
		}
		return hit.Text
	}
	return page.Data.Markdown
}
