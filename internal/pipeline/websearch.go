package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/transitbase/intel-cli/internal/model"
	"github.com/transitbase/intel-cli/pkg/exa"
)

// webSearchWindow bounds open-web results to recent publications.
const webSearchWindow = 90 * 24 * time.Hour

// runWebPhase runs unrestricted web searches for the agency's procurement
// activity, the broadest and least trusted phase.
func (r *Runner) runWebPhase(ctx context.Context, agency model.Agency) ([]model.Opportunity, []string, error) {
	maxResults := r.cfg.Pipeline.WebMaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	name := agency.DisplayName()
	queries := []string{
		fmt.Sprintf("%s RFP procurement", name),
		fmt.Sprintf("%s invitation to bid", name),
	}
	startDate := time.Now().UTC().Add(-webSearchWindow).Format("2006-01-02")

	var opps []model.Opportunity
	var sources []string
	seen := make(map[string]bool)

	for _, query := range queries {
		resp, err := r.search.Search(ctx, exa.SearchRequest{
			Query:              query,
			Type:               "auto",
			NumResults:         maxResults,
			StartPublishedDate: startDate,
			Contents:           &exa.ContentsSpec{Text: true},
		})
		if err != nil {
			zap.L().Warn("pipeline: web search failed",
				zap.String("query", query),
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
			}, model.SourceWebSearch)
			if err != nil {
				return opps, sources, err
			}
			opps = append(opps, pageOpps...)
		}
	}

	return opps, sources, nil
}
