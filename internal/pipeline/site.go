package pipeline

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/transitbase/intel-cli/internal/model"
	"github.com/transitbase/intel-cli/pkg/firecrawl"
)

// runSitePhase scrapes the agency's own website: homepage first, then up to
// site_max_subpages procurement-looking sub-pages found in its links.
func (r *Runner) runSitePhase(ctx context.Context, agency model.Agency) ([]model.Opportunity, []string, error) {
	if agency.URL == "" {
		return nil, nil, eris.New("pipeline: agency has no website URL")
	}

	home, err := r.scraper.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:     agency.URL,
		Formats: []string{"markdown", "html", "links"},
	})
	if err != nil {
		return nil, nil, eris.Wrapf(err, "pipeline: scrape agency site %s", agency.URL)
	}

	sources := []string{agency.URL}
	var opps []model.Opportunity

	pageOpps, err := r.extractor.ExtractOpportunities(ctx, agency, PageContent{
		URL:     agency.URL,
		Content: home.Data.Markdown,
	}, model.SourceDirectSite)
	if err != nil {
		return nil, sources, err
	}
	opps = append(opps, pageOpps...)

	subpages := r.procurementLinks(agency.URL, home.Data)
	for _, link := range subpages {
		page, err := r.scraper.Scrape(ctx, firecrawl.ScrapeRequest{
			URL:             link,
			Formats:         []string{"markdown"},
			OnlyMainContent: true,
		})
		if err != nil {
			zap.L().Warn("pipeline: sub-page scrape failed",
				zap.String("url", link),
				zap.Error(err),
			)
			continue
		}
		sources = append(sources, link)

		pageOpps, err := r.extractor.ExtractOpportunities(ctx, agency, PageContent{
			URL:     link,
			Content: page.Data.Markdown,
		}, model.SourceDirectSite)
		if err != nil {
			return opps, sources, err
		}
		opps = append(opps, pageOpps...)
	}

	return opps, sources, nil
}

// procurementLinks merges the scraper's link list with anchors parsed out of
// the page HTML, keeps same-host procurement paths, and caps the result.
func (r *Runner) procurementLinks(baseURL string, page firecrawl.PageData) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	candidates := append([]string{}, page.Links...)
	if page.HTML != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err == nil {
			doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
				if href, ok := s.Attr("href"); ok {
					candidates = append(candidates, href)
				}
			})
		}
	}

	maxSubpages := r.cfg.Pipeline.SiteMaxSubpages
	if maxSubpages <= 0 {
		maxSubpages = 4
	}

	seen := make(map[string]bool)
	var links []string
	for _, raw := range candidates {
		resolved, err := base.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		resolved.Fragment = ""
		if resolved.Hostname() != base.Hostname() {
			continue
		}
		link := resolved.String()
		if seen[link] || link == baseURL {
			continue
		}
		if !r.matcher.Matches(link) {
			continue
		}
		seen[link] = true
		links = append(links, link)
		if len(links) >= maxSubpages {
			break
		}
	}
	return links
}
