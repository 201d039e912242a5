// Package pipeline runs the confidence-gated procurement discovery phases
// for transit agencies.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/transitbase/intel-cli/internal/config"
	"github.com/transitbase/intel-cli/internal/model"
	"github.com/transitbase/intel-cli/internal/registry"
	"github.com/transitbase/intel-cli/internal/store"
	"github.com/transitbase/intel-cli/pkg/exa"
	"github.com/transitbase/intel-cli/pkg/firecrawl"
)

// Phase names as persisted in run summaries.
const (
	phaseDirectSite   = "direct_site"
	phasePortalSearch = "portal_search"
	phaseWebSearch    = "web_search"
)

// Runner executes discovery runs against the three-phase pipeline.
type Runner struct {
	cfg       *config.Config
	store     store.Store
	search    exa.Client
	scraper   firecrawl.Client
	extractor *Extractor
	portals   []registry.Portal
	matcher   *PathMatcher
	limiter   *rate.Limiter
}

// NewRunner creates a Runner with all dependencies.
func NewRunner(
	cfg *config.Config,
	st store.Store,
	search exa.Client,
	scraper firecrawl.Client,
	extractor *Extractor,
	portals []registry.Portal,
) *Runner {
	interval := cfg.Pipeline.AgencyIntervalSecs
	if interval <= 0 {
		interval = 2
	}
	return &Runner{
		cfg:       cfg,
		store:     st,
		search:    search,
		scraper:   scraper,
		extractor: extractor,
		portals:   portals,
		matcher:   NewPathMatcher(nil),
		limiter:   rate.NewLimiter(rate.Every(time.Duration(interval)*time.Second), 1),
	}
}

// RunAgency executes one full discovery run for one agency. Phase failures
// are recorded in the phase summary and never abort the remaining phases;
// only a failure to create the run record aborts outright.
func (r *Runner) RunAgency(ctx context.Context, agency model.Agency) model.AgencyResult {
	log := zap.L().With(zap.String("agency_id", agency.ID), zap.String("agency", agency.DisplayName()))
	log.Info("pipeline: starting discovery run")

	run, err := r.store.CreateSearchRun(ctx, agency.ID)
	if err != nil {
		log.Error("pipeline: create search run failed", zap.Error(err))
		return model.AgencyResult{
			AgencyID:   agency.ID,
			AgencyName: agency.DisplayName(),
			Error:      err.Error(),
		}
	}

	var all []model.Opportunity
	var phases []model.PhaseSummary

	runPhase := func(num int, name string, fn func() ([]model.Opportunity, []string, error)) model.PhaseSummary {
		start := time.Now()
		opps, sources, phaseErr := fn()

		summary := model.PhaseSummary{
			Phase:   num,
			Name:    name,
			Sources: sources,
		}
		if phaseErr != nil {
			summary.Error = phaseErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(phaseErr),
			)
		} else {
			summary.Completed = true
			summary.OpportunitiesFound = len(opps)
			summary.Confidence = maxConfidence(opps)
			all = append(all, opps...)
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int("found", len(opps)),
				zap.Float64("confidence", summary.Confidence),
				zap.Duration("elapsed", time.Since(start)),
			)
		}
		phases = append(phases, summary)
		return summary
	}

	threshold := r.cfg.Pipeline.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.75
	}

	site := runPhase(1, phaseDirectSite, func() ([]model.Opportunity, []string, error) {
		return r.runSitePhase(ctx, agency)
	})

	// The gate is evaluated once, after the direct-site phase. Below the
	// threshold, both remaining phases run regardless of what the portal
	// phase turns up.
	if site.Confidence < threshold {
		runPhase(2, phasePortalSearch, func() ([]model.Opportunity, []string, error) {
			return r.runPortalPhase(ctx, agency)
		})
		runPhase(3, phaseWebSearch, func() ([]model.Opportunity, []string, error) {
			return r.runWebPhase(ctx, agency)
		})
	} else {
		log.Info("pipeline: direct site cleared threshold, skipping remaining phases",
			zap.Float64("confidence", site.Confidence),
		)
	}

	confidence := 0.0
	completed := 0
	for _, p := range phases {
		if p.Confidence > confidence {
			confidence = p.Confidence
		}
		if p.Completed {
			completed++
		}
	}

	for i := range all {
		all[i].RunID = run.ID
	}

	inserted, err := r.store.InsertOpportunities(ctx, all)
	if err != nil {
		// The run record still completes; the missing rows surface on the
		// next scheduled check.
		log.Warn("pipeline: opportunity insert failed", zap.Error(err))
		inserted = 0
	}

	outcome := model.RunOutcome{
		Status:             model.StatusCompleted,
		Phases:             phases,
		Confidence:         confidence,
		OpportunitiesFound: int(inserted),
	}
	if completed == 0 {
		outcome.Status = model.StatusFailed
		outcome.Error = phases[0].Error
	}

	if err := r.store.CompleteSearchRun(ctx, run.ID, outcome); err != nil {
		log.Warn("pipeline: complete search run failed", zap.Error(err))
	}

	now := time.Now().UTC()
	recheck := time.Duration(r.cfg.Pipeline.RecheckIntervalHours) * time.Hour
	if recheck <= 0 {
		recheck = 168 * time.Hour
	}
	status := model.AgencyProcurementStatus{
		AgencyID:           agency.ID,
		LastSearchAt:       now,
		LastRunID:          run.ID,
		OverallConfidence:  confidence,
		TotalOpportunities: int(inserted),
		HasActiveRFPs:      hasActiveRFPs(all, now),
		NextCheckDue:       now.Add(recheck),
	}
	if err := r.store.UpsertAgencyStatus(ctx, status); err != nil {
		log.Warn("pipeline: status upsert failed", zap.Error(err))
	}

	log.Info("pipeline: discovery run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(outcome.Status)),
		zap.Int("opportunities", int(inserted)),
		zap.Float64("confidence", confidence),
	)

	return model.AgencyResult{
		AgencyID:           agency.ID,
		AgencyName:         agency.DisplayName(),
		SearchRunID:        run.ID,
		OpportunitiesFound: int(inserted),
		Confidence:         confidence,
		PhasesCompleted:    completed,
	}
}

// RunSingle looks up one agency and runs it.
func (r *Runner) RunSingle(ctx context.Context, agencyID string) (model.AgencyResult, error) {
	agency, err := r.store.GetAgency(ctx, agencyID)
	if err != nil {
		return model.AgencyResult{}, eris.Wrapf(err, "pipeline: load agency %s", agencyID)
	}
	return r.RunAgency(ctx, *agency), nil
}

// RunBatch runs the highest-priority agencies sequentially, spacing them out
// with the rate limiter. A failing agency is recorded in its result entry and
// never stops the batch.
func (r *Runner) RunBatch(ctx context.Context) ([]model.AgencyResult, error) {
	limit := r.cfg.Pipeline.BatchLimit
	if limit <= 0 {
		limit = 3
	}

	agencies, err := r.store.ListAgenciesForBatch(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list batch agencies")
	}

	results := make([]model.AgencyResult, 0, len(agencies))
	for i, agency := range agencies {
		if i > 0 {
			if err := r.limiter.Wait(ctx); err != nil {
				return results, eris.Wrap(err, "pipeline: batch wait")
			}
		}
		results = append(results, r.RunAgency(ctx, agency))
	}
	return results, nil
}

func maxConfidence(opps []model.Opportunity) float64 {
	var max float64
	for _, o := range opps {
		c := model.ClampConfidence(o.Confidence)
		if c > max {
			max = c
		}
	}
	return max
}

func hasActiveRFPs(opps []model.Opportunity, now time.Time) bool {
	for _, o := range opps {
		if o.ActiveRFP(now) {
			return true
		}
	}
	return false
}
