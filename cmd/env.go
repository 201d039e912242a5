package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/transitbase/intel-cli/internal/pipeline"
	"github.com/transitbase/intel-cli/internal/registry"
	"github.com/transitbase/intel-cli/internal/store"
	"github.com/transitbase/intel-cli/pkg/aigateway"
	"github.com/transitbase/intel-cli/pkg/exa"
	"github.com/transitbase/intel-cli/pkg/firecrawl"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "intel.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initRunner builds the discovery pipeline from config. The caller owns the
// store and closes it.
func initRunner(st store.Store) (*pipeline.Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	portals, err := registry.LoadPortals(cfg.Pipeline.PortalsFile)
	if err != nil {
		return nil, eris.Wrap(err, "load portal registry")
	}

	searchClient := exa.NewClient(cfg.Exa.Key, exa.WithBaseURL(cfg.Exa.BaseURL))
	scrapeClient := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
	gatewayClient := aigateway.NewClient(cfg.Gateway.Key,
		aigateway.WithBaseURL(cfg.Gateway.BaseURL),
		aigateway.WithModel(cfg.Gateway.Model),
	)
	extractor := pipeline.NewExtractor(gatewayClient, cfg.Gateway.Model, cfg.Pipeline.MaxContentChars)

	return pipeline.NewRunner(cfg, st, searchClient, scrapeClient, extractor, portals), nil
}
