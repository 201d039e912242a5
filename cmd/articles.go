package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/transitbase/intel-cli/internal/articles"
	"github.com/transitbase/intel-cli/internal/model"
	"github.com/transitbase/intel-cli/internal/store"
	anthropicpkg "github.com/transitbase/intel-cli/pkg/anthropic"
	"github.com/transitbase/intel-cli/pkg/exa"
)

var articlesCmd = &cobra.Command{
	Use:   "articles",
	Short: "Discover and inspect transit industry news",
}

// -- articles discover --

var articlesDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one article discovery pass",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic.key is required for article classification (TRANSIT_ANTHROPIC_KEY)")
		}
		if cfg.Exa.Key == "" {
			return eris.New("exa.key is required for article discovery (TRANSIT_EXA_KEY)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		searchClient := exa.NewClient(cfg.Exa.Key, exa.WithBaseURL(cfg.Exa.BaseURL))
		classifier := articles.NewClassifier(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
		d := articles.NewDiscoverer(cfg.Articles, st, searchClient, classifier)

		res, err := d.Discover(ctx)
		if err != nil {
			return eris.Wrap(err, "article discovery")
		}

		zap.L().Info("article discovery complete",
			zap.Int("candidates", res.Candidates),
			zap.Int("stored", res.Stored),
		)
		fmt.Printf("Stored %d of %d candidate articles.\n", res.Stored, res.Candidates)
		return nil
	},
}

// -- articles list --

var articlesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored articles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		minRelevance, _ := cmd.Flags().GetFloat64("min-relevance")
		limit, _ := cmd.Flags().GetInt("limit")

		list, err := st.ListArticles(ctx, store.ArticleFilter{
			MinRelevance: minRelevance,
			Limit:        limit,
		})
		if err != nil {
			return eris.Wrap(err, "articles list")
		}

		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No articles found.")
			return nil
		}

		formatArticlesList(os.Stdout, list)
		return nil
	},
}

func init() {
	articlesListCmd.Flags().Float64("min-relevance", 0, "minimum relevance score")
	articlesListCmd.Flags().Int("limit", 50, "max number of articles to display")

	articlesCmd.AddCommand(articlesDiscoverCmd)
	articlesCmd.AddCommand(articlesListCmd)
	rootCmd.AddCommand(articlesCmd)
}

func formatArticlesList(out io.Writer, list []model.Article) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TITLE\tSOURCE\tREL\tPUBLISHED")
	_, _ = fmt.Fprintln(w, "-----\t------\t---\t---------")

	for _, a := range list {
		title := a.Title
		if len(title) > 50 {
			title = title[:47] + "..."
		}
		published := ""
		if a.PublishedAt != nil {
			published = a.PublishedAt.Format("2006-01-02")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", title, a.Source, a.Relevance, published)
	}
	_ = w.Flush()
}
