package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/transitbase/intel-cli/internal/export"
	"github.com/transitbase/intel-cli/internal/store"
	"github.com/transitbase/intel-cli/pkg/notion"
)

var (
	exportFormat        string
	exportOutput        string
	exportAgencyID      string
	exportMinConfidence float64
	exportVerifiedOnly  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored opportunities",
	Long:  "Writes opportunities to an xlsx workbook or a Notion database.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		opps, err := st.ListOpportunities(ctx, store.OpportunityFilter{
			AgencyID:      exportAgencyID,
			MinConfidence: exportMinConfidence,
			VerifiedOnly:  exportVerifiedOnly,
		})
		if err != nil {
			return eris.Wrap(err, "list opportunities")
		}
		if len(opps) == 0 {
			fmt.Println("No opportunities matched the export filter.")
			return nil
		}

		switch exportFormat {
		case "xlsx":
			if err := export.WriteXLSX(exportOutput, opps); err != nil {
				return err
			}
			zap.L().Info("export complete",
				zap.String("format", "xlsx"),
				zap.String("path", exportOutput),
				zap.Int("rows", len(opps)),
			)
			fmt.Printf("Wrote %d opportunities to %s.\n", len(opps), exportOutput)
			return nil
		case "notion":
			if cfg.Notion.Token == "" {
				return eris.New("notion.token is required for notion export (TRANSIT_NOTION_TOKEN)")
			}
			exporter := export.NewNotionExporter(notion.NewClient(cfg.Notion.Token), cfg.Notion.OpportunityDB)
			created, err := exporter.Export(ctx, opps)
			if err != nil {
				return err
			}
			zap.L().Info("export complete",
				zap.String("format", "notion"),
				zap.Int("pages", created),
			)
			fmt.Printf("Created %d of %d Notion pages.\n", created, len(opps))
			return nil
		default:
			return eris.Errorf("unsupported export format: %s", exportFormat)
		}
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "xlsx", "export format (xlsx, notion)")
	exportCmd.Flags().StringVar(&exportOutput, "output", "opportunities.xlsx", "output path for xlsx export")
	exportCmd.Flags().StringVar(&exportAgencyID, "agency", "", "filter by agency ID")
	exportCmd.Flags().Float64Var(&exportMinConfidence, "min-confidence", 0, "minimum confidence score")
	exportCmd.Flags().BoolVar(&exportVerifiedOnly, "verified", false, "verified opportunities only")
	rootCmd.AddCommand(exportCmd)
}
