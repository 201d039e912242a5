package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchLimit int

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run discovery for the highest-priority agencies",
	Long:  "Selects agencies with a known website ordered by fleet size and runs each sequentially.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if batchLimit > 0 {
			cfg.Pipeline.BatchLimit = batchLimit
		}

		runner, err := initRunner(st)
		if err != nil {
			return err
		}

		results, err := runner.RunBatch(ctx)
		if err != nil {
			return eris.Wrap(err, "batch run")
		}

		succeeded := 0
		for _, r := range results {
			if r.Error == "" {
				succeeded++
			}
		}
		zap.L().Info("batch complete",
			zap.Int("processed", len(results)),
			zap.Int("succeeded", succeeded),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max agencies to process (default from config)")
	rootCmd.AddCommand(batchCmd)
}
