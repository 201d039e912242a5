package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runAgencyID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run procurement discovery for a single agency",
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

		runner, err := initRunner(st)
		if err != nil {
			return err
		}

		result, err := runner.RunSingle(ctx, runAgencyID)
		if err != nil {
			return eris.Wrap(err, "discovery run")
		}

		zap.L().Info("discovery complete",
			zap.String("agency", result.AgencyName),
			zap.Int("opportunities", result.OpportunitiesFound),
			zap.Float64("confidence", result.Confidence),
			zap.Int("phases", result.PhasesCompleted),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().StringVar(&runAgencyID, "agency", "", "agency ID (required)")
	_ = runCmd.MarkFlagRequired("agency")
	rootCmd.AddCommand(runCmd)
}
