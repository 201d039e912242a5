package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/transitbase/intel-cli/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <agency-id>",
	Short: "Show the procurement rollup for an agency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, err := st.GetAgencyStatus(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "agency status")
		}
		if status == nil {
			fmt.Fprintln(os.Stderr, "No runs recorded for this agency yet.")
			return nil
		}

		opps, err := st.ListOpportunities(ctx, store.OpportunityFilter{
			AgencyID: args[0],
			Limit:    10,
		})
		if err != nil {
			return eris.Wrap(err, "list opportunities")
		}

		out := struct {
			Status        any `json:"status"`
			Opportunities any `json:"recent_opportunities"`
		}{status, opps}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
