package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/transitbase/intel-cli/internal/model"
	"github.com/transitbase/intel-cli/internal/store"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import agencies from a CSV file",
	Long:  "Expects columns id,name,city,state,url,vehicle_count with a header row. A blank id gets a generated UUID.",
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

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close() //nolint:errcheck

		imported, skipped, err := importAgencies(ctx, st, f)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.Int("imported", imported),
			zap.Int("skipped", skipped),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

// importAgencies reads agency rows from r and upserts them. Rows missing
// both a name and a URL are skipped.
func importAgencies(ctx context.Context, st store.Store, r io.Reader) (imported, skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, 0, eris.Wrap(err, "read csv header")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return imported, skipped, eris.Wrap(err, "read csv row")
		}

		agency := model.Agency{
			ID:        field(row, "id"),
			Name:      field(row, "name"),
			City:      field(row, "city"),
			State:     field(row, "state"),
			URL:       field(row, "url"),
			CreatedAt: time.Now().UTC(),
		}
		if agency.Name == "" && agency.URL == "" {
			skipped++
			continue
		}
		if agency.ID == "" {
			agency.ID = uuid.New().String()
		}
		if agency.Name == "" {
			agency.Name = model.NameFromURL(agency.URL)
		}
		if count := field(row, "vehicle_count"); count != "" {
			if n, convErr := strconv.Atoi(count); convErr == nil {
				agency.VehicleCount = n
			}
		}

		if err := st.UpsertAgency(ctx, agency); err != nil {
			return imported, skipped, eris.Wrapf(err, "upsert agency %s", agency.ID)
		}
		imported++
	}

	return imported, skipped, nil
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to agency CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
