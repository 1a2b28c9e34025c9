package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-forecast/internal/app"
)

var (
	importCSVPath   string
	importBatchSize int
	importDryRun    bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a price history CSV into PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		if importBatchSize < 0 {
			return fmt.Errorf("--batch-size must not be negative")
		}
		return getApp().Import(cmd.Context(), app.ImportOptions{
			CSVPath:   importCSVPath,
			BatchSize: importBatchSize,
			DryRun:    importDryRun,
		})
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "CSV file to import (defaults to dataset.path)")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 500, "Rows per upsert batch")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse the file without writing")
}
