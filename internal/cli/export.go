package cli

import (
	"github.com/spf13/cobra"

	"price-forecast/internal/app"
)

var (
	exportProduct   string
	exportPlatform  string
	exportDays      int
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export price history plus forecast as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), app.ExportOptions{
			ProductID: exportProduct,
			Platform:  exportPlatform,
			Days:      exportDays,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportProduct, "product", "", "Product id")
	exportCmd.Flags().StringVar(&exportPlatform, "platform", "", "Platform name")
	exportCmd.Flags().IntVar(&exportDays, "days", 0, "Days to forecast (defaults to forecast.horizon)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum history points to export (defaults to config)")
	_ = exportCmd.MarkFlagRequired("product")
	_ = exportCmd.MarkFlagRequired("platform")
}
