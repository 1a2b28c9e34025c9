package cli

import (
	"github.com/spf13/cobra"

	"price-forecast/internal/app"
)

var (
	predictProduct  string
	predictPlatform string
	predictDays     int
	predictJSON     bool

	metricsProduct  string
	metricsPlatform string
	metricsHistory  int
	metricsJSON     bool

	catalogJSON bool
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Forecast the price of one product on one platform",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Predict(cmd.Context(), app.PredictOptions{
			ProductID: predictProduct,
			Platform:  predictPlatform,
			Days:      predictDays,
			JSON:      predictJSON,
		})
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show recent price history and statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Metrics(cmd.Context(), app.MetricsOptions{
			ProductID:   metricsProduct,
			Platform:    metricsPlatform,
			HistoryDays: metricsHistory,
			JSON:        metricsJSON,
		})
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List products and platforms",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Catalog(cmd.Context(), catalogJSON)
	},
}

func init() {
	predictCmd.Flags().StringVar(&predictProduct, "product", "", "Product id")
	predictCmd.Flags().StringVar(&predictPlatform, "platform", "", "Platform name")
	predictCmd.Flags().IntVar(&predictDays, "days", 0, "Days to forecast (defaults to forecast.horizon)")
	predictCmd.Flags().BoolVar(&predictJSON, "json", false, "Print the prediction as JSON")
	_ = predictCmd.MarkFlagRequired("product")
	_ = predictCmd.MarkFlagRequired("platform")

	metricsCmd.Flags().StringVar(&metricsProduct, "product", "", "Product id")
	metricsCmd.Flags().StringVar(&metricsPlatform, "platform", "", "Platform name")
	metricsCmd.Flags().IntVar(&metricsHistory, "history-days", 0, "Days of history to show (defaults to dataset.history_days)")
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Print the report as JSON")
	_ = metricsCmd.MarkFlagRequired("product")
	_ = metricsCmd.MarkFlagRequired("platform")

	catalogCmd.Flags().BoolVar(&catalogJSON, "json", false, "Print the catalog as JSON")
}
