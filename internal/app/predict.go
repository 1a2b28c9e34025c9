package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"price-forecast/internal/service"
)

// Predict runs one forecast and prints it.
func (a *App) Predict(ctx context.Context, opts PredictOptions) error {
	rt, err := a.newRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	days := opts.Days
	if days <= 0 {
		days = a.Config.Forecast.Horizon
	}
	pred, err := rt.analytics.Predict(ctx, opts.ProductID, opts.Platform, days)
	if err != nil {
		return err
	}
	if opts.JSON {
		return a.writeJSON(pred)
	}

	fmt.Fprintf(a.Out, "%s on %s (last observed %s at %s)\n\n",
		pred.Product.Name, pred.Platform, pred.LastObserved, service.FormatCurrency(pred.LastPrice))

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tPrice\tChange%")
	for _, p := range pred.Predictions {
		change := 0.0
		if pred.LastPrice != 0 {
			change = (p.Price - pred.LastPrice) / pred.LastPrice * 100
		}
		fmt.Fprintf(writer, "%s\t%s\t%+.2f\n", p.Date, service.FormatCurrency(p.Price), change)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "\nExpected change: %+.2f%%\n", pred.ExpectedChangePct)
	fmt.Fprintf(a.Out, "Recommendation: %s\n", pred.Recommendation)
	fmt.Fprintf(a.Out, "Analysis: %s\n", sanitizeInline(pred.AISummary))
	fmt.Fprintf(a.Out, "Loss: train %.6f, test %.6f\n", pred.TrainLoss, pred.TestLoss)
	if pred.RunID != "" {
		fmt.Fprintf(a.Out, "Run: %s\n", pred.RunID)
	}
	return nil
}

// Metrics prints the recent history and statistics of a series.
func (a *App) Metrics(ctx context.Context, opts MetricsOptions) error {
	rt, err := a.newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.analytics.Metrics(opts.ProductID, opts.Platform, opts.HistoryDays)
	if err != nil {
		return err
	}
	if opts.JSON {
		return a.writeJSON(report)
	}

	fmt.Fprintf(a.Out, "%s on %s: %s (updated %s, %d samples)\n",
		report.Product.Name, report.Platform, report.LatestPriceText, report.LastUpdated, report.SampleSize)
	fmt.Fprintf(a.Out, "Average %s, min %s, max %s over %d days\n",
		service.FormatCurrency(report.Stats.AvgPrice),
		service.FormatCurrency(report.Stats.MinPrice),
		service.FormatCurrency(report.Stats.MaxPrice),
		len(report.History))
	if report.Comparison.BestPlatform != nil {
		fmt.Fprintf(a.Out, "Cheapest platform: %s\n", *report.Comparison.BestPlatform)
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "\nDate\tPrice")
	for _, p := range report.History {
		fmt.Fprintf(writer, "%s\t%s\n", p.Date, service.FormatCurrency(p.Price))
	}
	return writer.Flush()
}

// Catalog lists products and their platforms.
func (a *App) Catalog(ctx context.Context, asJSON bool) error {
	rt, err := a.newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	catalog := rt.analytics.Catalog()
	if asJSON {
		return a.writeJSON(catalog)
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tBrand\tCategory\tPlatforms")
	for _, p := range catalog.Products {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Brand, p.Category, strings.Join(p.Platforms, ","))
	}
	return writer.Flush()
}

func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
