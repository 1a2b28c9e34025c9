package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"price-forecast/internal/service"
)

const (
	kindObserved = "observed"
	kindForecast = "forecast"
)

type exportRow struct {
	Date  time.Time
	Price float64
	Kind  string
}

// Export forecasts one series and writes its history plus forecast as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	if opts.Days <= 0 {
		opts.Days = a.Config.Forecast.Horizon
	}

	rt, err := a.newRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.analytics.Metrics(opts.ProductID, opts.Platform, math.MaxInt32)
	if err != nil {
		return err
	}
	pred, err := rt.analytics.Predict(ctx, opts.ProductID, opts.Platform, opts.Days)
	if err != nil {
		return err
	}

	history, err := toRows(report.History, kindObserved)
	if err != nil {
		return err
	}
	future, err := toRows(pred.Predictions, kindForecast)
	if err != nil {
		return err
	}
	history = downsample(history, opts.MaxPoints)
	a.Logger.Info().
		Int("observed", report.SampleSize).
		Int("exported", len(history)).
		Int("forecast", len(future)).
		Msg("exporting series")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, append(history, future...)); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		title := fmt.Sprintf("%s on %s", pred.Product.Name, pred.Platform)
		if err := writeSeriesPNG(opts.PNGPath, title, history, future); err != nil {
			return err
		}
	}
	return nil
}

func toRows(points []service.PricePoint, kind string) ([]exportRow, error) {
	out := make([]exportRow, len(points))
	for i, p := range points {
		d, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", p.Date, err)
		}
		out[i] = exportRow{Date: d, Price: p.Price, Kind: kind}
	}
	return out, nil
}

// downsample keeps max evenly spaced rows, always including the first and last.
func downsample(rows []exportRow, max int) []exportRow {
	if max <= 0 || len(rows) <= max {
		return rows
	}
	if max == 1 {
		return rows[len(rows)-1:]
	}

	result := make([]exportRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeSeriesCSV(path string, rows []exportRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"date", "price", "kind"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.Date.Format("2006-01-02"),
			strconv.FormatFloat(r.Price, 'f', 2, 64),
			r.Kind,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeSeriesPNG(path, title string, history, future []exportRow) error {
	if len(history) == 0 {
		return errors.New("no history to plot")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	hx, hy := split(history)
	// The forecast line starts at the last observation so the two series join.
	fx, fy := split(append([]exportRow{history[len(history)-1]}, future...))

	priceFormatter := func(v interface{}) string {
		if f, ok := v.(float64); ok {
			return service.FormatCurrency(f)
		}
		return ""
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Observed",
				XValues: hx,
				YValues: hy,
			},
			chart.TimeSeries{
				Name:    "Forecast",
				XValues: fx,
				YValues: fy,
				Style: chart.Style{
					StrokeColor:     chart.ColorRed,
					StrokeDashArray: []float64{5, 5},
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func split(rows []exportRow) ([]time.Time, []float64) {
	x := make([]time.Time, len(rows))
	y := make([]float64, len(rows))
	for i, r := range rows {
		x[i] = r.Date
		y[i] = r.Price
	}
	return x, y
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
