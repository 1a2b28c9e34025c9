package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"price-forecast/internal/dataset"
	"price-forecast/internal/enrich"
	"price-forecast/internal/forecast"
	"price-forecast/internal/logging"
	"price-forecast/internal/storage"
)

// ErrInvalidHorizon is returned when the requested forecast length is out of bounds.
var ErrInvalidHorizon = errors.New("invalid forecast horizon")

// Run statuses persisted with each forecast.
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Recommendation texts keyed by the expected move.
const (
	RecommendStable = "Price is fairly stable; you can buy at any time."
	RecommendBuy    = "Consider buying soon before the price rises further."
	RecommendWait   = "Consider waiting a few days to take advantage of the downward trend."
)

const stableChangePct = 0.5

// Recorder receives forecast telemetry.
type Recorder interface {
	ObserveForecast(productID, platform string, elapsed time.Duration, trainLoss, testLoss float64, err error)
}

// PricePoint is one dated price in a response.
type PricePoint struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// Stats summarise the recent history window.
type Stats struct {
	AvgPrice float64 `json:"avg_price"`
	MaxPrice float64 `json:"max_price"`
	MinPrice float64 `json:"min_price"`
	StdDev   float64 `json:"std_dev"`
}

// Comparison lists the latest price on each platform carrying the product.
type Comparison struct {
	Prices       map[string]float64 `json:"prices"`
	BestPlatform *string            `json:"best_platform"`
}

// MetricsReport is the history view of one product on one platform.
type MetricsReport struct {
	Product         dataset.CatalogEntry `json:"product"`
	Platform        string               `json:"platform"`
	LatestPrice     float64              `json:"latest_price"`
	LatestPriceText string               `json:"latest_price_text"`
	LastUpdated     string               `json:"last_updated"`
	History         []PricePoint         `json:"history"`
	Stats           Stats                `json:"stats"`
	Comparison      Comparison           `json:"comparison"`
	Rating          *float64             `json:"rating"`
	Stock           *int64               `json:"stock"`
	SampleSize      int                  `json:"sample_size"`
}

// Prediction is the outcome of one forecast request.
type Prediction struct {
	RunID             string               `json:"run_id,omitempty"`
	Product           dataset.CatalogEntry `json:"product"`
	Platform          string               `json:"platform"`
	LastObserved      string               `json:"last_observed"`
	LastPrice         float64              `json:"last_price"`
	Predictions       []PricePoint         `json:"predictions"`
	AISummary         string               `json:"ai_summary"`
	Recommendation    string               `json:"recommendation"`
	ExpectedChangePct float64              `json:"expected_change_pct"`
	TrainLoss         float64              `json:"train_loss"`
	TestLoss          float64              `json:"test_loss"`
	ElapsedMS         int64                `json:"elapsed_ms"`
}

// FinalPrice returns the last predicted price.
func (p *Prediction) FinalPrice() float64 {
	if len(p.Predictions) == 0 {
		return p.LastPrice
	}
	return p.Predictions[len(p.Predictions)-1].Price
}

// AnalyticsOptions bound request parameters.
type AnalyticsOptions struct {
	HistoryDays int
	MaxHorizon  int
}

// Analytics answers catalog, metrics and prediction requests over one dataset.
type Analytics struct {
	data      *dataset.Dataset
	catalog   *dataset.Catalog
	pipeline  *forecast.Pipeline
	summaries enrich.SummaryGenerator
	images    dataset.ImageResolver
	runs      storage.RunStore
	recorder  Recorder
	opts      AnalyticsOptions
	logger    zerolog.Logger
	now       func() time.Time
}

// AnalyticsDeps are the optional collaborators of Analytics. Nil members disable the feature.
type AnalyticsDeps struct {
	Summaries enrich.SummaryGenerator
	Images    dataset.ImageResolver
	Runs      storage.RunStore
	Recorder  Recorder
}

// NewAnalytics wires the dataset, its catalog and a forecasting pipeline.
func NewAnalytics(data *dataset.Dataset, catalog *dataset.Catalog, pipeline *forecast.Pipeline, opts AnalyticsOptions, deps AnalyticsDeps, logger zerolog.Logger) *Analytics {
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 30
	}
	if opts.MaxHorizon <= 0 {
		opts.MaxHorizon = 60
	}
	return &Analytics{
		data:      data,
		catalog:   catalog,
		pipeline:  pipeline,
		summaries: deps.Summaries,
		images:    deps.Images,
		runs:      deps.Runs,
		recorder:  deps.Recorder,
		opts:      opts,
		logger:    logging.Component(logger, "analytics"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Catalog returns the selectable products and platforms.
func (a *Analytics) Catalog() *dataset.Catalog {
	return a.catalog
}

// Targets lists every product/platform pair present in the catalog.
func (a *Analytics) Targets() []Target {
	var out []Target
	for _, p := range a.catalog.Products {
		for _, platform := range p.Platforms {
			if _, ok := a.data.Latest(p.ID, platform); ok {
				out = append(out, Target{ProductID: p.ID, Platform: platform})
			}
		}
	}
	return out
}

// Metrics reports the recent history of a series. historyDays <= 0 uses the configured default.
func (a *Analytics) Metrics(productID, platform string, historyDays int) (*MetricsReport, error) {
	series, err := a.data.Series(productID, platform)
	if err != nil {
		return nil, err
	}
	if historyDays <= 0 {
		historyDays = a.opts.HistoryDays
	}
	recent := tail(series, historyDays)
	latest, _ := a.data.Latest(productID, platform)

	prices := make([]float64, len(recent))
	history := make([]PricePoint, len(recent))
	for i, r := range recent {
		prices[i] = r.Price
		history[i] = PricePoint{Date: r.Date.Format(dateLayout), Price: r.Price}
	}

	report := &MetricsReport{
		Product:         a.productMeta(productID),
		Platform:        platform,
		LatestPrice:     latest.Price,
		LatestPriceText: FormatCurrency(latest.Price),
		LastUpdated:     latest.Date.Format(dateLayout),
		History:         history,
		Stats:           summarize(prices),
		Comparison:      a.comparison(productID),
		Rating:          latest.Rating,
		SampleSize:      len(series),
	}
	if latest.Stock != nil {
		v := int64(*latest.Stock)
		report.Stock = &v
	}
	return report, nil
}

// Predict forecasts days past the end of a series and explains the result.
func (a *Analytics) Predict(ctx context.Context, productID, platform string, days int) (*Prediction, error) {
	if days < 1 || days > a.opts.MaxHorizon {
		return nil, fmt.Errorf("%w: days must be between 1 and %d, got %d", ErrInvalidHorizon, a.opts.MaxHorizon, days)
	}
	series, err := a.data.Series(productID, platform)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := a.now()
	res, runErr := a.pipeline.RunHorizon(series, days)
	elapsed := a.now().Sub(started)
	if res != nil {
		elapsed = res.Elapsed
	}
	if a.recorder != nil {
		var trainLoss, testLoss float64
		if res != nil {
			trainLoss, testLoss = res.TrainLoss, res.TestLoss
		}
		a.recorder.ObserveForecast(productID, platform, elapsed, trainLoss, testLoss, runErr)
	}

	last := series[len(series)-1]
	if runErr != nil {
		a.persistFailure(ctx, productID, platform, last, days, elapsed, runErr)
		return nil, runErr
	}

	product := a.productMeta(productID)
	recent := tail(series, a.opts.HistoryDays)
	recentPrices := make([]float64, len(recent))
	for i, r := range recent {
		recentPrices[i] = r.Price
	}
	predicted := make([]float64, len(res.Points))
	points := make([]PricePoint, len(res.Points))
	for i, p := range res.Points {
		predicted[i] = p.Price
		points[i] = PricePoint{Date: p.Date.Format(dateLayout), Price: round2(p.Price)}
	}

	changePct := ChangePct(recentPrices, predicted)
	out := &Prediction{
		Product:           product,
		Platform:          platform,
		LastObserved:      last.Date.Format(dateLayout),
		LastPrice:         last.Price,
		Predictions:       points,
		Recommendation:    Recommend(changePct),
		ExpectedChangePct: changePct,
		TrainLoss:         res.TrainLoss,
		TestLoss:          res.TestLoss,
		ElapsedMS:         res.Elapsed.Milliseconds(),
	}
	out.AISummary = a.analysis(ctx, product.Name, platform, recentPrices, predicted, changePct)

	if a.runs != nil {
		run := &storage.ForecastRun{
			ID:             uuid.New(),
			ProductID:      productID,
			Platform:       platform,
			LastObserved:   last.Date,
			LastPrice:      decimal.NewFromFloat(last.Price),
			HorizonDays:    days,
			WindowLength:   a.pipeline.Config().WindowLength,
			TrainLoss:      res.TrainLoss,
			TestLoss:       res.TestLoss,
			ChangePct:      decimal.NewFromFloat(changePct).Round(4),
			Recommendation: out.Recommendation,
			Predictions:    make([]storage.ForecastPoint, len(res.Points)),
			Status:         StatusComplete,
			Duration:       res.Elapsed,
		}
		for i, p := range res.Points {
			run.Predictions[i] = storage.ForecastPoint{Date: p.Date, Price: decimal.NewFromFloat(p.Price).Round(2)}
		}
		if err := a.runs.InsertForecastRun(ctx, run); err != nil {
			a.logger.Error().Err(err).Str("product_id", productID).Str("platform", platform).Msg("failed to persist forecast run")
		} else {
			out.RunID = run.ID.String()
		}
	}
	return out, nil
}

func (a *Analytics) persistFailure(ctx context.Context, productID, platform string, last forecast.Record, days int, elapsed time.Duration, runErr error) {
	if a.runs == nil {
		return
	}
	msg := runErr.Error()
	run := &storage.ForecastRun{
		ProductID:    productID,
		Platform:     platform,
		LastObserved: last.Date,
		LastPrice:    decimal.NewFromFloat(last.Price),
		HorizonDays:  days,
		WindowLength: a.pipeline.Config().WindowLength,
		Status:       StatusFailed,
		Error:        &msg,
		Duration:     elapsed,
	}
	if err := a.runs.InsertForecastRun(ctx, run); err != nil {
		a.logger.Error().Err(err).Str("product_id", productID).Str("platform", platform).Msg("failed to persist failed forecast run")
	}
}

func (a *Analytics) analysis(ctx context.Context, name, platform string, history, predicted []float64, changePct float64) string {
	fallback := FallbackAnalysis(history, predicted, changePct)
	if a.summaries == nil || !a.summaries.Enabled() {
		return fallback
	}
	summary, err := a.summaries.Generate(ctx, enrich.SummaryInput{
		ProductName: name,
		Platform:    platform,
		History:     history,
		Forecast:    predicted,
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("product", name).Str("platform", platform).Msg("ai summary failed")
		return fallback
	}
	return summary.Analysis
}

func (a *Analytics) productMeta(productID string) dataset.CatalogEntry {
	if entry, ok := a.catalog.Lookup(productID); ok {
		return entry
	}
	p := dataset.KnownProducts[productID]
	p.ID = productID
	if p.Name == "" {
		p.Name = productID
	}
	if p.Image == "" && a.images != nil {
		p.Image = a.images.Resolve(context.Background(), p.Name)
	}
	if p.Image == "" {
		p.Image = dataset.DefaultImage
	}
	return dataset.CatalogEntry{Product: p, Platforms: a.catalog.Platforms}
}

func (a *Analytics) comparison(productID string) Comparison {
	cmp := Comparison{Prices: make(map[string]float64)}
	bestPrice := 0.0
	for _, platform := range a.catalog.Platforms {
		row, ok := a.data.Latest(productID, platform)
		if !ok {
			continue
		}
		cmp.Prices[platform] = row.Price
		if cmp.BestPlatform == nil || row.Price < bestPrice {
			name := platform
			cmp.BestPlatform = &name
			bestPrice = row.Price
		}
	}
	return cmp
}

const dateLayout = "2006-01-02"

func tail(records []forecast.Record, n int) []forecast.Record {
	if n < 1 {
		n = 1
	}
	if len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}

func summarize(prices []float64) Stats {
	if len(prices) == 0 {
		return Stats{}
	}
	mean, std := stat.MeanStdDev(prices, nil)
	if len(prices) < 2 {
		std = 0
	}
	return Stats{
		AvgPrice: mean,
		MaxPrice: floats.Max(prices),
		MinPrice: floats.Min(prices),
		StdDev:   std,
	}
}

// ChangePct is the percentage move from the last observed price to the last prediction.
// An empty history falls back to the first prediction; a zero base yields 0.
func ChangePct(history, predicted []float64) float64 {
	if len(predicted) == 0 {
		return 0
	}
	base := predicted[0]
	if len(history) > 0 {
		base = history[len(history)-1]
	}
	if base == 0 {
		return 0
	}
	return (predicted[len(predicted)-1] - base) / base * 100
}

// Recommend maps an expected change onto advice.
func Recommend(changePct float64) string {
	switch {
	case abs(changePct) < stableChangePct:
		return RecommendStable
	case changePct > 0:
		return RecommendBuy
	default:
		return RecommendWait
	}
}

// FallbackAnalysis describes a forecast without the language model.
func FallbackAnalysis(history, predicted []float64, changePct float64) string {
	if len(history) == 0 && len(predicted) > 0 {
		history = predicted[:1]
	}
	direction := "fall"
	if changePct > 0 {
		direction = "rise"
	}
	avg := 0.0
	if len(history) > 0 {
		avg = stat.Mean(history, nil)
	}
	return fmt.Sprintf("Average price over the last %d days is %s. The model expects the price to %s by about %.2f%% over the next %d days.",
		len(history), FormatCurrency(avg), direction, abs(changePct), len(predicted))
}

// FormatCurrency renders a price rounded to whole units with dot thousands separators, e.g. "1.234.567 đ".
func FormatCurrency(v float64) string {
	s := decimal.NewFromFloat(v).Round(0).StringFixed(0)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	return sign + b.String() + " đ"
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
