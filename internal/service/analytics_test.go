package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-forecast/internal/dataset"
	"price-forecast/internal/enrich"
	"price-forecast/internal/forecast"
	"price-forecast/internal/storage"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func rows(product, platform string, n int, price func(i int) float64) []dataset.Row {
	out := make([]dataset.Row, n)
	for i := range out {
		out[i] = dataset.Row{Record: forecast.Record{
			Date:      day0.AddDate(0, 0, i),
			ProductID: product,
			Platform:  platform,
			Price:     price(i),
		}}
	}
	return out
}

func testPipeline(t *testing.T) *forecast.Pipeline {
	t.Helper()
	p, err := forecast.NewPipeline(forecast.Config{
		WindowLength: 8,
		BatchSize:    8,
		Epochs:       2,
		LearningRate: 0.01,
		HiddenSize:   4,
		NumLayers:    1,
		Horizon:      3,
		Seed:         7,
	}, forecast.ExecutionConfig{Workers: 1}, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func testAnalytics(t *testing.T, deps AnalyticsDeps) *Analytics {
	t.Helper()
	var all []dataset.Row
	all = append(all, rows("iphone15", "Shopee", 40, func(int) float64 { return 20000000 })...)
	all = append(all, rows("iphone15", "Lazada", 40, func(i int) float64 { return 19500000 + float64(i) })...)
	all = append(all, rows("gopro12", "Shopee", 5, func(int) float64 { return 9000000 })...)

	stock, rating := 12.0, 4.5
	all[39].Stock = &stock
	all[39].Rating = &rating

	ds := dataset.New(all)
	catalog := dataset.BuildCatalog(context.Background(), ds, nil, nil, nil)
	return NewAnalytics(ds, catalog, testPipeline(t), AnalyticsOptions{HistoryDays: 10, MaxHorizon: 30}, deps, zerolog.Nop())
}

type stubSummaries struct {
	enabled bool
	err     error
	got     enrich.SummaryInput
}

func (s *stubSummaries) Enabled() bool { return s.enabled }

func (s *stubSummaries) Generate(_ context.Context, in enrich.SummaryInput) (*enrich.Summary, error) {
	s.got = in
	if s.err != nil {
		return nil, s.err
	}
	return &enrich.Summary{Analysis: "model says flat", Recommendation: "ignored"}, nil
}

type stubRuns struct {
	mu   sync.Mutex
	runs []storage.ForecastRun
	err  error
}

func (s *stubRuns) InsertForecastRun(_ context.Context, run *storage.ForecastRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	s.runs = append(s.runs, *run)
	return nil
}

func (s *stubRuns) GetForecastRun(context.Context, uuid.UUID) (storage.ForecastRun, error) {
	return storage.ForecastRun{}, storage.ErrNotFound
}

func (s *stubRuns) ListRecentRuns(context.Context, int) ([]storage.ForecastRun, error) {
	return s.runs, nil
}

type stubRecorder struct {
	calls int
	err   error
}

func (r *stubRecorder) ObserveForecast(_, _ string, _ time.Duration, _, _ float64, err error) {
	r.calls++
	r.err = err
}

func TestFormatCurrency(t *testing.T) {
	cases := map[float64]string{
		0:          "0 đ",
		999:        "999 đ",
		1000:       "1.000 đ",
		1234567:    "1.234.567 đ",
		20499999.6: "20.500.000 đ",
		-1500:      "-1.500 đ",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatCurrency(in), "input %v", in)
	}
}

func TestChangePctAndRecommend(t *testing.T) {
	assert.InDelta(t, 10, ChangePct([]float64{90, 100}, []float64{105, 110}), 1e-9)
	assert.InDelta(t, 0, ChangePct([]float64{0}, []float64{5}), 1e-9)
	assert.InDelta(t, 100, ChangePct(nil, []float64{5, 10}), 1e-9)
	assert.InDelta(t, 0, ChangePct([]float64{1}, nil), 1e-9)

	assert.Equal(t, RecommendStable, Recommend(0.49))
	assert.Equal(t, RecommendStable, Recommend(-0.49))
	assert.Equal(t, RecommendBuy, Recommend(0.5))
	assert.Equal(t, RecommendWait, Recommend(-0.5))
}

func TestFallbackAnalysis(t *testing.T) {
	text := FallbackAnalysis([]float64{100, 200}, []float64{210, 220, 230}, 15)
	assert.Equal(t, "Average price over the last 2 days is 150 đ. The model expects the price to rise by about 15.00% over the next 3 days.", text)

	text = FallbackAnalysis(nil, []float64{50}, -2)
	assert.Contains(t, text, "last 1 days is 50 đ")
	assert.Contains(t, text, "fall by about 2.00%")
}

func TestMetrics(t *testing.T) {
	a := testAnalytics(t, AnalyticsDeps{})

	report, err := a.Metrics("iphone15", "Lazada", 0)
	require.NoError(t, err)
	assert.Equal(t, "iphone15", report.Product.ID)
	assert.Len(t, report.History, 10)
	assert.Equal(t, 40, report.SampleSize)
	assert.Equal(t, "2024-02-09", report.LastUpdated)
	assert.InDelta(t, 19500039, report.LatestPrice, 1e-9)
	assert.InDelta(t, 19500039, report.Stats.MaxPrice, 1e-9)
	assert.InDelta(t, 19500030, report.Stats.MinPrice, 1e-9)
	assert.InDelta(t, 19500034.5, report.Stats.AvgPrice, 1e-9)
	assert.Equal(t, "19.500.039 đ", report.LatestPriceText)

	require.NotNil(t, report.Comparison.BestPlatform)
	assert.Equal(t, "Lazada", *report.Comparison.BestPlatform)
	assert.Len(t, report.Comparison.Prices, 2)

	report, err = a.Metrics("iphone15", "Shopee", 3)
	require.NoError(t, err)
	assert.Len(t, report.History, 3)
	require.NotNil(t, report.Stock)
	assert.Equal(t, int64(12), *report.Stock)
	require.NotNil(t, report.Rating)
	assert.InDelta(t, 4.5, *report.Rating, 1e-9)
	assert.InDelta(t, 0, report.Stats.StdDev, 1e-9)

	_, err = a.Metrics("iphone15", "Tiki", 0)
	assert.ErrorIs(t, err, dataset.ErrSeriesNotFound)
}

func TestPredictHorizonBounds(t *testing.T) {
	a := testAnalytics(t, AnalyticsDeps{})
	ctx := context.Background()

	_, err := a.Predict(ctx, "iphone15", "Shopee", 0)
	assert.ErrorIs(t, err, ErrInvalidHorizon)
	_, err = a.Predict(ctx, "iphone15", "Shopee", 31)
	assert.ErrorIs(t, err, ErrInvalidHorizon)
	_, err = a.Predict(ctx, "nope", "Shopee", 3)
	assert.ErrorIs(t, err, dataset.ErrSeriesNotFound)
}

func TestPredictSuccess(t *testing.T) {
	summaries := &stubSummaries{enabled: true}
	runs := &stubRuns{}
	rec := &stubRecorder{}
	a := testAnalytics(t, AnalyticsDeps{Summaries: summaries, Runs: runs, Recorder: rec})

	pred, err := a.Predict(context.Background(), "iphone15", "Shopee", 5)
	require.NoError(t, err)

	require.Len(t, pred.Predictions, 5)
	assert.Equal(t, "2024-02-10", pred.Predictions[0].Date)
	assert.Equal(t, "2024-02-14", pred.Predictions[4].Date)
	assert.Equal(t, "2024-02-09", pred.LastObserved)
	assert.InDelta(t, 20000000, pred.LastPrice, 1e-9)
	for _, p := range pred.Predictions {
		assert.InDelta(t, round2(p.Price), p.Price, 1e-9)
	}
	assert.Equal(t, "model says flat", pred.AISummary)
	assert.Equal(t, Recommend(pred.ExpectedChangePct), pred.Recommendation)
	assert.Equal(t, "iPhone 15 128GB", summaries.got.ProductName)
	assert.Len(t, summaries.got.History, 10)
	assert.Len(t, summaries.got.Forecast, 5)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, StatusComplete, runs.runs[0].Status)
	assert.Equal(t, pred.RunID, runs.runs[0].ID.String())
	assert.Len(t, runs.runs[0].Predictions, 5)
	assert.Equal(t, 8, runs.runs[0].WindowLength)

	assert.Equal(t, 1, rec.calls)
	assert.NoError(t, rec.err)
}

func TestPredictFallbackSummary(t *testing.T) {
	summaries := &stubSummaries{enabled: true, err: errors.New("offline")}
	runs := &stubRuns{err: errors.New("db down")}
	a := testAnalytics(t, AnalyticsDeps{Summaries: summaries, Runs: runs})

	pred, err := a.Predict(context.Background(), "iphone15", "Lazada", 2)
	require.NoError(t, err)
	assert.Contains(t, pred.AISummary, "Average price over the last 10 days")
	assert.Empty(t, pred.RunID)
}

func TestPredictInsufficientDataRecorded(t *testing.T) {
	runs := &stubRuns{}
	rec := &stubRecorder{}
	a := testAnalytics(t, AnalyticsDeps{Runs: runs, Recorder: rec})

	_, err := a.Predict(context.Background(), "gopro12", "Shopee", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, forecast.ErrInsufficientData)

	var stageErr *forecast.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, forecast.StagePrepared, stageErr.Stage)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, StatusFailed, runs.runs[0].Status)
	require.NotNil(t, runs.runs[0].Error)
	assert.Equal(t, 1, rec.calls)
	assert.Error(t, rec.err)
}

func TestTargets(t *testing.T) {
	a := testAnalytics(t, AnalyticsDeps{})
	targets := a.Targets()
	assert.ElementsMatch(t, []Target{
		{ProductID: "iphone15", Platform: "Lazada"},
		{ProductID: "iphone15", Platform: "Shopee"},
		{ProductID: "gopro12", Platform: "Shopee"},
	}, targets)
}
