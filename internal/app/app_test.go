package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-forecast/internal/config"
	"price-forecast/internal/dataset"
	"price-forecast/internal/forecast"
	"price-forecast/internal/service"
	"price-forecast/internal/storage"
)

func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,product_id,platform,price,original_price,is_promo,stock,rating\n")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		d := start.AddDate(0, 0, i).Format("2006-01-02")
		fmt.Fprintf(&b, "%s,iphone15,Shopee,%d,21000000,%d,%d,4.7\n", d, 20000000+i*1000, i%2, 50-i)
		fmt.Fprintf(&b, "%s,iphone15,Lazada,19900000,,,,\n", d)
	}
	path := filepath.Join(dir, "dataset.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testApp(t *testing.T) (*App, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.App.Name = "priceforecast-test"
	cfg.Dataset = config.DatasetConfig{
		Source:        "csv",
		Path:          writeDataset(t, dir),
		ProductsPath:  filepath.Join(dir, "products.csv"),
		PlatformsPath: filepath.Join(dir, "platforms.csv"),
		HistoryDays:   10,
	}
	cfg.Forecast = config.ForecastConfig{
		WindowLength: 8,
		BatchSize:    8,
		Epochs:       2,
		LearningRate: 0.01,
		HiddenSize:   4,
		NumLayers:    1,
		Horizon:      3,
		MaxHorizon:   30,
		Seed:         1,
	}
	cfg.Execution.Workers = 1
	cfg.Export.MaxDataPoints = 1000
	cfg.Images.Placeholder = dataset.DefaultImage

	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out, dir
}

func TestPredictTable(t *testing.T) {
	a, out, _ := testApp(t)
	require.NoError(t, a.Predict(context.Background(), PredictOptions{ProductID: "iphone15", Platform: "Shopee", Days: 4}))

	text := out.String()
	assert.Contains(t, text, "iPhone 15 128GB on Shopee (last observed 2024-02-09 at 20.039.000 đ)")
	assert.Contains(t, text, "2024-02-13")
	assert.Contains(t, text, "Recommendation:")
	assert.NotContains(t, text, "Run:")
}

func TestPredictJSONUsesDefaultHorizon(t *testing.T) {
	a, out, _ := testApp(t)
	require.NoError(t, a.Predict(context.Background(), PredictOptions{ProductID: "iphone15", Platform: "Lazada", JSON: true}))

	var pred service.Prediction
	require.NoError(t, json.Unmarshal(out.Bytes(), &pred))
	assert.Len(t, pred.Predictions, 3)
	assert.Equal(t, "Lazada", pred.Platform)
}

func TestPredictErrors(t *testing.T) {
	a, _, _ := testApp(t)
	err := a.Predict(context.Background(), PredictOptions{ProductID: "iphone15", Platform: "Tiki", Days: 3})
	assert.ErrorIs(t, err, dataset.ErrSeriesNotFound)

	err = a.Predict(context.Background(), PredictOptions{ProductID: "iphone15", Platform: "Shopee", Days: 31})
	assert.ErrorIs(t, err, service.ErrInvalidHorizon)

	a.Config.Forecast.WindowLength = 365
	err = a.Predict(context.Background(), PredictOptions{ProductID: "iphone15", Platform: "Shopee", Days: 3})
	assert.ErrorIs(t, err, forecast.ErrInsufficientData)
}

func TestMetricsAndCatalog(t *testing.T) {
	a, out, _ := testApp(t)
	require.NoError(t, a.Metrics(context.Background(), MetricsOptions{ProductID: "iphone15", Platform: "Shopee", HistoryDays: 5}))
	text := out.String()
	assert.Contains(t, text, "Cheapest platform: Lazada")
	assert.Contains(t, text, "40 samples")
	assert.Contains(t, text, "over 5 days")

	out.Reset()
	require.NoError(t, a.Catalog(context.Background(), false))
	assert.Contains(t, out.String(), "iphone15")
	assert.Contains(t, out.String(), "Lazada,Shopee")

	out.Reset()
	require.NoError(t, a.Catalog(context.Background(), true))
	var catalog dataset.Catalog
	require.NoError(t, json.Unmarshal(out.Bytes(), &catalog))
	assert.Equal(t, []string{"Lazada", "Shopee"}, catalog.Platforms)
}

func TestExportCSVAndPNG(t *testing.T) {
	a, _, dir := testApp(t)
	csvPath := filepath.Join(dir, "out", "series.csv")
	pngPath := filepath.Join(dir, "out", "series.png")

	require.NoError(t, a.Export(context.Background(), ExportOptions{
		ProductID: "iphone15",
		Platform:  "Shopee",
		Days:      3,
		CSVPath:   csvPath,
		PNGPath:   pngPath,
		MaxPoints: 10,
	}))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1+10+3)
	assert.Equal(t, []string{"date", "price", "kind"}, records[0])
	assert.Equal(t, []string{"2024-01-01", "20000000.00", kindObserved}, records[1])
	assert.Equal(t, "2024-02-09", records[10][0])
	assert.Equal(t, kindForecast, records[11][2])
	assert.Equal(t, "2024-02-12", records[13][0])

	png, err := os.ReadFile(pngPath)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestExportRequiresOutput(t *testing.T) {
	a, _, _ := testApp(t)
	assert.Error(t, a.Export(context.Background(), ExportOptions{ProductID: "iphone15", Platform: "Shopee"}))
}

func TestDownsample(t *testing.T) {
	rows := make([]exportRow, 100)
	for i := range rows {
		rows[i] = exportRow{Price: float64(i)}
	}
	got := downsample(rows, 5)
	require.Len(t, got, 5)
	assert.InDelta(t, 0, got[0].Price, 1e-9)
	assert.InDelta(t, 99, got[4].Price, 1e-9)
	assert.Len(t, downsample(rows, 0), 100)
	assert.Len(t, downsample(rows, 200), 100)
	assert.InDelta(t, 99, downsample(rows, 1)[0].Price, 1e-9)
}

type stubPriceStore struct {
	batches []int
}

func (s *stubPriceStore) UpsertPricePoints(_ context.Context, points []storage.PricePoint) (int, error) {
	s.batches = append(s.batches, len(points))
	return len(points), nil
}

func (s *stubPriceStore) ListPricePoints(context.Context, string, string) ([]storage.PricePoint, error) {
	return nil, nil
}

func (s *stubPriceStore) ListAllPricePoints(context.Context) ([]storage.PricePoint, error) {
	return nil, nil
}

func TestImportBatches(t *testing.T) {
	store := &stubPriceStore{}
	applied, err := importPoints(context.Background(), store, make([]storage.PricePoint, 7), 3)
	require.NoError(t, err)
	assert.Equal(t, 7, applied)
	assert.Equal(t, []int{3, 3, 1}, store.batches)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = importPoints(ctx, &stubPriceStore{}, make([]storage.PricePoint, 2), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPointsFromRowsRoundTrip(t *testing.T) {
	a, _, _ := testApp(t)
	ds, err := dataset.LoadFile(a.Config.Dataset.Path)
	require.NoError(t, err)

	points := pointsFromRows(ds.Rows())
	require.Len(t, points, 80)

	var shopee storage.PricePoint
	for _, p := range points {
		if p.Platform == "Shopee" && p.Date.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
			shopee = p
		}
	}
	assert.Equal(t, "20001000", shopee.Price.String())
	require.NotNil(t, shopee.IsPromo)
	assert.True(t, *shopee.IsPromo)
	require.NotNil(t, shopee.Stock)
	assert.Equal(t, int64(49), *shopee.Stock)
	require.NotNil(t, shopee.Rating)
	assert.Equal(t, "4.7", shopee.Rating.String())

	rows := rowsFromPoints(points)
	require.Len(t, rows, 80)
	back := dataset.New(rows)
	series, err := back.Series("iphone15", "Lazada")
	require.NoError(t, err)
	assert.Len(t, series, 40)
	assert.Nil(t, series[0].OriginalPrice)
}

func TestDatabaseCommandsNeedDSN(t *testing.T) {
	a, _, _ := testApp(t)
	ctx := context.Background()

	assert.Error(t, a.Show(ctx, ShowOptions{Limit: 5}))
	assert.Error(t, a.Import(ctx, ImportOptions{}))
	assert.NoError(t, a.Import(ctx, ImportOptions{DryRun: true}))

	a.Config.Dataset.Source = "postgres"
	_, err := a.loadDataset(ctx, nil)
	assert.Error(t, err)
}
