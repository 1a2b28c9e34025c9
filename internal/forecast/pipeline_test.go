package forecast

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunConstantSeries(t *testing.T) {
	cfg := smallConfig()
	cfg.WindowLength = 30
	cfg.BatchSize = 32
	cfg.Epochs = 5
	cfg.Horizon = 5
	res, err := Run(series(400, func(int) float64 { return 100 }), cfg, DefaultExecution(), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, StageDone, res.Stage)
	require.Len(t, res.Points, 5)
	for k, p := range res.Points {
		assert.Equal(t, day0.AddDate(0, 0, 399+k+1), p.Date)
		assert.InDelta(t, 100, p.Price, 10)
	}
	assert.Len(t, res.History, 400)
	assert.Equal(t, 370, res.TrainWindows+res.TestWindows)
	assert.Equal(t, 296, res.TrainWindows)
}

func TestRunMonotonicSeriesContinuesUpward(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowLength = 20
	cfg.Epochs = 30
	res, err := Run(series(200, func(i int) float64 { return float64(i + 1) }), cfg, DefaultExecution(), zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, res.Points, cfg.Horizon)

	last := res.History[len(res.History)-1].Price
	require.Equal(t, 200.0, last)
	assert.Greater(t, res.Points[0].Price, last)
}

func TestRunInsufficientData(t *testing.T) {
	cfg := smallConfig()
	cfg.WindowLength = 365
	_, err := Run(series(10, func(int) float64 { return 1 }), cfg, DefaultExecution(), zerolog.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StagePrepared, se.Stage)

	var ide *InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 370, ide.Need)
}

func TestRunHorizonOne(t *testing.T) {
	p, err := NewPipeline(smallConfig(), DefaultExecution(), zerolog.Nop())
	require.NoError(t, err)

	res, err := p.RunHorizon(series(40, func(i int) float64 { return 50 + float64(i%5) }), 1)
	require.NoError(t, err)
	require.Len(t, res.Points, 1)
	assert.Equal(t, day0.AddDate(0, 0, 40), res.Points[0].Date)
	assert.False(t, math.IsNaN(res.Points[0].Price))

	_, err = p.RunHorizon(series(40, func(int) float64 { return 1 }), 0)
	assert.Error(t, err)
}

func TestPipelineTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewPipeline(smallConfig(), DefaultExecution(), zerolog.New(&buf))
	require.NoError(t, err)

	_, err = p.RunHorizon(series(40, func(i int) float64 { return 50 + float64(i%5) }), 1)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"component":"forecast"`)
	assert.Contains(t, buf.String(), `"message":"forecast complete"`)
}

func TestRunIsReproducible(t *testing.T) {
	recs := series(50, func(i int) float64 { return 100 + float64(i%7) })
	p, err := NewPipeline(smallConfig(), DefaultExecution(), zerolog.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Result, 3)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Run(recs)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	for _, r := range results[1:] {
		require.NotNil(t, r)
		assert.Equal(t, results[0].Points, r.Points)
		assert.Equal(t, results[0].TrainLoss, r.TrainLoss)
	}
}

func TestNewPipelineRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.LearningRate = -1
	_, err := NewPipeline(cfg, DefaultExecution(), zerolog.Nop())
	assert.Error(t, err)

	p, err := NewPipeline(Config{}, ExecutionConfig{}, zerolog.Nop())
	require.NoError(t, err)
	want := DefaultConfig()
	want.Seed = 0
	assert.Equal(t, want, p.Config(), "seed zero is a valid seed and is kept")
}

func TestRolloutFreezesAuxiliaryFeatures(t *testing.T) {
	recs := series(30, func(i int) float64 { return float64(10 + i) })
	for i := range recs {
		recs[i].Stock = ptr(float64(i))
	}
	p, err := Prepare(recs, 5)
	require.NoError(t, err)

	model := NewModel(NumFeatures, 4, 1, rand.New(rand.NewSource(2)))
	points, err := Rollout(model, p, 5, 4)
	require.NoError(t, err)
	require.Len(t, points, 4)
	for k, pt := range points {
		assert.Equal(t, p.LastDate().AddDate(0, 0, k+1), pt.Date)
	}
	assert.Equal(t, 29.0, p.Raw[29][ColStock], "history untouched")
	assert.Len(t, p.Scaled, 30)
}
