package forecast

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWindows(t *testing.T) (train, test []Window) {
	t.Helper()
	recs := series(80, func(i int) float64 { return 100 + 10*math.Sin(float64(i)/4) })
	p, err := Prepare(recs, 8)
	require.NoError(t, err)
	windows, err := BuildWindows(p.Scaled, 8)
	require.NoError(t, err)
	return Split(windows)
}

func smallConfig() Config {
	return Config{
		WindowLength: 8,
		BatchSize:    8,
		Epochs:       15,
		LearningRate: 0.01,
		HiddenSize:   8,
		NumLayers:    1,
		Horizon:      3,
		Seed:         42,
	}
}

func TestTrainReducesLoss(t *testing.T) {
	train, test := sineWindows(t)
	cfg := smallConfig()

	model := NewModel(NumFeatures, cfg.HiddenSize, cfg.NumLayers, rand.New(rand.NewSource(cfg.Seed)))
	before := MeanSquaredError(model, train)

	losses, err := Train(model, train, test, cfg, DefaultExecution(), rand.New(rand.NewSource(1)), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, cfg.Epochs, losses.Epochs)
	assert.Less(t, losses.Train, before)
	assert.Less(t, MeanSquaredError(model, train), before)
	assert.InDelta(t, MeanSquaredError(model, test), losses.Test, 1e-12)
}

func TestTrainWorkersMatchSingleWorker(t *testing.T) {
	train, test := sineWindows(t)
	cfg := smallConfig()
	cfg.Epochs = 3

	fit := func(workers int) (*Model, Losses) {
		model := NewModel(NumFeatures, cfg.HiddenSize, cfg.NumLayers, rand.New(rand.NewSource(cfg.Seed)))
		losses, err := Train(model, train, test, cfg, ExecutionConfig{Workers: workers}, rand.New(rand.NewSource(9)), zerolog.Nop())
		require.NoError(t, err)
		return model, losses
	}

	m1, l1 := fit(1)
	m4, l4 := fit(4)
	assert.InDelta(t, l1.Train, l4.Train, 1e-9)
	assert.InDelta(t, l1.Test, l4.Test, 1e-9)
	assert.InDelta(t, m1.Predict(test[0].Input), m4.Predict(test[0].Input), 1e-9)

	again, l4b := fit(4)
	assert.Equal(t, l4.Train, l4b.Train, "fixed worker count is deterministic")
	assert.Equal(t, m4.Predict(test[0].Input), again.Predict(test[0].Input))
}

func TestTrainNonFiniteFailsFast(t *testing.T) {
	train, test := sineWindows(t)
	train[0].Target = math.NaN()
	cfg := smallConfig()
	cfg.Epochs = 1

	model := NewModel(NumFeatures, cfg.HiddenSize, cfg.NumLayers, rand.New(rand.NewSource(cfg.Seed)))
	_, err := Train(model, train, test, cfg, DefaultExecution(), rand.New(rand.NewSource(1)), zerolog.Nop())
	require.ErrorIs(t, err, ErrNonFinite)
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	params := [][]float64{{1, -1}}
	opt := newAdam(params, 0.1)
	opt.update(params, [][]float64{{0.5, -2}})
	assert.InDelta(t, 0.9, params[0][0], 1e-6)
	assert.InDelta(t, -0.9, params[0][1], 1e-6)
}
