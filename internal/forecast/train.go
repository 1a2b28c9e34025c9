package forecast

import (
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// Losses summarises a finished training run.
type Losses struct {
	Train  float64
	Test   float64
	Epochs int
}

type adam struct {
	lr     float64
	step   int
	first  [][]float64
	second [][]float64
}

func newAdam(params [][]float64, lr float64) *adam {
	a := &adam{lr: lr}
	for _, p := range params {
		a.first = append(a.first, make([]float64, len(p)))
		a.second = append(a.second, make([]float64, len(p)))
	}
	return a
}

func (a *adam) update(params, grads [][]float64) {
	a.step++
	c1 := 1 - math.Pow(adamBeta1, float64(a.step))
	c2 := 1 - math.Pow(adamBeta2, float64(a.step))
	for i, p := range params {
		g, m, v := grads[i], a.first[i], a.second[i]
		for j := range p {
			m[j] = adamBeta1*m[j] + (1-adamBeta1)*g[j]
			v[j] = adamBeta2*v[j] + (1-adamBeta2)*g[j]*g[j]
			p[j] -= a.lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + adamEpsilon)
		}
	}
}

// Train fits model on the train windows with shuffled mini-batches and MSE
// loss, evaluating the test windows after every epoch. The losses of the
// final epoch are returned.
// Per-sample gradients of a batch are spread over exec.Workers goroutines,
// each with its own buffer; buffers are merged in worker order.
func Train(model *Model, train, test []Window, cfg Config, exec ExecutionConfig, rng *rand.Rand, logger zerolog.Logger) (Losses, error) {
	opt := newAdam(model.params(), cfg.LearningRate)
	workers := min(exec.workers(), cfg.BatchSize)
	buffers := make([]*gradients, workers)
	for i := range buffers {
		buffers[i] = newGradients(model)
	}
	sse := make([]float64, workers)

	var trainLoss, testLoss float64
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		order := rng.Perm(len(train))
		var total float64

		for lo := 0; lo < len(order); lo += cfg.BatchSize {
			batch := order[lo:min(lo+cfg.BatchSize, len(order))]
			active := min(workers, len(batch))
			scale := 2 / float64(len(batch))

			for w := 0; w < active; w++ {
				buffers[w].zero()
				sse[w] = 0
			}
			if active == 1 {
				sse[0] = accumulate(model, train, batch, scale, buffers[0])
			} else {
				var g errgroup.Group
				chunk := (len(batch) + active - 1) / active
				for w := 0; w < active; w++ {
					w := w
					part := batch[min(w*chunk, len(batch)):min((w+1)*chunk, len(batch))]
					g.Go(func() error {
						sse[w] = accumulate(model, train, part, scale, buffers[w])
						return nil
					})
				}
				_ = g.Wait()
				for w := 1; w < active; w++ {
					buffers[0].add(buffers[w])
					sse[0] += sse[w]
				}
			}

			opt.update(model.params(), buffers[0].slices())
			total += sse[0]
		}

		trainLoss = total / float64(len(train))
		if !isFinite(trainLoss) {
			return Losses{}, &NumericError{Stage: StageTrained, What: "training loss", Value: trainLoss}
		}
		testLoss = MeanSquaredError(model, test)
		if !isFinite(testLoss) {
			return Losses{}, &NumericError{Stage: StageTrained, What: "test loss", Value: testLoss}
		}
		logger.Debug().
			Int("epoch", epoch).
			Int("epochs", cfg.Epochs).
			Float64("train_loss", trainLoss).
			Float64("test_loss", testLoss).
			Dur("elapsed", time.Since(start)).
			Msg("epoch finished")
	}

	return Losses{Train: trainLoss, Test: testLoss, Epochs: cfg.Epochs}, nil
}

// accumulate runs forward and backward for the given sample indices and
// returns their summed squared error.
func accumulate(model *Model, windows []Window, idx []int, scale float64, g *gradients) float64 {
	var sse float64
	for _, k := range idx {
		w := windows[k]
		y, caches, top := model.forward(w.Input, true)
		diff := y - w.Target
		sse += diff * diff
		model.backward(caches, top, scale*diff, g)
	}
	return sse
}

// MeanSquaredError evaluates model on windows without updating it.
func MeanSquaredError(model *Model, windows []Window) float64 {
	if len(windows) == 0 {
		return 0
	}
	var sse float64
	for _, w := range windows {
		diff := model.Predict(w.Input) - w.Target
		sse += diff * diff
	}
	return sse / float64(len(windows))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
