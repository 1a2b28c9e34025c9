package forecast

import (
	"math"
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// lstmLayer holds the fused gate weights of one recurrent layer. Rows of w are
// laid out as [input | forget | cell | output] gates, columns as [x_t | h_{t-1}].
type lstmLayer struct {
	in     int
	hidden int
	w      *mat.Dense
	b      []float64
}

// stepCache keeps the activations of one time step for backpropagation.
type stepCache struct {
	z     []float64
	i     []float64
	f     []float64
	g     []float64
	o     []float64
	cPrev []float64
	tanhC []float64
}

// Model is a stacked LSTM regressor with a linear head on the last hidden state.
type Model struct {
	features int
	hidden   int
	layers   []*lstmLayer
	outW     []float64
	outB     []float64
}

// NewModel initialises weights uniformly in ±1/sqrt(hidden) from rng.
func NewModel(features, hidden, numLayers int, rng *rand.Rand) *Model {
	bound := 1 / math.Sqrt(float64(hidden))
	uniform := func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = (2*rng.Float64() - 1) * bound
		}
		return out
	}

	m := &Model{features: features, hidden: hidden}
	in := features
	for l := 0; l < numLayers; l++ {
		m.layers = append(m.layers, &lstmLayer{
			in:     in,
			hidden: hidden,
			w:      mat.NewDense(4*hidden, in+hidden, uniform(4*hidden*(in+hidden))),
			b:      uniform(4 * hidden),
		})
		in = hidden
	}
	m.outW = uniform(hidden)
	m.outB = uniform(1)
	return m
}

// Predict returns the next scaled price for a window of scaled rows.
func (m *Model) Predict(window [][]float64) float64 {
	y, _, _ := m.forward(window, false)
	return y
}

// params lists the trainable slices in a fixed order shared with gradients.slices.
func (m *Model) params() [][]float64 {
	out := make([][]float64, 0, 2*len(m.layers)+2)
	for _, l := range m.layers {
		out = append(out, l.w.RawMatrix().Data, l.b)
	}
	return append(out, m.outW, m.outB)
}

func (m *Model) forward(window [][]float64, keep bool) (float64, [][]stepCache, []float64) {
	var caches [][]stepCache
	if keep {
		caches = make([][]stepCache, len(m.layers))
	}

	seq := window
	for li, l := range m.layers {
		H := l.hidden
		h := make([]float64, H)
		c := make([]float64, H)
		act := mat.NewVecDense(4*H, nil)
		outs := make([][]float64, len(seq))

		for t, x := range seq {
			z := make([]float64, l.in+H)
			copy(z, x)
			copy(z[l.in:], h)

			act.MulVec(l.w, mat.NewVecDense(len(z), z))
			a := act.RawVector().Data
			floats.Add(a, l.b)

			st := stepCache{
				z:     z,
				i:     make([]float64, H),
				f:     make([]float64, H),
				g:     make([]float64, H),
				o:     make([]float64, H),
				cPrev: c,
				tanhC: make([]float64, H),
			}
			cNext := make([]float64, H)
			hNext := make([]float64, H)
			for j := 0; j < H; j++ {
				st.i[j] = sigmoid(a[j])
				st.f[j] = sigmoid(a[H+j])
				st.g[j] = math.Tanh(a[2*H+j])
				st.o[j] = sigmoid(a[3*H+j])
				cNext[j] = st.f[j]*c[j] + st.i[j]*st.g[j]
				st.tanhC[j] = math.Tanh(cNext[j])
				hNext[j] = st.o[j] * st.tanhC[j]
			}
			if keep {
				caches[li] = append(caches[li], st)
			}
			h, c = hNext, cNext
			outs[t] = h
		}
		seq = outs
	}

	top := seq[len(seq)-1]
	return floats.Dot(m.outW, top) + m.outB[0], caches, top
}

// backward accumulates into g the gradient of the loss with respect to every
// parameter, given dy = dLoss/dPrediction for one forward pass.
func (m *Model) backward(caches [][]stepCache, top []float64, dy float64, g *gradients) {
	floats.AddScaled(g.outW, dy, top)
	g.outB[0] += dy

	steps := len(caches[0])
	dhOut := make([][]float64, steps)
	dhOut[steps-1] = make([]float64, m.hidden)
	floats.AddScaled(dhOut[steps-1], dy, m.outW)

	for li := len(m.layers) - 1; li >= 0; li-- {
		l := m.layers[li]
		H := l.hidden
		dhNext := make([]float64, H)
		dcNext := make([]float64, H)
		da := make([]float64, 4*H)
		daVec := mat.NewVecDense(4*H, da)
		dz := mat.NewVecDense(l.in+H, nil)
		dx := make([][]float64, steps)

		for t := steps - 1; t >= 0; t-- {
			st := caches[li][t]
			dh := slices.Clone(dhNext)
			if dhOut[t] != nil {
				floats.Add(dh, dhOut[t])
			}
			for j := 0; j < H; j++ {
				tc := st.tanhC[j]
				do := dh[j] * tc
				dc := dcNext[j] + dh[j]*st.o[j]*(1-tc*tc)
				da[j] = dc * st.g[j] * st.i[j] * (1 - st.i[j])
				da[H+j] = dc * st.cPrev[j] * st.f[j] * (1 - st.f[j])
				da[2*H+j] = dc * st.i[j] * (1 - st.g[j]*st.g[j])
				da[3*H+j] = do * st.o[j] * (1 - st.o[j])
				dcNext[j] = dc * st.f[j]
			}

			g.w[li].RankOne(g.w[li], 1, daVec, mat.NewVecDense(len(st.z), st.z))
			floats.Add(g.b[li], da)

			dz.MulVec(l.w.T(), daVec)
			raw := dz.RawVector().Data
			if li > 0 {
				dx[t] = slices.Clone(raw[:l.in])
			}
			copy(dhNext, raw[l.in:])
		}
		dhOut = dx
	}
}

// gradients mirrors the parameter layout of a Model.
type gradients struct {
	w    []*mat.Dense
	b    [][]float64
	outW []float64
	outB []float64
}

func newGradients(m *Model) *gradients {
	g := &gradients{
		outW: make([]float64, len(m.outW)),
		outB: make([]float64, 1),
	}
	for _, l := range m.layers {
		r, c := l.w.Dims()
		g.w = append(g.w, mat.NewDense(r, c, nil))
		g.b = append(g.b, make([]float64, len(l.b)))
	}
	return g
}

func (g *gradients) slices() [][]float64 {
	out := make([][]float64, 0, 2*len(g.w)+2)
	for i := range g.w {
		out = append(out, g.w[i].RawMatrix().Data, g.b[i])
	}
	return append(out, g.outW, g.outB)
}

func (g *gradients) zero() {
	for _, s := range g.slices() {
		clear(s)
	}
}

func (g *gradients) add(other *gradients) {
	dst, src := g.slices(), other.slices()
	for i := range dst {
		floats.Add(dst[i], src[i])
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
