package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"plant-backend/internal/models"
)

// LSTMConfig holds training hyper-parameters for the forecast model
type LSTMConfig struct {
	Hidden       int     // hidden/cell units
	Epochs       int     // passes over the training windows
	BatchSize    int     // windows per Adam step
	LearningRate float64 // Adam step size
	ClipNorm     float64 // global gradient norm cap, 0 disables clipping
	Seed         int64   // weight init and shuffling seed
}

// DefaultLSTMConfig returns the configuration used by the reference deployment
func DefaultLSTMConfig() LSTMConfig {
	return LSTMConfig{
		Hidden:       32,
		Epochs:       50,
		BatchSize:    4,
		LearningRate: 0.01,
		ClipNorm:     5,
		Seed:         42,
	}
}

// LSTM is a single-layer LSTM with a linear head, mapping a window of
// normalized feature vectors to the next normalized feature vector.
//
// Weights are stored flat and row-major so a generation serializes to plain
// JSON; matrix views over them are built on demand. Gate order is i, f, g, o.
type LSTM struct {
	Inputs  int       `json:"inputs"`
	Hidden  int       `json:"hidden"`
	Outputs int       `json:"outputs"`
	Wx      []float64 `json:"wx"` // 4H x I
	Wh      []float64 `json:"wh"` // 4H x H
	B       []float64 `json:"b"`  // 4H
	Wy      []float64 `json:"wy"` // O x H
	By      []float64 `json:"by"` // O

	cfg LSTMConfig
}

// NewLSTM returns an untrained model with seeded Xavier-uniform weights
func NewLSTM(cfg LSTMConfig) *LSTM {
	if cfg.Hidden <= 0 {
		cfg.Hidden = DefaultLSTMConfig().Hidden
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	in, h, out := models.NumFeatures, cfg.Hidden, models.NumFeatures
	m := &LSTM{
		Inputs:  in,
		Hidden:  h,
		Outputs: out,
		Wx:      make([]float64, 4*h*in),
		Wh:      make([]float64, 4*h*h),
		B:       make([]float64, 4*h),
		Wy:      make([]float64, out*h),
		By:      make([]float64, out),
		cfg:     cfg,
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	xavier(rng, m.Wx, in, h)
	xavier(rng, m.Wh, h, h)
	xavier(rng, m.Wy, h, out)
	// forget gate starts open
	for j := h; j < 2*h; j++ {
		m.B[j] = 1
	}
	return m
}

func xavier(rng *rand.Rand, w []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}

// Validate checks the weight shapes
func (m *LSTM) Validate() error {
	if m == nil {
		return errors.New("forecast model missing")
	}
	if m.Inputs != models.NumFeatures || m.Outputs != models.NumFeatures {
		return fmt.Errorf("forecast model maps %d -> %d features, want %d -> %d",
			m.Inputs, m.Outputs, models.NumFeatures, models.NumFeatures)
	}
	h := m.Hidden
	switch {
	case h <= 0:
		return fmt.Errorf("forecast model has %d hidden units", h)
	case len(m.Wx) != 4*h*m.Inputs, len(m.Wh) != 4*h*h, len(m.B) != 4*h,
		len(m.Wy) != m.Outputs*h, len(m.By) != m.Outputs:
		return errors.New("forecast model weight shapes inconsistent with hidden size")
	}
	for _, w := range [][]float64{m.Wx, m.Wh, m.B, m.Wy, m.By} {
		for _, v := range w {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.New("forecast model has non-finite weights")
			}
		}
	}
	return nil
}

func (m *LSTM) wx() *mat.Dense { return mat.NewDense(4*m.Hidden, m.Inputs, m.Wx) }
func (m *LSTM) wh() *mat.Dense { return mat.NewDense(4*m.Hidden, m.Hidden, m.Wh) }
func (m *LSTM) wy() *mat.Dense { return mat.NewDense(m.Outputs, m.Hidden, m.Wy) }

// lstmStep caches one time step of the forward pass for backpropagation
type lstmStep struct {
	x, hPrev, cPrev []float64
	i, f, g, o      []float64
	c, tanhC, h     []float64
}

func (m *LSTM) forward(w Window, keep bool) ([]float64, []lstmStep) {
	H := m.Hidden
	wx, wh := m.wx(), m.wh()
	h := make([]float64, H)
	c := make([]float64, H)
	z := mat.NewVecDense(4*H, nil)
	zh := mat.NewVecDense(4*H, nil)

	var steps []lstmStep
	if keep {
		steps = make([]lstmStep, 0, len(w))
	}
	for _, v := range w {
		x := make([]float64, m.Inputs)
		copy(x, v[:])
		z.MulVec(wx, mat.NewVecDense(m.Inputs, x))
		zh.MulVec(wh, mat.NewVecDense(H, h))
		z.AddVec(z, zh)
		zd := z.RawVector().Data
		floats.Add(zd, m.B)

		st := lstmStep{
			x: x, hPrev: h, cPrev: c,
			i: make([]float64, H), f: make([]float64, H), g: make([]float64, H), o: make([]float64, H),
			c: make([]float64, H), tanhC: make([]float64, H), h: make([]float64, H),
		}
		for j := 0; j < H; j++ {
			st.i[j] = sigmoid(zd[j])
			st.f[j] = sigmoid(zd[H+j])
			st.g[j] = math.Tanh(zd[2*H+j])
			st.o[j] = sigmoid(zd[3*H+j])
			st.c[j] = st.f[j]*c[j] + st.i[j]*st.g[j]
			st.tanhC[j] = math.Tanh(st.c[j])
			st.h[j] = st.o[j] * st.tanhC[j]
		}
		h, c = st.h, st.c
		if keep {
			steps = append(steps, st)
		}
	}

	y := mat.NewVecDense(m.Outputs, nil)
	y.MulVec(m.wy(), mat.NewVecDense(H, h))
	out := make([]float64, m.Outputs)
	copy(out, y.RawVector().Data)
	floats.Add(out, m.By)
	return out, steps
}

// Predict runs the model on one normalized window
func (m *LSTM) Predict(w Window) models.FeatureVector {
	y, _ := m.forward(w, false)
	var out models.FeatureVector
	copy(out[:], y)
	return out
}

// lstmGrads mirrors the LSTM parameters
type lstmGrads struct {
	wx, wh, b, wy, by []float64
	wxM, whM, wyM     *mat.Dense
}

func newLSTMGrads(m *LSTM) *lstmGrads {
	g := &lstmGrads{
		wx: make([]float64, len(m.Wx)),
		wh: make([]float64, len(m.Wh)),
		b:  make([]float64, len(m.B)),
		wy: make([]float64, len(m.Wy)),
		by: make([]float64, len(m.By)),
	}
	g.wxM = mat.NewDense(4*m.Hidden, m.Inputs, g.wx)
	g.whM = mat.NewDense(4*m.Hidden, m.Hidden, g.wh)
	g.wyM = mat.NewDense(m.Outputs, m.Hidden, g.wy)
	return g
}

func (g *lstmGrads) slices() [][]float64 { return [][]float64{g.wx, g.wh, g.b, g.wy, g.by} }

func (g *lstmGrads) zero() {
	for _, s := range g.slices() {
		clear(s)
	}
}

func (g *lstmGrads) scale(c float64) {
	for _, s := range g.slices() {
		floats.Scale(c, s)
	}
}

func (g *lstmGrads) clip(maxNorm float64) {
	if maxNorm <= 0 {
		return
	}
	var sq float64
	for _, s := range g.slices() {
		n := floats.Norm(s, 2)
		sq += n * n
	}
	if norm := math.Sqrt(sq); norm > maxNorm {
		g.scale(maxNorm / norm)
	}
}

// backward accumulates the MSE gradient of one sample and returns its loss
func (m *LSTM) backward(steps []lstmStep, y []float64, target models.FeatureVector, g *lstmGrads) float64 {
	H, O := m.Hidden, m.Outputs
	dy := make([]float64, O)
	var loss float64
	for k := 0; k < O; k++ {
		d := y[k] - target[k]
		loss += d * d
		dy[k] = 2 * d / float64(O)
	}
	loss /= float64(O)

	dyVec := mat.NewVecDense(O, dy)
	g.wyM.RankOne(g.wyM, 1, dyVec, mat.NewVecDense(H, steps[len(steps)-1].h))
	floats.Add(g.by, dy)

	dhVec := mat.NewVecDense(H, nil)
	dhVec.MulVec(m.wy().T(), dyVec)
	dh := dhVec.RawVector().Data
	dc := make([]float64, H)
	dz := make([]float64, 4*H)
	dzVec := mat.NewVecDense(4*H, dz)
	wh := m.wh()

	for t := len(steps) - 1; t >= 0; t-- {
		st := steps[t]
		for j := 0; j < H; j++ {
			dO := dh[j] * st.tanhC[j]
			dC := dc[j] + dh[j]*st.o[j]*(1-st.tanhC[j]*st.tanhC[j])
			dI := dC * st.g[j]
			dG := dC * st.i[j]
			dF := dC * st.cPrev[j]
			dc[j] = dC * st.f[j]

			dz[j] = dI * st.i[j] * (1 - st.i[j])
			dz[H+j] = dF * st.f[j] * (1 - st.f[j])
			dz[2*H+j] = dG * (1 - st.g[j]*st.g[j])
			dz[3*H+j] = dO * st.o[j] * (1 - st.o[j])
		}
		g.wxM.RankOne(g.wxM, 1, dzVec, mat.NewVecDense(len(st.x), st.x))
		g.whM.RankOne(g.whM, 1, dzVec, mat.NewVecDense(H, st.hPrev))
		floats.Add(g.b, dz)

		next := mat.NewVecDense(H, nil)
		next.MulVec(wh.T(), dzVec)
		dh = next.RawVector().Data
	}
	return loss
}

// Fit trains the model by mini-batch Adam on mean squared error and returns
// the final training MSE. Cancellation is checked between epochs.
func (m *LSTM) Fit(ctx context.Context, windows []Window, targets []models.FeatureVector) (float64, error) {
	if len(windows) == 0 {
		return 0, errors.New("no training windows")
	}
	if len(windows) != len(targets) {
		return 0, fmt.Errorf("%d windows but %d targets", len(windows), len(targets))
	}
	for i, w := range windows {
		if len(w) == 0 {
			return 0, fmt.Errorf("training window %d is empty", i)
		}
	}

	cfg := m.cfg
	if cfg.Epochs <= 0 {
		cfg.Epochs = DefaultLSTMConfig().Epochs
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultLSTMConfig().LearningRate
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed + 1))
	order := make([]int, len(windows))
	for i := range order {
		order[i] = i
	}
	grads := newLSTMGrads(m)
	opt := newAdam(grads.slices(), cfg.LearningRate)
	params := [][]float64{m.Wx, m.Wh, m.B, m.Wy, m.By}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(order))
			grads.zero()
			for _, idx := range order[start:end] {
				y, steps := m.forward(windows[idx], true)
				m.backward(steps, y, targets[idx], grads)
			}
			grads.scale(1 / float64(end-start))
			grads.clip(cfg.ClipNorm)
			opt.step(params, grads.slices())
		}
	}
	return m.Loss(windows, targets), nil
}

// Loss is the mean squared error of the model over the given pairs
func (m *LSTM) Loss(windows []Window, targets []models.FeatureVector) float64 {
	if len(windows) == 0 {
		return 0
	}
	var total float64
	for i, w := range windows {
		p := m.Predict(w)
		for f := range p {
			d := p[f] - targets[i][f]
			total += d * d
		}
	}
	return total / float64(len(windows)*models.NumFeatures)
}

// adam keeps first and second moment estimates per parameter slice
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam(shapes [][]float64, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, s := range shapes {
		a.m = append(a.m, make([]float64, len(s)))
		a.v = append(a.v, make([]float64, len(s)))
	}
	return a
}

func (a *adam) step(params, grads [][]float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for k, p := range params {
		g, m, v := grads[k], a.m[k], a.v[k]
		for i := range p {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
			v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
			p[i] -= a.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.eps)
		}
	}
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
