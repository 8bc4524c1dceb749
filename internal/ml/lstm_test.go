package ml

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-backend/internal/models"
)

// sineSet windows a smooth periodic normalized signal
func sineSet(n, seqLen int) ([]Window, []models.FeatureVector) {
	s := make([]models.FeatureVector, n)
	for i := range s {
		x := float64(i) / 4
		s[i] = models.FeatureVector{
			0.5 + 0.4*math.Sin(x),
			0.5 + 0.4*math.Cos(x),
			0.5,
			0.5 + 0.3*math.Sin(x/2),
		}
	}
	var windows []Window
	var targets []models.FeatureVector
	pairs, _ := TrainingPairs(s, seqLen)
	for w, next := range pairs {
		windows = append(windows, w)
		targets = append(targets, next)
	}
	return windows, targets
}

func smallLSTMConfig() LSTMConfig {
	cfg := DefaultLSTMConfig()
	cfg.Hidden = 8
	cfg.Epochs = 60
	return cfg
}

func TestLSTMDeterministic(t *testing.T) {
	t.Parallel()

	windows, targets := sineSet(30, 4)
	a := NewLSTM(smallLSTMConfig())
	b := NewLSTM(smallLSTMConfig())
	assert.Equal(t, a.Wx, b.Wx)

	_, err := a.Fit(context.Background(), windows, targets)
	require.NoError(t, err)
	_, err = b.Fit(context.Background(), windows, targets)
	require.NoError(t, err)

	for _, w := range windows[:5] {
		assert.Equal(t, a.Predict(w), b.Predict(w))
		assert.Equal(t, a.Predict(w), a.Predict(w))
	}
}

func TestLSTMFitReducesLoss(t *testing.T) {
	t.Parallel()

	windows, targets := sineSet(40, 5)
	m := NewLSTM(smallLSTMConfig())
	before := m.Loss(windows, targets)

	after, err := m.Fit(context.Background(), windows, targets)
	require.NoError(t, err)
	assert.Less(t, after, before/2)
	assert.InDelta(t, m.Loss(windows, targets), after, 1e-12)
}

func TestLSTMFitErrors(t *testing.T) {
	t.Parallel()

	windows, targets := sineSet(20, 3)
	m := NewLSTM(smallLSTMConfig())

	_, err := m.Fit(context.Background(), nil, nil)
	assert.Error(t, err)

	_, err = m.Fit(context.Background(), windows, targets[:3])
	assert.Error(t, err)

	_, err = m.Fit(context.Background(), []Window{{}}, targets[:1])
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Fit(ctx, windows, targets)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLSTMJSONRoundTrip(t *testing.T) {
	t.Parallel()

	windows, targets := sineSet(20, 3)
	m := NewLSTM(smallLSTMConfig())
	_, err := m.Fit(context.Background(), windows, targets)
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var loaded LSTM
	require.NoError(t, json.Unmarshal(data, &loaded))
	require.NoError(t, loaded.Validate())
	for _, w := range windows {
		assert.Equal(t, m.Predict(w), loaded.Predict(w))
	}
}

func TestLSTMValidate(t *testing.T) {
	t.Parallel()

	var missing *LSTM
	assert.Error(t, missing.Validate())

	m := NewLSTM(smallLSTMConfig())
	require.NoError(t, m.Validate())

	m.Wh = m.Wh[1:]
	assert.Error(t, m.Validate())

	diverged := NewLSTM(smallLSTMConfig())
	diverged.Wy[0] = math.NaN()
	assert.ErrorContains(t, diverged.Validate(), "non-finite")
}
