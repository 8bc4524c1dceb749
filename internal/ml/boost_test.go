package ml

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-backend/internal/models"
)

// bandedSamples labels by soil moisture band: 0 below 0.3, 1 up to 0.7, 2 above
func bandedSamples() ([]models.FeatureVector, []int) {
	var X []models.FeatureVector
	var y []int
	for i := 0; i < 30; i++ {
		soil := float64(i) / 29
		label := 1
		switch {
		case soil < 0.3:
			label = 0
		case soil > 0.7:
			label = 2
		}
		X = append(X, models.FeatureVector{0.5, float64(i%3) / 2, 0.2, soil})
		y = append(y, label)
	}
	return X, y
}

func TestBoostedClassifierFit(t *testing.T) {
	t.Parallel()

	X, y := bandedSamples()
	c := NewBoostedClassifier(DefaultBoostConfig())
	require.NoError(t, c.Fit(X, y, 3))
	require.NoError(t, c.Validate())

	assert.Len(t, c.Trees, DefaultBoostConfig().Rounds)
	assert.GreaterOrEqual(t, c.Accuracy(X, y), 0.95)

	code, probs := c.Predict(models.FeatureVector{0.5, 0, 0.2, 0.05})
	assert.Equal(t, 0, code)
	require.Len(t, probs, 3)
	var sum float64
	for _, p := range probs {
		assert.GreaterOrEqual(t, p, 0.0)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	code, _ = c.Predict(models.FeatureVector{0.5, 0, 0.2, 0.95})
	assert.Equal(t, 2, code)
}

func TestBoostedClassifierAbsentClass(t *testing.T) {
	t.Parallel()

	X, y := bandedSamples()
	c := NewBoostedClassifier(DefaultBoostConfig())
	require.NoError(t, c.Fit(X, y, 4))

	_, probs := c.Predict(X[0])
	require.Len(t, probs, 4)
	assert.Less(t, probs[3], probs[0])
}

func TestBoostedClassifierSingleClass(t *testing.T) {
	t.Parallel()

	c := NewBoostedClassifier(DefaultBoostConfig())
	require.NoError(t, c.Fit([]models.FeatureVector{{0.1}, {0.2}}, []int{0, 0}, 1))

	code, probs := c.Predict(models.FeatureVector{0.9, 0.9, 0.9, 0.9})
	assert.Equal(t, 0, code)
	assert.Equal(t, []float64{1}, probs)
	assert.Equal(t, 1.0, c.Accuracy([]models.FeatureVector{{0.3}}, []int{0}))
}

func TestBoostedClassifierFitErrors(t *testing.T) {
	t.Parallel()

	c := NewBoostedClassifier(DefaultBoostConfig())
	assert.Error(t, c.Fit(nil, nil, 2))
	assert.Error(t, c.Fit([]models.FeatureVector{{0}}, []int{0, 1}, 2))
	assert.Error(t, c.Fit([]models.FeatureVector{{0}}, []int{2}, 2))
	assert.Error(t, c.Fit([]models.FeatureVector{{0}}, []int{0}, 0))
}

func TestBoostedClassifierJSONRoundTrip(t *testing.T) {
	t.Parallel()

	X, y := bandedSamples()
	cfg := DefaultBoostConfig()
	cfg.Rounds = 20
	c := NewBoostedClassifier(cfg)
	require.NoError(t, c.Fit(X, y, 3))

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var loaded BoostedClassifier
	require.NoError(t, json.Unmarshal(data, &loaded))
	require.NoError(t, loaded.Validate())
	for _, v := range X {
		wantCode, wantProbs := c.Predict(v)
		gotCode, gotProbs := loaded.Predict(v)
		assert.Equal(t, wantCode, gotCode)
		assert.Equal(t, wantProbs, gotProbs)
	}
}

func TestBoostedClassifierValidate(t *testing.T) {
	t.Parallel()

	var missing *BoostedClassifier
	assert.Error(t, missing.Validate())

	c := &BoostedClassifier{Classes: 2, BaseScores: []float64{0, 0}, Trees: [][]*TreeNode{{{Leaf: true}}}}
	assert.Error(t, c.Validate())

	c.Trees = [][]*TreeNode{{{Leaf: true}, {Feature: 7, Left: &TreeNode{Leaf: true}, Right: &TreeNode{Leaf: true}}}}
	assert.Error(t, c.Validate())
}
