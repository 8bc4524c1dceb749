package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-backend/internal/models"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	gen := trainedGeneration(t)
	corpus := soilTrendCorpus("P1", 25)
	for i := range corpus {
		corpus[i].Emotion = testLabeler{}.Label(corpus[i].Features())
	}
	corpus = append(corpus, soilTrendCorpus("P2", 2)...)

	report, err := Evaluate(gen, corpus)
	require.NoError(t, err)
	assert.Equal(t, gen.ID, report.GenerationID)
	assert.Equal(t, 20, report.Samples)
	assert.Equal(t, 20, report.LabelledSamples)
	assert.Equal(t, []string{"P2"}, report.SkippedDevices)
	assert.GreaterOrEqual(t, report.Accuracy, 0.0)
	assert.LessOrEqual(t, report.Accuracy, 1.0)

	for f := range report.MAE {
		assert.False(t, math.IsNaN(report.MAE[f]))
		assert.GreaterOrEqual(t, report.MAE[f], 0.0)
	}
	// constant features are reproduced exactly
	assert.Equal(t, 0.0, report.MAE[models.Temperature])
	// soil moves by 40/24 per step; corrected forecasts stay within a few steps of it
	assert.Less(t, report.MAE[models.SoilMoisture], 10.0)

	assert.Contains(t, report.String(), "mae_soilMoisture=")
	assert.Contains(t, report.String(), "skipped=P2")
}

func TestEvaluateErrors(t *testing.T) {
	t.Parallel()

	_, err := Evaluate(nil, soilTrendCorpus("P1", 25))
	assert.ErrorIs(t, err, ErrNoGeneration)

	gen := trainedGeneration(t)
	_, err = Evaluate(gen, soilTrendCorpus("P1", 3))
	assert.Error(t, err)
}
