package ml

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-backend/internal/models"
)

var (
	sharedOnce sync.Once
	sharedGen  *Generation
	sharedErr  error
)

// trainedGeneration trains one generation on the soil trend corpus and shares
// it between tests; generations are immutable once published
func trainedGeneration(t *testing.T) *Generation {
	t.Helper()
	sharedOnce.Do(func() {
		o := NewOrchestrator(fastRetrainConfig(), &memStore{}, NewGenerationHolder(), testLabeler{})
		sharedGen, sharedErr = o.Retrain(context.Background(), soilTrendCorpus("P1", 25))
	})
	require.NoError(t, sharedErr)
	return sharedGen
}

func TestForecastDeterministic(t *testing.T) {
	t.Parallel()

	gen := trainedGeneration(t)
	recent := soilTrendCorpus("P1", 25)[20:]
	f := NewForecaster(gen, 24*time.Hour)

	first, err := f.Forecast("P1", recent, 2)
	require.NoError(t, err)
	second, err := f.Forecast("P1", recent, 2)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(models.ForecastResult{}, "GeneratedAt")); diff != "" {
		t.Errorf("forecast not deterministic (-first +second):\n%s", diff)
	}
}

func TestForecastSteps(t *testing.T) {
	t.Parallel()

	gen := trainedGeneration(t)
	recent := soilTrendCorpus("P1", 25)[18:]
	last := recent[len(recent)-1].Timestamp

	results, err := NewForecaster(gen, 24*time.Hour).Forecast("P1", recent, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for i, r := range results {
		step := i + 1
		assert.Equal(t, "P1", r.DeviceID)
		assert.Equal(t, gen.ID, r.GenerationID)
		assert.Equal(t, step, r.HorizonStep)
		assert.Equal(t, float64(24*step), r.HoursAhead)
		assert.Equal(t, last.Add(time.Duration(step)*24*time.Hour), r.TargetTime)

		for f := range r.Predicted {
			assert.GreaterOrEqual(t, r.Predicted[f], gen.Scaler.Min[f])
			assert.LessOrEqual(t, r.Predicted[f], gen.Scaler.Max[f])
		}

		var sum float64
		for _, p := range r.Probabilities {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
		assert.Equal(t, r.Probabilities[r.PredictedLabel], r.Confidence)
	}
}

func TestForecastUnsortedInput(t *testing.T) {
	t.Parallel()

	gen := trainedGeneration(t)
	recent := soilTrendCorpus("P1", 25)[20:]
	shuffled := []models.TelemetryReading{recent[3], recent[0], recent[4], recent[2], recent[1]}

	f := NewForecaster(gen, time.Hour)
	want, err := f.Forecast("P1", recent, 1)
	require.NoError(t, err)
	got, err := f.Forecast("P1", shuffled, 1)
	require.NoError(t, err)
	assert.Equal(t, want[0].Predicted, got[0].Predicted)
}

func TestForecastErrors(t *testing.T) {
	t.Parallel()

	gen := trainedGeneration(t)
	recent := soilTrendCorpus("P9", 25)[:gen.SequenceLength()-1]

	_, err := NewForecaster(gen, time.Hour).Forecast("P9", recent, 2)
	var insufficient *InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "P9", insufficient.DeviceID)

	_, err = NewForecaster(gen, time.Hour).Forecast("P1", soilTrendCorpus("P1", 25), 0)
	assert.Error(t, err)

	_, err = NewForecaster(nil, time.Hour).Forecast("P1", soilTrendCorpus("P1", 25), 1)
	assert.ErrorIs(t, err, ErrNoGeneration)
}
