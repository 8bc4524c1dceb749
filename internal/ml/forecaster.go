package ml

import (
	"fmt"
	"sort"
	"time"

	"plant-backend/internal/models"
)

// Forecaster runs the autoregressive forecast loop against one generation.
// It holds no mutable state and is safe for concurrent use.
type Forecaster struct {
	gen          *Generation
	stepInterval time.Duration
}

// NewForecaster binds a forecaster to a generation snapshot. stepInterval is
// the wall-clock distance between two horizon steps.
func NewForecaster(gen *Generation, stepInterval time.Duration) *Forecaster {
	return &Forecaster{gen: gen, stepInterval: stepInterval}
}

// Generation returns the snapshot this forecaster serves
func (f *Forecaster) Generation() *Generation {
	return f.gen
}

// Forecast predicts horizon steps ahead from the most recent readings of one
// device. Each step is denormalized, bounded by the corrector against the
// current window, classified, then fed back as the newest window element.
func (f *Forecaster) Forecast(deviceID string, recent []models.TelemetryReading, horizon int) ([]models.ForecastResult, error) {
	if f.gen == nil {
		return nil, ErrNoGeneration
	}
	if horizon < 1 {
		return nil, fmt.Errorf("invalid forecast horizon %d", horizon)
	}

	readings := make([]models.TelemetryReading, len(recent))
	copy(readings, recent)
	sort.SliceStable(readings, func(a, b int) bool { return readings[a].Timestamp.Before(readings[b].Timestamp) })

	series := make([]models.FeatureVector, len(readings))
	for i, r := range readings {
		series[i] = r.Features()
	}
	raw, err := LatestWindow(deviceID, series, f.gen.SequenceLength())
	if err != nil {
		return nil, err
	}

	params := f.gen.Scaler
	window := Window(params.NormalizeAll(raw))
	last := readings[len(readings)-1].Timestamp
	generatedAt := time.Now().UTC()

	results := make([]models.ForecastResult, 0, horizon)
	for step := 1; step <= horizon; step++ {
		predicted := params.Denormalize(f.gen.Forecaster.Predict(window))
		corrected := ConstrainVector(predicted, raw, params)
		normalized := params.Normalize(corrected)

		label, confidence, probs := f.classify(normalized)
		ahead := time.Duration(step) * f.stepInterval
		results = append(results, models.ForecastResult{
			DeviceID:       deviceID,
			GenerationID:   f.gen.ID,
			GeneratedAt:    generatedAt,
			HorizonStep:    step,
			HoursAhead:     ahead.Hours(),
			TargetTime:     last.Add(ahead),
			Predicted:      corrected,
			PredictedLabel: label,
			Confidence:     confidence,
			Probabilities:  probs,
		})

		window = window.Shift(normalized)
		raw = raw.Shift(corrected)
	}
	return results, nil
}

func (f *Forecaster) classify(v models.FeatureVector) (string, float64, map[string]float64) {
	code, probs := f.gen.Classifier.Predict(v)
	label, _ := f.gen.Vocabulary.Label(code)
	dist := make(map[string]float64, len(probs))
	for k, p := range probs {
		if l, ok := f.gen.Vocabulary.Label(k); ok {
			dist[l] = p
		}
	}
	return label, probs[code], dist
}
