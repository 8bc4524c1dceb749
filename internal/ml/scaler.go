package ml

import (
	"errors"
	"fmt"
	"math"

	"plant-backend/internal/models"
)

// ScalingParameters holds per-feature min/max bounds fitted on one training corpus
type ScalingParameters struct {
	Min models.FeatureVector `json:"min"`
	Max models.FeatureVector `json:"max"`
}

// FitScaler computes per-feature min/max over the full corpus
func FitScaler(corpus []models.FeatureVector) (ScalingParameters, error) {
	var p ScalingParameters
	if len(corpus) == 0 {
		return p, errors.New("cannot fit scaler on empty corpus")
	}

	p.Min = corpus[0]
	p.Max = corpus[0]
	for _, v := range corpus[1:] {
		for f := 0; f < models.NumFeatures; f++ {
			if v[f] < p.Min[f] {
				p.Min[f] = v[f]
			}
			if v[f] > p.Max[f] {
				p.Max[f] = v[f]
			}
		}
	}
	return p, nil
}

// Validate checks max >= min on every feature
func (p ScalingParameters) Validate() error {
	for f := 0; f < models.NumFeatures; f++ {
		if p.Max[f] < p.Min[f] {
			return fmt.Errorf("feature %s: max %.4f < min %.4f", models.FeatureNames[f], p.Max[f], p.Min[f])
		}
	}
	return nil
}

// NormalizeValue maps v linearly onto [0,1] for feature f.
// A constant feature normalizes to 0.
func (p ScalingParameters) NormalizeValue(f int, v float64) float64 {
	span := p.Max[f] - p.Min[f]
	if span == 0 {
		return 0
	}
	return (v - p.Min[f]) / span
}

// DenormalizeValue inverts NormalizeValue and clamps to [min, max].
// A constant feature denormalizes to its constant.
func (p ScalingParameters) DenormalizeValue(f int, v float64) float64 {
	span := p.Max[f] - p.Min[f]
	if span == 0 {
		return p.Min[f]
	}
	return p.ClampValue(f, v*span+p.Min[f])
}

// ClampValue bounds v to the training range of feature f. NaN maps to the minimum.
func (p ScalingParameters) ClampValue(f int, v float64) float64 {
	if math.IsNaN(v) || v < p.Min[f] {
		return p.Min[f]
	}
	if v > p.Max[f] {
		return p.Max[f]
	}
	return v
}

// Normalize maps every feature of v onto [0,1]
func (p ScalingParameters) Normalize(v models.FeatureVector) models.FeatureVector {
	var out models.FeatureVector
	for f := range v {
		out[f] = p.NormalizeValue(f, v[f])
	}
	return out
}

// Denormalize maps a normalized vector back to sensor units, clamped to the training range
func (p ScalingParameters) Denormalize(v models.FeatureVector) models.FeatureVector {
	var out models.FeatureVector
	for f := range v {
		out[f] = p.DenormalizeValue(f, v[f])
	}
	return out
}

// NormalizeAll normalizes a series
func (p ScalingParameters) NormalizeAll(series []models.FeatureVector) []models.FeatureVector {
	out := make([]models.FeatureVector, len(series))
	for i, v := range series {
		out[i] = p.Normalize(v)
	}
	return out
}

// DegenerateFeatures lists the features whose training range collapsed to a constant
func (p ScalingParameters) DegenerateFeatures() []*DegenerateFeatureRangeError {
	var out []*DegenerateFeatureRangeError
	for f := 0; f < models.NumFeatures; f++ {
		if p.Max[f] == p.Min[f] {
			out = append(out, &DegenerateFeatureRangeError{Feature: models.FeatureNames[f], Value: p.Min[f]})
		}
	}
	return out
}
