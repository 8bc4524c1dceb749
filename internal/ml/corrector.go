package ml

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"plant-backend/internal/models"
)

const (
	// correctionTrigger is the deviation from the recent mean, in standard
	// deviations, beyond which a forecast is pulled back
	correctionTrigger = 2.0
	// correctionPullback is where a pulled-back forecast lands, in standard deviations
	correctionPullback = 1.5
)

// popMeanStd returns the mean and population (ddof 0) standard deviation
func popMeanStd(x []float64) (mean, std float64) {
	if len(x) == 0 {
		return 0, 0
	}
	if len(x) == 1 {
		return x[0], 0
	}
	mean, variance := stat.MeanVariance(x, nil)
	n := float64(len(x))
	return mean, math.Sqrt(variance * (n - 1) / n)
}

// Constrain bounds a denormalized forecast of one feature against the recent
// values of that feature. A forecast further than 2σ from the recent mean is
// replaced by mean ± 1.5σ on the same side; a NaN forecast is replaced by the
// mean. The result is always clamped to [lo, hi].
func Constrain(forecast float64, recent []float64, lo, hi float64) float64 {
	mean, std := popMeanStd(recent)
	if math.IsNaN(forecast) {
		forecast = mean
	}
	if std > 0 && math.Abs(forecast-mean) > correctionTrigger*std {
		forecast = mean + sign(forecast-mean)*correctionPullback*std
	}
	if forecast < lo || math.IsNaN(forecast) {
		return lo
	}
	return math.Min(forecast, hi)
}

// ConstrainVector applies Constrain per feature, using the denormalized window
// as the recent history and the training range as bounds
func ConstrainVector(forecast models.FeatureVector, window Window, params ScalingParameters) models.FeatureVector {
	var out models.FeatureVector
	for f := 0; f < models.NumFeatures; f++ {
		out[f] = Constrain(forecast[f], window.Column(f), params.Min[f], params.Max[f])
	}
	return out
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
