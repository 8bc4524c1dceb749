package models

import "time"

// ForecastResult is one horizon step of a device forecast.
// Predicted is denormalized, corrected and clamped to the training range.
type ForecastResult struct {
	DeviceID       string             `json:"deviceId"`
	GenerationID   string             `json:"generationId"`
	GeneratedAt    time.Time          `json:"generatedAt"`
	HorizonStep    int                `json:"horizonStep"` // 1..N
	HoursAhead     float64            `json:"hoursAhead"`
	TargetTime     time.Time          `json:"targetTime"`
	Predicted      FeatureVector      `json:"predicted"`
	PredictedLabel string             `json:"predictedLabel"`
	Confidence     float64            `json:"confidence"`    // probability of PredictedLabel
	Probabilities  map[string]float64 `json:"probabilities"` // over the generation's label vocabulary
}
