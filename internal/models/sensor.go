package models

import (
	"encoding/json"
	"time"
)

// Feature axis indices. The order is fixed: scaler bounds, model weights and
// classifier inputs are all laid out along this axis.
const (
	Temperature = iota
	Humidity
	LightLevel
	SoilMoisture

	NumFeatures
)

// FeatureNames maps each feature index to its wire name
var FeatureNames = [NumFeatures]string{"temperature", "humidity", "lightLevel", "soilMoisture"}

// FeatureVector is one (temperature, humidity, lightLevel, soilMoisture) sample
type FeatureVector [NumFeatures]float64

// TelemetryReading represents one plant sensor sample as stored in the telemetry repository
type TelemetryReading struct {
	DeviceID     string    `json:"deviceId"`
	Timestamp    time.Time `json:"timestamp"`
	Temperature  float64   `json:"temperature"`  // Celsius
	Humidity     float64   `json:"humidity"`     // Percentage 0-100
	LightLevel   float64   `json:"lightLevel"`   // lux
	SoilMoisture float64   `json:"soilMoisture"` // Percentage 0-100
	Emotion      string    `json:"emotion,omitempty"`
}

// Features returns the reading projected onto the feature axis
func (r TelemetryReading) Features() FeatureVector {
	return FeatureVector{r.Temperature, r.Humidity, r.LightLevel, r.SoilMoisture}
}

// ReadingPayload represents the incoming plant reading MQTT message structure.
// Timestamp is epoch milliseconds as sent by the ESP firmware. It is kept raw;
// a malformed value falls back to server time.
type ReadingPayload struct {
	DeviceID     string          `json:"deviceId"`
	SoilMoisture *float64        `json:"soilMoisture"`
	Temperature  *float64        `json:"temperature"`
	LightLevel   *float64        `json:"lightLevel"`
	Humidity     *float64        `json:"humidity"`
	Timestamp    json.RawMessage `json:"timestamp,omitempty"`
}

// PlantCommand represents an actuator command derived from a plant state
type PlantCommand struct {
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
	Emotion   string    `json:"emotion"`
	Command   string    `json:"command"` // e.g. "WATER_PUMP:3000"
}
