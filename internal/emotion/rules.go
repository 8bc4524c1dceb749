package emotion

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"plant-backend/internal/models"
)

// Emotion labels produced by the rule engine
const (
	Thirsty  = "thirsty"
	Stressed = "stressed"
	Tired    = "tired"
	Happy    = "happy"
	Neutral  = "neutral"
)

// Range is an open interval
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports min < v < max
func (r Range) Contains(v float64) bool {
	return v > r.Min && v < r.Max
}

// Rules holds the thresholds used to label readings and the actuator
// command sent for each label. Rules are checked in order: thirsty,
// stressed, tired, happy, otherwise neutral.
type Rules struct {
	ThirstySoilBelow  float64           `yaml:"thirsty_soil_below"`
	StressedTempAbove float64           `yaml:"stressed_temperature_above"`
	TiredLightBelow   float64           `yaml:"tired_light_below"`
	HappySoil         Range             `yaml:"happy_soil"`
	HappyTemperature  Range             `yaml:"happy_temperature"`
	Commands          map[string]string `yaml:"commands"`
}

// DefaultRules returns the thresholds the plant firmware was calibrated with
func DefaultRules() *Rules {
	return &Rules{
		ThirstySoilBelow:  30,
		StressedTempAbove: 35,
		TiredLightBelow:   15,
		HappySoil:         Range{Min: 40, Max: 75},
		HappyTemperature:  Range{Min: 18, Max: 28},
		Commands: map[string]string{
			Thirsty:  "WATER_PUMP:3000",
			Stressed: "SET_FAN_SPEED:150",
			Happy:    "SET_LED_COLOR:GREEN",
		},
	}
}

// LoadRules reads a YAML override file on top of DefaultRules.
// An empty path returns the defaults.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read emotion rules: %w", err)
	}
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("failed to parse emotion rules %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid emotion rules %s: %w", path, err)
	}
	return rules, nil
}

// Validate checks that both happy ranges are non-empty
func (r *Rules) Validate() error {
	if r.HappySoil.Min >= r.HappySoil.Max {
		return fmt.Errorf("happy_soil range [%v, %v] is empty", r.HappySoil.Min, r.HappySoil.Max)
	}
	if r.HappyTemperature.Min >= r.HappyTemperature.Max {
		return fmt.Errorf("happy_temperature range [%v, %v] is empty", r.HappyTemperature.Min, r.HappyTemperature.Max)
	}
	return nil
}

// Label classifies one feature vector
func (r *Rules) Label(v models.FeatureVector) string {
	soil, temp := v[models.SoilMoisture], v[models.Temperature]
	switch {
	case soil < r.ThirstySoilBelow:
		return Thirsty
	case temp > r.StressedTempAbove:
		return Stressed
	case v[models.LightLevel] < r.TiredLightBelow:
		return Tired
	case r.HappySoil.Contains(soil) && r.HappyTemperature.Contains(temp):
		return Happy
	}
	return Neutral
}

// Command returns the actuator command for a label, if any
func (r *Rules) Command(label string) (string, bool) {
	cmd, ok := r.Commands[label]
	return cmd, ok && cmd != ""
}
