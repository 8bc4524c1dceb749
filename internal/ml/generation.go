package ml

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ComponentKind names one persisted part of a model generation
type ComponentKind string

const (
	ComponentScaler     ComponentKind = "scaler"
	ComponentForecaster ComponentKind = "forecaster"
	ComponentClassifier ComponentKind = "classifier"
	ComponentVocabulary ComponentKind = "vocabulary"
	ComponentMetadata   ComponentKind = "metadata"
)

// ComponentKinds lists every component a complete generation carries
func ComponentKinds() []ComponentKind {
	return []ComponentKind{
		ComponentScaler,
		ComponentForecaster,
		ComponentClassifier,
		ComponentVocabulary,
		ComponentMetadata,
	}
}

// TrainingMetadata records how a generation was produced
type TrainingMetadata struct {
	RecordCount        int      `json:"total_records"`
	DeviceCount        int      `json:"device_count"`
	SequenceLength     int      `json:"sequence_length"`
	SequenceCount      int      `json:"lstm_sequences"`
	DegradedWindow     bool     `json:"degraded_window"`
	DegenerateFeatures []string `json:"degenerate_features,omitempty"`
	ForecastLoss       float64  `json:"forecast_loss"`
	TrainScore         float64  `json:"xgb_train_score"`
	TestScore          float64  `json:"xgb_test_score"`
	TrainSamples       int      `json:"train_samples"`
	TestSamples        int      `json:"test_samples"`
	LabelledByRules    int      `json:"labelled_by_rules"`
	DataSource         string   `json:"data_source,omitempty"`
}

// Generation is one consistent bundle of scaler, forecast model, classifier
// and label vocabulary produced by a single retraining run
type Generation struct {
	ID         string
	Version    int64
	CreatedAt  time.Time
	Scaler     ScalingParameters
	Forecaster *LSTM
	Classifier *BoostedClassifier
	Vocabulary *LabelVocabulary
	Metadata   TrainingMetadata
}

func newGenerationID() string {
	return uuid.NewString()
}

// SequenceLength is the window length the forecast model was trained with
func (g *Generation) SequenceLength() int {
	return g.Metadata.SequenceLength
}

// Validate checks that the components belong together
func (g *Generation) Validate() error {
	if g == nil {
		return &ModelGenerationMismatchError{Reason: "generation missing"}
	}
	mismatch := func(format string, args ...any) error {
		return &ModelGenerationMismatchError{GenerationID: g.ID, Reason: fmt.Sprintf(format, args...)}
	}
	if g.ID == "" {
		return mismatch("generation has no id")
	}
	if err := g.Scaler.Validate(); err != nil {
		return mismatch("scaler: %v", err)
	}
	if err := g.Forecaster.Validate(); err != nil {
		return mismatch("forecaster: %v", err)
	}
	if err := g.Classifier.Validate(); err != nil {
		return mismatch("classifier: %v", err)
	}
	if g.Vocabulary == nil || g.Vocabulary.Len() == 0 {
		return mismatch("label vocabulary is empty")
	}
	if g.Classifier.Classes != g.Vocabulary.Len() {
		return mismatch("classifier has %d classes but vocabulary has %d labels",
			g.Classifier.Classes, g.Vocabulary.Len())
	}
	if g.Metadata.SequenceLength < MinSequenceLength {
		return mismatch("sequence length %d below minimum %d", g.Metadata.SequenceLength, MinSequenceLength)
	}
	return nil
}

// componentEnvelope tags a serialized component with its generation
type componentEnvelope struct {
	Generation string          `json:"generation"`
	Data       json.RawMessage `json:"data"`
}

// EncodeGeneration serializes each component of g into an envelope
// carrying the generation id
func EncodeGeneration(g *Generation) (map[ComponentKind][]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	parts := map[ComponentKind]any{
		ComponentScaler:     g.Scaler,
		ComponentForecaster: g.Forecaster,
		ComponentClassifier: g.Classifier,
		ComponentVocabulary: g.Vocabulary,
		ComponentMetadata:   g.Metadata,
	}
	out := make(map[ComponentKind][]byte, len(parts))
	for kind, part := range parts {
		data, err := json.Marshal(part)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", kind, err)
		}
		env, err := json.Marshal(componentEnvelope{Generation: g.ID, Data: data})
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s envelope: %w", kind, err)
		}
		out[kind] = env
	}
	return out, nil
}

// DecodeGeneration rebuilds a generation from its components. Every component
// must be present and tagged with id; the result is validated before return.
func DecodeGeneration(id string, version int64, createdAt time.Time, components map[ComponentKind][]byte) (*Generation, error) {
	g := &Generation{
		ID:         id,
		Version:    version,
		CreatedAt:  createdAt,
		Forecaster: &LSTM{},
		Classifier: &BoostedClassifier{},
		Vocabulary: NewLabelVocabulary(nil),
	}
	targets := map[ComponentKind]any{
		ComponentScaler:     &g.Scaler,
		ComponentForecaster: g.Forecaster,
		ComponentClassifier: g.Classifier,
		ComponentVocabulary: g.Vocabulary,
		ComponentMetadata:   &g.Metadata,
	}
	for _, kind := range ComponentKinds() {
		raw, ok := components[kind]
		if !ok {
			return nil, &ModelGenerationMismatchError{GenerationID: id, Reason: fmt.Sprintf("missing %s component", kind)}
		}
		var env componentEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("failed to decode %s envelope: %w", kind, err)
		}
		if env.Generation != id {
			return nil, &ModelGenerationMismatchError{
				GenerationID: id,
				Reason:       fmt.Sprintf("%s component belongs to generation %s", kind, env.Generation),
			}
		}
		if err := json.Unmarshal(env.Data, targets[kind]); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
