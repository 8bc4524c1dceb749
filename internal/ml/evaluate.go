package ml

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"plant-backend/internal/models"
)

// EvaluationReport summarizes one-step forecast error and label accuracy
// of a generation over a corpus
type EvaluationReport struct {
	GenerationID    string
	Samples         int                  // one-step forecasts scored
	LabelledSamples int                  // samples whose target carried a label
	MAE             models.FeatureVector // mean absolute error per feature, sensor units
	Accuracy        float64              // predicted label == recorded label
	SkippedDevices  []string
}

// String renders the report for logs and the CLI
func (r EvaluationReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "generation=%s samples=%d", r.GenerationID, r.Samples)
	for f, name := range models.FeatureNames {
		fmt.Fprintf(&b, " mae_%s=%.3f", name, r.MAE[f])
	}
	fmt.Fprintf(&b, " accuracy=%.3f (%d labelled)", r.Accuracy, r.LabelledSamples)
	if len(r.SkippedDevices) > 0 {
		fmt.Fprintf(&b, " skipped=%s", strings.Join(r.SkippedDevices, ","))
	}
	return b.String()
}

// Evaluate scores corrected one-step forecasts against the readings that
// actually followed each window
func Evaluate(gen *Generation, corpus []models.TelemetryReading) (EvaluationReport, error) {
	report := EvaluationReport{}
	if gen == nil {
		return report, ErrNoGeneration
	}
	report.GenerationID = gen.ID

	seqLen := gen.SequenceLength()
	var errs [models.NumFeatures][]float64
	hits := 0
	for _, g := range GroupByDevice(corpus) {
		pairs, err := TrainingPairs(g.Features(), seqLen)
		if err != nil {
			report.SkippedDevices = append(report.SkippedDevices, g.DeviceID)
			continue
		}
		i := 0
		for raw, actual := range pairs {
			predicted := gen.Scaler.Denormalize(gen.Forecaster.Predict(Window(gen.Scaler.NormalizeAll(raw))))
			corrected := ConstrainVector(predicted, raw, gen.Scaler)
			for f := range corrected {
				errs[f] = append(errs[f], math.Abs(corrected[f]-actual[f]))
			}
			if want := g.Readings[i+seqLen].Emotion; want != "" {
				report.LabelledSamples++
				code, _ := gen.Classifier.Predict(gen.Scaler.Normalize(corrected))
				if got, _ := gen.Vocabulary.Label(code); got == want {
					hits++
				}
			}
			report.Samples++
			i++
		}
	}
	if report.Samples == 0 {
		return report, errors.New("no device has enough readings to evaluate")
	}
	for f := range errs {
		report.MAE[f] = stat.Mean(errs[f], nil)
	}
	if report.LabelledSamples > 0 {
		report.Accuracy = float64(hits) / float64(report.LabelledSamples)
	}
	return report, nil
}
