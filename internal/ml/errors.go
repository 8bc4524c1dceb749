package ml

import (
	"errors"
	"fmt"
)

// ErrRetrainInProgress is returned when a retraining is already running
var ErrRetrainInProgress = errors.New("retraining already in progress")

// ErrNoGeneration is returned by model stores that hold no published generation yet
var ErrNoGeneration = errors.New("no model generation published")

// InsufficientDataError reports a device history too short for one window.
// Callers skip the device and retry later.
type InsufficientDataError struct {
	DeviceID string
	Have     int
	Need     int
}

func (e *InsufficientDataError) Error() string {
	if e.DeviceID == "" {
		return fmt.Sprintf("insufficient data: have %d readings, need %d", e.Have, e.Need)
	}
	return fmt.Sprintf("insufficient data for device %s: have %d readings, need %d", e.DeviceID, e.Have, e.Need)
}

// InsufficientCorpusError aborts a retraining: too few records or too few
// training sequences to build a usable model.
type InsufficientCorpusError struct {
	Records      int
	Sequences    int
	MinRecords   int
	MinSequences int
}

func (e *InsufficientCorpusError) Error() string {
	if e.Records < e.MinRecords {
		return fmt.Sprintf("insufficient corpus: %d records, need at least %d", e.Records, e.MinRecords)
	}
	return fmt.Sprintf("insufficient corpus: %d training sequences from %d records, need at least %d",
		e.Sequences, e.Records, e.MinSequences)
}

// DegenerateFeatureRangeError describes a feature that was constant over the
// training corpus. It is a data-quality signal: the scaler handles the range
// inline, so this value is logged and recorded, never returned.
type DegenerateFeatureRangeError struct {
	Feature string
	Value   float64
}

func (e *DegenerateFeatureRangeError) Error() string {
	return fmt.Sprintf("degenerate range for feature %s: constant %.4f", e.Feature, e.Value)
}

// ModelGenerationMismatchError means a loaded scaler, forecaster, classifier
// or vocabulary does not belong to one consistent generation. Inference must
// not be served from such a bundle.
type ModelGenerationMismatchError struct {
	GenerationID string
	Reason       string
}

func (e *ModelGenerationMismatchError) Error() string {
	return fmt.Sprintf("model generation %s mismatch: %s", e.GenerationID, e.Reason)
}
