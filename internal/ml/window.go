package ml

import (
	"iter"
	"sort"

	"plant-backend/internal/models"
)

// MinSequenceLength is the shortest window the forecaster is trained on
const MinSequenceLength = 2

// Window is a run of consecutive feature vectors of one device, oldest first
type Window []models.FeatureVector

// Clone returns a copy that does not share the backing array
func (w Window) Clone() Window {
	out := make(Window, len(w))
	copy(out, w)
	return out
}

// Shift drops the oldest element and appends v, returning a new window
func (w Window) Shift(v models.FeatureVector) Window {
	out := make(Window, len(w))
	copy(out, w[1:])
	out[len(out)-1] = v
	return out
}

// Column returns the values of one feature across the window
func (w Window) Column(f int) []float64 {
	col := make([]float64, len(w))
	for i, v := range w {
		col[i] = v[f]
	}
	return col
}

// AdaptiveSequenceLength picks min(defaultLen, corpusSize/2), never below
// MinSequenceLength. degraded reports that the default could not be honoured.
func AdaptiveSequenceLength(corpusSize, defaultLen int) (length int, degraded bool) {
	length = defaultLen
	if half := corpusSize / 2; half < length {
		length = half
	}
	if length < MinSequenceLength {
		length = MinSequenceLength
	}
	return length, length < defaultLen
}

// TrainingPairs slides a seqLen frame one step at a time over a chronological
// series and yields (window, next vector) pairs. The returned sequence is lazy
// and can be ranged over any number of times; each window is a fresh copy.
// A series of R vectors yields R-seqLen pairs.
func TrainingPairs(series []models.FeatureVector, seqLen int) (iter.Seq2[Window, models.FeatureVector], error) {
	if seqLen < 1 || len(series) < seqLen+1 {
		return nil, &InsufficientDataError{Have: len(series), Need: seqLen + 1}
	}
	return func(yield func(Window, models.FeatureVector) bool) {
		for i := 0; i+seqLen < len(series); i++ {
			w := make(Window, seqLen)
			copy(w, series[i:i+seqLen])
			if !yield(w, series[i+seqLen]) {
				return
			}
		}
	}, nil
}

// PairCount is the number of pairs TrainingPairs yields for a series of n vectors
func PairCount(n, seqLen int) int {
	if n <= seqLen {
		return 0
	}
	return n - seqLen
}

// LatestWindow returns the last seqLen vectors of a chronological series
func LatestWindow(deviceID string, series []models.FeatureVector, seqLen int) (Window, error) {
	if seqLen < 1 || len(series) < seqLen {
		return nil, &InsufficientDataError{DeviceID: deviceID, Have: len(series), Need: seqLen}
	}
	return Window(series[len(series)-seqLen:]).Clone(), nil
}

// DeviceSeries is the chronological history of one device
type DeviceSeries struct {
	DeviceID string
	Readings []models.TelemetryReading
}

// Features projects the series onto the feature axis
func (s DeviceSeries) Features() []models.FeatureVector {
	out := make([]models.FeatureVector, len(s.Readings))
	for i, r := range s.Readings {
		out[i] = r.Features()
	}
	return out
}

// GroupByDevice splits a flat corpus per device, sorted by timestamp.
// Devices are returned in first-seen order; equal timestamps keep input order.
func GroupByDevice(readings []models.TelemetryReading) []DeviceSeries {
	index := make(map[string]int)
	var out []DeviceSeries
	for _, r := range readings {
		i, ok := index[r.DeviceID]
		if !ok {
			i = len(out)
			index[r.DeviceID] = i
			out = append(out, DeviceSeries{DeviceID: r.DeviceID})
		}
		out[i].Readings = append(out[i].Readings, r)
	}
	for i := range out {
		rs := out[i].Readings
		sort.SliceStable(rs, func(a, b int) bool { return rs[a].Timestamp.Before(rs[b].Timestamp) })
	}
	return out
}
