package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-backend/internal/models"
)

func TestPrintForecasts(t *testing.T) {
	t.Parallel()

	generated := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	results := []models.ForecastResult{
		{
			DeviceID: "ficus-01", GenerationID: "g7", GeneratedAt: generated,
			HorizonStep: 1, TargetTime: generated.Add(time.Hour),
			Predicted:      models.FeatureVector{22.4, 55, 480, 31.2},
			PredictedLabel: "happy", Confidence: 0.81,
		},
		{
			DeviceID: "ficus-01", GenerationID: "g7", GeneratedAt: generated,
			HorizonStep: 2, TargetTime: generated.Add(2 * time.Hour),
			Predicted:      models.FeatureVector{22.6, 54, 470, 28.9},
			PredictedLabel: "thirsty", Confidence: 0.64,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printForecasts(&buf, results))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "device ficus-01, generation g7, generated 2026-05-01T12:00:00Z", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "STEP"))
	assert.Equal(t, []string{"1", "2026-05-01T13:00:00Z", "22.4", "55.0", "480", "31.2", "happy", "0.81"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"2", "2026-05-01T14:00:00Z", "22.6", "54.0", "470", "28.9", "thirsty", "0.64"}, strings.Fields(lines[3]))
}
