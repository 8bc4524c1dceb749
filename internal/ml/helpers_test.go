package ml

import (
	"context"
	"errors"
	"sync"
	"time"

	"plant-backend/internal/models"
)

var baseTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// soilTrendCorpus is one device drying out linearly from 60 to 20 while the
// other features stay constant. Readings carry no emotion label.
func soilTrendCorpus(deviceID string, n int) []models.TelemetryReading {
	out := make([]models.TelemetryReading, n)
	for i := range out {
		out[i] = models.TelemetryReading{
			DeviceID:     deviceID,
			Timestamp:    baseTime.Add(time.Duration(i) * time.Hour),
			Temperature:  22,
			Humidity:     55,
			LightLevel:   500,
			SoilMoisture: 60 - 40*float64(i)/float64(n-1),
		}
	}
	return out
}

// testLabeler applies the plant emotion rules
type testLabeler struct{}

func (testLabeler) Label(v models.FeatureVector) string {
	soil, temp := v[models.SoilMoisture], v[models.Temperature]
	switch {
	case soil < 30:
		return "thirsty"
	case temp > 35:
		return "stressed"
	case v[models.LightLevel] < 15:
		return "tired"
	case soil > 40 && soil < 75 && temp > 18 && temp < 28:
		return "happy"
	}
	return "neutral"
}

// memStore is an in-memory ModelStore
type memStore struct {
	mu         sync.Mutex
	gens       []*Generation
	publishErr error
}

func (s *memStore) LoadLatestGeneration(context.Context) (*Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.gens) == 0 {
		return nil, ErrNoGeneration
	}
	return s.gens[len(s.gens)-1], nil
}

func (s *memStore) PublishGeneration(_ context.Context, g *Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	g.Version = int64(len(s.gens) + 1)
	s.gens = append(s.gens, g)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.gens)
}

var errStoreDown = errors.New("store unavailable")

// fastRetrainConfig keeps unit tests quick while preserving the thresholds
func fastRetrainConfig() RetrainConfig {
	cfg := DefaultRetrainConfig()
	cfg.LSTM.Hidden = 8
	cfg.LSTM.Epochs = 40
	cfg.Boost.Rounds = 30
	return cfg
}
