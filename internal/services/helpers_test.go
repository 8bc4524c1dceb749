package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"plant-backend/internal/emotion"
	"plant-backend/internal/ml"
	"plant-backend/internal/models"
)

var baseTime = time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

// dryingPlant is a device whose soil moisture falls from 60 to 20 over n hours
func dryingPlant(deviceID string, n int) []models.TelemetryReading {
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

// fakeRepo is an in-memory telemetry repository
type fakeRepo struct {
	mu         sync.Mutex
	readings   map[string][]models.TelemetryReading
	failing    map[string]error
	devicesErr error
	commands   []*models.PlantCommand
	devices    []*models.Device
	saveErr    error
}

func newFakeRepo(readings ...models.TelemetryReading) *fakeRepo {
	r := &fakeRepo{
		readings: make(map[string][]models.TelemetryReading),
		failing:  make(map[string]error),
	}
	for _, reading := range readings {
		r.readings[reading.DeviceID] = append(r.readings[reading.DeviceID], reading)
	}
	return r
}

func (r *fakeRepo) ListRecentReadings(_ context.Context, deviceID string, limit int) ([]models.TelemetryReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing[deviceID]; err != nil {
		return nil, err
	}
	all := r.readings[deviceID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]models.TelemetryReading(nil), all...), nil
}

func (r *fakeRepo) ListDevices(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.devicesErr != nil {
		return nil, r.devicesErr
	}
	var ids []string
	for id := range r.readings {
		ids = append(ids, id)
	}
	for id := range r.failing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *fakeRepo) ListReadings(_ context.Context, deviceID string) ([]models.TelemetryReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TelemetryReading
	for id, rs := range r.readings {
		if deviceID == "" || id == deviceID {
			out = append(out, rs...)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Timestamp.Before(out[b].Timestamp) })
	return out, nil
}

func (r *fakeRepo) SaveReading(_ context.Context, reading *models.TelemetryReading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.readings[reading.DeviceID] = append(r.readings[reading.DeviceID], *reading)
	return nil
}

func (r *fakeRepo) SaveCommand(_ context.Context, cmd *models.PlantCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	return nil
}

func (r *fakeRepo) UpsertDevice(_ context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, device)
	return nil
}

// recordingSink keeps every batch it receives
type recordingSink struct {
	mu      sync.Mutex
	batches [][]models.ForecastResult
	err     error
}

func (s *recordingSink) WriteForecasts(_ context.Context, results []models.ForecastResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, results)
	return s.err
}

func (s *recordingSink) received() [][]models.ForecastResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// memStore is an in-memory model store
type memStore struct {
	mu      sync.Mutex
	gens    []*ml.Generation
	loadErr error
}

func (s *memStore) LoadLatestGeneration(context.Context) (*ml.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if len(s.gens) == 0 {
		return nil, ml.ErrNoGeneration
	}
	return s.gens[len(s.gens)-1], nil
}

func (s *memStore) PublishGeneration(_ context.Context, g *ml.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.Version = int64(len(s.gens) + 1)
	s.gens = append(s.gens, g)
	return nil
}

var errRepoDown = errors.New("repository unavailable")

func quickRetrainConfig() ml.RetrainConfig {
	cfg := ml.DefaultRetrainConfig()
	cfg.LSTM.Hidden = 8
	cfg.LSTM.Epochs = 20
	cfg.Boost.Rounds = 10
	return cfg
}

var (
	sharedGenOnce sync.Once
	sharedGen     *ml.Generation
	sharedGenErr  error
)

// trainedGeneration trains one small generation shared by the package tests
func trainedGeneration(t *testing.T) *ml.Generation {
	t.Helper()
	sharedGenOnce.Do(func() {
		o := ml.NewOrchestrator(quickRetrainConfig(), &memStore{}, ml.NewGenerationHolder(), emotion.DefaultRules())
		sharedGen, sharedGenErr = o.Retrain(context.Background(), dryingPlant("seed", 25))
	})
	require.NoError(t, sharedGenErr)
	return sharedGen
}
