package modelstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-backend/internal/emotion"
	"plant-backend/internal/ml"
	"plant-backend/internal/models"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func corpus(n int) []models.TelemetryReading {
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.TelemetryReading, n)
	for i := range out {
		out[i] = models.TelemetryReading{
			DeviceID:     "P1",
			Timestamp:    start.Add(time.Duration(i) * time.Hour),
			Temperature:  20 + float64(i%4),
			Humidity:     50 + float64(i%3),
			LightLevel:   400,
			SoilMoisture: 65 - 2*float64(i),
		}
	}
	return out
}

func quickConfig() ml.RetrainConfig {
	cfg := ml.DefaultRetrainConfig()
	cfg.LSTM.Hidden = 4
	cfg.LSTM.Epochs = 3
	cfg.Boost.Rounds = 5
	return cfg
}

// retrainInto publishes a freshly trained generation into s
func retrainInto(t *testing.T, s *SQLiteStore) *ml.Generation {
	t.Helper()
	o := ml.NewOrchestrator(quickConfig(), s, ml.NewGenerationHolder(), emotion.DefaultRules())
	gen, err := o.Retrain(context.Background(), corpus(24))
	require.NoError(t, err)
	return gen
}

func TestSQLiteStoreEmpty(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_, err := s.LoadLatestGeneration(context.Background())
	assert.ErrorIs(t, err, ml.ErrNoGeneration)

	_, err = s.LoadGeneration(context.Background(), "missing")
	assert.ErrorIs(t, err, ml.ErrNoGeneration)

	infos, err := s.ListGenerations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestSQLiteStorePublishAndLoad(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	gen := retrainInto(t, s)
	assert.Equal(t, int64(1), gen.Version)

	loaded, err := s.LoadLatestGeneration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gen.ID, loaded.ID)
	assert.Equal(t, int64(1), loaded.Version)
	assert.True(t, gen.CreatedAt.Equal(loaded.CreatedAt))
	assert.Equal(t, gen.Scaler, loaded.Scaler)
	assert.Equal(t, gen.Metadata, loaded.Metadata)
	assert.Equal(t, gen.Vocabulary.Labels(), loaded.Vocabulary.Labels())

	recent := corpus(24)[19:]
	want, err := ml.NewForecaster(gen, 24*time.Hour).Forecast("P1", recent, 2)
	require.NoError(t, err)
	got, err := ml.NewForecaster(loaded, 24*time.Hour).Forecast("P1", recent, 2)
	require.NoError(t, err)
	for i := range want {
		assert.Equal(t, want[i].Predicted, got[i].Predicted)
		assert.Equal(t, want[i].Probabilities, got[i].Probabilities)
	}
}

func TestSQLiteStoreVersionsAndPrune(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	first := retrainInto(t, s)
	second := retrainInto(t, s)
	third := retrainInto(t, s)
	assert.Equal(t, int64(3), third.Version)

	infos, err := s.ListGenerations(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, third.ID, infos[0].ID)
	assert.Equal(t, first.ID, infos[2].ID)
	assert.Equal(t, 24, infos[0].RecordCount)

	removed, err := s.Prune(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.LoadGeneration(context.Background(), first.ID)
	assert.ErrorIs(t, err, ml.ErrNoGeneration)
	kept, err := s.LoadGeneration(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), kept.Version)

	var orphans int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM generation_components WHERE generation_id = ?`, first.ID).Scan(&orphans))
	assert.Zero(t, orphans)

	_, err = s.Prune(context.Background(), 0)
	assert.Error(t, err)

	fourth := retrainInto(t, s)
	assert.Equal(t, int64(4), fourth.Version)
}

func TestSQLiteStoreDetectsMixedComponents(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	first := retrainInto(t, s)
	second := retrainInto(t, s)

	// graft the first generation's classifier onto the second
	_, err := s.db.Exec(`
		UPDATE generation_components
		SET data = (SELECT data FROM generation_components WHERE generation_id = ? AND kind = 'classifier')
		WHERE generation_id = ? AND kind = 'classifier'`, first.ID, second.ID)
	require.NoError(t, err)

	_, err = s.LoadLatestGeneration(context.Background())
	var mismatch *ml.ModelGenerationMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, second.ID, mismatch.GenerationID)

	_, err = s.db.Exec(`DELETE FROM generation_components WHERE generation_id = ? AND kind = 'scaler'`, first.ID)
	require.NoError(t, err)
	_, err = s.LoadGeneration(context.Background(), first.ID)
	assert.ErrorAs(t, err, &mismatch)
}

func TestSQLiteStoreFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "models.db")
	s, err := Open(path)
	require.NoError(t, err)
	gen := retrainInto(t, s)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadLatestGeneration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gen.ID, loaded.ID)
}
