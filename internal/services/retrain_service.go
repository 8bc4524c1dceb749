package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"plant-backend/internal/metrics"
	"plant-backend/internal/ml"
	"plant-backend/internal/models"
)

// CorpusSource returns the full telemetry history used for training
type CorpusSource interface {
	ListReadings(ctx context.Context, deviceID string) ([]models.TelemetryReading, error)
}

// GenerationLoader reads the latest persisted generation
type GenerationLoader interface {
	LoadLatestGeneration(ctx context.Context) (*ml.Generation, error)
}

// Retrainer builds and publishes a new generation
type Retrainer interface {
	Retrain(ctx context.Context, corpus []models.TelemetryReading) (*ml.Generation, error)
}

// RetrainService restores the serving generation at start, retrains on a
// schedule and picks up generations other processes publish to the store
type RetrainService struct {
	source    CorpusSource
	loader    GenerationLoader
	retrainer Retrainer
	holder    *ml.GenerationHolder
	config    RetrainServiceConfig
}

// RetrainServiceConfig holds retrain service configuration
type RetrainServiceConfig struct {
	Interval        time.Duration // between scheduled retrains
	RefreshInterval time.Duration // between store polls for newer generations
}

// DefaultRetrainServiceConfig returns default configuration
func DefaultRetrainServiceConfig() RetrainServiceConfig {
	return RetrainServiceConfig{
		Interval:        24 * time.Hour,
		RefreshInterval: time.Minute,
	}
}

// NewRetrainService creates a retrain service
func NewRetrainService(source CorpusSource, loader GenerationLoader, retrainer Retrainer, holder *ml.GenerationHolder, config RetrainServiceConfig) *RetrainService {
	defaults := DefaultRetrainServiceConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = defaults.RefreshInterval
	}
	return &RetrainService{
		source:    source,
		loader:    loader,
		retrainer: retrainer,
		holder:    holder,
		config:    config,
	}
}

// Init loads the latest stored generation into the holder. An empty store is
// not an error; a stored generation that fails validation is.
func (rs *RetrainService) Init(ctx context.Context) error {
	gen, err := rs.loader.LoadLatestGeneration(ctx)
	if errors.Is(err, ml.ErrNoGeneration) {
		log.Println("RetrainService: No stored generation, first retrain will publish one")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load latest generation: %w", err)
	}

	rs.holder.Publish(gen)
	recordGeneration(gen)
	log.Printf("RetrainService: Serving generation %s (v%d, trained %s on %d records)",
		gen.ID, gen.Version, gen.CreatedAt.Format(time.RFC3339), gen.Metadata.RecordCount)
	return nil
}

// Start retrains immediately when nothing is being served, then every
// interval, polling the store for newer generations in between. Runs until
// context is cancelled.
func (rs *RetrainService) Start(ctx context.Context) {
	log.Printf("RetrainService: Starting, retraining every %v, checking store every %v",
		rs.config.Interval, rs.config.RefreshInterval)

	ticker := time.NewTicker(rs.config.Interval)
	defer ticker.Stop()
	refresh := time.NewTicker(rs.config.RefreshInterval)
	defer refresh.Stop()

	if rs.holder.Current() == nil {
		_, _ = rs.RunOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("RetrainService: Shutting down...")
			return
		case <-ticker.C:
			_, _ = rs.RunOnce(ctx)
		case <-refresh.C:
			if _, err := rs.Refresh(ctx); err != nil {
				log.Printf("RetrainService: Error refreshing generation: %v", err)
			}
		}
	}
}

// Refresh swaps in the latest stored generation when it is newer than the one
// being served. A stored generation that fails validation is reported and the
// current one kept.
func (rs *RetrainService) Refresh(ctx context.Context) (bool, error) {
	gen, err := rs.loader.LoadLatestGeneration(ctx)
	if errors.Is(err, ml.ErrNoGeneration) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load latest generation: %w", err)
	}
	if !rs.holder.PublishIfNewer(gen) {
		return false, nil
	}

	recordGeneration(gen)
	log.Printf("RetrainService: Picked up generation %s (v%d) from the store", gen.ID, gen.Version)
	return true, nil
}

// RunOnce trains on the whole telemetry history. On failure the serving
// generation is left as it was.
func (rs *RetrainService) RunOnce(ctx context.Context) (*ml.Generation, error) {
	start := time.Now()
	defer metrics.ObserveSince(metrics.RetrainDuration, start)

	corpus, err := rs.source.ListReadings(ctx, "")
	if err != nil {
		metrics.RetrainRuns.WithLabelValues(metrics.OutcomeFailed).Inc()
		log.Printf("RetrainService: Error loading corpus: %v", err)
		return nil, fmt.Errorf("failed to load training corpus: %w", err)
	}

	gen, err := rs.retrainer.Retrain(ctx, corpus)
	if err != nil {
		outcome := retrainOutcome(err)
		metrics.RetrainRuns.WithLabelValues(outcome).Inc()
		log.Printf("RetrainService: Retrain %s: %v", outcome, err)
		return nil, err
	}

	metrics.RetrainRuns.WithLabelValues(metrics.OutcomeSuccess).Inc()
	recordGeneration(gen)

	if report, err := ml.Evaluate(gen, corpus); err != nil {
		log.Printf("RetrainService: Evaluation skipped: %v", err)
	} else {
		log.Printf("RetrainService: Evaluation: %s", report)
	}
	return gen, nil
}

func retrainOutcome(err error) string {
	var insufficient *ml.InsufficientCorpusError
	switch {
	case errors.As(err, &insufficient):
		return metrics.OutcomeInsufficientCorpus
	case errors.Is(err, ml.ErrRetrainInProgress):
		return metrics.OutcomeBusy
	default:
		return metrics.OutcomeFailed
	}
}

func recordGeneration(gen *ml.Generation) {
	metrics.ActiveGeneration.Set(float64(gen.Version))
	metrics.ForecastLoss.Set(gen.Metadata.ForecastLoss)
	metrics.ClassifierAccuracy.WithLabelValues("train").Set(gen.Metadata.TrainScore)
	metrics.ClassifierAccuracy.WithLabelValues("test").Set(gen.Metadata.TestScore)
}
