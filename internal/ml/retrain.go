package ml

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"plant-backend/internal/models"
)

// ModelStore persists generations. PublishGeneration must make all components
// visible at once and assign the generation its version.
type ModelStore interface {
	LoadLatestGeneration(ctx context.Context) (*Generation, error)
	PublishGeneration(ctx context.Context, g *Generation) error
}

// Labeler assigns an emotion label to a raw feature vector
type Labeler interface {
	Label(v models.FeatureVector) string
}

// RetrainConfig holds the orchestrator thresholds and model hyper-parameters
type RetrainConfig struct {
	MinRecords     int     // corpus floor
	MinSequences   int     // training pair floor
	SequenceLength int     // default window length before adaptation
	TestFraction   float64 // classifier hold-out share
	Seed           int64   // split seed
	LSTM           LSTMConfig
	Boost          BoostConfig
	DataSource     string        // recorded in metadata
	LeaseTTL       time.Duration // store lease lifetime, renewed while training
}

// DefaultRetrainConfig returns the reference deployment thresholds
func DefaultRetrainConfig() RetrainConfig {
	return RetrainConfig{
		MinRecords:     20,
		MinSequences:   5,
		SequenceLength: 5,
		TestFraction:   0.2,
		Seed:           42,
		LSTM:           DefaultLSTMConfig(),
		Boost:          DefaultBoostConfig(),
		LeaseTTL:       10 * time.Minute,
	}
}

// RetrainLeaser is implemented by stores shared between processes. The
// orchestrator holds the lease for a whole retrain; while another owner holds
// it AcquireRetrainLease returns ErrRetrainInProgress.
type RetrainLeaser interface {
	AcquireRetrainLease(ctx context.Context, owner string, ttl time.Duration) (release func(), err error)
}

// Orchestrator builds, persists and publishes model generations.
// At most one retraining runs at a time per orchestrator, and per store when
// the store is a RetrainLeaser.
type Orchestrator struct {
	cfg     RetrainConfig
	store   ModelStore
	holder  *GenerationHolder
	labeler Labeler
	tracer  trace.Tracer
	owner   string

	gate sync.Mutex
}

// NewOrchestrator creates an orchestrator. labeler fills in readings that
// arrive without an emotion label; it may be nil.
func NewOrchestrator(cfg RetrainConfig, store ModelStore, holder *GenerationHolder, labeler Labeler) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		holder:  holder,
		labeler: labeler,
		tracer:  otel.Tracer("plant-backend/internal/ml"),
		owner:   fmt.Sprintf("pid-%d-%s", os.Getpid(), uuid.NewString()),
	}
}

// Retrain trains a new generation from the corpus, persists it and swaps it
// into the holder. On any error the holder and the store keep the previous
// generation. Returns ErrRetrainInProgress if another retraining is running.
func (o *Orchestrator) Retrain(ctx context.Context, corpus []models.TelemetryReading) (*Generation, error) {
	if !o.gate.TryLock() {
		return nil, ErrRetrainInProgress
	}
	defer o.gate.Unlock()

	if leaser, ok := o.store.(RetrainLeaser); ok {
		release, err := leaser.AcquireRetrainLease(ctx, o.owner, o.cfg.LeaseTTL)
		if errors.Is(err, ErrRetrainInProgress) {
			log.Printf("Retrain: Store lease held elsewhere, skipping")
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("failed to acquire retrain lease: %w", err)
		}
		defer release()
	}

	ctx, span := o.tracer.Start(ctx, "ml.Retrain", trace.WithAttributes(
		attribute.Int("corpus.records", len(corpus)),
	))
	defer span.End()

	start := time.Now()
	log.Printf("Retrain: Starting on %d records", len(corpus))

	gen, err := o.train(ctx, corpus)
	if err == nil {
		if perr := o.store.PublishGeneration(ctx, gen); perr != nil {
			err = fmt.Errorf("failed to publish generation %s: %w", gen.ID, perr)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("Retrain: Failed after %v: %v", time.Since(start).Round(time.Millisecond), err)
		return nil, err
	}

	o.holder.Publish(gen)
	span.SetAttributes(
		attribute.String("generation.id", gen.ID),
		attribute.Int64("generation.version", gen.Version),
	)
	log.Printf("Retrain: Published generation %s (v%d) in %v: seq_len=%d sequences=%d loss=%.5f train_acc=%.3f test_acc=%.3f",
		gen.ID, gen.Version, time.Since(start).Round(time.Millisecond), gen.Metadata.SequenceLength,
		gen.Metadata.SequenceCount, gen.Metadata.ForecastLoss, gen.Metadata.TrainScore, gen.Metadata.TestScore)
	return gen, nil
}

// trainingSet holds per-pair inputs gathered across devices
type trainingSet struct {
	raw     []Window // sensor units, reference windows for the corrector
	windows []Window // normalized
	targets []models.FeatureVector
	labels  []string
}

func (o *Orchestrator) train(ctx context.Context, corpus []models.TelemetryReading) (*Generation, error) {
	cfg := o.cfg
	if len(corpus) < cfg.MinRecords {
		return nil, &InsufficientCorpusError{Records: len(corpus), MinRecords: cfg.MinRecords, MinSequences: cfg.MinSequences}
	}

	readings := make([]models.TelemetryReading, len(corpus))
	copy(readings, corpus)
	labelled := 0
	for i := range readings {
		if readings[i].Emotion != "" || o.labeler == nil {
			continue
		}
		if label := o.labeler.Label(readings[i].Features()); label != "" {
			readings[i].Emotion = label
			labelled++
		}
	}

	features := make([]models.FeatureVector, len(readings))
	labels := make([]string, len(readings))
	for i, r := range readings {
		features[i] = r.Features()
		labels[i] = r.Emotion
	}
	params, err := FitScaler(features)
	if err != nil {
		return nil, err
	}
	var degenerate []string
	for _, d := range params.DegenerateFeatures() {
		log.Printf("Retrain: Warning: %v", d)
		degenerate = append(degenerate, d.Feature)
	}

	vocab := NewLabelVocabulary(labels)
	if vocab.Len() == 0 {
		return nil, errors.New("corpus carries no emotion labels")
	}

	seqLen, degraded := AdaptiveSequenceLength(len(readings), cfg.SequenceLength)
	if degraded {
		log.Printf("Retrain: Corpus of %d records too small for window %d, using %d", len(readings), cfg.SequenceLength, seqLen)
	}

	groups := GroupByDevice(readings)
	set, err := buildTrainingSet(groups, seqLen, params)
	if err != nil {
		return nil, err
	}
	if len(set.windows) < cfg.MinSequences {
		return nil, &InsufficientCorpusError{
			Records:      len(readings),
			Sequences:    len(set.windows),
			MinRecords:   cfg.MinRecords,
			MinSequences: cfg.MinSequences,
		}
	}

	forecaster := NewLSTM(cfg.LSTM)
	loss, err := forecaster.Fit(ctx, set.windows, set.targets)
	if err != nil {
		return nil, fmt.Errorf("failed to fit forecast model: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// classifier inputs go through the same transformation as inference
	X := make([]models.FeatureVector, 0, len(set.windows))
	y := make([]int, 0, len(set.windows))
	for i, w := range set.windows {
		code, ok := vocab.Code(set.labels[i])
		if !ok {
			continue
		}
		corrected := ConstrainVector(params.Denormalize(forecaster.Predict(w)), set.raw[i], params)
		X = append(X, params.Normalize(corrected))
		y = append(y, code)
	}
	if len(X) == 0 {
		return nil, errors.New("no labelled training targets for the classifier")
	}

	trainIdx, testIdx := splitIndices(len(X), cfg.TestFraction, cfg.Seed)
	Xtrain, ytrain := gather(X, y, trainIdx)
	Xtest, ytest := gather(X, y, testIdx)

	classifier := NewBoostedClassifier(cfg.Boost)
	if err := classifier.Fit(Xtrain, ytrain, vocab.Len()); err != nil {
		return nil, fmt.Errorf("failed to fit classifier: %w", err)
	}

	gen := &Generation{
		ID:         newGenerationID(),
		CreatedAt:  time.Now().UTC(),
		Scaler:     params,
		Forecaster: forecaster,
		Classifier: classifier,
		Vocabulary: vocab,
		Metadata: TrainingMetadata{
			RecordCount:        len(readings),
			DeviceCount:        len(groups),
			SequenceLength:     seqLen,
			SequenceCount:      len(set.windows),
			DegradedWindow:     degraded,
			DegenerateFeatures: degenerate,
			ForecastLoss:       loss,
			TrainScore:         classifier.Accuracy(Xtrain, ytrain),
			TestScore:          classifier.Accuracy(Xtest, ytest),
			TrainSamples:       len(Xtrain),
			TestSamples:        len(Xtest),
			LabelledByRules:    labelled,
			DataSource:         cfg.DataSource,
		},
	}
	if err := gen.Validate(); err != nil {
		return nil, err
	}
	return gen, nil
}

// buildTrainingSet windows every device separately; devices too short for
// one pair are skipped
func buildTrainingSet(groups []DeviceSeries, seqLen int, params ScalingParameters) (*trainingSet, error) {
	total := 0
	for _, g := range groups {
		total += PairCount(len(g.Readings), seqLen)
	}
	set := &trainingSet{
		raw:     make([]Window, 0, total),
		windows: make([]Window, 0, total),
		targets: make([]models.FeatureVector, 0, total),
		labels:  make([]string, 0, total),
	}
	for _, g := range groups {
		series := g.Features()
		pairs, err := TrainingPairs(series, seqLen)
		if err != nil {
			var insufficient *InsufficientDataError
			if errors.As(err, &insufficient) {
				log.Printf("Retrain: Skipping device %s: %d readings, need %d", g.DeviceID, insufficient.Have, insufficient.Need)
				continue
			}
			return nil, err
		}
		i := 0
		for w, next := range pairs {
			set.raw = append(set.raw, w)
			set.windows = append(set.windows, Window(params.NormalizeAll(w)))
			set.targets = append(set.targets, params.Normalize(next))
			set.labels = append(set.labels, g.Readings[i+seqLen].Emotion)
			i++
		}
	}
	return set, nil
}

// splitIndices shuffles 0..n-1 with a fixed seed and holds out ceil(n*fraction)
// samples, always leaving at least one for training
func splitIndices(n int, fraction float64, seed int64) (train, test []int) {
	idx := rand.New(rand.NewSource(seed)).Perm(n)
	nTest := 0
	if fraction > 0 {
		nTest = int(math.Ceil(float64(n) * fraction))
	}
	if nTest > n-1 {
		nTest = n - 1
	}
	return idx[nTest:], idx[:nTest]
}

func gather(X []models.FeatureVector, y []int, idx []int) ([]models.FeatureVector, []int) {
	outX := make([]models.FeatureVector, len(idx))
	outY := make([]int, len(idx))
	for i, j := range idx {
		outX[i] = X[j]
		outY[i] = y[j]
	}
	return outX, outY
}
