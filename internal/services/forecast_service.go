package services

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"plant-backend/internal/metrics"
	"plant-backend/internal/ml"
	"plant-backend/internal/models"
)

// ReadingRepository is the read side of the telemetry store used for inference
type ReadingRepository interface {
	ListRecentReadings(ctx context.Context, deviceID string, limit int) ([]models.TelemetryReading, error)
	ListDevices(ctx context.Context) ([]string, error)
}

// ResultSink receives every forecast produced in a pass
type ResultSink interface {
	WriteForecasts(ctx context.Context, results []models.ForecastResult) error
}

// ForecastService runs the multi-step forecaster over every known device,
// on a timer and on demand
type ForecastService struct {
	repo   ReadingRepository
	holder *ml.GenerationHolder
	sinks  []ResultSink
	cfg    ForecastServiceConfig
	tracer trace.Tracer

	requests chan string

	mu       sync.Mutex
	tracked  map[string]struct{}
	limiters map[string]*rate.Limiter
}

// ForecastServiceConfig holds configuration for the forecast service
type ForecastServiceConfig struct {
	Horizon         int           // steps per forecast
	StepInterval    time.Duration // wall-clock distance between steps
	PollInterval    time.Duration // full pass period
	Workers         int           // concurrent devices per pass
	TriggerInterval time.Duration // minimum gap between on-demand passes for one device
	HistoryLimit    int           // readings fetched per device, raised to the window length if smaller
	RequestBuffer   int
}

// DefaultForecastServiceConfig returns default configuration
func DefaultForecastServiceConfig() ForecastServiceConfig {
	return ForecastServiceConfig{
		Horizon:         2,
		StepInterval:    24 * time.Hour,
		PollInterval:    5 * time.Minute,
		Workers:         4,
		TriggerInterval: 30 * time.Second,
		HistoryLimit:    64,
		RequestBuffer:   64,
	}
}

// PassSummary describes one forecast pass
type PassSummary struct {
	GenerationID string
	Devices      int
	Forecasted   int
	Skipped      int // not enough history
	Failed       int
	Results      []models.ForecastResult
}

// NewForecastService creates a forecast service writing to sinks
func NewForecastService(repo ReadingRepository, holder *ml.GenerationHolder, config ForecastServiceConfig, sinks ...ResultSink) *ForecastService {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &ForecastService{
		repo:     repo,
		holder:   holder,
		sinks:    sinks,
		cfg:      config,
		tracer:   otel.Tracer("plant-backend/internal/services"),
		requests: make(chan string, max(config.RequestBuffer, 1)),
		tracked:  make(map[string]struct{}),
		limiters: make(map[string]*rate.Limiter),
	}
}

// RegisterDevice adds a device to every subsequent pass
func (fs *ForecastService) RegisterDevice(deviceID string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.tracked[deviceID] = struct{}{}
}

// RequestForecast queues an on-demand forecast for one device. It returns
// false when the device was triggered within TriggerInterval or the queue is full.
func (fs *ForecastService) RequestForecast(deviceID string) bool {
	fs.mu.Lock()
	limiter, ok := fs.limiters[deviceID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(fs.cfg.TriggerInterval), 1)
		fs.limiters[deviceID] = limiter
	}
	fs.mu.Unlock()

	if !limiter.Allow() {
		return false
	}
	select {
	case fs.requests <- deviceID:
		return true
	default:
		log.Printf("ForecastService: Request queue full, dropping trigger for %s", deviceID)
		return false
	}
}

// Start runs a pass immediately, then every PollInterval and on each request.
// Runs until context is cancelled.
func (fs *ForecastService) Start(ctx context.Context) {
	log.Printf("ForecastService: Starting (horizon=%d, step=%v, poll=%v, workers=%d)",
		fs.cfg.Horizon, fs.cfg.StepInterval, fs.cfg.PollInterval, fs.cfg.Workers)

	ticker := time.NewTicker(fs.cfg.PollInterval)
	defer ticker.Stop()

	fs.RunPass(ctx, nil)

	for {
		select {
		case <-ctx.Done():
			log.Println("ForecastService: Shutting down...")
			return
		case <-ticker.C:
			fs.RunPass(ctx, nil)
		case deviceID := <-fs.requests:
			fs.RunPass(ctx, []string{deviceID})
		}
	}
}

// RunPass forecasts the given devices, or every known device when devices is
// nil, against a single generation snapshot. Per-device failures are logged
// and counted; they never abort the pass.
func (fs *ForecastService) RunPass(ctx context.Context, devices []string) PassSummary {
	if devices == nil {
		devices = fs.knownDevices(ctx)
	}
	summary := PassSummary{Devices: len(devices)}

	gen := fs.holder.Current()
	if gen == nil {
		if len(devices) > 0 {
			log.Printf("ForecastService: No model generation yet, skipping %d devices", len(devices))
		}
		return summary
	}
	summary.GenerationID = gen.ID
	if len(devices) == 0 {
		return summary
	}

	metrics.ForecastPasses.Inc()
	forecaster := ml.NewForecaster(gen, fs.cfg.StepInterval)
	limit := max(fs.cfg.HistoryLimit, gen.SequenceLength())

	perDevice := make([][]models.ForecastResult, len(devices))
	outcomes := make([]string, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fs.cfg.Workers)
	for i, deviceID := range devices {
		g.Go(func() error {
			perDevice[i], outcomes[i] = fs.forecastDevice(gctx, forecaster, deviceID, limit)
			return nil
		})
	}
	_ = g.Wait()

	for i, outcome := range outcomes {
		switch outcome {
		case metrics.OutcomeOK:
			summary.Forecasted++
			summary.Results = append(summary.Results, perDevice[i]...)
		case metrics.OutcomeInsufficientData:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	if len(summary.Results) > 0 {
		for _, sink := range fs.sinks {
			if err := sink.WriteForecasts(ctx, summary.Results); err != nil {
				log.Printf("ForecastService: Error writing %d forecasts: %v", len(summary.Results), err)
			}
		}
	}

	log.Printf("ForecastService: Pass on generation %s: %d forecasted, %d skipped, %d failed",
		gen.ID, summary.Forecasted, summary.Skipped, summary.Failed)
	return summary
}

func (fs *ForecastService) forecastDevice(ctx context.Context, f *ml.Forecaster, deviceID string, limit int) ([]models.ForecastResult, string) {
	start := time.Now()
	defer metrics.ObserveSince(metrics.ForecastLatency, start)

	ctx, span := fs.tracer.Start(ctx, "forecast.device", trace.WithAttributes(
		attribute.String("device.id", deviceID),
		attribute.String("generation.id", f.Generation().ID),
	))
	defer span.End()

	fail := func(outcome string, err error) ([]models.ForecastResult, string) {
		metrics.ForecastDevices.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		if outcome == metrics.OutcomeError {
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, outcome
	}

	history, err := fs.repo.ListRecentReadings(ctx, deviceID, limit)
	if err != nil {
		log.Printf("ForecastService: Error loading history for %s: %v", deviceID, err)
		return fail(metrics.OutcomeError, err)
	}

	results, err := f.Forecast(deviceID, history, fs.cfg.Horizon)
	if err != nil {
		var insufficient *ml.InsufficientDataError
		if errors.As(err, &insufficient) {
			log.Printf("ForecastService: Skipping %s: %v", deviceID, err)
			return fail(metrics.OutcomeInsufficientData, err)
		}
		log.Printf("ForecastService: Error forecasting %s: %v", deviceID, err)
		return fail(metrics.OutcomeError, err)
	}

	metrics.ForecastDevices.WithLabelValues(metrics.OutcomeOK).Inc()
	for _, r := range results {
		metrics.ForecastLabels.WithLabelValues(r.PredictedLabel).Inc()
	}
	span.SetAttributes(attribute.Int("forecast.steps", len(results)))
	return results, metrics.OutcomeOK
}

// knownDevices merges registered devices with the device registry
func (fs *ForecastService) knownDevices(ctx context.Context) []string {
	fs.mu.Lock()
	devices := make([]string, 0, len(fs.tracked))
	for deviceID := range fs.tracked {
		devices = append(devices, deviceID)
	}
	fs.mu.Unlock()

	registered, err := fs.repo.ListDevices(ctx)
	if err != nil {
		log.Printf("ForecastService: Error listing devices, using %d tracked: %v", len(devices), err)
	}
	devices = append(devices, registered...)

	slices.Sort(devices)
	return slices.Compact(devices)
}
