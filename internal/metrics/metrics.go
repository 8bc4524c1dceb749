package metrics

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest
	ReadingsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "plant",
		Subsystem: "ingest",
		Name:      "readings_received_total",
		Help:      "Plant readings decoded from MQTT",
	})

	ReadingsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plant",
		Subsystem: "ingest",
		Name:      "readings_dropped_total",
		Help:      "Plant readings dropped before persistence",
	}, []string{"reason"})

	CommandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plant",
		Subsystem: "ingest",
		Name:      "commands_sent_total",
		Help:      "Actuator commands published, by emotion",
	}, []string{"emotion"})

	// Forecast
	ForecastPasses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "plant",
		Subsystem: "forecast",
		Name:      "passes_total",
		Help:      "Forecast passes over the device set",
	})

	ForecastDevices = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plant",
		Subsystem: "forecast",
		Name:      "devices_total",
		Help:      "Per-device forecast outcomes",
	}, []string{"outcome"})

	ForecastLabels = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plant",
		Subsystem: "forecast",
		Name:      "predicted_labels_total",
		Help:      "Predicted emotion labels across all horizon steps",
	}, []string{"label"})

	ForecastLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "plant",
		Subsystem: "forecast",
		Name:      "device_duration_seconds",
		Help:      "Per-device forecast duration including history fetch",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// Retraining
	RetrainRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plant",
		Subsystem: "retrain",
		Name:      "runs_total",
		Help:      "Retraining attempts by outcome",
	}, []string{"outcome"})

	RetrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "plant",
		Subsystem: "retrain",
		Name:      "duration_seconds",
		Help:      "Retraining duration",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
	})

	ActiveGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plant",
		Subsystem: "retrain",
		Name:      "active_generation_version",
		Help:      "Version of the model generation serving inference",
	})

	ForecastLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plant",
		Subsystem: "retrain",
		Name:      "forecast_loss",
		Help:      "Training MSE of the active forecast model",
	})

	ClassifierAccuracy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "plant",
		Subsystem: "retrain",
		Name:      "classifier_accuracy",
		Help:      "Accuracy of the active classifier by split",
	}, []string{"split"})
)

// Forecast outcomes
const (
	OutcomeOK               = "ok"
	OutcomeInsufficientData = "insufficient_data"
	OutcomeError            = "error"
)

// Retrain outcomes
const (
	OutcomeSuccess            = "success"
	OutcomeInsufficientCorpus = "insufficient_corpus"
	OutcomeBusy               = "busy"
	OutcomeFailed             = "failed"
)

// ObserveSince records the time elapsed since start on h
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler serves /metrics and /health
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// StartServer serves Handler on addr in the background. An empty addr
// disables the server and returns nil.
func StartServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics: Server error: %v", err)
		}
	}()
	log.Printf("Metrics: Serving /metrics and /health on %s", addr)
	return srv
}
