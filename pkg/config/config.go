package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"plant-backend/internal/ml"
	"plant-backend/internal/services"
)

type Config struct {
	// MQTT Configuration
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// Plant topics
	MQTTTopicReadings string
	MQTTTopicForecast string
	MQTTTopicCommand  string

	// ClickHouse Configuration
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// Model storage and labelling
	ModelStorePath       string
	ModelRefreshInterval time.Duration
	EmotionRulesPath     string
	ChartDir             string

	// Forecasting
	ForecastHorizon         int
	ForecastStepHours       float64
	ForecastPollInterval    time.Duration
	ForecastWorkers         int
	ForecastTriggerInterval time.Duration

	// Retraining
	RetrainInterval        time.Duration
	RetrainLeaseTTL        time.Duration
	RetrainMinRecords      int
	RetrainMinSequences    int
	SequenceLength         int
	LSTMHidden             int
	LSTMEpochs             int
	LSTMBatchSize          int
	LSTMLearningRate       float64
	BoostRounds            int
	BoostLearningRate      float64
	BoostMaxDepth          int
	ClassifierTestFraction float64
	TrainingSeed           int64

	// Observability
	MetricsAddr     string
	OTelEndpoint    string
	OTelInsecure    bool
	OTelSampleRatio float64
	OTelServiceName string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		// MQTT Configuration
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "plant-backend"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		MQTTTopicReadings: getEnv("MQTT_TOPIC_READINGS", "plants/+/readings"),
		MQTTTopicForecast: getEnv("MQTT_TOPIC_FORECAST", "plants/{device_id}/forecast"),
		MQTTTopicCommand:  getEnv("MQTT_TOPIC_COMMAND", "plants/{device_id}/command"),

		// ClickHouse Configuration
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "plants"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		ModelStorePath:       getEnv("MODEL_STORE_PATH", "./data/models.db"),
		ModelRefreshInterval: getEnvDuration("MODEL_REFRESH_INTERVAL", time.Minute),
		EmotionRulesPath:     getEnv("EMOTION_RULES_PATH", ""),
		ChartDir:             getEnv("CHART_DIR", ""),

		ForecastHorizon:         getEnvInt("FORECAST_HORIZON", 2),
		ForecastStepHours:       getEnvFloat("FORECAST_STEP_HOURS", 24),
		ForecastPollInterval:    getEnvDuration("FORECAST_POLL_INTERVAL", 5*time.Minute),
		ForecastWorkers:         getEnvInt("FORECAST_WORKERS", 4),
		ForecastTriggerInterval: getEnvDuration("FORECAST_TRIGGER_INTERVAL", 30*time.Second),

		RetrainInterval:        getEnvDuration("RETRAIN_INTERVAL", 24*time.Hour),
		RetrainLeaseTTL:        getEnvDuration("RETRAIN_LEASE_TTL", 10*time.Minute),
		RetrainMinRecords:      getEnvInt("RETRAIN_MIN_RECORDS", 20),
		RetrainMinSequences:    getEnvInt("RETRAIN_MIN_SEQUENCES", 5),
		SequenceLength:         getEnvInt("SEQUENCE_LENGTH", 5),
		LSTMHidden:             getEnvInt("LSTM_HIDDEN", 32),
		LSTMEpochs:             getEnvInt("LSTM_EPOCHS", 50),
		LSTMBatchSize:          getEnvInt("LSTM_BATCH_SIZE", 4),
		LSTMLearningRate:       getEnvFloat("LSTM_LEARNING_RATE", 0.01),
		BoostRounds:            getEnvInt("BOOST_ROUNDS", 100),
		BoostLearningRate:      getEnvFloat("BOOST_LEARNING_RATE", 0.1),
		BoostMaxDepth:          getEnvInt("BOOST_MAX_DEPTH", 4),
		ClassifierTestFraction: getEnvFloat("CLASSIFIER_TEST_FRACTION", 0.2),
		TrainingSeed:           int64(getEnvInt("TRAINING_SEED", 42)),

		MetricsAddr:     getEnv("METRICS_ADDR", ":9090"),
		OTelEndpoint:    getEnv("OTEL_ENDPOINT", ""),
		OTelInsecure:    getEnvBool("OTEL_INSECURE", true),
		OTelSampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "plant-backend"),
	}
}

// Retraining projects the retraining settings onto the orchestrator config
func (c *Config) Retraining() ml.RetrainConfig {
	cfg := ml.DefaultRetrainConfig()
	cfg.MinRecords = c.RetrainMinRecords
	cfg.MinSequences = c.RetrainMinSequences
	cfg.LeaseTTL = c.RetrainLeaseTTL
	cfg.SequenceLength = c.SequenceLength
	cfg.TestFraction = c.ClassifierTestFraction
	cfg.Seed = c.TrainingSeed
	cfg.LSTM.Hidden = c.LSTMHidden
	cfg.LSTM.Epochs = c.LSTMEpochs
	cfg.LSTM.BatchSize = c.LSTMBatchSize
	cfg.LSTM.LearningRate = c.LSTMLearningRate
	cfg.LSTM.Seed = c.TrainingSeed
	cfg.Boost.Rounds = c.BoostRounds
	cfg.Boost.LearningRate = c.BoostLearningRate
	cfg.Boost.MaxDepth = c.BoostMaxDepth
	cfg.DataSource = "clickhouse://" + c.ClickHouseAddr + "/" + c.ClickHouseDB
	return cfg
}

// Forecasting projects the forecast settings onto the forecast service config
func (c *Config) Forecasting() services.ForecastServiceConfig {
	cfg := services.DefaultForecastServiceConfig()
	cfg.Horizon = c.ForecastHorizon
	cfg.StepInterval = time.Duration(c.ForecastStepHours * float64(time.Hour))
	cfg.PollInterval = c.ForecastPollInterval
	cfg.Workers = c.ForecastWorkers
	cfg.TriggerInterval = c.ForecastTriggerInterval
	return cfg
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return d
}
