package services

import (
	"context"
	"log"
	"time"

	"plant-backend/internal/metrics"
	"plant-backend/internal/models"
)

// TelemetryStore is the write side of the telemetry repository
type TelemetryStore interface {
	SaveReading(ctx context.Context, r *models.TelemetryReading) error
	SaveCommand(ctx context.Context, cmd *models.PlantCommand) error
	UpsertDevice(ctx context.Context, device *models.Device) error
}

// StateRules labels a reading and maps a label to an actuator command
type StateRules interface {
	Label(v models.FeatureVector) string
	Command(label string) (string, bool)
}

// ForecastTrigger is the part of ForecastService the ingest path drives
type ForecastTrigger interface {
	RegisterDevice(deviceID string)
	RequestForecast(deviceID string) bool
}

// SensorService labels, persists and reacts to incoming plant readings
type SensorService struct {
	store    TelemetryStore
	rules    StateRules
	forecast ForecastTrigger

	// Input channel from the MQTT subscriber
	ReadingChan chan *models.TelemetryReading

	// Output channel to the MQTT publisher
	commandChan chan<- *models.PlantCommand

	registered map[string]time.Time
}

// SensorServiceConfig holds configuration for sensor service
type SensorServiceConfig struct {
	ReadingChannelSize int
	CommandChannelSize int
}

// DefaultSensorServiceConfig returns default configuration
func DefaultSensorServiceConfig() SensorServiceConfig {
	return SensorServiceConfig{
		ReadingChannelSize: 100,
		CommandChannelSize: 50,
	}
}

// NewSensorService creates a sensor service. forecast may be nil.
func NewSensorService(
	store TelemetryStore,
	rules StateRules,
	forecast ForecastTrigger,
	commandChan chan<- *models.PlantCommand,
	config SensorServiceConfig,
) *SensorService {
	return &SensorService{
		store:       store,
		rules:       rules,
		forecast:    forecast,
		ReadingChan: make(chan *models.TelemetryReading, config.ReadingChannelSize),
		commandChan: commandChan,
		registered:  make(map[string]time.Time),
	}
}

// Start processes readings until the context is cancelled or the channel is closed
func (s *SensorService) Start(ctx context.Context) {
	log.Println("SensorService: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Println("SensorService: Shutting down...")
			return
		case reading, ok := <-s.ReadingChan:
			if !ok {
				log.Println("SensorService: Reading channel closed, shutting down...")
				return
			}
			s.process(ctx, reading)
		}
	}
}

// process handles a single reading
func (s *SensorService) process(ctx context.Context, reading *models.TelemetryReading) {
	if reading.Emotion == "" {
		reading.Emotion = s.rules.Label(reading.Features())
	}

	if err := s.store.SaveReading(ctx, reading); err != nil {
		log.Printf("SensorService: Error saving reading from %s: %v", reading.DeviceID, err)
		metrics.ReadingsDropped.WithLabelValues("store_error").Inc()
		return
	}

	log.Printf("SensorService: Saved reading: device=%s, soil=%.1f%%, temp=%.1f°C, light=%.0f, state=%s",
		reading.DeviceID, reading.SoilMoisture, reading.Temperature, reading.LightLevel, reading.Emotion)

	s.sendCommand(ctx, reading)
	s.registerDevice(ctx, reading.DeviceID)

	if s.forecast != nil {
		s.forecast.RequestForecast(reading.DeviceID)
	}
}

// sendCommand logs and queues the actuator command for the reading's state, if any
func (s *SensorService) sendCommand(ctx context.Context, reading *models.TelemetryReading) {
	command, ok := s.rules.Command(reading.Emotion)
	if !ok {
		return
	}

	cmd := &models.PlantCommand{
		DeviceID:  reading.DeviceID,
		Timestamp: time.Now().UTC(),
		Emotion:   reading.Emotion,
		Command:   command,
	}

	if err := s.store.SaveCommand(ctx, cmd); err != nil {
		log.Printf("SensorService: Error logging command for %s: %v", reading.DeviceID, err)
	}

	select {
	case s.commandChan <- cmd:
		metrics.CommandsSent.WithLabelValues(cmd.Emotion).Inc()
	default:
		log.Printf("Warning: Command channel full, dropping %s for %s", cmd.Command, cmd.DeviceID)
	}
}

// registerDevice auto-registers a device and refreshes its last-seen time
func (s *SensorService) registerDevice(ctx context.Context, deviceID string) {
	now := time.Now().UTC()
	registeredAt, seen := s.registered[deviceID]
	if !seen {
		registeredAt = now
		s.registered[deviceID] = now
	}

	device := &models.Device{
		DeviceID:     deviceID,
		Name:         deviceID,
		Location:     "Unknown",
		RegisteredAt: registeredAt,
		LastSeen:     now,
		IsActive:     true,
	}

	// Best effort - don't fail if registration fails
	if err := s.store.UpsertDevice(ctx, device); err != nil {
		log.Printf("SensorService: Error registering device %s: %v", deviceID, err)
	}

	if s.forecast != nil && !seen {
		s.forecast.RegisterDevice(deviceID)
	}
}
