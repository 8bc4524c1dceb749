package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"plant-backend/internal/metrics"
	"plant-backend/internal/models"
)

// Subscriber decodes plant readings from the broker and writes them to a channel
type Subscriber struct {
	client mqtt.Client

	// Output channel (written by subscriber, read by the sensor service)
	ReadingChan chan *models.TelemetryReading

	readingsTopic string // e.g., "plants/+/readings"
	sendTimeout   time.Duration
	now           func() time.Time
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	ReadingsTopic string
}

// NewSubscriber creates a subscriber writing to readingChan
func NewSubscriber(client mqtt.Client, config SubscriberConfig, readingChan chan *models.TelemetryReading) *Subscriber {
	return &Subscriber{
		client:        client,
		ReadingChan:   readingChan,
		readingsTopic: config.ReadingsTopic,
		sendTimeout:   time.Second,
		now:           time.Now,
	}
}

// SubscribeAll subscribes to the readings topic. Safe to call again after a reconnect.
func (s *Subscriber) SubscribeAll() error {
	if s.readingsTopic == "" {
		return errors.New("no readings topic configured")
	}
	token := s.client.Subscribe(s.readingsTopic, 1, s.handleReading)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to readings topic: %w", token.Error())
	}
	log.Printf("MQTT Subscriber: Subscribed to readings topic: %s", s.readingsTopic)
	return nil
}

func (s *Subscriber) handleReading(client mqtt.Client, msg mqtt.Message) {
	reading, err := ParseReading(msg.Topic(), msg.Payload(), s.now())
	if err != nil {
		log.Printf("MQTT Subscriber: Dropping reading from %s: %v", msg.Topic(), err)
		metrics.ReadingsDropped.WithLabelValues("invalid").Inc()
		return
	}
	metrics.ReadingsReceived.Inc()

	select {
	case s.ReadingChan <- reading:
	case <-time.After(s.sendTimeout):
		log.Printf("Warning: Reading channel full, dropping message from %s", reading.DeviceID)
		metrics.ReadingsDropped.WithLabelValues("channel_full").Inc()
	}
}

// ParseReading decodes a reading payload received on topic. The payload device
// ID wins over the topic segment; now stands in for a missing or malformed
// timestamp. All four features are required and must be finite.
func ParseReading(topic string, payload []byte, now time.Time) (*models.TelemetryReading, error) {
	var p models.ReadingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reading: %w", err)
	}

	deviceID := strings.TrimSpace(p.DeviceID)
	if deviceID == "" {
		deviceID = extractDeviceID(topic)
	}
	if deviceID == "" {
		return nil, fmt.Errorf("no device id in payload or topic %q", topic)
	}

	fields := []struct {
		name  string
		value *float64
	}{
		{"temperature", p.Temperature},
		{"humidity", p.Humidity},
		{"lightLevel", p.LightLevel},
		{"soilMoisture", p.SoilMoisture},
	}
	for _, f := range fields {
		if f.value == nil {
			return nil, fmt.Errorf("reading from %s is missing %s", deviceID, f.name)
		}
		if math.IsNaN(*f.value) || math.IsInf(*f.value, 0) {
			return nil, fmt.Errorf("reading from %s has non-finite %s", deviceID, f.name)
		}
	}

	return &models.TelemetryReading{
		DeviceID:     deviceID,
		Timestamp:    parseTimestamp(p.Timestamp, now),
		Temperature:  *p.Temperature,
		Humidity:     *p.Humidity,
		LightLevel:   *p.LightLevel,
		SoilMoisture: *p.SoilMoisture,
	}, nil
}

// maxClockSkew is how far past server time a device timestamp may lie
const maxClockSkew = 24 * time.Hour

// parseTimestamp reads epoch milliseconds, falling back to now for missing,
// malformed or implausibly future values
func parseTimestamp(raw json.RawMessage, now time.Time) time.Time {
	if len(raw) == 0 {
		return now.UTC()
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil || !(ms > 0) {
		return now.UTC()
	}
	if ms > float64(now.Add(maxClockSkew).UnixMilli()) {
		return now.UTC()
	}
	return time.UnixMilli(int64(ms)).UTC()
}

// extractDeviceID returns the second topic segment.
// Example: "plants/ficus-01/readings" -> "ficus-01"
func extractDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
