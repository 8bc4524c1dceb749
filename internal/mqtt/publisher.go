package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"plant-backend/internal/models"
)

// Publisher sends actuator commands and forecasts to the broker
type Publisher struct {
	client mqtt.Client

	// Input channel (read by publisher, written by the sensor service)
	CommandChan chan *models.PlantCommand

	forecastTopic string // e.g., "plants/{device_id}/forecast"
	commandTopic  string // e.g., "plants/{device_id}/command"
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	ForecastTopic string
	CommandTopic  string
}

// ForecastMessage is the payload published on a device's forecast topic
type ForecastMessage struct {
	DeviceID     string                  `json:"deviceId"`
	GenerationID string                  `json:"generationId"`
	GeneratedAt  time.Time               `json:"generatedAt"`
	Steps        []models.ForecastResult `json:"steps"`
}

// NewPublisher creates a publisher draining commandChan
func NewPublisher(client mqtt.Client, config PublisherConfig, commandChan chan *models.PlantCommand) *Publisher {
	return &Publisher{
		client:        client,
		CommandChan:   commandChan,
		forecastTopic: config.ForecastTopic,
		commandTopic:  config.CommandTopic,
	}
}

// Start publishes commands from the channel until ctx is cancelled or the
// channel is closed
func (p *Publisher) Start(ctx context.Context) {
	log.Println("MQTT Publisher: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Println("MQTT Publisher: Context cancelled, shutting down...")
			return

		case cmd, ok := <-p.CommandChan:
			if !ok {
				log.Println("MQTT Publisher: Command channel closed, shutting down...")
				return
			}
			if err := p.PublishCommand(ctx, cmd); err != nil {
				log.Printf("MQTT Publisher: %v", err)
			}
		}
	}
}

// PublishCommand sends one actuator command to its device
func (p *Publisher) PublishCommand(ctx context.Context, cmd *models.PlantCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	topic := formatTopic(p.commandTopic, cmd.DeviceID)
	if err := p.publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("failed to publish command for %s: %w", cmd.DeviceID, err)
	}
	log.Printf("MQTT Publisher: Sent %s to %s", cmd.Command, topic)
	return nil
}

// WriteForecasts publishes one ForecastMessage per device in results
func (p *Publisher) WriteForecasts(ctx context.Context, results []models.ForecastResult) error {
	for _, msg := range groupForecasts(results) {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal forecast for %s: %w", msg.DeviceID, err)
		}
		topic := formatTopic(p.forecastTopic, msg.DeviceID)
		if err := p.publish(ctx, topic, payload); err != nil {
			return fmt.Errorf("failed to publish forecast for %s: %w", msg.DeviceID, err)
		}
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// groupForecasts splits results by device, keeping first-seen device order
func groupForecasts(results []models.ForecastResult) []ForecastMessage {
	var msgs []ForecastMessage
	index := make(map[string]int)
	for _, r := range results {
		i, ok := index[r.DeviceID]
		if !ok {
			i = len(msgs)
			index[r.DeviceID] = i
			msgs = append(msgs, ForecastMessage{
				DeviceID:     r.DeviceID,
				GenerationID: r.GenerationID,
				GeneratedAt:  r.GeneratedAt,
			})
		}
		msgs[i].Steps = append(msgs[i].Steps, r)
	}
	return msgs
}

// formatTopic replaces the {device_id} placeholder
func formatTopic(topicPattern, deviceID string) string {
	return strings.ReplaceAll(topicPattern, "{device_id}", deviceID)
}
