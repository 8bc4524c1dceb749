package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"plant-backend/internal/chart"
	"plant-backend/internal/database"
	"plant-backend/internal/emotion"
	"plant-backend/internal/metrics"
	"plant-backend/internal/ml"
	"plant-backend/internal/modelstore"
	"plant-backend/internal/models"
	"plant-backend/internal/mqtt"
	"plant-backend/internal/services"
	"plant-backend/internal/tracing"
	"plant-backend/pkg/config"
)

func main() {
	log.Println("Starting Plant Backend Service...")

	// Load configuration
	cfg := config.Load()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Observability ===
	shutdownTracing, err := tracing.Init(ctx, cfg.OTelServiceName, cfg.OTelEndpoint, cfg.OTelInsecure, cfg.OTelSampleRatio)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	metricsServer := metrics.StartServer(cfg.MetricsAddr)

	// === Storage ===
	db, err := database.NewClickHouseDB(ctx, database.Options{
		Addr:     cfg.ClickHouseAddr,
		Database: cfg.ClickHouseDB,
		Username: cfg.ClickHouseUser,
		Password: cfg.ClickHousePass,
	})
	if err != nil {
		log.Fatalf("Failed to initialize ClickHouse: %v", err)
	}
	defer db.Close()

	store, err := modelstore.Open(cfg.ModelStorePath)
	if err != nil {
		log.Fatalf("Failed to open model store: %v", err)
	}
	defer store.Close()

	rules, err := emotion.LoadRules(cfg.EmotionRulesPath)
	if err != nil {
		log.Fatalf("Failed to load emotion rules: %v", err)
	}

	// === Model generation ===
	holder := ml.NewGenerationHolder()
	orchestrator := ml.NewOrchestrator(cfg.Retraining(), store, holder, rules)
	retrainService := services.NewRetrainService(db, store, orchestrator, holder, services.RetrainServiceConfig{
		Interval:        cfg.RetrainInterval,
		RefreshInterval: cfg.ModelRefreshInterval,
	})
	if err := retrainService.Init(ctx); err != nil {
		log.Fatalf("Failed to restore model generation: %v", err)
	}

	// === Channel Creation ===
	sensorConfig := services.DefaultSensorServiceConfig()
	commandChan := make(chan *models.PlantCommand, sensorConfig.CommandChannelSize)

	// === Initialize MQTT Client ===
	log.Println("Connecting to MQTT broker...")
	connected := make(chan struct{}, 1)
	mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		OnConnect: func() {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		log.Fatalf("Failed to initialize MQTT client: %v", err)
	}
	defer mqttClient.Close()

	publisher := mqtt.NewPublisher(mqttClient.Native(), mqtt.PublisherConfig{
		ForecastTopic: cfg.MQTTTopicForecast,
		CommandTopic:  cfg.MQTTTopicCommand,
	}, commandChan)

	// === Services ===
	sinks := []services.ResultSink{db, publisher}
	if cfg.ChartDir != "" {
		charts, err := chart.NewSink(cfg.ChartDir)
		if err != nil {
			log.Fatalf("Failed to initialize chart sink: %v", err)
		}
		sinks = append(sinks, charts)
	}

	forecastService := services.NewForecastService(db, holder, cfg.Forecasting(), sinks...)
	sensorService := services.NewSensorService(db, rules, forecastService, commandChan, sensorConfig)

	subscriber := mqtt.NewSubscriber(mqttClient.Native(), mqtt.SubscriberConfig{
		ReadingsTopic: cfg.MQTTTopicReadings,
	}, sensorService.ReadingChan)

	var wg sync.WaitGroup
	start := func(run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	start(publisher.Start)
	start(sensorService.Start)
	start(forecastService.Start)
	start(retrainService.Start)

	// Restore the subscription after every (re)connect
	start(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-connected:
				if err := subscriber.SubscribeAll(); err != nil {
					log.Printf("Error subscribing to readings: %v", err)
				}
			}
		}
	})

	// === Log startup info ===
	log.Println("=== Plant Backend Service is running ===")
	log.Printf("MQTT Topics:")
	log.Printf("  - Readings: %s", cfg.MQTTTopicReadings)
	log.Printf("  - Forecast: %s", cfg.MQTTTopicForecast)
	log.Printf("  - Command:  %s", cfg.MQTTTopicCommand)
	log.Printf("Model store: %s", cfg.ModelStorePath)
	if gen := holder.Current(); gen != nil {
		log.Printf("Serving generation %s (v%d)", gen.ID, gen.Version)
	}
	log.Println("Press Ctrl+C to exit...")

	// === Wait for interrupt signal ===
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// === Graceful shutdown ===
	log.Println("Shutdown signal received, stopping services...")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error stopping metrics server: %v", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Error flushing traces: %v", err)
	}

	log.Println("Shutdown complete. Goodbye!")
}
