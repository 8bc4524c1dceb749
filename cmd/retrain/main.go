package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"plant-backend/internal/database"
	"plant-backend/internal/emotion"
	"plant-backend/internal/ml"
	"plant-backend/internal/modelstore"
	"plant-backend/internal/models"
	"plant-backend/pkg/config"
)

func main() {
	evaluate := flag.Bool("evaluate", false, "evaluate the latest generation against stored telemetry instead of retraining")
	list := flag.Bool("list", false, "list stored generations")
	prune := flag.Int("prune", 0, "keep only the newest N generations")
	device := flag.String("device", "", "restrict the corpus to one device")
	show := flag.String("show", "", "print the latest stored forecast run of a device")
	flag.Parse()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := modelstore.Open(cfg.ModelStorePath)
	if err != nil {
		log.Fatalf("Failed to open model store: %v", err)
	}
	defer store.Close()

	switch {
	case *show != "":
		err = showForecasts(ctx, cfg, *show)
	case *list:
		err = listGenerations(ctx, store)
	case *prune > 0:
		var removed int
		removed, err = store.Prune(ctx, *prune)
		if err == nil {
			log.Printf("Pruned %d generations, kept newest %d", removed, *prune)
		}
	default:
		err = runWithTelemetry(ctx, cfg, store, *device, *evaluate)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func openClickHouse(ctx context.Context, cfg *config.Config) (*database.ClickHouseDB, error) {
	db, err := database.NewClickHouseDB(ctx, database.Options{
		Addr:     cfg.ClickHouseAddr,
		Database: cfg.ClickHouseDB,
		Username: cfg.ClickHouseUser,
		Password: cfg.ClickHousePass,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ClickHouse: %w", err)
	}
	return db, nil
}

func runWithTelemetry(ctx context.Context, cfg *config.Config, store *modelstore.SQLiteStore, deviceID string, evaluate bool) error {
	db, err := openClickHouse(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	corpus, err := db.ListReadings(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("failed to load telemetry: %w", err)
	}
	log.Printf("Loaded %d readings", len(corpus))

	var gen *ml.Generation
	if evaluate {
		gen, err = store.LoadLatestGeneration(ctx)
		if errors.Is(err, ml.ErrNoGeneration) {
			return errors.New("no generation to evaluate; run without -evaluate first")
		}
		if err != nil {
			return err
		}
	} else {
		rules, err := emotion.LoadRules(cfg.EmotionRulesPath)
		if err != nil {
			return fmt.Errorf("failed to load emotion rules: %w", err)
		}
		o := ml.NewOrchestrator(cfg.Retraining(), store, ml.NewGenerationHolder(), rules)
		if gen, err = o.Retrain(ctx, corpus); err != nil {
			return err
		}
	}

	report, err := ml.Evaluate(gen, corpus)
	if err != nil {
		return err
	}
	fmt.Printf("generation %s (v%d)\n%s\n", gen.ID, gen.Version, report)
	return nil
}

func listGenerations(ctx context.Context, store *modelstore.SQLiteStore) error {
	gens, err := store.ListGenerations(ctx)
	if err != nil {
		return err
	}
	owner, err := store.LeaseHolder(ctx)
	if err != nil {
		return err
	}
	if owner != "" {
		fmt.Printf("retrain in progress (lease held by %s)\n", owner)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tID\tCREATED\tRECORDS\tSEQ_LEN\tLOSS\tTEST_ACC")
	for _, g := range gens {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%.5f\t%.3f\n",
			g.Version, g.ID, g.CreatedAt.Format(time.RFC3339), g.RecordCount, g.SequenceLength, g.ForecastLoss, g.TestScore)
	}
	return w.Flush()
}

func showForecasts(ctx context.Context, cfg *config.Config, deviceID string) error {
	db, err := openClickHouse(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	results, err := db.LatestForecasts(ctx, deviceID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("no forecasts stored for %s", deviceID)
	}
	return printForecasts(os.Stdout, results)
}

func printForecasts(out io.Writer, results []models.ForecastResult) error {
	first := results[0]
	fmt.Fprintf(out, "device %s, generation %s, generated %s\n",
		first.DeviceID, first.GenerationID, first.GeneratedAt.Format(time.RFC3339))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tTARGET\tTEMP\tHUMIDITY\tLIGHT\tSOIL\tLABEL\tCONFIDENCE")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%.1f\t%.1f\t%.0f\t%.1f\t%s\t%.2f\n",
			r.HorizonStep, r.TargetTime.Format(time.RFC3339),
			r.Predicted[models.Temperature], r.Predicted[models.Humidity],
			r.Predicted[models.LightLevel], r.Predicted[models.SoilMoisture],
			r.PredictedLabel, r.Confidence)
	}
	return w.Flush()
}
