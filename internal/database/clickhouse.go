package database

import (
	"context"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"plant-backend/internal/models"
)

// ClickHouseDB is the telemetry repository: plant readings, forecast
// results, actuator commands and the device registry
type ClickHouseDB struct {
	conn driver.Conn
}

// Options holds ClickHouse connection settings
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// NewClickHouseDB creates a new ClickHouse database connection and initializes the schema
func NewClickHouseDB(ctx context.Context, opts Options) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Printf("Connected to ClickHouse at %s", opts.Addr)

	db := &ClickHouseDB{conn: conn}
	if err := db.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Println("Database schema initialized successfully")
	return nil
}

// SaveReading saves a plant reading
func (db *ClickHouseDB) SaveReading(ctx context.Context, r *models.TelemetryReading) error {
	query := `
		INSERT INTO plant_readings (timestamp, device_id, temperature, humidity, light_level, soil_moisture, emotion)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		r.Timestamp,
		r.DeviceID,
		r.Temperature,
		r.Humidity,
		r.LightLevel,
		r.SoilMoisture,
		r.Emotion,
	)
	if err != nil {
		return fmt.Errorf("failed to insert plant reading: %w", err)
	}
	return nil
}

const readingColumns = `timestamp, device_id, temperature, humidity, light_level, soil_moisture, emotion`

// ListReadings returns the readings of one device, or of every device when
// deviceID is empty, ordered by timestamp
func (db *ClickHouseDB) ListReadings(ctx context.Context, deviceID string) ([]models.TelemetryReading, error) {
	query := `SELECT ` + readingColumns + ` FROM plant_readings`
	var args []any
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY timestamp, device_id`

	return db.queryReadings(ctx, query, args...)
}

// ListRecentReadings returns the latest limit readings of a device, oldest first
func (db *ClickHouseDB) ListRecentReadings(ctx context.Context, deviceID string, limit int) ([]models.TelemetryReading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM plant_readings
		WHERE device_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	readings, err := db.queryReadings(ctx, query, deviceID, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(readings)
	return readings, nil
}

func (db *ClickHouseDB) queryReadings(ctx context.Context, query string, args ...any) ([]models.TelemetryReading, error) {
	rows, err := db.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plant readings: %w", err)
	}
	defer rows.Close()

	var readings []models.TelemetryReading
	for rows.Next() {
		var r models.TelemetryReading
		if err := rows.Scan(
			&r.Timestamp,
			&r.DeviceID,
			&r.Temperature,
			&r.Humidity,
			&r.LightLevel,
			&r.SoilMoisture,
			&r.Emotion,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plant reading: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plant readings: %w", err)
	}
	return readings, nil
}

// WriteForecasts stores forecast results in one batch
func (db *ClickHouseDB) WriteForecasts(ctx context.Context, results []models.ForecastResult) error {
	if len(results) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO forecast_results`)
	if err != nil {
		return fmt.Errorf("failed to prepare forecast batch: %w", err)
	}
	for _, r := range results {
		p := r.Predicted
		if err := batch.Append(
			r.GeneratedAt,
			r.DeviceID,
			r.GenerationID,
			uint8(r.HorizonStep),
			r.HoursAhead,
			r.TargetTime,
			p[models.Temperature],
			p[models.Humidity],
			p[models.LightLevel],
			p[models.SoilMoisture],
			r.PredictedLabel,
			r.Confidence,
			r.Probabilities,
		); err != nil {
			return fmt.Errorf("failed to append forecast for %s: %w", r.DeviceID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert forecast results: %w", err)
	}
	return nil
}

// LatestForecasts returns the most recent forecast run of a device, ordered by horizon step
func (db *ClickHouseDB) LatestForecasts(ctx context.Context, deviceID string) ([]models.ForecastResult, error) {
	query := `
		SELECT generated_at, device_id, generation_id, horizon_step, hours_ahead, target_time,
			temperature, humidity, light_level, soil_moisture, predicted_label, confidence, probabilities
		FROM forecast_results
		WHERE device_id = ? AND generated_at = (
			SELECT max(generated_at) FROM forecast_results WHERE device_id = ?
		)
		ORDER BY horizon_step
	`

	rows, err := db.conn.Query(ctx, query, deviceID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecasts: %w", err)
	}
	defer rows.Close()

	var results []models.ForecastResult
	for rows.Next() {
		var (
			r    models.ForecastResult
			step uint8
		)
		if err := rows.Scan(
			&r.GeneratedAt,
			&r.DeviceID,
			&r.GenerationID,
			&step,
			&r.HoursAhead,
			&r.TargetTime,
			&r.Predicted[models.Temperature],
			&r.Predicted[models.Humidity],
			&r.Predicted[models.LightLevel],
			&r.Predicted[models.SoilMoisture],
			&r.PredictedLabel,
			&r.Confidence,
			&r.Probabilities,
		); err != nil {
			return nil, fmt.Errorf("failed to scan forecast: %w", err)
		}
		r.HorizonStep = int(step)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read forecasts: %w", err)
	}
	return results, nil
}

// SaveCommand logs an actuator command sent to a device
func (db *ClickHouseDB) SaveCommand(ctx context.Context, cmd *models.PlantCommand) error {
	query := `
		INSERT INTO plant_commands (timestamp, device_id, emotion, command)
		VALUES (?, ?, ?, ?)
	`

	if err := db.conn.Exec(ctx, query, cmd.Timestamp, cmd.DeviceID, cmd.Emotion, cmd.Command); err != nil {
		return fmt.Errorf("failed to insert plant command: %w", err)
	}
	return nil
}

// UpsertDevice inserts or refreshes a device in the registry
func (db *ClickHouseDB) UpsertDevice(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO device_registry (device_id, name, location, registered_at, last_seen, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		device.DeviceID,
		device.Name,
		device.Location,
		device.RegisteredAt,
		device.LastSeen,
		device.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

// ListDevices returns the ids of all active registered devices
func (db *ClickHouseDB) ListDevices(ctx context.Context) ([]string, error) {
	rows, err := db.conn.Query(ctx, `SELECT device_id FROM device_registry FINAL WHERE is_active ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		log.Println("ClickHouse connection closed")
	}
	return nil
}
