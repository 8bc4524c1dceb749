package database

// SQL schemas for all ClickHouse tables

const (
	// PlantReadingsTableSQL creates the plant_readings table
	PlantReadingsTableSQL = `
		CREATE TABLE IF NOT EXISTS plant_readings (
			timestamp DateTime64(3),
			device_id String,
			temperature Float64,
			humidity Float64,
			light_level Float64,
			soil_moisture Float64,
			emotion LowCardinality(String)
		) ENGINE = MergeTree()
		ORDER BY (device_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// ForecastResultsTableSQL creates the forecast_results table, one row per horizon step
	ForecastResultsTableSQL = `
		CREATE TABLE IF NOT EXISTS forecast_results (
			generated_at DateTime64(3),
			device_id String,
			generation_id String,
			horizon_step UInt8,
			hours_ahead Float64,
			target_time DateTime64(3),
			temperature Float64,
			humidity Float64,
			light_level Float64,
			soil_moisture Float64,
			predicted_label LowCardinality(String),
			confidence Float64,
			probabilities Map(String, Float64)
		) ENGINE = MergeTree()
		ORDER BY (device_id, generated_at, horizon_step)
		PARTITION BY toYYYYMM(generated_at)
	`

	// PlantCommandsTableSQL creates the plant_commands table
	PlantCommandsTableSQL = `
		CREATE TABLE IF NOT EXISTS plant_commands (
			timestamp DateTime64(3),
			device_id String,
			emotion LowCardinality(String),
			command String
		) ENGINE = MergeTree()
		ORDER BY (device_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// DeviceRegistryTableSQL creates the device_registry table
	DeviceRegistryTableSQL = `
		CREATE TABLE IF NOT EXISTS device_registry (
			device_id String,
			name String,
			location String,
			registered_at DateTime64(3),
			last_seen DateTime64(3),
			is_active Bool
		) ENGINE = ReplacingMergeTree(last_seen)
		ORDER BY device_id
	`
)

// AllTables returns all table creation SQL statements in order
func AllTables() []string {
	return []string{
		PlantReadingsTableSQL,
		ForecastResultsTableSQL,
		PlantCommandsTableSQL,
		DeviceRegistryTableSQL,
	}
}
