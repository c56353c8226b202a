package database

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ponytojas/go-plant-monitor/config"
	"github.com/ponytojas/go-plant-monitor/internal/models"
	"github.com/ponytojas/go-plant-monitor/internal/status"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TimescaleDB archives samples into a hypertable.
type TimescaleDB struct {
	pool       *pgxpool.Pool
	tableName  string
	thresholds status.Thresholds
	logger     zerolog.Logger
}

// NewTimescaleDB creates a new TimescaleDB instance
func NewTimescaleDB(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*TimescaleDB, error) {
	tableName := cfg.Timescale.TableName
	if !tableNamePattern.MatchString(tableName) {
		return nil, fmt.Errorf("invalid table name %q", tableName)
	}
	thresholds, err := cfg.Thresholds()
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("component", "timescale").Logger()
	logger.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("user", cfg.Database.User).
		Str("dbname", cfg.Database.DBName).
		Str("sslmode", cfg.Database.SSLMode).
		Msg("Connecting to database")

	pool, err := pgxpool.New(ctx, cfg.GetDBConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &TimescaleDB{
		pool:       pool,
		tableName:  tableName,
		thresholds: thresholds,
		logger:     logger,
	}, nil
}

// Close closes the connection pool
func (db *TimescaleDB) Close() {
	db.pool.Close()
}

// InitializeTable checks if the table exists and creates it if it doesn't
func (db *TimescaleDB) InitializeTable(ctx context.Context) error {
	var exists bool
	err := db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)
	`, db.tableName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if table exists: %w", err)
	}

	if exists {
		db.logger.Info().Str("table", db.tableName).Msg("Table already exists")
		return nil
	}

	db.logger.Info().Str("table", db.tableName).Msg("Creating table")
	_, err = db.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE %s (
			time TIMESTAMPTZ NOT NULL,
			device_id TEXT NOT NULL,
			moisture DOUBLE PRECISION,
			temperature DOUBLE PRECISION,
			humidity DOUBLE PRECISION,
			status TEXT,
			UNIQUE (device_id, time)
		)
	`, db.tableName))
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.pool.Exec(ctx, fmt.Sprintf(`SELECT create_hypertable('%s', 'time')`, db.tableName))
	if err != nil {
		return fmt.Errorf("failed to convert table to hypertable: %w", err)
	}

	db.logger.Info().Str("table", db.tableName).Msg("Table created and converted to hypertable")
	return nil
}

// InsertSamples writes samples in one batch, skipping ones already stored.
func (db *TimescaleDB) InsertSamples(ctx context.Context, samples []models.SensorData) error {
	if len(samples) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (time, device_id, moisture, temperature, humidity, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (device_id, time) DO NOTHING
	`, db.tableName)

	batch := &pgx.Batch{}
	for _, d := range samples {
		batch.Queue(query, d.Timestamp, d.DeviceID, d.Moisture, d.Temperature, d.Humidity,
			db.thresholds.Classify(d.Moisture).String())
	}
	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert sensor data: %w", err)
	}
	db.logger.Debug().Int("rows", len(samples)).Msg("Archived samples")
	return nil
}

// QuerySince returns the device's samples at or after since, oldest first.
// Rows without a moisture reading are skipped; a missing temperature or
// humidity reads as zero.
func (db *TimescaleDB) QuerySince(ctx context.Context, deviceID string, since time.Time) ([]models.SensorData, error) {
	rows, err := db.pool.Query(ctx, fmt.Sprintf(`
		SELECT time, device_id, moisture, temperature, humidity
		FROM %s
		WHERE device_id = $1 AND time >= $2
		ORDER BY time ASC
	`, db.tableName), deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor data: %w", err)
	}
	scanned, err := pgx.CollectRows(rows, scanRow)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sensor data: %w", err)
	}
	out := make([]models.SensorData, 0, len(scanned))
	for _, r := range scanned {
		if r.moisture == nil {
			continue
		}
		out = append(out, r.sample())
	}
	if skipped := len(scanned) - len(out); skipped > 0 {
		db.logger.Warn().Int("rows", skipped).Msg("Skipped archived rows without moisture")
	}
	return out, nil
}

type sampleRow struct {
	time        time.Time
	deviceID    string
	moisture    *float64
	temperature *float64
	humidity    *float64
}

func scanRow(row pgx.CollectableRow) (sampleRow, error) {
	var r sampleRow
	err := row.Scan(&r.time, &r.deviceID, &r.moisture, &r.temperature, &r.humidity)
	return r, err
}

func (r sampleRow) sample() models.SensorData {
	d := models.SensorData{Timestamp: r.time.UTC(), DeviceID: r.deviceID}
	if r.moisture != nil {
		d.Moisture = *r.moisture
	}
	if r.temperature != nil {
		d.Temperature = *r.temperature
	}
	if r.humidity != nil {
		d.Humidity = *r.humidity
	}
	return d
}
