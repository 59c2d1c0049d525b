package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jgoulah/energybot/pkg/maybe"
	"github.com/jgoulah/energybot/pkg/models"
	_ "modernc.org/sqlite"
)

// timeLayout sorts lexicographically in chronological order for UTC times
const timeLayout = "2006-01-02T15:04:05Z"

// SQLiteStore keeps the series in a local SQLite file
type SQLiteStore struct {
	conn     *sql.DB
	provider string
	logger   *slog.Logger
	now      func() time.Time
}

// NewSQLite opens the database file and initializes the schema
func NewSQLite(dbPath, provider string, logger *slog.Logger) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &SQLiteStore{
		conn:     conn,
		provider: provider,
		logger:   logger.With(slog.String("module", "database"), slog.String("backend", "sqlite")),
		now:      time.Now,
	}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	db.logger.Debug("database ready", slog.String("path", dbPath))
	return db, nil
}

// Close closes the database connection
func (db *SQLiteStore) Close() error {
	return db.conn.Close()
}

func (db *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS electricity_rate (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time TEXT NOT NULL,
		price_per_kwh REAL NOT NULL,
		provider TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rate_time ON electricity_rate(time);

	CREATE TABLE IF NOT EXISTS electricity_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time TEXT NOT NULL,
		kwh REAL NOT NULL,
		provider TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(time, provider)
	);
	CREATE INDEX IF NOT EXISTS idx_usage_time ON electricity_usage(time);
	CREATE INDEX IF NOT EXISTS idx_usage_provider ON electricity_usage(provider);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// WriteRate appends a rate observation
func (db *SQLiteStore) WriteRate(ctx context.Context, perKWh float64, at time.Time) error {
	query := `
	INSERT INTO electricity_rate (time, price_per_kwh, provider, created_at)
	VALUES (?, ?, ?, ?)
	`

	_, err := db.conn.ExecContext(ctx, query, formatTime(at), perKWh, db.provider, formatTime(db.now()))
	if err != nil {
		return &WriteError{Measurement: MeasurementRate, Err: err}
	}

	db.logger.Info("wrote rate", slog.Float64(FieldPricePerKWh, perKWh))
	return nil
}

// WriteUsage stores a daily usage point. A second write for the same
// timestamp replaces the value, like a time-series point with equal tags.
func (db *SQLiteStore) WriteUsage(ctx context.Context, point models.UsagePoint) error {
	query := `
	INSERT INTO electricity_usage (time, kwh, provider, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(time, provider) DO UPDATE SET kwh = excluded.kwh, created_at = excluded.created_at
	`

	_, err := db.conn.ExecContext(ctx, query, formatTime(point.Time()), point.KWh, db.provider, formatTime(db.now()))
	if err != nil {
		return &WriteError{Measurement: MeasurementUsage, Err: err}
	}

	db.logger.Info("wrote usage",
		slog.Float64(FieldKWh, point.KWh),
		slog.String("date", point.DateLabel()))
	return nil
}

// AverageUsage returns the mean daily usage over the last days. Errors are
// logged and reported as unavailable.
func (db *SQLiteStore) AverageUsage(ctx context.Context, days int) maybe.Maybe[float64] {
	query := `
	SELECT AVG(kwh)
	FROM electricity_usage
	WHERE provider = ? AND time >= ?
	`

	since := db.now().Add(-time.Duration(days) * 24 * time.Hour)

	var avg sql.NullFloat64
	if err := db.conn.QueryRowContext(ctx, query, db.provider, formatTime(since)).Scan(&avg); err != nil {
		db.logger.Error("error querying average usage", slog.Any("error", err))
		return maybe.None[float64]()
	}

	return maybe.SqlNull(avg.Float64, avg.Valid)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
