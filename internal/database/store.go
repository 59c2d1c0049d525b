package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jgoulah/energybot/internal/config"
	"github.com/jgoulah/energybot/pkg/maybe"
	"github.com/jgoulah/energybot/pkg/models"
)

const (
	MeasurementRate  = "electricity_rate"
	MeasurementUsage = "electricity_usage"

	FieldPricePerKWh = "price_per_kwh"
	FieldKWh         = "kwh"

	TagProvider = "provider"
)

// Store persists rates and usage and answers the rolling average query
type Store interface {
	WriteRate(ctx context.Context, perKWh float64, at time.Time) error
	WriteUsage(ctx context.Context, point models.UsagePoint) error
	AverageUsage(ctx context.Context, days int) maybe.Maybe[float64]
	Close() error
}

// WriteError is returned when a point could not be stored
type WriteError struct {
	Measurement string
	Err         error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Measurement, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Open connects the backend selected in the configuration
func Open(cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		return NewSQLite(cfg.SQLite.Path, cfg.Provider.Name, logger)
	case config.BackendInfluxDB:
		return NewInflux(InfluxOptions{
			URL:     cfg.InfluxDB.URL,
			Token:   cfg.InfluxDB.Token,
			Org:     cfg.InfluxDB.Org,
			Bucket:  cfg.InfluxDB.Bucket,
			Timeout: cfg.HTTP.Timeout,
		}, cfg.Provider.Name, logger), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
