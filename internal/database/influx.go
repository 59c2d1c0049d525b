package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/jgoulah/energybot/pkg/maybe"
	"github.com/jgoulah/energybot/pkg/models"
)

// InfluxOptions locates an InfluxDB v2 bucket
type InfluxOptions struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// InfluxStore writes points to InfluxDB v2 and reads the rolling average
// back with a Flux mean query.
type InfluxStore struct {
	client   influxdb2.Client
	writer   api.WriteAPIBlocking
	querier  api.QueryAPI
	bucket   string
	provider string
	logger   *slog.Logger
}

// NewInflux creates the client. No request is made until the first write.
func NewInflux(opts InfluxOptions, provider string, logger *slog.Logger) *InfluxStore {
	options := influxdb2.DefaultOptions()
	if opts.Timeout > 0 {
		options.SetHTTPRequestTimeout(uint(opts.Timeout.Seconds()))
	}

	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token, options)

	return &InfluxStore{
		client:   client,
		writer:   client.WriteAPIBlocking(opts.Org, opts.Bucket),
		querier:  client.QueryAPI(opts.Org),
		bucket:   opts.Bucket,
		provider: provider,
		logger:   logger.With(slog.String("module", "database"), slog.String("backend", "influxdb")),
	}
}

// Close releases the client's idle connections
func (s *InfluxStore) Close() error {
	s.client.Close()
	return nil
}

// WriteRate writes a price_per_kwh point
func (s *InfluxStore) WriteRate(ctx context.Context, perKWh float64, at time.Time) error {
	p := influxdb2.NewPoint(MeasurementRate,
		map[string]string{TagProvider: s.provider},
		map[string]interface{}{FieldPricePerKWh: perKWh},
		at)

	if err := s.writer.WritePoint(ctx, p); err != nil {
		return &WriteError{Measurement: MeasurementRate, Err: err}
	}

	s.logger.Info("wrote rate", slog.Float64(FieldPricePerKWh, perKWh))
	return nil
}

// WriteUsage writes a kwh point at the usage timestamp
func (s *InfluxStore) WriteUsage(ctx context.Context, point models.UsagePoint) error {
	p := influxdb2.NewPoint(MeasurementUsage,
		map[string]string{TagProvider: s.provider},
		map[string]interface{}{FieldKWh: point.KWh},
		point.Time())

	if err := s.writer.WritePoint(ctx, p); err != nil {
		return &WriteError{Measurement: MeasurementUsage, Err: err}
	}

	s.logger.Info("wrote usage",
		slog.Float64(FieldKWh, point.KWh),
		slog.String("date", point.DateLabel()))
	return nil
}

// AverageUsage returns the mean of kwh over the last days. Query errors and
// empty results are unavailable.
func (s *InfluxStore) AverageUsage(ctx context.Context, days int) maybe.Maybe[float64] {
	result, err := s.querier.Query(ctx, s.averageQuery(days))
	if err != nil {
		s.logger.Error("error querying average usage", slog.Any("error", err))
		return maybe.None[float64]()
	}
	defer result.Close()

	for result.Next() {
		if v, ok := result.Record().Value().(float64); ok {
			return maybe.Some(v)
		}
	}
	if err := result.Err(); err != nil {
		s.logger.Error("error reading average usage", slog.Any("error", err))
	}

	return maybe.None[float64]()
}

func (s *InfluxStore) averageQuery(days int) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: -%dd)
  |> filter(fn: (r) => r._measurement == %s)
  |> filter(fn: (r) => r._field == %s)
  |> filter(fn: (r) => r.%s == %s)
  |> mean()`,
		fluxString(s.bucket), days,
		fluxString(MeasurementUsage), fluxString(FieldKWh),
		TagProvider, fluxString(s.provider))
}

// fluxString quotes s as a Flux string literal
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "${", `\${`)
	return `"` + r.Replace(s) + `"`
}
