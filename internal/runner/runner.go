package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/jgoulah/energybot/internal/notifier"
	"github.com/jgoulah/energybot/internal/publisher"
	"github.com/jgoulah/energybot/internal/scraper"
	"github.com/jgoulah/energybot/pkg/maybe"
	"github.com/jgoulah/energybot/pkg/models"
)

// RateSource provides the current energy charge
type RateSource interface {
	FetchRate(ctx context.Context) (models.Rate, error)
}

// UsageSource provides the latest daily usage point
type UsageSource interface {
	Authenticate(ctx context.Context) (*scraper.Session, error)
	FetchDailyUsage(ctx context.Context, session *scraper.Session) (models.UsagePoint, error)
}

// Store persists both series and computes the rolling average
type Store interface {
	WriteRate(ctx context.Context, perKWh float64, at time.Time) error
	WriteUsage(ctx context.Context, point models.UsagePoint) error
	AverageUsage(ctx context.Context, days int) maybe.Maybe[float64]
}

// Notifier delivers reports. Delivery failures are handled by the notifier.
type Notifier interface {
	SendDailyReport(ctx context.Context, r notifier.DailyReport)
	SendHighUsageAlert(ctx context.Context, a notifier.HighUsageAlert)
}

// Publisher receives the run's reading after the daily report
type Publisher interface {
	Publish(r publisher.Reading) error
}

// Deps are the collaborators of a run. Publisher may be nil.
type Deps struct {
	Rates     RateSource
	Usage     UsageSource
	Store     Store
	Notifier  Notifier
	Publisher Publisher
}

// Options tune the anomaly check
type Options struct {
	Threshold  float64 // alert when usage > Threshold x average
	WindowDays int
}

// Report summarizes a run. A stage that failed has its error set and its
// values left at zero.
type Report struct {
	Rate    decimal.Decimal // zero when unknown
	RateErr error

	Usage    models.UsagePoint
	Average  maybe.Maybe[float64]
	Cost     decimal.Decimal
	Alerted  bool
	UsageErr error
}

// Runner executes the rate and usage stages once
type Runner struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a runner
func New(deps Deps, opts Options, logger *slog.Logger) *Runner {
	if opts.Threshold <= 0 {
		opts.Threshold = 1.5
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = 7
	}
	return &Runner{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes both stages. A failing rate stage leaves the rate at zero and
// the usage stage still runs; a failing usage stage skips everything after
// the failed step.
func (r *Runner) Run(ctx context.Context) Report {
	var rep Report

	rate, err := r.rateStage(ctx)
	if err != nil {
		r.logger.Error("failed to process rate", slog.Any("error", err))
		rep.RateErr = err
		rate = decimal.Zero
	}
	rep.Rate = rate

	if err := r.usageStage(ctx, &rep); err != nil {
		r.logger.Error("failed to process usage", slog.Any("error", err))
		rep.UsageErr = err
	}

	return rep
}

func (r *Runner) rateStage(ctx context.Context) (decimal.Decimal, error) {
	rate, err := r.deps.Rates.FetchRate(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetching rate: %w", err)
	}

	perKWh := rate.PerKWh()
	if err := r.deps.Store.WriteRate(ctx, perKWh.InexactFloat64(), r.now()); err != nil {
		return decimal.Zero, fmt.Errorf("storing rate: %w", err)
	}

	return perKWh, nil
}

func (r *Runner) usageStage(ctx context.Context, rep *Report) error {
	session, err := r.deps.Usage.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	r.logger.Debug("session established", slog.String("method", string(session.Method)))

	point, err := r.deps.Usage.FetchDailyUsage(ctx, session)
	if err != nil {
		return fmt.Errorf("fetching usage: %w", err)
	}
	rep.Usage = point
	r.logger.Info("latest usage",
		slog.Float64("kwh", point.KWh),
		slog.String("date", point.DateLabel()),
		slog.String("age", humanize.RelTime(point.Time(), r.now(), "ago", "from now")))

	if err := r.deps.Store.WriteUsage(ctx, point); err != nil {
		return fmt.Errorf("storing usage: %w", err)
	}

	rep.Average = r.deps.Store.AverageUsage(ctx, r.opts.WindowDays)
	avg := rep.Average.ValueOrDefault(0)
	if !rep.Average.IsValid() {
		r.logger.Warn("average usage unavailable", slog.Int("window_days", r.opts.WindowDays))
	}

	date := point.DateLabel()
	rep.Cost = EstimateCost(point.KWh, rep.Rate)

	r.deps.Notifier.SendDailyReport(ctx, notifier.DailyReport{
		Date:     date,
		Rate:     rep.Rate,
		UsageKWh: point.KWh,
		Cost:     rep.Cost,
	})

	if r.deps.Publisher != nil {
		err := r.deps.Publisher.Publish(publisher.Reading{
			Date:       date,
			UsageKWh:   point.KWh,
			RatePerKWh: rep.Rate,
			Cost:       rep.Cost,
			Timestamp:  r.now(),
		})
		if err != nil {
			r.logger.Error("failed to publish reading", slog.Any("error", err))
		}
	}

	if IsHighUsage(point.KWh, avg, r.opts.Threshold) {
		r.logger.Info("usage is significantly higher than average, sending alert",
			slog.Float64("kwh", point.KWh),
			slog.Float64("average", avg))
		r.deps.Notifier.SendHighUsageAlert(ctx, notifier.HighUsageAlert{
			Date:       date,
			UsageKWh:   point.KWh,
			AverageKWh: avg,
		})
		rep.Alerted = true
	}

	return nil
}

// EstimateCost returns usage x rate, or zero when the rate is unknown
func EstimateCost(kwh float64, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromFloat(kwh).Mul(rate)
}

// IsHighUsage reports whether usage exceeds threshold x average. An average
// of zero never alerts.
func IsHighUsage(kwh, average, threshold float64) bool {
	return average > 0 && kwh > threshold*average
}
