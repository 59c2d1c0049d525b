package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jgoulah/energybot/internal/config"
	"github.com/jgoulah/energybot/internal/database"
	"github.com/jgoulah/energybot/internal/logging"
	"github.com/jgoulah/energybot/internal/notifier"
	"github.com/jgoulah/energybot/internal/publisher"
	"github.com/jgoulah/energybot/internal/runner"
	"github.com/jgoulah/energybot/internal/scraper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "energybot",
	Short: "Record electricity rate and usage and report them to Discord",
	Long: `energybot scrapes the provider's published energy charge, pulls the latest
daily usage from the SmartHub portal, stores both in a time-series database
and posts a daily report to Discord, with an alert when usage is well above
the recent average.

Run it once a day from cron or a systemd timer.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	RunE:          runJob,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml if present)")
}

// loadConfig loads and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
}

func smartHubConfig(cfg *config.Config) scraper.SmartHubConfig {
	return scraper.SmartHubConfig{
		BaseURL:          cfg.SmartHub.BaseURL,
		LoginURL:         cfg.SmartHub.LoginURL,
		PollURL:          cfg.SmartHub.APIURL,
		Email:            cfg.SmartHub.Email,
		Password:         cfg.SmartHub.Password,
		Token:            cfg.SmartHub.Token,
		ServiceLocation:  cfg.SmartHub.ServiceLocation,
		AccountNumber:    cfg.SmartHub.AccountNumber,
		PollAttempts:     cfg.SmartHub.PollAttempts,
		PollInterval:     cfg.SmartHub.PollInterval,
		StrictPollStatus: cfg.SmartHub.StrictPollStatus,
		Timeout:          cfg.HTTP.Timeout,
	}
}

func publisherOptions(cfg *config.Config) publisher.Options {
	return publisher.Options{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		Provider:    cfg.Provider.Name,
	}
}

func runJob(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg).With(slog.String("run_id", uuid.NewString()))
	slog.SetDefault(logger)

	start := time.Now()
	logger.Info("starting energybot",
		slog.String("provider", cfg.Provider.Name),
		slog.String("store", cfg.Store.Backend))

	store, err := database.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("error closing store", slog.Any("error", err))
		}
	}()

	discord := notifier.NewDiscord(cfg.Discord.WebhookURL, cfg.Provider.Name, cfg.HTTP.Timeout, logger)
	deps := runner.Deps{
		Rates:    scraper.NewRateClient(cfg.Rates.URL, cfg.HTTP.Timeout, logger),
		Usage:    scraper.NewSmartHubClient(smartHubConfig(cfg), logger),
		Store:    store,
		Notifier: discord,
	}

	if cfg.MQTT.Enabled() {
		pub, err := publisher.New(publisherOptions(cfg), logger)
		if err != nil {
			logger.Error("MQTT unavailable, readings will not be published", slog.Any("error", err))
		} else {
			defer pub.Close()
			deps.Publisher = pub
		}
	}

	rep := runner.New(deps, runner.Options{
		Threshold:  cfg.Alert.Threshold,
		WindowDays: cfg.Alert.WindowDays,
	}, logger).Run(cmd.Context())

	logger.Info("bot execution finished",
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
		slog.Bool("rate_ok", rep.RateErr == nil),
		slog.Bool("usage_ok", rep.UsageErr == nil),
		slog.Bool("alerted", rep.Alerted))

	if summary, failed := failureSummary(rep); failed {
		discord.SendMessage(cmd.Context(), "⚠️ Electricity Report Incomplete", summary)
	}
	return nil
}

// failureSummary describes the stages that failed, one line each
func failureSummary(rep runner.Report) (string, bool) {
	var lines []string
	if rep.RateErr != nil {
		lines = append(lines, fmt.Sprintf("**Rate:** %v", rep.RateErr))
	}
	if rep.UsageErr != nil {
		lines = append(lines, fmt.Sprintf("**Usage:** %v", rep.UsageErr))
	}
	return strings.Join(lines, "\n"), len(lines) > 0
}
