package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/energybot/internal/config"
	"github.com/jgoulah/energybot/internal/scraper"
)

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Fetch and print the current energy charge without storing it",
	Args:  cobra.NoArgs,
	RunE:  runRate,
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Log in to SmartHub and print the latest daily usage without storing it",
	Args:  cobra.NoArgs,
	RunE:  runUsage,
}

func init() {
	rootCmd.AddCommand(rateCmd)
	rootCmd.AddCommand(usageCmd)
}

func runRate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client := scraper.NewRateClient(cfg.Rates.URL, cfg.HTTP.Timeout, newLogger(cfg))
	rate, err := client.FetchRate(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Base rate:        $%s/kWh\n", rate.Base.String())
	fmt.Printf("Fuel adjustment:  $%s/kWh\n", rate.FuelAdjustment.String())
	fmt.Printf("Energy charge:    $%s/kWh\n", rate.EnergyCharge.String())
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client := scraper.NewSmartHubClient(smartHubConfig(cfg), newLogger(cfg))

	session, err := client.Authenticate(cmd.Context())
	if err != nil {
		return err
	}

	point, err := client.FetchDailyUsage(cmd.Context(), session)
	if err != nil {
		return err
	}

	fmt.Printf("Date:   %s (%s)\n", point.DateLabel(), point.Time().Format(time.RFC3339))
	fmt.Printf("Usage:  %.2f kWh\n", point.KWh)
	fmt.Printf("Auth:   %s\n", session.Method)
	return nil
}
