package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/energybot/internal/config"
	"github.com/jgoulah/energybot/internal/scraper"
)

var loginTimeout time.Duration

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to SmartHub in a browser and print a reusable token",
	Long: `Opens a browser window on the SmartHub login page for you to sign in manually.
The first request the portal sends with a bearer token is captured and the
token is printed. Set it as SMARTHUB_TOKEN to skip the scripted login.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 10*time.Minute, "How long to wait for the sign-in")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	// Credentials are not needed here, so the config is not validated
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Printf("Opening browser for %s...\n", cfg.SmartHub.LoginURL)
	fmt.Println("Please log in manually in the browser window.")
	fmt.Println("The token is captured as soon as the portal loads your usage.")

	token, err := scraper.CaptureToken(cmd.Context(), cfg.SmartHub.LoginURL, loginTimeout)
	if err != nil {
		return fmt.Errorf("capturing token: %w", err)
	}

	fmt.Printf("✓ Captured auth token\n\n")
	fmt.Printf("SMARTHUB_TOKEN=%q\n", token)
	return nil
}
