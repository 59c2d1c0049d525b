package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jgoulah/energybot/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Prints the configuration assembled from .env, the config file and the
environment, with secrets masked. Exits non-zero if it would not pass
validation.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	fmt.Print(string(out))

	return cfg.Validate()
}
