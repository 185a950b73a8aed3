// Package cmd wires the harvester's command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fuzztriage/issue-harvester/internal/config"
	"github.com/fuzztriage/issue-harvester/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "issue-harvester",
	Short: "Scrapes OSS-Fuzz issue reports into CSV batches",
	Long: `issue-harvester drives headless browser sessions against the OSS-Fuzz
issue trackers, extracts structured report fields and revision ranges, and
persists the results as CSV batches with JSON-encoded cells.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
}

// loadEnvironment loads configuration and builds the process logger.
func loadEnvironment() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}
