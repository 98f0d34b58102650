package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ownerscan/internal/config"
	"github.com/yairfalse/ownerscan/internal/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	logLevel   string
	logFormat  string

	// cfg is loaded once per invocation, before any subcommand runs.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "ownerscan",
		Short: "Report EC2 instances and their owner tags",
		Long: `ownerscan - EC2 ownership inventory

ownerscan scans a set of AWS regions for EC2 instances, classifies each
one by its Name and Owner tags, and writes a report with one row per
instance. Use it to find instances nobody has claimed.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init sets up the root command
func init() {
	rootCmd.SetVersionTemplate(`ownerscan {{.Version}} - EC2 ownership inventory
`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console, json")
}

// setup loads configuration and configures logging.
func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	if logFormat != "" {
		loaded.Log.Format = logFormat
	}
	if err := telemetry.SetupLogging(loaded.Log.Level, loaded.Log.Format); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	cfg = loaded
	return nil
}
