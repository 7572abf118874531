package main

import (
	"github.com/spf13/cobra"

	"github.com/naia-systems/naia-stack/internal/config"
	"github.com/naia-systems/naia-stack/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "naia-analysis",
	Short: "Continuous pattern analysis for industrial telemetry",
	Long: `naia-analysis runs the pattern flywheel: it fingerprints telemetry
points, correlates their behavior, detects equipment clusters, matches them
against the pattern library and learns from reviewer feedback.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (optional; NAIA_* env vars override)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	logging.SetDefault(log)
	return cfg, log, nil
}
