// Package cmd implements the edgeagent command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/linanwx/edgeagent/config"
	"github.com/linanwx/edgeagent/logger"
)

var configDirFlag string

var rootCmd = &cobra.Command{
	Use:   "edgeagent",
	Short: "Agent orchestration core for an edge smart-home hub",
	Long: `edgeagent runs LLM agent turns against a local device and rule tool set.

Each turn is driven by a state machine, trims its context to a token budget,
plans tool calls into dependency-ordered batches and caches read results.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if configDirFlag != "" {
			config.SetConfigDir(configDirFlag)
		}
		cfg, err := config.Load()
		if err != nil {
			// Fall back to defaults so commands that do not need the
			// config still log somewhere sensible.
			cfg = config.DefaultConfig()
		}
		workspace, _ := cfg.WorkspacePath()
		if err := logger.Init(cfg.BuildLoggerConfig(), workspace); err != nil {
			fmt.Fprintln(os.Stderr, "logger init error:", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDirFlag, "config-dir", "", "Config directory (default ~/.edgeagent)")
	rootCmd.AddGroup(&cobra.Group{ID: "maintenance", Title: "Maintenance Commands:"})
}

// Execute runs the root command.
func Execute() {
	defer logger.Close()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w\nRun 'edgeagent onboard' to initialize", err)
	}
	return cfg, nil
}
