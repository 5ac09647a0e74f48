package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/heatpump-link/internal/infrastructure/config"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable that overrides the config path.
const configEnv = "HEATPUMP_CONFIG"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "heatpump-link",
	Short: "Heat pump serial protocol to MQTT bridge",
	Long: `heatpump-link - polls a heat pump controller over its serial text protocol
and publishes the decoded values to an MQTT broker.

The configuration file is taken from --config, then $HEATPUMP_CONFIG, then
configs/config.yaml. When none of these exists the built-in defaults are
used, with HEATPUMP_* environment overrides applied.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// getConfigPath returns the configuration file path.
// Priority: --config flag > HEATPUMP_CONFIG env var > default path.
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the configuration at path. A missing file is only
// tolerated for the default path, in which case the built-in defaults apply.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		return config.Default()
	}
	return nil, fmt.Errorf("loading config: %w", err)
}
