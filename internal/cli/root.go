package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hallpass/internal/config"
	"github.com/ppiankov/hallpass/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hallpass",
	Short: "Behavioral gate for distracting websites",
	Long: "Sends navigations to blocked sites through an intervention page.\n" +
		"Getting through takes a typed commitment phrase or a countdown,\n" +
		"and earns a time-limited hall pass for every blocked site.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config YAML (default ~/.hallpass/config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config named by --config and installs the default
// logger it describes.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.SetDefault(logging.Options{
		Level:  cfg.Log.Level,
		Format: logFormat(cfg.Log.Format),
	})
	return cfg, logger, nil
}

// logFormat maps "auto" to the empty string so the logger picks by tty.
func logFormat(f string) string {
	if f == "auto" {
		return ""
	}
	return f
}
