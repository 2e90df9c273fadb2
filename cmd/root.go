package cmd

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/taskstatus/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskstatus",
	Short: "Task status and feedback service",
	Long: `Consumes item lifecycle events, keeps a status record per item and
publishes completion and priority feedback to users.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml or app.env")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration and applies its logging settings
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, err
	}

	configureLogging(cfg)
	return cfg, nil
}

func configureLogging(cfg config.Config) {
	// LOG_LEVEL, handled in main, wins over the config file
	if os.Getenv("LOG_LEVEL") == "" && cfg.Logging.Level != "" {
		if level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level)); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	log.Logger = newLogger(cfg.Logging, os.Stderr)
}

// newLogger writes JSON unless logging.format is console
func newLogger(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}
