package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/symregweb/internal/config"
)

var (
	logLevel   string
	configPath string
	logger     *slog.Logger

	// cfg holds the loaded settings; commands apply their flags on top
	cfg = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "symregweb",
	Short: "Interactive symbolic regression search",
	Long: `symregweb runs symbolic regression searches over CSV data and streams
the Pareto frontier of discovered equations to a browser or the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded

		if !cmd.Flags().Changed("log-level") {
			logLevel = cfg.LogLevel
		}

		// Setup logger
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stdout, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a TOML config file")
}
