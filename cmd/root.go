package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/replay/internal/config"
	"github.com/fakeyudi/replay/internal/logger"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// log is the command logger, populated in PersistentPreRunE.
var log = slog.Default()

var logCloser io.Closer

var (
	logLevel  string
	logFormat string
	logFile   string
)

var rootCmd = &cobra.Command{
	Use:           "replay",
	Short:         "Record session replays, collect them and inspect the result",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded

		// Flags win over files and environment.
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}
		if logFile != "" {
			cfg.Log.File = logFile
		}

		l, closer, err := logger.New(cfg.Log, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		log, logCloser = l, closer
		slog.SetDefault(l)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "", "log format: text, json or color")
	pf.StringVar(&logFile, "log-file", "", "write logs to a rotating file instead of stderr")
}
