package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"polibrief/internal/config"
	"polibrief/internal/logger"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polibrief",
		Short: "Classify captured content and publish a daily political digest",
		Long: `polibrief captures articles and posts, classifies them with AI providers,
analyzes the political ones for bias and quality, and once a day clusters
them into a ranked digest that is stored and delivered.

Examples:
  # Create or upgrade the database schema
  polibrief migrate up

  # Capture a saved article
  polibrief capture --url https://news.example/a article.html

  # Classify everything pending
  polibrief classify

  # Build yesterday's digest by hand
  polibrief digest generate --date 2026-05-05

  # Run the HTTP API with the pending worker and daily scheduler
  polibrief serve`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.polibrief.yaml or $HOME/.polibrief.yaml)")

	rootCmd.AddCommand(NewMigrateCmd())
	rootCmd.AddCommand(NewCaptureCmd())
	rootCmd.AddCommand(NewClassifyCmd())
	rootCmd.AddCommand(NewDigestCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewScheduleCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads configuration and applies the logging section.
func initConfig() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	level := cfg.Logging.Level
	if cfg.App.Debug {
		level = "debug"
	}
	if err := logger.Configure(level, cfg.Logging.Format, nil); err != nil {
		return err
	}

	if used := config.ConfigFileUsed(); used != "" {
		logger.Get().Debug().Str("file", used).Msg("using config file")
	}
	return nil
}
