// Command captain runs the tool-integration service and its maintenance
// commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/surya-s-1/captain-tool-integrations/internal/config"
	"github.com/surya-s-1/captain-tool-integrations/internal/logging"
	"github.com/surya-s-1/captain-tool-integrations/internal/telemetry"
)

var (
	configFile string
	jsonOutput bool

	settings *config.Settings
	logger   *logging.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "captain",
	Short: "captain - Jira sync and archive service",
	Long: `Creates Jira issues for project requirements and test cases, correlates
them back by label, and builds downloadable archives of test data.

Configuration is read from --config, ./captain.yaml or the user config
directory, then overridden by CAPTAIN_* environment variables and flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd {
			return nil
		}
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./captain.yaml, then <user config dir>/captain/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String(config.FlagName(config.KeyLogLevel), "", "Log level (debug, info, warn, error)")
}

// setup loads config, builds the logger and starts telemetry.
func setup(cmd *cobra.Command) error {
	if err := config.Initialize(configFile); err != nil {
		return err
	}
	if err := config.BindFlags(cmd.Flags()); err != nil {
		return err
	}
	s, err := config.Load()
	if err != nil {
		return err
	}
	settings = s

	logger, err = logging.New(logging.Options{
		Level:      s.LogLevel,
		Format:     s.LogFormat,
		File:       s.LogFile,
		MaxSizeMB:  s.LogMaxSizeMB,
		MaxBackups: s.LogMaxBackups,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger.Logger)

	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if err := telemetry.Init(rootCtx, "captain", Version); err != nil {
		WarnError("telemetry disabled: %v", err)
	}
	return nil
}

func teardown() {
	if rootCtx != nil {
		telemetry.Shutdown(context.WithoutCancel(rootCtx))
	}
	if rootCancel != nil {
		rootCancel()
	}
	if logger != nil {
		_ = logger.Close()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
