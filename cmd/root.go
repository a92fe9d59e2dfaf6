// Package cmd defines the CLI commands for the bugscope executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bugscope/internal/app"
	"github.com/JakeFAU/bugscope/internal/config"
	"github.com/JakeFAU/bugscope/internal/coordinator"
	"github.com/JakeFAU/bugscope/internal/logging"
	"github.com/JakeFAU/bugscope/internal/tasks"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what subcommands need from the application container.
type App interface {
	Close()
	Logger() *zap.Logger
	State() *coordinator.RunState
	RunOnce(ctx context.Context, name string, args map[string][]int64) (tasks.Result, error)
	Serve(ctx context.Context) error
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	var logger *zap.Logger

	cmd := &cobra.Command{
		Use:   "bugscope",
		Short: "Collects DBMS bug reports and classifies them by root cause.",
		Long: `bugscope pulls fuzzer-found bug reports from the issue trackers of
tracked database projects, stores them, and assigns each report a
root-cause category with a keyword matcher backed by a statistical model.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err = logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				File: logging.FileConfig{
					Path:       cfg.Logging.File.Path,
					MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
					MaxBackups: cfg.Logging.File.MaxBackups,
					MaxAgeDays: cfg.Logging.File.MaxAgeDays,
					Compress:   cfg.Logging.File.Compress,
				},
			})
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newClassifyCmd())
	cmd.AddCommand(newVectorizeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command until it finishes or the process is
// signaled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
