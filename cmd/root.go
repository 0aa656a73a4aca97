// Package cmd defines and implements the CLI commands for the boxoffice-crawler executable.
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

	"github.com/JakeFAU/boxoffice-crawler/internal/app"
	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/config"
	"github.com/JakeFAU/boxoffice-crawler/internal/logging"
	"github.com/JakeFAU/boxoffice-crawler/internal/schedule"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use.
// Tests inject a fake through newApp.
type App interface {
	Run(ctx context.Context, roles app.Roles) error
	Publish(ctx context.Context, env boxoffice.Envelope) (string, error)
	State(ctx context.Context) (schedule.State, error)
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "boxoffice-crawler",
		Short: "Event-driven crawler for daily box office rankings.",
		Long: `boxoffice-crawler schedules, fetches and reconciles daily box office
rankings and per-movie revenue series. A single binary runs any mix of the
controller, ingest, detail, trigger and api roles.`,
		SilenceUsage: true,

		// Builds the application and stores it in the context for subcommands.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); env vars use the BOXOFFICE_ prefix")

	cmd.AddCommand(newServeCmd(), newEventCmd(), newStateCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
