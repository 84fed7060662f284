package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sevigo/testrunner/internal/wire"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "testrunner",
	Short:         "Dispatches CI jobs from GitHub webhooks to long-polling workers",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		if configFile != "" {
			if err := os.Setenv("TR_CONFIG", configFile); err != nil {
				return fmt.Errorf("failed to set config path: %w", err)
			}
		}
		return run()
	},
}

func main() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml, or $TR_CONFIG)")
	if err := rootCmd.Execute(); err != nil {
		slog.Error("application failed to run", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := wire.InitializeApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	source := os.Getenv("TR_CONFIG")
	if source == "" {
		source = "config.yaml"
	}
	slog.Info("testrunner initialized", "config", source, "pid", os.Getpid())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Start()
	}()

	var startErr error
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case startErr = <-serverErr:
	}

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}
	return startErr
}
