package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sevigo/testrunner/internal/app"
	"github.com/sevigo/testrunner/internal/wire"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "testrunner-cli",
	Short: "testrunner-cli is the operator interface for the testrunner service.",
	Long: `A CLI for inspecting and maintaining a testrunner deployment: querying commit
jobs, running a staleness sweep or a status push by hand, comparing statuses
with GitHub and applying database migrations.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: $TR_CONFIG or ./config.yaml)")
}

// initConfig points config.LoadConfig at the file given on the command line.
func initConfig() {
	if configPath != "" {
		_ = os.Setenv("TR_CONFIG", configPath)
	}
}

// withApp runs fn against fully wired services. The HTTP server and the
// background loops are not started.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, cleanup, err := wire.InitializeApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize app services: %w", err)
	}
	defer cleanup()

	return fn(ctx, a)
}
