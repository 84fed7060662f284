package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sevigo/testrunner/internal/app"
	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/db"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reopens runs that have been pending longer than the pending timeout",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			reopened, err := a.Sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			titleColor.Println("Staleness sweep complete")
			fmt.Printf("reopened contexts: %d\n", reopened)
			return nil
		})
	},
}

var pushStatusesCmd = &cobra.Command{
	Use:   "push-statuses",
	Short: "Pushes every dirty commit status to GitHub once",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			res, err := a.Reconciler.PushDirtyEntries(ctx)
			if err != nil {
				return err
			}
			titleColor.Println("Status push complete")
			fmt.Printf("pushed:    %s\n", successColor.Sprint(res.Pushed))
			fmt.Printf("dropped:   %s\n", dimColor.Sprint(res.Dropped))
			fmt.Printf("failed:    %s\n", failureColor.Sprint(res.Failed))
			fmt.Printf("throttled: %s\n", pendingColor.Sprint(res.Throttled))
			fmt.Printf("deferred:  %d\n", res.Deferred)
			fmt.Printf("budget:    %d tokens left\n", int(res.TokensLeft))
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Applies pending database migrations and prints the schema version",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		// NewDatabase migrates to the latest version on connect.
		conn, cleanup, err := db.NewDatabase(&cfg.Database)
		if err != nil {
			return err
		}
		defer cleanup()

		version, dirty, err := conn.MigrationVersion()
		if err != nil {
			return err
		}
		fmt.Printf("%s schema at version %d", cfg.Database.Driver, version)
		if dirty {
			fmt.Print(failureColor.Sprint(" (dirty)"))
		}
		fmt.Println()
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra command registration
	rootCmd.AddCommand(sweepCmd, pushStatusesCmd, migrateCmd)
}
