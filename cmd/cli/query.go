package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/sevigo/testrunner/internal/app"
)

var outputFormat string

var queryCmd = &cobra.Command{
	Use:   "query <repo_full> <sha>...",
	Short: "Shows the commit jobs and runs recorded for one or more commits",
	Long: `Shows the latest commit job for each sha with its runs, the client each run
was assigned to and its outcome.

Examples:
  testrunner-cli query svaarala/duktape 3f2a9c1
  testrunner-cli query -o yaml svaarala/duktape 3f2a9c1 b71e004`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			results, err := a.Service.QueryCommits(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			return renderQuery(os.Stdout, outputFormat, results)
		})
	},
}

func init() { //nolint:gochecknoinits // Cobra command registration
	queryCmd.Flags().StringVarP(&outputFormat, "output", "o", formatTable, "output format: table, json or yaml")
	rootCmd.AddCommand(queryCmd)
}
