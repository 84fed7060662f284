package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sevigo/testrunner/internal/app"
)

var upstreamStatusCmd = &cobra.Command{
	Use:   "upstream-status <repo_full> <sha>",
	Short: "Shows the commit statuses GitHub currently reports for a commit",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		owner, repo, ok := strings.Cut(args[0], "/")
		if !ok || owner == "" || repo == "" {
			return fmt.Errorf("repository must be given as owner/name, got %q", args[0])
		}

		return withApp(func(ctx context.Context, a *app.App) error {
			combined, err := a.StatusClient.CombinedStatus(ctx, owner, repo, args[1])
			if err != nil {
				return err
			}

			titleColor.Printf("%s@%s: %s\n", args[0], shortSHA(args[1]), colorState(combined.GetState()))
			if len(combined.Statuses) == 0 {
				fmt.Println(dimColor.Sprint("no statuses reported"))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CONTEXT\tSTATE\tDESCRIPTION\tTARGET")
			for _, s := range combined.Statuses {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.GetContext(),
					colorState(s.GetState()),
					s.GetDescription(),
					s.GetTargetURL(),
				)
			}
			return w.Flush()
		})
	},
}

func init() { //nolint:gochecknoinits // Cobra command registration
	rootCmd.AddCommand(upstreamStatusCmd)
}
