package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/sevigo/testrunner/internal/core"
	"github.com/sevigo/testrunner/internal/jobs"
)

// Output formats accepted by --output.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

var (
	successColor = color.New(color.FgGreen)
	failureColor = color.New(color.FgRed)
	pendingColor = color.New(color.FgYellow)
	dimColor     = color.New(color.FgHiBlack)
	titleColor   = color.New(color.FgCyan, color.Bold)
)

type queryItem struct {
	SHA   string          `json:"sha"`
	Found bool            `json:"found"`
	Job   *core.CommitJob `json:"job,omitempty"`
}

func queryItems(results []jobs.CommitQueryResult) []queryItem {
	items := make([]queryItem, 0, len(results))
	for _, res := range results {
		items = append(items, queryItem{SHA: res.SHA, Found: res.Job != nil, Job: res.Job})
	}
	return items
}

func renderQuery(w io.Writer, format string, results []jobs.CommitQueryResult) error {
	switch format {
	case formatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(queryItems(results))
	case formatYAML:
		return renderYAML(w, queryItems(results))
	case formatTable, "":
		return renderQueryTable(w, results)
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// renderYAML goes through JSON so the YAML keys match the API field names
// and raw result payloads render as structured data.
func renderYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(generic); err != nil {
		return err
	}
	return encoder.Close()
}

func renderQueryTable(w io.Writer, results []jobs.CommitQueryResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "SHA\tCONTEXT\tCLIENT\tSTATE\tSTARTED\tDURATION\tOUTPUT")
	for _, res := range results {
		if res.Job == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t%s\t-\t-\t-\n", shortSHA(res.SHA), dimColor.Sprint("not found"))
			continue
		}
		if len(res.Job.Runs) == 0 {
			fmt.Fprintf(tw, "%s\t-\t-\t%s\t-\t-\t-\n", shortSHA(res.SHA), dimColor.Sprint("queued"))
			continue
		}
		for _, run := range res.Job.Runs {
			client := run.ClientName
			if client == "" {
				client = "-"
			}
			output := run.OutputLocation
			if output == "" {
				output = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				shortSHA(res.SHA),
				run.Context,
				client,
				colorState(runState(run)),
				run.StartTime.Local().Format(time.RFC822),
				runDuration(run),
				output,
			)
		}
	}
	return tw.Flush()
}

func runState(run core.Run) string {
	if !run.Finished() {
		return core.StatusStatePending
	}
	return run.State
}

func runDuration(run core.Run) string {
	if !run.Finished() {
		return "-"
	}
	return run.EndTime.Sub(run.StartTime).Round(time.Second).String()
}

func colorState(state string) string {
	switch state {
	case core.StatusStateSuccess:
		return successColor.Sprint(state)
	case core.StatusStateFailure, core.StatusStateError:
		return failureColor.Sprint(state)
	case core.StatusStatePending:
		return pendingColor.Sprint(state)
	default:
		return state
	}
}

func shortSHA(sha string) string {
	if len(sha) > 10 {
		return sha[:10]
	}
	return sha
}
