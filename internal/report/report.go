// Package report renders a run summary as tables on the terminal.
package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/nxfs/stress-ng/internal/engine"
)

// Options tunes what Render includes.
type Options struct {
	// Metrics adds the per-stressor teardown metrics published by the
	// workers, averaged across instances.
	Metrics bool
}

// Render writes the per-stressor totals, any teardown notes, and
// optionally the published metrics.
func Render(w io.Writer, summary *engine.Summary, opts Options) {
	table := tablewriter.NewWriter(w)
	table.Header("Stressor", "Bogo Ops", "Real Time (s)", "Usr Time (s)", "Sys Time (s)", "Bogo Ops/s")
	for _, row := range summary.Rows {
		table.Append([]string{
			row.Name,
			fmt.Sprintf("%d", row.Ops),
			fmt.Sprintf("%.2f", row.RealTime.Seconds()),
			fmt.Sprintf("%.2f", row.UserTime.Seconds()),
			fmt.Sprintf("%.2f", row.SysTime.Seconds()),
			fmt.Sprintf("%.2f", row.Rate),
		})
	}
	table.Render()

	for _, row := range summary.Rows {
		if row.Forced > 0 {
			fmt.Fprintf(w, "%s: %d worker(s) needed SIGKILL at teardown\n", row.Name, row.Forced)
		}
		if row.Restarts > 0 {
			fmt.Fprintf(w, "%s: %d worker respawn(s) after assumed OOM kills\n", row.Name, row.Restarts)
		}
	}

	if opts.Metrics {
		renderMetrics(w, summary)
	}
	fmt.Fprintf(w, "run status: %s\n", summary.Status)
}

func renderMetrics(w io.Writer, summary *engine.Summary) {
	rows := 0
	for _, row := range summary.Rows {
		rows += len(row.Metrics)
	}
	if rows == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("Stressor", "Metric", "Value")
	for _, row := range summary.Rows {
		for _, m := range row.Metrics {
			table.Append([]string{row.Name, m.Label, fmt.Sprintf("%.2f", m.Value)})
		}
	}
	table.Render()
}
