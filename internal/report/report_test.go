package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/engine"
	"github.com/nxfs/stress-ng/internal/stressor"
)

func sampleSummary() *engine.Summary {
	return &engine.Summary{
		Duration: 10 * time.Second,
		Status:   stressor.ExitSuccess,
		Rows: []engine.Row{
			{
				Name:     "flock",
				Workers:  2,
				Ops:      597558,
				RealTime: 10 * time.Second,
				UserTime: 9250 * time.Millisecond,
				SysTime:  8330 * time.Millisecond,
				Rate:     59755.8,
				Forced:   1,
				Metrics: []counters.Metric{
					{Label: "nanosecs per lock", Value: 1042.5},
				},
			},
			{
				Name:     "pipe",
				Workers:  1,
				Ops:      120000,
				RealTime: 10 * time.Second,
				Rate:     12000,
			},
		},
	}
}

func TestRenderTotals(t *testing.T) {
	var out bytes.Buffer
	Render(&out, sampleSummary(), Options{})

	s := out.String()
	require.Contains(t, s, "flock")
	require.Contains(t, s, "597558")
	require.Contains(t, s, "59755.80")
	require.Contains(t, s, "pipe")
	require.Contains(t, s, "1 worker(s) needed SIGKILL")
	require.Contains(t, s, "run status: success")
	require.NotContains(t, s, "nanosecs per lock", "metrics stay out without the option")
}

func TestRenderWithMetrics(t *testing.T) {
	var out bytes.Buffer
	Render(&out, sampleSummary(), Options{Metrics: true})

	s := out.String()
	require.Contains(t, s, "nanosecs per lock")
	require.Contains(t, s, "1042.50")
}

func TestRenderFailureStatus(t *testing.T) {
	summary := sampleSummary()
	summary.Status = stressor.ExitFailure

	var out bytes.Buffer
	Render(&out, summary, Options{})
	require.Contains(t, out.String(), "run status: failure")
}
