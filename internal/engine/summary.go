package engine

import (
	"time"

	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/stressor"
)

// InstanceResult is the final disposition of one worker instance.
type InstanceResult struct {
	Stressor string
	Instance int
	Global   int
	Pid      int
	Status   stressor.ExitStatus
	Skipped  bool
	UserTime time.Duration
	SysTime  time.Duration
}

// Row aggregates one stressor across its instances.
type Row struct {
	Name     string
	Workers  int
	Ops      uint64
	RealTime time.Duration
	UserTime time.Duration
	SysTime  time.Duration
	// Rate is bogo-ops per second of real time.
	Rate     float64
	Forced   uint64
	Restarts uint64
	// Metrics holds teardown metrics averaged across instances
	// publishing the same label.
	Metrics []counters.Metric
}

// Summary is the outcome of a whole run.
type Summary struct {
	Started  time.Time
	Duration time.Duration
	Rows     []Row
	Results  []InstanceResult
	Status   stressor.ExitStatus
}

// ExitCode maps the run outcome onto the process exit code.
func (s *Summary) ExitCode() int { return int(s.Status) }

var statusRank = map[stressor.ExitStatus]int{
	stressor.ExitSuccess:        0,
	stressor.ExitNotImplemented: 1,
	stressor.ExitNoResource:     2,
	stressor.ExitSignaled:       3,
	stressor.ExitFailure:        4,
}

// worseStatus returns whichever status should win the run's exit code.
func worseStatus(a, b stressor.ExitStatus) stressor.ExitStatus {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

func buildSummary(started time.Time, duration time.Duration, plan Plan, snaps []counters.InstanceSnapshot, results []InstanceResult) *Summary {
	s := &Summary{
		Started:  started,
		Duration: duration,
		Results:  results,
		Status:   stressor.ExitSuccess,
	}
	for _, res := range results {
		if !res.Skipped {
			s.Status = worseStatus(s.Status, res.Status)
		}
	}

	byName := make(map[string]*Row)
	metricSums := make(map[string]map[string]*metricAccum)
	for _, sp := range plan.Stressors {
		row := &Row{Name: sp.Name, Workers: sp.Workers, RealTime: duration}
		byName[sp.Name] = row
		metricSums[sp.Name] = make(map[string]*metricAccum)
		s.Rows = append(s.Rows, Row{})
	}

	for _, snap := range snaps {
		row, ok := byName[snap.Stressor]
		if !ok {
			continue
		}
		row.Ops += snap.Ops
		row.Forced += snap.Forced
		row.Restarts += snap.Restarts
		sums := metricSums[snap.Stressor]
		for _, m := range snap.Metrics {
			acc, ok := sums[m.Label]
			if !ok {
				acc = &metricAccum{order: len(sums)}
				sums[m.Label] = acc
			}
			acc.sum += m.Value
			acc.n++
		}
	}
	for _, res := range results {
		if row, ok := byName[res.Stressor]; ok {
			row.UserTime += res.UserTime
			row.SysTime += res.SysTime
		}
	}

	for i, sp := range plan.Stressors {
		row := byName[sp.Name]
		if duration > 0 {
			row.Rate = float64(row.Ops) / duration.Seconds()
		}
		sums := metricSums[sp.Name]
		row.Metrics = make([]counters.Metric, len(sums))
		for label, acc := range sums {
			row.Metrics[acc.order] = counters.Metric{Label: label, Value: acc.sum / float64(acc.n)}
		}
		s.Rows[i] = *row
	}
	return s
}

type metricAccum struct {
	order int
	sum   float64
	n     int
}
