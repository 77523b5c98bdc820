package engine

import (
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/stressor"
)

// StressorPlan is one stressor line of a run: which body, how many
// worker instances, and the per-instance bogo-op budget.
type StressorPlan struct {
	Name    string
	Workers int
	MaxOps  uint64
	Options map[string]string
}

// Plan is a fully resolved run request.
type Plan struct {
	Stressors []StressorPlan
	// Timeout bounds the run; zero runs until every budget is met
	// or the run is interrupted.
	Timeout time.Duration
	// StopSignal is delivered to workers at teardown. Zero means
	// SIGALRM, matching the traditional alarm-driven shutdown.
	StopSignal syscall.Signal
}

// Signal returns the effective stop signal.
func (p Plan) Signal() syscall.Signal {
	if p.StopSignal == 0 {
		return syscall.SIGALRM
	}
	return p.StopSignal
}

// Validate checks the plan against the stressor catalog.
func (p Plan) Validate() error {
	if len(p.Stressors) == 0 {
		return fmt.Errorf("plan: no stressors requested")
	}
	seen := make(map[string]bool)
	for _, sp := range p.Stressors {
		if sp.Name == "" {
			return fmt.Errorf("plan: stressor with empty name")
		}
		if seen[sp.Name] {
			return fmt.Errorf("plan: stressor %q listed twice", sp.Name)
		}
		seen[sp.Name] = true
		if sp.Workers < 1 {
			return fmt.Errorf("plan: stressor %q needs at least one worker", sp.Name)
		}
		if _, ok := stressor.Lookup(sp.Name); !ok {
			return fmt.Errorf("plan: unknown stressor %q (known: %s)",
				sp.Name, strings.Join(stressor.Names(), ", "))
		}
	}
	if p.Timeout < 0 {
		return fmt.Errorf("plan: negative timeout %v", p.Timeout)
	}
	return nil
}

// Instances flattens the plan into the counter-store layout: one slot
// per worker instance, grouped by stressor in plan order.
func (p Plan) Instances() []counters.Instance {
	var out []counters.Instance
	for _, sp := range p.Stressors {
		for i := 0; i < sp.Workers; i++ {
			out = append(out, counters.Instance{Stressor: sp.Name, Index: i})
		}
	}
	return out
}

// hogs renders the classic dispatch line, e.g. "2 flock, 1 pipe".
func (p Plan) hogs() string {
	parts := make([]string, len(p.Stressors))
	for i, sp := range p.Stressors {
		parts[i] = fmt.Sprintf("%d %s", sp.Workers, sp.Name)
	}
	return strings.Join(parts, ", ")
}
