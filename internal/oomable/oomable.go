// Package oomable shields flagged stressors from the kernel's OOM
// killer by supervising their worker in a respawn loop. A body that
// vanishes to SIGKILL while the run is live is assumed to have been
// OOM-killed and is started again in a fresh process against the same
// counter slot, so no bogo-ops are lost.
package oomable

import (
	"context"
	"errors"
	"syscall"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nxfs/stress-ng/internal/logging"
	"github.com/nxfs/stress-ng/internal/reap"
	"github.com/nxfs/stress-ng/internal/spawn"
	"github.com/nxfs/stress-ng/internal/stressor"
)

// Policy selects how a stressor body is supervised.
type Policy int

const (
	// PolicyNone runs the body without respawn protection.
	PolicyNone Policy = iota
	// PolicyRespawn restarts OOM-killed bodies, logging each restart.
	PolicyRespawn
	// PolicyRespawnQuiet restarts without the per-restart log line.
	PolicyRespawnQuiet
)

// Spawner is the slice of the process spawner the runner needs.
type Spawner interface {
	Spawn(ctx context.Context, spec spawn.Spec) (*spawn.Worker, error)
	Reaped(w *spawn.Worker)
}

// Waiter blocks until a pid is confirmed gone and reports its status.
type Waiter interface {
	Wait(pid int, sig syscall.Signal, countForced bool) (reap.Status, bool)
}

// Runner supervises oomable stressor bodies.
type Runner struct {
	spawner Spawner
	waiter  Waiter
	cont    func() bool
	log     *logging.Logger

	memAvail  func() (uint64, float64, bool)
	onRestart func(spec spawn.Spec)
}

// New returns a Runner. cont gates respawns on the run being live.
func New(spawner Spawner, waiter Waiter, cont func() bool, log *logging.Logger) *Runner {
	return &Runner{
		spawner:  spawner,
		waiter:   waiter,
		cont:     cont,
		log:      log,
		memAvail: systemMemAvailable,
	}
}

// OnRestart registers a hook invoked once per respawn.
func (r *Runner) OnRestart(fn func(spec spawn.Spec)) { r.onRestart = fn }

func systemMemAvailable() (uint64, float64, bool) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, false
	}
	return vm.Available, vm.UsedPercent, true
}

// Run spawns the body described by spec and supervises it to
// completion. The returned status is the body's final exit status;
// respawns in between are invisible to the caller.
func (r *Runner) Run(ctx context.Context, spec spawn.Spec, sig syscall.Signal, policy Policy) stressor.ExitStatus {
	for {
		w, err := r.spawner.Spawn(ctx, spec)
		if err != nil {
			if errors.Is(err, spawn.ErrStopped) || errors.Is(err, context.Canceled) {
				return stressor.ExitSuccess
			}
			r.log.Errorf("%s instance %d: %v", spec.Entry, spec.Instance, err)
			return stressor.ExitNoResource
		}

		status, reaped := r.waiter.Wait(w.Pid, sig, true)
		r.spawner.Reaped(w)
		if !reaped {
			if !r.cont() {
				return stressor.ExitSuccess
			}
			r.log.Warnf("%s instance %d: pid %d vanished without status", spec.Entry, spec.Instance, w.Pid)
			return stressor.ExitFailure
		}

		ws := status.Wait
		switch {
		case ws.Exited():
			return stressor.ExitFromCode(ws.ExitStatus())
		case ws.Signaled():
			got := ws.Signal()
			if got == syscall.SIGKILL && policy != PolicyNone && r.cont() {
				if r.onRestart != nil {
					r.onRestart(spec)
				}
				if policy != PolicyRespawnQuiet {
					if avail, usedPct, ok := r.memAvail(); ok {
						r.log.Infof("%s instance %d: assuming killed by OOM killer, restarting (%d bytes free, %.2f%% used)",
							spec.Entry, spec.Instance, avail, usedPct)
					} else {
						r.log.Infof("%s instance %d: assuming killed by OOM killer, restarting",
							spec.Entry, spec.Instance)
					}
				}
				continue
			}
			if !r.cont() {
				return stressor.ExitSuccess
			}
			r.log.Errorf("%s instance %d: killed by %v", spec.Entry, spec.Instance, got)
			return stressor.ExitSignaled
		default:
			return stressor.ExitFailure
		}
	}
}
