// Package engine runs a stress plan end to end: it spawns one worker
// process per stressor instance, keeps the run inside its time and
// bogo-op budgets, tears everything down through the reaper, and
// aggregates the shared counters into a run summary.
package engine

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nxfs/stress-ng/internal/control"
	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/logging"
	"github.com/nxfs/stress-ng/internal/metrics"
	"github.com/nxfs/stress-ng/internal/oomable"
	"github.com/nxfs/stress-ng/internal/reap"
	"github.com/nxfs/stress-ng/internal/spawn"
	"github.com/nxfs/stress-ng/internal/stressor"
)

// Spawner is the slice of the process spawner the engine drives.
type Spawner interface {
	Spawn(ctx context.Context, spec spawn.Spec) (*spawn.Worker, error)
	Reaped(w *spawn.Worker)
	Find(pid int) *spawn.Worker
	Live() []*spawn.Worker
}

// Reaper is the slice of the process reaper the engine drives.
type Reaper interface {
	Wait(pid int, sig syscall.Signal, countForced bool) (reap.Status, bool)
	KillAndWaitMany(pids []int, sig syscall.Signal, countForced bool)
	OnForcedKill(fn func(pid int))
}

// OomRunner supervises oomable stressor bodies.
type OomRunner interface {
	Run(ctx context.Context, spec spawn.Spec, sig syscall.Signal, policy oomable.Policy) stressor.ExitStatus
	OnRestart(fn func(spec spawn.Spec))
}

// Config wires an Engine.
type Config struct {
	Store   *counters.Store
	Ctrl    *control.Controller
	Spawner Spawner
	Reaper  Reaper
	Oom     OomRunner
	Log     *logging.Logger
	// Events receives lifecycle notifications when non-nil. The
	// engine closes it when the run is over.
	Events chan<- Event
}

// Engine executes plans.
type Engine struct {
	cfg Config
	now func() time.Time
}

// New returns an Engine over the given collaborators.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, now: time.Now}
}

// instanceRun is the engine's bookkeeping for one worker instance.
type instanceRun struct {
	spec    spawn.Spec
	info    stressor.Info
	worker  *spawn.Worker
	done    chan stressor.ExitStatus
	status  stressor.ExitStatus
	reaped  bool
	skipped bool
	usr     time.Duration
	sys     time.Duration
}

// Run executes the plan and returns its summary. The context cancels
// the run early; workers are then signalled and reaped in bulk.
func (e *Engine) Run(ctx context.Context, plan Plan) (*Summary, error) {
	if e.cfg.Events != nil {
		defer close(e.cfg.Events)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	sig := plan.Signal()
	started := e.now()

	if plan.Timeout > 0 {
		deadline := started.Add(plan.Timeout)
		e.cfg.Store.SetDeadline(deadline)
		metrics.SetRunDeadline(float64(deadline.Unix()))
		e.cfg.Log.Infof("setting to a %d second run per stressor", int(plan.Timeout.Seconds()))
		timer := time.AfterFunc(plan.Timeout, func() {
			e.cfg.Log.Debugf("run deadline reached, stopping all workers")
			e.cfg.Ctrl.StopAll()
		})
		defer timer.Stop()
	}

	e.cfg.Reaper.OnForcedKill(func(pid int) {
		w := e.cfg.Spawner.Find(pid)
		if w == nil {
			return
		}
		name := baseEntry(w.Entry)
		e.cfg.Store.Record(w.Global).IncForced()
		metrics.IncForcedKill(name)
		sendEvent(e.cfg.Events, name, w.Instance, pid, EventTypeForcedKill,
			"SIGKILL after unresponsive stop", nil)
	})
	e.cfg.Oom.OnRestart(func(spec spawn.Spec) {
		e.cfg.Store.Record(spec.Global).IncRestarts()
		metrics.IncOOMRestart(spec.Entry)
		sendEvent(e.cfg.Events, spec.Entry, spec.Instance, 0, EventTypeOOMRestart,
			"respawning after assumed OOM kill", nil)
	})

	e.cfg.Log.Infof("dispatching hogs: %s", plan.hogs())

	instances := e.dispatch(ctx, plan, sig)

	watchDone := make(chan struct{})
	go e.watchInterrupt(ctx, sig, watchDone)

	e.drain(instances, sig)
	close(watchDone)

	duration := e.now().Sub(started)
	summary := e.summarize(started, duration, plan, instances)

	if summary.Status == stressor.ExitSuccess {
		e.cfg.Log.Infof("successful run completed in %.2fs", duration.Seconds())
	} else {
		e.cfg.Log.Errorf("unsuccessful run completed in %.2fs (%s)",
			duration.Seconds(), summary.Status)
	}
	sendEvent(e.cfg.Events, "", 0, 0, EventTypeDone, "", nil)
	return summary, nil
}

func (e *Engine) dispatch(ctx context.Context, plan Plan, sig syscall.Signal) []*instanceRun {
	var instances []*instanceRun
	global := 0
	for _, sp := range plan.Stressors {
		info, _ := stressor.Lookup(sp.Name)
		for i := 0; i < sp.Workers; i++ {
			in := &instanceRun{
				info: info,
				spec: spawn.Spec{
					Entry:    sp.Name,
					Instance: i,
					Global:   global,
					MaxOps:   sp.MaxOps,
					Options:  sp.Options,
				},
			}
			instances = append(instances, in)
			global++
		}
	}

	for _, in := range instances {
		if !e.cfg.Ctrl.Continue() {
			in.skipped = true
			continue
		}
		sendEvent(e.cfg.Events, in.spec.Entry, in.spec.Instance, 0, EventTypeSpawning, "", nil)
		if in.info.Oomable {
			in.done = make(chan stressor.ExitStatus, 1)
			go func(in *instanceRun) {
				in.done <- e.cfg.Oom.Run(ctx, in.spec, sig, oomable.PolicyRespawn)
			}(in)
			continue
		}
		w, err := e.cfg.Spawner.Spawn(ctx, in.spec)
		if err != nil {
			if errors.Is(err, spawn.ErrStopped) || errors.Is(err, context.Canceled) {
				in.skipped = true
				continue
			}
			e.cfg.Log.Errorf("%s instance %d: %v", in.spec.Entry, in.spec.Instance, err)
			sendEvent(e.cfg.Events, in.spec.Entry, in.spec.Instance, 0, EventTypeFailed, "", err)
			in.status = stressor.ExitNoResource
			continue
		}
		in.worker = w
		sendEvent(e.cfg.Events, in.spec.Entry, in.spec.Instance, w.Pid, EventTypeSpawned, "", nil)
	}
	return instances
}

// watchInterrupt turns a context cancellation into a bulk teardown:
// raise the stop flag, then kill and reap every live worker. Workers
// the drain loop reaps first are tolerated by the reaper.
func (e *Engine) watchInterrupt(ctx context.Context, sig syscall.Signal, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	e.cfg.Log.Infof("interrupted, stopping all workers")
	sendEvent(e.cfg.Events, "", 0, 0, EventTypeStopping, "interrupt received", nil)
	e.cfg.Ctrl.StopAll()

	live := e.cfg.Spawner.Live()
	pids := make([]int, 0, len(live))
	for _, w := range live {
		w.MarkStopRequested()
		pids = append(pids, w.Pid)
	}
	e.cfg.Reaper.KillAndWaitMany(pids, sig, true)
}

func (e *Engine) drain(instances []*instanceRun, sig syscall.Signal) {
	for _, in := range instances {
		switch {
		case in.done != nil:
			in.status = <-in.done
			in.reaped = true
		case in.worker != nil:
			st, reaped := e.cfg.Reaper.Wait(in.worker.Pid, sig, true)
			pid := in.worker.Pid
			e.cfg.Spawner.Reaped(in.worker)
			in.reaped = reaped
			if reaped {
				in.usr = timevalDuration(st.Rusage.Utime)
				in.sys = timevalDuration(st.Rusage.Stime)
				in.status = e.exitFromWait(in, st)
			} else {
				in.status = stressor.ExitSuccess
			}
			sendEvent(e.cfg.Events, in.spec.Entry, in.spec.Instance, pid, EventTypeReaped,
				in.status.String(), nil)
		}
	}
}

func (e *Engine) exitFromWait(in *instanceRun, st reap.Status) stressor.ExitStatus {
	ws := st.Wait
	switch {
	case ws.Exited():
		status := stressor.ExitFromCode(ws.ExitStatus())
		if status != stressor.ExitSuccess {
			e.cfg.Log.Warnf("%s instance %d: exited with %s",
				in.spec.Entry, in.spec.Instance, status)
		}
		return status
	case ws.Signaled():
		if !e.cfg.Ctrl.Continue() {
			return stressor.ExitSuccess
		}
		e.cfg.Log.Errorf("%s instance %d: killed by %v",
			in.spec.Entry, in.spec.Instance, ws.Signal())
		return stressor.ExitSignaled
	default:
		return stressor.ExitFailure
	}
}

func (e *Engine) summarize(started time.Time, duration time.Duration, plan Plan, instances []*instanceRun) *Summary {
	results := make([]InstanceResult, len(instances))
	for i, in := range instances {
		pid := 0
		if in.worker != nil {
			pid = in.worker.Pid
		}
		results[i] = InstanceResult{
			Stressor: in.spec.Entry,
			Instance: in.spec.Instance,
			Global:   in.spec.Global,
			Pid:      pid,
			Status:   in.status,
			Skipped:  in.skipped,
			UserTime: in.usr,
			SysTime:  in.sys,
		}
	}
	summary := buildSummary(started, duration, plan, e.cfg.Store.Snapshot(), results)
	if e.cfg.Ctrl.Failed() {
		summary.Status = worseStatus(summary.Status, stressor.ExitFailure)
	}
	return summary
}

// baseEntry strips a helper suffix, mapping "flock/locker" to "flock".
func baseEntry(entry string) string {
	if i := strings.IndexByte(entry, '/'); i >= 0 {
		return entry[:i]
	}
	return entry
}

func timevalDuration(tv unix.Timeval) time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}
