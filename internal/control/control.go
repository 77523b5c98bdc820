// Package control merges the reasons a stress run keeps going into a
// single cheap check. Every worker loop is gated on Continue, which
// folds the shared stop flag, the local stop causes of this process,
// and the instance's bogo-op budget.
package control

import (
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/nxfs/stress-ng/internal/counters"
)

// Controller decides whether work should continue in one process.
type Controller struct {
	store    *counters.Store
	instance int
	maxOps   uint64
	local    atomic.Bool
	failed   atomic.Bool
}

// NewSupervisor returns the controller for the supervisor process. It
// carries no per-instance budget.
func NewSupervisor(store *counters.Store) *Controller {
	return &Controller{store: store, instance: -1}
}

// NewWorker returns the controller for a worker process bound to its
// instance record. maxOps of zero means no bogo-op budget.
func NewWorker(store *counters.Store, instance int, maxOps uint64) *Controller {
	return &Controller{store: store, instance: instance, maxOps: maxOps}
}

// Continue reports whether work should proceed. It is safe to call
// from any goroutine and cheap enough for tight loops.
func (c *Controller) Continue() bool {
	if c.local.Load() {
		return false
	}
	if c.store.Stopped() {
		return false
	}
	if c.maxOps > 0 && c.instance >= 0 && c.store.Record(c.instance).Ops() >= c.maxOps {
		return false
	}
	return true
}

// Stop raises the local stop cause. It only ever latches; there is no
// way to resume a stopped run.
func (c *Controller) Stop() { c.local.Store(true) }

// StopAll raises the shared stop flag so every process in the run
// winds down, then stops locally too.
func (c *Controller) StopAll() {
	c.store.RequestStop()
	c.local.Store(true)
}

// Fail records a fatal error and stops this process.
func (c *Controller) Fail() {
	c.failed.Store(true)
	c.local.Store(true)
}

// Failed reports whether Fail was called in this process.
func (c *Controller) Failed() bool { return c.failed.Load() }

// ArmDeadline schedules a local stop at the deadline published in the
// shared region, plus a hard exit a grace period later for bodies
// stuck in unkillable work. The returned cancel releases both timers.
func (c *Controller) ArmDeadline(grace time.Duration, hard func()) (cancel func()) {
	deadline, ok := c.store.Deadline()
	if !ok {
		return func() {}
	}
	soft := time.AfterFunc(time.Until(deadline), c.Stop)
	hardTimer := time.AfterFunc(time.Until(deadline)+grace, hard)
	return func() {
		soft.Stop()
		hardTimer.Stop()
	}
}

// HandleSignals stops this process when any of the given signals
// arrives. The returned release restores default delivery.
func (c *Controller) HandleSignals(sigs ...os.Signal) (release func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
			c.Stop()
		}
	}()
	var once atomic.Bool
	return func() {
		if once.Swap(true) {
			return
		}
		signal.Stop(ch)
		close(ch)
		<-done
	}
}
