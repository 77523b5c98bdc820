// Package reap confirms the death of worker processes. Termination
// follows the classic discipline: send the stop signal, then wait in
// an interruption-tolerant loop that probes liveness, re-delivers the
// signal while the run is winding down, and escalates to SIGKILL only
// after minutes of consecutive interrupted waits.
package reap

import (
	"os"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nxfs/stress-ng/internal/logging"
)

const (
	// forceKillAfter is the number of consecutive interrupted waits
	// tolerated before the stuck process is SIGKILLed.
	forceKillAfter = 120
	// sleepAfter is the lap count after which the loop eases from
	// yielding to sleeping between waits.
	sleepAfter = 10

	reapSleep = time.Second
)

// Status carries the exit information of a reaped process.
type Status struct {
	Wait   unix.WaitStatus
	Rusage unix.Rusage
}

// Reaper kills and reaps processes for one supervising process. The
// syscall surface is injectable so termination orderings can be
// tested without real children.
type Reaper struct {
	log  *logging.Logger
	cont func() bool

	kill    func(pid int, sig syscall.Signal) error
	wait    func(pid int, ws *unix.WaitStatus, ru *unix.Rusage) (int, error)
	final   func(pid int) error
	yield   func()
	sleep   func(time.Duration)
	onForce func(pid int)
}

// New returns a Reaper. cont reports whether the run is still live;
// while it returns false the stop signal is re-delivered to processes
// that have not exited yet.
func New(cont func() bool, log *logging.Logger) *Reaper {
	return &Reaper{
		log:  log,
		cont: cont,
		kill: func(pid int, sig syscall.Signal) error {
			return unix.Kill(pid, sig)
		},
		wait: func(pid int, ws *unix.WaitStatus, ru *unix.Rusage) (int, error) {
			return unix.Wait4(pid, ws, 0, ru)
		},
		final: KillPid,
		yield: runtime.Gosched,
		sleep: time.Sleep,
	}
}

// OnForcedKill registers a hook invoked once per forced SIGKILL
// escalation, with the victim pid.
func (r *Reaper) OnForcedKill(fn func(pid int)) { r.onForce = fn }

// KillAndWait sends sig to pid and blocks until the process is gone
// from the process table. Attempts against pid 0, 1 or the caller
// itself are ignored with a warning. countForced selects whether an
// escalation is counted against the run's diagnostics.
func (r *Reaper) KillAndWait(pid int, sig syscall.Signal, countForced bool) {
	self := os.Getpid()
	if pid == 0 || pid == 1 || pid == self {
		r.log.Warnf("attempt to kill pid %d ignored", pid)
	}
	if pid <= 1 || pid == self {
		return
	}
	_ = r.kill(pid, sig)
	r.Wait(pid, sig, countForced)
}

// KillAndWaitMany terminates a batch: every pid is signalled first,
// then each is reaped in order. Helpers die together instead of one
// at a time watching their siblings linger.
func (r *Reaper) KillAndWaitMany(pids []int, sig syscall.Signal, countForced bool) {
	self := os.Getpid()
	for _, pid := range pids {
		if pid > 1 && pid != self {
			_ = r.kill(pid, sig)
		}
	}
	for _, pid := range pids {
		if pid > 1 && pid != self {
			r.KillAndWait(pid, sig, countForced)
		}
	}
}

// Wait blocks until pid has been reaped or is otherwise gone. It
// returns the exit status and true when this call performed the reap;
// a process confirmed dead by other means returns false.
func (r *Reaper) Wait(pid int, sig syscall.Signal, countForced bool) (Status, bool) {
	var (
		st     Status
		count  int
		forced bool
	)
	for {
		n, err := r.wait(pid, &st.Wait, &st.Rusage)
		if err == nil && n == pid {
			return st, true
		}
		if err != unix.EINTR {
			return st, false
		}

		if kerr := r.kill(pid, 0); kerr == unix.ESRCH {
			return st, false
		}

		count++
		if !r.cont() {
			_ = r.kill(pid, sig)
			if count > forceKillAfter && !forced {
				forced = true
				r.log.Warnf("pid %d did not exit after %d interrupted waits, sending SIGKILL", pid, count)
				if countForced && r.onForce != nil {
					r.onForce(pid)
				}
				_ = r.final(pid)
			}
		}
		r.yield()
		if count > sleepAfter {
			r.sleep(reapSleep)
		}
	}
}
