// Package spawn starts worker processes by re-executing the current
// binary with a hidden worker entrypoint. The shared-state descriptor
// rides along as the first inherited fd, so a worker attaches to the
// same counters its parent created. Transient fork failures are
// retried the way the classic fork/EAGAIN loop does it.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/logging"
)

// ErrStopped is returned when a spawn is abandoned because the run
// controller said stop, which is not a failure.
var ErrStopped = errors.New("spawn: run stopping")

// FirstInheritedFd is the child-side file descriptor of the shared
// region; extra files follow it in order.
const FirstInheritedFd = 3

// maxSpawnRetries bounds the transient-failure retry loop so a
// fork-bombed box cannot wedge the supervisor forever.
const maxSpawnRetries = 32

// WorkerState tracks the supervisor's view of a worker process.
type WorkerState int32

const (
	StateRunning WorkerState = iota
	StateStopRequested
	StateReaped
)

// String returns the lowercase state name.
func (s WorkerState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop-requested"
	case StateReaped:
		return "reaped"
	default:
		return "?"
	}
}

// Worker is the supervisor-side handle of one spawned process.
type Worker struct {
	Pid       int
	Entry     string
	Instance  int
	Global    int
	StartedAt time.Time

	seq   uint64
	cmd   *exec.Cmd
	state atomic.Int32
}

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState { return WorkerState(w.state.Load()) }

// MarkStopRequested records that a stop signal was sent. Reaped
// workers stay reaped.
func (w *Worker) MarkStopRequested() {
	w.state.CompareAndSwap(int32(StateRunning), int32(StateStopRequested))
}

// MarkReaped transitions the worker to reaped and reports whether
// this call performed the transition. At most one caller wins.
func (w *Worker) MarkReaped() bool {
	for {
		old := w.state.Load()
		if old == int32(StateReaped) {
			return false
		}
		if w.state.CompareAndSwap(old, int32(StateReaped)) {
			return true
		}
	}
}

// Release drops the OS handle after the worker has been reaped.
func (w *Worker) Release() {
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Release()
	}
}

// Spec describes one worker to spawn.
type Spec struct {
	// Entry is the registered body to run, e.g. "flock" or
	// "flock/locker" for a helper.
	Entry string
	// Instance is the per-stressor instance index.
	Instance int
	// Global is the instance's record slot in the shared region.
	Global int
	// MaxOps caps the instance's bogo-ops; zero means unbounded.
	MaxOps uint64
	// Options are stressor options forwarded verbatim.
	Options map[string]string
	// Files are extra descriptors to inherit after the shared region.
	Files []*os.File
}

// Spawner creates workers and tracks the live set.
type Spawner struct {
	store    *counters.Store
	log      *logging.Logger
	cont     func() bool
	exe      string
	logLevel string
	logJSON  bool
	errSink  io.Writer

	start func(*exec.Cmd) error
	yield func()

	mu   sync.Mutex
	seq  uint64
	live map[int]*Worker
}

// Options tunes a Spawner.
type Options struct {
	// LogLevel and LogJSON are forwarded to workers so the whole
	// run logs consistently.
	LogLevel string
	LogJSON  bool
	// Stderr is the sink workers inherit for their log output. It
	// defaults to the supervisor's stderr.
	Stderr io.Writer
}

// New returns a Spawner that re-executes the current binary. cont
// gates spawn retries on the run still being live.
func New(store *counters.Store, cont func() bool, log *logging.Logger, opts Options) (*Spawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("spawn: resolve executable: %w", err)
	}
	sink := opts.Stderr
	if sink == nil {
		sink = os.Stderr
	}
	return &Spawner{
		store:    store,
		log:      log,
		cont:     cont,
		exe:      exe,
		logLevel: opts.LogLevel,
		logJSON:  opts.LogJSON,
		errSink:  sink,
		start:    (*exec.Cmd).Start,
		yield:    runtime.Gosched,
		live:     make(map[int]*Worker),
	}, nil
}

func (s *Spawner) argv(spec Spec) []string {
	argv := []string{
		"worker",
		"--entry", spec.Entry,
		"--instance", strconv.Itoa(spec.Instance),
		"--global", strconv.Itoa(spec.Global),
	}
	if spec.MaxOps > 0 {
		argv = append(argv, "--max-ops", strconv.FormatUint(spec.MaxOps, 10))
	}
	if len(spec.Files) > 0 {
		argv = append(argv, "--files", strconv.Itoa(len(spec.Files)))
	}
	if s.logLevel != "" {
		argv = append(argv, "--log-level", s.logLevel)
	}
	if s.logJSON {
		argv = append(argv, "--log-json")
	}
	keys := make([]string, 0, len(spec.Options))
	for k := range spec.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "--opt", k+"="+spec.Options[k])
	}
	return argv
}

// Spawn starts one worker. Fork-level failures that look transient
// (EAGAIN, ENOMEM) are retried after yielding the CPU, bounded by
// maxSpawnRetries. A run already stopping returns ErrStopped.
func (s *Spawner) Spawn(ctx context.Context, spec Spec) (*Worker, error) {
	argv := s.argv(spec)
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.cont() {
			return nil, ErrStopped
		}

		cmd := exec.Command(s.exe, argv...)
		cmd.ExtraFiles = append([]*os.File{s.store.File()}, spec.Files...)
		cmd.Stderr = s.errSink
		cmd.SysProcAttr = sysProcAttr()

		err := s.start(cmd)
		if err == nil {
			w := &Worker{
				Pid:       cmd.Process.Pid,
				Entry:     spec.Entry,
				Instance:  spec.Instance,
				Global:    spec.Global,
				StartedAt: time.Now(),
				cmd:       cmd,
			}
			s.track(w)
			s.log.Debugf("spawned %s pid %d (instance %d)", spec.Entry, w.Pid, spec.Instance)
			return w, nil
		}
		if !retryable(err) {
			return nil, fmt.Errorf("spawn %s: %w", spec.Entry, err)
		}
		if attempt+1 >= maxSpawnRetries {
			return nil, fmt.Errorf("spawn %s: %w after %d attempts", spec.Entry, err, attempt+1)
		}
		s.log.Debugf("spawn %s: transient %v, retrying", spec.Entry, err)
		s.yield()
	}
}

// retryable reports whether the fork-level error is worth retrying.
func retryable(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM)
}

func (s *Spawner) track(w *Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	w.seq = s.seq
	s.live[w.Pid] = w
}

// Reaped records that a worker was confirmed dead, removes it from
// the live set and releases its handle.
func (s *Spawner) Reaped(w *Worker) {
	w.MarkReaped()
	s.mu.Lock()
	delete(s.live, w.Pid)
	s.mu.Unlock()
	w.Release()
}

// Find returns the live worker with the given pid, if any.
func (s *Spawner) Find(pid int) *Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[pid]
}

// Live returns the workers not yet reaped, in spawn order.
func (s *Spawner) Live() []*Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Worker, 0, len(s.live))
	for _, w := range s.live {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
