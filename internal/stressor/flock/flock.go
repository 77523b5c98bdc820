// Package flock stresses advisory file locking. The main worker and a
// small crew of helper processes hammer flock on one shared open file
// description, cycling exclusive, shared, and non-blocking modes.
package flock

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nxfs/stress-ng/internal/spawn"
	"github.com/nxfs/stress-ng/internal/stressor"
)

// lockers is the number of helper processes contending alongside the
// main worker.
const lockers = 3

func init() {
	stressor.Register(stressor.Info{
		Name:  "flock",
		Help:  "start workers locking a single file",
		Class: stressor.ClassFilesystem | stressor.ClassOS,
		Run:   run,
	})
	stressor.Register(stressor.Info{
		Name:  "flock/locker",
		Help:  "flock helper contending on the inherited file",
		Class: stressor.ClassFilesystem | stressor.ClassOS,
		Run:   runLocker,
	})
}

// badFd returns a descriptor number that should not be open, for
// exercising the error path. Falls back to -1.
func badFd() int {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return -1
	}
	if lim.Cur > 1 {
		return int(lim.Cur - 1)
	}
	return -1
}

type locker struct {
	args  *stressor.Args
	fd    int
	bad   int
	stop  bool
	ok    bool
	lockD time.Duration
	lockN uint64
	unlkD time.Duration
	unlkN uint64
}

// round takes and releases one lock. Lock failures are not errors,
// they are the point: a contended or invalid mode just moves on.
func (l *locker) round(how int) {
	t0 := time.Now()
	if err := unix.Flock(l.fd, how); err != nil {
		return
	}
	d := time.Since(t0)
	l.lockD += d
	l.lockN++
	l.args.Observe(d)

	cont := l.args.Continue()
	if cont {
		l.args.Inc()
	}
	t0 = time.Now()
	if err := unix.Flock(l.fd, unix.LOCK_UN); err == nil {
		l.unlkD += time.Since(t0)
		l.unlkN++
	}
	if !cont {
		l.stop = true
	}
}

func (l *locker) loop() {
	l.ok = true
	for i := 0; ; i++ {
		l.round(unix.LOCK_EX)
		if l.stop {
			break
		}

		// Exercise flock with an invalid fd.
		_ = unix.Flock(l.bad, unix.LOCK_EX)
		_ = unix.Flock(l.bad, unix.LOCK_UN)

		l.round(unix.LOCK_EX | unix.LOCK_NB)
		if l.stop {
			break
		}

		// LOCK_NB alone is not a lock operation and must be rejected.
		if err := unix.Flock(l.fd, unix.LOCK_NB); err == nil {
			l.args.Log.Errorf("flock accepted LOCK_NB without an operation, expected EINVAL")
			_ = unix.Flock(l.fd, unix.LOCK_UN)
			l.ok = false
		}

		if !l.args.Continue() {
			break
		}
		l.round(unix.LOCK_SH)
		if l.stop {
			break
		}

		if !l.args.Continue() {
			break
		}
		l.round(unix.LOCK_SH | unix.LOCK_NB)
		if l.stop {
			break
		}

		if !l.args.Continue() {
			break
		}
		// Invalid mode combination; the kernel may accept or reject it.
		l.round(unix.LOCK_EX | unix.LOCK_SH)
		if l.stop {
			break
		}

		if i&0xff == 0 {
			readProcLocks()
		}
	}
}

func (l *locker) saveMetrics() {
	if l.lockN > 0 {
		l.args.SetMetric(0, "nanosecs per flock lock call",
			float64(l.lockD.Nanoseconds())/float64(l.lockN))
	}
	if l.unlkN > 0 {
		l.args.SetMetric(1, "nanosecs per flock unlock call",
			float64(l.unlkD.Nanoseconds())/float64(l.unlkN))
	}
}

// readProcLocks pulls the kernel lock table through the proc window,
// exercising the accounting side of flock.
func readProcLocks() {
	if runtime.GOOS != "linux" {
		return
	}
	f, err := os.Open("/proc/locks")
	if err != nil {
		return
	}
	buf := make([]byte, 4096)
	_, _ = f.Read(buf)
	_ = f.Close()
}

func run(args *stressor.Args) stressor.ExitStatus {
	dir, err := os.MkdirTemp("", "stress-flock-*")
	if err != nil {
		args.Log.Errorf("cannot make temporary directory: %v", err)
		return stressor.ExitNoResource
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, fmt.Sprintf("flock-%d", os.Getpid()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		args.Log.Errorf("failed to create %s: %v", path, err)
		return stressor.ExitNoResource
	}

	rc := stressor.ExitSuccess
	var pids []int
	for i := 0; i < lockers; i++ {
		w, err := args.Spawner.Spawn(args.Context(), spawn.Spec{
			Entry:    "flock/locker",
			Instance: args.Instance,
			Global:   args.Global,
			MaxOps:   args.MaxOps,
			Files:    []*os.File{f},
		})
		if err != nil {
			if err != spawn.ErrStopped {
				args.Log.Errorf("cannot spawn flock helper: %v", err)
				rc = stressor.ExitNoResource
			}
			goto reap
		}
		pids = append(pids, w.Pid)
	}

	{
		l := &locker{args: args, fd: int(f.Fd()), bad: badFd()}
		l.loop()
		l.saveMetrics()
		if !l.ok {
			rc = stressor.ExitFailure
		}
	}

reap:
	_ = f.Close()
	args.Reaper.KillAndWaitMany(pids, syscall.SIGALRM, true)
	_ = os.Remove(path)
	return rc
}

// runLocker is the helper entry. The contended file arrives as the
// first inherited descriptor.
func runLocker(args *stressor.Args) stressor.ExitStatus {
	if len(args.Files) < 1 {
		args.Log.Errorf("flock helper started without an inherited file")
		return stressor.ExitFailure
	}
	l := &locker{args: args, fd: int(args.Files[0].Fd()), bad: badFd()}
	l.loop()
	if !l.ok {
		return stressor.ExitFailure
	}
	return stressor.ExitSuccess
}
