// Package signest stresses signal delivery with cascades: the handler
// for each signal in a fixed list re-raises every later signal in the
// list, so one kick at the head fans out into a storm of nested
// deliveries. Every handled signal is one bogo-op.
package signest

import (
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/nxfs/stress-ng/internal/stressor"
)

// cascade lists the signals in raise order. Only signals that are
// safe to catch and re-raise at ourselves qualify; the fault-class
// ones the kernel raises synchronously stay out.
var cascade = []syscall.Signal{
	syscall.SIGHUP,
	syscall.SIGQUIT,
	syscall.SIGXCPU,
	syscall.SIGXFSZ,
	syscall.SIGVTALRM,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
	syscall.SIGTTOU,
	syscall.SIGTTIN,
	syscall.SIGWINCH,
}

func init() {
	stressor.Register(stressor.Info{
		Name:  "signest",
		Help:  "start workers generating nested signals",
		Class: stressor.ClassSignal | stressor.ClassOS,
		Run:   run,
	})
}

type nest struct {
	args *stressor.Args
	pid  int

	chans []chan os.Signal
	done  chan struct{}
	wg    sync.WaitGroup

	depth     atomic.Int32
	maxDepth  atomic.Int32
	signalled atomic.Uint32
}

func (n *nest) raise(sig syscall.Signal) {
	_ = unix.Kill(n.pid, sig)
}

// handle services one signal in the list. Each delivery bumps the
// in-flight depth, counts an op, and re-raises the tail of the list.
func (n *nest) handle(i int) {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			return
		case <-n.chans[i]:
		}

		d := n.depth.Add(1)
		for {
			m := n.maxDepth.Load()
			if d <= m || n.maxDepth.CompareAndSwap(m, d) {
				break
			}
		}
		n.signalled.Or(1 << uint(i))

		if n.args.Continue() {
			n.args.Inc()
			for j := i + 1; j < len(cascade); j++ {
				if !n.args.Continue() {
					break
				}
				n.raise(cascade[j])
			}
		}
		n.depth.Add(-1)
	}
}

// handledNames renders the set of observed signals the way the kernel
// names them, minus the SIG prefix.
func handledNames(signalled uint32) (int, string) {
	var b strings.Builder
	count := 0
	for i, sig := range cascade {
		if signalled&(1<<uint(i)) == 0 {
			continue
		}
		count++
		name := unix.SignalName(sig)
		name = strings.TrimPrefix(name, "SIG")
		b.WriteByte(' ')
		b.WriteString(name)
	}
	return count, b.String()
}

func run(args *stressor.Args) stressor.ExitStatus {
	n := &nest{
		args:  args,
		pid:   os.Getpid(),
		chans: make([]chan os.Signal, len(cascade)),
		done:  make(chan struct{}),
	}
	for i, sig := range cascade {
		n.chans[i] = make(chan os.Signal, 1)
		signal.Notify(n.chans[i], sig)
		n.wg.Add(1)
		go n.handle(i)
	}

	for args.Continue() {
		n.raise(cascade[0])
		runtime.Gosched()
	}

	close(n.done)
	n.wg.Wait()
	// The notify registrations stay for the life of the process. A
	// straggler delivered after teardown lands in a buffered channel
	// rather than falling through to the kernel default action.

	count, names := handledNames(n.signalled.Load())
	if args.Instance == 0 {
		args.Log.Infof("%d unique nested signals handled,%s", count, names)
		args.Log.Debugf("max in-flight signal depth %d", n.maxDepth.Load())
	}
	args.SetMetric(0, "max nested signal depth", float64(n.maxDepth.Load()))
	return stressor.ExitSuccess
}
