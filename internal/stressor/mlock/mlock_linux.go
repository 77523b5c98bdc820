//go:build linux

package mlock

import (
	"math/rand"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nxfs/stress-ng/internal/stressor"
)

// maxChunks bounds the mapping table per lock cycle.
const maxChunks = 256 * 1024

type chunk struct {
	mem    []byte
	locked bool
}

type locker struct {
	args *stressor.Args
	page int
	max  int

	// mlock2 is tried at random until the kernel reports ENOSYS.
	useMlock2 bool

	lockD   time.Duration
	lockN   uint64
	unlockD time.Duration
	unlockN uint64

	chunks []chunk
}

// doMlock locks the given range, picking mlock2 with random flags
// when it is still believed to exist.
func (l *locker) doMlock(b []byte) (time.Duration, error) {
	if l.useMlock2 && rand.Uint32()&1 != 0 {
		flags := 0
		if rand.Uint32()&1 != 0 {
			flags = unix.MLOCK_ONFAULT
		}
		t0 := time.Now()
		err := unix.Mlock2(b, flags)
		if err == nil {
			d := time.Since(t0)
			l.lockD += d
			l.lockN++
			return d, nil
		}
		if err != unix.ENOSYS {
			return 0, err
		}
		l.useMlock2 = false
	}
	t0 := time.Now()
	if err := unix.Mlock(b); err != nil {
		return 0, err
	}
	d := time.Since(t0)
	l.lockD += d
	l.lockN++
	return d, nil
}

// middle returns the middle page of a three page chunk.
func (l *locker) middle(c chunk) []byte {
	return c.mem[l.page : 2*l.page]
}

// lockPhase maps chunks and locks their middle pages until the kernel
// pushes back or the budget runs out. Each successful lock is one
// bogo-op.
func (l *locker) lockPhase() stressor.ExitStatus {
	for n := 0; n < l.max; n++ {
		if !l.args.Continue() {
			break
		}
		mem, err := unix.Mmap(-1, 0, 3*l.page,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
		if err != nil {
			break
		}
		c := chunk{mem: mem}
		l.chunks = append(l.chunks, c)

		// Invalid mlock2 flags, failure expected and ignored.
		_ = unix.Mlock2(l.middle(c), ^0)
		// Zero-length lock, also just kernel exercise.
		_, _ = l.doMlock(l.middle(c)[:0])

		if !l.args.Continue() {
			break
		}
		d, err := l.doMlock(l.middle(c))
		switch err {
		case nil:
			l.chunks[len(l.chunks)-1].locked = true
			l.args.Observe(d)
			l.args.Inc()
		case unix.EAGAIN:
			continue
		case unix.ENOMEM, unix.EPERM:
			// The kernel pushed back; shrink later cycles to what
			// actually fit.
			if n > 0 && n < l.max {
				l.max = n
			}
			return stressor.ExitSuccess
		default:
			l.args.Log.Errorf("mlock failed: %v", err)
			return stressor.ExitFailure
		}

		if n&1023 == 0 {
			l.lockallRound()
		}
	}
	return stressor.ExitSuccess
}

// unlockPhase unlocks and unmaps every chunk from the lock phase.
func (l *locker) unlockPhase() {
	for _, c := range l.chunks {
		if l.args.Continue() {
			if c.locked {
				t0 := time.Now()
				if err := unix.Munlock(l.middle(c)); err == nil {
					l.unlockD += time.Since(t0)
					l.unlockN++
				}
			}
			_ = unix.Munlock(l.middle(c)[:0])
		}
		_ = unix.Munmap(c.mem)
	}
	l.chunks = l.chunks[:0]
}

// remapPhase maps a wave of single pages, drops every lock in the
// process with munlockall, and unmaps again.
func (l *locker) remapPhase() {
	var pages [][]byte
	for n := 0; n < l.max; n++ {
		if !l.args.Continue() {
			break
		}
		mem, err := unix.Mmap(-1, 0, l.page,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
		if err != nil {
			break
		}
		pages = append(pages, mem)
	}
	_ = unix.Munlockall()
	for _, mem := range pages {
		_ = unix.Munmap(mem)
	}
}

// lockallRound walks the mlockall flag combinations, including two
// invalid ones the kernel must reject.
func (l *locker) lockallRound() {
	flag := 0
	if !l.args.Continue() {
		return
	}
	_ = unix.Mlockall(unix.MCL_CURRENT)
	flag |= unix.MCL_CURRENT
	if !l.args.Continue() {
		return
	}
	_ = unix.Mlockall(unix.MCL_FUTURE)
	flag |= unix.MCL_FUTURE
	if !l.args.Continue() {
		return
	}
	if unix.Mlockall(unix.MCL_ONFAULT|unix.MCL_CURRENT) == nil {
		flag |= unix.MCL_ONFAULT | unix.MCL_CURRENT
	}
	if !l.args.Continue() {
		return
	}
	// MCL_ONFAULT alone and an all-ones mask are invalid.
	_ = unix.Mlockall(unix.MCL_ONFAULT)
	_ = unix.Mlockall(^0)
	if flag != 0 && l.args.Continue() {
		_ = unix.Mlockall(flag)
	}
}

func (l *locker) saveMetrics() {
	if l.lockN > 0 {
		l.args.SetMetric(0, "nanosecs per mlock call",
			float64(l.lockD.Nanoseconds())/float64(l.lockN))
	}
	if l.unlockN > 0 {
		l.args.SetMetric(1, "nanosecs per munlock call",
			float64(l.unlockD.Nanoseconds())/float64(l.unlockN))
	}
}

// chunkBudget caps the chunk table from the mlock-bytes option. Each
// chunk pins one page, so the byte budget divides down to a count.
func chunkBudget(args *stressor.Args, page int) (int, error) {
	b, err := args.OptBytes("mlock-bytes", 0)
	if err != nil {
		return 0, err
	}
	if b == 0 {
		return maxChunks, nil
	}
	n := int(b / uint64(page))
	if n < 1 {
		n = 1
	}
	if n > maxChunks {
		n = maxChunks
	}
	return n, nil
}

func run(args *stressor.Args) stressor.ExitStatus {
	page := os.Getpagesize()
	max, err := chunkBudget(args, page)
	if err != nil {
		args.Log.Errorf("%v", err)
		return stressor.ExitFailure
	}
	l := &locker{
		args:      args,
		page:      page,
		max:       max,
		useMlock2: true,
	}
	rc := stressor.ExitSuccess
	for args.Continue() {
		rc = l.lockPhase()
		l.unlockPhase()
		if rc != stressor.ExitSuccess {
			break
		}
		l.remapPhase()
	}
	l.saveMetrics()
	return rc
}
