//go:build linux

package mlock

import (
	"io"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/nxfs/stress-ng/internal/control"
	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/logging"
	"github.com/nxfs/stress-ng/internal/stressor"
)

func newLocker(t *testing.T, maxOps uint64, maxChunks int) (*locker, *counters.Store) {
	t.Helper()
	store, err := counters.NewStore([]counters.Instance{{Stressor: "mlock", Index: 0}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	t.Cleanup(func() { unix.Munlockall() })
	args := &stressor.Args{
		Name:   "mlock",
		MaxOps: maxOps,
		Store:  store,
		Ctrl:   control.NewWorker(store, 0, maxOps),
		Log:    logging.New(io.Discard, logging.Options{Level: logging.LevelError}),
	}
	return &locker{args: args, page: os.Getpagesize(), max: maxChunks, useMlock2: true}, store
}

// skipIfUnlockable skips when the environment forbids locking even a
// single page, as locked-down containers do.
func skipIfUnlockable(t *testing.T) {
	t.Helper()
	mem, err := unix.Mmap(-1, 0, os.Getpagesize(),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		t.Skipf("mmap: %v", err)
	}
	defer unix.Munmap(mem)
	if err := unix.Mlock(mem); err != nil {
		t.Skipf("cannot mlock in this environment: %v", err)
	}
	_ = unix.Munlock(mem)
}

func TestLockPhaseCountsLocks(t *testing.T) {
	skipIfUnlockable(t)

	l, store := newLocker(t, 100, 4)
	if rc := l.lockPhase(); rc != stressor.ExitSuccess {
		t.Fatalf("lockPhase = %v", rc)
	}
	if ops := store.Record(0).Ops(); ops != 4 {
		t.Fatalf("ops = %d, want 4", ops)
	}
	locked := 0
	for _, c := range l.chunks {
		if c.locked {
			locked++
		}
	}
	if locked != 4 {
		t.Fatalf("locked chunks = %d, want 4", locked)
	}

	l.unlockPhase()
	if len(l.chunks) != 0 {
		t.Fatalf("chunks not drained: %d", len(l.chunks))
	}
	if l.unlockN != 4 {
		t.Fatalf("unlockN = %d, want 4", l.unlockN)
	}
}

func TestLockPhaseHonorsBudget(t *testing.T) {
	skipIfUnlockable(t)

	l, store := newLocker(t, 2, 100)
	if rc := l.lockPhase(); rc != stressor.ExitSuccess {
		t.Fatalf("lockPhase = %v", rc)
	}
	l.unlockPhase()
	if ops := store.Record(0).Ops(); ops != 2 {
		t.Fatalf("ops = %d, want the budget", ops)
	}
}

func TestDoMlockFallsBackFromMlock2(t *testing.T) {
	skipIfUnlockable(t)

	l, _ := newLocker(t, 0, 1)
	mem, err := unix.Mmap(-1, 0, l.page,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Munmap(mem)

	for i := 0; i < 8; i++ {
		if _, err := l.doMlock(mem); err != nil {
			t.Fatalf("doMlock: %v", err)
		}
		_ = unix.Munlock(mem)
	}
	if l.lockN != 8 {
		t.Fatalf("lockN = %d, want 8", l.lockN)
	}
}

func TestChunkBudget(t *testing.T) {
	page := os.Getpagesize()

	l, _ := newLocker(t, 0, 1)
	n, err := chunkBudget(l.args, page)
	if err != nil || n != maxChunks {
		t.Fatalf("default budget = %d, err %v", n, err)
	}

	l.args.Options = map[string]string{"mlock-bytes": "64k"}
	n, err = chunkBudget(l.args, page)
	if err != nil || n != 65536/page {
		t.Fatalf("64k budget = %d, err %v", n, err)
	}

	l.args.Options = map[string]string{"mlock-bytes": "1"}
	n, err = chunkBudget(l.args, page)
	if err != nil || n != 1 {
		t.Fatalf("tiny budget = %d, err %v", n, err)
	}

	l.args.Options = map[string]string{"mlock-bytes": "junk"}
	if _, err := chunkBudget(l.args, page); err == nil {
		t.Fatal("mlock-bytes=junk accepted")
	}
}

func TestSaveMetrics(t *testing.T) {
	l, store := newLocker(t, 0, 1)
	l.lockD, l.lockN = 4000, 4
	l.unlockD, l.unlockN = 1000, 2
	l.saveMetrics()

	label, value, ok := store.Record(0).Metric(0)
	if !ok || label != "nanosecs per mlock call" || value != 1000 {
		t.Fatalf("metric 0 = %q %v ok=%v", label, value, ok)
	}
	label, value, ok = store.Record(0).Metric(1)
	if !ok || label != "nanosecs per munlock call" || value != 500 {
		t.Fatalf("metric 1 = %q %v ok=%v", label, value, ok)
	}
}

func TestRegisteredOomable(t *testing.T) {
	info, ok := stressor.Lookup("mlock")
	if !ok {
		t.Fatal("mlock not registered")
	}
	if !info.Oomable {
		t.Fatal("mlock must run under the OOM-avoidance wrapper")
	}
}
