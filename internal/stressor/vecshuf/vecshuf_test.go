package vecshuf

import (
	"io"
	"testing"

	"github.com/nxfs/stress-ng/internal/control"
	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/logging"
	"github.com/nxfs/stress-ng/internal/stressor"
)

func TestFillMasksInverse(t *testing.T) {
	for _, n := range []int{8, 16, 32, 64} {
		fwd := make([]int, n)
		rev := make([]int, n)
		fillMasks(fwd, rev)
		seen := make(map[int]bool, n)
		for i := 0; i < n; i++ {
			if fwd[i] < 0 || fwd[i] >= n {
				t.Fatalf("n=%d fwd[%d] = %d out of range", n, i, fwd[i])
			}
			if seen[fwd[i]] {
				t.Fatalf("n=%d fwd not a permutation, %d repeated", n, fwd[i])
			}
			seen[fwd[i]] = true
			if rev[fwd[i]] != i {
				t.Fatalf("n=%d rev is not the inverse of fwd at %d", n, i)
			}
		}
	}
}

func TestShuffleRoundTripsRestoreData(t *testing.T) {
	s := newState()
	u8, u16, u32, u64 := s.u8, s.u16, s.u32, s.u64
	for _, m := range methods {
		if err := m.run(s); err != nil {
			t.Fatalf("%s: %v", m.name, err)
		}
	}
	if s.u8 != u8 || s.u16 != u16 || s.u32 != u32 || s.u64 != u64 {
		t.Fatal("shuffle methods did not restore original data")
	}
	if s.shuffles != uint64(len(methods))*2*burstRounds {
		t.Fatalf("shuffles = %d", s.shuffles)
	}
}

func TestShuffleDetectsCorruption(t *testing.T) {
	s := newState()
	s.fwd8[0], s.fwd8[1] = s.fwd8[1], s.fwd8[0]
	if err := s.shuffleU8(); err == nil {
		t.Fatal("expected mismatch with broken mask")
	}
}

func TestPickMethods(t *testing.T) {
	all, err := pickMethods("all")
	if err != nil || len(all) != 4 {
		t.Fatalf("pickMethods(all) = %d methods, err %v", len(all), err)
	}
	one, err := pickMethods("u32x16")
	if err != nil || len(one) != 1 || one[0].name != "u32x16" {
		t.Fatalf("pickMethods(u32x16) = %v, err %v", one, err)
	}
	if _, err := pickMethods("nope"); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestRunStopsAtOpsBudget(t *testing.T) {
	store, err := counters.NewStore([]counters.Instance{{Stressor: "vecshuf", Index: 0}})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctrl := control.NewWorker(store, 0, 3)
	args := &stressor.Args{
		Name:     "vecshuf",
		Instance: 0,
		Global:   0,
		MaxOps:   3,
		Store:    store,
		Ctrl:     ctrl,
		Log:      logging.New(io.Discard, logging.Options{Level: logging.LevelError}),
	}
	if status := run(args); status != stressor.ExitSuccess {
		t.Fatalf("run = %v", status)
	}
	if ops := store.Record(0).Ops(); ops != 3 {
		t.Fatalf("ops = %d, want 3", ops)
	}
}

func TestRegistered(t *testing.T) {
	info, ok := stressor.Lookup("vecshuf")
	if !ok {
		t.Fatal("vecshuf not registered")
	}
	if info.Class&stressor.ClassCPU == 0 {
		t.Fatal("vecshuf should carry the cpu class")
	}
}
