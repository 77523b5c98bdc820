package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/shm"
)

// RunSampler publishes counter snapshots and system utilisation into
// the registry until ctx is cancelled. One final sample is taken on
// the way out so scrape-after-stop sees the closing numbers.
func RunSampler(ctx context.Context, store *counters.Store, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sample(store)
			return
		case <-ticker.C:
			sample(store)
		}
	}
}

func sample(store *counters.Store) {
	running := make(map[string]int)
	for _, snap := range store.Snapshot() {
		SetBogoOps(snap.Stressor, strconv.Itoa(snap.Index), snap.Ops)
		if _, ok := running[snap.Stressor]; !ok {
			running[snap.Stressor] = 0
		}
		if snap.State == shm.StateRun {
			running[snap.Stressor]++
		}
	}
	for name, n := range running {
		SetWorkersRunning(name, n)
	}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		if vm, err := mem.VirtualMemory(); err == nil {
			SetSystemSample(pcts[0], vm.UsedPercent, vm.Available)
		}
	}
}
