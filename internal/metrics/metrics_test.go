package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/shm"
)

func TestCountersRoundTripThroughRegistry(t *testing.T) {
	SetBogoOps("flock", "0", 1234)
	if got := testutil.ToFloat64(bogoOps.WithLabelValues("flock", "0")); got != 1234 {
		t.Fatalf("bogo_ops = %v, want 1234", got)
	}

	before := testutil.ToFloat64(forcedKills.WithLabelValues("pipe"))
	IncForcedKill("pipe")
	IncForcedKill("pipe")
	if got := testutil.ToFloat64(forcedKills.WithLabelValues("pipe")); got != before+2 {
		t.Fatalf("forced_kills_total = %v, want %v", got, before+2)
	}

	before = testutil.ToFloat64(oomRestarts.WithLabelValues("mlock"))
	IncOOMRestart("mlock")
	if got := testutil.ToFloat64(oomRestarts.WithLabelValues("mlock")); got != before+1 {
		t.Fatalf("oom_restarts_total = %v, want %v", got, before+1)
	}

	IncForcedKill("")
	if got := testutil.ToFloat64(forcedKills.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("empty stressor not routed to unknown: %v", got)
	}
}

func TestSamplePublishesStoreSnapshot(t *testing.T) {
	store, err := counters.NewStore([]counters.Instance{
		{Stressor: "udp", Index: 0},
		{Stressor: "udp", Index: 1},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	store.Record(0).AddOps(55)
	store.Record(0).SetState(shm.StateRun)
	store.Record(1).SetState(shm.StateExit)

	sample(store)

	if got := testutil.ToFloat64(bogoOps.WithLabelValues("udp", "0")); got != 55 {
		t.Fatalf("bogo_ops{udp,0} = %v, want 55", got)
	}
	if got := testutil.ToFloat64(workersRunning.WithLabelValues("udp")); got != 1 {
		t.Fatalf("workers_running{udp} = %v, want 1", got)
	}
}

func TestBuildInfoRegistered(t *testing.T) {
	EmitBuildInfo()
	EmitBuildInfo()

	families, err := Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, fam := range families {
		if strings.HasSuffix(fam.GetName(), "build_info") {
			found = true
			if len(fam.GetMetric()) != 1 {
				t.Fatalf("build_info emitted %d series, want 1", len(fam.GetMetric()))
			}
		}
	}
	if !found {
		t.Fatal("build_info not gathered")
	}
}
