package signest

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/nxfs/stress-ng/internal/control"
	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/logging"
	"github.com/nxfs/stress-ng/internal/stressor"
)

func TestHandledNames(t *testing.T) {
	count, names := handledNames(0)
	if count != 0 || names != "" {
		t.Fatalf("empty bitmap = %d %q", count, names)
	}

	count, names = handledNames(1)
	if count != 1 || names != " HUP" {
		t.Fatalf("bit 0 = %d %q", count, names)
	}

	count, names = handledNames(1<<0 | 1<<5 | 1<<9)
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	for _, want := range []string{" HUP", " USR1", " WINCH"} {
		if !strings.Contains(names, want) {
			t.Fatalf("names %q missing %q", names, want)
		}
	}
	if strings.Contains(names, "SIG") {
		t.Fatalf("names %q should not carry the SIG prefix", names)
	}
}

func TestCascadeRunStopsAtBudget(t *testing.T) {
	const budget = 25
	store, err := counters.NewStore([]counters.Instance{{Stressor: "signest", Index: 0}})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	args := &stressor.Args{
		Name:   "signest",
		MaxOps: budget,
		Store:  store,
		Ctrl:   control.NewWorker(store, 0, budget),
		Log:    logging.New(io.Discard, logging.Options{Level: logging.LevelError}),
	}

	done := make(chan stressor.ExitStatus, 1)
	go func() { done <- run(args) }()

	select {
	case status := <-done:
		if status != stressor.ExitSuccess {
			t.Fatalf("run = %v", status)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("cascade did not stop at its ops budget")
	}

	ops := store.Record(0).Ops()
	if ops < budget {
		t.Fatalf("ops = %d, want at least %d", ops, budget)
	}
	if ops > budget+uint64(2*len(cascade)) {
		t.Fatalf("ops = %d, overshot the budget too far", ops)
	}

	label, depth, ok := store.Record(0).Metric(0)
	if !ok || label != "max nested signal depth" {
		t.Fatalf("metric = %q ok=%v", label, ok)
	}
	if depth < 1 {
		t.Fatalf("depth = %v, want at least 1", depth)
	}
}

func TestRegistered(t *testing.T) {
	info, ok := stressor.Lookup("signest")
	if !ok {
		t.Fatal("signest not registered")
	}
	if info.Class&stressor.ClassSignal == 0 {
		t.Fatal("signest should carry the signal class")
	}
}
