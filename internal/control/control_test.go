package control

import (
	"syscall"
	"testing"
	"time"

	"github.com/nxfs/stress-ng/internal/counters"
)

func testStore(t *testing.T) *counters.Store {
	t.Helper()
	s, err := counters.NewStore([]counters.Instance{{Stressor: "pipe", Index: 0}})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLocalStopLatches(t *testing.T) {
	store := testStore(t)
	c := NewWorker(store, 0, 0)

	if !c.Continue() {
		t.Fatal("fresh controller should continue")
	}
	c.Stop()
	if c.Continue() {
		t.Fatal("continue after local stop")
	}
	if store.Stopped() {
		t.Fatal("local stop must not raise the shared flag")
	}
}

func TestStopAllReachesOtherControllers(t *testing.T) {
	store := testStore(t)
	sup := NewSupervisor(store)
	worker := NewWorker(store, 0, 0)

	sup.StopAll()
	if worker.Continue() {
		t.Fatal("worker did not observe shared stop")
	}
	if sup.Continue() {
		t.Fatal("supervisor did not stop itself")
	}
}

func TestOpsBudgetStopsWorker(t *testing.T) {
	store := testStore(t)
	c := NewWorker(store, 0, 3)

	rec := store.Record(0)
	for i := 0; i < 2; i++ {
		if !c.Continue() {
			t.Fatalf("stopped early at %d ops", rec.Ops())
		}
		rec.IncOps()
	}
	rec.IncOps()
	if c.Continue() {
		t.Fatal("continue after ops budget reached")
	}
}

func TestFailMarksAndStops(t *testing.T) {
	store := testStore(t)
	c := NewWorker(store, 0, 0)

	c.Fail()
	if c.Continue() {
		t.Fatal("continue after fail")
	}
	if !c.Failed() {
		t.Fatal("failed flag not set")
	}
}

func TestArmDeadline(t *testing.T) {
	store := testStore(t)
	c := NewWorker(store, 0, 0)

	cancel := c.ArmDeadline(time.Hour, func() { t.Error("hard exit fired with no deadline") })
	cancel()
	if !c.Continue() {
		t.Fatal("controller stopped with no deadline set")
	}

	store.SetDeadline(time.Now().Add(20 * time.Millisecond))
	hard := make(chan struct{})
	cancel = c.ArmDeadline(30*time.Millisecond, func() { close(hard) })
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for c.Continue() {
		if time.Now().After(deadline) {
			t.Fatal("soft deadline never stopped the controller")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-hard:
	case <-time.After(2 * time.Second):
		t.Fatal("hard exit never fired")
	}
}

func TestHandleSignals(t *testing.T) {
	store := testStore(t)
	c := NewWorker(store, 0, 0)

	release := c.HandleSignals(syscall.SIGUSR1)
	defer release()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill self: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Continue() {
		if time.Now().After(deadline) {
			t.Fatal("signal never stopped the controller")
		}
		time.Sleep(time.Millisecond)
	}
	release()
}
