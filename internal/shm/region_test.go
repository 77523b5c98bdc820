package shm

import (
	"os"
	"sync"
	"testing"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

func TestRecordLayout(t *testing.T) {
	if got := unsafe.Sizeof(Record{}); got != recordSize {
		t.Fatalf("record size = %d, want %d", got, recordSize)
	}
	if off := unsafe.Offsetof(Record{}.slots); off%8 != 0 {
		t.Fatalf("metric slots misaligned at offset %d", off)
	}
}

func TestCreateRejectsBadInstanceCount(t *testing.T) {
	if _, err := Create(0); err == nil {
		t.Fatal("expected error for zero instances")
	}
	if _, err := Create(-3); err == nil {
		t.Fatal("expected error for negative instances")
	}
}

func TestStopFlagVisibleAcrossAttach(t *testing.T) {
	r, err := Create(2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer r.Close()

	fd, err := unix.Dup(int(r.File().Fd()))
	if err != nil {
		t.Fatalf("dup backing fd: %v", err)
	}
	other, err := Attach(os.NewFile(uintptr(fd), "dup"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer other.Close()

	if other.Instances() != 2 {
		t.Fatalf("attached instances = %d, want 2", other.Instances())
	}
	if other.Stopped() {
		t.Fatal("stop flag set before request")
	}
	r.RequestStop()
	if !other.Stopped() {
		t.Fatal("stop flag not visible through second mapping")
	}

	deadline := time.Now().Add(time.Minute).Truncate(time.Nanosecond)
	r.SetDeadline(deadline)
	got, ok := other.Deadline()
	if !ok || !got.Equal(deadline) {
		t.Fatalf("deadline = %v ok=%v, want %v", got, ok, deadline)
	}

	r.Record(1).AddOps(7)
	if got := other.Record(1).Ops(); got != 7 {
		t.Fatalf("ops through second mapping = %d, want 7", got)
	}
}

func TestAttachRejectsForeignFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-region")
	if err != nil {
		t.Fatalf("temp: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(headerSize + recordSize); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if _, err := Attach(f); err == nil {
		t.Fatal("expected magic validation to fail")
	}
}

func TestCountersMonotoneUnderConcurrentWriters(t *testing.T) {
	r, err := Create(1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer r.Close()
	rec := r.Record(0)

	const writers = 8
	const perWriter = 1000

	done := make(chan struct{})
	go func() {
		defer close(done)
		var last uint64
		for i := 0; i < 20000; i++ {
			now := rec.Ops()
			if now < last {
				t.Errorf("ops went backwards: %d -> %d", last, now)
				return
			}
			last = now
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				rec.IncOps()
			}
		}()
	}
	wg.Wait()
	<-done

	if got := rec.Ops(); got != writers*perWriter {
		t.Fatalf("ops = %d, want %d", got, writers*perWriter)
	}
}

func TestMetricSlots(t *testing.T) {
	r, err := Create(1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer r.Close()
	rec := r.Record(0)

	if _, _, ok := rec.Metric(0); ok {
		t.Fatal("unwritten slot reported ok")
	}

	rec.SetMetric(0, "nanosecs per lock call", 123.5)
	label, value, ok := rec.Metric(0)
	if !ok || label != "nanosecs per lock call" || value != 123.5 {
		t.Fatalf("slot 0 = (%q, %v, %v)", label, value, ok)
	}

	long := "this label is far longer than the slot has room to store in full"
	rec.SetMetric(1, long, 1)
	label, _, ok = rec.Metric(1)
	if !ok || len(label) != metricLabelLen {
		t.Fatalf("long label stored as %q (%d bytes)", label, len(label))
	}

	rec.SetMetric(-1, "x", 1)
	rec.SetMetric(MetricSlots, "x", 1)
}

func TestRecordStateAndTimes(t *testing.T) {
	r, err := Create(1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer r.Close()
	rec := r.Record(0)

	if rec.State() != StateInit {
		t.Fatalf("initial state = %v", rec.State())
	}
	rec.SetState(StateRun)
	if rec.State() != StateRun {
		t.Fatalf("state = %v, want run", rec.State())
	}

	if _, ok := rec.Started(); ok {
		t.Fatal("start time set before mark")
	}
	now := time.Now()
	rec.MarkStarted(now)
	got, ok := rec.Started()
	if !ok || got.UnixNano() != now.UnixNano() {
		t.Fatalf("started = %v ok=%v", got, ok)
	}

	rec.AddDuration(3*time.Millisecond, 2)
	rec.AddDuration(time.Millisecond, 1)
	if rec.Duration() != 4*time.Millisecond || rec.Samples() != 3 {
		t.Fatalf("duration=%v samples=%d", rec.Duration(), rec.Samples())
	}
}
