package pipe

import (
	"io"
	"os"
	"strconv"
	"testing"

	"github.com/nxfs/stress-ng/internal/control"
	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/logging"
	"github.com/nxfs/stress-ng/internal/stressor"
)

func newArgs(t *testing.T, opts map[string]string) *stressor.Args {
	t.Helper()
	store, err := counters.NewStore([]counters.Instance{{Stressor: "pipe", Index: 0}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return &stressor.Args{
		Name:    "pipe",
		Store:   store,
		Ctrl:    control.NewWorker(store, 0, 0),
		Log:     logging.New(io.Discard, logging.Options{Level: logging.LevelError}),
		Options: opts,
	}
}

func TestStampSequence(t *testing.T) {
	buf := make([]byte, 64)
	fillBuf(buf, 12345)
	for _, val := range []uint32{0, 1, 0xdeadbeef, 1<<32 - 1} {
		stamp(buf, val)
		if got := sequence(buf); got != val {
			t.Fatalf("sequence = %d, want %d", got, val)
		}
	}
}

func TestFillBufVaries(t *testing.T) {
	buf := make([]byte, 256)
	fillBuf(buf, 99)
	seen := make(map[byte]bool)
	for _, b := range buf {
		seen[b] = true
	}
	if len(seen) < 16 {
		t.Fatalf("fill produced only %d distinct bytes", len(seen))
	}
}

func TestDataSize(t *testing.T) {
	if n, err := dataSize(newArgs(t, nil)); err != nil || n != defDataSize {
		t.Fatalf("default = %d, err %v", n, err)
	}
	if n, err := dataSize(newArgs(t, map[string]string{"pipe-data-size": "1k"})); err != nil || n != 1024 {
		t.Fatalf("1k = %d, err %v", n, err)
	}
	for _, bad := range []string{"4", "8k", "junk"} {
		if _, err := dataSize(newArgs(t, map[string]string{"pipe-data-size": bad})); err == nil {
			t.Fatalf("pipe-data-size=%q accepted", bad)
		}
	}
}

func TestReaderVerifiesSequence(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	const size = 64
	const seed = 7000
	args := newArgs(t, map[string]string{
		"pipe-data-size": strconv.Itoa(size),
		"pipe-seed":      strconv.Itoa(seed),
		"verify":         "true",
	})
	args.Files = []*os.File{r}

	done := make(chan stressor.ExitStatus, 1)
	go func() { done <- runReader(args) }()

	buf := make([]byte, size)
	fillBuf(buf, seed)
	for val := uint32(seed); val < seed+10; val++ {
		stamp(buf, val)
		if _, err := w.Write(buf); err != nil {
			t.Fatal(err)
		}
	}
	w.Close()

	if status := <-done; status != stressor.ExitSuccess {
		t.Fatalf("reader = %v, want success", status)
	}
}

func TestReaderDetectsBadSequence(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	const size = 64
	args := newArgs(t, map[string]string{
		"pipe-data-size": strconv.Itoa(size),
		"pipe-seed":      "1",
		"verify":         "true",
	})
	args.Files = []*os.File{r}

	done := make(chan stressor.ExitStatus, 1)
	go func() { done <- runReader(args) }()

	buf := make([]byte, size)
	stamp(buf, 42)
	if _, err := w.Write(buf); err != nil {
		t.Fatal(err)
	}
	w.Close()

	if status := <-done; status != stressor.ExitFailure {
		t.Fatalf("reader = %v, want failure on sequence mismatch", status)
	}
}

func TestReaderWithoutFile(t *testing.T) {
	if status := runReader(newArgs(t, nil)); status != stressor.ExitFailure {
		t.Fatalf("reader = %v, want failure without inherited fd", status)
	}
}

func TestNewPipeRoundTrip(t *testing.T) {
	r, w, err := newPipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	msg := []byte("ping")
	if _, err := w.Write(msg); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := r.Read(buf)
	if err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("read %q, err %v", buf[:n], err)
	}
}

func TestRegistered(t *testing.T) {
	if _, ok := stressor.Lookup("pipe"); !ok {
		t.Fatal("pipe not registered")
	}
	if _, ok := stressor.Lookup("pipe/reader"); !ok {
		t.Fatal("pipe/reader not registered")
	}
}
