package stressor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/nxfs/stress-ng/internal/control"
	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/logging"
	"github.com/nxfs/stress-ng/internal/reap"
	"github.com/nxfs/stress-ng/internal/shm"
	"github.com/nxfs/stress-ng/internal/spawn"
)

// MaxPayloadMetrics is the number of metric slots a stressor body may
// publish. The remaining slots carry op-latency percentiles recorded
// by the worker bootstrap.
const MaxPayloadMetrics = shm.MetricSlots - 2

// Latency percentile slots, written at worker teardown.
const (
	SlotLatencyP50 = shm.MetricSlots - 2
	SlotLatencyP99 = shm.MetricSlots - 1
)

// Args carries everything a stressor body needs: its identity, the
// shared counter record, the run controller, and the spawn/reap
// services used to run helper processes.
type Args struct {
	Name     string
	Instance int
	Global   int
	MaxOps   uint64

	// Ctx is cancelled when the worker is shutting down. Bodies that
	// spawn helpers or block on I/O should honor it.
	Ctx context.Context

	Store   *counters.Store
	Ctrl    *control.Controller
	Log     *logging.Logger
	Spawner *spawn.Spawner
	Reaper  *reap.Reaper

	Options map[string]string

	// Hist samples per-op latency. Only instance 0 of a stressor
	// carries one; the rest leave it nil.
	Hist *hdrhistogram.Histogram

	// Files holds descriptors inherited from the parent beyond the
	// shared region, in the order the parent listed them.
	Files []*os.File
}

// Record returns this instance's shared counter record.
func (a *Args) Record() *shm.Record { return a.Store.Record(a.Global) }

// Context returns Ctx, or the background context when unset.
func (a *Args) Context() context.Context {
	if a.Ctx != nil {
		return a.Ctx
	}
	return context.Background()
}

// Continue mirrors the classic keep-stressing check.
func (a *Args) Continue() bool { return a.Ctrl.Continue() }

// Inc adds one bogo-op.
func (a *Args) Inc() { a.Record().IncOps() }

// Observe accumulates one timed operation into the shared record and,
// when present, the latency histogram.
func (a *Args) Observe(d time.Duration) {
	a.Record().AddDuration(d, 1)
	if a.Hist != nil && d >= 0 {
		_ = a.Hist.RecordValue(d.Nanoseconds())
	}
}

// SetMetric publishes a named teardown metric. Slots beyond
// MaxPayloadMetrics are reserved and ignored here.
func (a *Args) SetMetric(slot int, label string, value float64) {
	if slot < 0 || slot >= MaxPayloadMetrics {
		return
	}
	a.Record().SetMetric(slot, label, value)
}

// Opt returns the raw option value, or def when unset.
func (a *Args) Opt(key, def string) string {
	if v, ok := a.Options[key]; ok {
		return v
	}
	return def
}

// OptInt parses an integer option.
func (a *Args) OptInt(key string, def int) (int, error) {
	v, ok := a.Options[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("option %s: invalid integer %q", key, v)
	}
	return n, nil
}

// OptBool parses a boolean option.
func (a *Args) OptBool(key string, def bool) (bool, error) {
	v, ok := a.Options[key]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("option %s: invalid boolean %q", key, v)
	}
	return b, nil
}

// OptBytes parses a byte-size option with optional k/m/g/t suffix.
func (a *Args) OptBytes(key string, def uint64) (uint64, error) {
	v, ok := a.Options[key]
	if !ok {
		return def, nil
	}
	n, err := ParseBytes(v)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	return n, nil
}

// OptDuration parses a duration option.
func (a *Args) OptDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := a.Options[key]
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("option %s: invalid duration %q", key, v)
	}
	return d, nil
}

// ParseBytes converts a size such as "64k" or "1m" into bytes using
// binary multiples.
func ParseBytes(s string) (uint64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := uint64(1)
	switch s[len(s)-1] {
	case 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	case 't':
		mult = 1 << 40
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}
