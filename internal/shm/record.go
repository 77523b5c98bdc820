package shm

import (
	"math"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	// MetricSlots is the number of named metric values each instance
	// can publish at teardown.
	MetricSlots = 8

	metricLabelLen = 56
	recordSize     = 1024
)

// State tracks the coarse lifecycle phase of a worker, mainly for
// live display.
type State uint64

const (
	StateInit State = iota
	StateRun
	StateDeinit
	StateExit
)

// String returns the short display name of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRun:
		return "run"
	case StateDeinit:
		return "deinit"
	case StateExit:
		return "exit"
	default:
		return "?"
	}
}

// MetricSlot is a label/value pair published by a worker. The value
// holds float64 bits and is the only field read while live.
type MetricSlot struct {
	label [metricLabelLen]byte
	value uint64
}

// Record is the per-instance slice of the shared region. Counter
// fields only ever increase; concurrent increments from a worker and
// its helper processes are safe.
type Record struct {
	ops      uint64
	duration uint64
	samples  uint64
	forced   uint64
	restarts uint64
	state    uint64
	started  int64
	_        [recordPad]byte
	slots    [MetricSlots]MetricSlot
}

const recordPad = recordSize - MetricSlots*(metricLabelLen+8) - 7*8

const _ = uintptr(recordSize) - unsafe.Sizeof(Record{})

// IncOps adds one bogo-op to the record.
func (r *Record) IncOps() { atomic.AddUint64(&r.ops, 1) }

// AddOps adds n bogo-ops to the record.
func (r *Record) AddOps(n uint64) { atomic.AddUint64(&r.ops, n) }

// Ops returns the accumulated bogo-op count.
func (r *Record) Ops() uint64 { return atomic.LoadUint64(&r.ops) }

// AddDuration accumulates time spent in timed operations together
// with the number of samples it covers.
func (r *Record) AddDuration(d time.Duration, samples uint64) {
	if d > 0 {
		atomic.AddUint64(&r.duration, uint64(d))
	}
	atomic.AddUint64(&r.samples, samples)
}

// Duration returns the accumulated timed-operation time.
func (r *Record) Duration() time.Duration {
	return time.Duration(atomic.LoadUint64(&r.duration))
}

// Samples returns the number of timed operations recorded.
func (r *Record) Samples() uint64 { return atomic.LoadUint64(&r.samples) }

// IncForced counts one forced SIGKILL escalation against the record.
func (r *Record) IncForced() { atomic.AddUint64(&r.forced, 1) }

// Forced returns the forced-kill escalation count.
func (r *Record) Forced() uint64 { return atomic.LoadUint64(&r.forced) }

// IncRestarts counts one low-memory respawn of the worker body.
func (r *Record) IncRestarts() { atomic.AddUint64(&r.restarts, 1) }

// Restarts returns the respawn count.
func (r *Record) Restarts() uint64 { return atomic.LoadUint64(&r.restarts) }

// SetState publishes the worker lifecycle phase.
func (r *Record) SetState(s State) { atomic.StoreUint64(&r.state, uint64(s)) }

// State returns the last published lifecycle phase.
func (r *Record) State() State { return State(atomic.LoadUint64(&r.state)) }

// MarkStarted publishes the worker start time.
func (r *Record) MarkStarted(t time.Time) {
	atomic.StoreInt64(&r.started, t.UnixNano())
}

// Started returns the worker start time, if published.
func (r *Record) Started() (time.Time, bool) {
	ns := atomic.LoadInt64(&r.started)
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// SetMetric publishes a named metric value into slot i. Labels longer
// than the slot are truncated. Metrics are written once, by the owning
// worker, during its teardown.
func (r *Record) SetMetric(i int, label string, value float64) {
	if i < 0 || i >= MetricSlots {
		return
	}
	s := &r.slots[i]
	n := copy(s.label[:], label)
	for j := n; j < metricLabelLen; j++ {
		s.label[j] = 0
	}
	atomic.StoreUint64(&s.value, math.Float64bits(value))
}

// Metric reads slot i. It reports false for slots that were never
// written.
func (r *Record) Metric(i int) (label string, value float64, ok bool) {
	if i < 0 || i >= MetricSlots {
		return "", 0, false
	}
	s := &r.slots[i]
	end := 0
	for end < metricLabelLen && s.label[end] != 0 {
		end++
	}
	if end == 0 {
		return "", 0, false
	}
	return string(s.label[:end]), math.Float64frombits(atomic.LoadUint64(&s.value)), true
}
