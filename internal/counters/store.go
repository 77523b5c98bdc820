// Package counters exposes the run's shared bogo-op counters and
// teardown metrics. The supervisor creates the store and hands its
// backing file to every worker; workers attach and update only their
// own instance record, though helper processes forked by a worker may
// increment the same record concurrently.
package counters

import (
	"fmt"
	"os"
	"time"

	"github.com/nxfs/stress-ng/internal/shm"
)

// Instance identifies one stressor instance slot in the store.
type Instance struct {
	Stressor string
	Index    int
}

// Name returns the conventional display name, e.g. "flock-0".
func (in Instance) Name() string {
	return fmt.Sprintf("%s-%d", in.Stressor, in.Index)
}

// Store wraps the shared region with instance naming and snapshots.
type Store struct {
	region *shm.Region
	names  []Instance
}

// NewStore creates the shared region with one record per instance.
func NewStore(instances []Instance) (*Store, error) {
	region, err := shm.Create(len(instances))
	if err != nil {
		return nil, err
	}
	names := make([]Instance, len(instances))
	copy(names, instances)
	return &Store{region: region, names: names}, nil
}

// Attach maps the region inherited from the supervisor. Attached
// stores carry records only; instance names stay with the creator.
func Attach(f *os.File) (*Store, error) {
	region, err := shm.Attach(f)
	if err != nil {
		return nil, err
	}
	return &Store{region: region}, nil
}

// File returns the backing file for fd inheritance.
func (s *Store) File() *os.File { return s.region.File() }

// Instances returns the number of records in the store.
func (s *Store) Instances() int { return s.region.Instances() }

// Record returns the shared record for global instance i.
func (s *Store) Record(i int) *shm.Record { return s.region.Record(i) }

// Instance returns the identity of global instance i. Attached stores
// fall back to a positional name.
func (s *Store) Instance(i int) Instance {
	if i >= 0 && i < len(s.names) {
		return s.names[i]
	}
	return Instance{Stressor: "instance", Index: i}
}

// RequestStop raises the shared stop flag for every process.
func (s *Store) RequestStop() { s.region.RequestStop() }

// Stopped reports whether the shared stop flag is raised.
func (s *Store) Stopped() bool { return s.region.Stopped() }

// SetDeadline publishes the absolute end of the run.
func (s *Store) SetDeadline(t time.Time) { s.region.SetDeadline(t) }

// Deadline returns the published end of the run, if any.
func (s *Store) Deadline() (time.Time, bool) { return s.region.Deadline() }

// Close releases the mapping. Counters already read stay valid.
func (s *Store) Close() error { return s.region.Close() }

// Metric is a named value published by a worker at teardown.
type Metric struct {
	Label string
	Value float64
}

// InstanceSnapshot is a point-in-time copy of one instance record.
type InstanceSnapshot struct {
	Stressor string
	Index    int
	Ops      uint64
	Duration time.Duration
	Samples  uint64
	Forced   uint64
	Restarts uint64
	State    shm.State
	Started  time.Time
	Metrics  []Metric
}

// Snapshot copies every instance record. Concurrent updates may land
// between field reads; each counter individually never goes backwards
// across successive snapshots.
func (s *Store) Snapshot() []InstanceSnapshot {
	out := make([]InstanceSnapshot, s.Instances())
	for i := range out {
		rec := s.Record(i)
		id := s.Instance(i)
		snap := InstanceSnapshot{
			Stressor: id.Stressor,
			Index:    id.Index,
			Ops:      rec.Ops(),
			Duration: rec.Duration(),
			Samples:  rec.Samples(),
			Forced:   rec.Forced(),
			Restarts: rec.Restarts(),
			State:    rec.State(),
		}
		if t, ok := rec.Started(); ok {
			snap.Started = t
		}
		for slot := 0; slot < shm.MetricSlots; slot++ {
			if label, value, ok := rec.Metric(slot); ok {
				snap.Metrics = append(snap.Metrics, Metric{Label: label, Value: value})
			}
		}
		out[i] = snap
	}
	return out
}
