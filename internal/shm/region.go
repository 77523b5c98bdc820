// Package shm maps the shared-state region used by the supervisor and
// its worker processes. The region holds a small control header (stop
// flag, run deadline) followed by one fixed-size record per stressor
// instance. Workers inherit the backing file descriptor across exec
// and attach to the same mapping, so every field that can be touched
// while workers run is accessed with atomic operations.
package shm

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	regionMagic   = 0x53544e47 // "STNG"
	regionVersion = 1

	headerSize = 4096
)

type header struct {
	magic     uint32
	version   uint32
	stop      uint32
	_         uint32
	deadline  int64
	instances uint32
}

// Region is a MAP_SHARED view over the run's shared state.
type Region struct {
	f    *os.File
	data []byte
	n    int
}

// Create allocates a new region sized for the given number of stressor
// instances and maps it. The caller passes File to each spawned worker.
func Create(instances int) (*Region, error) {
	if instances <= 0 {
		return nil, fmt.Errorf("shm: instance count %d out of range", instances)
	}
	size := regionSize(instances)
	f, err := createBacking(size)
	if err != nil {
		return nil, fmt.Errorf("shm: create backing file: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: map %d bytes: %w", size, err)
	}
	r := &Region{f: f, data: data, n: instances}
	h := r.header()
	h.magic = regionMagic
	h.version = regionVersion
	h.instances = uint32(instances)
	return r, nil
}

// Attach maps an inherited backing file. The instance count is read
// back from the region header, so workers need no extra plumbing.
func Attach(f *os.File) (*Region, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shm: stat inherited region: %w", err)
	}
	size := int(fi.Size())
	if size < headerSize {
		return nil, fmt.Errorf("shm: inherited region too small (%d bytes)", size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: map inherited region: %w", err)
	}
	r := &Region{f: f, data: data}
	h := r.header()
	if h.magic != regionMagic {
		unix.Munmap(data)
		return nil, fmt.Errorf("shm: bad region magic %#x", h.magic)
	}
	if h.version != regionVersion {
		unix.Munmap(data)
		return nil, fmt.Errorf("shm: region version %d, want %d", h.version, regionVersion)
	}
	r.n = int(h.instances)
	if size < regionSize(r.n) {
		unix.Munmap(data)
		return nil, fmt.Errorf("shm: region truncated: %d bytes for %d instances", size, r.n)
	}
	return r, nil
}

func regionSize(instances int) int {
	size := headerSize + instances*recordSize
	page := os.Getpagesize()
	return (size + page - 1) / page * page
}

func (r *Region) header() *header {
	return (*header)(unsafe.Pointer(&r.data[0]))
}

// File returns the backing file, suitable for passing to a child via
// fd inheritance.
func (r *Region) File() *os.File { return r.f }

// Instances returns the number of records in the region.
func (r *Region) Instances() int { return r.n }

// Record returns the shared record for instance i.
func (r *Region) Record(i int) *Record {
	if i < 0 || i >= r.n {
		panic(fmt.Sprintf("shm: record index %d out of range [0,%d)", i, r.n))
	}
	off := headerSize + i*recordSize
	return (*Record)(unsafe.Pointer(&r.data[off]))
}

// RequestStop raises the shared stop flag. The flag is monotonic; it
// is never cleared for the lifetime of the run.
func (r *Region) RequestStop() {
	atomic.StoreUint32(&r.header().stop, 1)
}

// Stopped reports whether the shared stop flag has been raised.
func (r *Region) Stopped() bool {
	return atomic.LoadUint32(&r.header().stop) != 0
}

// SetDeadline publishes the absolute wall-clock end of the run.
func (r *Region) SetDeadline(t time.Time) {
	atomic.StoreInt64(&r.header().deadline, t.UnixNano())
}

// Deadline returns the published run deadline, if any.
func (r *Region) Deadline() (time.Time, bool) {
	ns := atomic.LoadInt64(&r.header().deadline)
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// Close unmaps the region and closes the backing file. The mapping in
// other processes is unaffected.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
