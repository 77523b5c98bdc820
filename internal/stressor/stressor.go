// Package stressor defines the stressor catalog and the arguments a
// worker body runs with. Stressor implementations live in their own
// packages and register themselves at init time; the supervisor and
// the worker bootstrap both consult the same registry.
package stressor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ExitStatus is the process exit taxonomy shared by the supervisor
// and workers. Values follow the traditional stress-ng numbering.
type ExitStatus int

const (
	ExitSuccess        ExitStatus = 0
	ExitFailure        ExitStatus = 1
	ExitNoResource     ExitStatus = 3
	ExitNotImplemented ExitStatus = 4
	ExitSignaled       ExitStatus = 5
)

// String returns a short human-readable name for the status.
func (e ExitStatus) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitFailure:
		return "failure"
	case ExitNoResource:
		return "no resource"
	case ExitNotImplemented:
		return "not implemented"
	case ExitSignaled:
		return "killed by signal"
	default:
		return fmt.Sprintf("exit status %d", int(e))
	}
}

// ExitFromCode maps a raw process exit code back into the taxonomy.
// Unknown codes count as failures.
func ExitFromCode(code int) ExitStatus {
	switch ExitStatus(code) {
	case ExitSuccess, ExitFailure, ExitNoResource, ExitNotImplemented, ExitSignaled:
		return ExitStatus(code)
	default:
		return ExitFailure
	}
}

// Class is a bitmask describing which kernel subsystems a stressor
// leans on. Used for catalog listing and class-based selection.
type Class uint32

const (
	ClassCPU Class = 1 << iota
	ClassMemory
	ClassOS
	ClassNetwork
	ClassFilesystem
	ClassScheduler
	ClassSignal
	ClassPipeIO
	ClassVM
)

var classNames = []struct {
	c    Class
	name string
}{
	{ClassCPU, "cpu"},
	{ClassMemory, "memory"},
	{ClassOS, "os"},
	{ClassNetwork, "network"},
	{ClassFilesystem, "filesystem"},
	{ClassScheduler, "scheduler"},
	{ClassSignal, "signal"},
	{ClassPipeIO, "pipe-io"},
	{ClassVM, "vm"},
}

// String renders the class set as a comma-separated list.
func (c Class) String() string {
	var parts []string
	for _, cn := range classNames {
		if c&cn.c != 0 {
			parts = append(parts, cn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Info describes one registered entry. Entries with a slash in the
// name ("flock/locker") are helper bodies spawned by a stressor and
// are hidden from the catalog.
type Info struct {
	Name    string
	Help    string
	Class   Class
	Oomable bool
	Run     func(*Args) ExitStatus
}

func (i Info) internal() bool { return strings.Contains(i.Name, "/") }

var (
	regMu    sync.RWMutex
	registry = make(map[string]Info)
)

// Register adds an entry to the registry. It panics on an empty name,
// a nil body or a duplicate registration, all of which are programmer
// errors in a stressor package's init.
func Register(info Info) {
	if info.Name == "" {
		panic("stressor: register with empty name")
	}
	if info.Run == nil {
		panic(fmt.Sprintf("stressor: register %q with nil body", info.Name))
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[info.Name]; dup {
		panic(fmt.Sprintf("stressor: duplicate registration of %q", info.Name))
	}
	registry[info.Name] = info
}

// Lookup returns the entry registered under name.
func Lookup(name string) (Info, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	info, ok := registry[name]
	return info, ok
}

// Catalog returns all public stressors sorted by name.
func Catalog() []Info {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]Info, 0, len(registry))
	for _, info := range registry {
		if !info.internal() {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted public stressor names.
func Names() []string {
	catalog := Catalog()
	names := make([]string, len(catalog))
	for i, info := range catalog {
		names[i] = info.Name
	}
	return names
}
