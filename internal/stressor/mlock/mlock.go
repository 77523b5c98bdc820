// Package mlock stresses page locking. Chunks of anonymous memory are
// mapped and their middle page locked until the kernel refuses, then
// everything is unlocked and unmapped and the cycle repeats. Runs
// under the OOM-avoidance wrapper since locked pages squeeze memory.
package mlock

import "github.com/nxfs/stress-ng/internal/stressor"

func init() {
	stressor.Register(stressor.Info{
		Name:    "mlock",
		Help:    "start workers exercising mlock/munlock",
		Class:   stressor.ClassVM | stressor.ClassOS,
		Oomable: true,
		Run:     run,
	})
}
