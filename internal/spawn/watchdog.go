package spawn

import (
	"os"
	"time"
)

// WatchParent polls for reparenting and calls onOrphan once if the
// parent goes away. This backs up the kernel parent-death signal,
// which is delivered per thread rather than per process.
func WatchParent(interval time.Duration, onOrphan func()) (stop func()) {
	parent := os.Getppid()
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if os.Getppid() != parent {
					onOrphan()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
