//go:build linux

package shm

import (
	"os"

	"golang.org/x/sys/unix"
)

// createBacking prefers an anonymous memfd and falls back to an
// unlinked temp file on kernels without memfd_create.
func createBacking(size int) (*os.File, error) {
	fd, err := unix.MemfdCreate("stress-ng-shm", unix.MFD_CLOEXEC)
	if err == nil {
		f := os.NewFile(uintptr(fd), "stress-ng-shm")
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, err
		}
		return f, nil
	}
	return createTempBacking(size)
}
