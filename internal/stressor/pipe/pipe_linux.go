//go:build linux

package pipe

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/nxfs/stress-ng/internal/stressor"
)

// newPipe prefers an O_DIRECT packet pipe so each write travels as one
// packet, falling back to a plain pipe.
func newPipe() (r, w *os.File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_DIRECT); err == nil {
		return os.NewFile(uintptr(fds[0]), "|0"), os.NewFile(uintptr(fds[1]), "|1"), nil
	}
	return os.Pipe()
}

// setPipeSize resizes the kernel pipe buffer. Failure keeps the
// default size and is only worth a log line.
func setPipeSize(args *stressor.Args, f *os.File, size int) {
	if _, err := unix.FcntlInt(f.Fd(), unix.F_SETPIPE_SZ, size); err != nil {
		args.Log.Errorf("cannot set pipe size, keeping default pipe size: %v", err)
		return
	}
	if sz, err := unix.FcntlInt(f.Fd(), unix.F_GETPIPE_SZ, 0); err == nil && sz < size {
		args.Log.Errorf("cannot set desired pipe size, pipe size=%d", sz)
	}
}
