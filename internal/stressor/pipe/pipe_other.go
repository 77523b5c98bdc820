//go:build !linux

package pipe

import (
	"os"

	"github.com/nxfs/stress-ng/internal/stressor"
)

func newPipe() (r, w *os.File, err error) {
	return os.Pipe()
}

func setPipeSize(args *stressor.Args, f *os.File, size int) {
	args.Log.Debugf("pipe resizing not supported on this platform")
}
