//go:build !linux

package mlock

import "github.com/nxfs/stress-ng/internal/stressor"

func run(args *stressor.Args) stressor.ExitStatus {
	args.Log.Infof("built without mlock support on this platform")
	return stressor.ExitNotImplemented
}
