//go:build !linux

package reap

import "golang.org/x/sys/unix"

func KillPid(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}
