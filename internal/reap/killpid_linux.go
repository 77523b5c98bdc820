//go:build linux

package reap

import "golang.org/x/sys/unix"

// KillPid delivers SIGKILL and asks the kernel to release the victim's
// memory early. The pidfd is opened before the kill so the reclaim
// targets the right process even if the pid is reused, and the kill
// result is what gets reported.
func KillPid(pid int) error {
	pidfd, pfdErr := unix.PidfdOpen(pid, 0)
	err := unix.Kill(pid, unix.SIGKILL)
	if pfdErr == nil {
		if err == nil {
			_, _, _ = unix.Syscall(unix.SYS_PROCESS_MRELEASE, uintptr(pidfd), 0, 0)
		}
		_ = unix.Close(pidfd)
	}
	return err
}
