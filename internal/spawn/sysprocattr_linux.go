//go:build linux

package spawn

import "syscall"

// sysProcAttr puts each worker in its own process group so terminal
// signals stay with the supervisor, and arranges for the kernel to
// deliver the stop signal if the supervisor dies first.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGALRM,
	}
}
