//go:build linux

package udp

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func setGRO(fd int) {
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_UDP, unix.UDP_GRO, 1)
}

type rawConner interface {
	SyscallConn() (syscall.RawConn, error)
}

func queuedBytes(conn any, req uint) {
	rc, ok := conn.(rawConner)
	if !ok {
		return
	}
	sc, err := rc.SyscallConn()
	if err != nil {
		return
	}
	_ = sc.Control(func(fd uintptr) {
		_, _ = unix.IoctlGetInt(int(fd), req)
	})
}

// queuedInput exercises SIOCINQ on the receive socket.
func queuedInput(pc net.PacketConn) { queuedBytes(pc, unix.SIOCINQ) }

// queuedOutput exercises SIOCOUTQ on the send socket.
func queuedOutput(conn net.Conn) { queuedBytes(conn, unix.SIOCOUTQ) }
