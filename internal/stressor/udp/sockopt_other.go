//go:build !linux

package udp

import "net"

func setGRO(fd int) {}

func queuedInput(pc net.PacketConn) {}

func queuedOutput(conn net.Conn) {}
