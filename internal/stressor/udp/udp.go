// Package udp stresses loopback datagram traffic. The main worker
// binds a UDP socket and counts every datagram it receives; a helper
// process blasts it with bursts of growing packet sizes filled from a
// rotating character pattern.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nxfs/stress-ng/internal/spawn"
	"github.com/nxfs/stress-ng/internal/stressor"
)

const (
	defPort = 7000
	minPort = 1024
	maxPort = 65535

	// bufSize bounds a datagram; bursts send 16, 32, ... up to it.
	bufSize = 1024

	patterns = "ABCDEFGHIJKLMNOPQRSTUVWXYZ_+@:#!"
)

func init() {
	stressor.Register(stressor.Info{
		Name:  "udp",
		Help:  "start workers performing UDP send/receives",
		Class: stressor.ClassNetwork | stressor.ClassOS,
		Run:   run,
	})
	stressor.Register(stressor.Info{
		Name:  "udp/client",
		Help:  "udp helper sending datagram bursts to the worker",
		Class: stressor.ClassNetwork | stressor.ClassOS,
		Run:   runClient,
	})
}

// port returns this instance's UDP port: the base option plus the
// instance index, so side-by-side instances never collide.
func port(args *stressor.Args) (int, error) {
	base, err := args.OptInt("udp-port", defPort)
	if err != nil {
		return 0, err
	}
	if base < minPort || base > maxPort {
		return 0, fmt.Errorf("udp-port must be between %d and %d", minPort, maxPort)
	}
	p := base + args.Instance
	if p > maxPort {
		return 0, fmt.Errorf("udp port %d out of range for instance %d", p, args.Instance)
	}
	return p, nil
}

// network maps the udp-domain option onto a dial network and the
// matching loopback host.
func network(args *stressor.Args) (netw, host string, err error) {
	switch d := args.Opt("udp-domain", "ipv4"); d {
	case "ipv4":
		return "udp4", "127.0.0.1", nil
	case "ipv6":
		return "udp6", "::1", nil
	default:
		return "", "", fmt.Errorf("udp-domain must be ipv4 or ipv6, got %q", d)
	}
}

func patternChar(index int) byte {
	return patterns[index&0x1f]
}

func run(args *stressor.Args) stressor.ExitStatus {
	p, err := port(args)
	if err != nil {
		args.Log.Errorf("%v", err)
		return stressor.ExitFailure
	}
	netw, host, err := network(args)
	if err != nil {
		args.Log.Errorf("%v", err)
		return stressor.ExitFailure
	}
	gro, err := args.OptBool("udp-gro", false)
	if err != nil {
		args.Log.Errorf("%v", err)
		return stressor.ExitFailure
	}
	if lite, _ := args.OptBool("udp-lite", false); lite && args.Instance == 0 {
		args.Log.Infof("disabling UDP-Lite as it is not supported here")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(p))
	args.Log.Debugf("process [%d] using udp port %d", os.Getpid(), p)

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if serr == nil && gro {
					setGRO(int(fd))
				}
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), netw, addr)
	if err != nil {
		args.Log.Errorf("bind failed: %v", err)
		return stressor.ExitNoResource
	}
	defer pc.Close()

	client, err := args.Spawner.Spawn(args.Context(), spawn.Spec{
		Entry:    "udp/client",
		Instance: args.Instance,
		Global:   args.Global,
		MaxOps:   args.MaxOps,
		Options: map[string]string{
			"udp-addr": addr,
			"udp-net":  netw,
		},
	})
	if err != nil {
		if err == spawn.ErrStopped {
			return stressor.ExitSuccess
		}
		args.Log.Errorf("cannot spawn udp client: %v", err)
		return stressor.ExitNoResource
	}

	rc := serve(args, pc)
	args.Reaper.KillAndWait(client.Pid, syscall.SIGKILL, false)
	return rc
}

// serve counts datagrams until the run stops. Reads are bounded by a
// short deadline so the shared stop flag is observed promptly.
func serve(args *stressor.Args, pc net.PacketConn) stressor.ExitStatus {
	buf := make([]byte, bufSize)
	for i := 0; args.Continue(); i++ {
		_ = pc.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			args.Log.Errorf("recvfrom failed: %v", err)
			return stressor.ExitFailure
		}
		if n == 0 {
			break
		}
		if i&0x1ff == 0 {
			queuedInput(pc)
		}
		args.Inc()
	}
	return stressor.ExitSuccess
}

// runClient is the helper entry: burst datagrams of growing size at
// the worker until told to stop, then nudge the worker with SIGALRM.
func runClient(args *stressor.Args) stressor.ExitStatus {
	addr := args.Opt("udp-addr", "")
	netw := args.Opt("udp-net", "udp4")
	if addr == "" {
		args.Log.Errorf("udp client started without a target address")
		return stressor.ExitFailure
	}

	conn, err := net.Dial(netw, addr)
	if err != nil {
		args.Log.Errorf("socket failed: %v", err)
		return stressor.ExitFailure
	}
	defer conn.Close()

	rc := stressor.ExitSuccess
	buf := make([]byte, bufSize)
	index := 0
	for j := 0; args.Continue(); j++ {
		for i := 16; i < len(buf); i += 16 {
			c := patternChar(index)
			index++
			for k := 0; k < i; k++ {
				buf[k] = c
			}
			if _, err := conn.Write(buf[:i]); err != nil {
				if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EINTR) {
					break
				}
				if errors.Is(err, syscall.ECONNREFUSED) {
					// The worker is tearing down its socket.
					break
				}
				args.Log.Errorf("sendto failed: %v", err)
				rc = stressor.ExitFailure
				break
			}
		}
		if rc != stressor.ExitSuccess {
			break
		}
		if j&0x1ff == 0 {
			queuedOutput(conn)
		}
	}

	// Tell the worker the budget is spent so it stops counting.
	_ = unix.Kill(os.Getppid(), unix.SIGALRM)
	return rc
}
