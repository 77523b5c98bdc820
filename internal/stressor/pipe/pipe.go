// Package pipe stresses pipe I/O between a writer and a reader
// process. The writer stamps each buffer with an incrementing
// sequence word so the reader can verify nothing was lost, torn, or
// reordered in transit.
package pipe

import (
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nxfs/stress-ng/internal/spawn"
	"github.com/nxfs/stress-ng/internal/stressor"
)

const (
	defDataSize = 512
	minDataSize = 8
	maxDataSize = 4096

	minPipeSize = 4096
	maxPipeSize = 1 << 20
)

func init() {
	stressor.Register(stressor.Info{
		Name:  "pipe",
		Help:  "start workers exercising pipe I/O",
		Class: stressor.ClassPipeIO | stressor.ClassMemory | stressor.ClassOS,
		Run:   run,
	})
	stressor.Register(stressor.Info{
		Name:  "pipe/reader",
		Help:  "pipe helper draining and verifying the inherited read end",
		Class: stressor.ClassPipeIO | stressor.ClassMemory | stressor.ClassOS,
		Run:   runReader,
	})
}

// fillBuf seeds the payload with a cheap generator so the bytes after
// the sequence word are not all zero.
func fillBuf(buf []byte, seed uint32) {
	x := seed | 1
	for i := range buf {
		x = x*1664525 + 1013904223
		buf[i] = byte(x >> 24)
	}
}

func stamp(buf []byte, val uint32) {
	binary.LittleEndian.PutUint32(buf, val)
}

func sequence(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

func dataSize(args *stressor.Args) (int, error) {
	n, err := args.OptBytes("pipe-data-size", defDataSize)
	if err != nil {
		return 0, err
	}
	if n < minDataSize || n > maxDataSize {
		return 0, errors.New("pipe-data-size must be between 8 and 4096 bytes")
	}
	return int(n), nil
}

func run(args *stressor.Args) stressor.ExitStatus {
	size, err := dataSize(args)
	if err != nil {
		args.Log.Errorf("%v", err)
		return stressor.ExitFailure
	}
	verify, err := args.OptBool("verify", false)
	if err != nil {
		args.Log.Errorf("%v", err)
		return stressor.ExitFailure
	}

	r, w, err := newPipe()
	if err != nil {
		args.Log.Errorf("pipe failed: %v", err)
		return stressor.ExitFailure
	}

	if ps, err := args.OptBytes("pipe-size", 0); err != nil {
		args.Log.Errorf("%v", err)
		r.Close()
		w.Close()
		return stressor.ExitFailure
	} else if ps > 0 {
		if ps < minPipeSize || ps > maxPipeSize {
			args.Log.Errorf("pipe-size must be between 4k and 1m")
			r.Close()
			w.Close()
			return stressor.ExitFailure
		}
		setPipeSize(args, r, int(ps))
		setPipeSize(args, w, int(ps))
	}

	val := rand.Uint32()
	opts := map[string]string{
		"pipe-data-size": strconv.Itoa(size),
		"pipe-seed":      strconv.FormatUint(uint64(val), 10),
	}
	if verify {
		opts["verify"] = "true"
	}
	reader, err := args.Spawner.Spawn(args.Context(), spawn.Spec{
		Entry:    "pipe/reader",
		Instance: args.Instance,
		Global:   args.Global,
		MaxOps:   args.MaxOps,
		Options:  opts,
		Files:    []*os.File{r},
	})
	r.Close()
	if err != nil {
		w.Close()
		if err == spawn.ErrStopped {
			return stressor.ExitSuccess
		}
		args.Log.Errorf("cannot spawn pipe reader: %v", err)
		return stressor.ExitNoResource
	}

	rc := stressor.ExitSuccess
	buf := make([]byte, size)
	fillBuf(buf, val)

	var bytes uint64
	started := time.Now()
	for args.Continue() {
		stamp(buf, val)
		val++
		t0 := time.Now()
		n, werr := w.Write(buf)
		if werr != nil {
			if errors.Is(werr, syscall.EPIPE) || errors.Is(werr, os.ErrClosed) {
				break
			}
			args.Log.Errorf("write failed: %v", werr)
			rc = stressor.ExitFailure
			break
		}
		bytes += uint64(n)
		args.Observe(time.Since(t0))
		args.Inc()
	}
	if elapsed := time.Since(started).Seconds(); elapsed > 0 && bytes > 0 {
		args.SetMetric(0, "MB per sec pipe write rate", float64(bytes)/elapsed/(1<<20))
	}

	w.Close()
	args.Reaper.KillAndWait(reader.Pid, syscall.SIGPIPE, false)
	return rc
}

// runReader drains the inherited read end until EOF or stop,
// verifying the sequence stamps when asked to.
func runReader(args *stressor.Args) stressor.ExitStatus {
	if len(args.Files) < 1 {
		args.Log.Errorf("pipe reader started without an inherited descriptor")
		return stressor.ExitFailure
	}
	size, err := dataSize(args)
	if err != nil {
		args.Log.Errorf("%v", err)
		return stressor.ExitFailure
	}
	verify, _ := args.OptBool("verify", false)
	seed, err := args.OptInt("pipe-seed", 0)
	if err != nil {
		args.Log.Errorf("%v", err)
		return stressor.ExitFailure
	}

	r := args.Files[0]
	buf := make([]byte, size)
	val := uint32(seed)
	ok := true
	for i := 0; args.Continue(); i++ {
		n, rerr := r.Read(buf)
		if rerr != nil {
			if rerr == io.EOF || errors.Is(rerr, os.ErrClosed) {
				break
			}
			args.Log.Errorf("read failed: %v", rerr)
			ok = false
			break
		}
		if n == 0 {
			break
		}

		// Occasionally exercise FIONREAD on the read end.
		if i&0x1ff == 0 {
			_, _ = unix.IoctlGetInt(int(r.Fd()), unix.FIONREAD)
		}
		if verify {
			if got := sequence(buf[:n]); got != val {
				args.Log.Errorf("pipe read error detected, expected sequence %d, got %d", val, got)
				ok = false
			}
			val++
		}
	}
	if !ok {
		return stressor.ExitFailure
	}
	return stressor.ExitSuccess
}
