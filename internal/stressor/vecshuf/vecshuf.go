// Package vecshuf stresses small-vector data movement: fixed-width
// lanes are permuted forward for a burst of rounds, then permuted back
// through the inverse mask, and the result is checked against the
// original data. A mismatch means the CPU or memory mangled data.
package vecshuf

import (
	"fmt"
	"time"

	"github.com/nxfs/stress-ng/internal/stressor"
)

const (
	laneBytes = 64
	// rounds per shuffle burst; one bogo-op is a full forward and
	// backward pass leaving the data restored.
	burstRounds = 256
)

type method struct {
	name string
	run  func(*state) error
}

var methods = []method{
	{"u8x64", (*state).shuffleU8},
	{"u16x32", (*state).shuffleU16},
	{"u32x16", (*state).shuffleU32},
	{"u64x8", (*state).shuffleU64},
}

func init() {
	stressor.Register(stressor.Info{
		Name:  "vecshuf",
		Help:  "shuffle fixed-width vectors forward and back, verifying contents",
		Class: stressor.ClassCPU | stressor.ClassMemory,
		Run:   run,
	})
}

// state carries the vector buffers and the permutation masks. Masks
// use a stride walk so every lane moves every round.
type state struct {
	u8  [laneBytes]uint8
	u16 [laneBytes / 2]uint16
	u32 [laneBytes / 4]uint32
	u64 [laneBytes / 8]uint64

	fwd8, rev8   [laneBytes]int
	fwd16, rev16 [laneBytes / 2]int
	fwd32, rev32 [laneBytes / 4]int
	fwd64, rev64 [laneBytes / 8]int

	shuffles uint64
	bytes    uint64
}

func newState() *state {
	s := &state{}
	for i := range s.u8 {
		s.u8[i] = uint8(i*7 + 1)
	}
	for i := range s.u16 {
		s.u16[i] = uint16(i*251 + 3)
	}
	for i := range s.u32 {
		s.u32[i] = uint32(i*65521 + 5)
	}
	for i := range s.u64 {
		s.u64[i] = uint64(i)*0x9e3779b97f4a7c15 + 7
	}
	fillMasks(s.fwd8[:], s.rev8[:])
	fillMasks(s.fwd16[:], s.rev16[:])
	fillMasks(s.fwd32[:], s.rev32[:])
	fillMasks(s.fwd64[:], s.rev64[:])
	return s
}

// fillMasks builds the 3i+1 permutation and its inverse. An odd
// stride stays a bijection on power-of-two lane counts, and no lane
// maps to itself.
func fillMasks(fwd, rev []int) {
	n := len(fwd)
	for i := 0; i < n; i++ {
		fwd[i] = (i*3 + 1) % n
	}
	for i, j := range fwd {
		rev[j] = i
	}
}

func permuteU8(dst, src *[laneBytes]uint8, mask *[laneBytes]int) {
	for i := range dst {
		dst[i] = src[mask[i]]
	}
}

func permuteU16(dst, src *[laneBytes / 2]uint16, mask *[laneBytes / 2]int) {
	for i := range dst {
		dst[i] = src[mask[i]]
	}
}

func permuteU32(dst, src *[laneBytes / 4]uint32, mask *[laneBytes / 4]int) {
	for i := range dst {
		dst[i] = src[mask[i]]
	}
}

func permuteU64(dst, src *[laneBytes / 8]uint64, mask *[laneBytes / 8]int) {
	for i := range dst {
		dst[i] = src[mask[i]]
	}
}

func (s *state) shuffleU8() error {
	orig := s.u8
	var tmp [laneBytes]uint8
	for r := 0; r < burstRounds; r++ {
		permuteU8(&tmp, &s.u8, &s.fwd8)
		s.u8 = tmp
	}
	for r := 0; r < burstRounds; r++ {
		permuteU8(&tmp, &s.u8, &s.rev8)
		s.u8 = tmp
	}
	s.shuffles += 2 * burstRounds
	s.bytes += 2 * burstRounds * laneBytes
	if s.u8 != orig {
		return fmt.Errorf("u8x64 data mismatch after shuffle round trip")
	}
	return nil
}

func (s *state) shuffleU16() error {
	orig := s.u16
	var tmp [laneBytes / 2]uint16
	for r := 0; r < burstRounds; r++ {
		permuteU16(&tmp, &s.u16, &s.fwd16)
		s.u16 = tmp
	}
	for r := 0; r < burstRounds; r++ {
		permuteU16(&tmp, &s.u16, &s.rev16)
		s.u16 = tmp
	}
	s.shuffles += 2 * burstRounds
	s.bytes += 2 * burstRounds * laneBytes
	if s.u16 != orig {
		return fmt.Errorf("u16x32 data mismatch after shuffle round trip")
	}
	return nil
}

func (s *state) shuffleU32() error {
	orig := s.u32
	var tmp [laneBytes / 4]uint32
	for r := 0; r < burstRounds; r++ {
		permuteU32(&tmp, &s.u32, &s.fwd32)
		s.u32 = tmp
	}
	for r := 0; r < burstRounds; r++ {
		permuteU32(&tmp, &s.u32, &s.rev32)
		s.u32 = tmp
	}
	s.shuffles += 2 * burstRounds
	s.bytes += 2 * burstRounds * laneBytes
	if s.u32 != orig {
		return fmt.Errorf("u32x16 data mismatch after shuffle round trip")
	}
	return nil
}

func (s *state) shuffleU64() error {
	orig := s.u64
	var tmp [laneBytes / 8]uint64
	for r := 0; r < burstRounds; r++ {
		permuteU64(&tmp, &s.u64, &s.fwd64)
		s.u64 = tmp
	}
	for r := 0; r < burstRounds; r++ {
		permuteU64(&tmp, &s.u64, &s.rev64)
		s.u64 = tmp
	}
	s.shuffles += 2 * burstRounds
	s.bytes += 2 * burstRounds * laneBytes
	if s.u64 != orig {
		return fmt.Errorf("u64x8 data mismatch after shuffle round trip")
	}
	return nil
}

func pickMethods(name string) ([]method, error) {
	if name == "" || name == "all" {
		return methods, nil
	}
	for _, m := range methods {
		if m.name == name {
			return []method{m}, nil
		}
	}
	return nil, fmt.Errorf("unknown vecshuf method %q", name)
}

func run(args *stressor.Args) stressor.ExitStatus {
	selected, err := pickMethods(args.Opt("vecshuf-method", "all"))
	if err != nil {
		args.Log.Errorf("%v", err)
		return stressor.ExitFailure
	}

	s := newState()
	started := time.Now()
	i := 0
	for args.Continue() {
		m := selected[i%len(selected)]
		t0 := time.Now()
		if err := m.run(s); err != nil {
			args.Log.Errorf("%v", err)
			return stressor.ExitFailure
		}
		args.Observe(time.Since(t0))
		args.Inc()
		i++
	}
	elapsed := time.Since(started).Seconds()
	if elapsed > 0 && s.shuffles > 0 {
		args.SetMetric(0, "millions of shuffles per sec", float64(s.shuffles)/elapsed/1e6)
		args.SetMetric(1, "MB per sec shuffled", float64(s.bytes)/elapsed/(1<<20))
	}
	return stressor.ExitSuccess
}
