//go:build linux

package oomable

import (
	"os"
	"strconv"
)

// OOM score endpoints understood by the kernel.
const (
	ScoreAvoid  = -1000
	ScorePrefer = 1000
)

// AdjustSelf writes this process's oom_score_adj. Lowering the score
// needs privilege; callers treat failure as advisory.
func AdjustSelf(score int) error {
	return os.WriteFile("/proc/self/oom_score_adj", []byte(strconv.Itoa(score)), 0644)
}
