//go:build !linux

package oomable

const (
	ScoreAvoid  = -1000
	ScorePrefer = 1000
)

func AdjustSelf(score int) error { return nil }
