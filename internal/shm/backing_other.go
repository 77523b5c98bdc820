//go:build !linux

package shm

import "os"

func createBacking(size int) (*os.File, error) {
	return createTempBacking(size)
}
