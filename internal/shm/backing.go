package shm

import "os"

// createTempBacking makes an unlinked temp file so the region vanishes
// with the last descriptor even if the supervisor dies uncleanly.
func createTempBacking(size int) (*os.File, error) {
	f, err := os.CreateTemp("", "stress-ng-shm-*")
	if err != nil {
		return nil, err
	}
	os.Remove(f.Name())
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
