//go:build !linux && !darwin && !freebsd && !windows

package scanner

import (
	"os"
	"time"
)

// Volumes cannot be told apart here, so the walk never treats a subtree as foreign.
func volumeID(path string) (string, error) {
	return "", nil
}

func statTimes(path string, fi os.FileInfo) (created, modified, accessed time.Time) {
	return fi.ModTime(), fi.ModTime(), fi.ModTime()
}
