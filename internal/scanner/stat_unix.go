//go:build linux || darwin || freebsd

package scanner

import (
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// volumeID returns the device number holding path.
func volumeID(path string) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(st.Dev), 10), nil
}

// statTimes returns change, modification and access times. Falls back to
// the modification time when the raw stat fails.
func statTimes(path string, fi os.FileInfo) (created, modified, accessed time.Time) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fi.ModTime(), fi.ModTime(), fi.ModTime()
	}
	return time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec)),
		time.Unix(int64(st.Mtim.Sec), int64(st.Mtim.Nsec)),
		time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec))
}
