//go:build windows

package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// volumeID returns the lower-cased volume mount point of path, so folders
// mounted from another volume are told apart from their parent drive.
func volumeID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	p, err := windows.UTF16PtrFromString(abs)
	if err != nil {
		return "", err
	}
	buf := make([]uint16, windows.MAX_PATH+1)
	if err := windows.GetVolumePathName(p, &buf[0], uint32(len(buf))); err != nil {
		return strings.ToLower(filepath.VolumeName(abs)), nil
	}
	return strings.ToLower(windows.UTF16ToString(buf)), nil
}

func statTimes(path string, fi os.FileInfo) (created, modified, accessed time.Time) {
	d, ok := fi.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return fi.ModTime(), fi.ModTime(), fi.ModTime()
	}
	return time.Unix(0, d.CreationTime.Nanoseconds()),
		time.Unix(0, d.LastWriteTime.Nanoseconds()),
		time.Unix(0, d.LastAccessTime.Nanoseconds())
}
