//go:build !windows
// +build !windows

package health

import "golang.org/x/sys/unix"

// freeBytes reports free bytes on the filesystem containing path, via
// golang.org/x/sys/unix Statfs on unix platforms.
func freeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
