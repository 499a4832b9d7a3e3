//go:build windows
// +build windows

package health

import "golang.org/x/sys/windows"

// freeBytes reports free bytes on the volume containing path, via the
// Windows GetDiskFreeSpaceEx API.
func freeBytes(path string) (uint64, error) {
	var freeAvail, totalBytes, totalFree uint64
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeAvail, &totalBytes, &totalFree); err != nil {
		return 0, err
	}
	return freeAvail, nil
}
