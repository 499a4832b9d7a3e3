//go:build windows

package instance

import (
	"fmt"
	"os/exec"

	"golang.org/x/sys/windows"
)

// IsProcessRunning reports whether pid identifies a live process, adapted
// from the teacher's windows.go (stripped of the cliaimonitor.exe name
// check, since the substrate daemon has its own binary name).
func IsProcessRunning(pid int) (bool, error) {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false, nil
	}
	defer windows.CloseHandle(handle)
	return true, nil
}

// KillProcess forcefully terminates a process via taskkill, same as the
// teacher's windows.go KillProcess.
func KillProcess(pid int) error {
	cmd := exec.Command("taskkill", "/F", "/PID", fmt.Sprintf("%d", pid))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("instance: kill process %d: %w (output: %s)", pid, err, string(output))
	}
	return nil
}
