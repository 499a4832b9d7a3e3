package instance

import (
	"fmt"
	"os"
)

// lockFile is kept out of Manager as a single package-level *os.File shared
// by AcquireLock/ReleaseLock, mirroring the handle field the
// teacher's Windows-only lock_windows.go kept on InstanceManager.
var lockFile *os.File

// AcquireLock claims an exclusive startup lock so two processes racing to
// become the instance can't both win. Unlike the teacher's
// windows.CreateFile call, O_EXCL works identically on every platform the
// substrate targets.
func (m *Manager) AcquireLock() error {
	lockPath := m.pidFilePath + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("instance: lock held, another instance may be starting")
		}
		return fmt.Errorf("instance: acquire lock: %w", err)
	}
	fmt.Fprintf(f, "%d", os.Getpid())
	lockFile = f
	return nil
}

// ReleaseLock releases the startup lock acquired by AcquireLock.
func (m *Manager) ReleaseLock() error {
	if lockFile == nil {
		return nil
	}
	lockFile.Close()
	lockFile = nil
	lockPath := m.pidFilePath + ".lock"
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("instance: release lock: %w", err)
	}
	return nil
}
