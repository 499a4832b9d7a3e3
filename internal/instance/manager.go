// Package instance manages single-instance enforcement for the memory
// substrate daemon, adapted from the teacher's internal/instance package.
// The teacher locks via a Windows-only file handle (lock_windows.go);
// since the substrate must run on any platform the example corpus
// targets, process liveness here is checked through a build-tag split
// (process_unix.go / process_windows.go) instead of an OS-specific lock
// handle.
package instance

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Manager tracks the PID file for a running substrate daemon and detects
// conflicting instances before a new one binds its listener.
type Manager struct {
	pidFilePath string
	port        int
}

// Info describes a running instance as read back from its PID file.
type Info struct {
	PID          int
	Port         int
	StartedAt    time.Time
	IsRunning    bool
	IsResponding bool
}

type pidFileData struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
	Hostname  string    `json:"hostname"`
}

// NewManager constructs a Manager for the given PID file path and port.
func NewManager(pidFilePath string, port int) *Manager {
	return &Manager{pidFilePath: pidFilePath, port: port}
}

// GetPort returns the configured port.
func (m *Manager) GetPort() int { return m.port }

// SetPort overrides the configured port, used when the caller falls back
// to a different port after detecting a conflict.
func (m *Manager) SetPort(port int) { m.port = port }

// CheckExisting reports any running instance found via the PID file. A
// stale PID file (dead process) is removed and nil is returned instead of
// an error. A live process whose port does not respond is still returned,
// with IsResponding=false.
func (m *Manager) CheckExisting() (*Info, error) {
	data, err := m.readPIDFile()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("instance: read PID file: %w", err)
	}

	running, err := IsProcessRunning(data.PID)
	if err != nil {
		return nil, fmt.Errorf("instance: check process: %w", err)
	}
	if !running {
		_ = m.RemovePIDFile()
		return nil, nil
	}

	responding := HealthCheck(data.Port) == nil
	return &Info{
		PID: data.PID, Port: data.Port, StartedAt: data.StartedAt,
		IsRunning: true, IsResponding: responding,
	}, nil
}

// WritePIDFile records the current process as the active instance. Call
// this only after the HTTP listener has confirmed bind, so a PID file
// never points at a process that failed to start.
func (m *Manager) WritePIDFile(pid, port int) error {
	hostname, _ := os.Hostname()
	data := pidFileData{PID: pid, Port: port, StartedAt: time.Now(), Hostname: hostname}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("instance: marshal PID data: %w", err)
	}
	if err := os.WriteFile(m.pidFilePath, raw, 0644); err != nil {
		return fmt.Errorf("instance: write PID file: %w", err)
	}
	return nil
}

// RemovePIDFile deletes the PID file if present.
func (m *Manager) RemovePIDFile() error {
	if err := os.Remove(m.pidFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("instance: remove PID file: %w", err)
	}
	return nil
}

func (m *Manager) readPIDFile() (*pidFileData, error) {
	raw, err := os.ReadFile(m.pidFilePath)
	if err != nil {
		return nil, err
	}
	var data pidFileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("instance: parse PID file: %w", err)
	}
	return &data, nil
}
