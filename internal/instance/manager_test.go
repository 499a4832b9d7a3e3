package instance

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewManagerGetSetPort(t *testing.T) {
	mgr := NewManager("/tmp/test.pid", 3000)
	if mgr.GetPort() != 3000 {
		t.Errorf("GetPort() = %d, want 3000", mgr.GetPort())
	}
	mgr.SetPort(8080)
	if mgr.GetPort() != 8080 {
		t.Errorf("GetPort() after SetPort = %d, want 8080", mgr.GetPort())
	}
}

func TestWriteReadRemovePIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	mgr := NewManager(pidPath, 3000)

	if err := mgr.WritePIDFile(12345, 3000); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	if _, err := os.Stat(pidPath); os.IsNotExist(err) {
		t.Fatal("PID file was not created")
	}

	data, err := mgr.readPIDFile()
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if data.PID != 12345 || data.Port != 3000 {
		t.Errorf("unexpected PID data: %+v", data)
	}
	if time.Since(data.StartedAt) > 5*time.Second {
		t.Error("StartedAt timestamp is too old")
	}

	if err := mgr.RemovePIDFile(); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatal("PID file was not removed")
	}
}

func TestRemovePIDFileNonExistentIsNotError(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "nonexistent.pid"), 3000)
	if err := mgr.RemovePIDFile(); err != nil {
		t.Errorf("RemovePIDFile on missing file = %v, want nil", err)
	}
}

func TestReadPIDFileInvalidJSON(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "invalid.pid")
	if err := os.WriteFile(pidPath, []byte("not valid json"), 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	mgr := NewManager(pidPath, 3000)
	if _, err := mgr.readPIDFile(); err == nil {
		t.Error("expected an error on invalid JSON")
	}
}

func TestPIDFileFormat(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "format.pid")
	mgr := NewManager(pidPath, 3000)
	if err := mgr.WritePIDFile(99999, 8080); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}

	raw, err := os.ReadFile(pidPath)
	if err != nil {
		t.Fatalf("read PID file: %v", err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("parse PID file: %v", err)
	}
	for _, field := range []string{"pid", "port", "started_at", "hostname"} {
		if _, ok := data[field]; !ok {
			t.Errorf("PID file missing field %q", field)
		}
	}
	if int(data["pid"].(float64)) != 99999 {
		t.Errorf("pid = %v, want 99999", data["pid"])
	}
}

func TestCheckExistingNoFile(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "nonexistent.pid"), 3000)
	info, err := mgr.CheckExisting()
	if err != nil {
		t.Fatalf("CheckExisting: %v", err)
	}
	if info != nil {
		t.Error("expected nil info when no PID file exists")
	}
}

func TestCheckExistingStalePID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "invalid.pid")
	mgr := NewManager(pidPath, 3000)
	if err := mgr.WritePIDFile(999999, 3000); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}

	info, err := mgr.CheckExisting()
	if err != nil {
		t.Fatalf("CheckExisting: %v", err)
	}
	if info != nil {
		t.Error("expected nil info for a PID that doesn't exist")
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("stale PID file should have been removed")
	}
}

func TestCheckExistingCurrentProcess(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "current.pid")
	mgr := NewManager(pidPath, 3000)
	currentPID := os.Getpid()
	if err := mgr.WritePIDFile(currentPID, 3000); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}

	info, err := mgr.CheckExisting()
	if err != nil {
		t.Fatalf("CheckExisting: %v", err)
	}
	if info == nil {
		t.Fatal("expected a non-nil info for the current process")
	}
	if info.PID != currentPID || info.Port != 3000 || !info.IsRunning {
		t.Errorf("unexpected info: %+v", info)
	}
	mgr.RemovePIDFile()
}

func TestLockAcquireRelease(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "lock.pid")
	mgr := NewManager(pidPath, 3000)

	if err := mgr.AcquireLock(); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	lockPath := pidPath + ".lock"
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Error("lock file was not created")
	}

	mgr2 := NewManager(pidPath, 3000)
	if err := mgr2.AcquireLock(); err == nil {
		t.Error("AcquireLock should fail while the lock is held")
		mgr2.ReleaseLock()
	}

	if err := mgr.ReleaseLock(); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("lock file was not removed")
	}
}

func TestReleaseLockNotAcquiredIsNotError(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "nolock.pid"), 3000)
	if err := mgr.ReleaseLock(); err != nil {
		t.Errorf("ReleaseLock when not acquired = %v, want nil", err)
	}
}

func TestInfoFields(t *testing.T) {
	info := &Info{
		PID: 12345, Port: 3000, StartedAt: time.Now().Add(-time.Hour),
		IsRunning: true, IsResponding: true,
	}
	if info.PID != 12345 || info.Port != 3000 || !info.IsRunning || !info.IsResponding {
		t.Errorf("unexpected info: %+v", info)
	}
}
