package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentmem/substrate/internal/config"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.ValidationLogsDir = filepath.Join(t.TempDir(), "validation-logs")
	r := NewRegistry(cfg)
	r.RegisterDefaults()
	return r
}

func TestEnforcePassesValidPayload(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Enforce(context.Background(), PointBeforeUpdate, "agent-1", map[string]interface{}{"observation": "did a thing"})
	if err != nil {
		t.Fatalf("expected valid payload to pass, got %v", err)
	}
}

func TestEnforceRejectsInvalidAgentName(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Enforce(context.Background(), PointBeforeUpdate, "bad name!", map[string]interface{}{})
	if err == nil {
		t.Fatal("expected rejection for invalid agent name")
	}
}

func TestEnforceRejectsMaliciousContent(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Enforce(context.Background(), PointBeforeUpdate, "agent-1", map[string]interface{}{"observation": "<script>alert(1)</script>"})
	if err == nil {
		t.Fatal("expected rejection for malicious content")
	}
}

func TestEnforceWritesAuditLog(t *testing.T) {
	r := newTestRegistry(t)
	r.Enforce(context.Background(), PointBeforeUpdate, "agent-1", map[string]interface{}{"observation": "ok"})

	entries, err := os.ReadDir(r.cfg.Paths.ValidationLogsDir)
	if err != nil {
		t.Fatalf("read validation logs dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected an audit log file to be created")
	}
}

func TestListReturnsRegisteredValidatorNames(t *testing.T) {
	r := newTestRegistry(t)
	names := r.List(PointBeforeUpdate)
	if len(names) == 0 {
		t.Fatal("expected default validators registered for before-update")
	}
}
