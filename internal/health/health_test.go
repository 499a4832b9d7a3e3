package health

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentmem/substrate/internal/config"
	"github.com/agentmem/substrate/internal/memtypes"
	"github.com/agentmem/substrate/internal/vectorstore"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.BaseDir = t.TempDir()

	store, err := vectorstore.Open(vectorstore.Options{
		Path:     filepath.Join(cfg.Paths.BaseDir, "vectorstore.db"),
		Embedder: vectorstore.NewHashEmbedder(32),
	})
	if err != nil {
		t.Fatalf("Open vectorstore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return NewMonitor(cfg, store, nil)
}

func TestCheckAgentReportsHealthyComponents(t *testing.T) {
	m := newTestMonitor(t)
	entries := m.CheckAgent(context.Background(), "agent-1")
	if len(entries) == 0 {
		t.Fatal("expected at least one health entry")
	}
	for _, e := range entries {
		if e.Component == "" {
			t.Error("expected every entry to name its component")
		}
	}
}

func TestAggregateTracksHistoryBounded(t *testing.T) {
	m := newTestMonitor(t)
	m.maxHist = 3
	m.Track("agent-1")

	for i := 0; i < 5; i++ {
		m.Aggregate(context.Background())
	}

	if len(m.History()) > 3 {
		t.Errorf("expected history bounded to 3, got %d", len(m.History()))
	}
}

func TestTrackRespectsMaxTrackedAgents(t *testing.T) {
	m := newTestMonitor(t)
	m.cfg.MaxTrackedAgents = 1
	m.Track("agent-1")
	m.Track("agent-2")

	if len(m.tracked) != 1 {
		t.Errorf("expected tracked agents capped at 1, got %d", len(m.tracked))
	}
}

func TestWorsePicksHigherSeverity(t *testing.T) {
	cases := []struct {
		a, b, want string
	}{
		{"healthy", "degraded", "degraded"},
		{"unhealthy", "degraded", "unhealthy"},
		{"healthy", "healthy", "healthy"},
	}
	for _, c := range cases {
		got := worse(memtypes.HealthStatus(c.a), memtypes.HealthStatus(c.b))
		if string(got) != c.want {
			t.Errorf("worse(%s, %s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}
