// Package health implements the substrate's Health Subsystem (spec C7):
// per-agent directory/read/write/vector checks, aggregation across agents,
// and a periodic monitor with a bounded history buffer. Grounded on the
// teacher's heartbeat/cleanup ticker+ctx.Done loop shape
// (internal/server/heartbeat.go, internal/server/cleanup.go) and its
// bracket-tagged logging idiom, generalized from per-agent-process liveness
// to per-agent-document and vector-store health.
package health

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/agentmem/substrate/internal/config"
	"github.com/agentmem/substrate/internal/memtypes"
	"github.com/agentmem/substrate/internal/notify"
	"github.com/agentmem/substrate/internal/vectorstore"
)

const (
	minFreeDiskBytes = 100 * 1024 * 1024 // below this, diskSpace check reports unhealthy/critical
)

// Monitor runs periodic and on-demand health checks for every tracked
// agent plus the shared vector store.
type Monitor struct {
	cfg    *config.Config
	store  *vectorstore.Store
	toast  *notify.ToastNotifier

	mu        sync.Mutex
	history   []memtypes.HealthEntry
	maxHist   int
	tracked   map[string]bool
}

// NewMonitor constructs a health Monitor. toast may be nil to disable
// desktop notifications.
func NewMonitor(cfg *config.Config, store *vectorstore.Store, toast *notify.ToastNotifier) *Monitor {
	return &Monitor{
		cfg:     cfg,
		store:   store,
		toast:   toast,
		maxHist: 500,
		tracked: make(map[string]bool),
	}
}

// Track registers agent so it is included in periodic aggregate checks.
func (m *Monitor) Track(agent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tracked) >= m.cfg.MaxTrackedAgents {
		return
	}
	m.tracked[agent] = true
}

// CheckAgent runs every per-agent check and returns one HealthEntry per
// component.
func (m *Monitor) CheckAgent(ctx context.Context, agent string) []memtypes.HealthEntry {
	now := time.Now()
	var entries []memtypes.HealthEntry

	entries = append(entries, m.checkDirectory(agent, now))
	entries = append(entries, m.checkReadWrite(agent, now))
	entries = append(entries, m.checkDiskSpace(now))

	if m.store != nil {
		entries = append(entries, m.store.Health(ctx))
		entries = append(entries, m.checkVectorOperations(ctx, agent, now))
	}

	return entries
}

func (m *Monitor) checkDirectory(agent string, now time.Time) memtypes.HealthEntry {
	dir := m.cfg.Paths.BaseDir
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return unhealthyEntry("workingMemoryDirectory", fmt.Sprintf("base directory %q is missing or not a directory", dir), now)
	}
	return healthyEntry("workingMemoryDirectory", "base directory present", now)
}

func (m *Monitor) checkReadWrite(agent string, now time.Time) memtypes.HealthEntry {
	probePath := filepath.Join(m.cfg.Paths.BaseDir, fmt.Sprintf(".health-probe-%s", agent))
	if err := os.WriteFile(probePath, []byte("ok"), 0o644); err != nil {
		return degradedEntry("readWrite", fmt.Sprintf("write probe failed: %v", err), now)
	}
	defer os.Remove(probePath)

	if _, err := os.ReadFile(probePath); err != nil {
		return degradedEntry("readWrite", fmt.Sprintf("read probe failed: %v", err), now)
	}
	return healthyEntry("readWrite", "read/write probe succeeded", now)
}

func (m *Monitor) checkDiskSpace(now time.Time) memtypes.HealthEntry {
	free, err := freeBytes(m.cfg.Paths.BaseDir)
	if err != nil {
		return degradedEntry("diskSpace", fmt.Sprintf("could not determine free disk space: %v", err), now)
	}
	if free < minFreeDiskBytes {
		return memtypes.HealthEntry{
			Component: "diskSpace", Status: memtypes.StatusUnhealthy, Severity: memtypes.SeverityCritical,
			Message: fmt.Sprintf("only %s free, below the %s floor", humanize.Bytes(free), humanize.Bytes(minFreeDiskBytes)),
			Timestamp: now,
		}
	}
	return healthyEntry("diskSpace", fmt.Sprintf("%s free", humanize.Bytes(free)), now)
}

func (m *Monitor) checkVectorOperations(ctx context.Context, agent string, now time.Time) memtypes.HealthEntry {
	probeID := fmt.Sprintf("health-probe-%s-%d", agent, now.UnixNano())
	_, err := m.store.Upsert(ctx, memtypes.LongTermRecord{
		ID: probeID, Agent: agent, Text: "health probe", Type: "health-probe", Timestamp: now,
	})
	if err != nil {
		return degradedEntry("vectorOperations", fmt.Sprintf("probe upsert failed: %v", err), now)
	}
	return healthyEntry("vectorOperations", "probe upsert succeeded", now)
}

func healthyEntry(component, message string, now time.Time) memtypes.HealthEntry {
	return memtypes.HealthEntry{Component: component, Status: memtypes.StatusHealthy, Severity: memtypes.SeverityInfo, Message: message, Timestamp: now}
}

func degradedEntry(component, message string, now time.Time) memtypes.HealthEntry {
	return memtypes.HealthEntry{Component: component, Status: memtypes.StatusDegraded, Severity: memtypes.SeverityWarning, Message: message, Timestamp: now}
}

func unhealthyEntry(component, message string, now time.Time) memtypes.HealthEntry {
	return memtypes.HealthEntry{Component: component, Status: memtypes.StatusUnhealthy, Severity: memtypes.SeverityError, Message: message, Timestamp: now}
}

// Aggregate runs CheckAgent for every tracked agent and returns the worst
// status observed across all of them, recording every entry into the
// bounded history buffer.
func (m *Monitor) Aggregate(ctx context.Context) memtypes.HealthStatus {
	m.mu.Lock()
	agents := make([]string, 0, len(m.tracked))
	for a := range m.tracked {
		agents = append(agents, a)
	}
	m.mu.Unlock()

	worst := memtypes.StatusHealthy
	for _, agent := range agents {
		for _, e := range m.CheckAgent(ctx, agent) {
			m.record(e)
			worst = worse(worst, e.Status)
			if e.Severity != memtypes.SeverityInfo && m.toast != nil {
				_ = m.toast.Notify(e)
			}
		}
	}
	return worst
}

func worse(a, b memtypes.HealthStatus) memtypes.HealthStatus {
	rank := map[memtypes.HealthStatus]int{memtypes.StatusHealthy: 0, memtypes.StatusDegraded: 1, memtypes.StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (m *Monitor) record(e memtypes.HealthEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, e)
	if len(m.history) > m.maxHist {
		m.history = m.history[len(m.history)-m.maxHist:]
	}
}

// History returns a copy of the bounded health-entry history buffer.
func (m *Monitor) History() []memtypes.HealthEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memtypes.HealthEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Run starts the periodic aggregate health check loop, stopping when ctx is
// done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[HEALTH] starting periodic monitor (interval: %v)", interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[HEALTH] periodic monitor stopping")
			return
		case <-ticker.C:
			status := m.Aggregate(ctx)
			if status != memtypes.StatusHealthy {
				log.Printf("[HEALTH] aggregate status degraded: %s", status)
			}
		}
	}
}
