package hygiene

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmem/substrate/internal/config"
	"github.com/agentmem/substrate/internal/memtypes"
	"github.com/agentmem/substrate/internal/safefile"
	"github.com/agentmem/substrate/internal/vectorstore"
)

func newTestEngine(t *testing.T) (*Engine, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.BaseDir = t.TempDir()
	cfg.Paths.BackupsDir = filepath.Join(cfg.Paths.BaseDir, "backups")
	cfg.Limits.MaxObservations = 10
	cfg.Limits.MaxKeyFacts = 2
	cfg.Limits.RunOnMemoryThreshold = 0.8
	cfg.Limits.MinimumEntriesBeforeCleanup = 0

	store, err := vectorstore.Open(vectorstore.Options{
		Path:     filepath.Join(cfg.Paths.BaseDir, "vectorstore.db"),
		Embedder: vectorstore.NewHashEmbedder(32),
	})
	if err != nil {
		t.Fatalf("Open vectorstore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	locks := safefile.NewLockTable(30 * time.Second)
	return New(cfg, locks, store), cfg
}

func seedDoc(t *testing.T, cfg *config.Config, locks *safefile.LockTable, agent string, obsCount int) {
	t.Helper()
	path := cfg.Paths.WorkingMemoryPath(agent)
	now := time.Now()
	wm := memtypes.NewWorkingMemory(agent, "s", memtypes.Context{}, now)
	for i := 0; i < obsCount; i++ {
		wm.Observations = append(wm.Observations, memtypes.Observation{Timestamp: now.Add(time.Duration(i) * time.Second), Content: "obs"})
	}
	_, err := safefile.UpdateJSONFile(locks, path, time.Second, memtypes.WorkingMemory{}, func(memtypes.WorkingMemory) (memtypes.WorkingMemory, error) {
		return *wm, nil
	}, safefile.BackupOptions{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestAnalyzeUsageFlagsOverLimitSection(t *testing.T) {
	e, cfg := newTestEngine(t)
	seedDoc(t, cfg, e.locks, "agent-1", 8)

	report, err := e.AnalyzeUsage("agent-1")
	if err != nil {
		t.Fatalf("AnalyzeUsage: %v", err)
	}
	if !report.NeedsCleanup {
		t.Error("expected usage at threshold to need cleanup")
	}
	found := false
	for _, s := range report.OverLimitSections {
		if s == "observations" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected observations flagged over limit, got %v", report.OverLimitSections)
	}
}

func TestRunCleanupArchivesOverflowAndEnforcesCap(t *testing.T) {
	e, cfg := newTestEngine(t)
	seedDoc(t, cfg, e.locks, "agent-1", 10)

	result, err := e.RunCleanup(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if result.ObservationsArchived != 2 {
		t.Errorf("expected 2 archived (10 - floor(10*0.8)=8), got %d", result.ObservationsArchived)
	}

	wm, err := safefile.SafeReadJSON(cfg.Paths.WorkingMemoryPath("agent-1"), memtypes.WorkingMemory{})
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(wm.Observations) != 8 {
		t.Errorf("expected 8 observations remaining, got %d", len(wm.Observations))
	}

	matches, err := e.store.Search(context.Background(), "obs", vectorstore.SearchOptions{Agent: "agent-1", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) == 0 {
		t.Error("expected archived observations to be searchable in the vector store")
	}
}

func TestRunCleanupSkipsSectionBelowMinimum(t *testing.T) {
	e, cfg := newTestEngine(t)
	cfg.Limits.MinimumEntriesBeforeCleanup = 10
	seedDoc(t, cfg, e.locks, "agent-1", 10)

	result, err := e.RunCleanup(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if result.ObservationsArchived != 0 {
		t.Errorf("expected 0 archived with 10 entries at minimum 10 (untouched), got %d", result.ObservationsArchived)
	}
}

func TestRunCleanupPreservesActiveBlockers(t *testing.T) {
	e, cfg := newTestEngine(t)
	cfg.Limits.MaxBlockers = 2
	cfg.Hygiene.PreserveActiveBlockers = true
	path := cfg.Paths.WorkingMemoryPath("agent-1")
	now := time.Now()
	wm := memtypes.NewWorkingMemory("agent-1", "s", memtypes.Context{}, now)
	for i := 0; i < 3; i++ {
		wm.Blockers = append(wm.Blockers, memtypes.Blocker{Timestamp: now.Add(time.Duration(i) * time.Second), Blocker: "b"})
	}
	wm.Blockers[0].Resolved = true
	_, err := safefile.UpdateJSONFile(e.locks, path, time.Second, memtypes.WorkingMemory{}, func(memtypes.WorkingMemory) (memtypes.WorkingMemory, error) {
		return *wm, nil
	}, safefile.BackupOptions{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := e.RunCleanup(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if result.BlockersArchived != 1 {
		t.Fatalf("expected only the resolved blocker archived, got %d", result.BlockersArchived)
	}

	read, err := safefile.SafeReadJSON(path, memtypes.WorkingMemory{})
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	for _, b := range read.Blockers {
		if !b.Resolved {
			continue
		}
		t.Fatalf("expected resolved blocker to be archived, found %+v", b)
	}
}

func TestRunCleanupSingleSlotSkipsConcurrentRun(t *testing.T) {
	e, cfg := newTestEngine(t)
	seedDoc(t, cfg, e.locks, "agent-1", 5)

	e.inFlight["agent-1"] = true
	result, err := e.RunCleanup(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if !result.Skipped {
		t.Error("expected cleanup to be skipped while a run is already in flight")
	}
}

func TestEvictOldestKeyFactsSkipsCriticalWhenRetained(t *testing.T) {
	facts := map[string]memtypes.KeyFact{
		"a": {Content: "a", Timestamp: time.Now().Add(-3 * time.Hour)},
		"b": {Content: "b", Timestamp: time.Now().Add(-2 * time.Hour), Critical: true},
		"c": {Content: "c", Timestamp: time.Now().Add(-1 * time.Hour)},
	}
	evictedKeys, _ := evictOldestKeyFacts(facts, 1, true)
	if len(evictedKeys) != 1 || evictedKeys[0] != "a" {
		t.Fatalf("expected only oldest non-critical fact evicted, got %v", evictedKeys)
	}
	if _, ok := facts["b"]; !ok {
		t.Error("expected critical fact retained")
	}
}

func TestEvictOldestKeyFactsIncludesCriticalWhenNotRetained(t *testing.T) {
	facts := map[string]memtypes.KeyFact{
		"a": {Content: "a", Timestamp: time.Now().Add(-3 * time.Hour)},
		"b": {Content: "b", Timestamp: time.Now().Add(-2 * time.Hour), Critical: true},
	}
	evictedKeys, _ := evictOldestKeyFacts(facts, 1, false)
	if len(evictedKeys) != 1 || evictedKeys[0] != "a" {
		t.Fatalf("expected oldest fact evicted regardless of critical flag, got %v", evictedKeys)
	}
}
