package workingmemory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmem/substrate/internal/config"
	"github.com/agentmem/substrate/internal/memtypes"
	"github.com/agentmem/substrate/internal/safefile"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.BaseDir = t.TempDir()
	cfg.Paths.BackupsDir = filepath.Join(cfg.Paths.BaseDir, "backups")
	cfg.Limits.MaxObservations = 3
	cfg.Limits.MaxBlockers = 2
	return New(cfg, safefile.NewLockTable(30*time.Second), nil)
}

func TestInitializeThenLoad(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	wm, err := m.Initialize(ctx, "agent-1", "sess-1", memtypes.Context{StoryID: "s1"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if wm.AgentName != "agent-1" || wm.CurrentContext.StoryID != "s1" {
		t.Fatalf("unexpected document: %+v", wm)
	}

	loaded, err := m.Load("agent-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.SessionID != "sess-1" {
		t.Errorf("expected loaded session to match, got %q", loaded.SessionID)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.Initialize(ctx, "agent-1", "sess-1", memtypes.Context{})
	m.Update(ctx, "agent-1", UpdateRequest{Observation: "did a thing"})

	wm, err := m.Initialize(ctx, "agent-1", "sess-2", memtypes.Context{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(wm.Observations) != 1 {
		t.Errorf("expected re-initialize to preserve existing document, got %d observations", len(wm.Observations))
	}
}

func TestUpdateEnforcesObservationCap(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.Initialize(ctx, "agent-1", "s", memtypes.Context{})

	for i := 0; i < 5; i++ {
		if _, err := m.Update(ctx, "agent-1", UpdateRequest{Observation: "obs"}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	wm, err := m.Load("agent-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(wm.Observations) != 3 {
		t.Errorf("expected observations capped at 3, got %d", len(wm.Observations))
	}
}

func TestResolveBlockerMonotonic(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.Initialize(ctx, "agent-1", "s", memtypes.Context{})
	m.Update(ctx, "agent-1", UpdateRequest{Blocker: "waiting on API keys"})

	res, err := m.ResolveBlocker(ctx, "agent-1", "api keys", "keys provisioned")
	if err != nil {
		t.Fatalf("ResolveBlocker: %v", err)
	}
	if res.BlockerNotFound {
		t.Fatal("expected blocker to be found")
	}
	if !res.WorkingMemory.Blockers[0].Resolved {
		t.Fatal("expected blocker resolved")
	}

	// Resolving again must not flip resolvedAt or unresolve it.
	firstResolvedAt := *res.WorkingMemory.Blockers[0].ResolvedAt
	res2, err := m.ResolveBlocker(ctx, "agent-1", "api keys", "re-resolved")
	if err != nil {
		t.Fatalf("second ResolveBlocker: %v", err)
	}
	if !res2.BlockerNotFound {
		t.Fatal("second resolve call matches no unresolved blocker and should report BlockerNotFound")
	}
	if !res2.WorkingMemory.Blockers[0].ResolvedAt.Equal(firstResolvedAt) {
		t.Error("resolvedAt must not change once set")
	}
}

func TestResolveBlockerNoMatchIsNotError(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.Initialize(ctx, "agent-1", "s", memtypes.Context{})

	res, err := m.ResolveBlocker(ctx, "agent-1", "nonexistent", "n/a")
	if err != nil {
		t.Fatalf("expected no error for no-match resolve, got %v", err)
	}
	if !res.BlockerNotFound {
		t.Error("expected BlockerNotFound=true diagnostic")
	}
}

func TestCheckContextSufficiency(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.Initialize(ctx, "agent-1", "s", memtypes.Context{StoryID: "S-1"})

	required := []string{"storyId", "taskId", "plan"}
	suff, err := m.CheckContextSufficiency("agent-1", required)
	if err != nil {
		t.Fatalf("CheckContextSufficiency: %v", err)
	}
	if suff.Sufficient {
		t.Fatal("expected fresh document to be insufficient")
	}
	if suff.Available["storyId"] != "S-1" {
		t.Fatalf("expected storyId available, got %+v", suff.Available)
	}
	if len(suff.Missing) != 2 {
		t.Fatalf("expected taskId and plan missing, got %+v", suff.Missing)
	}

	m.Update(ctx, "agent-1", UpdateRequest{Observation: "started", Plan: []string{"step 1"}, Context: memtypes.Context{TaskID: "T-1"}})
	suff2, err := m.CheckContextSufficiency("agent-1", required)
	if err != nil {
		t.Fatalf("CheckContextSufficiency: %v", err)
	}
	if !suff2.Sufficient {
		t.Fatalf("expected populated document to be sufficient, got %+v", suff2)
	}
}

func TestClearResetsSections(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.Initialize(ctx, "agent-1", "sess-1", memtypes.Context{})
	m.Update(ctx, "agent-1", UpdateRequest{Observation: "x"})

	wm, err := m.Clear(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(wm.Observations) != 0 {
		t.Error("expected observations cleared")
	}
	if wm.SessionID != "sess-1" {
		t.Error("expected session id preserved across clear")
	}
}

func TestArchiveTaskDoesNotMutateWorkingMemory(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.Initialize(ctx, "agent-1", "s", memtypes.Context{TaskID: "t1"})
	m.Update(ctx, "agent-1", UpdateRequest{Context: memtypes.Context{TaskID: "t1"}, Observation: "task 1 work"})
	m.Update(ctx, "agent-1", UpdateRequest{Context: memtypes.Context{TaskID: "t2"}, Observation: "task 2 work"})

	var summarized memtypes.WorkingMemory
	wm, err := m.ArchiveTask(ctx, "agent-1", "t1", func(w memtypes.WorkingMemory, taskID string) string {
		summarized = w
		return "summary of " + taskID
	})
	if err != nil {
		t.Fatalf("ArchiveTask: %v", err)
	}

	found := false
	for _, o := range wm.Observations {
		if o.Context.TaskID == "t1" {
			found = true
		}
	}
	if !found {
		t.Error("expected t1 observations left intact after archive")
	}
	if len(summarized.Observations) != 2 {
		t.Errorf("expected summarizer to see the full document, got %d observations", len(summarized.Observations))
	}

	reloaded, err := m.Load("agent-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reloaded.Observations) != 2 {
		t.Errorf("expected archiveTask to leave working memory untouched, got %d observations", len(reloaded.Observations))
	}
}

func TestInvalidAgentNameRejected(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Initialize(context.Background(), "bad name!", "s", memtypes.Context{})
	if err == nil {
		t.Fatal("expected invalid agent name to be rejected")
	}
}
