package vectorstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmem/substrate/internal/memtypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Options{
		Path:     filepath.Join(dir, "vectorstore.db"),
		Embedder: NewHashEmbedder(64),
		Timeout:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(32)
	v1, _, _, _ := e.Embed(context.Background(), "hello world")
	v2, _, _, _ := e.Embed(context.Background(), "hello world")
	if len(v1) != 32 || len(v2) != 32 {
		t.Fatalf("unexpected vector size")
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embedder not deterministic at index %d: %v != %v", i, v1[i], v2[i])
		}
	}
}

func TestHashEmbedderDistinguishesText(t *testing.T) {
	e := NewHashEmbedder(32)
	v1, _, _, _ := e.Embed(context.Background(), "alpha")
	v2, _, _, _ := e.Embed(context.Background(), "beta")
	same := true
	for i := range v1 {
		if v1[i] != v2[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected distinct embeddings for distinct text")
	}
}

func TestUpsertAndSearchRanksBySimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := []memtypes.LongTermRecord{
		{ID: "1", Agent: "agent-a", Text: "deployed service to production", Type: memtypes.TypeObservation, Timestamp: time.Now()},
		{ID: "2", Agent: "agent-a", Text: "decided to use postgres for storage", Type: memtypes.TypeDecision, Timestamp: time.Now()},
		{ID: "3", Agent: "agent-b", Text: "deployed service to production", Type: memtypes.TypeObservation, Timestamp: time.Now()},
	}
	for _, r := range recs {
		if _, err := s.Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	matches, err := s.Search(ctx, "deployed service to production", SearchOptions{Agent: "agent-a", Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches scoped to agent-a, got %d", len(matches))
	}
	if matches[0].Record.ID != "1" {
		t.Errorf("expected closest match to be id 1, got %s (score %f vs %f)", matches[0].Record.ID, matches[0].Score, matches[1].Score)
	}
}

func TestSearchFiltersByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Upsert(ctx, memtypes.LongTermRecord{ID: "1", Agent: "a", Text: "x", Type: memtypes.TypeDecision, Timestamp: time.Now()})
	s.Upsert(ctx, memtypes.LongTermRecord{ID: "2", Agent: "a", Text: "x", Type: memtypes.TypeObservation, Timestamp: time.Now()})

	matches, err := s.Search(ctx, "x", SearchOptions{Agent: "a", Type: memtypes.TypeDecision, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].Record.ID != "1" {
		t.Fatalf("expected only decision record, got %+v", matches)
	}
}

func TestHealthReportsHealthyAndCaches(t *testing.T) {
	s := newTestStore(t)
	s.healthCache = time.Minute
	entry := s.Health(context.Background())
	if entry.Status != memtypes.StatusHealthy {
		t.Errorf("expected healthy status, got %s", entry.Status)
	}

	entry2 := s.Health(context.Background())
	if cached, _ := entry2.Metadata["cached"].(bool); !cached {
		t.Errorf("expected second Health call within cache window to be cached")
	}
}

func TestFallbackIndexEvictsOldest(t *testing.T) {
	f := newFallbackIndex(2)
	f.put(memtypes.LongTermRecord{ID: "1", Agent: "a"})
	f.put(memtypes.LongTermRecord{ID: "2", Agent: "a"})
	f.put(memtypes.LongTermRecord{ID: "3", Agent: "a"})

	if f.size() != 2 {
		t.Fatalf("expected bounded size 2, got %d", f.size())
	}
	if _, ok := f.byID["1"]; ok {
		t.Error("expected oldest record to be evicted")
	}
}
