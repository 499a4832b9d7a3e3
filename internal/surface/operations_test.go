package surface

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmem/substrate/internal/config"
	"github.com/agentmem/substrate/internal/health"
	"github.com/agentmem/substrate/internal/hooks"
	"github.com/agentmem/substrate/internal/hygiene"
	"github.com/agentmem/substrate/internal/memtypes"
	"github.com/agentmem/substrate/internal/retrieval"
	"github.com/agentmem/substrate/internal/safefile"
	"github.com/agentmem/substrate/internal/vectorstore"
	"github.com/agentmem/substrate/internal/workingmemory"
)

func newTestOperations(t *testing.T) *Operations {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.BaseDir = t.TempDir()
	cfg.Paths.BackupsDir = filepath.Join(cfg.Paths.BaseDir, "backups")
	cfg.Paths.ValidationLogsDir = filepath.Join(cfg.Paths.BaseDir, "validation-logs")

	store, err := vectorstore.Open(vectorstore.Options{
		Path:     filepath.Join(cfg.Paths.BaseDir, "vectorstore.db"),
		Embedder: vectorstore.NewHashEmbedder(32),
	})
	if err != nil {
		t.Fatalf("Open vectorstore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	locks := safefile.NewLockTable(30 * time.Second)
	wm := workingmemory.New(cfg, locks, store)
	rp := retrieval.New(cfg, store)
	hy := hygiene.New(cfg, locks, store)
	hm := health.NewMonitor(cfg, store, nil)
	hk := hooks.NewRegistry(cfg)
	hk.RegisterDefaults()

	return New(cfg, wm, store, rp, hy, hm, hk, nil, nil)
}

func TestHandleInitAndLoadRoundTrip(t *testing.T) {
	ops := newTestOperations(t)
	r := ops.Router()

	body, _ := json.Marshal(map[string]string{"agent": "agent-1", "sessionId": "s1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/memory/init", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("init status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodGet, "/v1/memory/load/agent-1", nil)
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("load status = %d, body = %s", rec2.Code, rec2.Body.String())
	}
}

func TestHandleUpdateThenRetrieve(t *testing.T) {
	ops := newTestOperations(t)
	r := ops.Router()

	if _, err := ops.InitWorking(context.Background(), "agent-1", "s1", memtypes.Context{}); err != nil {
		t.Fatalf("InitWorking: %v", err)
	}

	updateBody, _ := json.Marshal(map[string]interface{}{
		"agent": "agent-1",
		"delta": map[string]interface{}{"observation": "deployed the release candidate"},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/memory/update", bytes.NewReader(updateBody))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}

	retrieveBody, _ := json.Marshal(map[string]interface{}{"agent": "agent-1", "query": "release candidate"})
	req2 := httptest.NewRequest(http.MethodPost, "/v1/memory/retrieve", bytes.NewReader(retrieveBody))
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("retrieve status = %d, body = %s", rec2.Code, rec2.Body.String())
	}

	var result RetrieveResult
	if err := json.Unmarshal(rec2.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.ShortTerm) == 0 {
		t.Error("expected at least one short-term result")
	}
}

func TestHandleHealthReturnsOverallStatus(t *testing.T) {
	ops := newTestOperations(t)
	r := ops.Router()

	req := httptest.NewRequest(http.MethodGet, "/v1/memory/health/agent-1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result HealthResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.OverallStatus == "" {
		t.Error("expected a non-empty overall status")
	}
}
