// Package vectorstore is the substrate's Vector Store Client (spec C3). No
// client library for a dedicated vector database appears anywhere in the
// example corpus, so this store is grounded on the teacher's own SQLite
// persistence layer (internal/memory/db.go: embedded schema, WAL pragmas,
// schema_version migration gate) repurposed to hold embeddings and serve
// cosine-similarity search computed in Go, the same shape the contextd
// vectorstore.Store interface (other_examples) exposes (Upsert/Search/Health).
package vectorstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentmem/substrate/internal/errs"
	"github.com/agentmem/substrate/internal/memtypes"
)

//go:embed schema.sql
var schemaSQL string

// Match is one search result: the stored record plus its similarity score.
type Match struct {
	Record memtypes.LongTermRecord
	Score  float64
}

// Store is the vector store client. One Store instance is shared process-
// wide per collection.
type Store struct {
	db       *sql.DB
	embedder Embedder
	timeout  time.Duration

	mu           sync.Mutex
	healthy      bool
	lastChecked  time.Time
	healthCache  time.Duration

	fallback     *fallbackIndex
}

// Options configures a new Store.
type Options struct {
	Path             string
	Embedder         Embedder
	Timeout          time.Duration
	HealthCacheFor   time.Duration
	MaxFallbackItems int
}

// Open creates (if needed) and opens the SQLite-backed store at opts.Path,
// applying the embedded schema. A failure to open or migrate is reported so
// the caller can decide whether to run in fallback-only mode.
func Open(opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("vectorstore: mkdir: %w", errs.IOError)
	}

	db, err := sql.Open("sqlite3", opts.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open %q: %w", opts.Path, errs.IOError)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectorstore: migrate: %w", errs.IOError)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	cacheFor := opts.HealthCacheFor
	if cacheFor <= 0 {
		cacheFor = 30 * time.Second
	}
	maxFallback := opts.MaxFallbackItems
	if maxFallback <= 0 {
		maxFallback = 10000
	}

	return &Store{
		db:          db,
		embedder:    opts.Embedder,
		timeout:     timeout,
		healthy:     true,
		healthCache: cacheFor,
		fallback:    newFallbackIndex(maxFallback),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func encodeVec(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf
}

func decodeVec(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[i*4 : i*4+4]))
	}
	return vec
}

// Upsert embeds rec.Text if rec.Embedding is empty, persists the record, and
// returns the record as stored (with id and embedding metadata filled in). On
// a SQLite failure the record is retained in the bounded in-process fallback
// index instead of being lost, and the returned record's IsFallback is set.
func (s *Store) Upsert(ctx context.Context, rec memtypes.LongTermRecord) (memtypes.LongTermRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if len(rec.Embedding) == 0 && s.embedder != nil {
		vec, method, isFallbackEmbed, err := s.embedder.Embed(ctx, rec.Text)
		rec.Embedding = vec
		rec.EmbeddingMethod = method
		if isFallbackEmbed {
			rec.IsFallback = rec.IsFallback || err != nil
		}
	}

	meta := "{}"
	if rec.Metadata != nil {
		if b, err := json.Marshal(rec.Metadata); err == nil {
			meta = string(b)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, agent, text, embedding, embedding_method, is_fallback, record_type, story_id, epic_id, task_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text=excluded.text, embedding=excluded.embedding, embedding_method=excluded.embedding_method,
			is_fallback=excluded.is_fallback, record_type=excluded.record_type,
			story_id=excluded.story_id, epic_id=excluded.epic_id, task_id=excluded.task_id,
			metadata=excluded.metadata`,
		rec.ID, rec.Agent, rec.Text, encodeVec(rec.Embedding), rec.EmbeddingMethod, rec.IsFallback,
		rec.Type, nullableStr(rec.StoryID), nullableStr(rec.EpicID), nullableStr(rec.TaskID), meta, rec.Timestamp.UnixNano(),
	)
	if err != nil {
		s.markUnhealthy()
		s.fallback.put(rec)
		rec.IsFallback = true
		return rec, nil
	}
	s.markHealthy()
	return rec, nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// SearchOptions narrows a Search call.
type SearchOptions struct {
	Agent   string
	Type    string // empty means any type
	StoryID string
	EpicID  string
	TaskID  string
	Limit   int
}

// Search embeds query and returns the topK matches ranked by cosine
// similarity, scanning the SQLite table's rows for Agent (and optional
// type/context filters) in Go rather than via a native ANN index — the
// dataset size this substrate targets (per-agent long-term memory, not a
// shared corpus) makes a linear scan a fine tradeoff against depending on a
// real ANN-backed service no example repo imports.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]Match, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	var queryVec []float32
	if s.embedder != nil {
		vec, _, _, _ := s.embedder.Embed(ctx, query)
		queryVec = vec
	}

	rows, err := s.queryRows(ctx, opts, queryVec)
	if err != nil {
		s.markUnhealthy()
		return s.fallback.search(queryVec, opts, limit), nil
	}
	s.markHealthy()

	sort.Slice(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *Store) queryRows(ctx context.Context, opts SearchOptions, queryVec []float32) ([]Match, error) {
	q := `SELECT id, agent, text, embedding, embedding_method, is_fallback, record_type, story_id, epic_id, task_id, metadata, created_at FROM records WHERE agent = ?`
	args := []interface{}{opts.Agent}
	if opts.Type != "" {
		q += " AND record_type = ?"
		args = append(args, opts.Type)
	}
	if opts.StoryID != "" {
		q += " AND story_id = ?"
		args = append(args, opts.StoryID)
	}
	if opts.EpicID != "" {
		q += " AND epic_id = ?"
		args = append(args, opts.EpicID)
	}
	if opts.TaskID != "" {
		q += " AND task_id = ?"
		args = append(args, opts.TaskID)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var rec memtypes.LongTermRecord
		var embBytes []byte
		var metaStr string
		var story, epic, task sql.NullString
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.Agent, &rec.Text, &embBytes, &rec.EmbeddingMethod, &rec.IsFallback,
			&rec.Type, &story, &epic, &task, &metaStr, &createdAt); err != nil {
			continue
		}
		rec.StoryID, rec.EpicID, rec.TaskID = story.String, epic.String, task.String
		rec.Timestamp = time.Unix(0, createdAt)
		rec.Embedding = decodeVec(embBytes)
		if metaStr != "" {
			_ = json.Unmarshal([]byte(metaStr), &rec.Metadata)
		}
		out = append(out, Match{Record: rec, Score: 0})
	}

	for i := range out {
		out[i].Score = cosineSimilarity(queryVec, out[i].Record.Embedding)
	}
	return out, rows.Err()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (s *Store) markHealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = true
	s.lastChecked = time.Now()
}

func (s *Store) markUnhealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = false
	s.lastChecked = time.Now()
}

// Health reports connectivity and round-trip health, caching the result for
// HealthCacheFor so a hot health-check loop never floods the database with
// probe queries (spec §4.3 / §4.7).
func (s *Store) Health(ctx context.Context) memtypes.HealthEntry {
	s.mu.Lock()
	cached := time.Since(s.lastChecked) < s.healthCache
	healthy := s.healthy
	s.mu.Unlock()

	if cached {
		return s.entryFor(healthy, true)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.db.PingContext(ctx)
	if err != nil {
		s.markUnhealthy()
		return s.entryFor(false, false)
	}

	var n int
	_ = s.db.QueryRowContext(ctx, "SELECT count(*) FROM records LIMIT 1").Scan(&n)
	s.markHealthy()
	return s.entryFor(true, false)
}

func (s *Store) entryFor(healthy, cached bool) memtypes.HealthEntry {
	status := memtypes.StatusHealthy
	severity := memtypes.SeverityInfo
	msg := "vector store reachable"
	if !healthy {
		status = memtypes.StatusDegraded
		severity = memtypes.SeverityWarning
		msg = "vector store unreachable, serving from in-process fallback"
	}
	return memtypes.HealthEntry{
		Component: "vectorstore",
		Status:    status,
		Severity:  severity,
		Message:   msg,
		Timestamp: time.Now(),
		Metadata:  map[string]interface{}{"cached": cached, "fallbackSize": s.fallback.size()},
	}
}
