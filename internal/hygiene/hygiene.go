// Package hygiene implements the substrate's Hygiene Engine (spec C5):
// usage analysis against configured thresholds, archival of sections that
// exceed them, and a single-slot per-agent guard so cleanup never piles up
// behind a slow vector-store write: a RunCleanup call that arrives while
// one is running for the same agent returns Skipped instead of queuing.
// Cleanup runs only when RunCleanup is called; working-memory updates do
// not trigger it. Grounded on
// the teacher's metrics/alerts.go dedup-window ("recentAlerts" map swept on
// every check) generalized from alert deduplication to cleanup-run
// deduplication, and on metrics/collector.go's ratio computation for usage
// percentages.
package hygiene

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmem/substrate/internal/config"
	"github.com/agentmem/substrate/internal/memtypes"
	"github.com/agentmem/substrate/internal/safefile"
	"github.com/agentmem/substrate/internal/summarize"
	"github.com/agentmem/substrate/internal/vectorstore"
)

// UsageReport describes how full each section of an agent's document is
// relative to its configured cap.
type UsageReport struct {
	Agent              string             `json:"agent"`
	SectionUsage       map[string]float64 `json:"sectionUsage"` // 0..1+
	AgeHours           float64            `json:"ageHours"`
	NeedsCleanup       bool               `json:"needsCleanup"`
	OverLimitSections  []string           `json:"overLimitSections"`
}

// Engine runs usage analysis and archival cleanup for agent documents.
type Engine struct {
	cfg   *config.Config
	locks *safefile.LockTable
	store *vectorstore.Store

	mu       sync.Mutex
	lastRun  map[string]time.Time
	inFlight map[string]bool // single-slot per-agent queue: true while a cleanup is running
}

// New constructs a hygiene Engine.
func New(cfg *config.Config, locks *safefile.LockTable, store *vectorstore.Store) *Engine {
	return &Engine{
		cfg:      cfg,
		locks:    locks,
		store:    store,
		lastRun:  make(map[string]time.Time),
		inFlight: make(map[string]bool),
	}
}

// AnalyzeUsage reads agent's document and reports per-section fullness
// without mutating anything.
func (e *Engine) AnalyzeUsage(agent string) (UsageReport, error) {
	path := e.cfg.Paths.WorkingMemoryPath(agent)
	wm, err := safefile.SafeReadJSON(path, memtypes.WorkingMemory{})
	if err != nil {
		return UsageReport{}, err
	}
	wm.EnsureMaps()

	usage := map[string]float64{
		"observations":    ratio(len(wm.Observations), e.cfg.Limits.MaxObservations),
		"decisions":       ratio(len(wm.Decisions), e.cfg.Limits.MaxDecisions),
		"blockers":        ratio(len(wm.Blockers), e.cfg.Limits.MaxBlockers),
		"keyFacts":        ratio(len(wm.KeyFacts), e.cfg.Limits.MaxKeyFacts),
		"completedTasks":  ratio(len(wm.CompletedTasks), e.cfg.Limits.MaxCompletedTasks),
	}

	threshold := e.cfg.Limits.RunOnMemoryThreshold
	var over []string
	for section, r := range usage {
		if r >= threshold {
			over = append(over, section)
		}
	}
	sort.Strings(over)

	ageHours := time.Since(wm.Initialized).Hours()
	needsCleanup := len(over) > 0 || ageHours >= e.cfg.Limits.MaxAgeHours

	return UsageReport{
		Agent:             agent,
		SectionUsage:      usage,
		AgeHours:          ageHours,
		NeedsCleanup:      needsCleanup,
		OverLimitSections: over,
	}, nil
}

func ratio(count, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(count) / float64(max)
}

// CleanupResult reports what a cleanup pass archived and removed.
type CleanupResult struct {
	Agent              string `json:"agent"`
	ObservationsArchived int  `json:"observationsArchived"`
	DecisionsArchived    int  `json:"decisionsArchived"`
	CompletedTasksArchived int `json:"completedTasksArchived"`
	KeyFactsArchived     int  `json:"keyFactsArchived"`
	BlockersArchived     int  `json:"blockersArchived"`
	Skipped              bool `json:"skipped"`
}

// evictCount computes how many entries a section must shed to bring it down
// to the threshold fraction of its cap (spec §4.5 Recommendations:
// count = current − floor(limit·threshold)), honoring the
// minimumEntriesBeforeCleanup floor below which a section is never touched.
func evictCount(current, limit int, threshold float64, minimum int) int {
	if current <= minimum {
		return 0
	}
	cutoff := int(float64(limit) * threshold)
	count := current - cutoff
	if count < 0 {
		count = 0
	}
	return count
}

// RunCleanup trims every section that is at or beyond its hygiene threshold
// down to floor(limit·threshold), archiving the evicted tail into the
// vector store, then removes them from working memory. Sections at or below
// minimumEntriesBeforeCleanup are left untouched. If a cleanup for this
// agent is already in flight, RunCleanup returns immediately with
// Skipped=true rather than queuing a second one — the single-slot policy
// spec's resource model requires.
func (e *Engine) RunCleanup(ctx context.Context, agent string) (CleanupResult, error) {
	if !e.tryAcquireSlot(agent) {
		return CleanupResult{Agent: agent, Skipped: true}, nil
	}
	defer e.releaseSlot(agent)

	path := e.cfg.Paths.WorkingMemoryPath(agent)
	now := time.Now()
	result := CleanupResult{Agent: agent}
	threshold := e.cfg.Limits.RunOnMemoryThreshold
	minimum := e.cfg.Limits.MinimumEntriesBeforeCleanup

	var evictedObs []memtypes.Observation
	var evictedDec []memtypes.Decision
	var evictedTasks []memtypes.CompletedTask
	var evictedBlockers []memtypes.Blocker
	var evictedFactKeys []string
	var evictedFacts map[string]memtypes.KeyFact
	var before memtypes.WorkingMemory

	backup := safefile.BackupOptions{Enabled: true, BackupsDir: e.cfg.Paths.BackupsDir, MaxPerFile: e.cfg.MaxBackupsPerFile}

	wm, err := safefile.UpdateJSONFile(e.locks, path, e.cfg.Limits.FileLockTimeout, memtypes.WorkingMemory{},
		func(current memtypes.WorkingMemory) (memtypes.WorkingMemory, error) {
			current.EnsureMaps()
			before = current

			obsCount := evictCount(len(current.Observations), e.cfg.Limits.MaxObservations, threshold, minimum)
			current.Observations, evictedObs = evictOldestTail(current.Observations, obsCount)

			decCount := evictCount(len(current.Decisions), e.cfg.Limits.MaxDecisions, threshold, minimum)
			current.Decisions, evictedDec = evictOldestTailDecisions(current.Decisions, decCount)

			taskCount := evictCount(len(current.CompletedTasks), e.cfg.Limits.MaxCompletedTasks, threshold, minimum)
			current.CompletedTasks, evictedTasks = evictOldestTailTasks(current.CompletedTasks, taskCount)

			factCount := evictCount(len(current.KeyFacts), e.cfg.Limits.MaxKeyFacts, threshold, minimum)
			evictedFactKeys, evictedFacts = evictOldestKeyFacts(current.KeyFacts, factCount, e.cfg.Hygiene.RetainCriticalFacts)

			blockerCount := evictCount(len(current.Blockers), e.cfg.Limits.MaxBlockers, threshold, minimum)
			current.Blockers, evictedBlockers = evictBlockers(current.Blockers, blockerCount, e.cfg.Hygiene.PreserveActiveBlockers)

			current.LastCleanup = &now
			return current, nil
		}, backup)
	if err != nil {
		return CleanupResult{}, err
	}
	_ = wm

	result.ObservationsArchived = len(evictedObs)
	result.DecisionsArchived = len(evictedDec)
	result.CompletedTasksArchived = len(evictedTasks)
	result.KeyFactsArchived = len(evictedFactKeys)
	result.BlockersArchived = len(evictedBlockers)

	if e.store != nil && e.cfg.Hygiene.AlwaysSummarize {
		_, _ = e.store.Upsert(ctx, memtypes.LongTermRecord{
			ID: uuid.NewString(), Agent: agent, Text: summarize.Session(before), Timestamp: now, Type: memtypes.TypeSessionSummary,
		})
	}

	if e.store != nil && e.cfg.Hygiene.SummarizeBeforeDelete {
		e.archive(ctx, agent, now, memtypes.ArchivedSectionType("observations"), summarize.Observations(evictedObs), len(evictedObs))
		e.archive(ctx, agent, now, memtypes.ArchivedSectionType("decisions"), summarize.Decisions(evictedDec), len(evictedDec))
		e.archive(ctx, agent, now, memtypes.ArchivedSectionType("keyFacts"), summarize.KeyFacts(evictedFactKeys, evictedFacts), len(evictedFactKeys))
		e.archive(ctx, agent, now, memtypes.ArchivedSectionType("blockers"), summarize.Blockers(evictedBlockers), len(evictedBlockers))
		// completedTasks is a recency trim only — entries are already
		// persisted as task-archive records when the task completed, so no
		// separate archived-completedTasks record is emitted here.
	}

	e.mu.Lock()
	e.lastRun[agent] = now
	e.mu.Unlock()

	return result, nil
}

func (e *Engine) archive(ctx context.Context, agent string, now time.Time, recordType, text string, entryCount int) {
	if text == "" || entryCount == 0 {
		return
	}
	_, _ = e.store.Upsert(ctx, memtypes.LongTermRecord{
		ID: uuid.NewString(), Agent: agent, Text: text, Timestamp: now, Type: recordType,
		Metadata: map[string]interface{}{"entryCount": entryCount},
	})
}

func (e *Engine) tryAcquireSlot(agent string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[agent] {
		return false
	}
	e.inFlight[agent] = true
	return true
}

func (e *Engine) releaseSlot(agent string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, agent)
}

// LastRun reports when agent's cleanup last completed, for health reporting.
func (e *Engine) LastRun(agent string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.lastRun[agent]
	return t, ok
}

// evictOldestTail retains the newest len(items)-count entries (sorted by
// Timestamp) and returns the evicted oldest count as a separate slice.
func evictOldestTail(items []memtypes.Observation, count int) ([]memtypes.Observation, []memtypes.Observation) {
	if count <= 0 {
		return items, nil
	}
	if count > len(items) {
		count = len(items)
	}
	sorted := append([]memtypes.Observation{}, items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return append([]memtypes.Observation{}, sorted[count:]...), append([]memtypes.Observation{}, sorted[:count]...)
}

func evictOldestTailDecisions(items []memtypes.Decision, count int) ([]memtypes.Decision, []memtypes.Decision) {
	if count <= 0 {
		return items, nil
	}
	if count > len(items) {
		count = len(items)
	}
	sorted := append([]memtypes.Decision{}, items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return append([]memtypes.Decision{}, sorted[count:]...), append([]memtypes.Decision{}, sorted[:count]...)
}

func evictOldestTailTasks(items []memtypes.CompletedTask, count int) ([]memtypes.CompletedTask, []memtypes.CompletedTask) {
	if count <= 0 {
		return items, nil
	}
	if count > len(items) {
		count = len(items)
	}
	sorted := append([]memtypes.CompletedTask{}, items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return append([]memtypes.CompletedTask{}, sorted[count:]...), append([]memtypes.CompletedTask{}, sorted[:count]...)
}

// evictOldestKeyFacts evicts count oldest facts. When retainCritical is
// true, facts marked IsProtected() are skipped and never evicted (spec
// §4.5 retainCriticalFacts).
func evictOldestKeyFacts(facts map[string]memtypes.KeyFact, count int, retainCritical bool) ([]string, map[string]memtypes.KeyFact) {
	if count <= 0 {
		return nil, nil
	}
	type entry struct {
		key string
		ts  time.Time
	}
	var candidates []entry
	for k, f := range facts {
		if retainCritical && f.IsProtected() {
			continue
		}
		candidates = append(candidates, entry{key: k, ts: f.Timestamp})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ts.Before(candidates[j].ts) })

	if count > len(candidates) {
		count = len(candidates)
	}

	evicted := make(map[string]memtypes.KeyFact, count)
	var keys []string
	for i := 0; i < count; i++ {
		k := candidates[i].key
		evicted[k] = facts[k]
		keys = append(keys, k)
		delete(facts, k)
	}
	return keys, evicted
}

// evictBlockers evicts count oldest blockers. When preserveActive is true,
// only resolved blockers are eligible for eviction (spec §4.5
// preserveActiveBlockers) — unresolved ones are never touched regardless of
// recency. When false, the recency rule applies to all blockers alike.
func evictBlockers(blockers []memtypes.Blocker, count int, preserveActive bool) ([]memtypes.Blocker, []memtypes.Blocker) {
	if count <= 0 {
		return blockers, nil
	}
	type entry struct {
		idx int
		ts  time.Time
	}
	var candidates []entry
	for i, b := range blockers {
		if preserveActive && !b.Resolved {
			continue
		}
		candidates = append(candidates, entry{idx: i, ts: b.Timestamp})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ts.Before(candidates[j].ts) })

	if count > len(candidates) {
		count = len(candidates)
	}

	evict := make(map[int]bool, count)
	var evicted []memtypes.Blocker
	for i := 0; i < count; i++ {
		idx := candidates[i].idx
		evict[idx] = true
		evicted = append(evicted, blockers[idx])
	}

	var kept []memtypes.Blocker
	for i, b := range blockers {
		if !evict[i] {
			kept = append(kept, b)
		}
	}
	return kept, evicted
}
