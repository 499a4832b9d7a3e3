// Package workingmemory implements the substrate's Working Memory Manager
// (spec C4): the per-agent document lifecycle (initialize, load, update,
// clear, checkContextSufficiency, archiveTask) backed by the Safe File
// Layer's atomic read-modify-write transactions. Grounded on the teacher's
// JSONStore (internal/persistence/store.go) for the load/update/save shape,
// generalized from the teacher's single shared dashboard document to one
// document per agent, and on the devpilot-agents wrapper state pattern
// (other_examples) for atomic-replace-on-update semantics in place of the
// teacher's debounced save — debouncing would let two concurrent writers
// silently lose an update, which I1 forbids.
package workingmemory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentmem/substrate/internal/config"
	"github.com/agentmem/substrate/internal/memtypes"
	"github.com/agentmem/substrate/internal/safefile"
	"github.com/agentmem/substrate/internal/vectorstore"
)

// Manager owns every agent's working memory document.
type Manager struct {
	cfg   *config.Config
	locks *safefile.LockTable
	store *vectorstore.Store
}

// New constructs a Manager. store may be nil if long-term archival is
// disabled; ArchiveTask then writes no long-term record.
func New(cfg *config.Config, locks *safefile.LockTable, store *vectorstore.Store) *Manager {
	return &Manager{cfg: cfg, locks: locks, store: store}
}

func (m *Manager) backupOptions() safefile.BackupOptions {
	return safefile.BackupOptions{
		Enabled:    true,
		BackupsDir: m.cfg.Paths.BackupsDir,
		MaxPerFile: m.cfg.MaxBackupsPerFile,
	}
}

// Initialize creates (or returns, if already present) an agent's working
// memory document.
func (m *Manager) Initialize(ctx context.Context, agent, sessionID string, initialContext memtypes.Context) (*memtypes.WorkingMemory, error) {
	if err := m.cfg.ValidateAgentName(agent); err != nil {
		return nil, err
	}

	path := m.cfg.Paths.WorkingMemoryPath(agent)
	now := time.Now()

	wm, err := safefile.UpdateJSONFile(m.locks, path, m.cfg.Limits.FileLockTimeout, memtypes.WorkingMemory{},
		func(current memtypes.WorkingMemory) (memtypes.WorkingMemory, error) {
			if current.AgentName != "" {
				current.EnsureMaps()
				return current, nil
			}
			return *memtypes.NewWorkingMemory(agent, sessionID, initialContext, now), nil
		}, m.backupOptions())
	if err != nil {
		return nil, err
	}
	return &wm, nil
}

// Load reads an agent's working memory document, returning a fresh empty
// document if none exists yet.
func (m *Manager) Load(agent string) (*memtypes.WorkingMemory, error) {
	if err := m.cfg.ValidateAgentName(agent); err != nil {
		return nil, err
	}
	path := m.cfg.Paths.WorkingMemoryPath(agent)
	wm, err := safefile.SafeReadJSON(path, memtypes.WorkingMemory{})
	if err != nil {
		return nil, err
	}
	wm.EnsureMaps()
	return &wm, nil
}

// UpdateRequest bundles the optional additions a single Update call may
// carry; zero-valued fields are treated as "nothing to add" for that
// section.
type UpdateRequest struct {
	Context        memtypes.Context
	Observation    string
	Decision       string
	DecisionReason string
	Blocker        string
	KeyFactKey     string
	KeyFactValue   string
	KeyFactHigh    bool
	CompletedTask  string
	Plan           []string
	CurrentStep    int
	SetCurrentStep bool
}

// Update applies req to agent's document in one atomic transaction,
// enforcing per-section caps (I2) by dropping the oldest entries beyond the
// configured limit, and sanitizing every text field (I3).
func (m *Manager) Update(ctx context.Context, agent string, req UpdateRequest) (*memtypes.WorkingMemory, error) {
	if err := m.cfg.ValidateAgentName(agent); err != nil {
		return nil, err
	}
	if err := m.validateUpdate(req); err != nil {
		return nil, err
	}

	path := m.cfg.Paths.WorkingMemoryPath(agent)
	now := time.Now()

	wm, err := safefile.UpdateJSONFile(m.locks, path, m.cfg.Limits.FileLockTimeout, memtypes.WorkingMemory{},
		func(current memtypes.WorkingMemory) (memtypes.WorkingMemory, error) {
			if current.AgentName == "" {
				current = *memtypes.NewWorkingMemory(agent, "", req.Context, now)
			}
			current.EnsureMaps()
			current.CurrentContext = current.CurrentContext.Merge(req.Context)
			current.LastUpdated = now

			if req.Observation != "" {
				current.Observations = append(current.Observations, memtypes.Observation{
					Timestamp: now, Content: m.cfg.SanitizeTextContent(req.Observation), Context: current.CurrentContext,
				})
				current.Observations = capTail(current.Observations, m.cfg.Limits.MaxObservations)
			}
			if req.Decision != "" {
				current.Decisions = append(current.Decisions, memtypes.Decision{
					Timestamp: now, Decision: m.cfg.SanitizeTextContent(req.Decision),
					Reasoning: m.cfg.SanitizeTextContent(req.DecisionReason), Context: current.CurrentContext,
				})
				current.Decisions = capTail(current.Decisions, m.cfg.Limits.MaxDecisions)
			}
			if req.Blocker != "" {
				current.Blockers = append(current.Blockers, memtypes.Blocker{
					Timestamp: now, Blocker: m.cfg.SanitizeTextContent(req.Blocker), Context: current.CurrentContext,
				})
				current.Blockers = capTail(current.Blockers, m.cfg.Limits.MaxBlockers)
			}
			if req.KeyFactKey != "" {
				key := req.KeyFactKey
				importance := ""
				if req.KeyFactHigh {
					importance = "high"
				}
				current.KeyFacts[key] = memtypes.KeyFact{
					Content: m.cfg.SanitizeTextContent(req.KeyFactValue), Timestamp: now,
					Context: current.CurrentContext, Importance: importance, Critical: req.KeyFactHigh,
				}
				evictOldestKeyFacts(current.KeyFacts, m.cfg.Limits.MaxKeyFacts)
			}
			if req.CompletedTask != "" {
				current.CompletedTasks = append(current.CompletedTasks, memtypes.CompletedTask{
					Timestamp: now, TaskID: req.CompletedTask, Context: current.CurrentContext,
				})
				current.CompletedTasks = capTail(current.CompletedTasks, m.cfg.Limits.MaxCompletedTasks)
			}
			if req.Plan != nil {
				current.Plan = req.Plan
			}
			if req.SetCurrentStep {
				current.CurrentStep = req.CurrentStep
			}

			return current, nil
		}, m.backupOptions())
	if err != nil {
		return nil, err
	}
	return &wm, nil
}

func (m *Manager) validateUpdate(req UpdateRequest) error {
	checks := map[string]string{
		"observation":     req.Observation,
		"decision":        req.Decision,
		"decisionReason":  req.DecisionReason,
		"blocker":         req.Blocker,
		"keyFactValue":    req.KeyFactValue,
	}
	for field, text := range checks {
		if text == "" {
			continue
		}
		if err := m.cfg.ValidateTextContent(field, text); err != nil {
			return err
		}
	}
	return nil
}

// ResolveBlocker marks the first unresolved blocker matching substr
// resolved. Per spec §9 open question (b), a substring with no match is not
// an error: it returns successfully with BlockerNotFound=true so
// callers can branch without wrapping every call in error handling for a
// common, benign case.
type ResolveResult struct {
	WorkingMemory   *memtypes.WorkingMemory
	BlockerNotFound bool
}

func (m *Manager) ResolveBlocker(ctx context.Context, agent, substr, resolution string) (ResolveResult, error) {
	if err := m.cfg.ValidateAgentName(agent); err != nil {
		return ResolveResult{}, err
	}

	path := m.cfg.Paths.WorkingMemoryPath(agent)
	now := time.Now()
	found := false

	wm, err := safefile.UpdateJSONFile(m.locks, path, m.cfg.Limits.FileLockTimeout, memtypes.WorkingMemory{},
		func(current memtypes.WorkingMemory) (memtypes.WorkingMemory, error) {
			current.EnsureMaps()
			for i := range current.Blockers {
				b := &current.Blockers[i]
				if b.Resolved {
					continue
				}
				if containsFold(b.Blocker, substr) {
					b.Resolve(m.cfg.SanitizeTextContent(resolution), now)
					found = true
					break
				}
			}
			current.LastUpdated = now
			return current, nil
		}, m.backupOptions())
	if err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{WorkingMemory: &wm, BlockerNotFound: !found}, nil
}

// Clear resets an agent's document to a fresh, empty state while preserving
// AgentName and SessionID.
func (m *Manager) Clear(ctx context.Context, agent string) (*memtypes.WorkingMemory, error) {
	if err := m.cfg.ValidateAgentName(agent); err != nil {
		return nil, err
	}
	path := m.cfg.Paths.WorkingMemoryPath(agent)
	now := time.Now()

	wm, err := safefile.UpdateJSONFile(m.locks, path, m.cfg.Limits.FileLockTimeout, memtypes.WorkingMemory{},
		func(current memtypes.WorkingMemory) (memtypes.WorkingMemory, error) {
			fresh := memtypes.NewWorkingMemory(agent, current.SessionID, memtypes.Context{}, now)
			return *fresh, nil
		}, m.backupOptions())
	if err != nil {
		return nil, err
	}
	return &wm, nil
}

// ContextSufficiency reports whether an agent's current document resolves
// every key the caller required to resume work without re-deriving it from
// scratch.
type ContextSufficiency struct {
	Sufficient bool                   `json:"sufficient"`
	Missing    []string               `json:"missing"`
	Available  map[string]interface{} `json:"available"`
}

// CheckContextSufficiency resolves each key in required against the
// document: storyId, epicId, taskId, and plan resolve against
// CurrentContext/Plan, and keyFact:<k> resolves against KeyFacts[k].
// Resolved keys populate available; unresolved ones populate missing.
func (m *Manager) CheckContextSufficiency(agent string, required []string) (ContextSufficiency, error) {
	wm, err := m.Load(agent)
	if err != nil {
		return ContextSufficiency{}, err
	}

	available := map[string]interface{}{}
	var missing []string
	for _, key := range required {
		switch key {
		case "storyId":
			if wm.CurrentContext.StoryID != "" {
				available[key] = wm.CurrentContext.StoryID
			} else {
				missing = append(missing, key)
			}
		case "epicId":
			if wm.CurrentContext.EpicID != "" {
				available[key] = wm.CurrentContext.EpicID
			} else {
				missing = append(missing, key)
			}
		case "taskId":
			if wm.CurrentContext.TaskID != "" {
				available[key] = wm.CurrentContext.TaskID
			} else {
				missing = append(missing, key)
			}
		case "plan":
			if len(wm.Plan) > 0 {
				available[key] = wm.Plan
			} else {
				missing = append(missing, key)
			}
		default:
			if fact, ok := strings.CutPrefix(key, "keyFact:"); ok {
				if f, ok := wm.KeyFacts[fact]; ok {
					available[key] = f.Content
				} else {
					missing = append(missing, key)
				}
			} else {
				missing = append(missing, key)
			}
		}
	}

	return ContextSufficiency{
		Sufficient: len(missing) == 0,
		Missing:    missing,
		Available:  available,
	}, nil
}

// ArchiveTask summarizes a completed task's trail into a single long-term
// record (shared rendering with the Hygiene Engine's section summaries, see
// internal/summarize) and hands it to the vector store. It does not mutate
// working memory: the task's observations/decisions stay in the document
// until ordinary cap eviction or hygiene cleanup removes them.
func (m *Manager) ArchiveTask(ctx context.Context, agent, taskID string, summarizer func(memtypes.WorkingMemory, string) string) (*memtypes.WorkingMemory, error) {
	wm, err := m.Load(agent)
	if err != nil {
		return nil, err
	}

	summary := summarizer(*wm, taskID)
	if m.store != nil && summary != "" {
		_, _ = m.store.Upsert(ctx, memtypes.LongTermRecord{
			ID:        uuid.NewString(),
			Agent:     agent,
			Text:      summary,
			Timestamp: time.Now(),
			Type:      memtypes.TypeTaskArchive,
			TaskID:    taskID,
		})
	}
	return wm, nil
}

func capTail[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	return append([]T{}, items[len(items)-max:]...)
}

func evictOldestKeyFacts(facts map[string]memtypes.KeyFact, max int) {
	if max <= 0 || len(facts) <= max {
		return
	}
	type entry struct {
		key string
		ts  time.Time
	}
	var entries []entry
	for k, f := range facts {
		if f.IsProtected() {
			continue
		}
		entries = append(entries, entry{key: k, ts: f.Timestamp})
	}
	excess := len(facts) - max
	for i := 0; i < len(entries) && excess > 0; i++ {
		oldestIdx := i
		for j := i + 1; j < len(entries); j++ {
			if entries[j].ts.Before(entries[oldestIdx].ts) {
				oldestIdx = j
			}
		}
		entries[i], entries[oldestIdx] = entries[oldestIdx], entries[i]
		delete(facts, entries[i].key)
		excess--
	}
}

func containsFold(s, substr string) bool {
	return len(substr) == 0 || indexFold(s, substr) >= 0
}

func indexFold(s, substr string) int {
	ls, lsub := toLower(s), toLower(substr)
	for i := 0; i+len(lsub) <= len(ls); i++ {
		if ls[i:i+len(lsub)] == lsub {
			return i
		}
	}
	return -1
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
