// Package memtypes defines the substrate's data model (spec §3): the
// per-agent WorkingMemory document and its sections, the append-only
// LongTermRecord shape the vector store persists, and the HealthEntry shape
// the health subsystem reports. These are plain, JSON-serializable structs
// in the teacher's idiom (internal/types/types.go) — no behavior lives
// here beyond small constructors and the monotonic-only blocker transition.
package memtypes

import "time"

// Context is the {storyId, epicId, taskId} triple copied by value into every
// persisted entry. Any component may be empty.
type Context struct {
	StoryID string `json:"storyId,omitempty"`
	EpicID  string `json:"epicId,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
}

// IsEmpty reports whether none of the triple's components are set.
func (c Context) IsEmpty() bool {
	return c.StoryID == "" && c.EpicID == "" && c.TaskID == ""
}

// Merge overwrites fields of c with any non-empty field from patch,
// field-wise, and returns the result. Used by updateWorking's currentContext
// merge step (spec §4.4 step 1).
func (c Context) Merge(patch Context) Context {
	if patch.StoryID != "" {
		c.StoryID = patch.StoryID
	}
	if patch.EpicID != "" {
		c.EpicID = patch.EpicID
	}
	if patch.TaskID != "" {
		c.TaskID = patch.TaskID
	}
	return c
}

// Observation is a timestamped note an agent records.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Context   Context   `json:"context"`
}

// Decision is a timestamped choice with supporting reasoning.
type Decision struct {
	Timestamp time.Time `json:"timestamp"`
	Decision  string    `json:"decision"`
	Reasoning string    `json:"reasoning"`
	Context   Context   `json:"context"`
}

// KeyFact is a durable fact keyed by a caller-supplied or generated key.
type KeyFact struct {
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Context    Context   `json:"context"`
	Importance string    `json:"importance,omitempty"` // e.g. "high"
	Critical   bool      `json:"critical,omitempty"`
}

// IsProtected reports whether a hygiene pass configured with
// retainCriticalFacts must skip this fact.
func (k KeyFact) IsProtected() bool {
	return k.Critical || k.Importance == "high"
}

// Blocker may transition Resolved false -> true but never the reverse (I4).
type Blocker struct {
	Timestamp   time.Time  `json:"timestamp"`
	Blocker     string     `json:"blocker"`
	Context     Context    `json:"context"`
	Resolved    bool       `json:"resolved"`
	Resolution  string     `json:"resolution,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

// Resolve marks the blocker resolved if it is not already. Calling Resolve
// on an already-resolved blocker is a no-op — it can never flip back.
func (b *Blocker) Resolve(resolution string, at time.Time) {
	if b.Resolved {
		return
	}
	b.Resolved = true
	b.Resolution = resolution
	resolvedAt := at
	b.ResolvedAt = &resolvedAt
}

// CompletedTask records a task's completion.
type CompletedTask struct {
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"taskId"`
	Context   Context   `json:"context"`
}

// WorkingMemory is the single per-agent document (spec §3). One exists per
// AgentName, mutated only through the Working Memory Manager's update path.
type WorkingMemory struct {
	AgentName      string              `json:"agentName"`
	SessionID      string              `json:"sessionId"`
	Initialized    time.Time           `json:"initialized"`
	LastUpdated    time.Time           `json:"lastUpdated"`
	LastCleanup    *time.Time          `json:"lastCleanup,omitempty"`
	CurrentContext Context             `json:"currentContext"`
	Observations   []Observation       `json:"observations"`
	Decisions      []Decision          `json:"decisions"`
	Blockers       []Blocker           `json:"blockers"`
	CompletedTasks []CompletedTask     `json:"completedTasks"`
	KeyFacts       map[string]KeyFact  `json:"keyFacts"`
	Plan           []string            `json:"plan"`
	CurrentStep    int                 `json:"currentStep"`
}

// NewWorkingMemory creates an empty, initialized document for agent.
func NewWorkingMemory(agent string, sessionID string, ctx Context, now time.Time) *WorkingMemory {
	return &WorkingMemory{
		AgentName:      agent,
		SessionID:      sessionID,
		Initialized:    now,
		LastUpdated:    now,
		CurrentContext: ctx,
		Observations:   []Observation{},
		Decisions:      []Decision{},
		Blockers:       []Blocker{},
		CompletedTasks: []CompletedTask{},
		KeyFacts:       map[string]KeyFact{},
		Plan:           []string{},
	}
}

// EnsureMaps guards against a document decoded from JSON where nil-valued
// maps/slices would otherwise panic on append — mirrors the teacher's
// Load() nil-map backfill in internal/persistence/store.go.
func (w *WorkingMemory) EnsureMaps() {
	if w.Observations == nil {
		w.Observations = []Observation{}
	}
	if w.Decisions == nil {
		w.Decisions = []Decision{}
	}
	if w.Blockers == nil {
		w.Blockers = []Blocker{}
	}
	if w.CompletedTasks == nil {
		w.CompletedTasks = []CompletedTask{}
	}
	if w.KeyFacts == nil {
		w.KeyFacts = map[string]KeyFact{}
	}
	if w.Plan == nil {
		w.Plan = []string{}
	}
}

// LongTermRecord is an append-only record persisted in the vector store
// (or its in-process fallback). Ids are opaque strings end-to-end (spec §9
// open question c).
type LongTermRecord struct {
	ID              string                 `json:"id"`
	Agent           string                 `json:"agent"`
	Text            string                 `json:"text"`
	Embedding       []float32              `json:"embedding,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
	Type            string                 `json:"type"`
	StoryID         string                 `json:"storyId,omitempty"`
	EpicID          string                 `json:"epicId,omitempty"`
	TaskID          string                 `json:"taskId,omitempty"`
	EmbeddingMethod string                 `json:"embeddingMethod"`
	IsFallback      bool                   `json:"isFallback,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Record type constants (spec §3 LongTermRecord.type).
const (
	TypeObservation      = "observation"
	TypeDecision         = "decision"
	TypeKeyFact          = "key-fact"
	TypeBlocker          = "blocker"
	TypeBlockerResolution = "blocker-resolution"
	TypeTaskArchive      = "task-archive"
	TypeSessionSummary   = "session-summary"
	TypePlan             = "plan"
)

// ArchivedSectionType returns the "archived-<section>" type tag hygiene
// emits for a given section name.
func ArchivedSectionType(section string) string {
	return "archived-" + section
}

// HealthStatus classifies a HealthEntry's severity bucket.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthSeverity is finer-grained than HealthStatus, used for banner
// ordering (spec §7).
type HealthSeverity string

const (
	SeverityInfo     HealthSeverity = "info"
	SeverityWarning  HealthSeverity = "warning"
	SeverityError    HealthSeverity = "error"
	SeverityCritical HealthSeverity = "critical"
)

// HealthEntry is one component's check result for one agent.
type HealthEntry struct {
	Component string                 `json:"component"`
	Status    HealthStatus           `json:"status"`
	Severity  HealthSeverity         `json:"severity"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
