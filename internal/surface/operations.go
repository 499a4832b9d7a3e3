// Package surface implements the substrate's External Surface (spec C9):
// the narrow operation set agents and the workflow engine actually call,
// exposed over HTTP (github.com/gorilla/mux) and a websocket event stream
// (github.com/gorilla/websocket). Every operation here is a thin wrapper
// over C4-C7; this package owns no state of its own beyond wiring.
package surface

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentmem/substrate/internal/config"
	"github.com/agentmem/substrate/internal/eventbus"
	"github.com/agentmem/substrate/internal/health"
	"github.com/agentmem/substrate/internal/hooks"
	"github.com/agentmem/substrate/internal/hygiene"
	"github.com/agentmem/substrate/internal/memtypes"
	"github.com/agentmem/substrate/internal/retrieval"
	"github.com/agentmem/substrate/internal/summarize"
	"github.com/agentmem/substrate/internal/vectorstore"
	"github.com/agentmem/substrate/internal/workingmemory"
)

// Operations implements every entry in the agent-facing operation table.
type Operations struct {
	cfg       *config.Config
	wm        *workingmemory.Manager
	store     *vectorstore.Store
	retrieval *retrieval.Pipeline
	hygiene   *hygiene.Engine
	health    *health.Monitor
	hooks     *hooks.Registry
	bus       *eventbus.Bus
	hub       *Hub
}

// New wires the External Surface over its component dependencies. store,
// hygieneEngine, healthMonitor, bus and hub may be nil when those
// subsystems are disabled; the corresponding operations then degrade
// gracefully and the websocket route is simply not registered.
func New(cfg *config.Config, wm *workingmemory.Manager, store *vectorstore.Store, rp *retrieval.Pipeline, hy *hygiene.Engine, hm *health.Monitor, hk *hooks.Registry, bus *eventbus.Bus, hub *Hub) *Operations {
	return &Operations{cfg: cfg, wm: wm, store: store, retrieval: rp, hygiene: hy, health: hm, hooks: hk, bus: bus, hub: hub}
}

// InitWorking implements initWorking(agent, ctx?) -> WorkingMemory.
func (o *Operations) InitWorking(ctx context.Context, agent, sessionID string, initialContext memtypes.Context) (*memtypes.WorkingMemory, error) {
	if o.health != nil {
		o.health.Track(agent)
	}
	return o.wm.Initialize(ctx, agent, sessionID, initialContext)
}

// LoadWorking implements loadWorking(agent) -> WorkingMemory?.
func (o *Operations) LoadWorking(agent string) (*memtypes.WorkingMemory, error) {
	return o.wm.Load(agent)
}

// UpdateWorking implements updateWorking(agent, delta) -> WorkingMemory.
func (o *Operations) UpdateWorking(ctx context.Context, agent string, req workingmemory.UpdateRequest) (*memtypes.WorkingMemory, error) {
	if o.hooks != nil {
		payload := map[string]interface{}{"observation": req.Observation, "decision": req.Decision, "blocker": req.Blocker}
		if err := o.hooks.Enforce(ctx, hooks.PointBeforeUpdate, agent, payload); err != nil {
			return nil, err
		}
	}
	wm, err := o.wm.Update(ctx, agent, req)
	if err != nil {
		return nil, err
	}
	if req.Blocker != "" {
		o.publishHygieneEvent(agent, "blocker-added")
	}
	return wm, nil
}

// ClearWorking implements clearWorking(agent) by resetting the document via
// Manager.Clear. There is no preserveContext option: the current context is
// reset along with every other section.
func (o *Operations) ClearWorking(ctx context.Context, agent string) (*memtypes.WorkingMemory, error) {
	return o.wm.Clear(ctx, agent)
}

// StoreLongTerm implements storeLongTerm(agent, text, metadata) -> id. The
// id is never null: a SQLite failure returns the fallback record's id
// rather than an error, per P9.
func (o *Operations) StoreLongTerm(ctx context.Context, agent, text string, recordType string, metadata map[string]interface{}) (string, error) {
	if o.store == nil {
		return "", fmt.Errorf("surface: long-term store disabled")
	}
	if err := o.cfg.ValidateTextContent("storeLongTerm.text", text); err != nil {
		return "", err
	}
	rec := memtypes.LongTermRecord{
		ID: uuid.NewString(), Agent: agent, Text: o.cfg.SanitizeTextContent(text),
		Timestamp: time.Now(), Type: recordType, Metadata: metadata,
	}
	stored, err := o.store.Upsert(ctx, rec)
	if err != nil {
		return "", err
	}
	return stored.ID, nil
}

// RetrieveResult mirrors the operation table's
// {shortTerm, longTerm, combined, query, timestamp, error?} shape.
type RetrieveResult struct {
	ShortTerm []retrieval.Result `json:"shortTerm"`
	LongTerm  []retrieval.Result `json:"longTerm"`
	Combined  []retrieval.Result `json:"combined"`
	Query     string             `json:"query"`
	Timestamp time.Time          `json:"timestamp"`
	Error     string             `json:"error,omitempty"`
}

// RetrieveMemory implements retrieveMemory(agent, query, opts) -> combined
// short-term + long-term results, never failing the caller outright (P9).
// Error is set only when retrieval.Search returns an error; a long-term
// search failure does not set it, because the vector store answers from its
// in-process fallback and retrieval.Search drops any long-term error.
func (o *Operations) RetrieveMemory(ctx context.Context, agent, query string, opts retrieval.Options) (RetrieveResult, error) {
	wm, err := o.wm.Load(agent)
	if err != nil {
		return RetrieveResult{}, err
	}

	combined, err := o.retrieval.Search(ctx, *wm, query, opts)
	result := RetrieveResult{Query: query, Timestamp: time.Now(), Combined: combined}
	if err != nil {
		result.Error = err.Error()
	}
	for _, r := range combined {
		if r.Source == retrieval.SourceShortTerm {
			result.ShortTerm = append(result.ShortTerm, r)
		} else {
			result.LongTerm = append(result.LongTerm, r)
		}
	}
	return result, nil
}

// ArchiveTask implements archiveTask(agent, taskId) -> ok.
func (o *Operations) ArchiveTask(ctx context.Context, agent, taskID string) (*memtypes.WorkingMemory, error) {
	wm, err := o.wm.ArchiveTask(ctx, agent, taskID, summarize.Task)
	if err != nil {
		return nil, err
	}
	o.publishHygieneEvent(agent, "task-archived")
	return wm, nil
}

// CheckContext implements checkContext(agent, required[]) ->
// {sufficient, missing[], available{}}.
func (o *Operations) CheckContext(agent string, required []string) (workingmemory.ContextSufficiency, error) {
	return o.wm.CheckContextSufficiency(agent, required)
}

// PerformHygiene implements performHygiene(agent, opts?) ->
// {success, analysis, cleanupActions[], errors[]}.
type HygieneResult struct {
	Success        bool                   `json:"success"`
	Analysis       hygiene.UsageReport    `json:"analysis"`
	CleanupActions []string               `json:"cleanupActions"`
	Errors         []string               `json:"errors"`
}

func (o *Operations) PerformHygiene(ctx context.Context, agent string, force bool) (HygieneResult, error) {
	if o.hygiene == nil {
		return HygieneResult{}, fmt.Errorf("surface: hygiene engine disabled")
	}
	analysis, err := o.hygiene.AnalyzeUsage(agent)
	if err != nil {
		return HygieneResult{}, err
	}
	if !analysis.NeedsCleanup && !force {
		return HygieneResult{Success: true, Analysis: analysis}, nil
	}

	result, err := o.hygiene.RunCleanup(ctx, agent)
	if err != nil {
		return HygieneResult{Success: false, Analysis: analysis, Errors: []string{err.Error()}}, nil
	}

	var actions []string
	if result.ObservationsArchived > 0 {
		actions = append(actions, fmt.Sprintf("archived %d observations", result.ObservationsArchived))
	}
	if result.DecisionsArchived > 0 {
		actions = append(actions, fmt.Sprintf("archived %d decisions", result.DecisionsArchived))
	}
	if result.CompletedTasksArchived > 0 {
		actions = append(actions, fmt.Sprintf("trimmed %d completed tasks", result.CompletedTasksArchived))
	}
	if result.KeyFactsArchived > 0 {
		actions = append(actions, fmt.Sprintf("archived %d key facts", result.KeyFactsArchived))
	}
	if result.BlockersArchived > 0 {
		actions = append(actions, fmt.Sprintf("archived %d blockers", result.BlockersArchived))
	}
	if result.Skipped {
		actions = append(actions, "skipped: cleanup already in flight")
	}

	o.publishHygieneEvent(agent, "cleanup-run")
	return HygieneResult{Success: true, Analysis: analysis, CleanupActions: actions}, nil
}

// HealthResult implements healthCheck(agent, opts?) ->
// {overallStatus, checks{}, recommendations[]}.
type HealthResult struct {
	OverallStatus   memtypes.HealthStatus          `json:"overallStatus"`
	Checks          map[string]memtypes.HealthEntry `json:"checks"`
	Recommendations []string                        `json:"recommendations"`
}

func (o *Operations) HealthCheck(ctx context.Context, agent string) (HealthResult, error) {
	if o.health == nil {
		return HealthResult{}, fmt.Errorf("surface: health monitor disabled")
	}
	entries := o.health.CheckAgent(ctx, agent)
	checks := make(map[string]memtypes.HealthEntry, len(entries))
	overall := memtypes.StatusHealthy
	var recs []string

	for _, e := range entries {
		checks[e.Component] = e
		if e.Status == memtypes.StatusUnhealthy {
			overall = memtypes.StatusUnhealthy
		} else if e.Status == memtypes.StatusDegraded && overall == memtypes.StatusHealthy {
			overall = memtypes.StatusDegraded
		}
		if e.Status != memtypes.StatusHealthy {
			recs = append(recs, fmt.Sprintf("investigate %s: %s", e.Component, e.Message))
		}
	}

	o.publishHealthEvent(agent, overall)
	return HealthResult{OverallStatus: overall, Checks: checks, Recommendations: recs}, nil
}

func (o *Operations) publishHygieneEvent(agent, action string) {
	payload := map[string]interface{}{"agent": agent, "action": action, "timestamp": time.Now()}
	if o.bus != nil {
		o.bus.Publish(eventbus.SubjectHygiene, payload)
	}
	if o.hub != nil {
		o.hub.BroadcastJSON("hygiene", payload)
	}
}

func (o *Operations) publishHealthEvent(agent string, status memtypes.HealthStatus) {
	payload := map[string]interface{}{"agent": agent, "status": status, "timestamp": time.Now()}
	if o.bus != nil {
		o.bus.Publish(eventbus.SubjectHealth, payload)
	}
	if o.hub != nil {
		o.hub.BroadcastJSON("health", payload)
	}
}
