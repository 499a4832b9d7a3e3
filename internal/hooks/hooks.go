// Package hooks implements the substrate's Validation Hooks & Enforcement
// (spec C8): a registry of named hook points, each with zero or more
// validator functions run in registration order, plus an append-only audit
// log of every validation outcome. Grounded directly on the teacher's MCP
// tool registry (internal/mcp/tools.go ToolRegistry Register/Get/Execute),
// generalized from "named tool -> single handler" to "named hook point ->
// ordered validator chain".
package hooks

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/agentmem/substrate/internal/config"
)

// Point names every enforceable hook point in the substrate.
type Point string

const (
	PointBeforeUpdate   Point = "before-update"
	PointBeforeArchive  Point = "before-archive"
	PointBeforeCleanup  Point = "before-cleanup"
	PointBeforeResolve  Point = "before-resolve-blocker"
)

// Validator inspects a hook point's payload and returns a non-nil error to
// block the operation. Validators never mutate payload — enforcement is a
// gate, not a transform.
type Validator func(ctx context.Context, agent string, payload map[string]interface{}) error

// Registry holds the validator chain for every hook point.
type Registry struct {
	cfg *config.Config

	mu         sync.RWMutex
	validators map[Point][]namedValidator

	logMu sync.Mutex
}

type namedValidator struct {
	name string
	fn   Validator
}

// NewRegistry constructs an empty Registry. Call RegisterDefaults to install
// the substrate's built-in validators (agent-name and text-content checks).
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{cfg: cfg, validators: make(map[Point][]namedValidator)}
}

// Register appends a named validator to point's chain.
func (r *Registry) Register(point Point, name string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[point] = append(r.validators[point], namedValidator{name: name, fn: v})
}

// List returns the registered validator names for point, for diagnostics.
func (r *Registry) List(point Point) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, v := range r.validators[point] {
		names = append(names, v.name)
	}
	return names
}

// Enforce runs every validator registered for point against payload, in
// registration order, stopping at the first failure. Every outcome (pass or
// fail) is appended to the day's audit log.
func (r *Registry) Enforce(ctx context.Context, point Point, agent string, payload map[string]interface{}) error {
	r.mu.RLock()
	chain := append([]namedValidator{}, r.validators[point]...)
	r.mu.RUnlock()

	for _, v := range chain {
		if err := v.fn(ctx, agent, payload); err != nil {
			r.audit(point, agent, v.name, err)
			return fmt.Errorf("hooks: %s rejected by %s: %w", point, v.name, err)
		}
	}
	r.audit(point, agent, "", nil)
	return nil
}

func (r *Registry) audit(point Point, agent, failedValidator string, cause error) {
	if r.cfg.Paths.ValidationLogsDir == "" {
		return
	}
	r.logMu.Lock()
	defer r.logMu.Unlock()

	if err := os.MkdirAll(r.cfg.Paths.ValidationLogsDir, 0o755); err != nil {
		return
	}
	now := time.Now()
	path := r.cfg.Paths.ValidationLogPath(now)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	status := "pass"
	detail := ""
	if cause != nil {
		status = "fail"
		detail = fmt.Sprintf(" validator=%s cause=%v", failedValidator, cause)
	}
	line := fmt.Sprintf("%s point=%s agent=%s status=%s%s\n", now.Format(time.RFC3339), point, agent, status, detail)
	_, _ = f.WriteString(line)
}

// RegisterDefaults installs the substrate's built-in validators: agent name
// shape at every mutating hook point, and text-content safety for
// observation, decision and blocker at the before-update point.
func (r *Registry) RegisterDefaults() {
	agentNameCheck := func(_ context.Context, agent string, _ map[string]interface{}) error {
		return r.cfg.ValidateAgentName(agent)
	}
	textCheck := func(field string) Validator {
		return func(_ context.Context, _ string, payload map[string]interface{}) error {
			text, _ := payload[field].(string)
			if text == "" {
				return nil
			}
			return r.cfg.ValidateTextContent(field, text)
		}
	}

	for _, point := range []Point{PointBeforeUpdate, PointBeforeArchive, PointBeforeCleanup, PointBeforeResolve} {
		r.Register(point, "agent-name", agentNameCheck)
	}
	r.Register(PointBeforeUpdate, "observation-content", textCheck("observation"))
	r.Register(PointBeforeUpdate, "decision-content", textCheck("decision"))
	r.Register(PointBeforeUpdate, "blocker-content", textCheck("blocker"))
}
