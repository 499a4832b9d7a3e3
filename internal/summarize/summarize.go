// Package summarize renders a working-memory section or a completed task's
// trail into a single plain-text block suitable for archival into the
// vector store. It is shared between the Working Memory Manager's
// archiveTask and the Hygiene Engine's per-section cleanup so the same
// summary shape is produced regardless of which component triggered
// archival.
package summarize

import (
	"fmt"
	"strings"

	"github.com/agentmem/substrate/internal/memtypes"
)

// Task renders every entry in wm whose Context.TaskID matches taskID into a
// single summary block.
func Task(wm memtypes.WorkingMemory, taskID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s summary:\n", taskID)

	wrote := false
	for _, o := range wm.Observations {
		if o.Context.TaskID == taskID {
			fmt.Fprintf(&b, "- observed: %s\n", o.Content)
			wrote = true
		}
	}
	for _, d := range wm.Decisions {
		if d.Context.TaskID == taskID {
			fmt.Fprintf(&b, "- decided: %s (because %s)\n", d.Decision, d.Reasoning)
			wrote = true
		}
	}
	for _, bl := range wm.Blockers {
		if bl.Context.TaskID == taskID {
			status := "unresolved"
			if bl.Resolved {
				status = "resolved: " + bl.Resolution
			}
			fmt.Fprintf(&b, "- blocker (%s): %s\n", status, bl.Blocker)
			wrote = true
		}
	}

	if !wrote {
		return ""
	}
	return b.String()
}

// Observations renders a slice of observations being evicted by hygiene into
// a single summary block.
func Observations(obs []memtypes.Observation) string {
	if len(obs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Archived observations:\n")
	for _, o := range obs {
		fmt.Fprintf(&b, "- %s: %s\n", o.Timestamp.Format("2006-01-02T15:04:05Z"), o.Content)
	}
	return b.String()
}

// Decisions renders a slice of decisions being evicted by hygiene.
func Decisions(decs []memtypes.Decision) string {
	if len(decs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Archived decisions:\n")
	for _, d := range decs {
		fmt.Fprintf(&b, "- %s: %s (because %s)\n", d.Timestamp.Format("2006-01-02T15:04:05Z"), d.Decision, d.Reasoning)
	}
	return b.String()
}

// CompletedTasks renders a slice of completed tasks being evicted by
// hygiene.
func CompletedTasks(tasks []memtypes.CompletedTask) string {
	if len(tasks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Archived completed tasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s: %s\n", t.Timestamp.Format("2006-01-02T15:04:05Z"), t.TaskID)
	}
	return b.String()
}

// KeyFacts renders a map of key facts being evicted by hygiene, in
// caller-supplied key order.
func KeyFacts(keys []string, facts map[string]memtypes.KeyFact) string {
	if len(keys) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Archived key facts:\n")
	for _, k := range keys {
		f := facts[k]
		fmt.Fprintf(&b, "- %s: %s\n", k, f.Content)
	}
	return b.String()
}

// Blockers renders a slice of blockers being evicted by hygiene.
func Blockers(blockers []memtypes.Blocker) string {
	if len(blockers) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Archived blockers:\n")
	for _, bl := range blockers {
		status := "unresolved"
		if bl.Resolved {
			status = "resolved: " + bl.Resolution
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", bl.Timestamp.Format("2006-01-02T15:04:05Z"), status, bl.Blocker)
	}
	return b.String()
}

// Session renders a full end-of-session summary of everything still present
// in wm, used when alwaysSummarize is enabled (spec §9 open question a).
func Session(wm memtypes.WorkingMemory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session summary for %s (session %s):\n", wm.AgentName, wm.SessionID)
	if s := Observations(wm.Observations); s != "" {
		b.WriteString(s)
	}
	if s := Decisions(wm.Decisions); s != "" {
		b.WriteString(s)
	}
	if s := CompletedTasks(wm.CompletedTasks); s != "" {
		b.WriteString(s)
	}
	return b.String()
}
