// Package safefile implements the substrate's Safe File Layer: named
// advisory locks, atomic file replacement, and read-modify-write JSON
// transactions. Locking is process-internal only — it serializes concurrent
// callers within one process, the same guarantee the teacher's JSONStore
// relied on a single in-process mutex for, generalized here to a table of
// named locks (one per agent document) with timeouts and expiry.
package safefile

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentmem/substrate/internal/errs"
)

// lockEntry tracks one named lock's holder.
type lockEntry struct {
	mu        sync.Mutex
	heldSince time.Time
	held      bool
}

// LockTable is a scoped singleton holding one lock per path. Construct a
// fresh table per test (per the teacher's design notes: shared state must
// be resettable) rather than relying on a package-level global.
type LockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	expiry  time.Duration
}

// NewLockTable creates a lock table whose held locks are force-displaced
// after expiry, preventing deadlock from a caller that panicked or leaked a
// token without releasing it.
func NewLockTable(expiry time.Duration) *LockTable {
	if expiry <= 0 {
		expiry = 30 * time.Second
	}
	return &LockTable{
		entries: make(map[string]*lockEntry),
		expiry:  expiry,
	}
}

// Token represents one successful Acquire; pass it to Release.
type Token struct {
	path  string
	entry *lockEntry
}

func (t *LockTable) entryFor(path string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		e = &lockEntry{}
		t.entries[path] = e
	}
	return e
}

// Acquire blocks up to timeout waiting for path's lock. An expired holder
// (held longer than the table's configured expiry) is displaced so a
// crashed or buggy caller can never wedge the table permanently.
func (t *LockTable) Acquire(path string, timeout time.Duration) (*Token, error) {
	e := t.entryFor(path)
	deadline := time.Now().Add(timeout)

	for {
		e.mu.Lock()
		if !e.held {
			e.held = true
			e.heldSince = time.Now()
			e.mu.Unlock()
			return &Token{path: path, entry: e}, nil
		}
		expired := time.Since(e.heldSince) > t.expiry
		e.mu.Unlock()

		if expired {
			// Force-displace: take over the slot unconditionally.
			e.mu.Lock()
			e.held = true
			e.heldSince = time.Now()
			e.mu.Unlock()
			return &Token{path: path, entry: e}, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("safefile: lock timeout acquiring %q: %w", path, errs.LockTimeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Release gives up the lock. Safe to call with a nil token.
func (t *LockTable) Release(tok *Token) {
	if tok == nil {
		return
	}
	tok.entry.mu.Lock()
	tok.entry.held = false
	tok.entry.mu.Unlock()
}

// SweepExpired releases any lock held past the table's expiry without a
// matching Release call — the periodic cleanup spec §4.2 requires. Callers
// typically run this from a ticker alongside the health monitor.
func (t *LockTable) SweepExpired() int {
	t.mu.Lock()
	paths := make([]*lockEntry, 0, len(t.entries))
	for _, e := range t.entries {
		paths = append(paths, e)
	}
	t.mu.Unlock()

	swept := 0
	for _, e := range paths {
		e.mu.Lock()
		if e.held && time.Since(e.heldSince) > t.expiry {
			e.held = false
			swept++
		}
		e.mu.Unlock()
	}
	return swept
}
