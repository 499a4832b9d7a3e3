package safefile

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/agentmem/substrate/internal/errs"
)

// SafeReadJSON decodes path into a value of T's shape. A missing file
// returns def, not an error. A present-but-corrupt file fails with
// ParseError so the caller can decide how to recover (spec leaves recovery
// to the caller — most reinitialize).
func SafeReadJSON[T any](path string, def T) (T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return def, nil
		}
		var zero T
		return zero, fmt.Errorf("safefile: read %q: %w", path, errs.IOError)
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		var zero T
		return zero, fmt.Errorf("safefile: parse %q: %w", path, errs.ParseError)
	}
	return out, nil
}

// UpdateJSONFile acquires table's lock for path, reads the current value
// (or def if absent/corrupt-and-caller-tolerant), invokes transform, and
// writes the result back atomically before releasing the lock. transform
// must be deterministic and must not perform its own I/O — it exists purely
// to compute the next document from the current one.
//
// This is the single path through which every working-memory mutation (and
// every hygiene cleanup) flows, so invariants I1-I4 only need checking in
// one place.
func UpdateJSONFile[T any](table *LockTable, path string, lockTimeout time.Duration, def T, transform func(current T) (T, error), backup BackupOptions) (T, error) {
	var zero T

	tok, err := table.Acquire(path, lockTimeout)
	if err != nil {
		return zero, err
	}
	defer table.Release(tok)

	current, err := SafeReadJSON(path, def)
	if err != nil {
		if !errs.IsParseError(err) {
			return zero, err
		}
		// Corrupt document: callers of UpdateJSONFile accept def as the
		// recovery baseline rather than propagating ParseError, since a
		// lost update beats a wedged agent.
		current = def
	}

	next, err := transform(current)
	if err != nil {
		return zero, err
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return zero, fmt.Errorf("safefile: marshal %q: %w", path, errs.IOError)
	}

	if err := AtomicWriteWithBackup(path, data, backup); err != nil {
		return zero, err
	}

	return next, nil
}
