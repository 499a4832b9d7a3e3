// Package errs defines the error taxonomy shared by every substrate
// component: a small set of sentinel kinds that callers can test with
// errors.Is, instead of matching on message strings.
package errs

import "errors"

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", Kind) at the call
// site so context travels with the error while errors.Is still matches.
var (
	// InvalidArgument is returned by validators; never retried.
	InvalidArgument = errors.New("invalid argument")
	// LockTimeout is returned when a named file lock could not be acquired
	// within the configured timeout. Caller may retry with backoff.
	LockTimeout = errors.New("lock timeout")
	// IOError is returned on read/write/rename failure.
	IOError = errors.New("io error")
	// ParseError is returned when persisted JSON fails to decode.
	ParseError = errors.New("parse error")
	// Timeout is returned when any suspension point exceeds its bound.
	Timeout = errors.New("timeout")
	// DegradedExternal marks a non-fatal fallback path (vector store or
	// embedding provider unreachable). Operations continue; this is never
	// surfaced as a failure to the caller, only attached to result envelopes.
	DegradedExternal = errors.New("degraded external dependency")
)

// IsInvalidArgument reports whether err is any InvalidArgument-kind error.
func IsInvalidArgument(err error) bool { return errors.Is(err, InvalidArgument) }

// IsLockTimeout reports whether err is a LockTimeout-kind error.
func IsLockTimeout(err error) bool { return errors.Is(err, LockTimeout) }

// IsIOError reports whether err is an IOError-kind error.
func IsIOError(err error) bool { return errors.Is(err, IOError) }

// IsParseError reports whether err is a ParseError-kind error.
func IsParseError(err error) bool { return errors.Is(err, ParseError) }

// IsTimeout reports whether err is a Timeout-kind error.
func IsTimeout(err error) bool { return errors.Is(err, Timeout) }

// IsDegraded reports whether err is a DegradedExternal-kind error.
func IsDegraded(err error) bool { return errors.Is(err, DegradedExternal) }
