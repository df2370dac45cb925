// Package errkind defines the closed error taxonomy used across the
// acquisition pipeline so that callers can branch on failure class without
// string matching.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the seven failure classes the pipeline distinguishes.
type Kind string

const (
	// NetworkTransient covers timeouts, connection resets, 5xx, and 429.
	// Retried per backoff policy; surfaced as recoverable if exhausted.
	NetworkTransient Kind = "network_transient"
	// NetworkPermanent covers DNS failure, 404 on a registered source URL,
	// and TLS failure. Non-recoverable; the source is marked unhealthy for
	// the run.
	NetworkPermanent Kind = "network_permanent"
	// SchemaViolation covers payloads that parse but fail structural
	// validation. Non-recoverable; the dataset is discarded.
	SchemaViolation Kind = "schema_violation"
	// ValidationReject covers payloads the validator routes to reject
	// (confidence below 60).
	ValidationReject Kind = "validation_reject"
	// ConflictEmpty covers resolveConflict called with zero claims, a
	// programmer error that is fatal within a run.
	ConflictEmpty Kind = "conflict_empty"
	// StorageFailure covers artifact insert or head upsert failures, fatal
	// to the affected boundary.
	StorageFailure Kind = "storage_failure"
	// CancelledByTimeout covers HEAD/GET aborted by a timeout.
	CancelledByTimeout Kind = "cancelled_by_timeout"
)

// Error wraps an underlying error with a Kind so callers can classify it via
// errors.As without parsing messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op. If err is nil, New returns nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Recoverable reports whether a failure of this kind should be treated as
// recoverable in a run's error accumulator (§7).
func Recoverable(kind Kind) bool {
	switch kind {
	case NetworkTransient, CancelledByTimeout:
		return true
	default:
		return false
	}
}
