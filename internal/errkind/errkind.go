// Package errkind classifies errors crossing component boundaries.
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class an error belongs to.
type Kind string

const (
	// Validation marks a malformed or rejected request.
	Validation Kind = "validation"
	// NotFound marks a lookup that matched nothing.
	NotFound Kind = "not_found"
	// Conflict marks a duplicate of an already-active pipeline.
	Conflict Kind = "conflict"
	// CircuitOpen marks a call refused by an open circuit breaker.
	CircuitOpen Kind = "circuit_open"
	// ProcessFailure marks a git or forge subprocess exiting non-zero.
	ProcessFailure Kind = "process_failure"
	// AgentFailure marks an agent stream that signalled an error result.
	AgentFailure Kind = "agent_failure"
	// AgentCrash marks an agent process that exited without producing a result.
	AgentCrash Kind = "agent_crash"
	// MergeConflictUnresolved marks conflicts the resolver agent could not fix.
	MergeConflictUnresolved Kind = "merge_conflict_unresolved"
	// RebaseFailed marks an aborted rebase of an integration branch.
	RebaseFailed Kind = "rebase_failed"
	// PersistenceError marks a failed read or write of durable state.
	PersistenceError Kind = "persistence_error"
	// Transient marks a failure that is safe to retry.
	Transient Kind = "transient"
)

// Error pairs a failure kind with the operation that produced it.
type Error struct {
	// Kind is the failure class.
	Kind Kind
	// Op names the failing operation, e.g. "manifest.write".
	Op string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind carried by err, or the empty kind when err
// has none. The innermost kinded error wins so a re-wrapped error keeps
// its original classification.
func KindOf(err error) Kind {
	var kind Kind
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		kind = e.Kind
		err = e.Err
	}
	return kind
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
