// Package errors provides custom error types for the sync subsystem
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the way callers must react to it.
type Kind uint8

const (
	// KindInternal is the zero Kind: an unclassified failure.
	KindInternal Kind = iota

	// KindValidation marks bad input. Never retried, surfaced to the caller
	// before storage is touched.
	KindValidation

	// KindQuota marks a local capacity ceiling. Not retried; the caller
	// decides policy (evict, surface, abort).
	KindQuota

	// KindIO marks a local storage malfunction. Retried a bounded number of
	// times, then fatal for that operation.
	KindIO

	// KindNetwork marks an unreachable remote. Always retryable with backoff
	// up to the queue's attempt ceiling.
	KindNetwork

	// KindRejected marks a remote refusal (authorization, schema mismatch).
	// Never retried automatically; surfaced as a sync failure.
	KindRejected

	// KindNotFound marks a missing entity or key.
	KindNotFound

	// KindConflict marks a version collision or duplicate create.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindQuota:
		return "quota_exceeded"
	case KindIO:
		return "io_failure"
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// retryable reports the default retry classification for the kind.
func (k Kind) retryable() bool {
	return k == KindNetwork || k == KindIO
}

// Op identifies the operation during which an error occurred.
type Op string

const (
	OpOpen     Op = "open"
	OpGet      Op = "get"
	OpPut      Op = "put"
	OpDelete   Op = "delete"
	OpList     Op = "list"
	OpTx       Op = "tx"
	OpValidate Op = "validate"
	OpEnqueue  Op = "enqueue"
	OpDrain    Op = "drain"
	OpPush     Op = "push"
	OpPull     Op = "pull"
	OpResolve  Op = "resolve"
	OpRefresh  Op = "refresh"
	OpClose    Op = "close"
)

// Component identifies the subsystem that generated the error
// (e.g., "store", "queue", "remote").
type Component string

// Metadata carries additional context attached to an error.
type Metadata map[string]interface{}

// SyncError is the structured error type used across the subsystem.
type SyncError struct {
	// Operation during which the error occurred
	Op Op

	// Component that generated the error (e.g., "store", "remote")
	Component Component

	// Kind classifies the failure
	Kind Kind

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Metadata for additional context
	Metadata Metadata
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	msg += fmt.Sprintf(" [%s]", e.Kind)

	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is reports a match against another *SyncError template: zero fields on the
// target act as wildcards, so errors.Is(err, &SyncError{Kind: KindNotFound})
// matches any not-found error.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	if t.Component != "" && t.Component != e.Component {
		return false
	}
	if t.Kind != KindInternal && t.Kind != e.Kind {
		return false
	}
	return true
}

// E builds a *SyncError from its arguments, which may appear in any order:
// Op, Component, Kind, Metadata, string (becomes the cause if none is set),
// and error (the cause). Retryable defaults from the Kind and can be forced
// with a bool argument.
func E(args ...interface{}) *SyncError {
	e := &SyncError{}
	for _, arg := range args {
		switch v := arg.(type) {
		case Op:
			e.Op = v
		case Component:
			e.Component = v
		case Kind:
			e.Kind = v
			e.Retryable = v.retryable()
		case Metadata:
			e.Metadata = v
		case *SyncError:
			e.Err = v
			if e.Kind == KindInternal {
				e.Kind = v.Kind
				e.Retryable = v.Retryable
			}
		case error:
			e.Err = v
		case string:
			if e.Err == nil {
				e.Err = errors.New(v)
			}
		case bool:
			e.Retryable = v
		}
	}
	return e
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Op, cause error) *SyncError {
	return &SyncError{
		Kind:      KindIO,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewQuotaError creates a SyncError for a local capacity ceiling
func NewQuotaError(op Op, cause error) *SyncError {
	return &SyncError{
		Kind:      KindQuota,
		Op:        op,
		Component: "store",
		Err:       cause,
	}
}

// NewConflictError creates a new conflict-related SyncError
func NewConflictError(op Op, cause error) *SyncError {
	return &SyncError{
		Kind: KindConflict,
		Op:   op,
		Err:  cause,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Op, cause error) *SyncError {
	return &SyncError{
		Kind: KindValidation,
		Op:   op,
		Err:  cause,
	}
}

// NewNetworkError creates a new network-related SyncError
func NewNetworkError(op Op, cause error) *SyncError {
	return &SyncError{
		Kind:      KindNetwork,
		Op:        op,
		Component: "remote",
		Err:       cause,
		Retryable: true,
	}
}

// NewRejectedError creates a SyncError for a remote refusal
func NewRejectedError(op Op, cause error) *SyncError {
	return &SyncError{
		Kind:      KindRejected,
		Op:        op,
		Component: "remote",
		Err:       cause,
	}
}

// NewNotFound creates a SyncError for a missing key or entity
func NewNotFound(op Op, cause error) *SyncError {
	return &SyncError{
		Kind: KindNotFound,
		Op:   op,
		Err:  cause,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// KindOf returns the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsNotFound reports whether err marks a missing key or entity.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsQuotaExceeded reports whether err marks a local capacity ceiling.
func IsQuotaExceeded(err error) bool {
	return IsKind(err, KindQuota)
}
