// Package memerr defines the error taxonomy shared by all PowerMem packages.
//
// Errors fall into sentinel kinds that callers test with errors.Is, plus an
// operation-context wrapper (Error) that renders "powermem: <op>: <err>".
// Transient kinds (LLM, embedder, store unavailability) are safe to retry;
// the rest are terminal for the call that produced them.
package memerr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds.
var (
	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates that the caller identity is missing.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates that the caller identity does not match the
	// scope of the addressed record.
	ErrForbidden = errors.New("forbidden")

	// ErrLLMUnavailable indicates that the LLM provider could not be
	// reached or kept failing after retries. Transient.
	ErrLLMUnavailable = errors.New("llm unavailable")

	// ErrLLMMalformed indicates that the LLM returned output that does not
	// parse against the expected schema.
	ErrLLMMalformed = errors.New("llm returned malformed output")

	// ErrEmbedderUnavailable indicates that embedding generation failed.
	// Transient.
	ErrEmbedderUnavailable = errors.New("embedding generation failed")

	// ErrStoreUnavailable indicates that a connection to the storage
	// backend failed. Transient.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrLLMOperation indicates that an LLM operation failed.
	ErrLLMOperation = errors.New("llm operation failed")

	// ErrDuplicateMemory indicates that a duplicate memory was detected.
	ErrDuplicateMemory = errors.New("duplicate memory detected")

	// ErrUnsupportedFilterOp indicates that a filter operator is not
	// supported by the backend evaluating it.
	ErrUnsupportedFilterOp = errors.New("unsupported filter operator")

	// ErrSubStoreNotActive indicates that an operation addressed a
	// sub-store that has not been activated.
	ErrSubStoreNotActive = errors.New("sub-store not active")

	// ErrMigrationInProgress indicates that a migration is already running
	// for the addressed sub-store.
	ErrMigrationInProgress = errors.New("migration already in progress")

	// ErrInternal indicates a violated internal invariant. Not recoverable
	// by the caller.
	ErrInternal = errors.New("internal invariant violated")
)

// Error wraps errors with operation context.
//
// The rendered message is "powermem: <Op>: <Err>". Error supports
// errors.Is and errors.As through Unwrap.
type Error struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns the formatted message "powermem: <Op>: <Err>".
func (e *Error) Error() string {
	return fmt.Sprintf("powermem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with operation context. If err is nil, New returns nil so
// call sites can wrap unconditionally:
//
//	return memerr.New("Add", err)
func New(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Newf wraps a formatted message as an operation error.
func Newf(op, format string, args ...interface{}) error {
	return &Error{Op: op, Err: fmt.Errorf(format, args...)}
}

// UnsupportedFilterOpError reports a filter operator a backend cannot
// compile or evaluate. It unwraps to ErrUnsupportedFilterOp.
type UnsupportedFilterOpError struct {
	// Backend names the store dialect that rejected the operator.
	Backend string

	// Field is the filter path the operator was applied to.
	Field string

	// Op is the rejected operator, e.g. "gte" or "like".
	Op string
}

// Error returns a message naming the backend, field and operator.
func (e *UnsupportedFilterOpError) Error() string {
	return fmt.Sprintf("filter operator %q on %q not supported by %s backend", e.Op, e.Field, e.Backend)
}

// Unwrap returns ErrUnsupportedFilterOp so errors.Is matches the sentinel.
func (e *UnsupportedFilterOpError) Unwrap() error {
	return ErrUnsupportedFilterOp
}

// IsTransient reports whether err is one of the retryable kinds.
func IsTransient(err error) bool {
	return errors.Is(err, ErrLLMUnavailable) ||
		errors.Is(err, ErrEmbedderUnavailable) ||
		errors.Is(err, ErrStoreUnavailable)
}
