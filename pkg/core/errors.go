// Package core provides the main PowerMem client and memory management functionality.
package core

import "github.com/ob-labs/powermem-go/pkg/memerr"

// Sentinel errors, re-exported from memerr so facade callers can test
// failures with errors.Is without importing a second package. The canonical
// definitions (and the transient/terminal classification) live in memerr.
var (
	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = memerr.ErrNotFound

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = memerr.ErrInvalidConfig

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = memerr.ErrInvalidInput

	// ErrUnauthorized indicates that the operation carried no caller
	// identity at all.
	ErrUnauthorized = memerr.ErrUnauthorized

	// ErrForbidden indicates that the caller identity does not match the
	// scope of the addressed memory.
	ErrForbidden = memerr.ErrForbidden

	// ErrLLMUnavailable indicates that the configured LLM provider kept
	// failing after retries. Transient.
	ErrLLMUnavailable = memerr.ErrLLMUnavailable

	// ErrEmbeddingFailed indicates that embedding generation failed.
	ErrEmbeddingFailed = memerr.ErrEmbedderUnavailable

	// ErrStoreUnavailable indicates that no storage backend could serve
	// the operation. Transient.
	ErrStoreUnavailable = memerr.ErrStoreUnavailable

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = memerr.ErrStorageOperation

	// ErrDuplicateMemory indicates that a duplicate memory was detected.
	ErrDuplicateMemory = memerr.ErrDuplicateMemory

	// ErrSubStoreNotActive indicates that an operation addressed a
	// sub-store that has not been activated yet.
	ErrSubStoreNotActive = memerr.ErrSubStoreNotActive
)

// MemoryError carries operation context for facade failures. It is the
// memerr operation wrapper under its historical name.
type MemoryError = memerr.Error

// NewMemoryError wraps an error with operation context, rendering as
// "powermem: <op>: <err>". Returns nil when err is nil so call sites can
// wrap unconditionally.
func NewMemoryError(op string, err error) error {
	return memerr.New(op, err)
}
