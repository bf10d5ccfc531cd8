package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrUpdateFailed is returned when an update operation fails, for example
	// because the entity does not exist or the update violates constraints.
	ErrUpdateFailed = errors.New("update failed")

	// ErrDeleteFailed is returned when a delete operation fails.
	ErrDeleteFailed = errors.New("delete failed")

	// Entity-specific "not found" errors

	// ErrTaskNotFound indicates that the requested task does not exist in the
	// store. DequeueNext also returns it when the tenant's queue is empty.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrReviewTargetNotFound indicates that the requested review target does not exist.
	ErrReviewTargetNotFound = fmt.Errorf("%w: review target", ErrNotFound)

	// ErrReviewSpaceNotFound indicates that the requested review space does not exist.
	ErrReviewSpaceNotFound = fmt.Errorf("%w: review space", ErrNotFound)

	// ErrDocumentCacheNotFound indicates that no cached document exists for the file.
	ErrDocumentCacheNotFound = fmt.Errorf("%w: document cache", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
