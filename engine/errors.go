/*
errors.go - Centralized error types for the engine

PURPOSE:
  All engine error kinds in one place. Callers branch on failure kind with
  errors.Is, never on error strings.

ERROR CATEGORIES:
  1. Store errors    - Backing-store unavailability (retryable)
  2. Conflict errors - Concurrent allocation/reservation detected by storage
  3. Validation errors - Bad input (never retryable)

RETRY CONTRACT:
  A retryable failure means "no state change occurred". An allocator seeing
  ErrAllocationConflict must re-read the last identifier and retry; it must
  never assume its candidate identifier was persisted.

SEE ALSO:
  - allocator.go: Conflict retry loop
  - store.go: Interfaces that surface these errors
*/
package engine

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStoreUnavailable is returned when the backing store times out or is
	// unreachable. Treated as "no state change occurred".
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrAllocationConflict is returned when the storage-layer uniqueness
	// constraint detects a concurrent allocation for the same head.
	ErrAllocationConflict = errors.New("concurrent identifier allocation detected")

	// ErrReservationConflict is returned when a capacity write loses a race
	// that the in-process tracker did not serialize (second line of defense).
	ErrReservationConflict = errors.New("concurrent capacity reservation detected")

	// ErrInvalidPeriodCode is returned for codes outside AA..ZZ.
	ErrInvalidPeriodCode = errors.New("invalid period code")

	// ErrItemNotFound is returned when a referenced work item doesn't exist.
	ErrItemNotFound = errors.New("work item not found")

	// ErrPassInProgress is returned when an adjustment pass is requested while
	// another pass is still running and the caller chose not to wait.
	ErrPassInProgress = errors.New("adjustment pass already in progress")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConflictError carries the freshly observed head so the caller can retry
// without an extra read.
type ConflictError struct {
	Kind     string // "identifier" or "capacity"
	Observed Identifier
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: observed head %q", e.Kind, e.Observed)
}

func (e *ConflictError) Unwrap() error {
	if e.Kind == "capacity" {
		return ErrReservationConflict
	}
	return ErrAllocationConflict
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed if repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrAllocationConflict) ||
		errors.Is(err, ErrReservationConflict) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsConflict returns true if a concurrent writer won the race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAllocationConflict) ||
		errors.Is(err, ErrReservationConflict)
}

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriodCode) ||
		errors.Is(err, ErrItemNotFound)
}
