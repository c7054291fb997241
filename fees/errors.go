/*
errors.go - Centralized error types for the fee engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP statuses; callers use the
  classifier helpers instead of matching concrete types.

ERROR CATEGORIES:
  1. Validation errors - caller-fixable business-rule violations
  2. Not-found errors  - missing enrollment, plan item, or adjustment
  3. Conflict errors   - concurrent modification, double cancellation
  4. Execution errors  - the payment executor boundary failed

USAGE:
  if fees.IsValidation(err) {
      // 400: fix the request and resubmit
  }

SEE ALSO:
  - override.go, payment.go, adjustment.go: Produce these errors
  - api/handlers.go: Maps them to HTTP statuses
*/
package fees

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the base class for caller-fixable failures: negative
	// or over-limit amounts, missing reasons, mismatched totals.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced enrollment, plan item,
	// receipt, or adjustment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on concurrent modification or when cancelling
	// an already-cancelled adjustment or receipt.
	ErrConflict = errors.New("conflict")

	// ErrExecution is returned when the payment executor boundary fails.
	// The executor is all-or-nothing: no partial state exists and the core
	// performs no compensation.
	ErrExecution = errors.New("payment execution failed")

	// ErrDuplicateReceiptNumber is returned when a receipt number is already
	// used by another ACTIVE receipt.
	ErrDuplicateReceiptNumber = errors.New("duplicate receipt number")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a single business-rule violation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError identifies which entity was missing.
type NotFoundError struct {
	Kind string // "enrollment", "plan_item", "receipt", "adjustment"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError describes a state conflict, such as cancelling an
// already-cancelled adjustment.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ExecutionError wraps a failure from the payment executor boundary.
type ExecutionError struct {
	Op  string // "execute", "update", "cancel"
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("payment executor %s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return ErrExecution }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is caller-fixable.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrDuplicateReceiptNumber)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsExecution returns true if the payment executor boundary failed.
func IsExecution(err error) bool {
	return errors.Is(err, ErrExecution)
}
