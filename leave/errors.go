/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is on the sentinels and errors.As on the
  structured types when they need the context (balance, conflicting request).

ERROR CATEGORIES:
  1. Validation - bad input shape, format or date order. Nothing mutated.
  2. Not found  - employee, request or resolver missing. Nothing mutated.
  3. Conflict   - overlap, insufficient balance, invalid transition,
                  ownership mismatch. Nothing mutated.
  4. Persistence - anything else coming out of the store. The whole
                  operation rolled back; the caller may retry it.

SEE ALSO:
  - api/handlers.go: maps the categories to HTTP status codes
*/
package leave

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Validation
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidDate      = errors.New("invalid date")
	ErrDateOrderInvalid = errors.New("start date must not be after end date")
	ErrDateInPast       = errors.New("leave cannot start in the past")
	ErrNoBusinessDays   = errors.New("date range contains no business days")
	ErrInvalidLeaveType = errors.New("invalid leave type")
	ErrInvalidDecision  = errors.New("decision must be approved or rejected")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrNoChanges        = errors.New("no changes supplied")

	// Not found
	ErrEmployeeNotFound = errors.New("employee not found")
	ErrRequestNotFound  = errors.New("leave request not found")
	ErrResolverNotFound = errors.New("resolver not found")

	// Conflict
	ErrInsufficientBalance = errors.New("insufficient leave balance")
	ErrOverlapConflict     = errors.New("leave request overlaps an existing request")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrOwnershipMismatch   = errors.New("leave request belongs to another employee")
	ErrEmployeeExists      = errors.New("employee already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MissingFieldError names the absent field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingField }

// InvalidRangeError is returned by the business-day calculator.
// Cause is ErrDateOrderInvalid for start > end, or wraps ErrInvalidDate.
type InvalidRangeError struct {
	Start Date
	End   Date
	Cause error
}

func (e *InvalidRangeError) Error() string {
	if errors.Is(e.Cause, ErrDateOrderInvalid) {
		return fmt.Sprintf("invalid range %s..%s: %v", e.Start, e.End, e.Cause)
	}
	return fmt.Sprintf("invalid range: %v", e.Cause)
}

func (e *InvalidRangeError) Unwrap() error {
	if e.Cause == nil {
		return ErrDateOrderInvalid
	}
	return e.Cause
}

// InsufficientBalanceError reports the balance that could not cover a debit.
type InsufficientBalanceError struct {
	EmployeeID string
	Current    int
	Requested  int
	Result     int // would-be balance, always negative
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: current %d, requested %d, would leave %d",
		e.Current, e.Requested, e.Result)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// OverlapConflictError carries the representative conflict (lowest id) and
// the full list.
type OverlapConflictError struct {
	Conflict  LeaveRequest
	Conflicts []LeaveRequest
}

func (e *OverlapConflictError) Error() string {
	return fmt.Sprintf("overlaps leave request %s (%s..%s, %s)",
		e.Conflict.ID, e.Conflict.StartDate, e.Conflict.EndDate, e.Conflict.Status)
}

func (e *OverlapConflictError) Unwrap() error { return ErrOverlapConflict }

// InvalidTransitionError is returned when the request is not in a state
// that allows the attempted action.
type InvalidTransitionError struct {
	RequestID string
	Current   Status
	Action    Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s leave request %s: status is %s", e.Action, e.RequestID, e.Current)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to malformed input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrDateOrderInvalid) ||
		errors.Is(err, ErrDateInPast) ||
		errors.Is(err, ErrNoBusinessDays) ||
		errors.Is(err, ErrInvalidLeaveType) ||
		errors.Is(err, ErrInvalidDecision) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrNoChanges)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrResolverNotFound)
}

// IsConflict returns true if the error is a business-rule violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOverlapConflict) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOwnershipMismatch) ||
		errors.Is(err, ErrEmployeeExists)
}
