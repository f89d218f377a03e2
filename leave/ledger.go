/*
ledger.go - Balance ledger: the only writer of an employee's balance

PURPOSE:
  Employee.RemainingBalance is a cached counter. Every change to it goes
  through Debit, Credit or Adjust, and every change appends exactly one
  BalanceAuditEntry in the same transaction:

    previous_balance + delta = new_balance

  so the counter can always be rebuilt from the trail (see reconcile.go).

ATOMICITY:
  The ledger never opens its own transaction. It runs inside the caller's
  Tx, takes the employee lock (LockEmployee) and performs
  read → compute → write while holding it. Two concurrent debits against
  the same employee are therefore serialized, and the second one sees the
  first one's result.

NOT IDEMPOTENT:
  Calling Debit twice for one approval debits twice. The lifecycle's status
  guard (pending → approved happens once) is what prevents that.

METRICS:
  The ledger does not count its own writes; the caller's transaction may
  still roll back. Service bumps leave_ledger_changes_total once WithTx
  has committed.

NEGATIVE BALANCE:
  A debit that would leave the balance below zero fails with
  *InsufficientBalanceError. Exactly zero is allowed. Credit has no upper
  bound.
*/
package leave

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Audit reasons written by the engine.
const (
	ReasonLeaveApproved  = "leave approved"
	ReasonLeaveCancelled = "approved leave cancelled"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	clock Clock
	newID func() string
}

func NewLedger(clock Clock) *Ledger {
	if clock == nil {
		clock = realClock{}
	}
	return &Ledger{clock: clock, newID: newID}
}

// Debit consumes days from the employee's balance for an approved request.
// Returns the new balance.
func (l *Ledger) Debit(ctx context.Context, tx Tx, employeeID string, days int, requestID string) (int, error) {
	if days <= 0 {
		return 0, ErrInvalidAmount
	}
	return l.apply(ctx, tx, employeeID, -days, optionalID(requestID), ReasonLeaveApproved)
}

// Credit returns days to the employee's balance, typically when an approved
// request is cancelled. Returns the new balance.
func (l *Ledger) Credit(ctx context.Context, tx Tx, employeeID string, days int, requestID string, reason string) (int, error) {
	if days <= 0 {
		return 0, ErrInvalidAmount
	}
	if reason == "" {
		reason = ReasonLeaveCancelled
	}
	return l.apply(ctx, tx, employeeID, days, optionalID(requestID), reason)
}

// Adjust applies a manual correction not tied to a request. A negative
// delta is guarded like a debit.
func (l *Ledger) Adjust(ctx context.Context, tx Tx, employeeID string, delta int, reason string) (int, error) {
	if delta == 0 {
		return 0, ErrInvalidAmount
	}
	if reason == "" {
		return 0, &MissingFieldError{Field: "reason"}
	}
	return l.apply(ctx, tx, employeeID, delta, nil, reason)
}

func (l *Ledger) apply(ctx context.Context, tx Tx, employeeID string, delta int, requestID *string, reason string) (int, error) {
	emp, err := tx.LockEmployee(ctx, employeeID)
	if err != nil {
		return 0, err
	}

	current := emp.RemainingBalance
	next := current + delta
	if next < 0 {
		return 0, &InsufficientBalanceError{
			EmployeeID: employeeID,
			Current:    current,
			Requested:  -delta,
			Result:     next,
		}
	}

	if err := tx.SetBalance(ctx, employeeID, next); err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	entry := BalanceAuditEntry{
		ID:              l.newID(),
		EmployeeID:      employeeID,
		LeaveRequestID:  requestID,
		PreviousBalance: current,
		Delta:           delta,
		NewBalance:      next,
		Reason:          reason,
		Timestamp:       l.clock.Now(),
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return 0, fmt.Errorf("append audit entry: %w", err)
	}
	return next, nil
}

// newID returns a time-ordered UUID so ids sort in creation order.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
