/*
request.go - Leave request model and status table

PURPOSE:
  Defines the records the engine works on (Employee, LeaveRequest,
  BalanceAuditEntry) and the closed set of request states.

STATE MACHINE:

            submit
              │
              ▼
        ┌──────────┐  modify (pending → pending)
        │ pending  │◀────────┐
        └──────────┘─────────┘
          │      │
   approve│      │reject / cancel
          ▼      ▼
   ┌──────────┐ ┌──────────┐
   │ approved │─▶│ rejected │
   └──────────┘ └──────────┘
           cancel (credits balance back)

  'rejected' covers both a manager rejection and an employee cancellation;
  a cancellation is recognisable by the CancellationMarker prefix in Comments.
  Requests are never deleted.

DERIVED FIELDS:
  DaysRequested is never accepted from the caller. NewLeaveRequest and
  Reschedule are the only code paths that set dates, and both derive the
  day count from the business-day calculator.

SEE ALSO:
  - service.go: drives the transitions
  - time.go: BusinessDays
*/
package leave

import (
	"strings"
	"time"
)

// =============================================================================
// EMPLOYEE - Registry record, referenced by id
// =============================================================================

// Employee is the registry view the engine needs. RemainingBalance is only
// ever written through the Ledger.
type Employee struct {
	ID               string
	Name             string
	Email            string
	Department       string
	TotalEntitlement int
	RemainingBalance int
	CreatedAt        time.Time
}

// =============================================================================
// STATUS - Closed set of request states
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	default:
		return "", false
	}
}

// IsActive reports whether the request still holds (or will hold) days.
// Only active requests take part in overlap detection.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusApproved
}

// Action is a lifecycle operation applied to an existing request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
	ActionModify  Action = "modify"
)

// Allows is the transition table.
//
//	            approve  reject  cancel  modify
//	pending       yes     yes     yes     yes
//	approved       -       -      yes      -
//	rejected       -       -       -       -
func (s Status) Allows(a Action) bool {
	switch s {
	case StatusPending:
		switch a {
		case ActionApprove, ActionReject, ActionCancel, ActionModify:
			return true
		}
	case StatusApproved:
		return a == ActionCancel
	}
	return false
}

// Target returns the status an allowed action moves the request to.
func (a Action) Target() Status {
	switch a {
	case ActionApprove:
		return StatusApproved
	case ActionReject, ActionCancel:
		return StatusRejected
	default:
		return StatusPending
	}
}

// Decision is the resolver's verdict on a pending request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

func (d Decision) Action() (Action, bool) {
	switch d {
	case DecisionApproved:
		return ActionApprove, true
	case DecisionRejected:
		return ActionReject, true
	default:
		return "", false
	}
}

// =============================================================================
// LEAVE TYPE
// =============================================================================

type LeaveType string

const (
	LeaveAnnual    LeaveType = "annual"
	LeaveSick      LeaveType = "sick"
	LeavePersonal  LeaveType = "personal"
	LeaveEmergency LeaveType = "emergency"
	LeaveMaternity LeaveType = "maternity"
	LeavePaternity LeaveType = "paternity"
	LeaveUnpaid    LeaveType = "unpaid"
)

var leaveTypes = map[LeaveType]bool{
	LeaveAnnual:    true,
	LeaveSick:      true,
	LeavePersonal:  true,
	LeaveEmergency: true,
	LeaveMaternity: true,
	LeavePaternity: true,
	LeaveUnpaid:    true,
}

func ParseLeaveType(s string) (LeaveType, error) {
	lt := LeaveType(strings.ToLower(strings.TrimSpace(s)))
	if !leaveTypes[lt] {
		return "", ErrInvalidLeaveType
	}
	return lt, nil
}

// =============================================================================
// LEAVE REQUEST
// =============================================================================

// CancellationMarker prefixes Comments on a cancelled request.
const CancellationMarker = "[cancelled]"

type LeaveRequest struct {
	ID            string
	EmployeeID    string
	StartDate     Date
	EndDate       Date
	Type          LeaveType
	Reason        string
	Status        Status
	DaysRequested int
	AppliedOn     time.Time
	ApprovedBy    *string // resolver: approver, rejecter or the cancelling employee
	ResolvedOn    *time.Time
	Comments      *string
	ModifiedOn    *time.Time
}

// NewLeaveRequest builds a pending request with DaysRequested derived from
// the dates. A range with no business days is rejected.
func NewLeaveRequest(id, employeeID string, start, end Date, lt LeaveType, reason string, now time.Time) (*LeaveRequest, error) {
	days, err := BusinessDays(start, end)
	if err != nil {
		return nil, err
	}
	if days == 0 {
		return nil, ErrNoBusinessDays
	}
	return &LeaveRequest{
		ID:            id,
		EmployeeID:    employeeID,
		StartDate:     start,
		EndDate:       end,
		Type:          lt,
		Reason:        reason,
		Status:        StatusPending,
		DaysRequested: days,
		AppliedOn:     now,
	}, nil
}

// Reschedule moves the request to new dates and re-derives DaysRequested.
// The request is left untouched on error.
func (r *LeaveRequest) Reschedule(start, end Date) error {
	days, err := BusinessDays(start, end)
	if err != nil {
		return err
	}
	if days == 0 {
		return ErrNoBusinessDays
	}
	r.StartDate = start
	r.EndDate = end
	r.DaysRequested = days
	return nil
}

func (r *LeaveRequest) Range() DateRange {
	return DateRange{Start: r.StartDate, End: r.EndDate}
}

// IsCancelled distinguishes an employee cancellation from a rejection.
func (r *LeaveRequest) IsCancelled() bool {
	return r.Status == StatusRejected && r.Comments != nil &&
		strings.HasPrefix(*r.Comments, CancellationMarker)
}

// Clone returns a deep copy; stores hand out clones so callers never share
// pointers with stored state.
func (r *LeaveRequest) Clone() *LeaveRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.ApprovedBy = cloneString(r.ApprovedBy)
	c.Comments = cloneString(r.Comments)
	c.ResolvedOn = cloneTime(r.ResolvedOn)
	c.ModifiedOn = cloneTime(r.ModifiedOn)
	return &c
}

// =============================================================================
// BALANCE AUDIT ENTRY - Append-only
// =============================================================================

// BalanceAuditEntry records one balance change. Entries are written in the
// same transaction as the balance update and never modified.
type BalanceAuditEntry struct {
	ID              string
	EmployeeID      string
	LeaveRequestID  *string
	PreviousBalance int
	Delta           int
	NewBalance      int
	Reason          string
	Timestamp       time.Time
}

// BalanceSummary is the getBalance view.
type BalanceSummary struct {
	EmployeeID string
	Total      int
	Taken      int
	Remaining  int
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
