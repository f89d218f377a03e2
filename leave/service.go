/*
service.go - Request lifecycle manager

PURPOSE:
  Drives a leave request through submit → approve / reject / cancel /
  modify while keeping the employee's balance correct under concurrent
  callers. Orchestrates the business-day calculator, the overlap detector
  and the balance ledger.

TRANSACTION SHAPE (every mutating operation):

  WithTx {
      req   := GetRequest(id)            // learn the owner, no lock
      emp   := LockEmployee(owner)       // 1st lock: balance
      req    = LockRequest(id)           // 2nd lock: status
      guard   req.Status.Allows(action)  // InvalidTransitionError
      ledger  Debit / Credit             // balance + audit entry
      UpdateRequest(req)
  }

  Status guard and status write happen under the request lock, so two
  concurrent approvals of one request yield one success and one
  InvalidTransitionError. Balance read and write happen under the employee
  lock, so concurrent approvals of different requests for one employee
  cannot overdraw. Both locks live in the same transaction: nobody can
  observe "approved" without the debit or the debit without "approved".

SUBMISSION:
  Submit also takes the employee lock before the balance and overlap
  checks, so two concurrent submissions for one employee are serialized
  and cannot produce overlapping pending requests.

SEE ALSO:
  - ledger.go: Debit / Credit
  - overlap.go: FindConflicts
  - request.go: status table
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store  TxStore
	ledger *Ledger
	clock  Clock
	newID  func() string
	logger *zap.Logger
}

func NewService(store TxStore, clock Clock, logger *zap.Logger) *Service {
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		ledger: NewLedger(clock),
		clock:  clock,
		newID:  newID,
		logger: logger.Named("leave.service"),
	}
}

// Ledger exposes the service's ledger for callers composing their own
// transactions.
func (s *Service) Ledger() *Ledger { return s.ledger }

func (s *Service) today() Date {
	return DateOf(s.clock.Now())
}

func (s *Service) observe(action string, started time.Time, err error) {
	transitionsTotal.WithLabelValues(action, outcome(err)).Inc()
	transitionLatency.WithLabelValues(action).Observe(time.Since(started).Seconds())
}

// logFailure logs business-rule rejections at Warn and everything else at Error.
func (s *Service) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if IsValidation(err) || IsNotFound(err) || IsConflict(err) {
		s.logger.Warn(msg, fields...)
		return
	}
	s.logger.Error(msg, fields...)
}

// =============================================================================
// SUBMIT
// =============================================================================

type SubmitInput struct {
	EmployeeID string
	StartDate  string
	EndDate    string
	Type       string
	Reason     string
}

// Submit creates a pending request. Nothing is debited until approval.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (req *LeaveRequest, err error) {
	defer func(started time.Time) { s.observe("submit", started, err) }(time.Now())

	s.logger.Debug("submit leave requested",
		zap.String("employee_id", in.EmployeeID),
		zap.String("start_date", in.StartDate),
		zap.String("end_date", in.EndDate),
		zap.String("type", in.Type),
	)

	employeeID := strings.TrimSpace(in.EmployeeID)
	if err := requireFields(map[string]string{
		"employee_id": employeeID,
		"start_date":  in.StartDate,
		"end_date":    in.EndDate,
		"type":        in.Type,
	}, "employee_id", "start_date", "end_date", "type"); err != nil {
		return nil, err
	}

	start, err := ParseDate(in.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := ParseDate(in.EndDate)
	if err != nil {
		return nil, err
	}
	leaveType, err := ParseLeaveType(in.Type)
	if err != nil {
		return nil, err
	}
	if start.Before(s.today()) {
		return nil, ErrDateInPast
	}

	candidate, err := NewLeaveRequest(s.newID(), employeeID, start, end, leaveType, strings.TrimSpace(in.Reason), s.clock.Now())
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		emp, err := tx.LockEmployee(ctx, employeeID)
		if err != nil {
			return err
		}

		if candidate.DaysRequested > emp.RemainingBalance {
			return &InsufficientBalanceError{
				EmployeeID: employeeID,
				Current:    emp.RemainingBalance,
				Requested:  candidate.DaysRequested,
				Result:     emp.RemainingBalance - candidate.DaysRequested,
			}
		}

		if err := checkOverlap(ctx, tx, employeeID, start, end, ""); err != nil {
			return err
		}

		return tx.InsertRequest(ctx, candidate)
	})
	if err != nil {
		s.logFailure("submit leave failed", err, zap.String("employee_id", employeeID))
		return nil, err
	}

	s.logger.Info("submit leave success",
		zap.String("request_id", candidate.ID),
		zap.String("employee_id", employeeID),
		zap.Int("days_requested", candidate.DaysRequested),
	)
	return candidate, nil
}

// =============================================================================
// RESOLVE (approve / reject)
// =============================================================================

type ResolveInput struct {
	RequestID  string
	Decision   Decision
	ResolverID string
	Comments   string
}

// Resolve approves or rejects a pending request. Approval re-checks the
// balance and debits it in the same transaction as the status change.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (req *LeaveRequest, err error) {
	action, ok := in.Decision.Action()
	metric := string(action)
	if !ok {
		metric = "resolve"
	}
	defer func(started time.Time) { s.observe(metric, started, err) }(time.Now())

	s.logger.Debug("resolve leave requested",
		zap.String("request_id", in.RequestID),
		zap.String("decision", string(in.Decision)),
		zap.String("resolver_id", in.ResolverID),
	)

	requestID := strings.TrimSpace(in.RequestID)
	resolverID := strings.TrimSpace(in.ResolverID)
	if err := requireFields(map[string]string{
		"request_id":  requestID,
		"resolver_id": resolverID,
		"decision":    string(in.Decision),
	}, "request_id", "decision", "resolver_id"); err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidDecision
	}

	var resolved *LeaveRequest
	err = s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}

		if _, err := tx.GetEmployee(ctx, resolverID); err != nil {
			if errors.Is(err, ErrEmployeeNotFound) {
				return fmt.Errorf("%w: %s", ErrResolverNotFound, resolverID)
			}
			return err
		}

		if action == ActionApprove {
			if _, err := tx.LockEmployee(ctx, current.EmployeeID); err != nil {
				return err
			}
		}

		locked, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !locked.Status.Allows(action) {
			return &InvalidTransitionError{RequestID: requestID, Current: locked.Status, Action: action}
		}

		if action == ActionApprove {
			if _, err := s.ledger.Debit(ctx, tx, locked.EmployeeID, locked.DaysRequested, locked.ID); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		locked.Status = action.Target()
		locked.ApprovedBy = &resolverID
		locked.ResolvedOn = &now
		if c := strings.TrimSpace(in.Comments); c != "" {
			locked.Comments = &c
		}

		if err := tx.UpdateRequest(ctx, locked); err != nil {
			return err
		}
		resolved = locked
		return nil
	})
	if err != nil {
		s.logFailure("resolve leave failed", err,
			zap.String("request_id", requestID),
			zap.String("decision", string(in.Decision)),
		)
		return nil, err
	}
	if resolved.Status == StatusApproved {
		countLedgerChange(-resolved.DaysRequested)
	}

	s.logger.Info("resolve leave success",
		zap.String("request_id", resolved.ID),
		zap.String("status", string(resolved.Status)),
		zap.String("resolver_id", resolverID),
	)
	return resolved, nil
}

// Approve is Resolve with DecisionApproved.
func (s *Service) Approve(ctx context.Context, requestID, approverID, comments string) (*LeaveRequest, error) {
	return s.Resolve(ctx, ResolveInput{RequestID: requestID, Decision: DecisionApproved, ResolverID: approverID, Comments: comments})
}

// Reject is Resolve with DecisionRejected.
func (s *Service) Reject(ctx context.Context, requestID, rejecterID, comments string) (*LeaveRequest, error) {
	return s.Resolve(ctx, ResolveInput{RequestID: requestID, Decision: DecisionRejected, ResolverID: rejecterID, Comments: comments})
}

// =============================================================================
// CANCEL
// =============================================================================

type CancelInput struct {
	RequestID string
	// EmployeeID, when set, must own the request.
	EmployeeID string
	Reason     string
}

// Cancel moves a pending or approved request to rejected with a
// cancellation note. Cancelling an approved request credits its days back.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (req *LeaveRequest, err error) {
	defer func(started time.Time) { s.observe(string(ActionCancel), started, err) }(time.Now())

	s.logger.Debug("cancel leave requested",
		zap.String("request_id", in.RequestID),
		zap.String("employee_id", in.EmployeeID),
	)

	requestID := strings.TrimSpace(in.RequestID)
	if requestID == "" {
		return nil, &MissingFieldError{Field: "request_id"}
	}

	var (
		cancelled *LeaveRequest
		credited  bool
	)
	err = s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := checkOwner(current, in.EmployeeID); err != nil {
			return err
		}

		if _, err := tx.LockEmployee(ctx, current.EmployeeID); err != nil {
			return err
		}
		locked, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !locked.Status.Allows(ActionCancel) {
			return &InvalidTransitionError{RequestID: requestID, Current: locked.Status, Action: ActionCancel}
		}

		if locked.Status == StatusApproved {
			if _, err := s.ledger.Credit(ctx, tx, locked.EmployeeID, locked.DaysRequested, locked.ID, ReasonLeaveCancelled); err != nil {
				return err
			}
			credited = true
		}

		now := s.clock.Now()
		note := CancellationMarker
		if r := strings.TrimSpace(in.Reason); r != "" {
			note += " " + r
		}
		locked.Status = ActionCancel.Target()
		locked.Comments = &note
		locked.ResolvedOn = &now
		locked.ModifiedOn = &now

		if err := tx.UpdateRequest(ctx, locked); err != nil {
			return err
		}
		cancelled = locked
		return nil
	})
	if err != nil {
		s.logFailure("cancel leave failed", err, zap.String("request_id", requestID))
		return nil, err
	}
	if credited {
		countLedgerChange(cancelled.DaysRequested)
	}

	s.logger.Info("cancel leave success",
		zap.String("request_id", cancelled.ID),
		zap.Bool("credited", credited),
	)
	return cancelled, nil
}

// =============================================================================
// MODIFY
// =============================================================================

// ModifyInput carries the fields to change; nil means unchanged.
type ModifyInput struct {
	RequestID  string
	EmployeeID string // optional ownership check
	StartDate  *string
	EndDate    *string
	Type       *string
	Reason     *string
}

func (in ModifyInput) empty() bool {
	return in.StartDate == nil && in.EndDate == nil && in.Type == nil && in.Reason == nil
}

// Modify edits a pending request. New dates re-derive DaysRequested, are
// re-checked for overlap (excluding the request itself) and against the
// balance headroom remaining + previous DaysRequested.
func (s *Service) Modify(ctx context.Context, in ModifyInput) (req *LeaveRequest, err error) {
	defer func(started time.Time) { s.observe(string(ActionModify), started, err) }(time.Now())

	s.logger.Debug("modify leave requested",
		zap.String("request_id", in.RequestID),
		zap.String("employee_id", in.EmployeeID),
	)

	requestID := strings.TrimSpace(in.RequestID)
	if requestID == "" {
		return nil, &MissingFieldError{Field: "request_id"}
	}
	if in.empty() {
		return nil, ErrNoChanges
	}

	var newType *LeaveType
	if in.Type != nil {
		lt, err := ParseLeaveType(*in.Type)
		if err != nil {
			return nil, err
		}
		newType = &lt
	}
	var newStart, newEnd *Date
	if in.StartDate != nil {
		d, err := ParseDate(*in.StartDate)
		if err != nil {
			return nil, err
		}
		newStart = &d
	}
	if in.EndDate != nil {
		d, err := ParseDate(*in.EndDate)
		if err != nil {
			return nil, err
		}
		newEnd = &d
	}

	var modified *LeaveRequest
	err = s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := checkOwner(current, in.EmployeeID); err != nil {
			return err
		}

		emp, err := tx.LockEmployee(ctx, current.EmployeeID)
		if err != nil {
			return err
		}
		locked, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !locked.Status.Allows(ActionModify) {
			return &InvalidTransitionError{RequestID: requestID, Current: locked.Status, Action: ActionModify}
		}

		next := locked.Clone()
		changed := false

		start, end := locked.StartDate, locked.EndDate
		if newStart != nil {
			start = *newStart
		}
		if newEnd != nil {
			end = *newEnd
		}
		datesChanged := !start.Equal(locked.StartDate) || !end.Equal(locked.EndDate)

		if datesChanged {
			if start.Before(s.today()) {
				return ErrDateInPast
			}
			if err := next.Reschedule(start, end); err != nil {
				return err
			}

			if err := checkOverlap(ctx, tx, locked.EmployeeID, start, end, locked.ID); err != nil {
				return err
			}

			// The pending reservation was never debited, so the previous
			// days count as headroom.
			headroom := emp.RemainingBalance + locked.DaysRequested
			if next.DaysRequested > headroom {
				return &InsufficientBalanceError{
					EmployeeID: locked.EmployeeID,
					Current:    emp.RemainingBalance,
					Requested:  next.DaysRequested,
					Result:     headroom - next.DaysRequested,
				}
			}
			changed = true
		}

		if newType != nil && *newType != locked.Type {
			next.Type = *newType
			changed = true
		}
		if in.Reason != nil {
			if r := strings.TrimSpace(*in.Reason); r != locked.Reason {
				next.Reason = r
				changed = true
			}
		}
		if !changed {
			return ErrNoChanges
		}

		now := s.clock.Now()
		next.ModifiedOn = &now
		if err := tx.UpdateRequest(ctx, next); err != nil {
			return err
		}
		modified = next
		return nil
	})
	if err != nil {
		s.logFailure("modify leave failed", err, zap.String("request_id", requestID))
		return nil, err
	}

	s.logger.Info("modify leave success",
		zap.String("request_id", modified.ID),
		zap.Int("days_requested", modified.DaysRequested),
	)
	return modified, nil
}

// =============================================================================
// BALANCE
// =============================================================================

// GetBalance returns total entitlement, days taken by approved requests and
// the remaining balance. Both figures are read under the employee lock, so
// Taken + Remaining always reflects the same set of committed approvals.
func (s *Service) GetBalance(ctx context.Context, employeeID string) (*BalanceSummary, error) {
	if strings.TrimSpace(employeeID) == "" {
		return nil, &MissingFieldError{Field: "employee_id"}
	}

	var summary *BalanceSummary
	err := s.store.WithTx(ctx, func(tx Tx) error {
		emp, err := tx.LockEmployee(ctx, employeeID)
		if err != nil {
			return err
		}
		taken, err := tx.TakenDays(ctx, employeeID)
		if err != nil {
			return fmt.Errorf("sum taken days: %w", err)
		}
		summary = &BalanceSummary{
			EmployeeID: emp.ID,
			Total:      emp.TotalEntitlement,
			Taken:      taken,
			Remaining:  emp.RemainingBalance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

type AdjustInput struct {
	EmployeeID string
	Delta      int
	Reason     string
}

// AdjustBalance applies a manual correction through the ledger.
func (s *Service) AdjustBalance(ctx context.Context, in AdjustInput) (balance int, err error) {
	defer func(started time.Time) { s.observe("adjust", started, err) }(time.Now())

	if strings.TrimSpace(in.EmployeeID) == "" {
		return 0, &MissingFieldError{Field: "employee_id"}
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		next, err := s.ledger.Adjust(ctx, tx, in.EmployeeID, in.Delta, strings.TrimSpace(in.Reason))
		if err != nil {
			return err
		}
		balance = next
		return nil
	})
	if err != nil {
		s.logFailure("adjust balance failed", err, zap.String("employee_id", in.EmployeeID))
		return 0, err
	}
	countLedgerChange(in.Delta)

	s.logger.Info("adjust balance success",
		zap.String("employee_id", in.EmployeeID),
		zap.Int("delta", in.Delta),
		zap.Int("balance", balance),
	)
	return balance, nil
}

// =============================================================================
// QUERIES AND REGISTRY
// =============================================================================

type CreateEmployeeInput struct {
	ID               string
	Name             string
	Email            string
	Department       string
	TotalEntitlement int
}

func (s *Service) CreateEmployee(ctx context.Context, in CreateEmployeeInput) (*Employee, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &MissingFieldError{Field: "name"}
	}
	if in.TotalEntitlement < 0 {
		return nil, ErrInvalidAmount
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = s.newID()
	}

	emp := Employee{
		ID:               id,
		Name:             name,
		Email:            strings.TrimSpace(in.Email),
		Department:       strings.TrimSpace(in.Department),
		TotalEntitlement: in.TotalEntitlement,
		RemainingBalance: in.TotalEntitlement,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.store.CreateEmployee(ctx, emp); err != nil {
		s.logFailure("create employee failed", err, zap.String("employee_id", id))
		return nil, err
	}

	s.logger.Info("create employee success", zap.String("employee_id", id))
	return &emp, nil
}

func (s *Service) GetEmployee(ctx context.Context, id string) (*Employee, error) {
	return s.store.GetEmployee(ctx, id)
}

func (s *Service) ListEmployees(ctx context.Context) ([]Employee, error) {
	return s.store.ListEmployees(ctx)
}

func (s *Service) GetRequest(ctx context.Context, id string) (*LeaveRequest, error) {
	return s.store.GetRequest(ctx, id)
}

func (s *Service) ListPendingRequests(ctx context.Context) ([]LeaveRequest, error) {
	return s.store.ListPendingRequests(ctx)
}

func (s *Service) ListRequests(ctx context.Context, employeeID string) ([]LeaveRequest, error) {
	if _, err := s.store.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	return s.store.ListRequestsByEmployee(ctx, employeeID)
}

func (s *Service) AuditTrail(ctx context.Context, employeeID string) ([]BalanceAuditEntry, error) {
	if _, err := s.store.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	return s.store.ListAuditEntries(ctx, employeeID)
}

// =============================================================================
// HELPERS
// =============================================================================

// requireFields checks the named fields in order and reports the first
// empty one.
func requireFields(values map[string]string, order ...string) error {
	for _, name := range order {
		if strings.TrimSpace(values[name]) == "" {
			return &MissingFieldError{Field: name}
		}
	}
	return nil
}

func checkOwner(req *LeaveRequest, employeeID string) error {
	id := strings.TrimSpace(employeeID)
	if id != "" && id != req.EmployeeID {
		return ErrOwnershipMismatch
	}
	return nil
}
