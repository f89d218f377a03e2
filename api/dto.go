/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers (errors, reconciliation report)

VALIDATION:
  Request bodies carry go-playground/validator tags. Only the shape is
  checked here (required, email, non-negative); dates, leave types and
  decisions are parsed by the engine so the error taxonomy stays in one place.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

type CreateEmployeeRequest struct {
	ID               string `json:"id"`
	Name             string `json:"name" validate:"required"`
	Email            string `json:"email" validate:"omitempty,email"`
	Department       string `json:"department"`
	TotalEntitlement int    `json:"total_entitlement" validate:"gte=0"`
}

type SubmitLeaveRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	StartDate  string `json:"start_date" validate:"required"`
	EndDate    string `json:"end_date" validate:"required"`
	Type       string `json:"type" validate:"required"`
	Reason     string `json:"reason"`
}

// ResolveLeaveRequest is the body of /resolve. The /approve and /reject
// shortcuts ignore Decision.
type ResolveLeaveRequest struct {
	Decision   string `json:"decision"`
	ResolverID string `json:"resolver_id" validate:"required"`
	Comments   string `json:"comments"`
}

type CancelLeaveRequest struct {
	EmployeeID string `json:"employee_id"`
	Reason     string `json:"reason"`
}

// ModifyLeaveRequest carries only the fields to change.
type ModifyLeaveRequest struct {
	EmployeeID string  `json:"employee_id"`
	StartDate  *string `json:"start_date"`
	EndDate    *string `json:"end_date"`
	Type       *string `json:"type"`
	Reason     *string `json:"reason"`
}

type AdjustmentRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type EmployeeDTO struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email,omitempty"`
	Department       string `json:"department,omitempty"`
	TotalEntitlement int    `json:"total_entitlement"`
	RemainingBalance int    `json:"remaining_balance"`
	CreatedAt        string `json:"created_at"`
}

type LeaveRequestDTO struct {
	ID            string  `json:"id"`
	EmployeeID    string  `json:"employee_id"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	Type          string  `json:"type"`
	Reason        string  `json:"reason,omitempty"`
	Status        string  `json:"status"`
	Cancelled     bool    `json:"cancelled"`
	DaysRequested int     `json:"days_requested"`
	AppliedOn     string  `json:"applied_on"`
	ApprovedBy    *string `json:"approved_by,omitempty"`
	ResolvedOn    *string `json:"resolved_on,omitempty"`
	Comments      *string `json:"comments,omitempty"`
	ModifiedOn    *string `json:"modified_on,omitempty"`
}

type BalanceDTO struct {
	EmployeeID string `json:"employee_id"`
	Total      int    `json:"total"`
	Taken      int    `json:"taken"`
	Remaining  int    `json:"remaining"`
}

type AdjustmentDTO struct {
	EmployeeID string `json:"employee_id"`
	Remaining  int    `json:"remaining"`
}

type AuditEntryDTO struct {
	ID              string  `json:"id"`
	LeaveRequestID  *string `json:"leave_request_id,omitempty"`
	PreviousBalance int     `json:"previous_balance"`
	Delta           int     `json:"delta"`
	NewBalance      int     `json:"new_balance"`
	Reason          string  `json:"reason"`
	Timestamp       string  `json:"timestamp"`
}

type DivergenceDTO struct {
	EmployeeID string `json:"employee_id"`
	EntryID    string `json:"entry_id,omitempty"`
	Expected   int    `json:"expected"`
	Actual     int    `json:"actual"`
	Problem    string `json:"problem"`
}

type ReconciliationResponse struct {
	RanAt            string          `json:"ran_at"`
	EmployeesChecked int             `json:"employees_checked"`
	EntriesChecked   int             `json:"entries_checked"`
	Consistent       bool            `json:"consistent"`
	Divergences      []DivergenceDTO `json:"divergences"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEmployeeDTO(e leave.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:               e.ID,
		Name:             e.Name,
		Email:            e.Email,
		Department:       e.Department,
		TotalEntitlement: e.TotalEntitlement,
		RemainingBalance: e.RemainingBalance,
		CreatedAt:        e.CreatedAt.Format(time.RFC3339),
	}
}

func toLeaveRequestDTO(r leave.LeaveRequest) LeaveRequestDTO {
	return LeaveRequestDTO{
		ID:            r.ID,
		EmployeeID:    r.EmployeeID,
		StartDate:     r.StartDate.String(),
		EndDate:       r.EndDate.String(),
		Type:          string(r.Type),
		Reason:        r.Reason,
		Status:        string(r.Status),
		Cancelled:     r.IsCancelled(),
		DaysRequested: r.DaysRequested,
		AppliedOn:     r.AppliedOn.Format(time.RFC3339),
		ApprovedBy:    r.ApprovedBy,
		ResolvedOn:    formatTimePtr(r.ResolvedOn),
		Comments:      r.Comments,
		ModifiedOn:    formatTimePtr(r.ModifiedOn),
	}
}

func toLeaveRequestDTOs(reqs []leave.LeaveRequest) []LeaveRequestDTO {
	dtos := make([]LeaveRequestDTO, len(reqs))
	for i, r := range reqs {
		dtos[i] = toLeaveRequestDTO(r)
	}
	return dtos
}

func toAuditEntryDTO(e leave.BalanceAuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:              e.ID,
		LeaveRequestID:  e.LeaveRequestID,
		PreviousBalance: e.PreviousBalance,
		Delta:           e.Delta,
		NewBalance:      e.NewBalance,
		Reason:          e.Reason,
		Timestamp:       e.Timestamp.Format(time.RFC3339Nano),
	}
}

func toReconciliationResponse(ranAt time.Time, report *leave.ReconcileReport) ReconciliationResponse {
	divs := make([]DivergenceDTO, len(report.Divergences))
	for i, d := range report.Divergences {
		divs[i] = DivergenceDTO{
			EmployeeID: d.EmployeeID,
			EntryID:    d.EntryID,
			Expected:   d.Expected,
			Actual:     d.Actual,
			Problem:    d.Problem,
		}
	}
	return ReconciliationResponse{
		RanAt:            ranAt.Format(time.RFC3339),
		EmployeesChecked: report.EmployeesChecked,
		EntriesChecked:   report.EntriesChecked,
		Consistent:       report.Consistent(),
		Divergences:      divs,
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
