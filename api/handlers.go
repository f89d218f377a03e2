/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the request lifecycle, balances and the employee registry via a
  REST API. Handles HTTP request/response, JSON serialization, and
  delegates to leave.Service.

ENDPOINTS:
  Employees:
    GET    /api/employees                    List all employees
    POST   /api/employees                    Create employee
    GET    /api/employees/{id}               Get employee details
    GET    /api/employees/{id}/balance       Balance summary
    GET    /api/employees/{id}/requests      Requests, newest first
    GET    /api/employees/{id}/audit         Balance audit trail
    POST   /api/employees/{id}/adjustments   Manual balance adjustment

  Requests:
    POST   /api/requests                     Submit
    GET    /api/requests/pending             Pending queue, oldest first
    GET    /api/requests/{id}                Get request
    PATCH  /api/requests/{id}                Modify a pending request
    POST   /api/requests/{id}/resolve        Approve or reject
    POST   /api/requests/{id}/approve        Shortcut for resolve
    POST   /api/requests/{id}/reject         Shortcut for resolve
    POST   /api/requests/{id}/cancel         Cancel pending or approved

  Reconciliation:
    POST   /api/reconciliation/run           Replay all audit trails now
    GET    /api/reconciliation/last          Last report

ERROR HANDLING:
  Errors are returned as JSON {error, code, details}:
  - 400: Validation errors, malformed body
  - 404: Employee, request or resolver not found
  - 409: Overlap, insufficient balance, invalid transition, ownership,
         duplicate employee
  - 500: Store failures (message not exposed)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/warp/leave-engine/leave"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *leave.Service
	Store     leave.Store
	Scheduler *ReconciliationScheduler

	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(svc *leave.Service, store leave.Store, scheduler *ReconciliationScheduler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:   svc,
		Store:     store,
		Scheduler: scheduler,
		validate:  newValidator(),
		logger:    logger.Named("api"),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Service.ListEmployees(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Service.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}

	emp, err := h.Service.CreateEmployee(r.Context(), leave.CreateEmployeeInput{
		ID:               req.ID,
		Name:             req.Name,
		Email:            req.Email,
		Department:       req.Department,
		TotalEntitlement: req.TotalEntitlement,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(*emp))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.Service.GetBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		EmployeeID: bal.EmployeeID,
		Total:      bal.Total,
		Taken:      bal.Taken,
		Remaining:  bal.Remaining,
	})
}

func (h *Handler) ListEmployeeRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Service.ListRequests(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTOs(reqs))
}

func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.AuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	employeeID := chi.URLParam(r, "id")
	balance, err := h.Service.AdjustBalance(r.Context(), leave.AdjustInput{
		EmployeeID: employeeID,
		Delta:      req.Delta,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AdjustmentDTO{EmployeeID: employeeID, Remaining: balance})
}

// =============================================================================
// REQUEST LIFECYCLE HANDLERS
// =============================================================================

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitLeaveRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.Service.Submit(r.Context(), leave.SubmitInput{
		EmployeeID: req.EmployeeID,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Type:       req.Type,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveRequestDTO(*created))
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*req))
}

func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Service.ListPendingRequests(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTOs(reqs))
}

func (h *Handler) ResolveRequest(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, "")
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, leave.DecisionApproved)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, leave.DecisionRejected)
}

// resolve serves /resolve when decision is empty, otherwise a shortcut.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, decision leave.Decision) {
	var req ResolveLeaveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if decision == "" {
		decision = leave.Decision(strings.ToLower(strings.TrimSpace(req.Decision)))
	}

	resolved, err := h.Service.Resolve(r.Context(), leave.ResolveInput{
		RequestID:  chi.URLParam(r, "id"),
		Decision:   decision,
		ResolverID: req.ResolverID,
		Comments:   req.Comments,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*resolved))
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	var req CancelLeaveRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	cancelled, err := h.Service.Cancel(r.Context(), leave.CancelInput{
		RequestID:  chi.URLParam(r, "id"),
		EmployeeID: req.EmployeeID,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*cancelled))
}

func (h *Handler) ModifyRequest(w http.ResponseWriter, r *http.Request) {
	var req ModifyLeaveRequest
	if !h.decode(w, r, &req) {
		return
	}

	modified, err := h.Service.Modify(r.Context(), leave.ModifyInput{
		RequestID:  chi.URLParam(r, "id"),
		EmployeeID: req.EmployeeID,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Type:       req.Type,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*modified))
}

// =============================================================================
// RECONCILIATION AND HEALTH
// =============================================================================

func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	ranAt, report, err := h.Scheduler.RunOnce(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationResponse(ranAt, report))
}

func (h *Handler) LastReconciliation(w http.ResponseWriter, r *http.Request) {
	ranAt, report := h.Scheduler.Last()
	if report == nil {
		writeError(w, http.StatusNotFound, "not_found", "No reconciliation has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationResponse(ranAt, report))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. On failure it writes the error
// response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body", map[string]any{"cause": err.Error()})
		return false
	}
	return h.check(w, r, dst)
}

// decodeOptional is decode for endpoints whose body may be empty. Chunked
// requests carry no Content-Length, so emptiness is judged by reading.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body", map[string]any{"cause": err.Error()})
		return false
	}
	return h.check(w, r, dst)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := h.validate.Struct(dst); err != nil {
		h.writeServiceError(w, r, mapValidationError(err))
		return false
	}
	return true
}

// ruleError is a validator failure other than a missing field.
type ruleError struct {
	Field string
	Rule  string
}

func (e *ruleError) Error() string {
	return fmt.Sprintf("field %s fails rule %s", e.Field, e.Rule)
}

// mapValidationError converts the first validator failure into the
// engine's taxonomy where one exists.
func mapValidationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}
	first := errs[0]
	switch first.Tag() {
	case "required":
		return &leave.MissingFieldError{Field: first.Field()}
	case "gte":
		return fmt.Errorf("%w: %s", leave.ErrInvalidAmount, first.Field())
	default:
		return &ruleError{Field: first.Field(), Rule: first.Tag()}
	}
}

// writeServiceError maps an engine error onto status, code and details.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		missing    *leave.MissingFieldError
		rule       *ruleError
		balance    *leave.InsufficientBalanceError
		overlap    *leave.OverlapConflictError
		transition *leave.InvalidTransitionError
	)

	switch {
	case errors.As(err, &missing):
		writeError(w, http.StatusBadRequest, "missing_field", err.Error(), map[string]any{"field": missing.Field})
	case errors.As(err, &rule):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error(), map[string]any{"field": rule.Field, "rule": rule.Rule})
	case leave.IsValidation(err):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)

	case errors.Is(err, leave.ErrResolverNotFound):
		writeError(w, http.StatusNotFound, "resolver_not_found", err.Error(), nil)
	case errors.Is(err, leave.ErrEmployeeNotFound):
		writeError(w, http.StatusNotFound, "employee_not_found", err.Error(), nil)
	case errors.Is(err, leave.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "request_not_found", err.Error(), nil)

	case errors.As(err, &balance):
		writeError(w, http.StatusConflict, "insufficient_balance", err.Error(), map[string]any{
			"current":   balance.Current,
			"requested": balance.Requested,
			"result":    balance.Result,
		})
	case errors.As(err, &overlap):
		writeError(w, http.StatusConflict, "overlap_conflict", err.Error(), map[string]any{
			"conflicting_request": toLeaveRequestDTO(overlap.Conflict),
		})
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"request_id":     transition.RequestID,
			"current_status": string(transition.Current),
			"action":         string(transition.Action),
		})
	case errors.Is(err, leave.ErrOwnershipMismatch):
		writeError(w, http.StatusConflict, "ownership_mismatch", err.Error(), nil)
	case errors.Is(err, leave.ErrEmployeeExists):
		writeError(w, http.StatusConflict, "employee_exists", err.Error(), nil)

	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
