// Package store provides an in-memory leave.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps guarded by one mutex. WithTx holds the
// write lock for the whole transaction, which trivially satisfies the
// per-employee and per-request locking contract.
type Memory struct {
	mu        sync.RWMutex
	employees map[string]leave.Employee
	requests  map[string]leave.LeaveRequest
	audit     map[string][]leave.BalanceAuditEntry
}

var _ leave.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		employees: make(map[string]leave.Employee),
		requests:  make(map[string]leave.LeaveRequest),
		audit:     make(map[string][]leave.BalanceAuditEntry),
	}
}

func (m *Memory) CreateEmployee(_ context.Context, emp leave.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.employees[emp.ID]; ok {
		return fmt.Errorf("%w: %s", leave.ErrEmployeeExists, emp.ID)
	}
	m.employees[emp.ID] = emp
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id string) (*leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.employeeLocked(id)
}

func (m *Memory) ListEmployees(_ context.Context) ([]leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]leave.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) GetRequest(_ context.Context, id string) (*leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestLocked(id)
}

func (m *Memory) ListRequestsByEmployee(_ context.Context, employeeID string) ([]leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []leave.LeaveRequest
	for _, r := range m.requests {
		if r.EmployeeID == employeeID {
			result = append(result, *r.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].AppliedOn.Equal(result[j].AppliedOn) {
			return result[i].AppliedOn.After(result[j].AppliedOn)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func (m *Memory) ListPendingRequests(_ context.Context) ([]leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []leave.LeaveRequest
	for _, r := range m.requests {
		if r.Status == leave.StatusPending {
			result = append(result, *r.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].AppliedOn.Equal(result[j].AppliedOn) {
			return result[i].AppliedOn.Before(result[j].AppliedOn)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) ListAuditEntries(_ context.Context, employeeID string) ([]leave.BalanceAuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auditLocked(employeeID), nil
}

func (m *Memory) TakenDays(_ context.Context, employeeID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.takenLocked(employeeID), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// ForceBalance overwrites a cached balance without an audit entry. It
// exists so tests can simulate drift for the reconciler.
func (m *Memory) ForceBalance(employeeID string, balance int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.employees[employeeID]; ok {
		e.RemainingBalance = balance
		m.employees[employeeID] = e
	}
}

func (m *Memory) employeeLocked(id string) (*leave.Employee, error) {
	e, ok := m.employees[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id)
	}
	return &e, nil
}

func (m *Memory) requestLocked(id string) (*leave.LeaveRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", leave.ErrRequestNotFound, id)
	}
	return r.Clone(), nil
}

func (m *Memory) auditLocked(employeeID string) []leave.BalanceAuditEntry {
	entries := m.audit[employeeID]
	result := make([]leave.BalanceAuditEntry, len(entries))
	copy(result, entries)
	return result
}

func (m *Memory) takenLocked(employeeID string) int {
	taken := 0
	for _, r := range m.requests {
		if r.EmployeeID == employeeID && r.Status == leave.StatusApproved {
			taken += r.DaysRequested
		}
	}
	return taken
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// Simulated with a snapshot that is restored if fn fails.
func (m *Memory) WithTx(_ context.Context, fn func(tx leave.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memoryTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	employees map[string]leave.Employee
	requests  map[string]leave.LeaveRequest
	audit     map[string][]leave.BalanceAuditEntry
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		employees: make(map[string]leave.Employee, len(m.employees)),
		requests:  make(map[string]leave.LeaveRequest, len(m.requests)),
		audit:     make(map[string][]leave.BalanceAuditEntry, len(m.audit)),
	}
	for k, v := range m.employees {
		s.employees[k] = v
	}
	for k, v := range m.requests {
		s.requests[k] = *v.Clone()
	}
	for k, v := range m.audit {
		s.audit[k] = append([]leave.BalanceAuditEntry{}, v...)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.employees = s.employees
	m.requests = s.requests
	m.audit = s.audit
}

// memoryTx runs with the parent's write lock already held.
type memoryTx struct {
	m *Memory
}

func (t *memoryTx) GetEmployee(_ context.Context, id string) (*leave.Employee, error) {
	return t.m.employeeLocked(id)
}

func (t *memoryTx) GetRequest(_ context.Context, id string) (*leave.LeaveRequest, error) {
	return t.m.requestLocked(id)
}

func (t *memoryTx) LockEmployee(_ context.Context, id string) (*leave.Employee, error) {
	return t.m.employeeLocked(id)
}

func (t *memoryTx) LockRequest(_ context.Context, id string) (*leave.LeaveRequest, error) {
	return t.m.requestLocked(id)
}

func (t *memoryTx) FindActiveOverlapping(_ context.Context, employeeID string, r leave.DateRange, excludeID string) ([]leave.LeaveRequest, error) {
	var result []leave.LeaveRequest
	for _, req := range t.m.requests {
		if req.EmployeeID != employeeID || req.ID == excludeID || !req.Status.IsActive() {
			continue
		}
		if r.Overlaps(req.Range()) {
			result = append(result, *req.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return strings.Compare(result[i].ID, result[j].ID) < 0 })
	return result, nil
}

func (t *memoryTx) InsertRequest(_ context.Context, req *leave.LeaveRequest) error {
	if _, ok := t.m.employees[req.EmployeeID]; !ok {
		return fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, req.EmployeeID)
	}
	if _, ok := t.m.requests[req.ID]; ok {
		return fmt.Errorf("duplicate leave request id %s", req.ID)
	}
	t.m.requests[req.ID] = *req.Clone()
	return nil
}

func (t *memoryTx) UpdateRequest(_ context.Context, req *leave.LeaveRequest) error {
	if _, ok := t.m.requests[req.ID]; !ok {
		return fmt.Errorf("%w: %s", leave.ErrRequestNotFound, req.ID)
	}
	t.m.requests[req.ID] = *req.Clone()
	return nil
}

func (t *memoryTx) SetBalance(_ context.Context, employeeID string, balance int) error {
	e, ok := t.m.employees[employeeID]
	if !ok {
		return fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, employeeID)
	}
	e.RemainingBalance = balance
	t.m.employees[employeeID] = e
	return nil
}

func (t *memoryTx) AppendAudit(_ context.Context, entry leave.BalanceAuditEntry) error {
	t.m.audit[entry.EmployeeID] = append(t.m.audit[entry.EmployeeID], entry)
	return nil
}

func (t *memoryTx) ListAuditEntries(_ context.Context, employeeID string) ([]leave.BalanceAuditEntry, error) {
	return t.m.auditLocked(employeeID), nil
}

func (t *memoryTx) TakenDays(_ context.Context, employeeID string) (int, error) {
	return t.m.takenLocked(employeeID), nil
}
