package leave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// today is Monday 2025-03-03 for every service test.
var today = time.Date(2025, time.March, 3, 9, 30, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*leave.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := leave.NewService(mem, fixedClock{now: today}, zaptest.NewLogger(t))
	return svc, mem
}

func seedEmployee(t *testing.T, svc *leave.Service, id string, entitlement int) {
	t.Helper()
	_, err := svc.CreateEmployee(context.Background(), leave.CreateEmployeeInput{
		ID:               id,
		Name:             "Employee " + id,
		Email:            id + "@example.com",
		TotalEntitlement: entitlement,
	})
	require.NoError(t, err)
}

func submit(t *testing.T, svc *leave.Service, employeeID, start, end string) *leave.LeaveRequest {
	t.Helper()
	req, err := svc.Submit(context.Background(), leave.SubmitInput{
		EmployeeID: employeeID,
		StartDate:  start,
		EndDate:    end,
		Type:       "annual",
	})
	require.NoError(t, err)
	return req
}

func remaining(t *testing.T, svc *leave.Service, employeeID string) int {
	t.Helper()
	bal, err := svc.GetBalance(context.Background(), employeeID)
	require.NoError(t, err)
	return bal.Remaining
}

func ptr(s string) *string { return &s }

// racingStore lets a write commit right after the first plain (non-tx)
// read, the way a concurrent request lands between two statements.
type racingStore struct {
	*store.Memory
	once  sync.Once
	write func()
}

func (s *racingStore) GetEmployee(ctx context.Context, id string) (*leave.Employee, error) {
	emp, err := s.Memory.GetEmployee(ctx, id)
	s.once.Do(s.write)
	return emp, err
}

func (s *racingStore) ListAuditEntries(ctx context.Context, employeeID string) ([]leave.BalanceAuditEntry, error) {
	entries, err := s.Memory.ListAuditEntries(ctx, employeeID)
	s.once.Do(s.write)
	return entries, err
}

func (s *racingStore) TakenDays(ctx context.Context, employeeID string) (int, error) {
	taken, err := s.Memory.TakenDays(ctx, employeeID)
	s.once.Do(s.write)
	return taken, err
}

var errCommit = errors.New("commit failed")

// commitFailStore runs every transaction to completion, then rolls it back
// as if COMMIT had failed.
type commitFailStore struct {
	*store.Memory
}

func (s *commitFailStore) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	return s.Memory.WithTx(ctx, func(tx leave.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errCommit
	})
}
