package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
	"go.uber.org/zap/zaptest"
)

var now = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return now }

var (
	employeeCols = []string{"id", "name", "email", "department", "total_entitlement", "remaining_balance", "created_at"}
	requestCols  = []string{"id", "employee_id", "start_date", "end_date", "leave_type", "reason", "status",
		"days_requested", "applied_on", "approved_by", "resolved_on", "comments", "modified_on"}
)

var (
	selectEmployee     = regexp.QuoteMeta("FROM employees WHERE id = $1") + "$"
	lockEmployee       = regexp.QuoteMeta("FROM employees WHERE id = $1 FOR UPDATE")
	selectRequest      = regexp.QuoteMeta("FROM leave_requests WHERE id = $1") + "$"
	lockRequest        = regexp.QuoteMeta("FROM leave_requests WHERE id = $1 FOR UPDATE")
	updateBalance      = regexp.QuoteMeta("UPDATE employees SET remaining_balance")
	insertAudit        = regexp.QuoteMeta("INSERT INTO balance_audit")
	updateLeaveRequest = regexp.QuoteMeta("UPDATE leave_requests SET")
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func employeeRow(id string, balance int) *pgxmock.Rows {
	return pgxmock.NewRows(employeeCols).
		AddRow(id, "Employee "+id, id+"@example.com", "", 20, balance, now)
}

func pendingRequestRow(id, employeeID string, days int) *pgxmock.Rows {
	return pgxmock.NewRows(requestCols).AddRow(
		id, employeeID,
		time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
		"annual", "", "pending", days, now, nil, nil, nil, nil,
	)
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

// =============================================================================
// LIFECYCLE THROUGH THE STORE
// =============================================================================

func TestApprove_LocksEmployeeThenRequestAndCommits(t *testing.T) {
	// GIVEN: A pending 3-day request and an employee with 10 days
	// THEN: Locks are taken employee first, the debit and status change
	//       are written in the same transaction, then committed
	mock := newMock(t)
	svc := leave.NewService(New(mock), fixedClock{}, zaptest.NewLogger(t))

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
	mock.ExpectQuery(selectRequest).WithArgs("req-1").WillReturnRows(pendingRequestRow("req-1", "emp-1", 3))
	mock.ExpectQuery(selectEmployee).WithArgs("mgr-1").WillReturnRows(employeeRow("mgr-1", 0))
	mock.ExpectQuery(lockEmployee).WithArgs("emp-1").WillReturnRows(employeeRow("emp-1", 10))
	mock.ExpectQuery(lockRequest).WithArgs("req-1").WillReturnRows(pendingRequestRow("req-1", "emp-1", 3))
	mock.ExpectQuery(lockEmployee).WithArgs("emp-1").WillReturnRows(employeeRow("emp-1", 10))
	mock.ExpectExec(updateBalance).WithArgs(7, "emp-1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(insertAudit).
		WithArgs(pgxmock.AnyArg(), "emp-1", pgxmock.AnyArg(), 10, -3, 7, leave.ReasonLeaveApproved, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(updateLeaveRequest).WithArgs(anyArgs(11)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	approved, err := svc.Approve(context.Background(), "req-1", "mgr-1", "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, approved.Status)
	assert.Equal(t, 3, approved.DaysRequested)
	assert.Equal(t, "2025-03-10", approved.StartDate.String())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_InsufficientBalance_RollsBack(t *testing.T) {
	mock := newMock(t)
	svc := leave.NewService(New(mock), fixedClock{}, zaptest.NewLogger(t))

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
	mock.ExpectQuery(selectRequest).WithArgs("req-1").WillReturnRows(pendingRequestRow("req-1", "emp-1", 3))
	mock.ExpectQuery(selectEmployee).WithArgs("mgr-1").WillReturnRows(employeeRow("mgr-1", 0))
	mock.ExpectQuery(lockEmployee).WithArgs("emp-1").WillReturnRows(employeeRow("emp-1", 2))
	mock.ExpectQuery(lockRequest).WithArgs("req-1").WillReturnRows(pendingRequestRow("req-1", "emp-1", 3))
	mock.ExpectQuery(lockEmployee).WithArgs("emp-1").WillReturnRows(employeeRow("emp-1", 2))
	mock.ExpectRollback()

	_, err := svc.Approve(context.Background(), "req-1", "mgr-1", "")

	var balErr *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, 2, balErr.Current)
	assert.Equal(t, 3, balErr.Requested)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReject_UnknownResolver_RollsBack(t *testing.T) {
	mock := newMock(t)
	svc := leave.NewService(New(mock), fixedClock{}, zaptest.NewLogger(t))

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
	mock.ExpectQuery(selectRequest).WithArgs("req-1").WillReturnRows(pendingRequestRow("req-1", "emp-1", 3))
	mock.ExpectQuery(selectEmployee).WithArgs("ghost").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.Reject(context.Background(), "req-1", "ghost", "")
	assert.ErrorIs(t, err, leave.ErrResolverNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// READS
// =============================================================================

func TestGetEmployee_NotFound(t *testing.T) {
	mock := newMock(t)
	store := New(mock)

	mock.ExpectQuery(selectEmployee).WithArgs("ghost").WillReturnError(pgx.ErrNoRows)

	_, err := store.GetEmployee(context.Background(), "ghost")
	assert.ErrorIs(t, err, leave.ErrEmployeeNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRequest_MapsNullableColumns(t *testing.T) {
	mock := newMock(t)
	store := New(mock)

	resolved := now.Add(2 * time.Hour)
	mock.ExpectQuery(selectRequest).WithArgs("req-1").WillReturnRows(
		pgxmock.NewRows(requestCols).AddRow(
			"req-1", "emp-1",
			time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
			time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC),
			"sick", "flu", "rejected", 5, now, "emp-1", resolved, "[cancelled] better", resolved,
		))

	req, err := store.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, req.Status)
	assert.Equal(t, leave.LeaveSick, req.Type)
	require.NotNil(t, req.ApprovedBy)
	assert.Equal(t, "emp-1", *req.ApprovedBy)
	require.NotNil(t, req.ResolvedOn)
	assert.True(t, resolved.Equal(*req.ResolvedOn))
	assert.True(t, req.IsCancelled())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTakenDays(t *testing.T) {
	mock := newMock(t)
	store := New(mock)

	mock.ExpectQuery(regexp.QuoteMeta("SUM(days_requested)")).WithArgs("emp-1").
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(8))

	taken, err := store.TakenDays(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Equal(t, 8, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditEntries_WriteOrder(t *testing.T) {
	mock := newMock(t)
	store := New(mock)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq ASC")).WithArgs("emp-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "employee_id", "leave_request_id", "previous_balance", "delta", "new_balance", "reason", "created_at"}).
			AddRow("a1", "emp-1", "req-1", 10, -3, 7, leave.ReasonLeaveApproved, now).
			AddRow("a2", "emp-1", nil, 7, 2, 9, "carry-over", now))

	entries, err := store.ListAuditEntries(context.Background(), "emp-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].LeaveRequestID)
	assert.Equal(t, "req-1", *entries[0].LeaveRequestID)
	assert.Nil(t, entries[1].LeaveRequestID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBalance_ReadsUnderEmployeeLock(t *testing.T) {
	// GIVEN: An employee with 7 of 20 days left
	// THEN: The row lock is taken before the approved days are summed,
	//       both inside one transaction
	mock := newMock(t)
	svc := leave.NewService(New(mock), fixedClock{}, zaptest.NewLogger(t))

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
	mock.ExpectQuery(lockEmployee).WithArgs("emp-1").WillReturnRows(employeeRow("emp-1", 7))
	mock.ExpectQuery(regexp.QuoteMeta("SUM(days_requested)")).WithArgs("emp-1").
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(13))
	mock.ExpectCommit()

	bal, err := svc.GetBalance(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Equal(t, leave.BalanceSummary{EmployeeID: "emp-1", Total: 20, Taken: 13, Remaining: 7}, *bal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_ReadsTrailUnderEmployeeLock(t *testing.T) {
	mock := newMock(t)
	reconciler := leave.NewReconciler(New(mock), zaptest.NewLogger(t))

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
	mock.ExpectQuery(lockEmployee).WithArgs("emp-1").WillReturnRows(employeeRow("emp-1", 17))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq ASC")).WithArgs("emp-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "employee_id", "leave_request_id", "previous_balance", "delta", "new_balance", "reason", "created_at"}).
			AddRow("a1", "emp-1", "req-1", 20, -3, 17, leave.ReasonLeaveApproved, now))
	mock.ExpectCommit()

	divs, n, err := reconciler.Reconcile(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Empty(t, divs)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// WRITES AND ERRORS
// =============================================================================

func TestCreateEmployee_Duplicate(t *testing.T) {
	mock := newMock(t)
	store := New(mock)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO employees")).WithArgs(anyArgs(7)...).
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode})

	err := store.CreateEmployee(context.Background(), leave.Employee{ID: "emp-1", Name: "Ada", CreatedAt: now})
	assert.ErrorIs(t, err, leave.ErrEmployeeExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslatePgError(t *testing.T) {
	assert.ErrorIs(t, translatePgError(&pgconn.PgError{Code: uniqueViolationCode}, "x"), leave.ErrEmployeeExists)
	assert.ErrorIs(t, translatePgError(&pgconn.PgError{Code: foreignKeyViolationCode}, "x"), leave.ErrEmployeeNotFound)

	other := errors.New("other")
	assert.Same(t, other, translatePgError(other, "x"))
}

func TestWithTx_CommitFailure(t *testing.T) {
	mock := newMock(t)
	store := New(mock)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := store.WithTx(context.Background(), func(tx leave.Tx) error { return nil })
	assert.ErrorContains(t, err, "commit")
}

func TestBuildPoolConfig(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver: config.DriverPostgres, Host: "localhost", Port: 5432, User: "leave",
		Password: "secret", Name: "leave", SSLMode: "disable",
		MaxOpenConns: 12, MaxIdleConns: 3, ConnMaxLifetime: 10 * time.Minute,
	}

	poolCfg, err := BuildPoolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(12), poolCfg.MaxConns)
	assert.Equal(t, int32(3), poolCfg.MinConns)
	assert.Equal(t, 10*time.Minute, poolCfg.MaxConnLifetime)
	assert.Equal(t, "localhost", poolCfg.ConnConfig.Host)
}
