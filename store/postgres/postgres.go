/*
Package postgres provides a PostgreSQL-backed leave.TxStore on pgx.

LOCKING:
  LockEmployee and LockRequest are SELECT ... FOR UPDATE. The row lock is
  held until the surrounding transaction commits or rolls back, so

    - two approvals for the same employee serialize on the employees row
    - two approvals of the same request serialize on the leave_requests row
    - different employees never touch the same row and run in parallel

  Locking a row the transaction already holds returns immediately, so the
  ledger may re-lock the employee the lifecycle locked first.

SCHEMA:
  Versioned under migrations/postgres, applied with cmd/migrate.
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
)

const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
)

// Queryer is satisfied by pgx.Tx and *pgxpool.Pool.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Queryer
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// BuildPoolConfig turns the database settings into a pgxpool.Config.
func BuildPoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	return poolCfg, nil
}

// NewPool creates a pool and checks connectivity.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := BuildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Store implements leave.TxStore.
type Store struct {
	pool Pool
}

var _ leave.TxStore = (*Store)(nil)

func New(pool Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

const employeeColumns = `id, name, email, department, total_entitlement, remaining_balance, created_at`

func (s *Store) CreateEmployee(ctx context.Context, emp leave.Employee) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		emp.ID, emp.Name, emp.Email, emp.Department,
		emp.TotalEntitlement, emp.RemainingBalance, emp.CreatedAt,
	)
	if err != nil {
		return translatePgError(err, emp.ID)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*leave.Employee, error) {
	return getEmployee(ctx, s.pool, id, "")
}

func (s *Store) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list employees: %w", err)
	}
	defer rows.Close()

	var employees []leave.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, *emp)
	}
	return employees, rows.Err()
}

func getEmployee(ctx context.Context, q Queryer, id, suffix string) (*leave.Employee, error) {
	row := q.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`+suffix, id)
	emp, err := scanEmployee(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id)
	}
	return emp, err
}

func scanEmployee(row pgx.Row) (*leave.Employee, error) {
	var emp leave.Employee
	if err := row.Scan(&emp.ID, &emp.Name, &emp.Email, &emp.Department,
		&emp.TotalEntitlement, &emp.RemainingBalance, &emp.CreatedAt); err != nil {
		return nil, err
	}
	return &emp, nil
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

const requestColumns = `id, employee_id, start_date, end_date, leave_type, reason, status,
	days_requested, applied_on, approved_by, resolved_on, comments, modified_on`

func (s *Store) GetRequest(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	return getRequest(ctx, s.pool, id, "")
}

func (s *Store) ListRequestsByEmployee(ctx context.Context, employeeID string) ([]leave.LeaveRequest, error) {
	return queryRequests(ctx, s.pool, `SELECT `+requestColumns+`
		FROM leave_requests
		WHERE employee_id = $1
		ORDER BY applied_on DESC, id DESC`, employeeID)
}

func (s *Store) ListPendingRequests(ctx context.Context) ([]leave.LeaveRequest, error) {
	return queryRequests(ctx, s.pool, `SELECT `+requestColumns+`
		FROM leave_requests
		WHERE status = 'pending'
		ORDER BY applied_on ASC, id ASC`)
}

func (s *Store) TakenDays(ctx context.Context, employeeID string) (int, error) {
	return takenDays(ctx, s.pool, employeeID)
}

func takenDays(ctx context.Context, q Queryer, employeeID string) (int, error) {
	var taken int
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(days_requested), 0)::int FROM leave_requests
		WHERE employee_id = $1 AND status = 'approved'`,
		employeeID,
	).Scan(&taken)
	if err != nil {
		return 0, fmt.Errorf("postgres: taken days: %w", err)
	}
	return taken, nil
}

func getRequest(ctx context.Context, q Queryer, id, suffix string) (*leave.LeaveRequest, error) {
	row := q.QueryRow(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = $1`+suffix, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", leave.ErrRequestNotFound, id)
	}
	return req, err
}

func queryRequests(ctx context.Context, q Queryer, query string, args ...any) ([]leave.LeaveRequest, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query leave requests: %w", err)
	}
	defer rows.Close()

	var requests []leave.LeaveRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

func scanRequest(row pgx.Row) (*leave.LeaveRequest, error) {
	var (
		r                      leave.LeaveRequest
		start, end             time.Time
		leaveType, status      string
		approvedBy, comments   sql.NullString
		resolvedOn, modifiedOn sql.NullTime
	)
	if err := row.Scan(
		&r.ID, &r.EmployeeID, &start, &end, &leaveType, &r.Reason, &status,
		&r.DaysRequested, &r.AppliedOn, &approvedBy, &resolvedOn, &comments, &modifiedOn,
	); err != nil {
		return nil, err
	}

	r.StartDate = leave.DateOf(start)
	r.EndDate = leave.DateOf(end)
	r.Type = leave.LeaveType(leaveType)
	r.Status = leave.Status(status)
	r.ApprovedBy = fromNullString(approvedBy)
	r.Comments = fromNullString(comments)
	r.ResolvedOn = fromNullTime(resolvedOn)
	r.ModifiedOn = fromNullTime(modifiedOn)
	return &r, nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

func (s *Store) ListAuditEntries(ctx context.Context, employeeID string) ([]leave.BalanceAuditEntry, error) {
	return listAuditEntries(ctx, s.pool, employeeID)
}

func listAuditEntries(ctx context.Context, q Queryer, employeeID string) ([]leave.BalanceAuditEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, employee_id, leave_request_id, previous_balance, delta, new_balance, reason, created_at
		FROM balance_audit
		WHERE employee_id = $1
		ORDER BY seq ASC`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []leave.BalanceAuditEntry
	for rows.Next() {
		var e leave.BalanceAuditEntry
		var requestID sql.NullString
		if err := rows.Scan(&e.ID, &e.EmployeeID, &requestID,
			&e.PreviousBalance, &e.Delta, &e.NewBalance, &e.Reason, &e.Timestamp); err != nil {
			return nil, err
		}
		e.LeaveRequestID = fromNullString(requestID)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx runs fn in a read-write transaction. Row locks taken through the
// Tx are released when it ends.
func (s *Store) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	if err := fn(&txStore{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("postgres: rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) GetEmployee(ctx context.Context, id string) (*leave.Employee, error) {
	return getEmployee(ctx, t.tx, id, "")
}

func (t *txStore) GetRequest(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	return getRequest(ctx, t.tx, id, "")
}

func (t *txStore) LockEmployee(ctx context.Context, id string) (*leave.Employee, error) {
	return getEmployee(ctx, t.tx, id, " FOR UPDATE")
}

func (t *txStore) LockRequest(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	return getRequest(ctx, t.tx, id, " FOR UPDATE")
}

func (t *txStore) FindActiveOverlapping(ctx context.Context, employeeID string, r leave.DateRange, excludeID string) ([]leave.LeaveRequest, error) {
	return queryRequests(ctx, t.tx, `SELECT `+requestColumns+`
		FROM leave_requests
		WHERE employee_id = $1
		  AND status IN ('pending', 'approved')
		  AND start_date <= $2
		  AND end_date >= $3
		  AND id <> $4
		ORDER BY id ASC`,
		employeeID, r.End.Time, r.Start.Time, excludeID)
}

func (t *txStore) InsertRequest(ctx context.Context, req *leave.LeaveRequest) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO leave_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		req.ID, req.EmployeeID, req.StartDate.Time, req.EndDate.Time,
		string(req.Type), req.Reason, string(req.Status), req.DaysRequested,
		req.AppliedOn, req.ApprovedBy, req.ResolvedOn, req.Comments, req.ModifiedOn,
	)
	if err != nil {
		return translatePgError(err, req.EmployeeID)
	}
	return nil
}

func (t *txStore) UpdateRequest(ctx context.Context, req *leave.LeaveRequest) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE leave_requests SET
			start_date = $1, end_date = $2, leave_type = $3, reason = $4, status = $5,
			days_requested = $6, approved_by = $7, resolved_on = $8, comments = $9, modified_on = $10
		WHERE id = $11`,
		req.StartDate.Time, req.EndDate.Time, string(req.Type), req.Reason, string(req.Status),
		req.DaysRequested, req.ApprovedBy, req.ResolvedOn, req.Comments, req.ModifiedOn,
		req.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update leave request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", leave.ErrRequestNotFound, req.ID)
	}
	return nil
}

func (t *txStore) SetBalance(ctx context.Context, employeeID string, balance int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE employees SET remaining_balance = $1 WHERE id = $2`,
		balance, employeeID,
	)
	if err != nil {
		return fmt.Errorf("postgres: set balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, employeeID)
	}
	return nil
}

func (t *txStore) AppendAudit(ctx context.Context, e leave.BalanceAuditEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO balance_audit
			(id, employee_id, leave_request_id, previous_balance, delta, new_balance, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.EmployeeID, e.LeaveRequestID,
		e.PreviousBalance, e.Delta, e.NewBalance, e.Reason, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: append audit entry: %w", err)
	}
	return nil
}

func (t *txStore) ListAuditEntries(ctx context.Context, employeeID string) ([]leave.BalanceAuditEntry, error) {
	return listAuditEntries(ctx, t.tx, employeeID)
}

func (t *txStore) TakenDays(ctx context.Context, employeeID string) (int, error) {
	return takenDays(ctx, t.tx, employeeID)
}

// Helper functions

func translatePgError(err error, id string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return fmt.Errorf("%w: %s", leave.ErrEmployeeExists, id)
		case foreignKeyViolationCode:
			return fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id)
		}
	}
	return err
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
