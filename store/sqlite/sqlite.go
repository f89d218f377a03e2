/*
Package sqlite provides a SQLite-backed leave.TxStore.

PURPOSE:
  Single-node persistence for the leave engine: the employee registry with
  its cached balance, leave requests, and the append-only balance audit
  trail. The PostgreSQL store (store/postgres) implements the same
  contract with row locks; this one relies on SQLite's database-level
  writer lock.

KEY TABLES:
  employees:      Registry + cached remaining_balance
  leave_requests: One row per request, never deleted
  balance_audit:  Append-only, seq gives write order

LOCKING:
  Every WithTx starts with BEGIN IMMEDIATE (the _txlock=immediate DSN
  option), which takes SQLite's RESERVED lock up front. At most one
  lifecycle transaction is in flight per database file, so LockEmployee
  and LockRequest are plain reads: the exclusive scope they promise is
  already held. A second writer waits up to busy_timeout and then fails
  with SQLITE_BUSY, which surfaces as a persistence error.

  Inside WithTx every statement goes through the *sql.Tx. Touching s.db
  from there would need a second connection, and an in-memory database
  only has one.

WAL MODE:
  Readers outside a transaction never block on the writer.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := leave.NewService(store, nil, logger)

MIGRATION:
  The schema is created on New(). The PostgreSQL schema is versioned under
  migrations/postgres and applied with cmd/migrate.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/leave-engine/leave"
)

// timeLayout is fixed-width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements leave.TxStore using SQLite.
type Store struct {
	db *sql.DB
}

var _ leave.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		total_entitlement INTEGER NOT NULL CHECK (total_entitlement >= 0),
		remaining_balance INTEGER NOT NULL CHECK (remaining_balance >= 0),
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_employees_email
		ON employees(email) WHERE email <> '';

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		days_requested INTEGER NOT NULL CHECK (days_requested > 0),
		applied_on TEXT NOT NULL,
		approved_by TEXT,
		resolved_on TEXT,
		comments TEXT,
		modified_on TEXT,
		CHECK (start_date <= end_date)
	);

	-- Overlap detection scans an employee's active requests
	CREATE INDEX IF NOT EXISTS idx_leave_requests_employee_status
		ON leave_requests(employee_id, status, start_date, end_date);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_pending
		ON leave_requests(applied_on) WHERE status = 'pending';

	CREATE TABLE IF NOT EXISTS balance_audit (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		leave_request_id TEXT REFERENCES leave_requests(id),
		previous_balance INTEGER NOT NULL,
		delta INTEGER NOT NULL,
		new_balance INTEGER NOT NULL,
		reason TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_balance_audit_employee
		ON balance_audit(employee_id, seq);

	-- The trail is append-only
	CREATE TRIGGER IF NOT EXISTS balance_audit_no_update
		BEFORE UPDATE ON balance_audit
		BEGIN SELECT RAISE(ABORT, 'balance_audit is append-only'); END;

	CREATE TRIGGER IF NOT EXISTS balance_audit_no_delete
		BEFORE DELETE ON balance_audit
		BEGIN SELECT RAISE(ABORT, 'balance_audit is append-only'); END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// EMPLOYEES
// =============================================================================

const employeeColumns = `id, name, email, department, total_entitlement, remaining_balance, created_at`

func (s *Store) CreateEmployee(ctx context.Context, emp leave.Employee) error {
	query := `
		INSERT INTO employees (` + employeeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, emp.Email, emp.Department,
		emp.TotalEntitlement, emp.RemainingBalance,
		formatTime(emp.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", leave.ErrEmployeeExists, emp.ID)
		}
		return fmt.Errorf("failed to create employee: %w", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*leave.Employee, error) {
	return getEmployee(ctx, s.db, id)
}

func (s *Store) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY id")
	if err != nil {
		return nil, err
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

func getEmployee(ctx context.Context, q querier, id string) (*leave.Employee, error) {
	row := q.QueryRowContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, id)
	}
	return emp, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row scanner) (*leave.Employee, error) {
	var emp leave.Employee
	var createdAt string
	if err := row.Scan(&emp.ID, &emp.Name, &emp.Email, &emp.Department,
		&emp.TotalEntitlement, &emp.RemainingBalance, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if emp.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at on employee %s: %w", emp.ID, err)
	}
	return &emp, nil
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

const requestColumns = `id, employee_id, start_date, end_date, leave_type, reason, status,
	days_requested, applied_on, approved_by, resolved_on, comments, modified_on`

func (s *Store) GetRequest(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	return getRequest(ctx, s.db, id)
}

// ListRequestsByEmployee returns the employee's requests, newest first.
func (s *Store) ListRequestsByEmployee(ctx context.Context, employeeID string) ([]leave.LeaveRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM leave_requests
		WHERE employee_id = ?
		ORDER BY applied_on DESC, id DESC`
	return queryRequests(ctx, s.db, query, employeeID)
}

// ListPendingRequests returns every pending request, oldest first.
func (s *Store) ListPendingRequests(ctx context.Context) ([]leave.LeaveRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM leave_requests
		WHERE status = 'pending'
		ORDER BY applied_on ASC, id ASC`
	return queryRequests(ctx, s.db, query)
}

func (s *Store) TakenDays(ctx context.Context, employeeID string) (int, error) {
	return takenDays(ctx, s.db, employeeID)
}

func takenDays(ctx context.Context, q querier, employeeID string) (int, error) {
	var taken int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(days_requested), 0) FROM leave_requests
		 WHERE employee_id = ? AND status = 'approved'`,
		employeeID,
	).Scan(&taken)
	return taken, err
}

func getRequest(ctx context.Context, q querier, id string) (*leave.LeaveRequest, error) {
	row := q.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = ?", id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", leave.ErrRequestNotFound, id)
	}
	return req, err
}

func queryRequests(ctx context.Context, q querier, query string, args ...any) ([]leave.LeaveRequest, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
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

func scanRequest(row scanner) (*leave.LeaveRequest, error) {
	var r leave.LeaveRequest
	var start, end, leaveType, status, appliedOn string
	var approvedBy, resolvedOn, comments, modifiedOn sql.NullString

	if err := row.Scan(
		&r.ID, &r.EmployeeID, &start, &end, &leaveType, &r.Reason, &status,
		&r.DaysRequested, &appliedOn, &approvedBy, &resolvedOn, &comments, &modifiedOn,
	); err != nil {
		return nil, err
	}

	var err error
	if r.StartDate, err = leave.ParseDate(start); err != nil {
		return nil, fmt.Errorf("corrupt start_date on %s: %w", r.ID, err)
	}
	if r.EndDate, err = leave.ParseDate(end); err != nil {
		return nil, fmt.Errorf("corrupt end_date on %s: %w", r.ID, err)
	}
	r.Type = leave.LeaveType(leaveType)
	r.Status = leave.Status(status)
	if r.AppliedOn, err = parseTime(appliedOn); err != nil {
		return nil, fmt.Errorf("corrupt applied_on on %s: %w", r.ID, err)
	}
	if r.ResolvedOn, err = nullableTime(resolvedOn); err != nil {
		return nil, fmt.Errorf("corrupt resolved_on on %s: %w", r.ID, err)
	}
	if r.ModifiedOn, err = nullableTime(modifiedOn); err != nil {
		return nil, fmt.Errorf("corrupt modified_on on %s: %w", r.ID, err)
	}
	r.ApprovedBy = nullableString(approvedBy)
	r.Comments = nullableString(comments)
	return &r, nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

func (s *Store) ListAuditEntries(ctx context.Context, employeeID string) ([]leave.BalanceAuditEntry, error) {
	return listAuditEntries(ctx, s.db, employeeID)
}

func listAuditEntries(ctx context.Context, q querier, employeeID string) ([]leave.BalanceAuditEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, employee_id, leave_request_id, previous_balance, delta, new_balance, reason, created_at
		FROM balance_audit
		WHERE employee_id = ?
		ORDER BY seq ASC
	`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []leave.BalanceAuditEntry
	for rows.Next() {
		var e leave.BalanceAuditEntry
		var requestID sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.EmployeeID, &requestID,
			&e.PreviousBalance, &e.Delta, &e.NewBalance, &e.Reason, &createdAt); err != nil {
			return nil, err
		}
		e.LeaveRequestID = nullableString(requestID)
		if e.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("corrupt created_at on audit entry %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a BEGIN IMMEDIATE transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore wraps a sql.Tx to implement leave.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetEmployee(ctx context.Context, id string) (*leave.Employee, error) {
	return getEmployee(ctx, ts.tx, id)
}

func (ts *txStore) GetRequest(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	return getRequest(ctx, ts.tx, id)
}

// LockEmployee is a read; the IMMEDIATE transaction already excludes writers.
func (ts *txStore) LockEmployee(ctx context.Context, id string) (*leave.Employee, error) {
	return getEmployee(ctx, ts.tx, id)
}

func (ts *txStore) LockRequest(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	return getRequest(ctx, ts.tx, id)
}

func (ts *txStore) FindActiveOverlapping(ctx context.Context, employeeID string, r leave.DateRange, excludeID string) ([]leave.LeaveRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM leave_requests
		WHERE employee_id = ?
		  AND status IN ('pending', 'approved')
		  AND start_date <= ?
		  AND end_date >= ?
		  AND id <> ?
		ORDER BY id ASC`
	return queryRequests(ctx, ts.tx, query, employeeID, r.End.String(), r.Start.String(), excludeID)
}

func (ts *txStore) InsertRequest(ctx context.Context, req *leave.LeaveRequest) error {
	query := `
		INSERT INTO leave_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ts.tx.ExecContext(ctx, query,
		req.ID, req.EmployeeID, req.StartDate.String(), req.EndDate.String(),
		string(req.Type), req.Reason, string(req.Status), req.DaysRequested,
		formatTime(req.AppliedOn), nullString(req.ApprovedBy), nullTime(req.ResolvedOn),
		nullString(req.Comments), nullTime(req.ModifiedOn),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: %s", leave.ErrEmployeeNotFound, req.EmployeeID)
		}
		return fmt.Errorf("failed to insert leave request: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateRequest(ctx context.Context, req *leave.LeaveRequest) error {
	query := `
		UPDATE leave_requests SET
			start_date = ?, end_date = ?, leave_type = ?, reason = ?, status = ?,
			days_requested = ?, approved_by = ?, resolved_on = ?, comments = ?, modified_on = ?
		WHERE id = ?
	`
	res, err := ts.tx.ExecContext(ctx, query,
		req.StartDate.String(), req.EndDate.String(), string(req.Type), req.Reason,
		string(req.Status), req.DaysRequested, nullString(req.ApprovedBy),
		nullTime(req.ResolvedOn), nullString(req.Comments), nullTime(req.ModifiedOn),
		req.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update leave request: %w", err)
	}
	return expectOneRow(res, leave.ErrRequestNotFound, req.ID)
}

func (ts *txStore) SetBalance(ctx context.Context, employeeID string, balance int) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE employees SET remaining_balance = ? WHERE id = ?",
		balance, employeeID,
	)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return expectOneRow(res, leave.ErrEmployeeNotFound, employeeID)
}

func (ts *txStore) AppendAudit(ctx context.Context, e leave.BalanceAuditEntry) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO balance_audit
			(id, employee_id, leave_request_id, previous_balance, delta, new_balance, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.EmployeeID, nullString(e.LeaveRequestID),
		e.PreviousBalance, e.Delta, e.NewBalance, e.Reason, formatTime(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (ts *txStore) ListAuditEntries(ctx context.Context, employeeID string) ([]leave.BalanceAuditEntry, error) {
	return listAuditEntries(ctx, ts.tx, employeeID)
}

func (ts *txStore) TakenDays(ctx context.Context, employeeID string) (int, error) {
	return takenDays(ctx, ts.tx, employeeID)
}

// Helper functions

func expectOneRow(res sql.Result, notFound error, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
