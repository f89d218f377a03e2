/*
store.go - Persistence interface for the leave engine

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  trusts the store for atomicity and exclusive access; it never caches
  balances or statuses between calls.

KEY INTERFACES:
  Store:   Reads and registry writes outside any lifecycle transaction
  Tx:      Operations valid inside one atomic unit (WithTx)
  TxStore: Store + WithTx

LOCKING CONTRACT:
  LockEmployee and LockRequest return the current row AND hold an exclusive
  lock on it until the transaction ends. Another transaction calling Lock*
  on the same id blocks until then. Different employees never contend.

  Callers lock in a fixed order, employee first then request, so two
  transactions can never wait on each other.

ATOMICITY:
  WithTx commits only if fn returns nil. Any error rolls back every write
  made through the Tx (request row, balance, audit entry).

IMPLEMENTATIONS:
  - leave/store/memory.go:       in-memory, for tests and dev
  - store/sqlite/sqlite.go:      BEGIN IMMEDIATE writer transactions
  - store/postgres/postgres.go:  SELECT ... FOR UPDATE row locks
*/
package leave

import "context"

// =============================================================================
// STORE - Reads and registry writes
// =============================================================================

type Store interface {
	// CreateEmployee registers an employee; RemainingBalance starts at
	// TotalEntitlement.
	CreateEmployee(ctx context.Context, emp Employee) error

	// GetEmployee returns ErrEmployeeNotFound when the id is unknown.
	GetEmployee(ctx context.Context, id string) (*Employee, error)

	ListEmployees(ctx context.Context) ([]Employee, error)

	// GetRequest returns ErrRequestNotFound when the id is unknown.
	GetRequest(ctx context.Context, id string) (*LeaveRequest, error)

	// ListRequestsByEmployee returns the employee's requests, newest first.
	ListRequestsByEmployee(ctx context.Context, employeeID string) ([]LeaveRequest, error)

	// ListPendingRequests returns all pending requests, oldest first.
	ListPendingRequests(ctx context.Context) ([]LeaveRequest, error)

	// ListAuditEntries returns the employee's audit trail in write order.
	ListAuditEntries(ctx context.Context, employeeID string) ([]BalanceAuditEntry, error)

	// TakenDays sums DaysRequested over the employee's approved requests.
	TakenDays(ctx context.Context, employeeID string) (int, error)

	Ping(ctx context.Context) error
}

// =============================================================================
// TX - Operations inside one atomic unit
// =============================================================================

type Tx interface {
	// GetEmployee reads without locking; used to resolve identities that
	// are not mutated (the resolver).
	GetEmployee(ctx context.Context, id string) (*Employee, error)

	// GetRequest reads without locking; used to learn the owner before
	// taking locks in order.
	GetRequest(ctx context.Context, id string) (*LeaveRequest, error)

	// LockEmployee returns the employee and holds its exclusive lock.
	LockEmployee(ctx context.Context, id string) (*Employee, error)

	// LockRequest returns the request and holds its exclusive lock.
	LockRequest(ctx context.Context, id string) (*LeaveRequest, error)

	// FindActiveOverlapping returns the employee's pending/approved requests
	// whose range overlaps r (closed interval), ascending by id. A non-empty
	// excludeID is left out of the result.
	FindActiveOverlapping(ctx context.Context, employeeID string, r DateRange, excludeID string) ([]LeaveRequest, error)

	InsertRequest(ctx context.Context, req *LeaveRequest) error
	UpdateRequest(ctx context.Context, req *LeaveRequest) error

	// SetBalance overwrites the cached balance. Only the Ledger calls it.
	SetBalance(ctx context.Context, employeeID string, balance int) error

	// AppendAudit appends one audit entry. There is no update or delete.
	AppendAudit(ctx context.Context, entry BalanceAuditEntry) error

	// ListAuditEntries and TakenDays are the Store reads, seen from inside
	// the transaction. Pair them with LockEmployee to get a view that no
	// concurrent lifecycle write can split.
	ListAuditEntries(ctx context.Context, employeeID string) ([]BalanceAuditEntry, error)
	TakenDays(ctx context.Context, employeeID string) (int, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
