/*
reconcile.go - Rebuild balances from the audit trail and compare

PURPOSE:
  The cached RemainingBalance is authoritative for the lifecycle, and the
  audit trail is the evidence. Reconcile replays the trail and reports any
  employee where the two disagree. It never rewrites a balance: fixing a
  divergence is an operator decision (see Service.AdjustBalance).

REPLAY RULES:
  The chain starts at TotalEntitlement. For every entry in write order:

    entry.PreviousBalance == running          else "broken chain"
    entry.PreviousBalance + entry.Delta
                       == entry.NewBalance    else "bad arithmetic"
    running = entry.NewBalance

  Finally running must equal the cached RemainingBalance.

CONSISTENCY:
  The employee row and the trail are read in one transaction after
  LockEmployee, so an approval committing mid-replay cannot show up as a
  false divergence.
*/
package leave

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Divergence describes one inconsistency found during replay.
type Divergence struct {
	EmployeeID string
	EntryID    string // empty when the cached balance is at fault
	Expected   int
	Actual     int
	Problem    string
}

func (d Divergence) String() string {
	if d.EntryID == "" {
		return fmt.Sprintf("employee %s: %s (expected %d, got %d)", d.EmployeeID, d.Problem, d.Expected, d.Actual)
	}
	return fmt.Sprintf("employee %s entry %s: %s (expected %d, got %d)", d.EmployeeID, d.EntryID, d.Problem, d.Expected, d.Actual)
}

// ReconcileReport is the outcome of one reconciliation run.
type ReconcileReport struct {
	EmployeesChecked int
	EntriesChecked   int
	Divergences      []Divergence
}

func (r *ReconcileReport) Consistent() bool {
	return len(r.Divergences) == 0
}

// DivergentEmployees counts distinct employees with at least one divergence.
func (r *ReconcileReport) DivergentEmployees() int {
	seen := make(map[string]struct{})
	for _, d := range r.Divergences {
		seen[d.EmployeeID] = struct{}{}
	}
	return len(seen)
}

type Reconciler struct {
	store  TxStore
	logger *zap.Logger
}

func NewReconciler(store TxStore, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, logger: logger.Named("leave.reconciler")}
}

// Reconcile replays one employee's trail.
func (r *Reconciler) Reconcile(ctx context.Context, employeeID string) ([]Divergence, int, error) {
	var (
		emp     *Employee
		entries []BalanceAuditEntry
	)
	err := r.store.WithTx(ctx, func(tx Tx) error {
		var err error
		if emp, err = tx.LockEmployee(ctx, employeeID); err != nil {
			return err
		}
		if entries, err = tx.ListAuditEntries(ctx, employeeID); err != nil {
			return fmt.Errorf("load audit trail: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return replay(*emp, entries), len(entries), nil
}

// ReconcileAll replays every employee and updates the divergence gauge.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*ReconcileReport, error) {
	employees, err := r.store.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}

	report := &ReconcileReport{}
	for _, emp := range employees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		divs, n, err := r.Reconcile(ctx, emp.ID)
		if err != nil {
			return nil, err
		}
		report.EmployeesChecked++
		report.EntriesChecked += n
		report.Divergences = append(report.Divergences, divs...)
	}

	for _, d := range report.Divergences {
		r.logger.Warn("balance divergence",
			zap.String("employee_id", d.EmployeeID),
			zap.String("entry_id", d.EntryID),
			zap.String("problem", d.Problem),
			zap.Int("expected", d.Expected),
			zap.Int("actual", d.Actual),
		)
	}
	balanceDivergences.Set(float64(report.DivergentEmployees()))

	r.logger.Info("reconciliation complete",
		zap.Int("employees", report.EmployeesChecked),
		zap.Int("entries", report.EntriesChecked),
		zap.Int("divergences", len(report.Divergences)),
	)
	return report, nil
}

func replay(emp Employee, entries []BalanceAuditEntry) []Divergence {
	var divs []Divergence
	running := emp.TotalEntitlement

	for _, e := range entries {
		if e.PreviousBalance != running {
			divs = append(divs, Divergence{
				EmployeeID: emp.ID, EntryID: e.ID,
				Expected: running, Actual: e.PreviousBalance,
				Problem: "broken chain",
			})
		}
		if e.PreviousBalance+e.Delta != e.NewBalance {
			divs = append(divs, Divergence{
				EmployeeID: emp.ID, EntryID: e.ID,
				Expected: e.PreviousBalance + e.Delta, Actual: e.NewBalance,
				Problem: "bad arithmetic",
			})
		}
		running = e.NewBalance
	}

	if running != emp.RemainingBalance {
		divs = append(divs, Divergence{
			EmployeeID: emp.ID,
			Expected:   running, Actual: emp.RemainingBalance,
			Problem: "cached balance differs from audit trail",
		})
	}
	return divs
}
