package leave_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
)

func newTestLedger(t *testing.T, balance int) (*leave.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateEmployee(context.Background(), leave.Employee{
		ID: "emp-1", Name: "Ada", TotalEntitlement: balance, RemainingBalance: balance,
	}))
	return leave.NewLedger(fixedClock{now: today}), mem
}

func TestLedger_Debit_WritesBalanceAndAudit(t *testing.T) {
	ledger, mem := newTestLedger(t, 10)
	ctx := context.Background()

	err := mem.WithTx(ctx, func(tx leave.Tx) error {
		next, err := ledger.Debit(ctx, tx, "emp-1", 4, "req-1")
		assert.Equal(t, 6, next)
		return err
	})
	require.NoError(t, err)

	emp, err := mem.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, 6, emp.RemainingBalance)

	entries, err := mem.ListAuditEntries(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 10, entries[0].PreviousBalance)
	assert.Equal(t, -4, entries[0].Delta)
	assert.Equal(t, 6, entries[0].NewBalance)
	assert.Equal(t, leave.ReasonLeaveApproved, entries[0].Reason)
	require.NotNil(t, entries[0].LeaveRequestID)
	assert.Equal(t, "req-1", *entries[0].LeaveRequestID)
	assert.Equal(t, today, entries[0].Timestamp)
}

func TestLedger_Debit_ExactBalanceAllowed(t *testing.T) {
	ledger, mem := newTestLedger(t, 3)
	ctx := context.Background()

	err := mem.WithTx(ctx, func(tx leave.Tx) error {
		_, err := ledger.Debit(ctx, tx, "emp-1", 3, "req-1")
		return err
	})
	require.NoError(t, err)

	emp, _ := mem.GetEmployee(ctx, "emp-1")
	assert.Equal(t, 0, emp.RemainingBalance)
}

func TestLedger_Debit_Overdraw_RejectedWithoutWrites(t *testing.T) {
	ledger, mem := newTestLedger(t, 2)
	ctx := context.Background()

	err := mem.WithTx(ctx, func(tx leave.Tx) error {
		_, err := ledger.Debit(ctx, tx, "emp-1", 3, "req-1")
		return err
	})

	var balErr *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, 2, balErr.Current)
	assert.Equal(t, 3, balErr.Requested)
	assert.Equal(t, -1, balErr.Result)

	entries, _ := mem.ListAuditEntries(ctx, "emp-1")
	assert.Empty(t, entries)
}

func TestLedger_Credit_RestoresBalance(t *testing.T) {
	ledger, mem := newTestLedger(t, 5)
	ctx := context.Background()

	err := mem.WithTx(ctx, func(tx leave.Tx) error {
		if _, err := ledger.Debit(ctx, tx, "emp-1", 5, "req-1"); err != nil {
			return err
		}
		_, err := ledger.Credit(ctx, tx, "emp-1", 5, "req-1", "")
		return err
	})
	require.NoError(t, err)

	emp, _ := mem.GetEmployee(ctx, "emp-1")
	assert.Equal(t, 5, emp.RemainingBalance)

	entries, _ := mem.ListAuditEntries(ctx, "emp-1")
	require.Len(t, entries, 2)
	assert.Equal(t, leave.ReasonLeaveCancelled, entries[1].Reason)
	assert.Equal(t, 0, entries[1].PreviousBalance)
	assert.Equal(t, 5, entries[1].NewBalance)
}

func TestLedger_RollbackDiscardsBalanceAndAudit(t *testing.T) {
	// GIVEN: A debit inside a transaction that later fails
	// THEN: Neither the balance nor the audit trail changes
	ledger, mem := newTestLedger(t, 10)
	ctx := context.Background()

	err := mem.WithTx(ctx, func(tx leave.Tx) error {
		if _, err := ledger.Debit(ctx, tx, "emp-1", 4, "req-1"); err != nil {
			return err
		}
		return leave.ErrRequestNotFound
	})
	require.ErrorIs(t, err, leave.ErrRequestNotFound)

	emp, _ := mem.GetEmployee(ctx, "emp-1")
	assert.Equal(t, 10, emp.RemainingBalance)
	entries, _ := mem.ListAuditEntries(ctx, "emp-1")
	assert.Empty(t, entries)
}

func TestLedger_InvalidAmounts(t *testing.T) {
	ledger, mem := newTestLedger(t, 10)
	ctx := context.Background()

	_ = mem.WithTx(ctx, func(tx leave.Tx) error {
		_, err := ledger.Debit(ctx, tx, "emp-1", 0, "req-1")
		assert.ErrorIs(t, err, leave.ErrInvalidAmount)

		_, err = ledger.Credit(ctx, tx, "emp-1", -2, "req-1", "")
		assert.ErrorIs(t, err, leave.ErrInvalidAmount)

		_, err = ledger.Adjust(ctx, tx, "emp-1", 0, "noop")
		assert.ErrorIs(t, err, leave.ErrInvalidAmount)

		_, err = ledger.Adjust(ctx, tx, "emp-1", 2, "")
		assert.ErrorIs(t, err, leave.ErrMissingField)
		return nil
	})
}

func TestLedger_UnknownEmployee(t *testing.T) {
	ledger, mem := newTestLedger(t, 10)
	ctx := context.Background()

	err := mem.WithTx(ctx, func(tx leave.Tx) error {
		_, err := ledger.Debit(ctx, tx, "ghost", 1, "req-1")
		return err
	})
	assert.ErrorIs(t, err, leave.ErrEmployeeNotFound)
}
