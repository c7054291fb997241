package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpine/fee-engine/fees"
	"github.com/alpine/fee-engine/fees/store"
)

func TestTxMemory_CommitPersistsWrites(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: A transaction upserts a balance and appends an event
	// THEN: Both writes are visible after commit

	mem := store.NewTxMemory()
	ctx := context.Background()

	err := mem.WithTx(ctx, func(s fees.Store) error {
		b := fees.Balance{
			EnrollmentID: "enr-1", Component: fees.ComponentTuition, YearNumber: 1,
			Charged: fees.NewMoney(1000),
		}
		b.Recompute()
		if err := s.UpsertBalance(ctx, b); err != nil {
			return err
		}
		return s.AppendLedgerEvent(ctx, fees.LedgerEvent{
			ID: "ev-1", EnrollmentID: "enr-1",
			Component: fees.ComponentTuition, YearNumber: 1,
			Type: fees.EventChargeCreated, Amount: fees.NewMoney(1000),
		})
	})
	require.NoError(t, err)

	bal, err := mem.ReadBalance(ctx, "enr-1", fees.ComponentTuition, 1)
	require.NoError(t, err)
	require.NotNil(t, bal)

	events, err := mem.ReadLedger(ctx, "enr-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestTxMemory_RollbackDiscardsWrites(t *testing.T) {
	// GIVEN: A transaction that writes a balance and an event, then fails
	// WHEN: WithTx returns the error
	// THEN: Neither write is visible

	mem := store.NewTxMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := mem.WithTx(ctx, func(s fees.Store) error {
		b := fees.Balance{EnrollmentID: "enr-1", Component: fees.ComponentTuition, YearNumber: 1}
		if err := s.UpsertBalance(ctx, b); err != nil {
			return err
		}
		if err := s.AppendLedgerEvent(ctx, fees.LedgerEvent{ID: "ev-1", EnrollmentID: "enr-1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	bal, err := mem.ReadBalance(ctx, "enr-1", fees.ComponentTuition, 1)
	require.NoError(t, err)
	assert.Nil(t, bal, "balance write rolled back")

	events, err := mem.ReadLedger(ctx, "enr-1")
	require.NoError(t, err)
	assert.Empty(t, events, "event write rolled back")
}

func TestTxMemory_ReadYourWrites(t *testing.T) {
	// GIVEN: A transaction that upserts a balance
	// WHEN: Reading the same bucket inside the transaction
	// THEN: The uncommitted write is visible

	mem := store.NewTxMemory()
	ctx := context.Background()

	err := mem.WithTx(ctx, func(s fees.Store) error {
		b := fees.Balance{
			EnrollmentID: "enr-1", Component: fees.ComponentTuition, YearNumber: 1,
			Charged: fees.NewMoney(500),
		}
		if err := s.UpsertBalance(ctx, b); err != nil {
			return err
		}
		got, err := s.ReadBalance(ctx, "enr-1", fees.ComponentTuition, 1)
		if err != nil {
			return err
		}
		require.NotNil(t, got)
		assert.True(t, got.Charged.Equal(fees.NewMoney(500)))
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_FindActiveReceiptByNumber(t *testing.T) {
	// GIVEN: One ACTIVE and one CANCELLED receipt sharing a number, on
	//        different enrollments
	// WHEN: Looking the number up
	// THEN: Only the ACTIVE receipt is returned, regardless of enrollment;
	//       after cancelling it, nothing is

	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.InsertReceipt(ctx, fees.Receipt{
		ID: "r-old", EnrollmentID: "enr-1", ReceiptNumber: "R-1",
		Status: fees.ReceiptCancelled,
	}))
	require.NoError(t, mem.InsertReceipt(ctx, fees.Receipt{
		ID: "r-new", EnrollmentID: "enr-2", ReceiptNumber: "R-1",
		Status: fees.ReceiptActive,
	}))

	found, err := mem.FindActiveReceiptByNumber(ctx, "R-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, fees.ReceiptID("r-new"), found.ID)

	found.Status = fees.ReceiptCancelled
	require.NoError(t, mem.UpdateReceipt(ctx, *found))

	found, err = mem.FindActiveReceiptByNumber(ctx, "R-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMemory_SavePlanItemUpsertsByBucket(t *testing.T) {
	// GIVEN: A seeded catalog row
	// WHEN: Saving a new amount for the same (plan, component, year)
	// THEN: The row is replaced, not duplicated

	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.SavePlanItem(ctx, fees.PlanItem{
		ID: "pi-1", PlanID: "plan-1", Component: fees.ComponentTuition,
		YearNumber: 1, Amount: fees.NewMoney(100000),
	}))
	require.NoError(t, mem.SavePlanItem(ctx, fees.PlanItem{
		ID: "pi-1", PlanID: "plan-1", Component: fees.ComponentTuition,
		YearNumber: 1, Amount: fees.NewMoney(95000),
	}))

	items, err := mem.ReadPlanItems(ctx, "plan-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Amount.Equal(fees.NewMoney(95000)))
}

func TestMemory_ResetKeepsCatalog(t *testing.T) {
	// GIVEN: A catalog row plus transactional data
	// WHEN: Resetting
	// THEN: Balances, events, and receipts are gone; the catalog survives

	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.SavePlanItem(ctx, fees.PlanItem{
		ID: "pi-1", PlanID: "plan-1", Component: fees.ComponentTuition,
		YearNumber: 1, Amount: fees.NewMoney(100000),
	}))
	b := fees.Balance{EnrollmentID: "enr-1", Component: fees.ComponentTuition, YearNumber: 1, Charged: fees.NewMoney(100000)}
	b.Recompute()
	require.NoError(t, mem.UpsertBalance(ctx, b))
	require.NoError(t, mem.AppendLedgerEvent(ctx, fees.LedgerEvent{ID: "ev-1", EnrollmentID: "enr-1"}))
	require.NoError(t, mem.InsertReceipt(ctx, fees.Receipt{ID: "r-1", EnrollmentID: "enr-1", ReceiptNumber: "R-1", Status: fees.ReceiptActive}))

	require.NoError(t, mem.Reset(ctx))

	bal, _ := mem.ReadBalance(ctx, "enr-1", fees.ComponentTuition, 1)
	assert.Nil(t, bal)
	events, _ := mem.ReadLedger(ctx, "enr-1")
	assert.Empty(t, events)
	receipt, _ := mem.GetReceipt(ctx, "r-1")
	assert.Nil(t, receipt)

	items, err := mem.ReadPlanItems(ctx, "plan-1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestMemory_CancelAllocationsSoftMarks(t *testing.T) {
	// GIVEN: Two allocations on a receipt
	// WHEN: Cancelling the receipt's allocations
	// THEN: Both rows remain, flagged cancelled

	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.InsertAllocation(ctx, fees.Allocation{
		ReceiptID: "r-1", Component: fees.ComponentTuition, YearNumber: 1, Amount: fees.NewMoney(100),
	}))
	require.NoError(t, mem.InsertAllocation(ctx, fees.Allocation{
		ReceiptID: "r-1", Component: fees.ComponentAdmission, YearNumber: 1, Amount: fees.NewMoney(50),
	}))

	require.NoError(t, mem.CancelAllocations(ctx, "r-1"))

	allocations, err := mem.ReadAllocations(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	for _, a := range allocations {
		assert.True(t, a.Cancelled)
	}
}
