/*
ledger.go - Balance bookkeeping shared by every mutation path

PURPOSE:
  Small helpers that keep the FeeCurrentBalance invariant and the append-only
  event log consistent. Override upserts, payments, and adjustments all funnel
  their balance writes through here so the invariant

      outstanding == max(0, charged - paid)

  is re-asserted in exactly one place.

LAZY CREATION:
  Balance rows are created on first charge, never ahead of time. LoadOrCreate
  returns a zeroed row for a bucket that has no row yet; the caller decides
  whether the mutation warrants persisting it.

RUNNING BALANCE:
  Every ledger event records the bucket's outstanding amount after the event.
  Replaying an enrollment's events therefore reproduces the balance history
  without consulting the balance table.

SEE ALSO:
  - store.go: BalanceStore and LedgerStore interfaces
  - adjustment.go, override.go: Callers
*/
package fees

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// now is swapped in tests to pin event timestamps.
var now = time.Now

// NewEventID mints a unique ledger event id.
func NewEventID() EventID { return EventID(uuid.NewString()) }

// =============================================================================
// BALANCE LEDGER
// =============================================================================

// BalanceLedger couples balance-row updates with event appending. It holds no
// state of its own; all persistence goes through the Store it is given, which
// lets callers pass a transactional view inside WithTx.
type BalanceLedger struct{}

// LoadOrCreate returns the bucket's balance row, or a zeroed row if the
// bucket has never been charged. The returned row is not persisted.
func (BalanceLedger) LoadOrCreate(ctx context.Context, store BalanceStore, enrollmentID EnrollmentID, component ComponentCode, year int) (Balance, error) {
	b, err := store.ReadBalance(ctx, enrollmentID, component, year)
	if err != nil {
		return Balance{}, err
	}
	if b != nil {
		return *b, nil
	}
	return Balance{
		EnrollmentID:   enrollmentID,
		Component:      component,
		YearNumber:     year,
		OriginalAmount: Zero(),
		OverrideAmount: Zero(),
		DiscountAmount: Zero(),
		Charged:        Zero(),
		Paid:           Zero(),
		Outstanding:    Zero(),
	}, nil
}

// Persist recomputes the outstanding invariant, stamps the actor, and
// upserts the row.
func (BalanceLedger) Persist(ctx context.Context, store BalanceStore, b *Balance, actor string) error {
	b.Recompute()
	b.UpdatedBy = actor
	b.UpdatedAt = now()
	return store.UpsertBalance(ctx, *b)
}

// EventInput carries the caller-specific parts of a ledger event.
type EventInput struct {
	Type         EventType
	Amount       Money // signed: charges/penalties positive, payments/discounts negative
	ReceiptID    ReceiptID
	AdjustmentID AdjustmentID
	Reason       string
	Actor        string
}

// Append writes one event for the bucket, recording the bucket's current
// outstanding amount as the running balance. Call after Persist so the
// running balance reflects the mutation.
func (BalanceLedger) Append(ctx context.Context, store LedgerStore, b Balance, in EventInput) error {
	return store.AppendLedgerEvent(ctx, LedgerEvent{
		ID:             NewEventID(),
		EnrollmentID:   b.EnrollmentID,
		Component:      b.Component,
		YearNumber:     b.YearNumber,
		Type:           in.Type,
		Amount:         in.Amount,
		RunningBalance: b.Outstanding,
		ReceiptID:      in.ReceiptID,
		AdjustmentID:   in.AdjustmentID,
		Reason:         in.Reason,
		CreatedBy:      in.Actor,
		EventDate:      now(),
	})
}
