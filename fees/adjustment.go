/*
adjustment.go - Discretionary, reversible balance changes

PURPOSE:
  Adjustments are staff-initiated balance changes outside the payment flow:
  scholarships, discounts, fee waivers, and late penalties. Unlike ledger
  events they carry their own lifecycle - an adjustment can be cancelled,
  which restores the prior balance EXACTLY and appends an offsetting event.

BALANCE EFFECT:
  DISCOUNT / SCHOLARSHIP / WAIVER:
    discount_amount += amount; outstanding = max(0, outstanding - amount)
  PENALTY:
    outstanding += amount (charged grows; discount untouched)

CANCELLATION:
  Applies the exact symmetric inverse of the original delta. Cancelling an
  already-cancelled adjustment fails with ConflictError - repetition is an
  error, not a no-op, because the caller's view of the balance is stale.

TRANSACTIONS:
  Both create and cancel run their read-modify-write inside WithTx on the
  target balance row.

SEE ALSO:
  - ledger.go: Event appending and the outstanding invariant
  - errors.go: ConflictError
*/
package fees

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ADJUSTMENT MANAGER
// =============================================================================

// AdjustmentManager creates and cancels discretionary adjustments.
type AdjustmentManager struct {
	Store  TxStore
	Ledger BalanceLedger
}

// AdjustmentInput is a request to create one adjustment.
type AdjustmentInput struct {
	EnrollmentID  EnrollmentID
	Component     ComponentCode
	YearNumber    int
	Type          AdjustmentType
	Amount        Money
	Title         string
	Reason        string
	EffectiveDate time.Time // zero value = now
	Actor         string
}

// Create validates and applies one adjustment, returning the stored record.
func (m AdjustmentManager) Create(ctx context.Context, in AdjustmentInput) (*Adjustment, error) {
	if !in.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "adjustment amount must be greater than zero"}
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, &ValidationError{Field: "reason", Message: "adjustment reason is required"}
	}
	switch in.Type {
	case AdjustmentDiscount, AdjustmentScholarship, AdjustmentWaiver, AdjustmentPenalty:
	default:
		return nil, &ValidationError{Field: "type", Message: "unknown adjustment type"}
	}
	if in.EffectiveDate.IsZero() {
		in.EffectiveDate = now()
	}

	adj := Adjustment{
		ID:            AdjustmentID(uuid.NewString()),
		EnrollmentID:  in.EnrollmentID,
		Component:     in.Component,
		YearNumber:    in.YearNumber,
		Type:          in.Type,
		Amount:        in.Amount,
		Title:         in.Title,
		Reason:        in.Reason,
		Status:        AdjustmentActive,
		EffectiveDate: in.EffectiveDate,
		CreatedBy:     in.Actor,
		CreatedAt:     now(),
	}

	err := m.Store.WithTx(ctx, func(s Store) error {
		bal, err := m.Ledger.LoadOrCreate(ctx, s, in.EnrollmentID, in.Component, in.YearNumber)
		if err != nil {
			return err
		}

		m.applyDelta(&bal, in.Type, in.Amount)
		if err := m.Ledger.Persist(ctx, s, &bal, in.Actor); err != nil {
			return err
		}
		if err := s.InsertAdjustment(ctx, adj); err != nil {
			return err
		}

		amount := in.Amount
		if in.Type.Reduces() {
			amount = amount.Neg()
		}
		return m.Ledger.Append(ctx, s, bal, EventInput{
			Type:         EventAdjustmentApplied,
			Amount:       amount,
			AdjustmentID: adj.ID,
			Reason:       in.Reason,
			Actor:        in.Actor,
		})
	})
	if err != nil {
		return nil, err
	}
	return &adj, nil
}

// Cancel reverses an adjustment. Fails with ConflictError if the adjustment
// is already cancelled; repeated cancellation is never silently absorbed.
func (m AdjustmentManager) Cancel(ctx context.Context, id AdjustmentID, reason, actor string) (*Adjustment, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Message: "cancellation reason is required"}
	}

	var cancelled Adjustment
	err := m.Store.WithTx(ctx, func(s Store) error {
		adj, err := s.GetAdjustment(ctx, id)
		if err != nil {
			return err
		}
		if adj == nil {
			return &NotFoundError{Kind: "adjustment", ID: string(id)}
		}
		if adj.Status == AdjustmentStatusCancelled {
			return &ConflictError{Reason: "adjustment is already cancelled"}
		}

		bal, err := m.Ledger.LoadOrCreate(ctx, s, adj.EnrollmentID, adj.Component, adj.YearNumber)
		if err != nil {
			return err
		}

		m.revertDelta(&bal, adj.Type, adj.Amount)
		if err := m.Ledger.Persist(ctx, s, &bal, actor); err != nil {
			return err
		}

		adj.Status = AdjustmentStatusCancelled
		adj.CancelledBy = actor
		adj.CancelReason = reason
		if err := s.UpdateAdjustment(ctx, *adj); err != nil {
			return err
		}

		amount := adj.Amount
		if !adj.Type.Reduces() {
			amount = amount.Neg()
		}
		if err := m.Ledger.Append(ctx, s, bal, EventInput{
			Type:         EventAdjustmentCancelled,
			Amount:       amount,
			AdjustmentID: adj.ID,
			Reason:       reason,
			Actor:        actor,
		}); err != nil {
			return err
		}

		cancelled = *adj
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cancelled, nil
}

// applyDelta mutates the balance for a freshly created adjustment.
// Charged is deliberately NOT floored here: only the derived outstanding
// amount floors at zero (in Recompute). Flooring charged would make
// cancellation inexact.
func (AdjustmentManager) applyDelta(b *Balance, t AdjustmentType, amount Money) {
	if t.Reduces() {
		b.DiscountAmount = b.DiscountAmount.Add(amount)
		b.Charged = b.Charged.Sub(amount)
	} else {
		b.Charged = b.Charged.Add(amount)
	}
}

// revertDelta applies the exact symmetric inverse of applyDelta.
func (AdjustmentManager) revertDelta(b *Balance, t AdjustmentType, amount Money) {
	if t.Reduces() {
		b.DiscountAmount = b.DiscountAmount.Sub(amount)
		b.Charged = b.Charged.Add(amount)
	} else {
		b.Charged = b.Charged.Sub(amount)
	}
}
