/*
override.go - Business-rule gate on override creation and edit

PURPOSE:
  Every create/update of a student fee override passes through here. The
  validator protects two things: the catalog ceiling (you cannot silently
  charge more than the plan says) and money already collected (you cannot
  shrink a charge below what the student has paid).

RULES (non-exempt components):
  1. Amount must not be negative.
  2. Amount must not exceed the plan's base amount.
  3. Amount must not drop below what is already paid.
  4. Once a bucket is fully paid, the charge cannot be reduced further.
  5. After any payment, increases are capped at 1.5x the current charge.

EXEMPT COMPONENTS:
  SECURITY and OTHER are exempt from the ceiling and the paid floor - a
  security deposit is routinely zeroed out on refund even when paid. Going
  below the paid amount emits a WARNING instead of failing.

WRITE PATH:
  Validation and the subsequent override-upsert + balance-recompute execute
  inside one store transaction. A concurrent payment on the same bucket must
  not interleave, or charged/outstanding would be computed from stale values.

SEE ALSO:
  - reconcile.go: How the override feeds the student's fee view
  - store.go: TxStore.WithTx contract
*/
package fees

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// increaseCapFactor caps post-payment increases at 1.5x the current charge.
var increaseCapFactor = decimal.NewFromFloat(1.5)

// =============================================================================
// INPUT / RESULT
// =============================================================================

// OverrideInput is a request to create or update one override.
type OverrideInput struct {
	EnrollmentID EnrollmentID
	PlanID       PlanID
	PlanItemID   PlanItemID
	Component    ComponentCode
	YearNumber   int
	NewAmount    Money
	Reason       string
	Source       OverrideSource
	Actor        string
}

// OverrideResult reports the persisted outcome plus any warnings.
// Warnings never block the operation.
type OverrideResult struct {
	Override Override
	Balance  Balance
	Warnings []string
}

// =============================================================================
// OVERRIDE VALIDATOR
// =============================================================================

// OverrideValidator gates and applies override mutations.
type OverrideValidator struct {
	Store  TxStore
	Ledger BalanceLedger
}

// Validate checks the business rules against the given plan base and current
// balance. Pure: no storage access. Returns warnings alongside nil error on
// the exempt-below-paid path.
func (OverrideValidator) Validate(in OverrideInput, planBase Money, bal Balance) ([]string, error) {
	if in.NewAmount.IsNegative() {
		return nil, &ValidationError{Field: "amount", Message: "override amount cannot be negative"}
	}

	exempt := in.Component.OverrideExempt()

	if !exempt && in.NewAmount.GreaterThan(planBase) {
		return nil, &ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("override %s exceeds plan amount %s", in.NewAmount, planBase),
		}
	}

	var warnings []string
	if in.NewAmount.LessThan(bal.Paid) {
		if exempt {
			warnings = append(warnings, fmt.Sprintf(
				"%s override %s is below the paid amount %s", in.Component, in.NewAmount, bal.Paid))
		} else {
			return nil, &ValidationError{
				Field:   "amount",
				Message: fmt.Sprintf("cannot reduce below paid amount %s", bal.Paid),
			}
		}
	}

	if !exempt && bal.FullyPaid() && in.NewAmount.LessThan(bal.Charged) {
		return nil, &ValidationError{
			Field:   "amount",
			Message: "balance is fully paid; charge cannot be reduced",
		}
	}

	if bal.Paid.IsPositive() {
		cap := bal.Charged.Mul(increaseCapFactor)
		if in.NewAmount.GreaterThan(cap) {
			return nil, &ValidationError{
				Field:   "amount",
				Message: fmt.Sprintf("override %s exceeds 1.5x the current charge %s", in.NewAmount, bal.Charged),
			}
		}
	}

	return warnings, nil
}

// Apply validates the input and, on success, upserts the override and
// recomputes the bucket's balance in one transaction.
//
// The recompute keeps the bucket's existing discount: the new charge is
// NewAmount minus the discount already on the row. Discounts are managed by
// adjustments, not by this path.
func (v OverrideValidator) Apply(ctx context.Context, in OverrideInput) (*OverrideResult, error) {
	if in.Reason == "" {
		in.Reason = "fee override"
	}

	var result *OverrideResult
	err := v.Store.WithTx(ctx, func(s Store) error {
		items, err := s.ReadPlanItems(ctx, in.PlanID)
		if err != nil {
			return err
		}
		planBase, found := Zero(), false
		for _, item := range items {
			if item.ID == in.PlanItemID {
				planBase, found = item.Amount, true
				break
			}
		}
		if !found && !in.Component.OverrideExempt() {
			return &NotFoundError{Kind: "plan_item", ID: string(in.PlanItemID)}
		}

		bal, err := v.Ledger.LoadOrCreate(ctx, s, in.EnrollmentID, in.Component, in.YearNumber)
		if err != nil {
			return err
		}

		warnings, err := v.Validate(in, planBase, bal)
		if err != nil {
			return err
		}

		o := Override{
			EnrollmentID:   in.EnrollmentID,
			PlanItemID:     in.PlanItemID,
			Component:      in.Component,
			YearNumber:     in.YearNumber,
			OverrideAmount: in.NewAmount,
			DiscountAmount: bal.DiscountAmount,
			Reason:         in.Reason,
			Source:         in.Source,
			UpdatedBy:      in.Actor,
			UpdatedAt:      now(),
		}
		if err := s.UpsertOverride(ctx, o); err != nil {
			return err
		}

		oldCharged := bal.Charged
		if found {
			bal.OriginalAmount = planBase
		}
		bal.OverrideAmount = in.NewAmount
		bal.Charged = in.NewAmount.Sub(bal.DiscountAmount).FloorZero()
		if err := v.Ledger.Persist(ctx, s, &bal, in.Actor); err != nil {
			return err
		}

		if err := v.Ledger.Append(ctx, s, bal, EventInput{
			Type:   EventOverrideApplied,
			Amount: bal.Charged.Sub(oldCharged),
			Reason: in.Reason,
			Actor:  in.Actor,
		}); err != nil {
			return err
		}

		result = &OverrideResult{Override: o, Balance: bal, Warnings: warnings}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
