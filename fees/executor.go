/*
executor.go - Reference PaymentExecutor built on TxStore

PURPOSE:
  The executor is the all-or-nothing boundary of the payment path: one call
  persists the receipt, its allocations, the ledger events, and the balance
  updates, or none of them. This implementation derives its atomicity from
  TxStore.WithTx, so it works unchanged over the in-memory store and the
  SQLite store.

EDIT MODEL:
  Update keeps the receipt's identity and number. The prior allocations are
  netted out with compensating PAYMENT_CANCELLED events, soft-cancelled, and
  the new allocations applied - all inside the same transaction. No
  allocation or ledger row is ever deleted, so the correction history stays
  replayable.

CHARGE SEEDING:
  Balance rows are created lazily, and the first money movement against a
  bucket must establish what the bucket owes. When a payment lands on a
  bucket with no balance row, the executor seeds charged from the student's
  override (if any) or the plan base named by the request, and records a
  CHARGE_CREATED event before the payment event. Without a resolvable
  charge the payment is taken as an advance against a zero charge.

REBATE:
  A rebate granted at payment time is a discount on the tuition bucket of
  the earliest year being paid (falling back to the first component listed).
  It is recorded on the receipt and reversed with the receipt.

SEE ALSO:
  - payment.go: PaymentExecutor contract and the validator that runs first
  - store/sqlite: Production TxStore implementation
*/
package fees

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// LedgerExecutor is the reference PaymentExecutor. All writes of one call
// share a single store transaction.
type LedgerExecutor struct {
	Store  TxStore
	Ledger BalanceLedger
}

var _ PaymentExecutor = LedgerExecutor{}

// Execute persists a new payment.
func (e LedgerExecutor) Execute(ctx context.Context, req PaymentRequest) (*ExecutionResult, error) {
	receipt := Receipt{
		ID:            ReceiptID(uuid.NewString()),
		EnrollmentID:  req.EnrollmentID,
		ReceiptNumber: req.ReceiptNumber,
		TotalAmount:   req.TotalAmount,
		PaidAmount:    req.AllocatedTotal(),
		RebateAmount:  req.RebateAmount,
		RebateReason:  req.RebateReason,
		Status:        ReceiptActive,
		PaymentDate:   now(),
		CreatedBy:     req.Actor,
		CreatedAt:     now(),
	}

	var result *ExecutionResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		if err := s.InsertReceipt(ctx, receipt); err != nil {
			return err
		}
		res, err := e.applyPayment(ctx, s, receipt, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update atomically re-states an existing receipt.
func (e LedgerExecutor) Update(ctx context.Context, receiptID ReceiptID, req PaymentRequest) (*ExecutionResult, error) {
	var result *ExecutionResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		receipt, err := s.GetReceipt(ctx, receiptID)
		if err != nil {
			return err
		}
		if receipt == nil {
			return &NotFoundError{Kind: "receipt", ID: string(receiptID)}
		}
		if receipt.Status == ReceiptCancelled {
			return &ConflictError{Reason: "receipt is cancelled; submit a new payment instead"}
		}

		reversed, err := e.reverseReceipt(ctx, s, *receipt, "payment correction", req.Actor)
		if err != nil {
			return err
		}

		receipt.ReceiptNumber = req.ReceiptNumber
		receipt.TotalAmount = req.TotalAmount
		receipt.PaidAmount = req.AllocatedTotal()
		receipt.RebateAmount = req.RebateAmount
		receipt.RebateReason = req.RebateReason
		if err := s.UpdateReceipt(ctx, *receipt); err != nil {
			return err
		}

		res, err := e.applyPayment(ctx, s, *receipt, req)
		if err != nil {
			return err
		}
		res.LedgerEventsCreated += reversed
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel reverses every balance delta tied to the receipt and marks it
// CANCELLED. Cancelling twice is a conflict.
func (e LedgerExecutor) Cancel(ctx context.Context, receiptID ReceiptID, reason, actor string) (*ExecutionResult, error) {
	var result *ExecutionResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		receipt, err := s.GetReceipt(ctx, receiptID)
		if err != nil {
			return err
		}
		if receipt == nil {
			return &NotFoundError{Kind: "receipt", ID: string(receiptID)}
		}
		if receipt.Status == ReceiptCancelled {
			return &ConflictError{Reason: "receipt is already cancelled"}
		}

		reversed, err := e.reverseReceipt(ctx, s, *receipt, reason, actor)
		if err != nil {
			return err
		}

		receipt.Status = ReceiptCancelled
		if err := s.UpdateReceipt(ctx, *receipt); err != nil {
			return err
		}

		result = &ExecutionResult{
			ReceiptID:           receipt.ID,
			ReceiptNumber:       receipt.ReceiptNumber,
			LedgerEventsCreated: reversed,
			BalancesUpdated:     reversed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyPayment records allocations, balance updates, ledger events, and the
// rebate for an already-persisted receipt header.
func (e LedgerExecutor) applyPayment(ctx context.Context, s Store, receipt Receipt, req PaymentRequest) (*ExecutionResult, error) {
	res := &ExecutionResult{ReceiptID: receipt.ID, ReceiptNumber: receipt.ReceiptNumber}

	for _, cp := range req.ComponentPayments {
		if err := s.InsertAllocation(ctx, Allocation{
			ReceiptID:  receipt.ID,
			Component:  cp.Component,
			YearNumber: cp.YearNumber,
			Amount:     cp.Amount,
		}); err != nil {
			return nil, err
		}
		res.AllocationsCreated++

		bal, seeded, err := e.loadBucket(ctx, s, req, cp.Component, cp.YearNumber)
		if err != nil {
			return nil, err
		}
		res.LedgerEventsCreated += seeded
		bal.Paid = bal.Paid.Add(cp.Amount)
		if err := e.Ledger.Persist(ctx, s, &bal, req.Actor); err != nil {
			return nil, err
		}
		res.BalancesUpdated++

		if err := e.Ledger.Append(ctx, s, bal, EventInput{
			Type:      EventPaymentReceived,
			Amount:    cp.Amount.Neg(),
			ReceiptID: receipt.ID,
			Reason:    fmt.Sprintf("receipt %s", receipt.ReceiptNumber),
			Actor:     req.Actor,
		}); err != nil {
			return nil, err
		}
		res.LedgerEventsCreated++
	}

	if req.RebateAmount.IsPositive() {
		comp, year := rebateBucket(req)
		bal, seeded, err := e.loadBucket(ctx, s, req, comp, year)
		if err != nil {
			return nil, err
		}
		res.LedgerEventsCreated += seeded
		bal.DiscountAmount = bal.DiscountAmount.Add(req.RebateAmount)
		bal.Charged = bal.Charged.Sub(req.RebateAmount)
		if err := e.Ledger.Persist(ctx, s, &bal, req.Actor); err != nil {
			return nil, err
		}
		res.BalancesUpdated++

		if err := e.Ledger.Append(ctx, s, bal, EventInput{
			Type:      EventAdjustmentApplied,
			Amount:    req.RebateAmount.Neg(),
			ReceiptID: receipt.ID,
			Reason:    "payment rebate: " + req.RebateReason,
			Actor:     req.Actor,
		}); err != nil {
			return nil, err
		}
		res.LedgerEventsCreated++
	}

	return res, nil
}

// loadBucket returns the bucket's balance row, establishing the charge for a
// bucket that has never been charged. Returns the number of ledger events
// appended while seeding.
func (e LedgerExecutor) loadBucket(ctx context.Context, s Store, req PaymentRequest, component ComponentCode, year int) (Balance, int, error) {
	existing, err := s.ReadBalance(ctx, req.EnrollmentID, component, year)
	if err != nil {
		return Balance{}, 0, err
	}
	if existing != nil {
		return *existing, 0, nil
	}

	bal := Balance{
		EnrollmentID:   req.EnrollmentID,
		Component:      component,
		YearNumber:     year,
		OriginalAmount: Zero(),
		OverrideAmount: Zero(),
		DiscountAmount: Zero(),
		Charged:        Zero(),
		Paid:           Zero(),
		Outstanding:    Zero(),
	}

	ov, base, haveBase, err := e.chargeSources(ctx, s, req, component, year)
	if err != nil {
		return Balance{}, 0, err
	}
	if ov == nil && !haveBase {
		// Nothing charges this bucket; the payment lands as an advance.
		return bal, 0, nil
	}

	if haveBase {
		bal.OriginalAmount = base
		bal.Charged = base
	}
	if ov != nil {
		bal.OverrideAmount = ov.OverrideAmount
		bal.DiscountAmount = ov.DiscountAmount
		bal.Charged = ov.Effective()
	}
	if err := e.Ledger.Persist(ctx, s, &bal, req.Actor); err != nil {
		return Balance{}, 0, err
	}
	if err := e.Ledger.Append(ctx, s, bal, EventInput{
		Type:   EventChargeCreated,
		Amount: bal.Charged,
		Reason: "initial charge",
		Actor:  req.Actor,
	}); err != nil {
		return Balance{}, 0, err
	}
	return bal, 1, nil
}

// chargeSources resolves what a never-charged bucket owes: the student's
// override for the bucket, and the catalog base when the request names a
// plan.
func (e LedgerExecutor) chargeSources(ctx context.Context, s Store, req PaymentRequest, component ComponentCode, year int) (*Override, Money, bool, error) {
	overrides, err := s.ReadOverrides(ctx, req.EnrollmentID)
	if err != nil {
		return nil, Zero(), false, err
	}
	var ov *Override
	for i := range overrides {
		if overrides[i].Component == component && overrides[i].YearNumber == year {
			ov = &overrides[i]
			break
		}
	}

	if req.PlanID == "" {
		return ov, Zero(), false, nil
	}
	items, err := s.ReadPlanItems(ctx, req.PlanID)
	if err != nil {
		return nil, Zero(), false, err
	}
	for _, it := range items {
		if it.Component != component {
			continue
		}
		itemYear := it.YearNumber
		if component.OneTime() {
			if itemYear > 1 {
				continue
			}
			itemYear = 1
		}
		if itemYear == year {
			return ov, it.Amount, true, nil
		}
	}
	return ov, Zero(), false, nil
}

// reverseReceipt nets out a receipt's active allocations and rebate with
// compensating events. Returns the number of events appended.
func (e LedgerExecutor) reverseReceipt(ctx context.Context, s Store, receipt Receipt, reason, actor string) (int, error) {
	allocations, err := s.ReadAllocations(ctx, receipt.ID)
	if err != nil {
		return 0, err
	}

	events := 0
	for _, a := range allocations {
		if a.Cancelled {
			continue
		}
		bal, err := e.Ledger.LoadOrCreate(ctx, s, receipt.EnrollmentID, a.Component, a.YearNumber)
		if err != nil {
			return events, err
		}
		bal.Paid = bal.Paid.Sub(a.Amount)
		if err := e.Ledger.Persist(ctx, s, &bal, actor); err != nil {
			return events, err
		}
		if err := e.Ledger.Append(ctx, s, bal, EventInput{
			Type:      EventPaymentCancelled,
			Amount:    a.Amount,
			ReceiptID: receipt.ID,
			Reason:    reason,
			Actor:     actor,
		}); err != nil {
			return events, err
		}
		events++
	}

	if receipt.RebateAmount.IsPositive() {
		comp, year := rebateBucketFromAllocations(allocations)
		bal, err := e.Ledger.LoadOrCreate(ctx, s, receipt.EnrollmentID, comp, year)
		if err != nil {
			return events, err
		}
		bal.DiscountAmount = bal.DiscountAmount.Sub(receipt.RebateAmount)
		bal.Charged = bal.Charged.Add(receipt.RebateAmount)
		if err := e.Ledger.Persist(ctx, s, &bal, actor); err != nil {
			return events, err
		}
		if err := e.Ledger.Append(ctx, s, bal, EventInput{
			Type:      EventAdjustmentCancelled,
			Amount:    receipt.RebateAmount,
			ReceiptID: receipt.ID,
			Reason:    reason,
			Actor:     actor,
		}); err != nil {
			return events, err
		}
		events++
	}

	if err := s.CancelAllocations(ctx, receipt.ID); err != nil {
		return events, err
	}
	return events, nil
}

// rebateBucket picks where a payment-time rebate lands: the tuition bucket
// of the earliest year being paid, else the first component listed.
func rebateBucket(req PaymentRequest) (ComponentCode, int) {
	bestYear := 0
	for _, cp := range req.ComponentPayments {
		if cp.Component == ComponentTuition && (bestYear == 0 || cp.YearNumber < bestYear) {
			bestYear = cp.YearNumber
		}
	}
	if bestYear > 0 {
		return ComponentTuition, bestYear
	}
	if len(req.ComponentPayments) > 0 {
		return req.ComponentPayments[0].Component, req.ComponentPayments[0].YearNumber
	}
	return ComponentTuition, 1
}

func rebateBucketFromAllocations(allocations []Allocation) (ComponentCode, int) {
	bestYear := 0
	for _, a := range allocations {
		if a.Cancelled {
			continue
		}
		if a.Component == ComponentTuition && (bestYear == 0 || a.YearNumber < bestYear) {
			bestYear = a.YearNumber
		}
	}
	if bestYear > 0 {
		return ComponentTuition, bestYear
	}
	for _, a := range allocations {
		if !a.Cancelled {
			return a.Component, a.YearNumber
		}
	}
	return ComponentTuition, 1
}
