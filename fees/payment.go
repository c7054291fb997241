/*
payment.go - Payment pre-flight validation and the executor boundary

PURPOSE:
  Gates every payment before it reaches the transactional executor. The
  validator runs first so most failures never touch the database; the
  executor is an opaque all-or-nothing boundary that either persists the
  receipt with all its side effects or leaves no trace.

VALIDATION RESULT:
  Returns {Valid, Errors, Warnings}. Warnings - such as a component payment
  exceeding that component's outstanding amount - never block execution.

NO SAGA:
  The core performs no compensating writes when the executor fails. The
  executor's atomicity is the sole correctness guarantee on this path.
  There are also no retries: receipt numbers are unique among ACTIVE
  receipts, so a blind retry could collide with its own first attempt.

SEE ALSO:
  - executor.go: Reference executor implementation over TxStore
  - reconcile.go: The balance view the payment UI shows beforehand
*/
package fees

import (
	"context"
	"fmt"
	"strings"
)

// =============================================================================
// PAYMENT REQUEST
// =============================================================================

// ComponentPayment is one component's share of a payment.
type ComponentPayment struct {
	Component  ComponentCode
	YearNumber int
	Amount     Money
}

// PaymentRequest is a payment as submitted by the caller, before validation.
// PlanID names the catalog used to charge a bucket receiving its first
// payment; left empty, an uncharged bucket takes the payment as an advance.
type PaymentRequest struct {
	EnrollmentID      EnrollmentID
	PlanID            PlanID
	ReceiptNumber     string
	TotalAmount       Money
	ComponentPayments []ComponentPayment
	RebateAmount      Money
	RebateReason      string
	PaymentMode       string // "cash", "bank", "upi", ...
	Actor             string
}

// AllocatedTotal sums the per-component payments.
func (r PaymentRequest) AllocatedTotal() Money {
	sum := Zero()
	for _, cp := range r.ComponentPayments {
		sum = sum.Add(cp.Amount)
	}
	return sum
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ValidationResult is the outcome of payment pre-flight checks.
// Warnings accompany both valid and invalid results and never block.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Err converts an invalid result into a ValidationError for callers that
// want an error value instead of inspecting the result.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Message: strings.Join(r.Errors, "; ")}
}

// =============================================================================
// PAYMENT VALIDATOR
// =============================================================================

// PaymentValidator runs the pre-flight checks of the payment path.
type PaymentValidator struct {
	Store Store
}

// Validate checks a payment request. excludeReceiptID is non-empty when
// revalidating an in-place edit: the receipt being edited does not count as
// a duplicate of itself.
func (v PaymentValidator) Validate(ctx context.Context, req PaymentRequest, excludeReceiptID ReceiptID) (ValidationResult, error) {
	result := ValidationResult{Valid: true}

	if strings.TrimSpace(req.ReceiptNumber) == "" {
		result.fail("Receipt number is required")
	}
	if !req.TotalAmount.IsPositive() {
		result.fail("Payment amount must be greater than zero")
	}
	if req.RebateAmount.IsPositive() && strings.TrimSpace(req.RebateReason) == "" {
		result.fail("Rebate reason is required")
	}

	if strings.TrimSpace(req.ReceiptNumber) != "" {
		existing, err := v.Store.FindActiveReceiptByNumber(ctx, req.ReceiptNumber)
		if err != nil {
			return ValidationResult{}, err
		}
		if existing != nil && existing.ID != excludeReceiptID {
			result.fail("Receipt number %s is already in use", req.ReceiptNumber)
		}
	}

	allocated := req.AllocatedTotal()
	diff := allocated.Sub(req.TotalAmount).Abs()
	if diff.Value.GreaterThan(AllocationTolerance) {
		result.fail("Component payments (%s) do not add up to the total amount (%s)", allocated, req.TotalAmount)
	}

	// Overpayment is allowed (advance payments happen) but worth flagging.
	for _, cp := range req.ComponentPayments {
		bal, err := v.Store.ReadBalance(ctx, req.EnrollmentID, cp.Component, cp.YearNumber)
		if err != nil {
			return ValidationResult{}, err
		}
		if bal != nil && cp.Amount.GreaterThan(bal.Outstanding) {
			result.warn("%s payment %s exceeds outstanding %s", cp.Component, cp.Amount, bal.Outstanding)
		}
	}

	return result, nil
}

// =============================================================================
// PAYMENT EXECUTOR - Transactional boundary (contract)
// =============================================================================

// ExecutionResult reports what an executor call persisted.
type ExecutionResult struct {
	ReceiptID           ReceiptID
	ReceiptNumber       string
	AllocationsCreated  int
	LedgerEventsCreated int
	BalancesUpdated     int
}

// PaymentExecutor atomically persists a payment and its side effects:
// the receipt row, its allocations, the ledger events, and the balance
// updates. Each call either fully succeeds or leaves no partial effect.
//
// Update keeps the receipt's identity and number but re-states its
// allocations: prior allocations are netted out with compensating ledger
// events and the new ones applied, all in the same transaction. History is
// preserved - nothing is deleted.
//
// Cancel reverses every allocation, ledger event, and balance delta tied to
// the receipt and marks it CANCELLED.
type PaymentExecutor interface {
	Execute(ctx context.Context, req PaymentRequest) (*ExecutionResult, error)
	Update(ctx context.Context, receiptID ReceiptID, req PaymentRequest) (*ExecutionResult, error)
	Cancel(ctx context.Context, receiptID ReceiptID, reason, actor string) (*ExecutionResult, error)
}

// =============================================================================
// PAYMENT SERVICE - Validate, then hand off to the executor
// =============================================================================

// PaymentService wires the validator in front of the executor. It never
// compensates on executor failure and never retries.
type PaymentService struct {
	Validator PaymentValidator
	Executor  PaymentExecutor
}

// Submit validates and executes a new payment. The validation result is
// returned even on failure so the caller can surface warnings.
func (s PaymentService) Submit(ctx context.Context, req PaymentRequest) (*ExecutionResult, ValidationResult, error) {
	vr, err := s.Validator.Validate(ctx, req, "")
	if err != nil {
		return nil, ValidationResult{}, err
	}
	if !vr.Valid {
		return nil, vr, vr.Err()
	}
	res, err := s.Executor.Execute(ctx, req)
	if err != nil {
		return nil, vr, &ExecutionError{Op: "execute", Err: err}
	}
	return res, vr, nil
}

// Edit revalidates and atomically re-states an existing receipt.
func (s PaymentService) Edit(ctx context.Context, receiptID ReceiptID, req PaymentRequest) (*ExecutionResult, ValidationResult, error) {
	vr, err := s.Validator.Validate(ctx, req, receiptID)
	if err != nil {
		return nil, ValidationResult{}, err
	}
	if !vr.Valid {
		return nil, vr, vr.Err()
	}
	res, err := s.Executor.Update(ctx, receiptID, req)
	if err != nil {
		if IsNotFound(err) || IsConflict(err) {
			return nil, vr, err
		}
		return nil, vr, &ExecutionError{Op: "update", Err: err}
	}
	return res, vr, nil
}

// CancelReceipt reverses a receipt. Reason is required.
func (s PaymentService) CancelReceipt(ctx context.Context, receiptID ReceiptID, reason, actor string) (*ExecutionResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Message: "cancellation reason is required"}
	}
	res, err := s.Executor.Cancel(ctx, receiptID, reason, actor)
	if err != nil {
		if IsNotFound(err) || IsConflict(err) {
			return nil, err
		}
		return nil, &ExecutionError{Op: "cancel", Err: err}
	}
	return res, nil
}
