package fees_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpine/fee-engine/fees"
	feestore "github.com/alpine/fee-engine/fees/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newPaymentFixture(t *testing.T) (*feestore.TxMemory, fees.PaymentService) {
	t.Helper()
	mem := feestore.NewTxMemory()
	svc := fees.PaymentService{
		Validator: fees.PaymentValidator{Store: mem},
		Executor:  fees.LedgerExecutor{Store: mem, Ledger: fees.BalanceLedger{}},
	}
	return mem, svc
}

func tuitionPayment(receiptNumber string, amount float64) fees.PaymentRequest {
	return fees.PaymentRequest{
		EnrollmentID:  "enr-1",
		ReceiptNumber: receiptNumber,
		TotalAmount:   money(amount),
		ComponentPayments: []fees.ComponentPayment{
			{Component: fees.ComponentTuition, YearNumber: 1, Amount: money(amount)},
		},
		PaymentMode: "cash",
		Actor:       "cashier-1",
	}
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestPayment_BlankReceiptNumber_Rejected(t *testing.T) {
	// GIVEN: A payment with no receipt number
	// WHEN: Submitting
	// THEN: Rejected before anything is persisted

	mem, svc := newPaymentFixture(t)

	req := tuitionPayment("  ", 1000)
	_, vr, err := svc.Submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, fees.IsValidation(err))
	assert.Contains(t, vr.Errors, "Receipt number is required")

	events, _ := mem.ReadLedger(context.Background(), "enr-1")
	assert.Empty(t, events, "nothing reaches storage on validation failure")
}

func TestPayment_NonPositiveTotal_Rejected(t *testing.T) {
	// GIVEN: A payment of zero
	// WHEN: Submitting
	// THEN: Rejected

	_, svc := newPaymentFixture(t)

	_, vr, err := svc.Submit(context.Background(), tuitionPayment("R-1", 0))
	require.Error(t, err)
	assert.Contains(t, vr.Errors, "Payment amount must be greater than zero")
}

func TestPayment_RebateWithoutReason_Rejected(t *testing.T) {
	// GIVEN: A payment granting a 10000 rebate with a blank reason
	// WHEN: Submitting
	// THEN: Rejected with "Rebate reason is required"

	_, svc := newPaymentFixture(t)

	req := tuitionPayment("R-1", 40000)
	req.RebateAmount = money(10000)
	req.RebateReason = "   "

	_, vr, err := svc.Submit(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, vr.Errors, "Rebate reason is required")
}

func TestPayment_AllocationMismatch_Rejected(t *testing.T) {
	// GIVEN: Total 100000 but allocations summing to 99000
	// WHEN: Submitting
	// THEN: Rejected - the mismatch exceeds the 0.01 tolerance

	_, svc := newPaymentFixture(t)

	req := tuitionPayment("R-1", 100000)
	req.ComponentPayments[0].Amount = money(99000)

	_, _, err := svc.Submit(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do not add up")
}

func TestPayment_AllocationWithinTolerance_Accepted(t *testing.T) {
	// GIVEN: Total 100 with allocations summing to 99.995
	// WHEN: Submitting
	// THEN: Accepted - rounding differences up to 0.01 pass

	_, svc := newPaymentFixture(t)

	req := tuitionPayment("R-1", 100)
	req.ComponentPayments[0].Amount = fees.MustParseMoney("99.995")

	_, _, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
}

func TestPayment_DuplicateActiveReceiptNumber_Rejected(t *testing.T) {
	// GIVEN: An ACTIVE receipt numbered R-42
	// WHEN: Submitting another payment numbered R-42
	// THEN: Rejected; after cancelling the first, the number is reusable

	_, svc := newPaymentFixture(t)
	ctx := context.Background()

	first, _, err := svc.Submit(ctx, tuitionPayment("R-42", 1000))
	require.NoError(t, err)

	_, vr, err := svc.Submit(ctx, tuitionPayment("R-42", 2000))
	require.Error(t, err)
	assert.Contains(t, vr.Errors[0], "already in use")

	_, err = svc.CancelReceipt(ctx, first.ReceiptID, "duplicate entry", "cashier-1")
	require.NoError(t, err)

	_, _, err = svc.Submit(ctx, tuitionPayment("R-42", 2000))
	assert.NoError(t, err, "cancelled receipt numbers may be reissued")
}

func TestPayment_OverpaymentWarnsButSucceeds(t *testing.T) {
	// GIVEN: TUITION year-1 with 500 outstanding
	// WHEN: Paying 2000 against it
	// THEN: The payment succeeds with a warning

	mem, svc := newPaymentFixture(t)
	ctx := context.Background()

	b := fees.Balance{
		EnrollmentID: "enr-1", Component: fees.ComponentTuition, YearNumber: 1,
		Charged: money(500),
	}
	b.Recompute()
	require.NoError(t, mem.UpsertBalance(ctx, b))

	res, vr, err := svc.Submit(ctx, tuitionPayment("R-1", 2000))
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, vr.Warnings, 1)
	assert.Contains(t, vr.Warnings[0], "exceeds outstanding")
}

// =============================================================================
// EXECUTION TESTS
// =============================================================================

func TestPayment_ExecuteUpdatesBalanceAndLedger(t *testing.T) {
	// GIVEN: TUITION year-1 charged 100000
	// WHEN: Paying 40000 allocated to TUITION
	// THEN: paid=40000, outstanding=60000, one allocation, one PAYMENT_RECEIVED event

	mem, svc := newPaymentFixture(t)
	ctx := context.Background()

	b := fees.Balance{
		EnrollmentID: "enr-1", Component: fees.ComponentTuition, YearNumber: 1,
		Charged: money(100000),
	}
	b.Recompute()
	require.NoError(t, mem.UpsertBalance(ctx, b))

	res, _, err := svc.Submit(ctx, tuitionPayment("R-1", 40000))
	require.NoError(t, err)
	assert.Equal(t, 1, res.AllocationsCreated)
	assert.Equal(t, 1, res.LedgerEventsCreated)

	bal, err := mem.ReadBalance(ctx, "enr-1", fees.ComponentTuition, 1)
	require.NoError(t, err)
	require.NotNil(t, bal)
	assert.True(t, bal.Paid.Equal(money(40000)))
	assert.True(t, bal.Outstanding.Equal(money(60000)))

	events, err := mem.ReadLedger(ctx, "enr-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fees.EventPaymentReceived, events[0].Type)
	assert.True(t, events[0].Amount.Equal(money(-40000)), "payments are negative in the ledger")
	assert.True(t, events[0].RunningBalance.Equal(money(60000)))
}

func TestPayment_AllocationsSumToPaidAmount(t *testing.T) {
	// GIVEN: A payment split across three components
	// WHEN: Executed
	// THEN: The receipt's active allocations sum exactly to its paid amount

	mem, svc := newPaymentFixture(t)
	ctx := context.Background()

	req := fees.PaymentRequest{
		EnrollmentID:  "enr-1",
		ReceiptNumber: "R-7",
		TotalAmount:   money(65000),
		ComponentPayments: []fees.ComponentPayment{
			{Component: fees.ComponentAdmission, YearNumber: 1, Amount: money(20000)},
			{Component: fees.ComponentTuition, YearNumber: 1, Amount: money(40000)},
			{Component: fees.ComponentSecurity, YearNumber: 1, Amount: money(5000)},
		},
		Actor: "cashier-1",
	}

	res, _, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 3, res.AllocationsCreated)

	receipt, err := mem.GetReceipt(ctx, res.ReceiptID)
	require.NoError(t, err)
	allocations, err := mem.ReadAllocations(ctx, res.ReceiptID)
	require.NoError(t, err)

	sum := fees.Zero()
	for _, a := range allocations {
		if !a.Cancelled {
			sum = sum.Add(a.Amount)
		}
	}
	assert.True(t, sum.Equal(receipt.PaidAmount))
}

func TestPayment_CancelReversesEverything(t *testing.T) {
	// GIVEN: An executed payment of 40000 against TUITION
	// WHEN: Cancelling the receipt
	// THEN: The balance returns to its prior state, allocations are
	//       soft-cancelled, and compensating PAYMENT_CANCELLED events appear

	mem, svc := newPaymentFixture(t)
	ctx := context.Background()

	b := fees.Balance{
		EnrollmentID: "enr-1", Component: fees.ComponentTuition, YearNumber: 1,
		Charged: money(100000),
	}
	b.Recompute()
	require.NoError(t, mem.UpsertBalance(ctx, b))

	res, _, err := svc.Submit(ctx, tuitionPayment("R-1", 40000))
	require.NoError(t, err)

	_, err = svc.CancelReceipt(ctx, res.ReceiptID, "entered against wrong student", "supervisor-1")
	require.NoError(t, err)

	bal, _ := mem.ReadBalance(ctx, "enr-1", fees.ComponentTuition, 1)
	assert.True(t, bal.Paid.IsZero())
	assert.True(t, bal.Outstanding.Equal(money(100000)))

	receipt, _ := mem.GetReceipt(ctx, res.ReceiptID)
	assert.Equal(t, fees.ReceiptCancelled, receipt.Status)

	allocations, _ := mem.ReadAllocations(ctx, res.ReceiptID)
	for _, a := range allocations {
		assert.True(t, a.Cancelled)
	}

	events, _ := mem.ReadLedger(ctx, "enr-1")
	require.Len(t, events, 2, "original event plus compensating event")
	assert.Equal(t, fees.EventPaymentCancelled, events[1].Type)
	assert.True(t, events[1].Amount.Equal(money(40000)))
}

func TestPayment_CancelTwice_Conflict(t *testing.T) {
	// GIVEN: A cancelled receipt
	// WHEN: Cancelling it again
	// THEN: ConflictError - repetition is an error, not a no-op

	_, svc := newPaymentFixture(t)
	ctx := context.Background()

	res, _, err := svc.Submit(ctx, tuitionPayment("R-1", 1000))
	require.NoError(t, err)

	_, err = svc.CancelReceipt(ctx, res.ReceiptID, "mistake", "supervisor-1")
	require.NoError(t, err)

	_, err = svc.CancelReceipt(ctx, res.ReceiptID, "mistake", "supervisor-1")
	require.Error(t, err)
	assert.True(t, fees.IsConflict(err))
}

func TestPayment_CancelWithoutReason_Rejected(t *testing.T) {
	// GIVEN: An active receipt
	// WHEN: Cancelling without a reason
	// THEN: Rejected

	_, svc := newPaymentFixture(t)
	ctx := context.Background()

	res, _, err := svc.Submit(ctx, tuitionPayment("R-1", 1000))
	require.NoError(t, err)

	_, err = svc.CancelReceipt(ctx, res.ReceiptID, "", "supervisor-1")
	require.Error(t, err)
	assert.True(t, fees.IsValidation(err))
}

func TestPayment_CancelUnknownReceipt_NotFound(t *testing.T) {
	// GIVEN: No such receipt
	// WHEN: Cancelling
	// THEN: NotFoundError, not an ExecutionError

	_, svc := newPaymentFixture(t)

	_, err := svc.CancelReceipt(context.Background(), "missing", "reason", "actor")
	require.Error(t, err)
	assert.True(t, fees.IsNotFound(err))
	assert.False(t, fees.IsExecution(err))
}

func TestPayment_FirstPaymentEstablishesCharge(t *testing.T) {
	// GIVEN: A catalog with TUITION year-1 base 100000 and no balance row
	// WHEN: Paying 40000 against TUITION, naming the plan
	// THEN: The first movement charges the bucket from the catalog:
	//       charged=100000, paid=40000, outstanding=60000, with a
	//       CHARGE_CREATED event preceding the PAYMENT_RECEIVED event

	mem, svc := newPaymentFixture(t)
	ctx := context.Background()

	mem.SeedPlanItems("plan-1", planItem("pi-tuition-1", fees.ComponentTuition, 1, 100000))

	req := tuitionPayment("R-1", 40000)
	req.PlanID = "plan-1"

	res, _, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AllocationsCreated)
	assert.Equal(t, 2, res.LedgerEventsCreated, "charge event plus payment event")

	bal, err := mem.ReadBalance(ctx, "enr-1", fees.ComponentTuition, 1)
	require.NoError(t, err)
	require.NotNil(t, bal)
	assert.True(t, bal.OriginalAmount.Equal(money(100000)))
	assert.True(t, bal.Charged.Equal(money(100000)))
	assert.True(t, bal.Paid.Equal(money(40000)))
	assert.True(t, bal.Outstanding.Equal(money(60000)))

	events, err := mem.ReadLedger(ctx, "enr-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, fees.EventChargeCreated, events[0].Type)
	assert.True(t, events[0].Amount.Equal(money(100000)))
	assert.True(t, events[0].RunningBalance.Equal(money(100000)))
	assert.Equal(t, fees.EventPaymentReceived, events[1].Type)
	assert.True(t, events[1].RunningBalance.Equal(money(60000)))
}

func TestPayment_FirstPaymentChargesOverrideAmount(t *testing.T) {
	// GIVEN: TUITION year-1 base 100000 with an 80000 override and no
	//        balance row
	// WHEN: Paying 40000 against TUITION
	// THEN: The override effective amount is charged, not the base

	mem, svc := newPaymentFixture(t)
	ctx := context.Background()

	mem.SeedPlanItems("plan-1", planItem("pi-tuition-1", fees.ComponentTuition, 1, 100000))
	require.NoError(t, mem.UpsertOverride(ctx, fees.Override{
		EnrollmentID:   "enr-1",
		PlanItemID:     "pi-tuition-1",
		Component:      fees.ComponentTuition,
		YearNumber:     1,
		OverrideAmount: money(80000),
		Source:         fees.OverrideSourceAdmission,
	}))

	req := tuitionPayment("R-1", 40000)
	req.PlanID = "plan-1"

	_, _, err := svc.Submit(ctx, req)
	require.NoError(t, err)

	bal, err := mem.ReadBalance(ctx, "enr-1", fees.ComponentTuition, 1)
	require.NoError(t, err)
	require.NotNil(t, bal)
	assert.True(t, bal.OriginalAmount.Equal(money(100000)))
	assert.True(t, bal.OverrideAmount.Equal(money(80000)))
	assert.True(t, bal.Charged.Equal(money(80000)))
	assert.True(t, bal.Outstanding.Equal(money(40000)))
}

func TestPayment_ReceiptNumberUniqueAcrossEnrollments(t *testing.T) {
	// GIVEN: An ACTIVE receipt numbered R-100 on one enrollment
	// WHEN: Submitting R-100 for a different enrollment
	// THEN: Rejected - receipt numbers are printed documents, unique among
	//       ACTIVE receipts institution-wide

	_, svc := newPaymentFixture(t)
	ctx := context.Background()

	_, _, err := svc.Submit(ctx, tuitionPayment("R-100", 1000))
	require.NoError(t, err)

	other := tuitionPayment("R-100", 500)
	other.EnrollmentID = "enr-2"
	_, vr, err := svc.Submit(ctx, other)
	require.Error(t, err)
	assert.True(t, fees.IsValidation(err))
	assert.Contains(t, vr.Errors[0], "already in use")
}

func TestPayment_EditKeepsIdentityAndNetsBalances(t *testing.T) {
	// GIVEN: A 40000 TUITION payment that should have been 30000 TUITION
	//        plus 10000 ADMISSION
	// WHEN: Editing the receipt in place
	// THEN: The receipt id survives, balances net to the corrected split, and
	//       history keeps both the original and the compensating events

	mem, svc := newPaymentFixture(t)
	ctx := context.Background()

	res, _, err := svc.Submit(ctx, tuitionPayment("R-9", 40000))
	require.NoError(t, err)

	edited := fees.PaymentRequest{
		EnrollmentID:  "enr-1",
		ReceiptNumber: "R-9",
		TotalAmount:   money(40000),
		ComponentPayments: []fees.ComponentPayment{
			{Component: fees.ComponentTuition, YearNumber: 1, Amount: money(30000)},
			{Component: fees.ComponentAdmission, YearNumber: 1, Amount: money(10000)},
		},
		Actor: "cashier-1",
	}
	res2, _, err := svc.Edit(ctx, res.ReceiptID, edited)
	require.NoError(t, err)
	assert.Equal(t, res.ReceiptID, res2.ReceiptID, "edit keeps the receipt identity")

	tuition, _ := mem.ReadBalance(ctx, "enr-1", fees.ComponentTuition, 1)
	assert.True(t, tuition.Paid.Equal(money(30000)))
	admission, _ := mem.ReadBalance(ctx, "enr-1", fees.ComponentAdmission, 1)
	assert.True(t, admission.Paid.Equal(money(10000)))

	events, _ := mem.ReadLedger(ctx, "enr-1")
	types := make([]fees.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	assert.Equal(t, []fees.EventType{
		fees.EventPaymentReceived,
		fees.EventPaymentCancelled,
		fees.EventPaymentReceived,
		fees.EventPaymentReceived,
	}, types)
}

func TestPayment_EditCancelledReceipt_Conflict(t *testing.T) {
	// GIVEN: A cancelled receipt
	// WHEN: Editing it
	// THEN: ConflictError directing the caller to submit a new payment

	_, svc := newPaymentFixture(t)
	ctx := context.Background()

	res, _, err := svc.Submit(ctx, tuitionPayment("R-1", 1000))
	require.NoError(t, err)
	_, err = svc.CancelReceipt(ctx, res.ReceiptID, "void", "supervisor-1")
	require.NoError(t, err)

	_, _, err = svc.Edit(ctx, res.ReceiptID, tuitionPayment("R-1", 2000))
	require.Error(t, err)
	assert.True(t, fees.IsConflict(err))
}

func TestPayment_RebateLandsOnTuitionAndReverses(t *testing.T) {
	// GIVEN: TUITION year-1 charged 100000
	// WHEN: Paying 40000 with a 10000 rebate, then cancelling the receipt
	// THEN: The rebate discounts tuition while active and is restored on cancel

	mem, svc := newPaymentFixture(t)
	ctx := context.Background()

	b := fees.Balance{
		EnrollmentID: "enr-1", Component: fees.ComponentTuition, YearNumber: 1,
		Charged: money(100000),
	}
	b.Recompute()
	require.NoError(t, mem.UpsertBalance(ctx, b))

	req := tuitionPayment("R-1", 40000)
	req.RebateAmount = money(10000)
	req.RebateReason = "festival concession"

	res, _, err := svc.Submit(ctx, req)
	require.NoError(t, err)

	bal, _ := mem.ReadBalance(ctx, "enr-1", fees.ComponentTuition, 1)
	assert.True(t, bal.Charged.Equal(money(90000)))
	assert.True(t, bal.DiscountAmount.Equal(money(10000)))
	assert.True(t, bal.Outstanding.Equal(money(50000)))

	_, err = svc.CancelReceipt(ctx, res.ReceiptID, "void", "supervisor-1")
	require.NoError(t, err)

	bal, _ = mem.ReadBalance(ctx, "enr-1", fees.ComponentTuition, 1)
	assert.True(t, bal.Charged.Equal(money(100000)))
	assert.True(t, bal.DiscountAmount.IsZero())
	assert.True(t, bal.Paid.IsZero())
	assert.True(t, bal.Outstanding.Equal(money(100000)))
}
