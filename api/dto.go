/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Defines the JSON shapes of the API. Keeps HTTP concerns (JSON tags,
  string dates, float amounts) out of the domain types.

VALIDATION:
  Request DTOs carry validator/v10 struct tags for shape checks (required
  fields, list sizes). Business rules - catalog ceilings, paid floors,
  allocation sums - stay in the fees package; the tags only reject requests
  that are malformed before the domain ever sees them.

MONEY AT THE BOUNDARY:
  Amounts cross the API as JSON numbers. The core keeps full decimal
  precision; responses round to 2 digits.

SEE ALSO:
  - handlers.go: Uses these DTOs
  - fees/types.go: Domain equivalents
*/
package api

import (
	"time"

	"github.com/alpine/fee-engine/fees"
)

// =============================================================================
// REQUESTS
// =============================================================================

// OverrideRequest creates or updates a student fee override.
type OverrideRequest struct {
	PlanID     string  `json:"plan_id" validate:"required"`
	PlanItemID string  `json:"plan_item_id" validate:"required"`
	Component  string  `json:"component" validate:"required"`
	YearNumber int     `json:"year_number" validate:"min=1"`
	Amount     float64 `json:"amount"`
	Reason     string  `json:"reason"`
	Source     string  `json:"source"`
	Actor      string  `json:"actor" validate:"required"`
}

// ComponentPaymentDTO is one component's share of a payment.
type ComponentPaymentDTO struct {
	Component  string  `json:"component" validate:"required"`
	YearNumber int     `json:"year_number" validate:"min=1"`
	Amount     float64 `json:"amount"`
}

// PaymentRequestDTO submits or edits a payment. plan_id is optional; when
// set it names the catalog used to charge a bucket receiving its first
// payment.
type PaymentRequestDTO struct {
	PlanID        string                `json:"plan_id"`
	ReceiptNumber string                `json:"receipt_number" validate:"required"`
	TotalAmount   float64               `json:"total_amount"`
	Payments      []ComponentPaymentDTO `json:"payments" validate:"required,min=1,dive"`
	RebateAmount  float64               `json:"rebate_amount"`
	RebateReason  string                `json:"rebate_reason"`
	PaymentMode   string                `json:"payment_mode"`
	Actor         string                `json:"actor" validate:"required"`
}

// toDomain converts the DTO into a domain payment request.
func (r PaymentRequestDTO) toDomain(enrollmentID fees.EnrollmentID) fees.PaymentRequest {
	req := fees.PaymentRequest{
		EnrollmentID:  enrollmentID,
		PlanID:        fees.PlanID(r.PlanID),
		ReceiptNumber: r.ReceiptNumber,
		TotalAmount:   fees.NewMoney(r.TotalAmount),
		RebateAmount:  fees.NewMoney(r.RebateAmount),
		RebateReason:  r.RebateReason,
		PaymentMode:   r.PaymentMode,
		Actor:         r.Actor,
	}
	for _, cp := range r.Payments {
		req.ComponentPayments = append(req.ComponentPayments, fees.ComponentPayment{
			Component:  fees.ComponentCode(cp.Component),
			YearNumber: cp.YearNumber,
			Amount:     fees.NewMoney(cp.Amount),
		})
	}
	return req
}

// PlanItemRequest upserts one catalog row.
type PlanItemRequest struct {
	ID         string  `json:"id" validate:"required"`
	Component  string  `json:"component" validate:"required"`
	YearNumber int     `json:"year_number" validate:"min=1"`
	Amount     float64 `json:"amount"`
}

// AdjustmentRequest creates a discretionary adjustment.
type AdjustmentRequest struct {
	Component     string  `json:"component" validate:"required"`
	YearNumber    int     `json:"year_number" validate:"min=1"`
	Type          string  `json:"type" validate:"required"`
	Amount        float64 `json:"amount"`
	Title         string  `json:"title"`
	Reason        string  `json:"reason" validate:"required"`
	EffectiveDate string  `json:"effective_date"` // YYYY-MM-DD, optional
	Actor         string  `json:"actor" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// FeeDetailDTO is one row of the reconciled fee view.
type FeeDetailDTO struct {
	Component      string  `json:"component"`
	YearNumber     int     `json:"year_number"`
	OriginalAmount float64 `json:"original_amount"`
	Amount         float64 `json:"amount"`
	OverrideAmount float64 `json:"override_amount,omitempty"`
	DiscountAmount float64 `json:"discount_amount,omitempty"`
	Paid           float64 `json:"paid"`
	Outstanding    float64 `json:"outstanding"`
	HasOverride    bool    `json:"has_override"`
	FutureYear     bool    `json:"future_year"`
}

// FeeSummaryDTO is the reconciled view plus headline totals.
type FeeSummaryDTO struct {
	EnrollmentID     string         `json:"enrollment_id"`
	CurrentYear      int            `json:"current_year"`
	Details          []FeeDetailDTO `json:"details"`
	TotalCharged     float64        `json:"total_charged"`
	TotalPaid        float64        `json:"total_paid"`
	TotalOutstanding float64        `json:"total_outstanding"`
}

func toFeeDetailDTO(d fees.FeeDetail) FeeDetailDTO {
	return FeeDetailDTO{
		Component:      string(d.Component),
		YearNumber:     d.YearNumber,
		OriginalAmount: d.OriginalAmount.Float64(),
		Amount:         d.Amount.Float64(),
		OverrideAmount: d.OverrideAmount.Float64(),
		DiscountAmount: d.DiscountAmount.Float64(),
		Paid:           d.Paid.Float64(),
		Outstanding:    d.Outstanding.Float64(),
		HasOverride:    d.HasOverride,
		FutureYear:     d.FutureYear,
	}
}

// LedgerEventDTO is one ledger entry.
type LedgerEventDTO struct {
	ID             string  `json:"id"`
	Component      string  `json:"component"`
	YearNumber     int     `json:"year_number"`
	Type           string  `json:"type"`
	Amount         float64 `json:"amount"`
	RunningBalance float64 `json:"running_balance"`
	ReceiptID      string  `json:"receipt_id,omitempty"`
	AdjustmentID   string  `json:"adjustment_id,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	CreatedBy      string  `json:"created_by"`
	EventDate      string  `json:"event_date"`
}

func toLedgerEventDTO(e fees.LedgerEvent) LedgerEventDTO {
	return LedgerEventDTO{
		ID:             string(e.ID),
		Component:      string(e.Component),
		YearNumber:     e.YearNumber,
		Type:           string(e.Type),
		Amount:         e.Amount.Float64(),
		RunningBalance: e.RunningBalance.Float64(),
		ReceiptID:      string(e.ReceiptID),
		AdjustmentID:   string(e.AdjustmentID),
		Reason:         e.Reason,
		CreatedBy:      e.CreatedBy,
		EventDate:      e.EventDate.Format(time.RFC3339),
	}
}

// BalanceDTO is one stored balance bucket.
type BalanceDTO struct {
	Component      string  `json:"component"`
	YearNumber     int     `json:"year_number"`
	OriginalAmount float64 `json:"original_amount"`
	OverrideAmount float64 `json:"override_amount"`
	DiscountAmount float64 `json:"discount_amount"`
	Charged        float64 `json:"charged"`
	Paid           float64 `json:"paid"`
	Outstanding    float64 `json:"outstanding"`
}

func toBalanceDTO(b fees.Balance) BalanceDTO {
	return BalanceDTO{
		Component:      string(b.Component),
		YearNumber:     b.YearNumber,
		OriginalAmount: b.OriginalAmount.Float64(),
		OverrideAmount: b.OverrideAmount.Float64(),
		DiscountAmount: b.DiscountAmount.Float64(),
		Charged:        b.Charged.Float64(),
		Paid:           b.Paid.Float64(),
		Outstanding:    b.Outstanding.Float64(),
	}
}

// OverrideResponse reports an applied override.
type OverrideResponse struct {
	EnrollmentID string     `json:"enrollment_id"`
	PlanItemID   string     `json:"plan_item_id"`
	Component    string     `json:"component"`
	YearNumber   int        `json:"year_number"`
	Amount       float64    `json:"amount"`
	Balance      BalanceDTO `json:"balance"`
	Warnings     []string   `json:"warnings,omitempty"`
}

// PaymentResponse reports an executed, updated, or cancelled payment.
type PaymentResponse struct {
	ReceiptID           string   `json:"receipt_id"`
	ReceiptNumber       string   `json:"receipt_number"`
	AllocationsCreated  int      `json:"allocations_created"`
	LedgerEventsCreated int      `json:"ledger_events_created"`
	BalancesUpdated     int      `json:"balances_updated"`
	Warnings            []string `json:"warnings,omitempty"`
}

func toPaymentResponse(res *fees.ExecutionResult, warnings []string) PaymentResponse {
	return PaymentResponse{
		ReceiptID:           string(res.ReceiptID),
		ReceiptNumber:       res.ReceiptNumber,
		AllocationsCreated:  res.AllocationsCreated,
		LedgerEventsCreated: res.LedgerEventsCreated,
		BalancesUpdated:     res.BalancesUpdated,
		Warnings:            warnings,
	}
}

// AdjustmentDTO is one adjustment record.
type AdjustmentDTO struct {
	ID            string  `json:"id"`
	EnrollmentID  string  `json:"enrollment_id"`
	Component     string  `json:"component"`
	YearNumber    int     `json:"year_number"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	Title         string  `json:"title,omitempty"`
	Reason        string  `json:"reason"`
	Status        string  `json:"status"`
	EffectiveDate string  `json:"effective_date"`
	CreatedBy     string  `json:"created_by"`
	CancelledBy   string  `json:"cancelled_by,omitempty"`
	CancelReason  string  `json:"cancel_reason,omitempty"`
}

func toAdjustmentDTO(a fees.Adjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:            string(a.ID),
		EnrollmentID:  string(a.EnrollmentID),
		Component:     string(a.Component),
		YearNumber:    a.YearNumber,
		Type:          string(a.Type),
		Amount:        a.Amount.Float64(),
		Title:         a.Title,
		Reason:        a.Reason,
		Status:        string(a.Status),
		EffectiveDate: a.EffectiveDate.Format("2006-01-02"),
		CreatedBy:     a.CreatedBy,
		CancelledBy:   a.CancelledBy,
		CancelReason:  a.CancelReason,
	}
}

// ComponentDTO is one catalog component.
type ComponentDTO struct {
	Code    string `json:"code"`
	Label   string `json:"label"`
	OneTime bool   `json:"one_time"`
}
