/*
Package fees provides the fee balance reconciliation and payment-validation engine.

PURPOSE:
  This package contains the domain types and algorithms that merge a student's
  fee catalog, admission/ad-hoc overrides, and accumulated payments into a
  single consistent per-component, per-year balance, and that gate every
  mutation (override edit, payment, discretionary adjustment) against business
  rules before it reaches storage.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount backed by decimal.Decimal (never float)
  - ComponentCode: A named charge category (TUITION, SECURITY, ...)
  - PlanItem: The catalog base amount for a component in a plan year
  - Override: A student-specific replacement of the catalog amount
  - Balance: The per-(enrollment, component, year) charged/paid/outstanding row
  - LedgerEvent: An immutable record of a balance-affecting action
  - Receipt/Allocation: A payment and its per-component split

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Immutability: Ledger events are never modified, only netted by new events
  3. Type Safety: Strong typing for IDs prevents mixing enrollment/plan IDs
  4. Auditability: Every mutation carries an actor and a reason

SEE ALSO:
  - reconcile.go: The pure reconciliation merge
  - ledger.go: Balance recomputation and event appending
  - store.go: Repository interfaces the engine consumes
*/
package fees

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount (decimal-backed, never float)
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money          { return Money{Value: decimal.NewFromFloat(value)} }
func NewMoneyFromInt(value int64) Money     { return Money{Value: decimal.NewFromInt(value)} }
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{Value: d} }

// ParseMoney parses a decimal string amount. Stored amounts are read back
// through here so a corrupt row fails the read instead of scanning as zero.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

// MustParseMoney panics on malformed input. For literals only.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func Zero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(b Money) Money           { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money           { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s)} }
func (m Money) Neg() Money                  { return Money{Value: m.Value.Neg()} }
func (m Money) Abs() Money                  { return Money{Value: m.Value.Abs()} }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) Equal(b Money) bool          { return m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool    { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool       { return m.Value.LessThan(b.Value) }
func (m Money) Float64() float64            { f, _ := m.Value.Float64(); return f }
func (m Money) String() string              { return m.Value.StringFixed(2) }

// FloorZero clamps a negative amount to zero. Outstanding balances are never
// allowed to go below zero.
func (m Money) FloorZero() Money {
	if m.IsNegative() {
		return Zero()
	}
	return m
}

// AllocationTolerance is the maximum difference allowed between a payment's
// declared total and the sum of its per-component allocations.
var AllocationTolerance = decimal.NewFromFloat(0.01)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EnrollmentID string
type PlanID string
type PlanItemID string
type ReceiptID string
type AdjustmentID string
type EventID string

// =============================================================================
// FEE COMPONENTS - Named charge categories
// =============================================================================

type ComponentCode string

const (
	ComponentAdmission ComponentCode = "ADMISSION"
	ComponentTuition   ComponentCode = "TUITION"
	ComponentSecurity  ComponentCode = "SECURITY"
	ComponentOther     ComponentCode = "OTHER"
	ComponentTransport ComponentCode = "TRANSPORT"
	ComponentHostel    ComponentCode = "HOSTEL"
	ComponentExam      ComponentCode = "EXAM"
	ComponentMisc      ComponentCode = "MISC"
)

// componentPriority fixes the display order of components within a year.
// Components not listed sort after listed ones, alphabetically.
var componentPriority = map[ComponentCode]int{
	ComponentAdmission: 1,
	ComponentTuition:   2,
	ComponentSecurity:  3,
	ComponentOther:     4,
	ComponentTransport: 5,
	ComponentHostel:    6,
	ComponentExam:      7,
	ComponentMisc:      8,
}

// Priority returns the component's sort rank. Unknown components rank last.
func (c ComponentCode) Priority() int {
	if p, ok := componentPriority[c]; ok {
		return p
	}
	return len(componentPriority) + 1
}

// OneTime reports whether the component is charged once, in year 1 only.
// SECURITY deposits and OTHER one-off charges never recur across plan years.
func (c ComponentCode) OneTime() bool {
	return c == ComponentSecurity || c == ComponentOther
}

// OverrideExempt reports whether the component is exempt from the override
// guard rails (may be overridden above the plan base or below the paid
// amount). Exempt components produce warnings instead of hard failures.
func (c ComponentCode) OverrideExempt() bool {
	return c == ComponentSecurity || c == ComponentOther
}

// Component is a catalog entry for a charge category.
type Component struct {
	Code  ComponentCode
	Label string
}

// DefaultComponents is the catalog shipped with the engine. Institutions may
// extend it; the reconciliation merge works with any code.
var DefaultComponents = []Component{
	{Code: ComponentAdmission, Label: "Admission Fee"},
	{Code: ComponentTuition, Label: "Tuition Fee"},
	{Code: ComponentSecurity, Label: "Security Fee"},
	{Code: ComponentOther, Label: "Other Fee"},
	{Code: ComponentTransport, Label: "Transport Fee"},
	{Code: ComponentHostel, Label: "Hostel Fee"},
	{Code: ComponentExam, Label: "Exam Fee"},
	{Code: ComponentMisc, Label: "Miscellaneous Fee"},
}

// =============================================================================
// CATALOG - Plan items (base amounts)
// =============================================================================

// PlanItem is the catalog base amount for a component in a given plan year.
// At most one item exists per (plan, component, year). One-time components
// are scoped to year 1.
type PlanItem struct {
	ID         PlanItemID
	PlanID     PlanID
	Component  ComponentCode
	YearNumber int
	Amount     Money
}

// =============================================================================
// OVERRIDES - Student-specific amount replacements
// =============================================================================

type OverrideSource string

const (
	OverrideSourceAdmission OverrideSource = "admission"
	OverrideSourceAdHoc     OverrideSource = "ad_hoc"
	OverrideSourceImport    OverrideSource = "legacy_import"
)

// Override replaces the catalog amount for one student and plan item.
// At most one active override exists per (enrollment, plan item).
type Override struct {
	EnrollmentID   EnrollmentID
	PlanItemID     PlanItemID
	Component      ComponentCode
	YearNumber     int
	OverrideAmount Money
	DiscountAmount Money
	Reason         string
	Source         OverrideSource
	UpdatedBy      string
	UpdatedAt      time.Time
}

// Effective is the amount the student actually owes for the item:
// max(0, override - discount).
func (o Override) Effective() Money {
	return o.OverrideAmount.Sub(o.DiscountAmount).FloorZero()
}

// =============================================================================
// BALANCE - Per (enrollment, component, year) charged/paid/outstanding state
// =============================================================================

// Balance is the current state of one fee bucket. It is created lazily on
// first charge and mutated by every payment, override, and adjustment.
//
// INVARIANT: Outstanding == max(0, Charged - Paid) after every mutation.
// Recompute() re-asserts it; all mutation paths go through Recompute.
type Balance struct {
	EnrollmentID   EnrollmentID
	Component      ComponentCode
	YearNumber     int
	OriginalAmount Money
	OverrideAmount Money
	DiscountAmount Money
	Charged        Money
	Paid           Money
	Outstanding    Money
	UpdatedBy      string
	UpdatedAt      time.Time
}

// Recompute derives Outstanding from Charged and Paid. Every write path must
// call this before persisting.
func (b *Balance) Recompute() {
	b.Outstanding = b.Charged.Sub(b.Paid).FloorZero()
}

// FullyPaid reports whether the bucket has been settled with at least one
// payment recorded.
func (b Balance) FullyPaid() bool {
	return b.Outstanding.IsZero() && b.Paid.IsPositive()
}

// =============================================================================
// RECEIPTS AND ALLOCATIONS
// =============================================================================

type ReceiptStatus string

const (
	ReceiptActive    ReceiptStatus = "ACTIVE"
	ReceiptCancelled ReceiptStatus = "CANCELLED"
)

// Receipt records one payment. Receipt numbers are unique among ACTIVE
// receipts only; a cancelled receipt's number may be reissued.
type Receipt struct {
	ID            ReceiptID
	EnrollmentID  EnrollmentID
	ReceiptNumber string
	TotalAmount   Money
	PaidAmount    Money
	RebateAmount  Money
	RebateReason  string
	Status        ReceiptStatus
	PaymentDate   time.Time
	CreatedBy     string
	CreatedAt     time.Time
}

// Allocation is one receipt's share assigned to a component.
// INVARIANT: the sum of a receipt's ACTIVE allocations equals the
// receipt's paid amount. Corrections cancel the old rows and insert new
// ones; nothing is deleted.
type Allocation struct {
	ReceiptID  ReceiptID
	Component  ComponentCode
	YearNumber int
	Amount     Money
	Cancelled  bool
}

// =============================================================================
// LEDGER EVENTS - Append-only audit log
// =============================================================================

type EventType string

const (
	EventChargeCreated       EventType = "CHARGE_CREATED"
	EventPaymentReceived     EventType = "PAYMENT_RECEIVED"
	EventPaymentCancelled    EventType = "PAYMENT_CANCELLED"
	EventOverrideApplied     EventType = "OVERRIDE_APPLIED"
	EventAdjustmentApplied   EventType = "ADJUSTMENT_APPLIED"
	EventAdjustmentCancelled EventType = "ADJUSTMENT_CANCELLED"
)

// LedgerEvent is one append-only record of a balance-affecting action.
// Amount is signed: charges and penalties positive, payments and discounts
// negative. RunningBalance is the bucket's outstanding amount after the event.
// Corrections are compensating events, never edits.
type LedgerEvent struct {
	ID             EventID
	EnrollmentID   EnrollmentID
	Component      ComponentCode
	YearNumber     int
	Type           EventType
	Amount         Money
	RunningBalance Money
	ReceiptID      ReceiptID
	AdjustmentID   AdjustmentID
	Reason         string
	CreatedBy      string
	EventDate      time.Time
}

// =============================================================================
// ADJUSTMENTS - Discretionary, reversible balance changes
// =============================================================================

type AdjustmentType string

const (
	AdjustmentDiscount    AdjustmentType = "DISCOUNT"
	AdjustmentScholarship AdjustmentType = "SCHOLARSHIP"
	AdjustmentWaiver      AdjustmentType = "WAIVER"
	AdjustmentPenalty     AdjustmentType = "PENALTY"
)

// Reduces reports whether the adjustment lowers what the student owes.
// DISCOUNT, SCHOLARSHIP and WAIVER reduce; PENALTY increases.
func (t AdjustmentType) Reduces() bool {
	return t != AdjustmentPenalty
}

type AdjustmentStatus string

const (
	AdjustmentActive          AdjustmentStatus = "ACTIVE"
	AdjustmentStatusCancelled AdjustmentStatus = "CANCELLED"
)

// Adjustment is a discretionary balance change outside the payment flow.
// It is reversible: cancellation restores the prior balance exactly and
// appends an offsetting ledger event.
type Adjustment struct {
	ID            AdjustmentID
	EnrollmentID  EnrollmentID
	Component     ComponentCode
	YearNumber    int
	Type          AdjustmentType
	Amount        Money
	Title         string
	Reason        string
	Status        AdjustmentStatus
	EffectiveDate time.Time
	CreatedBy     string
	CreatedAt     time.Time
	CancelledBy   string
	CancelReason  string
}
