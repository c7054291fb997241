/*
store.go - Repository interfaces the engine consumes

PURPOSE:
  Defines the interface between the domain logic and the database.
  The engine never touches SQL; it reads and writes through these
  interfaces so the reconciliation merge stays a pure function and
  the validators can be tested against an in-memory store.

KEY INTERFACES:
  PlanRepository:  Read-only fee catalog (base amounts per plan year)
  OverrideStore:   Student-specific amount replacements
  BalanceStore:    Per-(enrollment, component, year) balance rows
  LedgerStore:     Append-only event log
  AdjustmentStore: Discretionary adjustment records
  Store:           Union of the above, what mutation paths receive
  TxStore:         Store + WithTx for single-row read-modify-write

APPEND-ONLY CONTRACT:
  LedgerStore has Append and Load only. No Update, No Delete. Ever.
  Corrections are compensating events that net against prior ones.

TRANSACTIONS:
  The unit of contention is one balance row keyed by
  (enrollment, component, year). Every mutation - override upsert,
  adjustment create/cancel - runs its check-then-write sequence inside
  WithTx so a concurrent payment on the same row cannot interleave.
  The payment path delegates atomicity to the PaymentExecutor instead.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store (also the reference executor)
  - fees/store:   In-memory store for tests and development

SEE ALSO:
  - payment.go: PaymentExecutor boundary contract
  - store/sqlite/sqlite.go: Concrete implementation
*/
package fees

import "context"

// =============================================================================
// READ SIDE
// =============================================================================

// PlanRepository is the read-only fee catalog.
type PlanRepository interface {
	// ReadPlanItems returns the base amounts for a plan, one item per
	// (component, year).
	ReadPlanItems(ctx context.Context, planID PlanID) ([]PlanItem, error)
}

// OverrideStore holds student-specific amount replacements.
type OverrideStore interface {
	// ReadOverrides returns all overrides for an enrollment.
	ReadOverrides(ctx context.Context, enrollmentID EnrollmentID) ([]Override, error)

	// UpsertOverride creates or replaces the override for the override's
	// (enrollment, plan item) pair. At most one active override exists
	// per pair.
	UpsertOverride(ctx context.Context, o Override) error
}

// BalanceStore holds the per-bucket charged/paid/outstanding rows.
type BalanceStore interface {
	// ReadBalances returns all balance rows for an enrollment.
	ReadBalances(ctx context.Context, enrollmentID EnrollmentID) ([]Balance, error)

	// ReadBalance returns one bucket's row, or nil if it has not been
	// created yet. Balance rows are created lazily on first charge.
	ReadBalance(ctx context.Context, enrollmentID EnrollmentID, component ComponentCode, year int) (*Balance, error)

	// UpsertBalance creates or replaces a balance row.
	UpsertBalance(ctx context.Context, b Balance) error
}

// LedgerStore is the append-only event log. No Update, No Delete.
type LedgerStore interface {
	// AppendLedgerEvent adds one event. This is the ONLY write operation.
	AppendLedgerEvent(ctx context.Context, e LedgerEvent) error

	// ReadLedger returns an enrollment's events, chronological per
	// (component, year).
	ReadLedger(ctx context.Context, enrollmentID EnrollmentID) ([]LedgerEvent, error)
}

// AdjustmentStore holds discretionary adjustment records.
type AdjustmentStore interface {
	InsertAdjustment(ctx context.Context, a Adjustment) error
	GetAdjustment(ctx context.Context, id AdjustmentID) (*Adjustment, error)
	UpdateAdjustment(ctx context.Context, a Adjustment) error
}

// ReceiptReader exposes the receipt lookups the payment validator needs.
type ReceiptReader interface {
	// FindActiveReceiptByNumber returns the ACTIVE receipt with the given
	// number, or nil. Numbers are unique among ACTIVE receipts across all
	// enrollments; cancelled receipts are ignored - their numbers may be
	// reissued.
	FindActiveReceiptByNumber(ctx context.Context, number string) (*Receipt, error)
}

// ReceiptStore persists receipts and their allocations. Receipts and
// allocations are immutable once created except for their cancelled flag;
// the balance effects of a correction live in compensating ledger events.
type ReceiptStore interface {
	ReceiptReader

	InsertReceipt(ctx context.Context, r Receipt) error
	GetReceipt(ctx context.Context, id ReceiptID) (*Receipt, error)

	// UpdateReceipt re-states an existing receipt's header fields (number,
	// totals, rebate, status). The receipt's identity never changes.
	UpdateReceipt(ctx context.Context, r Receipt) error

	InsertAllocation(ctx context.Context, a Allocation) error

	// ReadAllocations returns all of a receipt's allocations, including
	// cancelled ones.
	ReadAllocations(ctx context.Context, receiptID ReceiptID) ([]Allocation, error)

	// CancelAllocations soft-marks every active allocation of the receipt.
	CancelAllocations(ctx context.Context, receiptID ReceiptID) error
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is what the mutation paths receive. One implementation backs all of
// it so WithTx can span override + balance + ledger writes.
type Store interface {
	PlanRepository
	OverrideStore
	BalanceStore
	LedgerStore
	AdjustmentStore
	ReceiptStore
}

// TxStore wraps Store with transaction support.
//
// WithTx executes fn against a transactional view of the store. If fn
// returns an error the transaction is rolled back; otherwise it commits.
// Implementations must give fn read-your-writes semantics and must not
// let concurrent WithTx calls interleave on the same balance row.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
