/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements fees.TxStore using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  fees.Store:   Catalog, overrides, balances, ledger, adjustments, receipts
  fees.TxStore: Store + WithTx over a database transaction

APPEND-ONLY ENFORCEMENT:
  The fee_ledger_events table is append-only:
  - No UPDATE statements
  - No DELETE statements
  - Corrections via compensating events only

KEY TABLES:
  fee_plan_items:          Catalog base amounts per (plan, component, year)
  student_fee_overrides:   Student-specific amount replacements
  fee_current_balances:    One row per (enrollment, component, year)
  fee_ledger_events:       Immutable log of balance-affecting actions
  fee_adjustments:         Discretionary adjustment records
  fee_receipts:            Payment receipts
  fee_receipt_allocations: Per-component splits of each receipt

UNIQUENESS:
  idx_receipts_active_number enforces receipt-number uniqueness among
  ACTIVE receipts across all enrollments. A cancelled receipt's number may
  be reissued; the partial index ignores CANCELLED rows.

AMOUNTS:
  Monetary columns are decimal TEXT. Reads go through fees.ParseMoney so a
  corrupt row fails the query instead of scanning as zero.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction, which also serializes read-modify-write sequences on
  the same balance row.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/fees.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - fees/store.go: Interface definitions
  - fees/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alpine/fee-engine/fees"
)

// Store implements fees.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ fees.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog (base amounts per plan, component, year)
	CREATE TABLE IF NOT EXISTS fee_plan_items (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		component TEXT NOT NULL,
		year_number INTEGER NOT NULL,
		amount TEXT NOT NULL,
		UNIQUE(plan_id, component, year_number)
	);

	CREATE INDEX IF NOT EXISTS idx_plan_items_plan
		ON fee_plan_items(plan_id);

	-- Student-specific overrides (at most one per enrollment + plan item)
	CREATE TABLE IF NOT EXISTS student_fee_overrides (
		enrollment_id TEXT NOT NULL,
		plan_item_id TEXT NOT NULL,
		component TEXT NOT NULL,
		year_number INTEGER NOT NULL,
		override_amount TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		reason TEXT,
		source TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (enrollment_id, plan_item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_overrides_enrollment
		ON student_fee_overrides(enrollment_id);

	-- Current balances, one row per bucket, created lazily on first charge
	CREATE TABLE IF NOT EXISTS fee_current_balances (
		enrollment_id TEXT NOT NULL,
		component TEXT NOT NULL,
		year_number INTEGER NOT NULL,
		original_amount TEXT NOT NULL,
		override_amount TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		charged TEXT NOT NULL,
		paid TEXT NOT NULL,
		outstanding TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (enrollment_id, component, year_number)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_enrollment
		ON fee_current_balances(enrollment_id);

	-- Ledger (append-only; no UPDATE, no DELETE, ever)
	CREATE TABLE IF NOT EXISTS fee_ledger_events (
		id TEXT PRIMARY KEY,
		enrollment_id TEXT NOT NULL,
		component TEXT NOT NULL,
		year_number INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		running_balance TEXT NOT NULL,
		receipt_id TEXT,
		adjustment_id TEXT,
		reason TEXT,
		created_by TEXT NOT NULL,
		event_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_enrollment
		ON fee_ledger_events(enrollment_id, year_number, component);
	CREATE INDEX IF NOT EXISTS idx_ledger_receipt
		ON fee_ledger_events(receipt_id) WHERE receipt_id != '';

	-- Discretionary adjustments
	CREATE TABLE IF NOT EXISTS fee_adjustments (
		id TEXT PRIMARY KEY,
		enrollment_id TEXT NOT NULL,
		component TEXT NOT NULL,
		year_number INTEGER NOT NULL,
		adjustment_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		title TEXT,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		cancelled_by TEXT,
		cancel_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_enrollment
		ON fee_adjustments(enrollment_id);

	-- Receipts
	CREATE TABLE IF NOT EXISTS fee_receipts (
		id TEXT PRIMARY KEY,
		enrollment_id TEXT NOT NULL,
		receipt_number TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		rebate_amount TEXT NOT NULL,
		rebate_reason TEXT,
		status TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: receipt numbers are unique among ACTIVE receipts only,
	-- across all enrollments. Cancelled receipts drop out of the index so
	-- their number can be reissued.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_receipts_active_number
		ON fee_receipts(receipt_number)
		WHERE status = 'ACTIVE';

	CREATE INDEX IF NOT EXISTS idx_receipts_enrollment
		ON fee_receipts(enrollment_id);

	-- Receipt allocations (soft-cancelled, never deleted)
	CREATE TABLE IF NOT EXISTS fee_receipt_allocations (
		receipt_id TEXT NOT NULL,
		component TEXT NOT NULL,
		year_number INTEGER NOT NULL,
		amount TEXT NOT NULL,
		cancelled BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_receipt
		ON fee_receipt_allocations(receipt_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx so every statement helper
// works inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PLAN REPOSITORY (fees.PlanRepository interface)
// =============================================================================

// SavePlanItem inserts or replaces a catalog row. Used by seeding and admin
// tooling; the engine itself only reads the catalog.
func (s *Store) SavePlanItem(ctx context.Context, item fees.PlanItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO fee_plan_items (id, plan_id, component, year_number, amount)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(plan_id, component, year_number) DO UPDATE SET
			amount = excluded.amount
	`
	_, err := s.db.ExecContext(ctx, query,
		string(item.ID), string(item.PlanID), string(item.Component),
		item.YearNumber, item.Amount.Value.String(),
	)
	return err
}

// ReadPlanItems returns the base amounts for a plan.
func (s *Store) ReadPlanItems(ctx context.Context, planID fees.PlanID) ([]fees.PlanItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readPlanItems(ctx, s.db, planID)
}

func readPlanItems(ctx context.Context, q querier, planID fees.PlanID) ([]fees.PlanItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, plan_id, component, year_number, amount
		FROM fee_plan_items
		WHERE plan_id = ?
		ORDER BY year_number ASC, component ASC
	`, string(planID))
	if err != nil {
		return nil, fmt.Errorf("failed to query plan items: %w", err)
	}
	defer rows.Close()

	var items []fees.PlanItem
	for rows.Next() {
		var it fees.PlanItem
		var amount string
		if err := rows.Scan(&it.ID, &it.PlanID, &it.Component, &it.YearNumber, &amount); err != nil {
			return nil, err
		}
		if err := parseAmounts([]*fees.Money{&it.Amount}, []string{amount}); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// =============================================================================
// OVERRIDE STORE (fees.OverrideStore interface)
// =============================================================================

// ReadOverrides returns all overrides for an enrollment.
func (s *Store) ReadOverrides(ctx context.Context, enrollmentID fees.EnrollmentID) ([]fees.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readOverrides(ctx, s.db, enrollmentID)
}

func readOverrides(ctx context.Context, q querier, enrollmentID fees.EnrollmentID) ([]fees.Override, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT enrollment_id, plan_item_id, component, year_number,
		       override_amount, discount_amount, reason, source, updated_by, updated_at
		FROM student_fee_overrides
		WHERE enrollment_id = ?
		ORDER BY year_number ASC, component ASC
	`, string(enrollmentID))
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var overrides []fees.Override
	for rows.Next() {
		var o fees.Override
		var overrideAmount, discountAmount, updatedAt string
		var reason sql.NullString
		if err := rows.Scan(&o.EnrollmentID, &o.PlanItemID, &o.Component, &o.YearNumber,
			&overrideAmount, &discountAmount, &reason, &o.Source, &o.UpdatedBy, &updatedAt); err != nil {
			return nil, err
		}
		if err := parseAmounts(
			[]*fees.Money{&o.OverrideAmount, &o.DiscountAmount},
			[]string{overrideAmount, discountAmount},
		); err != nil {
			return nil, err
		}
		o.Reason = reason.String
		o.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// UpsertOverride creates or replaces the override for the
// (enrollment, plan item) pair.
func (s *Store) UpsertOverride(ctx context.Context, o fees.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertOverride(ctx, s.db, o)
}

func upsertOverride(ctx context.Context, q querier, o fees.Override) error {
	query := `
		INSERT INTO student_fee_overrides
		(enrollment_id, plan_item_id, component, year_number,
		 override_amount, discount_amount, reason, source, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(enrollment_id, plan_item_id) DO UPDATE SET
			override_amount = excluded.override_amount,
			discount_amount = excluded.discount_amount,
			reason = excluded.reason,
			source = excluded.source,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		string(o.EnrollmentID), string(o.PlanItemID), string(o.Component), o.YearNumber,
		o.OverrideAmount.Value.String(), o.DiscountAmount.Value.String(),
		o.Reason, string(o.Source), o.UpdatedBy,
		o.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert override: %w", err)
	}
	return nil
}

// =============================================================================
// BALANCE STORE (fees.BalanceStore interface)
// =============================================================================

// ReadBalances returns all balance rows for an enrollment.
func (s *Store) ReadBalances(ctx context.Context, enrollmentID fees.EnrollmentID) ([]fees.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readBalances(ctx, s.db, enrollmentID)
}

const balanceColumns = `enrollment_id, component, year_number,
	       original_amount, override_amount, discount_amount,
	       charged, paid, outstanding, updated_by, updated_at`

func readBalances(ctx context.Context, q querier, enrollmentID fees.EnrollmentID) ([]fees.Balance, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+balanceColumns+`
		FROM fee_current_balances
		WHERE enrollment_id = ?
		ORDER BY year_number ASC, component ASC
	`, string(enrollmentID))
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []fees.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ReadBalance returns one bucket's row, or nil if it has not been created yet.
func (s *Store) ReadBalance(ctx context.Context, enrollmentID fees.EnrollmentID, component fees.ComponentCode, year int) (*fees.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readBalance(ctx, s.db, enrollmentID, component, year)
}

func readBalance(ctx context.Context, q querier, enrollmentID fees.EnrollmentID, component fees.ComponentCode, year int) (*fees.Balance, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+balanceColumns+`
		FROM fee_current_balances
		WHERE enrollment_id = ? AND component = ? AND year_number = ?
	`, string(enrollmentID), string(component), year)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	b, err := scanBalance(rows)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBalance(rows *sql.Rows) (fees.Balance, error) {
	var b fees.Balance
	var original, override, discount, charged, paid, outstanding, updatedAt string
	err := rows.Scan(&b.EnrollmentID, &b.Component, &b.YearNumber,
		&original, &override, &discount,
		&charged, &paid, &outstanding, &b.UpdatedBy, &updatedAt)
	if err != nil {
		return b, fmt.Errorf("failed to scan balance: %w", err)
	}
	if err := parseAmounts(
		[]*fees.Money{&b.OriginalAmount, &b.OverrideAmount, &b.DiscountAmount, &b.Charged, &b.Paid, &b.Outstanding},
		[]string{original, override, discount, charged, paid, outstanding},
	); err != nil {
		return b, err
	}
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return b, nil
}

// UpsertBalance creates or replaces a balance row.
func (s *Store) UpsertBalance(ctx context.Context, b fees.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertBalance(ctx, s.db, b)
}

func upsertBalance(ctx context.Context, q querier, b fees.Balance) error {
	query := `
		INSERT INTO fee_current_balances
		(enrollment_id, component, year_number,
		 original_amount, override_amount, discount_amount,
		 charged, paid, outstanding, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(enrollment_id, component, year_number) DO UPDATE SET
			original_amount = excluded.original_amount,
			override_amount = excluded.override_amount,
			discount_amount = excluded.discount_amount,
			charged = excluded.charged,
			paid = excluded.paid,
			outstanding = excluded.outstanding,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		string(b.EnrollmentID), string(b.Component), b.YearNumber,
		b.OriginalAmount.Value.String(), b.OverrideAmount.Value.String(), b.DiscountAmount.Value.String(),
		b.Charged.Value.String(), b.Paid.Value.String(), b.Outstanding.Value.String(),
		b.UpdatedBy, b.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert balance: %w", err)
	}
	return nil
}

// =============================================================================
// LEDGER STORE (fees.LedgerStore interface)
// =============================================================================

// AppendLedgerEvent adds one event to the append-only log.
func (s *Store) AppendLedgerEvent(ctx context.Context, e fees.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLedgerEvent(ctx, s.db, e)
}

func appendLedgerEvent(ctx context.Context, q querier, e fees.LedgerEvent) error {
	query := `
		INSERT INTO fee_ledger_events
		(id, enrollment_id, component, year_number, event_type,
		 amount, running_balance, receipt_id, adjustment_id, reason, created_by, event_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		string(e.ID), string(e.EnrollmentID), string(e.Component), e.YearNumber, string(e.Type),
		e.Amount.Value.String(), e.RunningBalance.Value.String(),
		string(e.ReceiptID), string(e.AdjustmentID), e.Reason, e.CreatedBy,
		e.EventDate.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger event: %w", err)
	}
	return nil
}

// ReadLedger returns an enrollment's events, chronological per bucket.
func (s *Store) ReadLedger(ctx context.Context, enrollmentID fees.EnrollmentID) ([]fees.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readLedger(ctx, s.db, enrollmentID)
}

func readLedger(ctx context.Context, q querier, enrollmentID fees.EnrollmentID) ([]fees.LedgerEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, enrollment_id, component, year_number, event_type,
		       amount, running_balance, receipt_id, adjustment_id, reason, created_by, event_date
		FROM fee_ledger_events
		WHERE enrollment_id = ?
		ORDER BY event_date ASC, rowid ASC
	`, string(enrollmentID))
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var events []fees.LedgerEvent
	for rows.Next() {
		var e fees.LedgerEvent
		var amount, runningBalance, eventDate string
		var receiptID, adjustmentID, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.EnrollmentID, &e.Component, &e.YearNumber, &e.Type,
			&amount, &runningBalance, &receiptID, &adjustmentID, &reason, &e.CreatedBy, &eventDate); err != nil {
			return nil, err
		}
		if err := parseAmounts(
			[]*fees.Money{&e.Amount, &e.RunningBalance},
			[]string{amount, runningBalance},
		); err != nil {
			return nil, err
		}
		e.ReceiptID = fees.ReceiptID(receiptID.String)
		e.AdjustmentID = fees.AdjustmentID(adjustmentID.String)
		e.Reason = reason.String
		e.EventDate, _ = time.Parse(time.RFC3339, eventDate)
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// ADJUSTMENT STORE (fees.AdjustmentStore interface)
// =============================================================================

func (s *Store) InsertAdjustment(ctx context.Context, a fees.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAdjustment(ctx, s.db, a)
}

func insertAdjustment(ctx context.Context, q querier, a fees.Adjustment) error {
	query := `
		INSERT INTO fee_adjustments
		(id, enrollment_id, component, year_number, adjustment_type, amount,
		 title, reason, status, effective_date, created_by, created_at, cancelled_by, cancel_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		string(a.ID), string(a.EnrollmentID), string(a.Component), a.YearNumber,
		string(a.Type), a.Amount.Value.String(),
		a.Title, a.Reason, string(a.Status),
		a.EffectiveDate.UTC().Format(time.RFC3339),
		a.CreatedBy, a.CreatedAt.UTC().Format(time.RFC3339),
		a.CancelledBy, a.CancelReason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert adjustment: %w", err)
	}
	return nil
}

func (s *Store) GetAdjustment(ctx context.Context, id fees.AdjustmentID) (*fees.Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAdjustment(ctx, s.db, id)
}

func getAdjustment(ctx context.Context, q querier, id fees.AdjustmentID) (*fees.Adjustment, error) {
	var a fees.Adjustment
	var amount, effectiveDate, createdAt string
	var title, cancelledBy, cancelReason sql.NullString

	err := q.QueryRowContext(ctx, `
		SELECT id, enrollment_id, component, year_number, adjustment_type, amount,
		       title, reason, status, effective_date, created_by, created_at, cancelled_by, cancel_reason
		FROM fee_adjustments WHERE id = ?
	`, string(id)).Scan(
		&a.ID, &a.EnrollmentID, &a.Component, &a.YearNumber, &a.Type, &amount,
		&title, &a.Reason, &a.Status, &effectiveDate, &a.CreatedBy, &createdAt,
		&cancelledBy, &cancelReason,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get adjustment: %w", err)
	}

	if err := parseAmounts([]*fees.Money{&a.Amount}, []string{amount}); err != nil {
		return nil, err
	}
	a.Title = title.String
	a.CancelledBy = cancelledBy.String
	a.CancelReason = cancelReason.String
	a.EffectiveDate, _ = time.Parse(time.RFC3339, effectiveDate)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

func (s *Store) UpdateAdjustment(ctx context.Context, a fees.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAdjustment(ctx, s.db, a)
}

func updateAdjustment(ctx context.Context, q querier, a fees.Adjustment) error {
	query := `
		UPDATE fee_adjustments
		SET status = ?, cancelled_by = ?, cancel_reason = ?
		WHERE id = ?
	`
	_, err := q.ExecContext(ctx, query,
		string(a.Status), a.CancelledBy, a.CancelReason, string(a.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update adjustment: %w", err)
	}
	return nil
}

// =============================================================================
// RECEIPT STORE (fees.ReceiptStore interface)
// =============================================================================

const receiptColumns = `id, enrollment_id, receipt_number, total_amount, paid_amount,
	       rebate_amount, rebate_reason, status, payment_date, created_by, created_at`

// FindActiveReceiptByNumber returns the ACTIVE receipt with the given number,
// or nil. Numbers are unique among ACTIVE receipts across all enrollments;
// cancelled receipts are ignored.
func (s *Store) FindActiveReceiptByNumber(ctx context.Context, number string) (*fees.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findActiveReceiptByNumber(ctx, s.db, number)
}

func findActiveReceiptByNumber(ctx context.Context, q querier, number string) (*fees.Receipt, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+receiptColumns+`
		FROM fee_receipts
		WHERE receipt_number = ? AND status = 'ACTIVE'
	`, number)
	return scanReceipt(row)
}

func (s *Store) InsertReceipt(ctx context.Context, r fees.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertReceipt(ctx, s.db, r)
}

func insertReceipt(ctx context.Context, q querier, r fees.Receipt) error {
	query := `
		INSERT INTO fee_receipts
		(id, enrollment_id, receipt_number, total_amount, paid_amount,
		 rebate_amount, rebate_reason, status, payment_date, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		string(r.ID), string(r.EnrollmentID), r.ReceiptNumber,
		r.TotalAmount.Value.String(), r.PaidAmount.Value.String(),
		r.RebateAmount.Value.String(), r.RebateReason, string(r.Status),
		r.PaymentDate.UTC().Format(time.RFC3339),
		r.CreatedBy, r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fees.ErrDuplicateReceiptNumber
		}
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, id fees.ReceiptID) (*fees.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getReceipt(ctx, s.db, id)
}

func getReceipt(ctx context.Context, q querier, id fees.ReceiptID) (*fees.Receipt, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+receiptColumns+`
		FROM fee_receipts WHERE id = ?
	`, string(id))
	return scanReceipt(row)
}

func scanReceipt(row *sql.Row) (*fees.Receipt, error) {
	var r fees.Receipt
	var total, paid, rebate, paymentDate, createdAt string
	var rebateReason sql.NullString

	err := row.Scan(&r.ID, &r.EnrollmentID, &r.ReceiptNumber, &total, &paid,
		&rebate, &rebateReason, &r.Status, &paymentDate, &r.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan receipt: %w", err)
	}

	if err := parseAmounts(
		[]*fees.Money{&r.TotalAmount, &r.PaidAmount, &r.RebateAmount},
		[]string{total, paid, rebate},
	); err != nil {
		return nil, err
	}
	r.RebateReason = rebateReason.String
	r.PaymentDate, _ = time.Parse(time.RFC3339, paymentDate)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &r, nil
}

func (s *Store) UpdateReceipt(ctx context.Context, r fees.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateReceipt(ctx, s.db, r)
}

func updateReceipt(ctx context.Context, q querier, r fees.Receipt) error {
	query := `
		UPDATE fee_receipts
		SET receipt_number = ?, total_amount = ?, paid_amount = ?,
		    rebate_amount = ?, rebate_reason = ?, status = ?
		WHERE id = ?
	`
	_, err := q.ExecContext(ctx, query,
		r.ReceiptNumber, r.TotalAmount.Value.String(), r.PaidAmount.Value.String(),
		r.RebateAmount.Value.String(), r.RebateReason, string(r.Status),
		string(r.ID),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fees.ErrDuplicateReceiptNumber
		}
		return fmt.Errorf("failed to update receipt: %w", err)
	}
	return nil
}

func (s *Store) InsertAllocation(ctx context.Context, a fees.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAllocation(ctx, s.db, a)
}

func insertAllocation(ctx context.Context, q querier, a fees.Allocation) error {
	query := `
		INSERT INTO fee_receipt_allocations (receipt_id, component, year_number, amount, cancelled)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		string(a.ReceiptID), string(a.Component), a.YearNumber,
		a.Amount.Value.String(), a.Cancelled,
	)
	if err != nil {
		return fmt.Errorf("failed to insert allocation: %w", err)
	}
	return nil
}

func (s *Store) ReadAllocations(ctx context.Context, receiptID fees.ReceiptID) ([]fees.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readAllocations(ctx, s.db, receiptID)
}

func readAllocations(ctx context.Context, q querier, receiptID fees.ReceiptID) ([]fees.Allocation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT receipt_id, component, year_number, amount, cancelled
		FROM fee_receipt_allocations
		WHERE receipt_id = ?
		ORDER BY rowid ASC
	`, string(receiptID))
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocations []fees.Allocation
	for rows.Next() {
		var a fees.Allocation
		var amount string
		if err := rows.Scan(&a.ReceiptID, &a.Component, &a.YearNumber, &amount, &a.Cancelled); err != nil {
			return nil, err
		}
		if err := parseAmounts([]*fees.Money{&a.Amount}, []string{amount}); err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func (s *Store) CancelAllocations(ctx context.Context, receiptID fees.ReceiptID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cancelAllocations(ctx, s.db, receiptID)
}

func cancelAllocations(ctx context.Context, q querier, receiptID fees.ReceiptID) error {
	_, err := q.ExecContext(ctx, `
		UPDATE fee_receipt_allocations SET cancelled = TRUE
		WHERE receipt_id = ? AND cancelled = FALSE
	`, string(receiptID))
	if err != nil {
		return fmt.Errorf("failed to cancel allocations: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (fees.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The write lock is
// held for the duration so check-then-write sequences on the same balance row
// cannot interleave.
func (s *Store) WithTx(ctx context.Context, fn func(store fees.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through the open *sql.Tx. It must not touch the
// parent's public methods: the parent lock is already held by WithTx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) ReadPlanItems(ctx context.Context, planID fees.PlanID) ([]fees.PlanItem, error) {
	return readPlanItems(ctx, ts.tx, planID)
}

func (ts *txStore) ReadOverrides(ctx context.Context, enrollmentID fees.EnrollmentID) ([]fees.Override, error) {
	return readOverrides(ctx, ts.tx, enrollmentID)
}

func (ts *txStore) UpsertOverride(ctx context.Context, o fees.Override) error {
	return upsertOverride(ctx, ts.tx, o)
}

func (ts *txStore) ReadBalances(ctx context.Context, enrollmentID fees.EnrollmentID) ([]fees.Balance, error) {
	return readBalances(ctx, ts.tx, enrollmentID)
}

func (ts *txStore) ReadBalance(ctx context.Context, enrollmentID fees.EnrollmentID, component fees.ComponentCode, year int) (*fees.Balance, error) {
	return readBalance(ctx, ts.tx, enrollmentID, component, year)
}

func (ts *txStore) UpsertBalance(ctx context.Context, b fees.Balance) error {
	return upsertBalance(ctx, ts.tx, b)
}

func (ts *txStore) AppendLedgerEvent(ctx context.Context, e fees.LedgerEvent) error {
	return appendLedgerEvent(ctx, ts.tx, e)
}

func (ts *txStore) ReadLedger(ctx context.Context, enrollmentID fees.EnrollmentID) ([]fees.LedgerEvent, error) {
	return readLedger(ctx, ts.tx, enrollmentID)
}

func (ts *txStore) InsertAdjustment(ctx context.Context, a fees.Adjustment) error {
	return insertAdjustment(ctx, ts.tx, a)
}

func (ts *txStore) GetAdjustment(ctx context.Context, id fees.AdjustmentID) (*fees.Adjustment, error) {
	return getAdjustment(ctx, ts.tx, id)
}

func (ts *txStore) UpdateAdjustment(ctx context.Context, a fees.Adjustment) error {
	return updateAdjustment(ctx, ts.tx, a)
}

func (ts *txStore) FindActiveReceiptByNumber(ctx context.Context, number string) (*fees.Receipt, error) {
	return findActiveReceiptByNumber(ctx, ts.tx, number)
}

func (ts *txStore) InsertReceipt(ctx context.Context, r fees.Receipt) error {
	return insertReceipt(ctx, ts.tx, r)
}

func (ts *txStore) GetReceipt(ctx context.Context, id fees.ReceiptID) (*fees.Receipt, error) {
	return getReceipt(ctx, ts.tx, id)
}

func (ts *txStore) UpdateReceipt(ctx context.Context, r fees.Receipt) error {
	return updateReceipt(ctx, ts.tx, r)
}

func (ts *txStore) InsertAllocation(ctx context.Context, a fees.Allocation) error {
	return insertAllocation(ctx, ts.tx, a)
}

func (ts *txStore) ReadAllocations(ctx context.Context, receiptID fees.ReceiptID) ([]fees.Allocation, error) {
	return readAllocations(ctx, ts.tx, receiptID)
}

func (ts *txStore) CancelAllocations(ctx context.Context, receiptID fees.ReceiptID) error {
	return cancelAllocations(ctx, ts.tx, receiptID)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo). The catalog is kept.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"fee_receipt_allocations", "fee_receipts", "fee_adjustments",
		"fee_ledger_events", "fee_current_balances", "student_fee_overrides",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// parseAmounts parses decimal TEXT columns into their destinations. A corrupt
// amount fails the read rather than scanning as zero.
func parseAmounts(dst []*fees.Money, src []string) error {
	for i := range src {
		m, err := fees.ParseMoney(src[i])
		if err != nil {
			return err
		}
		*dst[i] = m
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
