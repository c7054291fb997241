// Package store provides fees.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/alpine/fee-engine/fees"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	plans       map[fees.PlanID][]fees.PlanItem
	overrides   map[overrideKey]fees.Override
	balances    map[balanceKey]fees.Balance
	events      []fees.LedgerEvent
	adjustments map[fees.AdjustmentID]fees.Adjustment
	receipts    map[fees.ReceiptID]fees.Receipt
	allocations map[fees.ReceiptID][]fees.Allocation
}

type overrideKey struct {
	Enrollment fees.EnrollmentID
	PlanItem   fees.PlanItemID
}

type balanceKey struct {
	Enrollment fees.EnrollmentID
	Component  fees.ComponentCode
	Year       int
}

func NewMemory() *Memory {
	return &Memory{
		plans:       make(map[fees.PlanID][]fees.PlanItem),
		overrides:   make(map[overrideKey]fees.Override),
		balances:    make(map[balanceKey]fees.Balance),
		adjustments: make(map[fees.AdjustmentID]fees.Adjustment),
		receipts:    make(map[fees.ReceiptID]fees.Receipt),
		allocations: make(map[fees.ReceiptID][]fees.Allocation),
	}
}

// SeedPlanItems loads catalog rows. Test/dev helper; the catalog is
// read-only through the fees.PlanRepository interface.
func (m *Memory) SeedPlanItems(planID fees.PlanID, items ...fees.PlanItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range items {
		items[i].PlanID = planID
	}
	m.plans[planID] = append(m.plans[planID], items...)
}

// SavePlanItem inserts or replaces the catalog row for the item's
// (plan, component, year). Admin/seeding path.
func (m *Memory) SavePlanItem(_ context.Context, item fees.PlanItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.plans[item.PlanID]
	for i := range list {
		if list[i].Component == item.Component && list[i].YearNumber == item.YearNumber {
			list[i] = item
			return nil
		}
	}
	m.plans[item.PlanID] = append(list, item)
	return nil
}

// Reset clears all transactional data. The catalog survives.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides = make(map[overrideKey]fees.Override)
	m.balances = make(map[balanceKey]fees.Balance)
	m.events = nil
	m.adjustments = make(map[fees.AdjustmentID]fees.Adjustment)
	m.receipts = make(map[fees.ReceiptID]fees.Receipt)
	m.allocations = make(map[fees.ReceiptID][]fees.Allocation)
	return nil
}

// =============================================================================
// PLAN REPOSITORY
// =============================================================================

func (m *Memory) ReadPlanItems(_ context.Context, planID fees.PlanID) ([]fees.PlanItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readPlanItemsLocked(planID)
}

func (m *Memory) readPlanItemsLocked(planID fees.PlanID) ([]fees.PlanItem, error) {
	items := make([]fees.PlanItem, len(m.plans[planID]))
	copy(items, m.plans[planID])
	return items, nil
}

// =============================================================================
// OVERRIDE STORE
// =============================================================================

func (m *Memory) ReadOverrides(_ context.Context, enrollmentID fees.EnrollmentID) ([]fees.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readOverridesLocked(enrollmentID)
}

func (m *Memory) readOverridesLocked(enrollmentID fees.EnrollmentID) ([]fees.Override, error) {
	var out []fees.Override
	for k, o := range m.overrides {
		if k.Enrollment == enrollmentID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].YearNumber != out[j].YearNumber {
			return out[i].YearNumber < out[j].YearNumber
		}
		return out[i].Component < out[j].Component
	})
	return out, nil
}

func (m *Memory) UpsertOverride(_ context.Context, o fees.Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertOverrideLocked(o)
}

func (m *Memory) upsertOverrideLocked(o fees.Override) error {
	m.overrides[overrideKey{Enrollment: o.EnrollmentID, PlanItem: o.PlanItemID}] = o
	return nil
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (m *Memory) ReadBalances(_ context.Context, enrollmentID fees.EnrollmentID) ([]fees.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readBalancesLocked(enrollmentID)
}

func (m *Memory) readBalancesLocked(enrollmentID fees.EnrollmentID) ([]fees.Balance, error) {
	var out []fees.Balance
	for k, b := range m.balances {
		if k.Enrollment == enrollmentID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].YearNumber != out[j].YearNumber {
			return out[i].YearNumber < out[j].YearNumber
		}
		return out[i].Component.Priority() < out[j].Component.Priority()
	})
	return out, nil
}

func (m *Memory) ReadBalance(_ context.Context, enrollmentID fees.EnrollmentID, component fees.ComponentCode, year int) (*fees.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readBalanceLocked(enrollmentID, component, year)
}

func (m *Memory) readBalanceLocked(enrollmentID fees.EnrollmentID, component fees.ComponentCode, year int) (*fees.Balance, error) {
	b, ok := m.balances[balanceKey{Enrollment: enrollmentID, Component: component, Year: year}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) UpsertBalance(_ context.Context, b fees.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertBalanceLocked(b)
}

func (m *Memory) upsertBalanceLocked(b fees.Balance) error {
	m.balances[balanceKey{Enrollment: b.EnrollmentID, Component: b.Component, Year: b.YearNumber}] = b
	return nil
}

// =============================================================================
// LEDGER STORE (append-only)
// =============================================================================

func (m *Memory) AppendLedgerEvent(_ context.Context, e fees.LedgerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLedgerEventLocked(e)
}

func (m *Memory) appendLedgerEventLocked(e fees.LedgerEvent) error {
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) ReadLedger(_ context.Context, enrollmentID fees.EnrollmentID) ([]fees.LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readLedgerLocked(enrollmentID)
}

func (m *Memory) readLedgerLocked(enrollmentID fees.EnrollmentID) ([]fees.LedgerEvent, error) {
	var out []fees.LedgerEvent
	for _, e := range m.events {
		if e.EnrollmentID == enrollmentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// ADJUSTMENT STORE
// =============================================================================

func (m *Memory) InsertAdjustment(_ context.Context, a fees.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertAdjustmentLocked(a)
}

func (m *Memory) insertAdjustmentLocked(a fees.Adjustment) error {
	m.adjustments[a.ID] = a
	return nil
}

func (m *Memory) GetAdjustment(_ context.Context, id fees.AdjustmentID) (*fees.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAdjustmentLocked(id)
}

func (m *Memory) getAdjustmentLocked(id fees.AdjustmentID) (*fees.Adjustment, error) {
	a, ok := m.adjustments[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) UpdateAdjustment(_ context.Context, a fees.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAdjustmentLocked(a)
}

func (m *Memory) updateAdjustmentLocked(a fees.Adjustment) error {
	m.adjustments[a.ID] = a
	return nil
}

// =============================================================================
// RECEIPT STORE
// =============================================================================

func (m *Memory) FindActiveReceiptByNumber(_ context.Context, number string) (*fees.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findActiveReceiptByNumberLocked(number)
}

func (m *Memory) findActiveReceiptByNumberLocked(number string) (*fees.Receipt, error) {
	for _, r := range m.receipts {
		if r.ReceiptNumber == number && r.Status == fees.ReceiptActive {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) InsertReceipt(_ context.Context, r fees.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertReceiptLocked(r)
}

func (m *Memory) insertReceiptLocked(r fees.Receipt) error {
	m.receipts[r.ID] = r
	return nil
}

func (m *Memory) GetReceipt(_ context.Context, id fees.ReceiptID) (*fees.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getReceiptLocked(id)
}

func (m *Memory) getReceiptLocked(id fees.ReceiptID) (*fees.Receipt, error) {
	r, ok := m.receipts[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) UpdateReceipt(_ context.Context, r fees.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateReceiptLocked(r)
}

func (m *Memory) updateReceiptLocked(r fees.Receipt) error {
	m.receipts[r.ID] = r
	return nil
}

func (m *Memory) InsertAllocation(_ context.Context, a fees.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertAllocationLocked(a)
}

func (m *Memory) insertAllocationLocked(a fees.Allocation) error {
	m.allocations[a.ReceiptID] = append(m.allocations[a.ReceiptID], a)
	return nil
}

func (m *Memory) ReadAllocations(_ context.Context, receiptID fees.ReceiptID) ([]fees.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readAllocationsLocked(receiptID)
}

func (m *Memory) readAllocationsLocked(receiptID fees.ReceiptID) ([]fees.Allocation, error) {
	out := make([]fees.Allocation, len(m.allocations[receiptID]))
	copy(out, m.allocations[receiptID])
	return out, nil
}

func (m *Memory) CancelAllocations(_ context.Context, receiptID fees.ReceiptID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelAllocationsLocked(receiptID)
}

func (m *Memory) cancelAllocationsLocked(receiptID fees.ReceiptID) error {
	list := m.allocations[receiptID]
	for i := range list {
		list[i].Cancelled = true
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot + rollback on error. The store lock is held for
// the duration, which also serializes concurrent mutations on the same
// balance row.
func (tm *TxMemory) WithTx(_ context.Context, fn func(fees.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	plans       map[fees.PlanID][]fees.PlanItem
	overrides   map[overrideKey]fees.Override
	balances    map[balanceKey]fees.Balance
	events      []fees.LedgerEvent
	adjustments map[fees.AdjustmentID]fees.Adjustment
	receipts    map[fees.ReceiptID]fees.Receipt
	allocations map[fees.ReceiptID][]fees.Allocation
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		plans:       make(map[fees.PlanID][]fees.PlanItem, len(tm.plans)),
		overrides:   make(map[overrideKey]fees.Override, len(tm.overrides)),
		balances:    make(map[balanceKey]fees.Balance, len(tm.balances)),
		events:      append([]fees.LedgerEvent{}, tm.events...),
		adjustments: make(map[fees.AdjustmentID]fees.Adjustment, len(tm.adjustments)),
		receipts:    make(map[fees.ReceiptID]fees.Receipt, len(tm.receipts)),
		allocations: make(map[fees.ReceiptID][]fees.Allocation, len(tm.allocations)),
	}
	for k, v := range tm.plans {
		s.plans[k] = append([]fees.PlanItem{}, v...)
	}
	for k, v := range tm.overrides {
		s.overrides[k] = v
	}
	for k, v := range tm.balances {
		s.balances[k] = v
	}
	for k, v := range tm.adjustments {
		s.adjustments[k] = v
	}
	for k, v := range tm.receipts {
		s.receipts[k] = v
	}
	for k, v := range tm.allocations {
		s.allocations[k] = append([]fees.Allocation{}, v...)
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.plans = s.plans
	tm.overrides = s.overrides
	tm.balances = s.balances
	tm.events = s.events
	tm.adjustments = s.adjustments
	tm.receipts = s.receipts
	tm.allocations = s.allocations
}

// txMemoryView routes through the locked methods; the parent lock is held
// by WithTx for the whole transaction.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) ReadPlanItems(_ context.Context, planID fees.PlanID) ([]fees.PlanItem, error) {
	return tv.parent.readPlanItemsLocked(planID)
}

func (tv *txMemoryView) ReadOverrides(_ context.Context, enrollmentID fees.EnrollmentID) ([]fees.Override, error) {
	return tv.parent.readOverridesLocked(enrollmentID)
}

func (tv *txMemoryView) UpsertOverride(_ context.Context, o fees.Override) error {
	return tv.parent.upsertOverrideLocked(o)
}

func (tv *txMemoryView) ReadBalances(_ context.Context, enrollmentID fees.EnrollmentID) ([]fees.Balance, error) {
	return tv.parent.readBalancesLocked(enrollmentID)
}

func (tv *txMemoryView) ReadBalance(_ context.Context, enrollmentID fees.EnrollmentID, component fees.ComponentCode, year int) (*fees.Balance, error) {
	return tv.parent.readBalanceLocked(enrollmentID, component, year)
}

func (tv *txMemoryView) UpsertBalance(_ context.Context, b fees.Balance) error {
	return tv.parent.upsertBalanceLocked(b)
}

func (tv *txMemoryView) AppendLedgerEvent(_ context.Context, e fees.LedgerEvent) error {
	return tv.parent.appendLedgerEventLocked(e)
}

func (tv *txMemoryView) ReadLedger(_ context.Context, enrollmentID fees.EnrollmentID) ([]fees.LedgerEvent, error) {
	return tv.parent.readLedgerLocked(enrollmentID)
}

func (tv *txMemoryView) InsertAdjustment(_ context.Context, a fees.Adjustment) error {
	return tv.parent.insertAdjustmentLocked(a)
}

func (tv *txMemoryView) GetAdjustment(_ context.Context, id fees.AdjustmentID) (*fees.Adjustment, error) {
	return tv.parent.getAdjustmentLocked(id)
}

func (tv *txMemoryView) UpdateAdjustment(_ context.Context, a fees.Adjustment) error {
	return tv.parent.updateAdjustmentLocked(a)
}

func (tv *txMemoryView) FindActiveReceiptByNumber(_ context.Context, number string) (*fees.Receipt, error) {
	return tv.parent.findActiveReceiptByNumberLocked(number)
}

func (tv *txMemoryView) InsertReceipt(_ context.Context, r fees.Receipt) error {
	return tv.parent.insertReceiptLocked(r)
}

func (tv *txMemoryView) GetReceipt(_ context.Context, id fees.ReceiptID) (*fees.Receipt, error) {
	return tv.parent.getReceiptLocked(id)
}

func (tv *txMemoryView) UpdateReceipt(_ context.Context, r fees.Receipt) error {
	return tv.parent.updateReceiptLocked(r)
}

func (tv *txMemoryView) InsertAllocation(_ context.Context, a fees.Allocation) error {
	return tv.parent.insertAllocationLocked(a)
}

func (tv *txMemoryView) ReadAllocations(_ context.Context, receiptID fees.ReceiptID) ([]fees.Allocation, error) {
	return tv.parent.readAllocationsLocked(receiptID)
}

func (tv *txMemoryView) CancelAllocations(_ context.Context, receiptID fees.ReceiptID) error {
	return tv.parent.cancelAllocationsLocked(receiptID)
}
