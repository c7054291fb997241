/*
reconcile.go - The reconciliation merge

PURPOSE:
  Produces the authoritative "what does this student owe" view: one row per
  distinct (component, year), merged from three independent sources - the
  fee catalog, the student's overrides, and the accumulated balances.

KEY INSIGHT:
  The merge is a PURE FUNCTION over three keyed collections. It takes no
  storage handle, performs no I/O, and returns no errors: absent sources
  simply default to zero. This keeps it deterministic and unit-testable
  without a database.

ALGORITHM:
  1. Seed from plan items: original = base amount, actual defaults to base.
  2. Merge overrides: effective = max(0, override - discount) supersedes
     the base. A component present only via an override still appears.
  3. Merge balances: for years up to the student's current academic year,
     paid/outstanding are copied verbatim. For FUTURE years the view forces
     paid = 0 and outstanding = actual amount regardless of any stored
     value. This is a hard invariant, not a default.
  4. Sort by (year asc, component priority, code).

ONE-TIME COMPONENTS:
  SECURITY and OTHER are charged once, in year 1 only. They appear exactly
  once even inside a multi-year plan.

SEE ALSO:
  - types.go: FeeDetail row shape, component priority
  - ledger.go: How mutations keep the underlying balances consistent
*/
package fees

import "sort"

// =============================================================================
// RECONCILED VIEW
// =============================================================================

// FeeDetail is one row of the reconciled view: what the student owes for one
// component in one year, after overrides, against what has been paid.
type FeeDetail struct {
	Component      ComponentCode
	YearNumber     int
	OriginalAmount Money // catalog base
	Amount         Money // actual: override-effective, or base if no override
	OverrideAmount Money
	DiscountAmount Money
	Paid           Money
	Outstanding    Money
	HasOverride    bool
	FutureYear     bool
}

// bucketKey identifies one (component, year) fee bucket.
type bucketKey struct {
	Component ComponentCode
	Year      int
}

// =============================================================================
// RECONCILIATION ENGINE
// =============================================================================

// ReconciliationEngine merges catalog, overrides, and balances into the
// per-bucket fee detail view.
type ReconciliationEngine struct{}

// Reconcile produces a deterministic, sorted list of fee details.
//
// currentYear is the student's current academic year (1-based). Buckets in
// later years are reported as entirely unpaid with the full actual amount
// outstanding, regardless of stored balance values.
func (ReconciliationEngine) Reconcile(items []PlanItem, overrides []Override, balances []Balance, currentYear int) []FeeDetail {
	rows := make(map[bucketKey]*FeeDetail)

	// 1. Seed from the catalog.
	for _, item := range items {
		year := item.YearNumber
		if item.Component.OneTime() {
			if year > 1 {
				// One-time components appear once; later-year catalog rows
				// are collapsed into year 1.
				continue
			}
			year = 1
		}
		k := bucketKey{Component: item.Component, Year: year}
		if _, ok := rows[k]; ok {
			continue
		}
		rows[k] = &FeeDetail{
			Component:      item.Component,
			YearNumber:     year,
			OriginalAmount: item.Amount,
			Amount:         item.Amount,
		}
	}

	// 2. Merge overrides. The effective amount supersedes the base; a
	// component with no catalog item still gets a row.
	for _, o := range overrides {
		year := o.YearNumber
		if o.Component.OneTime() {
			year = 1
		}
		k := bucketKey{Component: o.Component, Year: year}
		row, ok := rows[k]
		if !ok {
			row = &FeeDetail{Component: o.Component, YearNumber: year}
			rows[k] = row
		}
		row.Amount = o.Effective()
		row.OverrideAmount = o.OverrideAmount
		row.DiscountAmount = o.DiscountAmount
		row.HasOverride = true
	}

	// 3. Merge balances for current and past years.
	for _, b := range balances {
		k := bucketKey{Component: b.Component, Year: b.YearNumber}
		row, ok := rows[k]
		if !ok {
			// Balance for a bucket absent from catalog and overrides:
			// surface it rather than hide money already charged.
			row = &FeeDetail{
				Component:      b.Component,
				YearNumber:     b.YearNumber,
				OriginalAmount: b.OriginalAmount,
				Amount:         b.Charged,
			}
			rows[k] = row
		}
		if b.YearNumber <= currentYear {
			row.Paid = b.Paid
			row.Outstanding = b.Outstanding
		}
	}

	// 3b. Future-year forcing. Applies to every future bucket, including
	// those with stale stored balances.
	for _, row := range rows {
		if row.YearNumber > currentYear {
			row.Paid = Zero()
			row.Outstanding = row.Amount
			row.FutureYear = true
		}
	}

	// 4. Deterministic order.
	out := make([]FeeDetail, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].YearNumber != out[j].YearNumber {
			return out[i].YearNumber < out[j].YearNumber
		}
		pi, pj := out[i].Component.Priority(), out[j].Component.Priority()
		if pi != pj {
			return pi < pj
		}
		return out[i].Component < out[j].Component
	})
	return out
}

// ReconcileTotals sums a reconciled view into headline figures.
type Totals struct {
	Charged     Money
	Paid        Money
	Outstanding Money
}

// TotalsOf computes the headline totals for a reconciled view.
func TotalsOf(details []FeeDetail) Totals {
	t := Totals{Charged: Zero(), Paid: Zero(), Outstanding: Zero()}
	for _, d := range details {
		t.Charged = t.Charged.Add(d.Amount)
		t.Paid = t.Paid.Add(d.Paid)
		t.Outstanding = t.Outstanding.Add(d.Outstanding)
	}
	return t
}
