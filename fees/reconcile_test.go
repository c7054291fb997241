package fees_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpine/fee-engine/fees"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func money(v float64) fees.Money { return fees.NewMoney(v) }

func planItem(id string, component fees.ComponentCode, year int, amount float64) fees.PlanItem {
	return fees.PlanItem{
		ID:         fees.PlanItemID(id),
		PlanID:     "plan-1",
		Component:  component,
		YearNumber: year,
		Amount:     money(amount),
	}
}

func findDetail(t *testing.T, details []fees.FeeDetail, component fees.ComponentCode, year int) fees.FeeDetail {
	t.Helper()
	for _, d := range details {
		if d.Component == component && d.YearNumber == year {
			return d
		}
	}
	t.Fatalf("no detail row for %s year %d", component, year)
	return fees.FeeDetail{}
}

// =============================================================================
// MERGE TESTS
// =============================================================================

func TestReconcile_CatalogOnly(t *testing.T) {
	// GIVEN: A catalog with TUITION for years 1-2 and no overrides/balances
	// WHEN: Reconciling at current year 1
	// THEN: Each row shows the base amount, nothing paid, full outstanding in year 1

	engine := fees.ReconciliationEngine{}
	items := []fees.PlanItem{
		planItem("pi-1", fees.ComponentTuition, 1, 100000),
		planItem("pi-2", fees.ComponentTuition, 2, 110000),
	}

	details := engine.Reconcile(items, nil, nil, 1)
	require.Len(t, details, 2)

	y1 := findDetail(t, details, fees.ComponentTuition, 1)
	assert.True(t, y1.Amount.Equal(money(100000)))
	assert.True(t, y1.Paid.IsZero())

	y2 := findDetail(t, details, fees.ComponentTuition, 2)
	assert.True(t, y2.FutureYear)
	assert.True(t, y2.Outstanding.Equal(money(110000)), "future year owes the full amount")
}

func TestReconcile_PaymentReflected(t *testing.T) {
	// GIVEN: TUITION year-1 base 100000 and a balance with 40000 paid
	// WHEN: Reconciling
	// THEN: outstanding = 60000 (Scenario: plain payment against catalog)

	engine := fees.ReconciliationEngine{}
	items := []fees.PlanItem{planItem("pi-1", fees.ComponentTuition, 1, 100000)}
	balances := []fees.Balance{{
		EnrollmentID: "enr-1",
		Component:    fees.ComponentTuition,
		YearNumber:   1,
		Charged:      money(100000),
		Paid:         money(40000),
		Outstanding:  money(60000),
	}}

	details := engine.Reconcile(items, nil, balances, 1)
	row := findDetail(t, details, fees.ComponentTuition, 1)
	assert.True(t, row.Paid.Equal(money(40000)))
	assert.True(t, row.Outstanding.Equal(money(60000)))
}

func TestReconcile_OverrideSupersedesBase(t *testing.T) {
	// GIVEN: TUITION base 100000 with an override to 80000 and a 5000 discount
	// WHEN: Reconciling
	// THEN: the actual amount is the override effective (75000); the base is kept

	engine := fees.ReconciliationEngine{}
	items := []fees.PlanItem{planItem("pi-1", fees.ComponentTuition, 1, 100000)}
	overrides := []fees.Override{{
		EnrollmentID:   "enr-1",
		PlanItemID:     "pi-1",
		Component:      fees.ComponentTuition,
		YearNumber:     1,
		OverrideAmount: money(80000),
		DiscountAmount: money(5000),
	}}

	details := engine.Reconcile(items, overrides, nil, 1)
	row := findDetail(t, details, fees.ComponentTuition, 1)
	assert.True(t, row.HasOverride)
	assert.True(t, row.Amount.Equal(money(75000)))
	assert.True(t, row.OriginalAmount.Equal(money(100000)))
}

func TestReconcile_OverrideOnlyComponentGetsRow(t *testing.T) {
	// GIVEN: An override for a component absent from the catalog
	// WHEN: Reconciling
	// THEN: The component still appears, priced by the override

	engine := fees.ReconciliationEngine{}
	overrides := []fees.Override{{
		EnrollmentID:   "enr-1",
		PlanItemID:     "pi-x",
		Component:      fees.ComponentTransport,
		YearNumber:     1,
		OverrideAmount: money(12000),
	}}

	details := engine.Reconcile(nil, overrides, nil, 1)
	require.Len(t, details, 1)
	assert.Equal(t, fees.ComponentTransport, details[0].Component)
	assert.True(t, details[0].Amount.Equal(money(12000)))
}

func TestReconcile_OneTimeComponentCollapsesToYearOne(t *testing.T) {
	// GIVEN: A 3-year plan with SECURITY listed per year
	// WHEN: Reconciling
	// THEN: SECURITY appears exactly once, in year 1

	engine := fees.ReconciliationEngine{}
	items := []fees.PlanItem{
		planItem("pi-1", fees.ComponentSecurity, 1, 5000),
		planItem("pi-2", fees.ComponentSecurity, 2, 5000),
		planItem("pi-3", fees.ComponentSecurity, 3, 5000),
	}

	details := engine.Reconcile(items, nil, nil, 1)
	require.Len(t, details, 1)
	assert.Equal(t, 1, details[0].YearNumber)
}

func TestReconcile_FutureYearForcing(t *testing.T) {
	// GIVEN: A stale stored balance claiming year-2 has been paid
	// WHEN: Reconciling at current year 1
	// THEN: Year 2 is forced to paid=0, outstanding=amount (hard invariant)

	engine := fees.ReconciliationEngine{}
	items := []fees.PlanItem{
		planItem("pi-1", fees.ComponentTuition, 1, 100000),
		planItem("pi-2", fees.ComponentTuition, 2, 110000),
	}
	balances := []fees.Balance{{
		EnrollmentID: "enr-1",
		Component:    fees.ComponentTuition,
		YearNumber:   2,
		Charged:      money(110000),
		Paid:         money(110000),
		Outstanding:  money(0),
	}}

	details := engine.Reconcile(items, nil, balances, 1)
	y2 := findDetail(t, details, fees.ComponentTuition, 2)
	assert.True(t, y2.FutureYear)
	assert.True(t, y2.Paid.IsZero(), "future years can have nothing paid")
	assert.True(t, y2.Outstanding.Equal(money(110000)))
}

func TestReconcile_BalanceWithoutCatalogRowSurfaces(t *testing.T) {
	// GIVEN: A charged balance for a bucket with no catalog item or override
	// WHEN: Reconciling
	// THEN: The bucket appears rather than hiding money already charged

	engine := fees.ReconciliationEngine{}
	balances := []fees.Balance{{
		EnrollmentID: "enr-1",
		Component:    fees.ComponentMisc,
		YearNumber:   1,
		Charged:      money(1500),
		Paid:         money(500),
		Outstanding:  money(1000),
	}}

	details := engine.Reconcile(nil, nil, balances, 1)
	require.Len(t, details, 1)
	assert.True(t, details[0].Amount.Equal(money(1500)))
	assert.True(t, details[0].Outstanding.Equal(money(1000)))
}

func TestReconcile_DeterministicOrder(t *testing.T) {
	// GIVEN: Catalog rows inserted out of order
	// WHEN: Reconciling twice
	// THEN: Rows come back sorted by (year, component priority) both times

	engine := fees.ReconciliationEngine{}
	items := []fees.PlanItem{
		planItem("pi-3", fees.ComponentTuition, 2, 110000),
		planItem("pi-2", fees.ComponentTuition, 1, 100000),
		planItem("pi-1", fees.ComponentAdmission, 1, 20000),
		planItem("pi-4", fees.ComponentSecurity, 1, 5000),
	}

	first := engine.Reconcile(items, nil, nil, 2)
	second := engine.Reconcile(items, nil, nil, 2)
	require.Equal(t, first, second)

	assert.Equal(t, fees.ComponentAdmission, first[0].Component)
	assert.Equal(t, fees.ComponentTuition, first[1].Component)
	assert.Equal(t, fees.ComponentSecurity, first[2].Component)
	assert.Equal(t, 2, first[3].YearNumber)
}

func TestTotalsOf(t *testing.T) {
	// GIVEN: A reconciled view
	// WHEN: Summing totals
	// THEN: Charged/paid/outstanding add across rows

	details := []fees.FeeDetail{
		{Amount: money(100000), Paid: money(40000), Outstanding: money(60000)},
		{Amount: money(5000), Paid: money(5000), Outstanding: money(0)},
	}
	totals := fees.TotalsOf(details)
	assert.True(t, totals.Charged.Equal(money(105000)))
	assert.True(t, totals.Paid.Equal(money(45000)))
	assert.True(t, totals.Outstanding.Equal(money(60000)))
}
