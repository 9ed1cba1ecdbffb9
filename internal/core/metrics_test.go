package core

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
)

func tx(amount, category string) Transaction {
	return Transaction{Amount: decimal.RequireFromString(amount), Category: category}
}

func budget(category, limit string) Budget {
	return Budget{Category: category, Limit: decimal.RequireFromString(limit)}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeMetrics_OverLimitScenario(t *testing.T) {
	txs := []Transaction{tx("500", "Food"), tx("200", "Food")}
	budgets := []Budget{budget("Food", "600")}

	snap := ComputeMetrics(txs, budgets)

	if len(snap.SpendingByCategory) != 1 || !snap.SpendingByCategory[Food].Equal(dec("700")) {
		t.Fatalf("spending by category = %v, want {Food: 700}", snap.SpendingByCategory)
	}
	if !snap.TotalOutflow.Equal(dec("700")) {
		t.Errorf("TotalOutflow = %s, want 700", snap.TotalOutflow)
	}
	if !snap.TrackedSpending.Equal(dec("700")) {
		t.Errorf("TrackedSpending = %s, want 700", snap.TrackedSpending)
	}
	if snap.UtilizationPercent != 117 {
		t.Errorf("UtilizationPercent = %d, want 117", snap.UtilizationPercent)
	}
	if snap.RiskTier != OverLimit {
		t.Errorf("RiskTier = %s, want OverLimit", snap.RiskTier)
	}
}

func TestComputeMetrics_UnknownCategoryWithoutBudgets(t *testing.T) {
	snap := ComputeMetrics([]Transaction{tx("100", "Unknown")}, nil)

	if len(snap.SpendingByCategory) != 1 || !snap.SpendingByCategory[Misc].Equal(dec("100")) {
		t.Fatalf("spending by category = %v, want {Misc: 100}", snap.SpendingByCategory)
	}
	if !snap.TotalBudgetLimit.IsZero() {
		t.Errorf("TotalBudgetLimit = %s, want 0", snap.TotalBudgetLimit)
	}
	if snap.UtilizationPercent != 0 || snap.RiskTier != Safe {
		t.Errorf("utilization=%d tier=%s, want 0 Safe", snap.UtilizationPercent, snap.RiskTier)
	}
}

func TestComputeMetrics_Empty(t *testing.T) {
	snap := ComputeMetrics(nil, nil)
	if !snap.TotalOutflow.IsZero() || !snap.TrackedSpending.IsZero() || !snap.TotalBudgetLimit.IsZero() {
		t.Fatalf("expected all-zero totals, got %+v", snap)
	}
	if snap.UtilizationPercent != 0 || snap.RiskTier != Safe {
		t.Fatalf("expected 0%% Safe, got %d %s", snap.UtilizationPercent, snap.RiskTier)
	}
	if len(snap.Chart) != 0 || len(snap.Budgets) != 0 {
		t.Fatalf("expected empty series, got chart=%v budgets=%v", snap.Chart, snap.Budgets)
	}
}

func TestComputeMetrics_TrackedUsesRawCategory(t *testing.T) {
	txs := []Transaction{
		tx("40", "Groceries"), // Misc bucket, tracked by the Groceries budget
		tx("60", "Food"),      // not tracked, no Food budget
		tx("10", "food"),      // Misc bucket, not tracked
	}
	budgets := []Budget{budget("Groceries", "100")}

	snap := ComputeMetrics(txs, budgets)

	if !snap.SpendingByCategory[Misc].Equal(dec("50")) {
		t.Errorf("Misc = %s, want 50", snap.SpendingByCategory[Misc])
	}
	if !snap.TrackedSpending.Equal(dec("40")) {
		t.Errorf("TrackedSpending = %s, want 40", snap.TrackedSpending)
	}
	if snap.UtilizationPercent != 40 {
		t.Errorf("UtilizationPercent = %d, want 40", snap.UtilizationPercent)
	}
	// Card spend comes from the normalized bucket: Groceries is not a bucket.
	if len(snap.Budgets) != 1 || !snap.Budgets[0].Spent.IsZero() {
		t.Errorf("budget card = %+v, want zero spend", snap.Budgets)
	}
}

func TestComputeMetrics_ZeroLimitIgnoresVolume(t *testing.T) {
	txs := []Transaction{tx("1000000", "Food"), tx("5", "Travel")}
	snap := ComputeMetrics(txs, []Budget{budget("Food", "0")})
	if snap.UtilizationPercent != 0 || snap.RiskTier != Safe {
		t.Fatalf("utilization=%d tier=%s, want 0 Safe", snap.UtilizationPercent, snap.RiskTier)
	}
}

func TestComputeMetrics_ChartFollowsTaxonomyOrder(t *testing.T) {
	txs := []Transaction{tx("1", "Whatever"), tx("2", "Health"), tx("3", "Food"), tx("4", "Bills")}
	snap := ComputeMetrics(txs, nil)

	var got []PrimaryCategory
	for _, c := range snap.Chart {
		got = append(got, c.Category)
	}
	want := []PrimaryCategory{Food, Bills, Health, Misc}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chart order = %v, want %v", got, want)
	}
}

func TestComputeMetrics_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	labels := []string{"Food", "Travel", "Shopping", "Bills", "Entertainment", "Health", "Misc", "Unknown", "", "FOOD", "Rent"}

	for i := 0; i < 200; i++ {
		var txs []Transaction
		for j := rng.Intn(30); j > 0; j-- {
			txs = append(txs, Transaction{
				Amount:   decimal.New(rng.Int63n(100000), -2),
				Category: labels[rng.Intn(len(labels))],
			})
		}
		var budgets []Budget
		for j := rng.Intn(4); j > 0; j-- {
			budgets = append(budgets, Budget{
				Category: labels[rng.Intn(len(labels))],
				Limit:    decimal.New(rng.Int63n(50000), -1),
			})
		}

		first := ComputeMetrics(txs, budgets)
		second := ComputeMetrics(txs, budgets)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("iteration %d: metrics not deterministic", i)
		}

		sum := decimal.Zero
		for cat, v := range first.SpendingByCategory {
			if !IsPrimary(string(cat)) {
				t.Fatalf("iteration %d: non-primary bucket %q", i, cat)
			}
			sum = sum.Add(v)
		}
		if !sum.Equal(first.TotalOutflow) {
			t.Fatalf("iteration %d: bucket sum %s != outflow %s", i, sum, first.TotalOutflow)
		}
		if first.TrackedSpending.GreaterThan(first.TotalOutflow) {
			t.Fatalf("iteration %d: tracked %s > outflow %s", i, first.TrackedSpending, first.TotalOutflow)
		}
		if first.TotalBudgetLimit.IsZero() && (first.UtilizationPercent != 0 || first.RiskTier != Safe) {
			t.Fatalf("iteration %d: zero limit must yield 0%% Safe", i)
		}
	}
}

func TestComputeMetrics_MonotonicAsTransactionsAccumulate(t *testing.T) {
	budgets := []Budget{budget("Food", "300"), budget("Rent", "1000")}
	labels := []string{"Food", "Rent", "Travel", "Other"}

	var txs []Transaction
	prev := ComputeMetrics(txs, budgets)
	for i := 0; i < 40; i++ {
		txs = append(txs, tx("12.5", labels[i%len(labels)]))
		cur := ComputeMetrics(txs, budgets)
		if cur.TotalOutflow.LessThan(prev.TotalOutflow) || cur.TrackedSpending.LessThan(prev.TrackedSpending) {
			t.Fatalf("step %d: totals decreased", i)
		}
		prev = cur
	}
}

func TestUtilizationRounding(t *testing.T) {
	cases := []struct {
		spent, limit string
		want         int64
	}{
		{"1", "200", 1},  // 0.5 rounds up
		{"1", "300", 0},  // 0.33
		{"2", "3", 67},   // 66.67
		{"600", "600", 100},
		{"601", "600", 100}, // 100.17
		{"604", "600", 101}, // 100.67
		{"10", "0", 0},
	}
	for _, tc := range cases {
		got := Utilization(dec(tc.spent), dec(tc.limit))
		if got != tc.want {
			t.Errorf("Utilization(%s, %s) = %d, want %d", tc.spent, tc.limit, got, tc.want)
		}
	}
	if Risk(100) != Safe || Risk(101) != OverLimit {
		t.Fatalf("risk boundary misplaced")
	}
}

func TestBudgetStatusLevels(t *testing.T) {
	cases := []struct {
		spent, limit string
		level        string
		percent      int
		over         bool
	}{
		{"50", "100", LevelOK, 50, false},
		{"85", "100", LevelOK, 85, false},
		{"86", "100", LevelWarning, 86, false},
		{"91", "100", LevelDanger, 91, false},
		{"100", "100", LevelDanger, 100, false},
		{"150", "100", LevelOver, 100, true},
		{"0", "0", LevelOK, 0, false},
	}
	for _, tc := range cases {
		got := budgetStatus(budget("Food", tc.limit), dec(tc.spent))
		if got.Level != tc.level || got.Percent != tc.percent || got.Over != tc.over {
			t.Errorf("spent=%s limit=%s: got level=%s percent=%d over=%v", tc.spent, tc.limit, got.Level, got.Percent, got.Over)
		}
		if !got.Remaining.Equal(dec(tc.limit).Sub(dec(tc.spent))) {
			t.Errorf("spent=%s limit=%s: remaining %s", tc.spent, tc.limit, got.Remaining)
		}
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct{ email, name, want string }{
		{"ana@example.com", "Ana Souza", "Ana Souza"},
		{"ana@example.com", "", "ana"},
		{"", "", "User"},
		{"@example.com", "  ", "User"},
	}
	for _, tc := range cases {
		if got := DisplayName(tc.email, tc.name); got != tc.want {
			t.Errorf("DisplayName(%q, %q) = %q, want %q", tc.email, tc.name, got, tc.want)
		}
	}
}
