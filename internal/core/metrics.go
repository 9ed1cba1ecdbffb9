package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RiskTier classifies tracked budget utilization.
type RiskTier string

const (
	Safe      RiskTier = "Safe"
	OverLimit RiskTier = "OverLimit"
)

// Budget card levels. Presentation hints only, never part of RiskTier.
const (
	LevelOK      = "ok"
	LevelWarning = "warning"
	LevelDanger  = "danger"
	LevelOver    = "over"
)

var (
	hundred          = decimal.NewFromInt(100)
	warningThreshold = decimal.NewFromInt(85)
	dangerThreshold  = decimal.NewFromInt(90)
)

// CategoryAmount represents an amount aggregated by primary category.
type CategoryAmount struct {
	Category PrimaryCategory `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// BudgetStatus is the per-budget progress shown on a budget card.
type BudgetStatus struct {
	Category  string          `json:"category"`
	Limit     decimal.Decimal `json:"limit"`
	Spent     decimal.Decimal `json:"spent"`
	Remaining decimal.Decimal `json:"remaining"`
	Percent   int             `json:"percent"` // capped at 100
	Over      bool            `json:"over"`
	Level     string          `json:"level"`
}

// Snapshot holds every metric derived from one load. It is recomputed, never stored.
type Snapshot struct {
	SpendingByCategory map[PrimaryCategory]decimal.Decimal `json:"spending_by_category"`
	Chart              []CategoryAmount                    `json:"chart"`
	TotalOutflow       decimal.Decimal                     `json:"total_outflow"`
	TotalBudgetLimit   decimal.Decimal                     `json:"total_budget_limit"`
	TrackedSpending    decimal.Decimal                     `json:"tracked_spending"`
	UtilizationPercent int64                               `json:"utilization_percent"`
	RiskTier           RiskTier                            `json:"risk_tier"`
	Budgets            []BudgetStatus                      `json:"budgets"`
}

// ComputeMetrics derives the dashboard metrics from raw transactions and budgets.
//
// Chart buckets use the normalized category while tracked spending matches
// budgets by the exact raw category string. The two views deliberately differ:
// a "Groceries" transaction lands in the Misc bucket but is tracked only if a
// budget named "Groceries" exists.
//
// Pure and deterministic; empty inputs yield zero metrics and the Safe tier.
func ComputeMetrics(txs []Transaction, budgets []Budget) Snapshot {
	snap := Snapshot{
		SpendingByCategory: make(map[PrimaryCategory]decimal.Decimal),
		TotalOutflow:       decimal.Zero,
		TotalBudgetLimit:   decimal.Zero,
		TrackedSpending:    decimal.Zero,
		RiskTier:           Safe,
	}

	for _, t := range txs {
		cat := Normalize(t.Category)
		snap.SpendingByCategory[cat] = snap.SpendingByCategory[cat].Add(t.Amount)
		snap.TotalOutflow = snap.TotalOutflow.Add(t.Amount)
	}

	for _, c := range primaryCategories {
		if amount, ok := snap.SpendingByCategory[c]; ok {
			snap.Chart = append(snap.Chart, CategoryAmount{Category: c, Amount: amount})
		}
	}

	budgeted := make(map[string]struct{}, len(budgets))
	for _, b := range budgets {
		snap.TotalBudgetLimit = snap.TotalBudgetLimit.Add(b.Limit)
		budgeted[b.Category] = struct{}{}
	}

	for _, t := range txs {
		if _, ok := budgeted[t.Category]; ok {
			snap.TrackedSpending = snap.TrackedSpending.Add(t.Amount)
		}
	}

	snap.UtilizationPercent = Utilization(snap.TrackedSpending, snap.TotalBudgetLimit)
	snap.RiskTier = Risk(snap.UtilizationPercent)

	for _, b := range budgets {
		spent := snap.SpendingByCategory[PrimaryCategory(b.Category)]
		snap.Budgets = append(snap.Budgets, budgetStatus(b, spent))
	}

	return snap
}

// Utilization returns round(spent / limit * 100), or 0 when limit is not positive.
// Rounding is half away from zero.
func Utilization(spent, limit decimal.Decimal) int64 {
	if !limit.IsPositive() {
		return 0
	}
	return spent.Mul(hundred).Div(limit).Round(0).IntPart()
}

// Risk classifies a utilization percentage.
func Risk(utilization int64) RiskTier {
	if utilization > 100 {
		return OverLimit
	}
	return Safe
}

// budgetStatus builds a card from the normalized bucket total, so a budget
// named after a non-primary label always shows zero spend.
func budgetStatus(b Budget, spent decimal.Decimal) BudgetStatus {
	status := BudgetStatus{
		Category:  b.Category,
		Limit:     b.Limit,
		Spent:     spent,
		Remaining: b.Limit.Sub(spent),
		Over:      spent.GreaterThan(b.Limit),
		Level:     LevelOK,
	}

	pct := decimal.Zero
	if b.Limit.IsPositive() {
		pct = decimal.Min(spent.Mul(hundred).Div(b.Limit), hundred)
	}
	status.Percent = int(pct.Round(0).IntPart())

	switch {
	case status.Over:
		status.Level = LevelOver
	case pct.GreaterThan(dangerThreshold):
		status.Level = LevelDanger
	case pct.GreaterThan(warningThreshold):
		status.Level = LevelWarning
	}
	return status
}

// DisplayName picks the greeting name for a user: full name, else the local
// part of the email, else "User".
func DisplayName(email, fullName string) string {
	if name := strings.TrimSpace(fullName); name != "" {
		return name
	}
	if local, _, _ := strings.Cut(strings.TrimSpace(email), "@"); local != "" {
		return local
	}
	return "User"
}
