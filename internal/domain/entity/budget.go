package entity

import "github.com/shopspring/decimal"

// BudgetStatus representa um orçamento com o gasto real e o previsto.
type BudgetStatus struct {
	Name        string          `json:"name"`
	Limit       decimal.Decimal `json:"limit"`
	Actual      decimal.Decimal `json:"actual"`
	Forecast    decimal.Decimal `json:"forecast"`
	Unit        string          `json:"unit"`
	UsedPercent float64         `json:"used_percent"`
}

// OverBudget reports whether actual spend has reached the limit.
func (b BudgetStatus) OverBudget() bool {
	return !b.Limit.IsZero() && b.Actual.GreaterThanOrEqual(b.Limit)
}
