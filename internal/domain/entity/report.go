package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReportType identifica o consumidor de um relatório agregado.
type ReportType string

const (
	ReportTypeDashboard ReportType = "dashboard"
	ReportTypeFinOps    ReportType = "finops"
)

// Valid reports whether t is a known report type.
func (t ReportType) Valid() bool {
	return t == ReportTypeDashboard || t == ReportTypeFinOps
}

// ReportRequest é a entrada do Aggregator.
type ReportRequest struct {
	AccountID    string
	ReportType   ReportType
	GroupBy      Dimension
	TagKey       string
	ForceRefresh bool
	Days         int
	Periods      int
}

// CacheKey returns the report's cache key. The window parameters are folded
// into the report type segment so reports over different windows never collide.
func (r ReportRequest) CacheKey() string {
	reportType := fmt.Sprintf("%s-%dd-%dp", r.ReportType, r.Days, r.Periods)
	return CacheKey(r.AccountID, reportType, r.GroupBy, r.TagKey)
}

// KPIs agrupa os indicadores principais do relatório.
type KPIs struct {
	LastNDays         decimal.Decimal `json:"last_n_days"`
	PreviousNDays     decimal.Decimal `json:"previous_n_days"`
	ChangePercent     *float64        `json:"change_percent,omitempty"`
	MonthToDate       decimal.Decimal `json:"month_to_date"`
	LastMonth         decimal.Decimal `json:"last_month"`
	Forecasted        decimal.Decimal `json:"forecasted"`
	ProjectedMonthEnd decimal.Decimal `json:"projected_month_end"`
}

// BreakdownItem é uma linha do detalhamento de custos por dimensão.
type BreakdownItem struct {
	Name           string          `json:"name"`
	Amount         decimal.Decimal `json:"amount"`
	Percentage     float64         `json:"percentage"`
	PreviousAmount decimal.Decimal `json:"previous_amount"`
	ChangePercent  float64         `json:"change_percent"`
	Trend          Trend           `json:"trend"`
}

// Anomaly é um ponto fora da cerca IQR da sua série.
type Anomaly struct {
	DimensionKey string          `json:"dimension_key"`
	Date         time.Time       `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
}

// AggregatedReport é o relatório composto entregue aos consumidores.
type AggregatedReport struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	ReportType      ReportType      `json:"report_type"`
	GroupBy         Dimension       `json:"group_by"`
	TagKey          string          `json:"tag_key,omitempty"`
	GeneratedAt     time.Time       `json:"generated_at"`
	Window          DateRange       `json:"window"`
	Currency        string          `json:"currency"`
	KPIs            KPIs            `json:"kpis"`
	Breakdown       []BreakdownItem `json:"breakdown"`
	TotalSeries     CostSeries      `json:"total_series"`
	Series          []CostSeries    `json:"series"`
	Forecast        []ForecastPoint `json:"forecast"`
	ForecastSummary ForecastSummary `json:"forecast_summary"`
	Anomalies       []Anomaly       `json:"anomalies"`
	MonthlyHistory  []MonthlyCost   `json:"monthly_history,omitempty"`
	Budgets         []BudgetStatus  `json:"budgets,omitempty"`
	Partial         bool            `json:"partial"`
	FailedAccounts  []FailedAccount `json:"failed_accounts"`
}
