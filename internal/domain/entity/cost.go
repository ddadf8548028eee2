package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout é o formato de data usado nas APIs de billing e no serviço de forecast.
const DateLayout = "2006-01-02"

// Provider identifica o provedor de nuvem de uma conta.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderGCP   Provider = "gcp"
	ProviderAzure Provider = "azure"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAWS, ProviderGCP, ProviderAzure:
		return true
	}
	return false
}

// Granularity é a resolução temporal das séries de custo.
type Granularity string

const (
	GranularityDaily   Granularity = "DAILY"
	GranularityMonthly Granularity = "MONTHLY"
)

// Truncate normaliza t para o início do período da granularidade (UTC).
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	if g == GranularityMonthly {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Next retorna o início do período seguinte a t.
func (g Granularity) Next(t time.Time) time.Time {
	if g == GranularityMonthly {
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 1)
}

// Dimension é o eixo de agrupamento dos custos.
type Dimension string

const (
	DimensionService Dimension = "SERVICE"
	DimensionRegion  Dimension = "REGION"
	DimensionTag     Dimension = "TAG"
)

// Valid reports whether d is a supported group-by dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionService, DimensionRegion, DimensionTag:
		return true
	}
	return false
}

// DateRange é um intervalo semiaberto [Start, End) em dias UTC.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange cria um intervalo truncando as extremidades para o dia.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{
		Start: GranularityDaily.Truncate(start),
		End:   GranularityDaily.Truncate(end),
	}
}

// Days retorna o número de dias cobertos pelo intervalo.
func (r DateRange) Days() int {
	if !r.End.After(r.Start) {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// Validate verifica se o intervalo não está vazio.
func (r DateRange) Validate() error {
	if !r.End.After(r.Start) {
		return fmt.Errorf("invalid date range %s..%s: end must be after start",
			r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return nil
}

// Contains reports whether t falls inside [Start, End).
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Chunks divide o intervalo em janelas consecutivas de no máximo maxDays dias.
// As janelas não se sobrepõem e cobrem exatamente o intervalo original.
func (r DateRange) Chunks(maxDays int) []DateRange {
	if r.Days() == 0 {
		return nil
	}
	if maxDays <= 0 || r.Days() <= maxDays {
		return []DateRange{r}
	}

	var chunks []DateRange
	for start := r.Start; start.Before(r.End); {
		end := start.AddDate(0, 0, maxDays)
		if end.After(r.End) {
			end = r.End
		}
		chunks = append(chunks, DateRange{Start: start, End: end})
		start = end
	}
	return chunks
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
}

// CostQuery descreve uma consulta a um provedor para uma conta.
type CostQuery struct {
	GroupBy     Dimension
	TagKey      string
	Region      string
	Range       DateRange
	Granularity Granularity
}

// CostRecord é um custo normalizado produzido por um cliente de provedor.
type CostRecord struct {
	DimensionKey string          `json:"dimension_key"`
	Date         time.Time       `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

// SeriesPoint é uma entrada de uma série histórica.
type SeriesPoint struct {
	Date    time.Time       `json:"date"`
	Amount  decimal.Decimal `json:"amount"`
	Anomaly bool            `json:"anomaly"`
}

// CostSeries é a série temporal ordenada de uma dimensão.
type CostSeries struct {
	DimensionKey string        `json:"dimension_key"`
	Granularity  Granularity   `json:"granularity"`
	Points       []SeriesPoint `json:"points"`
}

// Total soma todos os pontos da série.
func (s CostSeries) Total() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Points {
		total = total.Add(p.Amount)
	}
	return total
}

// LastDate retorna a data do último ponto, se existir.
func (s CostSeries) LastDate() (time.Time, bool) {
	if len(s.Points) == 0 {
		return time.Time{}, false
	}
	return s.Points[len(s.Points)-1].Date, true
}

// ForecastPoint é uma previsão para uma data estritamente futura.
type ForecastPoint struct {
	Date      time.Time       `json:"date"`
	Predicted decimal.Decimal `json:"predicted"`
	Lower     decimal.Decimal `json:"lower"`
	Upper     decimal.Decimal `json:"upper"`
}

// Trend classifica a direção de um custo.
type Trend string

const (
	TrendUp     Trend = "UP"
	TrendDown   Trend = "DOWN"
	TrendStable Trend = "STABLE"
)

// TrendThresholdPercent é a variação mínima para considerar uma tendência.
const TrendThresholdPercent = 5.0

// TrendOf classifica uma variação percentual.
func TrendOf(changePercent float64) Trend {
	switch {
	case changePercent > TrendThresholdPercent:
		return TrendUp
	case changePercent < -TrendThresholdPercent:
		return TrendDown
	default:
		return TrendStable
	}
}

// ForecastSummary resume os pontos previstos.
type ForecastSummary struct {
	Total   decimal.Decimal `json:"total"`
	Average decimal.Decimal `json:"average"`
	Trend   Trend           `json:"trend"`
}

// SummarizeForecast calcula total, média e tendência comparando a segunda
// metade da previsão com a primeira.
func SummarizeForecast(points []ForecastPoint) ForecastSummary {
	summary := ForecastSummary{Total: decimal.Zero, Average: decimal.Zero, Trend: TrendStable}
	if len(points) == 0 {
		return summary
	}
	for _, p := range points {
		summary.Total = summary.Total.Add(p.Predicted)
	}
	summary.Average = summary.Total.Div(decimal.NewFromInt(int64(len(points)))).Round(2)

	if len(points) < 2 {
		return summary
	}
	half := len(points) / 2
	first, second := decimal.Zero, decimal.Zero
	for _, p := range points[:half] {
		first = first.Add(p.Predicted)
	}
	for _, p := range points[len(points)-half:] {
		second = second.Add(p.Predicted)
	}
	summary.Trend = TrendOf(PercentChange(first, second))
	return summary
}

// PercentChange retorna a variação percentual de previous para current.
// Quando previous é zero retorna 0.
func PercentChange(previous, current decimal.Decimal) float64 {
	if previous.IsZero() {
		return 0
	}
	change, _ := current.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	return change
}

// MonthlyCost representa o custo de um mês, usado na análise de tendência.
type MonthlyCost struct {
	Month         string          `json:"month"`
	Amount        decimal.Decimal `json:"amount"`
	ChangePercent *float64        `json:"change_percent,omitempty"`
	Anomaly       bool            `json:"anomaly"`
}
