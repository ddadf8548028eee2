package usecase

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diillson/cloud-finops-engine/internal/application/series"
	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

// minBreakdownAmount é o valor abaixo do qual uma dimensão sai do detalhamento.
var minBreakdownAmount = decimal.NewFromFloat(0.01)

const defaultCurrency = "USD"

// reportWindows são os intervalos [Start, End) usados por um relatório.
// Todos terminam em amanhã, incluindo o custo parcial de hoje.
type reportWindows struct {
	today     time.Time
	display   entity.DateRange
	previous  entity.DateRange
	month     entity.DateRange
	lastMonth entity.DateRange
	history   entity.DateRange
	fetch     entity.DateRange
	months    entity.DateRange
}

func (a *Aggregator) windowsFor(req entity.ReportRequest) reportWindows {
	today := entity.GranularityDaily.Truncate(a.opts.Now())
	end := today.AddDate(0, 0, 1)
	monthStart := entity.GranularityMonthly.Truncate(today)

	historyDays := req.Periods * 3
	if historyDays > a.opts.MaxHistoryDays {
		historyDays = a.opts.MaxHistoryDays
	}
	if historyDays < req.Days {
		historyDays = req.Days
	}

	w := reportWindows{
		today:     today,
		display:   entity.DateRange{Start: end.AddDate(0, 0, -req.Days), End: end},
		previous:  entity.DateRange{Start: end.AddDate(0, 0, -2*req.Days), End: end.AddDate(0, 0, -req.Days)},
		month:     entity.DateRange{Start: monthStart, End: end},
		lastMonth: entity.DateRange{Start: monthStart.AddDate(0, -1, 0), End: monthStart},
		history:   entity.DateRange{Start: end.AddDate(0, 0, -historyDays), End: end},
		months:    entity.DateRange{Start: monthStart.AddDate(0, -(a.opts.Report.HistoryMonths - 1), 0), End: end},
	}

	start := w.lastMonth.Start
	for _, r := range []entity.DateRange{w.previous, w.history} {
		if r.Start.Before(start) {
			start = r.Start
		}
	}
	w.fetch = entity.DateRange{Start: start, End: end}
	return w
}

func (a *Aggregator) compose(run *reportRun) *entity.AggregatedReport {
	w := run.windows
	displayTotal := series.Slice(run.flagged, w.display)

	report := &entity.AggregatedReport{
		ID:              run.id,
		AccountID:       run.req.AccountID,
		ReportType:      run.req.ReportType,
		GroupBy:         run.req.GroupBy,
		TagKey:          run.req.TagKey,
		GeneratedAt:     a.opts.Now().UTC(),
		Window:          w.display,
		Currency:        currencyOf(run.daily.Records),
		TotalSeries:     displayTotal,
		Series:          []entity.CostSeries{},
		Forecast:        run.forecast,
		ForecastSummary: entity.SummarizeForecast(run.forecast),
		Anomalies:       []entity.Anomaly{},
		Budgets:         run.budgets,
		FailedAccounts:  []entity.FailedAccount{},
	}

	for _, key := range series.SortedKeys(run.seriesByKey) {
		flagged := flagAgainstHistory(run.seriesByKey[key], w)
		report.Series = append(report.Series, flagged)
		report.Anomalies = append(report.Anomalies, series.Anomalies(flagged)...)
	}
	report.Anomalies = append(report.Anomalies, series.Anomalies(displayTotal)...)

	report.KPIs = a.kpis(run)
	report.Breakdown = a.breakdown(run, report.KPIs.LastNDays)

	if run.req.ReportType == entity.ReportTypeFinOps {
		monthly := series.Build(run.monthly.Records, entity.GranularityMonthly)
		total := series.Densify(series.Total(monthly, entity.GranularityMonthly), w.months)
		report.MonthlyHistory = series.MonthlyHistory(total)
	}

	report.FailedAccounts = mergeFailures(run.daily.FailedAccounts, run.monthly.FailedAccounts)
	report.Partial = len(report.FailedAccounts) > 0
	if report.Partial {
		run.logger.Warn().Int("failed", len(report.FailedAccounts)).Msg("report built from partial data")
	}
	return report
}

// flagAgainstHistory sinaliza a dimensão sobre a janela histórica e devolve
// só a janela exibida, que está contida nela.
func flagAgainstHistory(s entity.CostSeries, w reportWindows) entity.CostSeries {
	return series.Slice(series.FlagOutliers(series.Densify(s, w.history)), w.display)
}

func (a *Aggregator) kpis(run *reportRun) entity.KPIs {
	w := run.windows
	sum := func(r entity.DateRange) decimal.Decimal {
		return series.Slice(run.total, r).Total().Round(2)
	}

	k := entity.KPIs{
		LastNDays:     sum(w.display),
		PreviousNDays: sum(w.previous),
		MonthToDate:   sum(w.month),
		LastMonth:     sum(w.lastMonth),
		Forecasted:    decimal.Zero,
	}
	if k.PreviousNDays.GreaterThan(minBreakdownAmount) {
		change := entity.PercentChange(k.PreviousNDays, k.LastNDays)
		k.ChangePercent = &change
	}
	for _, p := range run.forecast {
		k.Forecasted = k.Forecasted.Add(p.Predicted)
	}
	k.Forecasted = k.Forecasted.Round(2)
	k.ProjectedMonthEnd = projectMonthEnd(k.MonthToDate, w.today, run.forecast)
	return k
}

// projectMonthEnd soma ao gasto do mês a previsão dos dias restantes quando ela
// cobre o mês inteiro; caso contrário extrapola a média diária do mês.
func projectMonthEnd(monthToDate decimal.Decimal, today time.Time, forecast []entity.ForecastPoint) decimal.Decimal {
	nextMonth := entity.GranularityMonthly.Truncate(today).AddDate(0, 1, 0)
	lastDay := nextMonth.AddDate(0, 0, -1)

	if len(forecast) > 0 && !forecast[len(forecast)-1].Date.Before(lastDay) {
		projected := monthToDate
		for _, p := range forecast {
			if p.Date.Before(nextMonth) {
				projected = projected.Add(p.Predicted)
			}
		}
		return projected.Round(2)
	}

	daysInMonth := lastDay.Day()
	daysElapsed := today.Day()
	return monthToDate.
		Div(decimal.NewFromInt(int64(daysElapsed))).
		Mul(decimal.NewFromInt(int64(daysInMonth))).
		Round(2)
}

func (a *Aggregator) breakdown(run *reportRun, total decimal.Decimal) []entity.BreakdownItem {
	w := run.windows
	items := []entity.BreakdownItem{}
	for key, s := range run.seriesByKey {
		amount := series.Slice(s, w.display).Total().Round(2)
		if amount.LessThanOrEqual(minBreakdownAmount) {
			continue
		}
		previous := series.Slice(s, w.previous).Total().Round(2)
		change := entity.PercentChange(previous, amount)

		item := entity.BreakdownItem{
			Name:           key,
			Amount:         amount,
			PreviousAmount: previous,
			ChangePercent:  change,
			Trend:          entity.TrendOf(change),
		}
		if total.IsPositive() {
			item.Percentage, _ = amount.Div(total).Mul(decimal.NewFromInt(100)).Round(2).Float64()
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].Amount.Equal(items[j].Amount) {
			return items[i].Amount.GreaterThan(items[j].Amount)
		}
		return items[i].Name < items[j].Name
	})
	return items
}

func currencyOf(records []entity.CostRecord) string {
	for _, r := range records {
		if r.Currency != "" {
			return r.Currency
		}
	}
	return defaultCurrency
}

// mergeFailures junta as falhas dos fan-outs sem repetir a mesma conta/região/classe.
func mergeFailures(lists ...[]entity.FailedAccount) []entity.FailedAccount {
	type key struct{ account, region, class string }
	seen := make(map[key]bool)
	merged := []entity.FailedAccount{}
	for _, list := range lists {
		for _, f := range list {
			k := key{f.AccountID, f.Region, f.Class}
			if seen[k] {
				continue
			}
			seen[k] = true
			merged = append(merged, f)
		}
	}
	return merged
}
