package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/domain/repository"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

// ReportService monta relatórios agregados; implementado pelo Aggregator.
type ReportService interface {
	GetReport(ctx context.Context, req entity.ReportRequest) (*entity.AggregatedReport, error)
}

// DashboardUseCase renderiza relatórios agregados no console e os exporta.
type DashboardUseCase struct {
	reports    ReportService
	accounts   repository.AccountRepository
	exportRepo repository.ExportRepository
	console    types.ConsoleInterface
	topN       int
}

// NewDashboardUseCase creates a new dashboard use case.
func NewDashboardUseCase(
	reports ReportService,
	accounts repository.AccountRepository,
	exportRepo repository.ExportRepository,
	console types.ConsoleInterface,
	topN int,
) *DashboardUseCase {
	if topN <= 0 {
		topN = 10
	}
	return &DashboardUseCase{
		reports:    reports,
		accounts:   accounts,
		exportRepo: exportRepo,
		console:    console,
		topN:       topN,
	}
}

// InitializeTargets determina quais contas ou grupos serão processados com base nos argumentos da CLI.
func (uc *DashboardUseCase) InitializeTargets(args *types.CLIArgs) ([]string, error) {
	available := uc.accounts.List()
	if len(available) == 0 {
		return nil, types.ErrNoAccountsFound
	}

	switch {
	case args.All:
		targets := make([]string, 0, len(available))
		for _, account := range available {
			targets = append(targets, account.ID)
		}
		return targets, nil
	case args.Account != "":
		return []string{args.Account}, nil
	case len(available) == 1:
		return []string{available[0].ID}, nil
	default:
		return nil, types.InvalidRequestf("%d accounts configured; choose one with --account or use --all", len(available))
	}
}

// RunReport executa a funcionalidade principal do dashboard.
func (uc *DashboardUseCase) RunReport(ctx context.Context, args *types.CLIArgs) ([]entity.AggregatedReport, error) {
	targets, err := uc.InitializeTargets(args)
	if err != nil {
		return nil, err
	}

	status := uc.console.Status("Building cost reports...")
	progress := uc.console.ProgressWithTotal(len(targets))

	reports := make([]entity.AggregatedReport, 0, len(targets))
	for _, target := range targets {
		status.Update(fmt.Sprintf("Processing %s...", target))

		report, err := uc.reports.GetReport(ctx, entity.ReportRequest{
			AccountID:    target,
			ReportType:   entity.ReportType(strings.ToLower(args.ReportType)),
			GroupBy:      entity.Dimension(strings.ToUpper(args.GroupBy)),
			TagKey:       args.TagKey,
			ForceRefresh: args.ForceRefresh,
			Days:         args.Days,
			Periods:      args.Periods,
		})
		progress.Increment()
		if err != nil {
			progress.Stop()
			status.Stop()
			return nil, err
		}
		reports = append(reports, *report)
	}

	progress.Stop()
	status.Stop()

	uc.console.Print(uc.summaryTable(reports).Render())
	for i := range reports {
		uc.renderReport(&reports[i])
	}

	uc.export(reports, args)
	return reports, nil
}

// summaryTable cria a tabela de KPIs com uma linha por relatório.
func (uc *DashboardUseCase) summaryTable(reports []entity.AggregatedReport) types.TableInterface {
	table := uc.console.CreateTable()
	table.AddColumn("Account")
	table.AddColumn("Last N Days")
	table.AddColumn("Previous N Days")
	table.AddColumn("Change")
	table.AddColumn("Month to Date")
	table.AddColumn("Last Month")
	table.AddColumn("Forecast")
	table.AddColumn("Projected Month End")

	for _, r := range reports {
		account := r.AccountID
		if r.Partial {
			account += "\n" + pterm.FgYellow.Sprint("(partial)")
		}
		table.AddRow(
			account,
			fmt.Sprintf("%s\n(%s)", money(r.KPIs.LastNDays), r.Window),
			money(r.KPIs.PreviousNDays),
			formatChange(r.KPIs.ChangePercent),
			money(r.KPIs.MonthToDate),
			money(r.KPIs.LastMonth),
			fmt.Sprintf("%s\n(%d periods)", money(r.KPIs.Forecasted), len(r.Forecast)),
			money(r.KPIs.ProjectedMonthEnd),
		)
	}
	return table
}

// renderReport exibe o detalhamento, anomalias, previsão e falhas de um relatório.
func (uc *DashboardUseCase) renderReport(r *entity.AggregatedReport) {
	uc.console.Printf("\n%s\n", pterm.FgYellow.Sprintf("Account: %s  Group by: %s  Window: %s", r.AccountID, r.GroupBy, r.Window))

	if len(r.Breakdown) == 0 {
		uc.console.LogWarning("No costs associated with %s in this period", r.AccountID)
	} else {
		table := uc.console.CreateTable()
		table.AddColumn(breakdownTitle(r))
		table.AddColumn("Cost")
		table.AddColumn("Share")
		table.AddColumn("Previous")
		table.AddColumn("Trend")
		for i, item := range r.Breakdown {
			if i == uc.topN {
				break
			}
			table.AddRow(item.Name, money(item.Amount), fmt.Sprintf("%.2f%%", item.Percentage), money(item.PreviousAmount), formatTrend(item.Trend, item.ChangePercent))
		}
		uc.console.Print(table.Render())
		if len(r.Breakdown) > uc.topN {
			uc.console.LogInfo("%d more items not shown", len(r.Breakdown)-uc.topN)
		}
	}

	for _, a := range r.Anomalies {
		uc.console.LogWarning("Anomaly: %s spent %s on %s", a.DimensionKey, money(a.Amount), a.Date.Format(entity.DateLayout))
	}

	if len(r.Forecast) == 0 {
		uc.console.LogWarning("Forecast unavailable; showing historical data only")
	} else {
		table := uc.console.CreateTable()
		table.AddColumn("Date")
		table.AddColumn("Predicted")
		table.AddColumn("Range")
		for _, p := range r.Forecast {
			table.AddRow(p.Date.Format(entity.DateLayout), money(p.Predicted), fmt.Sprintf("%s - %s", money(p.Lower), money(p.Upper)))
		}
		uc.console.Print(table.Render())
		uc.console.LogInfo("Forecast total %s, average %s/day, trend %s",
			money(r.ForecastSummary.Total), money(r.ForecastSummary.Average), r.ForecastSummary.Trend)
	}

	if len(r.Budgets) > 0 {
		for _, b := range formatBudgets(r.Budgets) {
			uc.console.Println(b)
		}
	}
	if len(r.MonthlyHistory) > 0 {
		uc.console.DisplayTrendBars(r.MonthlyHistory)
	}

	for _, f := range r.FailedAccounts {
		region := ""
		if f.Region != "" {
			region = " (" + f.Region + ")"
		}
		uc.console.LogWarning("Some data unavailable: %s%s [%s] %s", f.AccountID, region, f.Class, f.Error)
	}
}

func (uc *DashboardUseCase) export(reports []entity.AggregatedReport, args *types.CLIArgs) {
	if args.ReportName == "" || len(args.Export) == 0 {
		return
	}
	for _, format := range args.Export {
		var (
			path string
			err  error
		)
		switch strings.ToLower(format) {
		case "csv":
			path, err = uc.exportRepo.ExportToCSV(reports, args.ReportName, args.Dir)
		case "json":
			path, err = uc.exportRepo.ExportToJSON(reports, args.ReportName, args.Dir)
		case "pdf":
			path, err = uc.exportRepo.ExportToPDF(reports, args.ReportName, args.Dir)
		default:
			uc.console.LogWarning("Unknown export format: %s", format)
			continue
		}
		if err != nil {
			uc.console.LogError("Failed to export to %s: %s", strings.ToUpper(format), err)
			continue
		}
		uc.console.LogSuccess("Successfully exported to %s: %s", strings.ToUpper(format), path)
	}
}

// Funções auxiliares de formatação

func breakdownTitle(r *entity.AggregatedReport) string {
	switch r.GroupBy {
	case entity.DimensionRegion:
		return "Region"
	case entity.DimensionTag:
		return "Tag " + r.TagKey
	default:
		return "Service"
	}
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func formatChange(change *float64) string {
	if change == nil {
		return "N/A"
	}
	switch {
	case *change > 0.01:
		return pterm.FgRed.Sprintf("⬆ %.2f%%", *change)
	case *change < -0.01:
		return pterm.FgGreen.Sprintf("⬇ %.2f%%", -*change)
	default:
		return pterm.FgYellow.Sprint("0.00%")
	}
}

func formatTrend(trend entity.Trend, change float64) string {
	switch trend {
	case entity.TrendUp:
		return pterm.FgRed.Sprintf("UP %+.2f%%", change)
	case entity.TrendDown:
		return pterm.FgGreen.Sprintf("DOWN %+.2f%%", change)
	default:
		return pterm.FgYellow.Sprint("STABLE")
	}
}

// formatBudgets formata as informações do orçamento para exibição.
func formatBudgets(budgets []entity.BudgetStatus) []string {
	lines := []string{}
	for _, b := range budgets {
		line := fmt.Sprintf("%s: %s of %s (%.1f%%)", b.Name, money(b.Actual), money(b.Limit), b.UsedPercent)
		if !b.Forecast.IsZero() {
			line += fmt.Sprintf(", forecast %s", money(b.Forecast))
		}
		if b.OverBudget() {
			line = pterm.FgRed.Sprint(line)
		}
		lines = append(lines, line)
	}
	return lines
}
