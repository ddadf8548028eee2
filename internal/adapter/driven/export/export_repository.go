package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/domain/repository"
)

// ExportRepositoryImpl implementa o ExportRepository.
type ExportRepositoryImpl struct {
	now func() time.Time
}

// NewExportRepository cria uma nova implementação do ExportRepository.
func NewExportRepository() repository.ExportRepository {
	return &ExportRepositoryImpl{now: time.Now}
}

var csvHeaders = []string{
	"Account", "Report Type", "Group By", "Window", "Currency",
	"Last N Days", "Previous N Days", "Change %", "Month to Date", "Last Month",
	"Forecast", "Projected Month End", "Cost Breakdown", "Anomalies", "Budget Status",
	"Partial", "Failed Accounts",
}

func (r *ExportRepositoryImpl) ExportToCSV(reports []entity.AggregatedReport, filename, outputDir string) (string, error) {
	outputFilename, err := r.generateFilename(filename, outputDir, "csv")
	if err != nil {
		return "", err
	}

	file, err := os.Create(outputFilename)
	if err != nil {
		return "", fmt.Errorf("error creating CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeaders); err != nil {
		return "", fmt.Errorf("error writing CSV header: %w", err)
	}

	for _, report := range reports {
		record := []string{
			report.AccountID,
			string(report.ReportType),
			string(report.GroupBy),
			report.Window.String(),
			report.Currency,
			report.KPIs.LastNDays.StringFixed(2),
			report.KPIs.PreviousNDays.StringFixed(2),
			formatChange(report.KPIs.ChangePercent),
			report.KPIs.MonthToDate.StringFixed(2),
			report.KPIs.LastMonth.StringFixed(2),
			report.KPIs.Forecasted.StringFixed(2),
			report.KPIs.ProjectedMonthEnd.StringFixed(2),
			cleanRichTags(breakdownText(report.Breakdown, "  ")),
			anomaliesText(report.Anomalies),
			budgetsText(report.Budgets),
			fmt.Sprintf("%t", report.Partial),
			failuresText(report.FailedAccounts),
		}
		if err := writer.Write(record); err != nil {
			return "", fmt.Errorf("error writing CSV row for %s: %w", report.AccountID, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("error flushing CSV file: %w", err)
	}
	return filepath.Abs(outputFilename)
}

func (r *ExportRepositoryImpl) ExportToJSON(reports []entity.AggregatedReport, filename, outputDir string) (string, error) {
	outputFilename, err := r.generateFilename(filename, outputDir, "json")
	if err != nil {
		return "", err
	}

	file, err := os.Create(outputFilename)
	if err != nil {
		return "", fmt.Errorf("error creating JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(reports); err != nil {
		return "", fmt.Errorf("error encoding JSON data: %w", err)
	}

	return filepath.Abs(outputFilename)
}

func (r *ExportRepositoryImpl) ExportToPDF(reports []entity.AggregatedReport, filename, outputDir string) (string, error) {
	outputFilename, err := r.generateFilename(filename, outputDir, "pdf")
	if err != nil {
		return "", err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	headerColor := [3]int{40, 40, 40}
	headerTextColor := [3]int{255, 255, 255}
	sectionTitleColor := [3]int{0, 0, 0}
	bodyTextColor := [3]int{50, 50, 50}
	lineColor := [3]int{200, 200, 200}

	drawSection := func(title string, content string) {
		if content == "" {
			return
		}
		pdf.SetFont("Arial", "B", 12)
		pdf.SetTextColor(sectionTitleColor[0], sectionTitleColor[1], sectionTitleColor[2])
		pdf.Cell(0, 8, title)
		pdf.Ln(7)

		pdf.SetDrawColor(lineColor[0], lineColor[1], lineColor[2])
		pdf.Line(pdf.GetX(), pdf.GetY(), pdf.GetX()+190, pdf.GetY())
		pdf.Ln(4)

		pdf.SetFont("Arial", "", 10)
		pdf.SetTextColor(bodyTextColor[0], bodyTextColor[1], bodyTextColor[2])
		pdf.MultiCell(190, 5, tr(content), "", "L", false)
		pdf.Ln(8)
	}

	for i, report := range reports {
		pdf.AddPage()

		pdf.SetFillColor(headerColor[0], headerColor[1], headerColor[2])
		pdf.SetTextColor(headerTextColor[0], headerTextColor[1], headerTextColor[2])
		pdf.SetFont("Arial", "B", 14)
		title := report.AccountID
		if len(title) > 80 {
			title = title[:77] + "..."
		}
		pdf.CellFormat(0, 12, tr(fmt.Sprintf("  %s", title)), "", 1, "L", true, 0, "")

		pdf.SetFont("Arial", "", 10)
		pdf.SetFillColor(240, 240, 240)
		pdf.SetTextColor(bodyTextColor[0], bodyTextColor[1], bodyTextColor[2])
		subtitle := fmt.Sprintf("  %s report by %s | %s | %s", report.ReportType, report.GroupBy, report.Window, report.Currency)
		pdf.CellFormat(0, 8, tr(subtitle), "", 1, "L", true, 0, "")
		pdf.Ln(10)

		pdf.SetFont("Arial", "B", 12)
		pdf.SetTextColor(sectionTitleColor[0], sectionTitleColor[1], sectionTitleColor[2])
		pdf.Cell(0, 8, "Cost Summary")
		pdf.Ln(7)
		pdf.SetDrawColor(lineColor[0], lineColor[1], lineColor[2])
		pdf.Line(pdf.GetX(), pdf.GetY(), pdf.GetX()+190, pdf.GetY())
		pdf.Ln(4)

		costTableWidth := 95.0
		pdf.SetFont("Arial", "B", 10)
		pdf.SetTextColor(bodyTextColor[0], bodyTextColor[1], bodyTextColor[2])
		pdf.CellFormat(costTableWidth, 7, "Previous period", "B", 0, "L", false, 0, "")
		pdf.CellFormat(costTableWidth, 7, "Current period", "B", 1, "L", false, 0, "")

		pdf.SetFont("Arial", "B", 16)
		pdf.CellFormat(costTableWidth, 12, tr(money(report.KPIs.PreviousNDays)), "", 0, "L", false, 0, "")

		changeText := ""
		originalTextColorR, originalTextColorG, originalTextColorB := pdf.GetTextColor()
		if report.KPIs.ChangePercent != nil {
			val := *report.KPIs.ChangePercent
			if val > 0.01 {
				pdf.SetTextColor(192, 0, 0)
				changeText = fmt.Sprintf("  (+%.2f%%)", val)
			} else if val < -0.01 {
				pdf.SetTextColor(0, 128, 0)
				changeText = fmt.Sprintf("  (%.2f%%)", val)
			} else {
				changeText = "  (0.00%)"
			}
		}

		valueStr := money(report.KPIs.LastNDays)
		pdf.Cell(pdf.GetStringWidth(valueStr), 12, tr(valueStr))

		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(costTableWidth-pdf.GetStringWidth(valueStr), 12, tr(changeText), "", 1, "L", false, 0, "")

		pdf.SetTextColor(originalTextColorR, originalTextColorG, originalTextColorB)
		pdf.Ln(6)

		drawSection("Key Indicators", strings.Join([]string{
			fmt.Sprintf("Month to date: %s", money(report.KPIs.MonthToDate)),
			fmt.Sprintf("Last month: %s", money(report.KPIs.LastMonth)),
			fmt.Sprintf("Forecast (%d periods): %s", len(report.Forecast), money(report.KPIs.Forecasted)),
			fmt.Sprintf("Projected month end: %s", money(report.KPIs.ProjectedMonthEnd)),
		}, "\n"))
		drawSection("Cost Breakdown", cleanRichTags(breakdownText(report.Breakdown, "  - ")))
		drawSection("Forecast", forecastText(report))
		drawSection("Anomalies", anomaliesText(report.Anomalies))
		drawSection("Budget Status", strings.Join(strings.Split(budgetsText(report.Budgets), "\n"), "\n\n"))
		drawSection("Monthly Trend", monthlyText(report.MonthlyHistory))
		drawSection("Unavailable Data", failuresText(report.FailedAccounts))

		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		footerText := fmt.Sprintf("Generated by Cloud FinOps Engine | %s", report.GeneratedAt.Format("2006-01-02 15:04 MST"))
		pdf.CellFormat(0, 10, tr(footerText), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 10, tr(fmt.Sprintf("Page %d", i+1)), "", 0, "R", false, 0, "")
	}

	if err := pdf.OutputFileAndClose(outputFilename); err != nil {
		return "", fmt.Errorf("error writing PDF file: %w", err)
	}

	return filepath.Abs(outputFilename)
}

// --- Funções Auxiliares ---

// generateFilename cria um nome de arquivo único com timestamp e garante que o diretório exista.
func (r *ExportRepositoryImpl) generateFilename(base, dir, ext string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("could not get current working directory: %w", err)
		}
		dir = cwd
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating output directory '%s': %w", dir, err)
	}
	timestamp := r.now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.%s", base, timestamp, ext)
	return filepath.Join(dir, filename), nil
}

// Regex para limpar formatação pterm (rich tags) e sequências ANSI de cor/estilo.
var richTagRegex = regexp.MustCompile(`\[/?([a-zA-Z]+|#[0-9a-fA-F]{6})\]`)
var ansiRegex = regexp.MustCompile(`\x1B\[[0-9;]*[A-Za-z]`)

// cleanRichTags remove tags de formatação do pterm e sequências ANSI.
func cleanRichTags(text string) string {
	text = richTagRegex.ReplaceAllString(text, "")
	text = ansiRegex.ReplaceAllString(text, "")
	return text
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func formatChange(change *float64) string {
	if change == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *change)
}

func breakdownText(items []entity.BreakdownItem, indent string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%s%s: %s (%.2f%%, %s %+.2f%%)",
			indent, item.Name, money(item.Amount), item.Percentage, item.Trend, item.ChangePercent))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func forecastText(report entity.AggregatedReport) string {
	if len(report.Forecast) == 0 {
		return "Forecast unavailable"
	}
	lines := make([]string, 0, len(report.Forecast)+1)
	for _, p := range report.Forecast {
		lines = append(lines, fmt.Sprintf("%s: %s (%s - %s)",
			p.Date.Format(entity.DateLayout), money(p.Predicted), money(p.Lower), money(p.Upper)))
	}
	s := report.ForecastSummary
	lines = append(lines, fmt.Sprintf("Total %s, average %s/day, trend %s", money(s.Total), money(s.Average), s.Trend))
	return strings.Join(lines, "\n")
}

func anomaliesText(anomalies []entity.Anomaly) string {
	lines := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		lines = append(lines, fmt.Sprintf("%s %s: %s", a.Date.Format(entity.DateLayout), a.DimensionKey, money(a.Amount)))
	}
	return strings.Join(lines, "\n")
}

func budgetsText(budgets []entity.BudgetStatus) string {
	lines := make([]string, 0, len(budgets))
	for _, b := range budgets {
		line := fmt.Sprintf("%s: %s of %s (%.1f%%)", b.Name, money(b.Actual), money(b.Limit), b.UsedPercent)
		if b.OverBudget() {
			line += " OVER BUDGET"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func monthlyText(history []entity.MonthlyCost) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		line := fmt.Sprintf("%s: %s", m.Month, money(m.Amount))
		if m.ChangePercent != nil {
			line += fmt.Sprintf(" (%+.1f%%)", *m.ChangePercent)
		}
		if m.Anomaly {
			line += " spike"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func failuresText(failures []entity.FailedAccount) string {
	lines := make([]string, 0, len(failures))
	for _, f := range failures {
		target := f.AccountID
		if f.Region != "" {
			target += " (" + f.Region + ")"
		}
		lines = append(lines, fmt.Sprintf("%s [%s] %s", target, f.Class, f.Error))
	}
	return strings.Join(lines, "\n")
}
