package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

type recordingConsole struct {
	out      strings.Builder
	warnings []string
	errors   []string
	success  []string
	trends   int
}

func (c *recordingConsole) Print(a ...interface{})                 { fmt.Fprint(&c.out, a...) }
func (c *recordingConsole) Printf(format string, a ...interface{}) { fmt.Fprintf(&c.out, format, a...) }
func (c *recordingConsole) Println(a ...interface{})               { fmt.Fprintln(&c.out, a...) }
func (c *recordingConsole) LogInfo(format string, a ...interface{}) {
	fmt.Fprintf(&c.out, format+"\n", a...)
}
func (c *recordingConsole) LogWarning(format string, a ...interface{}) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, a...))
}
func (c *recordingConsole) LogError(format string, a ...interface{}) {
	c.errors = append(c.errors, fmt.Sprintf(format, a...))
}
func (c *recordingConsole) LogSuccess(format string, a ...interface{}) {
	c.success = append(c.success, fmt.Sprintf(format, a...))
}
func (c *recordingConsole) Status(string) types.StatusHandle            { return nopHandle{} }
func (c *recordingConsole) ProgressWithTotal(int) types.ProgressHandle  { return nopHandle{} }
func (c *recordingConsole) CreateTable() types.TableInterface           { return &textTable{} }
func (c *recordingConsole) DisplayTrendBars(costs []entity.MonthlyCost) { c.trends++ }

type nopHandle struct{}

func (nopHandle) Update(string) {}
func (nopHandle) Increment()    {}
func (nopHandle) Stop()         {}

type textTable struct {
	rows []string
}

func (t *textTable) AddColumn(name string, _ ...interface{}) { t.rows = append(t.rows, name) }
func (t *textTable) AddRow(cells ...interface{})             { t.rows = append(t.rows, fmt.Sprint(cells...)) }
func (t *textTable) Render() string                          { return strings.Join(t.rows, "\n") + "\n" }

type stubReports struct {
	requests []entity.ReportRequest
	err      error
}

func (s *stubReports) GetReport(_ context.Context, req entity.ReportRequest) (*entity.AggregatedReport, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &entity.AggregatedReport{
		AccountID: req.AccountID,
		GroupBy:   entity.DimensionService,
		KPIs:      entity.KPIs{LastNDays: decimal.NewFromInt(77)},
		Breakdown: []entity.BreakdownItem{
			{Name: "EC2", Amount: decimal.NewFromInt(70), Percentage: 90.91, Trend: entity.TrendStable},
			{Name: "S3", Amount: decimal.NewFromInt(7), Percentage: 9.09, Trend: entity.TrendUp, ChangePercent: 12},
		},
		MonthlyHistory: []entity.MonthlyCost{{Month: "Mar 2024", Amount: decimal.NewFromInt(10)}},
		Partial:        req.AccountID == "B",
		FailedAccounts: func() []entity.FailedAccount {
			if req.AccountID == "B" {
				return []entity.FailedAccount{{AccountID: "B", Class: string(types.ClassTransientProvider), Error: "timeout"}}
			}
			return nil
		}(),
	}, nil
}

type stubExport struct {
	formats []string
}

func (s *stubExport) ExportToCSV(_ []entity.AggregatedReport, name, dir string) (string, error) {
	s.formats = append(s.formats, "csv")
	return dir + "/" + name + ".csv", nil
}

func (s *stubExport) ExportToJSON(_ []entity.AggregatedReport, name, dir string) (string, error) {
	s.formats = append(s.formats, "json")
	return dir + "/" + name + ".json", nil
}

func (s *stubExport) ExportToPDF([]entity.AggregatedReport, string, string) (string, error) {
	s.formats = append(s.formats, "pdf")
	return "", errors.New("disk full")
}

func TestRunReport_AllAccounts(t *testing.T) {
	console := &recordingConsole{}
	reports := &stubReports{}
	exports := &stubExport{}
	uc := NewDashboardUseCase(reports, testAccounts(), exports, console, 1)

	got, err := uc.RunReport(context.Background(), &types.CLIArgs{
		All:        true,
		GroupBy:    "service",
		ReportType: "FinOps",
		Days:       7,
		ReportName: "weekly",
		Export:     []string{"csv", "json", "pdf", "xml"},
		Dir:        "/tmp",
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	for _, req := range reports.requests {
		assert.Equal(t, entity.DimensionService, req.GroupBy)
		assert.Equal(t, entity.ReportTypeFinOps, req.ReportType)
		assert.Equal(t, 7, req.Days)
	}

	out := console.out.String()
	assert.Contains(t, out, "EC2")
	assert.NotContains(t, out, "S3", "top-n limits the breakdown")
	assert.Contains(t, out, "1 more items not shown")
	assert.Equal(t, 2, console.trends)

	assert.Contains(t, strings.Join(console.warnings, "\n"), "Some data unavailable: B [TransientProviderError] timeout")
	assert.Contains(t, strings.Join(console.warnings, "\n"), "Unknown export format: xml")
	assert.Equal(t, []string{"csv", "json", "pdf"}, exports.formats)
	assert.Len(t, console.success, 2)
	require.Len(t, console.errors, 1)
	assert.Contains(t, console.errors[0], "disk full")
}

func TestRunReport_Targets(t *testing.T) {
	uc := NewDashboardUseCase(&stubReports{}, testAccounts(), &stubExport{}, &recordingConsole{}, 10)

	_, err := uc.InitializeTargets(&types.CLIArgs{})
	assert.True(t, errors.Is(err, types.ErrInvalidRequest), "two accounts and no selection")

	targets, err := uc.InitializeTargets(&types.CLIArgs{Account: "AB"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AB"}, targets)

	empty := NewDashboardUseCase(&stubReports{}, staticAccounts{}, &stubExport{}, &recordingConsole{}, 10)
	_, err = empty.InitializeTargets(&types.CLIArgs{All: true})
	assert.ErrorIs(t, err, types.ErrNoAccountsFound)
}

func TestRunReport_PropagatesInvalidRequest(t *testing.T) {
	reports := &stubReports{err: types.InvalidRequestf("unknown account %q", "ghost")}
	uc := NewDashboardUseCase(reports, testAccounts(), &stubExport{}, &recordingConsole{}, 10)

	_, err := uc.RunReport(context.Background(), &types.CLIArgs{Account: "ghost"})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}
