package console

import (
	"bytes"
	"testing"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

func TestTableRender(t *testing.T) {
	pterm.DisableColor()
	defer pterm.EnableColor()

	table := NewConsole().CreateTable()
	table.AddColumn("Service")
	table.AddColumn("Cost")
	table.AddRow("AmazonEC2", decimal.NewFromFloat(12.5).StringFixed(2))

	out := table.Render()
	assert.Contains(t, out, "Service")
	assert.Contains(t, out, "AmazonEC2")
	assert.Contains(t, out, "12.50")
}

func TestDisplayTrendBars(t *testing.T) {
	pterm.DisableColor()
	defer pterm.EnableColor()

	up := 150.0
	buf := &bytes.Buffer{}
	c := &Console{out: buf}
	c.DisplayTrendBars([]entity.MonthlyCost{
		{Month: "2024-01", Amount: decimal.NewFromInt(200)},
		{Month: "2024-02", Amount: decimal.NewFromInt(500), ChangePercent: &up, Anomaly: true},
	})

	out := buf.String()
	assert.Contains(t, out, "Cost Trend Analysis")
	assert.Contains(t, out, "$500.00")
	assert.Contains(t, out, "+150.00%")
	assert.Contains(t, out, "spike")
}
