package series

import (
	"github.com/shopspring/decimal"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

const (
	// MonthlySpikePercent is the month-over-month growth flagged as anomalous.
	MonthlySpikePercent = 20.0
)

// MonthlySpikeFloor is the previous-month amount below which growth is not flagged.
var MonthlySpikeFloor = decimal.NewFromInt(100)

// MonthlyHistory converts a monthly series into trend rows with month-over-month change.
func MonthlyHistory(s entity.CostSeries) []entity.MonthlyCost {
	history := make([]entity.MonthlyCost, 0, len(s.Points))
	for i, p := range s.Points {
		row := entity.MonthlyCost{
			Month:  p.Date.Format("Jan 2006"),
			Amount: p.Amount.Round(2),
		}
		if i > 0 {
			prev := s.Points[i-1].Amount
			if !prev.IsZero() {
				change := entity.PercentChange(prev, p.Amount)
				row.ChangePercent = &change
				row.Anomaly = change > MonthlySpikePercent && prev.GreaterThan(MonthlySpikeFloor)
			}
		}
		history = append(history, row)
	}
	return history
}
