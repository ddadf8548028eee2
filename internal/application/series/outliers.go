package series

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

// MinPointsForFilter is the smallest series length the IQR fence applies to.
const MinPointsForFilter = 5

var fenceMultiplier = decimal.NewFromFloat(1.5)

// Fence is the inclusive [Lower, Upper] band of non-outlier amounts.
type Fence struct {
	Lower decimal.Decimal
	Upper decimal.Decimal
}

// Contains reports whether amount lies inside the fence.
func (f Fence) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(f.Lower) && amount.LessThanOrEqual(f.Upper)
}

// IQRFence computes [Q1 - 1.5*IQR, Q3 + 1.5*IQR] over the series amounts.
// ok is false for series with fewer than MinPointsForFilter points.
func IQRFence(s entity.CostSeries) (Fence, bool) {
	if len(s.Points) < MinPointsForFilter {
		return Fence{}, false
	}

	amounts := make([]decimal.Decimal, len(s.Points))
	for i, p := range s.Points {
		amounts[i] = p.Amount
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i].LessThan(amounts[j]) })

	q1 := quartile(amounts, 25)
	q3 := quartile(amounts, 75)
	spread := q3.Sub(q1).Mul(fenceMultiplier)
	return Fence{Lower: q1.Sub(spread), Upper: q3.Add(spread)}, true
}

// Flag returns a copy of s with Anomaly set on every point outside f.
func (f Fence) Flag(s entity.CostSeries) entity.CostSeries {
	out := entity.CostSeries{DimensionKey: s.DimensionKey, Granularity: s.Granularity}
	out.Points = make([]entity.SeriesPoint, len(s.Points))
	copy(out.Points, s.Points)
	for i := range out.Points {
		out.Points[i].Anomaly = !f.Contains(out.Points[i].Amount)
	}
	return out
}

// Filter returns s without the points outside f.
func (f Fence) Filter(s entity.CostSeries) entity.CostSeries {
	out := entity.CostSeries{DimensionKey: s.DimensionKey, Granularity: s.Granularity, Points: []entity.SeriesPoint{}}
	for _, p := range s.Points {
		if f.Contains(p.Amount) {
			p.Anomaly = false
			out.Points = append(out.Points, p)
		}
	}
	return out
}

// FlagOutliers returns a copy of s with Anomaly set on every point outside
// the fence. Short series are returned unflagged.
func FlagOutliers(s entity.CostSeries) entity.CostSeries {
	fence, ok := IQRFence(s)
	if !ok {
		return unflagged(s)
	}
	return fence.Flag(s)
}

// FilterOutliers returns s without the points outside the fence; this is the
// series handed to forecasting. Short series pass through unchanged.
func FilterOutliers(s entity.CostSeries) entity.CostSeries {
	fence, ok := IQRFence(s)
	if !ok {
		return s
	}
	return fence.Filter(s)
}

// unflagged returns a copy of s with every Anomaly cleared.
func unflagged(s entity.CostSeries) entity.CostSeries {
	out := entity.CostSeries{DimensionKey: s.DimensionKey, Granularity: s.Granularity}
	out.Points = make([]entity.SeriesPoint, len(s.Points))
	copy(out.Points, s.Points)
	for i := range out.Points {
		out.Points[i].Anomaly = false
	}
	return out
}

// Anomalies lists the flagged points of s.
func Anomalies(s entity.CostSeries) []entity.Anomaly {
	var anomalies []entity.Anomaly
	for _, p := range s.Points {
		if p.Anomaly {
			anomalies = append(anomalies, entity.Anomaly{DimensionKey: s.DimensionKey, Date: p.Date, Amount: p.Amount})
		}
	}
	return anomalies
}

// quartile interpolates linearly between the closest ranks of sorted.
func quartile(sorted []decimal.Decimal, p int) decimal.Decimal {
	if len(sorted) == 0 {
		return decimal.Zero
	}
	rank := decimal.NewFromInt(int64(p)).Div(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(int64(len(sorted) - 1)))
	lo := int(rank.Floor().IntPart())
	hi := int(rank.Ceil().IntPart())
	if lo == hi || hi >= len(sorted) {
		return sorted[lo]
	}
	w := rank.Sub(decimal.NewFromInt(int64(lo)))
	return sorted[lo].Mul(decimal.NewFromInt(1).Sub(w)).Add(sorted[hi].Mul(w))
}
