// Package series merges normalized cost records into dense, date-ordered
// series and flags statistical outliers.
package series

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

// TotalKey is the dimension key of the all-dimensions series.
const TotalKey = "Total"

// Build groups records by dimension, sums records sharing a date and fills
// gaps between the first and last date with zero.
func Build(records []entity.CostRecord, granularity entity.Granularity) map[string]entity.CostSeries {
	if granularity == "" {
		granularity = entity.GranularityDaily
	}

	sums := make(map[string]map[time.Time]decimal.Decimal)
	for _, r := range records {
		date := granularity.Truncate(r.Date)
		byDate, ok := sums[r.DimensionKey]
		if !ok {
			byDate = make(map[time.Time]decimal.Decimal)
			sums[r.DimensionKey] = byDate
		}
		byDate[date] = byDate[date].Add(r.Amount)
	}

	result := make(map[string]entity.CostSeries, len(sums))
	for key, byDate := range sums {
		result[key] = densify(key, granularity, byDate, time.Time{}, time.Time{})
	}
	return result
}

// Densify returns s spread over every period of window, missing periods as zero.
// Points outside the window are dropped.
func Densify(s entity.CostSeries, window entity.DateRange) entity.CostSeries {
	g := s.Granularity
	if g == "" {
		g = entity.GranularityDaily
	}
	byDate := make(map[time.Time]decimal.Decimal, len(s.Points))
	flags := make(map[time.Time]bool)
	for _, p := range s.Points {
		byDate[p.Date] = p.Amount
		if p.Anomaly {
			flags[p.Date] = true
		}
	}

	out := densify(s.DimensionKey, g, byDate, g.Truncate(window.Start), window.End)
	for i := range out.Points {
		out.Points[i].Anomaly = flags[out.Points[i].Date]
	}
	return out
}

// Slice restricts s to the points inside window.
func Slice(s entity.CostSeries, window entity.DateRange) entity.CostSeries {
	out := entity.CostSeries{DimensionKey: s.DimensionKey, Granularity: s.Granularity, Points: []entity.SeriesPoint{}}
	for _, p := range s.Points {
		if window.Contains(p.Date) {
			out.Points = append(out.Points, p)
		}
	}
	return out
}

// Total sums every series of m into one series keyed TotalKey.
func Total(m map[string]entity.CostSeries, granularity entity.Granularity) entity.CostSeries {
	if granularity == "" {
		granularity = entity.GranularityDaily
	}
	byDate := make(map[time.Time]decimal.Decimal)
	for _, s := range m {
		for _, p := range s.Points {
			byDate[p.Date] = byDate[p.Date].Add(p.Amount)
		}
	}
	return densify(TotalKey, granularity, byDate, time.Time{}, time.Time{})
}

// SortedKeys returns the dimension keys of m in lexical order.
func SortedKeys(m map[string]entity.CostSeries) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// densify builds a contiguous series. A zero from/to uses the first/last date
// present; to is exclusive.
func densify(key string, g entity.Granularity, byDate map[time.Time]decimal.Decimal, from, to time.Time) entity.CostSeries {
	s := entity.CostSeries{DimensionKey: key, Granularity: g, Points: []entity.SeriesPoint{}}

	if from.IsZero() || to.IsZero() {
		if len(byDate) == 0 {
			return s
		}
		dates := make([]time.Time, 0, len(byDate))
		for d := range byDate {
			dates = append(dates, d)
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
		if from.IsZero() {
			from = dates[0]
		}
		if to.IsZero() {
			to = g.Next(dates[len(dates)-1])
		}
	}

	for d := from; d.Before(to); d = g.Next(d) {
		amount, ok := byDate[d]
		if !ok {
			amount = decimal.Zero
		}
		s.Points = append(s.Points, entity.SeriesPoint{Date: d, Amount: amount})
	}
	return s
}
