package series

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

func d(s string) time.Time {
	t, err := time.Parse(entity.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rec(key, date string, amount int64) entity.CostRecord {
	return entity.CostRecord{DimensionKey: key, Date: d(date), Amount: decimal.NewFromInt(amount), Currency: "USD"}
}

func seriesOf(amounts ...int64) entity.CostSeries {
	s := entity.CostSeries{DimensionKey: "svc", Granularity: entity.GranularityDaily}
	start := d("2024-01-01")
	for i, a := range amounts {
		s.Points = append(s.Points, entity.SeriesPoint{Date: start.AddDate(0, 0, i), Amount: decimal.NewFromInt(a)})
	}
	return s
}

func TestBuild_EmptyInput(t *testing.T) {
	got := Build(nil, entity.GranularityDaily)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestBuild_MergesSortsAndFillsGaps(t *testing.T) {
	records := []entity.CostRecord{
		rec("EC2", "2024-01-03", 5),
		rec("EC2", "2024-01-01", 10),
		rec("EC2", "2024-01-01", 7), // second region, same day
		rec("S3", "2024-01-02", 1),
	}

	got := Build(records, entity.GranularityDaily)
	require.Len(t, got, 2)

	ec2 := got["EC2"]
	require.Len(t, ec2.Points, 3)
	assert.Equal(t, d("2024-01-01"), ec2.Points[0].Date)
	assert.True(t, ec2.Points[0].Amount.Equal(decimal.NewFromInt(17)))
	assert.True(t, ec2.Points[1].Amount.IsZero(), "missing day is zero")
	assert.True(t, ec2.Points[2].Amount.Equal(decimal.NewFromInt(5)))
}

func TestBuild_OrderIndependent(t *testing.T) {
	records := []entity.CostRecord{
		rec("EC2", "2024-01-01", 1), rec("EC2", "2024-01-02", 2), rec("EC2", "2024-01-02", 3),
		rec("EC2", "2024-01-05", 4), rec("RDS", "2024-01-03", 9),
	}
	want := Build(records, entity.GranularityDaily)

	r := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]entity.CostRecord(nil), records...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := Build(shuffled, entity.GranularityDaily)
		require.Equal(t, len(want), len(got))
		for key, s := range want {
			require.Len(t, got[key].Points, len(s.Points))
			for j, p := range s.Points {
				assert.Equal(t, p.Date, got[key].Points[j].Date)
				assert.True(t, p.Amount.Equal(got[key].Points[j].Amount))
				if j > 0 {
					assert.True(t, got[key].Points[j].Date.After(got[key].Points[j-1].Date))
				}
			}
		}
	}
}

func TestBuild_MonthlyTruncatesDates(t *testing.T) {
	got := Build([]entity.CostRecord{rec("EC2", "2024-01-15", 1), rec("EC2", "2024-01-01", 2), rec("EC2", "2024-03-01", 4)}, entity.GranularityMonthly)
	points := got["EC2"].Points
	require.Len(t, points, 3)
	assert.Equal(t, d("2024-01-01"), points[0].Date)
	assert.True(t, points[0].Amount.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, d("2024-02-01"), points[1].Date)
	assert.True(t, points[1].Amount.IsZero())
}

func TestTotalAndDensify(t *testing.T) {
	m := Build([]entity.CostRecord{rec("A", "2024-01-02", 1), rec("B", "2024-01-02", 2), rec("B", "2024-01-03", 3)}, entity.GranularityDaily)
	total := Total(m, entity.GranularityDaily)
	assert.Equal(t, TotalKey, total.DimensionKey)
	assert.True(t, total.Total().Equal(decimal.NewFromInt(6)))

	dense := Densify(total, entity.DateRange{Start: d("2024-01-01"), End: d("2024-01-05")})
	require.Len(t, dense.Points, 4)
	assert.True(t, dense.Points[0].Amount.IsZero())
	assert.True(t, dense.Points[1].Amount.Equal(decimal.NewFromInt(3)))
	assert.True(t, dense.Points[3].Amount.IsZero())

	sliced := Slice(dense, entity.DateRange{Start: d("2024-01-02"), End: d("2024-01-04")})
	assert.Len(t, sliced.Points, 2)
}

func TestFilterOutliers_ShortSeriesUnchanged(t *testing.T) {
	for n := 0; n <= 4; n++ {
		amounts := make([]int64, n)
		for i := range amounts {
			amounts[i] = int64(i * 1000)
		}
		s := seriesOf(amounts...)
		assert.Equal(t, s, FilterOutliers(s), "n=%d", n)
		for _, p := range FlagOutliers(s).Points {
			assert.False(t, p.Anomaly)
		}
	}
}

func TestFilterOutliers_RemovesOnlyPointsOutsideFence(t *testing.T) {
	s := seriesOf(100, 102, 98, 101, 99, 100, 500)

	fence, ok := IQRFence(s)
	require.True(t, ok)

	filtered := FilterOutliers(s)
	require.Len(t, filtered.Points, 6)
	for _, p := range filtered.Points {
		assert.True(t, fence.Contains(p.Amount))
	}

	flagged := FlagOutliers(s)
	require.Len(t, flagged.Points, 7, "flagging keeps every point")
	assert.True(t, flagged.Points[6].Anomaly)
	assert.False(t, flagged.Points[0].Anomaly)

	anomalies := Anomalies(flagged)
	require.Len(t, anomalies, 1)
	assert.Equal(t, d("2024-01-07"), anomalies[0].Date)
}

func TestFilterOutliers_RandomSeriesNeverOverRemoves(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		n := 5 + r.Intn(40)
		amounts := make([]int64, n)
		for j := range amounts {
			amounts[j] = r.Int63n(1000)
			if r.Intn(10) == 0 {
				amounts[j] *= 20
			}
		}
		s := seriesOf(amounts...)
		fence, ok := IQRFence(s)
		require.True(t, ok)

		outside := 0
		for _, p := range s.Points {
			if !fence.Contains(p.Amount) {
				outside++
			}
		}
		assert.Equal(t, len(s.Points)-outside, len(FilterOutliers(s).Points))

		kept := make(map[time.Time]bool)
		for _, p := range FilterOutliers(s).Points {
			kept[p.Date] = true
		}
		for _, p := range FlagOutliers(s).Points {
			assert.NotEqual(t, p.Anomaly, kept[p.Date], "a point is flagged exactly when it is filtered out")
		}
	}
}

func TestFlagOutliers_SliceKeepsHistoryFlags(t *testing.T) {
	// A cauda, sozinha, é constante e não teria outliers.
	s := seriesOf(10, 10, 10, 10, 10, 10, 10, 10, 40, 40)
	tail := Slice(FlagOutliers(s), entity.DateRange{Start: d("2024-01-09"), End: d("2024-01-11")})

	require.Len(t, tail.Points, 2)
	for _, p := range tail.Points {
		assert.True(t, p.Anomaly)
	}
	assert.Len(t, FilterOutliers(s).Points, 8)
}

func TestQuartile_LinearInterpolation(t *testing.T) {
	sorted := []decimal.Decimal{
		decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.NewFromInt(3), decimal.NewFromInt(4),
	}
	assert.Equal(t, "1.75", quartile(sorted, 25).String())
	assert.Equal(t, "3.25", quartile(sorted, 75).String())
}

func TestMonthlyHistory_FlagsSpikes(t *testing.T) {
	s := entity.CostSeries{Granularity: entity.GranularityMonthly, Points: []entity.SeriesPoint{
		{Date: d("2024-01-01"), Amount: decimal.NewFromInt(200)},
		{Date: d("2024-02-01"), Amount: decimal.NewFromInt(300)},
		{Date: d("2024-03-01"), Amount: decimal.NewFromInt(310)},
		{Date: d("2024-04-01"), Amount: decimal.NewFromInt(0)},
		{Date: d("2024-05-01"), Amount: decimal.NewFromInt(50)},
	}}

	history := MonthlyHistory(s)
	require.Len(t, history, 5)
	assert.Equal(t, "Jan 2024", history[0].Month)
	assert.Nil(t, history[0].ChangePercent)
	assert.True(t, history[1].Anomaly)
	assert.Equal(t, 50.0, *history[1].ChangePercent)
	assert.False(t, history[2].Anomaly)
	assert.Nil(t, history[4].ChangePercent, "no change from a zero month")
}
