package feature

import (
	"math"
	"sort"

	"github.com/ilift/wellstream/reading"
	"github.com/ilift/wellstream/stats"
	"github.com/ilift/wellstream/window"
)

// Engineer produces the feature vector for one reading given its window
// snapshot and engine metrics. It is a pure function of its inputs and
// never mutates window state.
func Engineer(r reading.Reading, snap window.Snapshot, sf stats.Features) Vector {
	v := Vector{
		ID:         newID(),
		WellID:     r.WellID,
		SensorType: r.SensorType,
		Value:      r.Value,
		Unit:       r.Unit,
		Quality:    r.Quality,
		Timestamp:  r.Timestamp.UTC(),
		WindowLen:  snap.Len,
	}

	timeFeatures(&v)
	statisticalFeatures(&v, snap, sf)
	trendFeatures(&v, snap.Values)
	v.carryPointMetrics(sf)

	return v
}

// timeFeatures fills the calendar and cyclical fields from the UTC
// timestamp.
func timeFeatures(v *Vector) {
	ts := v.Timestamp

	v.Hour = ts.Hour()
	// time.Weekday counts from Sunday; shift to Monday=0 .. Sunday=6
	v.DayOfWeek = (int(ts.Weekday()) + 6) % 7
	v.DayOfMonth = ts.Day()
	v.Month = int(ts.Month())
	v.DayOfYear = ts.YearDay()
	_, v.WeekOfYear = ts.ISOWeek()
	v.Quarter = (v.Month-1)/3 + 1
	v.IsWeekend = v.DayOfWeek >= 5

	v.HourSin, v.HourCos = cyclical(float64(v.Hour), 24)
	v.DayOfWeekSin, v.DayOfWeekCos = cyclical(float64(v.DayOfWeek), 7)
	v.DaySin, v.DayCos = cyclical(float64(v.DayOfMonth), 31)
	v.DayOfYearSin, v.DayOfYearCos = cyclical(float64(v.DayOfYear), 365)
}

func cyclical(value, period float64) (sin, cos float64) {
	angle := 2 * math.Pi * value / period
	return math.Sin(angle), math.Cos(angle)
}

// statisticalFeatures reuses the engine's window aggregates and adds the
// percentile family. All fields stay nil below two readings.
func statisticalFeatures(v *Vector, snap window.Snapshot, sf stats.Features) {
	if snap.Len < 2 {
		return
	}

	v.Mean = ptr(sf.Mean)
	v.Median = ptr(sf.Median)
	v.Std = ptr(sf.Std)
	v.Min = ptr(sf.Min)
	v.Max = ptr(sf.Max)

	sorted := make([]float64, len(snap.Values))
	copy(sorted, snap.Values)
	sort.Float64s(sorted)

	p25 := percentile(sorted, 25)
	p75 := percentile(sorted, 75)
	v.P25 = ptr(p25)
	v.P75 = ptr(p75)
	v.IQR = ptr(p75 - p25)
}

// trendFeatures computes slope, acceleration, and volatility over the
// chronological window values.
func trendFeatures(v *Vector, values []float64) {
	if len(values) >= 2 {
		v.Trend = ptr(olsSlope(values))
	}
	if len(values) >= 3 {
		v.Acceleration = ptr(meanSecondDifference(values))
		v.Volatility = ptr(stdFirstDifferences(values))
	}
}

// olsSlope fits value against index by ordinary least squares and returns
// the slope.
func olsSlope(values []float64) float64 {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// meanSecondDifference averages the discrete second differences of the
// series.
func meanSecondDifference(values []float64) float64 {
	sum := 0.0
	count := 0
	for i := 2; i < len(values); i++ {
		sum += values[i] - 2*values[i-1] + values[i-2]
		count++
	}
	return sum / float64(count)
}

// stdFirstDifferences returns the population standard deviation of the
// first differences of the series.
func stdFirstDifferences(values []float64) float64 {
	diffs := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		diffs = append(diffs, values[i]-values[i-1])
	}

	mean := 0.0
	for _, d := range diffs {
		mean += d
	}
	mean /= float64(len(diffs))

	variance := 0.0
	for _, d := range diffs {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(diffs))
	return math.Sqrt(variance)
}

// percentile uses the linear-interpolated rank method over a sorted
// slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

func ptr(v float64) *float64 { return &v }
