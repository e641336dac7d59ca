// Package feature derives the flat, explicitly-typed feature vector
// handed to storage: time, statistical, trend, and cyclical features plus
// the point metrics from the stream statistics engine.
package feature

import (
	"time"

	"github.com/google/uuid"

	"github.com/ilift/wellstream/stats"
)

// Vector is the immutable engineered output for one reading, keyed by
// (well, sensor type, timestamp). Optional numeric fields are nil when
// the window is too short to define them, never a computed-but-
// meaningless value.
type Vector struct {
	ID         string    `json:"id"`
	WellID     string    `json:"well_id"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"sensor_value"`
	Unit       string    `json:"measurement_unit,omitempty"`
	Quality    *int      `json:"data_quality,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	// Time features (pure functions of the UTC timestamp)
	Hour       int  `json:"hour"`
	DayOfWeek  int  `json:"day_of_week"` // Monday=0 .. Sunday=6
	DayOfMonth int  `json:"day_of_month"`
	Month      int  `json:"month"`
	DayOfYear  int  `json:"day_of_year"`
	WeekOfYear int  `json:"week_of_year"`
	Quarter    int  `json:"quarter"`
	IsWeekend  bool `json:"is_weekend"`

	// Cyclical encodings keep period boundaries numerically adjacent
	HourSin      float64 `json:"hour_sin"`
	HourCos      float64 `json:"hour_cos"`
	DayOfWeekSin float64 `json:"day_of_week_sin"`
	DayOfWeekCos float64 `json:"day_of_week_cos"`
	DaySin       float64 `json:"day_sin"`
	DayCos       float64 `json:"day_cos"`
	DayOfYearSin float64 `json:"day_of_year_sin"`
	DayOfYearCos float64 `json:"day_of_year_cos"`

	// Statistical features over the current window (nil when fewer than
	// two readings)
	WindowLen int      `json:"window_size"`
	Mean      *float64 `json:"mean,omitempty"`
	Median    *float64 `json:"median,omitempty"`
	Std       *float64 `json:"std,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	P25       *float64 `json:"percentile_25,omitempty"`
	P75       *float64 `json:"percentile_75,omitempty"`
	IQR       *float64 `json:"iqr,omitempty"`

	// Trend features
	Trend        *float64 `json:"trend,omitempty"`        // OLS slope, needs >= 2 points
	Acceleration *float64 `json:"acceleration,omitempty"` // Mean second difference, needs >= 3
	Volatility   *float64 `json:"volatility,omitempty"`   // Std of first differences, needs >= 3

	// Point metrics carried over from the statistics engine
	ChangeFromMean *float64 `json:"change_from_mean,omitempty"`
	ChangePercent  *float64 `json:"change_percent,omitempty"`
	RateOfChange   *float64 `json:"rate_of_change,omitempty"`
	ZScore         *float64 `json:"z_score,omitempty"`
	IsAnomaly      bool     `json:"is_anomaly"`
}

// newID mints the storage row identifier. Kept as a hook so tests can
// assert vectors are individually identified.
func newID() string {
	return uuid.NewString()
}

// carryPointMetrics copies the engine's deviation metrics into the vector.
func (v *Vector) carryPointMetrics(sf stats.Features) {
	v.ChangeFromMean = sf.ChangeFromMean
	v.ChangePercent = sf.ChangePercent
	v.RateOfChange = sf.RateOfChange
	v.ZScore = sf.ZScore
	v.IsAnomaly = sf.IsAnomaly
}
