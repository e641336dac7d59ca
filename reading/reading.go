// Package reading defines the ingested sensor observation and the key
// that partitions all per-sensor stream state.
package reading

import (
	"fmt"
	"math"
	"time"

	"github.com/ilift/wellstream/errors"
)

// Reading is one ingested sensor observation. Readings are constructed at
// the source boundary, validated once, and are immutable afterwards.
type Reading struct {
	WellID     string    `json:"well_id"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"sensor_value"`
	Unit       string    `json:"measurement_unit,omitempty"`
	Quality    *int      `json:"data_quality,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Key returns the WindowKey partitioning this reading's stream state.
func (r Reading) Key() WindowKey {
	return WindowKey{WellID: r.WellID, SensorType: r.SensorType}
}

// Validate checks that the reading carries the fields required for
// windowed statistics. Violations are classified as invalid so the
// pipeline counts and skips them rather than aborting.
func (r Reading) Validate() error {
	if r.WellID == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "Reading", "Validate", "well_id")
	}
	if r.SensorType == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "Reading", "Validate", "sensor_type")
	}
	if r.Timestamp.IsZero() {
		return errors.WrapInvalid(errors.ErrMissingField, "Reading", "Validate", "timestamp")
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return errors.WrapInvalid(errors.ErrNonFiniteValue, "Reading", "Validate", "sensor_value")
	}
	if r.Quality != nil && (*r.Quality < 0 || *r.Quality > 100) {
		return errors.WrapInvalid(errors.ErrQualityOutOfRange, "Reading", "Validate", "data_quality")
	}
	return nil
}

// WindowKey is the composite identity (well, sensor type) that partitions
// all per-key window state. Ordering is guaranteed within one key only.
type WindowKey struct {
	WellID     string
	SensorType string
}

// String returns the canonical "well_id/sensor_type" form used in logs
// and metric labels.
func (k WindowKey) String() string {
	return fmt.Sprintf("%s/%s", k.WellID, k.SensorType)
}
