package reading

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ilift/wellstream/errors"
)

func intPtr(v int) *int { return &v }

func TestReading_Validate(t *testing.T) {
	valid := Reading{
		WellID:     "Well_01",
		SensorType: "motor_temperature",
		Value:      71.5,
		Unit:       "celsius",
		Quality:    intPtr(98),
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name    string
		mutate  func(r *Reading)
		wantErr bool
	}{
		{"valid", func(_ *Reading) {}, false},
		{"valid without optional fields", func(r *Reading) { r.Unit = ""; r.Quality = nil }, false},
		{"missing well id", func(r *Reading) { r.WellID = "" }, true},
		{"missing sensor type", func(r *Reading) { r.SensorType = "" }, true},
		{"zero timestamp", func(r *Reading) { r.Timestamp = time.Time{} }, true},
		{"NaN value", func(r *Reading) { r.Value = math.NaN() }, true},
		{"infinite value", func(r *Reading) { r.Value = math.Inf(1) }, true},
		{"quality below range", func(r *Reading) { r.Quality = intPtr(-1) }, true},
		{"quality above range", func(r *Reading) { r.Quality = intPtr(101) }, true},
		{"quality at bounds", func(r *Reading) { r.Quality = intPtr(100) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.IsInvalid(err), "validation failures must classify as invalid")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWindowKey(t *testing.T) {
	r := Reading{WellID: "Well_01", SensorType: "motor_temperature"}
	key := r.Key()

	assert.Equal(t, WindowKey{WellID: "Well_01", SensorType: "motor_temperature"}, key)
	assert.Equal(t, "Well_01/motor_temperature", key.String())
}
