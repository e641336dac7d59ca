// Package stats implements the stream statistics engine: per-reading
// window maintenance and point-in-time derived metrics including the
// inline z-score anomaly flag.
package stats

import (
	"sort"

	"github.com/ilift/wellstream/errors"
	"github.com/ilift/wellstream/reading"
	"github.com/ilift/wellstream/window"
)

// DefaultAnomalyThreshold is the z-score magnitude beyond which a reading
// is flagged, per the 3-sigma rule.
const DefaultAnomalyThreshold = 3.0

// Features holds the point-in-time metrics derived for one reading.
//
// Aggregate fields (Mean through Range) describe the window after the
// reading was inserted. Deviation fields (ChangeFromMean, ChangePercent,
// ZScore) are measured against the window as it stood before the reading
// arrived, so a jump is judged against established behavior rather than a
// baseline it has already shifted. Pointer fields are nil when the metric
// is undefined; degenerate windows never produce NaN or a fatal error.
type Features struct {
	WindowLen int     `json:"window_size"`
	Mean      float64 `json:"mean"`
	Median    float64 `json:"median"`
	Std       float64 `json:"std"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Range     float64 `json:"range"`

	ChangeFromMean *float64 `json:"change_from_mean,omitempty"`
	ChangePercent  *float64 `json:"change_percent,omitempty"`
	RateOfChange   *float64 `json:"rate_of_change,omitempty"`
	ZScore         *float64 `json:"z_score,omitempty"`
	IsAnomaly      bool     `json:"is_anomaly"`
}

// Engine consumes one reading at a time, updating the window state for
// its key and deriving point-in-time metrics.
type Engine struct {
	store     *window.Store
	threshold float64
}

// NewEngine creates an engine over the given store. A non-positive
// threshold falls back to DefaultAnomalyThreshold.
func NewEngine(store *window.Store, anomalyThreshold float64) *Engine {
	if anomalyThreshold <= 0 {
		anomalyThreshold = DefaultAnomalyThreshold
	}
	return &Engine{store: store, threshold: anomalyThreshold}
}

// Process validates the reading, inserts it into its key's window, and
// returns the post-insert window snapshot plus derived metrics.
// Malformed readings are rejected with an invalid-classified error and
// must be counted, not propagated as fatal, by the caller.
func (e *Engine) Process(r reading.Reading) (window.Snapshot, Features, error) {
	if err := r.Validate(); err != nil {
		return window.Snapshot{}, Features{}, errors.Wrap(err, "Engine", "Process", "validate reading")
	}

	state := e.store.Get(r.Key())

	// Pre-insert baseline for the deviation metrics.
	preLen := state.Len()
	preMean := state.Mean()
	preStd := state.Std()
	prevVal, prevTS, hasPrev := state.Newest()

	state.Insert(r.Value, r.Timestamp.UTC())
	snap := state.Snapshot()

	f := Features{
		WindowLen: snap.Len,
		Mean:      snap.Mean,
		Median:    median(snap.Values),
		Std:       snap.Std,
		Min:       snap.Min,
		Max:       snap.Max,
		Range:     snap.Max - snap.Min,
	}

	if preLen > 0 {
		change := r.Value - preMean
		f.ChangeFromMean = &change

		if preMean != 0 {
			pct := change / preMean * 100
			f.ChangePercent = &pct
		}
		if preStd != 0 {
			z := change / preStd
			f.ZScore = &z
			if z < 0 {
				z = -z
			}
			f.IsAnomaly = z > e.threshold
		}
	}

	if hasPrev {
		if elapsed := r.Timestamp.Sub(prevTS).Seconds(); elapsed > 0 {
			rate := (r.Value - prevVal) / elapsed
			f.RateOfChange = &rate
		}
	}

	return snap, f, nil
}

// WindowStats returns the current aggregates for one key, or false if no
// readings have been seen for it.
func (e *Engine) WindowStats(key reading.WindowKey) (window.Snapshot, bool) {
	state, ok := e.store.Lookup(key)
	if !ok || state.Len() == 0 {
		return window.Snapshot{}, false
	}
	return state.Snapshot(), true
}

// median computes the median from a sorted copy of the window contents.
// O(n log n) on the window is acceptable because window size is small and
// bounded.
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
