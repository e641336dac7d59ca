// Package window maintains the bounded per-key reading window and its
// incrementally updated aggregates, plus the sharded store that partitions
// window state across keys.
package window

import (
	"math"
	"time"
)

// entry is one retained observation inside a window.
type entry struct {
	value float64
	ts    time.Time
}

// State is the bounded, chronologically ordered window of recent readings
// for a single WindowKey, with running aggregates maintained in O(1)
// amortized time per insert.
//
// State is not internally synchronized: the store's sharding plus the
// pipeline's key-routed workers guarantee a single writer per key.
type State struct {
	entries  []entry
	capacity int

	sum   float64
	sumSq float64
	min   float64
	max   float64
}

// NewState creates a window with the given capacity (reading count).
func NewState(capacity int) *State {
	if capacity <= 0 {
		capacity = 1
	}
	return &State{
		entries:  make([]entry, 0, capacity),
		capacity: capacity,
	}
}

// Insert places a reading at its chronological position, evicting the
// oldest entry when the window is over capacity. A reading older than the
// oldest entry of a full window is beyond the retention horizon: it is
// accepted by the pipeline but excluded from the window, and Insert
// returns false.
func (s *State) Insert(value float64, ts time.Time) bool {
	if len(s.entries) == s.capacity && !ts.After(s.entries[0].ts) {
		return false
	}

	// Fast path: in-order arrival appends at the tail.
	idx := len(s.entries)
	for idx > 0 && s.entries[idx-1].ts.After(ts) {
		idx--
	}

	s.entries = append(s.entries, entry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = entry{value: value, ts: ts}

	s.sum += value
	s.sumSq += value * value
	if len(s.entries) == 1 {
		s.min = value
		s.max = value
	} else {
		if value < s.min {
			s.min = value
		}
		if value > s.max {
			s.max = value
		}
	}

	if len(s.entries) > s.capacity {
		s.evictOldest()
	}
	return true
}

// evictOldest removes the oldest entry and subtracts its contribution
// from the running aggregates. The tracked extremum is kept only if it is
// still present in the window, otherwise the window is rescanned.
func (s *State) evictOldest() {
	evicted := s.entries[0]
	copy(s.entries, s.entries[1:])
	s.entries = s.entries[:len(s.entries)-1]

	s.sum -= evicted.value
	s.sumSq -= evicted.value * evicted.value

	if evicted.value == s.min || evicted.value == s.max {
		s.rescanExtrema()
	}
}

func (s *State) rescanExtrema() {
	if len(s.entries) == 0 {
		s.min = 0
		s.max = 0
		return
	}
	s.min = s.entries[0].value
	s.max = s.entries[0].value
	for _, e := range s.entries[1:] {
		if e.value < s.min {
			s.min = e.value
		}
		if e.value > s.max {
			s.max = e.value
		}
	}
}

// Len returns the number of readings currently in the window.
func (s *State) Len() int {
	return len(s.entries)
}

// Mean returns the running mean, or 0 for an empty window.
func (s *State) Mean() float64 {
	if len(s.entries) == 0 {
		return 0
	}
	return s.sum / float64(len(s.entries))
}

// Std returns the population standard deviation derived from the running
// sum of squares, or 0 for fewer than two readings. Numerically degenerate
// (slightly negative) variance collapses to 0 rather than NaN.
func (s *State) Std() float64 {
	n := len(s.entries)
	if n < 2 {
		return 0
	}
	mean := s.sum / float64(n)
	variance := s.sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Min returns the smallest value in the window, or 0 when empty.
func (s *State) Min() float64 { return s.min }

// Max returns the largest value in the window, or 0 when empty.
func (s *State) Max() float64 { return s.max }

// Newest returns the most recent reading in the window.
func (s *State) Newest() (value float64, ts time.Time, ok bool) {
	if len(s.entries) == 0 {
		return 0, time.Time{}, false
	}
	last := s.entries[len(s.entries)-1]
	return last.value, last.ts, true
}

// Snapshot captures the window contents and aggregates at a point in
// time. Snapshots are immutable and safe to hand across goroutines.
type Snapshot struct {
	Values    []float64 // Chronological order
	Len       int
	Mean      float64
	Std       float64
	Min       float64
	Max       float64
	NewestVal float64
	NewestTS  time.Time
}

// Snapshot returns an immutable copy of the current window.
func (s *State) Snapshot() Snapshot {
	values := make([]float64, len(s.entries))
	for i, e := range s.entries {
		values[i] = e.value
	}
	snap := Snapshot{
		Values: values,
		Len:    len(s.entries),
		Mean:   s.Mean(),
		Std:    s.Std(),
		Min:    s.min,
		Max:    s.max,
	}
	if v, ts, ok := s.Newest(); ok {
		snap.NewestVal = v
		snap.NewestTS = ts
	}
	return snap
}
