package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilift/wellstream/errors"
	"github.com/ilift/wellstream/feature"
	"github.com/ilift/wellstream/pkg/retry"
	"github.com/ilift/wellstream/reading"
	"github.com/ilift/wellstream/source"
	"github.com/ilift/wellstream/writer"
)

// fakeSource feeds readings from a channel and tracks acknowledgements
// the way a broker adapter would.
type fakeSource struct {
	readings  chan reading.Reading
	connected atomic.Bool
	paused    atomic.Bool

	mu     sync.Mutex
	acked  int
	unackd int
}

func newFakeSource() *fakeSource {
	return &fakeSource{readings: make(chan reading.Reading, 64)}
}

func (s *fakeSource) Consume(ctx context.Context, handler source.Handler) error {
	s.connected.Store(true)
	defer s.connected.Store(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-s.readings:
			if !ok {
				return nil
			}
			err := handler(ctx, r)
			s.mu.Lock()
			if err == nil || errors.IsInvalid(err) {
				s.acked++
			} else {
				s.unackd++
			}
			s.mu.Unlock()
		}
	}
}

func (s *fakeSource) Pause()          { s.paused.Store(true) }
func (s *fakeSource) Resume()         { s.paused.Store(false) }
func (s *fakeSource) Connected() bool { return s.connected.Load() }
func (s *fakeSource) Close() error    { s.connected.Store(false); return nil }

func (s *fakeSource) ackCounts() (acked, unacked int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked, s.unackd
}

// fakeStore records bulk inserts.
type fakeStore struct {
	mu      sync.Mutex
	batches [][]feature.Vector
}

func (s *fakeStore) BulkInsert(_ context.Context, records []feature.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]feature.Vector, len(records))
	copy(batch, records)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) records() []feature.Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []feature.Vector
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func testPipeline(src source.Source, store *fakeStore, threshold float64) *Pipeline {
	cfg := Config{
		WindowSize:       60,
		AnomalyThreshold: threshold,
		Workers:          2,
		QueueSize:        32,
		ShutdownTimeout:  5 * time.Second,
		Writer: writer.Config{
			BatchSize:     100,
			FlushInterval: time.Hour,
			Retry: retry.Config{
				MaxAttempts:  2,
				InitialDelay: time.Millisecond,
				MaxDelay:     5 * time.Millisecond,
				Multiplier:   2.0,
			},
		},
	}
	return New(src, store, cfg, nil, nil)
}

func testReading(value float64, offset int) reading.Reading {
	return reading.Reading{
		WellID:     "Well_01",
		SensorType: "motor_temperature",
		Value:      value,
		Unit:       "celsius",
		Timestamp:  time.Date(2025, 6, 1, 12, 0, offset, 0, time.UTC),
	}
}

func TestPipeline_Lifecycle(t *testing.T) {
	src := newFakeSource()
	p := testPipeline(src, &fakeStore{}, 3.0)
	ctx := context.Background()

	assert.Equal(t, StateStopped, p.State())
	assert.Error(t, p.Pause(), "pause before start")

	require.NoError(t, p.Start(ctx))
	assert.Equal(t, StateRunning, p.State())
	require.NoError(t, p.Start(ctx), "start while running is a no-op")

	require.NoError(t, p.Pause())
	assert.Equal(t, StatePaused, p.State())
	assert.True(t, src.paused.Load())
	require.NoError(t, p.Pause(), "pause while paused is a no-op")

	require.NoError(t, p.Resume())
	assert.Equal(t, StateRunning, p.State())
	assert.False(t, src.paused.Load())
	require.NoError(t, p.Resume(), "resume while running is a no-op")

	require.NoError(t, p.Stop())
	assert.Equal(t, StateStopped, p.State())
	require.NoError(t, p.Stop(), "stop is idempotent")

	err := p.Resume()
	require.Error(t, err, "stopped pipeline cannot resume")
	assert.True(t, errors.IsInvalid(err))

	require.NoError(t, p.Start(ctx), "stopped pipeline can be started again")
	assert.Equal(t, StateRunning, p.State())

	require.NoError(t, p.Close())
	assert.Equal(t, StateStopped, p.State())
	assert.False(t, src.Connected(), "close releases the source")
	require.NoError(t, p.Close(), "close is idempotent")
}

func TestPipeline_RestartAfterStop(t *testing.T) {
	src := newFakeSource()
	store := &fakeStore{}
	p := testPipeline(src, store, 3.0)
	ctx := context.Background()

	require.NoError(t, p.Start(ctx))
	src.readings <- testReading(70, 0)
	require.Eventually(t, func() bool {
		return p.Stats().TotalProcessed == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())

	require.NoError(t, p.Start(ctx))
	assert.Equal(t, StateRunning, p.State())
	assert.False(t, src.paused.Load(), "restart resumes a source paused by Stop")

	src.readings <- testReading(71, 1)
	require.Eventually(t, func() bool {
		return p.Stats().TotalProcessed == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())

	// Counters and window state span both runs.
	recs := store.records()
	require.Len(t, recs, 2)
	assert.Equal(t, 70.0, recs[0].Value)
	assert.Equal(t, 71.0, recs[1].Value)
	assert.Equal(t, int64(2), p.Stats().TotalProcessed)
	assert.Equal(t, 1, p.Stats().ActiveWindows)
}

func TestPipeline_WindowStats(t *testing.T) {
	src := newFakeSource()
	store := &fakeStore{}
	p := testPipeline(src, store, 3.0)
	require.NoError(t, p.Start(context.Background()))

	key := reading.WindowKey{WellID: "Well_01", SensorType: "motor_temperature"}
	_, ok := p.WindowStats(key)
	assert.False(t, ok, "no window before the first reading")

	src.readings <- testReading(70, 0)
	src.readings <- testReading(72, 1)
	require.Eventually(t, func() bool {
		return p.Stats().TotalProcessed == 2
	}, 2*time.Second, 5*time.Millisecond)

	snap, ok := p.WindowStats(key)
	require.True(t, ok)
	assert.Equal(t, 2, snap.Len)
	assert.InDelta(t, 71.0, snap.Mean, 1e-9)
	assert.Equal(t, 72.0, snap.NewestVal)

	require.NoError(t, p.Stop())
}

func TestPipeline_EndToEnd(t *testing.T) {
	src := newFakeSource()
	store := &fakeStore{}
	p := testPipeline(src, store, 1.0)
	require.NoError(t, p.Start(context.Background()))

	src.readings <- testReading(70, 0)
	src.readings <- testReading(71, 1)
	src.readings <- testReading(130, 2)

	require.Eventually(t, func() bool {
		return p.Stats().TotalProcessed == 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())

	recs := store.records()
	require.Len(t, recs, 3)

	// Records for one sensor arrive in reading order.
	assert.Equal(t, 70.0, recs[0].Value)
	assert.Equal(t, 71.0, recs[1].Value)
	assert.Equal(t, 130.0, recs[2].Value)

	// First reading has no baseline to deviate from.
	assert.Nil(t, recs[0].ChangePercent)
	assert.False(t, recs[0].IsAnomaly)

	// The jump is judged against the window before it arrived
	// (mean 70.5): (130-70.5)/70.5 ≈ 84.4%.
	third := recs[2]
	require.NotNil(t, third.ChangePercent)
	assert.InDelta(t, 84.397, *third.ChangePercent, 0.01)
	require.NotNil(t, third.Mean)
	assert.InDelta(t, 90.333, *third.Mean, 0.001)
	assert.True(t, third.IsAnomaly)

	acked, unacked := src.ackCounts()
	assert.Equal(t, 3, acked)
	assert.Equal(t, 0, unacked)

	st := p.Stats()
	assert.Equal(t, int64(3), st.TotalReceived)
	assert.Equal(t, int64(3), st.TotalProcessed)
	assert.Equal(t, int64(0), st.TotalErrors)
	assert.Equal(t, int64(1), st.AnomaliesDetected)
	assert.Equal(t, int64(3), st.Writer.TotalWritten)
}

func TestPipeline_InvalidReadingCountedAndAcked(t *testing.T) {
	src := newFakeSource()
	store := &fakeStore{}
	p := testPipeline(src, store, 3.0)
	require.NoError(t, p.Start(context.Background()))

	src.readings <- reading.Reading{
		SensorType: "motor_temperature", // missing well id
		Value:      70,
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	src.readings <- testReading(70, 1)

	require.Eventually(t, func() bool {
		st := p.Stats()
		return st.TotalProcessed == 1 && st.TotalErrors == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())

	// The malformed reading is skipped, not redelivered.
	acked, unacked := src.ackCounts()
	assert.Equal(t, 2, acked)
	assert.Equal(t, 0, unacked)

	assert.Len(t, store.records(), 1)
}

func TestPipeline_PauseStopsProcessing(t *testing.T) {
	src := newFakeSource()
	store := &fakeStore{}
	p := testPipeline(src, store, 3.0)
	require.NoError(t, p.Start(context.Background()))

	src.readings <- testReading(70, 0)
	require.Eventually(t, func() bool {
		return p.Stats().TotalProcessed == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Pause())
	assert.True(t, src.paused.Load())

	require.NoError(t, p.Resume())
	src.readings <- testReading(71, 1)
	require.Eventually(t, func() bool {
		return p.Stats().TotalProcessed == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
}

func TestPipeline_SeparateKeysGetSeparateWindows(t *testing.T) {
	src := newFakeSource()
	store := &fakeStore{}
	p := testPipeline(src, store, 3.0)
	require.NoError(t, p.Start(context.Background()))

	for i := 0; i < 5; i++ {
		src.readings <- testReading(float64(70+i), i)
		r := testReading(float64(200+i), i)
		r.SensorType = "pump_vibration"
		src.readings <- r
	}

	require.Eventually(t, func() bool {
		return p.Stats().TotalProcessed == 10
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, p.Stats().ActiveWindows)
	require.NoError(t, p.Stop())

	recs := store.records()
	assert.Len(t, recs, 10)

	// Deviation metrics never mix sensor types: the vibration series is
	// flat enough that none of its readings are anomalous.
	for _, rec := range recs {
		assert.False(t, rec.IsAnomaly)
	}
}

func TestPipeline_HealthStates(t *testing.T) {
	src := newFakeSource()
	store := &fakeStore{}
	p := testPipeline(src, store, 3.0)

	assert.True(t, p.Health().IsUnhealthy(), "stopped pipeline is unhealthy")

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool {
		return src.Connected()
	}, time.Second, 5*time.Millisecond)

	src.readings <- testReading(70, 0)
	require.Eventually(t, func() bool {
		return p.Stats().TotalProcessed == 1
	}, 2*time.Second, 5*time.Millisecond)

	h := p.Health()
	assert.True(t, h.IsHealthy())
	assert.True(t, h.Healthy)

	// High error rate degrades health.
	for i := 0; i < 10; i++ {
		src.readings <- reading.Reading{SensorType: "motor_temperature", Value: 1,
			Timestamp: time.Date(2025, 6, 1, 12, 0, i, 0, time.UTC)}
	}
	require.Eventually(t, func() bool {
		return p.Stats().TotalErrors == 10
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, p.Health().IsDegraded())

	require.NoError(t, p.Stop())
	assert.True(t, p.Health().IsUnhealthy())
}

func TestPipeline_StopDrainsPendingWrites(t *testing.T) {
	src := newFakeSource()
	store := &fakeStore{}
	p := testPipeline(src, store, 3.0)
	require.NoError(t, p.Start(context.Background()))

	for i := 0; i < 7; i++ {
		src.readings <- testReading(float64(70+i), i)
	}
	require.Eventually(t, func() bool {
		return p.Stats().TotalProcessed == 7
	}, 2*time.Second, 5*time.Millisecond)

	// Nothing flushed yet: batch size 100 and a one-hour interval.
	assert.Equal(t, int64(0), p.Stats().Writer.TotalWritten)

	require.NoError(t, p.Stop())

	assert.Len(t, store.records(), 7)
	assert.Equal(t, int64(7), p.Stats().Writer.TotalWritten)
}
