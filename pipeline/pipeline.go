// Package pipeline orchestrates the processing stages: source intake,
// stream statistics, feature engineering, and batched storage writes. It
// owns the lifecycle state machine and the per-key worker routing that
// keeps readings for one sensor strictly ordered.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ilift/wellstream/errors"
	"github.com/ilift/wellstream/feature"
	"github.com/ilift/wellstream/health"
	"github.com/ilift/wellstream/metric"
	"github.com/ilift/wellstream/pkg/worker"
	"github.com/ilift/wellstream/reading"
	"github.com/ilift/wellstream/source"
	"github.com/ilift/wellstream/stats"
	"github.com/ilift/wellstream/storage"
	"github.com/ilift/wellstream/window"
	"github.com/ilift/wellstream/writer"
)

// State is the pipeline lifecycle state.
type State int32

// Lifecycle states. The legal transitions are Stopped→Running,
// Running⇄Paused, and Running/Paused→Stopped; a stopped pipeline may be
// started again.
const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// rateInterval is the sliding window over which the processing rate is
// measured.
const rateInterval = 10 * time.Second

// Config controls processing concurrency and detection parameters.
type Config struct {
	WindowSize       int
	AnomalyThreshold float64
	Workers          int
	QueueSize        int
	ShutdownTimeout  time.Duration

	// ErrorRateThreshold is the processed-error ratio above which the
	// pipeline reports degraded health. Defaults to 1%.
	ErrorRateThreshold float64

	Writer writer.Config
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	State             string           `json:"state"`
	Uptime            time.Duration    `json:"uptime"`
	TotalReceived     int64            `json:"total_received"`
	TotalProcessed    int64            `json:"total_processed"`
	TotalErrors       int64            `json:"total_errors"`
	AnomaliesDetected int64            `json:"anomalies_detected"`
	ProcessingRate    float64          `json:"processing_rate"`
	LastProcessedTime time.Time        `json:"last_processed_time"`
	ActiveWindows     int              `json:"active_windows"`
	SourceConnected   bool             `json:"source_connected"`
	Writer            writer.Stats     `json:"writer"`
	Pool              worker.PoolStats `json:"pool"`
}

// job carries one reading through the worker pool. done receives the
// processing outcome so the source handler can acknowledge only after
// the feature vector is buffered for write.
type job struct {
	r    reading.Reading
	done chan error
}

// Pipeline wires the stages together and drives them.
type Pipeline struct {
	cfg    Config
	src    source.Source
	sink   storage.Store
	store  *window.Store
	engine *stats.Engine
	m      *metric.Metrics
	logger *slog.Logger

	mu      sync.Mutex
	writer  *writer.Writer
	pool    *worker.KeyedPool[job]
	state   atomic.Int32
	stopped bool
	started time.Time
	cancel  context.CancelFunc
	group   *errgroup.Group

	received  atomic.Int64
	processed atomic.Int64
	errCount  atomic.Int64
	anomalies atomic.Int64

	lastMu        sync.Mutex
	lastProcessed time.Time

	rateMu sync.Mutex
	rate   float64
}

// New builds a pipeline over the given source and storage backend.
// metrics may be nil, in which case only internal counters are kept.
func New(src source.Source, store storage.Store, cfg Config, metrics *metric.Metrics, logger *slog.Logger) *Pipeline {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 60
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 0.01
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pipeline")

	windows := window.NewStore(cfg.WindowSize)
	p := &Pipeline{
		cfg:    cfg,
		src:    src,
		sink:   store,
		store:  windows,
		engine: stats.NewEngine(windows, cfg.AnomalyThreshold),
		writer: writer.New(store, cfg.Writer, logger),
		m:      metrics,
		logger: logger,
	}
	p.pool = p.newPool()
	return p
}

func (p *Pipeline) newPool() *worker.KeyedPool[job] {
	return worker.NewKeyedPool(p.cfg.Workers, p.cfg.QueueSize,
		func(j job) string { return j.r.Key().String() },
		p.process)
}

// Start transitions Stopped→Running and launches the intake and monitor
// goroutines. Starting a pipeline that is already running is a no-op.
// Starting after Stop rebuilds the worker pool and write buffer; window
// contents and cumulative counters carry over.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch State(p.state.Load()) {
	case StateRunning, StatePaused:
		return nil
	}
	if p.stopped {
		// The pool and write buffer are single-use and were torn down
		// by Stop.
		p.pool = p.newPool()
		p.writer = writer.New(p.sink, p.cfg.Writer, p.logger)
		p.stopped = false
		p.src.Resume()
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if err := p.pool.Start(runCtx); err != nil {
		cancel()
		return errors.Wrap(err, "Pipeline", "Start", "start worker pool")
	}
	p.writer.Start(runCtx)

	group, gctx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		if err := p.src.Consume(gctx, p.handleReading); err != nil {
			p.logger.Error("source consumption stopped", "error", err)
			return err
		}
		return nil
	})
	wr := p.writer
	group.Go(func() error {
		// Sampled on the run context so gauges keep updating even if the
		// source goroutine dies; health then reports the disconnect.
		p.monitor(runCtx, wr)
		return nil
	})
	p.group = group

	p.started = time.Now()
	p.setState(StateRunning)
	p.logger.Info("pipeline started",
		"workers", p.cfg.Workers,
		"window_size", p.cfg.WindowSize,
		"batch_size", p.cfg.Writer.BatchSize)
	return nil
}

// Pause stops source delivery while in-flight readings finish. Buffered
// records keep flushing.
func (p *Pipeline) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch State(p.state.Load()) {
	case StatePaused:
		return nil
	case StateStopped:
		return errors.WrapInvalid(errors.ErrNotStarted, "Pipeline", "Pause", "pause pipeline")
	}

	p.src.Pause()
	p.setState(StatePaused)
	p.logger.Info("pipeline paused")
	return nil
}

// Resume restarts source delivery after a Pause.
func (p *Pipeline) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch State(p.state.Load()) {
	case StateRunning:
		return nil
	case StateStopped:
		return errors.WrapInvalid(errors.ErrNotPaused, "Pipeline", "Resume", "resume pipeline")
	}

	p.src.Resume()
	p.setState(StateRunning)
	p.logger.Info("pipeline resumed")
	return nil
}

// Stop shuts the pipeline down: intake stops first, queued readings are
// processed, then the write buffer drains. Stop is idempotent; the source
// connection stays open so Start can be called again.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if State(p.state.Load()) == StateStopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	cancel := p.cancel
	group := p.group
	wr := p.writer
	pool := p.pool
	p.setState(StateStopped)
	p.mu.Unlock()

	p.logger.Info("pipeline stopping")

	// Halt delivery so the queues only shrink from here.
	p.src.Pause()

	if err := pool.Stop(p.cfg.ShutdownTimeout); err != nil {
		p.logger.Warn("worker pool did not drain cleanly", "error", err)
	}

	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}

	// Final drain on a fresh context; the run context is already
	// cancelled and would abort retries.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
	defer drainCancel()
	if err := wr.Drain(drainCtx); err != nil {
		p.logger.Error("write buffer drain incomplete", "error", err)
		return errors.Wrap(err, "Pipeline", "Stop", "drain write buffer")
	}

	p.logger.Info("pipeline stopped",
		"total_processed", p.processed.Load(),
		"total_errors", p.errCount.Load())
	return nil
}

// Close stops the pipeline and releases the source connection. A closed
// pipeline cannot be restarted.
func (p *Pipeline) Close() error {
	err := p.Stop()
	if cerr := p.src.Close(); cerr != nil {
		p.logger.Warn("source close failed", "error", cerr)
		if err == nil {
			err = cerr
		}
	}
	return err
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.lastMu.Lock()
	last := p.lastProcessed
	p.lastMu.Unlock()

	p.rateMu.Lock()
	rate := p.rate
	p.rateMu.Unlock()

	var uptime time.Duration
	p.mu.Lock()
	if !p.started.IsZero() {
		uptime = time.Since(p.started)
	}
	wr, pool := p.writer, p.pool
	p.mu.Unlock()

	return Stats{
		State:             p.State().String(),
		Uptime:            uptime,
		TotalReceived:     p.received.Load(),
		TotalProcessed:    p.processed.Load(),
		TotalErrors:       p.errCount.Load(),
		AnomaliesDetected: p.anomalies.Load(),
		ProcessingRate:    rate,
		LastProcessedTime: last,
		ActiveWindows:     p.store.Count(),
		SourceConnected:   p.src.Connected(),
		Writer:            wr.Stats(),
		Pool:              pool.Stats(),
	}
}

// WindowStats returns the live window snapshot for one (well, sensor)
// key, when that key has been seen.
func (p *Pipeline) WindowStats(key reading.WindowKey) (window.Snapshot, bool) {
	return p.engine.WindowStats(key)
}

// Health reports aggregate pipeline health: healthy only while running
// with a connected source and an error rate under the threshold.
func (p *Pipeline) Health() health.Status {
	if p.State() == StateStopped {
		return health.NewUnhealthy("pipeline", "pipeline stopped")
	}

	var subs []health.Status

	if p.src.Connected() {
		subs = append(subs, health.NewHealthy("source", "connected"))
	} else {
		subs = append(subs, health.NewUnhealthy("source", "disconnected"))
	}

	received := p.received.Load()
	errCount := p.errCount.Load()
	rate := 0.0
	if received > 0 {
		rate = float64(errCount) / float64(received)
	}
	if rate < p.cfg.ErrorRateThreshold {
		subs = append(subs, health.NewHealthy("processing", "error rate nominal"))
	} else {
		subs = append(subs, health.NewDegraded("processing",
			fmt.Sprintf("error rate %.2f%% over threshold", rate*100)))
	}

	p.mu.Lock()
	wr := p.writer
	p.mu.Unlock()
	ws := wr.Stats()
	if ws.TotalErrors == 0 {
		subs = append(subs, health.NewHealthy("writer", "no data loss"))
	} else {
		subs = append(subs, health.NewDegraded("writer",
			fmt.Sprintf("%d records dropped", ws.TotalErrors)))
	}

	p.lastMu.Lock()
	last := p.lastProcessed
	p.lastMu.Unlock()

	return health.Aggregate("pipeline", subs).WithMetrics(&health.Metrics{
		Uptime:            p.Stats().Uptime,
		ErrorCount:        errCount,
		ReadingsProcessed: p.processed.Load(),
		LastActivity:      last,
	})
}

// handleReading is the source callback. It routes the reading to its
// key's worker and waits for the outcome, so the source acknowledges a
// message only after its feature vector reached the write buffer.
func (p *Pipeline) handleReading(ctx context.Context, r reading.Reading) error {
	p.received.Add(1)
	if p.m != nil {
		p.m.ReadingsReceived.WithLabelValues(r.SensorType).Inc()
	}

	j := job{r: r, done: make(chan error, 1)}
	if err := p.pool.Submit(ctx, j); err != nil {
		return errors.WrapTransient(err, "Pipeline", "handleReading", "enqueue reading")
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process runs on a pool worker. Readings sharing a key always land on
// the same worker, so window state needs no per-state locking.
func (p *Pipeline) process(ctx context.Context, j job) error {
	start := time.Now()

	snap, sf, err := p.engine.Process(j.r)
	if err != nil {
		p.recordError(j.r.SensorType, err)
		j.done <- err
		return err
	}

	vec := feature.Engineer(j.r, snap, sf)

	if sf.IsAnomaly {
		p.anomalies.Add(1)
		if p.m != nil {
			p.m.AnomaliesDetected.WithLabelValues(j.r.SensorType).Inc()
		}
		p.logger.Warn("anomalous reading",
			"well_id", j.r.WellID,
			"sensor_type", j.r.SensorType,
			"value", j.r.Value,
			"z_score", derefOrZero(sf.ZScore))
	}

	if err := p.writer.Append(ctx, vec); err != nil {
		p.recordError(j.r.SensorType, err)
		j.done <- err
		return err
	}

	p.processed.Add(1)
	p.lastMu.Lock()
	p.lastProcessed = time.Now()
	p.lastMu.Unlock()

	if p.m != nil {
		p.m.ReadingsProcessed.WithLabelValues(j.r.SensorType).Inc()
		p.m.ProcessingDuration.WithLabelValues("process").Observe(time.Since(start).Seconds())
	}

	j.done <- nil
	return nil
}

func (p *Pipeline) recordError(sensorType string, err error) {
	p.errCount.Add(1)
	if p.m != nil {
		p.m.ProcessingErrors.WithLabelValues(sensorType, errors.Classify(err).String()).Inc()
	}
	p.logger.Error("reading failed", "sensor_type", sensorType, "error", err)
}

// monitor samples gauges every second and the processing rate over the
// rate interval. The writer is passed in because a restart replaces it.
func (p *Pipeline) monitor(ctx context.Context, wr *writer.Writer) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var (
		prevWritten   int64
		prevDropped   int64
		rateCount     = p.processed.Load()
		rateSampledAt = time.Now()
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.m != nil {
				ws := wr.Stats()
				p.m.WriteBufferLen.Set(float64(ws.BufferSize))
				if d := ws.TotalWritten - prevWritten; d > 0 {
					p.m.RecordsWritten.Add(float64(d))
				}
				if d := ws.TotalErrors - prevDropped; d > 0 {
					p.m.RecordsDropped.Add(float64(d))
				}
				prevWritten = ws.TotalWritten
				prevDropped = ws.TotalErrors

				p.m.WindowCount.Set(float64(p.store.Count()))
				if p.src.Connected() {
					p.m.SourceConnected.Set(1)
				} else {
					p.m.SourceConnected.Set(0)
				}
				p.m.PipelineState.Set(float64(p.state.Load()))
			}

			if elapsed := time.Since(rateSampledAt); elapsed >= rateInterval {
				count := p.processed.Load()
				p.rateMu.Lock()
				p.rate = float64(count-rateCount) / elapsed.Seconds()
				p.rateMu.Unlock()
				rateCount = count
				rateSampledAt = time.Now()
			}
		}
	}
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	if p.m != nil {
		p.m.PipelineState.Set(float64(s))
	}
}

func derefOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
