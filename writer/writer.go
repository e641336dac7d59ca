// Package writer batches engineered feature vectors and persists them in
// bulk. It trades write latency for storage throughput: records accumulate
// in a bounded buffer and leave in batch-size chunks, either when the
// buffer reaches a full batch or when the flush interval elapses.
package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ilift/wellstream/errors"
	"github.com/ilift/wellstream/feature"
	"github.com/ilift/wellstream/pkg/buffer"
	"github.com/ilift/wellstream/pkg/retry"
	"github.com/ilift/wellstream/storage"
)

const (
	// DefaultBatchSize is the number of records per bulk insert.
	DefaultBatchSize = 100

	// DefaultFlushInterval bounds how long a partial batch can sit in the
	// buffer before being written anyway.
	DefaultFlushInterval = 10 * time.Second

	// bufferFactor sizes the internal buffer relative to the batch size.
	// With the Block overflow policy this is the backpressure horizon:
	// producers stall once this many records are pending.
	bufferFactor = 4
)

// FlushObserver is notified after every flush attempt with the outcome.
// Used to feed metrics without coupling the writer to a registry.
type FlushObserver func(duration time.Duration, records int, err error)

// Config controls batching and retry behavior.
type Config struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Retry         retry.Config  `yaml:"-"`
	OnFlush       FlushObserver `yaml:"-"`
}

// DefaultConfig returns the standard writer configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
		Retry:         retry.DefaultConfig(),
	}
}

// Stats is a point-in-time snapshot of writer counters.
type Stats struct {
	TotalWritten  int64     `json:"total_written"`
	TotalErrors   int64     `json:"total_errors"`
	BufferSize    int       `json:"buffer_size"`
	LastWriteTime time.Time `json:"last_write_time"`
}

// Writer accumulates feature vectors and writes them to the store in
// batches. Appends from multiple goroutines are safe; flushes are
// serialized so batches reach storage in buffer order.
type Writer struct {
	store  storage.Store
	buf    buffer.Buffer[feature.Vector]
	cfg    Config
	logger *slog.Logger

	flushMu sync.Mutex // serializes flushes

	statsMu      sync.Mutex
	totalWritten int64
	totalErrors  int64
	lastWrite    time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a writer over the given store. The periodic flush loop does
// not run until Start is called.
func New(store storage.Store, cfg Config, logger *slog.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		store:  store,
		buf:    buffer.NewCircular[feature.Vector](cfg.BatchSize*bufferFactor, buffer.WithOverflowPolicy[feature.Vector](buffer.Block)),
		cfg:    cfg,
		logger: logger.With("component", "writer"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the periodic flush loop.
func (w *Writer) Start(ctx context.Context) {
	go w.flushLoop(ctx)
}

// Append adds one record to the pending buffer, blocking for buffer space
// when storage is falling behind. A full batch triggers an immediate
// flush. Append returns nil once the record is buffered; a failed flush
// is logged and counted, not propagated, so callers can acknowledge the
// record as accepted.
func (w *Writer) Append(ctx context.Context, v feature.Vector) error {
	if err := w.buf.WriteContext(ctx, v); err != nil {
		return errors.Wrap(err, "Writer", "Append", "buffer record")
	}

	if w.buf.Size() >= w.cfg.BatchSize {
		if err := w.Flush(ctx); err != nil {
			w.logger.Warn("size-triggered flush failed", "error", err)
		}
	}
	return nil
}

// Flush writes at most one batch of pending records. The whole batch
// succeeds or fails together: on retry exhaustion the batch is dropped
// and counted as errors rather than blocking the pipeline forever.
func (w *Writer) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	return w.flushLocked(ctx)
}

func (w *Writer) flushLocked(ctx context.Context) error {
	batch := w.buf.ReadBatch(w.cfg.BatchSize)
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	err := retry.Do(ctx, w.cfg.Retry, func() error {
		return w.store.BulkInsert(ctx, batch)
	})
	if w.cfg.OnFlush != nil {
		w.cfg.OnFlush(time.Since(start), len(batch), err)
	}
	if err != nil {
		w.statsMu.Lock()
		w.totalErrors += int64(len(batch))
		w.statsMu.Unlock()

		w.logger.Error("batch dropped after retry exhaustion",
			"records_lost", len(batch),
			"attempts", w.cfg.Retry.MaxAttempts,
			"error", err)
		return errors.WrapTransient(errors.ErrMaxRetriesExceeded, "Writer", "Flush", "bulk insert")
	}

	w.statsMu.Lock()
	w.totalWritten += int64(len(batch))
	w.lastWrite = time.Now()
	w.statsMu.Unlock()

	w.logger.Debug("batch written",
		"records", len(batch),
		"duration", time.Since(start),
		"pending", w.buf.Size())
	return nil
}

// Drain flushes until the buffer is empty, then stops the flush loop and
// closes the buffer. Each chunk keeps full batch semantics; a drain of
// 150 pending records with batch size 100 performs two bulk inserts.
func (w *Writer) Drain(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })

	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	var lastErr error
	for !w.buf.IsEmpty() {
		if ctx.Err() != nil {
			w.logger.Error("drain abandoned, records still pending",
				"pending", w.buf.Size(), "error", ctx.Err())
			lastErr = errors.Wrap(ctx.Err(), "Writer", "Drain", "flush remaining")
			break
		}
		if err := w.flushLocked(ctx); err != nil {
			// The failed batch was already dropped and counted; keep
			// draining what is left.
			lastErr = err
		}
	}

	if err := w.buf.Close(); err != nil && lastErr == nil {
		lastErr = errors.Wrap(err, "Writer", "Drain", "close buffer")
	}
	return lastErr
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return Stats{
		TotalWritten:  w.totalWritten,
		TotalErrors:   w.totalErrors,
		BufferSize:    w.buf.Size(),
		LastWriteTime: w.lastWrite,
	}
}

// flushLoop writes partial batches on a timer so records never wait in
// the buffer past the flush interval.
func (w *Writer) flushLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.buf.IsEmpty() {
				continue
			}
			if err := w.Flush(ctx); err != nil {
				w.logger.Warn("periodic flush failed", "error", err)
			}
		}
	}
}
