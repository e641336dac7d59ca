// Package worker provides a generic keyed worker pool. Work items carry a
// routing key; items with the same key are always processed by the same
// worker, in submission order, while different keys run concurrently.
package worker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// KeyFunc extracts the routing key from a work item.
type KeyFunc[T any] func(T) string

// Processor handles one work item.
type Processor[T any] func(context.Context, T) error

// KeyedPool fans work out to a fixed set of workers, each with its own
// queue. Routing is by key hash, so per-key ordering holds for the life
// of the pool.
type KeyedPool[T any] struct {
	workers   int
	queueSize int
	keyFn     KeyFunc[T]
	processor Processor[T]

	queues []chan T
	wg     sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	inflight    sync.WaitGroup // submits between the stopped check and the send

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// NewKeyedPool creates a pool with the given worker count and per-worker
// queue size.
func NewKeyedPool[T any](workers, queueSize int, keyFn KeyFunc[T], processor Processor[T]) *KeyedPool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if keyFn == nil || processor == nil {
		panic(ErrNilProcessor)
	}

	queues := make([]chan T, workers)
	for i := range queues {
		queues[i] = make(chan T, queueSize)
	}

	return &KeyedPool[T]{
		workers:   workers,
		queueSize: queueSize,
		keyFn:     keyFn,
		processor: processor,
		queues:    queues,
	}
}

// Start launches the workers.
func (p *KeyedPool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, p.queues[i])
	}
	p.started = true
	return nil
}

// Submit routes the item to its key's worker, blocking when that worker's
// queue is full so intake backpressure propagates to the caller.
func (p *KeyedPool[T]) Submit(ctx context.Context, work T) error {
	p.lifecycleMu.Lock()
	if !p.started {
		p.lifecycleMu.Unlock()
		return ErrPoolNotStarted
	}
	if p.stopped {
		p.lifecycleMu.Unlock()
		return ErrPoolStopped
	}
	p.inflight.Add(1)
	p.lifecycleMu.Unlock()
	defer p.inflight.Done()

	queue := p.queues[p.shard(p.keyFn(work))]
	select {
	case queue <- work:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queues and waits for in-flight work to finish, up to
// the timeout.
func (p *KeyedPool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	p.lifecycleMu.Unlock()

	// New submits are rejected above; wait out the ones already past the
	// check before closing their target queues.
	p.inflight.Wait()

	for _, q := range p.queues {
		close(q)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics.
func (p *KeyedPool[T]) Stats() PoolStats {
	depth := 0
	for _, q := range p.queues {
		depth += len(q)
	}
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize * p.workers,
		QueueDepth: depth,
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
	}
}

// PoolStats represents pool statistics.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
}

// shard maps a key to a worker index with FNV-1a.
func (p *KeyedPool[T]) shard(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.workers))
}

// worker drains one queue until it is closed. Items arriving after ctx
// cancellation are still drained so Stop can account for them, but
// processors see the cancelled context and may return early.
func (p *KeyedPool[T]) worker(ctx context.Context, queue <-chan T) {
	defer p.wg.Done()

	for work := range queue {
		err := p.processor(ctx, work)
		p.processed.Add(1)
		if err != nil {
			p.failed.Add(1)
		}
	}
}
