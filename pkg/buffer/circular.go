package buffer

import (
	"context"
	"sync"

	"github.com/ilift/wellstream/errors"
)

// circularBuffer is a thread-safe circular buffer with configurable
// overflow policies.
type circularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // Next write position
	tail     int // Next read position
	stats    *Statistics
	opts     *bufferOptions[T]

	// For Block policy
	notFull *sync.Cond
	closed  bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) *circularBuffer[T] {
	if capacity <= 0 {
		capacity = 1 // Minimum capacity
	}

	cb := &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		opts:     opts,
	}
	cb.notFull = sync.NewCond(&cb.mu)
	return cb
}

// Write adds an item to the buffer according to the overflow policy.
func (cb *circularBuffer[T]) Write(item T) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return errors.WrapInvalid(errors.ErrBufferClosed, "Buffer", "Write", "buffer closed")
	}

	if cb.size == cb.capacity {
		switch cb.opts.overflowPolicy {
		case DropOldest:
			droppedItem := cb.items[cb.tail]
			cb.tail = (cb.tail + 1) % cb.capacity
			cb.size--
			cb.stats.Overflow()
			cb.stats.Drop()
			if cb.opts.dropCallback != nil {
				// Run callback outside the lock to avoid deadlock
				defer cb.opts.dropCallback(droppedItem)
			}

		case DropNewest:
			cb.stats.Overflow()
			cb.stats.Drop()
			if cb.opts.dropCallback != nil {
				defer cb.opts.dropCallback(item)
			}
			return nil

		case Block:
			for cb.size == cb.capacity && !cb.closed {
				cb.notFull.Wait()
			}
			if cb.closed {
				return errors.WrapInvalid(errors.ErrBufferClosed, "Buffer", "Write",
					"buffer closed during blocking wait")
			}
		}
	}

	cb.put(item)
	return nil
}

// WriteContext attempts to write an item, honoring context cancellation
// while blocked under the Block policy.
func (cb *circularBuffer[T]) WriteContext(ctx context.Context, item T) error {
	if cb.opts.overflowPolicy != Block {
		return cb.Write(item)
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return errors.WrapInvalid(errors.ErrBufferClosed, "Buffer", "WriteContext", "buffer closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)

	// Wake blocked waiters when the context is cancelled. Broadcast is
	// safe without holding the mutex.
	go func() {
		select {
		case <-ctx.Done():
			cb.notFull.Broadcast()
		case <-done:
		}
	}()

	for cb.size == cb.capacity && !cb.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		cb.notFull.Wait()
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if cb.closed {
		return errors.WrapInvalid(errors.ErrBufferClosed, "Buffer", "WriteContext",
			"buffer closed during wait")
	}

	cb.put(item)
	return nil
}

// put appends an item; caller must hold the lock with space available.
func (cb *circularBuffer[T]) put(item T) {
	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
}

// Read retrieves and removes one item from the buffer.
func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}

	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero // Clear for GC
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--

	cb.stats.Read()
	cb.stats.UpdateSize(int64(cb.size))

	cb.notFull.Signal()
	return item, true
}

// ReadBatch retrieves and removes up to max items from the buffer.
func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}

	readCount := max
	if readCount > cb.size {
		readCount = cb.size
	}

	result := make([]T, readCount)
	var zero T
	for i := 0; i < readCount; i++ {
		result[i] = cb.items[cb.tail]
		cb.items[cb.tail] = zero
		cb.tail = (cb.tail + 1) % cb.capacity
		cb.size--
		cb.stats.Read()
	}
	cb.stats.UpdateSize(int64(cb.size))

	for i := 0; i < readCount; i++ {
		cb.notFull.Signal()
	}
	return result
}

// Peek retrieves one item without removing it from the buffer.
func (cb *circularBuffer[T]) Peek() (T, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}
	cb.stats.PeekOp()
	return cb.items[cb.tail], true
}

// Size returns the current number of items in the buffer.
func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity // Immutable, no lock needed
}

// IsFull returns true if the buffer is at maximum capacity.
func (cb *circularBuffer[T]) IsFull() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == cb.capacity
}

// IsEmpty returns true if the buffer contains no items.
func (cb *circularBuffer[T]) IsEmpty() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == 0
}

// Clear removes all items from the buffer.
func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	if cb.opts.dropCallback != nil {
		itemsToDrop := make([]T, cb.size)
		for i := 0; i < cb.size; i++ {
			idx := (cb.tail + i) % cb.capacity
			itemsToDrop[i] = cb.items[idx]
		}
		defer func() {
			for _, item := range itemsToDrop {
				cb.opts.dropCallback(item)
			}
		}()
	}

	for i := 0; i < cb.capacity; i++ {
		cb.items[i] = zero
	}
	cb.head = 0
	cb.tail = 0
	cb.size = 0
	cb.stats.UpdateSize(0)

	cb.notFull.Broadcast()
}

// Stats returns buffer statistics.
func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close shuts down the buffer and wakes all blocked writers.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true
	cb.notFull.Broadcast()
	return nil
}
