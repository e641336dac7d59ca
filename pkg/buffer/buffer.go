// Package buffer provides a generic, thread-safe bounded circular buffer
// with configurable overflow policies.
//
// The Block policy is the backpressure primitive used by the batch write
// path: producers wait when the buffer is at capacity instead of growing
// memory unboundedly. Statistics are always collected for observability.
package buffer

import "context"

// Buffer is the interface satisfied by buffer implementations.
// The buffer is parameterized by item type T for type safety.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior when the buffer is full
	// depends on the configured overflow policy.
	Write(item T) error

	// WriteContext adds an item, honoring context cancellation while
	// blocked under the Block policy.
	WriteContext(ctx context.Context, item T) error

	// Read retrieves and removes one item from the buffer.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items from the buffer.
	ReadBatch(max int) []T

	// Peek retrieves one item without removing it.
	Peek() (T, bool)

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at maximum capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close shuts down the buffer and wakes any blocked writers.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write operations to block until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped due to the overflow policy.
type DropCallback[T any] func(item T)

// NewCircular creates a new circular buffer with the specified capacity.
// Configuration beyond capacity is via functional options.
func NewCircular[T any](capacity int, options ...Option[T]) Buffer[T] {
	return newCircularBuffer(capacity, applyOptions(options...))
}
