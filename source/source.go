// Package source defines the streaming input boundary of the pipeline.
// Adapters deliver raw sensor readings one at a time and acknowledge each
// message only after the handler has accepted it, giving at-least-once
// delivery into the processing stages.
package source

import (
	"context"

	"github.com/ilift/wellstream/reading"
)

// Handler processes one decoded reading. A nil return acknowledges the
// message. Returning an invalid-classified error also acknowledges it,
// since redelivering a malformed reading can never succeed. Any other
// error leaves the message unacknowledged for redelivery.
type Handler func(ctx context.Context, r reading.Reading) error

// Source is a stream of sensor readings. Implementations must support
// pausing delivery without dropping their connection so the pipeline can
// stall intake during backpressure or an operator pause.
type Source interface {
	// Consume blocks delivering readings to handler until ctx is
	// cancelled or the connection fails beyond recovery.
	Consume(ctx context.Context, handler Handler) error

	// Pause stops message delivery while keeping the connection open.
	// Pausing an already-paused source is a no-op.
	Pause()

	// Resume restarts delivery after Pause. Resuming a running source is
	// a no-op.
	Resume()

	// Connected reports whether the source currently holds a live
	// connection to its broker.
	Connected() bool

	// Close tears down the connection. The source cannot be reused.
	Close() error
}
