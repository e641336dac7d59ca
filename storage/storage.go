// Package storage defines the bulk time-series write boundary and its
// InfluxDB implementation.
package storage

import (
	"context"

	"github.com/ilift/wellstream/feature"
)

// Store is the storage boundary consumed by the batch writer. A bulk
// insert is assumed to reject the whole batch atomically on failure; no
// partial-batch semantics are required. Duplicate deliveries are absorbed
// by the store's idempotent key (well, sensor type, timestamp).
type Store interface {
	// BulkInsert writes all records in a single storage operation.
	BulkInsert(ctx context.Context, records []feature.Vector) error

	// Close releases the underlying client.
	Close() error
}
