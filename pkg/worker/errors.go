package worker

import "errors"

var (
	// ErrNilProcessor is returned when no processor function is provided
	ErrNilProcessor = errors.New("worker: processor function cannot be nil")

	// ErrPoolNotStarted is returned when submitting to a pool that hasn't started
	ErrPoolNotStarted = errors.New("worker: pool not started")

	// ErrPoolAlreadyStarted is returned when starting a pool twice
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")

	// ErrPoolStopped is returned when submitting to a stopped pool
	ErrPoolStopped = errors.New("worker: pool stopped")

	// ErrStopTimeout is returned when workers don't finish within the stop timeout
	ErrStopTimeout = errors.New("worker: stop timeout exceeded")
)
