package coordinator

import "errors"

// ErrCircuitOpen is returned when the breaker protecting the upstream
// gateway is open: the engine treats the affected scan's tick as a no-op.
var ErrCircuitOpen = errors.New("coordinator: circuit open")

// ErrDeadline is returned when a request was still queued past its
// caller-supplied deadline; it is dropped without consuming a permit.
var ErrDeadline = errors.New("coordinator: deadline exceeded while queued")

// ErrOverload is returned at admission when the bounded request queue is
// full or the scan already has a request outstanding.
var ErrOverload = errors.New("coordinator: overloaded")

// ErrShutdown is returned for requests submitted after Stop has been
// called, or still outstanding when the drain timeout expires.
var ErrShutdown = errors.New("coordinator: shutting down")
