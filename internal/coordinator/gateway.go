// Package coordinator implements the bounded-concurrency dispatcher that
// paces calls to the upstream market-data gateway: a fixed worker pool,
// a concurrency permit, adaptive backpressure, a circuit breaker, batch
// coalescing across scans, and deadline-based request dropping.
package coordinator

import (
	"context"
	"time"

	"github.com/optionscan/engine/internal/models"
)

// Gateway is the upstream market-data collaborator. Its implementation
// (the brokerage connection, rate limits, auth) is out of scope here; the
// coordinator only depends on this contract.
type Gateway interface {
	// FetchContracts returns every option contract across all listed
	// expiries/strikes for each requested symbol.
	FetchContracts(ctx context.Context, symbols []string) ([]models.Contract, error)
	// Health reports the gateway's own queue depth, round-trip time, and
	// recent error count, polled on a fixed cadence.
	Health(ctx context.Context) (Health, error)
}

// Health is one sample of upstream health, either from a poll or inferred
// from the outcome of a live call.
type Health struct {
	QueueDepth   int
	RTT          time.Duration
	RecentErrors int
}
