package coordinator

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State is a snapshot of upstream health as observed by the coordinator:
// recent queue depth, recent RTT, recent consecutive error count, the
// breaker's state, and the currently computed backpressure delay.
type State struct {
	QueueDepth        int
	RTT               time.Duration
	RecentErrors      int
	CircuitState      gobreaker.State
	BackpressureDelay time.Duration
	SampledAt         time.Time
}

// stateTracker guards State behind a short lock; it is written by every
// worker after a call and by the background health poller, and read by
// anyone computing the next delay.
type stateTracker struct {
	mu    sync.RWMutex
	state State
}

func (t *stateTracker) snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *stateTracker) update(fn func(*State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.state)
	t.state.SampledAt = time.Now()
}

// backpressureThresholds holds the queueDepth breakpoints computeDelay
// escalates the backpressure delay across; it is populated from
// config.CoordinatorConfig's QueueThreshold* fields so the knobs are
// configurable rather than hardcoded.
type backpressureThresholds struct {
	low, medium, high, critical int
}

// defaultThresholds mirrors the reference backpressure specification's
// literal breakpoints, used whenever a Config leaves them unset.
var defaultThresholds = backpressureThresholds{low: 25, medium: 50, high: 75, critical: 100}

const defaultDelay = 10 * time.Millisecond

// computeDelay maps an observed queue depth to a backpressure delay using
// th's breakpoints, checked from the highest bound down so a depth of, say,
// 120 matches ">critical" rather than falling through. When adaptive is
// false, backpressure is disabled and every depth gets the default delay.
func computeDelay(queueDepth int, adaptive bool, th backpressureThresholds) time.Duration {
	if !adaptive {
		return defaultDelay
	}
	switch {
	case queueDepth > th.critical:
		return 500 * time.Millisecond
	case queueDepth > th.high:
		return 100 * time.Millisecond
	case queueDepth > th.medium:
		return 50 * time.Millisecond
	case queueDepth > th.low:
		return 25 * time.Millisecond
	default:
		return defaultDelay
	}
}
