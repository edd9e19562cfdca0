package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/optionscan/engine/internal/models"
	"github.com/rs/zerolog"
)

// fakeGateway is a scriptable Gateway double: each call to FetchContracts
// consults a caller-supplied function, and concurrent in-flight calls are
// counted so tests can assert the coordinator never exceeds MaxInFlight.
type fakeGateway struct {
	mu           sync.Mutex
	inFlight     int32
	maxObserved  int32
	fetchFn      func(symbols []string) ([]models.Contract, error)
	healthFn     func() (Health, error)
	fetchCalls   int32
}

func (g *fakeGateway) FetchContracts(ctx context.Context, symbols []string) ([]models.Contract, error) {
	n := atomic.AddInt32(&g.inFlight, 1)
	defer atomic.AddInt32(&g.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&g.maxObserved)
		if n <= cur || atomic.CompareAndSwapInt32(&g.maxObserved, cur, n) {
			break
		}
	}
	atomic.AddInt32(&g.fetchCalls, 1)
	if g.fetchFn != nil {
		return g.fetchFn(symbols)
	}
	out := make([]models.Contract, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, models.Contract{Symbol: s, Underlying: s})
	}
	return out, nil
}

func (g *fakeGateway) Health(ctx context.Context) (Health, error) {
	if g.healthFn != nil {
		return g.healthFn()
	}
	return Health{}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// TestCircuitBreaker_OpensAfterConsecutiveFailures exercises scenario 3 from
// the scan orchestration design: five consecutive upstream failures trip the
// breaker, and the next call fails immediately with ErrCircuitOpen without
// reaching the gateway.
func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	gw := &fakeGateway{
		fetchFn: func(symbols []string) ([]models.Contract, error) {
			return nil, errors.New("upstream exploded")
		},
	}
	c := New(gw, Config{
		Workers:      1,
		MaxInFlight:  1,
		MaxFailures:  5,
		ResetTimeout: time.Hour, // long enough that the test won't race a transition to half-open
	}, testLogger())
	defer c.Stop(time.Second)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := c.Submit(ctx, "scanA", []string{"AAPL"}, time.Now().Add(time.Second))
		if err == nil {
			t.Fatalf("call %d: expected the fake gateway's error to propagate", i)
		}
	}

	callsBefore := atomic.LoadInt32(&gw.fetchCalls)
	_, err := c.Submit(ctx, "scanA", []string{"AAPL"}, time.Now().Add(time.Second))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen on the 6th call, got %v", err)
	}
	if atomic.LoadInt32(&gw.fetchCalls) != callsBefore {
		t.Fatal("an open circuit must fail fast without calling the gateway")
	}
}

// TestBackpressure_DelayEscalatesMonotonically exercises scenario 4: as the
// observed queue depth climbs through the reference thresholds, the computed
// delay must never decrease.
func TestBackpressure_DelayEscalatesMonotonically(t *testing.T) {
	depths := []int{10, 30, 60, 80, 120}
	want := []time.Duration{
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		500 * time.Millisecond,
	}

	var last time.Duration
	for i, d := range depths {
		got := computeDelay(d, true, defaultThresholds)
		if got != want[i] {
			t.Fatalf("computeDelay(%d) = %v, want %v", d, got, want[i])
		}
		if i > 0 && got < last {
			t.Fatalf("delay regressed at depth %d: %v < previous %v", d, got, last)
		}
		last = got
	}
}

// TestCoordinator_ConcurrencyNeverExceedsMaxInFlight drives many concurrent
// scan requests through a coordinator whose gateway blocks until released,
// and asserts the observed in-flight call count never exceeds MaxInFlight.
func TestCoordinator_ConcurrencyNeverExceedsMaxInFlight(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{
		fetchFn: func(symbols []string) ([]models.Contract, error) {
			<-release
			return []models.Contract{}, nil
		},
	}
	const maxInFlight = 3
	c := New(gw, Config{
		Workers:           8,
		MaxInFlight:       maxInFlight,
		CoalesceWindow:    time.Millisecond,
		MaxSymbolsPerCall: 1, // force one upstream call per scan, no coalescing
	}, testLogger())
	defer c.Stop(time.Second)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scanID := "scan" + string(rune('A'+i))
			c.Submit(ctx, scanID, []string{"SYM"}, time.Now().Add(2*time.Second))
		}(i)
	}

	// Give the workers a moment to pile up against the semaphore before
	// releasing them.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&gw.maxObserved) > maxInFlight {
		t.Fatalf("observed %d concurrent upstream calls, want <= %d", gw.maxObserved, maxInFlight)
	}
}

// TestCoordinator_RejectsSecondOutstandingRequestForSameScan enforces the
// per-scan sequencing guarantee: a scan may never have two coordinator
// requests in flight simultaneously.
func TestCoordinator_RejectsSecondOutstandingRequestForSameScan(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{
		fetchFn: func(symbols []string) ([]models.Contract, error) {
			<-release
			return []models.Contract{}, nil
		},
	}
	c := New(gw, Config{Workers: 2, MaxInFlight: 2}, testLogger())
	defer c.Stop(time.Second)

	ctx := context.Background()
	firstDone := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, "scanA", []string{"AAPL"}, time.Now().Add(2*time.Second))
		firstDone <- err
	}()

	time.Sleep(50 * time.Millisecond) // let the first request become outstanding
	_, err := c.Submit(ctx, "scanA", []string{"AAPL"}, time.Now().Add(2*time.Second))
	if !errors.Is(err, ErrOverload) {
		t.Fatalf("expected ErrOverload for a second outstanding request on the same scan, got %v", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first request should have succeeded once released, got %v", err)
	}
}

func TestCoordinator_DeadlineExceededWhileQueued(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{fetchFn: func(symbols []string) ([]models.Contract, error) {
		<-release
		return []models.Contract{}, nil
	}}
	// A zero Workers value is replaced by the default pool size, so the queue
	// is kept from draining by parking the only worker on a blocked upstream
	// call.
	c := New(gw, Config{Workers: 1, MaxInFlight: 1, QueueCapacity: 1, CoalesceWindow: time.Millisecond}, testLogger())
	defer c.Stop(time.Second)
	defer close(release)

	ctx := context.Background()
	go c.Submit(ctx, "blocker", []string{"MSFT"}, time.Now().Add(2*time.Second))
	time.Sleep(50 * time.Millisecond)

	_, err := c.Submit(ctx, "scanA", []string{"AAPL"}, time.Now().Add(10*time.Millisecond))
	if !errors.Is(err, ErrDeadline) {
		t.Fatalf("expected ErrDeadline while the only worker is busy, got %v", err)
	}
}
