package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/optionscan/engine/internal/metrics"
	"github.com/optionscan/engine/internal/models"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config tunes the coordinator's worker pool, concurrency budget, batching
// window, and circuit breaker. Zero values are replaced with the reference
// defaults in New.
type Config struct {
	Workers           int           // W: worker pool size
	MaxInFlight       int64         // M: concurrent upstream call permits
	QueueCapacity     int           // bounded request queue size
	CoalesceWindow    time.Duration // batch coalescing window, <= 50ms
	MaxSymbolsPerCall int           // upstream's max-symbols-per-call limit
	HealthPollEvery   time.Duration // <= 5s

	MaxFailures  uint32        // consecutive errors before the breaker opens
	ResetTimeout time.Duration // open -> half-open cooldown

	// AdaptiveBackpressure toggles whether observed queue depth retunes the
	// limiter's delay at all; false pins every tick to the default delay.
	AdaptiveBackpressure bool
	// QueueThreshold* are the queueDepth breakpoints computeDelay escalates
	// the backpressure delay across. Zero values fall back to the reference
	// breakpoints (25/50/75/100) in withDefaults.
	QueueThresholdLow      int
	QueueThresholdMedium   int
	QueueThresholdHigh     int
	QueueThresholdCritical int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 10
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.CoalesceWindow <= 0 {
		c.CoalesceWindow = 50 * time.Millisecond
	}
	if c.MaxSymbolsPerCall <= 0 {
		c.MaxSymbolsPerCall = 50
	}
	if c.HealthPollEvery <= 0 {
		c.HealthPollEvery = 5 * time.Second
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.QueueThresholdLow <= 0 {
		c.QueueThresholdLow = 25
	}
	if c.QueueThresholdMedium <= 0 {
		c.QueueThresholdMedium = 50
	}
	if c.QueueThresholdHigh <= 0 {
		c.QueueThresholdHigh = 75
	}
	if c.QueueThresholdCritical <= 0 {
		c.QueueThresholdCritical = 100
	}
	return c
}

// request is one caller's batch ask, queued until a worker picks it up
// (possibly merged with other requests sharing overlapping symbols).
type request struct {
	scanID   string
	symbols  []string
	deadline time.Time
	resultCh chan response
	queuedAt time.Time
}

type response struct {
	contracts []models.Contract
	err       error
}

// Coordinator is the Request Coordinator: callers submit per-scan symbol
// batches and receive a demultiplexed contract set or a sentinel error.
type Coordinator struct {
	cfg     Config
	gateway Gateway
	logger  zerolog.Logger

	queue   chan *request
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	state stateTracker

	thresholds backpressureThresholds
	adaptive   bool

	inflightMu sync.Mutex
	inflight   map[string]bool // scanID -> a request is outstanding

	metricsMu        sync.RWMutex
	metricsCollector *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Coordinator and starts its worker pool and health
// poller. Call Stop to drain and shut it down.
func New(gateway Gateway, cfg Config, logger zerolog.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		cfg:      cfg,
		gateway:  gateway,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		queue:    make(chan *request, cfg.QueueCapacity),
		sem:      semaphore.NewWeighted(cfg.MaxInFlight),
		limiter:  rate.NewLimiter(rate.Every(defaultDelay), 1),
		inflight: make(map[string]bool),
		thresholds: backpressureThresholds{
			low:      cfg.QueueThresholdLow,
			medium:   cfg.QueueThresholdMedium,
			high:     cfg.QueueThresholdHigh,
			critical: cfg.QueueThresholdCritical,
		},
		adaptive: cfg.AdaptiveBackpressure,
		ctx:      ctx,
		cancel:   cancel,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream-gateway",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	for i := 0; i < cfg.Workers; i++ {
		c.wg.Add(1)
		go c.runWorker(i)
	}
	c.wg.Add(1)
	go c.runHealthPoller()

	return c
}

// Submit enqueues a request for the given scan's symbol set and blocks
// until a response arrives, the context is cancelled, or the deadline
// passes. A full queue fails the request at once with ErrOverload. The
// caller (the engine) is responsible for not having another request
// outstanding for the same scanId; Submit enforces it defensively.
func (c *Coordinator) Submit(ctx context.Context, scanID string, symbols []string, deadline time.Time) ([]models.Contract, error) {
	c.inflightMu.Lock()
	if c.inflight[scanID] {
		c.inflightMu.Unlock()
		return nil, ErrOverload
	}
	c.inflight[scanID] = true
	c.inflightMu.Unlock()
	defer func() {
		c.inflightMu.Lock()
		delete(c.inflight, scanID)
		c.inflightMu.Unlock()
	}()

	req := &request{
		scanID:   scanID,
		symbols:  symbols,
		deadline: deadline,
		resultCh: make(chan response, 1),
		queuedAt: time.Now(),
	}

	select {
	case c.queue <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrShutdown
	default:
		return nil, ErrOverload
	}

	select {
	case resp := <-req.resultCh:
		return resp.contracts, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Until(deadline)):
		return nil, ErrDeadline
	}
}

// Stop cancels outstanding work and waits up to drainTimeout for workers to
// exit.
func (c *Coordinator) Stop(drainTimeout time.Duration) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	c.cancel()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		c.logger.Warn().Msg("drain timeout exceeded, workers forcibly abandoned")
	}
}

// State returns a snapshot of the coordinator's current health view.
func (c *Coordinator) State() State {
	return c.state.snapshot()
}

// SetMetrics attaches the collector this coordinator mirrors its health
// snapshots into. A nil collector (the default) disables this
// instrumentation.
func (c *Coordinator) SetMetrics(coll *metrics.Collector) {
	c.metricsMu.Lock()
	c.metricsCollector = coll
	c.metricsMu.Unlock()
}

func (c *Coordinator) getMetrics() *metrics.Collector {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metricsCollector
}

func (c *Coordinator) runHealthPoller() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HealthPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			hctx, cancel := context.WithTimeout(c.ctx, c.cfg.HealthPollEvery)
			h, err := c.gateway.Health(hctx)
			cancel()
			if err != nil {
				c.logger.Debug().Err(err).Msg("health poll failed")
				continue
			}
			c.applyHealth(h)
		}
	}
}

func (c *Coordinator) applyHealth(h Health) {
	delay := computeDelay(h.QueueDepth, c.adaptive, c.thresholds)
	circuitOpen := c.breaker.State() == gobreaker.StateOpen

	c.state.update(func(s *State) {
		s.QueueDepth = h.QueueDepth
		s.RTT = h.RTT
		s.RecentErrors = h.RecentErrors
		s.BackpressureDelay = delay
		s.CircuitState = c.breaker.State()
	})
	c.limiter.SetLimit(rate.Every(delay))

	if coll := c.getMetrics(); coll != nil {
		coll.RecordCoordinatorState(h.QueueDepth, delay, h.RTT, circuitOpen)
	}
}

// runWorker pulls requests from the queue, coalesces same-window requests
// with overlapping symbols into one upstream call, and demultiplexes the
// reply back to each originating caller.
func (c *Coordinator) runWorker(id int) {
	defer c.wg.Done()

	for {
		var first *request
		select {
		case <-c.ctx.Done():
			return
		case first = <-c.queue:
		}

		if first == nil {
			continue
		}

		batch := c.collectBatch(first)
		c.dispatch(batch)
	}
}

// collectBatch drains additional queued requests that arrive within the
// coalesce window, merging their symbol sets up to MaxSymbolsPerCall.
func (c *Coordinator) collectBatch(first *request) []*request {
	batch := []*request{first}
	symbolSet := make(map[string]bool, len(first.symbols))
	for _, s := range first.symbols {
		symbolSet[s] = true
	}

	deadlineTimer := time.NewTimer(c.cfg.CoalesceWindow)
	defer deadlineTimer.Stop()

drain:
	for len(symbolSet) < c.cfg.MaxSymbolsPerCall {
		select {
		case next := <-c.queue:
			if next == nil {
				continue
			}
			merged := make(map[string]bool, len(symbolSet))
			for s := range symbolSet {
				merged[s] = true
			}
			for _, s := range next.symbols {
				merged[s] = true
			}
			if len(merged) > c.cfg.MaxSymbolsPerCall {
				// Would overflow the upstream's per-call limit; put it back
				// for the next cycle instead of dropping it.
				go func(r *request) { c.queue <- r }(next)
				break drain
			}
			symbolSet = merged
			batch = append(batch, next)
		case <-deadlineTimer.C:
			break drain
		case <-c.ctx.Done():
			break drain
		}
	}

	return batch
}

func (c *Coordinator) dispatch(batch []*request) {
	now := time.Now()
	live := batch[:0]
	for _, r := range batch {
		if !r.deadline.IsZero() && now.After(r.deadline) {
			r.resultCh <- response{err: ErrDeadline}
			continue
		}
		live = append(live, r)
	}
	if len(live) == 0 {
		return
	}

	// Check the breaker before blocking on admission control, so an open
	// circuit fails the batch immediately instead of waiting behind the
	// semaphore/limiter for a call sure to be rejected anyway.
	if c.breaker.State() == gobreaker.StateOpen {
		for _, r := range live {
			r.resultCh <- response{err: ErrCircuitOpen}
		}
		return
	}

	symbolSet := make(map[string]bool)
	for _, r := range live {
		for _, s := range r.symbols {
			symbolSet[s] = true
		}
	}
	merged := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		merged = append(merged, s)
	}

	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		for _, r := range live {
			r.resultCh <- response{err: ErrShutdown}
		}
		return
	}
	defer c.sem.Release(1)

	if err := c.limiter.Wait(c.ctx); err != nil {
		for _, r := range live {
			r.resultCh <- response{err: ErrShutdown}
		}
		return
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.gateway.FetchContracts(c.ctx, merged)
	})
	elapsed := time.Since(start)

	if err != nil {
		mapped := err
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			mapped = ErrCircuitOpen
		}
		c.state.update(func(s *State) {
			s.CircuitState = c.breaker.State()
			s.RecentErrors++
		})
		for _, r := range live {
			r.resultCh <- response{err: mapped}
		}
		return
	}

	contracts, _ := out.([]models.Contract)
	c.state.update(func(s *State) {
		s.CircuitState = c.breaker.State()
		s.RecentErrors = 0
		s.RTT = elapsed
	})

	for _, r := range live {
		r.resultCh <- response{contracts: demux(contracts, r.symbols)}
	}
}

// demux filters the merged batch's contracts down to the ones belonging to
// one originating request's symbol set.
func demux(contracts []models.Contract, symbols []string) []models.Contract {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	out := make([]models.Contract, 0, len(contracts))
	for _, c := range contracts {
		if want[c.Underlying] {
			out = append(out, c)
		}
	}
	return out
}
