package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/optionscan/engine/internal/coordinator"
	"github.com/optionscan/engine/internal/filters"
	"github.com/optionscan/engine/internal/metrics"
	"github.com/optionscan/engine/internal/models"
	"github.com/rs/zerolog"
)

// tickLoopResolution is how often the engine scans the registry for due
// scans; it must be finer than the minimum allowed scan interval (1s) so
// every scan fires close to on time.
const tickLoopResolution = 200 * time.Millisecond

// filterCacheSize bounds each scan's chain executor result cache.
const filterCacheSize = 512

// Engine owns every live scan: the scan registry, the tick loop, and the
// per-tick pipeline (coordinator fetch -> chain filter -> spread generation
// -> score -> sort/truncate -> diff -> fan-out).
type Engine struct {
	mu    sync.RWMutex
	scans map[string]*scan

	coordinator *coordinator.Coordinator
	metrics     *metrics.Collector
	logger      zerolog.Logger

	wg sync.WaitGroup
}

// New wires an Engine to its coordinator and, optionally, a metrics
// collector (nil disables per-filter and eviction instrumentation).
func New(coord *coordinator.Coordinator, coll *metrics.Collector, logger zerolog.Logger) *Engine {
	return &Engine{
		scans:       make(map[string]*scan),
		coordinator: coord,
		metrics:     coll,
		logger:      logger.With().Str("component", "engine").Logger(),
	}
}

// StartScan validates the spec, builds a Chain Executor for it, and
// enrolls it in the registry.
func (e *Engine) StartScan(spec ScanSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	chain, err := filters.NewChain(spec.Filters, filterCacheSize, nil)
	if err != nil {
		return "", fmt.Errorf("building filter chain: %w", err)
	}
	chain.SetMetrics(e.metrics)

	s := newScan(spec, chain)

	e.mu.Lock()
	e.scans[s.id] = s
	e.mu.Unlock()

	e.logger.Info().Str("scan_id", s.id).Strs("symbols", spec.Symbols).Msg("scan started")
	return s.id, nil
}

// StopScan removes the scan from the registry. Any in-flight tick
// completes but emits no further events; its subscribers are closed.
func (e *Engine) StopScan(scanID string) error {
	e.mu.Lock()
	s, ok := e.scans[scanID]
	if ok {
		delete(e.scans, scanID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("scan %s not found", scanID)
	}

	s.mu.Lock()
	s.stopped = true
	for id, sub := range s.subscribers {
		sub.close()
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	e.logger.Info().Str("scan_id", scanID).Msg("scan stopped")
	return nil
}

// UpdateFilters atomically replaces a scan's chain between ticks. Cache
// state for any filter whose StaticKey changed is invalidated inside
// Chain.Reconfigure.
func (e *Engine) UpdateFilters(scanID string, cfg filters.FilterConfig) error {
	e.mu.RLock()
	s, ok := e.scans[scanID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("scan %s not found", scanID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstanding {
		return fmt.Errorf("scan %s has a tick in flight, retry after it completes", scanID)
	}
	if err := s.chain.Reconfigure(cfg); err != nil {
		return err
	}
	s.spec.Filters = cfg
	return nil
}

// Subscribe enrolls a new subscriber and immediately delivers the current
// result set as a synthetic "added" burst.
func (e *Engine) Subscribe(scanID string) (*Subscriber, error) {
	e.mu.RLock()
	s, ok := e.scans[scanID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("scan %s not found", scanID)
	}
	return s.addSubscriber(), nil
}

// Unsubscribe removes one subscriber from a scan.
func (e *Engine) Unsubscribe(scanID, subscriberID string) {
	e.mu.RLock()
	s, ok := e.scans[scanID]
	e.mu.RUnlock()
	if !ok {
		return
	}
	s.removeSubscriber(subscriberID)
}

// Run drives the tick loop until ctx is cancelled, then waits up to
// drainTimeout for outstanding tick tasks.
func (e *Engine) Run(ctx context.Context, drainTimeout time.Duration) {
	ticker := time.NewTicker(tickLoopResolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain(drainTimeout)
			return
		case now := <-ticker.C:
			e.dispatchDue(ctx, now)
		}
	}
}

func (e *Engine) drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		e.logger.Warn().Msg("drain timeout exceeded, outstanding tick tasks abandoned")
	}
}

func (e *Engine) dispatchDue(ctx context.Context, now time.Time) {
	e.mu.RLock()
	due := make([]*scan, 0)
	for _, s := range e.scans {
		if s.dueAt(now) {
			due = append(due, s)
		}
	}
	e.mu.RUnlock()

	for _, s := range due {
		s.mu.Lock()
		s.outstanding = true
		s.mu.Unlock()

		e.wg.Add(1)
		go func(s *scan) {
			defer e.wg.Done()
			defer func() {
				s.mu.Lock()
				s.outstanding = false
				s.mu.Unlock()
			}()
			e.runTick(ctx, s)
		}(s)
	}
}

// runTick is the per-scan tick task: fetch -> filter -> generate -> score
// -> sort/truncate -> diff -> fan-out -> advance nextDueAt. A panic here is
// caught and logged so it cannot bring down the tick loop; the tick is
// counted as failed in the skipped-ticks metric under reason "panic" (when
// a collector is attached) and publishes no events.
func (e *Engine) runTick(ctx context.Context, s *scan) {
	tickNum := s.tick + 1
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("scan_id", s.id).Msg("tick task panicked")
			if e.metrics != nil {
				e.metrics.RecordTick(time.Since(start), 0, "panic")
			}
		}
	}()

	deadline := start.Add(s.spec.Interval)
	reqCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	contracts, err := e.coordinator.Submit(reqCtx, s.id, s.spec.Symbols, deadline)
	if err != nil {
		e.skipTick(s, tickNum, start, err)
		return
	}

	// Skip heuristics are only safe when the next scheduled tick will run a
	// full pass soon enough to erase this tick's staleness before the cached
	// output's TTL floor expires (§9 open question: skip heuristics vs.
	// correctness).
	s.chain.SetSkipEnabled(s.spec.Interval < filters.TTLDefault)

	filtered := s.chain.ApplyToContracts(contracts)
	spreads := generateVerticalSpreads(filtered)
	spreads = s.chain.ApplyToSpreads(spreads)
	filtered, spreads = s.chain.ApplyCombined(filtered, spreads)

	sortSpreads(spreads, s.spec.SortKey, s.spec.SortDir)
	if s.spec.MaxResults > 0 && len(spreads) > s.spec.MaxResults {
		spreads = spreads[:s.spec.MaxResults]
	}

	curr := make(map[string]models.Result, len(spreads))
	for _, sp := range spreads {
		id := sp.ID()
		r := models.Result{ID: id, Spread: sp, Score: sp.Score, FirstSeenTick: tickNum, LastChangedAt: start}
		if prev, existed := s.prevResults[id]; existed {
			r.FirstSeenTick = prev.FirstSeenTick
			if !materiallyChanged(prev, r) {
				r.LastChangedAt = prev.LastChangedAt
			}
		}
		curr[id] = r
	}

	d := diff(s.prevResults, curr)

	s.mu.Lock()
	s.prevResults = curr
	s.tick = tickNum
	s.nextDueAt = start.Add(s.spec.Interval)
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	e.fanOut(s, subs, tickNum, d, start, nil)
}

func (e *Engine) skipTick(s *scan, tickNum int64, start time.Time, err error) {
	s.mu.Lock()
	s.nextDueAt = start.Add(s.spec.Interval)
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	e.fanOut(s, subs, tickNum, diffResult{}, start, err)
}

// fanOut delivers removed, changed, added, then status events in that
// order, disconnecting any subscriber whose queue has now been full for
// two consecutive ticks.
func (e *Engine) fanOut(s *scan, subs []*Subscriber, tickNum int64, d diffResult, start time.Time, tickErr error) {
	sawFull := make(map[*Subscriber]bool, len(subs))

	deliver := func(evt Event) {
		for _, sub := range subs {
			if !sub.send(evt) {
				sawFull[sub] = true
			}
		}
	}

	for i := range d.removed {
		r := d.removed[i]
		deliver(Event{Type: EventRemoved, Tick: tickNum, Result: &r})
	}
	for i := range d.changed {
		r := d.changed[i]
		deliver(Event{Type: EventChanged, Tick: tickNum, Result: &r})
	}
	for i := range d.added {
		r := d.added[i]
		deliver(Event{Type: EventAdded, Tick: tickNum, Result: &r})
	}

	status := &Status{
		Tick:        tickNum,
		ResultCount: len(s.prevResults),
		Duration:    time.Since(start),
	}
	if tickErr != nil {
		status.SkipReason = tickErr.Error()
	}
	deliver(Event{Type: EventStatus, Tick: tickNum, Status: status})

	// A subscriber's queue is judged full-or-not once per tick, after every
	// event this tick was attempted, so a tick with several events never
	// evicts a subscriber on its own; eviction requires two full ticks in a
	// row.
	toEvict := make([]*Subscriber, 0)
	for _, sub := range subs {
		if sawFull[sub] {
			sub.consecutiveFull++
			if sub.consecutiveFull >= maxConsecutiveFullTicks {
				toEvict = append(toEvict, sub)
			}
		} else {
			sub.consecutiveFull = 0
		}
	}

	if len(toEvict) > 0 {
		s.mu.Lock()
		for _, sub := range toEvict {
			sub.close()
			delete(s.subscribers, sub.ID)
		}
		s.mu.Unlock()
		for _, sub := range toEvict {
			e.logger.Warn().Str("scan_id", s.id).Str("subscriber_id", sub.ID).Msg("disconnecting slow subscriber")
			if e.metrics != nil {
				e.metrics.RecordEviction()
			}
		}
	}
}
