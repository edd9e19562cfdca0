package v1

import (
	"sync"
	"time"

	"github.com/optionscan/engine/internal/engine"
	"github.com/optionscan/engine/internal/filters"
	"github.com/optionscan/engine/internal/history"
	"github.com/optionscan/engine/internal/metrics"
	"github.com/optionscan/engine/internal/models"
)

// trackedScan is the REST/WS layer's own bookkeeping for one scan: the
// spec it was started with (its filters kept current by setFilters) and
// the most recent status snapshot, kept current by an internal
// subscriber so getStatus never has to reach into the engine's private
// scan state.
type trackedScan struct {
	mu sync.RWMutex

	scanID       string
	spec         engine.ScanSpec
	createdAt    time.Time
	lastStatus   *engine.Status
	lastTickAt   time.Time
	internalSubID string
	stopRecorder  chan struct{}
}

func (t *trackedScan) snapshotStatus() (engine.Status, time.Time, time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var st engine.Status
	if t.lastStatus != nil {
		st = *t.lastStatus
	}
	next := t.lastTickAt.Add(t.spec.Interval)
	return st, t.lastTickAt, next
}

// registry is the API layer's view of every scan started through this
// process: it owns no scan state itself (the engine does), only the
// metadata needed to serve status/config queries without synchronously
// reaching into the engine for every request.
type registry struct {
	mu    sync.RWMutex
	scans map[string]*trackedScan

	eng     *engine.Engine
	history *history.Store
	metrics *metrics.Collector
}

func newRegistry(eng *engine.Engine, hist *history.Store, coll *metrics.Collector) *registry {
	return &registry{
		scans:   make(map[string]*trackedScan),
		eng:     eng,
		history: hist,
		metrics: coll,
	}
}

// track enrolls a newly started scan and spawns its internal recorder
// subscription, which mirrors every result/status event into the history
// store and the metrics collector for as long as the scan lives.
func (r *registry) track(scanID string, spec engine.ScanSpec) error {
	sub, err := r.eng.Subscribe(scanID)
	if err != nil {
		return err
	}

	ts := &trackedScan{
		scanID:        scanID,
		spec:          spec,
		createdAt:     time.Now(),
		internalSubID: sub.ID,
		stopRecorder:  make(chan struct{}),
	}

	r.mu.Lock()
	r.scans[scanID] = ts
	r.mu.Unlock()

	r.metrics.SetActiveScans(r.count())
	go r.recordLoop(scanID, ts, sub)
	return nil
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scans)
}

// recordLoop drains one scan's internal subscriber for as long as the
// scan lives, folding each tick's events into history and metrics. It
// exits when the engine closes the subscriber's channel (StopScan) or
// stop() is called directly (defensive double-cleanup).
func (r *registry) recordLoop(scanID string, ts *trackedScan, sub *engine.Subscriber) {
	var curTick int64
	var tickResults []models.Result
	var added, removed, changed int

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			curTick = evt.Tick
			switch evt.Type {
			case engine.EventAdded:
				if evt.Result != nil {
					tickResults = append(tickResults, *evt.Result)
				}
				added++
			case engine.EventChanged:
				if evt.Result != nil {
					tickResults = append(tickResults, *evt.Result)
				}
				changed++
			case engine.EventRemoved:
				removed++
			case engine.EventStatus:
				r.history.Record(scanID, curTick, tickResults)
				r.metrics.RecordDiff(scanID, added, removed, changed)
				r.metrics.RecordTick(evt.Status.Duration, evt.Status.ResultCount, evt.Status.SkipReason)

				ts.mu.Lock()
				st := *evt.Status
				ts.lastStatus = &st
				ts.lastTickAt = time.Now()
				ts.mu.Unlock()

				tickResults = nil
				added, removed, changed = 0, 0, 0
			}
		case <-ts.stopRecorder:
			return
		}
	}
}

func (r *registry) untrack(scanID string) {
	r.mu.Lock()
	ts, ok := r.scans[scanID]
	if ok {
		delete(r.scans, scanID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	close(ts.stopRecorder)
	r.eng.Unsubscribe(scanID, ts.internalSubID)
	r.history.Forget(scanID)
	r.metrics.SetActiveScans(r.count())
}

func (r *registry) get(scanID string) (*trackedScan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.scans[scanID]
	return ts, ok
}

func (r *registry) setFilters(scanID string, cfg filters.FilterConfig) {
	r.mu.RLock()
	ts, ok := r.scans[scanID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	ts.mu.Lock()
	ts.spec.Filters = cfg
	ts.mu.Unlock()
}
