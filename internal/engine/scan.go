package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/optionscan/engine/internal/filters"
	"github.com/optionscan/engine/internal/models"
)

// scan is the runtime state for one active scan: a ScanSpec plus
// everything the Engine mutates across ticks. It is owned exclusively by
// the Engine; mu serializes the scan's own tick task against admin calls
// (UpdateFilters, StopScan, Subscribe) so neither runs concurrently with
// the other on the same scan.
type scan struct {
	mu sync.Mutex

	id   string
	spec ScanSpec

	chain *filters.Chain

	tick        int64
	prevResults map[string]models.Result

	subscribers map[string]*Subscriber

	nextDueAt time.Time
	stopped   bool

	// outstanding guards the per-scan sequencing rule: a new coordinator
	// request is never submitted while one is already in flight for this
	// scan.
	outstanding bool
}

func newScan(spec ScanSpec, chain *filters.Chain) *scan {
	return &scan{
		id:          uuid.New().String(),
		spec:        spec,
		chain:       chain,
		prevResults: make(map[string]models.Result),
		subscribers: make(map[string]*Subscriber),
		nextDueAt:   time.Now(),
	}
}

func (s *scan) dueAt(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped && !s.outstanding && !now.Before(s.nextDueAt)
}

func (s *scan) addSubscriber() *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := newSubscriber(uuid.New().String())
	s.subscribers[sub.ID] = sub

	// Subscribe returns a full snapshot of the current result set as a
	// synthetic "added" burst before live diffs begin.
	for _, r := range s.prevResults {
		result := r
		sub.send(Event{Type: EventAdded, Tick: s.tick, Result: &result})
	}
	return sub
}

func (s *scan) removeSubscriber(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subscribers[id]; ok {
		sub.close()
		delete(s.subscribers, id)
	}
}
