package engine

import (
	"time"

	"github.com/optionscan/engine/internal/models"
)

// EventType distinguishes the four event kinds a scan's subscribers
// receive, always delivered within one tick in the order removed, changed,
// added, status.
type EventType string

const (
	EventRemoved EventType = "removed"
	EventChanged EventType = "changed"
	EventAdded   EventType = "added"
	EventStatus  EventType = "status"
)

// Event is one unit pushed to a subscriber's queue.
type Event struct {
	Type   EventType
	Tick   int64
	Result *models.Result // nil for status events
	Status *Status        // nil for result events
}

// Status carries the per-tick summary emitted after added/removed/changed
// events, or in place of them when the tick was skipped.
type Status struct {
	Tick        int64
	ResultCount int
	SkipReason  string // empty unless the tick was skipped
	Warnings    []string
	Duration    time.Duration
}

// subscriberQueueSize bounds each subscriber's event channel.
const subscriberQueueSize = 256

// maxConsecutiveFullTicks is how many ticks in a row a subscriber's queue
// may be found full before it is disconnected.
const maxConsecutiveFullTicks = 2

// Subscriber receives a snapshot burst on connect, then live diffs.
type Subscriber struct {
	ID string
	ch chan Event

	consecutiveFull int
	closed          bool
}

func newSubscriber(id string) *Subscriber {
	return &Subscriber{ID: id, ch: make(chan Event, subscriberQueueSize)}
}

// Events exposes the subscriber's receive-only event stream.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// send attempts a non-blocking enqueue. It returns false if the queue was
// full; the caller (fanOut) tracks full ticks and evicts the subscriber
// once the threshold is reached.
func (s *Subscriber) send(e Event) bool {
	if s.closed {
		return false
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
