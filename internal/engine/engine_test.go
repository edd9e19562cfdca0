package engine

import (
	"testing"
	"time"

	"github.com/optionscan/engine/internal/models"
	"github.com/rs/zerolog"
)

func resultWithScore(id string, score float64) models.Result {
	return models.Result{
		ID:    id,
		Score: score,
		Spread: models.VerticalSpread{
			MaxProfit: score,
			MaxLoss:   1,
		},
	}
}

// TestDiff_AddedRemovedChanged exercises the scan orchestration diff scenario:
// tick 1 is {A,B,C}; tick 2 is {B,C,D} with B materially changed. Expect
// exactly one removed (A), one changed (B), one added (D); C must appear in
// neither list.
func TestDiff_AddedRemovedChanged(t *testing.T) {
	prev := map[string]models.Result{
		"A": resultWithScore("A", 10),
		"B": resultWithScore("B", 20),
		"C": resultWithScore("C", 30),
	}
	curr := map[string]models.Result{
		"B": resultWithScore("B", 25), // moved beyond priceEpsilon via MaxProfit
		"C": resultWithScore("C", 30), // unchanged
		"D": resultWithScore("D", 40),
	}

	d := diff(prev, curr)

	if len(d.removed) != 1 || d.removed[0].ID != "A" {
		t.Fatalf("expected exactly A removed, got %+v", d.removed)
	}
	if len(d.changed) != 1 || d.changed[0].ID != "B" {
		t.Fatalf("expected exactly B changed, got %+v", d.changed)
	}
	if len(d.added) != 1 || d.added[0].ID != "D" {
		t.Fatalf("expected exactly D added, got %+v", d.added)
	}
}

func TestDiff_UnchangedWithinEpsilonOmitted(t *testing.T) {
	prev := map[string]models.Result{"A": resultWithScore("A", 10)}
	curr := map[string]models.Result{"A": resultWithScore("A", 10.005)} // within priceEpsilon (0.01)

	d := diff(prev, curr)
	if len(d.changed) != 0 {
		t.Fatalf("a sub-epsilon move must not be reported as changed, got %+v", d.changed)
	}
	if len(d.added) != 0 || len(d.removed) != 0 {
		t.Fatalf("unchanged result must not appear as added or removed")
	}
}

func nopEngineLogger() zerolog.Logger {
	return zerolog.Nop()
}

// TestFanOut_EvictsSlowSubscriberAfterTwoConsecutiveFullTicks exercises the
// slow-subscriber scenario: a subscriber whose queue never drains should be
// disconnected once its queue is found full on two consecutive ticks, while
// an unrelated subscriber that drains normally keeps receiving events.
func TestFanOut_EvictsSlowSubscriberAfterTwoConsecutiveFullTicks(t *testing.T) {
	e := &Engine{scans: make(map[string]*scan), logger: nopEngineLogger()}

	spec := ScanSpec{Symbols: []string{"AAPL"}, Interval: time.Second, MaxResults: 10}
	s := newScan(spec, nil)

	slow := s.addSubscriber()
	healthy := s.addSubscriber()

	// Saturate the slow subscriber's queue without draining it.
	for i := 0; i < subscriberQueueSize; i++ {
		slow.send(Event{Type: EventStatus, Tick: int64(i), Status: &Status{Tick: int64(i)}})
	}

	subs := []*Subscriber{slow, healthy}

	// Drain the healthy subscriber as fanOut delivers so its queue never
	// fills.
	drain := func(sub *Subscriber, n int) {
		for i := 0; i < n; i++ {
			select {
			case <-sub.Events():
			default:
			}
		}
	}

	d := diffResult{added: []models.Result{resultWithScore("A", 1)}}

	e.fanOut(s, subs, 1, d, time.Now(), nil)
	drain(healthy, 4)
	if _, stillPresent := s.subscribers[slow.ID]; !stillPresent {
		t.Fatal("slow subscriber must survive a single full tick")
	}

	e.fanOut(s, subs, 2, d, time.Now(), nil)
	drain(healthy, 4)
	if _, stillPresent := s.subscribers[slow.ID]; stillPresent {
		t.Fatal("slow subscriber should be evicted after 2 consecutive full ticks")
	}
	if _, stillPresent := s.subscribers[healthy.ID]; !stillPresent {
		t.Fatal("healthy subscriber must not be affected by the slow one's eviction")
	}
}

// TestScan_SubscribeDeliversSnapshotBurst exercises Subscribe's round-trip
// property: a new subscriber immediately receives the current result set as
// a synthetic "added" burst before any live diffs.
func TestScan_SubscribeDeliversSnapshotBurst(t *testing.T) {
	spec := ScanSpec{Symbols: []string{"AAPL"}, Interval: time.Second, MaxResults: 10}
	s := newScan(spec, nil)
	s.prevResults["A"] = resultWithScore("A", 1)
	s.prevResults["B"] = resultWithScore("B", 2)

	sub := s.addSubscriber()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		evt := <-sub.Events()
		if evt.Type != EventAdded {
			t.Fatalf("expected a synthetic added event, got %v", evt.Type)
		}
		seen[evt.Result.ID] = true
	}
	if !seen["A"] || !seen["B"] {
		t.Fatalf("expected both existing results in the snapshot burst, got %+v", seen)
	}
}

// TestScan_UnsubscribeRemovesSubscriber exercises the Subscribe/Unsubscribe
// round trip: after removal, the scan holds no reference to the subscriber
// and its channel is closed.
func TestScan_UnsubscribeRemovesSubscriber(t *testing.T) {
	spec := ScanSpec{Symbols: []string{"AAPL"}, Interval: time.Second, MaxResults: 10}
	s := newScan(spec, nil)
	sub := s.addSubscriber()

	s.removeSubscriber(sub.ID)

	if _, ok := s.subscribers[sub.ID]; ok {
		t.Fatal("expected subscriber to be removed from the scan's registry")
	}
	if _, open := <-sub.Events(); open {
		t.Fatal("expected the subscriber's channel to be closed after Unsubscribe")
	}
}

func TestScanSpec_ValidateRejectsEmptySymbols(t *testing.T) {
	spec := ScanSpec{Interval: time.Second, MaxResults: 1}
	if err := spec.Validate(); err == nil {
		t.Fatal("expected ErrInvalidSpec for empty symbols")
	}
}

func TestScanSpec_ValidateRejectsSubSecondInterval(t *testing.T) {
	spec := ScanSpec{Symbols: []string{"AAPL"}, Interval: 500 * time.Millisecond, MaxResults: 1}
	if err := spec.Validate(); err == nil {
		t.Fatal("expected ErrInvalidSpec for a sub-second interval")
	}
}

func TestEngine_StartStopScanLifecycle(t *testing.T) {
	e := New(nil, nil, nopEngineLogger())

	id, err := e.StartScan(ScanSpec{Symbols: []string{"AAPL"}, Interval: time.Second, MaxResults: 10})
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	sub, err := e.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := e.StopScan(id); err != nil {
		t.Fatalf("StopScan: %v", err)
	}
	if _, open := <-sub.Events(); open {
		t.Fatal("expected subscriber channel closed once its scan is stopped")
	}
	if err := e.StopScan(id); err == nil {
		t.Fatal("expected stopping an already-stopped scan to fail")
	}
}
