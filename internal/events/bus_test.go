package events

import (
	"sync"
	"testing"
	"time"
)

func TestSyncBusDeliversInOrder(t *testing.T) {
	bus := NewSyncEventBus()
	var got []EventType
	bus.SubscribeAll(func(e Event) { got = append(got, e.Type) })

	bus.Publish(Event{Type: EventSetupArmed})
	bus.Publish(Event{Type: EventSetupConfirmed})

	if len(got) != 2 || got[0] != EventSetupArmed || got[1] != EventSetupConfirmed {
		t.Errorf("Expected armed then confirmed, got %v", got)
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	bus := NewSyncEventBus()
	count := 0
	bus.Subscribe(EventPositionClosed, func(e Event) { count++ })

	bus.Publish(Event{Type: EventPositionOpened})
	bus.Publish(Event{Type: EventPositionClosed})

	if count != 1 {
		t.Errorf("Expected 1 closed event, got %d", count)
	}
}

func TestAsyncBusSetsTimestamp(t *testing.T) {
	bus := NewEventBus()
	var wg sync.WaitGroup
	wg.Add(1)
	var ts time.Time
	bus.Subscribe(EventBotStarted, func(e Event) {
		ts = e.Timestamp
		wg.Done()
	})

	bus.Publish(Event{Type: EventBotStarted})
	wg.Wait()

	if ts.IsZero() {
		t.Error("Timestamp should be set on publish")
	}
}

func TestRecorderCounts(t *testing.T) {
	rec := &Recorder{}
	PublishSetupExpired(rec, "s1", "AAPL", "bull", 15)
	PublishTickRejected(rec, "AAPL", "spike", 120)
	PublishTickRejected(rec, "AAPL", "invalid", -1)

	if rec.Count(EventTickRejected) != 2 {
		t.Errorf("Expected 2 rejected ticks, got %d", rec.Count(EventTickRejected))
	}
	events := rec.Events()
	if events[0].Data["bars_waited"] != 15 {
		t.Errorf("Expected bars_waited 15, got %v", events[0].Data["bars_waited"])
	}
}
