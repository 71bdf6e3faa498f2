package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the pipeline
type EventType string

const (
	EventTickRejected     EventType = "TICK_REJECTED"
	EventBarSealed        EventType = "BAR_SEALED"
	EventFeedConnected    EventType = "FEED_CONNECTED"
	EventFeedDisconnected EventType = "FEED_DISCONNECTED"
	EventSymbolsAdded     EventType = "SYMBOLS_ADDED"
	EventSetupArmed       EventType = "SETUP_ARMED"
	EventSetupExpired     EventType = "SETUP_EXPIRED"
	EventSetupConfirmed   EventType = "SETUP_CONFIRMED"
	EventSignalRejected   EventType = "SIGNAL_REJECTED"
	EventPositionOpened   EventType = "POSITION_OPENED"
	EventPositionScaled   EventType = "POSITION_SCALED"
	EventPositionClosed   EventType = "POSITION_CLOSED"
	EventCircuitTripped   EventType = "CIRCUIT_TRIPPED"
	EventBotStarted       EventType = "BOT_STARTED"
	EventBotStopped       EventType = "BOT_STOPPED"
	EventError            EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Publisher is the narrow interface components publish through
type Publisher interface {
	Publish(event Event)
}

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
	sync        bool
}

// NewEventBus creates a new event bus that delivers asynchronously
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// NewSyncEventBus delivers events on the publishing goroutine, in order
func NewSyncEventBus() *EventBus {
	eb := NewEventBus()
	eb.sync = true
	return eb
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	subs := make([]Subscriber, 0, len(eb.subscribers[event.Type])+len(eb.allSubs))
	subs = append(subs, eb.subscribers[event.Type]...)
	subs = append(subs, eb.allSubs...)
	eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range subs {
		if eb.sync {
			sub(event)
			continue
		}
		go sub(event)
	}
}

// Recorder collects events for inspection; safe for concurrent use
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher
func (r *Recorder) Publish(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of the given type were recorded
func (r *Recorder) Count(eventType EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// Discard is a Publisher that drops everything
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
