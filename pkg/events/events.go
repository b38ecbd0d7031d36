package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventWorkloadApplied    EventType = "workload.applied"
	EventWorkloadDeleted    EventType = "workload.deleted"
	EventInstanceCreated    EventType = "instance.created"
	EventInstanceReady      EventType = "instance.ready"
	EventInstanceNotReady   EventType = "instance.not-ready"
	EventInstanceFatal      EventType = "instance.fatal"
	EventInstanceTerminated EventType = "instance.terminated"
	EventRolloutStarted     EventType = "rollout.started"
	EventRolloutConverged   EventType = "rollout.converged"
	EventRolloutStalled     EventType = "rollout.stalled"
	EventRolloutCancelled   EventType = "rollout.cancelled"
	EventClaimBound         EventType = "volume.claim-bound"
	EventClaimUnbindable    EventType = "volume.claim-unbindable"
	EventConfigInvalid      EventType = "config.invalid"
)

// Event represents an engine event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Workload  string
	Instance  string
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution. Besides fan-out to
// subscribers it keeps a bounded replay ring of recent events, ordered by
// occurrence, backing the operational events endpoint.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}

	ringMu   sync.RWMutex
	ring     []*Event
	ringSize int
}

// NewBroker creates a new event broker retaining up to ringSize recent events
func NewBroker(ringSize int) *Broker {
	if ringSize <= 0 {
		ringSize = 256
	}
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
		ringSize:    ringSize,
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers and records it in the ring
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.ringMu.Lock()
	b.ring = append(b.ring, event)
	if len(b.ring) > b.ringSize {
		b.ring = b.ring[len(b.ring)-b.ringSize:]
	}
	b.ringMu.Unlock()

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// Recent returns up to limit recent events, oldest first
func (b *Broker) Recent(limit int) []*Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	events := b.ring
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]*Event, len(events))
	copy(out, events)
	return out
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
