package events

import (
	"sync"
	"time"
)

// Event is one published item on a topic.
type Event struct {
	Topic     string
	Seq       uint64
	Payload   any
	Timestamp time.Time
}

// Subscriber is a channel that receives events for its subscribed topics.
type Subscriber chan *Event

type subscription struct {
	ch     Subscriber
	topics map[string]bool // nil/empty means "all topics"
}

// Broker fans events out to subscribers filtered by topic, assigning
// each topic its own monotonically increasing sequence number.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]*subscription
	seqs        map[string]uint64
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]*subscription),
		seqs:        make(map[string]uint64),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a subscription. An empty topics set receives every event.
func (b *Broker) Subscribe(topics ...string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	b.subscribers[sub] = &subscription{ch: sub, topics: set}
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish assigns the next sequence number for the event's topic and
// queues it for broadcast. Blocks only until the event reaches the
// broker's internal queue, never until subscribers drain it.
func (b *Broker) Publish(topic string, payload any) uint64 {
	b.mu.Lock()
	b.seqs[topic]++
	seq := b.seqs[topic]
	b.mu.Unlock()

	event := &Event{Topic: topic, Seq: seq, Payload: payload, Timestamp: time.Now()}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
	return seq
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

	for _, sub := range b.subscribers {
		if len(sub.topics) > 0 && !sub.topics[event.Topic] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
