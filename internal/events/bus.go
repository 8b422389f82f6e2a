// Package events provides in-process pub/sub messaging between the wallet
// layer components and their observers.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Topic identifies an event stream.
type Topic string

// Topics published by the wallet layer.
const (
	TopicProvidersChanged    Topic = "providers.changed"
	TopicSessionConnected    Topic = "session.connected"
	TopicSessionDisconnected Topic = "session.disconnected"
	TopicAccountChanged      Topic = "session.account_changed"
	TopicSettlementCompleted Topic = "settlement.completed"
)

// Event is a published message.
type Event struct {
	Topic     Topic     `json:"topic"`
	Source    string    `json:"source"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes a delivered event.
type Handler func(ctx context.Context, ev Event)

// Subscription is a handle to an active subscription.
type Subscription interface {
	Unsubscribe()
}

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("event bus is closed")

// Bus is a constructed pub/sub bus. Handlers run on their own goroutine so
// publishers never block on slow observers.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic]map[uint64]Handler
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[uint64]Handler)}
}

// Publish delivers an event to all subscribers of the topic.
func (b *Bus) Publish(ctx context.Context, topic Topic, source string, data any) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	ev := Event{
		Topic:     topic,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	}
	for _, h := range handlers {
		go h(ctx, ev)
	}
	return nil
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nopSubscription{}
	}

	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = handler

	return &busSubscription{bus: b, topic: topic, id: id}
}

// SubscribeAll registers a handler for every wallet layer topic.
func (b *Bus) SubscribeAll(handler Handler) []Subscription {
	topics := []Topic{
		TopicProvidersChanged,
		TopicSessionConnected,
		TopicSessionDisconnected,
		TopicAccountChanged,
		TopicSettlementCompleted,
	}
	subs := make([]Subscription, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, b.Subscribe(t, handler))
	}
	return subs
}

// Close drops all subscriptions and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[Topic]map[uint64]Handler)
}

type busSubscription struct {
	bus   *Bus
	topic Topic
	id    uint64
}

func (s *busSubscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.topic], s.id)
}

type nopSubscription struct{}

func (nopSubscription) Unsubscribe() {}
