// Package signalbus implements the engine's publish/subscribe signal
// fabric (spec §4.E): named topics with an ordered list of subscribers,
// synchronous in-order fan-out on publish, and per-subscriber panic
// isolation so one misbehaving handler cannot break delivery to the
// rest of a topic's subscribers or to unrelated topics.
package signalbus

import (
	"sync"

	"github.com/monstercameron/htmlex-go/logging"
)

// Handler receives a published payload. payload is whatever the
// publisher chose to send; the engine's own publishes (the publish
// attribute and the Emit response header) send nil.
type Handler func(payload interface{})

// Bus is a topic-keyed registry of ordered subscriber lists. The zero
// value is not usable; construct with New.
type Bus struct {
	mu     sync.Mutex
	topics map[string][]subscriber
	nextID uint64
	log    *logging.Logger
}

type subscriber struct {
	id uint64
	fn Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string][]subscriber),
		log:    logging.System(),
	}
}

// Subscribe registers fn against topic, appending it to the end of
// that topic's subscriber list (publish order is subscription order).
// The topic is created on first subscribe and persists — per §4.E,
// topics are append-only for the engine's lifetime, and there is no
// unsubscribe in the core: the attribute grammar has no mechanism to
// express tearing down a subscription, so none is built here either.
func (b *Bus) Subscribe(topic string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.topics[topic] = append(b.topics[topic], subscriber{id: b.nextID, fn: fn})
}

// Publish delivers payload synchronously, in subscription order, to
// every subscriber currently registered on topic. A handler that
// panics is recovered and logged; its panic does not stop delivery to
// subsequent subscribers. Publishing to a topic with no subscribers is
// a silent no-op.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.Unlock()

	for _, s := range subs {
		b.invoke(s, payload)
	}
}

func (b *Bus) invoke(s subscriber, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("signal subscriber panicked: %v", r)
		}
	}()
	s.fn(payload)
}

// SubscriberCount reports how many listeners are currently registered
// on topic. Used by tests and diagnostics.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}
