package signalbus

import (
	"sync/atomic"
	"testing"
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	b := New()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		b.Subscribe("topic", func(payload interface{}) { order = append(order, i) })
	}

	b.Publish("topic", nil)

	if len(order) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Errorf("expected subscription order, got %v", order)
			break
		}
	}
}

func TestPublishCarriesPayload(t *testing.T) {
	b := New()
	var got interface{}
	b.Subscribe("topic", func(payload interface{}) { got = payload })
	b.Publish("topic", "hello")
	if got != "hello" {
		t.Errorf("expected payload to reach subscriber, got %v", got)
	}
}

func TestPublishToUnknownTopicIsNoop(t *testing.T) {
	b := New()
	b.Publish("nonexistent", nil) // must not panic
}

func TestPanickingSubscriberDoesNotStopDelivery(t *testing.T) {
	b := New()
	var secondCalled int32
	b.Subscribe("topic", func(payload interface{}) { panic("boom") })
	b.Subscribe("topic", func(payload interface{}) { atomic.StoreInt32(&secondCalled, 1) })

	b.Publish("topic", nil) // must not panic out of Publish

	if atomic.LoadInt32(&secondCalled) != 1 {
		t.Error("expected second subscriber to still run after first panicked")
	}
}

func TestSubscriberCount(t *testing.T) {
	b := New()
	if b.SubscriberCount("topic") != 0 {
		t.Error("expected zero subscribers on a fresh topic")
	}
	b.Subscribe("topic", func(interface{}) {})
	b.Subscribe("topic", func(interface{}) {})
	if b.SubscriberCount("topic") != 2 {
		t.Errorf("expected 2 subscribers, got %d", b.SubscriberCount("topic"))
	}
}
