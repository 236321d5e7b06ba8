package events

import "testing"

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	stream, unsub := bus.Subscribe(EventBar, 1)
	defer unsub()

	bus.Publish(EventBar, BarPayload{Symbol: "ES"})

	select {
	case got := <-stream:
		payload, ok := got.(BarPayload)
		if !ok || payload.Symbol != "ES" {
			t.Fatalf("unexpected payload: %+v", got)
		}
	default:
		t.Fatal("expected payload to be delivered to subscriber")
	}
}

// TestPublishDropsWhenBufferFull asserts a slow subscriber never blocks
// Publish: once its buffer is full, further events for that topic are
// dropped and counted rather than stalling the publisher.
func TestPublishDropsWhenBufferFull(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(EventAccountBlown, 1)
	defer unsub()

	bus.Publish(EventAccountBlown, AccountBlownPayload{AccountID: "acct-1"})
	bus.Publish(EventAccountBlown, AccountBlownPayload{AccountID: "acct-1"})
	bus.Publish(EventAccountBlown, AccountBlownPayload{AccountID: "acct-1"})

	if got := bus.DroppedCount(EventAccountBlown); got != 2 {
		t.Fatalf("expected 2 dropped publishes past the buffer of 1, got %d", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	stream, unsub := bus.Subscribe(EventBar, 1)
	unsub()

	bus.Publish(EventBar, BarPayload{Symbol: "ES"})

	if _, ok := <-stream; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestTopicsReportsActiveSubscriptions(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(EventBotStatus, 1)
	defer unsub()

	topics := bus.Topics()
	found := false
	for _, topic := range topics {
		if topic == EventBotStatus {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected EventBotStatus among active topics, got %v", topics)
	}
}
