package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"futurescore/internal/clock"
	"futurescore/internal/events"
	"futurescore/internal/feedvendor"
)

type fakeStream struct {
	mu   sync.Mutex
	subs map[string]chan feedvendor.StreamEvent
	fail map[string]bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{subs: map[string]chan feedvendor.StreamEvent{}, fail: map[string]bool{}}
}

func key(symbol string, kind feedvendor.SubscriptionKind) string { return symbol + "|" + string(kind) }

func (f *fakeStream) Subscribe(ctx context.Context, symbol, timeframe string, kind feedvendor.SubscriptionKind) (<-chan feedvendor.StreamEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(symbol, kind)
	if f.fail[k] {
		return nil, context.DeadlineExceeded
	}
	ch := make(chan feedvendor.StreamEvent, 4)
	f.subs[k] = ch
	return ch, nil
}

func (f *fakeStream) Unsubscribe(symbol string, kind feedvendor.SubscriptionKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[key(symbol, kind)]; ok {
		close(ch)
		delete(f.subs, key(symbol, kind))
	}
}

func (f *fakeStream) Close() error { return nil }

func (f *fakeStream) send(t *testing.T, symbol string, kind feedvendor.SubscriptionKind, ev feedvendor.StreamEvent) {
	t.Helper()
	f.mu.Lock()
	ch := f.subs[key(symbol, kind)]
	f.mu.Unlock()
	if ch == nil {
		t.Fatalf("no subscription for %s/%s", symbol, kind)
	}
	ch <- ev
}

func waitForState(t *testing.T, r *Router, symbol string, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.StateOf(symbol) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s state %s, got %s", symbol, want, r.StateOf(symbol))
}

func TestSubscribeStartsInIronbeamState(t *testing.T) {
	stream := newFakeStream()
	bus := events.NewBus()
	r := New(stream, nil, bus, clock.NewFake(time.Unix(0, 0)), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Subscribe(ctx, "MNQ", "1m"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, r, "MNQ", StateIronbeam)
}

func TestSubscribeFailureEntersCache(t *testing.T) {
	stream := newFakeStream()
	stream.fail[key("MNQ", feedvendor.SubscribeBars)] = true
	bus := events.NewBus()
	r := New(stream, nil, bus, clock.NewFake(time.Unix(0, 0)), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frozen, _ := bus.Subscribe(events.EventDataFrozen, 1)
	if err := r.Subscribe(ctx, "MNQ", "1m"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, r, "MNQ", StateCache)
	select {
	case <-frozen:
	case <-time.After(time.Second):
		t.Fatalf("expected DATA_FROZEN event")
	}
}

func TestDisconnectThenReconnectSelfHeals(t *testing.T) {
	stream := newFakeStream()
	bus := events.NewBus()
	r := New(stream, nil, bus, clock.NewFake(time.Unix(0, 0)), Options{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Subscribe(ctx, "MNQ", "1m"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, r, "MNQ", StateIronbeam)

	stream.send(t, "MNQ", feedvendor.SubscribeBars, feedvendor.StreamEvent{Type: feedvendor.EventDisconnected, Symbol: "MNQ"})
	waitForState(t, r, "MNQ", StateCache)

	stream.send(t, "MNQ", feedvendor.SubscribeBars, feedvendor.StreamEvent{Type: feedvendor.EventBarTick, Symbol: "MNQ"})
	waitForState(t, r, "MNQ", StateIronbeam)
}
