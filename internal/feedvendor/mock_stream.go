package feedvendor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"futurescore/internal/core"
)

// MockStream generates synthetic bar/quote ticks for local development,
// standing in for the vendor websocket when no real endpoint is
// configured. Grounded on the teacher's internal/market.MockFeed random
// walk, adapted from a single price-tick event shape to the Stream
// interface's bar/quote StreamEvent framing.
type MockStream struct {
	StartPrice float64
	Step       float64
	Interval   time.Duration

	mu     sync.Mutex
	prices map[string]float64
	subs   map[string]chan StreamEvent
	closed bool
}

// NewMockStream builds a synthetic Stream.
func NewMockStream(startPrice, step float64, interval time.Duration) *MockStream {
	if startPrice <= 0 {
		startPrice = 100
	}
	if step <= 0 {
		step = 0.25
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &MockStream{
		StartPrice: startPrice, Step: step, Interval: interval,
		prices: make(map[string]float64), subs: make(map[string]chan StreamEvent),
	}
}

// Subscribe starts a synthetic random-walk generator for (symbol, kind).
func (m *MockStream) Subscribe(ctx context.Context, symbol, timeframe string, kind SubscriptionKind) (<-chan StreamEvent, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, context.Canceled
	}
	key := subKey(symbol, kind)
	if ch, ok := m.subs[key]; ok {
		m.mu.Unlock()
		return ch, nil
	}
	if _, ok := m.prices[symbol]; !ok {
		m.prices[symbol] = m.StartPrice
	}
	ch := make(chan StreamEvent, 16)
	m.subs[key] = ch
	m.mu.Unlock()

	go m.run(ctx, symbol, timeframe, kind, ch)
	return ch, nil
}

func (m *MockStream) run(ctx context.Context, symbol, timeframe string, kind SubscriptionKind, ch chan StreamEvent) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ev, ok := m.nextEvent(symbol, timeframe, kind, now)
			if !ok {
				return
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (m *MockStream) nextEvent(symbol, timeframe string, kind SubscriptionKind, now time.Time) (StreamEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, subscribed := m.subs[subKey(symbol, kind)]; !subscribed {
		return StreamEvent{}, false
	}

	price := m.prices[symbol] + (rand.Float64()*2-1)*m.Step
	m.prices[symbol] = price

	switch kind {
	case SubscribeBars:
		bar := &core.Bar{
			Symbol: symbol, Timeframe: timeframe, TsEvent: now.UnixMilli(),
			Open: price, High: price + m.Step, Low: price - m.Step, Close: price, Volume: 1,
		}
		return StreamEvent{Type: EventBarTick, Symbol: symbol, Bar: bar}, true
	default:
		q := &Quote{Symbol: symbol, TsNs: now.UnixNano(), Bid: price - 0.05, BidSize: 1, Ask: price + 0.05, AskSize: 1}
		return StreamEvent{Type: EventQuoteTick, Symbol: symbol, Quote: q}, true
	}
}

// Unsubscribe stops the generator for (symbol, kind).
func (m *MockStream) Unsubscribe(symbol string, kind SubscriptionKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subKey(symbol, kind)
	if ch, ok := m.subs[key]; ok {
		close(ch)
		delete(m.subs, key)
	}
}

// Close tears down every subscription.
func (m *MockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for k, ch := range m.subs {
		close(ch)
		delete(m.subs, k)
	}
	return nil
}
