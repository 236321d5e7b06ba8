package feedvendor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"futurescore/internal/core"
)

// WSStream is the websocket implementation of Stream against the vendor's
// duplex streaming endpoint.
type WSStream struct {
	url     string
	apiKey  string
	dialer  *websocket.Dialer
	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]chan StreamEvent
	closed  bool
}

// NewWSStream builds a websocket stream client for wsURL.
func NewWSStream(wsURL, apiKey string) *WSStream {
	return &WSStream{
		url:    wsURL,
		apiKey: apiKey,
		dialer: websocket.DefaultDialer,
		subs:   make(map[string]chan StreamEvent),
	}
}

type wireMessage struct {
	Type    string  `json:"type"`
	Symbol  string  `json:"symbol"`
	TsEvent int64   `json:"tsEvent"`
	O       float64 `json:"o"`
	H       float64 `json:"h"`
	L       float64 `json:"l"`
	C       float64 `json:"c"`
	V       int64   `json:"v"`
	TsNs    int64   `json:"tsNs"`
	Bid     float64 `json:"bid"`
	BidSize int64   `json:"bidSize"`
	Ask     float64 `json:"ask"`
	AskSize int64   `json:"askSize"`
}

func subKey(symbol string, kind SubscriptionKind) string {
	return symbol + "|" + string(kind)
}

// Subscribe opens the connection on first use and registers a per-subscription channel.
func (s *WSStream) Subscribe(ctx context.Context, symbol, timeframe string, kind SubscriptionKind) (<-chan StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			return nil, fmt.Errorf("feedvendor: dial stream: %w", err)
		}
		s.conn = conn
		go s.readLoop()
	}

	req := map[string]any{"action": "subscribe", "symbol": symbol, "timeframe": timeframe, "kind": string(kind), "apiKey": s.apiKey}
	if err := s.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("feedvendor: subscribe %s: %w", symbol, err)
	}

	ch := make(chan StreamEvent, 64)
	s.subs[subKey(symbol, kind)] = ch
	return ch, nil
}

// Unsubscribe tears down the per-symbol subscription.
func (s *WSStream) Unsubscribe(symbol string, kind SubscriptionKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subKey(symbol, kind)
	if ch, ok := s.subs[key]; ok {
		close(ch)
		delete(s.subs, key)
	}
}

func (s *WSStream) readLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		closed := s.closed
		s.mu.Unlock()
		if closed || conn == nil {
			return
		}

		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.dispatchAll(StreamEvent{Type: EventDisconnected})
			return
		}

		evt := s.toEvent(msg)
		s.dispatch(msg.Symbol, evt)
	}
}

func (s *WSStream) toEvent(msg wireMessage) StreamEvent {
	switch msg.Type {
	case string(EventBarTick):
		bar := barFromWire(msg)
		return StreamEvent{Type: EventBarTick, Symbol: msg.Symbol, Bar: &bar}
	case string(EventQuoteTick):
		q := Quote{Symbol: msg.Symbol, TsNs: msg.TsNs, Bid: msg.Bid, BidSize: msg.BidSize, Ask: msg.Ask, AskSize: msg.AskSize}
		return StreamEvent{Type: EventQuoteTick, Symbol: msg.Symbol, Quote: &q}
	case string(EventStaleData):
		return StreamEvent{Type: EventStaleData, Symbol: msg.Symbol}
	case string(EventSubscriptionFail):
		return StreamEvent{Type: EventSubscriptionFail, Symbol: msg.Symbol}
	default:
		return StreamEvent{Type: StreamEventType(msg.Type), Symbol: msg.Symbol}
	}
}

func (s *WSStream) dispatch(symbol string, evt StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range []SubscriptionKind{SubscribeBars, SubscribeQuotes} {
		if ch, ok := s.subs[subKey(symbol, kind)]; ok {
			select {
			case ch <- evt:
			default:
				log.Printf("feedvendor: dropping event for %s, subscriber channel full", symbol)
			}
		}
	}
}

func (s *WSStream) dispatchAll(evt StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Close tears down the websocket connection and every subscription channel.
func (s *WSStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = make(map[string]chan StreamEvent)
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func barFromWire(msg wireMessage) core.Bar {
	return core.Bar{Symbol: msg.Symbol, TsEvent: msg.TsEvent, Open: msg.O, High: msg.H, Low: msg.L, Close: msg.C, Volume: msg.V}
}
