// Package router implements the Live Data Router (SPEC_FULL.md §4.G): the
// `ironbeam -> cache -> none` data-source state machine that sits between
// the streaming feed and the rest of the core, self-healing back to
// streaming and falling back to polling the Bar Cache Facade when the feed
// goes quiet. Grounded on the teacher's internal/exchange reconnect/backoff
// loop, generalized from a single exchange websocket to the router's
// per-symbol subscription table.
package router

import (
	"context"
	"log"
	"sync"
	"time"

	"futurescore/internal/barcache"
	"futurescore/internal/clock"
	"futurescore/internal/core"
	"futurescore/internal/events"
	"futurescore/internal/feedvendor"
)

// State is one symbol's data-source state.
type State string

const (
	StateIronbeam State = "ironbeam"
	StateCache    State = "cache"
	StateNone     State = "none"
)

// Options configures polling cadence and staleness detection.
type Options struct {
	BarInterval     time.Duration
	StaleThreshold  time.Duration
	PollInterval    time.Duration

	// OnTick, if set, receives every raw bar/quote event the router pumps
	// off the stream, before it is collapsed into the bus's metadata-only
	// payload. The Tick Ingestor hangs off this hook for sequence-gap
	// detection and top-of-book derivation (§4.E); nil skips it.
	OnTick func(feedvendor.StreamEvent)
}

func (o Options) withDefaults() Options {
	if o.BarInterval <= 0 {
		o.BarInterval = time.Minute
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = o.BarInterval
	}
	return o
}

type symbolState struct {
	mu        sync.Mutex
	state     State
	lastTick  time.Time
	pollStop  func()
	bars      <-chan feedvendor.StreamEvent
	quotes    <-chan feedvendor.StreamEvent
}

// Router owns the data-source state machine for every subscribed symbol.
type Router struct {
	stream  feedvendor.Stream
	cache   *barcache.Facade
	bus     *events.Bus
	clk     clock.Clock
	opts    Options

	mu      sync.Mutex
	symbols map[string]*symbolState
}

// New builds a Live Data Router.
func New(stream feedvendor.Stream, cache *barcache.Facade, bus *events.Bus, clk clock.Clock, opts Options) *Router {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Router{stream: stream, cache: cache, bus: bus, clk: clk, opts: opts.withDefaults(), symbols: make(map[string]*symbolState)}
}

// Subscribe starts routing bars and quotes for symbol/timeframe, attempting
// the streaming feed first and falling back to cache-poll mode on
// subscription failure (§4.G "start: attempt streaming").
func (r *Router) Subscribe(ctx context.Context, symbol, timeframe string) error {
	r.mu.Lock()
	if _, exists := r.symbols[symbol]; exists {
		r.mu.Unlock()
		return nil
	}
	ss := &symbolState{state: StateNone}
	r.symbols[symbol] = ss
	r.mu.Unlock()

	bars, err := r.stream.Subscribe(ctx, symbol, timeframe, feedvendor.SubscribeBars)
	if err != nil {
		log.Printf("router: %s bar subscription failed, falling back to cache: %v", symbol, err)
		r.enterCache(ctx, symbol, timeframe, ss)
		return nil
	}
	quotes, err := r.stream.Subscribe(ctx, symbol, "", feedvendor.SubscribeQuotes)
	if err != nil {
		log.Printf("router: %s quote subscription failed, falling back to cache: %v", symbol, err)
		r.enterCache(ctx, symbol, timeframe, ss)
		return nil
	}

	ss.mu.Lock()
	ss.bars, ss.quotes = bars, quotes
	ss.state = StateIronbeam
	ss.lastTick = r.clk.Now()
	ss.mu.Unlock()

	go r.pumpStream(ctx, symbol, timeframe, ss, bars, quotes)
	go r.watchStale(ctx, symbol, timeframe, ss)
	return nil
}

// Unsubscribe tears down a symbol's subscriptions and stops any poll loop.
func (r *Router) Unsubscribe(symbol string) {
	r.mu.Lock()
	ss, ok := r.symbols[symbol]
	delete(r.symbols, symbol)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.stream.Unsubscribe(symbol, feedvendor.SubscribeBars)
	r.stream.Unsubscribe(symbol, feedvendor.SubscribeQuotes)
	ss.mu.Lock()
	if ss.pollStop != nil {
		ss.pollStop()
	}
	ss.mu.Unlock()
}

// StateOf returns the current data-source state for symbol.
func (r *Router) StateOf(symbol string) State {
	r.mu.Lock()
	ss, ok := r.symbols[symbol]
	r.mu.Unlock()
	if !ok {
		return StateNone
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state
}

func (r *Router) pumpStream(ctx context.Context, symbol, timeframe string, ss *symbolState, bars, quotes <-chan feedvendor.StreamEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-bars:
			if !ok {
				return
			}
			r.handleEvent(ctx, symbol, timeframe, ss, ev)
		case ev, ok := <-quotes:
			if !ok {
				return
			}
			r.handleEvent(ctx, symbol, timeframe, ss, ev)
		}
	}
}

func (r *Router) handleEvent(ctx context.Context, symbol, timeframe string, ss *symbolState, ev feedvendor.StreamEvent) {
	if r.opts.OnTick != nil && (ev.Type == feedvendor.EventBarTick || ev.Type == feedvendor.EventQuoteTick) {
		r.opts.OnTick(ev)
	}

	switch ev.Type {
	case feedvendor.EventBarTick, feedvendor.EventQuoteTick:
		ss.mu.Lock()
		ss.lastTick = r.clk.Now()
		wasCache := ss.state == StateCache
		ss.state = StateIronbeam
		if wasCache && ss.pollStop != nil {
			ss.pollStop()
			ss.pollStop = nil
		}
		ss.mu.Unlock()
		if wasCache {
			r.resume(symbol, "self-healed on live tick")
		}
		if ev.Type == feedvendor.EventBarTick && ev.Bar != nil {
			r.bus.Publish(events.EventBar, events.BarPayload{Symbol: ev.Symbol, Timeframe: timeframe, TsEvent: ev.Bar.TsEvent})
		} else if ev.Type == feedvendor.EventQuoteTick && ev.Quote != nil {
			r.bus.Publish(events.EventQuote, events.QuotePayload{Symbol: ev.Symbol, TsNs: ev.Quote.TsNs})
		}

	case feedvendor.EventDisconnected, feedvendor.EventReconnectFailed:
		if ev.Type == feedvendor.EventReconnectFailed {
			log.Printf("router: %s reconnect failed", symbol)
		}
		r.enterCache(ctx, symbol, timeframe, ss)

	case feedvendor.EventStaleData:
		r.enterCache(ctx, symbol, timeframe, ss)

	case feedvendor.EventConnected:
		ss.mu.Lock()
		wasCache := ss.state == StateCache
		ss.state = StateIronbeam
		if wasCache && ss.pollStop != nil {
			ss.pollStop()
			ss.pollStop = nil
		}
		ss.mu.Unlock()
		if wasCache {
			r.resume(symbol, "reconnected")
		}
	}
}

// watchStale polls for a quiet symbol and forces cache mode past the
// staleness threshold (§4.G "stale-data detector").
func (r *Router) watchStale(ctx context.Context, symbol, timeframe string, ss *symbolState) {
	ticker := time.NewTicker(r.opts.StaleThreshold / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ss.mu.Lock()
			last := ss.lastTick
			state := ss.state
			ss.mu.Unlock()
			if state == StateIronbeam && r.clk.Now().Sub(last) > r.opts.StaleThreshold {
				r.enterCache(ctx, symbol, timeframe, ss)
			}
		}
	}
}

func (r *Router) enterCache(ctx context.Context, symbol, timeframe string, ss *symbolState) {
	ss.mu.Lock()
	already := ss.state == StateCache
	ss.state = StateCache
	ss.mu.Unlock()
	if already {
		return
	}

	log.Printf("router: %s entering cache mode", symbol)
	r.bus.Publish(events.EventDataFrozen, events.DataSourceTransitionPayload{Symbol: symbol, From: string(StateIronbeam), To: string(StateCache), Reason: string(core.ReasonDataFrozen)})

	pollCtx, cancel := context.WithCancel(ctx)
	ss.mu.Lock()
	if ss.pollStop != nil {
		ss.pollStop()
	}
	ss.pollStop = cancel
	ss.mu.Unlock()

	go r.pollLoop(pollCtx, symbol, timeframe, ss)
}

func (r *Router) resume(symbol, reason string) {
	log.Printf("router: %s resumed streaming (%s)", symbol, reason)
	r.bus.Publish(events.EventDataResumed, events.DataSourceTransitionPayload{Symbol: symbol, From: string(StateCache), To: string(StateIronbeam), Reason: reason})
}

// pollLoop is the §4.G fallback: it repeatedly force-refreshes the Bar
// Cache Facade while the symbol is in cache mode. A live tick or a
// reconnect seen by handleEvent cancels this loop via self-heal.
func (r *Router) pollLoop(ctx context.Context, symbol, timeframe string, ss *symbolState) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.cache == nil {
				continue
			}
			if _, err := r.cache.GetBarsWithTimeframe(ctx, symbol, timeframe, barcache.GetBarsOptions{Limit: 1}); err != nil {
				log.Printf("router: %s cache poll failed: %v", symbol, err)
			}
		}
	}
}
