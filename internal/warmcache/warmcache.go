// Package warmcache implements the Warm Cache of SPEC_FULL.md §4.B: a
// per-symbol in-memory ring of bars with a hard cap, refresh leases that
// guarantee at-most-one concurrent hydration per symbol, and memory-pressure
// trimming. Grounded on pkg/cache/sharded_cache.go's per-key map+RWMutex
// shape, generalized from a single price scalar to bar slices, plus the
// single-writer-per-symbol lock idea from the teacher's balance manager.
package warmcache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"futurescore/internal/coldstore"
	"futurescore/internal/core"
	"futurescore/internal/hydrator"
)

// Options configures bar caps and staleness.
type Options struct {
	MaxBarsPerSymbol int
	EmergencyFloor   int
	StaleAfter       time.Duration
	Timeframe        string
}

type symbolEntry struct {
	bars          []core.Bar
	lastRefreshAt time.Time
	lastErr       error
}

// Cache is the Warm Cache service.
type Cache struct {
	opts     Options
	cold     *coldstore.Store
	hydrator *hydrator.Hydrator

	mu      sync.RWMutex
	entries map[string]*symbolEntry

	refreshMu sync.Mutex
	inflight  map[string]chan struct{}
}

// New builds a Warm Cache backed by the Cold Store and Remote Hydrator.
func New(opts Options, cold *coldstore.Store, hyd *hydrator.Hydrator) *Cache {
	if opts.MaxBarsPerSymbol <= 0 {
		opts.MaxBarsPerSymbol = 15000
	}
	if opts.EmergencyFloor <= 0 {
		opts.EmergencyFloor = 5000
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.Timeframe == "" {
		opts.Timeframe = "1m"
	}
	return &Cache{
		opts:     opts,
		cold:     cold,
		hydrator: hyd,
		entries:  make(map[string]*symbolEntry),
		inflight: make(map[string]chan struct{}),
	}
}

// Get returns cached bars for a symbol; if stale or empty it triggers a
// synchronous Refresh and returns whatever is current afterward.
func (c *Cache) Get(ctx context.Context, symbol string, days int) ([]core.Bar, error) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()

	needsRefresh := !ok || len(e.bars) == 0 || time.Since(e.lastRefreshAt) > c.opts.StaleAfter
	if needsRefresh {
		if err := c.Refresh(ctx, symbol, days); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	e = c.entries[symbol]
	if e == nil {
		return nil, nil
	}
	out := make([]core.Bar, len(e.bars))
	copy(out, e.bars)
	return out, nil
}

// Refresh hydrates a symbol's bars, trying warm (no-op, we're refreshing
// warm itself), cold, then remote, in that priority order. If a refresh for
// the symbol is already in-flight, the caller awaits its completion instead
// of starting a second one.
func (c *Cache) Refresh(ctx context.Context, symbol string, days int) error {
	c.refreshMu.Lock()
	if ch, inflight := c.inflight[symbol]; inflight {
		c.refreshMu.Unlock()
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	c.inflight[symbol] = done
	c.refreshMu.Unlock()

	err := c.doRefresh(ctx, symbol, days)

	c.refreshMu.Lock()
	delete(c.inflight, symbol)
	c.refreshMu.Unlock()
	close(done)

	return err
}

func (c *Cache) doRefresh(ctx context.Context, symbol string, days int) error {
	var bars []core.Bar
	var err error

	if c.cold != nil {
		bars, err = c.cold.GetBars(ctx, symbol, c.opts.Timeframe, nil, nil, c.opts.MaxBarsPerSymbol)
		if err != nil {
			c.recordError(symbol, err)
		}
	}

	needRemote := len(bars) == 0
	if !needRemote && len(bars) > 0 {
		newest := bars[len(bars)-1].TsEvent
		if time.Since(time.UnixMilli(newest)) > 24*time.Hour {
			needRemote = true // stale cold data used as fallback while remote backfills
		}
	}

	if needRemote && c.hydrator != nil {
		end := time.Now()
		start := end.AddDate(0, 0, -days)
		fresh, ferr := c.hydrator.Fetch(ctx, symbol, start, end, c.opts.Timeframe)
		if ferr != nil {
			c.recordError(symbol, ferr)
			if len(bars) == 0 {
				return fmt.Errorf("warmcache: refresh %s: %w", symbol, ferr)
			}
		} else if len(fresh) > 0 {
			bars = mergeDedup(bars, fresh)
			if c.cold != nil {
				if _, werr := c.cold.StoreBars(ctx, fresh); werr != nil {
					c.recordError(symbol, werr)
				}
			}
		}
	}

	bars = trimNewest(bars, c.opts.MaxBarsPerSymbol)

	c.mu.Lock()
	c.entries[symbol] = &symbolEntry{bars: bars, lastRefreshAt: time.Now()}
	c.mu.Unlock()
	return nil
}

func (c *Cache) recordError(symbol string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok {
		e = &symbolEntry{}
		c.entries[symbol] = e
	}
	e.lastErr = err
}

// PreWarm hydrates a set of symbols at startup in three passes: (1) an
// external KV if configured (not wired by default core — see DESIGN.md),
// (2) Cold Store (used as-is if fresh enough, else hydrated as a fallback
// while a remote refresh is queued), (3) Remote Hydrator for anything still
// missing.
func (c *Cache) PreWarm(ctx context.Context, symbols []string, days int) map[string]error {
	results := make(map[string]error, len(symbols))
	for _, s := range symbols {
		results[s] = c.Refresh(ctx, s, days)
	}
	return results
}

// TrimForMemoryPressure reduces every symbol to the emergency floor,
// preserving the newest bars. Idempotent: a symbol already at or below the
// floor is left untouched.
func (c *Cache) TrimForMemoryPressure() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	trimmed := make(map[string]int)
	for sym, e := range c.entries {
		before := len(e.bars)
		e.bars = trimNewest(e.bars, c.opts.EmergencyFloor)
		if removed := before - len(e.bars); removed > 0 {
			trimmed[sym] = removed
		}
	}
	return trimmed
}

// Len reports the number of cached bars for a symbol, for the memory-cap
// invariant tests.
func (c *Cache) Len(symbol string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[symbol]; ok {
		return len(e.bars)
	}
	return 0
}

// LastError returns the most recent refresh error recorded for a symbol.
func (c *Cache) LastError(symbol string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[symbol]; ok {
		return e.lastErr
	}
	return nil
}

func trimNewest(bars []core.Bar, cap int) []core.Bar {
	if cap <= 0 || len(bars) <= cap {
		return bars
	}
	return bars[len(bars)-cap:]
}

// mergeDedup merges cold bars with freshly hydrated bars, keyed on ts_event,
// preferring the fresh value on conflict, and returns them sorted ascending.
func mergeDedup(cold, fresh []core.Bar) []core.Bar {
	byTs := make(map[int64]core.Bar, len(cold)+len(fresh))
	for _, b := range cold {
		byTs[b.TsEvent] = b
	}
	for _, b := range fresh {
		byTs[b.TsEvent] = b
	}
	out := make([]core.Bar, 0, len(byTs))
	for _, b := range byTs {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TsEvent < out[j].TsEvent })
	return out
}
