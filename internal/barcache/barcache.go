// Package barcache implements the Bar Cache Facade of SPEC_FULL.md §4.D,
// orchestrating Cold Store, Warm Cache and Remote Hydrator behind one
// getBars/getBarsWithTimeframe surface. Grounded on the teacher's
// internal/engine/service.go orchestration-over-services shape.
package barcache

import (
	"context"
	"fmt"

	"futurescore/internal/coldstore"
	"futurescore/internal/core"
	"futurescore/internal/warmcache"
)

// Facade merges the three storage tiers.
type Facade struct {
	warm *warmcache.Cache
	cold *coldstore.Store
}

// New builds a Bar Cache Facade over the warm cache and cold store.
func New(warm *warmcache.Cache, cold *coldstore.Store) *Facade {
	return &Facade{warm: warm, cold: cold}
}

// GetBarsOptions bounds a bar query.
type GetBarsOptions struct {
	Days  int
	Limit int
}

// GetBars returns 1m bars for a symbol from the warm cache, hydrating on
// demand.
func (f *Facade) GetBars(ctx context.Context, symbol string, opts GetBarsOptions) ([]core.Bar, error) {
	days := opts.Days
	if days <= 0 {
		days = 5
	}
	bars, err := f.warm.Get(ctx, symbol, days)
	if err != nil {
		return nil, fmt.Errorf("barcache: get bars for %s: %w", symbol, err)
	}
	if opts.Limit > 0 && len(bars) > opts.Limit {
		bars = bars[len(bars)-opts.Limit:]
	}
	return bars, nil
}

// GetBarsWithTimeframe returns bars for a (symbol, timeframe). For any
// timeframe beyond 1m, it fetches the 1m series and aggregates in memory
// using the same chunked reduction as the Cold Store's aggregate operation.
func (f *Facade) GetBarsWithTimeframe(ctx context.Context, symbol, timeframe string, opts GetBarsOptions) ([]core.Bar, error) {
	if timeframe == "" || timeframe == "1m" {
		return f.GetBars(ctx, symbol, opts)
	}

	multiplier, ok := minutesFor(timeframe)
	if !ok {
		return nil, fmt.Errorf("barcache: unsupported timeframe %q", timeframe)
	}

	oneMin, err := f.GetBars(ctx, symbol, GetBarsOptions{Days: opts.Days})
	if err != nil {
		return nil, err
	}

	agg := coldstore.Aggregate(oneMin, timeframe, multiplier)
	if opts.Limit > 0 && len(agg) > opts.Limit {
		agg = agg[len(agg)-opts.Limit:]
	}
	return agg, nil
}

// minutesFor maps a timeframe label to its 1m-bar multiplier.
func minutesFor(timeframe string) (int, bool) {
	switch timeframe {
	case "5m":
		return 5, true
	case "15m":
		return 15, true
	case "30m":
		return 30, true
	case "1h":
		return 60, true
	case "4h":
		return 240, true
	case "1d":
		return 1440, true
	default:
		return 0, false
	}
}
