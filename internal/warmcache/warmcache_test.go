package warmcache

import (
	"context"
	"testing"
	"time"

	"futurescore/internal/core"
	"futurescore/internal/hydrator"
)

type fakeFetcher struct {
	bars []core.Bar
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, symbol string, start, end time.Time, timeframe string) ([]core.Bar, error) {
	return f.bars, f.err
}

func TestRefreshHydratesFromRemoteWhenColdEmpty(t *testing.T) {
	bars := []core.Bar{
		{Symbol: "ES", Timeframe: "1m", TsEvent: 1000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Symbol: "ES", Timeframe: "1m", TsEvent: 2000, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 12},
	}

	c := New(Options{MaxBarsPerSymbol: 10}, nil, hydrator.New(&fakeFetcher{bars: bars}, 100, 1, time.Second))
	if got := c.Len("ES"); got != 0 {
		t.Fatalf("expected empty cache, got %d", got)
	}
	if err := c.Refresh(context.Background(), "ES", 1); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := c.Len("ES"); got != len(bars) {
		t.Fatalf("expected %d bars hydrated from remote, got %d", len(bars), got)
	}
}

func TestMaxBarsPerSymbolInvariant(t *testing.T) {
	c := New(Options{MaxBarsPerSymbol: 3}, nil, nil)
	big := make([]core.Bar, 0, 10)
	for i := 0; i < 10; i++ {
		big = append(big, core.Bar{Symbol: "ES", Timeframe: "1m", TsEvent: int64(i * 1000), Close: float64(i)})
	}
	c.mu.Lock()
	c.entries["ES"] = &symbolEntry{bars: big, lastRefreshAt: time.Now()}
	c.mu.Unlock()

	trimmed := trimNewest(big, c.opts.MaxBarsPerSymbol)
	c.mu.Lock()
	c.entries["ES"].bars = trimmed
	c.mu.Unlock()

	if got := c.Len("ES"); got > c.opts.MaxBarsPerSymbol {
		t.Fatalf("invariant violated: %d bars cached, cap is %d", got, c.opts.MaxBarsPerSymbol)
	}
	if got := c.entries["ES"].bars[len(c.entries["ES"].bars)-1].Close; got != 9 {
		t.Fatalf("expected newest bar retained, got close=%v", got)
	}
}

func TestTrimForMemoryPressureIsIdempotent(t *testing.T) {
	c := New(Options{MaxBarsPerSymbol: 100, EmergencyFloor: 5}, nil, nil)
	big := make([]core.Bar, 0, 20)
	for i := 0; i < 20; i++ {
		big = append(big, core.Bar{Symbol: "NQ", TsEvent: int64(i), Close: float64(i)})
	}
	c.mu.Lock()
	c.entries["NQ"] = &symbolEntry{bars: big, lastRefreshAt: time.Now()}
	c.mu.Unlock()

	first := c.TrimForMemoryPressure()
	if first["NQ"] != 15 {
		t.Fatalf("expected 15 bars trimmed, got %d", first["NQ"])
	}
	second := c.TrimForMemoryPressure()
	if _, stillTrimming := second["NQ"]; stillTrimming {
		t.Fatalf("expected idempotent trim to no-op on second call, got %v", second)
	}
	if got := c.Len("NQ"); got != 5 {
		t.Fatalf("expected floor of 5 bars, got %d", got)
	}
}

func TestRefreshDeduplicatesMergedBars(t *testing.T) {
	cold := []core.Bar{{TsEvent: 1, Close: 1}, {TsEvent: 2, Close: 2}}
	fresh := []core.Bar{{TsEvent: 2, Close: 99}, {TsEvent: 3, Close: 3}}
	out := mergeDedup(cold, fresh)
	if len(out) != 3 {
		t.Fatalf("expected 3 deduped bars, got %d", len(out))
	}
	for _, b := range out {
		if b.TsEvent == 2 && b.Close != 99 {
			t.Fatalf("expected fresh value to win on conflict, got %v", b.Close)
		}
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].TsEvent > out[i].TsEvent {
			t.Fatalf("expected ascending order, got %+v", out)
		}
	}
}
