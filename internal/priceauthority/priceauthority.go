// Package priceauthority implements the Price Authority of SPEC_FULL.md
// §4.F: the single source of truth for the "freshest mark", freshness
// verdicts, and the trading-freeze predicate. Grounded on
// pkg/cache/sharded_cache.go's GetWithAge idiom and the teacher's
// config-driven threshold checks in internal/risk/manager.go.
package priceauthority

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"futurescore/internal/barcache"
	"futurescore/internal/core"
	"futurescore/internal/ticks"
	"futurescore/pkg/db"
)

// Options configures freshness thresholds.
type Options struct {
	QuoteFreshThreshold time.Duration
	BarFreshMultiplier  int // FRESH iff age <= multiplier * bar interval
	BarInterval         time.Duration
	HaltWindow          time.Duration // shouldHaltAutonomy: degraded beyond this is a hard halt
}

// AuditWriter persists freshness verdicts; pkg/db.Database satisfies it.
type AuditWriter interface {
	InsertFreshnessAudit(ctx context.Context, a db.FreshnessAudit) error
}

// Authority is the Price Authority service.
type Authority struct {
	opts   Options
	ticks  *ticks.Ingestor
	bars   *barcache.Facade
	audit  AuditWriter

	mu              sync.Mutex
	degradedSince   map[string]time.Time
}

// New builds a Price Authority.
func New(opts Options, tickIngestor *ticks.Ingestor, bars *barcache.Facade, audit AuditWriter) *Authority {
	if opts.QuoteFreshThreshold <= 0 {
		opts.QuoteFreshThreshold = 30 * time.Second
	}
	if opts.BarFreshMultiplier <= 0 {
		opts.BarFreshMultiplier = 2
	}
	if opts.BarInterval <= 0 {
		opts.BarInterval = time.Minute
	}
	if opts.HaltWindow <= 0 {
		opts.HaltWindow = 10 * time.Minute
	}
	return &Authority{
		opts:          opts,
		ticks:         tickIngestor,
		bars:          bars,
		audit:         audit,
		degradedSince: make(map[string]time.Time),
	}
}

// GetMark returns the freshest verdict for a symbol: most recent quote tick,
// else latest 1-bar close, else warm-cache tail, else UNKNOWN.
func (a *Authority) GetMark(ctx context.Context, symbol, timeframe string) core.Mark {
	if a.ticks != nil {
		if q, ok := a.ticks.TopOfBook(symbol); ok {
			age := time.Since(time.Unix(0, q.TsNs))
			mid := (q.Bid + q.Ask) / 2
			status := core.MarkFresh
			if age > a.opts.QuoteFreshThreshold {
				status = core.MarkStale
			}
			mark := core.Mark{Price: mid, Timestamp: time.Unix(0, q.TsNs), Source: core.SourceQuote, Status: status, Age: age}
			a.trackDegradation(symbol, status)
			return mark
		}
	}

	if a.bars != nil {
		bars, err := a.bars.GetBarsWithTimeframe(ctx, symbol, timeframe, barcache.GetBarsOptions{Limit: 1})
		if err == nil && len(bars) > 0 {
			last := bars[len(bars)-1]
			ts := time.UnixMilli(last.TsEvent)
			age := time.Since(ts)
			threshold := time.Duration(a.opts.BarFreshMultiplier) * a.opts.BarInterval
			status := core.MarkFresh
			if age > threshold {
				status = core.MarkStale
			}
			mark := core.Mark{Price: last.Close, Timestamp: ts, Source: core.SourceBar, Status: status, Age: age}
			a.trackDegradation(symbol, status)
			return mark
		}

		bars, err = a.bars.GetBars(ctx, symbol, barcache.GetBarsOptions{Limit: 1})
		if err == nil && len(bars) > 0 {
			last := bars[len(bars)-1]
			ts := time.UnixMilli(last.TsEvent)
			age := time.Since(ts)
			mark := core.Mark{Price: last.Close, Timestamp: ts, Source: core.SourceCache, Status: core.MarkStale, Age: age}
			a.trackDegradation(symbol, core.MarkStale)
			return mark
		}
	}

	mark := core.Mark{Source: core.SourceNone, Status: core.MarkUnknown}
	a.trackDegradation(symbol, core.MarkUnknown)
	return mark
}

func (a *Authority) trackDegradation(symbol string, status core.MarkStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if status == core.MarkFresh {
		delete(a.degradedSince, symbol)
		return
	}
	if _, ok := a.degradedSince[symbol]; !ok {
		a.degradedSince[symbol] = time.Now()
	}
}

// FreezeResult is shouldFreezeTrading's verdict.
type FreezeResult struct {
	Frozen bool
	Reason core.Reason
	Mark   core.Mark
}

// ShouldFreezeTrading freezes trading whenever the mark is not FRESH. Display
// and execution share this exact verdict (§4.F decision invariant).
func (a *Authority) ShouldFreezeTrading(ctx context.Context, symbol, timeframe string) FreezeResult {
	mark := a.GetMark(ctx, symbol, timeframe)
	if mark.Status != core.MarkFresh {
		reason := core.ReasonDataStale
		if mark.Status == core.MarkUnknown {
			reason = core.ReasonDataUnknown
		}
		return FreezeResult{Frozen: true, Reason: reason, Mark: mark}
	}
	return FreezeResult{Frozen: false, Mark: mark}
}

// ShouldHaltAutonomy reports true when a symbol's data source has been
// degraded (non-FRESH) continuously beyond the configured halt window.
func (a *Authority) ShouldHaltAutonomy(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	since, ok := a.degradedSince[symbol]
	return ok && time.Since(since) > a.opts.HaltWindow
}

// ComputePnL returns unrealized/realized P&L for a position at the given mark.
func ComputePnL(entry, mark float64, side core.Side, qty float64) float64 {
	if side == core.SideSell {
		return (entry - mark) * qty
	}
	return (mark - entry) * qty
}

// PersistFreshnessAudit appends an audit row recording a freshness decision.
func (a *Authority) PersistFreshnessAudit(ctx context.Context, botID, symbol string, mark core.Mark, context_ string) error {
	if a.audit == nil {
		return nil
	}
	err := a.audit.InsertFreshnessAudit(ctx, db.FreshnessAudit{
		ID:      uuid.NewString(),
		BotID:   botID,
		Symbol:  symbol,
		Status:  string(mark.Status),
		Source:  string(mark.Source),
		AgeMs:   mark.Age.Milliseconds(),
		Context: context_,
		Ts:      time.Now(),
	})
	if err != nil {
		return fmt.Errorf("priceauthority: persist freshness audit: %w", err)
	}
	return nil
}
