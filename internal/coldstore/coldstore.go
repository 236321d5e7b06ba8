// Package coldstore implements the durable bar store of SPEC_FULL.md §4.A on
// top of the SQLite ledger in pkg/db.
package coldstore

import (
	"context"
	"fmt"

	"futurescore/internal/core"
	"futurescore/pkg/db"
)

// Store is the durable, keyed bar store. Reads never block writes: SQLite's
// WAL journal mode lets readers run concurrently with the single writer.
type Store struct {
	db *db.Database
}

// New wraps a database handle as a Cold Store.
func New(database *db.Database) *Store {
	return &Store{db: database}
}

// StoreBars upserts a batch of bars for (symbol, timeframe) in a single
// transaction and refreshes the per-(symbol,timeframe) metadata. On a write
// error the batch is not retried here; the caller decides whether to retry.
func (s *Store) StoreBars(ctx context.Context, bars []core.Bar) (int, error) {
	rows := make([]db.Bar, len(bars))
	for i, b := range bars {
		rows[i] = db.Bar{
			Symbol: b.Symbol, Timeframe: b.Timeframe, TsEvent: b.TsEvent,
			Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
		}
	}
	n, err := s.db.StoreBars(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("coldstore: store bars: %w", err)
	}
	return n, nil
}

// GetBars returns bars ordered ascending by ts_event, optionally bounded.
func (s *Store) GetBars(ctx context.Context, symbol, timeframe string, startTs, endTs *int64, limit int) ([]core.Bar, error) {
	rows, err := s.db.GetBars(ctx, symbol, timeframe, startTs, endTs, limit)
	if err != nil {
		return nil, fmt.Errorf("coldstore: get bars: %w", err)
	}
	out := make([]core.Bar, len(rows))
	for i, r := range rows {
		out[i] = core.Bar{
			Symbol: r.Symbol, Timeframe: r.Timeframe, TsEvent: r.TsEvent,
			Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
		}
	}
	return out, nil
}

// NewestTs returns the metadata's newest bar timestamp for (symbol,timeframe),
// or 0 if there is no metadata yet.
func (s *Store) NewestTs(ctx context.Context, symbol, timeframe string) (int64, error) {
	meta, err := s.db.GetBarMetadata(ctx, symbol, timeframe)
	if err != nil {
		return 0, fmt.Errorf("coldstore: metadata: %w", err)
	}
	if meta == nil {
		return 0, nil
	}
	return meta.NewestTs, nil
}

// Aggregate builds higher-timeframe bars from lower-timeframe ones by
// chunked reduce (open=first, close=last, high=max, low=min, vol=sum).
// Only complete chunks are emitted; a trailing partial chunk is dropped.
func Aggregate(bars []core.Bar, dstTimeframe string, multiplier int) []core.Bar {
	if multiplier <= 0 {
		return nil
	}
	var out []core.Bar
	for start := 0; start+multiplier <= len(bars); start += multiplier {
		chunk := bars[start : start+multiplier]
		agg := core.Bar{
			Symbol:    chunk[0].Symbol,
			Timeframe: dstTimeframe,
			TsEvent:   chunk[0].TsEvent,
			Open:      chunk[0].Open,
			Close:     chunk[len(chunk)-1].Close,
			High:      chunk[0].High,
			Low:       chunk[0].Low,
		}
		for _, b := range chunk {
			if b.High > agg.High {
				agg.High = b.High
			}
			if b.Low < agg.Low {
				agg.Low = b.Low
			}
			agg.Volume += b.Volume
		}
		out = append(out, agg)
	}
	return out
}

// Summary reports total entries, total bars and per-(symbol,timeframe) stats.
func (s *Store) Summary(ctx context.Context) ([]db.ColdStoreSummaryRow, int64, error) {
	rows, err := s.db.ColdStoreSummary(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("coldstore: summary: %w", err)
	}
	var total int64
	for _, r := range rows {
		total += r.BarCount
	}
	return rows, total, nil
}
