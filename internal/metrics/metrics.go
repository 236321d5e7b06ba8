// Package metrics implements the Metrics Aggregator (SPEC_FULL.md §4.O):
// recomputing per-bot performance metrics strictly from the paper-trade
// ledger, scoped to the active account attempt. Grounded on the teacher's
// internal/risk/manager.go RiskMetrics recompute-from-ledger style.
package metrics

import (
	"context"
	"fmt"
	"math"

	"futurescore/pkg/db"
)

// DefaultNotional is the fixed notional the drawdown/Sharpe curve is seeded
// at for stage-comparability (§4.O).
const DefaultNotional = 10000.0

const minTradesForSharpe = 5

// Snapshot is the recomputed metric set for one (bot, active attempt).
type Snapshot struct {
	ClosedTrades      int
	OpenTrades        int
	RealizedPnL       float64
	WinRatePct        float64
	MaxDrawdownPct    float64
	ProfitFactor      float64
	Sharpe            float64
	ExpectancyUSD     float64
	HasLosers         bool
	Profitable        bool
}

// walkForwardSplit is the fraction of a bot's closed trades, taken in exit
// order, assigned to the training slice; the remainder is the out-of-sample
// validation slice (§4.M graduation gates).
const walkForwardSplit = 0.70

// minTradesForWalkForward is the smallest closed-trade count the train/
// validation split is trusted for; below it WalkForward reports not-ok
// rather than draw a conclusion from a handful of trades.
const minTradesForWalkForward = 10

// WalkForward derives walk-forward validity and overfit ratio directly from
// the closed-trade ledger: the first walkForwardSplit of trades (by exit
// order) stand in for the training run, the remainder for out-of-sample
// validation, and their profit factors are compared. This is statistical
// re-derivation from trades already recorded, not a model-training run.
func WalkForward(closed []db.PaperTrade, notional float64) (ok bool, overfitRatio float64) {
	if len(closed) < minTradesForWalkForward {
		return false, 0
	}

	split := int(float64(len(closed)) * walkForwardSplit)
	if split < 1 || split >= len(closed) {
		return false, 0
	}

	train := FromTrades(closed[:split], 0, notional)
	validation := FromTrades(closed[split:], 0, notional)

	if validation.ProfitFactor <= 0 {
		return false, 999
	}
	overfitRatio = train.ProfitFactor / validation.ProfitFactor
	if overfitRatio < 1 {
		overfitRatio = 1
	}
	return validation.Profitable, overfitRatio
}

// Store is the persistence contract the aggregator depends on.
type Store interface {
	ListClosedTradesForMetrics(ctx context.Context, botID, accountAttemptID string) ([]db.PaperTrade, error)
	GetOpenTradesForBot(ctx context.Context, botID, accountAttemptID string) ([]db.PaperTrade, error)
}

// Recompute recomputes a bot's metrics from the ledger, scoped to
// accountAttemptID, excluding ORPHAN_RECONCILE exits (already filtered at
// the query layer).
func Recompute(ctx context.Context, store Store, botID, accountAttemptID string, notional float64) (Snapshot, error) {
	if notional <= 0 {
		notional = DefaultNotional
	}

	closed, err := store.ListClosedTradesForMetrics(ctx, botID, accountAttemptID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("metrics: list closed trades: %w", err)
	}
	open, err := store.GetOpenTradesForBot(ctx, botID, accountAttemptID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("metrics: list open trades: %w", err)
	}

	return FromTrades(closed, len(open), notional), nil
}

// FromTrades computes a Snapshot directly from a closed-trade slice
// (already ordered exitTs ASC, id ASC per §9's deterministic-query rule),
// usable both by Recompute and by tests that don't want a live store.
func FromTrades(closed []db.PaperTrade, openCount int, notional float64) Snapshot {
	if notional <= 0 {
		notional = DefaultNotional
	}

	var (
		realized  float64
		wins      int
		grossWin  float64
		grossLoss float64
		hasLosers bool
		returns   []float64
	)

	equity := notional
	peak := notional
	maxDDPct := 0.0

	for _, t := range closed {
		pnl := 0.0
		if t.PnL != nil {
			pnl = *t.PnL
		}
		realized += pnl
		if pnl > 0 {
			wins++
			grossWin += pnl
		} else if pnl < 0 {
			grossLoss += -pnl
			hasLosers = true
		}
		returns = append(returns, pnl/notional)

		equity += pnl
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			ddPct := (peak - equity) / peak * 100
			if ddPct > maxDDPct {
				maxDDPct = ddPct
			}
		}
	}

	winRate := 0.0
	if len(closed) > 0 {
		winRate = float64(wins) / float64(len(closed)) * 100
	}

	profitFactor := 999.0
	if grossLoss > 0 {
		profitFactor = grossWin / grossLoss
		if profitFactor > 999 {
			profitFactor = 999
		}
	}

	sharpe := computeSharpe(returns)

	expectancy := 0.0
	if len(closed) > 0 {
		expectancy = realized / float64(len(closed))
	}

	return Snapshot{
		ClosedTrades:   len(closed),
		OpenTrades:     openCount,
		RealizedPnL:    realized,
		WinRatePct:     winRate,
		MaxDrawdownPct: maxDDPct,
		ProfitFactor:   profitFactor,
		Sharpe:         sharpe,
		ExpectancyUSD:  expectancy,
		HasLosers:      hasLosers,
		Profitable:     realized > 0,
	}
}

func computeSharpe(returns []float64) float64 {
	if len(returns) < minTradesForSharpe {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}

	sharpe := (mean / stddev) * math.Sqrt(252)
	return clamp(sharpe, -5, 5)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
