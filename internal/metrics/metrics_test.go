package metrics

import (
	"context"
	"testing"
	"time"

	"futurescore/pkg/db"
)

func pnl(v float64) *float64 { return &v }

type fakeStore struct {
	closed []db.PaperTrade
	open   []db.PaperTrade
}

func (f fakeStore) ListClosedTradesForMetrics(ctx context.Context, botID, accountAttemptID string) ([]db.PaperTrade, error) {
	return f.closed, nil
}

func (f fakeStore) GetOpenTradesForBot(ctx context.Context, botID, accountAttemptID string) ([]db.PaperTrade, error) {
	return f.open, nil
}

// TestRecomputeMatchesFromTrades asserts the metrics-ledger equivalence
// invariant (§8 invariant 6): recomputing through the Store contract
// produces the identical Snapshot as computing directly from the same
// ledger rows.
func TestRecomputeMatchesFromTrades(t *testing.T) {
	ctx := context.Background()
	closed := []db.PaperTrade{
		{ID: "t1", PnL: pnl(100)},
		{ID: "t2", PnL: pnl(-40)},
		{ID: "t3", PnL: pnl(60)},
	}
	open := []db.PaperTrade{{ID: "t4"}}

	store := fakeStore{closed: closed, open: open}

	viaRecompute, err := Recompute(ctx, store, "bot-1", "attempt-1", DefaultNotional)
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	viaDirect := FromTrades(closed, len(open), DefaultNotional)

	if viaRecompute != viaDirect {
		t.Fatalf("Recompute diverged from FromTrades:\n  recompute=%+v\n  direct=%+v", viaRecompute, viaDirect)
	}
}

func TestFromTradesEmptyLedger(t *testing.T) {
	snap := FromTrades(nil, 0, DefaultNotional)
	if snap.ClosedTrades != 0 || snap.WinRatePct != 0 || snap.ProfitFactor != 999 {
		t.Fatalf("unexpected snapshot for empty ledger: %+v", snap)
	}
	if snap.HasLosers || snap.Profitable {
		t.Fatalf("empty ledger should have no losers and not be profitable: %+v", snap)
	}
}

func TestFromTradesExpectancyAndHasLosers(t *testing.T) {
	closed := []db.PaperTrade{
		{ID: "t1", PnL: pnl(100)},
		{ID: "t2", PnL: pnl(-50)},
	}
	snap := FromTrades(closed, 0, DefaultNotional)

	wantExpectancy := 25.0 // (100 - 50) / 2
	if snap.ExpectancyUSD != wantExpectancy {
		t.Fatalf("expected expectancy %.2f, got %.2f", wantExpectancy, snap.ExpectancyUSD)
	}
	if !snap.HasLosers {
		t.Fatal("expected HasLosers=true with one losing trade")
	}
	if !snap.Profitable {
		t.Fatal("expected Profitable=true with net positive realized pnl")
	}
}

func TestFromTradesMaxDrawdown(t *testing.T) {
	closed := []db.PaperTrade{
		{ID: "t1", PnL: pnl(1000)},
		{ID: "t2", PnL: pnl(-2000)},
		{ID: "t3", PnL: pnl(500)},
	}
	snap := FromTrades(closed, 0, 10000)

	// peak after t1 = 11000, trough after t2 = 9000 -> dd = 2000/11000*100
	wantDD := 2000.0 / 11000.0 * 100
	if diff := snap.MaxDrawdownPct - wantDD; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected max drawdown %.4f, got %.4f", wantDD, snap.MaxDrawdownPct)
	}
}

func TestFromTradesProfitFactorCapped(t *testing.T) {
	closed := []db.PaperTrade{
		{ID: "t1", PnL: pnl(100000)},
		{ID: "t2", PnL: pnl(-1)},
	}
	snap := FromTrades(closed, 0, DefaultNotional)
	if snap.ProfitFactor != 999 {
		t.Fatalf("expected profit factor capped at 999, got %.2f", snap.ProfitFactor)
	}
}

func closedTradeAt(i int, pnlVal float64) db.PaperTrade {
	ts := time.Unix(int64(i)*3600, 0)
	return db.PaperTrade{ID: "t", PnL: pnl(pnlVal), ExitTs: &ts}
}

// TestWalkForwardRequiresMinimumTrades asserts WalkForward refuses to draw a
// conclusion from too few trades rather than reporting a misleadingly
// confident ratio.
func TestWalkForwardRequiresMinimumTrades(t *testing.T) {
	closed := make([]db.PaperTrade, 0, 5)
	for i := 0; i < 5; i++ {
		closed = append(closed, closedTradeAt(i, 10))
	}
	ok, ratio := WalkForward(closed, DefaultNotional)
	if ok || ratio != 0 {
		t.Fatalf("expected not-ok with zero ratio below minimum trade count, got ok=%v ratio=%.2f", ok, ratio)
	}
}

// TestWalkForwardConsistentPerformance asserts a bot whose train and
// validation slices perform comparably reports walk-forward ok with an
// overfit ratio near 1.
func TestWalkForwardConsistentPerformance(t *testing.T) {
	var closed []db.PaperTrade
	for i := 0; i < 20; i++ {
		pnlVal := 10.0
		if i%3 == 0 {
			pnlVal = -5.0
		}
		closed = append(closed, closedTradeAt(i, pnlVal))
	}

	ok, ratio := WalkForward(closed, DefaultNotional)
	if !ok {
		t.Fatal("expected walk-forward ok for consistent train/validation performance")
	}
	if ratio < 1 || ratio > 2 {
		t.Fatalf("expected overfit ratio close to 1 for consistent performance, got %.2f", ratio)
	}
}

// TestWalkForwardOverfitDetectsDegradation asserts a bot that performs well
// in training but loses money out-of-sample is flagged not-ok with a high
// overfit ratio.
func TestWalkForwardOverfitDetectsDegradation(t *testing.T) {
	var closed []db.PaperTrade
	for i := 0; i < 14; i++ {
		closed = append(closed, closedTradeAt(i, 50))
	}
	for i := 14; i < 20; i++ {
		closed = append(closed, closedTradeAt(i, -50))
	}

	ok, ratio := WalkForward(closed, DefaultNotional)
	if ok {
		t.Fatal("expected walk-forward not-ok when validation slice is unprofitable")
	}
	if ratio < 2 {
		t.Fatalf("expected a high overfit ratio for degraded out-of-sample performance, got %.2f", ratio)
	}
}
