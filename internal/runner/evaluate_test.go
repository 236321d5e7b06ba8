package runner

import (
	"context"
	"testing"
	"time"

	"futurescore/internal/clock"
	"futurescore/internal/core"
	"futurescore/internal/recovery"
	"futurescore/pkg/db"
)

func newTestRunner(store *fakeStore, clk *clock.Fake) *Runner {
	return &Runner{
		store: store,
		clk:   clk,
		newID: idSeq(),
		botID: "bot-1",
		bot:   db.Bot{ID: "bot-1", Symbol: "MESU6", AccountID: "acct-1"},
		attemptID: "attempt-1",
		cfg:   DefaultStrategyConfig(),
	}
}

func TestOpenPositionRecordsTradeAndStopTarget(t *testing.T) {
	store := newFakeStore()
	clk := clock.NewFake(time.Unix(0, 0))
	r := newTestRunner(store, clk)

	if err := r.openPosition(context.Background(), core.SideBuy, 5000, clk.Now(), r.cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.pos == nil {
		t.Fatal("expected position to be set")
	}
	wantStop, wantTarget := stopTargetPrices(core.SideBuy, 5000, r.cfg)
	if r.pos.StopPrice != wantStop || r.pos.TargetPrice != wantTarget {
		t.Fatalf("got stop=%v target=%v, want stop=%v target=%v", r.pos.StopPrice, r.pos.TargetPrice, wantStop, wantTarget)
	}
	if len(store.openTrades["bot-1"]) != 1 {
		t.Fatalf("expected one open trade recorded, got %d", len(store.openTrades["bot-1"]))
	}
}

func TestEvaluateExitStopLossHitBuy(t *testing.T) {
	store := newFakeStore()
	clk := clock.NewFake(time.Unix(0, 0))
	r := newTestRunner(store, clk)
	if err := r.openPosition(context.Background(), core.SideBuy, 5000, clk.Now(), r.cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stopPrice := r.pos.StopPrice

	bar := core.Bar{Symbol: "MESU6", Low: stopPrice - 1, High: 5010, Close: 5005, TsEvent: clk.Now().UnixMilli()}
	closed, err := r.evaluateExit(context.Background(), bar, core.Mark{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closed {
		t.Fatal("expected position to close on stop hit")
	}
	if r.pos != nil {
		t.Fatal("expected position cleared after close")
	}
	trades := store.closedTrades["bot-1"]
	if len(trades) != 1 || trades[0].ExitReasonCode != string(core.ReasonStopLossHit) {
		t.Fatalf("expected STOP_LOSS_HIT exit, got %+v", trades)
	}
	if *trades[0].ExitPrice != stopPrice {
		t.Fatalf("expected exit at stop price %v, got %v", stopPrice, *trades[0].ExitPrice)
	}
}

func TestEvaluateExitTargetHitSell(t *testing.T) {
	store := newFakeStore()
	clk := clock.NewFake(time.Unix(0, 0))
	r := newTestRunner(store, clk)
	if err := r.openPosition(context.Background(), core.SideSell, 5000, clk.Now(), r.cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	targetPrice := r.pos.TargetPrice

	bar := core.Bar{Symbol: "MESU6", Low: targetPrice - 1, High: 5004, Close: 4990, TsEvent: clk.Now().UnixMilli()}
	closed, err := r.evaluateExit(context.Background(), bar, core.Mark{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closed {
		t.Fatal("expected position to close on target hit")
	}
	trades := store.closedTrades["bot-1"]
	if len(trades) != 1 || trades[0].ExitReasonCode != string(core.ReasonTargetHit) {
		t.Fatalf("expected TARGET_HIT exit, got %+v", trades)
	}
}

func TestEvaluateExitTimeStop(t *testing.T) {
	store := newFakeStore()
	clk := clock.NewFake(time.Unix(0, 0))
	r := newTestRunner(store, clk)
	r.cfg.TimeStopMinutes = 30
	if err := r.openPosition(context.Background(), core.SideBuy, 5000, clk.Now(), r.cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Advance(31 * time.Minute)
	bar := core.Bar{Symbol: "MESU6", Low: 4999, High: 5001, Close: 5000.5, TsEvent: clk.Now().UnixMilli()}
	closed, err := r.evaluateExit(context.Background(), bar, core.Mark{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closed {
		t.Fatal("expected time-stop close")
	}
	trades := store.closedTrades["bot-1"]
	if len(trades) != 1 || trades[0].ExitReasonCode != string(core.ReasonTimeStop) {
		t.Fatalf("expected TIME_STOP exit, got %+v", trades)
	}
}

func TestEvaluateExitNoTouchIsNoop(t *testing.T) {
	store := newFakeStore()
	clk := clock.NewFake(time.Unix(0, 0))
	r := newTestRunner(store, clk)
	r.cfg.AutoFlatten = false
	if err := r.openPosition(context.Background(), core.SideBuy, 5000, clk.Now(), r.cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bar := core.Bar{Symbol: "MESU6", Low: 4996, High: 5005, Close: 5002, TsEvent: clk.Now().UnixMilli()}
	closed, err := r.evaluateExit(context.Background(), bar, core.Mark{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed {
		t.Fatal("expected position to remain open")
	}
	if r.pos == nil {
		t.Fatal("expected position still tracked")
	}
}

func TestClosePositionTriggersBlownAccountCheck(t *testing.T) {
	store := newFakeStore()
	clk := clock.NewFake(time.Unix(0, 0))
	store.accounts["acct-1"] = &db.Account{ID: "acct-1"}
	store.attempts["acct-1"] = &db.AccountAttempt{ID: "attempt-1", AccountID: "acct-1", Status: "ACTIVE", StartingBalance: 0}
	store.bots["bot-1"] = &db.Bot{ID: "bot-1", AccountID: "acct-1", Stage: string(core.StageShadow)}

	rec := recovery.New(store, nil, nil, clk, idSeq())
	r := newTestRunner(store, clk)
	r.recovery = rec

	if err := r.openPosition(context.Background(), core.SideBuy, 5000, clk.Now(), r.cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A large adverse move drives the attempt's realized balance negative,
	// below the StartingBalance=0 floor, tripping the blown-account check.
	bar := core.Bar{Symbol: "MESU6", Low: r.pos.StopPrice - 1, High: 5010, Close: 5005, TsEvent: clk.Now().UnixMilli()}
	if _, err := r.evaluateExit(context.Background(), bar, core.Mark{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.blownAccounts) != 1 || store.blownAccounts[0] != "acct-1" {
		t.Fatalf("expected account acct-1 marked blown, got %+v", store.blownAccounts)
	}
}
