package runner

import (
	"testing"
	"time"

	"futurescore/internal/clock"
	"futurescore/internal/core"
)

func TestSnapshotFlatPositionHasNoPositionFields(t *testing.T) {
	store := newFakeStore()
	clk := clock.NewFake(time.Unix(0, 0))
	r := newTestRunner(store, clk)
	r.state, r.activity, r.sessionState = core.InstanceScanning, core.ActivityScanning, core.SessionOpen
	r.lastMark = core.Mark{Status: core.MarkFresh, Price: 5000, Timestamp: clk.Now()}

	snap := r.Snapshot()
	if snap.LivePositionActive {
		t.Fatal("expected LivePositionActive=false with no position")
	}
	if snap.EntryPrice != nil || snap.Side != nil || snap.StopPrice != nil || snap.TargetPrice != nil || snap.PositionQuantity != nil || snap.PositionOpenedAt != nil {
		t.Fatalf("expected all position fields nil, got %+v", snap)
	}
}

func TestSnapshotStaleMarkNullsLiveFields(t *testing.T) {
	store := newFakeStore()
	clk := clock.NewFake(time.Unix(0, 0))
	r := newTestRunner(store, clk)
	r.state, r.activity, r.sessionState = core.InstanceScanning, core.ActivityScanning, core.SessionOpen
	r.lastMark = core.Mark{Status: core.MarkStale, Price: 5000, Timestamp: clk.Now()}

	snap := r.Snapshot()
	if snap.MarkFresh {
		t.Fatal("expected MarkFresh=false")
	}
	if snap.CurrentPrice != nil || snap.UnrealizedPnL != nil || snap.MarkTimestamp != nil {
		t.Fatalf("expected all numeric live fields nil on stale mark, got %+v", snap)
	}
	if snap.RunnerState != string(core.InstanceDataFrozen) {
		t.Fatalf("expected RunnerState=DATA_FROZEN, got %s", snap.RunnerState)
	}
}

func TestSnapshotOpenPositionComputesUnrealizedPnL(t *testing.T) {
	store := newFakeStore()
	clk := clock.NewFake(time.Unix(0, 0))
	r := newTestRunner(store, clk)
	r.pos = &position{TradeID: "t1", Side: core.SideBuy, Qty: 1, EntryPrice: 5000, EntryTs: clk.Now(), StopPrice: 4980, TargetPrice: 5040}
	r.lastMark = core.Mark{Status: core.MarkFresh, Price: 5010, Timestamp: clk.Now()}

	snap := r.Snapshot()
	if !snap.LivePositionActive {
		t.Fatal("expected LivePositionActive=true")
	}
	if snap.UnrealizedPnL == nil || *snap.UnrealizedPnL != 10 {
		t.Fatalf("expected unrealized pnl 10, got %+v", snap.UnrealizedPnL)
	}
	if snap.EntryPrice == nil || *snap.EntryPrice != 5000 {
		t.Fatalf("expected entry price 5000, got %+v", snap.EntryPrice)
	}
}
