package ticks

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingSink struct {
	trades [][]Trade
	fail   bool
}

func (r *recordingSink) FlushTrades(ctx context.Context, trades []Trade) error {
	if r.fail {
		return errors.New("boom")
	}
	r.trades = append(r.trades, trades)
	return nil
}
func (r *recordingSink) FlushQuotes(ctx context.Context, quotes []Quote) error { return nil }

func seqPtr(v int64) *int64 { return &v }

func TestSequenceGapDetection(t *testing.T) {
	in := New(Options{MaxBufferSize: 100}, nil)
	var gaps []GapRecord
	in.OnGap(func(g GapRecord) { gaps = append(gaps, g) })

	ctx := context.Background()
	in.IngestTrade(ctx, Trade{Symbol: "ES", TsNs: time.Now().UnixNano(), Seq: seqPtr(1), Price: 100})
	in.IngestTrade(ctx, Trade{Symbol: "ES", TsNs: time.Now().UnixNano(), Seq: seqPtr(2), Price: 101})
	in.IngestTrade(ctx, Trade{Symbol: "ES", TsNs: time.Now().UnixNano(), Seq: seqPtr(5), Price: 102})

	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d: %+v", len(gaps), gaps)
	}
	if gaps[0].Expected != 3 || gaps[0].Received != 5 || gaps[0].Size != 2 {
		t.Fatalf("unexpected gap record: %+v", gaps[0])
	}
}

func TestSizeTriggeredFlush(t *testing.T) {
	sink := &recordingSink{}
	in := New(Options{MaxBufferSize: 2}, sink)
	ctx := context.Background()
	in.IngestTrade(ctx, Trade{Symbol: "ES", TsNs: time.Now().UnixNano(), Price: 1})
	if len(sink.trades) != 0 {
		t.Fatalf("flush should not have triggered yet")
	}
	in.IngestTrade(ctx, Trade{Symbol: "ES", TsNs: time.Now().UnixNano(), Price: 2})
	if len(sink.trades) != 1 || len(sink.trades[0]) != 2 {
		t.Fatalf("expected one flush of 2 trades, got %+v", sink.trades)
	}
}

func TestTopOfBookDerivedFromQuotes(t *testing.T) {
	in := New(Options{}, nil)
	ctx := context.Background()
	in.IngestQuote(ctx, Quote{Symbol: "NQ", TsNs: time.Now().UnixNano(), Bid: 100, Ask: 100.25})
	q, ok := in.TopOfBook("NQ")
	if !ok || q.Bid != 100 || q.Ask != 100.25 {
		t.Fatalf("expected derived top of book, got %+v ok=%v", q, ok)
	}
}

func TestRequeueThenDropOnPersistentFailure(t *testing.T) {
	sink := &recordingSink{fail: true}
	in := New(Options{MaxBufferSize: 2}, sink)
	ctx := context.Background()
	in.IngestTrade(ctx, Trade{Symbol: "ES", TsNs: time.Now().UnixNano(), Price: 1})
	in.IngestTrade(ctx, Trade{Symbol: "ES", TsNs: time.Now().UnixNano(), Price: 2})
	// First flush fails and requeues (2 <= 2x buffer of 2 = 4).
	if pending := in.PendingCount(); pending == 0 {
		t.Fatalf("expected requeued items still pending after failed flush")
	}
	for i := 0; i < 10; i++ {
		in.IngestTrade(ctx, Trade{Symbol: "ES", TsNs: time.Now().UnixNano(), Price: float64(i)})
	}
	if in.DroppedOnFull() == 0 {
		t.Fatalf("expected some trades dropped after exceeding 2x buffer ceiling")
	}
}
