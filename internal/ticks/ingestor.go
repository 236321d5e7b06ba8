// Package ticks implements the Tick Ingestor of SPEC_FULL.md §4.E: buffered
// trade and quote capture with sequence-gap detection and size/time-triggered
// flush. There is no L2 snapshot input; top-of-book comes from quotes only.
// Grounded on the teacher's internal/persistence/batch_writer.go
// flush-trigger idiom and internal/feedvendor's tick framing.
package ticks

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// Side is a trade's aggressor side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is a single executed print.
type Trade struct {
	Symbol string
	TsNs   int64
	Seq    *int64
	Price  float64
	Size   float64
	Side   Side
}

// Quote is a top-of-book snapshot.
type Quote struct {
	Symbol  string
	TsNs    int64
	Seq     *int64
	Bid     float64
	BidSize float64
	Ask     float64
	AskSize float64
}

// GapRecord is emitted when a sequence gap is detected for a symbol-stream.
type GapRecord struct {
	Symbol   string
	Expected int64
	Received int64
	Size     int64
}

// LatencyWindow holds p50/p90/p99 and a count computed over the most recent
// recorded latency samples (at most 10000); Options.MetricsWindow is not
// applied, so the samples are not limited to a time window.
type LatencyWindow struct {
	Count int
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
}

// FlushSink receives a buffer's contents when it is flushed, either because
// it reached Options.MaxBufferSize or Options.FlushInterval elapsed.
type FlushSink interface {
	FlushTrades(ctx context.Context, trades []Trade) error
	FlushQuotes(ctx context.Context, quotes []Quote) error
}

// Options configures buffer thresholds.
type Options struct {
	MaxBufferSize int
	FlushInterval time.Duration
	MetricsWindow time.Duration
}

type seqTracker struct {
	mu   sync.Mutex
	last map[string]int64
}

func newSeqTracker() *seqTracker { return &seqTracker{last: make(map[string]int64)} }

// check returns a non-nil GapRecord if seq skips ahead of the expected next value.
func (t *seqTracker) check(symbol string, seq int64) *GapRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.last[symbol]
	t.last[symbol] = seq
	if !ok {
		return nil
	}
	if seq > prev+1 {
		return &GapRecord{Symbol: symbol, Expected: prev + 1, Received: seq, Size: seq - prev - 1}
	}
	return nil
}

// Ingestor buffers trade and quote ticks (it has no L2 buffer), flushing on size or age thresholds,
// detecting per-symbol sequence gaps, and tracking a rolling latency window.
type Ingestor struct {
	opts Options
	sink FlushSink

	tradeSeq *seqTracker
	quoteSeq *seqTracker

	mu          sync.Mutex
	trades      []Trade
	quotes      []Quote
	topOfBook   map[string]Quote
	gaps        []GapRecord
	latencies   []time.Duration
	flushCount  int
	droppedOnFull int

	stop chan struct{}
	wg   sync.WaitGroup

	onGap func(GapRecord)
}

// New builds an Ingestor. sink may be nil for tests that only care about
// gap detection and top-of-book derivation.
func New(opts Options, sink FlushSink) *Ingestor {
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.MetricsWindow <= 0 {
		opts.MetricsWindow = 5 * time.Second
	}
	return &Ingestor{
		opts:      opts,
		sink:      sink,
		tradeSeq:  newSeqTracker(),
		quoteSeq:  newSeqTracker(),
		topOfBook: make(map[string]Quote),
		stop:      make(chan struct{}),
	}
}

// OnGap registers a callback invoked whenever a sequence gap is detected.
func (in *Ingestor) OnGap(fn func(GapRecord)) { in.onGap = fn }

// Start launches the time-triggered flush loop.
func (in *Ingestor) Start(ctx context.Context) {
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		ticker := time.NewTicker(in.opts.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = in.Flush(context.Background())
				return
			case <-in.stop:
				_ = in.Flush(context.Background())
				return
			case <-ticker.C:
				if err := in.Flush(ctx); err != nil {
					log.Printf("ticks: periodic flush error: %v", err)
				}
			}
		}
	}()
}

// Stop halts the flush loop after a final flush.
func (in *Ingestor) Stop() {
	close(in.stop)
	in.wg.Wait()
}

// IngestTrade records a trade print, checking for a sequence gap first.
func (in *Ingestor) IngestTrade(ctx context.Context, t Trade) {
	if t.Seq != nil {
		if gap := in.tradeSeq.check(t.Symbol, *t.Seq); gap != nil {
			in.recordGap(*gap)
		}
	}

	in.mu.Lock()
	in.trades = append(in.trades, t)
	in.recordLatency(t.TsNs)
	full := len(in.trades) >= in.opts.MaxBufferSize
	in.mu.Unlock()

	if full {
		if err := in.Flush(ctx); err != nil {
			log.Printf("ticks: size-triggered trade flush error: %v", err)
		}
	}
}

// IngestQuote records a quote tick and derives top-of-book when no explicit
// L2 snapshot is present.
func (in *Ingestor) IngestQuote(ctx context.Context, q Quote) {
	if q.Seq != nil {
		if gap := in.quoteSeq.check(q.Symbol, *q.Seq); gap != nil {
			in.recordGap(*gap)
		}
	}

	in.mu.Lock()
	in.quotes = append(in.quotes, q)
	in.topOfBook[q.Symbol] = q
	in.recordLatency(q.TsNs)
	full := len(in.quotes) >= in.opts.MaxBufferSize
	in.mu.Unlock()

	if full {
		if err := in.Flush(ctx); err != nil {
			log.Printf("ticks: size-triggered quote flush error: %v", err)
		}
	}
}

func (in *Ingestor) recordGap(g GapRecord) {
	in.mu.Lock()
	in.gaps = append(in.gaps, g)
	in.mu.Unlock()
	if in.onGap != nil {
		in.onGap(g)
	}
}

func (in *Ingestor) recordLatency(tsNs int64) {
	lat := time.Duration(time.Now().UnixNano() - tsNs)
	if lat < 0 {
		lat = 0
	}
	in.latencies = append(in.latencies, lat)
	if len(in.latencies) > 10000 {
		in.latencies = in.latencies[len(in.latencies)-10000:]
	}
}

// Flush writes buffered trades/quotes to the sink and clears the buffers.
// On a persistence failure the batch is re-enqueued at the tail of the
// buffer (up to 2x MaxBufferSize), after which it is dropped and counted in
// DroppedOnFull rather than retried forever (§5 backpressure policy).
func (in *Ingestor) Flush(ctx context.Context) error {
	in.mu.Lock()
	trades := in.trades
	quotes := in.quotes
	in.trades = nil
	in.quotes = nil
	in.flushCount++
	in.mu.Unlock()

	if in.sink == nil {
		return nil
	}

	var firstErr error
	if len(trades) > 0 {
		if err := in.sink.FlushTrades(ctx, trades); err != nil {
			firstErr = err
			in.requeueOrDrop(func() { in.trades = append(in.trades, trades...) }, len(trades))
		}
	}
	if len(quotes) > 0 {
		if err := in.sink.FlushQuotes(ctx, quotes); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			in.requeueOrDrop(func() { in.quotes = append(in.quotes, quotes...) }, len(quotes))
		}
	}
	return firstErr
}

func (in *Ingestor) requeueOrDrop(requeue func(), batchSize int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if batchSize > 2*in.opts.MaxBufferSize {
		in.droppedOnFull += batchSize
		log.Printf("ticks: dropping %d items after exceeding 2x buffer size on persistence failure", batchSize)
		return
	}
	requeue()
}

// DroppedOnFull reports how many buffered items were dropped after
// exceeding the re-enqueue ceiling following persistence failures.
func (in *Ingestor) DroppedOnFull() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.droppedOnFull
}

// TopOfBook returns the most recent derived top-of-book for a symbol.
func (in *Ingestor) TopOfBook(symbol string) (Quote, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	q, ok := in.topOfBook[symbol]
	return q, ok
}

// Gaps returns every sequence gap recorded so far.
func (in *Ingestor) Gaps() []GapRecord {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]GapRecord, len(in.gaps))
	copy(out, in.gaps)
	return out
}

// LatencyStats computes p50/p90/p99 over the recorded latency samples.
func (in *Ingestor) LatencyStats() LatencyWindow {
	in.mu.Lock()
	samples := make([]time.Duration, len(in.latencies))
	copy(samples, in.latencies)
	in.mu.Unlock()

	if len(samples) == 0 {
		return LatencyWindow{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return LatencyWindow{
		Count: len(samples),
		P50:   percentile(samples, 0.50),
		P90:   percentile(samples, 0.90),
		P99:   percentile(samples, 0.99),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// PendingCount reports the total buffered items awaiting flush, for
// backpressure observability (§5).
func (in *Ingestor) PendingCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.trades) + len(in.quotes)
}
