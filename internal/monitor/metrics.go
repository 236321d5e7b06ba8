package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks control-plane throughput and latency for the
// operator-facing status endpoint (SPEC_FULL.md §6 "Operator status").
type SystemMetrics struct {
	mu sync.RWMutex

	BarLatency       *LatencyHistogram
	BroadcastLatency *LatencyHistogram
	DBLatency        *LatencyHistogram

	barsProcessed   uint64
	tradesOpened    uint64
	tradesClosed    uint64
	errorsCount     uint64
	jobsTimedOut    uint64

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples over a sliding window with lazy
// stats recomputation.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		BarLatency:       NewLatencyHistogram(1000),
		BroadcastLatency: NewLatencyHistogram(1000),
		DBLatency:        NewLatencyHistogram(1000),
		lastUpdate:       time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99, recomputing only when dirty.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementBars()        { atomic.AddUint64(&m.barsProcessed, 1) }
func (m *SystemMetrics) IncrementTradesOpened() { atomic.AddUint64(&m.tradesOpened, 1) }
func (m *SystemMetrics) IncrementTradesClosed() { atomic.AddUint64(&m.tradesClosed, 1) }
func (m *SystemMetrics) IncrementErrors()      { atomic.AddUint64(&m.errorsCount, 1) }
func (m *SystemMetrics) IncrementJobTimeouts(n int) {
	atomic.AddUint64(&m.jobsTimedOut, uint64(n))
}

// MetricsSnapshot is a point-in-time view of SystemMetrics.
type MetricsSnapshot struct {
	BarLatency       LatencyStats `json:"barLatency"`
	BroadcastLatency LatencyStats `json:"broadcastLatency"`
	DBLatency        LatencyStats `json:"dbLatency"`
	BarsProcessed    uint64       `json:"barsProcessed"`
	TradesOpened     uint64       `json:"tradesOpened"`
	TradesClosed     uint64       `json:"tradesClosed"`
	ErrorsCount      uint64       `json:"errorsCount"`
	JobsTimedOut     uint64       `json:"jobsTimedOut"`
	GoroutineCount   int          `json:"goroutineCount"`
	HeapAlloc        uint64       `json:"heapAllocBytes"`
	HeapSys          uint64       `json:"heapSysBytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		BarLatency:       m.BarLatency.Stats(),
		BroadcastLatency: m.BroadcastLatency.Stats(),
		DBLatency:        m.DBLatency.Stats(),
		BarsProcessed:    atomic.LoadUint64(&m.barsProcessed),
		TradesOpened:     atomic.LoadUint64(&m.tradesOpened),
		TradesClosed:     atomic.LoadUint64(&m.tradesClosed),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		JobsTimedOut:     atomic.LoadUint64(&m.jobsTimedOut),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		HeapSys:          memStats.HeapSys,
		Timestamp:        time.Now(),
	}
}

// Timer measures an operation's duration and records it to a histogram.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram on Stop.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to histogram and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
