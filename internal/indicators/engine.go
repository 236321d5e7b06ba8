// Package indicators computes the per-bot technical indicator set described
// in SPEC_FULL.md §4.K: incremental EMAs, an initial-window SMA, VWAP,
// Wilder RSI/ATR, momentum, session high/low and short-term history.
package indicators

const (
	momentumLookback = 10
	historyLength    = 20
)

// Bar is the minimal OHLCV shape the indicator Set consumes.
type Bar struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Set holds the full incremental indicator state for one bot/symbol.
type Set struct {
	ema9Seed, ema20Seed, ema21Seed bool
	EMA9, EMA20, EMA21             float64

	sma50Window []float64

	vwap      VWAP
	vwapValue float64
	rsi       *WilderRSI
	atr       *WilderATR

	closes      []float64 // ring buffer, up to momentumLookback+1
	history     []float64 // last `historyLength` closes
	volHistory  []float64 // last `historyLength` volumes
	SessionHigh float64
	SessionLow  float64
	count       int
	bars        int // bars folded in since construction; not reset by ResetSession
}

// NewSet builds an indicator set with the spec's default periods.
func NewSet() *Set {
	return &Set{
		rsi: NewWilderRSI(14),
		atr: NewWilderATR(14),
	}
}

// Update ingests one bar and updates every tracked indicator in place.
func (s *Set) Update(b Bar) {
	s.count++
	s.bars++

	if !s.ema9Seed {
		s.EMA9, s.ema9Seed = b.Close, true
	} else {
		s.EMA9 = EMA(s.EMA9, b.Close, 9)
	}
	if !s.ema20Seed {
		s.EMA20, s.ema20Seed = b.Close, true
	} else {
		s.EMA20 = EMA(s.EMA20, b.Close, 20)
	}
	if !s.ema21Seed {
		s.EMA21, s.ema21Seed = b.Close, true
	} else {
		s.EMA21 = EMA(s.EMA21, b.Close, 21)
	}

	s.sma50Window = append(s.sma50Window, b.Close)
	if len(s.sma50Window) > 50 {
		s.sma50Window = s.sma50Window[len(s.sma50Window)-50:]
	}

	s.vwapValue = s.vwap.Update(b.Close, b.Volume)
	s.rsi.Update(b.Close)
	s.atr.Update(b.High, b.Low, b.Close)

	s.closes = append(s.closes, b.Close)
	if len(s.closes) > momentumLookback+1 {
		s.closes = s.closes[len(s.closes)-(momentumLookback+1):]
	}

	s.history = appendCapped(s.history, b.Close, historyLength)
	s.volHistory = appendCapped(s.volHistory, b.Volume, historyLength)

	if s.count == 1 || b.High > s.SessionHigh {
		s.SessionHigh = b.High
	}
	if s.count == 1 || b.Low < s.SessionLow {
		s.SessionLow = b.Low
	}
}

// SMA50 returns the 50-bar simple moving average, or 0 before warmup.
func (s *Set) SMA50() float64 {
	return SMA(s.sma50Window, 50)
}

// VWAP returns the session volume-weighted average price.
func (s *Set) VWAP() float64 {
	return s.vwapValue
}

// RSI returns the current Wilder RSI(14).
func (s *Set) RSI() float64 {
	return s.rsi.value
}

// ATR returns the current Wilder ATR(14).
func (s *Set) ATR() float64 {
	return s.atr.avgTR
}

// Momentum returns close - close[t-10], or 0 if not enough history yet.
func (s *Set) Momentum() float64 {
	if len(s.closes) <= momentumLookback {
		return 0
	}
	return s.closes[len(s.closes)-1] - s.closes[0]
}

// ResetSession clears VWAP accumulation and session high/low at a session boundary.
func (s *Set) ResetSession() {
	s.vwap.Reset()
	s.count = 0
}

// BarsSeen returns how many bars have been folded into the indicator set.
func (s *Set) BarsSeen() int {
	return s.bars
}

func appendCapped(buf []float64, v float64, cap int) []float64 {
	buf = append(buf, v)
	if len(buf) > cap {
		buf = buf[len(buf)-cap:]
	}
	return buf
}
