package indicators

import "testing"

func TestSetMomentumRequiresLookback(t *testing.T) {
	s := NewSet()
	for i := 0; i < momentumLookback; i++ {
		s.Update(Bar{Open: 100, High: 101, Low: 99, Close: 100 + float64(i), Volume: 10})
		if m := s.Momentum(); m != 0 {
			t.Fatalf("expected momentum 0 before lookback window fills, got %v at step %d", m, i)
		}
	}
	s.Update(Bar{Open: 100, High: 101, Low: 99, Close: 120, Volume: 10})
	if m := s.Momentum(); m == 0 {
		t.Fatalf("expected nonzero momentum once lookback window is full")
	}
}

func TestSetSessionHighLow(t *testing.T) {
	s := NewSet()
	s.Update(Bar{Open: 100, High: 105, Low: 98, Close: 102, Volume: 10})
	s.Update(Bar{Open: 102, High: 110, Low: 95, Close: 108, Volume: 10})
	if s.SessionHigh != 110 {
		t.Errorf("expected session high 110, got %v", s.SessionHigh)
	}
	if s.SessionLow != 95 {
		t.Errorf("expected session low 95, got %v", s.SessionLow)
	}
}

func TestWilderRSIBounds(t *testing.T) {
	r := NewWilderRSI(14)
	price := 100.0
	var last float64
	for i := 0; i < 30; i++ {
		price += 1
		last = r.Update(price)
	}
	if last < 0 || last > 100 {
		t.Fatalf("RSI out of bounds: %v", last)
	}
	if last < 90 {
		t.Errorf("expected RSI near 100 for a strict uptrend, got %v", last)
	}
}

func TestWilderATRNonNegative(t *testing.T) {
	a := NewWilderATR(14)
	a.Update(100, 90, 95)
	v := a.Update(110, 92, 108)
	if v < 0 {
		t.Fatalf("ATR must be non-negative, got %v", v)
	}
}

func TestVWAPWeightedByVolume(t *testing.T) {
	var v VWAP
	got := v.Update(100, 10)
	if got != 100 {
		t.Fatalf("first VWAP sample should equal the price, got %v", got)
	}
	got = v.Update(200, 30)
	want := (100*10 + 200*30) / 40.0
	if got != want {
		t.Fatalf("expected volume-weighted vwap %v, got %v", want, got)
	}
}

func TestSMAInsufficientData(t *testing.T) {
	if got := SMA([]float64{1, 2, 3}, 5); got != 0 {
		t.Fatalf("expected 0 for insufficient data, got %v", got)
	}
}
