package indicators

// VWAP accumulates Σ(close·vol)/Σ(vol) since the last Reset, for a volume-
// weighted average price anchored to the current session.
type VWAP struct {
	cumPV  float64
	cumVol float64
}

// Update ingests one bar's (close, volume) and returns the current VWAP.
func (v *VWAP) Update(close float64, volume float64) float64 {
	v.cumPV += close * volume
	v.cumVol += volume
	if v.cumVol == 0 {
		return close
	}
	return v.cumPV / v.cumVol
}

// Reset clears accumulated volume/price, used at session boundaries.
func (v *VWAP) Reset() {
	v.cumPV = 0
	v.cumVol = 0
}
