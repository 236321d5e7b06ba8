// Package archetype implements SPEC_FULL.md §4.K's five entry-condition
// archetypes as a closed sum type matched exhaustively (§9 "Dynamic-dispatch
// archetypes -> tagged variants"): an unrecognized archetype name is a
// startup fail-closed, never a runtime fallback.
package archetype

import (
	"fmt"

	"futurescore/internal/core"
	"futurescore/internal/indicators"
)

// Kind names one of the five closed archetype variants.
type Kind string

const (
	MeanReversion     Kind = "MEAN_REVERSION"
	TrendContinuation Kind = "TREND_CONTINUATION"
	VWAPTouch         Kind = "VWAP_TOUCH"
	MomentumSurge     Kind = "MOMENTUM_SURGE"
	Breakout          Kind = "BREAKOUT"
)

// Parse resolves a string to a Kind, failing closed on anything unrecognized.
func Parse(s string) (Kind, error) {
	switch Kind(s) {
	case MeanReversion, TrendContinuation, VWAPTouch, MomentumSurge, Breakout:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("archetype: unknown archetype %q", s)
	}
}

// Snapshot is the subset of indicator state an entry condition reads.
type Snapshot struct {
	Close       float64
	EMA9        float64
	EMA21       float64
	VWAP        float64
	ATR         float64
	RSI         float64
	Momentum    float64
	SessionHigh float64
	SessionLow  float64
}

// FromIndicators builds a Snapshot from a live indicator Set.
func FromIndicators(s *indicators.Set) Snapshot {
	return Snapshot{
		Close:       0, // caller fills from the bar; indicators don't retain raw close
		EMA9:        s.EMA9,
		EMA21:       s.EMA21,
		VWAP:        s.VWAP(),
		ATR:         s.ATR(),
		RSI:         s.RSI(),
		Momentum:    s.Momentum(),
		SessionHigh: s.SessionHigh,
		SessionLow:  s.SessionLow,
	}
}

// Evaluate applies kind's entry condition with thresholds th against
// snapshot snap and returns the side to enter, or "" for no signal. It
// exhaustively matches every Kind; an unrecognized Kind panics because
// Parse already fail-closed at construction time, so reaching here with an
// invalid Kind is a programming error, not a runtime condition.
func Evaluate(kind Kind, snap Snapshot, th Thresholds) core.Side {
	if snap.ATR <= 0 {
		return "" // avoid division by zero; no signal without a valid ATR
	}
	switch kind {
	case MeanReversion:
		dev := absf(snap.Close-snap.VWAP) / snap.ATR
		if snap.RSI < th.RSIOversold && dev > th.Deviation && snap.Close < snap.VWAP {
			return core.SideBuy
		}
		if snap.RSI > th.RSIOverbought && dev > th.Deviation && snap.Close > snap.VWAP {
			return core.SideSell
		}
		return ""
	case TrendContinuation:
		if snap.EMA9 > snap.EMA21 && snap.Momentum > snap.ATR*th.MomentumMultiplier*0.1 {
			return core.SideBuy
		}
		if snap.EMA9 < snap.EMA21 && snap.Momentum < -snap.ATR*th.MomentumMultiplier*0.1 {
			return core.SideSell
		}
		return ""
	case VWAPTouch:
		dist := absf(snap.Close-snap.VWAP) / snap.ATR
		if dist < th.VWAPDistance && snap.Close > snap.VWAP {
			return core.SideBuy
		}
		if dist < th.VWAPDistance && snap.Close < snap.VWAP {
			return core.SideSell
		}
		return ""
	case MomentumSurge:
		if snap.Momentum > snap.ATR*th.MomentumMultiplier {
			return core.SideBuy
		}
		if snap.Momentum < -snap.ATR*th.MomentumMultiplier {
			return core.SideSell
		}
		return ""
	case Breakout:
		if snap.Close > snap.SessionHigh && snap.Momentum > snap.ATR*th.MomentumMultiplier*0.5 {
			return core.SideBuy
		}
		if snap.Close < snap.SessionLow && snap.Momentum < -snap.ATR*th.MomentumMultiplier*0.5 {
			return core.SideSell
		}
		return ""
	default:
		panic(fmt.Sprintf("archetype: unreachable kind %q reached Evaluate", kind))
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
