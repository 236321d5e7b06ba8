// Package fusion implements Signal Fusion (SPEC_FULL.md §4.H): combining
// per-source biases into a weighted consensus with full provenance
// attribution. Grounded on the teacher's internal/strategy/engine.go
// multi-strategy aggregation loop, generalized from multiple concurrent
// strategies voting on one symbol to multiple signal sources voting on one
// bot's net bias.
package fusion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"futurescore/internal/core"
)

const bullishBearishThreshold = 0.2

// SourceInput is one signal source's opinion for a fusion cycle.
type SourceInput struct {
	SourceID   string
	Bias       core.Bias
	Confidence float64 // [0,100]
	Weight     float64 // [0,1]
	Available  bool
	IsMacro    bool // the macro risk source; its RISK_OFF zeroes TradingAllowed
}

// Contribution is one source's provenance record in the fused result.
type Contribution struct {
	SourceID   string
	Bias       core.Bias
	Confidence float64
	Weight     float64
}

// Result is Signal Fusion's output: a net bias, a position-size multiplier,
// and full provenance of what produced it.
type Result struct {
	NetBias                core.Bias
	PositionSizeMultiplier float64
	NormalizedScore        float64
	Confidence             float64
	TradingAllowed         bool
	PrimarySource          string
	Contributing           []Contribution
	Skipped                []string
	FusionHash             string
	Reason                 string
}

func biasScore(b core.Bias) float64 {
	switch b {
	case core.BiasBullish:
		return 1
	case core.BiasBearish:
		return -1
	default: // NEUTRAL, RISK_ON, RISK_OFF contribute no directional score
		return 0
	}
}

// Fuse combines inputs into a weighted consensus (§4.H).
func Fuse(inputs []SourceInput) Result {
	var (
		weightedSum float64
		weightTotal float64
		contrib     []Contribution
		skipped     []string
		tradingOK   = true
	)

	for _, in := range inputs {
		if !in.Available {
			skipped = append(skipped, in.SourceID)
			continue
		}
		if in.IsMacro && in.Bias == core.BiasRiskOff {
			tradingOK = false
		}
		weightedSum += biasScore(in.Bias) * in.Weight * (in.Confidence / 100)
		weightTotal += in.Weight
		contrib = append(contrib, Contribution{
			SourceID: in.SourceID, Bias: in.Bias, Confidence: in.Confidence, Weight: in.Weight,
		})
	}

	if len(contrib) == 0 {
		return Result{
			NetBias:                core.BiasNeutral,
			PositionSizeMultiplier: 0,
			Confidence:             0,
			TradingAllowed:         true,
			Skipped:                skipped,
			FusionHash:             fusionHash(nil),
			Reason:                 "all sources unavailable; defaulting to neutral with trading allowed at low confidence",
		}
	}

	normalized := 0.0
	if weightTotal > 0 {
		normalized = weightedSum / weightTotal
	}

	netBias := core.BiasNeutral
	switch {
	case normalized > bullishBearishThreshold:
		netBias = core.BiasBullish
	case normalized < -bullishBearishThreshold:
		netBias = core.BiasBearish
	}

	sort.Slice(contrib, func(i, j int) bool {
		return contrib[i].Weight*contrib[i].Confidence > contrib[j].Weight*contrib[j].Confidence
	})
	primary := contrib[0].SourceID

	confidence := avgConfidence(contrib)
	sizeMultiplier := clamp01(absf(normalized))

	return Result{
		NetBias:                netBias,
		PositionSizeMultiplier: sizeMultiplier,
		NormalizedScore:        normalized,
		Confidence:             confidence,
		TradingAllowed:         tradingOK,
		PrimarySource:          primary,
		Contributing:           contrib,
		Skipped:                skipped,
		FusionHash:             fusionHash(contrib),
	}
}

func avgConfidence(contrib []Contribution) float64 {
	if len(contrib) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range contrib {
		sum += c.Confidence
	}
	return sum / float64(len(contrib))
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fusionHash is a deterministic hash of the contributing sources' ids,
// biases, weights and confidences, so two fusion cycles over identical
// inputs are provably identical (the sort above already fixes iteration
// order by rank; this re-sorts by id to make the hash input order-stable
// even when two sources tie on rank).
func fusionHash(contrib []Contribution) string {
	sorted := make([]Contribution, len(contrib))
	copy(sorted, contrib)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SourceID < sorted[j].SourceID })

	var b strings.Builder
	for _, c := range sorted {
		fmt.Fprintf(&b, "%s|%s|%.4f|%.4f;", c.SourceID, c.Bias, c.Confidence, c.Weight)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}
