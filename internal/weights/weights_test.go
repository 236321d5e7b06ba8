package weights

import (
	"math"
	"testing"
	"time"
)

func sumWeights(w map[string]float64) float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

// TestNormalizeWithBoundsConverges asserts the projection-convergence law
// (§8): every resulting weight lands within [floor, ceiling] and the set
// still sums to 1, even when the raw scores are wildly skewed.
func TestNormalizeWithBoundsConverges(t *testing.T) {
	scores := map[string]float64{
		"a": 100,
		"b": 1,
		"c": 1,
		"d": 1,
	}
	bounds := DefaultBounds()

	result := normalizeWithBounds(scores, bounds)
	if len(result) != len(scores) {
		t.Fatalf("expected %d sources, got %d", len(scores), len(result))
	}

	total := sumWeights(result)
	if diff := total - 1.0; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected weights to sum to 1, got %.6f", total)
	}
	for id, w := range result {
		if w < bounds.Floor-1e-9 || w > bounds.Ceiling+1e-9 {
			t.Fatalf("source %s weight %.4f outside bounds [%.2f, %.2f]", id, w, bounds.Floor, bounds.Ceiling)
		}
	}
}

func TestNormalizeWithBoundsEmptyScores(t *testing.T) {
	result := normalizeWithBounds(map[string]float64{}, DefaultBounds())
	if len(result) != 0 {
		t.Fatalf("expected empty result for empty scores, got %v", result)
	}
}

// TestNormalizeWithBoundsInfeasibleFloorFallsBackToEqualSplit asserts that
// when floor*n exceeds 1, the projection can't converge and falls back to
// an equal split rather than looping without termination.
func TestNormalizeWithBoundsInfeasibleFloorFallsBackToEqualSplit(t *testing.T) {
	scores := map[string]float64{"a": 5, "b": 1}
	bounds := Bounds{Floor: 0.6, Ceiling: 1.0}

	result := normalizeWithBounds(scores, bounds)
	for id, w := range result {
		if diff := w - 0.5; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("expected equal split of 0.5 for source %s, got %.4f", id, w)
		}
	}
}

func TestRecomputeAppliesLookbackFilter(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	results := []BacktestResult{
		{SourceID: "fresh", CompletedAt: now.Add(-1 * time.Hour), TrainFitness: 1.0, ValidationFitness: 1.0},
		{SourceID: "stale", CompletedAt: now.Add(-100 * 24 * time.Hour), TrainFitness: 1.0, ValidationFitness: 1.0},
	}

	weights := Recompute(results, now, 24*time.Hour, DefaultBounds())
	if _, ok := weights["stale"]; ok {
		t.Fatal("expected a backtest outside the lookback window to be excluded")
	}
	if _, ok := weights["fresh"]; !ok {
		t.Fatal("expected a backtest inside the lookback window to be included")
	}
}

func TestRecomputeDecaysOlderResults(t *testing.T) {
	now := time.Unix(2_000_000, 0)
	results := []BacktestResult{
		{SourceID: "recent", CompletedAt: now, TrainFitness: 1.0, ValidationFitness: 1.0},
		{SourceID: "older", CompletedAt: now.Add(-10 * 24 * time.Hour), TrainFitness: 1.0, ValidationFitness: 1.0},
	}

	weights := Recompute(results, now, 30*24*time.Hour, DefaultBounds())
	if weights["recent"] <= weights["older"] {
		t.Fatalf("expected time decay to favor the more recent result: recent=%.4f older=%.4f", weights["recent"], weights["older"])
	}
}

func TestClassifyRegimeTrending(t *testing.T) {
	if got := ClassifyRegime([]float64{0.58, 0.56, 0.60, 0.57}); got != RegimeTrending {
		t.Fatalf("expected TRENDING, got %s", got)
	}
}

func TestClassifyRegimeRanging(t *testing.T) {
	if got := ClassifyRegime([]float64{0.45, 0.48, 0.44, 0.46}); got != RegimeRanging {
		t.Fatalf("expected RANGING, got %s", got)
	}
}

func TestClassifyRegimeVolatile(t *testing.T) {
	if got := ClassifyRegime([]float64{0.10, 0.90, 0.20, 0.85}); got != RegimeVolatile {
		t.Fatalf("expected VOLATILE, got %s", got)
	}
}

func TestClassifyRegimeEmptyIsUnknown(t *testing.T) {
	if got := ClassifyRegime(nil); got != RegimeUnknown {
		t.Fatalf("expected UNKNOWN for no data, got %s", got)
	}
}

func TestClassifyRegimeStddevIsNonNegative(t *testing.T) {
	// Sanity check on the math helper path: identical win rates must not
	// classify as VOLATILE due to floating point noise.
	got := ClassifyRegime([]float64{0.5, 0.5, 0.5, 0.5})
	if got == RegimeVolatile {
		t.Fatalf("expected stable win rates to not classify as VOLATILE, got %s (stddev should be %v)", got, math.Sqrt(0))
	}
}
