package gates

import (
	"testing"

	"futurescore/internal/core"
)

func passingTrialsInput() MetricsInput {
	return MetricsInput{
		Stage:          core.StageTrials,
		Trades:         50,
		WinRatePct:     35,
		MaxDrawdownPct: 20,
		ProfitFactor:   1.20,
		ExpectancyUSD:  10,
		Sharpe:         0.5,
		HasLosers:      true,
		DataProof:      true,
		Profitable:     true,
	}
}

// TestEvaluateIsPure asserts Evaluate is a deterministic pure function of its
// input (§8 purity law): the same MetricsInput always yields a bit-for-bit
// identical Result, independent of call order or prior calls.
func TestEvaluateIsPure(t *testing.T) {
	in := passingTrialsInput()

	first := Evaluate(in)
	for i := 0; i < 5; i++ {
		again := Evaluate(in)
		if again.AllPassed != first.AllPassed || len(again.Gates) != len(first.Gates) {
			t.Fatalf("call %d diverged from first: %+v vs %+v", i, again, first)
		}
		for j := range again.Gates {
			if again.Gates[j] != first.Gates[j] {
				t.Fatalf("call %d gate %d diverged: %+v vs %+v", i, j, again.Gates[j], first.Gates[j])
			}
		}
	}
}

func TestEvaluateTrialsAllGatesPass(t *testing.T) {
	result := Evaluate(passingTrialsInput())
	if !result.AllPassed {
		t.Fatalf("expected all TRIALS gates to pass, blockers: %v", result.Blockers)
	}
	if len(result.Blockers) != 0 {
		t.Fatalf("expected no blockers, got %v", result.Blockers)
	}
}

func TestEvaluateTrialsBelowThresholdBlocks(t *testing.T) {
	in := passingTrialsInput()
	in.Trades = 10
	in.WinRatePct = 5
	in.Profitable = false

	result := Evaluate(in)
	if result.AllPassed {
		t.Fatal("expected TRIALS gate evaluation to fail below threshold")
	}
	want := map[string]bool{"minTrades": true, "minWinRatePct": true, "profitable": true}
	for _, b := range result.Blockers {
		delete(want, b)
	}
	if len(want) != 0 {
		t.Fatalf("expected blockers for %v, got %v", want, result.Blockers)
	}
}

func TestEvaluateShadowRequiresWalkForward(t *testing.T) {
	in := MetricsInput{
		Stage:          core.StageShadow,
		Trades:         200,
		WinRatePct:     45,
		MaxDrawdownPct: 12,
		ProfitFactor:   1.40,
		ExpectancyUSD:  20,
		Sharpe:         0.9,
		HasLosers:      true,
		DataProof:      true,
		Profitable:     true,
		WalkForwardOK:  false,
		OverfitRatio:   1.0,
	}
	result := Evaluate(in)
	if result.AllPassed {
		t.Fatal("expected SHADOW to block on walkForwardOK=false")
	}
	found := false
	for _, b := range result.Blockers {
		if b == "walkForwardOK" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected walkForwardOK blocker, got %v", result.Blockers)
	}
}

func TestEvaluateShadowOverfitRatioExceedsMax(t *testing.T) {
	in := MetricsInput{
		Stage:          core.StageShadow,
		Trades:         200,
		WinRatePct:     45,
		MaxDrawdownPct: 12,
		ProfitFactor:   1.40,
		ExpectancyUSD:  20,
		Sharpe:         0.9,
		HasLosers:      true,
		DataProof:      true,
		Profitable:     true,
		WalkForwardOK:  true,
		OverfitRatio:   3.0,
	}
	result := Evaluate(in)
	if result.AllPassed {
		t.Fatal("expected SHADOW to block when overfit ratio exceeds 2.5")
	}
}

func TestEvaluateCanaryRequiresStressTestAndHumanApproval(t *testing.T) {
	in := MetricsInput{
		Stage:          core.StageCanary,
		Trades:         300,
		WinRatePct:     48,
		MaxDrawdownPct: 10,
		ProfitFactor:   1.50,
		ExpectancyUSD:  25,
		Sharpe:         1.0,
		HasLosers:      true,
		DataProof:      true,
		Profitable:     true,
	}
	result := Evaluate(in)
	if result.AllPassed {
		t.Fatal("expected CANARY to block without stress test or human approval")
	}
	want := map[string]bool{"stressTestPassed": true, "humanApproved": true}
	for _, b := range result.Blockers {
		delete(want, b)
	}
	if len(want) != 0 {
		t.Fatalf("expected blockers for %v, got %v", want, result.Blockers)
	}
}

// TestEvaluateLiveIsTerminal ensures LIVE always passes with no gates,
// matching the "LIVE is terminal" rule.
func TestEvaluateLiveIsTerminal(t *testing.T) {
	result := Evaluate(MetricsInput{Stage: core.StageLive})
	if !result.AllPassed {
		t.Fatal("expected LIVE stage to always pass")
	}
	if len(result.Gates) != 0 {
		t.Fatalf("expected LIVE to carry no gates, got %v", result.Gates)
	}
}

func TestEvaluateUnknownStageBlocks(t *testing.T) {
	result := Evaluate(MetricsInput{Stage: core.BotStage("BOGUS")})
	if result.AllPassed {
		t.Fatal("expected unknown stage to fail")
	}
}
