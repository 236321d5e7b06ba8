// Package gates implements Graduation Gates (SPEC_FULL.md §4.M): a pure,
// deterministic stage-promotion check over a MetricsInput. Same input
// always yields the same result bit-for-bit (§8 purity law).
package gates

import "futurescore/internal/core"

// MetricsInput is the metrics snapshot a graduation check is evaluated
// against.
type MetricsInput struct {
	Stage            core.BotStage
	Trades           int
	WinRatePct       float64
	MaxDrawdownPct   float64
	ProfitFactor     float64
	ExpectancyUSD    float64
	Sharpe           float64
	HasLosers        bool
	DataProof        bool
	Profitable       bool
	Days             int
	WalkForwardOK    bool
	OverfitRatio     float64
	StressTestPassed bool
	HumanApproved    bool
}

// Direction describes whether a gate wants its metric to be >= or <= the
// threshold.
type Direction string

const (
	AtLeast Direction = ">="
	AtMost  Direction = "<="
)

// Gate is one named pass/fail check with its required threshold and
// observed current value.
type Gate struct {
	Name      string
	Required  float64
	Current   float64
	Passed    bool
	Direction Direction
}

// Result is the full graduation-gate evaluation for one stage.
type Result struct {
	Stage     core.BotStage
	Gates     []Gate
	AllPassed bool
	Blockers  []string
}

type thresholds struct {
	minTrades  int
	minWRPct   float64
	maxDDPct   float64
	minPF      float64
	minExpUSD  float64
	minSharpe  float64
	minDays    int
	requireWF  bool
	maxOverfit float64
	requireST  bool
	requireHA  bool
}

var stageThresholds = map[core.BotStage]thresholds{
	core.StageTrials: {minTrades: 50, minWRPct: 35, maxDDPct: 20, minPF: 1.20, minExpUSD: 10, minSharpe: 0.5},
	core.StagePaper:  {minTrades: 100, minWRPct: 40, maxDDPct: 15, minPF: 1.30, minExpUSD: 15, minSharpe: 0.7, minDays: 5},
	core.StageShadow: {minTrades: 200, minWRPct: 45, maxDDPct: 12, minPF: 1.40, minExpUSD: 20, minSharpe: 0.9, requireWF: true, maxOverfit: 2.5},
	core.StageCanary: {minTrades: 300, minWRPct: 48, maxDDPct: 10, minPF: 1.50, minExpUSD: 25, minSharpe: 1.0, requireST: true, requireHA: true},
}

// Evaluate runs every gate for MetricsInput.Stage and returns the full
// Result. LIVE is terminal: it has no further gates and always passes.
func Evaluate(in MetricsInput) Result {
	if in.Stage == core.StageLive {
		return Result{Stage: in.Stage, AllPassed: true}
	}

	th, ok := stageThresholds[in.Stage]
	if !ok {
		return Result{Stage: in.Stage, AllPassed: false, Blockers: []string{"unknown stage"}}
	}

	var gs []Gate
	add := func(name string, required, current float64, dir Direction) {
		passed := current >= required
		if dir == AtMost {
			passed = current <= required
		}
		gs = append(gs, Gate{Name: name, Required: required, Current: current, Passed: passed, Direction: dir})
	}

	add("minTrades", float64(th.minTrades), float64(in.Trades), AtLeast)
	add("minWinRatePct", th.minWRPct, in.WinRatePct, AtLeast)
	add("maxDrawdownPct", th.maxDDPct, in.MaxDrawdownPct, AtMost)
	add("minProfitFactor", th.minPF, in.ProfitFactor, AtLeast)
	add("minExpectancyUSD", th.minExpUSD, in.ExpectancyUSD, AtLeast)
	add("minSharpe", th.minSharpe, in.Sharpe, AtLeast)
	addBool("hasLosers", in.HasLosers, &gs)
	addBool("dataProof", in.DataProof, &gs)
	addBool("profitable", in.Profitable, &gs)

	if th.minDays > 0 {
		add("minDays", float64(th.minDays), float64(in.Days), AtLeast)
	}
	if th.requireWF {
		addBool("walkForwardOK", in.WalkForwardOK, &gs)
		add("maxOverfitRatio", th.maxOverfit, in.OverfitRatio, AtMost)
	}
	if th.requireST {
		addBool("stressTestPassed", in.StressTestPassed, &gs)
	}
	if th.requireHA {
		addBool("humanApproved", in.HumanApproved, &gs)
	}

	allPassed := true
	var blockers []string
	for _, g := range gs {
		if !g.Passed {
			allPassed = false
			blockers = append(blockers, g.Name)
		}
	}

	return Result{Stage: in.Stage, Gates: gs, AllPassed: allPassed, Blockers: blockers}
}

func addBool(name string, value bool, gs *[]Gate) {
	current := 0.0
	if value {
		current = 1.0
	}
	*gs = append(*gs, Gate{Name: name, Required: 1, Current: current, Passed: value, Direction: AtLeast})
}
