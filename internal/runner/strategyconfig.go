package runner

import "encoding/json"

// StrategyConfig is the subset of a bot's strategy_config JSON the runner
// reads for instrument economics and exit rules. Unset fields fall back to
// DefaultStrategyConfig's values (§4.K "Stop/target derived from strategy
// config (default 20/40 ticks)").
type StrategyConfig struct {
	TickSize        float64 `json:"tickSize"`
	PointValue      float64 `json:"pointValue"`
	Qty             float64 `json:"qty"`
	StopTicks       float64 `json:"stopTicks"`
	TargetTicks     float64 `json:"targetTicks"`
	FeePerSide      float64 `json:"feePerSide"`
	TimeStopMinutes int     `json:"timeStopMinutes"`
	AutoFlatten     bool    `json:"autoFlatten"`
	FlattenMinutes  int     `json:"flattenMinutes"`
	FlattenLookaheadDays int `json:"flattenLookaheadDays"`
}

// DefaultStrategyConfig returns the spec's default instrument economics.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		TickSize:             0.25,
		PointValue:           5,
		Qty:                  1,
		StopTicks:            20,
		TargetTicks:          40,
		FeePerSide:           2.5,
		TimeStopMinutes:      60,
		AutoFlatten:          true,
		FlattenMinutes:       10,
		FlattenLookaheadDays: 3,
	}
}

// ParseStrategyConfig decodes a bot's strategy_config JSON over the
// defaults; an empty string or any field the JSON omits keeps its default.
func ParseStrategyConfig(raw string) (StrategyConfig, error) {
	cfg := DefaultStrategyConfig()
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return StrategyConfig{}, err
	}
	return cfg, nil
}

// tickValue is the dollar value of a single tick move, one contract.
func (c StrategyConfig) tickValue() float64 {
	return c.TickSize * c.PointValue
}
