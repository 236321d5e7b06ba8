package runner

import (
	"testing"

	"futurescore/internal/core"
)

func TestParseStrategyConfigEmptyUsesDefaults(t *testing.T) {
	cfg, err := ParseStrategyConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != DefaultStrategyConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestParseStrategyConfigPartialOverride(t *testing.T) {
	cfg, err := ParseStrategyConfig(`{"stopTicks": 10, "qty": 2}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StopTicks != 10 || cfg.Qty != 2 {
		t.Fatalf("expected overrides applied, got %+v", cfg)
	}
	if cfg.TargetTicks != DefaultStrategyConfig().TargetTicks {
		t.Fatalf("expected unset field to keep default, got %+v", cfg)
	}
}

func TestParseStrategyConfigInvalidJSON(t *testing.T) {
	if _, err := ParseStrategyConfig("{not json"); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestStopTargetPricesBuy(t *testing.T) {
	cfg := DefaultStrategyConfig()
	stop, target := stopTargetPrices(core.SideBuy, 5000, cfg)
	wantStop := 5000 - cfg.StopTicks*cfg.TickSize
	wantTarget := 5000 + cfg.TargetTicks*cfg.TickSize
	if stop != wantStop || target != wantTarget {
		t.Fatalf("got stop=%v target=%v, want stop=%v target=%v", stop, target, wantStop, wantTarget)
	}
}

func TestStopTargetPricesSell(t *testing.T) {
	cfg := DefaultStrategyConfig()
	stop, target := stopTargetPrices(core.SideSell, 5000, cfg)
	wantStop := 5000 + cfg.StopTicks*cfg.TickSize
	wantTarget := 5000 - cfg.TargetTicks*cfg.TickSize
	if stop != wantStop || target != wantTarget {
		t.Fatalf("got stop=%v target=%v, want stop=%v target=%v", stop, target, wantStop, wantTarget)
	}
}
