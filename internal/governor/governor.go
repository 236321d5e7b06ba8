// Package governor implements the Source Governor (SPEC_FULL.md §4.J):
// per-bot (and global) enable/disable/probation transitions for signal
// sources, with hysteresis, a minimum-enabled guardrail, and a fully
// audited transition log. Grounded on the teacher's
// internal/risk/stoploss.go threshold/hysteresis state-machine style.
package governor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"futurescore/internal/clock"
	"futurescore/internal/core"
	"futurescore/pkg/db"
)

// Options configures governor thresholds.
type Options struct {
	MinEnabledSources    int
	Cooldown             time.Duration
	ProbationDuration    time.Duration
	FloorCyclesThreshold int     // consecutive cycles at/below floor before disabling
	PerfDisableThreshold float64 // perf score below this disables (with MinBacktestsForPerf)
	MinBacktestsForPerf  int
}

// DefaultOptions returns the spec's defaults.
func DefaultOptions() Options {
	return Options{
		MinEnabledSources:    2,
		Cooldown:             30 * time.Minute,
		ProbationDuration:    2 * time.Hour,
		FloorCyclesThreshold: 3,
		PerfDisableThreshold: -20,
		MinBacktestsForPerf:  5,
	}
}

// Store is the persistence contract the governor depends on; pkg/db.Database
// satisfies it.
type Store interface {
	GetSignalSourceState(ctx context.Context, botID, sourceID string) (*db.SignalSourceState, error)
	ListSignalSourceStates(ctx context.Context, botID string) ([]db.SignalSourceState, error)
	UpsertSignalSourceState(ctx context.Context, s db.SignalSourceState) error
	InsertIntegrationEvent(ctx context.Context, e db.IntegrationEvent) error
}

// Input is one source's per-cycle evaluation input.
type Input struct {
	SourceID        string
	Weight          float64
	WeightFloor     float64
	ProviderOffline bool
	PerfScore       float64
	BacktestCount   int
}

// Governor evaluates and persists source enablement transitions.
type Governor struct {
	opts  Options
	store Store
	clk   clock.Clock

	mu            sync.Mutex
	blockedLogged map[string]bool // per (botID, sourceID) cycle-block dedup key
}

// New builds a Source Governor.
func New(opts Options, store Store, clk clock.Clock) *Governor {
	if opts.MinEnabledSources < 1 {
		opts.MinEnabledSources = 2
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Governor{opts: opts, store: store, clk: clk, blockedLogged: make(map[string]bool)}
}

// ResetCycle clears the once-per-block-cycle guardrail log dedup, to be
// called at the start of each governor evaluation cycle.
func (g *Governor) ResetCycle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blockedLogged = make(map[string]bool)
}

// Evaluate runs one governor cycle over a bot's sources and persists any
// transitions. inputs must include every source currently tracked for the
// bot.
func (g *Governor) Evaluate(ctx context.Context, botID string, inputs []Input) error {
	now := g.clk.Now()
	states := make(map[string]db.SignalSourceState)
	enabledCount := 0

	for _, in := range inputs {
		st, err := g.store.GetSignalSourceState(ctx, botID, in.SourceID)
		if err != nil {
			return fmt.Errorf("governor: load state for %s/%s: %w", botID, in.SourceID, err)
		}
		if st == nil {
			st = &db.SignalSourceState{BotID: botID, SourceID: in.SourceID, Status: string(core.SourceEnabled)}
		}
		states[in.SourceID] = *st
		if st.Status == string(core.SourceEnabled) {
			enabledCount++
		}
	}

	for _, in := range inputs {
		st := states[in.SourceID]
		next, reason := g.transition(st, in, now, enabledCount)
		if next.Status == string(core.SourceDisabled) && st.Status == string(core.SourceEnabled) && enabledCount <= g.opts.MinEnabledSources {
			g.logBlockedOnce(botID, in.SourceID, reason)
			continue // guardrail: never drop below MinEnabledSources
		}
		if next.Status != st.Status {
			enabledCount += statusDelta(st.Status, next.Status)
			if err := g.persistTransition(ctx, botID, st.Status, next, reason); err != nil {
				return err
			}
			states[in.SourceID] = next
		} else if next != st {
			// Same status, updated bookkeeping fields (e.g. consecutive
			// floor-cycle counter) still needs to be persisted.
			if err := g.store.UpsertSignalSourceState(ctx, next); err != nil {
				return fmt.Errorf("governor: persist state for %s/%s: %w", botID, in.SourceID, err)
			}
		}
	}
	return nil
}

func statusDelta(from, to string) int {
	delta := 0
	if from == string(core.SourceEnabled) {
		delta--
	}
	if to == string(core.SourceEnabled) {
		delta++
	}
	return delta
}

func (g *Governor) transition(st db.SignalSourceState, in Input, now time.Time, enabledCount int) (db.SignalSourceState, string) {
	next := st
	next.UpdatedAt = now

	switch core.SourceStatus(st.Status) {
	case core.SourceEnabled:
		atFloor := in.Weight <= in.WeightFloor
		if atFloor {
			next.ConsecutiveCyclesAtFloor = st.ConsecutiveCyclesAtFloor + 1
		} else {
			next.ConsecutiveCyclesAtFloor = 0
		}

		switch {
		case next.ConsecutiveCyclesAtFloor >= g.opts.FloorCyclesThreshold:
			return disable(next, now), "weight at floor for too many consecutive cycles"
		case in.ProviderOffline:
			return disable(next, now), "provider offline"
		case in.BacktestCount >= g.opts.MinBacktestsForPerf && in.PerfScore < g.opts.PerfDisableThreshold:
			return disable(next, now), "performance below disable threshold"
		default:
			return next, ""
		}

	case core.SourceDisabled:
		if st.DisabledUntil != nil && !now.Before(*st.DisabledUntil) {
			next.Status = string(core.SourceProbation)
			ts := now
			next.ProbationStartedAt = &ts
			return next, "cooldown expired, entering probation"
		}
		return next, ""

	case core.SourceProbation:
		if st.ProbationStartedAt != nil && now.Sub(*st.ProbationStartedAt) >= g.opts.ProbationDuration {
			if in.PerfScore >= 0 {
				next.Status = string(core.SourceEnabled)
				next.DisabledAt = nil
				next.DisabledUntil = nil
				next.ProbationStartedAt = nil
				next.ConsecutiveCyclesAtFloor = 0
				return next, "probation passed"
			}
			return disable(next, now), "probation failed"
		}
		return next, ""

	default:
		return next, ""
	}
}

func disable(st db.SignalSourceState, now time.Time) db.SignalSourceState {
	st.Status = string(core.SourceDisabled)
	ts := now
	st.DisabledAt = &ts
	until := now.Add(0) // cooldown length applied by caller via opts at persist time; see persistTransition
	st.DisabledUntil = &until
	return st
}

func (g *Governor) persistTransition(ctx context.Context, botID, fromStatus string, next db.SignalSourceState, reason string) error {
	if next.Status == string(core.SourceDisabled) && next.DisabledUntil != nil {
		until := next.DisabledAt.Add(g.opts.Cooldown)
		next.DisabledUntil = &until
	}
	if err := g.store.UpsertSignalSourceState(ctx, next); err != nil {
		return fmt.Errorf("governor: persist transition for %s/%s: %w", botID, next.SourceID, err)
	}

	payload, _ := json.Marshal(map[string]any{
		"sourceId": next.SourceID, "from": fromStatus, "to": next.Status, "reason": reason,
	})
	if err := g.store.InsertIntegrationEvent(ctx, db.IntegrationEvent{
		ID: fmt.Sprintf("src-transition-%s-%s-%d", botID, next.SourceID, g.clk.Now().UnixNano()),
		Ts: g.clk.Now(), Kind: "source_transition", BotID: botID, Payload: string(payload),
	}); err != nil {
		return fmt.Errorf("governor: audit transition: %w", err)
	}
	log.Printf("governor: %s/%s %s -> %s (%s)", botID, next.SourceID, fromStatus, next.Status, reason)
	return nil
}

func (g *Governor) logBlockedOnce(botID, sourceID, reason string) {
	g.mu.Lock()
	key := botID + "|" + sourceID
	already := g.blockedLogged[key]
	g.blockedLogged[key] = true
	g.mu.Unlock()
	if !already {
		log.Printf("governor: blocked disable of %s/%s (would drop below MinEnabledSources): %s", botID, sourceID, reason)
	}
}
