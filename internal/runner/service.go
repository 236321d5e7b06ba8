package runner

import (
	"context"
	"fmt"
	"log"
	"sync"

	"futurescore/internal/clock"
	"futurescore/internal/core"
	"futurescore/internal/events"
	"futurescore/pkg/db"
)

// Service owns the fleet of live Runners, one per running bot, and the
// control-plane-wide kill switch (§4.K "Kill switch").
type Service struct {
	deps  Deps
	store Store
	bus   *events.Bus
	clk   clock.Clock

	mu      sync.Mutex
	runners map[string]*Runner
}

// NewService builds a fleet manager sharing the given Deps template across
// every Runner it starts.
func NewService(d Deps) *Service {
	clk := d.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{deps: d, store: d.Store, bus: d.Bus, clk: clk, runners: make(map[string]*Runner)}
}

// StartBot starts (or restarts) botID's Runner and registers it in the fleet.
func (s *Service) StartBot(ctx context.Context, botID string) error {
	s.mu.Lock()
	if _, running := s.runners[botID]; running {
		s.mu.Unlock()
		return fmt.Errorf("runner: bot %s already running", botID)
	}
	s.mu.Unlock()

	r := New(botID, s.deps)
	if err := r.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.runners[botID] = r
	s.mu.Unlock()
	return nil
}

// StopBot stops botID's Runner, if the fleet is managing one, and removes it.
func (s *Service) StopBot(ctx context.Context, botID string, reason core.Reason) error {
	s.mu.Lock()
	r, running := s.runners[botID]
	delete(s.runners, botID)
	s.mu.Unlock()
	if !running {
		return nil
	}
	return r.Stop(ctx, reason)
}

// Runner returns the live Runner for botID, if any, for OnBar dispatch by the
// Live Data Router's subscriber fan-out.
func (s *Service) Runner(botID string) (*Runner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[botID]
	return r, ok
}

// DispatchBar routes a new bar to every runner whose bot trades symbol.
// The Live Data Router and Composition Root don't know which bots exist
// per symbol; the fleet does.
func (s *Service) DispatchBar(ctx context.Context, symbol string, bar core.Bar) {
	s.mu.Lock()
	targets := make([]*Runner, 0, 1)
	for _, r := range s.runners {
		r.mu.Lock()
		match := r.bot.Symbol == symbol
		r.mu.Unlock()
		if match {
			targets = append(targets, r)
		}
	}
	s.mu.Unlock()

	for _, r := range targets {
		if err := r.OnBar(ctx, bar); err != nil {
			log.Printf("runner: bot %s OnBar failed: %v", r.botID, err)
		}
	}
}

// RunningBotIDs lists the bots this Service instance currently manages.
func (s *Service) RunningBotIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.runners))
	for id := range s.runners {
		ids = append(ids, id)
	}
	return ids
}

// KillSwitch implements §4.K "Kill switch": stop every in-memory runner this
// process manages, then sweep the DB for any bot instance left RUNNING by a
// process that died without a clean stop, marking both stopped (open paper
// positions are not closed here). It emits exactly
// one audit event, even when some individual stop fails, so operators always
// see the kill switch fired rather than silently degrading into a partial
// no-op.
func (s *Service) KillSwitch(ctx context.Context, idFn IDFunc) error {
	s.mu.Lock()
	inMemory := make(map[string]*Runner, len(s.runners))
	for id, r := range s.runners {
		inMemory[id] = r
	}
	s.runners = make(map[string]*Runner)
	s.mu.Unlock()

	partialFail := false
	for botID, r := range inMemory {
		if err := r.Stop(ctx, core.ReasonKillSwitch); err != nil {
			log.Printf("runner: kill switch failed to stop bot %s: %v", botID, err)
			partialFail = true
		}
	}

	instances, err := s.store.ListRunningBotInstances(ctx)
	if err != nil {
		log.Printf("runner: kill switch DB sweep failed: %v", err)
		partialFail = true
		instances = nil
	}
	swept := 0
	for _, inst := range instances {
		if _, managed := inMemory[inst.BotID]; managed {
			continue
		}
		swept++
		if err := s.store.UpdateBotInstanceState(ctx, inst.ID, string(core.InstanceStopped), string(core.ActivityIdle), inst.SessionState); err != nil {
			log.Printf("runner: kill switch failed to stop orphaned instance %s (bot %s): %v", inst.ID, inst.BotID, err)
			partialFail = true
		}
	}

	log.Printf("runner: kill switch engaged, stopped %d live runner(s), swept %d orphaned instance(s), partialFail=%v", len(inMemory), swept, partialFail)

	if s.bus != nil {
		s.bus.Publish(events.EventKillSwitchEngaged, events.KillSwitchPayload{RunnerCount: len(inMemory) + swept, PartialFail: partialFail})
	}

	id := ""
	if idFn != nil {
		id = idFn()
	}
	if err := s.store.InsertIntegrationEvent(ctx, db.IntegrationEvent{
		ID: id, Ts: s.clk.Now(), Kind: "kill_switch_engaged",
		Payload: fmt.Sprintf(`{"runnerCount":%d,"partialFail":%v}`, len(inMemory)+swept, partialFail),
	}); err != nil {
		return fmt.Errorf("runner: audit kill switch: %w", err)
	}
	return nil
}
