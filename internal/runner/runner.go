// Package runner implements the Paper Runner (SPEC_FULL.md §4.K), the
// per-bot state machine that turns live bars into entry/exit decisions
// against the paper-trade ledger. Grounded on the teacher's
// internal/strategy/engine.go per-symbol evaluation loop and
// internal/order/manager.go position-lifecycle bookkeeping, generalized
// from one exchange-wide strategy runner to one runner per bot with its own
// archetype, thresholds and account.
package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"futurescore/internal/archetype"
	"futurescore/internal/barcache"
	"futurescore/internal/clock"
	"futurescore/internal/core"
	"futurescore/internal/events"
	"futurescore/internal/indicators"
	"futurescore/internal/priceauthority"
	"futurescore/internal/recovery"
	"futurescore/internal/router"
	"futurescore/internal/session"
	"futurescore/pkg/db"
)

const (
	maxBarBuffer    = 100
	warmupBars      = 21
	defaultTimeframe = "1m"
)

// Store is the persistence contract the Paper Runner depends on.
type Store interface {
	GetBot(ctx context.Context, id string) (*db.Bot, error)
	GetBotInstanceByBotID(ctx context.Context, botID string) (*db.BotInstance, error)
	CreateBotInstance(ctx context.Context, bi db.BotInstance) error
	UpdateBotInstanceState(ctx context.Context, id, state, activityState, sessionState string) error
	TouchBotInstanceHeartbeat(ctx context.Context, id string) error
	ListRunningBotInstances(ctx context.Context) ([]db.BotInstance, error)

	GetAccount(ctx context.Context, id string) (*db.Account, error)
	GetActiveAttempt(ctx context.Context, accountID string) (*db.AccountAttempt, error)

	GetOpenTradesForBot(ctx context.Context, botID, accountAttemptID string) ([]db.PaperTrade, error)
	OpenPaperTrade(ctx context.Context, t db.PaperTrade) error
	ClosePaperTrade(ctx context.Context, id string, exitPrice float64, exitTs time.Time, reasonCode string, pnl, fees, slippage float64) error
	FindDuplicateOpenTrade(ctx context.Context, symbol string, entryTs time.Time, entryPrice float64, side, excludeBotID string) (*db.PaperTrade, error)
	ListClosedTradesForMetrics(ctx context.Context, botID, accountAttemptID string) ([]db.PaperTrade, error)
	SumRealizedPnLForAttempt(ctx context.Context, accountAttemptID string) (float64, error)

	InsertIntegrationEvent(ctx context.Context, e db.IntegrationEvent) error
}

// IDFunc mints a new unique id.
type IDFunc func() string

// position is the runner's in-memory mirror of one OPEN ledger row; the
// ledger always reconciles with the runner on rehydrate, never the reverse.
type position struct {
	TradeID     string
	Side        core.Side
	Qty         float64
	EntryPrice  float64
	EntryTs     time.Time
	StopPrice   float64
	TargetPrice float64
}

// Runner is one bot's live paper-trading state machine.
type Runner struct {
	store     Store
	cache     *barcache.Facade
	authority *priceauthority.Authority
	cal       *session.Calendar
	rtr       *router.Router
	recovery  *recovery.Service
	bus       *events.Bus
	clk       clock.Clock
	newID     IDFunc
	thresholds *archetype.Cache

	botID string

	mu            sync.Mutex
	bot           db.Bot
	instance      db.BotInstance
	cfg           StrategyConfig
	kind          archetype.Kind
	attemptID     string
	ind           *indicators.Set
	barsSeen      int
	pos           *position
	lastHeartbeat time.Time
	state         core.InstanceState
	activity      core.ActivityState
	sessionState  core.SessionState
	lastMark      core.Mark
	cancel        context.CancelFunc
}

// Deps bundles the shared services every Runner is constructed with.
type Deps struct {
	Store      Store
	Cache      *barcache.Facade
	Authority  *priceauthority.Authority
	Calendar   *session.Calendar
	Router     *router.Router
	Recovery   *recovery.Service
	Bus        *events.Bus
	Clock      clock.Clock
	NewID      IDFunc
	Thresholds *archetype.Cache
}

// New constructs a Runner for botID; call Start to bring it live.
func New(botID string, d Deps) *Runner {
	clk := d.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Runner{
		store: d.Store, cache: d.Cache, authority: d.Authority, cal: d.Calendar,
		rtr: d.Router, recovery: d.Recovery, bus: d.Bus, clk: clk, newID: d.NewID,
		thresholds: d.Thresholds, botID: botID,
		state: core.InstanceScanning, activity: core.ActivityScanning,
	}
}

// Start implements the §4.K lifecycle: load bot+instance, blown-account
// guard, orphan reconciliation, warm-cache bootstrap, indicator init, and
// live-bar subscription.
func (r *Runner) Start(ctx context.Context) error {
	bot, err := r.store.GetBot(ctx, r.botID)
	if err != nil {
		return fmt.Errorf("runner: load bot %s: %w", r.botID, err)
	}
	if bot == nil {
		return fmt.Errorf("runner: bot %s not found", r.botID)
	}

	kind, err := archetype.Parse(bot.Archetype)
	if err != nil {
		return fmt.Errorf("runner: bot %s: %w", r.botID, err)
	}
	cfg, err := ParseStrategyConfig(bot.StrategyConfig)
	if err != nil {
		return fmt.Errorf("runner: bot %s strategy config: %w", r.botID, err)
	}

	attempt, err := r.store.GetActiveAttempt(ctx, bot.AccountID)
	if err != nil {
		return fmt.Errorf("runner: load active attempt for account %s: %w", bot.AccountID, err)
	}
	if attempt == nil {
		return fmt.Errorf("runner: account %s has no active attempt; blown-account reset required first", bot.AccountID)
	}

	inst, err := r.store.GetBotInstanceByBotID(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("runner: load instance for bot %s: %w", bot.ID, err)
	}
	if inst == nil {
		newInst := db.BotInstance{
			ID: r.newID(), BotID: bot.ID, AccountID: bot.AccountID,
			State: string(core.InstanceScanning), ActivityState: string(core.ActivityScanning), SessionState: string(core.SessionOpen),
		}
		if err := r.store.CreateBotInstance(ctx, newInst); err != nil {
			return fmt.Errorf("runner: create instance for bot %s: %w", bot.ID, err)
		}
		inst = &newInst
	}

	pos, err := r.reconcileOpenTrades(ctx, bot, attempt.ID)
	if err != nil {
		return err
	}

	bars, err := r.cache.GetBarsWithTimeframe(ctx, bot.Symbol, defaultTimeframe, barcache.GetBarsOptions{Limit: 50})
	if err != nil {
		log.Printf("runner: %s warm-cache bootstrap failed, starting cold: %v", bot.ID, err)
	}
	ind := indicators.NewSet()
	for _, b := range bars {
		ind.Update(indicators.Bar{Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: float64(b.Volume)})
	}

	r.mu.Lock()
	r.bot, r.instance, r.cfg, r.kind = *bot, *inst, cfg, kind
	r.attemptID = attempt.ID
	r.ind = ind
	r.barsSeen = ind.BarsSeen()
	r.pos = pos
	r.lastHeartbeat = r.clk.Now()
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	if err := r.rtr.Subscribe(runCtx, bot.Symbol, defaultTimeframe); err != nil {
		cancel()
		return fmt.Errorf("runner: subscribe %s: %w", bot.Symbol, err)
	}

	r.broadcastNow(ctx)
	return nil
}

// reconcileOpenTrades hydrates the newest OPEN trade as the live position
// and closes any others with ORPHAN_RECONCILE (§4.K Start step 1).
func (r *Runner) reconcileOpenTrades(ctx context.Context, bot *db.Bot, attemptID string) (*position, error) {
	open, err := r.store.GetOpenTradesForBot(ctx, bot.ID, attemptID)
	if err != nil {
		return nil, fmt.Errorf("runner: load open trades for bot %s: %w", bot.ID, err)
	}
	if len(open) == 0 {
		return nil, nil
	}

	newest := open[0] // GetOpenTradesForBot orders entry_ts DESC
	for _, stale := range open[1:] {
		now := r.clk.Now()
		if err := r.store.ClosePaperTrade(ctx, stale.ID, stale.EntryPrice, now, string(core.ReasonOrphanReconcile), 0, 0, 0); err != nil {
			return nil, fmt.Errorf("runner: orphan-reconcile trade %s: %w", stale.ID, err)
		}
		log.Printf("runner: bot %s orphan-reconciled duplicate open trade %s", bot.ID, stale.ID)
	}

	cfg, err := ParseStrategyConfig(bot.StrategyConfig)
	if err != nil {
		return nil, err
	}
	stop, target := stopTargetPrices(core.Side(newest.Side), newest.EntryPrice, cfg)
	return &position{
		TradeID: newest.ID, Side: core.Side(newest.Side), Qty: newest.Qty,
		EntryPrice: newest.EntryPrice, EntryTs: newest.EntryTs,
		StopPrice: stop, TargetPrice: target,
	}, nil
}

// Stop tears down the runner's subscription and marks its instance stopped.
func (r *Runner) Stop(ctx context.Context, reason core.Reason) error {
	r.mu.Lock()
	cancel := r.cancel
	symbol := r.bot.Symbol
	instID := r.instance.ID
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if r.rtr != nil && symbol != "" {
		r.rtr.Unsubscribe(symbol)
	}
	if instID == "" {
		return nil
	}
	if err := r.store.UpdateBotInstanceState(ctx, instID, string(core.InstanceStopped), string(core.ActivityIdle), string(core.SessionClosed)); err != nil {
		return fmt.Errorf("runner: mark instance %s stopped: %w", instID, err)
	}
	log.Printf("runner: bot %s stopped (%s)", r.botID, reason)
	return nil
}

// OnBar implements §4.K step 2: fold the bar into the indicator set, warmup,
// freeze-gating, then session/exit/entry evaluation followed by a broadcast.
// The runner keeps no raw bar buffer of its own; maxBarBuffer is not applied.
func (r *Runner) OnBar(ctx context.Context, bar core.Bar) error {
	r.mu.Lock()
	r.ind.Update(indicators.Bar{Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close, Volume: float64(bar.Volume)})
	r.barsSeen = r.ind.BarsSeen()
	r.lastHeartbeat = r.clk.Now()
	instID := r.instance.ID
	botID, symbol := r.bot.ID, r.bot.Symbol
	r.mu.Unlock()

	if instID != "" {
		if err := r.store.TouchBotInstanceHeartbeat(ctx, instID); err != nil {
			log.Printf("runner: bot %s heartbeat failed: %v", botID, err)
		}
	}

	if r.barsSeenLocked() < warmupBars {
		r.setState(core.InstanceScanning, core.ActivityScanning)
		r.broadcastNow(ctx)
		return nil
	}

	mark := r.authority.GetMark(ctx, symbol, defaultTimeframe)
	r.mu.Lock()
	r.lastMark = mark
	r.mu.Unlock()

	if mark.Status != core.MarkFresh {
		r.setState(core.InstanceDataFrozen, r.activityFor(core.InstanceDataFrozen))
		r.broadcastNow(ctx)
		return nil
	}

	sessState, reason := r.cal.State(r.clk.Now())
	r.mu.Lock()
	r.sessionState = sessState
	r.mu.Unlock()

	switch sessState {
	case core.SessionClosed:
		r.setState(core.InstanceMarketClosed, core.ActivityMarketClosed)
		r.broadcastNow(ctx)
		return nil
	case core.SessionMaintenance:
		r.setState(core.InstanceMaintenance, core.ActivityMaintenance)
		// positions ride through maintenance; no new entries, no liquidation.
		r.broadcastNow(ctx)
		return nil
	default:
		_ = reason
	}

	r.mu.Lock()
	hasPosition := r.pos != nil
	r.mu.Unlock()

	if hasPosition {
		closed, err := r.evaluateExit(ctx, bar, mark)
		if err != nil {
			return err
		}
		if closed {
			r.broadcastNow(ctx)
			return nil
		}
		r.setState(core.InstanceInTrade, core.ActivityInTrade)
		r.broadcastNow(ctx)
		return nil
	}

	if err := r.evaluateEntry(ctx, bar, mark); err != nil {
		return err
	}
	r.mu.Lock()
	opened := r.pos != nil
	r.mu.Unlock()
	if opened {
		r.setState(core.InstanceInTrade, core.ActivityInTrade)
	} else {
		r.setState(core.InstanceScanning, core.ActivityScanning)
	}
	r.broadcastNow(ctx)
	return nil
}

func (r *Runner) barsSeenLocked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.barsSeen
}

func (r *Runner) activityFor(state core.InstanceState) core.ActivityState {
	r.mu.Lock()
	hasPosition := r.pos != nil
	r.mu.Unlock()
	if state == core.InstanceDataFrozen && hasPosition {
		return core.ActivityInTrade
	}
	return core.ActivityScanning
}

func (r *Runner) setState(state core.InstanceState, activity core.ActivityState) {
	r.mu.Lock()
	changed := r.state != state || r.activity != activity
	r.state, r.activity = state, activity
	instID := r.instance.ID
	sessState := r.sessionState
	r.mu.Unlock()
	if !changed || instID == "" {
		return
	}
	if err := r.store.UpdateBotInstanceState(context.Background(), instID, string(state), string(activity), string(sessState)); err != nil {
		log.Printf("runner: bot %s persist state failed: %v", r.botID, err)
	}
}

func (r *Runner) publish(e events.Event, payload any) {
	if r.bus != nil {
		r.bus.Publish(e, payload)
	}
}

func stopTargetPrices(side core.Side, entry float64, cfg StrategyConfig) (stop, target float64) {
	stopDist := cfg.StopTicks * cfg.TickSize
	targetDist := cfg.TargetTicks * cfg.TickSize
	if side == core.SideSell {
		return entry + stopDist, entry - targetDist
	}
	return entry - stopDist, entry + targetDist
}
