package runner

import (
	"context"
	"fmt"
	"log"
	"time"

	"futurescore/internal/archetype"
	"futurescore/internal/core"
	"futurescore/internal/events"
	"futurescore/internal/fusion"
	"futurescore/internal/metrics"
	"futurescore/internal/priceauthority"
	"futurescore/pkg/db"
)

// archetypeConfidence is the fixed confidence Signal Fusion assigns the
// archetype source: the entry conditions are boolean triggers, not graded
// scores, so there is no finer-grained signal to report (§9 Open Question:
// single-source fusion until a second source — ensemble, macro risk — is
// wired in).
const archetypeConfidence = 75.0

// evaluateEntry implements §4.K step 4: builds bot-specific thresholds,
// applies the archetype's entry condition, routes the raw signal through
// Signal Fusion for provenance, and blocks cross-bot duplicate trades before
// opening a position.
func (r *Runner) evaluateEntry(ctx context.Context, bar core.Bar, mark core.Mark) error {
	r.mu.Lock()
	kind := r.kind
	ind := r.ind
	botID := r.botID
	symbol := r.bot.Symbol
	cfg := r.cfg
	r.mu.Unlock()

	th := r.thresholds.Get(botID)
	snap := archetype.FromIndicators(ind)
	snap.Close = bar.Close

	side := archetype.Evaluate(kind, snap, th)
	if side == "" {
		return nil
	}

	bias := core.BiasBullish
	if side == core.SideSell {
		bias = core.BiasBearish
	}
	result := fusion.Fuse([]fusion.SourceInput{
		{SourceID: "archetype", Bias: bias, Confidence: archetypeConfidence, Weight: 1.0, Available: true},
	})
	if !result.TradingAllowed || result.NetBias != bias {
		return nil
	}

	entryTs := time.UnixMilli(bar.TsEvent)
	// TODO: this only blocks cross-bot duplicates (FindDuplicateOpenTrade
	// excludes botID); it does not cool down the same bot re-entering right
	// after its own exit.
	dup, err := r.store.FindDuplicateOpenTrade(ctx, symbol, entryTs, bar.Close, string(side), botID)
	if err != nil {
		return fmt.Errorf("runner: duplicate-trade check for bot %s: %w", botID, err)
	}
	if dup != nil {
		log.Printf("runner: bot %s blocked %s entry: %s (matches bot %s)", botID, side, core.ReasonDuplicateTradeGuardrail, dup.BotID)
		r.publish(events.EventOrderBlocked, events.OrderBlockedPayload{BotID: botID, Symbol: symbol, Reason: string(core.ReasonDuplicateTradeGuardrail)})
		return nil
	}

	return r.openPosition(ctx, side, bar.Close, entryTs, cfg)
}

func (r *Runner) openPosition(ctx context.Context, side core.Side, price float64, ts time.Time, cfg StrategyConfig) error {
	r.mu.Lock()
	botID, attemptID, symbol := r.botID, r.attemptID, r.bot.Symbol
	r.mu.Unlock()

	tradeID := r.newID()
	trade := db.PaperTrade{
		ID: tradeID, BotID: botID, AccountAttemptID: attemptID, Symbol: symbol,
		Side: string(side), Qty: cfg.Qty, EntryPrice: price, EntryTs: ts,
		Fees: cfg.FeePerSide * cfg.Qty,
	}
	if err := r.store.OpenPaperTrade(ctx, trade); err != nil {
		return fmt.Errorf("runner: open trade for bot %s: %w", botID, err)
	}

	stop, target := stopTargetPrices(side, price, cfg)
	r.mu.Lock()
	r.pos = &position{TradeID: tradeID, Side: side, Qty: cfg.Qty, EntryPrice: price, EntryTs: ts, StopPrice: stop, TargetPrice: target}
	r.mu.Unlock()

	r.publish(events.EventPaperTradeOpened, events.PaperTradePayload{TradeID: tradeID, BotID: botID, Symbol: symbol, Side: string(side)})
	log.Printf("runner: bot %s opened %s %s @ %.2f (stop %.2f target %.2f)", botID, symbol, side, price, stop, target)
	return nil
}

// evaluateExit implements §4.K step 5: stop/target touches, a hard time
// stop, and session-end/holiday auto-flatten. Returns true if the position
// was closed this bar.
func (r *Runner) evaluateExit(ctx context.Context, bar core.Bar, mark core.Mark) (bool, error) {
	r.mu.Lock()
	pos := r.pos
	cfg := r.cfg
	r.mu.Unlock()
	if pos == nil {
		return false, nil
	}

	now := r.clk.Now()
	var reason core.Reason
	switch {
	case pos.Side == core.SideBuy && bar.Low <= pos.StopPrice:
		reason = core.ReasonStopLossHit
	case pos.Side == core.SideSell && bar.High >= pos.StopPrice:
		reason = core.ReasonStopLossHit
	case pos.Side == core.SideBuy && bar.High >= pos.TargetPrice:
		reason = core.ReasonTargetHit
	case pos.Side == core.SideSell && bar.Low <= pos.TargetPrice:
		reason = core.ReasonTargetHit
	case cfg.TimeStopMinutes > 0 && now.Sub(pos.EntryTs) >= time.Duration(cfg.TimeStopMinutes)*time.Minute:
		reason = core.ReasonTimeStop
	default:
		if cfg.AutoFlatten && r.shouldAutoFlatten(now, cfg) {
			reason = core.ReasonAutoFlattenBeforeClose
		}
	}

	if reason == "" {
		return false, nil
	}

	exitPrice := bar.Close
	switch reason {
	case core.ReasonStopLossHit:
		exitPrice = pos.StopPrice
	case core.ReasonTargetHit:
		exitPrice = pos.TargetPrice
	}

	return true, r.closePosition(ctx, reason, exitPrice, now, cfg)
}

func (r *Runner) shouldAutoFlatten(now time.Time, cfg StrategyConfig) bool {
	if remaining, open := r.cal.MinutesUntilSessionClose(now); open && remaining <= cfg.FlattenMinutes {
		return true
	}
	_, upcoming := r.cal.UpcomingFullDayClosure(now, cfg.FlattenLookaheadDays)
	return upcoming
}

// closePosition implements §4.K "Close position": compute P&L net of
// slippage and fees, update the ledger, recompute live metrics, and
// re-evaluate the blown-account predicate.
func (r *Runner) closePosition(ctx context.Context, reason core.Reason, exitPrice float64, exitTs time.Time, cfg StrategyConfig) error {
	r.mu.Lock()
	pos := r.pos
	botID, attemptID, symbol, accountID := r.botID, r.attemptID, r.bot.Symbol, r.bot.AccountID
	r.mu.Unlock()
	if pos == nil {
		return nil
	}

	rawPnL := priceauthority.ComputePnL(pos.EntryPrice, exitPrice, pos.Side, pos.Qty)
	slippageCost := cfg.tickValue() * pos.Qty // one tick adverse slippage
	fees := cfg.FeePerSide * pos.Qty          // exit-side fee; entry-side fee already recorded at open
	netPnL := rawPnL - slippageCost - fees

	if err := r.store.ClosePaperTrade(ctx, pos.TradeID, exitPrice, exitTs, string(reason), netPnL, fees, slippageCost); err != nil {
		return fmt.Errorf("runner: close trade %s for bot %s: %w", pos.TradeID, botID, err)
	}

	r.mu.Lock()
	r.pos = nil
	r.mu.Unlock()

	pnlCopy := netPnL
	r.publish(events.EventPaperTradeClosed, events.PaperTradePayload{TradeID: pos.TradeID, BotID: botID, Symbol: symbol, Side: string(pos.Side), PnL: &pnlCopy})
	log.Printf("runner: bot %s closed %s %s @ %.2f pnl=%.2f (%s)", botID, symbol, pos.Side, exitPrice, netPnL, reason)

	if _, err := metrics.Recompute(ctx, r.store, botID, attemptID, 0); err != nil {
		log.Printf("runner: bot %s metrics recompute failed: %v", botID, err)
	}

	if r.recovery != nil {
		attempt, err := r.store.GetActiveAttempt(ctx, accountID)
		if err != nil {
			return fmt.Errorf("runner: reload attempt for account %s: %w", accountID, err)
		}
		if attempt != nil {
			sum, err := r.store.SumRealizedPnLForAttempt(ctx, attempt.ID)
			if err != nil {
				return fmt.Errorf("runner: sum realized pnl for attempt %s: %w", attempt.ID, err)
			}
			computedBalance := attempt.StartingBalance + sum
			if err := r.recovery.CheckBalance(ctx, accountID, computedBalance); err != nil {
				return fmt.Errorf("runner: blown-account check for account %s: %w", accountID, err)
			}
		}
	}
	return nil
}
