package runner

import (
	"context"
	"log"
	"time"

	"futurescore/internal/core"
	"futurescore/internal/events"
	"futurescore/internal/priceauthority"
)

// Broadcast is the wire shape of §6's runner status payload. All numeric
// live fields are nil whenever the mark is not FRESH, and
// RunnerState=DATA_FROZEN in that case (§3 invariant 5).
type Broadcast struct {
	BotID              string     `json:"botId"`
	UnrealizedPnL      *float64   `json:"unrealizedPnl"`
	CurrentPrice       *float64   `json:"currentPrice"`
	EntryPrice         *float64   `json:"entryPrice"`
	Side               *string    `json:"side"`
	PositionQuantity   *float64   `json:"positionQuantity"`
	StopPrice          *float64   `json:"stopPrice"`
	TargetPrice        *float64   `json:"targetPrice"`
	PositionOpenedAt   *time.Time `json:"positionOpenedAt"`
	LivePositionActive bool       `json:"livePositionActive"`
	MarkTimestamp      *time.Time `json:"markTimestamp"`
	MarkFresh          bool       `json:"markFresh"`
	SessionState       string     `json:"sessionState"`
	IsSleeping         bool       `json:"isSleeping"`
	RunnerState        string     `json:"runnerState"`
	ActivityState      string     `json:"activityState"`
}

// Snapshot builds the current broadcast payload without side effects.
func (r *Runner) Snapshot() Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := Broadcast{
		BotID:         r.botID,
		SessionState:  string(r.sessionState),
		IsSleeping:    r.state == core.InstanceMaintenance || r.state == core.InstanceMarketClosed,
		RunnerState:   string(r.state),
		ActivityState: string(r.activity),
		MarkFresh:     r.lastMark.Status == core.MarkFresh,
	}

	if r.pos != nil {
		b.LivePositionActive = true
		side := string(r.pos.Side)
		b.Side = &side
		entry := r.pos.EntryPrice
		b.EntryPrice = &entry
		qty := r.pos.Qty
		b.PositionQuantity = &qty
		stop := r.pos.StopPrice
		b.StopPrice = &stop
		target := r.pos.TargetPrice
		b.TargetPrice = &target
		openedAt := r.pos.EntryTs
		b.PositionOpenedAt = &openedAt
	}

	if b.MarkFresh {
		ts := r.lastMark.Timestamp
		b.MarkTimestamp = &ts
		price := r.lastMark.Price
		b.CurrentPrice = &price
		if r.pos != nil {
			pnl := priceauthority.ComputePnL(r.pos.EntryPrice, price, r.pos.Side, r.pos.Qty)
			b.UnrealizedPnL = &pnl
		}
	} else {
		b.RunnerState = string(core.InstanceDataFrozen)
		b.CurrentPrice, b.UnrealizedPnL, b.MarkTimestamp = nil, nil, nil
	}

	return b
}

func (r *Runner) broadcastNow(ctx context.Context) {
	snap := r.Snapshot()
	r.publish(events.EventBotStatus, snap)
	if err := ctx.Err(); err != nil {
		log.Printf("runner: bot %s broadcast on cancelled context: %v", r.botID, err)
	}
}
