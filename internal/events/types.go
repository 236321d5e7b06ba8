package events

// Event enumerates the topics carried on the control plane's event bus
// (SPEC_FULL.md §4.T). The bus is a side-channel for broadcast/alerts; it is
// never the system of record — the ledger in pkg/db is.
type Event string

const (
	EventBar                Event = "bar"
	EventQuote              Event = "quote"
	EventFreshMarkChanged   Event = "fresh_mark_changed"
	EventDataFrozen         Event = "data_frozen"
	EventDataResumed        Event = "data_resumed"
	EventPaperTradeOpened   Event = "paper_trade_opened"
	EventPaperTradeClosed   Event = "paper_trade_closed"
	EventOrderBlocked       Event = "order_blocked"
	EventAccountBlown       Event = "account_blown"
	EventJobTimeout         Event = "job_timeout"
	EventGraduationResult   Event = "graduation_result"
	EventSourceTransition   Event = "source_transition"
	EventKillSwitchEngaged  Event = "kill_switch_engaged"
	EventBotStatus          Event = "bot_status"
)

// BarPayload is published on EventBar.
type BarPayload struct {
	Symbol    string
	Timeframe string
	TsEvent   int64
}

// QuotePayload is published on EventQuote.
type QuotePayload struct {
	Symbol string
	TsNs   int64
}

// FreshMarkChangedPayload is published on EventFreshMarkChanged.
type FreshMarkChangedPayload struct {
	Symbol string
	Status string // FRESH, STALE, UNKNOWN
}

// DataSourceTransitionPayload is published on EventDataFrozen/EventDataResumed/EventSourceTransition.
type DataSourceTransitionPayload struct {
	Symbol string
	From   string
	To     string
	Reason string
}

// PaperTradePayload is published on EventPaperTradeOpened/EventPaperTradeClosed.
type PaperTradePayload struct {
	TradeID string
	BotID   string
	Symbol  string
	Side    string
	PnL     *float64
}

// OrderBlockedPayload is published on EventOrderBlocked.
type OrderBlockedPayload struct {
	BotID  string
	Symbol string
	Reason string
}

// AccountBlownPayload is published on EventAccountBlown.
type AccountBlownPayload struct {
	AccountID   string
	Consecutive int
}

// JobTimeoutPayload is published on EventJobTimeout.
type JobTimeoutPayload struct {
	Count int
}

// GraduationResultPayload is published on EventGraduationResult.
type GraduationResultPayload struct {
	BotID  string
	Stage  string
	Passed bool
}

// KillSwitchPayload is published on EventKillSwitchEngaged.
type KillSwitchPayload struct {
	RunnerCount int
	PartialFail bool
}
