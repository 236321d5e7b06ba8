// Package core holds the shared vocabulary (data types and failure reasons)
// used across every control-plane component, so that downstream packages
// depend on one small, stable surface instead of on each other directly.
package core

import "time"

// Bar is a single OHLCV candle for a (symbol, timeframe, ts) key.
type Bar struct {
	Symbol    string
	Timeframe string
	TsEvent   int64 // ms since epoch
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// MarkSource identifies where a Mark's price was sourced from.
type MarkSource string

const (
	SourceQuote MarkSource = "QUOTE"
	SourceBar   MarkSource = "BAR"
	SourceCache MarkSource = "CACHE"
	SourceNone  MarkSource = "NONE"
)

// MarkStatus is the freshness verdict for a Mark.
type MarkStatus string

const (
	MarkFresh   MarkStatus = "FRESH"
	MarkStale   MarkStatus = "STALE"
	MarkUnknown MarkStatus = "UNKNOWN"
)

// Mark is the Price Authority's verdict on the current tradable price for a
// symbol: no position P&L is displayed nor any entry evaluated unless it is FRESH.
type Mark struct {
	Price     float64
	Timestamp time.Time
	Source    MarkSource
	Status    MarkStatus
	Age       time.Duration
}

// Bias is a per-source directional opinion consumed by Signal Fusion.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
	BiasRiskOn  Bias = "RISK_ON"
	BiasRiskOff Bias = "RISK_OFF"
)

// Side is a trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// BotStage is a position in the lifecycle-promotion ladder.
type BotStage string

const (
	StageTrials BotStage = "TRIALS"
	StagePaper  BotStage = "PAPER"
	StageShadow BotStage = "SHADOW"
	StageCanary BotStage = "CANARY"
	StageLive   BotStage = "LIVE"
)

// InstanceState is a bot instance's runner state machine position.
type InstanceState string

const (
	InstanceIdle         InstanceState = "IDLE"
	InstanceScanning     InstanceState = "SCANNING"
	InstanceInTrade      InstanceState = "IN_TRADE"
	InstanceExiting      InstanceState = "EXITING"
	InstanceMaintenance  InstanceState = "MAINTENANCE"
	InstanceMarketClosed InstanceState = "MARKET_CLOSED"
	InstanceDataFrozen   InstanceState = "DATA_FROZEN"
	InstanceStopped      InstanceState = "STOPPED"
)

// ActivityState mirrors InstanceState for broadcast payloads (§6).
type ActivityState string

const (
	ActivityScanning    ActivityState = "SCANNING"
	ActivityInTrade     ActivityState = "IN_TRADE"
	ActivityMaintenance ActivityState = "MAINTENANCE"
	ActivityMarketClosed ActivityState = "MARKET_CLOSED"
	ActivityIdle        ActivityState = "IDLE"
)

// SessionState is the CME futures calendar's current verdict for a symbol.
type SessionState string

const (
	SessionOpen        SessionState = "OPEN"
	SessionMaintenance SessionState = "MAINTENANCE"
	SessionClosed      SessionState = "CLOSED"
)

// DataSourceState is the Live Data Router's state machine position (§4.G).
type DataSourceState string

const (
	DataSourceStreaming DataSourceState = "ironbeam"
	DataSourceCache     DataSourceState = "cache"
	DataSourceNone      DataSourceState = "none"
)

// TradeSide re-exports Side for paper-trade records (kept distinct for readability at call sites).
type TradeSide = Side

// TradeStatus is a paper trade's lifecycle position.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// AttemptStatus is an account attempt's lifecycle position.
type AttemptStatus string

const (
	AttemptActive AttemptStatus = "ACTIVE"
	AttemptBlown  AttemptStatus = "BLOWN"
)

// JobStatus is a job lease queue entry's lifecycle position.
type JobStatus string

const (
	JobQueued  JobStatus = "QUEUED"
	JobRunning JobStatus = "RUNNING"
	JobTimeout JobStatus = "TIMEOUT"
	JobDone    JobStatus = "DONE"
	JobFailed  JobStatus = "FAILED"
)

// SourceStatus is a signal source's governor-assigned status.
type SourceStatus string

const (
	SourceEnabled   SourceStatus = "enabled"
	SourceDisabled  SourceStatus = "disabled"
	SourceProbation SourceStatus = "probation"
)

// VoteDecision is an ensemble provider's raw answer.
type VoteDecision string

const (
	VoteBuy     VoteDecision = "BUY"
	VoteSell    VoteDecision = "SELL"
	VoteHold    VoteDecision = "HOLD"
	VoteAbstain VoteDecision = "ABSTAIN"
)
