package db

import "time"

// Bar is a single OHLCV candle for a (symbol, timeframe, ts_event) key.
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

// BarMetadata tracks per-(symbol,timeframe) cold-store stats.
type BarMetadata struct {
	Symbol      string
	Timeframe   string
	LastUpdated time.Time
	BarCount    int64
	OldestTs    int64
	NewestTs    int64
}

// Bot is a strategy configuration bound to a symbol and lifecycle stage.
type Bot struct {
	ID                  string
	Symbol              string
	Stage               string
	StageReason         string
	Archetype           string
	CurrentGenerationID string
	StrategyConfig      string // JSON
	AccountID           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// BotInstance is a runner assignment binding a bot to an account.
type BotInstance struct {
	ID               string
	BotID            string
	AccountID        string
	State            string
	ActivityState    string
	SessionState     string
	LastHeartbeatAt  *time.Time
	AwaitingRecovery bool
	ReadyForRestart  bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BotGeneration is a versioned strategy config snapshot for a bot, carrying
// the graduation-gate signals that can't be derived fresh on every
// evaluation: a walk-forward split is expensive to recompute per request,
// and stress-test/human-approval are operator-supplied, not ledger-derived.
type BotGeneration struct {
	ID                 string
	BotID              string
	ParentGenerationID string
	ConfigJSON         string
	Fitness            *float64
	WalkForwardOK      bool
	OverfitRatio       float64
	StressTestPassed   bool
	HumanApproved      bool
	CreatedAt          time.Time
}

// Account is a paper-trading capital allocation with a current attempt.
type Account struct {
	ID                     string
	InitialBalance         float64
	CurrentAttemptNumber   int
	ConsecutiveBlownCount  int
	TotalBlownCount        int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// AccountAttempt is one capital cycle for an account.
type AccountAttempt struct {
	ID              string
	AccountID       string
	AttemptNumber   int
	Status          string // ACTIVE, BLOWN
	StartingBalance float64
	EndingBalance   *float64
	BlownReason     string
	BlownAt         *time.Time
	CreatedAt       time.Time
}

// PaperTrade is a simulated position lifecycle entry.
type PaperTrade struct {
	ID               string
	BotID            string
	AccountAttemptID string
	Symbol           string
	Side             string // BUY, SELL
	Qty              float64
	EntryPrice       float64
	EntryTs          time.Time
	ExitPrice        *float64
	ExitTs           *time.Time
	Status           string // OPEN, CLOSED
	ExitReasonCode   string
	PnL              *float64
	Fees             float64
	Slippage         float64
	CreatedAt        time.Time
}

// BotJob is a unit of background work leased by exactly one worker at a time.
type BotJob struct {
	ID              string
	BotID           string
	JobType         string
	Status          string // QUEUED, RUNNING, TIMEOUT, DONE, FAILED
	Priority        *int
	LeaseOwner      string
	LeaseExpiresAt  *time.Time
	LastHeartbeatAt *time.Time
	StartedAt       *time.Time
	Attempts        int
	CreatedAt       time.Time
}

// SignalSourceState tracks per-(bot,source) enablement for the source governor.
type SignalSourceState struct {
	BotID                    string
	SourceID                 string
	Status                   string // enabled, disabled, probation
	DisabledAt               *time.Time
	DisabledUntil            *time.Time
	ProbationStartedAt       *time.Time
	PerformanceScore         float64
	ConsecutiveCyclesAtFloor int
	UpdatedAt                time.Time
}

// IntegrationEvent is an append-only audit row for observability and recovery.
type IntegrationEvent struct {
	ID      string
	Ts      time.Time
	Kind    string
	BotID   string
	Payload string // JSON
}

// ProviderCredential stores an encrypted secret for an outbound data/vote provider.
type ProviderCredential struct {
	ID              string
	Kind            string // DATA_VENDOR, VOTE_PROVIDER
	Label           string
	EncryptedSecret string
	CreatedAt       time.Time
}

// FreshnessAudit records a price-authority freshness verdict.
type FreshnessAudit struct {
	ID      string
	BotID   string
	Symbol  string
	Status  string
	Source  string
	AgeMs   int64
	Context string
	Ts      time.Time
}

// ProviderAccuracy tracks the exponentially-decayed accuracy multiplier for
// an ensemble vote provider.
type ProviderAccuracy struct {
	ProviderID         string
	AccuracyMultiplier float64
	UpdatedAt          time.Time
}
