package core

// Reason is a stable string code that crosses every external boundary
// (control surface responses, broadcast payloads, integration-event audit
// rows). Raw Go error text never crosses that boundary directly — it is
// logged internally and mapped to one of these instead (SPEC_FULL.md §7).
type Reason string

const (
	ReasonNone Reason = ""

	// Data-quality related
	ReasonDataStale        Reason = "DATA_STALE"
	ReasonDataUnknown      Reason = "DATA_UNKNOWN"
	ReasonDataFrozen       Reason = "DATA_FROZEN"
	ReasonSequenceGap      Reason = "SEQUENCE_GAP"
	ReasonVendorUnavailable Reason = "VENDOR_UNAVAILABLE"

	// Risk / order guardrails
	ReasonDuplicateTradeGuardrail Reason = "ORDER_BLOCKED_RISK/DUPLICATE_TRADE_GUARDRAIL"
	ReasonSessionClosed           Reason = "SESSION_CLOSED"
	ReasonSessionMaintenance      Reason = "SESSION_MAINTENANCE"
	ReasonAutoFlattenBeforeClose  Reason = "AUTO_FLATTEN_BEFORE_CLOSE"
	ReasonStopLossHit             Reason = "STOP_LOSS_HIT"
	ReasonTargetHit               Reason = "TARGET_HIT"
	ReasonTimeStop                Reason = "TIME_STOP"
	ReasonOrphanReconcile         Reason = "ORPHAN_RECONCILE"
	ReasonKillSwitch              Reason = "KILL_SWITCH"

	// Lifecycle / account
	ReasonBlownAccountDemotion Reason = "BLOWN_ACCOUNT_DEMOTION"
	ReasonAccountBlown         Reason = "ACCOUNT_BLOWN"
	ReasonGraduationBlocked    Reason = "GRADUATION_BLOCKED"

	// Ensemble vote
	ReasonSplitDecision       Reason = "SPLIT_DECISION"
	ReasonLowConfidence       Reason = "LOW_CONFIDENCE"
	ReasonTimeoutDegraded     Reason = "TIMEOUT_DEGRADED"
	ReasonSupermajorityFailed Reason = "SUPERMAJORITY_FAILED"

	// Infra / config
	ReasonConfigInvalid   Reason = "CONFIG_INVALID"
	ReasonInternal        Reason = "INTERNAL_ERROR"
	ReasonNotFound        Reason = "NOT_FOUND"
	ReasonAlreadyExists   Reason = "ALREADY_EXISTS"
	ReasonUnauthorized    Reason = "UNAUTHORIZED"
)
