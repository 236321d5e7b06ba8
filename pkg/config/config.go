// Package config loads environment-driven settings for the control plane.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the control plane.
type Config struct {
	Port          string
	OperatorToken string

	// Database
	DBPath string

	// Warm cache
	WarmCacheMaxBarsDev     int
	WarmCacheMaxBarsProd    int
	WarmCacheEmergencyFloor int
	WarmCacheStaleAfter     time.Duration
	Environment             string // "dev" or "prod", selects the bar cap above

	// Freshness thresholds
	QuoteFreshThreshold time.Duration
	BarFreshMultiplier  int // FRESH iff age <= multiplier * bar interval

	// Session / holiday calendar asset
	SessionCalendarPath string
	SessionTimezone     string

	// Job lease queue
	DefaultLeaseSeconds  int
	JobHeartbeatInterval time.Duration
	JobTimeoutMinutes    int

	// Feed vendor (opaque per spec; credentials only, no business logic here)
	FeedVendorBaseURL     string
	FeedVendorAPIKey      string
	FeedVendorTimeout     time.Duration
	FeedVendorPollSymbols []string
	UseMockFeed           bool

	// Ensemble vote providers
	EnsembleProviderAddrs []string
	EnsembleVoteTimeout   time.Duration
	EnsembleSupermajority bool

	// Adaptive weights / source governor
	WeightFloor          float64
	WeightCeiling        float64
	WeightDecayPerDay    float64
	WeightRebalanceEvery time.Duration
	GovernorMinEnabled   int
	GovernorCooldown     time.Duration
	GovernorProbation    time.Duration

	// Auto-flatten
	AutoFlattenMinutes   int
	AutoFlattenLookahead int // days

	// Account defaults
	DefaultInitialBalance    float64
	DefaultNotionalForSharpe float64
	MaxConsecutiveBlownCount int

	// Encryption
	MasterEncryptionKey string

	// Localization
	Language string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "./data/futurescore.db")

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		OperatorToken: getEnv("OPERATOR_TOKEN", "dev-operator-token"),

		DBPath: dbPath,

		WarmCacheMaxBarsDev:     getEnvInt("WARM_CACHE_MAX_BARS_DEV", 15000),
		WarmCacheMaxBarsProd:    getEnvInt("WARM_CACHE_MAX_BARS_PROD", 50000),
		WarmCacheEmergencyFloor: getEnvInt("WARM_CACHE_EMERGENCY_FLOOR", 5000),
		WarmCacheStaleAfter:     getEnvDuration("WARM_CACHE_STALE_AFTER", 5*time.Minute),
		Environment:             strings.ToLower(getEnv("ENVIRONMENT", "dev")),

		QuoteFreshThreshold: getEnvDuration("QUOTE_FRESH_THRESHOLD", 30*time.Second),
		BarFreshMultiplier:  getEnvInt("BAR_FRESH_MULTIPLIER", 2),

		SessionCalendarPath: getEnv("SESSION_CALENDAR_PATH", "./config/cme_holidays.yaml"),
		SessionTimezone:     getEnv("SESSION_TIMEZONE", "America/New_York"),

		DefaultLeaseSeconds:  getEnvInt("JOB_LEASE_SECONDS", 60),
		JobHeartbeatInterval: getEnvDuration("JOB_HEARTBEAT_INTERVAL", 15*time.Second),
		JobTimeoutMinutes:    getEnvInt("JOB_TIMEOUT_MINUTES", 5),

		FeedVendorBaseURL:     getEnv("FEED_VENDOR_BASE_URL", "https://api.ironbeam.example"),
		FeedVendorAPIKey:      os.Getenv("FEED_VENDOR_API_KEY"),
		FeedVendorTimeout:     getEnvDuration("FEED_VENDOR_TIMEOUT", 10*time.Second),
		FeedVendorPollSymbols: splitAndTrim(getEnv("FEED_VENDOR_SYMBOLS", "ES,NQ,CL")),
		UseMockFeed:           getEnv("USE_MOCK_FEED", "true") == "true",

		EnsembleProviderAddrs: splitAndTrim(getEnv("ENSEMBLE_PROVIDER_ADDRS", "")),
		EnsembleVoteTimeout:   getEnvDuration("ENSEMBLE_VOTE_TIMEOUT", 3*time.Second),
		EnsembleSupermajority: getEnv("ENSEMBLE_SUPERMAJORITY_REQUIRED", "true") == "true",

		WeightFloor:          getEnvFloat("WEIGHT_FLOOR", 0.05),
		WeightCeiling:        getEnvFloat("WEIGHT_CEILING", 0.70),
		WeightDecayPerDay:    getEnvFloat("WEIGHT_DECAY_PER_DAY", 0.95),
		WeightRebalanceEvery: getEnvDuration("WEIGHT_REBALANCE_EVERY", time.Hour),
		GovernorMinEnabled:   getEnvInt("GOVERNOR_MIN_ENABLED_SOURCES", 2),
		GovernorCooldown:     getEnvDuration("GOVERNOR_COOLDOWN", 30*time.Minute),
		GovernorProbation:    getEnvDuration("GOVERNOR_PROBATION", 2*time.Hour),

		AutoFlattenMinutes:   getEnvInt("AUTO_FLATTEN_MINUTES", 10),
		AutoFlattenLookahead: getEnvInt("AUTO_FLATTEN_LOOKAHEAD_DAYS", 3),

		DefaultInitialBalance:    getEnvFloat("DEFAULT_INITIAL_BALANCE", 50000),
		DefaultNotionalForSharpe: getEnvFloat("DEFAULT_NOTIONAL_FOR_SHARPE", 10000),
		MaxConsecutiveBlownCount: getEnvInt("MAX_CONSECUTIVE_BLOWN_COUNT", 3),

		MasterEncryptionKey: os.Getenv("MASTER_ENCRYPTION_KEY"),

		Language: getEnv("LANGUAGE", "en"),
	}

	if cfg.GovernorMinEnabled < 1 {
		return nil, fmt.Errorf("GOVERNOR_MIN_ENABLED_SOURCES must be >= 1")
	}
	if cfg.WeightFloor >= cfg.WeightCeiling {
		return nil, fmt.Errorf("WEIGHT_FLOOR must be < WEIGHT_CEILING")
	}

	return cfg, nil
}

// WarmCacheMaxBars returns the bar cap for the configured environment.
func (c *Config) WarmCacheMaxBars() int {
	if c.Environment == "prod" {
		return c.WarmCacheMaxBarsProd
	}
	return c.WarmCacheMaxBarsDev
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
