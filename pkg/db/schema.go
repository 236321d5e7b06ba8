package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS bars (
    symbol TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    ts_event INTEGER NOT NULL,
    o REAL NOT NULL,
    h REAL NOT NULL,
    l REAL NOT NULL,
    c REAL NOT NULL,
    v INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY(symbol, timeframe, ts_event)
);
CREATE INDEX IF NOT EXISTS idx_bars_symbol_tf_ts_desc ON bars(symbol, timeframe, ts_event DESC);

CREATE TABLE IF NOT EXISTS metadata (
    symbol TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    last_updated DATETIME,
    bar_count INTEGER DEFAULT 0,
    oldest_ts INTEGER,
    newest_ts INTEGER,
    PRIMARY KEY(symbol, timeframe)
);

CREATE TABLE IF NOT EXISTS bots (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    stage TEXT NOT NULL DEFAULT 'TRIALS',
    stage_reason TEXT,
    archetype TEXT NOT NULL,
    current_generation_id TEXT,
    strategy_config TEXT NOT NULL DEFAULT '{}',
    account_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS bot_instances (
    id TEXT PRIMARY KEY,
    bot_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'IDLE',
    activity_state TEXT NOT NULL DEFAULT 'IDLE',
    session_state TEXT NOT NULL DEFAULT 'CLOSED',
    last_heartbeat_at DATETIME,
    awaiting_recovery INTEGER DEFAULT 0,
    ready_for_restart INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(bot_id) REFERENCES bots(id)
);

CREATE TABLE IF NOT EXISTS bot_generations (
    id TEXT PRIMARY KEY,
    bot_id TEXT NOT NULL,
    parent_generation_id TEXT,
    config_json TEXT NOT NULL DEFAULT '{}',
    fitness REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(bot_id) REFERENCES bots(id)
);

CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    initial_balance REAL NOT NULL,
    current_attempt_number INTEGER NOT NULL DEFAULT 1,
    consecutive_blown_count INTEGER NOT NULL DEFAULT 0,
    total_blown_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS account_attempts (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    attempt_number INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'ACTIVE',
    starting_balance REAL NOT NULL,
    ending_balance REAL,
    blown_reason TEXT,
    blown_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(account_id) REFERENCES accounts(id)
);
CREATE INDEX IF NOT EXISTS idx_attempts_account_status ON account_attempts(account_id, status);

CREATE TABLE IF NOT EXISTS paper_trades (
    id TEXT PRIMARY KEY,
    bot_id TEXT NOT NULL,
    account_attempt_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    entry_price REAL NOT NULL,
    entry_ts DATETIME NOT NULL,
    exit_price REAL,
    exit_ts DATETIME,
    status TEXT NOT NULL DEFAULT 'OPEN',
    exit_reason_code TEXT,
    pnl REAL,
    fees REAL DEFAULT 0,
    slippage REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_paper_trades_bot_attempt_status ON paper_trades(bot_id, account_attempt_id, status);
CREATE INDEX IF NOT EXISTS idx_paper_trades_symbol_entry_ts ON paper_trades(symbol, entry_ts, entry_price, side);

CREATE TABLE IF NOT EXISTS bot_jobs (
    id TEXT PRIMARY KEY,
    bot_id TEXT NOT NULL,
    job_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'QUEUED',
    priority INTEGER,
    lease_owner TEXT,
    lease_expires_at DATETIME,
    last_heartbeat_at DATETIME,
    started_at DATETIME,
    attempts INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_bot_jobs_claim ON bot_jobs(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_bot_jobs_bot_type_status ON bot_jobs(bot_id, job_type, status);

CREATE TABLE IF NOT EXISTS signal_source_states (
    bot_id TEXT NOT NULL,
    source_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'enabled',
    disabled_at DATETIME,
    disabled_until DATETIME,
    probation_started_at DATETIME,
    performance_score REAL DEFAULT 0,
    consecutive_cycles_at_floor INTEGER DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(bot_id, source_id)
);

CREATE TABLE IF NOT EXISTS integration_events (
    id TEXT PRIMARY KEY,
    ts DATETIME DEFAULT CURRENT_TIMESTAMP,
    kind TEXT NOT NULL,
    bot_id TEXT,
    payload TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_integration_events_kind_ts ON integration_events(kind, ts);

CREATE TABLE IF NOT EXISTS provider_credentials (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    label TEXT NOT NULL,
    encrypted_secret TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS freshness_audits (
    id TEXT PRIMARY KEY,
    bot_id TEXT,
    symbol TEXT NOT NULL,
    status TEXT NOT NULL,
    source TEXT NOT NULL,
    age_ms INTEGER,
    context TEXT,
    ts DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_freshness_audits_symbol_ts ON freshness_audits(symbol, ts);

CREATE TABLE IF NOT EXISTS provider_accuracy (
    provider_id TEXT PRIMARY KEY,
    accuracy_multiplier REAL NOT NULL DEFAULT 1.0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if err := ensureColumn(d.DB, "bots", "stage_reason", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "bot_instances", "ready_for_restart", "INTEGER DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "account_attempts", "ending_balance", "REAL"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "bot_generations", "walk_forward_ok", "INTEGER DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "bot_generations", "overfit_ratio", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "bot_generations", "stress_test_passed", "INTEGER DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "bot_generations", "human_approved", "INTEGER DEFAULT 0"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
