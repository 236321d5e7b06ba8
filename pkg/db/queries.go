// Package db provides the SQLite-backed ledger for the control plane.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
)

// ----------------------------------------
// Cold store: bars / metadata
// ----------------------------------------

// StoreBars upserts a batch of bars in a single transaction and refreshes
// the per-(symbol,timeframe) metadata row. Returns the number of bars written.
func (d *Database) StoreBars(ctx context.Context, bars []Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, timeframe, ts_event, o, h, l, c, v)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, ts_event) DO UPDATE SET
			o = excluded.o, h = excluded.h, l = excluded.l, c = excluded.c, v = excluded.v
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	touched := map[string]struct{ symbol, tf string }{}
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Symbol, b.Timeframe, b.TsEvent, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return 0, fmt.Errorf("upsert bar %s/%s@%d: %w", b.Symbol, b.Timeframe, b.TsEvent, err)
		}
		touched[b.Symbol+"|"+b.Timeframe] = struct{ symbol, tf string }{b.Symbol, b.Timeframe}
	}

	for _, key := range touched {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metadata (symbol, timeframe, last_updated, bar_count, oldest_ts, newest_ts)
			SELECT ?, ?, CURRENT_TIMESTAMP, COUNT(*), MIN(ts_event), MAX(ts_event)
			FROM bars WHERE symbol = ? AND timeframe = ?
			ON CONFLICT(symbol, timeframe) DO UPDATE SET
				last_updated = excluded.last_updated,
				bar_count = excluded.bar_count,
				oldest_ts = excluded.oldest_ts,
				newest_ts = excluded.newest_ts
		`, key.symbol, key.tf, key.symbol, key.tf); err != nil {
			return 0, fmt.Errorf("refresh metadata for %s/%s: %w", key.symbol, key.tf, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bar batch: %w", err)
	}
	return len(bars), nil
}

// GetBars returns bars for (symbol, timeframe) ordered ascending by ts_event,
// optionally bounded by [startTs, endTs] and limit.
func (d *Database) GetBars(ctx context.Context, symbol, timeframe string, startTs, endTs *int64, limit int) ([]Bar, error) {
	query := `SELECT symbol, timeframe, ts_event, o, h, l, c, v FROM bars WHERE symbol = ? AND timeframe = ?`
	args := []any{symbol, timeframe}
	if startTs != nil {
		query += ` AND ts_event >= ?`
		args = append(args, *startTs)
	}
	if endTs != nil {
		query += ` AND ts_event <= ?`
		args = append(args, *endTs)
	}
	query += ` ORDER BY ts_event ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var res []Bar
	for rows.Next() {
		var b Bar
		if err := rows.Scan(&b.Symbol, &b.Timeframe, &b.TsEvent, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// GetBarMetadata returns the metadata row for a (symbol, timeframe), or nil.
func (d *Database) GetBarMetadata(ctx context.Context, symbol, timeframe string) (*BarMetadata, error) {
	var m BarMetadata
	err := d.DB.QueryRowContext(ctx, `
		SELECT symbol, timeframe, last_updated, bar_count, COALESCE(oldest_ts,0), COALESCE(newest_ts,0)
		FROM metadata WHERE symbol = ? AND timeframe = ?
	`, symbol, timeframe).Scan(&m.Symbol, &m.Timeframe, &m.LastUpdated, &m.BarCount, &m.OldestTs, &m.NewestTs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query bar metadata: %w", err)
	}
	return &m, nil
}

// ColdStoreSummaryRow is one line of the cold-store summary() operation.
type ColdStoreSummaryRow struct {
	Symbol    string
	Timeframe string
	BarCount  int64
	OldestTs  int64
	NewestTs  int64
}

// ColdStoreSummary returns per-(symbol,timeframe) stats across the whole store.
func (d *Database) ColdStoreSummary(ctx context.Context) ([]ColdStoreSummaryRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, timeframe, bar_count, COALESCE(oldest_ts,0), COALESCE(newest_ts,0) FROM metadata
	`)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var res []ColdStoreSummaryRow
	for rows.Next() {
		var r ColdStoreSummaryRow
		if err := rows.Scan(&r.Symbol, &r.Timeframe, &r.BarCount, &r.OldestTs, &r.NewestTs); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Bots / instances / generations
// ----------------------------------------

// CreateBot inserts a new bot row.
func (d *Database) CreateBot(ctx context.Context, b Bot) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bots (id, symbol, stage, stage_reason, archetype, current_generation_id, strategy_config, account_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
	`, b.ID, b.Symbol, b.Stage, b.StageReason, b.Archetype, b.CurrentGenerationID, b.StrategyConfig, b.AccountID, b.CreatedAt)
	return err
}

// GetBot returns a bot by id, or nil if not found.
func (d *Database) GetBot(ctx context.Context, id string) (*Bot, error) {
	var b Bot
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, symbol, stage, COALESCE(stage_reason,''), archetype, COALESCE(current_generation_id,''),
		       strategy_config, COALESCE(account_id,''), created_at, updated_at
		FROM bots WHERE id = ?
	`, id).Scan(&b.ID, &b.Symbol, &b.Stage, &b.StageReason, &b.Archetype, &b.CurrentGenerationID,
		&b.StrategyConfig, &b.AccountID, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query bot: %w", err)
	}
	return &b, nil
}

// ListBotsByStage returns every bot in a given lifecycle stage.
func (d *Database) ListBotsByStage(ctx context.Context, stage string) ([]Bot, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, stage, COALESCE(stage_reason,''), archetype, COALESCE(current_generation_id,''),
		       strategy_config, COALESCE(account_id,''), created_at, updated_at
		FROM bots WHERE stage = ?
	`, stage)
	if err != nil {
		return nil, fmt.Errorf("query bots by stage: %w", err)
	}
	defer rows.Close()

	var res []Bot
	for rows.Next() {
		var b Bot
		if err := rows.Scan(&b.ID, &b.Symbol, &b.Stage, &b.StageReason, &b.Archetype, &b.CurrentGenerationID,
			&b.StrategyConfig, &b.AccountID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// ListBotsByAccount returns every bot attached to an account, for
// Blown-Account Recovery's demote-or-requeue fan-out (§4.N).
func (d *Database) ListBotsByAccount(ctx context.Context, accountID string) ([]Bot, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, stage, COALESCE(stage_reason,''), archetype, COALESCE(current_generation_id,''),
		       strategy_config, COALESCE(account_id,''), created_at, updated_at
		FROM bots WHERE account_id = ?
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query bots by account: %w", err)
	}
	defer rows.Close()

	var res []Bot
	for rows.Next() {
		var b Bot
		if err := rows.Scan(&b.ID, &b.Symbol, &b.Stage, &b.StageReason, &b.Archetype, &b.CurrentGenerationID,
			&b.StrategyConfig, &b.AccountID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// UpdateBotStage transitions a bot's lifecycle stage with a recorded reason.
func (d *Database) UpdateBotStage(ctx context.Context, id, stage, reason string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET stage = ?, stage_reason = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, stage, reason, id)
	if err != nil {
		return err
	}
	return expectRowsAffected(res)
}

// UpdateBotStrategyConfig replaces the strategy_config JSON; callers are
// responsible for field-wise merging before calling so server-owned fields
// are never dropped (see §5 "Shared-resource policy").
func (d *Database) UpdateBotStrategyConfig(ctx context.Context, id, configJSON string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET strategy_config = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, configJSON, id)
	if err != nil {
		return err
	}
	return expectRowsAffected(res)
}

// SetBotCurrentGeneration points a bot at a newly created generation.
func (d *Database) SetBotCurrentGeneration(ctx context.Context, botID, generationID string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET current_generation_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, generationID, botID)
	return err
}

// CreateBotInstance inserts a new runner assignment.
func (d *Database) CreateBotInstance(ctx context.Context, bi BotInstance) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bot_instances (id, bot_id, account_id, state, activity_state, session_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, bi.ID, bi.BotID, bi.AccountID, bi.State, bi.ActivityState, bi.SessionState)
	return err
}

// GetBotInstanceByBotID returns the instance for a bot, or nil.
func (d *Database) GetBotInstanceByBotID(ctx context.Context, botID string) (*BotInstance, error) {
	var bi BotInstance
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, bot_id, account_id, state, activity_state, session_state, last_heartbeat_at,
		       awaiting_recovery, ready_for_restart, created_at, updated_at
		FROM bot_instances WHERE bot_id = ?
	`, botID).Scan(&bi.ID, &bi.BotID, &bi.AccountID, &bi.State, &bi.ActivityState, &bi.SessionState,
		&bi.LastHeartbeatAt, &bi.AwaitingRecovery, &bi.ReadyForRestart, &bi.CreatedAt, &bi.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query bot instance: %w", err)
	}
	return &bi, nil
}

// ListRunningBotInstances returns every instance not in STOPPED state, for
// the kill switch's second-phase database sweep.
func (d *Database) ListRunningBotInstances(ctx context.Context) ([]BotInstance, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, bot_id, account_id, state, activity_state, session_state, last_heartbeat_at,
		       awaiting_recovery, ready_for_restart, created_at, updated_at
		FROM bot_instances WHERE state != 'STOPPED'
	`)
	if err != nil {
		return nil, fmt.Errorf("query running instances: %w", err)
	}
	defer rows.Close()

	var res []BotInstance
	for rows.Next() {
		var bi BotInstance
		if err := rows.Scan(&bi.ID, &bi.BotID, &bi.AccountID, &bi.State, &bi.ActivityState, &bi.SessionState,
			&bi.LastHeartbeatAt, &bi.AwaitingRecovery, &bi.ReadyForRestart, &bi.CreatedAt, &bi.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, bi)
	}
	return res, rows.Err()
}

// UpdateBotInstanceState sets the runner/activity/session state triplet.
func (d *Database) UpdateBotInstanceState(ctx context.Context, id, state, activityState, sessionState string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bot_instances SET state = ?, activity_state = ?, session_state = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, state, activityState, sessionState, id)
	return err
}

// TouchBotInstanceHeartbeat records the latest heartbeat for a runner.
func (d *Database) TouchBotInstanceHeartbeat(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bot_instances SET last_heartbeat_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
	return err
}

// SetBotInstanceRecoveryFlags sets the awaitingRecovery and readyForRestart
// flags to the given values as part of the blown-account reset-for-new-attempt flow (§4.N).
func (d *Database) SetBotInstanceRecoveryFlags(ctx context.Context, id string, awaitingRecovery, readyForRestart bool) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bot_instances SET awaiting_recovery = ?, ready_for_restart = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, awaitingRecovery, readyForRestart, id)
	return err
}

// CreateBotGeneration inserts a new generation snapshot for a bot.
func (d *Database) CreateBotGeneration(ctx context.Context, g BotGeneration) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bot_generations (id, bot_id, parent_generation_id, config_json, fitness,
		       walk_forward_ok, overfit_ratio, stress_test_passed, human_approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, g.ID, g.BotID, g.ParentGenerationID, g.ConfigJSON, g.Fitness,
		g.WalkForwardOK, g.OverfitRatio, g.StressTestPassed, g.HumanApproved, g.CreatedAt)
	return err
}

// GetBotGeneration returns a generation snapshot by id, or nil.
func (d *Database) GetBotGeneration(ctx context.Context, id string) (*BotGeneration, error) {
	var g BotGeneration
	var parentID sql.NullString
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, bot_id, COALESCE(parent_generation_id,''), config_json, fitness,
		       walk_forward_ok, overfit_ratio, stress_test_passed, human_approved, created_at
		FROM bot_generations WHERE id = ?
	`, id).Scan(&g.ID, &g.BotID, &parentID, &g.ConfigJSON, &g.Fitness,
		&g.WalkForwardOK, &g.OverfitRatio, &g.StressTestPassed, &g.HumanApproved, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bot generation: %w", err)
	}
	g.ParentGenerationID = parentID.String
	return &g, nil
}

// SetGenerationWalkForward persists the walk-forward split computed from the
// ledger for a generation (§4.M), so graduation checks don't re-derive it
// from scratch on every request.
func (d *Database) SetGenerationWalkForward(ctx context.Context, id string, ok bool, overfitRatio float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bot_generations SET walk_forward_ok = ?, overfit_ratio = ? WHERE id = ?
	`, ok, overfitRatio, id)
	return err
}

// SetGenerationStressTestPassed records an operator's stress-test verdict
// for a generation (§4.M CANARY gate).
func (d *Database) SetGenerationStressTestPassed(ctx context.Context, id string, passed bool) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE bot_generations SET stress_test_passed = ? WHERE id = ?`, passed, id)
	return err
}

// SetGenerationHumanApproved records an operator's sign-off for a generation
// (§4.M CANARY gate).
func (d *Database) SetGenerationHumanApproved(ctx context.Context, id string, approved bool) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE bot_generations SET human_approved = ? WHERE id = ?`, approved, id)
	return err
}

// ----------------------------------------
// Accounts / attempts
// ----------------------------------------

// CreateAccount inserts a new account and its first ACTIVE attempt in one transaction.
func (d *Database) CreateAccount(ctx context.Context, a Account, firstAttemptID string) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, initial_balance, current_attempt_number, consecutive_blown_count, total_blown_count, created_at, updated_at)
		VALUES (?, ?, 1, 0, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, a.ID, a.InitialBalance); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO account_attempts (id, account_id, attempt_number, status, starting_balance, created_at)
		VALUES (?, ?, 1, 'ACTIVE', ?, CURRENT_TIMESTAMP)
	`, firstAttemptID, a.ID, a.InitialBalance); err != nil {
		return fmt.Errorf("insert first attempt: %w", err)
	}
	return tx.Commit()
}

// GetAccount returns an account by id, or nil.
func (d *Database) GetAccount(ctx context.Context, id string) (*Account, error) {
	var a Account
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, initial_balance, current_attempt_number, consecutive_blown_count, total_blown_count, created_at, updated_at
		FROM accounts WHERE id = ?
	`, id).Scan(&a.ID, &a.InitialBalance, &a.CurrentAttemptNumber, &a.ConsecutiveBlownCount, &a.TotalBlownCount, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &a, nil
}

// GetActiveAttempt returns the ACTIVE attempt for an account; each account
// has exactly one by construction.
func (d *Database) GetActiveAttempt(ctx context.Context, accountID string) (*AccountAttempt, error) {
	var a AccountAttempt
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, account_id, attempt_number, status, starting_balance, ending_balance, COALESCE(blown_reason,''), blown_at, created_at
		FROM account_attempts WHERE account_id = ? AND status = 'ACTIVE'
	`, accountID).Scan(&a.ID, &a.AccountID, &a.AttemptNumber, &a.Status, &a.StartingBalance, &a.EndingBalance, &a.BlownReason, &a.BlownAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active attempt: %w", err)
	}
	return &a, nil
}

// MarkAttemptBlown atomically transitions the ACTIVE attempt to BLOWN and
// bumps the account's blown counters. Returns the new consecutive count.
func (d *Database) MarkAttemptBlown(ctx context.Context, accountID, attemptID, reason string, endingBalance float64) (int, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE account_attempts
		SET status = 'BLOWN', ending_balance = ?, blown_reason = ?, blown_at = CURRENT_TIMESTAMP
		WHERE id = ? AND account_id = ? AND status = 'ACTIVE'
	`, endingBalance, reason, attemptID, accountID)
	if err != nil {
		return 0, fmt.Errorf("mark attempt blown: %w", err)
	}
	if err := expectRowsAffected(res); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET consecutive_blown_count = consecutive_blown_count + 1,
		    total_blown_count = total_blown_count + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, accountID); err != nil {
		return 0, fmt.Errorf("increment blown counters: %w", err)
	}

	var consecutive int
	if err := tx.QueryRowContext(ctx, `SELECT consecutive_blown_count FROM accounts WHERE id = ?`, accountID).Scan(&consecutive); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return consecutive, nil
}

// StartNewAttempt closes the book on the current attempt number and opens a
// fresh ACTIVE attempt at the given starting balance (reset-for-new-attempt, §4.N).
func (d *Database) StartNewAttempt(ctx context.Context, accountID, newAttemptID string, startingBalance float64) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var nextNumber int
	if err := tx.QueryRowContext(ctx, `SELECT current_attempt_number + 1 FROM accounts WHERE id = ?`, accountID).Scan(&nextNumber); err != nil {
		return fmt.Errorf("read attempt number: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO account_attempts (id, account_id, attempt_number, status, starting_balance, created_at)
		VALUES (?, ?, ?, 'ACTIVE', ?, CURRENT_TIMESTAMP)
	`, newAttemptID, accountID, nextNumber, startingBalance); err != nil {
		return fmt.Errorf("insert new attempt: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET current_attempt_number = ?, consecutive_blown_count = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, nextNumber, accountID); err != nil {
		return fmt.Errorf("bump account attempt number: %w", err)
	}

	return tx.Commit()
}

// ----------------------------------------
// Paper trades
// ----------------------------------------

// OpenPaperTrade inserts a new OPEN trade.
func (d *Database) OpenPaperTrade(ctx context.Context, t PaperTrade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO paper_trades (id, bot_id, account_attempt_id, symbol, side, qty, entry_price, entry_ts, status, fees, slippage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'OPEN', ?, ?, CURRENT_TIMESTAMP)
	`, t.ID, t.BotID, t.AccountAttemptID, t.Symbol, t.Side, t.Qty, t.EntryPrice, t.EntryTs, t.Fees, t.Slippage)
	return err
}

// ClosePaperTrade marks a trade CLOSED with its realized outcome.
func (d *Database) ClosePaperTrade(ctx context.Context, id string, exitPrice float64, exitTs time.Time, reasonCode string, pnl, fees, slippage float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE paper_trades
		SET status = 'CLOSED', exit_price = ?, exit_ts = ?, exit_reason_code = ?, pnl = ?, fees = ?, slippage = ?
		WHERE id = ? AND status = 'OPEN'
	`, exitPrice, exitTs, reasonCode, pnl, fees, slippage, id)
	if err != nil {
		return err
	}
	return expectRowsAffected(res)
}

// GetOpenTradesForBot returns every OPEN trade for a bot under the given
// account attempt (normally at most one, per the invariant in §3, but the
// caller is responsible for orphan reconciliation when more are found).
func (d *Database) GetOpenTradesForBot(ctx context.Context, botID, accountAttemptID string) ([]PaperTrade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, bot_id, account_attempt_id, symbol, side, qty, entry_price, entry_ts,
		       exit_price, exit_ts, status, COALESCE(exit_reason_code,''), pnl, fees, slippage, created_at
		FROM paper_trades
		WHERE bot_id = ? AND account_attempt_id = ? AND status = 'OPEN'
		ORDER BY entry_ts DESC
	`, botID, accountAttemptID)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer rows.Close()
	return scanPaperTrades(rows)
}

// FindDuplicateOpenTrade looks for an OPEN trade matching (symbol, entryTs,
// entryPrice, side) opened by a bot other than excludeBotID, implementing
// the cross-bot duplicate guardrail of §4.K.
func (d *Database) FindDuplicateOpenTrade(ctx context.Context, symbol string, entryTs time.Time, entryPrice float64, side, excludeBotID string) (*PaperTrade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, bot_id, account_attempt_id, symbol, side, qty, entry_price, entry_ts,
		       exit_price, exit_ts, status, COALESCE(exit_reason_code,''), pnl, fees, slippage, created_at
		FROM paper_trades
		WHERE symbol = ? AND entry_ts = ? AND entry_price = ? AND side = ? AND status = 'OPEN' AND bot_id != ?
		LIMIT 1
	`, symbol, entryTs, entryPrice, side, excludeBotID)
	if err != nil {
		return nil, fmt.Errorf("query duplicate trade: %w", err)
	}
	defer rows.Close()
	trades, err := scanPaperTrades(rows)
	if err != nil || len(trades) == 0 {
		return nil, err
	}
	return &trades[0], nil
}

// ListClosedTradesForMetrics returns every CLOSED trade for a bot scoped to
// the active attempt, excluding ORPHAN_RECONCILE exits, ordered for
// deterministic drawdown/Sharpe recomputation (§4.O).
func (d *Database) ListClosedTradesForMetrics(ctx context.Context, botID, accountAttemptID string) ([]PaperTrade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, bot_id, account_attempt_id, symbol, side, qty, entry_price, entry_ts,
		       exit_price, exit_ts, status, COALESCE(exit_reason_code,''), pnl, fees, slippage, created_at
		FROM paper_trades
		WHERE bot_id = ? AND account_attempt_id = ? AND status = 'CLOSED' AND COALESCE(exit_reason_code,'') != 'ORPHAN_RECONCILE'
		ORDER BY exit_ts ASC, id ASC
	`, botID, accountAttemptID)
	if err != nil {
		return nil, fmt.Errorf("query closed trades: %w", err)
	}
	defer rows.Close()
	return scanPaperTrades(rows)
}

// SumRealizedPnLForAttempt sums PnL across every CLOSED trade for an account
// attempt, across all bots, including ORPHAN_RECONCILE exits: this is the
// real cash ledger the blown-account predicate checks against, unlike the
// per-bot metrics view which excludes reconciliation exits from performance
// scoring (§4.N).
func (d *Database) SumRealizedPnLForAttempt(ctx context.Context, accountAttemptID string) (float64, error) {
	var sum sql.NullFloat64
	err := d.DB.QueryRowContext(ctx, `
		SELECT SUM(pnl) FROM paper_trades WHERE account_attempt_id = ? AND status = 'CLOSED'
	`, accountAttemptID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum realized pnl: %w", err)
	}
	return sum.Float64, nil
}

func scanPaperTrades(rows *sql.Rows) ([]PaperTrade, error) {
	var res []PaperTrade
	for rows.Next() {
		var t PaperTrade
		if err := rows.Scan(&t.ID, &t.BotID, &t.AccountAttemptID, &t.Symbol, &t.Side, &t.Qty, &t.EntryPrice, &t.EntryTs,
			&t.ExitPrice, &t.ExitTs, &t.Status, &t.ExitReasonCode, &t.PnL, &t.Fees, &t.Slippage, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan paper trade: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Job lease queue
// ----------------------------------------

// EnqueueJob inserts a new QUEUED job.
func (d *Database) EnqueueJob(ctx context.Context, j BotJob) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bot_jobs (id, bot_id, job_type, status, priority, attempts, created_at)
		VALUES (?, ?, ?, 'QUEUED', ?, 0, COALESCE(?, CURRENT_TIMESTAMP))
	`, j.ID, j.BotID, j.JobType, j.Priority, j.CreatedAt)
	return err
}

// HasPendingJob reports whether a bot already has a QUEUED or RUNNING job of
// jobType, for the idempotent-enqueue rule in §4.N.
func (d *Database) HasPendingJob(ctx context.Context, botID, jobType string) (bool, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bot_jobs WHERE bot_id = ? AND job_type = ? AND status IN ('QUEUED','RUNNING')
	`, botID, jobType).Scan(&n)
	return n > 0, err
}

// ClaimJob atomically claims one eligible job for workerId, emulating
// row-level SKIP LOCKED inside one transaction: it selects the next eligible
// id, claims it with a conditional UPDATE, and reads the row back, against
// the single-writer SQLite connection (see SPEC_FULL.md §4.U).
func (d *Database) ClaimJob(ctx context.Context, workerID string, leaseSeconds int, jobType string) (*BotJob, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		SELECT id FROM bot_jobs
		WHERE status = 'QUEUED' AND (lease_owner IS NULL OR lease_expires_at < CURRENT_TIMESTAMP)
	`
	args := []any{}
	if jobType != "" {
		query += ` AND job_type = ?`
		args = append(args, jobType)
	}
	query += ` ORDER BY priority DESC, created_at ASC LIMIT 1`

	var id string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("select claimable job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE bot_jobs
		SET status = 'RUNNING', lease_owner = ?, lease_expires_at = datetime(CURRENT_TIMESTAMP, '+' || ? || ' seconds'),
		    started_at = CURRENT_TIMESTAMP, last_heartbeat_at = CURRENT_TIMESTAMP, attempts = attempts + 1
		WHERE id = ? AND status = 'QUEUED' AND (lease_owner IS NULL OR lease_expires_at < CURRENT_TIMESTAMP)
	`, workerID, leaseSeconds, id)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Lost the race to another claimer between SELECT and UPDATE.
		return nil, nil
	}

	var j BotJob
	if err := tx.QueryRowContext(ctx, `
		SELECT id, bot_id, job_type, status, priority, lease_owner, lease_expires_at, last_heartbeat_at, started_at, attempts, created_at
		FROM bot_jobs WHERE id = ?
	`, id).Scan(&j.ID, &j.BotID, &j.JobType, &j.Status, &j.Priority, &j.LeaseOwner, &j.LeaseExpiresAt, &j.LastHeartbeatAt, &j.StartedAt, &j.Attempts, &j.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &j, nil
}

// RenewJobLease extends a lease; succeeds only if workerID still holds it and
// the job is RUNNING.
func (d *Database) RenewJobLease(ctx context.Context, jobID, workerID string, leaseSeconds int) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE bot_jobs
		SET lease_expires_at = datetime(CURRENT_TIMESTAMP, '+' || ? || ' seconds'), last_heartbeat_at = CURRENT_TIMESTAMP
		WHERE id = ? AND lease_owner = ? AND status = 'RUNNING'
	`, leaseSeconds, jobID, workerID)
	if err != nil {
		return err
	}
	return expectRowsAffected(res)
}

// ReleaseJobLease clears the lease and sets the job's status to finalStatus; succeeds only if
// workerID still holds it.
func (d *Database) ReleaseJobLease(ctx context.Context, jobID, workerID, finalStatus string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE bot_jobs
		SET status = ?, lease_owner = NULL, lease_expires_at = NULL
		WHERE id = ? AND lease_owner = ?
	`, finalStatus, jobID, workerID)
	if err != nil {
		return err
	}
	return expectRowsAffected(res)
}

// HeartbeatJob updates lastHeartbeatAt for a running job.
func (d *Database) HeartbeatJob(ctx context.Context, jobID, workerID string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE bot_jobs SET last_heartbeat_at = CURRENT_TIMESTAMP WHERE id = ? AND lease_owner = ? AND status = 'RUNNING'
	`, jobID, workerID)
	if err != nil {
		return err
	}
	return expectRowsAffected(res)
}

// TimeoutStaleJobs marks RUNNING jobs whose heartbeat (or, absent a
// heartbeat, startedAt) is older than thresholdMinutes as TIMEOUT. Returns
// the number of jobs transitioned.
func (d *Database) TimeoutStaleJobs(ctx context.Context, thresholdMinutes int) (int, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE bot_jobs
		SET status = 'TIMEOUT', lease_owner = NULL, lease_expires_at = NULL
		WHERE status = 'RUNNING'
		  AND COALESCE(last_heartbeat_at, started_at) < datetime(CURRENT_TIMESTAMP, '-' || ? || ' minutes')
	`, thresholdMinutes)
	if err != nil {
		return 0, fmt.Errorf("timeout sweep: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ----------------------------------------
// Signal source state
// ----------------------------------------

// GetSignalSourceState returns the state for (botID, sourceID), or nil.
func (d *Database) GetSignalSourceState(ctx context.Context, botID, sourceID string) (*SignalSourceState, error) {
	var s SignalSourceState
	err := d.DB.QueryRowContext(ctx, `
		SELECT bot_id, source_id, status, disabled_at, disabled_until, probation_started_at,
		       performance_score, consecutive_cycles_at_floor, updated_at
		FROM signal_source_states WHERE bot_id = ? AND source_id = ?
	`, botID, sourceID).Scan(&s.BotID, &s.SourceID, &s.Status, &s.DisabledAt, &s.DisabledUntil, &s.ProbationStartedAt,
		&s.PerformanceScore, &s.ConsecutiveCyclesAtFloor, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query signal source state: %w", err)
	}
	return &s, nil
}

// ListSignalSourceStates returns every source state tracked for a bot.
func (d *Database) ListSignalSourceStates(ctx context.Context, botID string) ([]SignalSourceState, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT bot_id, source_id, status, disabled_at, disabled_until, probation_started_at,
		       performance_score, consecutive_cycles_at_floor, updated_at
		FROM signal_source_states WHERE bot_id = ?
	`, botID)
	if err != nil {
		return nil, fmt.Errorf("query signal source states: %w", err)
	}
	defer rows.Close()

	var res []SignalSourceState
	for rows.Next() {
		var s SignalSourceState
		if err := rows.Scan(&s.BotID, &s.SourceID, &s.Status, &s.DisabledAt, &s.DisabledUntil, &s.ProbationStartedAt,
			&s.PerformanceScore, &s.ConsecutiveCyclesAtFloor, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpsertSignalSourceState writes the full state row for (botID, sourceID).
func (d *Database) UpsertSignalSourceState(ctx context.Context, s SignalSourceState) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signal_source_states (bot_id, source_id, status, disabled_at, disabled_until,
			probation_started_at, performance_score, consecutive_cycles_at_floor, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(bot_id, source_id) DO UPDATE SET
			status = excluded.status,
			disabled_at = excluded.disabled_at,
			disabled_until = excluded.disabled_until,
			probation_started_at = excluded.probation_started_at,
			performance_score = excluded.performance_score,
			consecutive_cycles_at_floor = excluded.consecutive_cycles_at_floor,
			updated_at = CURRENT_TIMESTAMP
	`, s.BotID, s.SourceID, s.Status, s.DisabledAt, s.DisabledUntil, s.ProbationStartedAt, s.PerformanceScore, s.ConsecutiveCyclesAtFloor)
	return err
}

// ----------------------------------------
// Integration events (audit trail)
// ----------------------------------------

// InsertIntegrationEvent appends an audit row.
func (d *Database) InsertIntegrationEvent(ctx context.Context, e IntegrationEvent) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO integration_events (id, ts, kind, bot_id, payload)
		VALUES (?, COALESCE(?, CURRENT_TIMESTAMP), ?, ?, ?)
	`, e.ID, e.Ts, e.Kind, nullableString(e.BotID), e.Payload)
	return err
}

// ListIntegrationEventsByKind returns recent events of a kind, newest first.
func (d *Database) ListIntegrationEventsByKind(ctx context.Context, kind string, limit int) ([]IntegrationEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, ts, kind, COALESCE(bot_id,''), payload FROM integration_events
		WHERE kind = ? ORDER BY ts DESC LIMIT ?
	`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("query integration events: %w", err)
	}
	defer rows.Close()

	var res []IntegrationEvent
	for rows.Next() {
		var e IntegrationEvent
		if err := rows.Scan(&e.ID, &e.Ts, &e.Kind, &e.BotID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Provider credentials (encrypted secrets)
// ----------------------------------------

// CreateProviderCredential inserts an encrypted credential row.
func (d *Database) CreateProviderCredential(ctx context.Context, c ProviderCredential) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO provider_credentials (id, kind, label, encrypted_secret, created_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, c.ID, c.Kind, c.Label, c.EncryptedSecret, c.CreatedAt)
	return err
}

// ListProviderCredentialsByKind returns every credential of a kind.
func (d *Database) ListProviderCredentialsByKind(ctx context.Context, kind string) ([]ProviderCredential, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, kind, label, encrypted_secret, created_at FROM provider_credentials WHERE kind = ?
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("query provider credentials: %w", err)
	}
	defer rows.Close()

	var res []ProviderCredential
	for rows.Next() {
		var c ProviderCredential
		if err := rows.Scan(&c.ID, &c.Kind, &c.Label, &c.EncryptedSecret, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListProviderCredentials returns every provider credential regardless of
// kind, for key-rotation sweeps that must touch DATA_VENDOR and
// VOTE_PROVIDER rows alike.
func (d *Database) ListProviderCredentials(ctx context.Context) ([]ProviderCredential, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, kind, label, encrypted_secret, created_at FROM provider_credentials
	`)
	if err != nil {
		return nil, fmt.Errorf("query provider credentials: %w", err)
	}
	defer rows.Close()

	var res []ProviderCredential
	for rows.Next() {
		var c ProviderCredential
		if err := rows.Scan(&c.ID, &c.Kind, &c.Label, &c.EncryptedSecret, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpdateProviderCredentialSecret overwrites the encrypted secret of an
// existing credential row, used both for operator rotation and for the
// key-manager's re-encrypt-under-the-current-version sweep.
func (d *Database) UpdateProviderCredentialSecret(ctx context.Context, id, encryptedSecret string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE provider_credentials SET encrypted_secret = ? WHERE id = ?`, encryptedSecret, id)
	return err
}

// ----------------------------------------
// Freshness audit
// ----------------------------------------

// InsertFreshnessAudit appends a price-authority freshness verdict.
func (d *Database) InsertFreshnessAudit(ctx context.Context, a FreshnessAudit) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO freshness_audits (id, bot_id, symbol, status, source, age_ms, context, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, a.ID, nullableString(a.BotID), a.Symbol, a.Status, a.Source, a.AgeMs, a.Context, a.Ts)
	return err
}

// FreshnessAuditSummary counts a bot's recorded freshness verdicts, newest
// first, capped at limit rows: the DataProof graduation gate (§4.M) treats a
// bot as data-proven only once it has a recorded audit trail with no
// non-fresh verdicts in that window.
func (d *Database) FreshnessAuditSummary(ctx context.Context, botID string, limit int) (fresh, nonFresh int, err error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT status FROM (
			SELECT status, ts FROM freshness_audits WHERE bot_id = ? ORDER BY ts DESC LIMIT ?
		)
	`, botID, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("query freshness audit summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, 0, fmt.Errorf("scan freshness audit status: %w", err)
		}
		if status == "FRESH" {
			fresh++
		} else {
			nonFresh++
		}
	}
	return fresh, nonFresh, rows.Err()
}

// ----------------------------------------
// Provider accuracy (ensemble vote)
// ----------------------------------------

// GetProviderAccuracy returns a provider's accuracy multiplier, defaulting to 1.0.
func (d *Database) GetProviderAccuracy(ctx context.Context, providerID string) (float64, error) {
	var mult float64
	err := d.DB.QueryRowContext(ctx, `SELECT accuracy_multiplier FROM provider_accuracy WHERE provider_id = ?`, providerID).Scan(&mult)
	if err == sql.ErrNoRows {
		return 1.0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query provider accuracy: %w", err)
	}
	return mult, nil
}

// UpsertProviderAccuracy writes the decayed accuracy multiplier for a provider.
func (d *Database) UpsertProviderAccuracy(ctx context.Context, providerID string, multiplier float64) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO provider_accuracy (provider_id, accuracy_multiplier, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(provider_id) DO UPDATE SET
			accuracy_multiplier = excluded.accuracy_multiplier,
			updated_at = CURRENT_TIMESTAMP
	`, providerID, multiplier)
	return err
}

// ----------------------------------------
// Helpers
// ----------------------------------------

func expectRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
