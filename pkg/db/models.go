package db

import (
	"context"
	"database/sql"
	"time"
)

// TradeRecord is one immutable row of the durable trade ledger: a completed
// trade or a partial-exit segment. Write-once, never mutated.
type TradeRecord struct {
	ID              string
	TradingDay      string // YYYY-MM-DD, UTC
	Instrument      string
	Direction       string
	EntryPrice      float64
	ExitPrice       float64
	Qty             float64
	RealizedPnlUsd  float64
	RealizedPnlPct  float64
	ExitReason      string
	DurationSeconds int64
	ClosedAt        time.Time
}

// DailyRiskState is the persisted per-day risk breaker state. One row per
// trading day; the breaker reloads the newest row on startup so a pause
// survives a process restart.
type DailyRiskState struct {
	TradingDay         string // YYYY-MM-DD, UTC
	TradesCount        int
	RealizedPnlUsd     float64
	RealizedPnlPct     float64
	ConsecutiveLosses  int
	PausedUntil        time.Time // zero when no timed pause is active
	PauseReason        string
	PausedIndefinitely bool
}

// InsertTradeRecord appends a row to the ledger.
func (d *Database) InsertTradeRecord(ctx context.Context, r TradeRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trade_records (
			id, trading_day, instrument, direction, entry_price, exit_price,
			qty, realized_pnl_usd, realized_pnl_percent, exit_reason,
			duration_seconds, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.TradingDay, r.Instrument, r.Direction, r.EntryPrice, r.ExitPrice,
		r.Qty, r.RealizedPnlUsd, r.RealizedPnlPct, r.ExitReason,
		r.DurationSeconds, r.ClosedAt,
	)
	return err
}

// CountTradeRecords returns the number of ledger rows for a trading day.
func (d *Database) CountTradeRecords(ctx context.Context, tradingDay string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trade_records WHERE trading_day = ?
	`, tradingDay).Scan(&n)
	return n, err
}

// ListTradeRecords returns the most recent ledger rows, newest first.
func (d *Database) ListTradeRecords(ctx context.Context, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, trading_day, instrument, direction, entry_price, exit_price,
		       qty, realized_pnl_usd, realized_pnl_percent, exit_reason,
		       duration_seconds, closed_at
		FROM trade_records
		ORDER BY closed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []TradeRecord
	for rows.Next() {
		var r TradeRecord
		if err := rows.Scan(&r.ID, &r.TradingDay, &r.Instrument, &r.Direction,
			&r.EntryPrice, &r.ExitPrice, &r.Qty, &r.RealizedPnlUsd,
			&r.RealizedPnlPct, &r.ExitReason, &r.DurationSeconds, &r.ClosedAt); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// UpsertDailyRiskState persists the breaker state for its trading day.
func (d *Database) UpsertDailyRiskState(ctx context.Context, s DailyRiskState) error {
	var pausedUntil any
	if !s.PausedUntil.IsZero() {
		pausedUntil = s.PausedUntil.UTC()
	}
	indef := 0
	if s.PausedIndefinitely {
		indef = 1
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO daily_risk_state (
			trading_day, trades_count, realized_pnl_usd, realized_pnl_percent,
			consecutive_losses, paused_until, pause_reason, paused_indefinitely,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(trading_day) DO UPDATE SET
			trades_count = excluded.trades_count,
			realized_pnl_usd = excluded.realized_pnl_usd,
			realized_pnl_percent = excluded.realized_pnl_percent,
			consecutive_losses = excluded.consecutive_losses,
			paused_until = excluded.paused_until,
			pause_reason = excluded.pause_reason,
			paused_indefinitely = excluded.paused_indefinitely,
			updated_at = CURRENT_TIMESTAMP
	`,
		s.TradingDay, s.TradesCount, s.RealizedPnlUsd, s.RealizedPnlPct,
		s.ConsecutiveLosses, pausedUntil, s.PauseReason, indef,
	)
	return err
}

// LatestDailyRiskState returns the most recent persisted breaker state, or
// (nil, nil) when none exists yet.
func (d *Database) LatestDailyRiskState(ctx context.Context) (*DailyRiskState, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT trading_day, trades_count, realized_pnl_usd, realized_pnl_percent,
		       consecutive_losses, paused_until, pause_reason, paused_indefinitely
		FROM daily_risk_state
		ORDER BY trading_day DESC
		LIMIT 1
	`)
	s, err := scanDailyRiskState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanDailyRiskState(row rowScanner) (*DailyRiskState, error) {
	var (
		s           DailyRiskState
		pausedUntil sql.NullTime
		indef       int
	)
	if err := row.Scan(&s.TradingDay, &s.TradesCount, &s.RealizedPnlUsd,
		&s.RealizedPnlPct, &s.ConsecutiveLosses, &pausedUntil,
		&s.PauseReason, &indef); err != nil {
		return nil, err
	}
	if pausedUntil.Valid {
		s.PausedUntil = pausedUntil.Time.UTC()
	}
	s.PausedIndefinitely = indef == 1
	return &s, nil
}
