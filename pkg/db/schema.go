package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS trade_records (
    id TEXT PRIMARY KEY,
    trading_day TEXT NOT NULL,
    instrument TEXT NOT NULL,
    direction TEXT NOT NULL,
    entry_price REAL NOT NULL,
    exit_price REAL NOT NULL,
    qty REAL NOT NULL,
    realized_pnl_usd REAL NOT NULL,
    realized_pnl_percent REAL NOT NULL,
    exit_reason TEXT NOT NULL,
    duration_seconds INTEGER NOT NULL,
    closed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trade_records_day ON trade_records(trading_day);

CREATE TABLE IF NOT EXISTS daily_risk_state (
    trading_day TEXT PRIMARY KEY,
    trades_count INTEGER NOT NULL DEFAULT 0,
    realized_pnl_usd REAL NOT NULL DEFAULT 0,
    realized_pnl_percent REAL NOT NULL DEFAULT 0,
    consecutive_losses INTEGER NOT NULL DEFAULT 0,
    paused_until DATETIME,
    pause_reason TEXT NOT NULL DEFAULT '',
    paused_indefinitely INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations creates the schema when missing. Statements are idempotent
// so this is safe on every startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("apply migrations: database not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// rowScanner lets query helpers accept *sql.Row and *sql.Rows alike.
type rowScanner interface {
	Scan(dest ...any) error
}

var _ rowScanner = (*sql.Row)(nil)
