// Package ledger owns the immutable trade record journal. Every terminal
// trade and every partial-exit segment becomes exactly one row.
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/iBuild-ts/Binance-trading-bot/pkg/db"
)

// TradingDay formats t as the UTC trading day key.
func TradingDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Ledger appends and reads trade records.
type Ledger struct {
	db *db.Database
}

// New builds a ledger over an opened database.
func New(database *db.Database) *Ledger {
	return &Ledger{db: database}
}

// Append writes a record. A zero ID gets a fresh UUID and a zero ClosedAt
// gets the current time; the trading day is always derived from ClosedAt.
func (l *Ledger) Append(ctx context.Context, r db.TradeRecord) (db.TradeRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ClosedAt.IsZero() {
		r.ClosedAt = time.Now().UTC()
	}
	r.TradingDay = TradingDay(r.ClosedAt)

	if err := l.db.InsertTradeRecord(ctx, r); err != nil {
		return db.TradeRecord{}, fmt.Errorf("ledger: append record for %s: %w", r.Instrument, err)
	}
	log.Printf("ledger: recorded %s %s %s qty=%v pnl=%.4f USD (%s)",
		r.Instrument, r.Direction, r.ExitReason, r.Qty, r.RealizedPnlUsd, r.ID)
	return r, nil
}

// CountForDay returns the number of records on a trading day.
func (l *Ledger) CountForDay(ctx context.Context, tradingDay string) (int, error) {
	return l.db.CountTradeRecords(ctx, tradingDay)
}

// Recent returns the newest records, most recent first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]db.TradeRecord, error) {
	return l.db.ListTradeRecords(ctx, limit)
}

// VerifyDay checks that the journal row count for a day matches the
// breaker's trade count. A mismatch means a record write was lost.
func (l *Ledger) VerifyDay(ctx context.Context, tradingDay string, expected int) error {
	n, err := l.CountForDay(ctx, tradingDay)
	if err != nil {
		return err
	}
	if n != expected {
		return fmt.Errorf("ledger: day %s has %d records, breaker counted %d", tradingDay, n, expected)
	}
	return nil
}
