package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/iBuild-ts/Binance-trading-bot/pkg/db"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(database)
}

func TestTradingDayIsUTC(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("EST", -5*3600)
	local := time.Date(2026, 8, 29, 23, 30, 0, 0, loc)
	if got := TradingDay(local); got != "2026-08-30" {
		t.Fatalf("expected 2026-08-30, got %s", got)
	}
}

func TestAppendDefaultsAndDayDerivation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	closed := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	rec, err := l.Append(ctx, db.TradeRecord{
		Instrument:     "BTCUSDT",
		Direction:      "LONG",
		EntryPrice:     100,
		ExitPrice:      103,
		Qty:            20,
		RealizedPnlUsd: 60,
		ExitReason:     "TP_FULL",
		ClosedAt:       closed,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected a generated id")
	}
	if rec.TradingDay != "2026-08-30" {
		t.Fatalf("trading day not derived from ClosedAt: %s", rec.TradingDay)
	}

	recent, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != rec.ID {
		t.Fatalf("unexpected recent rows: %+v", recent)
	}
}

func TestVerifyDayDetectsLostRecord(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, db.TradeRecord{
			Instrument: "ETHUSDT",
			Direction:  "SHORT",
			ExitReason: "STOP_LOSS",
			ClosedAt:   day.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if err := l.VerifyDay(ctx, "2026-08-30", 3); err != nil {
		t.Fatalf("expected day to verify: %v", err)
	}
	if err := l.VerifyDay(ctx, "2026-08-30", 4); err == nil {
		t.Fatal("expected mismatch error")
	}
}
