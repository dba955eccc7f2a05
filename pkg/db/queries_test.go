package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func TestTradeRecordInsertAndCount(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	closedAt := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	records := []TradeRecord{
		{ID: "r1", TradingDay: "2026-03-14", Instrument: "BTCUSDT", Direction: "LONG",
			EntryPrice: 100, ExitPrice: 110, Qty: 0.5, RealizedPnlUsd: 5,
			RealizedPnlPct: 10, ExitReason: "TP_FULL", DurationSeconds: 300, ClosedAt: closedAt},
		{ID: "r2", TradingDay: "2026-03-14", Instrument: "ETHUSDT", Direction: "SHORT",
			EntryPrice: 2000, ExitPrice: 2040, Qty: 1, RealizedPnlUsd: -40,
			RealizedPnlPct: -2, ExitReason: "SL_HIT", DurationSeconds: 120, ClosedAt: closedAt.Add(time.Minute)},
		{ID: "r3", TradingDay: "2026-03-15", Instrument: "BTCUSDT", Direction: "LONG",
			EntryPrice: 101, ExitPrice: 105, Qty: 0.2, RealizedPnlUsd: 0.8,
			RealizedPnlPct: 4, ExitReason: "TP_PARTIAL", DurationSeconds: 60, ClosedAt: closedAt.Add(24 * time.Hour)},
	}
	for _, r := range records {
		if err := d.InsertTradeRecord(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}

	n, err := d.CountTradeRecords(ctx, "2026-03-14")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count for 2026-03-14 = %d, expected 2", n)
	}

	listed, err := d.ListTradeRecords(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("listed %d records, expected 3", len(listed))
	}
	if listed[0].ID != "r3" {
		t.Fatalf("newest first: got %s, expected r3", listed[0].ID)
	}
}

func TestDailyRiskStateRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	pausedUntil := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	state := DailyRiskState{
		TradingDay:        "2026-03-14",
		TradesCount:       4,
		RealizedPnlUsd:    -310,
		RealizedPnlPct:    -3.1,
		ConsecutiveLosses: 2,
		PausedUntil:       pausedUntil,
		PauseReason:       "daily loss limit hit: -3.10%",
	}
	if err := d.UpsertDailyRiskState(ctx, state); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := d.LatestDailyRiskState(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("expected a persisted state")
	}
	if got.TradingDay != state.TradingDay || got.TradesCount != 4 ||
		got.ConsecutiveLosses != 2 || got.PauseReason != state.PauseReason {
		t.Fatalf("loaded state mismatch: %+v", got)
	}
	if !got.PausedUntil.Equal(pausedUntil) {
		t.Fatalf("PausedUntil=%v, expected %v", got.PausedUntil, pausedUntil)
	}

	// Same-day upsert overwrites rather than duplicating.
	state.TradesCount = 5
	if err := d.UpsertDailyRiskState(ctx, state); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err = d.LatestDailyRiskState(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.TradesCount != 5 {
		t.Fatalf("TradesCount=%d after overwrite, expected 5", got.TradesCount)
	}
}

func TestLatestDailyRiskStateEmpty(t *testing.T) {
	d := newTestDB(t)
	got, err := d.LatestDailyRiskState(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil state on empty table, got %+v", got)
	}
}
