package risk

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/iBuild-ts/Binance-trading-bot/pkg/db"
)

func newTestBreaker(t *testing.T, limits Limits, balance float64) (*Breaker, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	b := NewBreaker(limits, database, func(ctx context.Context) (float64, error) {
		return balance, nil
	}, nil)
	if err := b.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return b, database
}

func defaultLimits() Limits {
	return Limits{
		MaxTradesPerDay:      10,
		DailyProfitTargetPct: 8.0,
		DailyLossLimitPct:    -3.0,
		MaxConsecutiveLosses: 3,
		LossCooldown:         24 * time.Hour,
	}
}

func TestBreakerAllowsFreshDay(t *testing.T) {
	b, _ := newTestBreaker(t, defaultLimits(), 1000)
	if d := b.Check(context.Background()); !d.Allowed {
		t.Fatalf("fresh day should allow trading: %s", d.Reason)
	}
}

func TestBreakerTradeCapBlocksEleventhTrade(t *testing.T) {
	b, _ := newTestBreaker(t, defaultLimits(), 100000)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		// Alternate small wins and losses to stay inside pnl limits.
		pnl := 1.0
		if i%2 == 0 {
			pnl = -1.0
		}
		if err := b.LogCompletedTrade(ctx, pnl); err != nil {
			t.Fatalf("log trade %d: %v", i, err)
		}
	}

	d := b.Check(ctx)
	if d.Allowed {
		t.Fatal("11th trade should be blocked")
	}
	if !strings.Contains(d.Reason, "trade cap") {
		t.Errorf("reason = %q, want trade cap", d.Reason)
	}
}

func TestBreakerLossLimitTriggersCooldown(t *testing.T) {
	b, _ := newTestBreaker(t, defaultLimits(), 1000)
	ctx := context.Background()

	// -35 USD on a 1000 USD wallet is -3.5%, past the -3% limit.
	if err := b.LogCompletedTrade(ctx, -35); err != nil {
		t.Fatalf("log trade: %v", err)
	}

	d := b.Check(ctx)
	if d.Allowed {
		t.Fatal("loss limit should block trading")
	}
	snap := b.Snapshot()
	if snap.PausedIndefinitely {
		t.Error("loss limit should use a timed pause, not indefinite")
	}
	if snap.PausedUntil.IsZero() {
		t.Error("loss limit should set paused_until")
	}
	wantResume := b.now().Add(24 * time.Hour)
	if diff := snap.PausedUntil.Sub(wantResume); diff > time.Minute || diff < -time.Minute {
		t.Errorf("paused until %v, want about %v", snap.PausedUntil, wantResume)
	}
}

func TestBreakerProfitTargetPausesIndefinitely(t *testing.T) {
	b, _ := newTestBreaker(t, defaultLimits(), 1000)
	ctx := context.Background()

	if err := b.LogCompletedTrade(ctx, 85); err != nil {
		t.Fatalf("log trade: %v", err)
	}

	if d := b.Check(ctx); d.Allowed {
		t.Fatal("profit target should block trading")
	}
	if !b.Snapshot().PausedIndefinitely {
		t.Fatal("profit target should pause indefinitely")
	}

	// Only an operator reset resumes.
	if err := b.ResetPause(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if d := b.Check(ctx); !d.Allowed {
		t.Fatalf("after reset trading should resume: %s", d.Reason)
	}
}

func TestBreakerConsecutiveLosses(t *testing.T) {
	b, _ := newTestBreaker(t, defaultLimits(), 100000)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.LogCompletedTrade(ctx, -1); err != nil {
			t.Fatalf("log trade: %v", err)
		}
	}
	if d := b.Check(ctx); !d.Allowed {
		t.Fatalf("two losses should not pause: %s", d.Reason)
	}

	// A win resets the streak.
	if err := b.LogCompletedTrade(ctx, 2); err != nil {
		t.Fatalf("log win: %v", err)
	}
	if b.Snapshot().ConsecutiveLosses != 0 {
		t.Fatal("win should reset the loss streak")
	}

	for i := 0; i < 3; i++ {
		if err := b.LogCompletedTrade(ctx, -1); err != nil {
			t.Fatalf("log trade: %v", err)
		}
	}
	if d := b.Check(ctx); d.Allowed {
		t.Fatal("three consecutive losses should pause trading")
	}
}

func TestBreakerPauseSurvivesRestart(t *testing.T) {
	limits := defaultLimits()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	balance := func(ctx context.Context) (float64, error) { return 1000, nil }

	ctx := context.Background()
	first := NewBreaker(limits, database, balance, nil)
	if err := first.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := first.LogCompletedTrade(ctx, -40); err != nil {
		t.Fatalf("log trade: %v", err)
	}
	if d := first.Check(ctx); d.Allowed {
		t.Fatal("expected pause before restart")
	}

	// A new breaker over the same database stands in for a restart.
	second := NewBreaker(limits, database, balance, nil)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	d := second.Check(ctx)
	if d.Allowed {
		t.Fatal("pause must survive restart")
	}
	snap := second.Snapshot()
	if snap.TradesCount != 1 || snap.RealizedPnlUsd != -40 {
		t.Errorf("restored state = %+v", snap)
	}
}

func TestBreakerRolloverKeepsPause(t *testing.T) {
	b, _ := newTestBreaker(t, defaultLimits(), 1000)
	ctx := context.Background()

	// Pin the clock just before midnight so the rollover is deterministic.
	base := time.Date(2026, 8, 30, 22, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return base }

	if err := b.LogCompletedTrade(ctx, -40); err != nil {
		t.Fatalf("log trade: %v", err)
	}
	if d := b.Check(ctx); d.Allowed {
		t.Fatal("expected pause")
	}

	// Past midnight but inside the cooldown window.
	b.now = func() time.Time { return base.Add(6 * time.Hour) }

	snap := b.Snapshot()
	if snap.TradingDay != "2026-08-31" {
		t.Fatalf("trading day = %s, want 2026-08-31", snap.TradingDay)
	}
	if snap.TradesCount != 0 {
		t.Errorf("trade count should reset at rollover, got %d", snap.TradesCount)
	}
	if d := b.Check(ctx); d.Allowed {
		t.Fatal("timed pause must survive the day rollover")
	}

	// Past the cooldown the pause clears on its own.
	b.now = func() time.Time { return base.Add(25 * time.Hour) }
	if d := b.Check(ctx); !d.Allowed {
		t.Fatalf("cooldown expiry should resume trading: %s", d.Reason)
	}
}
