// Package risk implements the daily circuit breaker. It gates every new
// trade on the day's realized results and pauses trading when a limit
// trips. State is persisted after each mutation so a pause survives a
// process restart.
package risk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iBuild-ts/Binance-trading-bot/internal/events"
	"github.com/iBuild-ts/Binance-trading-bot/internal/ledger"
	"github.com/iBuild-ts/Binance-trading-bot/pkg/db"
)

// Limits configures the breaker thresholds.
type Limits struct {
	MaxTradesPerDay      int
	DailyProfitTargetPct float64 // profit target, e.g. 8.0
	DailyLossLimitPct    float64 // loss limit, negative, e.g. -3.0
	MaxConsecutiveLosses int
	LossCooldown         time.Duration
}

// BalanceFunc returns the current wallet balance used as the denominator
// for the day's PnL percentage.
type BalanceFunc func(ctx context.Context) (float64, error)

// Decision reports whether a new trade may open.
type Decision struct {
	Allowed bool
	Reason  string
}

// Breaker tracks per-day realized results and enforces the daily limits.
type Breaker struct {
	limits  Limits
	db      *db.Database
	balance BalanceFunc
	bus     *events.Bus

	mu    sync.Mutex
	state db.DailyRiskState

	now func() time.Time
}

// NewBreaker builds a breaker. bus may be nil.
func NewBreaker(limits Limits, database *db.Database, balance BalanceFunc, bus *events.Bus) *Breaker {
	return &Breaker{
		limits:  limits,
		db:      database,
		balance: balance,
		bus:     bus,
		now:     time.Now,
	}
}

// Load restores the newest persisted state. A row from an earlier trading
// day resets the counters but keeps any active pause: a trip near midnight
// must not silently clear at rollover.
func (b *Breaker) Load(ctx context.Context) error {
	stored, err := b.db.LatestDailyRiskState(ctx)
	if err != nil {
		return fmt.Errorf("risk: load state: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	today := ledger.TradingDay(b.now())
	if stored == nil {
		b.state = db.DailyRiskState{TradingDay: today}
		return b.persistLocked(ctx)
	}
	if stored.TradingDay == today {
		b.state = *stored
		log.Printf("risk: resumed day %s trades=%d pnl=%.2f USD losses_in_row=%d",
			b.state.TradingDay, b.state.TradesCount, b.state.RealizedPnlUsd, b.state.ConsecutiveLosses)
		return nil
	}

	b.state = db.DailyRiskState{
		TradingDay:         today,
		PausedUntil:        stored.PausedUntil,
		PauseReason:        stored.PauseReason,
		PausedIndefinitely: stored.PausedIndefinitely,
	}
	log.Printf("risk: new trading day %s (previous %s)", today, stored.TradingDay)
	return b.persistLocked(ctx)
}

// Check reports whether a new trade may be opened right now.
func (b *Breaker) Check(ctx context.Context) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rolloverLocked(ctx, now)

	if b.state.PausedIndefinitely {
		return Decision{Reason: "paused until manual reset: " + b.state.PauseReason}
	}
	if !b.state.PausedUntil.IsZero() {
		if now.Before(b.state.PausedUntil) {
			return Decision{Reason: fmt.Sprintf("paused until %s: %s",
				b.state.PausedUntil.Format(time.RFC3339), b.state.PauseReason)}
		}
		b.state.PausedUntil = time.Time{}
		b.state.PauseReason = ""
		if err := b.persistLocked(ctx); err != nil {
			log.Printf("risk: persist after cooldown expiry: %v", err)
		}
		if b.bus != nil {
			b.bus.Publish(events.EventRiskResumed, "cooldown expired")
		}
	}
	if b.state.TradesCount >= b.limits.MaxTradesPerDay {
		return Decision{Reason: fmt.Sprintf("daily trade cap reached (%d)", b.limits.MaxTradesPerDay)}
	}
	return Decision{Allowed: true}
}

// LogCompletedTrade records one closed trade or partial-exit segment and
// evaluates the limits. Every call increments the day's trade count so the
// count always matches the ledger rows written for the day.
func (b *Breaker) LogCompletedTrade(ctx context.Context, realizedPnlUsd float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rolloverLocked(ctx, now)

	b.state.TradesCount++
	b.state.RealizedPnlUsd += realizedPnlUsd
	switch {
	case realizedPnlUsd < 0:
		b.state.ConsecutiveLosses++
	case realizedPnlUsd > 0:
		b.state.ConsecutiveLosses = 0
	}

	if bal, err := b.balance(ctx); err != nil {
		log.Printf("risk: balance fetch failed, keeping previous pnl%%: %v", err)
	} else if bal > 0 {
		b.state.RealizedPnlPct = b.state.RealizedPnlUsd / bal * 100
	}

	switch {
	case b.state.RealizedPnlPct >= b.limits.DailyProfitTargetPct:
		b.pauseLocked(now, true, 0, fmt.Sprintf("daily profit target hit (%.2f%%)", b.state.RealizedPnlPct))
	case b.state.RealizedPnlPct <= b.limits.DailyLossLimitPct:
		b.pauseLocked(now, false, b.limits.LossCooldown, fmt.Sprintf("daily loss limit hit (%.2f%%)", b.state.RealizedPnlPct))
	case b.state.ConsecutiveLosses >= b.limits.MaxConsecutiveLosses:
		b.pauseLocked(now, false, b.limits.LossCooldown, fmt.Sprintf("%d consecutive losses", b.state.ConsecutiveLosses))
	}

	return b.persistLocked(ctx)
}

// ResetPause clears any active pause. Operator action only.
func (b *Breaker) ResetPause(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.PausedIndefinitely && b.state.PausedUntil.IsZero() {
		return nil
	}
	log.Printf("risk: pause cleared by operator (was: %s)", b.state.PauseReason)
	b.state.PausedIndefinitely = false
	b.state.PausedUntil = time.Time{}
	b.state.PauseReason = ""
	if b.bus != nil {
		b.bus.Publish(events.EventRiskResumed, "manual reset")
	}
	return b.persistLocked(ctx)
}

// Snapshot returns a copy of the current state.
func (b *Breaker) Snapshot() db.DailyRiskState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked(context.Background(), b.now())
	return b.state
}

// TradesToday returns the current day's trade count.
func (b *Breaker) TradesToday() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.TradesCount
}

func (b *Breaker) pauseLocked(now time.Time, indefinite bool, cooldown time.Duration, reason string) {
	b.state.PausedIndefinitely = indefinite
	b.state.PauseReason = reason
	if !indefinite {
		b.state.PausedUntil = now.Add(cooldown).UTC()
	}
	log.Printf("risk: trading paused: %s", reason)
	if b.bus != nil {
		b.bus.Publish(events.EventRiskPaused, reason)
	}
}

// rolloverLocked resets counters at the UTC day boundary. Pause fields
// survive the rollover.
func (b *Breaker) rolloverLocked(ctx context.Context, now time.Time) {
	today := ledger.TradingDay(now)
	if b.state.TradingDay == today {
		return
	}
	prev := b.state.TradingDay
	b.state = db.DailyRiskState{
		TradingDay:         today,
		PausedUntil:        b.state.PausedUntil,
		PauseReason:        b.state.PauseReason,
		PausedIndefinitely: b.state.PausedIndefinitely,
	}
	log.Printf("risk: rolled over %s -> %s", prev, today)
	if err := b.persistLocked(ctx); err != nil {
		log.Printf("risk: persist after rollover: %v", err)
	}
}

func (b *Breaker) persistLocked(ctx context.Context) error {
	if err := b.db.UpsertDailyRiskState(ctx, b.state); err != nil {
		return fmt.Errorf("risk: persist state: %w", err)
	}
	return nil
}
