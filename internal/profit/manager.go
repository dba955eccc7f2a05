// Package profit evaluates live ROI against the exit thresholds. It only
// ever takes profit; losses are bounded by the venue-side stop order and
// the daily risk breaker.
package profit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/iBuild-ts/Binance-trading-bot/internal/engine"
	"github.com/iBuild-ts/Binance-trading-bot/internal/monitor"
	"github.com/iBuild-ts/Binance-trading-bot/pkg/venue"
)

// Policy holds the exit thresholds. Thresholds carry the fee and slippage
// buffer already, e.g. a 10% net target trips at 10.3%.
type Policy struct {
	Interval             time.Duration
	PartialExitThreshold float64 // ROI percent
	FullExitThreshold    float64 // ROI percent
	PartialFraction      float64 // fraction of quantity closed at partial
	BreakevenBufferPct   float64 // stop offset from entry after partial
	CloseLimitOffsetPct  float64 // protective band for limit closes
}

// Manager runs the profit policy over all protected trades.
type Manager struct {
	policy  Policy
	gw      venue.Gateway
	call    *venue.Caller
	eng     *engine.Engine
	metrics *monitor.Metrics
}

// New builds a profit manager.
func New(policy Policy, gw venue.Gateway, call *venue.Caller, eng *engine.Engine, metrics *monitor.Metrics) *Manager {
	return &Manager{
		policy:  policy,
		gw:      gw,
		call:    call,
		eng:     eng,
		metrics: metrics,
	}
}

// Run evaluates on a fixed cadence until the context ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Pass(ctx)
		}
	}
}

// Pass evaluates every protected trade once.
func (m *Manager) Pass(ctx context.Context) {
	for _, t := range m.eng.Book().InState(engine.StateProtected, engine.StatePartiallyClosed) {
		if err := m.evaluate(ctx, t); err != nil {
			log.Printf("profit: %s: %v", t.Instrument, err)
		}
	}
}

func (m *Manager) evaluate(ctx context.Context, t engine.Trade) error {
	pos, ok, err := m.position(ctx, t)
	if err != nil {
		return err
	}
	if !ok {
		// Flat on the venue; the reconciler attributes the closure.
		return nil
	}

	roi := t.ROI(pos.UnrealizedPnl)
	switch {
	case roi >= m.policy.FullExitThreshold:
		log.Printf("profit: %s ROI %.2f%% >= %.2f%%, full exit", t.Instrument, roi, m.policy.FullExitThreshold)
		return m.fullExit(ctx, t, pos)
	case roi >= m.policy.PartialExitThreshold && t.State == engine.StateProtected:
		log.Printf("profit: %s ROI %.2f%% >= %.2f%%, partial exit", t.Instrument, roi, m.policy.PartialExitThreshold)
		return m.partialExit(ctx, t, pos)
	}
	return nil
}

func (m *Manager) fullExit(ctx context.Context, t engine.Trade, pos venue.Position) error {
	// Protective orders first, so the close cannot race a stop fill.
	if err := m.call.Do(ctx, "cancel protective orders", func(ctx context.Context) error {
		return m.gw.CancelAllOpenOrders(ctx, t.Instrument)
	}); err != nil {
		return err
	}

	exitPrice, err := m.closePosition(ctx, t, t.Qty, pos.MarkPrice)
	if err != nil {
		return err
	}

	closed, err := m.eng.Book().Transition(t.Instrument, engine.StateClosedTP, func(tr *engine.Trade) {
		tr.ExitReason = engine.ExitReasonTPFull
	})
	if err != nil {
		return err
	}
	return m.eng.RecordClosure(ctx, closed, exitPrice, t.Qty, pos.UnrealizedPnl)
}

func (m *Manager) partialExit(ctx context.Context, t engine.Trade, pos venue.Position) error {
	closeQty := m.eng.RoundQty(t.Qty * m.policy.PartialFraction)
	residual := m.eng.RoundQty(t.Qty - closeQty)
	if closeQty <= 0 || residual <= 0 {
		log.Printf("profit: %s quantity %v too small to split, taking full exit instead", t.Instrument, t.Qty)
		return m.fullExit(ctx, t, pos)
	}

	exitPrice, err := m.closePosition(ctx, t, closeQty, pos.MarkPrice)
	if err != nil {
		return err
	}
	realized := pos.UnrealizedPnl * (closeQty / t.Qty)

	// Replace the stop with a breakeven stop on the residual.
	if t.StopOrderID != "" {
		if err := m.call.Do(ctx, "cancel stop", func(ctx context.Context) error {
			return m.gw.CancelOrder(ctx, t.Instrument, t.StopOrderID)
		}); err != nil {
			log.Printf("profit: cancel stop %s: %v", t.StopOrderID, err)
		}
	}
	stopPrice := m.breakevenPrice(t)
	var stopAck venue.OrderAck
	err = m.call.Do(ctx, "place breakeven stop", func(ctx context.Context) error {
		var err error
		stopAck, err = m.gw.PlaceOrder(ctx, venue.OrderRequest{
			Instrument:    t.Instrument,
			Side:          t.Direction.Side().Opposite(),
			Type:          venue.OrderTypeStopMarket,
			StopPrice:     stopPrice,
			ClosePosition: true,
		})
		return err
	})
	if err != nil {
		// The residual keeps the old protection state; the reconciler
		// re-places a stop on its next pass.
		log.Printf("profit: breakeven stop for %s failed: %v", t.Instrument, err)
	}

	partial, err := m.eng.Book().Transition(t.Instrument, engine.StatePartiallyClosed, func(tr *engine.Trade) {
		tr.Qty = residual
		tr.BreakevenStop = true
		tr.PartialExitAt = time.Now().UTC()
		if stopAck.OrderID != "" {
			tr.StopOrderID = stopAck.OrderID
		}
	})
	if err != nil {
		return err
	}
	log.Printf("profit: %s partial close qty=%v residual=%v breakeven stop=%.4f",
		t.Instrument, closeQty, partial.Qty, stopPrice)
	return m.eng.RecordPartial(ctx, partial, exitPrice, closeQty, realized)
}

// closePosition submits a reduce-only limit inside a protective band off
// the mark price, falling back to a market order when the limit does not
// fill immediately.
func (m *Manager) closePosition(ctx context.Context, t engine.Trade, qty, markPrice float64) (float64, error) {
	side := t.Direction.Side().Opposite()
	band := markPrice * m.policy.CloseLimitOffsetPct / 100
	limitPrice := markPrice - band
	if side == venue.SideBuy {
		limitPrice = markPrice + band
	}
	limitPrice = m.eng.RoundPrice(limitPrice)

	var ack venue.OrderAck
	err := m.call.Do(ctx, "limit close", func(ctx context.Context) error {
		var err error
		ack, err = m.gw.PlaceOrder(ctx, venue.OrderRequest{
			Instrument:  t.Instrument,
			Side:        side,
			Type:        venue.OrderTypeLimit,
			Qty:         qty,
			Price:       limitPrice,
			TimeInForce: "IOC",
			ReduceOnly:  true,
		})
		return err
	})
	if err == nil && ack.Status == venue.OrderStatusFilled {
		if ack.AvgFillPrice > 0 {
			return ack.AvgFillPrice, nil
		}
		return limitPrice, nil
	}
	if err != nil {
		log.Printf("profit: limit close for %s failed, falling back to market: %v", t.Instrument, err)
	} else {
		log.Printf("profit: limit close for %s not filled (%s), falling back to market", t.Instrument, ack.Status)
	}

	err = m.call.Do(ctx, "market close", func(ctx context.Context) error {
		var err error
		ack, err = m.gw.PlaceOrder(ctx, venue.OrderRequest{
			Instrument: t.Instrument,
			Side:       side,
			Type:       venue.OrderTypeMarket,
			Qty:        qty,
			ReduceOnly: true,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("market close: %w", err)
	}
	if ack.AvgFillPrice > 0 {
		return ack.AvgFillPrice, nil
	}
	return markPrice, nil
}

func (m *Manager) breakevenPrice(t engine.Trade) float64 {
	buffer := t.EntryPrice * m.policy.BreakevenBufferPct / 100
	if t.Direction == engine.DirectionLong {
		return m.eng.RoundPrice(t.EntryPrice + buffer)
	}
	return m.eng.RoundPrice(t.EntryPrice - buffer)
}

func (m *Manager) position(ctx context.Context, t engine.Trade) (venue.Position, bool, error) {
	var positions []venue.Position
	err := m.call.Do(ctx, "get positions", func(ctx context.Context) error {
		var err error
		positions, err = m.gw.GetPositions(ctx, t.Instrument)
		return err
	})
	if err != nil {
		return venue.Position{}, false, err
	}
	for _, p := range positions {
		if p.Instrument == t.Instrument && p.Quantity != 0 {
			return p, true, nil
		}
	}
	return venue.Position{}, false, nil
}
