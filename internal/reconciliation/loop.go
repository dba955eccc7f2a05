// Package reconciliation periodically re-derives trade state from the
// venue's authoritative positions and orders: it confirms entry fills,
// attaches missing protective orders, and detects externally closed
// positions. Every pass is idempotent.
package reconciliation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/iBuild-ts/Binance-trading-bot/internal/engine"
	"github.com/iBuild-ts/Binance-trading-bot/internal/events"
	"github.com/iBuild-ts/Binance-trading-bot/internal/monitor"
	"github.com/iBuild-ts/Binance-trading-bot/pkg/venue"
)

// MissingProtectionError reports a trade whose protective orders could not
// be placed within the pass budget. The position is force-closed.
type MissingProtectionError struct {
	Instrument string
	Passes     int
}

func (e *MissingProtectionError) Error() string {
	return fmt.Sprintf("protection for %s failed after %d passes; forcing market close", e.Instrument, e.Passes)
}

// Loop drives one reconciliation pass per interval.
type Loop struct {
	Interval            time.Duration
	MaxProtectionPasses int

	gw      venue.Gateway
	call    *venue.Caller
	eng     *engine.Engine
	metrics *monitor.Metrics
	bus     *events.Bus
}

// New builds the loop. bus may be nil.
func New(interval time.Duration, maxPasses int, gw venue.Gateway, call *venue.Caller,
	eng *engine.Engine, metrics *monitor.Metrics, bus *events.Bus) *Loop {
	return &Loop{
		Interval:            interval,
		MaxProtectionPasses: maxPasses,
		gw:                  gw,
		call:                call,
		eng:                 eng,
		metrics:             metrics,
		bus:                 bus,
	}
}

// Run executes passes until the context ends.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Pass(ctx)
		}
	}
}

// Pass reconciles every live trade once.
func (l *Loop) Pass(ctx context.Context) {
	l.metrics.IncrementReconcilePasses()
	for _, t := range l.eng.Book().Snapshot() {
		var err error
		switch t.State {
		case engine.StatePending:
			err = l.reconcilePending(ctx, t)
		case engine.StateOpenUnprotected:
			err = l.ensureProtection(ctx, t)
		case engine.StateProtected, engine.StatePartiallyClosed:
			err = l.reconcileOpen(ctx, t)
		}
		if err != nil {
			log.Printf("reconcile: %s in %s: %v", t.Instrument, t.State, err)
		}
	}
}

// reconcilePending confirms the entry fill from venue positions, covering
// dropped fill events. A vanished entry order with no position means the
// order was cancelled externally.
func (l *Loop) reconcilePending(ctx context.Context, t engine.Trade) error {
	pos, ok, err := l.findPosition(ctx, t)
	if err != nil {
		return err
	}
	if ok {
		opened, err := l.eng.Book().Transition(t.Instrument, engine.StateOpenUnprotected, func(tr *engine.Trade) {
			tr.EntryPrice = pos.EntryPrice
			tr.Qty = absQty(pos.Quantity)
			tr.InitialQty = tr.Qty
			if pos.InitialMargin > 0 {
				tr.Margin = pos.InitialMargin
			}
			tr.OpenedAt = time.Now().UTC()
		})
		if err != nil {
			return err
		}
		l.metrics.IncrementTradesOpened()
		log.Printf("reconcile: %s filled at %.4f qty=%v", t.Instrument, opened.EntryPrice, opened.Qty)
		if l.bus != nil {
			l.bus.Publish(events.EventTradeOpened, fmt.Sprintf("%s %s qty=%v entry=%.4f",
				opened.Instrument, opened.Direction, opened.Qty, opened.EntryPrice))
		}
		// Protect on the same pass rather than waiting a full interval.
		return l.ensureProtection(ctx, opened)
	}

	open, err := l.openOrders(ctx, t.Instrument)
	if err != nil {
		return err
	}
	for _, o := range open {
		if o.OrderID == t.EntryOrderID {
			return nil // still resting, nothing to do
		}
	}

	log.Printf("reconcile: %s entry order %s gone without fill, closing trade", t.Instrument, t.EntryOrderID)
	closed, err := l.eng.Book().Transition(t.Instrument, engine.StateClosedManual, func(tr *engine.Trade) {
		tr.ExitReason = engine.ExitReasonManual
	})
	if err != nil {
		return err
	}
	return l.eng.RecordClosure(ctx, closed, 0, 0, 0)
}

// ensureProtection places whichever protective orders are missing. Orders
// already resting on the venue are detected by type and left alone.
func (l *Loop) ensureProtection(ctx context.Context, t engine.Trade) error {
	open, err := l.openOrders(ctx, t.Instrument)
	if err != nil {
		return l.noteProtectionFailure(ctx, t, err)
	}

	var stopID, tpID string
	for _, o := range open {
		switch o.Type {
		case venue.OrderTypeStopMarket:
			stopID = o.OrderID
		case venue.OrderTypeTakeProfit:
			tpID = o.OrderID
		}
	}

	stopPrice, tpPrice := l.eng.ProtectionPrices(t.Direction, t.EntryPrice)
	closeSide := t.Direction.Side().Opposite()

	if stopID == "" {
		ack, err := l.placeOrder(ctx, "place stop loss", venue.OrderRequest{
			Instrument:    t.Instrument,
			Side:          closeSide,
			Type:          venue.OrderTypeStopMarket,
			StopPrice:     stopPrice,
			ClosePosition: true,
		})
		if err != nil {
			return l.noteProtectionFailure(ctx, t, err)
		}
		stopID = ack.OrderID
	}
	if tpID == "" {
		ack, err := l.placeOrder(ctx, "place take profit", venue.OrderRequest{
			Instrument:    t.Instrument,
			Side:          closeSide,
			Type:          venue.OrderTypeTakeProfit,
			StopPrice:     tpPrice,
			ClosePosition: true,
		})
		if err != nil {
			return l.noteProtectionFailure(ctx, t, err)
		}
		tpID = ack.OrderID
	}

	protected, err := l.eng.Book().Transition(t.Instrument, engine.StateProtected, func(tr *engine.Trade) {
		tr.StopOrderID = stopID
		tr.TakeProfitOrderID = tpID
	})
	if err != nil {
		return err
	}
	log.Printf("reconcile: %s protected, stop=%s (%.4f) tp=%s (%.4f)",
		t.Instrument, stopID, stopPrice, tpID, tpPrice)
	if l.bus != nil {
		l.bus.Publish(events.EventTradeProtected, fmt.Sprintf("%s stop=%.4f tp=%.4f",
			protected.Instrument, stopPrice, tpPrice))
	}
	return nil
}

// noteProtectionFailure counts a failed protection pass and force-closes
// the position once the budget is spent. An unprotected leveraged position
// must not outlive the pass budget.
func (l *Loop) noteProtectionFailure(ctx context.Context, t engine.Trade, cause error) error {
	updated, err := l.eng.Book().Update(t.Instrument, func(tr *engine.Trade) {
		tr.ProtectionPasses++
	})
	if err != nil {
		return err
	}
	if updated.ProtectionPasses < l.MaxProtectionPasses {
		log.Printf("reconcile: %s protection attempt %d/%d failed: %v",
			t.Instrument, updated.ProtectionPasses, l.MaxProtectionPasses, cause)
		return nil
	}

	mpe := &MissingProtectionError{Instrument: t.Instrument, Passes: updated.ProtectionPasses}
	log.Printf("reconcile: CRITICAL: %v (last error: %v)", mpe, cause)
	if l.bus != nil {
		l.bus.Publish(events.EventProtectionAlert, mpe.Error())
	}

	pos, ok, posErr := l.findPosition(ctx, t)
	realized := 0.0
	exitPrice := t.EntryPrice
	if posErr == nil && ok {
		realized = pos.UnrealizedPnl
		exitPrice = pos.MarkPrice
	}

	if err := l.placeMarketClose(ctx, t); err != nil {
		log.Printf("reconcile: CRITICAL: forced close of %s failed: %v", t.Instrument, err)
		return err
	}
	closed, err := l.eng.Book().Transition(t.Instrument, engine.StateAborted, func(tr *engine.Trade) {
		tr.ExitReason = engine.ExitReasonAbortedUnprotected
	})
	if err != nil {
		return err
	}
	return l.eng.RecordClosure(ctx, closed, exitPrice, t.Qty, realized)
}

// reconcileOpen detects closure of a protected trade. A flat venue
// position with the take-profit order gone means the take-profit filled;
// a missing stop means the stop filled; anything else was an external
// close.
func (l *Loop) reconcileOpen(ctx context.Context, t engine.Trade) error {
	_, stillOpen, err := l.findPosition(ctx, t)
	if err != nil {
		return err
	}
	if stillOpen {
		return nil
	}

	open, err := l.openOrders(ctx, t.Instrument)
	if err != nil {
		return err
	}
	remaining := make(map[string]bool, len(open))
	for _, o := range open {
		remaining[o.OrderID] = true
	}

	var (
		to     engine.State
		reason string
	)
	switch {
	case t.TakeProfitOrderID != "" && !remaining[t.TakeProfitOrderID] && remaining[t.StopOrderID]:
		to, reason = engine.StateClosedTP, engine.ExitReasonTPFull
	case t.StopOrderID != "" && !remaining[t.StopOrderID] && remaining[t.TakeProfitOrderID]:
		to, reason = engine.StateClosedSL, engine.ExitReasonStopLoss
	default:
		to, reason = engine.StateClosedManual, engine.ExitReasonManual
	}

	// Clear whichever protective orders are still resting.
	if len(open) > 0 {
		if err := l.call.Do(ctx, "cancel open orders", func(ctx context.Context) error {
			return l.gw.CancelAllOpenOrders(ctx, t.Instrument)
		}); err != nil {
			log.Printf("reconcile: cancel leftovers for %s: %v", t.Instrument, err)
		}
	}

	exitPrice, realized, err := l.realizedSince(ctx, t)
	if err != nil {
		log.Printf("reconcile: realized pnl lookup for %s: %v", t.Instrument, err)
	}

	closed, err := l.eng.Book().Transition(t.Instrument, to, func(tr *engine.Trade) {
		tr.ExitReason = reason
	})
	if err != nil {
		return err
	}
	log.Printf("reconcile: %s closed as %s pnl=%.4f", t.Instrument, to, realized)
	return l.eng.RecordClosure(ctx, closed, exitPrice, t.Qty, realized)
}

// realizedSince sums venue-reported fills for the unjournaled tail of the
// trade; fees are netted out. A journaled partial segment moves the window
// forward so its fill is not counted again. The last fill price stands in
// as the exit price.
func (l *Loop) realizedSince(ctx context.Context, t engine.Trade) (exitPrice, realized float64, err error) {
	since := t.OpenedAt
	if t.PartialExitAt.After(since) {
		since = t.PartialExitAt
	}
	var fills []venue.RealizedTrade
	err = l.call.Do(ctx, "get realized trades", func(ctx context.Context) error {
		var err error
		fills, err = l.gw.GetRealizedTrades(ctx, t.Instrument, since)
		return err
	})
	if err != nil {
		return t.EntryPrice, 0, err
	}
	exitPrice = t.EntryPrice
	for _, f := range fills {
		realized += f.RealizedPnl - f.Commission
		if f.RealizedPnl != 0 {
			exitPrice = f.Price
		}
	}
	return exitPrice, realized, nil
}

func (l *Loop) findPosition(ctx context.Context, t engine.Trade) (venue.Position, bool, error) {
	var positions []venue.Position
	err := l.call.Do(ctx, "get positions", func(ctx context.Context) error {
		var err error
		positions, err = l.gw.GetPositions(ctx, t.Instrument)
		return err
	})
	if err != nil {
		return venue.Position{}, false, err
	}
	for _, p := range positions {
		if p.Instrument != t.Instrument || p.Quantity == 0 {
			continue
		}
		if (t.Direction == engine.DirectionLong) == (p.Quantity > 0) {
			return p, true, nil
		}
	}
	return venue.Position{}, false, nil
}

func (l *Loop) openOrders(ctx context.Context, instrument string) ([]venue.OpenOrder, error) {
	var open []venue.OpenOrder
	err := l.call.Do(ctx, "get open orders", func(ctx context.Context) error {
		var err error
		open, err = l.gw.GetOpenOrders(ctx, instrument)
		return err
	})
	return open, err
}

func (l *Loop) placeOrder(ctx context.Context, op string, req venue.OrderRequest) (venue.OrderAck, error) {
	var ack venue.OrderAck
	err := l.call.Do(ctx, op, func(ctx context.Context) error {
		var err error
		ack, err = l.gw.PlaceOrder(ctx, req)
		return err
	})
	return ack, err
}

func (l *Loop) placeMarketClose(ctx context.Context, t engine.Trade) error {
	_, err := l.placeOrder(ctx, "forced market close", venue.OrderRequest{
		Instrument: t.Instrument,
		Side:       t.Direction.Side().Opposite(),
		Type:       venue.OrderTypeMarket,
		Qty:        t.Qty,
		ReduceOnly: true,
	})
	return err
}

func absQty(q float64) float64 {
	if q < 0 {
		return -q
	}
	return q
}
