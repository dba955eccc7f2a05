package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/iBuild-ts/Binance-trading-bot/internal/events"
	"github.com/iBuild-ts/Binance-trading-bot/internal/ledger"
	"github.com/iBuild-ts/Binance-trading-bot/internal/monitor"
	"github.com/iBuild-ts/Binance-trading-bot/internal/risk"
	"github.com/iBuild-ts/Binance-trading-bot/pkg/db"
	"github.com/iBuild-ts/Binance-trading-bot/pkg/venue"
)

// PriceSource serves cached mark prices; a miss falls back to the REST
// price endpoint.
type PriceSource interface {
	Price(instrument string, maxAge time.Duration) (float64, bool)
}

// Options are the engine's sizing and entry tunables.
type Options struct {
	Leverage          int
	MarginPerTradeUSD float64
	QtyPrecision      int
	PricePrecision    int

	StopLossPct   float64 // distance from entry, percent
	TakeProfitPct float64

	MinSignalStrength float64 // conviction gate, pass/fail only

	DriftThresholdPct float64
	DriftInterval     time.Duration
}

// Engine accepts signals and opens pending trades. The reconciliation and
// profit workers drive the rest of the lifecycle through the same Book.
type Engine struct {
	opts    Options
	gw      venue.Gateway
	call    *venue.Caller
	book    *Book
	breaker *risk.Breaker
	journal *ledger.Ledger
	prices  PriceSource
	metrics *monitor.Metrics
	bus     *events.Bus
}

// New wires an engine. prices and bus may be nil.
func New(opts Options, gw venue.Gateway, call *venue.Caller, book *Book,
	breaker *risk.Breaker, journal *ledger.Ledger, prices PriceSource,
	metrics *monitor.Metrics, bus *events.Bus) *Engine {
	return &Engine{
		opts:    opts,
		gw:      gw,
		call:    call,
		book:    book,
		breaker: breaker,
		journal: journal,
		prices:  prices,
		metrics: metrics,
		bus:     bus,
	}
}

// Book exposes the live trade table for the other workers.
func (e *Engine) Book() *Book {
	return e.book
}

// HandleSignal runs the acceptance gates in order and, when all pass,
// submits a limit entry and creates the PENDING trade. A rejected signal
// is dropped, never requeued.
func (e *Engine) HandleSignal(ctx context.Context, sig Signal) error {
	e.metrics.IncrementSignalsReceived()

	if sig.Strength < e.opts.MinSignalStrength {
		return e.rejectSignal(sig, fmt.Sprintf("conviction %.2f below %.2f", sig.Strength, e.opts.MinSignalStrength))
	}
	if d := e.breaker.Check(ctx); !d.Allowed {
		return e.rejectSignal(sig, "risk breaker: "+d.Reason)
	}
	if e.book.MarkSignalSeen(sig.DedupKey()) {
		return e.rejectSignal(sig, "duplicate signal")
	}
	if live, ok := e.book.Get(sig.Instrument); ok {
		return e.rejectSignal(sig, fmt.Sprintf("live trade exists in %s", live.State))
	}
	if sig.Price <= 0 {
		e.rejectSignal(sig, "signal has no reference price")
		return &venue.StaleDataError{Instrument: sig.Instrument, Reason: "signal has no reference price"}
	}

	var bal venue.Balance
	err := e.call.Do(ctx, "get balance", func(ctx context.Context) error {
		var err error
		bal, err = e.gw.GetAccountBalance(ctx)
		return err
	})
	if err != nil {
		return e.rejectSignal(sig, fmt.Sprintf("balance unavailable: %v", err))
	}
	// 10% headroom over the committed margin.
	if bal.Available < e.opts.MarginPerTradeUSD*1.1 {
		return e.rejectSignal(sig, fmt.Sprintf("insufficient margin: %.2f available", bal.Available))
	}

	qty := Round(e.opts.MarginPerTradeUSD*float64(e.opts.Leverage)/sig.Price, e.opts.QtyPrecision)
	if qty <= 0 {
		return e.rejectSignal(sig, "computed quantity rounds to zero")
	}

	err = e.call.Do(ctx, "set leverage", func(ctx context.Context) error {
		return e.gw.SetLeverage(ctx, sig.Instrument, e.opts.Leverage)
	})
	if err != nil {
		return e.rejectSignal(sig, fmt.Sprintf("set leverage: %v", err))
	}

	trade := &Trade{
		ID:          uuid.NewString(),
		Instrument:  sig.Instrument,
		Direction:   sig.Direction,
		SignalPrice: sig.Price,
		Qty:         qty,
		InitialQty:  qty,
		Leverage:    e.opts.Leverage,
		Margin:      e.opts.MarginPerTradeUSD,
	}

	var ack venue.OrderAck
	err = e.call.Do(ctx, "place entry order", func(ctx context.Context) error {
		var err error
		ack, err = e.gw.PlaceOrder(ctx, venue.OrderRequest{
			Instrument: sig.Instrument,
			Side:       sig.Direction.Side(),
			Type:       venue.OrderTypeLimit,
			Qty:        qty,
			Price:      Round(sig.Price, e.opts.PricePrecision),
			ClientID:   "entry-" + trade.ID,
		})
		return err
	})
	if err != nil {
		return e.rejectSignal(sig, fmt.Sprintf("entry order: %v", err))
	}
	trade.EntryOrderID = ack.OrderID

	if err := e.book.Create(trade); err != nil {
		// Lost the race to another signal; withdraw the entry order.
		if cancelErr := e.cancelOrder(ctx, sig.Instrument, ack.OrderID); cancelErr != nil {
			log.Printf("engine: cancel orphan entry %s: %v", ack.OrderID, cancelErr)
		}
		return e.rejectSignal(sig, err.Error())
	}

	log.Printf("engine: %s %s pending, qty=%v entry limit=%.*f order=%s",
		sig.Instrument, sig.Direction, qty, e.opts.PricePrecision, sig.Price, ack.OrderID)
	return nil
}

func (e *Engine) rejectSignal(sig Signal, reason string) error {
	e.metrics.IncrementSignalsRejected()
	log.Printf("engine: signal %s %s rejected: %s", sig.Instrument, sig.Direction, reason)
	if e.bus != nil {
		e.bus.Publish(events.EventSignalRejected, fmt.Sprintf("%s %s: %s", sig.Instrument, sig.Direction, reason))
	}
	return fmt.Errorf("signal rejected: %s", reason)
}

// RunDriftWatch aborts PENDING trades whose price has run away from the
// signal price before the entry filled.
func (e *Engine) RunDriftWatch(ctx context.Context) {
	ticker := time.NewTicker(e.opts.DriftInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range e.book.InState(StatePending) {
				if err := e.checkDrift(ctx, t); err != nil {
					log.Printf("engine: drift check %s: %v", t.Instrument, err)
				}
			}
		}
	}
}

func (e *Engine) checkDrift(ctx context.Context, t Trade) error {
	price, err := e.CurrentPrice(ctx, t.Instrument)
	if err != nil {
		return err
	}
	driftPct := math.Abs(price-t.SignalPrice) / t.SignalPrice * 100
	if driftPct <= e.opts.DriftThresholdPct {
		return nil
	}

	log.Printf("engine: %s drifted %.3f%% from signal price, aborting entry", t.Instrument, driftPct)
	if err := e.cancelOrder(ctx, t.Instrument, t.EntryOrderID); err != nil {
		log.Printf("engine: cancel entry %s: %v", t.EntryOrderID, err)
	}
	closed, err := e.book.Transition(t.Instrument, StateAborted, func(tr *Trade) {
		tr.ExitReason = ExitReasonAbortedPriceDrift
	})
	if err != nil {
		// The entry filled between the check and the abort; reconciliation
		// picks the trade up on its next pass.
		return err
	}
	return e.RecordClosure(ctx, closed, price, 0, 0)
}

// RecordClosure writes the journal row for a finished trade or partial
// segment and reports the realized result to the risk breaker. qty is the
// quantity closed by this record; zero for aborts that never filled.
func (e *Engine) RecordClosure(ctx context.Context, t Trade, exitPrice, qty, realizedPnl float64) error {
	closedAt := t.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	var duration int64
	if !t.OpenedAt.IsZero() {
		duration = int64(closedAt.Sub(t.OpenedAt).Seconds())
	}
	pnlPct := t.ROI(realizedPnl)

	rec := db.TradeRecord{
		ID:              uuid.NewString(),
		Instrument:      t.Instrument,
		Direction:       string(t.Direction),
		EntryPrice:      t.EntryPrice,
		ExitPrice:       exitPrice,
		Qty:             qty,
		RealizedPnlUsd:  realizedPnl,
		RealizedPnlPct:  pnlPct,
		ExitReason:      t.ExitReason,
		DurationSeconds: duration,
		ClosedAt:        closedAt,
	}

	if _, err := e.journal.Append(ctx, rec); err != nil {
		return err
	}
	if err := e.breaker.LogCompletedTrade(ctx, realizedPnl); err != nil {
		return err
	}
	e.metrics.IncrementTradesClosed()
	if e.bus != nil {
		topic := events.EventTradeClosed
		if t.State == StateAborted {
			topic = events.EventTradeAborted
		}
		e.bus.Publish(topic, fmt.Sprintf("%s %s %s pnl=%.4f",
			t.Instrument, t.Direction, rec.ExitReason, realizedPnl))
	}
	return nil
}

// RecordPartial journals a partial-exit segment for a still-live trade.
func (e *Engine) RecordPartial(ctx context.Context, t Trade, exitPrice, qty, realizedPnl float64) error {
	rec := db.TradeRecord{
		ID:             uuid.NewString(),
		Instrument:     t.Instrument,
		Direction:      string(t.Direction),
		EntryPrice:     t.EntryPrice,
		ExitPrice:      exitPrice,
		Qty:            qty,
		RealizedPnlUsd: realizedPnl,
		RealizedPnlPct: t.ROI(realizedPnl),
		ExitReason:     ExitReasonTPPartial,
		ClosedAt:       time.Now().UTC(),
	}
	if !t.OpenedAt.IsZero() {
		rec.DurationSeconds = int64(time.Since(t.OpenedAt).Seconds())
	}
	if _, err := e.journal.Append(ctx, rec); err != nil {
		return err
	}
	if err := e.breaker.LogCompletedTrade(ctx, realizedPnl); err != nil {
		return err
	}
	e.metrics.IncrementPartialExits()
	if e.bus != nil {
		e.bus.Publish(events.EventTradePartial, fmt.Sprintf("%s %s closed %v at %.4f",
			t.Instrument, t.Direction, qty, exitPrice))
	}
	return nil
}

// CurrentPrice serves the streamed mark price when fresh, falling back to
// the REST endpoint through the retry caller.
func (e *Engine) CurrentPrice(ctx context.Context, instrument string) (float64, error) {
	if e.prices != nil {
		if p, ok := e.prices.Price(instrument, 30*time.Second); ok {
			return p, nil
		}
	}
	var price float64
	err := e.call.Do(ctx, "get price", func(ctx context.Context) error {
		var err error
		price, err = e.gw.GetPrice(ctx, instrument)
		return err
	})
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, &venue.StaleDataError{Instrument: instrument, Reason: "venue returned no mark price"}
	}
	return price, nil
}

// ProtectionPrices computes the stop-loss and take-profit trigger prices
// for an entry.
func (e *Engine) ProtectionPrices(d Direction, entryPrice float64) (stop, takeProfit float64) {
	slOffset := entryPrice * e.opts.StopLossPct / 100
	tpOffset := entryPrice * e.opts.TakeProfitPct / 100
	if d == DirectionLong {
		stop = entryPrice - slOffset
		takeProfit = entryPrice + tpOffset
	} else {
		stop = entryPrice + slOffset
		takeProfit = entryPrice - tpOffset
	}
	return Round(stop, e.opts.PricePrecision), Round(takeProfit, e.opts.PricePrecision)
}

// RoundQty rounds to the instrument quantity step.
func (e *Engine) RoundQty(qty float64) float64 {
	return Round(qty, e.opts.QtyPrecision)
}

// RoundPrice rounds to the instrument price step.
func (e *Engine) RoundPrice(p float64) float64 {
	return Round(p, e.opts.PricePrecision)
}

func (e *Engine) cancelOrder(ctx context.Context, instrument, orderID string) error {
	if orderID == "" {
		return nil
	}
	return e.call.Do(ctx, "cancel order", func(ctx context.Context) error {
		return e.gw.CancelOrder(ctx, instrument, orderID)
	})
}

// Round truncates-to-nearest at the given decimal precision.
func Round(v float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Round(v*factor) / factor
}
