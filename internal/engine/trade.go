// Package engine owns the trade lifecycle: signal acceptance, the live
// trade table, and every state transition from entry to closure.
package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/iBuild-ts/Binance-trading-bot/pkg/venue"
)

// State is the lifecycle state of a trade.
type State string

const (
	StatePending         State = "PENDING"
	StateOpenUnprotected State = "OPEN_UNPROTECTED"
	StateProtected       State = "PROTECTED"
	StatePartiallyClosed State = "PARTIALLY_CLOSED"
	StateClosedTP        State = "CLOSED_TP"
	StateClosedSL        State = "CLOSED_SL"
	StateClosedManual    State = "CLOSED_MANUAL"
	StateAborted         State = "ABORTED"
)

// Terminal reports whether the state ends the trade's lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateClosedTP, StateClosedSL, StateClosedManual, StateAborted:
		return true
	}
	return false
}

// transitions is the state machine adjacency. A transition absent here is
// never applied, whatever the caller claims to have observed.
var transitions = map[State][]State{
	StatePending:         {StateOpenUnprotected, StateAborted, StateClosedManual},
	StateOpenUnprotected: {StateProtected, StateAborted, StateClosedManual},
	StateProtected:       {StatePartiallyClosed, StateClosedTP, StateClosedSL, StateClosedManual},
	StatePartiallyClosed: {StateClosedTP, StateClosedSL, StateClosedManual},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Exit reasons recorded in the trade journal.
const (
	ExitReasonTPFull             = "TP_FULL"
	ExitReasonTPPartial          = "TP_PARTIAL"
	ExitReasonStopLoss           = "STOP_LOSS"
	ExitReasonManual             = "MANUAL"
	ExitReasonAbortedPriceDrift  = "ABORTED_PRICE_DRIFT"
	ExitReasonAbortedUnprotected = "ABORTED_UNPROTECTED"
)

// Direction is the directional intent of a signal.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Side maps the direction to the venue order side that opens it.
func (d Direction) Side() venue.Side {
	if d == DirectionShort {
		return venue.SideSell
	}
	return venue.SideBuy
}

// Signal is one external directional instruction.
type Signal struct {
	Instrument string
	Direction  Direction
	Strength   float64 // [0,1]
	Price      float64 // reference price at signal time
	Time       time.Time
}

// DedupKey buckets a signal by instrument, direction, price rounded to two
// decimals, and signal minute. Two signals with the same key are the same
// signal.
func (s Signal) DedupKey() string {
	return fmt.Sprintf("%s|%s|%.2f|%s",
		s.Instrument, s.Direction, math.Round(s.Price*100)/100,
		s.Time.UTC().Format("2006-01-02T15:04"))
}

// Trade is the live entity for one instrument's position. It is owned by
// the Book; other components read copies and request mutations through the
// Book's transition API.
type Trade struct {
	ID         string
	Instrument string
	Direction  Direction

	SignalPrice float64
	EntryPrice  float64 // actual fill price, set at OPEN_UNPROTECTED
	Qty         float64 // currently open quantity
	InitialQty  float64
	Leverage    int
	Margin      float64 // initial margin committed at entry

	State State

	EntryOrderID      string
	StopOrderID       string
	TakeProfitOrderID string
	BreakevenStop     bool

	ProtectionPasses int // reconciliation attempts to protect this trade

	CreatedAt time.Time
	OpenedAt  time.Time
	// PartialExitAt marks the last journaled partial segment. Realized PnL
	// for the final closure is summed from this point so the partial's PnL
	// is never counted twice.
	PartialExitAt time.Time
	ClosedAt      time.Time
	ExitReason    string
}

// ROI returns return on initial margin in percent for the given
// unrealized PnL.
func (t Trade) ROI(unrealizedPnl float64) float64 {
	if t.Margin == 0 {
		return 0
	}
	return unrealizedPnl / t.Margin * 100
}
