// Package venue defines the normalized types and access layer for the
// derivatives venue. Payload quirks (string-typed numbers, variant casing)
// stop at the venue adapter; everything above works with these types.
package venue

import "time"

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing direction for a side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the venue order type.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT_MARKET"
)

// OrderStatus is the normalized order state reported by the venue.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// OrderRequest describes an order to submit.
type OrderRequest struct {
	Instrument    string
	Side          Side
	Type          OrderType
	Qty           float64
	Price         float64 // limit orders
	StopPrice     float64 // stop and take-profit orders
	TimeInForce   string  // defaults to GTC for limit orders
	ClientID      string
	ReduceOnly    bool
	ClosePosition bool
}

// OrderAck is the venue's acknowledgement of a submitted order.
type OrderAck struct {
	OrderID      string
	ClientID     string
	Status       OrderStatus
	AvgFillPrice float64
}

// OpenOrder is a resting order on the venue.
type OpenOrder struct {
	OrderID    string
	ClientID   string
	Instrument string
	Side       Side
	Type       OrderType
	Qty        float64
	Price      float64
	StopPrice  float64
	ReduceOnly bool
}

// Position is an open position. Quantity is signed: positive long,
// negative short.
type Position struct {
	Instrument    string
	Quantity      float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnl float64
	InitialMargin float64
	Leverage      int
}

// Balance is the futures wallet state for the quote asset.
type Balance struct {
	Asset     string
	Wallet    float64
	Available float64
}

// RealizedTrade is a fill reported by the venue's trade history.
type RealizedTrade struct {
	Instrument  string
	OrderID     string
	Side        Side
	Price       float64
	Qty         float64
	RealizedPnl float64
	Commission  float64
	Time        time.Time
}
