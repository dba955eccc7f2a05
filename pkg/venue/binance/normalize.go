package binance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iBuild-ts/Binance-trading-bot/pkg/venue"
)

// Binance futures payloads carry most numbers as strings and vary status
// casing across endpoints. These wire structs are the only place that
// parses them.

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	AvgPrice      string `json:"avgPrice"`
}

func (r orderResp) normalize() (venue.OrderAck, error) {
	avg := 0.0
	if r.AvgPrice != "" {
		var err error
		avg, err = parseFloat("avgPrice", r.AvgPrice)
		if err != nil {
			return venue.OrderAck{}, err
		}
	}
	return venue.OrderAck{
		OrderID:      strconv.FormatInt(r.OrderID, 10),
		ClientID:     r.ClientOrderID,
		Status:       mapStatus(r.Status),
		AvgFillPrice: avg,
	}, nil
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	InitialMargin    string `json:"initialMargin"`
	Leverage         string `json:"leverage"`
}

func (p positionRisk) normalize() (venue.Position, error) {
	qty, err := parseFloat("positionAmt", p.PositionAmt)
	if err != nil {
		return venue.Position{}, err
	}
	entry, err := parseFloat("entryPrice", p.EntryPrice)
	if err != nil {
		return venue.Position{}, err
	}
	mark, err := parseFloat("markPrice", p.MarkPrice)
	if err != nil {
		return venue.Position{}, err
	}
	pnl, err := parseFloat("unRealizedProfit", p.UnRealizedProfit)
	if err != nil {
		return venue.Position{}, err
	}
	lev := 0
	if p.Leverage != "" {
		f, err := parseFloat("leverage", p.Leverage)
		if err != nil {
			return venue.Position{}, err
		}
		lev = int(f)
	}
	margin := 0.0
	if p.InitialMargin != "" {
		margin, err = parseFloat("initialMargin", p.InitialMargin)
		if err != nil {
			return venue.Position{}, err
		}
	}
	// positionRisk omits initialMargin on some API versions; derive it
	// from notional and leverage so ROI math never divides by zero.
	if margin == 0 && lev > 0 && qty != 0 {
		margin = abs(qty) * entry / float64(lev)
	}
	return venue.Position{
		Instrument:    p.Symbol,
		Quantity:      qty,
		EntryPrice:    entry,
		MarkPrice:     mark,
		UnrealizedPnl: pnl,
		InitialMargin: margin,
		Leverage:      lev,
	}, nil
}

type openOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigQty       string `json:"origQty"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

func (o openOrder) normalize() (venue.OpenOrder, error) {
	qty, err := parseFloat("origQty", o.OrigQty)
	if err != nil {
		return venue.OpenOrder{}, err
	}
	price := 0.0
	if o.Price != "" {
		price, err = parseFloat("price", o.Price)
		if err != nil {
			return venue.OpenOrder{}, err
		}
	}
	stop := 0.0
	if o.StopPrice != "" {
		stop, err = parseFloat("stopPrice", o.StopPrice)
		if err != nil {
			return venue.OpenOrder{}, err
		}
	}
	return venue.OpenOrder{
		OrderID:    strconv.FormatInt(o.OrderID, 10),
		ClientID:   o.ClientOrderID,
		Instrument: o.Symbol,
		Side:       venue.Side(strings.ToUpper(o.Side)),
		Type:       venue.OrderType(strings.ToUpper(o.Type)),
		Qty:        qty,
		Price:      price,
		StopPrice:  stop,
		ReduceOnly: o.ReduceOnly,
	}, nil
}

type futuresBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

func (b futuresBalance) normalize() (venue.Balance, error) {
	wallet, err := parseFloat("balance", b.Balance)
	if err != nil {
		return venue.Balance{}, err
	}
	avail, err := parseFloat("availableBalance", b.AvailableBalance)
	if err != nil {
		return venue.Balance{}, err
	}
	return venue.Balance{Asset: b.Asset, Wallet: wallet, Available: avail}, nil
}

type userTrade struct {
	Symbol      string `json:"symbol"`
	OrderID     int64  `json:"orderId"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	RealizedPnl string `json:"realizedPnl"`
	Commission  string `json:"commission"`
	Time        int64  `json:"time"`
}

func (t userTrade) normalize() (venue.RealizedTrade, error) {
	price, err := parseFloat("price", t.Price)
	if err != nil {
		return venue.RealizedTrade{}, err
	}
	qty, err := parseFloat("qty", t.Qty)
	if err != nil {
		return venue.RealizedTrade{}, err
	}
	pnl, err := parseFloat("realizedPnl", t.RealizedPnl)
	if err != nil {
		return venue.RealizedTrade{}, err
	}
	comm := 0.0
	if t.Commission != "" {
		comm, err = parseFloat("commission", t.Commission)
		if err != nil {
			return venue.RealizedTrade{}, err
		}
	}
	return venue.RealizedTrade{
		Instrument:  t.Symbol,
		OrderID:     strconv.FormatInt(t.OrderID, 10),
		Side:        venue.Side(strings.ToUpper(t.Side)),
		Price:       price,
		Qty:         qty,
		RealizedPnl: pnl,
		Commission:  comm,
		Time:        time.UnixMilli(t.Time),
	}, nil
}

// mapStatus normalizes order status regardless of casing.
func mapStatus(s string) venue.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return venue.OrderStatusNew
	case "PARTIALLY_FILLED":
		return venue.OrderStatusPartiallyFilled
	case "FILLED":
		return venue.OrderStatusFilled
	case "CANCELED", "CANCELLED":
		return venue.OrderStatusCanceled
	case "REJECTED":
		return venue.OrderStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return venue.OrderStatusExpired
	default:
		return venue.OrderStatus(strings.ToUpper(s))
	}
}

func parseFloat(field, val string) (float64, error) {
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: parse %s %q: %w", field, val, err)
	}
	return f, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
