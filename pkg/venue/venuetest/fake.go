// Package venuetest provides a scriptable in-memory Gateway for tests.
package venuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iBuild-ts/Binance-trading-bot/pkg/venue"
)

// Fake implements venue.Gateway against fixture fields. Set the fixture
// fields to script venue truth; inspect the recorded calls afterwards.
type Fake struct {
	mu sync.Mutex

	Positions  []venue.Position
	OpenOrders []venue.OpenOrder
	Balance    venue.Balance
	MarkPrice  float64
	Realized   []venue.RealizedTrade

	// PlaceOrderFn overrides order handling; nil acks every order as NEW.
	PlaceOrderFn func(req venue.OrderRequest) (venue.OrderAck, error)

	Placed      []venue.OrderRequest
	Canceled    []string
	CanceledAll []string
	Leverage    map[string]int

	nextID int
}

var _ venue.Gateway = (*Fake)(nil)

func (f *Fake) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Placed = append(f.Placed, req)
	if f.PlaceOrderFn != nil {
		return f.PlaceOrderFn(req)
	}
	f.nextID++
	return venue.OrderAck{
		OrderID:  fmt.Sprintf("order-%d", f.nextID),
		ClientID: req.ClientID,
		Status:   venue.OrderStatusNew,
	}, nil
}

func (f *Fake) CancelOrder(ctx context.Context, instrument, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Canceled = append(f.Canceled, orderID)
	return nil
}

func (f *Fake) CancelAllOpenOrders(ctx context.Context, instrument string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CanceledAll = append(f.CanceledAll, instrument)
	return nil
}

func (f *Fake) GetPositions(ctx context.Context, instrument string) ([]venue.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if instrument == "" {
		return append([]venue.Position(nil), f.Positions...), nil
	}
	var out []venue.Position
	for _, p := range f.Positions {
		if p.Instrument == instrument {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *Fake) GetOpenOrders(ctx context.Context, instrument string) ([]venue.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if instrument == "" {
		return append([]venue.OpenOrder(nil), f.OpenOrders...), nil
	}
	var out []venue.OpenOrder
	for _, o := range f.OpenOrders {
		if o.Instrument == instrument {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *Fake) GetAccountBalance(ctx context.Context) (venue.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Balance, nil
}

func (f *Fake) GetRealizedTrades(ctx context.Context, instrument string, since time.Time) ([]venue.RealizedTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []venue.RealizedTrade
	for _, t := range f.Realized {
		if t.Instrument != instrument || t.Time.Before(since) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *Fake) GetPrice(ctx context.Context, instrument string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MarkPrice, nil
}

func (f *Fake) SetLeverage(ctx context.Context, instrument string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Leverage == nil {
		f.Leverage = make(map[string]int)
	}
	f.Leverage[instrument] = leverage
	return nil
}

// SetPosition replaces the fixture position for an instrument.
func (f *Fake) SetPosition(p venue.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Positions {
		if f.Positions[i].Instrument == p.Instrument {
			f.Positions[i] = p
			return
		}
	}
	f.Positions = append(f.Positions, p)
}

// ClearPosition makes the venue flat for an instrument.
func (f *Fake) ClearPosition(instrument string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.Positions[:0]
	for _, p := range f.Positions {
		if p.Instrument != instrument {
			out = append(out, p)
		}
	}
	f.Positions = out
}

// SetOpenOrders replaces the fixture open orders.
func (f *Fake) SetOpenOrders(orders ...venue.OpenOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenOrders = orders
}

// PlacedOrders returns a copy of the recorded order requests.
func (f *Fake) PlacedOrders() []venue.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]venue.OrderRequest(nil), f.Placed...)
}
