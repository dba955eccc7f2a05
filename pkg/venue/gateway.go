package venue

import (
	"context"
	"time"
)

// Gateway is the venue access surface used by the engine. Implementations
// must be safe for concurrent use.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, instrument, orderID string) error
	CancelAllOpenOrders(ctx context.Context, instrument string) error
	GetPositions(ctx context.Context, instrument string) ([]Position, error)
	GetOpenOrders(ctx context.Context, instrument string) ([]OpenOrder, error)
	GetAccountBalance(ctx context.Context) (Balance, error)
	GetRealizedTrades(ctx context.Context, instrument string, since time.Time) ([]RealizedTrade, error)
	GetPrice(ctx context.Context, instrument string) (float64, error)
	SetLeverage(ctx context.Context, instrument string, leverage int) error
}
