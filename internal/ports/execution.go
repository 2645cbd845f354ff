package ports

import (
	"context"
	"time"

	"kdjBot/internal/domain"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64     // Broker order ID
	ClientOrderID string    // Locally generated order ID
	Symbol        string    // Symbol for the order
	Side          domain.OrderSide
	AvgPrice      float64   // Average filled price
	OrigQuantity  float64   // Quantity requested (unsigned)
	ExecutedQty   float64   // Quantity filled (unsigned)
	Status        string    // e.g. FILLED, REJECTED
	Timestamp     time.Time // Time the order response was generated
}

// OrderSink accepts the two commands the engine issues.
type OrderSink interface {
	// PlaceMarketOrder buys (signedQty > 0) or sells (signedQty < 0) at market.
	PlaceMarketOrder(ctx context.Context, symbol string, signedQty float64) (*OrderResponse, error)
	// Liquidate closes the whole position in symbol.
	// Returns ErrPositionNotFound when nothing is held.
	Liquidate(ctx context.Context, symbol string) (*OrderResponse, error)
}

// Portfolio answers position and cash queries.
type Portfolio interface {
	// Holding returns the holding for symbol; a zero-quantity holding when flat.
	Holding(ctx context.Context, symbol string) (*domain.Holding, error)
	// Holdings returns every open holding.
	Holdings(ctx context.Context) ([]*domain.Holding, error)
	// AvailableCash returns the buying power.
	AvailableCash(ctx context.Context) (float64, error)
}

// MarketObserver is implemented by execution collaborators that need to see
// every bar to mark prices (e.g. a paper broker).
type MarketObserver interface {
	ObserveKline(kline *domain.Kline)
}

// BarFeed delivers bars for one symbol and interval.
type BarFeed interface {
	// StreamKlines starts delivering klines to handler.
	// doneC is closed when the stream stops; closing stopC stops it.
	StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneC chan struct{}, stopC chan struct{}, err error)
}

// HistoricalBars fetches the bars opened between start and end, used for
// warm-up.
type HistoricalBars interface {
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)
}
