// Package paper provides an in-process broker that fills market orders at the
// last observed close. It backs both the backtest runner and live paper sessions.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kdjBot/internal/domain"
	"kdjBot/internal/ports"
)

var (
	_ ports.OrderSink      = (*Broker)(nil)
	_ ports.Portfolio      = (*Broker)(nil)
	_ ports.MarketObserver = (*Broker)(nil)
)

// Config holds the paper broker settings.
type Config struct {
	StartingCash float64
	Logger       ports.Logger
	Now          func() time.Time // Defaults to the time of the last observed bar
}

type lot struct {
	qty     decimal.Decimal
	avgCost decimal.Decimal
}

// Broker is a cash account with long-only average-cost positions.
type Broker struct {
	mu        sync.Mutex
	logger    ports.Logger
	now       func() time.Time
	cash      decimal.Decimal
	positions map[string]lot
	prices    map[string]decimal.Decimal
	lastBar   time.Time
	nextID    int64
}

// NewBroker creates a paper broker holding StartingCash.
func NewBroker(cfg Config) (*Broker, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for paper broker", ports.ErrConfigurationError)
	}
	if cfg.StartingCash < 0 {
		return nil, fmt.Errorf("%w: starting cash must not be negative", ports.ErrConfigurationError)
	}
	b := &Broker{
		logger:    cfg.Logger,
		now:       cfg.Now,
		cash:      decimal.NewFromFloat(cfg.StartingCash),
		positions: make(map[string]lot),
		prices:    make(map[string]decimal.Decimal),
	}
	return b, nil
}

// ObserveKline marks symbol at the bar's close.
func (b *Broker) ObserveKline(k *domain.Kline) {
	if k == nil || k.Close <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[k.Symbol] = decimal.NewFromFloat(k.Close)
	if t := k.EventTime(); t.After(b.lastBar) {
		b.lastBar = t
	}
}

// PlaceMarketOrder fills signedQty at the last observed close.
func (b *Broker) PlaceMarketOrder(ctx context.Context, symbol string, signedQty float64) (*ports.OrderResponse, error) {
	op := "PaperPlaceMarketOrder"
	if signedQty == 0 {
		return nil, fmt.Errorf("%w: zero quantity order for %s", ports.ErrInvalidRequest, symbol)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrNoMarketPrice, symbol)
	}
	qty := decimal.NewFromFloat(signedQty).Abs()
	pos := b.positions[symbol]
	side := domain.SideForQuantity(signedQty)

	switch side {
	case domain.Buy:
		cost := qty.Mul(price)
		if cost.GreaterThan(b.cash) {
			return nil, fmt.Errorf("%w: need %s, have %s", ports.ErrInsufficientFunds, cost.StringFixed(2), b.cash.StringFixed(2))
		}
		newQty := pos.qty.Add(qty)
		pos.avgCost = pos.avgCost.Mul(pos.qty).Add(cost).Div(newQty)
		pos.qty = newQty
		b.cash = b.cash.Sub(cost)
		b.positions[symbol] = pos
	case domain.Sell:
		if qty.GreaterThan(pos.qty) {
			return nil, fmt.Errorf("%w: sell %s exceeds held %s (short selling unsupported)", ports.ErrInvalidRequest, qty, pos.qty)
		}
		b.cash = b.cash.Add(qty.Mul(price))
		pos.qty = pos.qty.Sub(qty)
		if pos.qty.IsZero() {
			delete(b.positions, symbol)
		} else {
			b.positions[symbol] = pos
		}
	}

	resp := b.fill(symbol, side, qty, price)
	b.logger.Debug(ctx, op+": Order filled", map[string]interface{}{
		"symbol": symbol, "side": side, "quantity": resp.ExecutedQty, "price": resp.AvgPrice,
		"cash": b.cash.InexactFloat64(), "clientOrderID": resp.ClientOrderID,
	})
	return resp, nil
}

// Liquidate sells the whole position in symbol.
func (b *Broker) Liquidate(ctx context.Context, symbol string) (*ports.OrderResponse, error) {
	b.mu.Lock()
	pos, ok := b.positions[symbol]
	b.mu.Unlock()
	if !ok || !pos.qty.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ports.ErrPositionNotFound, symbol)
	}
	return b.PlaceMarketOrder(ctx, symbol, -pos.qty.InexactFloat64())
}

// SeedHolding recreates a holding from persisted state without touching cash.
// It fails when the symbol is already held.
func (b *Broker) SeedHolding(symbol string, quantity, avgPrice float64) error {
	if quantity <= 0 || avgPrice <= 0 {
		return fmt.Errorf("%w: seed %s with quantity %v at %v", ports.ErrInvalidRequest, symbol, quantity, avgPrice)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, held := b.positions[symbol]; held {
		return fmt.Errorf("%w: %s already held", ports.ErrInvalidRequest, symbol)
	}
	b.positions[symbol] = lot{qty: decimal.NewFromFloat(quantity), avgCost: decimal.NewFromFloat(avgPrice)}
	return nil
}

// Holding returns the marked holding for symbol, zero quantity when flat.
func (b *Broker) Holding(_ context.Context, symbol string) (*domain.Holding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.holding(symbol), nil
}

// Holdings returns every open holding sorted by symbol.
func (b *Broker) Holdings(_ context.Context) ([]*domain.Holding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	symbols := make([]string, 0, len(b.positions))
	for s := range b.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	out := make([]*domain.Holding, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, b.holding(s))
	}
	return out, nil
}

// AvailableCash returns uninvested cash.
func (b *Broker) AvailableCash(_ context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash.InexactFloat64(), nil
}

// Equity is cash plus every position marked at its last price.
func (b *Broker) Equity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for s, pos := range b.positions {
		mark, ok := b.prices[s]
		if !ok {
			mark = pos.avgCost
		}
		equity = equity.Add(pos.qty.Mul(mark))
	}
	return equity.InexactFloat64()
}

func (b *Broker) holding(symbol string) *domain.Holding {
	h := &domain.Holding{Symbol: symbol}
	mark, marked := b.prices[symbol]
	pos, held := b.positions[symbol]
	if held && !marked {
		mark = pos.avgCost
	}
	h.MarketPrice = mark.InexactFloat64()
	if !held {
		return h
	}
	h.Quantity = pos.qty.InexactFloat64()
	h.AvgPrice = pos.avgCost.InexactFloat64()
	h.UnrealizedProfit = mark.Sub(pos.avgCost).Mul(pos.qty).InexactFloat64()
	return h
}

func (b *Broker) fill(symbol string, side domain.OrderSide, qty, price decimal.Decimal) *ports.OrderResponse {
	b.nextID++
	ts := b.lastBar
	if b.now != nil {
		ts = b.now()
	}
	q := qty.InexactFloat64()
	return &ports.OrderResponse{
		OrderID:       b.nextID,
		ClientOrderID: uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		AvgPrice:      price.InexactFloat64(),
		OrigQuantity:  q,
		ExecutedQty:   q,
		Status:        "FILLED",
		Timestamp:     ts,
	}
}
