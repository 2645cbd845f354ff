package ports

import (
	"context"
	"time"

	"kdjBot/internal/domain"
)

// Strategy is a per-instrument bar evaluator.
type Strategy interface {
	// Symbol is the instrument this strategy owns.
	Symbol() string

	// WarmUp feeds historical bars into the indicators without trading.
	WarmUp(ctx context.Context, klines []*domain.Kline)

	// Step evaluates one bar. The decision is non-nil even when err is set,
	// unless the bar was rejected outright.
	Step(ctx context.Context, kline *domain.Kline) (*domain.Decision, error)

	// ForceFlat clears the position after an external liquidation and
	// returns the round trip, or nil when already flat.
	ForceFlat(ctx context.Context, fill *OrderResponse, at time.Time, reason domain.CloseReason) *domain.Trade

	// State returns a copy of the instrument state.
	State() domain.InstrumentState

	// Restore replaces the instrument state with a persisted one.
	Restore(state *domain.InstrumentState)
}
