package ports

import (
	"context"

	"kdjBot/internal/domain"
)

// StateRepository persists InstrumentState across restarts.
type StateRepository interface {
	// SaveState upserts the state for state.Symbol.
	SaveState(ctx context.Context, state *domain.InstrumentState) error
	// LoadState returns the stored state for symbol, or ErrNotFound.
	LoadState(ctx context.Context, symbol string) (*domain.InstrumentState, error)
}

// TradeRepository defines the interface for storing and retrieving completed trades.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// GetTotalProfit sums PNL over all journaled trades.
	GetTotalProfit(ctx context.Context) (float64, error)
}
