package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"kdjBot/internal/domain"
	"kdjBot/internal/ports"
)

// StateResetter clears an instrument's state after the guard liquidated it.
// fill is nil when the position had already gone.
type StateResetter interface {
	ResetPosition(ctx context.Context, symbol string, fill *ports.OrderResponse)
}

// ResetterFunc adapts a function to StateResetter.
type ResetterFunc func(ctx context.Context, symbol string, fill *ports.OrderResponse)

// ResetPosition calls f.
func (f ResetterFunc) ResetPosition(ctx context.Context, symbol string, fill *ports.OrderResponse) {
	f(ctx, symbol, fill)
}

// EODReport lists what the guard did.
type EODReport struct {
	Liquidated []domain.Holding
	Held       []domain.Holding
}

// LiquidatedSymbols returns the symbols that were closed, sorted.
func (r *EODReport) LiquidatedSymbols() []string {
	out := make([]string, 0, len(r.Liquidated))
	for _, h := range r.Liquidated {
		out = append(out, h.Symbol)
	}
	sort.Strings(out)
	return out
}

// EndOfDayGuard liquidates every open position that is at an unrealized loss.
// Winners are held overnight.
type EndOfDayGuard struct {
	orders    ports.OrderSink
	portfolio ports.Portfolio
	resetter  StateResetter
	logger    ports.Logger
}

// NewEndOfDayGuard creates a new end-of-day guard.
func NewEndOfDayGuard(orders ports.OrderSink, portfolio ports.Portfolio, resetter StateResetter, logger ports.Logger) (*EndOfDayGuard, error) {
	if orders == nil || portfolio == nil || resetter == nil || logger == nil {
		return nil, fmt.Errorf("%w: EOD guard needs orders, portfolio, resetter and logger", ports.ErrConfigurationError)
	}
	return &EndOfDayGuard{orders: orders, portfolio: portfolio, resetter: resetter, logger: logger}, nil
}

// Run checks every open holding once. Every losing holding is attempted even
// when an earlier one fails; the failures are combined in the returned error.
func (g *EndOfDayGuard) Run(ctx context.Context) (*EODReport, error) {
	op := "EndOfDayGuard.Run"
	holdings, err := g.portfolio.Holdings(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: list holdings: %w", op, err)
	}

	report := &EODReport{}
	var errs error
	for _, h := range holdings {
		if !h.IsOpen() {
			continue
		}
		fields := map[string]interface{}{
			"symbol":            h.Symbol,
			"quantity":          h.Quantity,
			"avg_price":         h.AvgPrice,
			"market_price":      h.MarketPrice,
			"unrealized_profit": h.UnrealizedProfit,
		}
		if h.UnrealizedProfit >= 0 {
			report.Held = append(report.Held, *h)
			g.logger.Debug(ctx, op+": Holding overnight", fields)
			continue
		}

		fill, err := g.orders.Liquidate(ctx, h.Symbol)
		if err != nil {
			if errors.Is(err, ports.ErrPositionNotFound) {
				g.logger.Warn(ctx, op+": Position already gone, clearing state", fields)
				g.resetter.ResetPosition(ctx, h.Symbol, nil)
				continue
			}
			g.logger.Error(ctx, err, op+": Failed to liquidate loser", fields)
			errs = multierr.Append(errs, fmt.Errorf("liquidate %s: %w", h.Symbol, err))
			continue
		}
		g.resetter.ResetPosition(ctx, h.Symbol, fill)
		report.Liquidated = append(report.Liquidated, *h)
		g.logger.Info(ctx, op+": Liquidated losing position", fields)
	}
	return report, errs
}
