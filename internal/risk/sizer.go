package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// PositionSizer turns a notional allocation and available cash into a whole
// share quantity.
type PositionSizer struct{}

// NewPositionSizer creates a new position sizer.
func NewPositionSizer() *PositionSizer {
	return &PositionSizer{}
}

// Size returns min(floor(targetNotional/price), floor(availableCash/price)),
// never negative. It returns 0 for a non-positive or non-finite price.
// The returned quantity costs at most availableCash.
func (p *PositionSizer) Size(price, targetNotional, availableCash float64) int64 {
	if !isFinite(price) || price <= 0 || !isFinite(targetNotional) || !isFinite(availableCash) {
		return 0
	}

	px := decimal.NewFromFloat(price)
	cash := decimal.NewFromFloat(availableCash)
	byNotional := decimal.NewFromFloat(targetNotional).Div(px).Floor()
	byCash := cash.Div(px).Floor()

	qty := decimal.Min(byNotional, byCash)
	// Div rounds at DivisionPrecision; step down if that rounded us over the cash line.
	for qty.IsPositive() && qty.Mul(px).GreaterThan(cash) {
		qty = qty.Sub(decimal.NewFromInt(1))
	}
	if !qty.IsPositive() {
		return 0
	}
	return qty.IntPart()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
