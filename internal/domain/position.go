package domain

// Holding is the portfolio's view of a symbol: what is held and what it is worth.
type Holding struct {
	Symbol           string
	Quantity         float64 // Shares held, zero when flat
	AvgPrice         float64 // Average cost per share
	MarketPrice      float64 // Last marked price
	UnrealizedProfit float64 // (MarketPrice - AvgPrice) * Quantity
}

// IsOpen reports whether any quantity is held.
func (h *Holding) IsOpen() bool {
	return h != nil && h.Quantity > 0
}
