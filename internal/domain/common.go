package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// SideForQuantity returns Buy for positive signed quantities and Sell otherwise.
func SideForQuantity(signedQty float64) OrderSide {
	if signedQty > 0 {
		return Buy
	}
	return Sell
}

// PositionStatus is the per-instrument state of the signal state machine.
type PositionStatus string

const (
	StatusFlat PositionStatus = "FLAT"
	StatusLong PositionStatus = "LONG"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonTrailingStop CloseReason = "TRAILING_STOP" // Price fell below the volatility stop
	CloseReasonSignal       CloseReason = "SIGNAL"        // Momentum crossed below the sell threshold
	CloseReasonEndOfDay     CloseReason = "EOD_LOSER"     // Liquidated by the end-of-day guard at a loss
	CloseReasonExternal     CloseReason = "EXTERNAL"      // Position disappeared from the portfolio
	CloseReasonUnknown      CloseReason = "UNKNOWN"
)

// Action is the outcome of evaluating a single bar.
type Action string

const (
	ActionSkip  Action = "SKIP"  // Bar not evaluated (warm-up or blackout)
	ActionHold  Action = "HOLD"  // Evaluated, no transition
	ActionEnter Action = "ENTER" // FLAT -> LONG
	ActionExit  Action = "EXIT"  // LONG -> FLAT
)
