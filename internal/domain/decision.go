package domain

import "time"

// Decision describes what the engine did with one bar.
type Decision struct {
	Symbol           string
	Time             time.Time
	Price            float64
	Action           Action
	Reason           string // Skip/hold reason, or the close reason on exit
	Quantity         float64
	PreviousMomentum *float64
	Reading          *OscillatorReading
	Volatility       *VolatilitySnapshot
	Trade            *Trade // Set on exit
	OrderID          string
}
