package domain

import "time"

// Trade represents a completed round trip (entry and exit).
type Trade struct {
	ID          int64       // Unique identifier for the trade (usually from DB)
	Symbol      string      // Trading symbol (e.g., "SOXL")
	EntryPrice  float64     // Price at which the position was entered
	ExitPrice   float64     // Price at which the position was exited
	Quantity    float64     // Size of the position traded
	PNL         float64     // Profit and Loss for this trade
	EntryTime   time.Time   // Timestamp when the position was entered
	ExitTime    time.Time   // Timestamp when the position was exited
	CloseReason CloseReason // Reason why the position was closed
	OrderID     string      // Client order ID of the closing order, when known
}
