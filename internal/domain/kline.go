package domain

import "time"

// Kline represents a single candlestick (bar).
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Kline interval (e.g., "1h", "1d")
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsFinal   bool // Whether this kline is the final one for the interval
}

// EventTime is the moment the bar is delivered: its close time, or the open
// time when the source does not provide one.
func (k *Kline) EventTime() time.Time {
	if !k.CloseTime.IsZero() {
		return k.CloseTime
	}
	return k.OpenTime
}
