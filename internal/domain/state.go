package domain

import "time"

// InstrumentState is the per-symbol state owned by exactly one engine.
// EntryPrice and HighWaterMark are either both nil (FLAT) or both set (LONG).
type InstrumentState struct {
	Symbol           string
	BuyThreshold     float64
	SellThreshold    float64
	PreviousMomentum *float64
	HighWaterMark    *float64
	EntryPrice       *float64
	EntryTime        time.Time
	Quantity         float64
}

// NewInstrumentState returns a FLAT state with fixed thresholds.
func NewInstrumentState(symbol string, buyThreshold, sellThreshold float64) *InstrumentState {
	return &InstrumentState{
		Symbol:        symbol,
		BuyThreshold:  buyThreshold,
		SellThreshold: sellThreshold,
	}
}

// Status returns FLAT or LONG.
func (s InstrumentState) Status() PositionStatus {
	if s.EntryPrice == nil || s.HighWaterMark == nil {
		return StatusFlat
	}
	return StatusLong
}

// IsFlat reports whether no position is open.
func (s InstrumentState) IsFlat() bool { return s.Status() == StatusFlat }

// IsLong reports whether a position is open.
func (s InstrumentState) IsLong() bool { return s.Status() == StatusLong }

// Open records an entry. Entry price and high-water mark start at price.
func (s *InstrumentState) Open(price float64, at time.Time, quantity float64) {
	entry, hwm := price, price
	s.EntryPrice = &entry
	s.HighWaterMark = &hwm
	s.EntryTime = at
	s.Quantity = quantity
}

// Clear returns the instrument to FLAT. PreviousMomentum is kept.
func (s *InstrumentState) Clear() {
	s.EntryPrice = nil
	s.HighWaterMark = nil
	s.EntryTime = time.Time{}
	s.Quantity = 0
}

// RaiseHighWaterMark lifts the high-water mark to price if price is higher.
// It is a no-op while FLAT.
func (s *InstrumentState) RaiseHighWaterMark(price float64) {
	if s.HighWaterMark == nil {
		return
	}
	if price > *s.HighWaterMark {
		hwm := price
		s.HighWaterMark = &hwm
	}
}

// SetPreviousMomentum stores the momentum value of the bar just evaluated.
func (s *InstrumentState) SetPreviousMomentum(j float64) {
	v := j
	s.PreviousMomentum = &v
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *InstrumentState) Clone() InstrumentState {
	c := *s
	c.PreviousMomentum = cloneFloat(s.PreviousMomentum)
	c.HighWaterMark = cloneFloat(s.HighWaterMark)
	c.EntryPrice = cloneFloat(s.EntryPrice)
	return c
}

// CloseTrade builds the round-trip record for exiting at exitPrice.
// It returns nil while FLAT.
func (s *InstrumentState) CloseTrade(exitPrice, quantity float64, at time.Time, reason CloseReason) *Trade {
	if s.IsFlat() {
		return nil
	}
	if quantity <= 0 {
		quantity = s.Quantity
	}
	return &Trade{
		Symbol:      s.Symbol,
		EntryPrice:  *s.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    quantity,
		PNL:         (exitPrice - *s.EntryPrice) * quantity,
		EntryTime:   s.EntryTime,
		ExitTime:    at,
		CloseReason: reason,
	}
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// OscillatorReading is the stochastic oscillator output for one bar.
type OscillatorReading struct {
	FastK     float64
	SlowD     float64
	MomentumJ float64 // 3*FastK - 2*SlowD
}

// VolatilitySnapshot is the trailing stop computed for one bar.
type VolatilitySnapshot struct {
	AverageTrueRange float64
	StopPrice        float64
	ATRReady         bool // false when the percentage fallback was used
}
