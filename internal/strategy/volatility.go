package strategy

import (
	"fmt"

	"kdjBot/internal/domain"
	"kdjBot/internal/strategy/indicators"
)

// VolatilityConfig configures the ATR trailing stop.
type VolatilityConfig struct {
	ATRPeriod   int                          // default 14
	Smoothing   indicators.MovingAverageType // default SMA
	Multiplier  float64                      // default 3.0
	FallbackPct float64                      // stop = hwm*(1-FallbackPct) while ATR is not ready, default 0.10
}

type rangeAverage interface {
	Update(kline *domain.Kline)
	IsReady() bool
	Value() float64
}

// VolatilityStop trails a stop below the high-water mark by Multiplier ATRs.
type VolatilityStop struct {
	cfg VolatilityConfig
	atr rangeAverage
}

// NewVolatilityStop creates a new volatility stop.
func NewVolatilityStop(cfg VolatilityConfig) (*VolatilityStop, error) {
	if cfg.Multiplier <= 0 {
		return nil, fmt.Errorf("ATR multiplier must be positive, got %f", cfg.Multiplier)
	}
	if cfg.FallbackPct <= 0 || cfg.FallbackPct >= 1 {
		return nil, fmt.Errorf("fallback stop percentage must be in (0, 1), got %f", cfg.FallbackPct)
	}
	atr, err := indicators.NewATR(indicators.ATRConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod},
		Smoothing:       cfg.Smoothing,
	})
	if err != nil {
		return nil, fmt.Errorf("volatility stop: %w", err)
	}
	return &VolatilityStop{cfg: cfg, atr: atr}, nil
}

// Update folds a bar into the ATR.
func (v *VolatilityStop) Update(kline *domain.Kline) {
	v.atr.Update(kline)
}

// IsReady reports whether the ATR has a full window.
func (v *VolatilityStop) IsReady() bool {
	return v.atr.IsReady()
}

// StopPrice returns the stop for a given high-water mark.
func (v *VolatilityStop) StopPrice(highWaterMark float64) domain.VolatilitySnapshot {
	if !v.atr.IsReady() {
		return domain.VolatilitySnapshot{StopPrice: highWaterMark * (1 - v.cfg.FallbackPct)}
	}
	atr := v.atr.Value()
	return domain.VolatilitySnapshot{
		AverageTrueRange: atr,
		StopPrice:        highWaterMark - v.cfg.Multiplier*atr,
		ATRReady:         true,
	}
}

// Evaluate raises the state's high-water mark to price and reports whether
// price is below the resulting stop. It does nothing while FLAT.
func (v *VolatilityStop) Evaluate(state *domain.InstrumentState, price float64) (domain.VolatilitySnapshot, bool) {
	if state.IsFlat() {
		return domain.VolatilitySnapshot{}, false
	}
	state.RaiseHighWaterMark(price)
	snap := v.StopPrice(*state.HighWaterMark)
	return snap, price < snap.StopPrice
}
