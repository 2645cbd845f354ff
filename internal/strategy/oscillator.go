package strategy

import (
	"fmt"

	"kdjBot/internal/domain"
	"kdjBot/internal/strategy/indicators"
)

// OscillatorConfig holds the stochastic parameters.
type OscillatorConfig struct {
	Period  int // high/low lookback, default 14
	KPeriod int // %K smoothing, default 2
	DPeriod int // %D smoothing, default 2
}

// OscillatorStream produces the KDJ reading for each bar.
type OscillatorStream struct {
	sto *indicators.Stochastic
}

// NewOscillatorStream creates a new oscillator stream.
func NewOscillatorStream(cfg OscillatorConfig) (*OscillatorStream, error) {
	sto, err := indicators.NewStochastic(indicators.StochasticConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: cfg.Period},
		KPeriod:         cfg.KPeriod,
		DPeriod:         cfg.DPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("oscillator: %w", err)
	}
	return &OscillatorStream{sto: sto}, nil
}

// Update folds a bar into the oscillator.
func (o *OscillatorStream) Update(kline *domain.Kline) {
	o.sto.Update(kline)
}

// IsReady is false until Period+KPeriod+DPeriod bars have been seen.
func (o *OscillatorStream) IsReady() bool {
	return o.sto.IsReady()
}

// WarmUpPeriod returns the bars needed before IsReady.
func (o *OscillatorStream) WarmUpPeriod() int {
	return o.sto.WarmUpPeriod()
}

// Reading returns the current K, D and J.
func (o *OscillatorStream) Reading() domain.OscillatorReading {
	return domain.OscillatorReading{
		FastK:     o.sto.K(),
		SlowD:     o.sto.D(),
		MomentumJ: o.sto.J(),
	}
}
