package indicators

import (
	"fmt"

	"kdjBot/internal/domain"
)

// StochasticConfig configures the stochastic oscillator.
// Period is the high/low lookback; KPeriod smooths the raw %K and DPeriod smooths K into D.
type StochasticConfig struct {
	IndicatorConfig
	KPeriod int
	DPeriod int
}

// Stochastic is a streaming slow stochastic oscillator with the KDJ J line.
type Stochastic struct {
	config  StochasticConfig
	highs   *window
	lows    *window
	kAvg    *MovingAverage
	dAvg    *MovingAverage
	samples int
}

// NewStochastic creates a new stochastic oscillator.
func NewStochastic(config StochasticConfig) (*Stochastic, error) {
	if err := config.validate("stochastic"); err != nil {
		return nil, err
	}
	if config.KPeriod <= 0 || config.DPeriod <= 0 {
		return nil, fmt.Errorf("stochastic smoothing periods must be positive, got k=%d d=%d", config.KPeriod, config.DPeriod)
	}
	kAvg, err := NewMovingAverage(MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: config.KPeriod}, Type: SimpleMovingAverage})
	if err != nil {
		return nil, err
	}
	dAvg, err := NewMovingAverage(MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: config.DPeriod}, Type: SimpleMovingAverage})
	if err != nil {
		return nil, err
	}
	return &Stochastic{
		config: config,
		highs:  newWindow(config.Period),
		lows:   newWindow(config.Period),
		kAvg:   kAvg,
		dAvg:   dAvg,
	}, nil
}

// Name returns the name of the indicator
func (s *Stochastic) Name() string {
	return fmt.Sprintf("STO(%d,%d,%d)", s.config.Period, s.config.KPeriod, s.config.DPeriod)
}

// Update folds a bar into the oscillator.
func (s *Stochastic) Update(kline *domain.Kline) {
	s.samples++
	s.highs.push(kline.High)
	s.lows.push(kline.Low)
	if !s.highs.full() {
		return
	}

	s.kAvg.Add(rawStochastic(kline.Close, s.highs.max(), s.lows.min()))
	if s.kAvg.IsReady() {
		s.dAvg.Add(s.kAvg.Value())
	}
}

// rawStochastic is the close's position within the range, 0..100; 0 for an empty range.
func rawStochastic(close, highest, lowest float64) float64 {
	rng := highest - lowest
	if rng == 0 {
		return 0
	}
	return 100 * (close - lowest) / rng
}

// WarmUpPeriod returns Period + KPeriod + DPeriod.
func (s *Stochastic) WarmUpPeriod() int {
	return s.config.Period + s.config.KPeriod + s.config.DPeriod
}

// IsReady reports whether WarmUpPeriod bars have been seen.
func (s *Stochastic) IsReady() bool {
	return s.samples >= s.WarmUpPeriod() && s.dAvg.IsReady()
}

// K returns the smoothed %K line.
func (s *Stochastic) K() float64 { return s.kAvg.Value() }

// D returns %K smoothed over DPeriod.
func (s *Stochastic) D() float64 { return s.dAvg.Value() }

// J returns 3K - 2D.
func (s *Stochastic) J() float64 { return 3*s.K() - 2*s.D() }

// Value returns J.
func (s *Stochastic) Value() float64 { return s.J() }
