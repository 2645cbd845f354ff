package indicators

import (
	"fmt"
	"math"

	"kdjBot/internal/domain"
)

// ATRConfig holds configuration for the Average True Range indicator
type ATRConfig struct {
	IndicatorConfig
	Smoothing MovingAverageType // SMA (default) or WILDER
}

// ATR implements a streaming Average True Range indicator
type ATR struct {
	config    ATRConfig
	smoother  *MovingAverage
	prevClose float64
	hasPrev   bool
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config ATRConfig) (*ATR, error) {
	if err := config.validate("ATR"); err != nil {
		return nil, err
	}
	smoother, err := NewMovingAverage(MovingAverageConfig{
		IndicatorConfig: config.IndicatorConfig,
		Type:            config.Smoothing,
	})
	if err != nil {
		return nil, fmt.Errorf("ATR smoothing: %w", err)
	}
	return &ATR{config: config, smoother: smoother}, nil
}

// Name returns the name of the indicator
func (a *ATR) Name() string {
	return fmt.Sprintf("ATR(%d)", a.config.Period)
}

// Update computes the bar's true range and folds it into the average.
func (a *ATR) Update(kline *domain.Kline) {
	a.smoother.Add(TrueRange(kline, a.prevClose, a.hasPrev))
	a.prevClose = kline.Close
	a.hasPrev = true
}

// IsReady reports whether Period true ranges have been averaged.
func (a *ATR) IsReady() bool {
	return a.smoother.IsReady()
}

// WarmUpPeriod returns Period.
func (a *ATR) WarmUpPeriod() int {
	return a.config.Period
}

// Value returns the current average true range.
func (a *ATR) Value() float64 {
	return a.smoother.Value()
}

// TrueRange is the greatest of high-low, |high-prevClose| and |low-prevClose|.
// Without a previous close it is just high-low.
func TrueRange(kline *domain.Kline, prevClose float64, hasPrev bool) float64 {
	tr := kline.High - kline.Low
	if !hasPrev {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(kline.High-prevClose), math.Abs(kline.Low-prevClose)))
}
