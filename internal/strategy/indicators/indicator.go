package indicators

import (
	"fmt"

	"kdjBot/internal/domain"
)

// Indicator is a technical indicator updated incrementally, one bar at a time.
type Indicator interface {
	// Update folds the kline into the indicator's rolling state.
	Update(kline *domain.Kline)

	// IsReady reports whether enough bars have been seen for Value to be meaningful.
	IsReady() bool

	// Value returns the current indicator value. Callers must check IsReady first.
	Value() float64

	// WarmUpPeriod returns the number of bars needed before IsReady is true.
	WarmUpPeriod() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

func (c IndicatorConfig) validate(name string) error {
	if c.Period <= 0 {
		return fmt.Errorf("%s period must be positive, got %d", name, c.Period)
	}
	return nil
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config  IndicatorConfig
	samples int
}

// Samples returns how many inputs have been folded in.
func (b *BaseIndicator) Samples() int {
	return b.samples
}
