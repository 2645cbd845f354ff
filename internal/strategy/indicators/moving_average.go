package indicators

import (
	"fmt"

	"kdjBot/internal/domain"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage is the arithmetic mean of the last Period values.
	SimpleMovingAverage MovingAverageType = "SMA"
	// WilderMovingAverage seeds with an SMA and then smooths with (prev*(n-1)+x)/n.
	WilderMovingAverage MovingAverageType = "WILDER"
)

// ParseMovingAverageType maps "simple"/"sma" and "wilder"/"rma" to a type.
func ParseMovingAverageType(s string) (MovingAverageType, error) {
	switch s {
	case "simple", "sma", "SMA", "":
		return SimpleMovingAverage, nil
	case "wilder", "rma", "WILDER":
		return WilderMovingAverage, nil
	default:
		return "", fmt.Errorf("unsupported moving average type: %s", s)
	}
}

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage is a streaming SMA or Wilder average over raw values or kline closes.
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
	window *window
	wilder float64
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) (*MovingAverage, error) {
	if err := config.validate("moving average"); err != nil {
		return nil, err
	}
	if config.Type == "" {
		config.Type = SimpleMovingAverage
	}
	if config.Type != SimpleMovingAverage && config.Type != WilderMovingAverage {
		return nil, fmt.Errorf("unsupported moving average type: %s", config.Type)
	}
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
		window:        newWindow(config.Period),
	}, nil
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	return fmt.Sprintf("%s(%d)", m.config.Type, m.Config.Period)
}

// Add folds a raw value into the average.
func (m *MovingAverage) Add(v float64) {
	m.samples++
	m.window.push(v)

	if m.config.Type != WilderMovingAverage {
		return
	}
	n := float64(m.Config.Period)
	switch {
	case m.samples < m.Config.Period:
	case m.samples == m.Config.Period:
		m.wilder = m.window.sum() / n
	default:
		m.wilder = (m.wilder*(n-1) + v) / n
	}
}

// Update folds the kline's close into the average.
func (m *MovingAverage) Update(kline *domain.Kline) {
	m.Add(kline.Close)
}

// IsReady reports whether Period values have been seen.
func (m *MovingAverage) IsReady() bool {
	return m.samples >= m.Config.Period
}

// WarmUpPeriod returns Period.
func (m *MovingAverage) WarmUpPeriod() int {
	return m.Config.Period
}

// Value returns the current average, or the mean of what has been seen so far
// while not ready.
func (m *MovingAverage) Value() float64 {
	if m.window.len() == 0 {
		return 0
	}
	if m.config.Type == WilderMovingAverage && m.IsReady() {
		return m.wilder
	}
	return m.window.sum() / float64(m.window.len())
}
