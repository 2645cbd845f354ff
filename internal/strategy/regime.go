package strategy

import (
	"fmt"

	"kdjBot/internal/domain"
	"kdjBot/internal/session"
	"kdjBot/internal/strategy/indicators"
)

// RegimeFilter keeps a moving average of daily closes and vetoes entries
// while price is below it. It never forces an exit. A day is a session date
// of the clock, and its close is the last bar seen on that date.
type RegimeFilter struct {
	sma   *indicators.MovingAverage
	clock *session.Clock

	currentSession string
	lastClose      float64
	sampledThrough string // latest session date whose close is in the average
}

// NewRegimeFilter creates a regime filter over window daily closes.
func NewRegimeFilter(window int, clock *session.Clock) (*RegimeFilter, error) {
	if clock == nil {
		return nil, fmt.Errorf("regime filter needs a session clock")
	}
	sma, err := indicators.NewMovingAverage(indicators.MovingAverageConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: window},
		Type:            indicators.SimpleMovingAverage,
	})
	if err != nil {
		return nil, fmt.Errorf("regime filter: %w", err)
	}
	return &RegimeFilter{sma: sma, clock: clock}, nil
}

// Update consumes an intraday bar. A session's last close is added to the
// average when the first bar of a later session arrives.
func (r *RegimeFilter) Update(kline *domain.Kline) {
	date := r.clock.SessionDate(kline.EventTime())
	if r.currentSession != "" && date != r.currentSession {
		r.sample(r.currentSession, r.lastClose)
	}
	r.currentSession = date
	r.lastClose = kline.Close
}

func (r *RegimeFilter) sample(date string, close float64) {
	if date <= r.sampledThrough {
		return
	}
	r.sma.Add(close)
	r.sampledThrough = date
}

// IsReady reports whether the full window of daily closes has been seen.
func (r *RegimeFilter) IsReady() bool {
	return r.sma.IsReady()
}

// IsBullish reports price >= moving average.
func (r *RegimeFilter) IsBullish(price float64) bool {
	return price >= r.sma.Value()
}

// MovingAverage returns the current average.
func (r *RegimeFilter) MovingAverage() float64 {
	return r.sma.Value()
}
