package backtesting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"kdjBot/internal/domain"
)

// BarHandler consumes bars in order. app.TradingService satisfies it.
type BarHandler interface {
	HandleBar(ctx context.Context, kline *domain.Kline) error
}

// Warmer is implemented by handlers that accept a lookback without trading.
type Warmer interface {
	WarmUp(ctx context.Context, klines []*domain.Kline)
}

// Account reports the simulated balances after the replay.
type Account interface {
	AvailableCash(ctx context.Context) (float64, error)
	Equity() float64
}

// BacktestConfig holds configuration for a replay. Zero times disable the
// corresponding bound. Bars before StartTime warm a Warmer handler up.
type BacktestConfig struct {
	StartTime time.Time
	EndTime   time.Time
	Symbol    string // Only bars for this symbol when set
}

// BacktestResult summarises a replay.
type BacktestResult struct {
	WarmupBars  int // bars handed to the handler's WarmUp
	Bars        int // bars handed to the handler
	BarErrors   int // bars whose handling returned an error
	FirstBar    time.Time
	LastBar     time.Time
	InitialCash float64
	FinalCash   float64
	FinalEquity float64
}

// ErrNoBars is returned when nothing is left to replay after filtering.
var ErrNoBars = errors.New("no bars to replay")

// Backtest replays klines through handler in event-time order. Handler
// errors are counted, not fatal; only context cancellation stops the run.
func Backtest(ctx context.Context, handler BarHandler, account Account, klines []*domain.Kline, config BacktestConfig) (*BacktestResult, error) {
	warm, bars := selectBars(klines, config)
	if len(bars) == 0 {
		return nil, ErrNoBars
	}

	result := &BacktestResult{FirstBar: bars[0].EventTime(), LastBar: bars[len(bars)-1].EventTime()}
	if w, ok := handler.(Warmer); ok && len(warm) > 0 {
		w.WarmUp(ctx, warm)
		result.WarmupBars = len(warm)
	}
	cash, err := account.AvailableCash(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial cash: %w", err)
	}
	result.InitialCash = cash

	for _, k := range bars {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Bars++
		if err := handler.HandleBar(ctx, k); err != nil {
			result.BarErrors++
		}
	}

	if result.FinalCash, err = account.AvailableCash(ctx); err != nil {
		return result, fmt.Errorf("final cash: %w", err)
	}
	result.FinalEquity = account.Equity()
	return result, nil
}

// selectBars splits klines into the lookback before StartTime and the bars
// to replay, both in event-time order.
func selectBars(klines []*domain.Kline, config BacktestConfig) (warm, replay []*domain.Kline) {
	for _, k := range klines {
		if k == nil {
			continue
		}
		if config.Symbol != "" && k.Symbol != config.Symbol {
			continue
		}
		t := k.EventTime()
		switch {
		case !config.EndTime.IsZero() && !t.Before(config.EndTime):
		case !config.StartTime.IsZero() && t.Before(config.StartTime):
			warm = append(warm, k)
		default:
			replay = append(replay, k)
		}
	}
	byTime := func(bars []*domain.Kline) {
		sort.SliceStable(bars, func(i, j int) bool { return bars[i].EventTime().Before(bars[j].EventTime()) })
	}
	byTime(warm)
	byTime(replay)
	return warm, replay
}
