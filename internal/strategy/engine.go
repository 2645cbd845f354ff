package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kdjBot/internal/domain"
	"kdjBot/internal/ports"
	"kdjBot/internal/risk"
	"kdjBot/internal/session"
)

// Reasons attached to decisions that did not transition.
const (
	ReasonBlackout     = "blackout"
	ReasonWarmingUp    = "warming_up"
	ReasonFirstReading = "first_reading"
	ReasonRegimeVeto   = "regime_bearish"
	ReasonZeroSize     = "zero_size"
	ReasonUnfilled     = "unfilled"
)

// Config holds parameters for one instrument's signal engine.
type Config struct {
	Symbol           string
	Oscillator       OscillatorConfig
	BuyThreshold     float64 // enter on an upward J crossing
	SellThreshold    float64 // exit on a downward J crossing
	Volatility       VolatilityConfig
	RegimeWindow     int     // daily closes in the trend average, default 200
	PerTradeNotional float64 // target allocation per entry
}

// DefaultConfig returns the stock parameters for symbol.
func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:           symbol,
		Oscillator:       OscillatorConfig{Period: 14, KPeriod: 2, DPeriod: 2},
		BuyThreshold:     22.2,
		SellThreshold:    62.6,
		Volatility:       VolatilityConfig{ATRPeriod: 14, Multiplier: 3.0, FallbackPct: 0.10},
		RegimeWindow:     200,
		PerTradeNotional: 20000,
	}
}

func (c Config) validate() error {
	if c.Symbol == "" {
		return errors.New("symbol is required")
	}
	if c.BuyThreshold >= c.SellThreshold {
		return fmt.Errorf("buy threshold %.2f must be below sell threshold %.2f", c.BuyThreshold, c.SellThreshold)
	}
	if c.PerTradeNotional <= 0 {
		return fmt.Errorf("per-trade notional must be positive, got %f", c.PerTradeNotional)
	}
	return nil
}

type momentumSource interface {
	Update(kline *domain.Kline)
	IsReady() bool
	Reading() domain.OscillatorReading
}

type regimeGate interface {
	Update(kline *domain.Kline)
	IsReady() bool
	IsBullish(price float64) bool
}

type trailingStop interface {
	Update(kline *domain.Kline)
	IsReady() bool
	Evaluate(state *domain.InstrumentState, price float64) (domain.VolatilitySnapshot, bool)
}

// Engine is the FLAT/LONG state machine for a single instrument.
// It is not safe for concurrent use; callers deliver bars serially.
type Engine struct {
	cfg       Config
	logger    ports.Logger
	orders    ports.OrderSink
	portfolio ports.Portfolio
	clock     *session.Clock
	sizer     *risk.PositionSizer

	oscillator momentumSource
	regime     regimeGate
	stop       trailingStop

	state       *domain.InstrumentState
	lastBarTime time.Time
	lastPrice   float64
}

var _ ports.Strategy = (*Engine)(nil)

// New creates a signal engine for cfg.Symbol.
func New(cfg Config, orders ports.OrderSink, portfolio ports.Portfolio, clock *session.Clock, logger ports.Logger) (*Engine, error) {
	if orders == nil || portfolio == nil || clock == nil || logger == nil {
		return nil, fmt.Errorf("%w: engine needs orders, portfolio, clock and logger", ports.ErrConfigurationError)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrConfigurationError, err)
	}
	oscillator, err := NewOscillatorStream(cfg.Oscillator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrConfigurationError, err)
	}
	regime, err := NewRegimeFilter(cfg.RegimeWindow, clock)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrConfigurationError, err)
	}
	stop, err := NewVolatilityStop(cfg.Volatility)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrConfigurationError, err)
	}

	return &Engine{
		cfg:        cfg,
		logger:     logger,
		orders:     orders,
		portfolio:  portfolio,
		clock:      clock,
		sizer:      risk.NewPositionSizer(),
		oscillator: oscillator,
		regime:     regime,
		stop:       stop,
		state:      domain.NewInstrumentState(cfg.Symbol, cfg.BuyThreshold, cfg.SellThreshold),
	}, nil
}

// Symbol returns the instrument this engine trades.
func (e *Engine) Symbol() string { return e.cfg.Symbol }

// State returns a copy of the current instrument state.
func (e *Engine) State() domain.InstrumentState { return e.state.Clone() }

// Restore adopts a persisted state. Thresholds stay as configured.
func (e *Engine) Restore(st *domain.InstrumentState) {
	if st == nil || st.Symbol != e.cfg.Symbol {
		return
	}
	restored := st.Clone()
	restored.BuyThreshold = e.cfg.BuyThreshold
	restored.SellThreshold = e.cfg.SellThreshold
	if restored.EntryPrice == nil || restored.HighWaterMark == nil {
		restored.Clear()
	}
	e.state = &restored
	e.logger.Info(context.Background(), "Engine.Restore: Restored instrument state", map[string]interface{}{
		"symbol": e.cfg.Symbol,
		"status": string(e.state.Status()),
	})
}

// WarmUp feeds bars into the indicators without evaluating signals.
func (e *Engine) WarmUp(ctx context.Context, klines []*domain.Kline) {
	fed := 0
	for _, k := range klines {
		if k == nil || !k.EventTime().After(e.lastBarTime) {
			continue
		}
		e.updateIndicators(k)
		fed++
	}
	e.logger.Info(ctx, "Engine.WarmUp: Indicators primed", map[string]interface{}{
		"symbol":           e.cfg.Symbol,
		"bars":             fed,
		"oscillator_ready": e.oscillator.IsReady(),
		"stop_ready":       e.stop.IsReady(),
		"regime_ready":     e.regime.IsReady(),
	})
}

// Readiness reports which indicators have a full window.
type Readiness struct {
	Oscillator bool
	Stop       bool
	Regime     bool
}

// Readiness returns the indicator readiness after the bars seen so far.
func (e *Engine) Readiness() Readiness {
	return Readiness{
		Oscillator: e.oscillator.IsReady(),
		Stop:       e.stop.IsReady(),
		Regime:     e.regime.IsReady(),
	}
}

func (e *Engine) updateIndicators(k *domain.Kline) {
	e.oscillator.Update(k)
	e.stop.Update(k)
	e.regime.Update(k)
	e.lastBarTime = k.EventTime()
	e.lastPrice = k.Close
}

// Step evaluates one bar: stop check, then entry, then exit, then the
// previous momentum is recorded. At most one transition happens.
// A returned error never leaves the state half-updated.
func (e *Engine) Step(ctx context.Context, kline *domain.Kline) (*domain.Decision, error) {
	op := "Engine.Step"
	if kline == nil {
		return nil, fmt.Errorf("%s: %w: nil kline", op, ports.ErrInvalidRequest)
	}
	if kline.Symbol != "" && kline.Symbol != e.cfg.Symbol {
		return nil, fmt.Errorf("%s: %w: got %s, want %s", op, ports.ErrSymbolMismatch, kline.Symbol, e.cfg.Symbol)
	}

	at := kline.EventTime()
	price := kline.Close
	if at.After(e.lastBarTime) {
		e.updateIndicators(kline)
	} else {
		e.logger.Debug(ctx, op+": Bar already seen, indicators unchanged", map[string]interface{}{
			"symbol": e.cfg.Symbol,
			"time":   at,
		})
	}

	d := &domain.Decision{Symbol: e.cfg.Symbol, Time: at, Price: price, Action: domain.ActionSkip}
	if e.clock.InBlackout(at) {
		d.Reason = ReasonBlackout
		return d, nil
	}
	if !e.oscillator.IsReady() || !e.stop.IsReady() {
		d.Reason = ReasonWarmingUp
		return d, nil
	}

	reading := e.oscillator.Reading()
	d.Action = domain.ActionHold
	d.Reading = &reading
	if prev := e.state.PreviousMomentum; prev != nil {
		p := *prev
		d.PreviousMomentum = &p
	}
	defer e.state.SetPreviousMomentum(reading.MomentumJ)

	if err := e.reconcile(ctx, price, at); err != nil {
		return d, fmt.Errorf("%s: %w", op, err)
	}

	if e.state.IsLong() {
		snap, triggered := e.stop.Evaluate(e.state, price)
		d.Volatility = &snap
		if triggered {
			return d, e.exit(ctx, d, domain.CloseReasonTrailingStop)
		}
	}

	if d.PreviousMomentum == nil {
		d.Reason = ReasonFirstReading
		return d, nil
	}
	prev, j := *d.PreviousMomentum, reading.MomentumJ

	if e.state.IsFlat() {
		if !crossedAbove(prev, j, e.state.BuyThreshold) {
			return d, nil
		}
		if e.regime.IsReady() && !e.regime.IsBullish(price) {
			d.Reason = ReasonRegimeVeto
			e.logger.Info(ctx, op+": Buy signal vetoed by regime filter", map[string]interface{}{
				"symbol": e.cfg.Symbol,
				"price":  price,
				"j":      j,
			})
			return d, nil
		}
		return d, e.enter(ctx, d)
	}

	if crossedBelow(prev, j, e.state.SellThreshold) {
		return d, e.exit(ctx, d, domain.CloseReasonSignal)
	}
	return d, nil
}

// crossedAbove is a strict upward crossing of level between two bars.
func crossedAbove(prev, cur, level float64) bool {
	return prev < level && cur > level
}

// crossedBelow is a strict downward crossing of level between two bars.
func crossedBelow(prev, cur, level float64) bool {
	return prev > level && cur < level
}

// reconcile aligns the state with what the portfolio actually holds.
func (e *Engine) reconcile(ctx context.Context, price float64, at time.Time) error {
	h, err := e.portfolio.Holding(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("query holding for %s: %w", e.cfg.Symbol, err)
	}
	switch {
	case e.state.IsLong() && !h.IsOpen():
		e.logger.Warn(ctx, "Engine.reconcile: Position closed outside the engine, clearing state", map[string]interface{}{
			"symbol":      e.cfg.Symbol,
			"entry_price": *e.state.EntryPrice,
		})
		e.state.Clear()
	case e.state.IsFlat() && h.IsOpen():
		e.logger.Warn(ctx, "Engine.reconcile: Adopting untracked position", map[string]interface{}{
			"symbol":   e.cfg.Symbol,
			"quantity": h.Quantity,
			"price":    price,
		})
		e.state.Open(price, at, h.Quantity)
	}
	return nil
}

func (e *Engine) enter(ctx context.Context, d *domain.Decision) error {
	op := "Engine.enter"
	cash, err := e.portfolio.AvailableCash(ctx)
	if err != nil {
		return fmt.Errorf("%s: available cash for %s: %w", op, e.cfg.Symbol, err)
	}
	qty := e.sizer.Size(d.Price, e.cfg.PerTradeNotional, cash)
	if qty <= 0 {
		d.Reason = ReasonZeroSize
		e.logger.Info(ctx, op+": Buy signal sized to zero", map[string]interface{}{
			"symbol": e.cfg.Symbol,
			"price":  d.Price,
			"cash":   cash,
		})
		return nil
	}

	resp, err := e.orders.PlaceMarketOrder(ctx, e.cfg.Symbol, float64(qty))
	if err != nil {
		return fmt.Errorf("%s: buy %d %s: %w", op, qty, e.cfg.Symbol, err)
	}
	if resp == nil || resp.ExecutedQty <= 0 {
		d.Reason = ReasonUnfilled
		e.logger.Warn(ctx, op+": Buy order not filled", map[string]interface{}{
			"symbol":   e.cfg.Symbol,
			"quantity": qty,
		})
		return nil
	}

	e.state.Open(d.Price, d.Time, resp.ExecutedQty)
	d.Action = domain.ActionEnter
	d.Quantity = resp.ExecutedQty
	d.OrderID = resp.ClientOrderID
	e.logger.Info(ctx, op+": Entered long", map[string]interface{}{
		"symbol":   e.cfg.Symbol,
		"price":    d.Price,
		"quantity": resp.ExecutedQty,
		"j":        d.Reading.MomentumJ,
		"order_id": resp.ClientOrderID,
	})
	return nil
}

func (e *Engine) exit(ctx context.Context, d *domain.Decision, reason domain.CloseReason) error {
	op := "Engine.exit"
	resp, err := e.orders.Liquidate(ctx, e.cfg.Symbol)
	if err != nil {
		if !errors.Is(err, ports.ErrPositionNotFound) {
			return fmt.Errorf("%s: liquidate %s (%s): %w", op, e.cfg.Symbol, reason, err)
		}
		e.logger.Warn(ctx, op+": Nothing to liquidate, clearing state", map[string]interface{}{
			"symbol": e.cfg.Symbol,
			"reason": string(reason),
		})
		resp = nil
	}

	trade := e.closeState(resp, d.Price, d.Time, reason)
	d.Action = domain.ActionExit
	d.Reason = string(reason)
	d.Trade = trade
	if trade != nil {
		d.Quantity = trade.Quantity
		d.OrderID = trade.OrderID
		e.logger.Info(ctx, op+": Exited long", map[string]interface{}{
			"symbol":      e.cfg.Symbol,
			"reason":      string(reason),
			"entry_price": trade.EntryPrice,
			"exit_price":  trade.ExitPrice,
			"quantity":    trade.Quantity,
			"pnl":         trade.PNL,
		})
	}
	return nil
}

// ForceFlat clears the position after a liquidation issued by someone else
// (the end-of-day guard) and returns the round trip.
func (e *Engine) ForceFlat(ctx context.Context, fill *ports.OrderResponse, at time.Time, reason domain.CloseReason) *domain.Trade {
	if e.state.IsFlat() {
		return nil
	}
	fallback := e.lastPrice
	if fallback <= 0 {
		fallback = *e.state.EntryPrice
	}
	trade := e.closeState(fill, fallback, at, reason)
	e.logger.Info(ctx, "Engine.ForceFlat: Position cleared", map[string]interface{}{
		"symbol": e.cfg.Symbol,
		"reason": string(reason),
		"pnl":    trade.PNL,
	})
	return trade
}

// closeState builds the trade from the fill (falling back to fallbackPrice
// and the tracked quantity) and returns the state to FLAT.
func (e *Engine) closeState(fill *ports.OrderResponse, fallbackPrice float64, at time.Time, reason domain.CloseReason) *domain.Trade {
	exitPrice, qty, orderID := fallbackPrice, e.state.Quantity, ""
	if fill != nil {
		if fill.AvgPrice > 0 {
			exitPrice = fill.AvgPrice
		}
		if fill.ExecutedQty > 0 {
			qty = fill.ExecutedQty
		}
		orderID = fill.ClientOrderID
	}
	trade := e.state.CloseTrade(exitPrice, qty, at, reason)
	if trade != nil {
		trade.OrderID = orderID
	}
	e.state.Clear()
	return trade
}
