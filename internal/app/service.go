package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"kdjBot/internal/domain"
	"kdjBot/internal/metrics"
	"kdjBot/internal/ports"
	"kdjBot/internal/risk"
	"kdjBot/internal/session"
)

// Config holds the service settings that are not owned by an engine.
type Config struct {
	Interval         string        // Trading bar interval, e.g. "1h"
	RegimeWindow     int           // Trading days of history the regime filter needs
	WarmupPadding    int           // Extra trading days fetched for gaps and holidays
	EODCheckInterval time.Duration // Live EOD ticker period
	ShutdownTimeout  time.Duration // Wait for the feed to stop on shutdown
}

// Dependencies are the collaborators of the service. Feed and History are
// only required by Start and Bootstrap.
type Dependencies struct {
	Logger    ports.Logger
	Orders    ports.OrderSink
	Portfolio ports.Portfolio
	States    ports.StateRepository
	Trades    ports.TradeRepository
	Clock     *session.Clock
	Feed      ports.BarFeed
	History   ports.HistoricalBars
}

// holdingSeeder is implemented by simulated portfolios that can recreate a
// holding from persisted state.
type holdingSeeder interface {
	SeedHolding(symbol string, quantity, avgPrice float64) error
}

type equityReporter interface {
	Equity() float64
}

// TradingService routes bars to per-instrument engines, runs the end-of-day
// guard once per session, persists state and journals round trips.
type TradingService struct {
	cfg       Config
	logger    ports.Logger
	orders    ports.OrderSink
	portfolio ports.Portfolio
	states    ports.StateRepository
	trades    ports.TradeRepository
	clock     *session.Clock
	feed      ports.BarFeed
	history   ports.HistoricalBars
	observer  ports.MarketObserver
	guard     *risk.EndOfDayGuard
	engines   map[string]ports.Strategy
	symbols   []string
	now       func() time.Time

	mu             sync.Mutex // Serializes bar handling and the EOD guard
	lastEODSession string
}

// NewTradingService creates a new application service instance.
func NewTradingService(cfg Config, deps Dependencies, engines ...ports.Strategy) (*TradingService, error) {
	if deps.Logger == nil || deps.Orders == nil || deps.Portfolio == nil || deps.States == nil || deps.Trades == nil || deps.Clock == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for TradingService", ports.ErrConfigurationError)
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("%w: at least one strategy engine is required", ports.ErrConfigurationError)
	}
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.EODCheckInterval <= 0 {
		cfg.EODCheckInterval = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.WarmupPadding < 0 {
		cfg.WarmupPadding = 0
	}

	s := &TradingService{
		cfg:       cfg,
		logger:    deps.Logger,
		orders:    deps.Orders,
		portfolio: deps.Portfolio,
		states:    deps.States,
		trades:    deps.Trades,
		clock:     deps.Clock,
		feed:      deps.Feed,
		history:   deps.History,
		engines:   make(map[string]ports.Strategy, len(engines)),
		now:       time.Now,
	}
	if obs, ok := deps.Orders.(ports.MarketObserver); ok {
		s.observer = obs
	}
	for _, e := range engines {
		if e == nil {
			return nil, fmt.Errorf("%w: nil strategy engine", ports.ErrConfigurationError)
		}
		if _, dup := s.engines[e.Symbol()]; dup {
			return nil, fmt.Errorf("%w: duplicate engine for %s", ports.ErrConfigurationError, e.Symbol())
		}
		s.engines[e.Symbol()] = e
		s.symbols = append(s.symbols, e.Symbol())
	}
	sort.Strings(s.symbols)

	guard, err := risk.NewEndOfDayGuard(deps.Orders, deps.Portfolio, risk.ResetterFunc(s.resetPosition), deps.Logger)
	if err != nil {
		return nil, err
	}
	s.guard = guard
	return s, nil
}

// Symbols returns the traded instruments in sorted order.
func (s *TradingService) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

// Snapshot returns a copy of the instrument state for symbol.
func (s *TradingService) Snapshot(symbol string) (domain.InstrumentState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engines[symbol]
	if !ok {
		return domain.InstrumentState{}, false
	}
	return e.State(), true
}

// WarmupSessions is how many trading days of bars must precede the first
// evaluated bar for every indicator to be ready.
func (s *TradingService) WarmupSessions() int {
	return s.cfg.RegimeWindow + s.cfg.WarmupPadding
}

// Bootstrap restores persisted state and warms the indicators from history.
func (s *TradingService) Bootstrap(ctx context.Context) error {
	op := "Bootstrap"
	if s.history == nil {
		return fmt.Errorf("%s: %w: historical bar source is required", op, ports.ErrConfigurationError)
	}
	now := s.now()
	start := s.clock.AddTradingDays(now, -s.WarmupSessions())

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, symbol := range s.symbols {
		e := s.engines[symbol]
		fields := map[string]interface{}{"symbol": symbol}

		st, err := s.states.LoadState(ctx, symbol)
		switch {
		case errors.Is(err, ports.ErrNotFound):
			s.logger.Info(ctx, op+": No persisted state, starting flat", fields)
		case err != nil:
			return fmt.Errorf("%s: load state for %s: %w", op, symbol, err)
		default:
			e.Restore(st)
			s.seedRestoredHolding(ctx, e.State())
		}

		klines, err := s.history.GetKlinesRange(ctx, symbol, s.cfg.Interval, start, now)
		if err != nil {
			return fmt.Errorf("%s: warm-up bars for %s: %w", op, symbol, err)
		}
		s.warmUp(ctx, e, completedBars(klines, now))
	}
	return nil
}

// WarmUp feeds historical bars into the engines without trading, e.g. the
// lookback that precedes a replay. Bars for untraded symbols are ignored.
func (s *TradingService) WarmUp(ctx context.Context, klines []*domain.Kline) {
	bySymbol := make(map[string][]*domain.Kline, len(s.engines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		if _, ok := s.engines[k.Symbol]; ok {
			bySymbol[k.Symbol] = append(bySymbol[k.Symbol], k)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, symbol := range s.symbols {
		if bars := bySymbol[symbol]; len(bars) > 0 {
			s.warmUp(ctx, s.engines[symbol], bars)
		}
	}
}

// warmUp primes e with bars in event-time order. Caller holds s.mu.
func (s *TradingService) warmUp(ctx context.Context, e ports.Strategy, klines []*domain.Kline) {
	sort.SliceStable(klines, func(i, j int) bool { return klines[i].EventTime().Before(klines[j].EventTime()) })
	e.WarmUp(ctx, klines)
	if len(klines) > 0 && s.observer != nil {
		s.observer.ObserveKline(klines[len(klines)-1])
	}
}

func (s *TradingService) seedRestoredHolding(ctx context.Context, st domain.InstrumentState) {
	seeder, ok := s.portfolio.(holdingSeeder)
	if !ok || !st.IsLong() {
		return
	}
	if err := seeder.SeedHolding(st.Symbol, st.Quantity, *st.EntryPrice); err != nil {
		s.logger.Warn(ctx, "Bootstrap: Could not seed restored holding", map[string]interface{}{"symbol": st.Symbol, "error": err.Error()})
	}
}

// completedBars drops bars that have not closed by now (the forming bar).
func completedBars(klines []*domain.Kline, now time.Time) []*domain.Kline {
	out := klines[:0:0]
	for _, k := range klines {
		if k != nil && !k.CloseTime.After(now) {
			out = append(out, k)
		}
	}
	return out
}

// HandleBar processes one bar. Errors are logged and counted, then returned
// so a caller may observe them; they never leave the service inconsistent.
func (s *TradingService) HandleBar(ctx context.Context, k *domain.Kline) (err error) {
	op := "HandleBar"
	if k == nil || !k.IsFinal {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w: %v", op, ports.ErrEvaluationPanic, r)
			metrics.BarErrors.WithLabelValues(k.Symbol).Inc()
			s.logger.Error(ctx, err, op+": Recovered from panic while evaluating bar", map[string]interface{}{"symbol": k.Symbol})
		}
	}()

	e, ok := s.engines[k.Symbol]
	if !ok {
		s.logger.Debug(ctx, op+": Ignoring bar for untraded symbol", map[string]interface{}{"symbol": k.Symbol})
		return nil
	}

	if s.observer != nil {
		s.observer.ObserveKline(k)
	}
	at := k.EventTime()
	if eodErr := s.maybeRunEOD(ctx, at); eodErr != nil {
		err = multierr.Append(err, eodErr)
	}

	d, stepErr := e.Step(ctx, k)
	if d != nil {
		s.recordDecision(ctx, d)
	}
	if stepErr != nil {
		metrics.BarErrors.WithLabelValues(k.Symbol).Inc()
		s.logger.Error(ctx, stepErr, op+": Bar evaluation failed", map[string]interface{}{"symbol": k.Symbol, "time": at})
		err = multierr.Append(err, stepErr)
	}
	if saveErr := s.saveState(ctx, e); saveErr != nil {
		err = multierr.Append(err, saveErr)
	}
	s.reportEquity()
	return err
}

func (s *TradingService) recordDecision(ctx context.Context, d *domain.Decision) {
	metrics.Decisions.WithLabelValues(d.Symbol, string(d.Action)).Inc()
	if d.Reading != nil {
		metrics.MomentumJ.WithLabelValues(d.Symbol).Set(d.Reading.MomentumJ)
	}
	switch {
	case d.Action == domain.ActionExit:
		metrics.StopPrice.WithLabelValues(d.Symbol).Set(0)
	case d.Volatility != nil:
		metrics.StopPrice.WithLabelValues(d.Symbol).Set(d.Volatility.StopPrice)
	}
	switch d.Action {
	case domain.ActionEnter:
		metrics.Orders.WithLabelValues(d.Symbol, string(domain.Buy)).Inc()
	case domain.ActionExit:
		if d.OrderID != "" {
			metrics.Orders.WithLabelValues(d.Symbol, string(domain.Sell)).Inc()
		}
		s.journal(ctx, d.Trade)
	}
}

func (s *TradingService) journal(ctx context.Context, t *domain.Trade) {
	if t == nil {
		return
	}
	metrics.Exits.WithLabelValues(t.Symbol, string(t.CloseReason)).Inc()
	if _, err := s.trades.CreateTrade(ctx, t); err != nil {
		s.logger.Error(ctx, err, "Failed to journal trade", map[string]interface{}{"symbol": t.Symbol, "reason": string(t.CloseReason), "pnl": t.PNL})
	}
}

func (s *TradingService) saveState(ctx context.Context, e ports.Strategy) error {
	st := e.State()
	if err := s.states.SaveState(ctx, &st); err != nil {
		s.logger.Error(ctx, err, "Failed to persist instrument state", map[string]interface{}{"symbol": st.Symbol})
		return err
	}
	return nil
}

func (s *TradingService) reportEquity() {
	if r, ok := s.portfolio.(equityReporter); ok {
		metrics.Equity.Set(r.Equity())
	}
}

// maybeRunEOD runs the guard when t falls inside the trigger window of a
// session it has not run for yet. Caller holds s.mu.
func (s *TradingService) maybeRunEOD(ctx context.Context, t time.Time) error {
	sessionDate, due := s.clock.EODDue(t, s.lastEODSession)
	if !due {
		return nil
	}
	s.lastEODSession = sessionDate
	return s.runEOD(ctx, sessionDate)
}

// RunEndOfDay runs the guard immediately, regardless of the clock.
func (s *TradingService) RunEndOfDay(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runEOD(ctx, s.clock.SessionDate(s.now()))
}

func (s *TradingService) runEOD(ctx context.Context, sessionDate string) error {
	op := "EndOfDay"
	metrics.EODRuns.Inc()
	report, err := s.guard.Run(ctx)
	if report != nil {
		held := make([]string, 0, len(report.Held))
		for _, h := range report.Held {
			held = append(held, h.Symbol)
		}
		for _, symbol := range report.LiquidatedSymbols() {
			metrics.EODLiquidations.WithLabelValues(symbol).Inc()
		}
		s.logger.Info(ctx, op+": Session summary", map[string]interface{}{
			"session":    sessionDate,
			"liquidated": report.LiquidatedSymbols(),
			"held":       held,
		})
	}
	if err != nil {
		s.logger.Error(ctx, err, op+": Guard reported failures", map[string]interface{}{"session": sessionDate})
	}
	s.reportEquity()
	return err
}

// resetPosition is the guard's callback after a loser was liquidated.
// Caller holds s.mu.
func (s *TradingService) resetPosition(ctx context.Context, symbol string, fill *ports.OrderResponse) {
	e, ok := s.engines[symbol]
	if !ok {
		s.logger.Warn(ctx, "EndOfDay: Liquidated holding has no engine", map[string]interface{}{"symbol": symbol})
		return
	}
	at := s.now()
	if fill != nil && !fill.Timestamp.IsZero() {
		at = fill.Timestamp
	}
	trade := e.ForceFlat(ctx, fill, at, domain.CloseReasonEndOfDay)
	if trade != nil {
		metrics.StopPrice.WithLabelValues(symbol).Set(0)
		s.journal(ctx, trade)
	}
	_ = s.saveState(ctx, e)
}

// Start restores state, warms up, then streams bars until ctx is cancelled
// or every feed stops.
func (s *TradingService) Start(ctx context.Context) error {
	op := "Start"
	if s.feed == nil {
		return fmt.Errorf("%s: %w: bar feed is required", op, ports.ErrConfigurationError)
	}
	s.logger.Info(ctx, op+": Starting trading service", map[string]interface{}{"symbols": s.symbols, "interval": s.cfg.Interval})
	if err := s.Bootstrap(ctx); err != nil {
		return err
	}

	type stream struct {
		symbol string
		doneC  chan struct{}
		stopC  chan struct{}
	}
	streams := make([]stream, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		doneC, stopC, err := s.feed.StreamKlines(ctx, symbol, s.cfg.Interval,
			func(k *domain.Kline) { _ = s.HandleBar(ctx, k) },
			func(err error) {
				s.logger.Error(ctx, err, op+": Bar feed error", map[string]interface{}{"symbol": symbol})
			})
		if err != nil {
			for _, st := range streams {
				close(st.stopC)
			}
			return fmt.Errorf("%s: stream %s: %w", op, symbol, err)
		}
		streams = append(streams, stream{symbol: symbol, doneC: doneC, stopC: stopC})
	}

	ticker := time.NewTicker(s.cfg.EODCheckInterval)
	defer ticker.Stop()

	allDone := make(chan struct{})
	go func() {
		for _, st := range streams {
			<-st.doneC
		}
		close(allDone)
	}()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			_ = s.maybeRunEOD(ctx, s.now())
			s.mu.Unlock()
		case <-allDone:
			if ctx.Err() != nil {
				s.logger.Info(ctx, op+": Trading service stopped")
				return nil
			}
			return fmt.Errorf("%s: %w", op, ports.ErrFeedClosed)
		case <-ctx.Done():
			s.logger.Info(ctx, op+": Context cancelled, stopping bar feeds")
			for _, st := range streams {
				close(st.stopC)
			}
			select {
			case <-allDone:
			case <-time.After(s.cfg.ShutdownTimeout):
				s.logger.Warn(ctx, op+": Timeout waiting for bar feeds to stop")
			}
			s.logger.Info(ctx, op+": Trading service stopped")
			return nil
		}
	}
}
