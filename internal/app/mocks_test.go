package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kdjBot/internal/adapters/paper"
	"kdjBot/internal/domain"
	"kdjBot/internal/ports"
	"kdjBot/internal/session"
)

type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockStrategy returns a scripted decision and records what it was fed.
type mockStrategy struct {
	symbol   string
	state    *domain.InstrumentState
	decision func(k *domain.Kline) *domain.Decision
	stepErr  error
	panics   bool

	steps    []*domain.Kline
	warm     []*domain.Kline
	restored *domain.InstrumentState
	forced   []domain.CloseReason
}

func newMockStrategy(symbol string) *mockStrategy {
	return &mockStrategy{symbol: symbol, state: domain.NewInstrumentState(symbol, 22.2, 62.6)}
}

func (m *mockStrategy) Symbol() string { return m.symbol }

func (m *mockStrategy) WarmUp(ctx context.Context, klines []*domain.Kline) {
	m.warm = append(m.warm, klines...)
}

func (m *mockStrategy) Step(ctx context.Context, k *domain.Kline) (*domain.Decision, error) {
	if m.panics {
		panic("boom")
	}
	m.steps = append(m.steps, k)
	d := &domain.Decision{Symbol: m.symbol, Time: k.EventTime(), Price: k.Close, Action: domain.ActionHold}
	if m.decision != nil {
		d = m.decision(k)
	}
	return d, m.stepErr
}

func (m *mockStrategy) ForceFlat(ctx context.Context, fill *ports.OrderResponse, at time.Time, reason domain.CloseReason) *domain.Trade {
	m.forced = append(m.forced, reason)
	price := *m.state.EntryPrice
	if fill != nil {
		price = fill.AvgPrice
	}
	t := m.state.CloseTrade(price, 0, at, reason)
	m.state.Clear()
	return t
}

func (m *mockStrategy) State() domain.InstrumentState { return m.state.Clone() }

func (m *mockStrategy) Restore(st *domain.InstrumentState) {
	m.restored = st
	c := st.Clone()
	m.state = &c
}

// mockRepo is an in-memory StateRepository and TradeRepository.
type mockRepo struct {
	mu      sync.Mutex
	states  map[string]domain.InstrumentState
	trades  []*domain.Trade
	saves   int
	saveErr error
	loadErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{states: make(map[string]domain.InstrumentState)}
}

func (r *mockRepo) SaveState(ctx context.Context, st *domain.InstrumentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.states[st.Symbol] = st.Clone()
	return nil
}

func (r *mockRepo) LoadState(ctx context.Context, symbol string) (*domain.InstrumentState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	st, ok := r.states[symbol]
	if !ok {
		return nil, ports.ErrNotFound
	}
	c := st.Clone()
	return &c, nil
}

func (r *mockRepo) CreateTrade(ctx context.Context, t *domain.Trade) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
	t.ID = int64(len(r.trades))
	return t.ID, nil
}

func (r *mockRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return nil, nil
}

func (r *mockRepo) GetTotalProfit(ctx context.Context) (float64, error) { return 0, nil }

// mockHistory serves canned klines and records the requested range.
type mockHistory struct {
	bars       []*domain.Kline
	err        error
	start, end time.Time
	interval   string
}

func (h *mockHistory) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	h.start, h.end, h.interval = start, end, interval
	if h.err != nil {
		return nil, h.err
	}
	var out []*domain.Kline
	for _, k := range h.bars {
		if k.Symbol == symbol {
			out = append(out, k)
		}
	}
	return out, nil
}

// mockFeed pushes queued bars when streaming starts.
type mockFeed struct {
	bars []*domain.Kline
}

func (f *mockFeed) StreamKlines(ctx context.Context, symbol, interval string, handler func(*domain.Kline), errHandler func(error)) (chan struct{}, chan struct{}, error) {
	doneC := make(chan struct{})
	stopC := make(chan struct{})
	go func() {
		defer close(doneC)
		for _, k := range f.bars {
			handler(k)
		}
		select {
		case <-stopC:
		case <-ctx.Done():
		}
	}()
	return doneC, stopC, nil
}

var sessionDay = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func clockAt(hour, minute int) time.Time {
	return sessionDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func finalBar(symbol string, close time.Time, price float64) *domain.Kline {
	return &domain.Kline{
		Symbol: symbol, Interval: "1h", OpenTime: close.Add(-time.Hour), CloseTime: close,
		Open: price, High: price, Low: price, Close: price, IsFinal: true,
	}
}

type fixture struct {
	svc    *TradingService
	broker *paper.Broker
	repo   *mockRepo
	logger *mockLogger
	engine *mockStrategy
}

func newFixture(t *testing.T, deps Dependencies) *fixture {
	t.Helper()
	logger := &mockLogger{}
	broker, err := paper.NewBroker(paper.Config{StartingCash: 30000, Logger: logger})
	require.NoError(t, err)
	clock, err := session.NewClock(session.Config{
		Location: time.UTC, CloseHour: 16,
		BlackoutBeforeClose: 15 * time.Minute, EODTriggerBeforeClose: 10 * time.Minute,
	})
	require.NoError(t, err)
	repo := newMockRepo()
	engine := newMockStrategy("SOXL")

	deps.Logger = logger
	deps.Orders = broker
	deps.Portfolio = broker
	deps.States = repo
	deps.Trades = repo
	deps.Clock = clock
	svc, err := NewTradingService(Config{Interval: "1h", RegimeWindow: 200, WarmupPadding: 10, EODCheckInterval: 10 * time.Millisecond}, deps, engine)
	require.NoError(t, err)
	svc.now = func() time.Time { return clockAt(12, 0) }
	return &fixture{svc: svc, broker: broker, repo: repo, logger: logger, engine: engine}
}
