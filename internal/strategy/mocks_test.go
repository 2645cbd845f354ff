package strategy

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kdjBot/internal/domain"
	"kdjBot/internal/ports"
	"kdjBot/internal/session"
)

type mockLogger struct {
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockBroker is an OrderSink and Portfolio that records orders.
type mockBroker struct {
	cash         float64
	qty          float64
	orders       []float64
	liquidations int
	fillPrice    float64

	placeErr     error
	liquidateErr error
	holdingErr   error
	shortFill    bool
}

func (m *mockBroker) PlaceMarketOrder(ctx context.Context, symbol string, signedQty float64) (*ports.OrderResponse, error) {
	if m.placeErr != nil {
		return nil, m.placeErr
	}
	m.orders = append(m.orders, signedQty)
	if m.shortFill {
		return &ports.OrderResponse{Symbol: symbol, Status: "REJECTED"}, nil
	}
	m.qty += signedQty
	return &ports.OrderResponse{
		Symbol:        symbol,
		ClientOrderID: fmt.Sprintf("o-%d", len(m.orders)),
		Side:          domain.SideForQuantity(signedQty),
		OrigQuantity:  math.Abs(signedQty),
		ExecutedQty:   math.Abs(signedQty),
		AvgPrice:      m.fillPrice,
		Status:        "FILLED",
	}, nil
}

func (m *mockBroker) Liquidate(ctx context.Context, symbol string) (*ports.OrderResponse, error) {
	if m.liquidateErr != nil {
		return nil, m.liquidateErr
	}
	if m.qty == 0 {
		return nil, ports.ErrPositionNotFound
	}
	m.liquidations++
	resp := &ports.OrderResponse{
		Symbol:        symbol,
		ClientOrderID: fmt.Sprintf("l-%d", m.liquidations),
		Side:          domain.Sell,
		ExecutedQty:   m.qty,
		AvgPrice:      m.fillPrice,
		Status:        "FILLED",
	}
	m.qty = 0
	return resp, nil
}

func (m *mockBroker) Holding(ctx context.Context, symbol string) (*domain.Holding, error) {
	if m.holdingErr != nil {
		return nil, m.holdingErr
	}
	return &domain.Holding{Symbol: symbol, Quantity: m.qty}, nil
}

func (m *mockBroker) Holdings(ctx context.Context) ([]*domain.Holding, error) {
	return nil, nil
}

func (m *mockBroker) AvailableCash(ctx context.Context) (float64, error) {
	return m.cash, nil
}

// scriptedOscillator returns preset J values, one per update, after notReadyFor updates.
type scriptedOscillator struct {
	js          []float64
	n           int
	notReadyFor int
}

func (s *scriptedOscillator) Update(kline *domain.Kline) { s.n++ }

func (s *scriptedOscillator) IsReady() bool {
	i := s.n - 1 - s.notReadyFor
	return i >= 0 && i < len(s.js)
}

func (s *scriptedOscillator) Reading() domain.OscillatorReading {
	j := s.js[s.n-1-s.notReadyFor]
	return domain.OscillatorReading{FastK: j, SlowD: j, MomentumJ: j}
}

type stubRegime struct {
	ready   bool
	bullish bool
}

func (s *stubRegime) Update(kline *domain.Kline)   {}
func (s *stubRegime) IsReady() bool                { return s.ready }
func (s *stubRegime) IsBullish(price float64) bool { return s.bullish }

type fixedATR struct {
	value float64
	ready bool
}

func (f *fixedATR) Update(kline *domain.Kline) {}
func (f *fixedATR) IsReady() bool              { return f.ready }
func (f *fixedATR) Value() float64             { return f.value }

func utcClock(t *testing.T) *session.Clock {
	t.Helper()
	c, err := session.NewClock(session.Config{
		Location:              time.UTC,
		CloseHour:             16,
		BlackoutBeforeClose:   15 * time.Minute,
		EODTriggerBeforeClose: 10 * time.Minute,
	})
	require.NoError(t, err)
	return c
}

var barStart = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

// bar returns the i-th one-minute bar from barStart with a flat range.
func bar(i int, price float64) *domain.Kline {
	open := barStart.Add(time.Duration(i) * time.Minute)
	return &domain.Kline{
		Symbol:    "SOXL",
		OpenTime:  open,
		CloseTime: open.Add(time.Minute),
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		IsFinal:   true,
	}
}

// newScriptedEngine wires an engine whose J values, regime and ATR are fixed.
func newScriptedEngine(t *testing.T, broker *mockBroker, js []float64, regime *stubRegime) *Engine {
	t.Helper()
	cfg := DefaultConfig("SOXL")
	e, err := New(cfg, broker, broker, utcClock(t), &mockLogger{})
	require.NoError(t, err)
	e.oscillator = &scriptedOscillator{js: js}
	e.regime = regime
	e.stop = &VolatilityStop{cfg: cfg.Volatility, atr: &fixedATR{value: 1, ready: true}}
	return e
}
