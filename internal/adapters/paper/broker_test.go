package paper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kdjBot/internal/domain"
	"kdjBot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var t0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func mark(b *Broker, symbol string, price float64) {
	b.ObserveKline(&domain.Kline{Symbol: symbol, Close: price, CloseTime: t0, IsFinal: true})
}

func newBroker(t *testing.T, cash float64) *Broker {
	t.Helper()
	b, err := NewBroker(Config{StartingCash: cash, Logger: &mockLogger{}})
	require.NoError(t, err)
	return b
}

func TestBroker_BuyMarkSell(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, 30000)
	mark(b, "SOXL", 50)

	resp, err := b.PlaceMarketOrder(ctx, "SOXL", 400)
	require.NoError(t, err)
	assert.Equal(t, domain.Buy, resp.Side)
	assert.Equal(t, 400.0, resp.ExecutedQty)
	assert.Equal(t, 50.0, resp.AvgPrice)
	assert.Equal(t, "FILLED", resp.Status)
	assert.NotEmpty(t, resp.ClientOrderID)
	assert.True(t, t0.Equal(resp.Timestamp))

	cash, _ := b.AvailableCash(ctx)
	assert.Equal(t, 10000.0, cash)

	mark(b, "SOXL", 45)
	h, err := b.Holding(ctx, "SOXL")
	require.NoError(t, err)
	assert.Equal(t, 400.0, h.Quantity)
	assert.Equal(t, 50.0, h.AvgPrice)
	assert.Equal(t, 45.0, h.MarketPrice)
	assert.Equal(t, -2000.0, h.UnrealizedProfit)
	assert.Equal(t, 28000.0, b.Equity())

	resp, err = b.Liquidate(ctx, "SOXL")
	require.NoError(t, err)
	assert.Equal(t, domain.Sell, resp.Side)
	assert.Equal(t, 400.0, resp.ExecutedQty)

	cash, _ = b.AvailableCash(ctx)
	assert.Equal(t, 28000.0, cash)
	h, _ = b.Holding(ctx, "SOXL")
	assert.False(t, h.IsOpen())
	all, _ := b.Holdings(ctx)
	assert.Empty(t, all)
}

func TestBroker_AverageCost(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, 10000)
	mark(b, "SOXL", 10)
	_, err := b.PlaceMarketOrder(ctx, "SOXL", 100)
	require.NoError(t, err)
	mark(b, "SOXL", 20)
	_, err = b.PlaceMarketOrder(ctx, "SOXL", 100)
	require.NoError(t, err)

	h, _ := b.Holding(ctx, "SOXL")
	assert.Equal(t, 200.0, h.Quantity)
	assert.Equal(t, 15.0, h.AvgPrice)
	assert.Equal(t, 1000.0, h.UnrealizedProfit)
}

func TestBroker_Rejections(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, 1000)

	_, err := b.PlaceMarketOrder(ctx, "SOXL", 1)
	assert.ErrorIs(t, err, ports.ErrNoMarketPrice)

	mark(b, "SOXL", 50)
	_, err = b.PlaceMarketOrder(ctx, "SOXL", 21)
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)

	_, err = b.PlaceMarketOrder(ctx, "SOXL", -1)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = b.PlaceMarketOrder(ctx, "SOXL", 0)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = b.Liquidate(ctx, "SOXL")
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)

	cash, _ := b.AvailableCash(ctx)
	assert.Equal(t, 1000.0, cash, "rejected orders leave cash untouched")
}

func TestBroker_HoldingsSorted(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, 10000)
	for _, s := range []string{"TQQQ", "SOXL"} {
		mark(b, s, 10)
		_, err := b.PlaceMarketOrder(ctx, s, 10)
		require.NoError(t, err)
	}
	all, err := b.Holdings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "SOXL", all[0].Symbol)
	assert.Equal(t, "TQQQ", all[1].Symbol)
}

func TestNewBroker_Validation(t *testing.T) {
	_, err := NewBroker(Config{StartingCash: 10})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	_, err = NewBroker(Config{StartingCash: -1, Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestBroker_SeedHolding(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, 500)
	require.NoError(t, b.SeedHolding("SOXL", 10, 40))

	h, _ := b.Holding(ctx, "SOXL")
	assert.Equal(t, 10.0, h.Quantity)
	assert.Equal(t, 40.0, h.MarketPrice, "marked at cost until a bar arrives")
	cash, _ := b.AvailableCash(ctx)
	assert.Equal(t, 500.0, cash)

	assert.ErrorIs(t, b.SeedHolding("SOXL", 1, 1), ports.ErrInvalidRequest)
	assert.ErrorIs(t, b.SeedHolding("TQQQ", 0, 1), ports.ErrInvalidRequest)
}
