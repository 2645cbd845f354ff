package risk

import (
	"context"

	"kdjBot/internal/domain"
	"kdjBot/internal/ports"
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

type mockBroker struct {
	holdings      []*domain.Holding
	holdingsErr   error
	liquidateErrs map[string]error
	liquidated    []string
}

func (m *mockBroker) PlaceMarketOrder(ctx context.Context, symbol string, signedQty float64) (*ports.OrderResponse, error) {
	return nil, ports.ErrOrderPlacementFailed
}

func (m *mockBroker) Liquidate(ctx context.Context, symbol string) (*ports.OrderResponse, error) {
	if err := m.liquidateErrs[symbol]; err != nil {
		return nil, err
	}
	m.liquidated = append(m.liquidated, symbol)
	for _, h := range m.holdings {
		if h.Symbol == symbol {
			return &ports.OrderResponse{Symbol: symbol, Side: domain.Sell, ExecutedQty: h.Quantity, AvgPrice: h.MarketPrice, Status: "FILLED"}, nil
		}
	}
	return nil, ports.ErrPositionNotFound
}

func (m *mockBroker) Holding(ctx context.Context, symbol string) (*domain.Holding, error) {
	for _, h := range m.holdings {
		if h.Symbol == symbol {
			return h, nil
		}
	}
	return &domain.Holding{Symbol: symbol}, nil
}

func (m *mockBroker) Holdings(ctx context.Context) ([]*domain.Holding, error) {
	return m.holdings, m.holdingsErr
}

func (m *mockBroker) AvailableCash(ctx context.Context) (float64, error) {
	return 0, nil
}

type resetCall struct {
	symbol string
	fill   *ports.OrderResponse
}

type recordingResetter struct {
	calls []resetCall
}

func (r *recordingResetter) ResetPosition(ctx context.Context, symbol string, fill *ports.OrderResponse) {
	r.calls = append(r.calls, resetCall{symbol: symbol, fill: fill})
}
