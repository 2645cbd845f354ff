package strategy

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kdjBot/internal/domain"
	"kdjBot/internal/ports"
)

func run(t *testing.T, e *Engine, prices ...float64) []*domain.Decision {
	t.Helper()
	out := make([]*domain.Decision, 0, len(prices))
	for i, p := range prices {
		d, err := e.Step(context.Background(), bar(i, p))
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

func TestEngine_EntersOnUpwardCrossing(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	e := newScriptedEngine(t, broker, []float64{18, 20, 25}, &stubRegime{ready: true, bullish: true})

	ds := run(t, e, 50, 50, 50)

	assert.Equal(t, domain.ActionHold, ds[0].Action)
	assert.Equal(t, ReasonFirstReading, ds[0].Reason)
	assert.Equal(t, domain.ActionHold, ds[1].Action)
	require.Equal(t, domain.ActionEnter, ds[2].Action)
	assert.Equal(t, 400.0, ds[2].Quantity) // min(20000/50, 30000/50)

	assert.Equal(t, []float64{400}, broker.orders)
	st := e.State()
	require.True(t, st.IsLong())
	assert.Equal(t, 50.0, *st.EntryPrice)
	assert.Equal(t, 50.0, *st.HighWaterMark)
	assert.Equal(t, 25.0, *st.PreviousMomentum)
}

func TestEngine_RegimeVetoesEntry(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	e := newScriptedEngine(t, broker, []float64{18, 20, 25}, &stubRegime{ready: true, bullish: false})

	ds := run(t, e, 50, 50, 50)

	assert.Equal(t, domain.ActionHold, ds[2].Action)
	assert.Equal(t, ReasonRegimeVeto, ds[2].Reason)
	assert.Empty(t, broker.orders)
	st := e.State()
	assert.True(t, st.IsFlat())
	require.NotNil(t, st.PreviousMomentum)
	assert.Equal(t, 25.0, *st.PreviousMomentum)
}

func TestEngine_RegimeNotReadyDoesNotGate(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	e := newScriptedEngine(t, broker, []float64{18, 25}, &stubRegime{ready: false, bullish: false})

	ds := run(t, e, 50, 50)
	assert.Equal(t, domain.ActionEnter, ds[1].Action)
}

func TestEngine_CrossingIsStrict(t *testing.T) {
	tests := []struct {
		name    string
		js      []float64
		entered bool
	}{
		{name: "equal to threshold never fires", js: []float64{22.2, 22.2, 22.2}, entered: false},
		{name: "from equal to above does not fire", js: []float64{22.2, 25}, entered: false},
		{name: "from below to equal does not fire", js: []float64{20, 22.2}, entered: false},
		{name: "touching then rising does not fire", js: []float64{20, 22.2, 25}, entered: false},
		{name: "strict below to above fires", js: []float64{22.1, 22.3}, entered: true},
		{name: "falling through does not fire", js: []float64{30, 20}, entered: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &mockBroker{cash: 30000}
			e := newScriptedEngine(t, broker, tt.js, &stubRegime{ready: true, bullish: true})
			prices := make([]float64, len(tt.js))
			for i := range prices {
				prices[i] = 50
			}
			run(t, e, prices...)
			assert.Equal(t, tt.entered, len(broker.orders) == 1)
			assert.Equal(t, tt.entered, e.State().IsLong())
		})
	}
}

func TestEngine_StopWinsOverFreshBuySignal(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	// bar 1 enters at 50; bar 2 holds; bar 3 crosses the buy level again while price breaks the stop (50 - 3*1).
	e := newScriptedEngine(t, broker, []float64{18, 25, 10, 30}, &stubRegime{ready: true, bullish: true})

	ds := run(t, e, 50, 50, 50, 40)

	require.Equal(t, domain.ActionEnter, ds[1].Action)
	assert.Equal(t, domain.ActionHold, ds[2].Action)
	require.Equal(t, domain.ActionExit, ds[3].Action)
	assert.Equal(t, string(domain.CloseReasonTrailingStop), ds[3].Reason)
	require.NotNil(t, ds[3].Volatility)
	assert.Equal(t, 47.0, ds[3].Volatility.StopPrice)

	assert.Equal(t, []float64{400}, broker.orders, "no new entry on the stop-out bar")
	assert.Equal(t, 1, broker.liquidations)
	st := e.State()
	assert.True(t, st.IsFlat())
	assert.Nil(t, st.EntryPrice)
	assert.Nil(t, st.HighWaterMark)
	assert.Equal(t, 30.0, *st.PreviousMomentum)

	require.NotNil(t, ds[3].Trade)
	assert.Equal(t, domain.CloseReasonTrailingStop, ds[3].Trade.CloseReason)
	assert.InDelta(t, -4000.0, ds[3].Trade.PNL, 1e-9)
}

func TestEngine_HighWaterMarkTrails(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	e := newScriptedEngine(t, broker, []float64{18, 25, 30, 30, 30}, &stubRegime{ready: true, bullish: true})

	ds := run(t, e, 50, 50, 55, 60, 58)

	assert.Equal(t, domain.ActionEnter, ds[1].Action)
	assert.Equal(t, 52.0, ds[2].Volatility.StopPrice)
	assert.Equal(t, 57.0, ds[3].Volatility.StopPrice)
	assert.Equal(t, 57.0, ds[4].Volatility.StopPrice, "stop does not fall with price")
	assert.Equal(t, domain.ActionHold, ds[4].Action)
	assert.Equal(t, 60.0, *e.State().HighWaterMark)
}

func TestEngine_ExitsOnDownwardCrossing(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	e := newScriptedEngine(t, broker, []float64{18, 25, 70, 60}, &stubRegime{ready: true, bullish: true})

	ds := run(t, e, 50, 50, 51, 51)

	require.Equal(t, domain.ActionExit, ds[3].Action)
	assert.Equal(t, string(domain.CloseReasonSignal), ds[3].Reason)
	require.NotNil(t, ds[3].Trade)
	assert.InDelta(t, 400.0, ds[3].Trade.PNL, 1e-9) // (51-50)*400
	assert.Equal(t, "l-1", ds[3].Trade.OrderID)
	assert.True(t, e.State().IsFlat())
}

func TestEngine_IdempotentOnRepeatedBar(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	e := newScriptedEngine(t, broker, []float64{18, 25}, &stubRegime{ready: true, bullish: true})
	ctx := context.Background()

	_, err := e.Step(ctx, bar(0, 50))
	require.NoError(t, err)
	first, err := e.Step(ctx, bar(1, 50))
	require.NoError(t, err)
	second, err := e.Step(ctx, bar(1, 50))
	require.NoError(t, err)

	assert.Equal(t, domain.ActionEnter, first.Action)
	assert.Equal(t, domain.ActionHold, second.Action)
	assert.Equal(t, *first.Reading, *second.Reading)
	assert.Equal(t, second.Reading.MomentumJ, *second.PreviousMomentum)
	assert.Len(t, broker.orders, 1, "no double order")
}

func TestEngine_SkipsWhileWarmingUp(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	e := newScriptedEngine(t, broker, []float64{18, 25}, &stubRegime{ready: true, bullish: true})
	e.oscillator = &scriptedOscillator{js: []float64{18, 25}, notReadyFor: 2}

	ds := run(t, e, 50, 50, 50, 50)

	assert.Equal(t, domain.ActionSkip, ds[0].Action)
	assert.Equal(t, ReasonWarmingUp, ds[0].Reason)
	assert.Equal(t, domain.ActionSkip, ds[1].Action)
	assert.Equal(t, ReasonFirstReading, ds[2].Reason)
	assert.Equal(t, domain.ActionEnter, ds[3].Action)
}

func TestEngine_SkipsUntilStopReady(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	e := newScriptedEngine(t, broker, []float64{18, 25}, &stubRegime{ready: true, bullish: true})
	e.stop = &VolatilityStop{cfg: DefaultConfig("SOXL").Volatility, atr: &fixedATR{ready: false}}

	ds := run(t, e, 50, 50)
	for _, d := range ds {
		assert.Equal(t, domain.ActionSkip, d.Action)
	}
	assert.Nil(t, e.State().PreviousMomentum, "skipped bars do not touch state")
}

func TestEngine_SkipsBlackout(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	e := newScriptedEngine(t, broker, []float64{18, 25}, &stubRegime{ready: true, bullish: true})

	k := bar(0, 50)
	k.CloseTime = time.Date(2024, 3, 4, 15, 50, 0, 0, time.UTC)
	d, err := e.Step(context.Background(), k)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSkip, d.Action)
	assert.Equal(t, ReasonBlackout, d.Reason)
	assert.Nil(t, e.State().PreviousMomentum)
}

func TestEngine_EntryOrderFailureStaysFlat(t *testing.T) {
	broker := &mockBroker{cash: 30000, placeErr: ports.ErrOrderPlacementFailed}
	e := newScriptedEngine(t, broker, []float64{18, 25}, &stubRegime{ready: true, bullish: true})
	ctx := context.Background()

	_, err := e.Step(ctx, bar(0, 50))
	require.NoError(t, err)
	d, err := e.Step(ctx, bar(1, 50))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrOrderPlacementFailed)
	assert.Equal(t, domain.ActionHold, d.Action)
	st := e.State()
	assert.True(t, st.IsFlat())
	assert.Equal(t, 25.0, *st.PreviousMomentum)
}

func TestEngine_UnfilledEntryStaysFlat(t *testing.T) {
	broker := &mockBroker{cash: 30000, shortFill: true}
	e := newScriptedEngine(t, broker, []float64{18, 25}, &stubRegime{ready: true, bullish: true})

	ds := run(t, e, 50, 50)
	assert.Equal(t, ReasonUnfilled, ds[1].Reason)
	assert.True(t, e.State().IsFlat())
}

func TestEngine_LiquidationFailureStaysLong(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	e := newScriptedEngine(t, broker, []float64{18, 25, 70, 60, 70, 60}, &stubRegime{ready: true, bullish: true})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Step(ctx, bar(i, 50))
		require.NoError(t, err)
	}
	broker.liquidateErr = errors.New("broker offline")
	_, err := e.Step(ctx, bar(3, 50))
	require.Error(t, err)
	assert.True(t, e.State().IsLong())

	broker.liquidateErr = nil
	_, err = e.Step(ctx, bar(4, 50))
	require.NoError(t, err)
	d, err := e.Step(ctx, bar(5, 50))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionExit, d.Action)
	assert.True(t, e.State().IsFlat())
}

func TestEngine_ZeroSizeStaysFlat(t *testing.T) {
	broker := &mockBroker{cash: 10}
	e := newScriptedEngine(t, broker, []float64{18, 25}, &stubRegime{ready: true, bullish: true})

	ds := run(t, e, 50, 50)
	assert.Equal(t, ReasonZeroSize, ds[1].Reason)
	assert.Empty(t, broker.orders)
	assert.True(t, e.State().IsFlat())
}

func TestEngine_ReconcilesWithPortfolio(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	e := newScriptedEngine(t, broker, []float64{18, 25, 30, 30}, &stubRegime{ready: true, bullish: true})
	ctx := context.Background()

	run(t, e, 50, 50)
	require.True(t, e.State().IsLong())

	broker.qty = 0 // closed elsewhere
	_, err := e.Step(ctx, bar(2, 50))
	require.NoError(t, err)
	assert.True(t, e.State().IsFlat())

	broker.qty = 10 // appeared elsewhere
	_, err = e.Step(ctx, bar(3, 52))
	require.NoError(t, err)
	st := e.State()
	require.True(t, st.IsLong())
	assert.Equal(t, 52.0, *st.EntryPrice)
	assert.Equal(t, 52.0, *st.HighWaterMark)
	assert.Equal(t, 10.0, st.Quantity)
}

func TestEngine_PortfolioErrorHolds(t *testing.T) {
	broker := &mockBroker{cash: 30000, holdingErr: ports.ErrExchangeUnavailable}
	e := newScriptedEngine(t, broker, []float64{18, 25}, &stubRegime{ready: true, bullish: true})

	d, err := e.Step(context.Background(), bar(0, 50))
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Equal(t, 18.0, *e.State().PreviousMomentum)
}

func TestEngine_RejectsForeignSymbol(t *testing.T) {
	e := newScriptedEngine(t, &mockBroker{}, []float64{18}, &stubRegime{})
	k := bar(0, 50)
	k.Symbol = "TQQQ"
	d, err := e.Step(context.Background(), k)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ports.ErrSymbolMismatch)

	_, err = e.Step(context.Background(), nil)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestEngine_ForceFlat(t *testing.T) {
	broker := &mockBroker{cash: 30000}
	e := newScriptedEngine(t, broker, []float64{18, 25}, &stubRegime{ready: true, bullish: true})
	run(t, e, 50, 50)

	at := barStart.Add(6 * time.Hour)
	trade := e.ForceFlat(context.Background(), &ports.OrderResponse{AvgPrice: 48, ExecutedQty: 400, ClientOrderID: "eod-1"}, at, domain.CloseReasonEndOfDay)
	require.NotNil(t, trade)
	assert.Equal(t, domain.CloseReasonEndOfDay, trade.CloseReason)
	assert.InDelta(t, -800.0, trade.PNL, 1e-9)
	assert.Equal(t, "eod-1", trade.OrderID)
	assert.True(t, e.State().IsFlat())

	assert.Nil(t, e.ForceFlat(context.Background(), nil, at, domain.CloseReasonEndOfDay))
}

func TestEngine_RestoreKeepsConfiguredThresholds(t *testing.T) {
	e := newScriptedEngine(t, &mockBroker{}, []float64{18}, &stubRegime{})
	persisted := domain.NewInstrumentState("SOXL", 1, 99)
	persisted.Open(42, barStart, 7)
	persisted.SetPreviousMomentum(33)

	e.Restore(persisted)
	st := e.State()
	assert.Equal(t, 22.2, st.BuyThreshold)
	assert.Equal(t, 62.6, st.SellThreshold)
	assert.Equal(t, 42.0, *st.EntryPrice)
	assert.Equal(t, 33.0, *st.PreviousMomentum)

	e.Restore(domain.NewInstrumentState("OTHER", 1, 2))
	assert.Equal(t, "SOXL", e.State().Symbol)
}

func TestNew_Validation(t *testing.T) {
	broker := &mockBroker{}
	clock := utcClock(t)

	_, err := New(DefaultConfig("SOXL"), nil, broker, clock, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	cfg := DefaultConfig("SOXL")
	cfg.BuyThreshold = cfg.SellThreshold
	_, err = New(cfg, broker, broker, clock, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	cfg = DefaultConfig("SOXL")
	cfg.Oscillator.KPeriod = 0
	_, err = New(cfg, broker, broker, clock, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

// The FLAT invariant holds with the real indicators over a long oscillating series.
func TestEngine_StateInvariantWithRealIndicators(t *testing.T) {
	broker := &mockBroker{cash: 1e6}
	e, err := New(DefaultConfig("SOXL"), broker, broker, utcClock(t), &mockLogger{})
	require.NoError(t, err)
	ctx := context.Background()

	entries, exits := 0, 0
	for i := 0; i < 300; i++ {
		p := 50 + 10*math.Sin(float64(i)/6) + 3*math.Sin(float64(i)/2.3)
		k := bar(i, p)
		k.High = p + 0.8
		k.Low = p - 0.8
		d, err := e.Step(ctx, k)
		require.NoError(t, err)

		switch d.Action {
		case domain.ActionEnter:
			entries++
		case domain.ActionExit:
			exits++
		}
		st := e.State()
		assert.Equal(t, st.EntryPrice == nil, st.HighWaterMark == nil, "bar %d", i)
		assert.Equal(t, st.IsLong(), broker.qty > 0, "bar %d", i)
		assert.Equal(t, entries-exits == 1, st.IsLong(), "bar %d", i)
		if st.IsLong() {
			assert.GreaterOrEqual(t, *st.HighWaterMark, *st.EntryPrice)
		}
	}
	assert.Greater(t, entries, 0, "series should produce at least one entry")
}
