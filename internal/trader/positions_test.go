package trader

import (
	"context"
	"errors"
	"testing"

	"tradewind/internal/config"
	"tradewind/internal/gateway/exchange"
	"tradewind/internal/store"
	"tradewind/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type stubPrices struct {
	prices map[string]float64
	err    error
	calls  int
}

func (s *stubPrices) PricesSnapshot(ctx context.Context) (map[string]float64, error) {
	s.calls++
	return s.prices, s.err
}

func openTrade(id int64, coin, side string, size, entry float64) model.TradeModel {
	return model.TradeModel{
		ID: id, AgentID: "alpha", Coin: coin, Side: side,
		Size: size, EntryPrice: entry, Leverage: 5,
		NotionalUSD: size * entry, Status: model.TradeStatusOpen,
	}
}

func TestReconcileClosesVanishedPositions(t *testing.T) {
	st := new(MockStore)
	prices := &stubPrices{prices: map[string]float64{"ETH": 3100}}
	pm := NewPositionManager(st, exchange.NewRegistry(), prices)

	btc := openTrade(1, "BTC", "long", 0.1, 50000)
	eth := openTrade(2, "ETH", "short", 1.0, 3000)
	st.On("ListTrades", mock.Anything, store.TradeFilter{AgentID: "alpha", Status: model.TradeStatusOpen}).
		Return([]model.TradeModel{btc, eth}, nil)

	// Exchange still holds BTC; the stopped-out ETH position is gone from
	// the account snapshot entirely, as the live gateway reports it.
	state := exchange.AccountState{
		Positions: []exchange.PositionState{
			{Coin: "BTC", Side: "long", Size: 0.1, MarkPrice: 51000},
		},
	}

	var updated *model.TradeModel
	st.On("UpdateTrade", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		updated = args.Get(1).(*model.TradeModel)
	}).Return(nil)

	open, err := pm.Reconcile(context.Background(), "alpha", state, nil)
	assert.NoError(t, err)

	assert.Len(t, open, 1)
	assert.Equal(t, "BTC", open[0].Coin)

	if assert.NotNil(t, updated) {
		assert.Equal(t, int64(2), updated.ID)
		assert.Equal(t, model.TradeStatusClosed, updated.Status)
		assert.Equal(t, 3100.0, updated.ExitPrice)
		// Short entered at 3000, stopped at 3100: a realized loss, not
		// a zero-pnl close at entry.
		assert.InDelta(t, -100.0, updated.RealizedPnL, 0.01)
		assert.Equal(t, "closed on exchange", updated.CloseReason)
	}
	st.AssertNumberOfCalls(t, "UpdateTrade", 1)
	assert.Equal(t, 1, prices.calls, "one batched price read covers the pass")
}

func TestReconcileFallsBackToMarkPrice(t *testing.T) {
	st := new(MockStore)
	gw := new(MockGateway)
	prices := &stubPrices{err: errors.New("feed down")}
	pm := NewPositionManager(st, exchange.NewRegistry(), prices)

	eth := openTrade(2, "ETH", "short", 1.0, 3000)
	st.On("ListTrades", mock.Anything, store.TradeFilter{AgentID: "alpha", Status: model.TradeStatusOpen}).
		Return([]model.TradeModel{eth}, nil)
	gw.On("MarkPrice", mock.Anything, "ETH").Return(3100.0, nil)

	var updated *model.TradeModel
	st.On("UpdateTrade", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		updated = args.Get(1).(*model.TradeModel)
	}).Return(nil)

	_, err := pm.Reconcile(context.Background(), "alpha", exchange.AccountState{}, gw)
	assert.NoError(t, err)
	if assert.NotNil(t, updated) {
		assert.Equal(t, 3100.0, updated.ExitPrice)
		assert.InDelta(t, -100.0, updated.RealizedPnL, 0.01)
	}
}

func TestReconcileEntryPriceIsLastResort(t *testing.T) {
	st := new(MockStore)
	pm := NewPositionManager(st, exchange.NewRegistry(), nil)

	eth := openTrade(2, "ETH", "short", 1.0, 3000)
	st.On("ListTrades", mock.Anything, store.TradeFilter{AgentID: "alpha", Status: model.TradeStatusOpen}).
		Return([]model.TradeModel{eth}, nil)

	var updated *model.TradeModel
	st.On("UpdateTrade", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		updated = args.Get(1).(*model.TradeModel)
	}).Return(nil)

	_, err := pm.Reconcile(context.Background(), "alpha", exchange.AccountState{}, nil)
	assert.NoError(t, err)
	if assert.NotNil(t, updated) {
		assert.Equal(t, 3000.0, updated.ExitPrice)
		assert.Zero(t, updated.RealizedPnL)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	st := new(MockStore)
	pm := NewPositionManager(st, exchange.NewRegistry(), nil)

	// Second pass: the trade is already closed, so the open list is empty
	// and nothing is updated again.
	st.On("ListTrades", mock.Anything, store.TradeFilter{AgentID: "alpha", Status: model.TradeStatusOpen}).
		Return([]model.TradeModel{}, nil)

	open, err := pm.Reconcile(context.Background(), "alpha", exchange.AccountState{}, nil)
	assert.NoError(t, err)
	assert.Empty(t, open)
	st.AssertNotCalled(t, "UpdateTrade", mock.Anything, mock.Anything)
}

func TestSnapshotAccountValue(t *testing.T) {
	st := new(MockStore)
	gw := new(MockGateway)
	registry := exchange.NewRegistry()
	registry.Register("main", gw, true)
	pm := NewPositionManager(st, registry, nil)

	agent := config.AgentConfig{ID: "alpha", Account: "main", InitialBalance: 10000}

	btc := openTrade(1, "BTC", "long", 0.1, 50000)
	gw.On("AccountState", mock.Anything).Return(exchange.AccountState{
		Withdrawable: 100000,
		Positions: []exchange.PositionState{
			{Coin: "BTC", Side: "long", Size: 0.1, MarkPrice: 52000, LiquidationPrice: 40000},
		},
	}, nil)
	st.On("ListTrades", mock.Anything, store.TradeFilter{AgentID: "alpha", Status: model.TradeStatusOpen}).
		Return([]model.TradeModel{btc}, nil)
	st.On("ListTrades", mock.Anything, store.TradeFilter{AgentID: "alpha", Status: model.TradeStatusClosed}).
		Return([]model.TradeModel{
			{RealizedPnL: 500, Fees: 20, Status: model.TradeStatusClosed},
		}, nil)

	snap, err := pm.Snapshot(context.Background(), agent)
	assert.NoError(t, err)

	// 0.1 BTC from 50000 to 52000 is +200 unrealized.
	assert.InDelta(t, 200.0, snap.UnrealizedPnL, 0.01)
	// initial 10000 + realized 500 - fees 20 + unrealized 200.
	assert.InDelta(t, 10680.0, snap.AccountValue, 0.01)
	// Margin: notional 5000 at 5x leverage.
	assert.InDelta(t, 1000.0, snap.MarginUsed, 0.01)
	assert.InDelta(t, 9680.0, snap.Withdrawable, 0.01)

	if assert.Len(t, snap.Positions, 1) {
		pos := snap.Positions[0]
		assert.Equal(t, "BTC", pos.Coin)
		assert.Equal(t, 52000.0, pos.MarkPrice)
		assert.Equal(t, 40000.0, pos.LiquidationPrice)
	}
}

func TestSnapshotPrefersLiveValueForSoleOwner(t *testing.T) {
	st := new(MockStore)
	gw := new(MockGateway)
	registry := exchange.NewRegistry()
	registry.Register("main", gw, true)
	pm := NewPositionManager(st, registry, nil)

	agent := config.AgentConfig{ID: "alpha", Account: "main", InitialBalance: 10000}

	gw.On("AccountState", mock.Anything).Return(exchange.AccountState{
		AccountValue: 12345,
		Withdrawable: 11000,
	}, nil)
	st.On("ListTrades", mock.Anything, mock.Anything).Return([]model.TradeModel{}, nil)
	st.On("ListAgents", mock.Anything).Return([]model.AgentModel{
		{ID: "alpha", Account: "main"},
	}, nil)

	snap, err := pm.Snapshot(context.Background(), agent)
	assert.NoError(t, err)
	assert.Equal(t, 12345.0, snap.AccountValue, "sole owner takes the live read")
	assert.Equal(t, 11000.0, snap.Withdrawable)
}

func TestSnapshotKeepsVirtualValueForSharedAccount(t *testing.T) {
	st := new(MockStore)
	gw := new(MockGateway)
	registry := exchange.NewRegistry()
	registry.Register("main", gw, true)
	pm := NewPositionManager(st, registry, nil)

	agent := config.AgentConfig{ID: "alpha", Account: "main", InitialBalance: 10000}

	gw.On("AccountState", mock.Anything).Return(exchange.AccountState{
		AccountValue: 50000,
		Withdrawable: 45000,
	}, nil)
	st.On("ListTrades", mock.Anything, mock.Anything).Return([]model.TradeModel{}, nil)
	st.On("ListAgents", mock.Anything).Return([]model.AgentModel{
		{ID: "alpha", Account: "main"},
		{ID: "beta", Account: "main"},
	}, nil)

	snap, err := pm.Snapshot(context.Background(), agent)
	assert.NoError(t, err)
	assert.Equal(t, 10000.0, snap.AccountValue, "shared accounts stay on virtual accounting")
}

func TestSnapshotUnknownAccount(t *testing.T) {
	st := new(MockStore)
	pm := NewPositionManager(st, exchange.NewRegistry(), nil)
	_, err := pm.Snapshot(context.Background(), config.AgentConfig{ID: "alpha", Account: "ghost"})
	assert.Error(t, err)
}
