package trader

import (
	"context"

	"tradewind/internal/gateway/exchange"
	"tradewind/internal/store"
	"tradewind/internal/store/model"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

var _ store.Store = (*MockStore)(nil)

func (m *MockStore) UpsertAgent(ctx context.Context, agent *model.AgentModel) error {
	return m.Called(ctx, agent).Error(0)
}

func (m *MockStore) GetAgent(ctx context.Context, id string) (*model.AgentModel, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AgentModel), args.Error(1)
}

func (m *MockStore) ListAgents(ctx context.Context) ([]model.AgentModel, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AgentModel), args.Error(1)
}

func (m *MockStore) SetAgentStatus(ctx context.Context, id string, status model.AgentStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *MockStore) InsertTrade(ctx context.Context, trade *model.TradeModel) error {
	return m.Called(ctx, trade).Error(0)
}

func (m *MockStore) UpdateTrade(ctx context.Context, trade *model.TradeModel) error {
	return m.Called(ctx, trade).Error(0)
}

func (m *MockStore) GetTrade(ctx context.Context, id int64) (*model.TradeModel, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TradeModel), args.Error(1)
}

func (m *MockStore) ListTrades(ctx context.Context, filter store.TradeFilter) ([]model.TradeModel, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TradeModel), args.Error(1)
}

func (m *MockStore) OpenTrade(ctx context.Context, agentID, coin string) (*model.TradeModel, error) {
	args := m.Called(ctx, agentID, coin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TradeModel), args.Error(1)
}

func (m *MockStore) SaveState(ctx context.Context, state *model.CycleStateModel) error {
	return m.Called(ctx, state).Error(0)
}

func (m *MockStore) LoadState(ctx context.Context, key string) (*model.CycleStateModel, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CycleStateModel), args.Error(1)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}

type MockGateway struct {
	mock.Mock
}

var _ exchange.Gateway = (*MockGateway)(nil)

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

func (m *MockGateway) CancelOrder(ctx context.Context, coin, orderID string) error {
	return m.Called(ctx, coin, orderID).Error(0)
}

func (m *MockGateway) UpdateLeverage(ctx context.Context, coin string, leverage int, cross bool) error {
	return m.Called(ctx, coin, leverage, cross).Error(0)
}

func (m *MockGateway) PlaceTriggerOrder(ctx context.Context, req exchange.TriggerRequest) (exchange.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

func (m *MockGateway) AccountState(ctx context.Context) (exchange.AccountState, error) {
	args := m.Called(ctx)
	return args.Get(0).(exchange.AccountState), args.Error(1)
}

func (m *MockGateway) MarkPrice(ctx context.Context, coin string) (float64, error) {
	args := m.Called(ctx, coin)
	return args.Get(0).(float64), args.Error(1)
}
