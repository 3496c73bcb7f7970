package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tradewind/internal/config"
	"tradewind/internal/decision"
	"tradewind/internal/gateway/exchange"
	"tradewind/internal/gateway/provider"
	"tradewind/internal/market"
	"tradewind/internal/pkg/failsafe"
	"tradewind/internal/state"
	"tradewind/internal/store"
	"tradewind/internal/store/model"
	"tradewind/internal/trader"

	"github.com/stretchr/testify/assert"
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

func (m *MockStore) SaveState(ctx context.Context, st *model.CycleStateModel) error {
	return m.Called(ctx, st).Error(0)
}

func (m *MockStore) LoadState(ctx context.Context, key string) (*model.CycleStateModel, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CycleStateModel), args.Error(1)
}

func (m *MockStore) Close() error { return m.Called().Error(0) }

type MockCollector struct {
	mock.Mock
}

func (m *MockCollector) CollectAll(ctx context.Context) (map[string]market.Data, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]market.Data), args.Error(1)
}

func (m *MockCollector) PricesSnapshot(ctx context.Context) (map[string]float64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]float64), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

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

type MockBackend struct {
	mock.Mock
	id string
}

func (m *MockBackend) ID() string    { return m.id }
func (m *MockBackend) Model() string { return "test-model" }

func (m *MockBackend) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) GenerateAsync(ctx context.Context, req provider.GenerateRequest) <-chan provider.GenerateResult {
	ch := make(chan provider.GenerateResult, 1)
	text, err := m.Generate(ctx, req)
	ch <- provider.GenerateResult{Text: text, Err: err}
	close(ch)
	return ch
}

type stubCounts struct {
	ok, failed int
}

func (s *stubCounts) CountByStatus(ctx context.Context, cycleID string) (int, int, error) {
	return s.ok, s.failed, nil
}

type testFixture struct {
	store     *MockStore
	gateway   *MockGateway
	collector *MockCollector
	counts    *stubCounts
	executor  *Executor
	state     *state.Manager
	failsafe  *failsafe.Handler
}

func newFixture(t *testing.T, cfg *config.Config, backends map[string]provider.ModelBackend) *testFixture {
	t.Helper()
	st := new(MockStore)
	gw := new(MockGateway)
	collector := new(MockCollector)
	counts := &stubCounts{}

	registry := exchange.NewRegistry()
	registry.Register("main", gw, true)

	positions := trader.NewPositionManager(st, registry, collector)
	orders := trader.NewOrderManager(st)
	risk := trader.NewRiskManager(cfg.Risk)
	tradeExec := trader.NewExecutor(registry, risk, positions, orders)
	orch := decision.NewOrchestrator(backends, positions, nil)

	stateMgr := state.NewManager(st)
	st.On("LoadState", mock.Anything, "controller").Return(nil, nil)
	st.On("SaveState", mock.Anything, mock.Anything).Return(nil)
	assert.NoError(t, stateMgr.Load(context.Background()))

	fs := failsafe.NewHandler(5, 30*time.Minute)
	exec := NewExecutor(func() *config.Config { return cfg }, st, collector, orch, tradeExec, stateMgr, counts, fs)
	return &testFixture{store: st, gateway: gw, collector: collector, counts: counts, executor: exec, state: stateMgr, failsafe: fs}
}

func testConfig(agents ...config.AgentConfig) *config.Config {
	return &config.Config{
		Risk:   config.RiskConfig{MaxAccountExposurePct: 0.8},
		Agents: agents,
	}
}

func holdAgent(id, providerID string) config.AgentConfig {
	return config.AgentConfig{
		ID: id, Provider: providerID, Account: "main", Enabled: true,
		InitialBalance: 10000, MaxLeverage: 10, MaxPositionPct: 0.5,
		Coins: []string{"BTC"},
	}
}

const holdResponse = "# FINAL DECISION\n{\"BTC\": {\"signal\": \"hold\", \"reasoning\": \"no edge\"}}"

func TestRunCycleAllAgentsAccounted(t *testing.T) {
	good := &MockBackend{id: "good"}
	good.On("Generate", mock.Anything, mock.Anything).Return(holdResponse, nil)
	bad := &MockBackend{id: "bad"}
	bad.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("model down"))

	cfg := testConfig(holdAgent("a1", "good"), holdAgent("a2", "bad"), holdAgent("a3", "good"))
	f := newFixture(t, cfg, map[string]provider.ModelBackend{"good": good, "bad": bad})

	f.store.On("GetAgent", mock.Anything, mock.Anything).Return(nil, nil)
	f.collector.On("CollectAll", mock.Anything).Return(map[string]market.Data{
		"BTC": {Coin: "BTC", Price: 50000},
	}, nil)
	f.gateway.On("AccountState", mock.Anything).Return(exchange.AccountState{Withdrawable: 50000}, nil)
	f.store.On("ListTrades", mock.Anything, mock.Anything).Return([]model.TradeModel{}, nil)
	f.store.On("SaveState", mock.Anything, mock.Anything).Return(nil)
	f.counts.ok, f.counts.failed = 2, 1

	summary, err := f.executor.RunCycle(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, 3, summary.AgentsTotal)
	assert.Equal(t, 1, summary.AgentsFailed)
	assert.Equal(t, 2, summary.Held)
	assert.Zero(t, summary.Executed)
	assert.Equal(t, 2, summary.DecisionsOK, "decision log tallies land in the summary")
	assert.Equal(t, 1, summary.DecisionsFailed)
	assert.Equal(t, int64(1), summary.CycleNumber)
	assert.Equal(t, int64(1), f.state.CycleCount())
	assert.Equal(t, 0, f.failsafe.Statistics().Consecutive, "clean cycle resets the counter")
}

func TestRunCycleSkipsPausedAgents(t *testing.T) {
	backend := &MockBackend{id: "p"}
	backend.On("Generate", mock.Anything, mock.Anything).Return(holdResponse, nil)

	cfg := testConfig(holdAgent("active", "p"), holdAgent("paused", "p"))
	f := newFixture(t, cfg, map[string]provider.ModelBackend{"p": backend})

	f.store.On("GetAgent", mock.Anything, "active").Return(nil, nil)
	f.store.On("GetAgent", mock.Anything, "paused").Return(&model.AgentModel{
		ID: "paused", Status: model.AgentStatusPaused,
	}, nil)
	f.collector.On("CollectAll", mock.Anything).Return(map[string]market.Data{
		"BTC": {Coin: "BTC", Price: 50000},
	}, nil)
	f.gateway.On("AccountState", mock.Anything).Return(exchange.AccountState{Withdrawable: 50000}, nil)
	f.store.On("ListTrades", mock.Anything, mock.Anything).Return([]model.TradeModel{}, nil)
	f.store.On("SaveState", mock.Anything, mock.Anything).Return(nil)

	summary, err := f.executor.RunCycle(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.AgentsTotal)
	backend.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRunCycleCollectFailure(t *testing.T) {
	cfg := testConfig(holdAgent("a1", "p"))
	f := newFixture(t, cfg, map[string]provider.ModelBackend{})

	f.store.On("GetAgent", mock.Anything, mock.Anything).Return(nil, nil)
	f.collector.On("CollectAll", mock.Anything).Return(nil, fmt.Errorf("%w: all sources down", failsafe.ErrNetwork))
	f.store.On("SaveState", mock.Anything, mock.Anything).Return(nil)

	_, err := f.executor.RunCycle(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrShutdown, "a transient failure does not shut down")
	assert.Equal(t, int64(0), f.state.CycleCount(), "state only advances on a finished cycle")
	assert.Equal(t, 1, f.failsafe.Statistics().Consecutive)
}

func TestRunCyclePersistenceFailureShutsDown(t *testing.T) {
	cfg := testConfig(holdAgent("a1", "p"))
	f := newFixture(t, cfg, map[string]provider.ModelBackend{})

	f.store.On("GetAgent", mock.Anything, mock.Anything).Return(nil, errors.New("db locked"))
	f.store.On("SaveState", mock.Anything, mock.Anything).Return(nil)

	_, err := f.executor.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestRunCycleConsecutiveFailuresEscalate(t *testing.T) {
	cfg := testConfig(holdAgent("a1", "p"))
	f := newFixture(t, cfg, map[string]provider.ModelBackend{})

	f.store.On("GetAgent", mock.Anything, mock.Anything).Return(nil, nil)
	f.collector.On("CollectAll", mock.Anything).Return(nil, fmt.Errorf("%w: flaky", failsafe.ErrNetwork))
	f.store.On("SaveState", mock.Anything, mock.Anything).Return(nil)

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = f.executor.RunCycle(context.Background())
	}
	assert.ErrorIs(t, lastErr, ErrShutdown, "the fifth consecutive failure escalates")
}
