package decision

import (
	"context"
	"errors"
	"testing"

	"tradewind/internal/config"
	"tradewind/internal/gateway/provider"
	"tradewind/internal/market"
	"tradewind/internal/store/decisionlog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

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

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Insert(ctx context.Context, rec *decisionlog.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type stubPortfolio struct {
	snap PortfolioSnapshot
	err  error
}

func (s stubPortfolio) Snapshot(ctx context.Context, agent config.AgentConfig) (PortfolioSnapshot, error) {
	return s.snap, s.err
}

func testMarket() map[string]market.Data {
	return map[string]market.Data{
		"BTC": {Coin: "BTC", Price: 50000},
		"ETH": {Coin: "ETH", Price: 3000},
	}
}

func agentFor(id, providerID string) config.AgentConfig {
	return config.AgentConfig{
		ID: id, Provider: providerID, Enabled: true,
		MaxLeverage: 20, MaxPositionPct: 0.5, InitialBalance: 10000,
		StopLossPct: 0.05, TakeProfitPct: 0.1,
		Coins: []string{"BTC", "ETH"},
	}
}

const validResponse = "# FINAL DECISION\n" + `{"BTC": {"signal": "long", "risk_usd": 100, "leverage": 5,
"stop_loss": 48000, "profit_target": 55000, "confidence": 0.8, "reasoning": "trend up"}}`

func TestGenerateAllOneOutcomePerAgent(t *testing.T) {
	good := &MockBackend{id: "good"}
	good.On("Generate", mock.Anything, mock.Anything).Return(validResponse, nil)
	bad := &MockBackend{id: "bad"}
	bad.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("model unavailable"))

	recorder := new(MockRecorder)
	recorder.On("Insert", mock.Anything, mock.Anything).Return(nil)

	orch := NewOrchestrator(map[string]provider.ModelBackend{
		"good": good,
		"bad":  bad,
	}, stubPortfolio{snap: PortfolioSnapshot{AccountValue: 10000, Withdrawable: 10000}}, recorder)

	agents := []config.AgentConfig{
		agentFor("a1", "good"),
		agentFor("a2", "bad"),
		agentFor("a3", "good"),
	}
	outcomes := orch.GenerateAll(context.Background(), "cycle-1", agents, testMarket())

	assert.Len(t, outcomes, 3, "exactly one outcome per agent")
	assert.Equal(t, "a1", outcomes[0].AgentID)
	assert.False(t, outcomes[0].Failed)
	assert.Len(t, outcomes[0].Decisions, 1)
	assert.Equal(t, ActionOpenLong, outcomes[0].Decisions[0].Action)
	assert.Equal(t, 500.0, outcomes[0].Decisions[0].SizeUSD)

	assert.True(t, outcomes[1].Failed, "failing backend yields a failed outcome, not a missing one")
	assert.Contains(t, outcomes[1].Reason, "model unavailable")

	assert.False(t, outcomes[2].Failed, "one agent's failure never cancels its siblings")
}

func TestGenerateAllRecordsFailure(t *testing.T) {
	backend := &MockBackend{id: "p"}
	backend.On("Generate", mock.Anything, mock.Anything).Return("no json here, just vibes", nil)

	recorder := new(MockRecorder)
	var recorded []*decisionlog.Record
	recorder.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		recorded = append(recorded, args.Get(1).(*decisionlog.Record))
	}).Return(nil)

	orch := NewOrchestrator(map[string]provider.ModelBackend{"p": backend},
		stubPortfolio{snap: PortfolioSnapshot{AccountValue: 10000, Withdrawable: 10000}}, recorder)

	outcomes := orch.GenerateAll(context.Background(), "cycle-2",
		[]config.AgentConfig{agentFor("a1", "p")}, testMarket())

	assert.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Failed)
	// Exactly one FAILED row for the whole agent, not one per coin.
	assert.Len(t, recorded, 1)
	assert.Equal(t, decisionlog.StatusFailed, recorded[0].Status)
	assert.Contains(t, recorded[0].FailReason, "no decision block")
	assert.Equal(t, "no json here, just vibes", recorded[0].RawOutput)
}

func TestGenerateAllPerCoinRejection(t *testing.T) {
	// BTC is fine; ETH asks to close a position that does not exist.
	response := "# FINAL DECISION\n" + `{
		"BTC": {"signal": "long", "risk_usd": 100, "leverage": 2, "stop_loss": 48000, "profit_target": 55000},
		"ETH": {"signal": "close"}
	}`
	backend := &MockBackend{id: "p"}
	backend.On("Generate", mock.Anything, mock.Anything).Return(response, nil)

	recorder := new(MockRecorder)
	var recorded []*decisionlog.Record
	recorder.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		recorded = append(recorded, args.Get(1).(*decisionlog.Record))
	}).Return(nil)

	orch := NewOrchestrator(map[string]provider.ModelBackend{"p": backend},
		stubPortfolio{snap: PortfolioSnapshot{AccountValue: 10000, Withdrawable: 10000}}, recorder)

	outcomes := orch.GenerateAll(context.Background(), "cycle-3",
		[]config.AgentConfig{agentFor("a1", "p")}, testMarket())

	assert.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Failed, "a single bad coin does not fail the agent")
	assert.Len(t, outcomes[0].Decisions, 1)
	assert.Equal(t, "BTC", outcomes[0].Decisions[0].Coin)

	var failed *decisionlog.Record
	for _, rec := range recorded {
		if rec.Status == decisionlog.StatusFailed {
			failed = rec
		}
	}
	if assert.NotNil(t, failed) {
		assert.Equal(t, "ETH", failed.Coin)
		assert.Contains(t, failed.FailReason, "No open position for ETH")
	}
}

func TestGenerateAllUnknownProvider(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("Insert", mock.Anything, mock.Anything).Return(nil)
	orch := NewOrchestrator(map[string]provider.ModelBackend{}, stubPortfolio{}, recorder)

	outcomes := orch.GenerateAll(context.Background(), "cycle-4",
		[]config.AgentConfig{agentFor("a1", "missing")}, testMarket())

	assert.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Failed)
	assert.Contains(t, outcomes[0].Reason, "not configured")
}
