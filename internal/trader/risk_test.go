package trader

import (
	"testing"

	"tradewind/internal/config"
	"tradewind/internal/decision"
	"tradewind/internal/pkg/failsafe"

	"github.com/stretchr/testify/assert"
)

func riskAgent() config.AgentConfig {
	return config.AgentConfig{
		ID: "alpha", MaxLeverage: 10, MaxPositionPct: 0.3,
		InitialBalance: 10000,
	}
}

func riskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxAccountExposurePct: 0.8,
		LiqWarnDistancePct:    0.15,
		LiqCriticalDistPct:    0.05,
	}
}

func TestCheckOpen(t *testing.T) {
	rm := NewRiskManager(riskConfig())
	agent := riskAgent()
	snap := decision.PortfolioSnapshot{AccountValue: 10000, Withdrawable: 9000}

	t.Run("Passes Within Limits", func(t *testing.T) {
		d := &decision.Decision{Action: decision.ActionOpenLong, Coin: "BTC", SizeUSD: 2000, Leverage: 5}
		assert.NoError(t, rm.CheckOpen(d, agent, snap))
	})

	t.Run("Leverage Exceeds Max", func(t *testing.T) {
		d := &decision.Decision{Action: decision.ActionOpenLong, Coin: "BTC", SizeUSD: 2000, Leverage: 15}
		err := rm.CheckOpen(d, agent, snap)
		assert.ErrorIs(t, err, failsafe.ErrRiskRejected)
		assert.Contains(t, err.Error(), "exceeds max")
		assert.Equal(t, failsafe.ActionSkip, failsafe.Classify(err))
	})

	t.Run("Notional Above Position Cap", func(t *testing.T) {
		// Cap is 30% of 10000.
		d := &decision.Decision{Action: decision.ActionOpenLong, Coin: "BTC", SizeUSD: 3500, Leverage: 5}
		err := rm.CheckOpen(d, agent, snap)
		assert.ErrorIs(t, err, failsafe.ErrRiskRejected)
	})

	t.Run("Margin Above Withdrawable", func(t *testing.T) {
		tight := decision.PortfolioSnapshot{AccountValue: 10000, Withdrawable: 100}
		d := &decision.Decision{Action: decision.ActionOpenLong, Coin: "BTC", SizeUSD: 2000, Leverage: 2}
		err := rm.CheckOpen(d, agent, tight)
		assert.ErrorIs(t, err, failsafe.ErrInsufficientBalance)
	})

	t.Run("Exposure Cap Counts Existing Positions", func(t *testing.T) {
		loaded := decision.PortfolioSnapshot{
			AccountValue: 10000,
			Withdrawable: 9000,
			Positions: []decision.PositionView{
				{Coin: "ETH", Side: "long", Size: 2.0, MarkPrice: 3000},
			},
		}
		// 6000 existing + 2500 new = 8500 > 80% of 10000.
		d := &decision.Decision{Action: decision.ActionOpenLong, Coin: "BTC", SizeUSD: 2500, Leverage: 5}
		err := rm.CheckOpen(d, agent, loaded)
		assert.ErrorIs(t, err, failsafe.ErrRiskRejected)
		assert.Contains(t, err.Error(), "exposure")
	})

	t.Run("Falls Back To Initial Balance", func(t *testing.T) {
		empty := decision.PortfolioSnapshot{Withdrawable: 9000}
		d := &decision.Decision{Action: decision.ActionOpenLong, Coin: "BTC", SizeUSD: 2000, Leverage: 5}
		assert.NoError(t, rm.CheckOpen(d, agent, empty))
	})
}

func TestScanLiquidation(t *testing.T) {
	rm := NewRiskManager(riskConfig())

	snap := decision.PortfolioSnapshot{
		Positions: []decision.PositionView{
			{Coin: "BTC", Side: "long", MarkPrice: 50000, LiquidationPrice: 48000}, // 4% away
			{Coin: "ETH", Side: "long", MarkPrice: 3000, LiquidationPrice: 2700},   // 10% away
			{Coin: "SOL", Side: "long", MarkPrice: 100, LiquidationPrice: 50},      // 50% away
			{Coin: "DOGE", Side: "long", MarkPrice: 0.1},                           // no liq price
		},
	}
	alerts := rm.ScanLiquidation(snap)
	assert.Len(t, alerts, 2)
	assert.Equal(t, "BTC", alerts[0].Coin)
	assert.Equal(t, LiqSeverityCritical, alerts[0].Severity)
	assert.Equal(t, "ETH", alerts[1].Coin)
	assert.Equal(t, LiqSeverityWarn, alerts[1].Severity)
}

func TestBaseSize(t *testing.T) {
	assert.InDelta(t, 0.02, BaseSize(1000, 50000), 1e-9)
	assert.InDelta(t, 0.333333, BaseSize(1000, 3000), 1e-6)
	assert.Zero(t, BaseSize(1000, 0))
	// Rounds down, never up.
	assert.LessOrEqual(t, BaseSize(100, 3)*3, 100.0)
}
