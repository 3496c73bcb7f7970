package trader

import (
	"fmt"
	"math"

	"tradewind/internal/config"
	"tradewind/internal/decision"
	"tradewind/internal/pkg/failsafe"
)

// RiskManager is the last gate before capital moves. It never mutates
// anything: every check reads the decision and the reconciled snapshot
// and either passes or rejects with a reason.
type RiskManager struct {
	cfg config.RiskConfig
}

func NewRiskManager(cfg config.RiskConfig) *RiskManager {
	return &RiskManager{cfg: cfg}
}

// CheckOpen validates an OPEN decision against the agent's limits and the
// account's current state. Rejections wrap failsafe.ErrRiskRejected (or
// ErrInsufficientBalance for margin shortfalls) so the cycle classifies
// them as SKIP.
func (r *RiskManager) CheckOpen(d *decision.Decision, agent config.AgentConfig, snap decision.PortfolioSnapshot) error {
	if d.Leverage > agent.MaxLeverage {
		return fmt.Errorf("%w: leverage %d exceeds max %d for agent %s",
			failsafe.ErrRiskRejected, d.Leverage, agent.MaxLeverage, agent.ID)
	}

	accountValue := snap.AccountValue
	if accountValue <= 0 {
		accountValue = agent.InitialBalance
	}
	if accountValue <= 0 {
		return fmt.Errorf("%w: account value unknown for agent %s", failsafe.ErrRiskRejected, agent.ID)
	}

	maxNotional := agent.MaxPositionPct * accountValue
	if d.SizeUSD > maxNotional {
		return fmt.Errorf("%w: position %.2f USD exceeds max %.2f USD (%.0f%% of account)",
			failsafe.ErrRiskRejected, d.SizeUSD, maxNotional, agent.MaxPositionPct*100)
	}

	margin := d.SizeUSD / float64(d.Leverage)
	if margin > snap.Withdrawable {
		return fmt.Errorf("%w: required margin %.2f exceeds withdrawable %.2f",
			failsafe.ErrInsufficientBalance, margin, snap.Withdrawable)
	}

	exposure := d.SizeUSD
	for _, pos := range snap.Positions {
		exposure += math.Abs(pos.Size * pos.MarkPrice)
	}
	maxExposure := r.cfg.MaxAccountExposurePct * accountValue
	if exposure > maxExposure {
		return fmt.Errorf("%w: total exposure %.2f exceeds max %.2f (%.0f%% of account)",
			failsafe.ErrRiskRejected, exposure, maxExposure, r.cfg.MaxAccountExposurePct*100)
	}
	return nil
}

type LiquidationSeverity string

const (
	LiqSeverityWarn     LiquidationSeverity = "warn"
	LiqSeverityCritical LiquidationSeverity = "critical"
)

// LiquidationAlert flags one open position drifting toward its
// liquidation price.
type LiquidationAlert struct {
	Coin        string
	Side        string
	DistancePct float64
	Severity    LiquidationSeverity
}

// ScanLiquidation reports positions whose mark price sits within the
// configured warning or critical distance of liquidation.
func (r *RiskManager) ScanLiquidation(snap decision.PortfolioSnapshot) []LiquidationAlert {
	var alerts []LiquidationAlert
	for _, pos := range snap.Positions {
		if pos.LiquidationPrice <= 0 || pos.MarkPrice <= 0 {
			continue
		}
		dist := math.Abs(pos.MarkPrice-pos.LiquidationPrice) / pos.MarkPrice
		switch {
		case r.cfg.LiqCriticalDistPct > 0 && dist <= r.cfg.LiqCriticalDistPct:
			alerts = append(alerts, LiquidationAlert{
				Coin: pos.Coin, Side: pos.Side, DistancePct: dist, Severity: LiqSeverityCritical,
			})
		case r.cfg.LiqWarnDistancePct > 0 && dist <= r.cfg.LiqWarnDistancePct:
			alerts = append(alerts, LiquidationAlert{
				Coin: pos.Coin, Side: pos.Side, DistancePct: dist, Severity: LiqSeverityWarn,
			})
		}
	}
	return alerts
}
