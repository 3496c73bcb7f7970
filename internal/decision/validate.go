package decision

import (
	"fmt"

	"tradewind/internal/config"
)

const hardLeverageCap = 50

// ValidateInvariants checks the structural rules every decision must hold
// before it is persisted, independent of account state.
func ValidateInvariants(d *Decision, agent config.AgentConfig) error {
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %.2f outside [0,1]", d.Confidence)
	}
	switch d.Action {
	case ActionHold, ActionClosePosition:
		if d.SizeUSD != 0 || d.Leverage != 1 || d.StopLoss != 0 || d.TakeProfit != 0 {
			return fmt.Errorf("%s must carry size=0 leverage=1 stop=take_profit=0", d.Action)
		}
		return nil
	case ActionOpenLong, ActionOpenShort:
		if d.SizeUSD <= 0 {
			return fmt.Errorf("open decision requires size_usd > 0")
		}
		maxLev := agent.MaxLeverage
		if maxLev > hardLeverageCap || maxLev <= 0 {
			maxLev = hardLeverageCap
		}
		if d.Leverage < 1 || d.Leverage > maxLev {
			return fmt.Errorf("leverage %d outside [1, %d]", d.Leverage, maxLev)
		}
		if d.StopLoss <= 0 || d.TakeProfit <= 0 {
			return fmt.Errorf("open decision requires stop_loss and take_profit > 0")
		}
		if d.Action == ActionOpenLong && d.StopLoss >= d.TakeProfit {
			return fmt.Errorf("long requires stop_loss < take_profit (got %.4f >= %.4f)", d.StopLoss, d.TakeProfit)
		}
		if d.Action == ActionOpenShort && d.TakeProfit >= d.StopLoss {
			return fmt.Errorf("short requires take_profit < stop_loss (got %.4f >= %.4f)", d.TakeProfit, d.StopLoss)
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
}

// ValidateBusiness applies the account-dependent rules. It never reaches
// the exchange: everything is decided against the reconciled snapshot.
func ValidateBusiness(d *Decision, snapshot PortfolioSnapshot) (bool, string) {
	switch d.Action {
	case ActionOpenLong, ActionOpenShort:
		if pos, exists := snapshot.Position(d.Coin); exists {
			return false, fmt.Sprintf("position already open for %s (%s %.4f @ %.2f)",
				d.Coin, pos.Side, pos.Size, pos.EntryPrice)
		}
		if snapshot.AccountValue > 0 && d.SizeUSD > snapshot.AccountValue {
			return false, fmt.Sprintf("size %.2f exceeds account value %.2f", d.SizeUSD, snapshot.AccountValue)
		}
	case ActionClosePosition:
		if _, exists := snapshot.Position(d.Coin); !exists {
			return false, fmt.Sprintf("No open position for %s", d.Coin)
		}
	}
	return true, ""
}
