package decision

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// MapParams carries the context the mapper needs to complete an entry:
// the current price and the agent's default stop/take-profit distances,
// used only when the model omits absolute prices.
type MapParams struct {
	CycleID       string
	AgentID       string
	Price         float64
	StopLossPct   float64
	TakeProfitPct float64
}

// MapEntry decodes one schema-valid per-coin entry into a Decision.
// HOLD and CLOSE_POSITION force size, leverage and exit prices to their
// neutral values regardless of what the model wrote.
func MapEntry(coin string, entry gjson.Result, p MapParams) (Decision, error) {
	signal := entry.Get("signal").String()
	if signal == "" {
		signal = entry.Get("action").String()
	}
	action, ok := ParseSignal(signal)
	if !ok {
		return Decision{}, fmt.Errorf("%w: unknown signal %q", ErrSchemaInvalid, signal)
	}
	d := Decision{
		CycleID:    p.CycleID,
		AgentID:    p.AgentID,
		Coin:       strings.ToUpper(strings.TrimSpace(coin)),
		Action:     action,
		Confidence: entry.Get("confidence").Float(),
		Reasoning:  strings.TrimSpace(entry.Get("reasoning").String()),
		CreatedAt:  time.Now(),
	}

	if !action.IsOpen() {
		d.SizeUSD = 0
		d.Leverage = 1
		d.StopLoss = 0
		d.TakeProfit = 0
		return d, nil
	}

	leverage := int(entry.Get("leverage").Int())
	if leverage <= 0 {
		leverage = 1
	}
	d.Leverage = leverage
	// Absolute notional: the model states its risk budget; leverage
	// multiplies it into position size.
	d.SizeUSD = entry.Get("risk_usd").Float() * float64(leverage)

	d.StopLoss = entry.Get("stop_loss").Float()
	d.TakeProfit = entry.Get("profit_target").Float()
	if d.TakeProfit == 0 {
		d.TakeProfit = entry.Get("take_profit").Float()
	}
	// Fill exits the model left out from the agent's default distances.
	if d.StopLoss == 0 && p.Price > 0 && p.StopLossPct > 0 {
		if action == ActionOpenLong {
			d.StopLoss = p.Price * (1 - p.StopLossPct)
		} else {
			d.StopLoss = p.Price * (1 + p.StopLossPct)
		}
	}
	if d.TakeProfit == 0 && p.Price > 0 && p.TakeProfitPct > 0 {
		if action == ActionOpenLong {
			d.TakeProfit = p.Price * (1 + p.TakeProfitPct)
		} else {
			d.TakeProfit = p.Price * (1 - p.TakeProfitPct)
		}
	}
	return d, nil
}
