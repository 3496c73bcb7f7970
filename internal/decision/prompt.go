package decision

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"tradewind/internal/config"
	"tradewind/internal/market"
)

const systemPromptTemplate = `You are an autonomous futures trading agent.
You manage one account and decide independently for each coin.

Rules:
- Reply with a "# FINAL DECISION" section containing exactly one JSON object.
- The object is keyed by coin, one entry per coin you have a view on.
- Each entry: {"signal": "long"|"short"|"close"|"hold", "confidence": 0..1,
  "risk_usd": <margin budget in USD>, "leverage": <int>,
  "stop_loss": <price>, "profit_target": <price>, "reasoning": "<short text>"}
- risk_usd is margin; position notional = risk_usd * leverage.
- Never exceed leverage %d. Never risk more than %.0f%% of the account on one position.
- "hold" when you have no edge. "close" only for coins with an open position.`

// BuildSystemPrompt renders the per-agent system prompt, appending the
// operator's strategy text when configured.
func BuildSystemPrompt(agent config.AgentConfig) string {
	prompt := fmt.Sprintf(systemPromptTemplate, agent.MaxLeverage, agent.MaxPositionPct*100)
	if s := strings.TrimSpace(agent.Strategy); s != "" {
		prompt += "\n\nStrategy directive:\n" + s
	}
	return prompt
}

// BuildUserPrompt renders the market snapshot and the agent's current
// portfolio into the user turn.
func BuildUserPrompt(agent config.AgentConfig, mkt map[string]market.Data, snapshot PortfolioSnapshot) string {
	var b strings.Builder
	b.WriteString("# Market Snapshot\n")
	coins := make([]string, 0, len(mkt))
	for coin := range mkt {
		coins = append(coins, coin)
	}
	sort.Strings(coins)
	for _, coin := range coins {
		if !agentTracks(agent, coin) {
			continue
		}
		data := mkt[coin]
		payload, err := json.Marshal(data)
		if err != nil {
			continue
		}
		b.WriteString(fmt.Sprintf("## %s\n", coin))
		b.Write(payload)
		b.WriteString("\n\n")
	}

	b.WriteString("# Account\n")
	b.WriteString(fmt.Sprintf("account_value=%.2f withdrawable=%.2f margin_used=%.2f unrealized_pnl=%.2f\n\n",
		snapshot.AccountValue, snapshot.Withdrawable, snapshot.MarginUsed, snapshot.UnrealizedPnL))

	b.WriteString("# Open Positions\n")
	if len(snapshot.Positions) == 0 {
		b.WriteString("none\n")
	}
	for _, pos := range snapshot.Positions {
		b.WriteString(fmt.Sprintf("%s %s size=%.6f entry=%.4f mark=%.4f upnl=%.2f leverage=%.0fx liq=%.4f\n",
			pos.Coin, pos.Side, pos.Size, pos.EntryPrice, pos.MarkPrice,
			pos.UnrealizedPnL, pos.Leverage, pos.LiquidationPrice))
	}
	b.WriteString("\nDecide now for: " + strings.Join(agent.Coins, ", "))
	return b.String()
}

func agentTracks(agent config.AgentConfig, coin string) bool {
	for _, c := range agent.Coins {
		if strings.EqualFold(c, coin) {
			return true
		}
	}
	return false
}
