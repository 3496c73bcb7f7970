package decision

import (
	"context"
	"strings"
	"time"

	"tradewind/internal/config"
)

type Action string

const (
	ActionOpenLong      Action = "OPEN_LONG"
	ActionOpenShort     Action = "OPEN_SHORT"
	ActionClosePosition Action = "CLOSE_POSITION"
	ActionHold          Action = "HOLD"
)

func (a Action) IsOpen() bool {
	return a == ActionOpenLong || a == ActionOpenShort
}

// ParseSignal maps the model's direct-signal vocabulary onto the canonical
// action enum.
func ParseSignal(signal string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(signal)) {
	case "long", "buy", "open_long":
		return ActionOpenLong, true
	case "short", "sell", "open_short":
		return ActionOpenShort, true
	case "close", "close_position", "exit":
		return ActionClosePosition, true
	case "hold", "wait", "none":
		return ActionHold, true
	default:
		return "", false
	}
}

// Decision is one validated per-coin instruction from one agent in one
// cycle. Rows derived from it are append-only.
type Decision struct {
	CycleID    string  `json:"cycle_id"`
	AgentID    string  `json:"agent_id"`
	Coin       string  `json:"coin"`
	Action     Action  `json:"action"`
	SizeUSD    float64 `json:"size_usd"`
	Leverage   int     `json:"leverage"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`

	RawOutput string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// PositionView is the reconciled view of one open position an agent holds.
type PositionView struct {
	Coin             string  `json:"coin"`
	Side             string  `json:"side"`
	Size             float64 `json:"size"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	Leverage         float64 `json:"leverage"`
	LiquidationPrice float64 `json:"liquidation_price"`
}

// PortfolioSnapshot is what decision generation and business validation
// see of one agent's account.
type PortfolioSnapshot struct {
	AccountValue  float64        `json:"account_value"`
	Withdrawable  float64        `json:"withdrawable"`
	MarginUsed    float64        `json:"margin_used"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	Positions     []PositionView `json:"positions"`
}

func (s PortfolioSnapshot) Position(coin string) (PositionView, bool) {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	for _, p := range s.Positions {
		if strings.EqualFold(p.Coin, coin) {
			return p, true
		}
	}
	return PositionView{}, false
}

// PortfolioReader supplies the per-agent account view. Implemented by the
// position manager; defined here so this package stays a leaf.
type PortfolioReader interface {
	Snapshot(ctx context.Context, agent config.AgentConfig) (PortfolioSnapshot, error)
}
