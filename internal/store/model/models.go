package model

import (
	"gorm.io/datatypes"
)

type AgentStatus string

const (
	AgentStatusActive  AgentStatus = "active"
	AgentStatusPaused  AgentStatus = "paused"
	AgentStatusStopped AgentStatus = "stopped"
)

type TradeStatus string

const (
	TradeStatusOpen       TradeStatus = "open"
	TradeStatusClosed     TradeStatus = "closed"
	TradeStatusCancelled  TradeStatus = "cancelled"
	TradeStatusLiquidated TradeStatus = "liquidated"
)

// AgentModel mirrors one configured agent. Rows are created by config sync
// and mutated by enable/disable; they are never deleted in normal operation.
type AgentModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Name           string         `gorm:"column:name"`
	Provider       string         `gorm:"column:provider"`
	Account        string         `gorm:"column:account"`
	Status         AgentStatus    `gorm:"column:status;index"`
	InitialBalance float64        `gorm:"column:initial_balance"`
	MaxLeverage    int            `gorm:"column:max_leverage"`
	MaxPositionPct float64        `gorm:"column:max_position_pct"`
	StopLossPct    float64        `gorm:"column:stop_loss_pct"`
	TakeProfitPct  float64        `gorm:"column:take_profit_pct"`
	Strategy       string         `gorm:"column:strategy;type:TEXT"`
	Coins          datatypes.JSON `gorm:"column:coins;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

func (AgentModel) TableName() string { return "agents" }

// TradeModel is the execution record for one OPEN decision. At most one
// open row exists per (agent, coin); reconciliation closes rows the
// exchange no longer reports.
type TradeModel struct {
	ID             int64       `gorm:"column:id;primaryKey"`
	AgentID        string      `gorm:"column:agent_id;index:idx_trades_agent_coin,priority:1"`
	Coin           string      `gorm:"column:coin;index:idx_trades_agent_coin,priority:2"`
	DecisionID     string      `gorm:"column:decision_id;index"`
	Side           string      `gorm:"column:side"`
	Size           float64     `gorm:"column:size"`
	NotionalUSD    float64     `gorm:"column:notional_usd"`
	Leverage       int         `gorm:"column:leverage"`
	EntryPrice     float64     `gorm:"column:entry_price"`
	ExitPrice      float64     `gorm:"column:exit_price"`
	RealizedPnL    float64     `gorm:"column:realized_pnl"`
	Fees           float64     `gorm:"column:fees"`
	Status         TradeStatus `gorm:"column:status;index"`
	ExchangeOrder  string      `gorm:"column:exchange_order_id"`
	OpenedAtUnix   int64       `gorm:"column:opened_at"`
	ClosedAtUnix   int64       `gorm:"column:closed_at"`
	CloseReason    string      `gorm:"column:close_reason"`
	CreatedAtUnix  int64       `gorm:"column:created_at"`
	UpdatedAtUnix  int64       `gorm:"column:updated_at"`
}

func (TradeModel) TableName() string { return "trades" }

// CycleStateModel is the single crash-recovery blob, upserted every cycle.
type CycleStateModel struct {
	Key              string `gorm:"column:key;primaryKey"`
	CycleCount       int64  `gorm:"column:cycle_count"`
	ServiceStartTime string `gorm:"column:service_start_time"`
	LastCycleTime    string `gorm:"column:last_cycle_time"`
	LastError        string `gorm:"column:last_error;type:TEXT"`
	LastErrorTime    string `gorm:"column:last_error_time"`
	UpdatedAtUnix    int64  `gorm:"column:updated_at"`
}

func (CycleStateModel) TableName() string { return "cycle_state" }
