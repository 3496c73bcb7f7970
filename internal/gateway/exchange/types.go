// Package exchange defines the execution-gateway abstraction the
// controller trades through. One Gateway instance wraps one exchange
// account; the registry resolves named accounts per agent.
package exchange

import "time"

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest describes a single outright order.
type OrderRequest struct {
	Coin       string    // base asset, e.g. "BTC"
	IsBuy      bool
	Size       float64   // base-asset quantity
	Price      float64   // limit price, 0 for market
	Type       OrderType
	ReduceOnly bool
	TIF        string // "GTC", "IOC", "FOK"
}

// TriggerRequest describes a conditional stop-loss/take-profit order.
type TriggerRequest struct {
	Coin         string
	IsBuy        bool
	Size         float64
	TriggerPrice float64
	IsTakeProfit bool
	ReduceOnly   bool
}

type OrderResult struct {
	OrderID  string
	AvgPrice float64 // fill price when the exchange reports one
}

// PositionState is the exchange's view of one open position.
type PositionState struct {
	Coin             string
	Side             string // "long" or "short"
	Size             float64
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedPnL    float64
	Leverage         float64
	LiquidationPrice float64
}

// AccountState is the exchange's view of the account.
type AccountState struct {
	AccountValue  float64
	Withdrawable  float64
	MarginUsed    float64
	UnrealizedPnL float64
	Positions     []PositionState
	UpdatedAt     time.Time
}
