package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradewind/internal/decision"
	"tradewind/internal/gateway/exchange"
	"tradewind/internal/logger"
	"tradewind/internal/pkg/failsafe"
	"tradewind/internal/store"
	"tradewind/internal/store/model"

	"github.com/shopspring/decimal"
)

// baseSizeScale keeps order sizes inside the precision futures venues
// accept for base-asset quantities.
const baseSizeScale = 6

// BaseSize converts a USD notional at the given price into a base-asset
// quantity, rounded down so the order never exceeds the intended notional.
func BaseSize(notionalUSD, price float64) float64 {
	if price <= 0 {
		return 0
	}
	qty := decimal.NewFromFloat(notionalUSD).
		Div(decimal.NewFromFloat(price)).
		RoundDown(baseSizeScale)
	f, _ := qty.Float64()
	return f
}

// OrderManager owns the trade lifecycle rows: it places orders and keeps
// the local book consistent with what actually reached the exchange.
type OrderManager struct {
	store store.Store
}

func NewOrderManager(st store.Store) *OrderManager {
	return &OrderManager{store: st}
}

// OpenTrade places the entry market order and records the trade. If the
// row cannot be persisted after the fill, the position is flattened with
// a best-effort reduce-only order and the persistence error is surfaced:
// an untracked position must not survive the cycle.
func (m *OrderManager) OpenTrade(ctx context.Context, gw exchange.Gateway, d *decision.Decision, size, price float64) (*model.TradeModel, error) {
	isBuy := d.Action == decision.ActionOpenLong
	result, err := gw.PlaceOrder(ctx, exchange.OrderRequest{
		Coin:  d.Coin,
		IsBuy: isBuy,
		Size:  size,
		Type:  exchange.OrderTypeMarket,
	})
	if err != nil {
		return nil, fmt.Errorf("place entry order: %w", err)
	}
	entryPrice := result.AvgPrice
	if entryPrice <= 0 {
		entryPrice = price
	}

	now := time.Now()
	trade := &model.TradeModel{
		AgentID:       d.AgentID,
		Coin:          d.Coin,
		DecisionID:    d.CycleID,
		Side:          sideOf(d.Action),
		Size:          size,
		NotionalUSD:   d.SizeUSD,
		Leverage:      d.Leverage,
		EntryPrice:    entryPrice,
		Status:        model.TradeStatusOpen,
		ExchangeOrder: result.OrderID,
		OpenedAtUnix:  now.Unix(),
		CreatedAtUnix: now.Unix(),
		UpdatedAtUnix: now.Unix(),
	}
	if err := m.store.InsertTrade(ctx, trade); err != nil {
		logger.Errorf("trade persist failed after fill (%s %s), flattening: %v", d.AgentID, d.Coin, err)
		if _, cancelErr := gw.PlaceOrder(ctx, exchange.OrderRequest{
			Coin:       d.Coin,
			IsBuy:      !isBuy,
			Size:       size,
			Type:       exchange.OrderTypeMarket,
			ReduceOnly: true,
		}); cancelErr != nil {
			logger.Errorf("compensating close also failed for %s %s: %v", d.AgentID, d.Coin, cancelErr)
		}
		return nil, fmt.Errorf("%w: insert trade: %v", failsafe.ErrPersistence, err)
	}
	return trade, nil
}

// CloseTrade marks an open trade closed at the given exit price.
func (m *OrderManager) CloseTrade(ctx context.Context, trade *model.TradeModel, exitPrice float64, reason string) error {
	if trade.Status != model.TradeStatusOpen {
		return fmt.Errorf("trade %d is %s, not open", trade.ID, trade.Status)
	}
	now := time.Now()
	trade.Status = model.TradeStatusClosed
	trade.ExitPrice = exitPrice
	trade.RealizedPnL = realizedPnL(trade.Side, trade.Size, trade.EntryPrice, exitPrice)
	trade.ClosedAtUnix = now.Unix()
	trade.CloseReason = reason
	trade.UpdatedAtUnix = now.Unix()
	if err := m.store.UpdateTrade(ctx, trade); err != nil {
		return fmt.Errorf("%w: update trade %d: %v", failsafe.ErrPersistence, trade.ID, err)
	}
	return nil
}

// CancelTrade marks a trade cancelled before any fill was recorded.
func (m *OrderManager) CancelTrade(ctx context.Context, trade *model.TradeModel, reason string) error {
	if trade.Status != model.TradeStatusOpen {
		return fmt.Errorf("trade %d is %s, not open", trade.ID, trade.Status)
	}
	now := time.Now()
	trade.Status = model.TradeStatusCancelled
	trade.CloseReason = reason
	trade.ClosedAtUnix = now.Unix()
	trade.UpdatedAtUnix = now.Unix()
	if err := m.store.UpdateTrade(ctx, trade); err != nil {
		return fmt.Errorf("%w: update trade %d: %v", failsafe.ErrPersistence, trade.ID, err)
	}
	return nil
}

// PnLSummary aggregates the realized outcome of an agent's closed trades.
type PnLSummary struct {
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	RealizedPnL float64 `json:"realized_pnl"`
	Fees        float64 `json:"fees"`
}

func (m *OrderManager) Summary(ctx context.Context, agentID string) (PnLSummary, error) {
	closed, err := m.store.ListTrades(ctx, store.TradeFilter{
		AgentID: agentID,
		Status:  model.TradeStatusClosed,
	})
	if err != nil {
		return PnLSummary{}, fmt.Errorf("%w: list closed trades: %v", failsafe.ErrPersistence, err)
	}
	var s PnLSummary
	for _, t := range closed {
		s.Trades++
		s.RealizedPnL += t.RealizedPnL
		s.Fees += t.Fees
		if t.RealizedPnL >= 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	return s, nil
}

func sideOf(action decision.Action) string {
	if action == decision.ActionOpenShort {
		return "short"
	}
	return "long"
}

// closeSideIsBuy returns the taker side that flattens the position.
func closeSideIsBuy(side string) bool {
	return strings.EqualFold(side, "short")
}
