package trader

import (
	"context"
	"fmt"
	"sync"

	"tradewind/internal/config"
	"tradewind/internal/decision"
	"tradewind/internal/gateway/exchange"
	"tradewind/internal/logger"
	"tradewind/internal/pkg/failsafe"
)

// Executor turns validated decisions into exchange activity. All order
// flow for one agent is serialized behind a per-agent mutex so the
// open-position check and the placement that follows it cannot interleave
// across concurrent cycles.
type Executor struct {
	registry  *exchange.Registry
	risk      *RiskManager
	positions *PositionManager
	orders    *OrderManager

	mu      sync.Mutex
	agentMu map[string]*sync.Mutex
}

func NewExecutor(registry *exchange.Registry, risk *RiskManager, positions *PositionManager, orders *OrderManager) *Executor {
	return &Executor{
		registry:  registry,
		risk:      risk,
		positions: positions,
		orders:    orders,
		agentMu:   make(map[string]*sync.Mutex),
	}
}

func (e *Executor) lockAgent(agentID string) func() {
	e.mu.Lock()
	m, ok := e.agentMu[agentID]
	if !ok {
		m = &sync.Mutex{}
		e.agentMu[agentID] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Execute dispatches one decision. HOLD is a no-op by contract; an action
// outside the enum is a hard error because it can only mean validation
// was bypassed.
func (e *Executor) Execute(ctx context.Context, agent config.AgentConfig, d *decision.Decision) error {
	switch d.Action {
	case decision.ActionHold:
		return nil
	case decision.ActionOpenLong, decision.ActionOpenShort:
		unlock := e.lockAgent(agent.ID)
		defer unlock()
		return e.open(ctx, agent, d)
	case decision.ActionClosePosition:
		unlock := e.lockAgent(agent.ID)
		defer unlock()
		return e.close(ctx, agent, d)
	default:
		return fmt.Errorf("unknown action %q for agent %s", d.Action, agent.ID)
	}
}

func (e *Executor) open(ctx context.Context, agent config.AgentConfig, d *decision.Decision) error {
	gw, err := e.registry.Resolve(agent.Account)
	if err != nil {
		return err
	}
	// Re-snapshot under the agent lock: the decision was validated against
	// a view that may be a full model round-trip old.
	snap, err := e.positions.Snapshot(ctx, agent)
	if err != nil {
		return err
	}
	if pos, exists := snap.Position(d.Coin); exists {
		return fmt.Errorf("%w: position already open for %s (%s %.4f)",
			failsafe.ErrRiskRejected, d.Coin, pos.Side, pos.Size)
	}
	if err := e.risk.CheckOpen(d, agent, snap); err != nil {
		return err
	}

	if err := gw.UpdateLeverage(ctx, d.Coin, d.Leverage, true); err != nil {
		return fmt.Errorf("update leverage: %w", err)
	}
	price, err := gw.MarkPrice(ctx, d.Coin)
	if err != nil {
		return fmt.Errorf("mark price: %w", err)
	}
	size := BaseSize(d.SizeUSD, price)
	if size <= 0 {
		return fmt.Errorf("%w: notional %.2f at price %.4f rounds to zero size",
			failsafe.ErrInvalidDecision, d.SizeUSD, price)
	}

	trade, err := e.orders.OpenTrade(ctx, gw, d, size, price)
	if err != nil {
		return err
	}
	logger.Infof("opened %s %s %s size=%.6f notional=%.2f lev=%dx entry=%.4f",
		agent.ID, trade.Side, d.Coin, size, d.SizeUSD, d.Leverage, trade.EntryPrice)

	e.placeExitTriggers(ctx, gw, d, size)
	return nil
}

// placeExitTriggers attaches the stop-loss and take-profit orders. Both
// are best effort: the position is already recorded and a failed trigger
// must not unwind it. Reconciliation picks up exchange-side exits.
func (e *Executor) placeExitTriggers(ctx context.Context, gw exchange.Gateway, d *decision.Decision, size float64) {
	exitIsBuy := d.Action == decision.ActionOpenShort
	if d.StopLoss > 0 {
		if _, err := gw.PlaceTriggerOrder(ctx, exchange.TriggerRequest{
			Coin:         d.Coin,
			IsBuy:        exitIsBuy,
			Size:         size,
			TriggerPrice: d.StopLoss,
			IsTakeProfit: false,
			ReduceOnly:   true,
		}); err != nil {
			logger.Warnf("stop-loss trigger failed for %s %s at %.4f: %v", d.AgentID, d.Coin, d.StopLoss, err)
		}
	}
	if d.TakeProfit > 0 {
		if _, err := gw.PlaceTriggerOrder(ctx, exchange.TriggerRequest{
			Coin:         d.Coin,
			IsBuy:        exitIsBuy,
			Size:         size,
			TriggerPrice: d.TakeProfit,
			IsTakeProfit: true,
			ReduceOnly:   true,
		}); err != nil {
			logger.Warnf("take-profit trigger failed for %s %s at %.4f: %v", d.AgentID, d.Coin, d.TakeProfit, err)
		}
	}
}

// LiquidationAlerts scans the agent's reconciled book for positions
// drifting toward their liquidation price.
func (e *Executor) LiquidationAlerts(ctx context.Context, agent config.AgentConfig) ([]LiquidationAlert, error) {
	snap, err := e.positions.Snapshot(ctx, agent)
	if err != nil {
		return nil, err
	}
	return e.risk.ScanLiquidation(snap), nil
}

func (e *Executor) close(ctx context.Context, agent config.AgentConfig, d *decision.Decision) error {
	gw, err := e.registry.Resolve(agent.Account)
	if err != nil {
		return err
	}
	trade, err := e.orders.store.OpenTrade(ctx, agent.ID, d.Coin)
	if err != nil {
		return fmt.Errorf("%w: lookup open trade: %v", failsafe.ErrPersistence, err)
	}
	if trade == nil {
		return fmt.Errorf("%w: No open position for %s", failsafe.ErrNoPosition, d.Coin)
	}

	result, err := gw.PlaceOrder(ctx, exchange.OrderRequest{
		Coin:       d.Coin,
		IsBuy:      closeSideIsBuy(trade.Side),
		Size:       trade.Size,
		Type:       exchange.OrderTypeMarket,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("place close order: %w", err)
	}
	exitPrice := result.AvgPrice
	if exitPrice <= 0 {
		if mark, merr := gw.MarkPrice(ctx, d.Coin); merr == nil {
			exitPrice = mark
		} else {
			exitPrice = trade.EntryPrice
		}
	}
	if err := e.orders.CloseTrade(ctx, trade, exitPrice, "agent decision"); err != nil {
		return err
	}
	logger.Infof("closed %s %s %s exit=%.4f pnl=%.2f", agent.ID, trade.Side, d.Coin, exitPrice, trade.RealizedPnL)
	return nil
}
