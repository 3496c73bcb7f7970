package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradewind/internal/config"
	"tradewind/internal/decision"
	"tradewind/internal/gateway/exchange"
	"tradewind/internal/logger"
	"tradewind/internal/pkg/failsafe"
	"tradewind/internal/store"
	"tradewind/internal/store/model"
)

// PriceSource supplies current prices for the tracked coins. Satisfied
// by the market collector; used to value positions the exchange closed
// on its own and no longer reports at all.
type PriceSource interface {
	PricesSnapshot(ctx context.Context) (map[string]float64, error)
}

// PositionManager reconciles the local trade book against the exchange
// and serves the per-agent portfolio view. Several agents may share one
// exchange account, so account value is tracked per agent from its
// initial balance and its own trades unless the agent owns the account
// alone.
type PositionManager struct {
	store    store.Store
	registry *exchange.Registry
	prices   PriceSource
}

func NewPositionManager(st store.Store, registry *exchange.Registry, prices PriceSource) *PositionManager {
	return &PositionManager{store: st, registry: registry, prices: prices}
}

// Snapshot reconciles and returns the agent's portfolio. Implements
// decision.PortfolioReader.
func (m *PositionManager) Snapshot(ctx context.Context, agent config.AgentConfig) (decision.PortfolioSnapshot, error) {
	gw, err := m.registry.Resolve(agent.Account)
	if err != nil {
		return decision.PortfolioSnapshot{}, err
	}
	state, err := gw.AccountState(ctx)
	if err != nil {
		return decision.PortfolioSnapshot{}, fmt.Errorf("account state: %w", err)
	}
	open, err := m.Reconcile(ctx, agent.ID, state, gw)
	if err != nil {
		return decision.PortfolioSnapshot{}, err
	}

	snap := decision.PortfolioSnapshot{}
	marginUsed := 0.0
	for _, trade := range open {
		view := positionView(trade, exchangePosition(state, trade.Coin))
		snap.Positions = append(snap.Positions, view)
		snap.UnrealizedPnL += view.UnrealizedPnL
		if trade.Leverage > 0 {
			marginUsed += trade.NotionalUSD / float64(trade.Leverage)
		}
	}
	snap.MarginUsed = marginUsed

	if state.AccountValue > 0 && m.soleAccountOwner(ctx, agent) {
		// The agent owns the account alone, so the live exchange read is
		// the agent's own book and wins over virtual accounting.
		snap.AccountValue = state.AccountValue
		snap.Withdrawable = state.Withdrawable
		return snap, nil
	}

	realized, fees, err := m.realizedTotals(ctx, agent.ID)
	if err != nil {
		return decision.PortfolioSnapshot{}, err
	}
	snap.AccountValue = agent.InitialBalance + realized - fees + snap.UnrealizedPnL
	snap.Withdrawable = snap.AccountValue - marginUsed
	if snap.Withdrawable < 0 {
		snap.Withdrawable = 0
	}
	// A shared exchange account cannot cover the agent's book: clamp to
	// what the exchange actually holds.
	if state.Withdrawable > 0 && snap.Withdrawable > state.Withdrawable {
		snap.Withdrawable = state.Withdrawable
	}
	return snap, nil
}

// soleAccountOwner reports whether the agent is the only one mapped to
// its exchange account. Only then does the live balance describe this
// agent's book rather than a pool.
func (m *PositionManager) soleAccountOwner(ctx context.Context, agent config.AgentConfig) bool {
	rows, err := m.store.ListAgents(ctx)
	if err != nil {
		logger.Warnf("account ownership lookup failed, keeping virtual accounting: %v", err)
		return false
	}
	owners := 0
	for _, row := range rows {
		if row.Account == agent.Account {
			owners++
		}
	}
	return owners <= 1
}

// Reconcile closes local open trades the exchange no longer reports and
// returns the surviving open set. Closing is idempotent: a trade already
// closed by a previous pass is never touched again.
func (m *PositionManager) Reconcile(ctx context.Context, agentID string, state exchange.AccountState, gw exchange.Gateway) ([]model.TradeModel, error) {
	trades, err := m.store.ListTrades(ctx, store.TradeFilter{
		AgentID: agentID,
		Status:  model.TradeStatusOpen,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list open trades: %v", failsafe.ErrPersistence, err)
	}

	var open []model.TradeModel
	var priceMap map[string]float64
	for i := range trades {
		trade := trades[i]
		pos := exchangePosition(state, trade.Coin)
		if pos != nil && pos.Size != 0 {
			open = append(open, trade)
			continue
		}
		// The exchange is authoritative: a stop, take-profit or manual
		// close happened outside a cycle. The position is gone from the
		// account snapshot, so the exit is valued from a live price read.
		if priceMap == nil && m.prices != nil {
			snap, perr := m.prices.PricesSnapshot(ctx)
			if perr != nil {
				logger.Warnf("price snapshot for reconciliation failed: %v", perr)
				snap = map[string]float64{}
			}
			priceMap = snap
		}
		exitPrice := m.exitValuation(ctx, gw, priceMap, trade)
		now := time.Now()
		trade.Status = model.TradeStatusClosed
		trade.ExitPrice = exitPrice
		trade.RealizedPnL = realizedPnL(trade.Side, trade.Size, trade.EntryPrice, exitPrice)
		trade.ClosedAtUnix = now.Unix()
		trade.CloseReason = "closed on exchange"
		trade.UpdatedAtUnix = now.Unix()
		if err := m.store.UpdateTrade(ctx, &trade); err != nil {
			return nil, fmt.Errorf("%w: close reconciled trade %d: %v", failsafe.ErrPersistence, trade.ID, err)
		}
		logger.Infof("reconciled: closed trade %d (%s %s %s) no longer on exchange, exit=%.4f pnl=%.2f",
			trade.ID, agentID, trade.Side, trade.Coin, trade.ExitPrice, trade.RealizedPnL)
	}
	return open, nil
}

// exitValuation prices a vanished position: batched price snapshot
// first, a per-coin mark price read second, entry price as the last
// resort (zero realized pnl rather than a fabricated one).
func (m *PositionManager) exitValuation(ctx context.Context, gw exchange.Gateway, priceMap map[string]float64, trade model.TradeModel) float64 {
	if price, ok := priceMap[trade.Coin]; ok && price > 0 {
		return price
	}
	if gw != nil {
		if mark, err := gw.MarkPrice(ctx, trade.Coin); err == nil && mark > 0 {
			return mark
		}
	}
	logger.Warnf("no live price for vanished %s position of %s, booking exit at entry", trade.Coin, trade.AgentID)
	return trade.EntryPrice
}

func (m *PositionManager) realizedTotals(ctx context.Context, agentID string) (pnl, fees float64, err error) {
	closed, err := m.store.ListTrades(ctx, store.TradeFilter{
		AgentID: agentID,
		Status:  model.TradeStatusClosed,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: list closed trades: %v", failsafe.ErrPersistence, err)
	}
	for _, t := range closed {
		pnl += t.RealizedPnL
		fees += t.Fees
	}
	return pnl, fees, nil
}

func exchangePosition(state exchange.AccountState, coin string) *exchange.PositionState {
	for i := range state.Positions {
		if strings.EqualFold(state.Positions[i].Coin, coin) {
			return &state.Positions[i]
		}
	}
	return nil
}

// positionView merges the local trade row (entry, size, leverage) with
// the exchange's live marks.
func positionView(trade model.TradeModel, pos *exchange.PositionState) decision.PositionView {
	view := decision.PositionView{
		Coin:       trade.Coin,
		Side:       trade.Side,
		Size:       trade.Size,
		EntryPrice: trade.EntryPrice,
		Leverage:   float64(trade.Leverage),
	}
	if pos != nil {
		view.MarkPrice = pos.MarkPrice
		view.LiquidationPrice = pos.LiquidationPrice
		if pos.Leverage > 0 {
			view.Leverage = pos.Leverage
		}
	}
	if view.MarkPrice > 0 {
		view.UnrealizedPnL = realizedPnL(view.Side, view.Size, view.EntryPrice, view.MarkPrice)
	}
	return view
}

// realizedPnL is the linear-contract pnl for a fill from entry to exit.
func realizedPnL(side string, size, entry, exit float64) float64 {
	if strings.EqualFold(side, "short") {
		return (entry - exit) * size
	}
	return (exit - entry) * size
}
