package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradewind/internal/config"
	"tradewind/internal/logger"
	"tradewind/internal/store"
	"tradewind/internal/store/model"
)

// syncAgents mirrors the configured agents into the store. Identity and
// risk fields follow the config; the status column is operator-owned and
// survives the sync, except that a disabled agent is stopped.
func syncAgents(ctx context.Context, st store.Store, cfg *config.Config) error {
	for _, agent := range cfg.Agents {
		existing, err := st.GetAgent(ctx, agent.ID)
		if err != nil {
			return fmt.Errorf("get agent %s: %w", agent.ID, err)
		}
		status := model.AgentStatusActive
		if existing != nil {
			status = existing.Status
		}
		if !agent.Enabled {
			status = model.AgentStatusStopped
		} else if existing != nil && existing.Status == model.AgentStatusStopped {
			// Re-enabling in config reactivates; a pause stays a pause.
			status = model.AgentStatusActive
		}

		coins, err := json.Marshal(agent.Coins)
		if err != nil {
			return fmt.Errorf("marshal coins for agent %s: %w", agent.ID, err)
		}
		now := time.Now().Unix()
		row := &model.AgentModel{
			ID:             agent.ID,
			Name:           agent.Name,
			Provider:       agent.Provider,
			Account:        agent.Account,
			Status:         status,
			InitialBalance: agent.InitialBalance,
			MaxLeverage:    agent.MaxLeverage,
			MaxPositionPct: agent.MaxPositionPct,
			StopLossPct:    agent.StopLossPct,
			TakeProfitPct:  agent.TakeProfitPct,
			Strategy:       agent.Strategy,
			Coins:          coins,
			UpdatedAtUnix:  now,
		}
		if existing == nil {
			row.CreatedAtUnix = now
		} else {
			row.CreatedAtUnix = existing.CreatedAtUnix
		}
		if err := st.UpsertAgent(ctx, row); err != nil {
			return fmt.Errorf("upsert agent %s: %w", agent.ID, err)
		}
	}
	logger.Infof("synced %d agents into store", len(cfg.Agents))
	return nil
}
