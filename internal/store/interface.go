package store

import (
	"context"

	"tradewind/internal/store/model"
)

// AgentRepository persists agent identity and risk profile rows.
type AgentRepository interface {
	UpsertAgent(ctx context.Context, agent *model.AgentModel) error
	GetAgent(ctx context.Context, id string) (*model.AgentModel, error)
	ListAgents(ctx context.Context) ([]model.AgentModel, error)
	SetAgentStatus(ctx context.Context, id string, status model.AgentStatus) error
}

// TradeFilter narrows trade queries; zero values mean "any".
type TradeFilter struct {
	AgentID string
	Coin    string
	Status  model.TradeStatus
	Limit   int
}

// TradeRepository persists execution records.
type TradeRepository interface {
	InsertTrade(ctx context.Context, trade *model.TradeModel) error
	UpdateTrade(ctx context.Context, trade *model.TradeModel) error
	GetTrade(ctx context.Context, id int64) (*model.TradeModel, error)
	ListTrades(ctx context.Context, filter TradeFilter) ([]model.TradeModel, error)
	OpenTrade(ctx context.Context, agentID, coin string) (*model.TradeModel, error)
}

// StateRepository persists the single crash-recovery blob.
type StateRepository interface {
	SaveState(ctx context.Context, state *model.CycleStateModel) error
	LoadState(ctx context.Context, key string) (*model.CycleStateModel, error)
}

// Store is the combined persistence surface the controller depends on.
type Store interface {
	AgentRepository
	TradeRepository
	StateRepository
	Close() error
}
