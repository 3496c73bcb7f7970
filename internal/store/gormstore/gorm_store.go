package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradewind/internal/store"
	"tradewind/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore implements agent, trade and cycle-state persistence using
// Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.AgentModel{}, &model.TradeModel{}, &model.CycleStateModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for admin API reads, low contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --------------------- agents -------------------------

func (s *GormStore) UpsertAgent(ctx context.Context, agent *model.AgentModel) error {
	if s == nil || s.db == nil || agent == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	now := time.Now().Unix()
	if agent.CreatedAtUnix == 0 {
		agent.CreatedAtUnix = now
	}
	agent.UpdatedAtUnix = now
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "provider", "account", "status", "initial_balance",
				"max_leverage", "max_position_pct", "stop_loss_pct",
				"take_profit_pct", "strategy", "coins", "updated_at",
			}),
		}).
		Create(agent).Error
}

func (s *GormStore) GetAgent(ctx context.Context, id string) (*model.AgentModel, error) {
	var agent model.AgentModel
	err := s.db.WithContext(ctx).First(&agent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *GormStore) ListAgents(ctx context.Context) ([]model.AgentModel, error) {
	var agents []model.AgentModel
	if err := s.db.WithContext(ctx).Order("id").Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

func (s *GormStore) SetAgentStatus(ctx context.Context, id string, status model.AgentStatus) error {
	res := s.db.WithContext(ctx).Model(&model.AgentModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().Unix()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// --------------------- trades -------------------------

func (s *GormStore) InsertTrade(ctx context.Context, trade *model.TradeModel) error {
	if trade == nil {
		return fmt.Errorf("trade cannot be nil")
	}
	now := time.Now().Unix()
	if trade.CreatedAtUnix == 0 {
		trade.CreatedAtUnix = now
	}
	trade.UpdatedAtUnix = now
	return s.db.WithContext(ctx).Create(trade).Error
}

func (s *GormStore) UpdateTrade(ctx context.Context, trade *model.TradeModel) error {
	if trade == nil || trade.ID == 0 {
		return fmt.Errorf("trade id required for update")
	}
	trade.UpdatedAtUnix = time.Now().Unix()
	return s.db.WithContext(ctx).Save(trade).Error
}

func (s *GormStore) GetTrade(ctx context.Context, id int64) (*model.TradeModel, error) {
	var trade model.TradeModel
	err := s.db.WithContext(ctx).First(&trade, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

func (s *GormStore) ListTrades(ctx context.Context, filter store.TradeFilter) ([]model.TradeModel, error) {
	q := s.db.WithContext(ctx).Model(&model.TradeModel{})
	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	if filter.Coin != "" {
		q = q.Where("coin = ?", strings.ToUpper(filter.Coin))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	q = q.Order("id DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var trades []model.TradeModel
	if err := q.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// OpenTrade returns the single open trade for (agent, coin), nil when none.
func (s *GormStore) OpenTrade(ctx context.Context, agentID, coin string) (*model.TradeModel, error) {
	var trade model.TradeModel
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND coin = ? AND status = ?", agentID, strings.ToUpper(coin), model.TradeStatusOpen).
		First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

// --------------------- cycle state -------------------------

func (s *GormStore) SaveState(ctx context.Context, state *model.CycleStateModel) error {
	if state == nil || strings.TrimSpace(state.Key) == "" {
		return fmt.Errorf("state key required")
	}
	state.UpdatedAtUnix = time.Now().Unix()
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"cycle_count", "last_cycle_time", "last_error", "last_error_time", "updated_at",
			}),
		}).
		Create(state).Error
}

func (s *GormStore) LoadState(ctx context.Context, key string) (*model.CycleStateModel, error) {
	var state model.CycleStateModel
	err := s.db.WithContext(ctx).First(&state, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}
