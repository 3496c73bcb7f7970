package app

import (
	"context"
	"fmt"
	"time"

	"tradewind/internal/config"
	"tradewind/internal/decision"
	"tradewind/internal/engine"
	"tradewind/internal/gateway/exchange"
	"tradewind/internal/gateway/exchange/binance"
	"tradewind/internal/gateway/provider"
	"tradewind/internal/logger"
	"tradewind/internal/market"
	"tradewind/internal/pkg/failsafe"
	"tradewind/internal/scheduler"
	"tradewind/internal/state"
	"tradewind/internal/store"
	"tradewind/internal/store/decisionlog"
	"tradewind/internal/store/gormstore"
	"tradewind/internal/trader"
	"tradewind/internal/transport/http/admin"
)

// AppBuilder assembles the controller. The Fn fields exist so tests can
// substitute the pieces that talk to the outside world.
type AppBuilder struct {
	cfgPath string
	cfg     *config.Config

	storeFn     func(string) (store.Store, error)
	decisionsFn func(string) (*decisionlog.Store, error)
	registryFn  func(*config.Config) (*exchange.Registry, error)
	backendsFn  func([]config.ProviderConfig) (map[string]provider.ModelBackend, error)
	collectorFn func([]string) market.Collector
}

type AppBuilderOption func(*AppBuilder)

func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.storeFn = func(string) (store.Store, error) { return st, nil }
	}
}

func WithRegistry(reg *exchange.Registry) AppBuilderOption {
	return func(b *AppBuilder) {
		b.registryFn = func(*config.Config) (*exchange.Registry, error) { return reg, nil }
	}
}

func WithBackends(backends map[string]provider.ModelBackend) AppBuilderOption {
	return func(b *AppBuilder) {
		b.backendsFn = func([]config.ProviderConfig) (map[string]provider.ModelBackend, error) {
			return backends, nil
		}
	}
}

func WithCollector(c market.Collector) AppBuilderOption {
	return func(b *AppBuilder) {
		b.collectorFn = func([]string) market.Collector { return c }
	}
}

func NewAppBuilder(cfgPath string, cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfgPath:     cfgPath,
		cfg:         cfg,
		storeFn:     func(path string) (store.Store, error) { return gormstore.NewGormStore(path) },
		decisionsFn: decisionlog.NewStore,
		registryFn:  buildRegistry,
		backendsFn:  provider.Build,
		collectorFn: func(coins []string) market.Collector { return market.NewBinanceSource(coins) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	st, err := b.storeFn(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	decisions, err := b.decisionsFn(cfg.App.DecisionLogPath)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	registry, err := b.registryFn(cfg)
	if err != nil {
		return nil, err
	}
	backends, err := b.backendsFn(cfg.Providers)
	if err != nil {
		return nil, err
	}
	collector := b.collectorFn(trackedCoins(cfg))

	watcher, err := config.NewWatcher(b.cfgPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}

	if err := syncAgents(ctx, st, cfg); err != nil {
		watcher.Close()
		return nil, err
	}
	watcher.Subscribe(func(fresh *config.Config) {
		if err := syncAgents(context.Background(), st, fresh); err != nil {
			logger.Errorf("agent sync after reload failed: %v", err)
		}
	})

	stateMgr := state.NewManager(st)
	if err := stateMgr.Load(ctx); err != nil {
		watcher.Close()
		return nil, err
	}
	logger.Infof("state restored: cycle_count=%d", stateMgr.CycleCount())

	fs := failsafe.NewHandler(
		cfg.Risk.MaxConsecutiveErrors,
		time.Duration(cfg.Risk.ErrorWindowMinutes)*time.Minute,
	)

	positions := trader.NewPositionManager(st, registry, collector)
	orders := trader.NewOrderManager(st)
	risk := trader.NewRiskManager(cfg.Risk)
	executor := trader.NewExecutor(registry, risk, positions, orders)
	orch := decision.NewOrchestrator(backends, positions, decisions)

	eng := engine.NewExecutor(watcher.Snapshot, st, collector, orch, executor, stateMgr, decisions, fs)

	app := &App{
		cfg:       cfg,
		watcher:   watcher,
		store:     st,
		decisions: decisions,
		state:     stateMgr,
		failsafe:  fs,
		engine:    eng,
		startedAt: time.Now(),
	}

	sched, err := scheduler.New(app.runCycle, scheduler.Options{
		Interval:       cfg.Scheduler.Interval(),
		MisfireGrace:   cfg.Scheduler.MisfireGrace(),
		RunImmediately: cfg.Scheduler.RunImmediately,
		OnError:        app.onCycleError,
	})
	if err != nil {
		watcher.Close()
		return nil, err
	}
	app.scheduler = sched

	if cfg.App.AdminAddr != "" {
		app.admin = admin.NewServer(cfg.App.AdminAddr, admin.Deps{
			Config:    watcher.Snapshot,
			Scheduler: sched,
			State:     stateMgr,
			Failsafe:  fs,
			Store:     st,
			Decisions: decisions,
			Positions: positions,
			Orders:    orders,
			StartedAt: app.startedAt,
		})
	}
	return app, nil
}

// buildRegistry creates one guarded gateway per configured account. The
// first account (or the only one) becomes the default handle.
func buildRegistry(cfg *config.Config) (*exchange.Registry, error) {
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("at least one exchange account must be configured")
	}
	registry := exchange.NewRegistry()
	for i, acct := range cfg.Accounts {
		gw := binance.New(binance.Config{
			Name:      acct.Name,
			APIKey:    acct.APIKey,
			APISecret: acct.APISecret,
			Testnet:   acct.Testnet,
		})
		registry.Register(acct.Name, exchange.Guard(gw), i == 0)
	}
	return registry, nil
}

// trackedCoins is the union of every agent's coin list.
func trackedCoins(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var coins []string
	for _, agent := range cfg.Agents {
		for _, coin := range agent.Coins {
			if !seen[coin] {
				seen[coin] = true
				coins = append(coins, coin)
			}
		}
	}
	return coins
}
