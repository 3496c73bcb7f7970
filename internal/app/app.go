// Package app assembles the controller from configuration and owns its
// lifecycle: scheduler, admin API, stores and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradewind/internal/config"
	"tradewind/internal/engine"
	"tradewind/internal/logger"
	"tradewind/internal/pkg/failsafe"
	"tradewind/internal/scheduler"
	"tradewind/internal/state"
	"tradewind/internal/store"
	"tradewind/internal/store/decisionlog"
	"tradewind/internal/transport/http/admin"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg       *config.Config
	watcher   *config.Watcher
	store     store.Store
	decisions *decisionlog.Store
	state     *state.Manager
	failsafe  *failsafe.Handler
	engine    *engine.Executor
	scheduler *scheduler.Scheduler
	admin     *admin.Server
	startedAt time.Time

	shutdown chan struct{}
}

// NewApp builds the controller without starting it.
func NewApp(cfgPath string, cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(context.Background(), cfgPath, cfg, opts...)
}

// Run starts the scheduler and the admin API and blocks until the
// context is cancelled or the failsafe forces a shutdown.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.scheduler == nil {
		return fmt.Errorf("app not initialized")
	}
	a.shutdown = make(chan struct{})

	group, ctx := errgroup.WithContext(ctx)
	if a.admin != nil {
		group.Go(func() error {
			if err := a.admin.Start(); err != nil {
				return fmt.Errorf("admin server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
		case <-a.shutdown:
		}
		a.stop()
		if a.failsafe.ShouldShutdown() {
			return engine.ErrShutdown
		}
		return nil
	})

	err := group.Wait()
	a.closeStores()
	return err
}

// runCycle is the scheduler's job.
func (a *App) runCycle(ctx context.Context) error {
	_, err := a.engine.RunCycle(ctx)
	return err
}

// onCycleError stops the process only when the failsafe escalated; any
// other cycle error is already logged and the next cycle retries.
func (a *App) onCycleError(err error) bool {
	if errors.Is(err, engine.ErrShutdown) {
		logger.Errorf("failsafe shutdown: %v", err)
		select {
		case <-a.shutdown:
		default:
			close(a.shutdown)
		}
		return true
	}
	return false
}

func (a *App) stop() {
	wait := time.Duration(a.cfg.Scheduler.StopWaitForCycleSecs) * time.Second
	a.scheduler.Stop(wait)
	if a.admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.admin.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("admin shutdown: %v", err)
		}
	}
}

func (a *App) closeStores() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.decisions != nil {
		if err := a.decisions.Close(); err != nil {
			logger.Warnf("closing decision log: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("closing store: %v", err)
		}
	}
}

// Engine exposes the cycle executor for replay and test harnesses.
func (a *App) Engine() *engine.Executor {
	if a == nil {
		return nil
	}
	return a.engine
}

// Scheduler exposes the cycle scheduler for the admin surface.
func (a *App) Scheduler() *scheduler.Scheduler {
	if a == nil {
		return nil
	}
	return a.scheduler
}
