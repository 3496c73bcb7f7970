// Package engine runs one full trading cycle: collect market data, fan
// decisions out across the agents, execute what survived validation, and
// advance the persisted cycle state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradewind/internal/config"
	"tradewind/internal/decision"
	"tradewind/internal/logger"
	"tradewind/internal/market"
	"tradewind/internal/pkg/failsafe"
	"tradewind/internal/state"
	"tradewind/internal/store"
	"tradewind/internal/store/model"
	"tradewind/internal/trader"

	"github.com/google/uuid"
)

// ErrShutdown tells the scheduler the failsafe has escalated and no
// further cycles may run.
var ErrShutdown = errors.New("failsafe requested shutdown")

// CycleSummary is the per-cycle operator report.
type CycleSummary struct {
	CycleID     string        `json:"cycle_id"`
	CycleNumber int64         `json:"cycle_number"`
	StartedAt   time.Time     `json:"started_at"`
	CollectTime time.Duration `json:"collect_time"`
	DecideTime  time.Duration `json:"decide_time"`
	ExecuteTime time.Duration `json:"execute_time"`

	AgentsTotal  int `json:"agents_total"`
	AgentsFailed int `json:"agents_failed"`
	Executed     int `json:"executed"`
	Held         int `json:"held"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	LiqAlerts    int `json:"liq_alerts"`

	DecisionsOK     int `json:"decisions_ok"`
	DecisionsFailed int `json:"decisions_failed"`

	Coins []string `json:"coins"`
}

// ConfigSource yields the current configuration; backed by the fsnotify
// watcher so a cycle always sees the latest reload.
type ConfigSource func() *config.Config

// DecisionCounter reports how many of a cycle's decisions parsed and
// validated cleanly versus failed; backed by the decision log.
type DecisionCounter interface {
	CountByStatus(ctx context.Context, cycleID string) (success, failed int, err error)
}

// Executor runs cycles. One instance serves the whole process; the
// scheduler guarantees cycles never overlap.
type Executor struct {
	cfg       ConfigSource
	store     store.Store
	collector market.Collector
	decisions *decision.Orchestrator
	trader    *trader.Executor
	state     *state.Manager
	counts    DecisionCounter
	failsafe  *failsafe.Handler
}

func NewExecutor(
	cfg ConfigSource,
	st store.Store,
	collector market.Collector,
	decisions *decision.Orchestrator,
	tr *trader.Executor,
	stateMgr *state.Manager,
	counts DecisionCounter,
	fs *failsafe.Handler,
) *Executor {
	return &Executor{
		cfg:       cfg,
		store:     st,
		collector: collector,
		decisions: decisions,
		trader:    tr,
		state:     stateMgr,
		counts:    counts,
		failsafe:  fs,
	}
}

// RunCycle executes one complete cycle. It returns ErrShutdown when the
// failsafe escalates; any other error means the cycle failed but the
// scheduler may keep going.
func (e *Executor) RunCycle(ctx context.Context) (CycleSummary, error) {
	summary := CycleSummary{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now(),
	}
	logger.InfoBlock(fmt.Sprintf("cycle %s starting (count=%d)", summary.CycleID, e.state.CycleCount()+1))

	agents, err := e.activeAgents(ctx)
	if err != nil {
		return summary, e.fail(ctx, &summary, fmt.Errorf("resolve active agents: %w", err))
	}
	summary.AgentsTotal = len(agents)
	if len(agents) == 0 {
		logger.Warnf("cycle %s: no active agents, nothing to do", summary.CycleID)
		return e.finish(ctx, summary)
	}

	// Phase 1: market data.
	collectStart := time.Now()
	mkt, err := e.collector.CollectAll(ctx)
	summary.CollectTime = time.Since(collectStart)
	if err != nil {
		return summary, e.fail(ctx, &summary, fmt.Errorf("collect market data: %w", err))
	}
	for coin := range mkt {
		summary.Coins = append(summary.Coins, coin)
	}

	// Phase 2: decisions, one outcome per agent no matter what.
	decideStart := time.Now()
	outcomes := e.decisions.GenerateAll(ctx, summary.CycleID, agents, mkt)
	summary.DecideTime = time.Since(decideStart)

	// Phase 3: execution.
	executeStart := time.Now()
	byID := agentsByID(agents)
	for _, outcome := range outcomes {
		if outcome.Failed {
			summary.AgentsFailed++
			continue
		}
		agent := byID[outcome.AgentID]
		for i := range outcome.Decisions {
			d := &outcome.Decisions[i]
			if d.Action == decision.ActionHold {
				summary.Held++
				continue
			}
			if err := e.trader.Execute(ctx, agent, d); err != nil {
				if e.classifyExecutionError(d, err, &summary) {
					summary.ExecuteTime = time.Since(executeStart)
					return summary, e.fail(ctx, &summary, err)
				}
				continue
			}
			summary.Executed++
		}
	}
	summary.ExecuteTime = time.Since(executeStart)

	if summary.AgentsFailed == summary.AgentsTotal {
		return summary, e.fail(ctx, &summary, fmt.Errorf("all %d agents failed this cycle", summary.AgentsTotal))
	}

	e.scanLiquidations(ctx, agents, &summary)
	return e.finish(ctx, summary)
}

// classifyExecutionError routes one decision's failure. Skips and retries
// stay inside the cycle; returns true only when the cycle must abort.
func (e *Executor) classifyExecutionError(d *decision.Decision, err error, summary *CycleSummary) bool {
	switch failsafe.Classify(err) {
	case failsafe.ActionSkip:
		summary.Skipped++
		logger.Warnf("skipped %s %s %s: %v", d.AgentID, d.Action, d.Coin, err)
		return false
	case failsafe.ActionShutdown:
		summary.Failed++
		return true
	default:
		// Transient: the next cycle retries from a fresh snapshot.
		summary.Failed++
		logger.Warnf("deferred %s %s %s to next cycle: %v", d.AgentID, d.Action, d.Coin, err)
		return false
	}
}

// scanLiquidations reports positions near their liquidation price after
// the cycle's orders have settled. Reporting only; exits stay with the
// exchange-side trigger orders.
func (e *Executor) scanLiquidations(ctx context.Context, agents []config.AgentConfig, summary *CycleSummary) {
	for _, agent := range agents {
		alerts, err := e.trader.LiquidationAlerts(ctx, agent)
		if err != nil {
			logger.Warnf("liquidation scan failed for %s: %v", agent.ID, err)
			continue
		}
		for _, a := range alerts {
			summary.LiqAlerts++
			logger.Warnf("liquidation risk: %s %s %s within %.1f%% of liquidation (%s)",
				agent.ID, a.Side, a.Coin, a.DistancePct*100, a.Severity)
		}
	}
}

// finish folds the decision-log tallies into the summary, advances the
// persisted state and resets the failsafe counter.
func (e *Executor) finish(ctx context.Context, summary CycleSummary) (CycleSummary, error) {
	if e.counts != nil {
		ok, failed, err := e.counts.CountByStatus(ctx, summary.CycleID)
		if err != nil {
			logger.Warnf("decision tally for cycle %s failed: %v", summary.CycleID, err)
		} else {
			summary.DecisionsOK = ok
			summary.DecisionsFailed = failed
		}
	}
	count, err := e.state.AdvanceCycle(ctx, time.Now())
	if err != nil {
		return summary, e.fail(ctx, &summary, err)
	}
	summary.CycleNumber = count
	e.failsafe.ResetErrorCount()
	logger.Infof("cycle %s done: agents=%d/%d decisions=%d/%d executed=%d held=%d skipped=%d failed=%d liq_alerts=%d (collect=%s decide=%s execute=%s)",
		summary.CycleID, summary.AgentsTotal-summary.AgentsFailed, summary.AgentsTotal,
		summary.DecisionsOK, summary.DecisionsOK+summary.DecisionsFailed,
		summary.Executed, summary.Held, summary.Skipped, summary.Failed, summary.LiqAlerts,
		summary.CollectTime.Round(time.Millisecond), summary.DecideTime.Round(time.Millisecond),
		summary.ExecuteTime.Round(time.Millisecond))
	return summary, nil
}

// fail records the cycle error, consults the failsafe and maps an
// escalation to ErrShutdown.
func (e *Executor) fail(ctx context.Context, summary *CycleSummary, cause error) error {
	logger.Errorf("cycle %s failed: %v", summary.CycleID, cause)
	if err := e.state.RecordError(ctx, cause, time.Now()); err != nil {
		logger.Errorf("recording cycle error also failed: %v", err)
	}
	if e.failsafe.HandleError(cause, "cycle "+summary.CycleID) == failsafe.ActionShutdown {
		return fmt.Errorf("%w: %v", ErrShutdown, cause)
	}
	return cause
}

// activeAgents filters the configured agents by the enable flag and the
// persisted status. An agent without a row is treated as active; pausing
// is an explicit operator action.
func (e *Executor) activeAgents(ctx context.Context) ([]config.AgentConfig, error) {
	cfg := e.cfg()
	var active []config.AgentConfig
	for _, agent := range cfg.Agents {
		if !agent.Enabled {
			continue
		}
		row, err := e.store.GetAgent(ctx, agent.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: get agent %s: %v", failsafe.ErrPersistence, agent.ID, err)
		}
		if row != nil && row.Status != model.AgentStatusActive {
			continue
		}
		active = append(active, agent)
	}
	return active, nil
}

func agentsByID(agents []config.AgentConfig) map[string]config.AgentConfig {
	out := make(map[string]config.AgentConfig, len(agents))
	for _, a := range agents {
		out[a.ID] = a
	}
	return out
}
