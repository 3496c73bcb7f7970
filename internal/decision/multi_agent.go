package decision

import (
	"context"
	"fmt"

	"tradewind/internal/config"
	"tradewind/internal/gateway/provider"
	"tradewind/internal/logger"
	"tradewind/internal/market"
	"tradewind/internal/store/decisionlog"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// AgentOutcome is one agent's result for one cycle: either a set of
// validated decisions or exactly one failure.
type AgentOutcome struct {
	AgentID   string
	Decisions []Decision
	Failed    bool
	Reason    string
}

// Recorder is the append-only audit sink. Satisfied by decisionlog.Store.
type Recorder interface {
	Insert(ctx context.Context, rec *decisionlog.Record) error
}

// Orchestrator fans decision generation out across all active agents and
// fans back in once every agent has produced an outcome. One agent's
// failure never cancels its siblings.
type Orchestrator struct {
	backends  map[string]provider.ModelBackend
	portfolio PortfolioReader
	recorder  Recorder
}

func NewOrchestrator(backends map[string]provider.ModelBackend, portfolio PortfolioReader, recorder Recorder) *Orchestrator {
	return &Orchestrator{
		backends:  backends,
		portfolio: portfolio,
		recorder:  recorder,
	}
}

// GenerateAll produces exactly len(agents) outcomes regardless of
// completion order or individual failures.
func (o *Orchestrator) GenerateAll(ctx context.Context, cycleID string, agents []config.AgentConfig, mkt map[string]market.Data) []AgentOutcome {
	outcomes := make([]AgentOutcome, len(agents))
	// Plain Group: sibling agents must keep running when one fails, so no
	// shared cancel context across tasks.
	var eg errgroup.Group
	for i, agent := range agents {
		i, agent := i, agent
		eg.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("agent %s: panic during decision generation: %v", agent.ID, r)
					outcomes[i] = o.failAgent(ctx, cycleID, agent, "", fmt.Sprintf("panic: %v", r))
				}
			}()
			outcomes[i] = o.generateOne(ctx, cycleID, agent, mkt)
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes
}

func (o *Orchestrator) generateOne(ctx context.Context, cycleID string, agent config.AgentConfig, mkt map[string]market.Data) AgentOutcome {
	backend, ok := o.backends[agent.Provider]
	if !ok {
		return o.failAgent(ctx, cycleID, agent, "", fmt.Sprintf("provider %q not configured", agent.Provider))
	}
	snapshot, err := o.portfolio.Snapshot(ctx, agent)
	if err != nil {
		return o.failAgent(ctx, cycleID, agent, "", fmt.Sprintf("portfolio snapshot: %v", err))
	}

	system := BuildSystemPrompt(agent)
	user := BuildUserPrompt(agent, mkt, snapshot)
	logger.LogLLMRequest(agent.ID, backend.Model(), system, user)
	raw, err := backend.Generate(ctx, provider.GenerateRequest{
		System:      system,
		User:        user,
		MaxTokens:   agent.MaxTokens,
		Temperature: agent.Temperature,
	})
	logger.LogLLMResponse(agent.ID, backend.Model(), raw)
	if err != nil {
		return o.failAgent(ctx, cycleID, agent, raw, fmt.Sprintf("model call: %v", err))
	}

	obj, err := ExtractDecisionJSON(raw)
	if err != nil {
		return o.failAgent(ctx, cycleID, agent, raw, err.Error())
	}
	entries, err := SplitPerCoin(obj)
	if err != nil {
		return o.failAgent(ctx, cycleID, agent, raw, err.Error())
	}

	outcome := AgentOutcome{AgentID: agent.ID}
	for coin, entry := range entries {
		d, reason := o.buildDecision(cycleID, agent, coin, entry, mkt, snapshot)
		if reason != "" {
			o.record(ctx, failedRecord(cycleID, agent.ID, coin, raw, reason))
			logger.Warnf("agent %s: %s decision rejected: %s", agent.ID, coin, reason)
			continue
		}
		d.RawOutput = raw
		o.record(ctx, successRecord(d, system, user))
		outcome.Decisions = append(outcome.Decisions, d)
	}
	if len(outcome.Decisions) == 0 && len(entries) > 0 {
		outcome.Failed = true
		outcome.Reason = "all per-coin decisions rejected"
	}
	return outcome
}

// buildDecision runs schema -> map -> invariants -> business validation
// for one per-coin entry. An empty reason means the decision is valid.
func (o *Orchestrator) buildDecision(cycleID string, agent config.AgentConfig, coin string, entry gjson.Result, mkt map[string]market.Data, snapshot PortfolioSnapshot) (Decision, string) {
	if err := ValidateEntrySchema(entry.Raw); err != nil {
		return Decision{}, err.Error()
	}
	price := mkt[coin].Price
	d, err := MapEntry(coin, entry, MapParams{
		CycleID:       cycleID,
		AgentID:       agent.ID,
		Price:         price,
		StopLossPct:   agent.StopLossPct,
		TakeProfitPct: agent.TakeProfitPct,
	})
	if err != nil {
		return Decision{}, err.Error()
	}
	if err := ValidateInvariants(&d, agent); err != nil {
		return Decision{}, err.Error()
	}
	if ok, reason := ValidateBusiness(&d, snapshot); !ok {
		return Decision{}, reason
	}
	return d, ""
}

func (o *Orchestrator) failAgent(ctx context.Context, cycleID string, agent config.AgentConfig, raw, reason string) AgentOutcome {
	o.record(ctx, failedRecord(cycleID, agent.ID, "", raw, reason))
	logger.Warnf("agent %s: decision generation failed: %s", agent.ID, reason)
	return AgentOutcome{AgentID: agent.ID, Failed: true, Reason: reason}
}

func (o *Orchestrator) record(ctx context.Context, rec *decisionlog.Record) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Insert(ctx, rec); err != nil {
		logger.Errorf("decision log insert failed (agent=%s coin=%s): %v", rec.AgentID, rec.Coin, err)
	}
}

func successRecord(d Decision, system, user string) *decisionlog.Record {
	return &decisionlog.Record{
		CycleID:      d.CycleID,
		AgentID:      d.AgentID,
		Coin:         d.Coin,
		Action:       string(d.Action),
		SizeUSD:      d.SizeUSD,
		Leverage:     d.Leverage,
		StopLoss:     d.StopLoss,
		TakeProfit:   d.TakeProfit,
		Confidence:   d.Confidence,
		Reasoning:    d.Reasoning,
		Status:       decisionlog.StatusSuccess,
		RawOutput:    d.RawOutput,
		SystemPrompt: system,
		UserPrompt:   user,
	}
}

func failedRecord(cycleID, agentID, coin, raw, reason string) *decisionlog.Record {
	return &decisionlog.Record{
		CycleID:    cycleID,
		AgentID:    agentID,
		Coin:       coin,
		Action:     string(ActionHold),
		Leverage:   1,
		Status:     decisionlog.StatusFailed,
		FailReason: reason,
		RawOutput:  raw,
	}
}
