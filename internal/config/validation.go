package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("agents requires at least one entry")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("providers requires at least one entry")
	}
	providers := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("providers contains entry without id")
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("providers.%s missing model", p.ID)
		}
		if _, dup := providers[p.ID]; dup {
			return fmt.Errorf("duplicate provider id: %s", p.ID)
		}
		providers[p.ID] = struct{}{}
	}
	accounts := make(map[string]struct{}, len(c.Accounts))
	for _, a := range c.Accounts {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("accounts contains entry without name")
		}
		if _, dup := accounts[a.Name]; dup {
			return fmt.Errorf("duplicate account name: %s", a.Name)
		}
		accounts[a.Name] = struct{}{}
	}
	agents := make(map[string]struct{}, len(c.Agents))
	for _, ag := range c.Agents {
		if strings.TrimSpace(ag.ID) == "" {
			return fmt.Errorf("agents contains entry without id")
		}
		if _, dup := agents[ag.ID]; dup {
			return fmt.Errorf("duplicate agent id: %s", ag.ID)
		}
		agents[ag.ID] = struct{}{}
		if _, ok := providers[ag.Provider]; !ok {
			return fmt.Errorf("agents.%s references unconfigured provider: %s", ag.ID, ag.Provider)
		}
		// Account may be empty: the orchestrator falls back to the default
		// execution handle. A named account must exist, though.
		if ag.Account != "" {
			if _, ok := accounts[ag.Account]; !ok {
				return fmt.Errorf("agents.%s references unconfigured account: %s", ag.ID, ag.Account)
			}
		}
		if ag.InitialBalance <= 0 {
			return fmt.Errorf("agents.%s requires initial_balance > 0", ag.ID)
		}
		if ag.MaxLeverage > 50 {
			return fmt.Errorf("agents.%s max_leverage %d exceeds hard cap 50", ag.ID, ag.MaxLeverage)
		}
		if ag.MaxPositionPct <= 0 || ag.MaxPositionPct > 1 {
			return fmt.Errorf("agents.%s max_position_pct must be in (0,1]", ag.ID)
		}
	}
	if c.Scheduler.IntervalSeconds < 10 {
		return fmt.Errorf("scheduler.interval_seconds must be >= 10")
	}
	return nil
}
