package config

const (
	defaultLogLevel          = "info"
	defaultLogPath           = "data/logs/tradewind.log"
	defaultLLMLogPath        = "data/logs/tradewind-llm.log"
	defaultDBPath            = "data/db/tradewind.db"
	defaultDecisionLogPath   = "data/db/decisions.db"
	defaultAdminAddr         = ":9301"
	defaultIntervalSeconds   = 180
	defaultMisfireGraceSecs  = 30
	defaultStopWaitSeconds   = 120
	defaultMaxExposurePct    = 0.8
	defaultStopLossPct       = 0.05
	defaultTakeProfitPct     = 0.10
	defaultMaxLeverage       = 10
	defaultMaxPositionPct    = 0.30
	defaultLiqWarnPct        = 0.15
	defaultLiqCriticalPct    = 0.05
	defaultMaxConsecutiveErr = 5
	defaultErrorWindowMins   = 30
	defaultProviderTimeout   = 120
	defaultProviderRetries   = 2
	defaultAgentTemperature  = 0.5
	defaultAgentMaxTokens    = 4000
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Scheduler.applyDefaults()
	c.Risk.applyDefaults()
	for i := range c.Providers {
		c.Providers[i].applyDefaults()
	}
	for i := range c.Agents {
		c.Agents[i].applyDefaults(c.Risk)
	}
}

func (a *AppConfig) applyDefaults() {
	if a.LogLevel == "" {
		a.LogLevel = defaultLogLevel
	}
	if a.LogPath == "" {
		a.LogPath = defaultLogPath
	}
	if a.LLMLogPath == "" {
		a.LLMLogPath = defaultLLMLogPath
	}
	if a.DBPath == "" {
		a.DBPath = defaultDBPath
	}
	if a.DecisionLogPath == "" {
		a.DecisionLogPath = defaultDecisionLogPath
	}
	if a.AdminAddr == "" {
		a.AdminAddr = defaultAdminAddr
	}
}

func (s *SchedulerConfig) applyDefaults() {
	if s.IntervalSeconds <= 0 {
		s.IntervalSeconds = defaultIntervalSeconds
	}
	if s.MisfireGraceSeconds <= 0 {
		s.MisfireGraceSeconds = defaultMisfireGraceSecs
	}
	if s.StopWaitForCycleSecs <= 0 {
		s.StopWaitForCycleSecs = defaultStopWaitSeconds
	}
}

func (r *RiskConfig) applyDefaults() {
	if r.MaxAccountExposurePct <= 0 {
		r.MaxAccountExposurePct = defaultMaxExposurePct
	}
	if r.DefaultStopLossPct <= 0 {
		r.DefaultStopLossPct = defaultStopLossPct
	}
	if r.DefaultTakeProfitPct <= 0 {
		r.DefaultTakeProfitPct = defaultTakeProfitPct
	}
	if r.DefaultMaxLeverage <= 0 {
		r.DefaultMaxLeverage = defaultMaxLeverage
	}
	if r.DefaultMaxPositionPct <= 0 {
		r.DefaultMaxPositionPct = defaultMaxPositionPct
	}
	if r.LiqWarnDistancePct <= 0 {
		r.LiqWarnDistancePct = defaultLiqWarnPct
	}
	if r.LiqCriticalDistPct <= 0 {
		r.LiqCriticalDistPct = defaultLiqCriticalPct
	}
	if r.MaxConsecutiveErrors <= 0 {
		r.MaxConsecutiveErrors = defaultMaxConsecutiveErr
	}
	if r.ErrorWindowMinutes <= 0 {
		r.ErrorWindowMinutes = defaultErrorWindowMins
	}
}

func (p *ProviderConfig) applyDefaults() {
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = defaultProviderTimeout
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultProviderRetries
	}
}

func (a *AgentConfig) applyDefaults(risk RiskConfig) {
	if a.Name == "" {
		a.Name = a.ID
	}
	if a.Temperature <= 0 {
		a.Temperature = defaultAgentTemperature
	}
	if a.MaxTokens <= 0 {
		a.MaxTokens = defaultAgentMaxTokens
	}
	if a.MaxLeverage <= 0 {
		a.MaxLeverage = risk.DefaultMaxLeverage
	}
	if a.MaxPositionPct <= 0 {
		a.MaxPositionPct = risk.DefaultMaxPositionPct
	}
	if a.StopLossPct <= 0 {
		a.StopLossPct = risk.DefaultStopLossPct
	}
	if a.TakeProfitPct <= 0 {
		a.TakeProfitPct = risk.DefaultTakeProfitPct
	}
	if len(a.Coins) == 0 {
		a.Coins = []string{"BTC", "ETH"}
	}
}
