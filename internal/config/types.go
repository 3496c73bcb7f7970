package config

import "time"

// Config is the top-level configuration for the trading controller.
type Config struct {
	App       AppConfig        `yaml:"app"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Risk      RiskConfig       `yaml:"risk"`
	Providers []ProviderConfig `yaml:"providers"`
	Accounts  []AccountConfig  `yaml:"accounts"`
	Agents    []AgentConfig    `yaml:"agents"`
}

type AppConfig struct {
	LogLevel        string `yaml:"log_level"`
	LogPath         string `yaml:"log_path"`
	LLMLogPath      string `yaml:"llm_log_path"`
	LLMDump         bool   `yaml:"llm_dump"`
	DBPath          string `yaml:"db_path"`
	DecisionLogPath string `yaml:"decision_log_path"`
	AdminAddr       string `yaml:"admin_addr"`
}

type SchedulerConfig struct {
	IntervalSeconds      int  `yaml:"interval_seconds"`
	MisfireGraceSeconds  int  `yaml:"misfire_grace_seconds"`
	RunImmediately       bool `yaml:"run_immediately"`
	StopWaitForCycleSecs int  `yaml:"stop_wait_seconds"`
}

func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s SchedulerConfig) MisfireGrace() time.Duration {
	return time.Duration(s.MisfireGraceSeconds) * time.Second
}

// RiskConfig holds process-wide risk defaults; per-agent fields override
// the matching defaults when set.
type RiskConfig struct {
	MaxAccountExposurePct float64 `yaml:"max_account_exposure_pct"`
	DefaultStopLossPct    float64 `yaml:"default_stop_loss_pct"`
	DefaultTakeProfitPct  float64 `yaml:"default_take_profit_pct"`
	DefaultMaxLeverage    int     `yaml:"default_max_leverage"`
	DefaultMaxPositionPct float64 `yaml:"default_max_position_pct"`
	LiqWarnDistancePct    float64 `yaml:"liq_warn_distance_pct"`
	LiqCriticalDistPct    float64 `yaml:"liq_critical_distance_pct"`
	MaxConsecutiveErrors  int     `yaml:"max_consecutive_errors"`
	ErrorWindowMinutes    int     `yaml:"error_window_minutes"`
}

// ProviderConfig describes one OpenAI-compatible model backend.
type ProviderConfig struct {
	ID             string `yaml:"id"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// AccountConfig describes one named exchange account.
type AccountConfig struct {
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// AgentConfig binds a model backend, an exchange account and a risk
// profile into one independent decision maker.
type AgentConfig struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Provider       string   `yaml:"provider"`
	Account        string   `yaml:"account"`
	Enabled        bool     `yaml:"enabled"`
	Temperature    float64  `yaml:"temperature"`
	MaxTokens      int      `yaml:"max_tokens"`
	Strategy       string   `yaml:"strategy"`
	InitialBalance float64  `yaml:"initial_balance"`
	MaxLeverage    int      `yaml:"max_leverage"`
	MaxPositionPct float64  `yaml:"max_position_pct"`
	StopLossPct    float64  `yaml:"stop_loss_pct"`
	TakeProfitPct  float64  `yaml:"take_profit_pct"`
	Coins          []string `yaml:"coins"`
}
