package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
providers:
  - id: deepseek
    base_url: https://api.deepseek.com/v1
    api_key: sk-test
    model: deepseek-chat
accounts:
  - name: main
    api_key: k
    api_secret: s
agents:
  - id: alpha
    provider: deepseek
    account: main
    enabled: true
    initial_balance: 10000
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	assert.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 180, cfg.Scheduler.IntervalSeconds)
	assert.Equal(t, 3*time.Minute, cfg.Scheduler.Interval())
	assert.Equal(t, 0.8, cfg.Risk.MaxAccountExposurePct)
	assert.Equal(t, 5, cfg.Risk.MaxConsecutiveErrors)
	assert.Equal(t, 30, cfg.Risk.ErrorWindowMinutes)

	agent := cfg.AgentByID("alpha")
	if assert.NotNil(t, agent) {
		assert.Equal(t, "alpha", agent.Name, "name falls back to id")
		assert.Equal(t, 10, agent.MaxLeverage, "leverage falls back to risk default")
		assert.Equal(t, 0.30, agent.MaxPositionPct)
		assert.Equal(t, 0.05, agent.StopLossPct)
		assert.Equal(t, []string{"BTC", "ETH"}, agent.Coins)
	}

	p := cfg.ProviderByID("deepseek")
	if assert.NotNil(t, p) {
		assert.Equal(t, 120, p.TimeoutSeconds)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Run("Unknown Provider Reference", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
providers:
  - id: deepseek
    model: deepseek-chat
agents:
  - id: alpha
    provider: ghost
    initial_balance: 10000
`))
		assert.ErrorContains(t, err, "unconfigured provider")
	})

	t.Run("Unknown Account Reference", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
providers:
  - id: deepseek
    model: deepseek-chat
agents:
  - id: alpha
    provider: deepseek
    account: ghost
    initial_balance: 10000
`))
		assert.ErrorContains(t, err, "unconfigured account")
	})

	t.Run("Empty Account Is Allowed", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `
providers:
  - id: deepseek
    model: deepseek-chat
agents:
  - id: alpha
    provider: deepseek
    initial_balance: 10000
`))
		assert.NoError(t, err)
		assert.Empty(t, cfg.Agents[0].Account)
	})

	t.Run("Leverage Above Hard Cap", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
providers:
  - id: deepseek
    model: deepseek-chat
agents:
  - id: alpha
    provider: deepseek
    initial_balance: 10000
    max_leverage: 75
`))
		assert.ErrorContains(t, err, "hard cap 50")
	})

	t.Run("Zero Initial Balance", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
providers:
  - id: deepseek
    model: deepseek-chat
agents:
  - id: alpha
    provider: deepseek
`))
		assert.ErrorContains(t, err, "initial_balance")
	})

	t.Run("Duplicate Agent ID", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
providers:
  - id: deepseek
    model: deepseek-chat
agents:
  - id: alpha
    provider: deepseek
    initial_balance: 10000
  - id: alpha
    provider: deepseek
    initial_balance: 10000
`))
		assert.ErrorContains(t, err, "duplicate agent id")
	})

	t.Run("Interval Too Short", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
scheduler:
  interval_seconds: 5
providers:
  - id: deepseek
    model: deepseek-chat
agents:
  - id: alpha
    provider: deepseek
    initial_balance: 10000
`))
		assert.ErrorContains(t, err, "interval_seconds")
	})

	t.Run("No Agents", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
providers:
  - id: deepseek
    model: deepseek-chat
`))
		assert.ErrorContains(t, err, "agents")
	})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatcherReload(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	initial, err := Load(path)
	assert.NoError(t, err)

	w, err := NewWatcher(path, initial)
	assert.NoError(t, err)
	defer w.Close()

	reloaded := make(chan *Config, 1)
	w.Subscribe(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	updated := minimalConfig + `
  - id: beta
    provider: deepseek
    initial_balance: 5000
`
	assert.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Len(t, cfg.Agents, 2)
		assert.Len(t, w.Snapshot().Agents, 2)
	case <-time.After(3 * time.Second):
		t.Fatal("reload notification never arrived")
	}
}

func TestWatcherKeepsOldConfigOnBadReload(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	initial, err := Load(path)
	assert.NoError(t, err)

	w, err := NewWatcher(path, initial)
	assert.NoError(t, err)
	defer w.Close()

	assert.NoError(t, os.WriteFile(path, []byte("providers: [broken"), 0o644))
	time.Sleep(300 * time.Millisecond)

	assert.Len(t, w.Snapshot().Agents, 1, "a bad reload keeps the last good config")
}
