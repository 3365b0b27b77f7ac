package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
positions:
  - market: xrpusdt
    side: BUY
    entry_price: 27.5
    risk_lock_price: 25
    profit_lock_price: 30
    quantity: 10
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Positions, 1)
	p := cfg.Positions[0]
	assert.Equal(t, "XRPUSDT", p.Market)
	assert.Equal(t, "XRPUSDT", p.Name)
	assert.Equal(t, "XRPUSDT", p.MainOrderID, "main order defaults to the position name")
	assert.Equal(t, "buy", p.Side)
	assert.True(t, p.IsEnabled())

	assert.True(t, cfg.Scheduler.CountdownEnabled)
	assert.Equal(t, 10, cfg.Scheduler.CountdownSeconds)
	assert.Equal(t, 1000, cfg.Normal.TickIntervalMillis)
	assert.Equal(t, "info", cfg.Logs.LogLevel)
}

func TestParseDisabledPosition(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + "    enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Positions[0].IsEnabled())
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"no positions": "positions: []\n",
		"bad side": `
positions:
  - market: X
    side: long
    entry_price: 1
    risk_lock_price: 1
    profit_lock_price: 1
    quantity: 1
`,
		"zero quantity": `
positions:
  - market: X
    side: sell
    entry_price: 1
    risk_lock_price: 1
    profit_lock_price: 1
`,
		"duplicate names": `
positions:
  - {name: a, market: X, side: buy, entry_price: 2, risk_lock_price: 1, profit_lock_price: 3, quantity: 1}
  - {name: a, market: Y, side: buy, entry_price: 2, risk_lock_price: 1, profit_lock_price: 3, quantity: 1}
`,
		"shared main order": `
positions:
  - {name: a, market: X, main_order_id: shared, side: buy, entry_price: 2, risk_lock_price: 1, profit_lock_price: 3, quantity: 1}
  - {name: b, market: X, main_order_id: shared, side: sell, entry_price: 2, risk_lock_price: 3, profit_lock_price: 1, quantity: 1}
`,
		"main order defaulted from another name": `
positions:
  - {name: a, market: X, side: buy, entry_price: 2, risk_lock_price: 1, profit_lock_price: 3, quantity: 1}
  - {name: b, market: X, main_order_id: a, side: buy, entry_price: 2, risk_lock_price: 1, profit_lock_price: 3, quantity: 1}
`,
		"negative countdown": minimalYAML + "scheduler:\n  countdown_seconds: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSharedMainOrderErrorNamesBothPositions(t *testing.T) {
	_, err := Parse([]byte(`
positions:
  - {name: a, market: X, main_order_id: shared, side: buy, entry_price: 2, risk_lock_price: 1, profit_lock_price: 3, quantity: 1}
  - {name: b, market: X, main_order_id: shared, side: sell, entry_price: 2, risk_lock_price: 3, profit_lock_price: 1, quantity: 1}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'a' and 'b' both protect main order 'shared'")
}

func TestPartialSchedulerBlockKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + "scheduler:\n  countdown_seconds: 3\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Scheduler.CountdownEnabled)
	assert.Equal(t, 3, cfg.Scheduler.CountdownSeconds)

	cfg, err = Parse([]byte(minimalYAML + "scheduler:\n  countdown_enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Scheduler.CountdownEnabled)
	assert.Equal(t, 10, cfg.Scheduler.CountdownSeconds)
}

func TestLoadConfigShippedFile(t *testing.T) {
	cfg, err := LoadConfig("config.yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Positions)
	assert.True(t, cfg.Simulation.Enabled)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "not found")
}

func TestEnvConfigApply(t *testing.T) {
	t.Setenv("HEDGE_STATE_DIR", "/tmp/hedge-state")
	t.Setenv("HEDGE_LOG_LEVEL", "")
	cfg := NewConfig()
	LoadEnvConfig().Apply(cfg)
	assert.Equal(t, "/tmp/hedge-state", cfg.Normal.StateDirectory)
	assert.Equal(t, "info", cfg.Logs.LogLevel)
}

func TestPricePrecisionOptional(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.Positions[0].Precision())

	cfg, err = Parse([]byte(minimalYAML + "    price_precision: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Positions[0].Precision())

	_, err = Parse([]byte(minimalYAML + "    price_precision: -2\n"))
	assert.Error(t, err)
}
