package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  env: prod
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, defaultAppLogLevel, cfg.App.LogLevel)
	assert.Equal(t, defaultTickerTTLMs, cfg.Cache.TickerTTLMs)
	assert.Equal(t, "swap", cfg.Cache.DefaultMarketType)
	assert.Equal(t, defaultSyncLimit, cfg.Sync.DefaultLimit)
	assert.InDelta(t, float64(defaultInitialBalance), cfg.Backtest.InitialBalance, 1e-9)

	// 未配置交易所时默认启用 binance + okx。
	require.Len(t, cfg.Exchanges, 2)
	assert.Len(t, cfg.EnabledExchanges(), 2)
}

func TestLoadExplicitExchanges(t *testing.T) {
	path := writeConfig(t, `
exchanges:
  - name: Binance
    enabled: true
    http_timeout_seconds: 30
  - name: okx
    enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Exchanges, 2)
	assert.Equal(t, "binance", cfg.Exchanges[0].Name)
	assert.Equal(t, 30, cfg.Exchanges[0].HTTPTimeoutSeconds)
	assert.Equal(t, defaultExchangeHTTPTmout, cfg.Exchanges[1].HTTPTimeoutSeconds)
	assert.Len(t, cfg.EnabledExchanges(), 1)
}

func TestLoadRejectsUnsupportedExchange(t *testing.T) {
	path := writeConfig(t, `
exchanges:
  - name: kraken
    enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exchange")
}

func TestLoadRejectsAllDisabled(t *testing.T) {
	path := writeConfig(t, `
exchanges:
  - name: binance
    enabled: false
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadTimeframe(t *testing.T) {
	path := writeConfig(t, `
sync:
  default_timeframe: 7h
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(base, []byte(`
app:
  log_level: debug
cache:
  ticker_ttl_ms: 5000
`), 0o644))
	main := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(main, []byte(`
include:
  - base.yaml
app:
  env: prod
`), 0o644))

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 5000, cfg.Cache.TickerTTLMs)
}
