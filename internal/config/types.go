package config

import (
	"strings"
	"time"
)

// Config 是 pbgui 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Database   DatabaseConfig   `toml:"database"`
	Exchanges  []ExchangeConfig `toml:"exchanges"`
	Cache      CacheConfig      `toml:"cache"`
	Sync       SyncConfig       `toml:"sync"`
	Backtest   BacktestConfig   `toml:"backtest"`
	Strategies StrategiesConfig `toml:"strategies"`
	Export     ExportConfig     `toml:"export"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type DatabaseConfig struct {
	Path       string `toml:"path"`
	ResultsDir string `toml:"results_dir"`
}

// ExchangeConfig 描述一个交易所接入点。公共行情无需密钥。
type ExchangeConfig struct {
	Name               string `toml:"name"`
	Enabled            bool   `toml:"enabled"`
	APIKey             string `toml:"api_key"`
	APISecret          string `toml:"api_secret"`
	RESTBaseURL        string `toml:"rest_base_url"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
}

type CacheConfig struct {
	TickerTTLMs       int    `toml:"ticker_ttl_ms"`
	RateLimitPerMin   int    `toml:"rate_limit_per_min"`
	DefaultMarketType string `toml:"default_market_type"`
}

// TickerTTLDuration 返回快照新鲜度窗口。
func (c *CacheConfig) TickerTTLDuration() time.Duration {
	return time.Duration(c.TickerTTLMs) * time.Millisecond
}

type SyncConfig struct {
	DefaultTimeframe string `toml:"default_timeframe"`
	DefaultLimit     int    `toml:"default_limit"`
}

type BacktestConfig struct {
	InitialBalance float64 `toml:"initial_balance"`
	ReportDir      string  `toml:"report_dir"`
}

type StrategiesConfig struct {
	Dir string `toml:"dir"`
}

type ExportConfig struct {
	Dir string `toml:"dir"`
}

// EnabledExchanges 返回启用的交易所配置。
func (c *Config) EnabledExchanges() []ExchangeConfig {
	out := make([]ExchangeConfig, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Enabled {
			out = append(out, ex)
		}
	}
	return out
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
