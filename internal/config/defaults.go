package config

import (
	"fmt"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9980"
	defaultAppLogPath        = "data/logs/pbgui.log"
	defaultDatabasePath      = "data/db/market.db"
	defaultResultsDir        = "data/backtests"
	defaultTickerTTLMs       = 30_000
	defaultRateLimitPerMin   = 480
	defaultMarketType        = "swap"
	defaultSyncTimeframe     = "1h"
	defaultSyncLimit         = 100
	defaultInitialBalance    = 10_000
	defaultReportDir         = "data/reports"
	defaultStrategiesDir     = "data/strategies"
	defaultExportDir         = "data/exports"
	defaultExchangeHTTPTmout = 15
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Database.applyDefaults(keys)
	c.Cache.applyDefaults(keys)
	c.Sync.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Strategies.applyDefaults(keys)
	c.Export.applyDefaults(keys)
	c.applyExchangeDefaults()
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("database.path", &d.Path, defaultDatabasePath),
		stringFieldDefault("database.results_dir", &d.ResultsDir, defaultResultsDir),
	)
}

func (c *CacheConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "cache.ticker_ttl_ms",
			need:  func() bool { return c.TickerTTLMs <= 0 },
			apply: func() { c.TickerTTLMs = defaultTickerTTLMs },
		},
		fieldDefault{
			key:   "cache.rate_limit_per_min",
			need:  func() bool { return c.RateLimitPerMin <= 0 },
			apply: func() { c.RateLimitPerMin = defaultRateLimitPerMin },
		},
		stringFieldDefault("cache.default_market_type", &c.DefaultMarketType, defaultMarketType),
	)
}

func (s *SyncConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("sync.default_timeframe", &s.DefaultTimeframe, defaultSyncTimeframe),
		fieldDefault{
			key:   "sync.default_limit",
			need:  func() bool { return s.DefaultLimit <= 0 },
			apply: func() { s.DefaultLimit = defaultSyncLimit },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.initial_balance",
			need:  func() bool { return b.InitialBalance <= 0 },
			apply: func() { b.InitialBalance = defaultInitialBalance },
		},
		stringFieldDefault("backtest.report_dir", &b.ReportDir, defaultReportDir),
	)
}

func (s *StrategiesConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategies.dir", &s.Dir, defaultStrategiesDir),
	)
}

func (e *ExportConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("export.dir", &e.Dir, defaultExportDir),
	)
}

func (c *Config) applyExchangeDefaults() {
	if len(c.Exchanges) == 0 {
		// 无配置时默认启用两家公共行情源。
		c.Exchanges = []ExchangeConfig{
			{Name: "binance", Enabled: true},
			{Name: "okx", Enabled: true},
		}
	}
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		ex.Name = strings.ToLower(strings.TrimSpace(ex.Name))
		if ex.Name == "" {
			ex.Name = fmt.Sprintf("exchange_%d", i)
		}
		if ex.HTTPTimeoutSeconds <= 0 {
			ex.HTTPTimeoutSeconds = defaultExchangeHTTPTmout
		}
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
