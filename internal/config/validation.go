package config

import (
	"fmt"
	"strings"
)

var supportedExchanges = map[string]bool{
	"binance": true,
	"okx":     true,
}

var supportedMarketTypes = map[string]bool{
	"swap": true,
	"spot": true,
}

var supportedTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "1d": true,
}

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.validateExchanges(); err != nil {
		return err
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateExchanges() error {
	enabled := 0
	seen := make(map[string]bool)
	for _, ex := range c.Exchanges {
		name := strings.ToLower(strings.TrimSpace(ex.Name))
		if !supportedExchanges[name] {
			return fmt.Errorf("exchanges contains unsupported exchange: %s", ex.Name)
		}
		if seen[name] {
			return fmt.Errorf("exchanges contains duplicate entry: %s", name)
		}
		seen[name] = true
		if ex.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("exchanges requires at least one enabled entry")
	}
	return nil
}

func (c *CacheConfig) validate() error {
	if c.TickerTTLMs < 0 {
		return fmt.Errorf("cache.ticker_ttl_ms must be >= 0")
	}
	if !supportedMarketTypes[strings.ToLower(c.DefaultMarketType)] {
		return fmt.Errorf("cache.default_market_type must be swap or spot, got %q", c.DefaultMarketType)
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if !supportedTimeframes[strings.ToLower(s.DefaultTimeframe)] {
		return fmt.Errorf("sync.default_timeframe is not supported: %s", s.DefaultTimeframe)
	}
	if s.DefaultLimit <= 0 {
		return fmt.Errorf("sync.default_limit must be > 0")
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	if strings.TrimSpace(d.Path) == "" {
		return fmt.Errorf("database.path cannot be empty")
	}
	if strings.TrimSpace(d.ResultsDir) == "" {
		return fmt.Errorf("database.results_dir cannot be empty")
	}
	return nil
}
