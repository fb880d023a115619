package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/exchange"
	"github.com/Pinman777/PBGui-TEST/internal/market"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// tickerTTL 内的快照视为新鲜，直接从库返回。
const defaultTickerTTL = 30 * time.Second

// Store 是 Manager 依赖的存储子集。
type Store interface {
	GetTicker(ctx context.Context, exchange, symbol string) (market.Ticker, error)
	UpsertTicker(ctx context.Context, t market.Ticker) error
	GetCandles(ctx context.Context, exchange, symbol, timeframe string, limit int) ([]market.Candle, error)
	UpsertCandles(ctx context.Context, exchange, symbol, timeframe string, candles []market.Candle) error
	UpsertSymbols(ctx context.Context, metas []market.SymbolMeta) error
}

// ManagerConfig 配置缓存管理器。
type ManagerConfig struct {
	Store             Store
	Registry          *exchange.Registry
	TickerTTL         time.Duration
	RateLimitPerMin   int
	DefaultMarketType string
	ExportDir         string
	Now               func() time.Time
}

// Manager 是"取当前行情"的唯一入口：决定走缓存还是回源，
// 并保证同一键同一时刻至多一次在途拉取。
type Manager struct {
	store      Store
	registry   *exchange.Registry
	ttl        time.Duration
	marketType string
	exportDir  string
	now        func() time.Time

	limiter *rate.Limiter
	group   singleflight.Group

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry 不能为空")
	}
	ttl := cfg.TickerTTL
	if ttl <= 0 {
		ttl = defaultTickerTTL
	}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		perSec = 8
	}
	marketType := cfg.DefaultMarketType
	if marketType == "" {
		marketType = market.TypeSwap
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:      cfg.Store,
		registry:   cfg.Registry,
		ttl:        ttl,
		marketType: marketType,
		exportDir:  cfg.ExportDir,
		now:        now,
		limiter:    rate.NewLimiter(perSec, 16),
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// Refresh 重建交易所注册表（例如凭据变更后）。
func (m *Manager) Refresh(specs []exchange.Spec) error {
	return m.registry.Refresh(specs)
}

// Exchanges 返回当前注册的交易所名。
func (m *Manager) Exchanges() []string {
	return m.registry.Names()
}

// MarketType 返回缺省市场类型（swap/spot）。
func (m *Manager) MarketType() string { return m.marketType }

func (m *Manager) adapter(name string) (exchange.Adapter, error) {
	a, ok := m.registry.Get(name)
	if !ok {
		return nil, &market.ValidationError{Field: "exchange", Reason: fmt.Sprintf("不支持的交易所 %s", name)}
	}
	return a, nil
}

// keyLock 返回某逻辑键的互斥锁，保证同键写入串行化。
func (m *Manager) keyLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// GetTicker 返回指定交易对的最新快照。force=false 且库内快照年龄不超过
// TTL 时直接返回缓存；否则回源拉取并落库。适配层失败直接上抛，
// 不会静默退回陈旧数据。
func (m *Manager) GetTicker(ctx context.Context, exchangeName, symbol string, force bool) (market.Ticker, error) {
	adapter, err := m.adapter(exchangeName)
	if err != nil {
		return market.Ticker{}, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return market.Ticker{}, &market.ValidationError{Field: "symbol", Reason: "不能为空"}
	}
	exName := adapter.Name()
	if !force {
		if t, ok := m.freshTicker(ctx, exName, symbol); ok {
			return t, nil
		}
	}
	key := "ticker|" + exName + "|" + symbol
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		// 并发竞争者在此合流：先到者可能已完成拉取并落库。
		if !force {
			if t, ok := m.freshTicker(ctx, exName, symbol); ok {
				return t, nil
			}
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		t, err := adapter.FetchTicker(ctx, symbol, m.marketType)
		if err != nil {
			return nil, err
		}
		t.Exchange = exName
		t.Symbol = symbol
		if err := m.store.UpsertTicker(ctx, t); err != nil {
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		return market.Ticker{}, err
	}
	return v.(market.Ticker), nil
}

func (m *Manager) freshTicker(ctx context.Context, exchangeName, symbol string) (market.Ticker, bool) {
	t, err := m.store.GetTicker(ctx, exchangeName, symbol)
	if err != nil {
		return market.Ticker{}, false
	}
	age := m.now().UnixMilli() - t.Timestamp
	if age < 0 || age > m.ttl.Milliseconds() {
		return market.Ticker{}, false
	}
	return t, true
}

// GetCandles 返回按时间升序的 K 线窗口。仅当 since 未设置、force=false
// 且库内恰好有 limit 根时命中缓存——不完整窗口按未命中处理，强制回源。
func (m *Manager) GetCandles(ctx context.Context, exchangeName, symbol, timeframe string, limit int, since int64, force bool) ([]market.Candle, error) {
	adapter, err := m.adapter(exchangeName)
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &market.ValidationError{Field: "symbol", Reason: "不能为空"}
	}
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return nil, &market.ValidationError{Field: "timeframe", Reason: err.Error()}
	}
	if limit <= 0 {
		limit = 100
	}
	exName := adapter.Name()
	cacheEligible := !force && since == 0
	if cacheEligible {
		cached, err := m.store.GetCandles(ctx, exName, symbol, tf.Key, limit)
		if err != nil {
			return nil, err
		}
		if len(cached) == limit {
			return cached, nil
		}
	}
	writeKey := "candles|" + exName + "|" + symbol + "|" + tf.Key
	reqKey := writeKey + "|" + strconv.FormatInt(since, 10) + "|" + strconv.Itoa(limit)
	v, err, _ := m.group.Do(reqKey, func() (interface{}, error) {
		lock := m.keyLock(writeKey)
		lock.Lock()
		defer lock.Unlock()
		if cacheEligible {
			cached, err := m.store.GetCandles(ctx, exName, symbol, tf.Key, limit)
			if err != nil {
				return nil, err
			}
			if len(cached) == limit {
				return cached, nil
			}
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		candles, err := adapter.FetchCandles(ctx, symbol, m.marketType, tf.Key, limit, since)
		if err != nil {
			return nil, err
		}
		if len(candles) > 0 {
			if err := m.store.UpsertCandles(ctx, exName, symbol, tf.Key, candles); err != nil {
				return nil, err
			}
		}
		// 原样返回适配器给出的序列，不做重排或二次推导。
		return candles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]market.Candle), nil
}

// RefreshSymbols 拉取并落库指定交易所的符号元数据。
func (m *Manager) RefreshSymbols(ctx context.Context, exchangeName, marketType string) ([]market.SymbolMeta, error) {
	adapter, err := m.adapter(exchangeName)
	if err != nil {
		return nil, err
	}
	if marketType == "" {
		marketType = m.marketType
	}
	metas, err := adapter.LoadMarkets(ctx, marketType)
	if err != nil {
		return nil, err
	}
	if err := m.store.UpsertSymbols(ctx, metas); err != nil {
		return nil, err
	}
	return metas, nil
}
