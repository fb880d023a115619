package marketdata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/exchange"
	"github.com/Pinman777/PBGui-TEST/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter 可脚本化的交易所适配器，记录调用次数。
type stubAdapter struct {
	mu           sync.Mutex
	name         string
	ticker       market.Ticker
	tickerErr    error
	candles      []market.Candle
	candlesErr   error
	tickerCalls  int
	candlesCalls int
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) FetchTicker(ctx context.Context, symbol, marketType string) (market.Ticker, error) {
	s.mu.Lock()
	s.tickerCalls++
	s.mu.Unlock()
	if s.tickerErr != nil {
		return market.Ticker{}, s.tickerErr
	}
	t := s.ticker
	t.Symbol = symbol
	return t, nil
}

func (s *stubAdapter) FetchCandles(ctx context.Context, symbol, marketType, timeframe string, limit int, since int64) ([]market.Candle, error) {
	s.mu.Lock()
	s.candlesCalls++
	s.mu.Unlock()
	if s.candlesErr != nil {
		return nil, s.candlesErr
	}
	out := s.candles
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *stubAdapter) LoadMarkets(ctx context.Context, marketType string) ([]market.SymbolMeta, error) {
	return []market.SymbolMeta{{Exchange: s.name, Symbol: "BTCUSDT", MarketType: marketType}}, nil
}

// memStore 内存版存储，行为与 sqlite 实现对齐（GetCandles 返回最近 limit 根升序）。
type memStore struct {
	mu      sync.Mutex
	tickers map[string]market.Ticker
	candles map[string][]market.Candle
	symbols []market.SymbolMeta
}

func newMemStore() *memStore {
	return &memStore{
		tickers: make(map[string]market.Ticker),
		candles: make(map[string][]market.Candle),
	}
}

func tickerKey(exchange, symbol string) string { return exchange + "|" + symbol }

func (s *memStore) GetTicker(ctx context.Context, exchange, symbol string) (market.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickers[tickerKey(exchange, symbol)]
	if !ok {
		return market.Ticker{}, market.ErrNotFound
	}
	return t, nil
}

func (s *memStore) UpsertTicker(ctx context.Context, t market.Ticker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers[tickerKey(t.Exchange, t.Symbol)] = t
	return nil
}

func (s *memStore) GetCandles(ctx context.Context, exchange, symbol, timeframe string, limit int) ([]market.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.candles[exchange+"|"+symbol+"|"+timeframe]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]market.Candle, len(all))
	copy(out, all)
	return out, nil
}

func (s *memStore) UpsertCandles(ctx context.Context, exchange, symbol, timeframe string, candles []market.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := exchange + "|" + symbol + "|" + timeframe
	byTS := make(map[int64]market.Candle)
	for _, c := range s.candles[key] {
		byTS[c.Timestamp] = c
	}
	for _, c := range candles {
		byTS[c.Timestamp] = c
	}
	merged := make([]market.Candle, 0, len(byTS))
	for _, c := range byTS {
		merged = append(merged, c)
	}
	for i := 0; i < len(merged); i++ {
		for j := i + 1; j < len(merged); j++ {
			if merged[j].Timestamp < merged[i].Timestamp {
				merged[i], merged[j] = merged[j], merged[i]
			}
		}
	}
	s.candles[key] = merged
	return nil
}

func (s *memStore) UpsertSymbols(ctx context.Context, metas []market.SymbolMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = append(s.symbols, metas...)
	return nil
}

func newTestManager(t *testing.T, adapter *stubAdapter, now time.Time) (*Manager, *memStore) {
	t.Helper()
	reg, err := exchange.NewRegistry([]exchange.Spec{{Name: "okx"}})
	require.NoError(t, err)
	reg.Replace(map[string]exchange.Adapter{adapter.name: adapter})
	store := newMemStore()
	m, err := NewManager(ManagerConfig{
		Store:           store,
		Registry:        reg,
		RateLimitPerMin: 100000,
		ExportDir:       filepath.Join(t.TempDir(), "exports"),
		Now:             func() time.Time { return now },
	})
	require.NoError(t, err)
	return m, store
}

func TestGetTickerServesFreshCache(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{name: "binance", ticker: market.Ticker{Exchange: "binance", Timestamp: now.UnixMilli(), Last: 50000}}
	m, store := newTestManager(t, adapter, now)

	// 库里有 29 秒前的快照，应直接命中。
	require.NoError(t, store.UpsertTicker(context.Background(), market.Ticker{
		Exchange: "binance", Symbol: "BTCUSDT", Timestamp: now.UnixMilli() - 29_000, Last: 49000,
	}))
	got, err := m.GetTicker(context.Background(), "binance", "BTCUSDT", false)
	require.NoError(t, err)
	assert.Equal(t, 49000.0, got.Last)
	assert.Equal(t, 0, adapter.tickerCalls)
}

func TestGetTickerRefetchesStale(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{name: "binance", ticker: market.Ticker{Timestamp: now.UnixMilli(), Last: 50000}}
	m, store := newTestManager(t, adapter, now)

	require.NoError(t, store.UpsertTicker(context.Background(), market.Ticker{
		Exchange: "binance", Symbol: "BTCUSDT", Timestamp: now.UnixMilli() - 31_000, Last: 49000,
	}))
	got, err := m.GetTicker(context.Background(), "binance", "BTCUSDT", false)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, got.Last)
	assert.Equal(t, 1, adapter.tickerCalls)

	// 新快照已落库。
	stored, err := store.GetTicker(context.Background(), "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, stored.Last)
}

func TestGetTickerForceBypassesCache(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{name: "binance", ticker: market.Ticker{Timestamp: now.UnixMilli(), Last: 50000}}
	m, store := newTestManager(t, adapter, now)

	require.NoError(t, store.UpsertTicker(context.Background(), market.Ticker{
		Exchange: "binance", Symbol: "BTCUSDT", Timestamp: now.UnixMilli(), Last: 49000,
	}))
	got, err := m.GetTicker(context.Background(), "binance", "BTCUSDT", true)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, got.Last)
	assert.Equal(t, 1, adapter.tickerCalls)
}

func TestGetTickerAdapterErrorNoStaleFallback(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{name: "binance", tickerErr: errors.New("boom")}
	m, store := newTestManager(t, adapter, now)

	require.NoError(t, store.UpsertTicker(context.Background(), market.Ticker{
		Exchange: "binance", Symbol: "BTCUSDT", Timestamp: now.UnixMilli() - 60_000, Last: 49000,
	}))
	_, err := m.GetTicker(context.Background(), "binance", "BTCUSDT", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestGetTickerUnknownExchange(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{name: "binance"}
	m, _ := newTestManager(t, adapter, now)

	_, err := m.GetTicker(context.Background(), "kraken", "BTCUSDT", false)
	require.Error(t, err)
	assert.True(t, market.IsValidationError(err))
}

func makeCandles(n int, startTS int64, stepMS int64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			Timestamp: startTS + int64(i)*stepMS,
			Open:      100, High: 110, Low: 90, Close: 100 + float64(i), Volume: 10,
		}
	}
	return out
}

func TestGetCandlesExactLimitHitsCache(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{name: "binance"}
	m, store := newTestManager(t, adapter, now)

	cached := makeCandles(5, 1_699_000_000_000, 3_600_000)
	require.NoError(t, store.UpsertCandles(context.Background(), "binance", "BTCUSDT", "1h", cached))

	got, err := m.GetCandles(context.Background(), "binance", "BTCUSDT", "1h", 5, 0, false)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, 0, adapter.candlesCalls)
}

func TestGetCandlesShortHistoryForcesFetch(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{name: "binance", candles: makeCandles(10, 1_699_000_000_000, 3_600_000)}
	m, store := newTestManager(t, adapter, now)

	// 只有 3 根，请求 10 根：不完整窗口按未命中处理。
	require.NoError(t, store.UpsertCandles(context.Background(), "binance", "BTCUSDT", "1h",
		makeCandles(3, 1_699_000_000_000, 3_600_000)))

	got, err := m.GetCandles(context.Background(), "binance", "BTCUSDT", "1h", 10, 0, false)
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, 1, adapter.candlesCalls)

	stored, err := store.GetCandles(context.Background(), "binance", "BTCUSDT", "1h", 10)
	require.NoError(t, err)
	assert.Len(t, stored, 10)
}

func TestGetCandlesSinceBypassesCache(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{name: "binance", candles: makeCandles(5, 1_699_000_000_000, 3_600_000)}
	m, store := newTestManager(t, adapter, now)

	require.NoError(t, store.UpsertCandles(context.Background(), "binance", "BTCUSDT", "1h",
		makeCandles(5, 1_699_000_000_000, 3_600_000)))

	_, err := m.GetCandles(context.Background(), "binance", "BTCUSDT", "1h", 5, 1_699_000_000_000, false)
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.candlesCalls)
}

func TestGetCandlesInvalidTimeframe(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{name: "binance"}
	m, _ := newTestManager(t, adapter, now)

	_, err := m.GetCandles(context.Background(), "binance", "BTCUSDT", "7h", 5, 0, false)
	require.Error(t, err)
	assert.True(t, market.IsValidationError(err))
}

func TestGetCandlesConcurrentSingleFetch(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{name: "binance", candles: makeCandles(5, 1_699_000_000_000, 3_600_000)}
	m, _ := newTestManager(t, adapter, now)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.GetCandles(context.Background(), "binance", "BTCUSDT", "1h", 5, 0, false)
			assert.NoError(t, err)
			assert.Len(t, got, 5)
		}()
	}
	wg.Wait()
	// 并发请求合流或串行复查缓存，远少于 8 次回源。
	assert.LessOrEqual(t, adapter.candlesCalls, 2)
}

func TestUpdateMarketDataReport(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{
		name:       "binance",
		ticker:     market.Ticker{Timestamp: now.UnixMilli(), Last: 50000},
		candlesErr: errors.New("rate limited"),
	}
	m, _ := newTestManager(t, adapter, now)

	report, err := m.UpdateMarketData(context.Background(), nil, []string{"BTCUSDT"}, []string{"1h"})
	require.NoError(t, err)
	require.Contains(t, report.Exchanges, "binance")
	eu := report.Exchanges["binance"]
	require.Contains(t, eu.Symbols, "BTCUSDT")
	su := eu.Symbols["BTCUSDT"]
	assert.Equal(t, "success", su.Ticker)
	assert.True(t, strings.HasPrefix(su.Candles["1h"], "error:"), su.Candles["1h"])
}

func TestUpdateMarketDataRequiresSymbols(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{name: "binance"}
	m, _ := newTestManager(t, adapter, now)

	_, err := m.UpdateMarketData(context.Background(), nil, nil, nil)
	require.Error(t, err)
	assert.True(t, market.IsValidationError(err))
}

func TestSymbolOverview(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	candles := []market.Candle{
		{Timestamp: 1, Close: 100, Volume: 10},
		{Timestamp: 2, Close: 110, Volume: 30},
	}
	adapter := &stubAdapter{name: "binance", candles: candles}
	m, _ := newTestManager(t, adapter, now)

	out, err := m.SymbolOverview(context.Background(), "BTCUSDT", "1d", 2)
	require.NoError(t, err)
	require.Contains(t, out, "binance")
	ov := out["binance"]
	assert.Empty(t, ov.Error)
	assert.Equal(t, 110.0, ov.CurrentPrice)
	assert.InDelta(t, 10.0, ov.ChangePercent, 1e-9)
	assert.InDelta(t, 20.0, ov.AverageVolume, 1e-9)
	assert.Equal(t, 2, ov.CandleCount)
}

func TestExportCSV(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	adapter := &stubAdapter{name: "binance", candles: makeCandles(3, 1_699_000_000_000, 86_400_000)}
	m, _ := newTestManager(t, adapter, now)

	path, err := m.ExportCSV(context.Background(), "binance", "btcusdt", "1d", 3)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("binance_BTCUSDT_1d_%s.csv", now.UTC().Format("20060102")), filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "timestamp,datetime,open,high,low,close,volume", lines[0])
}
