package analysis

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubData 按 exchange 预置行情数据。
type stubData struct {
	mu      sync.Mutex
	candles map[string][]market.Candle
	tickers map[string]market.Ticker
	symbols map[string][]market.SymbolMeta
	errs    map[string]error
}

func newStubData() *stubData {
	return &stubData{
		candles: make(map[string][]market.Candle),
		tickers: make(map[string]market.Ticker),
		symbols: make(map[string][]market.SymbolMeta),
		errs:    make(map[string]error),
	}
}

func (s *stubData) Exchanges() []string {
	seen := map[string]bool{}
	for name := range s.candles {
		seen[name] = true
	}
	for name := range s.symbols {
		seen[name] = true
	}
	for key := range s.tickers {
		if i := strings.Index(key, "|"); i > 0 {
			seen[key[:i]] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *stubData) GetTicker(ctx context.Context, exchange, symbol string, force bool) (market.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[exchange]; err != nil {
		return market.Ticker{}, err
	}
	t, ok := s.tickers[exchange+"|"+symbol]
	if !ok {
		return market.Ticker{}, market.ErrNotFound
	}
	return t, nil
}

func (s *stubData) GetCandles(ctx context.Context, exchange, symbol, timeframe string, limit int, since int64, force bool) ([]market.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[exchange]; err != nil {
		return nil, err
	}
	return s.candles[exchange], nil
}

func (s *stubData) RefreshSymbols(ctx context.Context, exchange, marketType string) ([]market.SymbolMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[exchange]; err != nil {
		return nil, err
	}
	return s.symbols[exchange], nil
}

// stubCorrStore 记录落库的相关性。
type stubCorrStore struct {
	mu   sync.Mutex
	recs []market.Correlation
}

func (s *stubCorrStore) UpsertCorrelation(ctx context.Context, rec market.Correlation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func series(nowMS int64, closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Timestamp: nowMS - int64(len(closes)-1-i)*3_600_000,
			Close:     c,
			Volume:    10,
		}
	}
	return out
}

func TestSynchronizeComputesPairStats(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	data := newStubData()
	data.candles["binance"] = series(now.UnixMilli(), 100, 102, 104, 106)
	data.candles["okx"] = series(now.UnixMilli(), 101, 103, 105, 107)
	store := &stubCorrStore{}
	e := NewEngine(data, store, func() time.Time { return now })

	report, err := e.Synchronize(context.Background(), "BTCUSDT", "1h", 4)
	require.NoError(t, err)
	assert.Equal(t, "success", report.Exchanges["binance"].Status)
	assert.Equal(t, "success", report.Exchanges["okx"].Status)
	assert.Equal(t, 106.0, report.Exchanges["binance"].LastPrice)

	pair, ok := report.Pairs["binance_vs_okx"]
	require.True(t, ok)
	// 完全线性相关的序列。
	assert.InDelta(t, 1.0, pair.Correlation, 1e-9)
	assert.InDelta(t, 106.0/107.0, pair.PriceRatio, 1e-9)
	assert.Equal(t, 4, pair.AlignedPoints)

	require.Len(t, store.recs, 1)
	rec := store.recs[0]
	assert.Equal(t, "binance", rec.ExchangeA)
	assert.Equal(t, "okx", rec.ExchangeB)
	assert.InDelta(t, 1.0, rec.Correlation, 1e-9)
}

func TestSynchronizeIsolatesFailures(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	data := newStubData()
	data.candles["binance"] = series(now.UnixMilli(), 100, 102, 104, 106)
	data.candles["okx"] = series(now.UnixMilli(), 100, 102) // 少于 limit
	data.candles["bybit"] = nil
	data.errs["bybit"] = errors.New("timeout")
	e := NewEngine(data, &stubCorrStore{}, func() time.Time { return now })

	report, err := e.Synchronize(context.Background(), "BTCUSDT", "1h", 4)
	require.NoError(t, err)
	assert.Equal(t, "success", report.Exchanges["binance"].Status)
	assert.Equal(t, "no_data", report.Exchanges["okx"].Status)
	assert.Contains(t, report.Exchanges["bybit"].Status, "error:")
	assert.Empty(t, report.Pairs)
}

func TestSynchronizeTrailingVolumeWindow(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	data := newStubData()
	old := market.Candle{Timestamp: now.UnixMilli() - 86_400_000 - 1, Close: 100, Volume: 999}
	recent := series(now.UnixMilli(), 100, 101, 102)
	data.candles["binance"] = append([]market.Candle{old}, recent...)
	data.candles["okx"] = append([]market.Candle{old}, series(now.UnixMilli(), 100, 101, 102)...)
	e := NewEngine(data, &stubCorrStore{}, func() time.Time { return now })

	report, err := e.Synchronize(context.Background(), "BTCUSDT", "1h", 4)
	require.NoError(t, err)
	// 24 小时之外的 999 不计入。
	assert.InDelta(t, 30.0, report.Exchanges["binance"].Volume24h, 1e-9)
}

func TestCorrelationSymmetry(t *testing.T) {
	x := []float64{100, 105, 103, 110, 108}
	y := []float64{50, 53, 51, 56, 54}
	assert.InDelta(t, pearson(x, y), pearson(y, x), 1e-12)
}

func TestPearsonZeroVariance(t *testing.T) {
	assert.Equal(t, 0.0, pearson([]float64{5, 5, 5}, []float64{1, 2, 3}))
}

func TestAlignByNearestTolerance(t *testing.T) {
	a := []market.Candle{
		{Timestamp: 0, Close: 1},
		{Timestamp: 3_600_000, Close: 2},
		{Timestamp: 7_200_000, Close: 3},
	}
	b := []market.Candle{
		{Timestamp: 30_000, Close: 10},      // 偏差 30s，保留
		{Timestamp: 3_700_000, Close: 20},   // 偏差 100s，丢弃
		{Timestamp: 7_200_000, Close: 30},   // 精确命中
	}
	ca, cb := alignByNearest(a, b, 60_000)
	require.Equal(t, []float64{1, 3}, ca)
	require.Equal(t, []float64{10, 30}, cb)
}

func TestFindArbitrageScenario(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	data := newStubData()
	data.symbols["binance"] = []market.SymbolMeta{{Exchange: "binance", Symbol: "BTCUSDT", MarketType: market.TypeSwap}}
	data.symbols["okx"] = []market.SymbolMeta{{Exchange: "okx", Symbol: "BTCUSDT", MarketType: market.TypeSwap}}
	data.tickers["binance|BTCUSDT"] = market.Ticker{Exchange: "binance", Symbol: "BTCUSDT", Last: 100}
	data.tickers["okx|BTCUSDT"] = market.Ticker{Exchange: "okx", Symbol: "BTCUSDT", Last: 102}
	e := NewEngine(data, &stubCorrStore{}, func() time.Time { return now })

	opps, err := e.FindArbitrage(context.Background(), 1.5, "USDT")
	require.NoError(t, err)
	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, "BTCUSDT", opp.Symbol)
	assert.Equal(t, "binance", opp.BuyExchange)
	assert.Equal(t, 100.0, opp.BuyPrice)
	assert.Equal(t, "okx", opp.SellExchange)
	assert.Equal(t, 102.0, opp.SellPrice)
	assert.InDelta(t, 2.0, opp.DiffPercent, 1e-9)
}

func TestFindArbitrageBelowThreshold(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	data := newStubData()
	data.symbols["binance"] = []market.SymbolMeta{{Symbol: "BTCUSDT"}}
	data.symbols["okx"] = []market.SymbolMeta{{Symbol: "BTCUSDT"}}
	data.tickers["binance|BTCUSDT"] = market.Ticker{Last: 100}
	data.tickers["okx|BTCUSDT"] = market.Ticker{Last: 101}
	e := NewEngine(data, &stubCorrStore{}, func() time.Time { return now })

	opps, err := e.FindArbitrage(context.Background(), 1.5, "USDT")
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestFindArbitrageNeedsTwoListings(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	data := newStubData()
	data.symbols["binance"] = []market.SymbolMeta{{Symbol: "ETHUSDT"}}
	data.symbols["okx"] = []market.SymbolMeta{{Symbol: "BTCUSDT"}}
	data.tickers["binance|ETHUSDT"] = market.Ticker{Last: 100}
	data.tickers["okx|BTCUSDT"] = market.Ticker{Last: 200}
	e := NewEngine(data, &stubCorrStore{}, func() time.Time { return now })

	opps, err := e.FindArbitrage(context.Background(), 0, "USDT")
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestFindArbitrageSortedDescending(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	data := newStubData()
	for _, ex := range []string{"binance", "okx"} {
		data.symbols[ex] = []market.SymbolMeta{{Symbol: "AUSDT"}, {Symbol: "BUSDT"}}
	}
	data.tickers["binance|AUSDT"] = market.Ticker{Last: 100}
	data.tickers["okx|AUSDT"] = market.Ticker{Last: 101} // 1%
	data.tickers["binance|BUSDT"] = market.Ticker{Last: 100}
	data.tickers["okx|BUSDT"] = market.Ticker{Last: 105} // 5%
	e := NewEngine(data, &stubCorrStore{}, func() time.Time { return now })

	opps, err := e.FindArbitrage(context.Background(), 0.5, "USDT")
	require.NoError(t, err)
	require.Len(t, opps, 2)
	assert.Equal(t, "BUSDT", opps[0].Symbol)
	assert.Equal(t, "AUSDT", opps[1].Symbol)
	assert.True(t, opps[0].DiffPercent > opps[1].DiffPercent)
}
