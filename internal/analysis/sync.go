package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/logger"
	"github.com/Pinman777/PBGui-TEST/internal/market"

	"golang.org/x/sync/errgroup"
)

// alignToleranceMS 是跨所对齐时允许的最大时间戳偏差。
const alignToleranceMS = 60_000

const trailingVolumeWindowMS = 86_400_000

// MarketData 是引擎依赖的缓存管理器子集。
type MarketData interface {
	GetTicker(ctx context.Context, exchange, symbol string, force bool) (market.Ticker, error)
	GetCandles(ctx context.Context, exchange, symbol, timeframe string, limit int, since int64, force bool) ([]market.Candle, error)
	RefreshSymbols(ctx context.Context, exchange, marketType string) ([]market.SymbolMeta, error)
	Exchanges() []string
}

// CorrelationStore 持久化相关性记录。
type CorrelationStore interface {
	UpsertCorrelation(ctx context.Context, rec market.Correlation) error
}

// Engine 做跨交易所对齐、相关性与套利扫描。
type Engine struct {
	data  MarketData
	store CorrelationStore
	now   func() time.Time
}

func NewEngine(data MarketData, store CorrelationStore, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{data: data, store: store, now: now}
}

// ExchangeSeries 是同步报告中单个交易所的条目。
type ExchangeSeries struct {
	Status    string  `json:"status"`
	LastPrice float64 `json:"lastPrice"`
	Volume24h float64 `json:"volume24h"`

	candles []market.Candle
}

// PairStats 是一对交易所的对齐统计。
type PairStats struct {
	Correlation            float64 `json:"correlation"`
	PriceRatio             float64 `json:"priceRatio"`
	PriceDifferencePercent float64 `json:"priceDifferencePercent"`
	AlignedPoints          int     `json:"alignedPoints"`
}

// SyncReport 是一次 Synchronize 的完整结果。
type SyncReport struct {
	Symbol      string                     `json:"symbol"`
	Timeframe   string                     `json:"timeframe"`
	GeneratedAt int64                      `json:"generatedAt"`
	Exchanges   map[string]*ExchangeSeries `json:"exchanges"`
	Pairs       map[string]*PairStats      `json:"pairs"`
}

// Synchronize 对每个已注册交易所强刷 limit 根 K 线，两两对齐后计算
// 皮尔逊相关系数并落库。单个交易所失败只标记该条目，不影响其余分析。
func (e *Engine) Synchronize(ctx context.Context, symbol, timeframe string, limit int) (*SyncReport, error) {
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return nil, &market.ValidationError{Field: "timeframe", Reason: err.Error()}
	}
	if limit <= 0 {
		limit = 100
	}
	report := &SyncReport{
		Symbol:      symbol,
		Timeframe:   tf.Key,
		GeneratedAt: e.now().UnixMilli(),
		Exchanges:   make(map[string]*ExchangeSeries),
		Pairs:       make(map[string]*PairStats),
	}

	names := e.data.Exchanges()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			candles, err := e.data.GetCandles(gctx, name, symbol, tf.Key, limit, 0, true)
			entry := &ExchangeSeries{}
			switch {
			case err != nil:
				entry.Status = "error: " + err.Error()
				logger.Warnf("同步拉取失败 exchange=%s symbol=%s: %v", name, symbol, err)
			case len(candles) < limit:
				entry.Status = "no_data"
			default:
				entry.Status = "success"
				entry.candles = candles
				entry.LastPrice = candles[len(candles)-1].Close
				entry.Volume24h = trailingVolume(candles, e.now().UnixMilli())
			}
			mu.Lock()
			report.Exchanges[name] = entry
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	surviving := make([]string, 0, len(report.Exchanges))
	for name, entry := range report.Exchanges {
		if entry.Status == "success" {
			surviving = append(surviving, name)
		}
	}
	sort.Strings(surviving)

	for i := 0; i < len(surviving); i++ {
		for j := i + 1; j < len(surviving); j++ {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			a, b := surviving[i], surviving[j]
			closesA, closesB := alignByNearest(report.Exchanges[a].candles, report.Exchanges[b].candles, alignToleranceMS)
			if len(closesA) == 0 {
				continue
			}
			corr := pearson(closesA, closesB)
			lastA, lastB := closesA[len(closesA)-1], closesB[len(closesB)-1]
			stats := &PairStats{
				Correlation:   corr,
				AlignedPoints: len(closesA),
			}
			if lastB != 0 {
				stats.PriceRatio = lastA / lastB
				stats.PriceDifferencePercent = (lastA - lastB) / lastB * 100
			}
			report.Pairs[fmt.Sprintf("%s_vs_%s", a, b)] = stats

			exA, exB := market.CanonicalPair(a, b)
			rec := market.Correlation{
				Symbol:      symbol,
				ExchangeA:   exA,
				ExchangeB:   exB,
				Timeframe:   tf.Key,
				Correlation: corr,
				ComputedAt:  e.now().UnixMilli(),
			}
			if e.store != nil {
				if err := e.store.UpsertCorrelation(ctx, rec); err != nil {
					return report, err
				}
			}
		}
	}
	return report, nil
}

// trailingVolume 统计最近 24 小时内 K 线的成交量之和。
func trailingVolume(candles []market.Candle, nowMS int64) float64 {
	cutoff := nowMS - trailingVolumeWindowMS
	var sum float64
	for _, c := range candles {
		if c.Timestamp >= cutoff {
			sum += c.Volume
		}
	}
	return sum
}

// alignByNearest 按最近时间戳配对两条序列的收盘价，偏差超过容差的点丢弃。
func alignByNearest(a, b []market.Candle, toleranceMS int64) ([]float64, []float64) {
	if len(a) == 0 || len(b) == 0 {
		return nil, nil
	}
	closesA := make([]float64, 0, len(a))
	closesB := make([]float64, 0, len(a))
	j := 0
	for _, ca := range a {
		for j+1 < len(b) && absInt64(b[j+1].Timestamp-ca.Timestamp) <= absInt64(b[j].Timestamp-ca.Timestamp) {
			j++
		}
		if absInt64(b[j].Timestamp-ca.Timestamp) <= toleranceMS {
			closesA = append(closesA, ca.Close)
			closesB = append(closesB, b[j].Close)
		}
	}
	return closesA, closesB
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// pearson 计算皮尔逊相关系数，方差为零时返回 0。
func pearson(x, y []float64) float64 {
	n := len(x)
	if n == 0 || n != len(y) {
		return 0
	}
	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)
	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-meanX, y[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / (math.Sqrt(varX) * math.Sqrt(varY))
}
