package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/logger"
	"github.com/Pinman777/PBGui-TEST/internal/market"
)

// defaultTimeframes 是批量刷新的缺省周期集合。
var defaultTimeframes = []string{"1h", "4h", "1d"}

const (
	statusSuccess = "success"
)

// SymbolUpdate 记录单个交易对的刷新结果，值为 "success" 或 "error: ..."。
type SymbolUpdate struct {
	Ticker  string            `json:"ticker"`
	Candles map[string]string `json:"candles"`
}

// ExchangeUpdate 记录单个交易所的刷新结果。
type ExchangeUpdate struct {
	Status  string                   `json:"status"`
	Error   string                   `json:"error,omitempty"`
	Symbols map[string]*SymbolUpdate `json:"symbols,omitempty"`
}

// UpdateReport 是一次批量刷新的完整回执。
type UpdateReport struct {
	StartedAt   int64                      `json:"startedAt"`
	CompletedAt int64                      `json:"completedAt"`
	Exchanges   map[string]*ExchangeUpdate `json:"exchanges"`
}

// UpdateMarketData 对给定交易所、交易对与周期做一次强制刷新，
// 单项失败只记入回执，不中断其余条目。exchanges 为空时取全部已注册
// 交易所，timeframes 为空时取 1h/4h/1d。
func (m *Manager) UpdateMarketData(ctx context.Context, exchanges, symbols, timeframes []string) (*UpdateReport, error) {
	if len(symbols) == 0 {
		return nil, &market.ValidationError{Field: "symbols", Reason: "不能为空"}
	}
	if len(exchanges) == 0 {
		exchanges = m.registry.Names()
	}
	if len(timeframes) == 0 {
		timeframes = defaultTimeframes
	}
	for _, tf := range timeframes {
		if _, err := market.ParseTimeframe(tf); err != nil {
			return nil, &market.ValidationError{Field: "timeframes", Reason: err.Error()}
		}
	}

	report := &UpdateReport{
		StartedAt: m.now().UnixMilli(),
		Exchanges: make(map[string]*ExchangeUpdate, len(exchanges)),
	}
	for _, exName := range exchanges {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		exName = strings.ToLower(strings.TrimSpace(exName))
		eu := &ExchangeUpdate{Status: statusSuccess, Symbols: make(map[string]*SymbolUpdate, len(symbols))}
		report.Exchanges[exName] = eu
		if _, ok := m.registry.Get(exName); !ok {
			eu.Status = "error"
			eu.Error = fmt.Sprintf("不支持的交易所 %s", exName)
			eu.Symbols = nil
			continue
		}
		for _, symbol := range symbols {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			symbol = strings.ToUpper(strings.TrimSpace(symbol))
			su := &SymbolUpdate{Candles: make(map[string]string, len(timeframes))}
			eu.Symbols[symbol] = su
			if _, err := m.GetTicker(ctx, exName, symbol, true); err != nil {
				su.Ticker = "error: " + err.Error()
				logger.Warnf("刷新 ticker 失败 exchange=%s symbol=%s: %v", exName, symbol, err)
			} else {
				su.Ticker = statusSuccess
			}
			for _, tf := range timeframes {
				if _, err := m.GetCandles(ctx, exName, symbol, tf, 100, 0, true); err != nil {
					su.Candles[tf] = "error: " + err.Error()
					logger.Warnf("刷新 K 线失败 exchange=%s symbol=%s tf=%s: %v", exName, symbol, tf, err)
				} else {
					su.Candles[tf] = statusSuccess
				}
			}
		}
	}
	report.CompletedAt = m.now().UnixMilli()
	return report, nil
}

// ExchangeOverview 是 SymbolOverview 中单个交易所的窗口摘要。
type ExchangeOverview struct {
	Error          string  `json:"error,omitempty"`
	CurrentPrice   float64 `json:"currentPrice"`
	ChangePercent  float64 `json:"changePercent"`
	AverageVolume  float64 `json:"averageVolume"`
	CandleCount    int     `json:"candleCount"`
	FirstTimestamp int64   `json:"firstTimestamp"`
	LastTimestamp  int64   `json:"lastTimestamp"`
}

// SymbolOverview 汇总某交易对在各交易所最近 days 天的表现，
// 拉不到数据的交易所以 Error 字段标记。
func (m *Manager) SymbolOverview(ctx context.Context, symbol, timeframe string, days int) (map[string]*ExchangeOverview, error) {
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return nil, &market.ValidationError{Field: "timeframe", Reason: err.Error()}
	}
	if days <= 0 {
		days = 7
	}
	limit := tf.CandlesPerDays(days)
	since := m.now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()

	out := make(map[string]*ExchangeOverview)
	for _, exName := range m.registry.Names() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ov := &ExchangeOverview{}
		out[exName] = ov
		candles, err := m.GetCandles(ctx, exName, symbol, tf.Key, limit, since, true)
		if err != nil {
			ov.Error = err.Error()
			continue
		}
		if len(candles) == 0 {
			ov.Error = "no data"
			continue
		}
		first, last := candles[0], candles[len(candles)-1]
		ov.CurrentPrice = last.Close
		if first.Close != 0 {
			ov.ChangePercent = (last.Close - first.Close) / first.Close * 100
		}
		var vol float64
		for _, c := range candles {
			vol += c.Volume
		}
		ov.AverageVolume = vol / float64(len(candles))
		ov.CandleCount = len(candles)
		ov.FirstTimestamp = first.Timestamp
		ov.LastTimestamp = last.Timestamp
	}
	return out, nil
}
